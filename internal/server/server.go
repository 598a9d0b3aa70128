package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"camrtmp/internal/channel"
	"camrtmp/internal/config"
	"camrtmp/internal/events"
	"camrtmp/internal/metrics"
	"camrtmp/internal/session"
	"camrtmp/internal/texture"
)

// shutdownTimeout はグレースフルシャットダウンの最大待ち時間
const shutdownTimeout = 5 * time.Second

// CommandHandler はコマンドを実行する
type CommandHandler interface {
	Handle(ctx context.Context, call channel.MethodCall, result channel.Result) error
}

// SessionStatus はセッションの状態を提供する
type SessionStatus interface {
	Current() (session.Snapshot, bool)
}

// Deps はサーバーが公開するコンポーネント
type Deps struct {
	Commands CommandHandler
	Sessions SessionStatus
	Textures *texture.Registry
	Hub      *events.Hub
	Metrics  *metrics.Metrics
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	logger     *logrus.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps, logger *logrus.Logger) (*Server, error) {
	validator, err := loadOpenAPI(openapiSpec)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: logger,
		router: router,
	}
	s.setupRoutes(validator)

	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes(validator *requestValidator) {
	s.router.GET("/", s.handleRoot)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := s.router.Group("/api", validator.middleware())
	api.GET("/status", s.handleStatus)
	api.GET("/openapi.yaml", s.handleOpenAPI)

	v1 := api.Group("/v1")
	v1.POST("/channel/:method",
		rateLimit(newLimiter(s.config.Server.RateLimit, s.config.Server.RateBurst)),
		s.handleChannel)
	v1.GET("/textures/:textureId/stream", s.handleTextureStream)
	v1.GET("/textures/:textureId/events", s.handleTextureEvents)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start はサーバーを起動し、ctx が終了したらシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve は指定されたリスナーで待ち受ける
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", listener.Addr().String()).Info("HTTPサーバーを起動しています")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	}

	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
