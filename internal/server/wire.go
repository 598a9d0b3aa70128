package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"camrtmp/internal/camera"
	"camrtmp/internal/channel"
	"camrtmp/internal/config"
	"camrtmp/internal/events"
	"camrtmp/internal/metrics"
	"camrtmp/internal/permission"
	"camrtmp/internal/session"
	"camrtmp/internal/streamer"
	"camrtmp/internal/texture"
)

// App は設定から組み立てたアプリケーション全体
type App struct {
	Server     *Server
	Sessions   *session.Manager
	Dispatcher *channel.Dispatcher
	Cameras    *camera.Registry
	Metrics    *metrics.Metrics

	logger *logrus.Logger
}

// Build は設定に従って各コンポーネントを作成し、接続する
func Build(cfg *config.Config, logger *logrus.Logger) (*App, error) {
	m := metrics.New()

	registry := camera.NewRegistry(camera.NewLinuxDiscovery(), staticCameras(cfg.Camera.Devices))
	resolver := camera.NewResolver(registry)

	gate, err := newGate(cfg, registry, logger)
	if err != nil {
		return nil, err
	}

	probe := streamer.NewRTMPProbe(logger, cfg.Stream.ConnectTimeout)
	factory := streamer.NewFFmpegFactory(streamer.Config{
		FFmpegPath:     cfg.Stream.FFmpegPath,
		VideoCodec:     cfg.Stream.VideoCodec,
		AudioCodec:     cfg.Stream.AudioCodec,
		AudioBitrate:   cfg.Stream.AudioBitrate,
		EncoderPreset:  cfg.Stream.EncoderPreset,
		PreviewQuality: cfg.Stream.PreviewQuality,
		AudioInput:     cfg.Camera.AudioInput,
		CheckEndpoint:  cfg.Stream.CheckEndpoint,
		ConnectTimeout: cfg.Stream.ConnectTimeout,
	}, registry, probe, logger)

	textures := texture.NewRegistry()
	hub := events.NewHub(logger)

	sessions := session.NewManager(session.Deps{
		Gate:     gate,
		Resolver: resolver,
		Textures: textures,
		Factory:  factory,
		Hub:      hub,
		Metrics:  m,
		Logger:   logger,
	})
	dispatcher := channel.NewDispatcher(registry, sessions, m, logger)

	srv, err := New(cfg, Deps{
		Commands: dispatcher,
		Sessions: sessions,
		Textures: textures,
		Hub:      hub,
		Metrics:  m,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &App{
		Server:     srv,
		Sessions:   sessions,
		Dispatcher: dispatcher,
		Cameras:    registry,
		Metrics:    m,
		logger:     logger,
	}, nil
}

// Run はサーバーを起動し、ctx が終了したらセッションを破棄してから停止する
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	serverCtx, stopServer := context.WithCancel(context.Background())
	defer stopServer()

	g.Go(func() error {
		return a.Server.Start(serverCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		// ストリーミング中のレスポンスを終わらせるため、先にセッションを破棄する
		a.Sessions.Close()
		stopServer()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.logger.Info("アプリケーションを停止しました")
	return nil
}

// newGate は設定されたモードのパーミッション判定を作成する
func newGate(cfg *config.Config, registry *camera.Registry, logger *logrus.Logger) (permission.Gate, error) {
	observe := func(r permission.Result) {
		logger.WithFields(logrus.Fields{
			"granted": r.Granted(),
			"code":    r.Code,
		}).Info("パーミッションの判定が完了しました")
	}

	switch cfg.Permission.Mode {
	case "device":
		gate := permission.NewDeviceGate(func(ctx context.Context) (string, error) {
			cameras, err := registry.AvailableCameras(ctx)
			if err != nil {
				return "", err
			}
			if len(cameras) == 0 {
				return "", fmt.Errorf("カメラが見つかりません")
			}
			return cameras[0].Device, nil
		}, cfg.Camera.AudioNode)
		gate.Observe(observe)
		return gate, nil
	case "grant", "deny":
		gate := permission.NewStaticGate(cfg.Permission.Mode == "grant")
		gate.Observe(observe)
		return gate, nil
	default:
		return nil, fmt.Errorf("無効なパーミッションモード: %s", cfg.Permission.Mode)
	}
}

// staticCameras は設定されたカメラを記述子に変換する
func staticCameras(devices []config.CameraDevice) []camera.Description {
	result := make([]camera.Description, 0, len(devices))
	for _, d := range devices {
		facing := camera.LensFacing(d.LensFacing)
		if facing == "" {
			facing = camera.LensExternal
		}
		result = append(result, camera.Description{
			Name:              d.Name,
			Device:            d.Device,
			LensFacing:        facing,
			SensorOrientation: d.SensorOrientation,
		})
	}
	return result
}
