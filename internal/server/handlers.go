package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"camrtmp/internal/channel"
	"camrtmp/internal/events"
	"camrtmp/internal/session"
)

// ErrorResponse はエラー時のレスポンス
type ErrorResponse struct {
	Code    string  `json:"code"`
	Message *string `json:"message"`
	Details any     `json:"details"`
}

// SuccessResponse はコマンド成功時のレスポンス
type SuccessResponse struct {
	Result any `json:"result"`
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はステータス確認のレスポンス
type StatusResponse struct {
	Status    string            `json:"status"`
	Server    ServerInfo        `json:"server"`
	State     session.State     `json:"state"`
	Session   *session.Snapshot `json:"session,omitempty"`
	Textures  int               `json:"textures"`
	Timestamp time.Time         `json:"timestamp"`
}

// writeError はエラーレスポンスを書き込む
// message が空の場合は null になる
func writeError(c *gin.Context, status int, code, message string) {
	writeErrorDetails(c, status, code, message, nil)
}

func writeErrorDetails(c *gin.Context, status int, code, message string, details any) {
	resp := ErrorResponse{Code: code, Details: details}
	if message != "" {
		resp.Message = &message
	}
	c.JSON(status, resp)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// handleStatus はサーバーとセッションの状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	resp := StatusResponse{
		Status: "running",
		Server: ServerInfo{
			Host: s.config.Server.Host,
			Port: s.config.Server.Port,
		},
		Textures:  s.deps.Textures.Len(),
		Timestamp: time.Now(),
	}

	snapshot, ok := s.deps.Sessions.Current()
	resp.State = snapshot.State
	if ok {
		resp.Session = &snapshot
	}
	c.JSON(http.StatusOK, resp)
}

// handleRoot は簡易ビューアを返す
func (s *Server) handleRoot(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexHTML)
}

// handleOpenAPI はOpenAPI定義を返す
func (s *Server) handleOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml", openapiSpec)
}

// handleChannel はコマンドを実行し、結果をHTTPレスポンスに変換する
func (s *Server) handleChannel(c *gin.Context) {
	call := channel.MethodCall{Method: c.Param("method")}

	args, err := decodeArguments(c.Request.Body)
	if err != nil {
		writeError(c, http.StatusBadRequest, "badRequest", err.Error())
		return
	}
	call.Arguments = args

	result := channel.NewFutureResult(call.Method, s.logger)
	if err := s.deps.Commands.Handle(c.Request.Context(), call, result); err != nil {
		writeError(c, http.StatusInternalServerError, "fatal", err.Error())
		return
	}

	ctx := c.Request.Context()
	if s.config.Server.ResultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Server.ResultTimeout)
		defer cancel()
	}

	outcome, err := result.Wait(ctx)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"method": call.Method,
		}).WithError(err).Warn("コマンドの結果待ちを打ち切りました")
		writeError(c, http.StatusGatewayTimeout, "timeout", "結果が時間内に返りませんでした")
		return
	}
	writeOutcome(c, outcome)
}

// writeOutcome は確定した結果をHTTPステータスに対応付ける
func writeOutcome(c *gin.Context, o channel.Outcome) {
	switch o.Kind {
	case channel.KindSuccess:
		c.JSON(http.StatusOK, SuccessResponse{Result: o.Value})
	case channel.KindError:
		writeErrorDetails(c, http.StatusUnprocessableEntity, o.Code, o.Message, o.Details)
	case channel.KindNotImplemented:
		writeError(c, http.StatusNotImplemented, "notImplemented", "")
	default:
		message := "unknown error"
		if o.Err != nil {
			message = o.Err.Error()
		}
		writeError(c, http.StatusInternalServerError, "fatal", message)
	}
}

// decodeArguments はリクエストボディを引数のマップに変換する
// 数値は json.Number として保持し、整数以外が整数の引数に渡された場合に検出できるようにする
func decodeArguments(body io.Reader) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("引数のJSONが不正です: %w", err)
	}
	return args, nil
}

// textureID はパスパラメータからテクスチャIDを取得する
func textureID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("textureId"), 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// handleTextureStream はテクスチャのフレームをMJPEGで配信する
func (s *Server) handleTextureStream(c *gin.Context) {
	id, ok := textureID(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "badRequest", "テクスチャIDが不正です")
		return
	}
	entry, found := s.deps.Textures.Get(id)
	if !found {
		writeError(c, http.StatusNotFound, "texture_not_found", "指定されたテクスチャが見つかりません")
		return
	}

	frames, unsubscribe := entry.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	writer := c.Writer
	clientGone := c.Request.Context().Done()

	// 接続直後に最新フレームを送る
	if latest := entry.Latest(); latest != nil {
		if err := writeMJPEGFrame(writer, latest); err != nil {
			return
		}
	}
	writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case frame, ok := <-frames:
			if !ok {
				// テクスチャが解放された
				return
			}
			if err := writeMJPEGFrame(writer, frame); err != nil {
				return
			}
			writer.Flush()
		}
	}
}

// writeMJPEGFrame は一枚のJPEGをマルチパートの一部として書き込む
func writeMJPEGFrame(w io.Writer, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleTextureEvents はテクスチャに紐づくカメライベントをWebSocketで配信する
func (s *Server) handleTextureEvents(c *gin.Context) {
	id, ok := textureID(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "badRequest", "テクスチャIDが不正です")
		return
	}
	entry, found := s.deps.Textures.Get(id)
	if !found {
		writeError(c, http.StatusNotFound, "texture_not_found", "指定されたテクスチャが見つかりません")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("WebSocketへの切り替えに失敗しました")
		return
	}
	defer conn.Close()

	stream, unsubscribe := s.deps.Hub.Subscribe(id)
	defer unsubscribe()

	log := s.logger.WithField("texture_id", id)
	log.Debug("イベントの購読を開始しました")

	// 読み込みループ（切断とpongの検出用）
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-entry.Done():
			// 解放前に送られたイベント（camera_closing など）を送り切る
			drainEvents(conn, stream)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "texture released"),
				time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.WithError(err).Debug("イベントの送信に失敗しました")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drainEvents はバッファに残っているイベントを送信する
func drainEvents(conn *websocket.Conn, stream <-chan events.Event) {
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}
