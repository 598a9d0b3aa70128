package session

import (
	"github.com/sirupsen/logrus"

	"camrtmp/internal/events"
	"camrtmp/internal/metrics"
)

// connectChecker はRTMP接続の通知をログ、イベント、メトリクスへ流す
// セッションの状態は変更しない
type connectChecker struct {
	messenger *events.Messenger
	metrics   *metrics.Metrics
	logger    *logrus.Entry
}

func (c *connectChecker) OnConnectionSuccess() {
	c.logger.Info("RTMP接続に成功しました")
	c.emit(events.Event{Type: events.TypeRTMPConnected})
}

func (c *connectChecker) OnConnectionFailed(reason string) {
	c.logger.WithField("reason", reason).Info("RTMP接続に失敗しました")
	c.emit(events.Event{Type: events.TypeRTMPFailed, Reason: reason})
}

func (c *connectChecker) OnNewBitrate(bitrate int64) {
	c.logger.WithField("bitrate", bitrate).Debug("ビットレートを更新しました")
	c.metrics.SetBitrate(bitrate)
	c.messenger.Send(events.Event{Type: events.TypeRTMPBitrate, Bitrate: bitrate})
}

func (c *connectChecker) OnDisconnect() {
	c.logger.Info("RTMP接続が切断されました")
	c.emit(events.Event{Type: events.TypeRTMPDisconnected})
}

func (c *connectChecker) OnAuthError() {
	c.logger.Info("RTMP認証に失敗しました")
	c.emit(events.Event{Type: events.TypeRTMPAuthError})
}

func (c *connectChecker) OnAuthSuccess() {
	c.logger.Info("RTMP認証に成功しました")
	c.emit(events.Event{Type: events.TypeRTMPAuthSuccess})
}

func (c *connectChecker) OnCameraError(description string) {
	c.logger.WithField("description", description).Warn("カメラでエラーが発生しました")
	c.messenger.SendError(description)
}

func (c *connectChecker) emit(ev events.Event) {
	c.metrics.ObserveRTMPEvent(string(ev.Type))
	c.messenger.Send(ev)
}
