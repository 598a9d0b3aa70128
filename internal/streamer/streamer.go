// Package streamer はカメラのプレビューとRTMP送出を行うバックエンドを提供する
//
// Camera はプレビューの開始・停止、エンコーダの準備、RTMP送出の開始・停止を
// 行う。接続状態の変化は ConnectChecker へ非同期に通知される。
package streamer

import (
	"context"
	"fmt"
	"time"

	"camrtmp/internal/camera"
	"camrtmp/internal/texture"
)

// Camera はプレビューとRTMP送出を行うバックエンド
type Camera interface {
	// StartPreview はカメラを開いてテクスチャへのプレビューを開始する
	// デバイスへのアクセスに失敗した場合は camera.ErrCameraAccess を包んだエラーを返す
	StartPreview(ctx context.Context, cameraName string) error

	// StopPreview はプレビューを停止する
	StopPreview()

	// PrepareAudio は音声エンコーダを準備する
	PrepareAudio() bool

	// PrepareVideo は映像エンコーダを準備する
	PrepareVideo(width, height, fps, bitrate, rotation int) bool

	// StartStream はRTMP送出を開始する。結果は ConnectChecker へ通知される
	StartStream(url string)

	// StopStream はRTMP送出を停止する
	StopStream()

	IsStreaming() bool
	IsOnPreview() bool
}

// ConnectChecker はRTMP接続の状態変化を受け取る
type ConnectChecker interface {
	OnConnectionSuccess()
	OnConnectionFailed(reason string)
	OnNewBitrate(bitrate int64)
	OnDisconnect()
	OnAuthError()
	OnAuthSuccess()

	// OnCameraError はプレビューが想定外に止まったときなど、カメラ側の異常を通知する
	OnCameraError(description string)
}

// Options は Camera 作成時の指定
type Options struct {
	Texture      *texture.Entry
	EnableOpenGL bool // OpenGL描画経路の要求（受け付けるが、ffmpeg実装では同じ経路で描画する）
	Checker      ConnectChecker
}

// Factory は Camera を作成する
type Factory interface {
	NewCamera(opts Options) (Camera, error)
}

// DeviceOpener はカメラ名からデバイスを開く（camera.Registry が実装する）
type DeviceOpener interface {
	Open(ctx context.Context, name string) (camera.Description, error)
}

// Config はffmpegバックエンドの設定
type Config struct {
	FFmpegPath     string
	VideoCodec     string
	AudioCodec     string
	AudioBitrate   int
	EncoderPreset  string
	PreviewQuality int
	AudioInput     string
	CheckEndpoint  bool
	ConnectTimeout time.Duration
}

// VideoParams は PrepareVideo で指定された映像エンコーダの設定
type VideoParams struct {
	Width    int
	Height   int
	FPS      int
	Bitrate  int
	Rotation int
}

// Validate はエンコーダの設定値を検証する
func (v VideoParams) Validate() error {
	if v.Width <= 0 || v.Height <= 0 {
		return fmt.Errorf("無効な解像度: %dx%d", v.Width, v.Height)
	}
	if v.FPS <= 0 {
		return fmt.Errorf("無効なフレームレート: %d", v.FPS)
	}
	if v.Bitrate <= 0 {
		return fmt.Errorf("無効なビットレート: %d", v.Bitrate)
	}
	switch v.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("無効な回転角: %d", v.Rotation)
	}
	return nil
}
