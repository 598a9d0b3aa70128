package streamer

import (
	"context"
	"errors"
	"sync"

	"camrtmp/internal/texture"
)

// MockCamera はテスト用のCamera実装
// StartStream の結果は ConnectChecker へ同期的に通知される
type MockCamera struct {
	mu      sync.Mutex
	texture *texture.Entry
	checker ConnectChecker
	openGL  bool

	previewErr    error
	failAudio     bool
	failVideo     bool
	streamFailure string
	authError     bool

	onPreview     bool
	streaming     bool
	audioPrepared bool
	video         *VideoParams
	url           string
	cameraName    string
	previewStops  int
	streamStops   int
}

// StartPreview はプレビュー状態にする
func (m *MockCamera) StartPreview(_ context.Context, cameraName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.previewErr != nil {
		return m.previewErr
	}
	m.cameraName = cameraName
	m.onPreview = true
	return nil
}

// StopPreview はプレビューを停止する
func (m *MockCamera) StopPreview() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPreview = false
	m.previewStops++
}

// PrepareAudio は音声エンコーダの準備を記録する
func (m *MockCamera) PrepareAudio() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAudio {
		return false
	}
	m.audioPrepared = true
	return true
}

// PrepareVideo は映像エンコーダの設定を記録する
func (m *MockCamera) PrepareVideo(width, height, fps, bitrate, rotation int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failVideo {
		return false
	}
	m.video = &VideoParams{Width: width, Height: height, FPS: fps, Bitrate: bitrate, Rotation: rotation}
	return true
}

// StartStream は設定に応じて接続成功または失敗を通知する
func (m *MockCamera) StartStream(url string) {
	m.mu.Lock()
	m.url = url
	failure := m.streamFailure
	authError := m.authError
	m.streaming = failure == "" && !authError
	checker := m.checker
	m.mu.Unlock()

	switch {
	case authError:
		checker.OnAuthError()
	case failure != "":
		checker.OnConnectionFailed(failure)
	default:
		checker.OnConnectionSuccess()
	}
}

// StopStream は送出を停止する
func (m *MockCamera) StopStream() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streaming = false
	m.streamStops++
}

// IsStreaming は送出中かどうかを返す
func (m *MockCamera) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// IsOnPreview はプレビュー中かどうかを返す
func (m *MockCamera) IsOnPreview() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onPreview
}

// Disconnect は送出中の切断を模擬する
func (m *MockCamera) Disconnect() {
	m.mu.Lock()
	m.streaming = false
	checker := m.checker
	m.mu.Unlock()
	checker.OnDisconnect()
}

// FailCamera はプレビューの異常終了を模擬する
func (m *MockCamera) FailCamera(description string) {
	m.mu.Lock()
	m.onPreview = false
	checker := m.checker
	m.mu.Unlock()
	checker.OnCameraError(description)
}

// ReportBitrate はビットレートの通知を模擬する
func (m *MockCamera) ReportBitrate(bitrate int64) {
	m.mu.Lock()
	checker := m.checker
	m.mu.Unlock()
	checker.OnNewBitrate(bitrate)
}

// SetPreviewError はプレビュー開始時に返すエラーを設定する
func (m *MockCamera) SetPreviewError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.previewErr = err
}

// SetShouldFailAudio は PrepareAudio を失敗させる
func (m *MockCamera) SetShouldFailAudio(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAudio = fail
}

// SetShouldFailVideo は PrepareVideo を失敗させる
func (m *MockCamera) SetShouldFailVideo(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failVideo = fail
}

// SetStreamFailure は StartStream を指定した理由で失敗させる（空文字で成功）
func (m *MockCamera) SetStreamFailure(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamFailure = reason
}

// SetAuthError は StartStream で認証エラーを通知させる
func (m *MockCamera) SetAuthError(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authError = fail
}

// Video は PrepareVideo で指定された設定を返す
func (m *MockCamera) Video() (VideoParams, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.video == nil {
		return VideoParams{}, false
	}
	return *m.video, true
}

// AudioPrepared は PrepareAudio が成功したかを返す
func (m *MockCamera) AudioPrepared() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioPrepared
}

// URL は最後に StartStream で指定されたURLを返す
func (m *MockCamera) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// CameraName は StartPreview で指定されたカメラ名を返す
func (m *MockCamera) CameraName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cameraName
}

// Stops は StopPreview と StopStream の呼び出し回数を返す
func (m *MockCamera) Stops() (preview, stream int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previewStops, m.streamStops
}

// Texture は紐づいたテクスチャを返す
func (m *MockCamera) Texture() *texture.Entry { return m.texture }

// OpenGL は作成時に OpenGL 描画が要求されたかを返す
func (m *MockCamera) OpenGL() bool { return m.openGL }

// MockFactory はテスト用のFactory実装
type MockFactory struct {
	mu         sync.Mutex
	cameras    []*MockCamera
	shouldFail bool
	configure  func(*MockCamera)
}

// NewMockFactory は新しいMockFactoryを作成する
func NewMockFactory() *MockFactory {
	return &MockFactory{}
}

// NewCamera はMockCameraを作成する
func (f *MockFactory) NewCamera(opts Options) (Camera, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.shouldFail {
		return nil, errors.New("モックカメラの作成に失敗")
	}
	cam := &MockCamera{texture: opts.Texture, checker: opts.Checker, openGL: opts.EnableOpenGL}
	if f.configure != nil {
		f.configure(cam)
	}
	f.cameras = append(f.cameras, cam)
	return cam, nil
}

// SetShouldFail は NewCamera を失敗させる
func (f *MockFactory) SetShouldFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shouldFail = fail
}

// Configure は作成するカメラに適用する設定を登録する
func (f *MockFactory) Configure(fn func(*MockCamera)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configure = fn
}

// Cameras は作成したカメラの一覧を返す
func (f *MockFactory) Cameras() []*MockCamera {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockCamera(nil), f.cameras...)
}

// Last は最後に作成したカメラを返す
func (f *MockFactory) Last() *MockCamera {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.cameras) == 0 {
		return nil
	}
	return f.cameras[len(f.cameras)-1]
}
