package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"camrtmp/internal/camera"
	"camrtmp/internal/events"
	"camrtmp/internal/logger"
	"camrtmp/internal/metrics"
	"camrtmp/internal/permission"
	"camrtmp/internal/streamer"
	"camrtmp/internal/texture"
)

type outcome struct {
	kind    string // ready, error, fatal
	reply   Reply
	code    string
	message string
	err     error
}

// recorder は initialize の結果を記録するCallback
type recorder struct {
	ch chan outcome
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan outcome, 4)}
}

func (r *recorder) OnReady(reply Reply) { r.ch <- outcome{kind: "ready", reply: reply} }
func (r *recorder) OnError(code, message string) {
	r.ch <- outcome{kind: "error", code: code, message: message}
}
func (r *recorder) OnFatal(err error) { r.ch <- outcome{kind: "fatal", err: err} }

func (r *recorder) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("initialize の結果が返りませんでした")
		return outcome{}
	}
}

func (r *recorder) assertNoMore(t *testing.T) {
	t.Helper()
	select {
	case o := <-r.ch:
		t.Fatalf("結果が二回以上返されました: %+v", o)
	case <-time.After(50 * time.Millisecond):
	}
}

type fixture struct {
	manager   *Manager
	gate      *permission.MockGate
	factory   *streamer.MockFactory
	textures  *texture.Registry
	hub       *events.Hub
	discovery *camera.MockDiscovery
}

func newFixture(t *testing.T, autoGrant bool) *fixture {
	t.Helper()
	discovery := camera.NewMockDiscovery([]string{"/dev/video0"})
	registry := camera.NewRegistry(discovery, nil)

	f := &fixture{
		gate:      permission.NewMockGate(autoGrant),
		factory:   streamer.NewMockFactory(),
		textures:  texture.NewRegistry(),
		hub:       events.NewHub(logger.Discard()),
		discovery: discovery,
	}
	f.manager = NewManager(Deps{
		Gate:     f.gate,
		Resolver: camera.NewResolver(registry),
		Textures: f.textures,
		Factory:  f.factory,
		Hub:      f.hub,
		Metrics:  metrics.New(),
		Logger:   logger.Discard(),
	})
	t.Cleanup(f.manager.Close)
	return f
}

func highOptions(enableAudio bool) InitializeOptions {
	return InitializeOptions{
		CameraName:       "0",
		ResolutionPreset: camera.PresetHigh,
		StreamingPreset:  camera.PresetHigh,
		EnableAudio:      enableAudio,
	}
}

// initialize は initialize を呼んで成功を確認する
func (f *fixture) initialize(t *testing.T, opts InitializeOptions) Reply {
	t.Helper()
	rec := newRecorder()
	f.manager.Initialize(context.Background(), opts, rec)
	o := rec.wait(t)
	require.Equal(t, "ready", o.kind, "initialize が失敗しました: %+v", o)
	return o.reply
}

func TestInitialize_PreGrantedHighPreset(t *testing.T) {
	f := newFixture(t, true)

	reply := f.initialize(t, highOptions(true))

	assert.Equal(t, int64(0), reply.TextureID)
	assert.Equal(t, 1280, reply.PreviewWidth)
	assert.Equal(t, 720, reply.PreviewHeight)
	assert.Equal(t, 1, reply.PreviewQuarterTurns)

	m := reply.Map()
	assert.Contains(t, m, "textureId")
	assert.Contains(t, m, "previewWidth")
	assert.Contains(t, m, "previewHeight")
	assert.Equal(t, 1, m["previewQuarterTurns"])

	assert.Equal(t, StateActive, f.manager.State())
	cam := f.factory.Last()
	require.NotNil(t, cam)
	assert.True(t, cam.IsOnPreview())
	assert.Equal(t, "0", cam.CameraName())

	// 縦向きではバッファサイズは入れ替えない
	w, h := cam.Texture().DefaultBufferSize()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	snap, ok := f.manager.Current()
	require.True(t, ok)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, 30, snap.FrameRate)
	assert.Equal(t, StateActive, snap.State)
}

func TestInitialize_ReplacesActiveSession(t *testing.T) {
	f := newFixture(t, true)

	first := f.initialize(t, highOptions(false))
	firstCam := f.factory.Last()
	firstEntry := firstCam.Texture()

	second := f.initialize(t, highOptions(false))

	assert.NotEqual(t, first.TextureID, second.TextureID)
	assert.True(t, firstEntry.Released(), "前のテクスチャは解放される")
	previewStops, streamStops := firstCam.Stops()
	assert.Equal(t, 1, previewStops)
	assert.Equal(t, 1, streamStops)
	assert.False(t, firstCam.IsOnPreview())

	assert.Len(t, f.factory.Cameras(), 2)
	assert.Equal(t, 1, f.textures.Len(), "セッションはちょうど一つ")
	assert.Equal(t, StateActive, f.manager.State())
}

func TestInitialize_PermissionDenied(t *testing.T) {
	f := newFixture(t, false)

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(true), rec)
	assert.Equal(t, StateInitializing, f.manager.State())

	require.NoError(t, f.gate.Deny(permission.CodeCameraPermission, permission.DescAudioNotGranted))
	o := rec.wait(t)

	assert.Equal(t, "error", o.kind)
	assert.Equal(t, permission.CodeCameraPermission, o.code)
	assert.Equal(t, permission.DescAudioNotGranted, o.message)
	assert.Equal(t, StateIdle, f.manager.State())
	_, ok := f.manager.Current()
	assert.False(t, ok)
	assert.Empty(t, f.factory.Cameras())
	assert.Equal(t, 0, f.textures.Len())
	rec.assertNoMore(t)
}

func TestInitialize_PreviewCameraAccessError(t *testing.T) {
	f := newFixture(t, true)
	f.factory.Configure(func(c *streamer.MockCamera) {
		c.SetPreviewError(&camera.AccessError{Op: "オープン", Camera: "0", Err: camera.ErrDeviceUnavailable})
	})

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)
	o := rec.wait(t)

	assert.Equal(t, "error", o.kind)
	assert.Equal(t, CodeCameraAccess, o.code)
	assert.NotEmpty(t, o.message)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 0, f.textures.Len(), "失敗時はテクスチャを保持しない")
}

func TestInitialize_UnknownCamera(t *testing.T) {
	f := newFixture(t, true)

	opts := highOptions(false)
	opts.CameraName = "9"
	rec := newRecorder()
	f.manager.Initialize(context.Background(), opts, rec)
	o := rec.wait(t)

	assert.Equal(t, "error", o.kind)
	assert.Equal(t, CodeCameraAccess, o.code)
	assert.Equal(t, StateIdle, f.manager.State())
}

func TestInitialize_BackendFailureIsFatal(t *testing.T) {
	f := newFixture(t, true)
	f.factory.SetShouldFail(true)

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)
	o := rec.wait(t)

	assert.Equal(t, "fatal", o.kind)
	assert.Error(t, o.err)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 0, f.textures.Len())
}

func TestInitialize_NoModesIsFatal(t *testing.T) {
	f := newFixture(t, true)
	f.discovery.AddDeviceWithModes("/dev/video0", nil)

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)
	o := rec.wait(t)

	assert.Equal(t, "fatal", o.kind)
	assert.ErrorIs(t, o.err, camera.ErrNoProfile)
}

func TestDispose_DuringInitializing(t *testing.T) {
	f := newFixture(t, false)

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)
	f.manager.Dispose()

	o := rec.wait(t)
	assert.Equal(t, "error", o.kind)
	assert.Equal(t, CodeCameraAccess, o.code)
	assert.Equal(t, MsgDisposedDuringInit, o.message)
	assert.Equal(t, StateIdle, f.manager.State())

	// 遅れて届いた許可は無視される
	require.NoError(t, f.gate.Grant())
	rec.assertNoMore(t)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Empty(t, f.factory.Cameras())
}

func TestInitialize_SupersedesPendingInitialize(t *testing.T) {
	f := newFixture(t, false)

	first := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), first)
	require.NoError(t, f.gate.Grant())
	// 最初の要求を完了させてから次の initialize を保留にする
	assert.Equal(t, "ready", first.wait(t).kind)

	second := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), second)
	third := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), third)

	o := second.wait(t)
	assert.Equal(t, "error", o.kind)
	assert.Equal(t, MsgDisposedDuringInit, o.message)

	// 3回目の要求は2回目が保留中のため進行中エラーになる
	o = third.wait(t)
	assert.Equal(t, "error", o.kind)
	assert.Equal(t, permission.DescRequestOngoing, o.message)
	assert.Equal(t, StateIdle, f.manager.State())
	second.assertNoMore(t)
}

func TestDispose_Idempotent(t *testing.T) {
	f := newFixture(t, true)

	f.manager.Dispose()
	f.manager.Dispose()
	assert.Equal(t, StateIdle, f.manager.State())

	reply := f.initialize(t, highOptions(false))
	evs, unsubscribe := f.hub.Subscribe(reply.TextureID)
	defer unsubscribe()
	cam := f.factory.Last()

	f.manager.Dispose()
	assert.Equal(t, StateIdle, f.manager.State())
	assert.True(t, cam.Texture().Released())
	assert.False(t, cam.IsOnPreview())

	ev, open := <-evs
	require.True(t, open)
	assert.Equal(t, events.TypeCameraClosing, ev.Type)

	f.manager.Dispose()
	assert.Equal(t, StateIdle, f.manager.State())
	_, ok := f.manager.Current()
	assert.False(t, ok)
}

func TestStartStreaming_WithoutSession(t *testing.T) {
	f := newFixture(t, true)

	err := f.manager.StartStreaming(StreamOptions{URL: "rtmp://host/app/key", Bitrate: 2000000, Rotation: 90})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSession))
	assert.Equal(t, StateIdle, f.manager.State())
}

func TestStartStreaming_PrepareEncodeFailed(t *testing.T) {
	tests := []struct {
		name        string
		enableAudio bool
		configure   func(*streamer.MockCamera)
	}{
		{"映像エンコーダ", false, func(c *streamer.MockCamera) { c.SetShouldFailVideo(true) }},
		{"音声エンコーダ", true, func(c *streamer.MockCamera) { c.SetShouldFailAudio(true) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			f.factory.Configure(tt.configure)
			f.initialize(t, highOptions(tt.enableAudio))

			err := f.manager.StartStreaming(StreamOptions{URL: "rtmp://host/app/key", Bitrate: 2000000, Rotation: 0})
			assert.ErrorIs(t, err, ErrPrepareEncodeFailed)
			assert.Equal(t, StateActive, f.manager.State())
			assert.False(t, f.factory.Last().IsStreaming())
		})
	}
}

func TestStartStreaming_Success(t *testing.T) {
	f := newFixture(t, true)
	reply := f.initialize(t, highOptions(true))
	evs, unsubscribe := f.hub.Subscribe(reply.TextureID)
	defer unsubscribe()

	err := f.manager.StartStreaming(StreamOptions{URL: "rtmp://host/app/key", Bitrate: 2000000, Rotation: 90})
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, f.manager.State())

	cam := f.factory.Last()
	assert.True(t, cam.AudioPrepared())
	video, ok := cam.Video()
	require.True(t, ok)
	assert.Equal(t, streamer.VideoParams{Width: 1280, Height: 720, FPS: 30, Bitrate: 2000000, Rotation: 90}, video)
	assert.Equal(t, "rtmp://host/app/key", cam.URL())

	ev := <-evs
	assert.Equal(t, events.TypeRTMPConnected, ev.Type)

	snap, ok := f.manager.Current()
	require.True(t, ok)
	assert.True(t, snap.Streaming)
	assert.Equal(t, "rtmp://host/app/key", snap.URL)

	f.manager.StopStreaming()
	assert.Equal(t, StateActive, f.manager.State())
	assert.False(t, cam.IsStreaming())
}

func TestStartStreaming_AudioDisabledSkipsPrepareAudio(t *testing.T) {
	f := newFixture(t, true)
	f.initialize(t, highOptions(false))

	require.NoError(t, f.manager.StartStreaming(StreamOptions{URL: "rtmp://host/app/key", Bitrate: 1000000, Rotation: 90}))
	assert.False(t, f.factory.Last().AudioPrepared())
}

func TestConnectEventsAreForwarded(t *testing.T) {
	f := newFixture(t, true)
	f.factory.Configure(func(c *streamer.MockCamera) { c.SetStreamFailure("connection refused") })
	reply := f.initialize(t, highOptions(false))
	evs, unsubscribe := f.hub.Subscribe(reply.TextureID)
	defer unsubscribe()

	require.NoError(t, f.manager.StartStreaming(StreamOptions{URL: "rtmp://host/app/key", Bitrate: 1000000, Rotation: 90}))
	ev := <-evs
	assert.Equal(t, events.TypeRTMPFailed, ev.Type)
	assert.Equal(t, "connection refused", ev.Reason)

	f.factory.Last().ReportBitrate(123000)
	ev = <-evs
	assert.Equal(t, events.TypeRTMPBitrate, ev.Type)
	assert.Equal(t, int64(123000), ev.Bitrate)
}

func TestCameraErrorIsForwarded(t *testing.T) {
	f := newFixture(t, true)
	reply := f.initialize(t, highOptions(false))
	evs, unsubscribe := f.hub.Subscribe(reply.TextureID)
	defer unsubscribe()

	f.factory.Last().FailCamera("/dev/video0 のプレビューが終了しました")

	ev := <-evs
	assert.Equal(t, events.TypeError, ev.Type)
	assert.Equal(t, "/dev/video0 のプレビューが終了しました", ev.Description)
}

func TestStopStreaming_WithoutSession(t *testing.T) {
	f := newFixture(t, true)
	f.manager.StopStreaming()
	assert.Equal(t, StateIdle, f.manager.State())
}

func TestClose_ResolvesPendingInitialize(t *testing.T) {
	f := newFixture(t, false)

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)
	f.manager.Close()

	o := rec.wait(t)
	assert.Equal(t, "error", o.kind)
	assert.Equal(t, MsgDisposedDuringInit, o.message)

	// Close は何度呼んでもよい
	f.manager.Close()
}

func TestInitialize_AfterClose(t *testing.T) {
	f := newFixture(t, true)
	f.manager.Close()

	rec := newRecorder()
	f.manager.Initialize(context.Background(), highOptions(false), rec)

	o := rec.wait(t)
	assert.Equal(t, "error", o.kind)
	assert.Equal(t, CodeCameraAccess, o.code)
	assert.Equal(t, MsgManagerClosed, o.message)
	assert.Equal(t, StateIdle, f.manager.State())
	assert.Equal(t, 0, f.gate.Requests(), "停止後はパーミッションを要求しない")
	assert.Empty(t, f.factory.Cameras())
	rec.assertNoMore(t)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := StateActive.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "active", string(text))
}
