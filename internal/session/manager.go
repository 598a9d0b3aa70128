// Package session はカメラとRTMP送出のセッションのライフサイクルを管理する
//
// セッションは同時に一つだけ存在し、Manager が排他的に所有する。
// initialize はパーミッションの完了を待って非同期に続きを実行する。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"camrtmp/internal/camera"
	"camrtmp/internal/events"
	"camrtmp/internal/metrics"
	"camrtmp/internal/permission"
	"camrtmp/internal/streamer"
	"camrtmp/internal/texture"
)

// instantiateTimeout はプロファイル解決とプレビュー開始に使う時間の上限
const instantiateTimeout = 15 * time.Second

// ProfileResolver はプリセットからプロファイルとプレビューサイズを決定する
type ProfileResolver interface {
	BestProfileForPreset(ctx context.Context, cameraName string, preset camera.ResolutionPreset) (camera.Profile, error)
	ComputeBestPreviewSize(ctx context.Context, cameraName string, preset camera.ResolutionPreset) (camera.Resolution, error)
}

// Deps は Manager が使うコンポーネント
type Deps struct {
	Gate     permission.Gate
	Resolver ProfileResolver
	Textures *texture.Registry
	Factory  streamer.Factory
	Hub      *events.Hub
	Metrics  *metrics.Metrics
	Logger   *logrus.Logger
}

// initAttempt は進行中の initialize
type initAttempt struct {
	id   uint64
	opts InitializeOptions
	cb   Callback
}

// Manager はセッションのライフサイクルを管理する
type Manager struct {
	deps Deps

	mu       sync.Mutex
	state    State
	current  *Session
	pending  *initAttempt
	attempts uint64

	closeOnce sync.Once
	closed    chan struct{}
}

// NewManager は新しいManagerを作成する
func NewManager(deps Deps) *Manager {
	m := &Manager{
		deps:   deps,
		closed: make(chan struct{}),
	}
	deps.Metrics.SetSessionState(StateIdle.String(), allStates)
	return m
}

// Initialize は既存のセッションを停止・解放してからパーミッションを要求する
// 結果は cb へ非同期に通知される
func (m *Manager) Initialize(ctx context.Context, opts InitializeOptions, cb Callback) {
	m.mu.Lock()
	if m.isClosed() {
		m.mu.Unlock()
		cb.OnError(CodeCameraAccess, MsgManagerClosed)
		return
	}
	superseded := m.supersedeLocked()
	m.teardownLocked()

	m.attempts++
	attempt := &initAttempt{id: m.attempts, opts: opts, cb: cb}
	m.pending = attempt
	m.setStateLocked(StateInitializing)
	m.mu.Unlock()

	notifySuperseded(superseded)

	m.deps.Logger.WithFields(logrus.Fields{
		"camera":            opts.CameraName,
		"streaming_preset":  opts.StreamingPreset.String(),
		"resolution_preset": opts.ResolutionPreset.String(),
		"enable_audio":      opts.EnableAudio,
	}).Info("カメラの初期化を開始します")

	// パーミッション要求は呼び出し元のキャンセルに影響されない
	pending := m.deps.Gate.Request(context.WithoutCancel(ctx), opts.EnableAudio)
	go m.awaitPermission(attempt, pending)
}

// awaitPermission はパーミッションの完了を待って初期化を続ける
func (m *Manager) awaitPermission(attempt *initAttempt, pending *permission.Pending) {
	select {
	case <-pending.Done():
	case <-m.closed:
		m.mu.Lock()
		current := m.pending == attempt
		if current {
			m.pending = nil
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		if current {
			attempt.cb.OnError(CodeCameraAccess, MsgManagerClosed)
		}
		return
	}

	result := pending.Result()
	m.deps.Metrics.ObservePermission(result.Granted())

	m.mu.Lock()
	if m.pending != attempt {
		// dispose または新しい initialize によって置き換えられた
		m.mu.Unlock()
		m.deps.Logger.WithField("attempt", attempt.id).Debug("置き換えられた初期化の結果を破棄しました")
		return
	}
	m.pending = nil

	if !result.Granted() {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		m.deps.Logger.WithFields(logrus.Fields{
			"code":        result.Code,
			"description": result.Description,
		}).Warn("パーミッションが拒否されました")
		attempt.cb.OnError(result.Code, result.Description)
		return
	}

	reply, err := m.instantiateLocked(attempt.opts)
	if err != nil {
		m.setStateLocked(StateIdle)
		m.mu.Unlock()
		if errors.Is(err, camera.ErrCameraAccess) {
			m.deps.Logger.WithError(err).Warn("カメラへのアクセスに失敗しました")
			attempt.cb.OnError(CodeCameraAccess, err.Error())
			return
		}
		m.deps.Logger.WithError(err).Error("カメラの初期化に失敗しました")
		attempt.cb.OnFatal(err)
		return
	}
	m.setStateLocked(StateActive)
	sessionID := m.current.ID
	m.mu.Unlock()

	m.deps.Logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"texture_id":    reply.TextureID,
		"width":         reply.PreviewWidth,
		"height":        reply.PreviewHeight,
		"quarter_turns": reply.PreviewQuarterTurns,
	}).Info("カメラを開きました")
	attempt.cb.OnReady(reply)
}

// instantiateLocked はプロファイルを決定し、テクスチャを作成してプレビューを開始する（ロック済み前提）
// 失敗した場合、作成したリソースはすべて解放される
func (m *Manager) instantiateLocked(opts InitializeOptions) (Reply, error) {
	ctx, cancel := context.WithTimeout(context.Background(), instantiateTimeout)
	defer cancel()

	profile, err := m.deps.Resolver.BestProfileForPreset(ctx, opts.CameraName, opts.StreamingPreset)
	if err != nil {
		return Reply{}, fmt.Errorf("ストリーミングプロファイルの決定に失敗: %w", err)
	}
	previewSize, err := m.deps.Resolver.ComputeBestPreviewSize(ctx, opts.CameraName, opts.StreamingPreset)
	if err != nil {
		return Reply{}, fmt.Errorf("プレビューサイズの決定に失敗: %w", err)
	}

	entry := m.deps.Textures.Create()
	if portrait {
		entry.SetDefaultBufferSize(previewSize.Width, previewSize.Height)
	} else {
		entry.SetDefaultBufferSize(previewSize.Height, previewSize.Width)
	}

	sess := &Session{
		ID:          uuid.NewString(),
		CameraName:  opts.CameraName,
		Texture:     entry,
		Profile:     profile,
		PreviewSize: previewSize,
		EnableAudio: opts.EnableAudio,
		messenger:   events.NewMessenger(m.deps.Hub, entry.ID()),
	}

	backend, err := m.deps.Factory.NewCamera(streamer.Options{
		Texture:      entry,
		EnableOpenGL: opts.EnableOpenGL,
		Checker: &connectChecker{
			messenger: sess.messenger,
			metrics:   m.deps.Metrics,
			logger: m.deps.Logger.WithFields(logrus.Fields{
				"session_id": sess.ID,
				"texture_id": entry.ID(),
			}),
		},
	})
	if err != nil {
		m.releaseTexture(entry)
		return Reply{}, fmt.Errorf("ストリーミングバックエンドの作成に失敗: %w", err)
	}

	if err := backend.StartPreview(ctx, opts.CameraName); err != nil {
		m.releaseTexture(entry)
		return Reply{}, fmt.Errorf("プレビューの開始に失敗: %w", err)
	}

	sess.backend = backend
	m.current = sess

	width, height := camera.PreviewDimensions(previewSize, portrait)
	return Reply{
		TextureID:           entry.ID(),
		PreviewWidth:        width,
		PreviewHeight:       height,
		PreviewQuarterTurns: previewOrientation / 90,
	}, nil
}

// StartStreaming はエンコーダを準備してRTMP送出を開始する
// セッションが無い場合は ErrNoSession、エンコーダの準備に失敗した場合は ErrPrepareEncodeFailed を返す
func (m *Manager) StartStreaming(opts StreamOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		return fmt.Errorf("startVideoStreaming (state=%s): %w", m.state, ErrNoSession)
	}

	if sess.EnableAudio && !sess.backend.PrepareAudio() {
		return fmt.Errorf("音声エンコーダ: %w", ErrPrepareEncodeFailed)
	}
	p := sess.Profile
	if !sess.backend.PrepareVideo(p.Width, p.Height, p.FrameRate, opts.Bitrate, opts.Rotation) {
		return fmt.Errorf("映像エンコーダ (%dx%d@%d, %d bps, %d°): %w",
			p.Width, p.Height, p.FrameRate, opts.Bitrate, opts.Rotation, ErrPrepareEncodeFailed)
	}

	sess.URL = opts.URL
	sess.backend.StartStream(opts.URL)
	m.setStateLocked(StateStreaming)
	m.deps.Metrics.StreamStarted()

	m.deps.Logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"bitrate":    opts.Bitrate,
		"rotation":   opts.Rotation,
	}).Info("RTMP送出を開始します")
	return nil
}

// StopStreaming は送出を停止する。セッションが無い、または送出していない場合は何もしない
func (m *Manager) StopStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		m.deps.Logger.Debug("セッションが無いため送出の停止を省略しました")
		return
	}
	sess.backend.StopStream()
	sess.URL = ""
	if m.state == StateStreaming {
		m.setStateLocked(StateActive)
	}
}

// Dispose はセッションを停止してテクスチャを解放する。何度呼んでもよい
func (m *Manager) Dispose() {
	m.mu.Lock()
	superseded := m.supersedeLocked()
	if m.current != nil {
		m.current.messenger.SendCameraClosing()
	}
	m.teardownLocked()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	notifySuperseded(superseded)
}

// Close はパーミッション要求元を切り離し、セッションを破棄する
// サーバー停止時に呼ばれる
func (m *Manager) Close() {
	m.deps.Gate.Detach()
	m.Dispose()
	m.closeOnce.Do(func() { close(m.closed) })
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// State は現在の状態を返す
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current は現在のセッションの状態を返す
func (m *Manager) Current() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		return Snapshot{State: m.state}, false
	}
	width, height := camera.PreviewDimensions(sess.PreviewSize, portrait)
	return Snapshot{
		ID:            sess.ID,
		State:         m.state,
		CameraName:    sess.CameraName,
		TextureID:     sess.Texture.ID(),
		Width:         sess.Profile.Width,
		Height:        sess.Profile.Height,
		FrameRate:     sess.Profile.FrameRate,
		PreviewWidth:  width,
		PreviewHeight: height,
		EnableAudio:   sess.EnableAudio,
		URL:           sess.URL,
		Streaming:     sess.backend.IsStreaming(),
	}, true
}

// supersedeLocked は進行中の initialize を取り消し、そのコールバックを返す（ロック済み前提）
func (m *Manager) supersedeLocked() Callback {
	if m.pending == nil {
		return nil
	}
	cb := m.pending.cb
	m.pending = nil
	return cb
}

// teardownLocked は現在のセッションの送出とプレビューを止め、テクスチャを解放する（ロック済み前提）
func (m *Manager) teardownLocked() {
	sess := m.current
	if sess == nil {
		return
	}
	m.current = nil

	sess.backend.StopStream()
	sess.backend.StopPreview()
	m.releaseTexture(sess.Texture)

	m.deps.Logger.WithFields(logrus.Fields{
		"session_id": sess.ID,
		"texture_id": sess.Texture.ID(),
	}).Info("セッションを破棄しました")
}

func (m *Manager) releaseTexture(entry *texture.Entry) {
	entry.Release()
	m.deps.Hub.Close(entry.ID())
}

// setStateLocked は状態を更新する（ロック済み前提）
func (m *Manager) setStateLocked(state State) {
	if m.state == state {
		return
	}
	m.deps.Logger.WithFields(logrus.Fields{
		"from": m.state.String(),
		"to":   state.String(),
	}).Debug("セッションの状態が変化しました")
	m.state = state
	m.deps.Metrics.SetSessionState(state.String(), allStates)
}

// notifySuperseded は置き換えられた initialize に結果を返す
func notifySuperseded(cb Callback) {
	if cb != nil {
		cb.OnError(CodeCameraAccess, MsgDisposedDuringInit)
	}
}
