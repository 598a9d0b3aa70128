// Package permission はカメラとマイクへのアクセス許可を判定する
//
// 要求は非同期で、完了は Pending を通じてちょうど一度だけ通知される。
// Detach 後に完了した結果は破棄される。
package permission

import (
	"context"
	"sync"
)

// エラーコードと説明文（呼び出し元にそのまま返される）
const (
	CodeCameraPermission = "cameraPermission"

	DescCameraNotGranted = "MediaRecorderCamera permission not granted"
	DescAudioNotGranted  = "MediaRecorderAudio permission not granted"
	DescRequestOngoing   = "Camera permission request ongoing"
)

// Result はパーミッション要求の結果
// Code が空なら許可
type Result struct {
	Code        string
	Description string
}

// Granted は許可されたかどうかを返す
func (r Result) Granted() bool {
	return r.Code == ""
}

// Denied は拒否結果を作成する
func Denied(code, description string) Result {
	return Result{Code: code, Description: description}
}

// Gate はパーミッション要求の窓口
type Gate interface {
	// Request は要求を発行し、すぐに戻る
	Request(ctx context.Context, enableAudio bool) *Pending

	// Detach は要求元がいなくなったことを通知する
	// 以降に完了した結果は配送されない
	Detach()
}

// Pending は発行済みのパーミッション要求
type Pending struct {
	enableAudio bool
	generation  uint64
	done        chan struct{}
	once        sync.Once
	result      Result
}

func newPending(enableAudio bool) *Pending {
	return &Pending{enableAudio: enableAudio, done: make(chan struct{})}
}

// EnableAudio はマイクの許可も要求しているかを返す
func (p *Pending) EnableAudio() bool { return p.enableAudio }

// Done は結果が確定したときに閉じられるチャンネルを返す
func (p *Pending) Done() <-chan struct{} { return p.done }

// Result は確定した結果を返す
// Done が閉じられる前に呼んだ場合はゼロ値を返す
func (p *Pending) Result() Result {
	select {
	case <-p.done:
		return p.result
	default:
		return Result{}
	}
}

// complete は結果を確定する。二回目以降は無視され false を返す
func (p *Pending) complete(r Result) bool {
	completed := false
	p.once.Do(func() {
		p.result = r
		close(p.done)
		completed = true
	})
	return completed
}

// tracker は進行中の要求と切り離し状態を管理する
type tracker struct {
	mu         sync.Mutex
	ongoing    *Pending
	generation uint64 // Detach のたびに進む
	observer   func(Result)
}

// begin は新しい要求を登録する
// 既に進行中の要求があれば、進行中エラーで即座に完了した Pending を返す
func (t *tracker) begin(enableAudio bool) (*Pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := newPending(enableAudio)
	p.generation = t.generation
	if t.ongoing != nil {
		p.complete(Denied(CodeCameraPermission, DescRequestOngoing))
		return p, false
	}
	t.ongoing = p
	return p, true
}

// finish は要求を完了させる。切り離し後であれば結果を破棄する
func (t *tracker) finish(p *Pending, r Result) {
	t.mu.Lock()
	if t.ongoing == p {
		t.ongoing = nil
	}
	detached := p.generation != t.generation
	observer := t.observer
	t.mu.Unlock()

	if detached {
		return
	}
	if p.complete(r) && observer != nil {
		observer(r)
	}
}

// detach は進行中の要求を破棄する
func (t *tracker) detach() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	t.ongoing = nil
}

// setObserver は結果を観測するコールバック（メトリクス用）を設定する
func (t *tracker) setObserver(fn func(Result)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observer = fn
}
