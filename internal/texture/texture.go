// Package texture はプレビュー映像の受け口（テクスチャ）を管理する
//
// テクスチャは整数のIDで識別され、バックエンドが書き込んだフレームを
// 購読者（MJPEGビューアなど）へ配信する。
package texture

import (
	"sync"
)

// subscriberBuffer は購読者ごとのフレームバッファ数
const subscriberBuffer = 4

// Entry は一つのテクスチャ
type Entry struct {
	id       int64
	registry *Registry

	mu          sync.RWMutex
	width       int
	height      int
	latest      []byte
	subscribers map[chan []byte]struct{}
	released    bool
	done        chan struct{}
}

// ID はテクスチャIDを返す
func (e *Entry) ID() int64 { return e.id }

// SetDefaultBufferSize はバッファの既定サイズを設定する
func (e *Entry) SetDefaultBufferSize(width, height int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.width, e.height = width, height
}

// DefaultBufferSize はバッファの既定サイズを返す
func (e *Entry) DefaultBufferSize() (width, height int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.width, e.height
}

// Publish はフレームを全購読者へ配信する
// 購読者のバッファが一杯の場合は古いフレームを破棄する
func (e *Entry) Publish(frame []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		return
	}

	e.latest = frame
	for ch := range e.subscribers {
		select {
		case ch <- frame:
		default:
			// チャンネルがフルの場合は古いフレームを破棄
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Latest は最後に書き込まれたフレームを返す
func (e *Entry) Latest() []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.latest == nil {
		return nil
	}
	frame := make([]byte, len(e.latest))
	copy(frame, e.latest)
	return frame
}

// Subscribe はフレームの購読を開始する
// 返される関数で購読を解除する。解放済みの場合は閉じたチャンネルを返す
func (e *Entry) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.released {
		close(ch)
		return ch, func() {}
	}
	e.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			if _, ok := e.subscribers[ch]; ok {
				delete(e.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Release はテクスチャを解放する。二回目以降は何もしない
func (e *Entry) Release() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	e.released = true
	for ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	e.latest = nil
	close(e.done)
	e.mu.Unlock()

	if e.registry != nil {
		e.registry.remove(e.id)
	}
}

// Released は解放済みかどうかを返す
func (e *Entry) Released() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.released
}

// Done は解放時に閉じられるチャンネルを返す
func (e *Entry) Done() <-chan struct{} { return e.done }

// Registry はテクスチャIDの払い出しと検索を行う
type Registry struct {
	mu      sync.RWMutex
	nextID  int64
	entries map[int64]*Entry
}

// NewRegistry は新しいRegistryを作成する
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int64]*Entry)}
}

// Create は新しいテクスチャを作成する
func (r *Registry) Create() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := &Entry{
		id:          r.nextID,
		registry:    r,
		subscribers: make(map[chan []byte]struct{}),
		done:        make(chan struct{}),
	}
	r.nextID++
	r.entries[e.id] = e
	return e
}

// Get はIDからテクスチャを取得する
func (r *Registry) Get(id int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// Len は解放されていないテクスチャ数を返す
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
