// Package events はテクスチャ単位のカメライベント配信を提供する
package events

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Type はイベントの種別
type Type string

// イベント種別
const (
	TypeError            Type = "error"
	TypeCameraClosing    Type = "camera_closing"
	TypeRTMPConnected    Type = "rtmp_connected"
	TypeRTMPFailed       Type = "rtmp_failed"
	TypeRTMPDisconnected Type = "rtmp_disconnected"
	TypeRTMPAuthError    Type = "rtmp_auth_error"
	TypeRTMPAuthSuccess  Type = "rtmp_auth_success"
	TypeRTMPBitrate      Type = "rtmp_bitrate"
)

// Event はクライアントへ送るイベント
type Event struct {
	Type        Type      `json:"eventType"`
	Description string    `json:"errorDescription,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Bitrate     int64     `json:"bitrate,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const subscriberBuffer = 16

// Hub はテクスチャIDごとにイベントを購読者へ配信する
type Hub struct {
	mu     sync.RWMutex
	subs   map[int64]map[chan Event]struct{}
	logger *logrus.Logger
}

// NewHub は新しいHubを作成する
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		subs:   make(map[int64]map[chan Event]struct{}),
		logger: logger,
	}
}

// Publish はイベントを配信する
// 購読者の受信が追いつかない場合、そのイベントは破棄される
func (h *Hub) Publish(textureID int64, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[textureID] {
		select {
		case ch <- ev:
		default:
			h.logger.WithFields(logrus.Fields{
				"texture_id": textureID,
				"event":      ev.Type,
			}).Warn("イベント購読者のバッファが一杯のため破棄しました")
		}
	}
}

// Subscribe はテクスチャのイベントを購読する
// 返される関数で購読を解除する
func (h *Hub) Subscribe(textureID int64) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[textureID]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[textureID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() { h.unsubscribe(textureID, ch) })
	}
}

// Close はテクスチャの購読者をすべて切断する
func (h *Hub) Close(textureID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[textureID] {
		close(ch)
	}
	delete(h.subs, textureID)
}

// Subscribers は購読者数を返す
func (h *Hub) Subscribers(textureID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[textureID])
}

func (h *Hub) unsubscribe(textureID int64, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[textureID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		// Close 済み
		return
	}
	delete(set, ch)
	close(ch)
	if len(set) == 0 {
		delete(h.subs, textureID)
	}
}

// Messenger は一つのテクスチャに紐づいたイベント送信者
type Messenger struct {
	hub       *Hub
	textureID int64
}

// NewMessenger は新しいMessengerを作成する
func NewMessenger(hub *Hub, textureID int64) *Messenger {
	return &Messenger{hub: hub, textureID: textureID}
}

// TextureID は送信先のテクスチャIDを返す
func (m *Messenger) TextureID() int64 { return m.textureID }

// SendError はエラーイベントを送る
func (m *Messenger) SendError(description string) {
	m.Send(Event{Type: TypeError, Description: description})
}

// SendCameraClosing はカメラ終了イベントを送る
func (m *Messenger) SendCameraClosing() {
	m.Send(Event{Type: TypeCameraClosing})
}

// Send は任意のイベントを送る
func (m *Messenger) Send(ev Event) {
	if m == nil || m.hub == nil {
		return
	}
	m.hub.Publish(m.textureID, ev)
}
