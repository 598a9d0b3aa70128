package permission

import (
	"context"
	"fmt"
	"os"
	"sync"
)

// DeviceGate はデバイスノードへのアクセス権限で許可を判定する
type DeviceGate struct {
	tracker
	cameraNode func(ctx context.Context) (string, error)
	audioNode  string
}

// NewDeviceGate は新しいDeviceGateを作成する
// cameraNode は判定対象のカメラデバイスを返す（例: 最初に列挙されたカメラ）
func NewDeviceGate(cameraNode func(ctx context.Context) (string, error), audioNode string) *DeviceGate {
	return &DeviceGate{cameraNode: cameraNode, audioNode: audioNode}
}

// Request はデバイスへのアクセス可否を非同期に確認する
func (g *DeviceGate) Request(ctx context.Context, enableAudio bool) *Pending {
	p, started := g.begin(enableAudio)
	if !started {
		return p
	}

	go func() {
		g.finish(p, g.check(ctx, enableAudio))
	}()
	return p
}

// Detach は進行中の要求の結果を破棄する
func (g *DeviceGate) Detach() { g.detach() }

// Observe は結果を観測するコールバックを設定する
func (g *DeviceGate) Observe(fn func(Result)) { g.setObserver(fn) }

// check はカメラと（必要なら）マイクのデバイスを確認する
func (g *DeviceGate) check(ctx context.Context, enableAudio bool) Result {
	device, err := g.cameraNode(ctx)
	if err != nil || !canAccess(device, os.O_RDWR) {
		return Denied(CodeCameraPermission, DescCameraNotGranted)
	}
	if enableAudio && !canAccess(g.audioNode, os.O_RDONLY) {
		return Denied(CodeCameraPermission, DescAudioNotGranted)
	}
	return Result{}
}

// canAccess は指定したモードでパスを開けるか確認する
func canAccess(path string, flag int) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		// /dev/snd のようなディレクトリは読み取りのみ確認する
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

// StaticGate は設定で決めた結果を返す
type StaticGate struct {
	tracker
	grant bool
}

// NewStaticGate は新しいStaticGateを作成する
func NewStaticGate(grant bool) *StaticGate {
	return &StaticGate{grant: grant}
}

// Request は設定された結果で非同期に完了する
func (g *StaticGate) Request(_ context.Context, enableAudio bool) *Pending {
	p, started := g.begin(enableAudio)
	if !started {
		return p
	}

	go func() {
		if g.grant {
			g.finish(p, Result{})
			return
		}
		g.finish(p, Denied(CodeCameraPermission, DescCameraNotGranted))
	}()
	return p
}

// Detach は進行中の要求の結果を破棄する
func (g *StaticGate) Detach() { g.detach() }

// Observe は結果を観測するコールバックを設定する
func (g *StaticGate) Observe(fn func(Result)) { g.setObserver(fn) }

// MockGate はテスト用のGate実装
// AutoGrant が false の場合、Grant / Deny を呼ぶまで要求は完了しない
type MockGate struct {
	tracker
	mu        sync.Mutex
	autoGrant bool
	requests  []*Pending
}

// NewMockGate は新しいMockGateを作成する
func NewMockGate(autoGrant bool) *MockGate {
	return &MockGate{autoGrant: autoGrant}
}

// Request は要求を記録する
func (g *MockGate) Request(_ context.Context, enableAudio bool) *Pending {
	p, started := g.begin(enableAudio)

	g.mu.Lock()
	g.requests = append(g.requests, p)
	auto := g.autoGrant
	g.mu.Unlock()

	if started && auto {
		go g.finish(p, Result{})
	}
	return p
}

// Detach は進行中の要求の結果を破棄する
func (g *MockGate) Detach() { g.detach() }

// Grant は最後の要求を許可で完了させる
func (g *MockGate) Grant() error {
	return g.resolveLast(Result{})
}

// Deny は最後の要求を拒否で完了させる
func (g *MockGate) Deny(code, description string) error {
	return g.resolveLast(Denied(code, description))
}

// Requests は受け付けた要求の数を返す
func (g *MockGate) Requests() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

func (g *MockGate) resolveLast(r Result) error {
	g.mu.Lock()
	if len(g.requests) == 0 {
		g.mu.Unlock()
		return fmt.Errorf("保留中の要求がありません")
	}
	p := g.requests[len(g.requests)-1]
	g.mu.Unlock()

	g.finish(p, r)
	return nil
}
