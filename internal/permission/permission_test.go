package permission

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitResult(t *testing.T, p *Pending) Result {
	t.Helper()
	select {
	case <-p.Done():
		return p.Result()
	case <-time.After(2 * time.Second):
		t.Fatal("パーミッション要求が完了しませんでした")
		return Result{}
	}
}

func TestPending_CompletesOnce(t *testing.T) {
	p := newPending(true)
	assert.True(t, p.EnableAudio())
	assert.Equal(t, Result{}, p.Result(), "完了前はゼロ値")

	assert.True(t, p.complete(Denied("a", "first")))
	assert.False(t, p.complete(Result{}))

	r := waitResult(t, p)
	assert.Equal(t, "a", r.Code)
	assert.Equal(t, "first", r.Description)
	assert.False(t, r.Granted())
}

func TestStaticGate(t *testing.T) {
	ctx := context.Background()

	granted := waitResult(t, NewStaticGate(true).Request(ctx, true))
	assert.True(t, granted.Granted())

	denied := waitResult(t, NewStaticGate(false).Request(ctx, false))
	assert.Equal(t, CodeCameraPermission, denied.Code)
	assert.Equal(t, DescCameraNotGranted, denied.Description)
}

func TestMockGate_OngoingRequest(t *testing.T) {
	ctx := context.Background()
	gate := NewMockGate(false)

	first := gate.Request(ctx, false)
	second := gate.Request(ctx, false)

	r := waitResult(t, second)
	assert.Equal(t, CodeCameraPermission, r.Code)
	assert.Equal(t, DescRequestOngoing, r.Description)

	require.NoError(t, gate.Deny("customCode", "custom description"))
	// 最後の要求は既に完了済みなので、最初の要求はまだ保留中
	select {
	case <-first.Done():
		t.Fatal("最初の要求は完了していないはずです")
	default:
	}
}

func TestMockGate_GrantAndDeny(t *testing.T) {
	ctx := context.Background()
	gate := NewMockGate(false)

	p := gate.Request(ctx, true)
	require.NoError(t, gate.Grant())
	assert.True(t, waitResult(t, p).Granted())

	p = gate.Request(ctx, true)
	require.NoError(t, gate.Deny("cameraPermission", "denied by user"))
	r := waitResult(t, p)
	assert.Equal(t, "cameraPermission", r.Code)
	assert.Equal(t, "denied by user", r.Description)
	assert.Equal(t, 2, gate.Requests())
}

func TestMockGate_DetachDropsResult(t *testing.T) {
	ctx := context.Background()
	gate := NewMockGate(false)

	p := gate.Request(ctx, false)
	gate.Detach()
	require.NoError(t, gate.Grant())

	select {
	case <-p.Done():
		t.Fatal("切り離し後の結果は配送されないはずです")
	case <-time.After(50 * time.Millisecond):
	}

	// 切り離し後の新しい要求は通常通り処理される
	next := gate.Request(ctx, false)
	require.NoError(t, gate.Grant())
	assert.True(t, waitResult(t, next).Granted())
}

func TestMockGate_AutoGrant(t *testing.T) {
	gate := NewMockGate(true)
	assert.True(t, waitResult(t, gate.Request(context.Background(), false)).Granted())
}

func TestDeviceGate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cameraNode := filepath.Join(dir, "video0")
	require.NoError(t, os.WriteFile(cameraNode, nil, 0o600))
	audioNode := filepath.Join(dir, "snd")
	require.NoError(t, os.Mkdir(audioNode, 0o700))

	node := func(context.Context) (string, error) { return cameraNode, nil }

	t.Run("カメラとマイクが利用可能", func(t *testing.T) {
		gate := NewDeviceGate(node, audioNode)
		assert.True(t, waitResult(t, gate.Request(ctx, true)).Granted())
	})

	t.Run("マイクが無い", func(t *testing.T) {
		gate := NewDeviceGate(node, filepath.Join(dir, "missing"))
		r := waitResult(t, gate.Request(ctx, true))
		assert.Equal(t, DescAudioNotGranted, r.Description)

		// 音声無しなら許可される
		assert.True(t, waitResult(t, gate.Request(ctx, false)).Granted())
	})

	t.Run("カメラが無い", func(t *testing.T) {
		gate := NewDeviceGate(func(context.Context) (string, error) {
			return filepath.Join(dir, "video9"), nil
		}, audioNode)
		r := waitResult(t, gate.Request(ctx, false))
		assert.Equal(t, CodeCameraPermission, r.Code)
		assert.Equal(t, DescCameraNotGranted, r.Description)
	})

	t.Run("結果の観測", func(t *testing.T) {
		gate := NewDeviceGate(node, audioNode)
		observed := make(chan Result, 1)
		gate.Observe(func(r Result) { observed <- r })

		waitResult(t, gate.Request(ctx, false))
		select {
		case r := <-observed:
			assert.True(t, r.Granted())
		case <-time.After(time.Second):
			t.Fatal("結果が観測されませんでした")
		}
	})
}
