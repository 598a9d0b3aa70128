package texture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndRelease(t *testing.T) {
	r := NewRegistry()

	first := r.Create()
	second := r.Create()
	assert.Equal(t, int64(0), first.ID())
	assert.Equal(t, int64(1), second.ID())
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(1)
	require.True(t, ok)
	assert.Same(t, second, got)

	first.Release()
	first.Release()
	assert.True(t, first.Released())
	assert.Equal(t, 1, r.Len())
	_, ok = r.Get(0)
	assert.False(t, ok)

	select {
	case <-first.Done():
	default:
		t.Fatal("解放後は Done が閉じられるはずです")
	}

	// IDは再利用されない
	assert.Equal(t, int64(2), r.Create().ID())
}

func TestEntry_BufferSize(t *testing.T) {
	e := NewRegistry().Create()
	e.SetDefaultBufferSize(1280, 720)
	w, h := e.DefaultBufferSize()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)
}

func TestEntry_PublishSubscribe(t *testing.T) {
	e := NewRegistry().Create()
	frames, unsubscribe := e.Subscribe()

	e.Publish([]byte("frame-1"))
	assert.Equal(t, []byte("frame-1"), <-frames)
	assert.Equal(t, []byte("frame-1"), e.Latest())

	unsubscribe()
	unsubscribe()
	_, open := <-frames
	assert.False(t, open, "購読解除でチャンネルが閉じられるはずです")
}

func TestEntry_PublishDropsOldest(t *testing.T) {
	e := NewRegistry().Create()
	frames, unsubscribe := e.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+3; i++ {
		e.Publish([]byte{byte(i)})
	}

	var received []byte
	for len(frames) > 0 {
		received = append(received, (<-frames)[0])
	}
	require.Len(t, received, subscriberBuffer)
	// 最新のフレームは必ず残る
	assert.Equal(t, byte(subscriberBuffer+2), received[len(received)-1])
}

func TestEntry_ReleaseClosesSubscribers(t *testing.T) {
	e := NewRegistry().Create()
	frames, unsubscribe := e.Subscribe()

	e.Release()
	_, open := <-frames
	assert.False(t, open)

	// 解放後の操作は安全
	unsubscribe()
	e.Publish([]byte("late"))
	assert.Nil(t, e.Latest())

	late, _ := e.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
