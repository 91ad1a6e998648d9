// ABOUTME: Tests for the room message hub
// ABOUTME: Covers fan-out, room isolation, unsubscribe, context cancellation and concurrency

package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solace/internal/rtc"
)

func answerMsg(text string) rtc.RoomMessage {
	return rtc.NewAnswerMessage(rtc.AnswerData{Text: text, MessageID: "a1"})
}

func recv(t *testing.T, ch <-chan rtc.RoomMessage) rtc.RoomMessage {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for room message")
		return rtc.RoomMessage{}
	}
}

func TestHub_FanOutToRoomMembers(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch1, _ := h.Subscribe(t.Context(), "room_1")
	ch2, _ := h.Subscribe(t.Context(), "room_1")
	other, _ := h.Subscribe(t.Context(), "room_2")

	n := h.Publish("room_1", answerMsg("hello"))
	assert.Equal(t, 2, n)

	for _, ch := range []<-chan rtc.RoomMessage{ch1, ch2} {
		a, err := recv(t, ch).Answer()
		require.NoError(t, err)
		assert.Equal(t, "hello", a.Text)
	}

	select {
	case m := <-other:
		t.Fatalf("room_2 received %v", m)
	default:
	}
}

func TestHub_PublishToEmptyRoom(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	assert.Equal(t, 0, h.Publish("nobody", answerMsg("x")))
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ch, id := h.Subscribe(t.Context(), "room_1")
	assert.Equal(t, 1, h.Members("room_1"))

	h.Unsubscribe("room_1", id)
	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, h.Members("room_1"))
	assert.Equal(t, 0, h.Rooms())

	h.Unsubscribe("room_1", id)
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := h.Subscribe(ctx, "room_1")
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up after cancel")
	}
}

func TestHub_SlowMemberIsEvicted(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	slow, slowID := h.Subscribe(t.Context(), "room_1")
	fast, _ := h.Subscribe(t.Context(), "room_1")

	// drain the fast member as the fragments arrive
	var reply strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range fast {
			a, err := m.Answer()
			if err == nil {
				reply.WriteString(a.Text)
			}
		}
	}()

	const fragments = 80
	for i := 0; i < fragments; i++ {
		h.Publish("room_1", answerMsg("a"))
		// let the reader keep up so only the idle member falls behind
		require.Eventually(t, func() bool { return len(fast) == 0 }, time.Second, time.Millisecond)
	}

	assert.True(t, h.Evicted(slowID))
	assert.Equal(t, 1, h.Members("room_1"))

	n := 0
	for range slow {
		n++
	}
	assert.Equal(t, subscriberBufferSize, n, "evicted member keeps what was buffered, then sees the channel close")

	h.Unsubscribe("room_1", slowID)
	assert.False(t, h.Evicted(slowID))

	h.Close()
	<-done
	assert.Equal(t, strings.Repeat("a", fragments), reply.String(), "members that keep up receive every fragment")
}

func TestHub_EvictionEmptiesRoom(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	_, _ = h.Subscribe(t.Context(), "room_1")
	for i := 0; i < subscriberBufferSize; i++ {
		require.Equal(t, 1, h.Publish("room_1", answerMsg("x")))
	}
	assert.Equal(t, 0, h.Publish("room_1", answerMsg("overflow")))
	assert.Equal(t, 0, h.Members("room_1"))
	assert.Equal(t, 0, h.Rooms())
}

func TestHub_CloseEndsSubscriptions(t *testing.T) {
	h := NewHub(nil)

	ch, _ := h.Subscribe(t.Context(), "room_1")
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := h.Subscribe(t.Context(), "room_1")
	_, ok = <-late
	assert.False(t, ok, "subscriptions after Close are closed immediately")
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		ctx, cancel := context.WithCancel(context.Background())
		ch, _ := h.Subscribe(ctx, "room_1")
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish("room_1", answerMsg("x"))
			}
			cancel()
		}()
	}
	wg.Wait()
}
