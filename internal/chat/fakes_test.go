// ABOUTME: In-memory fakes for the transport and agent gateway used by engine tests
// ABOUTME: Record every call and allow errors and blocking to be injected

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/solace/internal/rtc"
	"github.com/2389/solace/internal/store"
)

type fakeTransport struct {
	mu          sync.Mutex
	initCalls   int
	joins       []string
	leaves      int
	mic         []bool
	handler     rtc.Handler
	attachCount int
	handlers    []rtc.Handler

	initErr  error
	joinErr  error
	leaveErr error
	micErr   error
}

func (f *fakeTransport) Initialize(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeTransport) JoinRoom(_ context.Context, roomID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.joinErr != nil {
		return f.joinErr
	}
	f.joins = append(f.joins, roomID+"|"+userID)
	return nil
}

func (f *fakeTransport) LeaveRoom(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaves++
	return f.leaveErr
}

func (f *fakeTransport) EnableMicrophone(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micErr != nil {
		return f.micErr
	}
	f.mic = append(f.mic, enabled)
	return nil
}

func (f *fakeTransport) OnRoomMessage(h rtc.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	if h != nil {
		f.attachCount++
		f.handlers = append(f.handlers, h)
	}
}

// deliver hands msg to the currently registered handler, if any.
func (f *fakeTransport) deliver(msg rtc.RoomMessage) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(msg)
	}
}

func (f *fakeTransport) attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

func (f *fakeTransport) lastHandler() rtc.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.handlers) == 0 {
		return nil
	}
	return f.handlers[len(f.handlers)-1]
}

type fakeGateway struct {
	mu        sync.Mutex
	started   []string
	stopped   []string
	turns     []string
	next      int
	startErr  error
	sendErr   error
	stopErr   error
	startGate chan struct{}
}

func (g *fakeGateway) StartRemoteSession(ctx context.Context, roomID, userID string) (string, error) {
	g.mu.Lock()
	gate := g.startGate
	g.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startErr != nil {
		return "", g.startErr
	}
	g.next++
	id := fmt.Sprintf("inst-%d", g.next)
	g.started = append(g.started, id)
	return id, nil
}

func (g *fakeGateway) SendTurn(_ context.Context, instanceID, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.turns = append(g.turns, instanceID+":"+text)
	return nil
}

func (g *fakeGateway) StopRemoteSession(_ context.Context, instanceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = append(g.stopped, instanceID)
	return g.stopErr
}

func (g *fakeGateway) turnCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.turns)
}

type failingStore struct{ err error }

func (f failingStore) CreateOrGet(context.Context, string) (*store.Conversation, error) {
	return nil, f.err
}

func (f failingStore) Get(context.Context, string) (*store.Conversation, error) {
	return nil, f.err
}

func (f failingStore) Append(context.Context, string, store.Message) error { return f.err }

type harness struct {
	eng   *Engine
	tr    *fakeTransport
	gw    *fakeGateway
	store *store.ConversationStore
	kv    *store.MemoryKV
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	kv := store.NewMemoryKV()
	st := store.NewConversationStore(context.Background(), kv, nil)
	tr := &fakeTransport{}
	gw := &fakeGateway{}

	var mu sync.Mutex
	seq := 0
	eng := New(st, gw, tr, Options{
		Now: func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func(prefix string) string {
			mu.Lock()
			defer mu.Unlock()
			seq++
			return fmt.Sprintf("%s_%d", prefix, seq)
		},
	})
	return &harness{eng: eng, tr: tr, gw: gw, store: st, kv: kv}
}

func (h *harness) start(t *testing.T, conversationID string) {
	t.Helper()
	ok, err := h.eng.StartSession(context.Background(), conversationID)
	require.NoError(t, err)
	require.True(t, ok)
}

func transcript(text string, end bool, id string) rtc.RoomMessage {
	return rtc.NewTranscriptMessage(rtc.TranscriptData{Text: text, EndFlag: end, MessageID: id})
}

func answer(text, id string, end bool) rtc.RoomMessage {
	return rtc.NewAnswerMessage(rtc.AnswerData{Text: text, MessageID: id, EndFlag: end})
}

func rawMessage(cmd int, data string) rtc.RoomMessage {
	return rtc.RoomMessage{Cmd: cmd, Data: json.RawMessage(data)}
}
