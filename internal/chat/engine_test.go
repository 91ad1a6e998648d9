// ABOUTME: Tests for session lifecycle, text turns, voice toggles and conversation switching
// ABOUTME: Runs the engine against fake transport/gateway and a real in-memory store

package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/solace/internal/store"
)

func TestStartSession_Success(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	s := h.eng.Snapshot()
	require.NotNil(t, s.Session)
	assert.True(t, s.IsConnected)
	assert.False(t, s.IsLoading)
	assert.Empty(t, s.Error)
	assert.True(t, strings.HasPrefix(s.Session.RoomID, "room_"))
	assert.True(t, strings.HasPrefix(s.Session.UserID, "user_"))
	assert.Equal(t, "inst-1", s.Session.AgentInstanceID)
	assert.True(t, s.Session.IsActive)
	assert.Equal(t, DefaultVoiceSettings(), s.Session.VoiceSettings)

	require.NotNil(t, s.Conversation)
	assert.Equal(t, s.Conversation.ID, s.Session.ConversationID)
	assert.Equal(t, s.Conversation.ID, h.eng.ActiveConversationID())

	assert.Equal(t, 1, h.tr.initCalls)
	assert.Equal(t, []string{s.Session.RoomID + "|" + s.Session.UserID}, h.tr.joins)
	assert.True(t, h.tr.attached())
	assert.Equal(t, 1, h.tr.attachCount)
}

func TestStartSession_ExistingConversationLoadsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	conv, err := h.store.CreateOrGet(ctx, "conv_prev")
	require.NoError(t, err)
	require.NoError(t, h.store.Append(ctx, conv.ID, store.Message{ID: "m1", Content: "earlier", Sender: store.SenderUser, Kind: store.KindText}))

	h.start(t, "conv_prev")

	s := h.eng.Snapshot()
	require.Len(t, s.Messages, 1)
	assert.Equal(t, "earlier", s.Messages[0].Content)

	// a replay of a stored message id is not added again
	h.tr.deliver(transcript("earlier", true, "m1"))
	assert.Len(t, h.eng.Snapshot().Messages, 1)
}

func TestStartSession_BlockedWhenConnected(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	before := h.eng.Snapshot()

	ok, err := h.eng.StartSession(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.Equal(t, before, h.eng.Snapshot())
	assert.Len(t, h.gw.started, 1)
}

func TestStartSession_JoinFailure(t *testing.T) {
	h := newHarness(t)
	h.tr.joinErr = errors.New("no room for you")

	ok, err := h.eng.StartSession(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrTransport)

	s := h.eng.Snapshot()
	assert.Equal(t, "Failed to join room", s.Error)
	assert.False(t, s.IsConnected)
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.Session)
	assert.Empty(t, h.gw.started, "gateway is not called when the room join fails")
	assert.False(t, h.tr.attached())
}

func TestStartSession_GatewayFailureLeavesRoom(t *testing.T) {
	h := newHarness(t)
	h.gw.startErr = errors.New("vendor down")

	ok, err := h.eng.StartSession(context.Background(), "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrGateway)
	assert.Equal(t, 1, h.tr.leaves)
	assert.False(t, h.eng.Snapshot().IsConnected)
}

func TestStartSession_ConversationLoadFailureStopsAgent(t *testing.T) {
	tr := &fakeTransport{}
	gw := &fakeGateway{}
	eng := New(failingStore{err: errors.New("disk gone")}, gw, tr, Options{})

	ok, err := eng.StartSession(context.Background(), "conv_x")
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConversationLoad)
	assert.Equal(t, []string{"inst-1"}, gw.stopped)
	assert.Equal(t, 1, tr.leaves)
	assert.Equal(t, "Failed to initialize conversation", eng.Snapshot().Error)
}

func TestInitializeConversation_LoadFailure(t *testing.T) {
	eng := New(failingStore{err: errors.New("disk gone")}, &fakeGateway{}, &fakeTransport{}, Options{})

	conv, err := eng.InitializeConversation(context.Background(), "conv_x")
	assert.Nil(t, conv)
	assert.ErrorIs(t, err, ErrConversationLoad)
	assert.Equal(t, "Failed to load conversation", eng.Snapshot().Error)
}

func TestInitializeConversation_PersistenceFailureStillLoads(t *testing.T) {
	h := newHarness(t)
	h.kv.FailWrites(true)

	conv, err := h.eng.InitializeConversation(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, h.eng.ActiveConversationID())
}

func TestSendTextMessage_Success(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	require.NoError(t, h.eng.SendTextMessage(context.Background(), "  I need to talk  "))

	s := h.eng.Snapshot()
	require.Len(t, s.Messages, 1)
	m := s.Messages[0]
	assert.True(t, strings.HasPrefix(m.ID, "text_"))
	assert.Equal(t, "I need to talk", m.Content)
	assert.Equal(t, store.SenderUser, m.Sender)
	assert.Equal(t, store.KindText, m.Kind)
	assert.Equal(t, StatusThinking, s.AgentStatus)
	assert.Equal(t, []string{"inst-1:I need to talk"}, h.gw.turns)

	saved, err := h.store.Get(context.Background(), s.Conversation.ID)
	require.NoError(t, err)
	assert.Len(t, saved.Messages, 1)
	assert.Equal(t, "I need to talk", saved.Title)
}

func TestSendTextMessage_WhitespaceIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	require.NoError(t, h.eng.SendTextMessage(context.Background(), "   "))

	assert.Empty(t, h.eng.Snapshot().Messages)
	assert.Equal(t, 0, h.gw.turnCount())
}

func TestSendTextMessage_NoSession(t *testing.T) {
	h := newHarness(t)

	err := h.eng.SendTextMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, "No active session", h.eng.Snapshot().Error)
	assert.Equal(t, 0, h.gw.turnCount())

	h.eng.ClearError()
	assert.Empty(t, h.eng.Snapshot().Error)
}

func TestSendTextMessage_TooLong(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	err := h.eng.SendTextMessage(context.Background(), strings.Repeat("x", MaxMessageLength+1))
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, h.eng.Snapshot().Messages)
	assert.Equal(t, 0, h.gw.turnCount())
}

func TestSendTextMessage_GatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	h.gw.sendErr = errors.New("timeout")

	err := h.eng.SendTextMessage(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrGateway)

	s := h.eng.Snapshot()
	assert.Equal(t, "Failed to send message", s.Error)
	assert.Equal(t, StatusIdle, s.AgentStatus)
	assert.Len(t, s.Messages, 1, "the user message stays visible")
}

func TestSendTextMessage_PersistenceFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	h.kv.FailWrites(true)

	require.NoError(t, h.eng.SendTextMessage(context.Background(), "hello"))
	assert.Len(t, h.eng.Snapshot().Messages, 1)
	assert.Equal(t, 1, h.gw.turnCount())
}

func TestEndSession_NoSessionIsNoop(t *testing.T) {
	h := newHarness(t)

	h.eng.EndSession(context.Background())

	assert.Empty(t, h.gw.stopped)
	assert.Equal(t, 0, h.tr.leaves)
	assert.Equal(t, InitialState(), h.eng.Snapshot())
}

func TestEndSession_TearsDown(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	require.NoError(t, h.eng.ToggleVoiceRecording(context.Background()))
	h.tr.deliver(transcript("partial", false, ""))

	h.eng.EndSession(context.Background())

	s := h.eng.Snapshot()
	assert.Nil(t, s.Session)
	assert.False(t, s.IsConnected)
	assert.False(t, s.IsRecording)
	assert.False(t, s.IsLoading)
	assert.Equal(t, StatusIdle, s.AgentStatus)
	assert.Empty(t, s.CurrentTranscript)
	assert.Empty(t, h.eng.ActiveConversationID())

	assert.Equal(t, []bool{true, false}, h.tr.mic)
	assert.Equal(t, []string{"inst-1"}, h.gw.stopped)
	assert.Equal(t, 1, h.tr.leaves)
	assert.False(t, h.tr.attached())

	// idempotent
	h.eng.EndSession(context.Background())
	assert.Equal(t, 1, h.tr.leaves)
}

func TestEndSession_RemoteFailuresStillClearState(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	h.gw.stopErr = errors.New("vendor down")
	h.tr.leaveErr = errors.New("socket gone")

	h.eng.EndSession(context.Background())

	s := h.eng.Snapshot()
	assert.Nil(t, s.Session)
	assert.False(t, s.IsConnected)
}

func TestEndSession_LateMessagesIgnored(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	stale := h.tr.lastHandler()

	h.eng.EndSession(context.Background())
	stale(answer("too late", "a9", true))

	assert.Empty(t, h.eng.Snapshot().Messages)
}

func TestToggleVoiceRecording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.eng.ToggleVoiceRecording(ctx))
	assert.Empty(t, h.tr.mic, "no-op without a connection")

	h.start(t, "")
	require.NoError(t, h.eng.ToggleVoiceRecording(ctx))
	s := h.eng.Snapshot()
	assert.True(t, s.IsRecording)
	assert.Equal(t, StatusListening, s.AgentStatus)

	require.NoError(t, h.eng.ToggleVoiceRecording(ctx))
	s = h.eng.Snapshot()
	assert.False(t, s.IsRecording)
	assert.Equal(t, StatusIdle, s.AgentStatus)
	assert.Equal(t, []bool{true, false}, h.tr.mic)
}

func TestToggleVoiceRecording_Failure(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	h.tr.micErr = errors.New("no microphone")

	err := h.eng.ToggleVoiceRecording(context.Background())
	assert.ErrorIs(t, err, ErrTransport)

	s := h.eng.Snapshot()
	assert.False(t, s.IsRecording)
	assert.Equal(t, StatusIdle, s.AgentStatus)
}

func TestToggleVoiceSettings(t *testing.T) {
	h := newHarness(t)
	h.eng.ToggleVoiceSettings()
	assert.Nil(t, h.eng.Snapshot().Session)

	h.start(t, "")
	h.eng.ToggleVoiceSettings()
	assert.False(t, h.eng.Snapshot().Session.VoiceSettings.IsEnabled)
	h.eng.ToggleVoiceSettings()
	assert.True(t, h.eng.Snapshot().Session.VoiceSettings.IsEnabled)
}

func TestResetConversation(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	require.NoError(t, h.eng.SendTextMessage(context.Background(), "hello"))

	h.eng.ResetConversation()

	s := h.eng.Snapshot()
	assert.Empty(t, s.Messages)
	assert.Nil(t, s.Conversation)
	assert.Empty(t, h.eng.ActiveConversationID())
	assert.False(t, h.tr.attached())
}

func TestSelectConversation_SwitchWhileConnected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.CreateOrGet(ctx, "conv_b")
	require.NoError(t, err)

	h.start(t, "conv_a")
	handlerA := h.tr.lastHandler()

	require.NoError(t, h.eng.SelectConversation(ctx, "conv_b"))

	s := h.eng.Snapshot()
	assert.True(t, s.IsConnected)
	assert.Equal(t, "conv_b", s.Conversation.ID)
	assert.Equal(t, "inst-2", s.Session.AgentInstanceID)
	assert.Equal(t, []string{"inst-1"}, h.gw.stopped)
	assert.Equal(t, 2, h.tr.attachCount, "one attach per conversation")

	// the first conversation's handler no longer applies anything
	handlerA(answer("stale", "a1", true))
	assert.Empty(t, h.eng.Snapshot().Messages)

	h.tr.deliver(answer("fresh", "b1", true))
	require.Len(t, h.eng.Snapshot().Messages, 1)
	assert.Equal(t, "fresh", h.eng.Snapshot().Messages[0].Content)

	stored, err := h.store.Get(ctx, "conv_a")
	require.NoError(t, err)
	assert.Empty(t, stored.Messages)
}

func TestSelectConversation_EmptyResets(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	require.NoError(t, h.eng.SelectConversation(context.Background(), ""))

	s := h.eng.Snapshot()
	assert.False(t, s.IsConnected)
	assert.Nil(t, s.Conversation)
	assert.False(t, h.tr.attached())
}

func TestSelectConversation_SameIsNoop(t *testing.T) {
	h := newHarness(t)
	h.start(t, "conv_a")

	require.NoError(t, h.eng.SelectConversation(context.Background(), "conv_a"))
	assert.Empty(t, h.gw.stopped)
}

func TestSelectConversation_DisconnectedLoadsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, _ = h.store.CreateOrGet(ctx, "conv_b")
	require.NoError(t, h.store.Append(ctx, "conv_b", store.Message{ID: "m1", Content: "hi", Sender: store.SenderUser}))

	require.NoError(t, h.eng.SelectConversation(ctx, "conv_b"))

	s := h.eng.Snapshot()
	assert.False(t, s.IsConnected)
	assert.Len(t, s.Messages, 1)
	assert.Empty(t, h.gw.started)
}

func TestSelectConversation_ConcurrentSwitchDropped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.start(t, "conv_a")

	gate := make(chan struct{})
	h.gw.mu.Lock()
	h.gw.startGate = gate
	h.gw.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, h.eng.SelectConversation(ctx, "conv_b"))
	}()

	require.Eventually(t, func() bool { return h.eng.switching.Load() }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.eng.SelectConversation(ctx, "conv_c"), ErrSwitchInProgress)

	close(gate)
	wg.Wait()

	assert.Equal(t, "conv_b", h.eng.ActiveConversationID())
	assert.Equal(t, 2, h.tr.attachCount)
}

func TestClose_EndsLiveSession(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")

	h.eng.Close(context.Background())

	assert.False(t, h.eng.Snapshot().IsConnected)
	assert.Equal(t, []string{"inst-1"}, h.gw.stopped)
	assert.False(t, h.tr.attached())
}

func TestOnChange_ReceivesCopies(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	eng := New(store.NewConversationStore(context.Background(), store.NewMemoryKV(), nil),
		&fakeGateway{}, &fakeTransport{}, Options{
			OnChange: func(s State) {
				mu.Lock()
				seen = append(seen, s)
				mu.Unlock()
			},
		})

	ok, err := eng.StartSession(context.Background(), "")
	require.NoError(t, err)
	require.True(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0].IsLoading)
	last := seen[len(seen)-1]
	assert.True(t, last.IsConnected)
	assert.False(t, last.IsLoading)
}

func TestSendTextMessage_SessionEndedMidSendIsDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	ctx := context.Background()

	// end the session after the send has read it but before it appends
	next := h.eng.opts.NewID
	var once sync.Once
	h.eng.opts.NewID = func(prefix string) string {
		if prefix == "text" {
			once.Do(func() { h.eng.EndSession(ctx) })
		}
		return next(prefix)
	}

	err := h.eng.SendTextMessage(ctx, "hello")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	s := h.eng.Snapshot()
	assert.Nil(t, s.Session)
	assert.False(t, s.IsConnected)
	assert.Equal(t, StatusIdle, s.AgentStatus)
	assert.Empty(t, s.Messages)
	assert.Equal(t, 0, h.gw.turnCount())
	assert.Equal(t, []string{"inst-1"}, h.gw.stopped)
}

func TestSendTextMessage_SwitchMidSendIsDropped(t *testing.T) {
	h := newHarness(t)
	h.start(t, "conv_a")
	ctx := context.Background()

	next := h.eng.opts.NewID
	var once sync.Once
	h.eng.opts.NewID = func(prefix string) string {
		if prefix == "text" {
			once.Do(func() { require.NoError(t, h.eng.SelectConversation(ctx, "conv_b")) })
		}
		return next(prefix)
	}

	err := h.eng.SendTextMessage(ctx, "hello")
	assert.ErrorIs(t, err, ErrNoActiveSession)
	assert.Equal(t, "conv_b", h.eng.ActiveConversationID())
	assert.Empty(t, h.eng.Snapshot().Messages)
	assert.Equal(t, 0, h.gw.turnCount())

	convA, err := h.store.Get(ctx, "conv_a")
	require.NoError(t, err)
	assert.Empty(t, convA.Messages)
}

func TestConversationSnapshotFollowsStore(t *testing.T) {
	h := newHarness(t)
	h.start(t, "")
	ctx := context.Background()

	require.NoError(t, h.eng.SendTextMessage(ctx, "I keep waking up at night"))
	h.tr.deliver(answer("That sounds ", "a1", false))
	h.tr.deliver(answer("exhausting.", "a1", true))

	conv := h.eng.Snapshot().Conversation
	require.NotNil(t, conv)
	assert.Equal(t, "I keep waking up at night", conv.Title)
	assert.Equal(t, 2, conv.Metadata.TotalMessages)
	assert.Equal(t, "That sounds exhausting.", conv.Metadata.LastAIResponse)

	saved, err := h.store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Metadata, conv.Metadata)
}

// seedLingeringSession leaves a session marked active without a connection,
// the state StartSession tears down before connecting again.
func seedLingeringSession(h *harness, instanceID string) {
	h.eng.update(func() {
		h.eng.apply(SetSession{Session: &Session{
			RoomID:          "room_old",
			UserID:          "user_old",
			AgentInstanceID: instanceID,
			IsActive:        true,
		}})
	})
}

func TestStartSession_EndsLingeringSessionAndSettles(t *testing.T) {
	h := newHarness(t)
	h.eng.opts.SettleDelay = 50 * time.Millisecond
	seedLingeringSession(h, "inst-old")

	began := time.Now()
	h.start(t, "")
	elapsed := time.Since(began)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Equal(t, []string{"inst-old"}, h.gw.stopped)
	assert.Equal(t, 1, h.tr.leaves)

	s := h.eng.Snapshot()
	require.NotNil(t, s.Session)
	assert.Equal(t, "inst-1", s.Session.AgentInstanceID)
	assert.True(t, s.IsConnected)
	assert.False(t, s.IsLoading)
}

func TestStartSession_SettleDelayCanceled(t *testing.T) {
	h := newHarness(t)
	h.eng.opts.SettleDelay = time.Hour
	seedLingeringSession(h, "inst-old")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	ok, err := h.eng.StartSession(ctx, "")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	s := h.eng.Snapshot()
	assert.Nil(t, s.Session)
	assert.False(t, s.IsConnected)
	assert.False(t, s.IsLoading)
	assert.Equal(t, "Failed to start session", s.Error)
	assert.Equal(t, []string{"inst-old"}, h.gw.stopped)
	assert.Empty(t, h.gw.started)
}
