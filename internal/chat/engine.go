// ABOUTME: Session reconciliation engine tying the store, agent gateway and room transport together
// ABOUTME: Owns session lifecycle, message dedup, and the single room message handler

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/2389/solace/internal/dedupe"
	"github.com/2389/solace/internal/rtc"
	"github.com/2389/solace/internal/store"
)

const (
	// DefaultSettleDelay is how long StartSession waits after tearing down a
	// still-active session before creating a new one.
	DefaultSettleDelay = time.Second

	// MaxMessageLength is the longest text turn accepted, in runes.
	MaxMessageLength = 1000

	teardownTimeout = 10 * time.Second
)

// ConversationStore persists conversations.
type ConversationStore interface {
	CreateOrGet(ctx context.Context, id string) (*store.Conversation, error)
	Get(ctx context.Context, id string) (*store.Conversation, error)
	Append(ctx context.Context, conversationID string, msg store.Message) error
}

// AgentGateway starts, drives and stops remote agent instances.
type AgentGateway interface {
	StartRemoteSession(ctx context.Context, roomID, userID string) (string, error)
	SendTurn(ctx context.Context, instanceID, text string) error
	StopRemoteSession(ctx context.Context, instanceID string) error
}

// Options tune an Engine. The zero value is usable.
type Options struct {
	// SettleDelay is waited after ending a still-active session inside
	// StartSession. Zero means no wait.
	SettleDelay time.Duration
	Logger      *slog.Logger
	// OnChange observes every state change. It must not call back into
	// mutating Engine methods.
	OnChange func(State)
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func(prefix string) string
}

// Engine reconciles local chat state with a remote agent session. All
// methods are safe for concurrent use.
type Engine struct {
	store     ConversationStore
	gateway   AgentGateway
	transport rtc.Transport
	opts      Options
	logger    *slog.Logger

	// mu guards everything below it
	mu              sync.Mutex
	state           State
	dirty           bool
	processed       *dedupe.Cache
	streaming       map[string]string
	handlerAttached bool
	handlerGen      uint64
	activeConvID    string

	notifyMu sync.Mutex

	// lifecycle serializes start, end, reset, switch and close
	lifecycle sync.Mutex
	switching atomic.Bool
}

// New creates an engine.
func New(st ConversationStore, gw AgentGateway, tr rtc.Transport, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func(prefix string) string { return prefix + "_" + ulid.Make().String() }
	}
	return &Engine{
		store:     st,
		gateway:   gw,
		transport: tr,
		opts:      opts,
		logger:    opts.Logger.With("component", "chat"),
		state:     InitialState(),
		processed: dedupe.NewSet(),
		streaming: make(map[string]string),
	}
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// ActiveConversationID is the conversation room messages are applied to, or "".
func (e *Engine) ActiveConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeConvID
}

// update runs fn with mu held, then notifies the observer if fn applied
// any action. Notifications are delivered in order.
func (e *Engine) update(fn func()) {
	e.mu.Lock()
	fn()
	changed := e.dirty
	e.dirty = false
	var snap State
	if changed && e.opts.OnChange != nil {
		snap = e.state.Clone()
	}
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()

	if changed && e.opts.OnChange != nil {
		e.opts.OnChange(snap)
	}
}

// apply reduces one action into the state. Must hold mu.
func (e *Engine) apply(actions ...Action) {
	for _, a := range actions {
		e.state = Reduce(e.state, a)
	}
	e.dirty = true
}

func (e *Engine) dispatch(actions ...Action) {
	e.update(func() { e.apply(actions...) })
}

// addMessageLocked adds msg unless its id was already processed.
// Must hold mu.
func (e *Engine) addMessageLocked(msg store.Message) bool {
	if e.processed.CheckAndMark(msg.ID) {
		e.logger.Debug("skipping duplicate message", "message_id", msg.ID)
		return false
	}
	e.apply(AddMessage{Message: msg})
	return true
}

// persist writes msg to the store and refreshes the conversation snapshot
// (title, metadata) if it is still the active one. Failures are logged only.
func (e *Engine) persist(ctx context.Context, conversationID string, msg store.Message) {
	if err := e.store.Append(ctx, conversationID, msg); err != nil {
		e.logger.Warn("failed to save message",
			"conversation_id", conversationID,
			"message_id", msg.ID,
			"error", fmt.Errorf("%w: %w", ErrPersistence, err))
		return
	}

	conv, err := e.store.Get(ctx, conversationID)
	if err != nil {
		e.logger.Debug("conversation gone after save", "conversation_id", conversationID, "error", err)
		return
	}
	e.update(func() {
		if e.activeConvID == conversationID && e.state.Conversation != nil {
			e.apply(SetConversation{Conversation: conv})
		}
	})
}

// InitializeConversation loads (or creates, for an empty or unknown id) a
// conversation and makes it the active one.
func (e *Engine) InitializeConversation(ctx context.Context, conversationID string) (*store.Conversation, error) {
	conv, err := e.store.CreateOrGet(ctx, conversationID)
	if err != nil && (conv == nil || !errors.Is(err, store.ErrPersistence)) {
		e.logger.Error("failed to initialize conversation", "conversation_id", conversationID, "error", err)
		e.dispatch(SetError{Error: msgLoadFailed})
		return nil, fmt.Errorf("%w: %w", ErrConversationLoad, err)
	}
	if err != nil {
		e.logger.Warn("conversation created but not saved",
			"conversation_id", conv.ID,
			"error", fmt.Errorf("%w: %w", ErrPersistence, err))
	}

	ids := make([]string, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		ids = append(ids, m.ID)
	}

	e.update(func() {
		e.apply(SetConversation{Conversation: conv}, SetMessages{Messages: conv.Messages})
		e.processed.Reset()
		clear(e.streaming)
		e.processed.MarkAll(ids)
		e.apply(SetError{Error: ""})
		e.activeConvID = conv.ID
	})

	e.logger.Debug("conversation initialized", "conversation_id", conv.ID, "messages", len(conv.Messages))
	return conv.Clone(), nil
}

// StartSession connects to a new room with a fresh agent instance, attached
// to existingConversationID or to a new conversation when it is empty. It
// returns false with ErrSessionBusy while a session is loading or connected.
func (e *Engine) StartSession(ctx context.Context, existingConversationID string) (bool, error) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	return e.startSession(ctx, existingConversationID)
}

func (e *Engine) startSession(ctx context.Context, existingConversationID string) (bool, error) {
	var busy, prevActive bool
	e.update(func() {
		if e.state.IsLoading || e.state.IsConnected {
			busy = true
			return
		}
		prevActive = e.state.Session != nil && e.state.Session.IsActive
		e.apply(SetLoading{Loading: true}, SetError{Error: ""})
	})
	if busy {
		e.logger.Info("session start blocked, already loading or connected")
		return false, ErrSessionBusy
	}
	defer e.dispatch(SetLoading{Loading: false})

	if prevActive {
		e.logger.Info("ending existing session before starting a new one")
		e.endSession(ctx)
		e.dispatch(SetLoading{Loading: true})
		if e.opts.SettleDelay > 0 {
			select {
			case <-time.After(e.opts.SettleDelay):
			case <-ctx.Done():
				return e.failStart("Failed to start session", ctx.Err())
			}
		}
	}

	roomID := e.opts.NewID("room")
	userID := e.opts.NewID("user")

	if err := e.transport.Initialize(ctx); err != nil {
		return e.failStart("Failed to initialize transport", fmt.Errorf("%w: initializing: %w", ErrTransport, err))
	}

	e.logger.Info("joining room", "room_id", roomID, "user_id", userID)
	if err := e.transport.JoinRoom(ctx, roomID, userID); err != nil {
		return e.failStart("Failed to join room", fmt.Errorf("%w: joining room: %w", ErrTransport, err))
	}

	instanceID, err := e.gateway.StartRemoteSession(ctx, roomID, userID)
	if err != nil {
		e.rollback(ctx, "")
		return e.failStart("Failed to start session", fmt.Errorf("%w: starting agent: %w", ErrGateway, err))
	}

	conv, err := e.InitializeConversation(ctx, existingConversationID)
	if err != nil {
		e.rollback(ctx, instanceID)
		return e.failStart("Failed to initialize conversation", err)
	}

	session := &Session{
		RoomID:          roomID,
		UserID:          userID,
		AgentInstanceID: instanceID,
		IsActive:        true,
		ConversationID:  conv.ID,
		VoiceSettings:   DefaultVoiceSettings(),
	}
	e.update(func() {
		e.apply(SetSession{Session: session}, SetConnected{Connected: true})
		e.attachHandlerLocked(conv.ID)
	})

	e.logger.Info("session started",
		"room_id", roomID,
		"agent_instance_id", instanceID,
		"conversation_id", conv.ID)
	return true, nil
}

func (e *Engine) failStart(userMsg string, err error) (bool, error) {
	e.logger.Error("failed to start session", "error", err)
	e.dispatch(SetError{Error: userMsg}, SetConnected{Connected: false})
	return false, err
}

// rollback releases what a failed start acquired. Failures are logged.
func (e *Engine) rollback(ctx context.Context, instanceID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if instanceID != "" {
		if err := e.gateway.StopRemoteSession(ctx, instanceID); err != nil {
			e.logger.Warn("rollback: stopping agent failed", "agent_instance_id", instanceID, "error", err)
		}
	}
	if err := e.transport.LeaveRoom(ctx); err != nil {
		e.logger.Warn("rollback: leaving room failed", "error", err)
	}
}

// attachHandlerLocked registers the room message handler for conversationID.
// A second attach while one is attached is a no-op. Must hold mu.
func (e *Engine) attachHandlerLocked(conversationID string) {
	if e.handlerAttached {
		e.logger.Debug("message handler already attached")
		return
	}
	e.handlerAttached = true
	e.handlerGen++
	gen := e.handlerGen

	e.transport.OnRoomMessage(func(msg rtc.RoomMessage) {
		e.handleRoomMessage(gen, conversationID, msg)
	})
	e.logger.Debug("message handler attached", "conversation_id", conversationID)
}

// cleanupLocked detaches the handler and forgets per-conversation
// bookkeeping. Idempotent. Must hold mu.
func (e *Engine) cleanupLocked() {
	e.transport.OnRoomMessage(nil)
	e.handlerGen++
	e.handlerAttached = false
	e.processed.Reset()
	clear(e.streaming)
}

// SendTextMessage appends a user text message and forwards it to the agent.
// Whitespace-only content is ignored.
func (e *Engine) SendTextMessage(ctx context.Context, content string) error {
	e.mu.Lock()
	sess := e.state.Session
	conv := e.state.Conversation
	e.mu.Unlock()

	if sess == nil || sess.AgentInstanceID == "" || conv == nil {
		e.dispatch(SetError{Error: msgNoActiveSession})
		return ErrNoActiveSession
	}

	text := strings.TrimSpace(content)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		e.dispatch(SetError{Error: msgTooLong})
		return fmt.Errorf("%w: message exceeds %d characters", ErrValidation, MaxMessageLength)
	}

	msg := store.Message{
		ID:        e.opts.NewID("text"),
		Content:   text,
		Sender:    store.SenderUser,
		Timestamp: e.opts.Now(),
		Kind:      store.KindText,
	}

	var added, stale bool
	e.update(func() {
		// the session may have ended or switched since it was read above
		if !sameSession(e.state.Session, sess) || e.activeConvID != conv.ID {
			stale = true
			return
		}
		added = e.addMessageLocked(msg)
		e.apply(SetAgentStatus{Status: StatusThinking})
	})
	if stale {
		e.logger.Info("session changed before message was sent", "agent_instance_id", sess.AgentInstanceID)
		return ErrNoActiveSession
	}
	if added {
		e.persist(ctx, conv.ID, msg)
	}

	if err := e.gateway.SendTurn(ctx, sess.AgentInstanceID, text); err != nil {
		e.logger.Error("failed to send message", "agent_instance_id", sess.AgentInstanceID, "error", err)
		e.update(func() {
			if !sameSession(e.state.Session, sess) {
				return
			}
			e.apply(SetError{Error: msgSendFailed}, SetAgentStatus{Status: StatusIdle})
		})
		return fmt.Errorf("%w: %w", ErrGateway, err)
	}
	return nil
}

// ToggleVoiceRecording flips the microphone. Without a connection it does nothing.
func (e *Engine) ToggleVoiceRecording(ctx context.Context) error {
	e.mu.Lock()
	connected := e.state.IsConnected
	recording := e.state.IsRecording
	sess := e.state.Session
	e.mu.Unlock()

	if !connected {
		return nil
	}

	err := e.transport.EnableMicrophone(ctx, !recording)
	e.update(func() {
		if !sameSession(e.state.Session, sess) {
			e.logger.Debug("session changed while toggling microphone")
			return
		}
		switch {
		case err != nil || recording:
			e.apply(SetRecording{Recording: false}, SetAgentStatus{Status: StatusIdle})
		default:
			e.apply(SetRecording{Recording: true}, SetAgentStatus{Status: StatusListening})
		}
	})
	if err != nil {
		e.logger.Error("failed to toggle recording", "error", err)
		return fmt.Errorf("%w: toggling microphone: %w", ErrTransport, err)
	}
	return nil
}

func sameSession(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.RoomID == b.RoomID && a.AgentInstanceID == b.AgentInstanceID
}

// ToggleVoiceSettings flips voice output for the current session.
func (e *Engine) ToggleVoiceSettings() {
	e.update(func() {
		if e.state.Session == nil {
			return
		}
		next := *e.state.Session
		next.VoiceSettings.IsEnabled = !next.VoiceSettings.IsEnabled
		e.apply(SetSession{Session: &next})
	})
}

// EndSession tears down the current session. Without one it does nothing.
// Remote and transport failures are logged; local state is always cleared.
func (e *Engine) EndSession(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.endSession(ctx)
}

func (e *Engine) endSession(ctx context.Context) {
	e.mu.Lock()
	sess := e.state.Session
	connected := e.state.IsConnected
	recording := e.state.IsRecording
	e.mu.Unlock()

	if sess == nil && !connected {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	e.dispatch(SetLoading{Loading: true})
	defer e.dispatch(SetLoading{Loading: false})

	if recording {
		if err := e.transport.EnableMicrophone(ctx, false); err != nil {
			e.logger.Warn("disabling microphone failed", "error", err)
		}
		e.dispatch(SetRecording{Recording: false})
	}

	if sess != nil && sess.AgentInstanceID != "" {
		if err := e.gateway.StopRemoteSession(ctx, sess.AgentInstanceID); err != nil {
			e.logger.Warn("stopping agent failed", "agent_instance_id", sess.AgentInstanceID, "error", err)
		}
	}

	if err := e.transport.LeaveRoom(ctx); err != nil {
		e.logger.Warn("leaving room failed", "error", err)
	}

	e.update(func() {
		e.cleanupLocked()
		e.apply(
			SetSession{Session: nil},
			SetConnected{Connected: false},
			SetAgentStatus{Status: StatusIdle},
			SetTranscript{Transcript: ""},
			SetError{Error: ""},
		)
		e.activeConvID = ""
	})

	e.logger.Info("session ended")
}

// ResetConversation clears all chat state except IsLoading.
func (e *Engine) ResetConversation() {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()
	e.resetConversation()
}

func (e *Engine) resetConversation() {
	e.update(func() {
		e.cleanupLocked()
		e.apply(ResetChat{})
		e.activeConvID = ""
	})
}

// SelectConversation makes conversationID the conversation on screen. While
// connected, the session is restarted on it (or the chat is reset for an
// empty id); otherwise the conversation is just loaded. A switch requested
// while another is running is dropped with ErrSwitchInProgress.
func (e *Engine) SelectConversation(ctx context.Context, conversationID string) error {
	if !e.switching.CompareAndSwap(false, true) {
		e.logger.Info("conversation switch already in progress, ignoring", "conversation_id", conversationID)
		return ErrSwitchInProgress
	}
	defer e.switching.Store(false)

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	active := e.activeConvID
	connected := e.state.IsConnected
	e.mu.Unlock()

	if conversationID != "" && conversationID == active {
		return nil
	}

	if !connected {
		if conversationID == "" {
			e.resetConversation()
			return nil
		}
		_, err := e.InitializeConversation(ctx, conversationID)
		return err
	}

	e.logger.Info("switching conversation", "from", active, "to", conversationID)
	e.endSession(ctx)
	if conversationID == "" {
		e.resetConversation()
		return nil
	}
	if _, err := e.startSession(ctx, conversationID); err != nil {
		return err
	}
	return nil
}

// ClearError clears the user-facing error.
func (e *Engine) ClearError() {
	e.dispatch(SetError{Error: ""})
}

// Close ends any live session and detaches from the transport.
func (e *Engine) Close(ctx context.Context) {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	live := (e.state.Session != nil && e.state.Session.IsActive) || e.state.IsConnected
	e.mu.Unlock()

	if live {
		e.endSession(ctx)
	}
	e.update(e.cleanupLocked)
}
