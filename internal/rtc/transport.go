// ABOUTME: Realtime transport contract and its websocket implementation
// ABOUTME: Joins a relay room, streams inbound room messages to a single registered handler

package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotInitialized is returned when joining before Initialize.
	ErrNotInitialized = errors.New("transport not initialized")
	// ErrNotInRoom is returned by room operations with no joined room.
	ErrNotInRoom = errors.New("not in a room")
)

// Handler receives inbound room messages.
type Handler func(RoomMessage)

// Transport is the realtime room connection used by the chat engine.
// OnRoomMessage holds a single handler; registering replaces the previous
// one and nil detaches.
type Transport interface {
	Initialize(ctx context.Context) error
	JoinRoom(ctx context.Context, roomID, userID string) error
	LeaveRoom(ctx context.Context) error
	EnableMicrophone(ctx context.Context, enabled bool) error
	OnRoomMessage(h Handler)
}

// TokenSource mints room-join tokens.
type TokenSource interface {
	Token(ctx context.Context, userID, roomID string) (string, error)
}

// WSTransport joins rooms on the gateway's websocket relay.
type WSTransport struct {
	baseURL string
	tokens  TokenSource
	dialer  *websocket.Dialer
	logger  *slog.Logger

	mu          sync.Mutex
	initialized bool
	roomID      string
	userID      string
	conn        *websocket.Conn
	readDone    chan struct{}
	handler     Handler

	writeMu sync.Mutex
}

// NewWSTransport creates a transport for the gateway at baseURL (http or https).
func NewWSTransport(baseURL string, tokens TokenSource, logger *slog.Logger) *WSTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		tokens:  tokens,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logger.With("component", "rtc"),
	}
}

// Initialize validates the relay address. Calling it again is a no-op.
func (t *WSTransport) Initialize(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.initialized {
		return nil
	}
	if _, err := t.wsURL("room", "user"); err != nil {
		return err
	}
	t.initialized = true
	t.logger.Debug("transport initialized", "base_url", t.baseURL)
	return nil
}

func (t *WSTransport) wsURL(roomID, userID string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing relay url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("relay url must be http(s) or ws(s), got %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/api/rooms/" + url.PathEscape(roomID) + "/ws"
	u.RawQuery = url.Values{"user_id": {userID}}.Encode()
	return u.String(), nil
}

// JoinRoom connects to roomID as userID. Joining the current room again is a
// no-op; joining a different room leaves the current one first.
func (t *WSTransport) JoinRoom(ctx context.Context, roomID, userID string) error {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return ErrNotInitialized
	}
	if t.conn != nil && t.roomID == roomID && t.userID == userID {
		t.mu.Unlock()
		return nil
	}
	inRoom := t.conn != nil
	t.mu.Unlock()

	if inRoom {
		if err := t.LeaveRoom(ctx); err != nil {
			t.logger.Warn("leaving previous room failed", "error", err)
		}
	}

	token, err := t.tokens.Token(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("fetching room token: %w", err)
	}

	target, err := t.wsURL(roomID, userID)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := t.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("joining room %s: %w (status %d)", roomID, err, resp.StatusCode)
		}
		return fmt.Errorf("joining room %s: %w", roomID, err)
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.conn = conn
	t.roomID = roomID
	t.userID = userID
	t.readDone = done
	t.mu.Unlock()

	go t.readLoop(conn, done)

	t.logger.Info("joined room", "room_id", roomID, "user_id", userID)
	return nil
}

func (t *WSTransport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Debug("room read ended", "error", err)
			}
			return
		}

		var msg RoomMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.logger.Warn("failed to parse room message", "error", err)
			continue
		}

		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}

// LeaveRoom disconnects from the current room. Without a room it is a no-op.
// The room is always forgotten, even when closing the connection fails.
func (t *WSTransport) LeaveRoom(_ context.Context) error {
	t.mu.Lock()
	conn, done, roomID := t.conn, t.readDone, t.roomID
	t.conn, t.readDone, t.roomID, t.userID = nil, nil, "", ""
	t.mu.Unlock()

	if conn == nil {
		return nil
	}

	t.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "leaving"),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	err := conn.Close()
	<-done

	t.logger.Info("left room", "room_id", roomID)
	if err != nil {
		return fmt.Errorf("closing room connection: %w", err)
	}
	return nil
}

// EnableMicrophone reports the local microphone state to the room.
func (t *WSTransport) EnableMicrophone(_ context.Context, enabled bool) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotInRoom
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.WriteJSON(ControlFrame{Type: ControlMicrophone, Enabled: enabled}); err != nil {
		return fmt.Errorf("updating microphone: %w", err)
	}
	t.logger.Debug("microphone toggled", "enabled", enabled)
	return nil
}

// OnRoomMessage replaces the room message handler. nil detaches it.
func (t *WSTransport) OnRoomMessage(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// RoomID returns the joined room, or "".
func (t *WSTransport) RoomID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.roomID
}
