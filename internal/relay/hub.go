// ABOUTME: In-memory fan-out of room messages to websocket members
// ABOUTME: Publishes transcript and answer messages to every subscriber of a room

package relay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/solace/internal/rtc"
)

const (
	// subscriberBufferSize is the channel buffer for each room member.
	subscriberBufferSize = 64
)

// Hub provides in-memory pub/sub of room messages keyed by room id.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan rtc.RoomMessage // roomID -> subID -> ch
	evicted     map[string]struct{}
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan rtc.RoomMessage),
		evicted:     make(map[string]struct{}),
		logger:      logger.With("component", "relay"),
	}
}

// Subscribe registers a member of roomID. The returned channel is closed when
// the subscription ends, which happens automatically when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, roomID string) (<-chan rtc.RoomMessage, string) {
	subID := uuid.New().String()
	ch := make(chan rtc.RoomMessage, subscriberBufferSize)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := h.subscribers[roomID]; !ok {
		h.subscribers[roomID] = make(map[string]chan rtc.RoomMessage)
	}
	h.subscribers[roomID][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("room member joined", "room_id", roomID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		h.Unsubscribe(roomID, subID)
	}()

	return ch, subID
}

// Publish delivers msg to every member of roomID and returns how many
// received it. A member whose buffer is full is evicted: its channel is
// closed so it sees the end of the stream instead of a gap in it.
func (h *Hub) Publish(roomID string, msg rtc.RoomMessage) int {
	// Sends happen under the lock so Unsubscribe cannot close a channel mid-send.
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[roomID]
	delivered := 0
	for subID, ch := range subs {
		select {
		case ch <- msg:
			delivered++
		default:
			h.logger.Warn("evicting slow room member",
				"room_id", roomID,
				"sub_id", subID,
				"cmd", msg.Cmd)
			delete(subs, subID)
			close(ch)
			h.evicted[subID] = struct{}{}
		}
	}
	if len(subs) == 0 {
		delete(h.subscribers, roomID)
	}
	return delivered
}

// Evicted reports whether subID was dropped by Publish for falling behind.
// The mark is cleared once the subscription is unsubscribed.
func (h *Hub) Evicted(subID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.evicted[subID]
	return ok
}

// Members returns the number of subscribers of roomID.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[roomID])
}

// Rooms returns the number of rooms with at least one member.
func (h *Hub) Rooms() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(roomID, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.evicted, subID)
	subs, ok := h.subscribers[roomID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, roomID)
	}

	h.logger.Debug("room member left", "room_id", roomID, "sub_id", subID)
}

// Close ends every subscription. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, roomID)
	}
	clear(h.evicted)
	h.closed = true

	h.logger.Debug("relay closed")
}
