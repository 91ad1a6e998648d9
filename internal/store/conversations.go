// ABOUTME: ConversationStore keeps conversations in memory and writes them through to a KV.
// ABOUTME: Maintains derived metadata (message count, last AI reply, title) on every change.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const titleLimit = 50

// ConversationStore is the conversation persistence layer used by the chat
// engine. All methods are safe for concurrent use and return copies.
type ConversationStore struct {
	mu     sync.Mutex
	kv     KV
	convs  map[string]*Conversation
	logger *slog.Logger
	now    func() time.Time
}

// NewConversationStore loads existing conversations from kv. A missing or
// unreadable record is logged and the store starts empty.
func NewConversationStore(ctx context.Context, kv KV, logger *slog.Logger) *ConversationStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ConversationStore{
		kv:     kv,
		convs:  make(map[string]*Conversation),
		logger: logger.With("component", "store"),
		now:    time.Now,
	}
	s.load(ctx)
	return s
}

func (s *ConversationStore) load(ctx context.Context) {
	data, err := s.kv.Get(ctx, ConversationsKey)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("failed to load conversations", "error", err)
		return
	}

	var list []*Conversation
	if err := json.Unmarshal(data, &list); err != nil {
		s.logger.Error("failed to decode conversations", "error", err)
		return
	}
	for _, c := range list {
		if c == nil || c.ID == "" {
			continue
		}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		if c.Metadata.Topics == nil {
			c.Metadata.Topics = []string{}
		}
		// stored metadata may come from an older or hand-edited record
		refreshMetadata(c)
		s.convs[c.ID] = c
	}
	s.logger.Debug("conversations loaded", "count", len(s.convs))
}

// saveLocked writes every conversation to the backend. Must hold mu.
func (s *ConversationStore) saveLocked(ctx context.Context) error {
	list := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encoding conversations: %w", ErrPersistence, err)
	}
	if err := s.kv.Set(ctx, ConversationsKey, data); err != nil {
		s.logger.Error("failed to save conversations", "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// NewConversationID returns a fresh "conv_" id.
func NewConversationID() string {
	return "conv_" + ulid.Make().String()
}

// CreateOrGet returns the conversation with id, creating it when absent.
// An empty id always creates a new conversation. The conversation is
// returned even if the backend write fails; the error reports the failure.
func (s *ConversationStore) CreateOrGet(ctx context.Context, id string) (*Conversation, error) {
	if id == "" {
		id = NewConversationID()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[id]; ok {
		return c.Clone(), nil
	}

	now := s.now()
	c := &Conversation{
		ID:        id,
		Title:     DefaultTitle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  Metadata{Topics: []string{}},
	}
	s.convs[id] = c
	s.logger.Debug("conversation created", "conversation_id", id)

	return c.Clone(), s.saveLocked(ctx)
}

// Get returns the conversation with id or ErrNotFound.
func (s *ConversationStore) Get(_ context.Context, id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// Append upserts msg by id into the conversation and refreshes metadata.
// The first user message of a conversation becomes its title.
func (s *ConversationStore) Append(ctx context.Context, conversationID string, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	replaced := false
	for i := range c.Messages {
		if c.Messages[i].ID == msg.ID {
			c.Messages[i] = msg
			replaced = true
			break
		}
	}
	if !replaced {
		c.Messages = append(c.Messages, msg)
	}

	if len(c.Messages) == 1 && msg.Sender == SenderUser {
		c.Title = titleFrom(msg.Content)
	}
	c.UpdatedAt = s.now()
	refreshMetadata(c)

	return s.saveLocked(ctx)
}

// DeleteMessage removes a message by id. Missing messages are not an error.
func (s *ConversationStore) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
	}

	kept := c.Messages[:0]
	for _, m := range c.Messages {
		if m.ID != messageID {
			kept = append(kept, m)
		}
	}
	c.Messages = kept
	c.UpdatedAt = s.now()
	refreshMetadata(c)

	return s.saveLocked(ctx)
}

// ListAll returns every conversation, most recently updated first.
func (s *ConversationStore) ListAll(_ context.Context) []*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// Delete removes a conversation. Deleting an unknown id is a no-op.
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[id]; !ok {
		return nil
	}
	delete(s.convs, id)
	return s.saveLocked(ctx)
}

// Update applies a partial update and bumps UpdatedAt.
func (s *ConversationStore) Update(ctx context.Context, id string, upd ConversationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if upd.Title != nil {
		c.Title = *upd.Title
	}
	if upd.Topics != nil {
		c.Metadata.Topics = append([]string(nil), upd.Topics...)
	}
	c.UpdatedAt = s.now()
	return s.saveLocked(ctx)
}

// Clear removes every conversation.
func (s *ConversationStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.convs = make(map[string]*Conversation)
	return s.saveLocked(ctx)
}

// Close releases the backend.
func (s *ConversationStore) Close() error {
	return s.kv.Close()
}

func refreshMetadata(c *Conversation) {
	c.Metadata.TotalMessages = len(c.Messages)
	c.Metadata.LastAIResponse = ""
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Sender == SenderAI {
			c.Metadata.LastAIResponse = c.Messages[i].Content
			break
		}
	}
}

func titleFrom(content string) string {
	r := []rune(content)
	if len(r) <= titleLimit {
		return content
	}
	return string(r[:titleLimit]) + "..."
}
