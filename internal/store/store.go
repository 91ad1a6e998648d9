// ABOUTME: Conversation and message records plus the key-value backend contract.
// ABOUTME: Records are serialized as a single JSON array under ConversationsKey.

package store

import (
	"context"
	"errors"
	"time"
)

// ConversationsKey is the backend key holding every conversation.
const ConversationsKey = "ai_conversations"

// DefaultTitle is given to conversations before their first user message.
const DefaultTitle = "New Conversation"

// ErrNotFound is returned when a requested conversation does not exist.
var ErrNotFound = errors.New("not found")

// ErrPersistence is returned when the backend rejects a write. The in-memory
// copy keeps the change.
var ErrPersistence = errors.New("persistence failed")

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Kind is how a message entered the conversation.
type Kind string

const (
	KindText  Kind = "text"
	KindVoice Kind = "voice"
)

// Message is a single utterance in a conversation.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Sender      Sender    `json:"sender"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        Kind      `json:"type"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
	Transcript  string    `json:"transcript,omitempty"`
}

// Metadata is derived from a conversation's messages.
type Metadata struct {
	TotalMessages  int      `json:"totalMessages"`
	LastAIResponse string   `json:"lastAIResponse"`
	Topics         []string `json:"topics"`
}

// Conversation is a persisted chat history.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Metadata  Metadata  `json:"metadata"`
}

// Clone returns a deep copy.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	out.Metadata.Topics = append([]string(nil), c.Metadata.Topics...)
	return &out
}

// ConversationUpdate is a partial update. Nil fields are left unchanged.
type ConversationUpdate struct {
	Title  *string
	Topics []string
}

// KV is the storage backend behind a ConversationStore.
// Get returns ErrNotFound for a missing key.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}
