// ABOUTME: Chat session state and the pure reducer that is its only mutation path
// ABOUTME: Every state change is expressed as one of a closed set of actions

package chat

import (
	"github.com/2389/solace/internal/store"
)

// AgentStatus is what the remote agent appears to be doing.
type AgentStatus string

const (
	StatusIdle      AgentStatus = "idle"
	StatusListening AgentStatus = "listening"
	StatusThinking  AgentStatus = "thinking"
	StatusSpeaking  AgentStatus = "speaking"
)

// VoiceSettings are per-session playback preferences.
type VoiceSettings struct {
	IsEnabled      bool    `json:"isEnabled"`
	AutoPlay       bool    `json:"autoPlay"`
	SpeechRate     float64 `json:"speechRate"`
	SpeechPitch    float64 `json:"speechPitch"`
	PreferredVoice string  `json:"preferredVoice,omitempty"`
}

// DefaultVoiceSettings is applied to every new session.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{IsEnabled: true, AutoPlay: true, SpeechRate: 1.0, SpeechPitch: 1.0}
}

// Session is a live connection between the user, a room and an agent instance.
type Session struct {
	RoomID          string        `json:"roomId"`
	UserID          string        `json:"userId"`
	AgentInstanceID string        `json:"agentInstanceId,omitempty"`
	IsActive        bool          `json:"isActive"`
	ConversationID  string        `json:"conversationId,omitempty"`
	VoiceSettings   VoiceSettings `json:"voiceSettings"`
}

// State is the observable state of the engine.
type State struct {
	Messages          []store.Message
	Session           *Session
	Conversation      *store.Conversation
	IsLoading         bool
	IsConnected       bool
	IsRecording       bool
	CurrentTranscript string
	AgentStatus       AgentStatus
	Error             string
}

// InitialState is the state of a fresh engine.
func InitialState() State {
	return State{Messages: []store.Message{}, AgentStatus: StatusIdle}
}

// Clone returns a deep copy safe to hand to observers.
func (s State) Clone() State {
	out := s
	out.Messages = append([]store.Message{}, s.Messages...)
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.Conversation != nil {
		out.Conversation = s.Conversation.Clone()
	}
	return out
}

// FindMessage returns the message with id, if present.
func (s State) FindMessage(id string) (store.Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return store.Message{}, false
}

// Action is a single state transition. The set is closed.
type Action interface {
	action()
}

// MessagePatch is a partial message update; nil fields are left unchanged.
type MessagePatch struct {
	Content     *string
	IsStreaming *bool
}

type (
	// SetMessages replaces the message list.
	SetMessages struct{ Messages []store.Message }
	// AddMessage appends a message, or replaces the one with the same id.
	AddMessage struct{ Message store.Message }
	// UpdateMessage patches the message with ID. Unknown ids are ignored.
	UpdateMessage struct {
		ID    string
		Patch MessagePatch
	}
	SetSession      struct{ Session *Session }
	SetConversation struct{ Conversation *store.Conversation }
	SetLoading      struct{ Loading bool }
	SetConnected    struct{ Connected bool }
	SetRecording    struct{ Recording bool }
	SetTranscript   struct{ Transcript string }
	SetAgentStatus  struct{ Status AgentStatus }
	// SetError sets the user-facing error. Empty clears it.
	SetError struct{ Error string }
	// ResetChat returns to InitialState, keeping IsLoading.
	ResetChat struct{}
)

func (SetMessages) action()     {}
func (AddMessage) action()      {}
func (UpdateMessage) action()   {}
func (SetSession) action()      {}
func (SetConversation) action() {}
func (SetLoading) action()      {}
func (SetConnected) action()    {}
func (SetRecording) action()    {}
func (SetTranscript) action()   {}
func (SetAgentStatus) action()  {}
func (SetError) action()        {}
func (ResetChat) action()       {}

// Reduce applies a to s and returns the new state. s is not modified.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetMessages:
		s.Messages = append([]store.Message{}, a.Messages...)

	case AddMessage:
		msgs := make([]store.Message, 0, len(s.Messages)+1)
		replaced := false
		for _, m := range s.Messages {
			if m.ID == a.Message.ID {
				m = a.Message
				replaced = true
			}
			msgs = append(msgs, m)
		}
		if !replaced {
			msgs = append(msgs, a.Message)
		}
		s.Messages = msgs

	case UpdateMessage:
		msgs := make([]store.Message, len(s.Messages))
		copy(msgs, s.Messages)
		for i := range msgs {
			if msgs[i].ID != a.ID {
				continue
			}
			if a.Patch.Content != nil {
				msgs[i].Content = *a.Patch.Content
			}
			if a.Patch.IsStreaming != nil {
				msgs[i].IsStreaming = *a.Patch.IsStreaming
			}
		}
		s.Messages = msgs

	case SetSession:
		s.Session = a.Session
	case SetConversation:
		s.Conversation = a.Conversation
	case SetLoading:
		s.IsLoading = a.Loading
	case SetConnected:
		s.IsConnected = a.Connected
	case SetRecording:
		s.IsRecording = a.Recording
	case SetTranscript:
		s.CurrentTranscript = a.Transcript
	case SetAgentStatus:
		s.AgentStatus = a.Status
	case SetError:
		s.Error = a.Error

	case ResetChat:
		loading := s.IsLoading
		s = InitialState()
		s.IsLoading = loading
	}
	return s
}
