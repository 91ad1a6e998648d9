// ABOUTME: Tests for the chat state reducer
// ABOUTME: Checks upsert semantics, patching, reset and that inputs are never mutated

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/solace/internal/store"
)

func msg(id, content string) store.Message {
	return store.Message{ID: id, Content: content, Sender: store.SenderUser, Kind: store.KindText}
}

func TestReduce_AddMessageUpserts(t *testing.T) {
	s := InitialState()
	s = Reduce(s, AddMessage{Message: msg("m1", "one")})
	s = Reduce(s, AddMessage{Message: msg("m2", "two")})
	s = Reduce(s, AddMessage{Message: msg("m1", "uno")})

	assert.Len(t, s.Messages, 2)
	assert.Equal(t, "uno", s.Messages[0].Content)
	assert.Equal(t, "two", s.Messages[1].Content)
}

func TestReduce_UpdateMessagePatches(t *testing.T) {
	s := Reduce(InitialState(), AddMessage{Message: store.Message{ID: "a1", Content: "Hel", IsStreaming: true}})

	content := "Hello"
	s = Reduce(s, UpdateMessage{ID: "a1", Patch: MessagePatch{Content: &content}})
	assert.Equal(t, "Hello", s.Messages[0].Content)
	assert.True(t, s.Messages[0].IsStreaming, "unset patch fields are kept")

	off := false
	s = Reduce(s, UpdateMessage{ID: "a1", Patch: MessagePatch{IsStreaming: &off}})
	assert.False(t, s.Messages[0].IsStreaming)

	before := s
	s = Reduce(s, UpdateMessage{ID: "missing", Patch: MessagePatch{Content: &content}})
	assert.Equal(t, before.Messages, s.Messages)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	orig := Reduce(InitialState(), AddMessage{Message: msg("m1", "one")})

	content := "changed"
	_ = Reduce(orig, UpdateMessage{ID: "m1", Patch: MessagePatch{Content: &content}})
	_ = Reduce(orig, AddMessage{Message: msg("m1", "replaced")})

	assert.Equal(t, "one", orig.Messages[0].Content)
}

func TestReduce_ScalarActions(t *testing.T) {
	sess := &Session{RoomID: "room_1"}
	conv := &store.Conversation{ID: "conv_1"}

	s := InitialState()
	s = Reduce(s, SetSession{Session: sess})
	s = Reduce(s, SetConversation{Conversation: conv})
	s = Reduce(s, SetLoading{Loading: true})
	s = Reduce(s, SetConnected{Connected: true})
	s = Reduce(s, SetRecording{Recording: true})
	s = Reduce(s, SetTranscript{Transcript: "hi"})
	s = Reduce(s, SetAgentStatus{Status: StatusSpeaking})
	s = Reduce(s, SetError{Error: "boom"})

	assert.Same(t, sess, s.Session)
	assert.Same(t, conv, s.Conversation)
	assert.True(t, s.IsLoading)
	assert.True(t, s.IsConnected)
	assert.True(t, s.IsRecording)
	assert.Equal(t, "hi", s.CurrentTranscript)
	assert.Equal(t, StatusSpeaking, s.AgentStatus)
	assert.Equal(t, "boom", s.Error)
}

func TestReduce_ResetChatKeepsLoading(t *testing.T) {
	s := InitialState()
	s = Reduce(s, AddMessage{Message: msg("m1", "one")})
	s = Reduce(s, SetLoading{Loading: true})
	s = Reduce(s, SetConnected{Connected: true})
	s = Reduce(s, SetError{Error: "boom"})

	s = Reduce(s, ResetChat{})

	want := InitialState()
	want.IsLoading = true
	assert.Equal(t, want, s)
}

func TestReduce_SetMessagesCopies(t *testing.T) {
	in := []store.Message{msg("m1", "one")}
	s := Reduce(InitialState(), SetMessages{Messages: in})
	in[0].Content = "mutated"

	assert.Equal(t, "one", s.Messages[0].Content)
}

func TestState_CloneIsDeep(t *testing.T) {
	s := InitialState()
	s = Reduce(s, AddMessage{Message: msg("m1", "one")})
	s = Reduce(s, SetSession{Session: &Session{RoomID: "room_1"}})

	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.Session.RoomID = "room_2"

	assert.Equal(t, "one", s.Messages[0].Content)
	assert.Equal(t, "room_1", s.Session.RoomID)
}
