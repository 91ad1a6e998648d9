// ABOUTME: Applies inbound room messages to chat state
// ABOUTME: Transcripts become user voice messages; answer fragments stream into one AI message

package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/solace/internal/rtc"
	"github.com/2389/solace/internal/store"
)

// handleRoomMessage is the transport handler. Messages from a detached
// handler generation or for another conversation are dropped.
func (e *Engine) handleRoomMessage(gen uint64, conversationID string, msg rtc.RoomMessage) {
	var toSave []store.Message

	e.update(func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("error handling room message",
					"cmd", msg.Cmd,
					"error", fmt.Errorf("%w: panic: %v", ErrClassification, r))
				toSave = nil
				e.apply(SetAgentStatus{Status: StatusIdle})
			}
		}()

		if gen != e.handlerGen || e.activeConvID != conversationID {
			e.logger.Debug("ignoring message for different conversation",
				"conversation_id", conversationID,
				"active_conversation_id", e.activeConvID)
			return
		}

		var err error
		switch msg.Cmd {
		case rtc.CmdTranscript:
			toSave, err = e.applyTranscriptLocked(msg)
		case rtc.CmdAnswer:
			toSave, err = e.applyAnswerLocked(msg)
		default:
			e.logger.Debug("ignoring room message", "cmd", msg.Cmd)
		}
		if err != nil {
			e.logger.Error("error handling room message",
				"cmd", msg.Cmd,
				"error", fmt.Errorf("%w: %w", ErrClassification, err))
			e.apply(SetAgentStatus{Status: StatusIdle})
		}
	})

	for _, m := range toSave {
		e.persist(context.Background(), conversationID, m)
	}
}

// applyTranscriptLocked handles a speech recognition result. Interim text is
// shown as the live transcript; a final result becomes a user voice message.
func (e *Engine) applyTranscriptLocked(msg rtc.RoomMessage) ([]store.Message, error) {
	d, err := msg.Transcript()
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(d.Text)
	if text == "" {
		return nil, nil
	}

	e.apply(SetTranscript{Transcript: d.Text}, SetAgentStatus{Status: StatusListening})
	if !d.EndFlag {
		return nil, nil
	}

	id := d.MessageID
	if id == "" {
		id = e.opts.NewID("voice")
	}
	m := store.Message{
		ID:         id,
		Content:    text,
		Sender:     store.SenderUser,
		Timestamp:  e.opts.Now(),
		Kind:       store.KindVoice,
		Transcript: text,
	}

	var out []store.Message
	if e.addMessageLocked(m) {
		out = append(out, m)
	}
	e.apply(SetTranscript{Transcript: ""}, SetAgentStatus{Status: StatusThinking})
	return out, nil
}

// applyAnswerLocked handles one fragment of a streamed agent reply. The
// final fragment completes the message and returns it for persistence.
func (e *Engine) applyAnswerLocked(msg rtc.RoomMessage) ([]store.Message, error) {
	d, err := msg.Answer()
	if err != nil {
		return nil, err
	}
	if d.MessageID == "" || (d.Text == "" && !d.EndFlag) {
		return nil, nil
	}

	id := d.MessageID
	acc, streaming := e.streaming[id]
	seen := e.processed.Check(id)

	// seen without an accumulator means the reply is already complete
	if seen && !streaming {
		e.logger.Debug("skipping fragment for completed message", "message_id", id)
		return nil, nil
	}

	if !d.EndFlag {
		acc += d.Text
		e.streaming[id] = acc
		if !seen {
			e.processed.Mark(id)
			e.apply(AddMessage{Message: store.Message{
				ID:          id,
				Content:     acc,
				Sender:      store.SenderAI,
				Timestamp:   e.opts.Now(),
				Kind:        store.KindText,
				IsStreaming: true,
			}})
		} else {
			streamingOn := true
			e.apply(UpdateMessage{ID: id, Patch: MessagePatch{Content: &acc, IsStreaming: &streamingOn}})
		}
		e.apply(SetAgentStatus{Status: StatusSpeaking})
		return nil, nil
	}

	final := acc + d.Text
	delete(e.streaming, id)
	if final == "" {
		e.apply(SetAgentStatus{Status: StatusIdle})
		return nil, nil
	}

	done := store.Message{
		ID:        id,
		Content:   final,
		Sender:    store.SenderAI,
		Timestamp: e.opts.Now(),
		Kind:      store.KindText,
	}
	if seen {
		if existing, ok := e.state.FindMessage(id); ok {
			done.Timestamp = existing.Timestamp
		}
		streamingOff := false
		e.apply(UpdateMessage{ID: id, Patch: MessagePatch{Content: &final, IsStreaming: &streamingOff}})
	} else {
		e.processed.Mark(id)
		e.apply(AddMessage{Message: done})
	}
	e.apply(SetAgentStatus{Status: StatusIdle})
	return []store.Message{done}, nil
}
