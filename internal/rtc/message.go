// ABOUTME: Room message envelope and payloads delivered over the realtime transport
// ABOUTME: Cmd 3 carries speech recognition results, Cmd 4 carries streamed agent replies

package rtc

import (
	"encoding/json"
	"fmt"
)

// Room message commands.
const (
	CmdTranscript = 3
	CmdAnswer     = 4
)

// RoomMessage is the envelope of every inbound room message.
type RoomMessage struct {
	Cmd  int             `json:"Cmd"`
	Data json.RawMessage `json:"Data"`
}

// TranscriptData is the payload of a CmdTranscript message.
type TranscriptData struct {
	Text      string `json:"Text"`
	EndFlag   bool   `json:"EndFlag"`
	MessageID string `json:"MessageId,omitempty"`
}

// AnswerData is the payload of a CmdAnswer message.
type AnswerData struct {
	Text      string `json:"Text"`
	MessageID string `json:"MessageId"`
	EndFlag   bool   `json:"EndFlag"`
}

// Transcript decodes the payload of a CmdTranscript message.
func (m RoomMessage) Transcript() (TranscriptData, error) {
	var d TranscriptData
	if m.Cmd != CmdTranscript {
		return d, fmt.Errorf("cmd %d is not a transcript", m.Cmd)
	}
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return d, fmt.Errorf("decoding transcript: %w", err)
	}
	return d, nil
}

// Answer decodes the payload of a CmdAnswer message.
func (m RoomMessage) Answer() (AnswerData, error) {
	var d AnswerData
	if m.Cmd != CmdAnswer {
		return d, fmt.Errorf("cmd %d is not an answer", m.Cmd)
	}
	if err := json.Unmarshal(m.Data, &d); err != nil {
		return d, fmt.Errorf("decoding answer: %w", err)
	}
	return d, nil
}

// NewTranscriptMessage builds a CmdTranscript envelope.
func NewTranscriptMessage(d TranscriptData) RoomMessage {
	data, _ := json.Marshal(d)
	return RoomMessage{Cmd: CmdTranscript, Data: data}
}

// NewAnswerMessage builds a CmdAnswer envelope.
func NewAnswerMessage(d AnswerData) RoomMessage {
	data, _ := json.Marshal(d)
	return RoomMessage{Cmd: CmdAnswer, Data: data}
}

// ControlFrame is sent from a room member to the relay.
type ControlFrame struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ControlMicrophone is the ControlFrame type for microphone state changes.
const ControlMicrophone = "microphone"
