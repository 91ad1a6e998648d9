// ABOUTME: Converts cloud agent callbacks into room messages
// ABOUTME: Drops redelivered callbacks and publishes ASR and LLM results to the room hub

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/2389/solace/internal/dedupe"
	"github.com/2389/solace/internal/rtc"
)

// Callback events sent by the cloud agent service.
const (
	EventASRResult        = "ASRResult"
	EventLLMResult        = "LLMResult"
	EventException        = "Exception"
	EventInterrupted      = "Interrupted"
	EventUserSpeakAction  = "UserSpeakAction"
	EventAgentSpeakAction = "AgentSpeakAction"
)

// ErrNoRoom is returned when a callback cannot be attributed to a room.
var ErrNoRoom = errors.New("callback has no room")

// Callback is the body the cloud agent service posts for each event.
type Callback struct {
	Event           string          `json:"Event"`
	Data            json.RawMessage `json:"Data,omitempty"`
	AppID           json.RawMessage `json:"AppId,omitempty"`
	AgentInstanceID string          `json:"AgentInstanceId"`
	AgentUserID     string          `json:"AgentUserId,omitempty"`
	RoomID          string          `json:"RoomId"`
	Sequence        int64           `json:"Sequence"`
	Timestamp       int64           `json:"Timestamp"`
}

// resultData is the Data of ASRResult and LLMResult callbacks.
type resultData struct {
	Text      string `json:"Text"`
	MessageID string `json:"MessageId"`
	EndFlag   bool   `json:"EndFlag"`
}

// Outcome describes what Ingest did with a callback.
type Outcome int

const (
	// OutcomeIgnored means the event carries nothing for room members.
	OutcomeIgnored Outcome = iota
	// OutcomeDuplicate means the callback was already ingested.
	OutcomeDuplicate
	// OutcomePublished means a room message was published.
	OutcomePublished
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomePublished:
		return "published"
	default:
		return "ignored"
	}
}

// RoomResolver finds the room of an agent instance when a callback omits it.
type RoomResolver func(instanceID string) (roomID string, ok bool)

// Ingester publishes callbacks into a Hub.
type Ingester struct {
	hub     *Hub
	seen    *dedupe.Cache
	resolve RoomResolver
	logger  *slog.Logger
}

// NewIngester creates an Ingester remembering callbacks for window, bounded to maxSeen entries.
func NewIngester(hub *Hub, window time.Duration, maxSeen int, resolve RoomResolver, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		hub:     hub,
		seen:    dedupe.New(window, maxSeen),
		resolve: resolve,
		logger:  logger.With("component", "callbacks"),
	}
}

// Close stops the dedupe sweeper.
func (i *Ingester) Close() {
	i.seen.Close()
}

// Ingest handles one callback. Callbacks are identified by instance and
// sequence; a callback with sequence zero is never treated as a duplicate.
func (i *Ingester) Ingest(cb Callback) (Outcome, error) {
	var cmd int
	switch cb.Event {
	case EventASRResult:
		cmd = rtc.CmdTranscript
	case EventLLMResult:
		cmd = rtc.CmdAnswer
	default:
		i.logger.Info("agent event", "event", cb.Event, "instance_id", cb.AgentInstanceID, "room_id", cb.RoomID)
		return OutcomeIgnored, nil
	}

	var key string
	if cb.Sequence != 0 {
		key = cb.AgentInstanceID + ":" + strconv.FormatInt(cb.Sequence, 10)
		if i.seen.Check(key) {
			i.logger.Debug("duplicate callback", "event", cb.Event, "key", key)
			return OutcomeDuplicate, nil
		}
	}

	roomID := cb.RoomID
	if roomID == "" && i.resolve != nil {
		roomID, _ = i.resolve(cb.AgentInstanceID)
	}
	if roomID == "" {
		return OutcomeIgnored, fmt.Errorf("%w: instance %q", ErrNoRoom, cb.AgentInstanceID)
	}

	var d resultData
	if err := json.Unmarshal(cb.Data, &d); err != nil {
		return OutcomeIgnored, fmt.Errorf("decoding %s data: %w", cb.Event, err)
	}

	var msg rtc.RoomMessage
	if cmd == rtc.CmdTranscript {
		msg = rtc.NewTranscriptMessage(rtc.TranscriptData{Text: d.Text, EndFlag: d.EndFlag, MessageID: d.MessageID})
	} else {
		msg = rtc.NewAnswerMessage(rtc.AnswerData{Text: d.Text, MessageID: d.MessageID, EndFlag: d.EndFlag})
	}

	// only callbacks that reach the hub are remembered, so a rejected one can be redelivered
	if key != "" && i.seen.CheckAndMark(key) {
		i.logger.Debug("duplicate callback", "event", cb.Event, "key", key)
		return OutcomeDuplicate, nil
	}

	n := i.hub.Publish(roomID, msg)
	i.logger.Debug("callback relayed", "event", cb.Event, "room_id", roomID, "members", n)
	return OutcomePublished, nil
}
