// Package chat is the session reconciliation engine behind a voice and text
// conversation with a remote AI agent.
//
// # State
//
// All observable state lives in a State value and changes only through
// Reduce, which applies one Action from a closed set (SetMessages,
// AddMessage, UpdateMessage, SetSession, SetConversation, SetLoading,
// SetConnected, SetRecording, SetTranscript, SetAgentStatus, SetError,
// ResetChat). Observers get a copy after every change through
// Options.OnChange, or can poll Engine.Snapshot.
//
// # Sessions
//
// A session is a room on the realtime transport plus an agent instance
// started through the gateway, bound to one conversation:
//
//	ok, err := eng.StartSession(ctx, "")          // new conversation
//	err = eng.SendTextMessage(ctx, "I feel anxious")
//	eng.EndSession(ctx)
//
// Lifecycle operations (start, end, reset, switch, close) are serialized.
// Collaborators are never called with the state lock held, and results that
// arrive after the session changed are discarded.
//
// # Room messages
//
// Exactly one handler is attached to the transport per active
// conversation. Cmd 3 messages update the live transcript and, when final,
// add a user voice message. Cmd 4 messages stream fragments into a single AI
// message keyed by MessageId; the final fragment completes it, sets the
// agent idle and persists it. A message id is never added twice.
package chat
