// ABOUTME: Error kinds surfaced by the chat engine
// ABOUTME: Wrapped with the underlying cause so callers can use errors.Is on both

package chat

import "errors"

var (
	// ErrValidation is returned for input the engine refuses to forward.
	ErrValidation = errors.New("invalid input")

	// ErrNoActiveSession is returned when an operation needs a session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSessionBusy is returned by StartSession while a session is loading or connected.
	ErrSessionBusy = errors.New("session already loading or connected")

	// ErrSwitchInProgress is returned when a conversation switch is already running.
	ErrSwitchInProgress = errors.New("conversation switch in progress")

	// ErrTransport wraps realtime transport failures.
	ErrTransport = errors.New("transport error")

	// ErrGateway wraps agent gateway failures.
	ErrGateway = errors.New("gateway error")

	// ErrPersistence wraps conversation store failures. These are logged and
	// never abort an operation.
	ErrPersistence = errors.New("persistence error")

	// ErrClassification marks a room message that could not be applied.
	ErrClassification = errors.New("room message classification failed")

	// ErrConversationLoad is returned when a conversation cannot be loaded or created.
	ErrConversationLoad = errors.New("failed to load conversation")
)

// User-facing messages stored in State.Error.
const (
	msgNoActiveSession = "No active session"
	msgLoadFailed      = "Failed to load conversation"
	msgSendFailed      = "Failed to send message"
	msgTooLong         = "Message is too long"
)
