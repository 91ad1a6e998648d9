// ABOUTME: HTTP client for the solace gateway's agent session endpoints
// ABOUTME: Starts/stops remote agent instances, forwards text turns, fetches room tokens

package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds every gateway request.
const DefaultTimeout = 30 * time.Second

var (
	// ErrMissingInstanceID is returned when an operation needs an agent instance id.
	ErrMissingInstanceID = errors.New("agent instance ID is required")
	// ErrEmptyMessage is returned when a turn has no content.
	ErrEmptyMessage = errors.New("message content is required")
	// ErrMissingUserID is returned by Token without a user id.
	ErrMissingUserID = errors.New("user ID is required")
)

// StartRequest is the body of POST /api/start.
type StartRequest struct {
	RoomID       string `json:"room_id"`
	UserID       string `json:"user_id"`
	UserStreamID string `json:"user_stream_id,omitempty"`
}

// StartResponse is returned by POST /api/start.
type StartResponse struct {
	Success         bool   `json:"success"`
	AgentInstanceID string `json:"agentInstanceId"`
	AgentUserID     string `json:"agentUserId,omitempty"`
	AgentStreamID   string `json:"agentStreamId,omitempty"`
	UserStreamID    string `json:"userStreamId,omitempty"`
	Error           string `json:"error,omitempty"`
}

// SendMessageRequest is the body of POST /api/send-message.
type SendMessageRequest struct {
	AgentInstanceID string `json:"agent_instance_id"`
	Message         string `json:"message"`
}

// StopRequest is the body of POST /api/stop.
type StopRequest struct {
	AgentInstanceID string `json:"agent_instance_id"`
}

// SuccessResponse is the generic {success, error} reply.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TokenResponse is returned by GET /api/token.
type TokenResponse struct {
	Token string `json:"token"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string          `json:"status"`
	Timestamp  string          `json:"timestamp"`
	Registered bool            `json:"registered"`
	Instances  int             `json:"instances"`
	Config     map[string]bool `json:"config,omitempty"`
}

// ErrorResponse is the body of a failed gateway call.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusError is a non-2xx reply from the gateway.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the solace gateway.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a client. A zero timeout uses DefaultTimeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "agentapi"),
	}
}

// BaseURL returns the gateway root the client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// StartRemoteSession asks the gateway to start an agent instance for the room
// and returns its instance id.
func (c *Client) StartRemoteSession(ctx context.Context, roomID, userID string) (string, error) {
	req := StartRequest{RoomID: roomID, UserID: userID, UserStreamID: userID + "_stream"}

	var resp StartResponse
	if err := c.post(ctx, "/api/start", req, &resp); err != nil {
		return "", fmt.Errorf("starting session: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "session start failed"
		}
		return "", fmt.Errorf("starting session: %s", msg)
	}
	if resp.AgentInstanceID == "" {
		return "", errors.New("starting session: no agent instance ID returned")
	}

	c.logger.Info("remote session started", "room_id", roomID, "agent_instance_id", resp.AgentInstanceID)
	return resp.AgentInstanceID, nil
}

// SendTurn forwards a user's text to the agent instance.
func (c *Client) SendTurn(ctx context.Context, instanceID, text string) error {
	if instanceID == "" {
		return ErrMissingInstanceID
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	var resp SuccessResponse
	if err := c.post(ctx, "/api/send-message", SendMessageRequest{AgentInstanceID: instanceID, Message: text}, &resp); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "message send failed"
		}
		return fmt.Errorf("sending message: %s", msg)
	}

	c.logger.Debug("turn sent", "agent_instance_id", instanceID, "length", len(text))
	return nil
}

// StopRemoteSession stops the agent instance. An empty id is a logged no-op,
// and a non-success reply is only logged.
func (c *Client) StopRemoteSession(ctx context.Context, instanceID string) error {
	if instanceID == "" {
		c.logger.Warn("no agent instance ID provided for stop")
		return nil
	}

	var resp SuccessResponse
	if err := c.post(ctx, "/api/stop", StopRequest{AgentInstanceID: instanceID}, &resp); err != nil {
		return fmt.Errorf("stopping session: %w", err)
	}
	if !resp.Success {
		c.logger.Warn("session stop returned non-success", "agent_instance_id", instanceID, "error", resp.Error)
		return nil
	}

	c.logger.Info("remote session stopped", "agent_instance_id", instanceID)
	return nil
}

// Token fetches a room-join token for userID. roomID may be empty.
func (c *Client) Token(ctx context.Context, userID, roomID string) (string, error) {
	if userID == "" {
		return "", ErrMissingUserID
	}

	q := url.Values{"user_id": {userID}}
	if roomID != "" {
		q.Set("room_id", roomID)
	}

	var resp TokenResponse
	if err := c.get(ctx, "/api/token?"+q.Encode(), &resp); err != nil {
		return "", fmt.Errorf("getting token: %w", err)
	}
	if resp.Token == "" {
		return "", errors.New("getting token: no token returned")
	}
	return resp.Token, nil
}

// Health returns the gateway's health report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	c.logger.Debug("gateway request", "method", req.Method, "path", req.URL.Path)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
			msg = errResp.Error
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
