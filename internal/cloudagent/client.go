// ABOUTME: Signed HTTP client for the cloud conversational agent API
// ABOUTME: Handles request signing, retries, one-time agent registration and instance lifecycle

package cloudagent

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Vendor actions.
const (
	ActionRegisterAgent        = "RegisterAgent"
	ActionCreateAgentInstance  = "CreateAgentInstance"
	ActionDeleteAgentInstance  = "DeleteAgentInstance"
	ActionSendAgentInstanceLLM = "SendAgentInstanceLLM"
)

const (
	signatureVersion     = "2.0"
	defaultTimeout       = 30 * time.Second
	retryInitialInterval = 250 * time.Millisecond
	retryMaxInterval     = 4 * time.Second
	maxResponseBytes     = 1 << 20
)

var (
	// ErrRequest is returned when the vendor could not be reached or answered with a non-2xx status.
	ErrRequest = errors.New("cloud agent request failed")
	// ErrNotRegistered is returned when an instance is requested before the agent could be registered.
	ErrNotRegistered = errors.New("agent not registered")
)

// APIError is a well-formed vendor response with a non-zero Code.
type APIError struct {
	Action    string
	Code      int
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Action, e.Code, e.Message)
}

// Response is the common vendor response envelope.
type Response struct {
	Code      int             `json:"Code"`
	Message   string          `json:"Message"`
	RequestID string          `json:"RequestId"`
	Data      json.RawMessage `json:"Data,omitempty"`
}

// Options configures a Client.
type Options struct {
	AppID        string
	ServerSecret string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	Agent        AgentSpec
	Logger       *slog.Logger
	HTTPClient   *http.Client
}

// Client talks to the cloud agent API. It is safe for concurrent use.
type Client struct {
	appID      string
	secret     string
	baseURL    string
	maxRetries int
	agent      AgentSpec
	http       *http.Client
	logger     *slog.Logger

	now   func() time.Time
	nonce func() (string, error)

	regMu      sync.Mutex
	agentID    string
	registered atomic.Bool
}

// New creates a Client. It does not contact the vendor.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		appID:      opts.AppID,
		secret:     opts.ServerSecret,
		baseURL:    opts.BaseURL,
		maxRetries: opts.MaxRetries,
		agent:      opts.Agent,
		http:       hc,
		logger:     logger.With("component", "cloudagent"),
		now:        time.Now,
		nonce:      randomNonce,
	}
}

// Sign computes the request signature: md5 over appID, nonce, secret and
// unix timestamp, hex encoded.
func Sign(appID, nonce, secret string, timestamp int64) string {
	sum := md5.Sum([]byte(appID + nonce + secret + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(sum[:])
}

func randomNonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// signedURL returns the base URL with the signed query for action.
func (c *Client) signedURL(action string) (string, error) {
	nonce, err := c.nonce()
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	ts := c.now().Unix()

	q := url.Values{}
	q.Set("Action", action)
	q.Set("AppId", c.appID)
	q.Set("SignatureNonce", nonce)
	q.Set("SignatureVersion", signatureVersion)
	q.Set("Timestamp", strconv.FormatInt(ts, 10))
	q.Set("Signature", Sign(c.appID, nonce, c.secret, ts))

	return c.baseURL + "?" + q.Encode(), nil
}

// Call posts body to the vendor under action and decodes the envelope.
// Transport errors and 5xx responses are retried with exponential backoff;
// a response with non-zero Code is returned as *APIError without retry.
func (c *Client) Call(ctx context.Context, action string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", action, err)
	}

	var resp *Response
	attempt := 0
	op := func() error {
		attempt++
		r, err := c.post(ctx, action, payload)
		if err != nil {
			if attempt <= c.maxRetries {
				c.logger.Warn("vendor request failed, retrying", "action", action, "attempt", attempt, "error", err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Reset()

	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}

	if resp.Code != 0 {
		return resp, &APIError{Action: action, Code: resp.Code, Message: resp.Message, RequestID: resp.RequestID}
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, action string, payload []byte) (*Response, error) {
	u, err := c.signedURL(action)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrRequest, action, err))
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrRequest, action, err))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrRequest, action, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: reading body: %w", ErrRequest, action, err)
	}

	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s: status %d", ErrRequest, action, res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: status %d: %s", ErrRequest, action, res.StatusCode, bytes.TrimSpace(raw)))
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s: decoding response: %w", ErrRequest, action, err))
	}
	return &out, nil
}

// EnsureAgent registers the agent once per process and returns its id.
// Concurrent callers wait for the same registration; a failed attempt is
// retried by the next caller.
func (c *Client) EnsureAgent(ctx context.Context) (string, error) {
	c.regMu.Lock()
	defer c.regMu.Unlock()

	if c.agentID != "" {
		return c.agentID, nil
	}

	id := "agent_" + strconv.FormatInt(c.now().UnixMilli(), 10)
	if _, err := c.Call(ctx, ActionRegisterAgent, c.agent.registration(id)); err != nil {
		return "", err
	}

	c.agentID = id
	c.registered.Store(true)
	c.logger.Info("agent registered", "agent_id", id)
	return id, nil
}

// Registered reports whether EnsureAgent has succeeded.
func (c *Client) Registered() bool {
	return c.registered.Load()
}

// InstanceRequest describes a room the agent should join.
type InstanceRequest struct {
	RoomID        string
	UserID        string
	AgentUserID   string
	AgentStreamID string
	UserStreamID  string
}

// CreateInstance registers the agent if needed and starts an instance in the room.
func (c *Client) CreateInstance(ctx context.Context, in InstanceRequest) (string, error) {
	agentID, err := c.EnsureAgent(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNotRegistered, err)
	}

	body := createInstanceBody{
		AgentID: agentID,
		UserID:  in.UserID,
		RTC: rtcConfig{
			RoomID:        in.RoomID,
			AgentUserID:   in.AgentUserID,
			AgentStreamID: in.AgentStreamID,
			UserStreamID:  in.UserStreamID,
		},
		MessageHistory: messageHistory{
			SyncMode:   1,
			Messages:   []any{},
			WindowSize: c.agent.HistoryWindow,
		},
		CallbackConfig: callbackConfig{
			ASRResult:        1,
			LLMResult:        1,
			Exception:        1,
			Interrupted:      1,
			UserSpeakAction:  1,
			AgentSpeakAction: 1,
		},
		AdvancedConfig: advancedConfig{InterruptMode: c.agent.InterruptMode},
	}

	resp, err := c.Call(ctx, ActionCreateAgentInstance, body)
	if err != nil {
		return "", err
	}

	var data struct {
		AgentInstanceID string `json:"AgentInstanceId"`
	}
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return "", fmt.Errorf("%w: %s: decoding data: %w", ErrRequest, ActionCreateAgentInstance, err)
		}
	}
	if data.AgentInstanceID == "" {
		return "", fmt.Errorf("%w: %s: response has no instance id", ErrRequest, ActionCreateAgentInstance)
	}
	return data.AgentInstanceID, nil
}

// DeleteInstance stops an agent instance.
func (c *Client) DeleteInstance(ctx context.Context, instanceID string) error {
	_, err := c.Call(ctx, ActionDeleteAgentInstance, map[string]string{"AgentInstanceId": instanceID})
	return err
}

// SendText asks the instance to answer text, recording both sides in its history.
func (c *Client) SendText(ctx context.Context, instanceID, text string) error {
	_, err := c.Call(ctx, ActionSendAgentInstanceLLM, sendLLMBody{
		AgentInstanceID:      instanceID,
		Text:                 text,
		AddQuestionToHistory: true,
		AddAnswerToHistory:   true,
	})
	return err
}

type createInstanceBody struct {
	AgentID        string         `json:"AgentId"`
	UserID         string         `json:"UserId"`
	RTC            rtcConfig      `json:"RTC"`
	MessageHistory messageHistory `json:"MessageHistory"`
	CallbackConfig callbackConfig `json:"CallbackConfig"`
	AdvancedConfig advancedConfig `json:"AdvancedConfig"`
}

type rtcConfig struct {
	RoomID        string `json:"RoomId"`
	AgentUserID   string `json:"AgentUserId"`
	AgentStreamID string `json:"AgentStreamId"`
	UserStreamID  string `json:"UserStreamId"`
}

type messageHistory struct {
	SyncMode   int   `json:"SyncMode"`
	Messages   []any `json:"Messages"`
	WindowSize int   `json:"WindowSize"`
}

type callbackConfig struct {
	ASRResult        int `json:"ASRResult"`
	LLMResult        int `json:"LLMResult"`
	Exception        int `json:"Exception"`
	Interrupted      int `json:"Interrupted"`
	UserSpeakAction  int `json:"UserSpeakAction"`
	AgentSpeakAction int `json:"AgentSpeakAction"`
}

type advancedConfig struct {
	InterruptMode int `json:"InterruptMode"`
}

type sendLLMBody struct {
	AgentInstanceID      string `json:"AgentInstanceId"`
	Text                 string `json:"Text"`
	AddQuestionToHistory bool   `json:"AddQuestionToHistory"`
	AddAnswerToHistory   bool   `json:"AddAnswerToHistory"`
}
