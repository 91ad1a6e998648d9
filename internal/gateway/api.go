// ABOUTME: JSON handlers for agent sessions, room tokens, callbacks and health
// ABOUTME: Start/stop agent instances, forward text turns and report gateway state

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2389/solace/internal/agent"
	"github.com/2389/solace/internal/agentapi"
	"github.com/2389/solace/internal/cloudagent"
	"github.com/2389/solace/internal/relay"
)

const maxBodyBytes = 64 << 10

// isoMillis matches the timestamp layout browsers produce with toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// sendJSON writes v as a JSON response with the given status.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, agentapi.ErrorResponse{Error: message})
}

// decodeBody reads a bounded JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// sendVendorError maps a cloud agent failure onto the response. Rejections
// from the service are client errors carrying its message; failures to reach
// it are gateway errors.
func (g *Gateway) sendVendorError(w http.ResponseWriter, op string, err error, fallback string) {
	vendorErrors.WithLabelValues(op).Inc()
	g.logger.Error("cloud agent call failed", "operation", op, "error", err)

	if errors.Is(err, cloudagent.ErrNotRegistered) {
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to register agent")
		return
	}
	var apiErr *cloudagent.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		g.sendJSONError(w, http.StatusBadRequest, msg)
		return
	}
	g.sendJSONError(w, http.StatusBadGateway, fallback)
}

// handleStart starts an agent instance in the caller's room.
func (g *Gateway) handleStart(w http.ResponseWriter, r *http.Request) {
	var req agentapi.StartRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.RoomID = strings.TrimSpace(req.RoomID)
	req.UserID = strings.TrimSpace(req.UserID)
	if req.RoomID == "" || req.UserID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "room_id and user_id required")
		return
	}

	userStreamID := req.UserStreamID
	if userStreamID == "" {
		userStreamID = agent.UserStreamID(req.UserID)
	}
	in := cloudagent.InstanceRequest{
		RoomID:        req.RoomID,
		UserID:        req.UserID,
		AgentUserID:   agent.AgentUserID(req.RoomID),
		AgentStreamID: agent.AgentStreamID(req.RoomID),
		UserStreamID:  userStreamID,
	}

	instanceID, err := g.vendor.CreateInstance(r.Context(), in)
	if err != nil {
		g.sendVendorError(w, "start", err, "Failed to create instance")
		return
	}

	if err := g.agents.Register(&agent.Instance{
		ID:            instanceID,
		RoomID:        in.RoomID,
		UserID:        in.UserID,
		AgentUserID:   in.AgentUserID,
		AgentStreamID: in.AgentStreamID,
		UserStreamID:  in.UserStreamID,
	}); err != nil {
		g.logger.Warn("instance already tracked", "instance_id", instanceID, "error", err)
	}
	instancesStarted.Inc()

	g.sendJSON(w, http.StatusOK, agentapi.StartResponse{
		Success:         true,
		AgentInstanceID: instanceID,
		AgentUserID:     in.AgentUserID,
		AgentStreamID:   in.AgentStreamID,
		UserStreamID:    in.UserStreamID,
	})
}

// handleStop stops an agent instance.
func (g *Gateway) handleStop(w http.ResponseWriter, r *http.Request) {
	var req agentapi.StopRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentInstanceID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_instance_id required")
		return
	}

	if err := g.vendor.DeleteInstance(r.Context(), req.AgentInstanceID); err != nil {
		g.sendVendorError(w, "stop", err, "Failed to delete instance")
		return
	}

	if _, ok := g.agents.Unregister(req.AgentInstanceID); !ok {
		g.logger.Debug("stopped instance this gateway was not tracking", "instance_id", req.AgentInstanceID)
	}
	instancesStopped.Inc()

	g.sendJSON(w, http.StatusOK, agentapi.SuccessResponse{Success: true})
}

// handleSendMessage forwards a typed turn to the agent.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req agentapi.SendMessageRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentInstanceID == "" || strings.TrimSpace(req.Message) == "" {
		g.sendJSONError(w, http.StatusBadRequest, "agent_instance_id and message required")
		return
	}

	if err := g.vendor.SendText(r.Context(), req.AgentInstanceID, req.Message); err != nil {
		g.sendVendorError(w, "send", err, "Failed to send message")
		return
	}

	_ = g.agents.RecordTurn(req.AgentInstanceID)
	textTurns.Inc()

	g.sendJSON(w, http.StatusOK, agentapi.SuccessResponse{Success: true})
}

// handleToken issues a room token for user_id, optionally scoped to room_id.
func (g *Gateway) handleToken(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	roomID := r.URL.Query().Get("room_id")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id required")
		return
	}

	token, err := g.minter.Mint(userID, roomID)
	if err != nil {
		g.logger.Error("failed to mint room token", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}
	tokensMinted.Inc()

	g.sendJSON(w, http.StatusOK, agentapi.TokenResponse{Token: token})
}

// handleCallback receives agent events and relays results to the room.
// Relay failures are logged and still acknowledged so the service does not redeliver.
func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	var cb relay.Callback
	if err := decodeBody(w, r, &cb); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid callback body")
		return
	}

	g.agents.Touch(cb.AgentInstanceID)
	if cb.Event == relay.EventException {
		g.logger.Warn("agent exception", "instance_id", cb.AgentInstanceID, "room_id", cb.RoomID, "data", string(cb.Data))
	}

	outcome, err := g.callbacks.Ingest(cb)
	if err != nil {
		g.logger.Warn("callback not relayed", "event", cb.Event, "instance_id", cb.AgentInstanceID, "error", err)
	}
	callbacksReceived.WithLabelValues(cb.Event, outcome.String()).Inc()

	g.sendJSON(w, http.StatusOK, agentapi.SuccessResponse{Success: true})
}

// handleListInstances reports the agent instances this gateway started.
func (g *Gateway) handleListInstances(w http.ResponseWriter, _ *http.Request) {
	g.sendJSON(w, http.StatusOK, map[string]any{"instances": g.agents.List()})
}

// handleHealth reports liveness and which credentials are configured.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.sendJSON(w, http.StatusOK, agentapi.HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(isoMillis),
		Registered: g.vendor.Registered(),
		Instances:  g.agents.Count(),
		Config: map[string]bool{
			"appId":        g.config.Vendor.AppID != "",
			"serverSecret": g.config.Vendor.ServerSecret != "",
			"dashscope":    g.config.Agent.LLM.APIKey != "",
		},
	})
}

// handleReady returns 200 while the gateway accepts sessions.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	if g.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("shutting down"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
