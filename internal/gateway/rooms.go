// ABOUTME: Websocket endpoint that streams room messages to authenticated members
// ABOUTME: Members present a room token, receive Cmd 3/4 messages and may send control frames

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/2389/solace/internal/rtc"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxControlSize = 4096
)

// checkOrigin allows requests without an Origin header and origins the CORS
// policy allows.
func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.config.Server.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for browsers that cannot set headers on upgrades.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// handleRoomSocket upgrades to a websocket and relays room messages until
// either side closes.
func (g *Gateway) handleRoomSocket(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomID")
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id required")
		return
	}

	token := bearerToken(r)
	if token == "" {
		g.sendJSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := g.minter.Authorize(token, userID, roomID); err != nil {
		g.logger.Debug("room token rejected", "room_id", roomID, "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.logger.Debug("websocket upgrade failed", "room_id", roomID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, subID := g.hub.Subscribe(ctx, roomID)
	roomMembers.Inc()
	defer roomMembers.Dec()

	logger := g.logger.With("room_id", roomID, "user_id", userID, "sub_id", subID)
	logger.Info("room member connected")
	defer logger.Info("room member disconnected")

	go g.readControlFrames(conn, cancel, logger)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgs:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code, reason := websocket.CloseGoingAway, "room closed"
				if g.hub.Evicted(subID) {
					code, reason = websocket.CloseTryAgainLater, "member too slow"
					slowMembersEvicted.Inc()
					logger.Warn("room member evicted for falling behind")
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("room write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readControlFrames consumes member frames until the connection ends, then cancels.
func (g *Gateway) readControlFrames(conn *websocket.Conn, cancel context.CancelFunc, logger *slog.Logger) {
	defer cancel()

	conn.SetReadLimit(maxControlSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("room read ended", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame rtc.ControlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			logger.Debug("malformed control frame", "error", err)
			continue
		}

		switch frame.Type {
		case rtc.ControlMicrophone:
			logger.Debug("member microphone changed", "enabled", frame.Enabled)
		default:
			logger.Debug("unknown control frame", "type", frame.Type)
		}
	}
}
