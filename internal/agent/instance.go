// ABOUTME: A running cloud agent instance bound to one RTC room
// ABOUTME: Tracks the identities the agent uses in the room and per-instance activity

package agent

import (
	"sync/atomic"
	"time"
)

// Instance is a cloud agent that has joined a room on a user's behalf.
type Instance struct {
	ID            string
	RoomID        string
	UserID        string
	AgentUserID   string
	AgentStreamID string
	UserStreamID  string
	StartedAt     time.Time

	turns    atomic.Int64
	lastSeen atomic.Int64
}

// InstanceInfo is a point-in-time copy of an Instance for reporting.
type InstanceInfo struct {
	ID           string    `json:"id"`
	RoomID       string    `json:"room_id"`
	UserID       string    `json:"user_id"`
	StartedAt    time.Time `json:"started_at"`
	Turns        int64     `json:"turns"`
	LastActivity time.Time `json:"last_activity"`
}

// AgentUserID is the identity the agent uses inside roomID.
func AgentUserID(roomID string) string {
	return "agent_" + roomID
}

// AgentStreamID is the stream the agent publishes in roomID.
func AgentStreamID(roomID string) string {
	return "agent_stream_" + roomID
}

// UserStreamID is the default stream a user publishes.
func UserStreamID(userID string) string {
	return userID + "_stream"
}

func (i *Instance) touch(now time.Time) {
	i.lastSeen.Store(now.UnixNano())
}

// Info snapshots the instance.
func (i *Instance) Info() InstanceInfo {
	info := InstanceInfo{
		ID:        i.ID,
		RoomID:    i.RoomID,
		UserID:    i.UserID,
		StartedAt: i.StartedAt,
		Turns:     i.turns.Load(),
	}
	if ns := i.lastSeen.Load(); ns != 0 {
		info.LastActivity = time.Unix(0, ns)
	} else {
		info.LastActivity = i.StartedAt
	}
	return info
}
