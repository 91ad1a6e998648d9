// ABOUTME: Tests for the agent instance registry
// ABOUTME: Validates registration, room lookup, activity tracking and shutdown draining

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestManager() *Manager {
	m := NewManager(slog.Default())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	m.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return m
}

func TestRegister(t *testing.T) {
	t.Run("registers and looks up", func(t *testing.T) {
		m := newTestManager()
		inst := &Instance{ID: "inst-1", RoomID: "room_1", UserID: "user_1"}

		if err := m.Register(inst); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
		if m.Count() != 1 {
			t.Errorf("Count() = %d, want 1", m.Count())
		}
		got, ok := m.Get("inst-1")
		if !ok || got != inst {
			t.Errorf("Get() = %v, %v", got, ok)
		}
		if inst.StartedAt.IsZero() {
			t.Error("StartedAt should be set on register")
		}
		if m.GetByRoom("room_1") != inst {
			t.Error("GetByRoom() did not return the instance")
		}
	})

	t.Run("rejects duplicates", func(t *testing.T) {
		m := newTestManager()
		_ = m.Register(&Instance{ID: "inst-1", RoomID: "room_1"})

		err := m.Register(&Instance{ID: "inst-1", RoomID: "room_2"})
		if !errors.Is(err, ErrInstanceAlreadyRegistered) {
			t.Errorf("Register() error = %v, want ErrInstanceAlreadyRegistered", err)
		}
		if m.GetByRoom("room_2") != nil {
			t.Error("rejected instance should not be indexed by room")
		}
	})
}

func TestUnregister(t *testing.T) {
	m := newTestManager()
	_ = m.Register(&Instance{ID: "inst-1", RoomID: "room_1"})

	inst, ok := m.Unregister("inst-1")
	if !ok || inst.ID != "inst-1" {
		t.Fatalf("Unregister() = %v, %v", inst, ok)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
	if m.GetByRoom("room_1") != nil {
		t.Error("room index should be cleared")
	}
	if _, ok := m.Unregister("inst-1"); ok {
		t.Error("second Unregister() should report false")
	}
}

func TestUnregister_KeepsNewerRoomOwner(t *testing.T) {
	m := newTestManager()
	_ = m.Register(&Instance{ID: "old", RoomID: "room_1"})
	_ = m.Register(&Instance{ID: "new", RoomID: "room_1"})

	m.Unregister("old")

	if got := m.GetByRoom("room_1"); got == nil || got.ID != "new" {
		t.Errorf("GetByRoom() = %v, want the newer instance", got)
	}
}

func TestRecordTurn(t *testing.T) {
	m := newTestManager()
	_ = m.Register(&Instance{ID: "inst-1", RoomID: "room_1"})

	for i := 0; i < 3; i++ {
		if err := m.RecordTurn("inst-1"); err != nil {
			t.Fatalf("RecordTurn() error = %v", err)
		}
	}
	if err := m.RecordTurn("missing"); !errors.Is(err, ErrInstanceNotFound) {
		t.Errorf("RecordTurn(missing) error = %v, want ErrInstanceNotFound", err)
	}

	info := m.List()[0]
	if info.Turns != 3 {
		t.Errorf("Turns = %d, want 3", info.Turns)
	}
	if !info.LastActivity.After(info.StartedAt) {
		t.Errorf("LastActivity %v should be after StartedAt %v", info.LastActivity, info.StartedAt)
	}
}

func TestList_OldestFirst(t *testing.T) {
	m := newTestManager()
	for i := 3; i >= 1; i-- {
		_ = m.Register(&Instance{ID: fmt.Sprintf("inst-%d", i), RoomID: fmt.Sprintf("room_%d", i)})
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	want := []string{"inst-3", "inst-2", "inst-1"}
	for i, info := range list {
		if info.ID != want[i] {
			t.Errorf("List()[%d] = %s, want %s", i, info.ID, want[i])
		}
	}
}

func TestStopAll(t *testing.T) {
	m := newTestManager()
	_ = m.Register(&Instance{ID: "inst-1", RoomID: "room_1"})
	_ = m.Register(&Instance{ID: "inst-2", RoomID: "room_2"})

	var mu sync.Mutex
	stopped := map[string]bool{}
	boom := errors.New("vendor down")

	err := m.StopAll(context.Background(), func(_ context.Context, id string) error {
		mu.Lock()
		stopped[id] = true
		mu.Unlock()
		if id == "inst-2" {
			return boom
		}
		return nil
	})

	if !errors.Is(err, boom) {
		t.Errorf("StopAll() error = %v, want %v", err, boom)
	}
	if !stopped["inst-1"] || !stopped["inst-2"] {
		t.Errorf("stopped = %v, want both instances", stopped)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after StopAll", m.Count())
	}
}

func TestIdentityHelpers(t *testing.T) {
	if got := AgentUserID("room_1"); got != "agent_room_1" {
		t.Errorf("AgentUserID() = %q", got)
	}
	if got := AgentStreamID("room_1"); got != "agent_stream_room_1" {
		t.Errorf("AgentStreamID() = %q", got)
	}
	if got := UserStreamID("user_1"); got != "user_1_stream" {
		t.Errorf("UserStreamID() = %q", got)
	}
}
