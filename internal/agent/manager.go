// ABOUTME: Registry of running cloud agent instances
// ABOUTME: Indexes instances by id and room, records activity and stops everything on shutdown

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrInstanceAlreadyRegistered indicates an instance with the same ID is already tracked.
var ErrInstanceAlreadyRegistered = errors.New("instance already registered")

// ErrInstanceNotFound indicates the specified instance was not found.
var ErrInstanceNotFound = errors.New("instance not found")

// StopFunc stops one remote instance.
type StopFunc func(ctx context.Context, instanceID string) error

// Manager tracks the agent instances this gateway started.
type Manager struct {
	instances map[string]*Instance
	byRoom    map[string]string
	mu        sync.RWMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		instances: make(map[string]*Instance),
		byRoom:    make(map[string]string),
		logger:    logger.With("component", "agents"),
		now:       time.Now,
	}
}

// Register adds a started instance. StartedAt is set when zero.
// Returns ErrInstanceAlreadyRegistered if the ID is already tracked.
func (m *Manager) Register(inst *Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.instances[inst.ID]; exists {
		return ErrInstanceAlreadyRegistered
	}
	if inst.StartedAt.IsZero() {
		inst.StartedAt = m.now()
	}

	m.instances[inst.ID] = inst
	m.byRoom[inst.RoomID] = inst.ID
	m.logger.Info("agent instance started",
		"instance_id", inst.ID,
		"room_id", inst.RoomID,
		"user_id", inst.UserID,
		"total_instances", len(m.instances),
	)
	return nil
}

// Unregister removes an instance and returns it.
func (m *Manager) Unregister(instanceID string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, exists := m.instances[instanceID]
	if !exists {
		return nil, false
	}
	delete(m.instances, instanceID)
	if m.byRoom[inst.RoomID] == instanceID {
		delete(m.byRoom, inst.RoomID)
	}

	m.logger.Info("agent instance stopped",
		"instance_id", instanceID,
		"room_id", inst.RoomID,
		"turns", inst.turns.Load(),
		"total_instances", len(m.instances),
	)
	return inst, true
}

// Get retrieves an instance by ID.
func (m *Manager) Get(instanceID string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID]
	return inst, ok
}

// GetByRoom returns the most recently registered instance in roomID, or nil.
func (m *Manager) GetByRoom(roomID string) *Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRoom[roomID]
	if !ok {
		return nil
	}
	return m.instances[id]
}

// RecordTurn counts a text turn sent to the instance.
func (m *Manager) RecordTurn(instanceID string) error {
	inst, ok := m.Get(instanceID)
	if !ok {
		return ErrInstanceNotFound
	}
	inst.turns.Add(1)
	inst.touch(m.now())
	return nil
}

// Touch marks vendor activity on the instance, if it is tracked.
func (m *Manager) Touch(instanceID string) {
	if inst, ok := m.Get(instanceID); ok {
		inst.touch(m.now())
	}
}

// List returns info for every instance, oldest first.
func (m *Manager) List() []InstanceInfo {
	m.mu.RLock()
	out := make([]InstanceInfo, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of tracked instances.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// StopAll stops and unregisters every instance, continuing past failures.
// It returns the joined stop errors.
func (m *Manager) StopAll(ctx context.Context, stop StopFunc) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.instances))
	for id := range m.instances {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := stop(ctx, id); err != nil {
			m.logger.Warn("failed to stop agent instance", "instance_id", id, "error", err)
			errs = append(errs, err)
		}
		m.Unregister(id)
	}
	return errors.Join(errs...)
}
