package gather

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
)

// ============================================================================
// Room Subscription Manager
// ============================================================================

// roomInvoker is the slice of Hub the manager needs. Tests substitute it.
type roomInvoker interface {
	Invoke(ctx context.Context, op string, payload interface{}) error
	Connected() bool
}

// RoomManager tracks which conversation rooms the client has joined on the
// server side and re-establishes them after a reconnect, since server-side
// room state does not survive a connection reset.
//
// Membership is a back-reference only; the manager owns no conversation
// data.
type RoomManager struct {
	hub    roomInvoker
	logger *slog.Logger

	mu     sync.Mutex
	joined map[string]bool
}

// NewRoomManager creates a manager bound to hub and wires its rejoin
// behavior to the dispatcher's reconnected meta event.
func NewRoomManager(hub roomInvoker, dispatcher *Dispatcher, logger *slog.Logger) *RoomManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &RoomManager{
		hub:    hub,
		logger: logger,
		joined: make(map[string]bool),
	}
	dispatcher.Subscribe(EventReconnected, func(json.RawMessage) {
		m.rejoinAll()
	})
	return m
}

// Join subscribes the client to roomID. It is idempotent: joining a room
// already held is a no-op, so rapid focus flips cannot cause a server-side
// double join. Calls made while the transport is down are silently dropped;
// the reconnect rejoin restores membership once the channel is back.
func (m *RoomManager) Join(ctx context.Context, roomID string) error {
	m.mu.Lock()
	if m.joined[roomID] {
		m.mu.Unlock()
		return nil
	}
	m.joined[roomID] = true
	m.mu.Unlock()

	err := m.hub.Invoke(ctx, OpJoinRoom, map[string]string{"roomId": roomID})
	if errors.Is(err, ErrNotConnected) {
		m.logger.Debug("join dropped, not connected", "room", roomID)
		return nil
	}
	return err
}

// Leave unsubscribes from roomID; leaving a room not joined is a no-op.
func (m *RoomManager) Leave(ctx context.Context, roomID string) error {
	m.mu.Lock()
	if !m.joined[roomID] {
		m.mu.Unlock()
		return nil
	}
	delete(m.joined, roomID)
	m.mu.Unlock()

	err := m.hub.Invoke(ctx, OpLeaveRoom, map[string]string{"roomId": roomID})
	if errors.Is(err, ErrNotConnected) {
		m.logger.Debug("leave dropped, not connected", "room", roomID)
		return nil
	}
	return err
}

// Member reports whether roomID is in the local membership set.
func (m *RoomManager) Member(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined[roomID]
}

// Rooms returns the membership set, sorted for stable iteration.
func (m *RoomManager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.joined))
	for id := range m.joined {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// rejoinAll re-issues join for every held room after a reconnect.
func (m *RoomManager) rejoinAll() {
	for _, roomID := range m.Rooms() {
		err := m.hub.Invoke(context.Background(), OpJoinRoom, map[string]string{"roomId": roomID})
		if err != nil {
			m.logger.Warn("rejoin failed", "room", roomID, "error", err)
		}
	}
}
