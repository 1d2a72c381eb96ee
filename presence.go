package gather

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Presence & Typing Tracker
// ============================================================================

// DefaultTypingIdle is how long a typing entry survives without a repeated
// typing signal before it expires locally. Expiry guards against a crashed
// or closed peer whose stopped-typing event never arrives.
const DefaultTypingIdle = 1000 * time.Millisecond

// PresenceTracker maintains ephemeral per-conversation typing sets and a
// per-user online map, derived purely from transient events. Nothing here
// is persisted.
type PresenceTracker struct {
	idle time.Duration

	mu     sync.Mutex
	typing map[string]map[string]*time.Timer
	online map[string]bool
}

// NewPresenceTracker creates a tracker with the default 1000 ms typing
// idle window.
func NewPresenceTracker() *PresenceTracker {
	return newPresenceTracker(DefaultTypingIdle)
}

func newPresenceTracker(idle time.Duration) *PresenceTracker {
	return &PresenceTracker{
		idle:   idle,
		typing: make(map[string]map[string]*time.Timer),
		online: make(map[string]bool),
	}
}

// Bind subscribes the tracker on the messaging dispatcher.
func (t *PresenceTracker) Bind(dispatcher *Dispatcher) {
	dispatcher.Subscribe(EventUserTyping, func(p json.RawMessage) {
		var e TypingPayload
		if json.Unmarshal(p, &e) == nil {
			t.MarkTyping(e.ConversationID, e.UserName)
		}
	})
	dispatcher.Subscribe(EventUserStoppedTyping, func(p json.RawMessage) {
		var e TypingPayload
		if json.Unmarshal(p, &e) == nil {
			t.ClearTyping(e.ConversationID, e.UserName)
		}
	})
	dispatcher.Subscribe(EventUserOnline, func(p json.RawMessage) {
		var userID string
		if json.Unmarshal(p, &userID) == nil {
			t.SetOnline(userID, true)
		}
	})
	dispatcher.Subscribe(EventUserOffline, func(p json.RawMessage) {
		var userID string
		if json.Unmarshal(p, &userID) == nil {
			t.SetOnline(userID, false)
		}
	})
	dispatcher.Subscribe(EventOnlineUsers, func(p json.RawMessage) {
		var userIDs []string
		if json.Unmarshal(p, &userIDs) == nil {
			t.ReplaceOnline(userIDs)
		}
	})
}

// MarkTyping adds displayName to the typing set of a conversation and arms
// (or re-arms) its idle expiry timer. A repeated signal extends the entry.
func (t *PresenceTracker) MarkTyping(conversationID, displayName string) {
	if conversationID == "" || displayName == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	byName, ok := t.typing[conversationID]
	if !ok {
		byName = make(map[string]*time.Timer)
		t.typing[conversationID] = byName
	}
	if timer, ok := byName[displayName]; ok {
		timer.Reset(t.idle)
		return
	}
	byName[displayName] = time.AfterFunc(t.idle, func() {
		t.ClearTyping(conversationID, displayName)
	})
}

// ClearTyping removes displayName from a conversation's typing set,
// whether by explicit stop event or idle expiry. Absent entries are a
// no-op.
func (t *PresenceTracker) ClearTyping(conversationID, displayName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byName, ok := t.typing[conversationID]
	if !ok {
		return
	}
	if timer, ok := byName[displayName]; ok {
		timer.Stop()
		delete(byName, displayName)
	}
	if len(byName) == 0 {
		delete(t.typing, conversationID)
	}
}

// Typing returns who is currently typing in a conversation, sorted.
func (t *PresenceTracker) Typing(conversationID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	byName := t.typing[conversationID]
	out := make([]string, 0, len(byName))
	for name := range byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetOnline records an explicit online/offline event. Explicit events are
// authoritative; absence of a heartbeat is never interpreted client-side.
func (t *PresenceTracker) SetOnline(userID string, online bool) {
	if userID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
}

// ReplaceOnline adopts a full online-users snapshot.
func (t *PresenceTracker) ReplaceOnline(userIDs []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online = make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			t.online[id] = true
		}
	}
}

// Online reports whether a user is currently online.
func (t *PresenceTracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Stop cancels all pending expiry timers and clears the typing state.
func (t *PresenceTracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, byName := range t.typing {
		for _, timer := range byName {
			timer.Stop()
		}
	}
	t.typing = make(map[string]map[string]*time.Timer)
}
