package gather

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler receives a server-pushed event payload, unparsed.
type EventHandler func(payload json.RawMessage)

type registration struct {
	id      uint64
	handler EventHandler
}

// Dispatcher is an in-process publish/subscribe registry mapping event-type
// names to handler lists. Handlers for one event type run synchronously in
// registration order; no ordering holds across different event types.
type Dispatcher struct {
	mu       sync.Mutex
	nextID   uint64
	handlers map[string][]registration
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatcher. A nil logger falls back to
// slog.Default for handler panic reports.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string][]registration),
		logger:   logger,
	}
}

// Subscribe registers handler for eventType and returns a capability that
// removes exactly this registration. The same handler may be registered
// multiple times; each registration is independent.
func (d *Dispatcher) Subscribe(eventType string, handler EventHandler) (unsubscribe func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	d.handlers[eventType] = append(d.handlers[eventType], registration{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.remove(eventType, id)
		})
	}
}

func (d *Dispatcher) remove(eventType string, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[eventType]
	for i, r := range regs {
		if r.id == id {
			d.handlers[eventType] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler currently registered for eventType, in
// registration order, passing payload unchanged. A panic in one handler is
// recovered and logged without preventing the remaining handlers from
// running.
func (d *Dispatcher) Publish(eventType string, payload json.RawMessage) {
	d.mu.Lock()
	regs := append([]registration(nil), d.handlers[eventType]...)
	d.mu.Unlock()

	for _, r := range regs {
		d.invoke(eventType, r.handler, payload)
	}
}

func (d *Dispatcher) invoke(eventType string, h EventHandler, payload json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("event handler panicked", "event", eventType, "panic", rec)
		}
	}()
	h(payload)
}

// HandlerCount reports how many registrations exist for eventType.
func (d *Dispatcher) HandlerCount(eventType string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers[eventType])
}
