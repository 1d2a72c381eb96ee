package gather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ============================================================================
// Connection State
// ============================================================================

// HubState represents the connection lifecycle state of a hub.
type HubState string

const (
	StateDisconnected HubState = "disconnected"
	StateConnecting   HubState = "connecting"
	StateConnected    HubState = "connected"
	StateReconnecting HubState = "reconnecting"
)

// DefaultBackoffSchedule is the retry delay sequence used after connection
// failures. Once exhausted, the last interval repeats indefinitely.
var DefaultBackoffSchedule = []time.Duration{
	0, 0, 0,
	1 * time.Second,
	3 * time.Second,
	5 * time.Second,
}

type backoff struct {
	schedule []time.Duration
	attempt  int
}

func (b *backoff) next() time.Duration {
	i := b.attempt
	if i >= len(b.schedule) {
		i = len(b.schedule) - 1
	}
	b.attempt++
	return b.schedule[i]
}

func (b *backoff) reset() { b.attempt = 0 }

// ============================================================================
// Hub Configuration
// ============================================================================

// TokenProvider supplies the bearer token for a connection attempt. It is
// consulted on every attempt, so a caller can rotate tokens between
// reconnects.
type TokenProvider func(ctx context.Context) (string, error)

// HubConfig configures one Hub instance.
type HubConfig struct {
	// Name identifies the hub in logs and meta events ("messaging",
	// "activity").
	Name string
	// URL is the full hub endpoint.
	URL string
	// Tokens supplies the auth token at connect time. Required.
	Tokens TokenProvider
	// Events is the table of server event types this hub is expected to
	// push. Frames outside the table are still dispatched, but logged.
	Events []string
	// BackoffSchedule overrides DefaultBackoffSchedule.
	BackoffSchedule []time.Duration
	// Dial overrides the transport dialer. Tests inject fakes here.
	Dial dialFunc
	// HTTPClient is used for the WebSocket upgrade and the SSE fallback.
	HTTPClient *http.Client
	// Logger receives connection lifecycle logs. Defaults to slog.Default.
	Logger *slog.Logger
}

func (c *HubConfig) defaults() {
	if len(c.BackoffSchedule) == 0 {
		c.BackoffSchedule = DefaultBackoffSchedule
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Dial == nil {
		c.Dial = dialTransport(c.HTTPClient)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// ============================================================================
// Hub
// ============================================================================

// Hub owns one persistent bidirectional channel to a realtime endpoint. It
// manages connect/disconnect, automatic reconnection with a fixed backoff
// schedule, and token authentication at connect time. Every inbound frame
// is handed to the dispatcher under its declared event-type name; the hub
// performs no interpretation of payloads.
//
// Hubs are plain constructed values with an explicit lifecycle; nothing in
// this package holds one in a package-level variable.
type Hub struct {
	cfg        HubConfig
	dispatcher *Dispatcher
	known      map[string]bool

	mu          sync.Mutex
	state       HubState
	conn        frameConn
	cancelRead  context.CancelFunc
	retryTimer  *time.Timer
	intentional bool
	retry       backoff
}

// NewHub creates a hub publishing into dispatcher. Connect must be called
// before any invocation.
func NewHub(cfg HubConfig, dispatcher *Dispatcher) *Hub {
	cfg.defaults()
	known := make(map[string]bool, len(cfg.Events))
	for _, e := range cfg.Events {
		known[e] = true
	}
	return &Hub{
		cfg:        cfg,
		dispatcher: dispatcher,
		known:      known,
		state:      StateDisconnected,
		retry:      backoff{schedule: cfg.BackoffSchedule},
	}
}

// Name returns the hub's configured name.
func (h *Hub) Name() string { return h.cfg.Name }

// State returns the current lifecycle state.
func (h *Hub) State() HubState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Connected reports whether a live transport is attached.
func (h *Hub) Connected() bool {
	return h.State() == StateConnected
}

// Connect establishes the channel. It is a no-op when the hub is already
// connected or connecting. A handshake or dial failure returns a
// ConnectionError and schedules an automatic retry per the backoff
// schedule; an auth rejection returns an AuthError, surfaces a terminal
// disconnected event, and is not retried until Connect is called again
// (with a fresh token from the provider).
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateDisconnected {
		h.mu.Unlock()
		return nil
	}
	// A failure-retry timer may still be armed from an earlier attempt.
	// This call supersedes it; letting it fire would attach a second
	// transport alongside ours.
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	h.state = StateConnecting
	h.intentional = false
	h.mu.Unlock()

	err := h.attach(ctx, false)
	if err == nil {
		return nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		h.terminate("auth: " + authErr.Reason)
		return err
	}

	h.setState(StateDisconnected)
	h.scheduleRetry(false)
	return &ConnectionError{Hub: h.cfg.Name, Cause: err}
}

// Disconnect gracefully closes the channel and cancels any pending retry.
// It is idempotent.
func (h *Hub) Disconnect() error {
	h.mu.Lock()
	h.intentional = true
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	if h.cancelRead != nil {
		h.cancelRead()
		h.cancelRead = nil
	}
	conn := h.conn
	h.conn = nil
	wasDisconnected := h.state == StateDisconnected
	h.state = StateDisconnected
	h.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if !wasDisconnected {
		h.publishMeta(EventDisconnected, map[string]any{"hub": h.cfg.Name, "reason": "client disconnect"})
	}
	return nil
}

// Invoke sends a remote operation over the transport. It fails with
// ErrNotConnected when no live channel exists; room join/leave callers
// treat that as a silent drop, everything else surfaces it.
func (h *Hub) Invoke(ctx context.Context, op string, payload interface{}) error {
	h.mu.Lock()
	conn := h.conn
	connected := h.state == StateConnected
	h.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}
	if err := conn.SendCommand(ctx, Command{Type: op, Payload: payload}); err != nil {
		return &InvocationError{Op: op, Cause: err}
	}
	return nil
}

// ── connection internals ─────────────────────────────────────────────────

// attach dials, completes the handshake, and starts the read loop. The
// reconnecting flag selects which meta event a success emits.
func (h *Hub) attach(ctx context.Context, reconnecting bool) error {
	token, err := h.cfg.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("token provider: %w", err)
	}

	conn, err := h.cfg.Dial(ctx, h.cfg.URL, token)
	if err != nil {
		return err
	}

	// The server acknowledges the handshake with a "connected" frame, or
	// rejects the token with an "error" frame before closing.
	env, err := conn.ReadEnvelope(ctx)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("handshake read: %w", err)
	}
	switch env.Type {
	case EventConnected:
	case EventError:
		_ = conn.Close()
		var p ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		return &AuthError{Hub: h.cfg.Name, Reason: p.Message}
	default:
		_ = conn.Close()
		return fmt.Errorf("handshake: expected %q frame, got %q", EventConnected, env.Type)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	if h.intentional {
		h.mu.Unlock()
		cancel()
		_ = conn.Close()
		return fmt.Errorf("disconnected during handshake")
	}
	h.conn = conn
	h.state = StateConnected
	h.cancelRead = cancel
	h.retry.reset()
	h.mu.Unlock()

	if reconnecting {
		h.publishMeta(EventReconnected, map[string]any{"hub": h.cfg.Name})
	} else {
		h.publishMeta(EventConnected, env.Payload)
	}
	h.cfg.Logger.Info("hub connected", "hub", h.cfg.Name, "reconnect", reconnecting)

	go h.readLoop(readCtx, conn)
	return nil
}

func (h *Hub) readLoop(ctx context.Context, conn frameConn) {
	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			h.mu.Lock()
			intentional := h.intentional
			stale := h.conn != conn
			h.mu.Unlock()
			if intentional || stale {
				return
			}

			h.cfg.Logger.Warn("hub transport dropped", "hub", h.cfg.Name, "error", err)
			h.mu.Lock()
			h.conn = nil
			h.state = StateReconnecting
			attempt := h.retry.attempt + 1
			h.mu.Unlock()

			h.publishMeta(EventReconnecting, map[string]any{"hub": h.cfg.Name, "attempt": attempt})
			h.scheduleRetry(true)
			return
		}

		// Frames from a transport this hub no longer owns must not reach
		// the dispatcher.
		h.mu.Lock()
		stale := h.conn != conn
		h.mu.Unlock()
		if stale {
			return
		}

		if !h.known[env.Type] {
			h.cfg.Logger.Debug("event outside hub table", "hub", h.cfg.Name, "event", env.Type)
		}
		h.dispatcher.Publish(env.Type, env.Payload)
	}
}

// scheduleRetry arms the backoff timer for the next attempt. Retries
// continue indefinitely until an explicit Disconnect or an auth rejection.
func (h *Hub) scheduleRetry(reconnecting bool) {
	h.mu.Lock()
	if h.intentional {
		h.mu.Unlock()
		return
	}
	delay := h.retry.next()
	h.retryTimer = time.AfterFunc(delay, func() { h.retryAttempt(reconnecting) })
	h.mu.Unlock()

	h.cfg.Logger.Debug("hub retry scheduled", "hub", h.cfg.Name, "delay", delay)
}

func (h *Hub) retryAttempt(reconnecting bool) {
	h.mu.Lock()
	if h.intentional {
		h.mu.Unlock()
		return
	}
	h.retryTimer = nil
	h.mu.Unlock()

	err := h.attach(context.Background(), reconnecting)
	if err == nil {
		return
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		h.terminate("auth: " + authErr.Reason)
		return
	}
	h.cfg.Logger.Debug("hub retry failed", "hub", h.cfg.Name, "error", err)
	h.scheduleRetry(reconnecting)
}

// terminate moves the hub to Disconnected without scheduling a retry.
func (h *Hub) terminate(reason string) {
	h.mu.Lock()
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	h.state = StateDisconnected
	h.conn = nil
	h.mu.Unlock()

	h.cfg.Logger.Error("hub terminated", "hub", h.cfg.Name, "reason", reason)
	h.publishMeta(EventDisconnected, map[string]any{"hub": h.cfg.Name, "reason": reason})
}

func (h *Hub) setState(s HubState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Hub) publishMeta(eventType string, payload any) {
	switch p := payload.(type) {
	case json.RawMessage:
		h.dispatcher.Publish(eventType, p)
	case nil:
		h.dispatcher.Publish(eventType, nil)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			data = nil
		}
		h.dispatcher.Publish(eventType, data)
	}
}
