package gather

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ── fake transport ───────────────────────────────────────────────────────

var errConnDropped = errors.New("connection dropped")

// fakeConn is an in-memory frameConn fed by tests.
type fakeConn struct {
	recv chan Envelope

	mu     sync.Mutex
	sent   []Command
	closed bool
	done   chan struct{}
}

func newFakeConn() *fakeConn {
	c := &fakeConn{
		recv: make(chan Envelope, 16),
		done: make(chan struct{}),
	}
	return c
}

func (c *fakeConn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	select {
	case env := <-c.recv:
		return env, nil
	case <-c.done:
		return Envelope{}, errConnDropped
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *fakeConn) SendCommand(_ context.Context, cmd Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnDropped
	}
	c.sent = append(c.sent, cmd)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// push delivers a server frame to the reader.
func (c *fakeConn) push(eventType string, payload any) {
	data, _ := json.Marshal(payload)
	c.recv <- Envelope{Type: eventType, Payload: data}
}

// drop simulates a transport failure.
func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) commands() []Command {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Command(nil), c.sent...)
}

// fakeDialer scripts a sequence of connection attempts.
type fakeDialer struct {
	mu        sync.Mutex
	failures  int    // dial errors before the first success
	rejectAll bool   // every attempt ends in an auth rejection
	conns     []*fakeConn
	tokens    []string
}

func (d *fakeDialer) dial(_ context.Context, _ string, token string) (frameConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tokens = append(d.tokens, token)

	conn := newFakeConn()
	if d.rejectAll {
		conn.push(EventError, ErrorPayload{Message: "invalid token"})
		d.conns = append(d.conns, conn)
		return conn, nil
	}
	if d.failures > 0 {
		d.failures--
		return nil, errConnDropped
	}
	conn.push(EventConnected, map[string]string{"sessionId": "s1"})
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tokens)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func staticTokens(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// zeroBackoff keeps retry tests fast.
var zeroBackoff = []time.Duration{0}

func newTestHub(t *testing.T, d *fakeDialer) (*Hub, *Dispatcher) {
	t.Helper()
	dispatcher := NewDispatcher(testLogger())
	hub := NewHub(HubConfig{
		Name:            "messaging",
		URL:             "https://rt.test/messaging",
		Tokens:          staticTokens("tok-1"),
		Events:          MessagingHubEvents,
		BackoffSchedule: zeroBackoff,
		Dial:            d.dial,
		Logger:          testLogger(),
	}, dispatcher)
	t.Cleanup(func() { _ = hub.Disconnect() })
	return hub, dispatcher
}
