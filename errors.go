package gather

import "fmt"

// ============================================================================
// Error Taxonomy
// ============================================================================

// ConnectionError indicates the transport handshake or the connection
// itself failed. The hub retries these automatically per its backoff
// schedule; they surface to callers only through state-change events.
type ConnectionError struct {
	Hub   string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("hub %s: connection failed: %v", e.Hub, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// AuthError indicates the server rejected the auth token. It is terminal:
// the hub will not retry with the same token, and reconnection must be
// re-initiated by the caller once a fresh token is available.
type AuthError struct {
	Hub    string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("hub %s: authentication rejected: %s", e.Hub, e.Reason)
}

// InvocationError indicates a remote call failed after being issued.
// It propagates to the calling action, which rolls back any optimistic
// state associated with it.
type InvocationError struct {
	Op    string
	Cause error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoke %s: %v", e.Op, e.Cause)
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// ErrNotConnected is returned by invocations issued while the hub has no
// live transport. Room join/leave calls swallow it; everything else
// surfaces it to the caller.
var ErrNotConnected = fmt.Errorf("gather: not connected")
