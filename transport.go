package gather

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// ============================================================================
// Wire Format
// ============================================================================

// Envelope is the wire format for every server-pushed frame. The transport
// performs no interpretation of Payload; it is handed to the dispatcher
// under the declared Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server invocation frame.
type Command struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

// ============================================================================
// Frame Connection
// ============================================================================

// frameConn is one live bidirectional (or fallback receive-plus-POST)
// channel to a hub endpoint.
type frameConn interface {
	// ReadEnvelope blocks until the next server frame or a transport error.
	ReadEnvelope(ctx context.Context) (Envelope, error)
	// SendCommand writes one invocation frame.
	SendCommand(ctx context.Context, cmd Command) error
	Close() error
}

// dialFunc establishes a frameConn to url authenticated by token. It is a
// hub parameter so tests can inject fake transports.
type dialFunc func(ctx context.Context, url, token string) (frameConn, error)

// ============================================================================
// WebSocket Transport (primary)
// ============================================================================

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	var env Envelope
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("malformed frame: %w", err)
	}
	return env, nil
}

func (c *wsConn) SendCommand(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// dialTransport connects the primary WebSocket transport and falls back to
// SSE when the server answers the upgrade with an HTTP response other than
// an auth rejection. Auth rejections (401/403) are returned as AuthError
// and are never retried with the same token.
func dialTransport(httpClient *http.Client) dialFunc {
	return func(ctx context.Context, url, token string) (frameConn, error) {
		wsURL := strings.Replace(url, "https://", "wss://", 1)
		wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
		wsURL += "?token=" + token

		conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: httpClient})
		if err == nil {
			return &wsConn{conn: conn}, nil
		}
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden:
				return nil, &AuthError{Reason: fmt.Sprintf("handshake rejected (HTTP %d)", resp.StatusCode)}
			default:
				// Endpoint reachable but not speaking WebSocket: negotiate
				// down to the SSE fallback.
				return dialSSE(ctx, httpClient, url, token)
			}
		}
		return nil, err
	}
}

// ============================================================================
// SSE Transport (fallback)
// ============================================================================

// sseConn receives frames over a text/event-stream response and carries
// invocations as HTTP POSTs to the hub's invoke endpoint.
type sseConn struct {
	httpClient *http.Client
	invokeURL  string
	token      string
	body       interface{ Close() error }
	scanner    *bufio.Scanner
}

func dialSSE(ctx context.Context, httpClient *http.Client, url, token string) (frameConn, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url+"/sse?token="+token, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, &AuthError{Reason: fmt.Sprintf("SSE handshake rejected (HTTP %d)", resp.StatusCode)}
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("SSE connect: HTTP %d", resp.StatusCode)
	}

	return &sseConn{
		httpClient: httpClient,
		invokeURL:  url + "/invoke",
		token:      token,
		body:       resp.Body,
		scanner:    bufio.NewScanner(resp.Body),
	}, nil
}

func (c *sseConn) ReadEnvelope(ctx context.Context) (Envelope, error) {
	var env Envelope
	for c.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return env, err
		}
		line := c.scanner.Text()
		if strings.HasPrefix(line, ":") {
			continue // heartbeat comment
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
			continue
		}
		return env, nil
	}
	if err := c.scanner.Err(); err != nil {
		return env, err
	}
	return env, fmt.Errorf("stream ended")
}

func (c *sseConn) SendCommand(ctx context.Context, cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.invokeURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("invoke failed: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (c *sseConn) Close() error {
	return c.body.Close()
}
