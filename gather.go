// Package gather provides the official Go SDK for the Gather community
// platform API.
//
// The REST surface supplies initial state (conversations, message history,
// posts); the realtime layer keeps it in sync afterwards through two
// persistent hubs (messaging, activity) with automatic reconnection and
// optimistic reconciliation.
//
// Example:
//
//	client := gather.NewClient("tok-...")
//
//	// REST
//	convs, _ := client.Conversations().List(ctx)
//
//	// Realtime (sub-module pattern)
//	session := client.Realtime().NewSession(nil)
//	if err := session.Connect(ctx); err != nil { ... }
//	defer session.Close()
package gather

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.gather.community"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the root API client. It holds the bearer token and the HTTP
// transport shared by every sub-client.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	realtime   *RealtimeClient
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger sets the logger used across the SDK.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a new Gather client authenticated by token.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token:   token,
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.realtime = &RealtimeClient{client: c}
	return c
}

// SetToken updates the auth token, e.g. after a refresh by the external
// auth collaborator. Token issuance itself is out of scope of this SDK.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string { return c.baseURL }

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	data, err := c.doRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Result](data)
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func paginationQuery(opts *PaginationOptions) map[string]string {
	if opts == nil {
		return nil
	}
	q := map[string]string{}
	if opts.Limit > 0 {
		q["limit"] = fmt.Sprintf("%d", opts.Limit)
	}
	if opts.Offset > 0 {
		q["offset"] = fmt.Sprintf("%d", opts.Offset)
	}
	if len(q) == 0 {
		return nil
	}
	return q
}

// ============================================================================
// Sub-Clients
// ============================================================================

// Account returns the identity sub-client.
func (c *Client) Account() *AccountClient { return &AccountClient{c: c} }

// Conversations returns the conversation sub-client.
func (c *Client) Conversations() *ConversationsClient { return &ConversationsClient{c: c} }

// Messages returns the message sub-client.
func (c *Client) Messages() *MessagesClient { return &MessagesClient{c: c} }

// Posts returns the feed post sub-client.
func (c *Client) Posts() *PostsClient { return &PostsClient{c: c} }

// Comments returns the comment sub-client.
func (c *Client) Comments() *CommentsClient { return &CommentsClient{c: c} }

// Calls returns the call token sub-client.
func (c *Client) Calls() *CallsClient { return &CallsClient{c: c} }

// Realtime returns the realtime connection factory.
func (c *Client) Realtime() *RealtimeClient { return c.realtime }

// AccountClient handles identity.
type AccountClient struct{ c *Client }

// Me fetches the authenticated user. The session uses this identity to
// derive message ownership.
func (a *AccountClient) Me(ctx context.Context) (*User, error) {
	res, err := a.c.do(ctx, "GET", "/api/me", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "fetch identity")
	}
	var user User
	if err := res.Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode identity: %w", err)
	}
	return &user, nil
}

// ConversationsClient handles conversation management.
type ConversationsClient struct{ c *Client }

func (cv *ConversationsClient) List(ctx context.Context) ([]Conversation, error) {
	res, err := cv.c.do(ctx, "GET", "/api/conversations", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "list conversations")
	}
	var convs []Conversation
	if err := res.Decode(&convs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return convs, nil
}

func (cv *ConversationsClient) CreateDirect(ctx context.Context, userID string) (*Conversation, error) {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/direct", map[string]string{"userId": userID}, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "create conversation")
	}
	var conv Conversation
	if err := res.Decode(&conv); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &conv, nil
}

func (cv *ConversationsClient) MarkAsRead(ctx context.Context, conversationID string) error {
	res, err := cv.c.do(ctx, "POST", "/api/conversations/"+conversationID+"/read", nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultError(res, "mark as read")
	}
	return nil
}

// ExportCSV downloads a conversation's history as CSV bytes.
func (cv *ConversationsClient) ExportCSV(ctx context.Context, conversationID string) ([]byte, error) {
	return cv.c.doRequest(ctx, "GET", "/api/conversations/"+conversationID+"/export", nil,
		map[string]string{"format": "csv"})
}

// MessagesClient handles message CRUD.
type MessagesClient struct{ c *Client }

// History fetches a conversation's message history, oldest first.
func (m *MessagesClient) History(ctx context.Context, conversationID string, opts *PaginationOptions) ([]Message, error) {
	res, err := m.c.do(ctx, "GET", "/api/messages/"+conversationID, nil, paginationQuery(opts))
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "fetch history")
	}
	var msgs []Message
	if err := res.Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return msgs, nil
}

// Send posts a message and returns the server-assigned copy.
func (m *MessagesClient) Send(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error) {
	payload := map[string]any{"content": content}
	if opts != nil && opts.ReplyToID != "" {
		payload["replyToId"] = opts.ReplyToID
	}
	res, err := m.c.do(ctx, "POST", "/api/messages/"+conversationID, payload, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "send message")
	}
	var msg Message
	if err := res.Decode(&msg); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	return &msg, nil
}

func (m *MessagesClient) Delete(ctx context.Context, messageID string) error {
	res, err := m.c.do(ctx, "DELETE", "/api/messages/"+messageID, nil, nil)
	if err != nil {
		return err
	}
	if !res.OK {
		return resultError(res, "delete message")
	}
	return nil
}

// PostsClient handles the activity feed.
type PostsClient struct{ c *Client }

// feedData is the list response; LikedPostIDs seeds the per-user reaction
// index without shipping full liker lists.
type feedData struct {
	Posts        []Post   `json:"posts"`
	LikedPostIDs []string `json:"likedPostIds"`
}

// List fetches the feed along with the IDs of posts the current user has
// already reacted to.
func (p *PostsClient) List(ctx context.Context, opts *PaginationOptions) ([]Post, []string, error) {
	res, err := p.c.do(ctx, "GET", "/api/posts", nil, paginationQuery(opts))
	if err != nil {
		return nil, nil, err
	}
	if !res.OK {
		return nil, nil, resultError(res, "list posts")
	}
	var feed feedData
	if err := res.Decode(&feed); err != nil {
		return nil, nil, fmt.Errorf("failed to decode feed: %w", err)
	}
	return feed.Posts, feed.LikedPostIDs, nil
}

// likeData is the toggle response carrying the authoritative counter.
type likeData struct {
	ReactionCount int  `json:"reactionCount"`
	IsLiked       bool `json:"isLiked"`
}

// ToggleLike flips the current user's reaction on a post server-side and
// returns the authoritative counter.
func (p *PostsClient) ToggleLike(ctx context.Context, postID string) (reactionCount int, err error) {
	res, err := p.c.do(ctx, "POST", "/api/posts/"+postID+"/like", nil, nil)
	if err != nil {
		return 0, err
	}
	if !res.OK {
		return 0, resultError(res, "toggle like")
	}
	var data likeData
	if err := res.Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode like result: %w", err)
	}
	return data.ReactionCount, nil
}

// CommentsClient handles comments on posts.
type CommentsClient struct{ c *Client }

// commentData is the add response; CommentCount is the authoritative
// post-wide total.
type commentData struct {
	Comment      Comment `json:"comment"`
	CommentCount int     `json:"commentCount"`
}

func (cc *CommentsClient) Add(ctx context.Context, postID, content string) (*Comment, int, error) {
	res, err := cc.c.do(ctx, "POST", "/api/posts/"+postID+"/comments", map[string]string{"content": content}, nil)
	if err != nil {
		return nil, 0, err
	}
	if !res.OK {
		return nil, 0, resultError(res, "add comment")
	}
	var data commentData
	if err := res.Decode(&data); err != nil {
		return nil, 0, fmt.Errorf("failed to decode comment: %w", err)
	}
	return &data.Comment, data.CommentCount, nil
}

func (cc *CommentsClient) Delete(ctx context.Context, postID, commentID string) (commentCount int, err error) {
	res, err := cc.c.do(ctx, "DELETE", "/api/posts/"+postID+"/comments/"+commentID, nil, nil)
	if err != nil {
		return 0, err
	}
	if !res.OK {
		return 0, resultError(res, "delete comment")
	}
	var data struct {
		CommentCount int `json:"commentCount"`
	}
	if err := res.Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode delete result: %w", err)
	}
	return data.CommentCount, nil
}

// React toggles the current user's reaction on a comment.
func (cc *CommentsClient) React(ctx context.Context, postID, commentID string) (reactionCount int, err error) {
	res, err := cc.c.do(ctx, "POST", "/api/posts/"+postID+"/comments/"+commentID+"/like", nil, nil)
	if err != nil {
		return 0, err
	}
	if !res.OK {
		return 0, resultError(res, "toggle comment reaction")
	}
	var data likeData
	if err := res.Decode(&data); err != nil {
		return 0, fmt.Errorf("failed to decode reaction result: %w", err)
	}
	return data.ReactionCount, nil
}

// CallsClient is the audio/video token-fetch stub. No media transport
// exists in this SDK.
type CallsClient struct{ c *Client }

// Token fetches a call access token for a conversation.
func (cl *CallsClient) Token(ctx context.Context, conversationID string) (*CallTokenData, error) {
	res, err := cl.c.do(ctx, "POST", "/api/calls/"+conversationID+"/token", nil, nil)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, resultError(res, "fetch call token")
	}
	var data CallTokenData
	if err := res.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode call token: %w", err)
	}
	return &data, nil
}

func resultError(res *Result, op string) error {
	if res.Error != nil {
		return fmt.Errorf("%s: %w", op, res.Error)
	}
	return fmt.Errorf("%s: request failed", op)
}
