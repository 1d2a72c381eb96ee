package gather

import "encoding/json"

// ============================================================================
// Shared Types
// ============================================================================

// APIError represents an API-level error returned in a response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the generic API response envelope.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Meta  map[string]any  `json:"meta,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// ============================================================================
// Identity
// ============================================================================

// User is an account on the platform.
type User struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// ============================================================================
// Messaging Types
// ============================================================================

// Reaction is a single emoji reaction left on a message.
type Reaction struct {
	Emoji  string `json:"emoji"`
	UserID string `json:"userId"`
}

// Message is a chat message inside a conversation.
//
// ID is server-assigned. A message created optimistically by SendMessage
// carries an empty ID and a non-empty PendingID until the server confirms
// it; after confirmation the two are merged into a single entry.
type Message struct {
	ID             string     `json:"id"`
	PendingID      string     `json:"-"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	Content        string     `json:"content"`
	ReplyToID      string     `json:"replyToId,omitempty"`
	IsOwn          bool       `json:"-"`
	Pending        bool       `json:"-"`
	Reactions      []Reaction `json:"reactions,omitempty"`
	SentAt         string     `json:"sentAt"`
}

// Conversation is a thread summary as shown in the conversation list.
type Conversation struct {
	ID             string `json:"id"`
	PartnerName    string `json:"partnerName"`
	PartnerAvatar  string `json:"partnerAvatar,omitempty"`
	LastMessage    string `json:"lastMessage,omitempty"`
	LastActivityAt string `json:"lastActivityAt,omitempty"`
	UnreadCount    int    `json:"unreadCount"`
}

// ============================================================================
// Feed Types
// ============================================================================

// Post is a feed entry carrying aggregate counters. Whether the current
// user has reacted is tracked separately in the per-user reaction index,
// not embedded here.
type Post struct {
	ID            string `json:"id"`
	AuthorID      string `json:"authorId"`
	Content       string `json:"content"`
	ReactionCount int    `json:"reactionCount"`
	CommentCount  int    `json:"commentCount"`
	CreatedAt     string `json:"createdAt"`
}

// Comment is a reply on a post, with its own reaction counter.
type Comment struct {
	ID            string `json:"id"`
	PostID        string `json:"postId"`
	AuthorID      string `json:"authorId"`
	Content       string `json:"content"`
	ReactionCount int    `json:"reactionCount"`
	CreatedAt     string `json:"createdAt"`
}

// ============================================================================
// Server-pushed Event Payloads
// ============================================================================

// ReactionAddedPayload is pushed when a reaction lands on a message.
type ReactionAddedPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

// MessageDeletedPayload is pushed when a message is removed. Some server
// versions send the message ID as a bare JSON string, the same scalar
// notation as the presence events; both encodings decode.
type MessageDeletedPayload struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId,omitempty"`
}

func (p *MessageDeletedPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		p.MessageID = id
		p.ConversationID = ""
		return nil
	}
	type plain MessageDeletedPayload
	var obj plain
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*p = MessageDeletedPayload(obj)
	return nil
}

// TypingPayload is pushed when a user starts or stops typing in a room.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserName       string `json:"userName"`
}

// PostLikePayload is pushed when a post's reaction counter changes.
// ReactionCount is authoritative; IsLiked is only meaningful on the
// post-like-toggled variant addressed to the acting client.
type PostLikePayload struct {
	PostID        string `json:"postId"`
	Post          *Post  `json:"post,omitempty"`
	ReactionCount int    `json:"reactionCount"`
	IsLiked       bool   `json:"isLiked,omitempty"`
}

// CommentAddedPayload is pushed when a comment lands on a post.
// CommentCount is the authoritative post-wide total, never a delta.
type CommentAddedPayload struct {
	PostID       string   `json:"postId"`
	Comment      *Comment `json:"comment,omitempty"`
	CommentCount int      `json:"commentCount"`
}

// CommentDeletedPayload is pushed when a comment is removed from a post.
type CommentDeletedPayload struct {
	PostID       string `json:"postId"`
	CommentID    string `json:"commentId"`
	CommentCount int    `json:"commentCount"`
}

// CommentReactionPayload is pushed when a comment's reaction set changes.
// ReactionCount is optional; a bare notification leaves the counter to the
// next authoritative fetch.
type CommentReactionPayload struct {
	PostID        string `json:"postId"`
	CommentID     string `json:"commentId"`
	ReactionCount *int   `json:"reactionCount,omitempty"`
}

// ErrorPayload is pushed by the server on an application-level error.
// Non-fatal to the connection.
type ErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// REST Options
// ============================================================================

// SendOptions configures an outgoing message.
type SendOptions struct {
	ReplyToID string `json:"replyToId,omitempty"`
}

// PaginationOptions limits list endpoints.
type PaginationOptions struct {
	Limit  int
	Offset int
}

// CallTokenData is the response of the call token stub. There is no media
// transport in this SDK; the token is handed to an external caller.
type CallTokenData struct {
	Token     string `json:"token"`
	ExpiresIn string `json:"expiresIn"`
}
