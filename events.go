package gather

// ============================================================================
// Event & Operation Names
// ============================================================================

// Remote-invocable operation names (client → server). Case-sensitive.
const (
	OpJoinRoom                     = "join-room"
	OpLeaveRoom                    = "leave-room"
	OpSendMessage                  = "send-message"
	OpAddReaction                  = "add-reaction"
	OpDeleteMessage                = "delete-message"
	OpUserTyping                   = "user-typing"
	OpUserStoppedTyping            = "user-stopped-typing"
	OpGetOnlineUsers               = "get-online-users"
	OpCheckUserOnline              = "check-user-online"
	OpNotifyPostLikeUpdated        = "notify-post-like-updated"
	OpNotifyCommentAdded           = "notify-comment-added"
	OpNotifyCommentReactionUpdated = "notify-comment-reaction-updated"
)

// Server-pushed event names.
const (
	EventMessageReceived        = "message-received"
	EventReactionAdded          = "reaction-added"
	EventMessageDeleted         = "message-deleted"
	EventUserTyping             = "user-typing"
	EventUserStoppedTyping      = "user-stopped-typing"
	EventUserOnline             = "user-online"
	EventUserOffline            = "user-offline"
	EventOnlineUsers            = "online-users"
	EventPostLikeUpdated        = "post-like-updated"
	EventPostLikeToggled        = "post-like-toggled"
	EventCommentAdded           = "comment-added"
	EventCommentDeleted         = "comment-deleted"
	EventCommentReactionUpdated = "comment-reaction-updated"
	EventError                  = "error"
)

// Connection meta events, published by the hub itself rather than pushed by
// the server.
const (
	EventConnected    = "connected"
	EventReconnecting = "reconnecting"
	EventReconnected  = "reconnected"
	EventDisconnected = "disconnected"
)

// MessagingHubEvents is the event-name table of the messaging hub.
var MessagingHubEvents = []string{
	EventMessageReceived,
	EventReactionAdded,
	EventMessageDeleted,
	EventUserTyping,
	EventUserStoppedTyping,
	EventUserOnline,
	EventUserOffline,
	EventOnlineUsers,
	EventError,
}

// ActivityHubEvents is the event-name table of the activity/posts hub.
var ActivityHubEvents = []string{
	EventPostLikeUpdated,
	EventPostLikeToggled,
	EventCommentAdded,
	EventCommentDeleted,
	EventCommentReactionUpdated,
	EventError,
}
