package gather

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ============================================================================
// Realtime Factory
// ============================================================================

// RealtimeClient constructs realtime hubs and sessions for its parent
// client.
type RealtimeClient struct {
	client *Client
}

// MessagingURL returns the messaging hub endpoint.
func (r *RealtimeClient) MessagingURL() string {
	return r.client.baseURL + "/rt/messaging"
}

// ActivityURL returns the activity/posts hub endpoint.
func (r *RealtimeClient) ActivityURL() string {
	return r.client.baseURL + "/rt/activity"
}

// SessionConfig configures a Session. The zero value is usable.
type SessionConfig struct {
	// Tokens supplies the bearer token at connect time. Defaults to the
	// parent client's current token.
	Tokens TokenProvider
	// Flags persists the per-user reaction index. Defaults to an
	// in-memory cache; pass an opened SQLiteFlagCache for durable state.
	Flags FlagCache
	// BackoffSchedule overrides DefaultBackoffSchedule on both hubs.
	BackoffSchedule []time.Duration
	// HTTPClient overrides the transport HTTP client.
	HTTPClient *http.Client
	// Dial overrides the transport dialer. Tests inject fakes here.
	Dial dialFunc
	// Logger defaults to the parent client's logger.
	Logger *slog.Logger
}

// NewSession builds a fully wired realtime session: both hubs, their
// dispatchers, the room manager, the canonical store, and the presence
// tracker. The session is an explicitly constructed value owned by the
// caller's composition root; construct independent sessions freely, e.g.
// one per test.
func (r *RealtimeClient) NewSession(cfg *SessionConfig) *Session {
	if cfg == nil {
		cfg = &SessionConfig{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = r.client.logger
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = func(context.Context) (string, error) { return r.client.token, nil }
	}
	flags := cfg.Flags
	if flags == nil {
		flags = NewMemoryFlagCache()
	}

	messagingEvents := NewDispatcher(logger)
	activityEvents := NewDispatcher(logger)

	messaging := NewHub(HubConfig{
		Name:            "messaging",
		URL:             r.MessagingURL(),
		Tokens:          tokens,
		Events:          MessagingHubEvents,
		BackoffSchedule: cfg.BackoffSchedule,
		Dial:            cfg.Dial,
		HTTPClient:      cfg.HTTPClient,
		Logger:          logger,
	}, messagingEvents)
	activity := NewHub(HubConfig{
		Name:            "activity",
		URL:             r.ActivityURL(),
		Tokens:          tokens,
		Events:          ActivityHubEvents,
		BackoffSchedule: cfg.BackoffSchedule,
		Dial:            cfg.Dial,
		HTTPClient:      cfg.HTTPClient,
		Logger:          logger,
	}, activityEvents)

	store := NewStore(flags, logger)
	store.Bind(messagingEvents, activityEvents)

	presence := NewPresenceTracker()
	presence.Bind(messagingEvents)

	return &Session{
		client:          r.client,
		logger:          logger,
		Messaging:       messaging,
		Activity:        activity,
		MessagingEvents: messagingEvents,
		ActivityEvents:  activityEvents,
		Rooms:           NewRoomManager(messaging, messagingEvents, logger),
		Store:           store,
		Presence:        presence,
	}
}

// ============================================================================
// Session
// ============================================================================

// Session is the root composition of the realtime layer: two hubs and the
// consumers wired to them. High-level methods orchestrate the optimistic
// flows: local state first, server call second, reconcile or roll back
// third.
type Session struct {
	client *Client
	logger *slog.Logger

	Messaging *Hub
	Activity  *Hub

	MessagingEvents *Dispatcher
	ActivityEvents  *Dispatcher

	Rooms    *RoomManager
	Store    *Store
	Presence *PresenceTracker

	// OnComposerRestore, when set, receives the content of a message whose
	// send failed, after its optimistic entry has been rolled back.
	OnComposerRestore func(conversationID, content string)
}

// Connect resolves the authenticated identity and establishes both hub
// channels. Both hubs are always attempted: a failure on one must not keep
// the other from coming up, since each recovers independently through its
// own background retry. Hub failures other than auth rejections keep
// retrying, so a ConnectionError here is informational.
func (s *Session) Connect(ctx context.Context) error {
	me, err := s.client.Account().Me(ctx)
	if err != nil {
		return err
	}
	s.Store.SetIdentity(me.ID)

	return errors.Join(
		s.Messaging.Connect(ctx),
		s.Activity.Connect(ctx),
	)
}

// Close disconnects both hubs and stops the presence timers. Idempotent.
func (s *Session) Close() error {
	err := s.Messaging.Disconnect()
	if err2 := s.Activity.Disconnect(); err == nil {
		err = err2
	}
	s.Presence.Stop()
	return err
}

// ── conversation focus ───────────────────────────────────────────────────

// OpenConversation is invoked when a conversation gains UI focus: join its
// room, mark it active, and clear its unread counter locally and
// server-side.
func (s *Session) OpenConversation(ctx context.Context, conversationID string) error {
	if err := s.Rooms.Join(ctx, conversationID); err != nil {
		return err
	}
	s.Store.SetActiveRoom(conversationID)
	s.Store.MarkRead(conversationID)
	if err := s.client.Conversations().MarkAsRead(ctx, conversationID); err != nil {
		s.logger.Warn("mark-as-read failed", "conversation", conversationID, "error", err)
	}
	return nil
}

// CloseConversation is invoked when focus leaves a conversation.
func (s *Session) CloseConversation(ctx context.Context, conversationID string) error {
	s.Store.SetActiveRoom("")
	return s.Rooms.Leave(ctx, conversationID)
}

// ── optimistic flows ─────────────────────────────────────────────────────

// SendMessage appends an optimistic entry immediately and issues the REST
// send. The server copy, whether it lands through this response or the
// message-received broadcast first, supersedes the pending entry without
// duplication. On failure the entry is rolled back and the content handed
// to OnComposerRestore.
func (s *Session) SendMessage(ctx context.Context, conversationID, content string, opts *SendOptions) (*Message, error) {
	pending := s.Store.AppendPending(conversationID, content, replyTo(opts))

	confirmed, err := s.client.Messages().Send(ctx, conversationID, content, opts)
	if err != nil {
		if restored, ok := s.Store.RollbackPending(conversationID, pending.PendingID); ok {
			if s.OnComposerRestore != nil {
				s.OnComposerRestore(conversationID, restored)
			}
		}
		return nil, &InvocationError{Op: OpSendMessage, Cause: err}
	}

	s.Store.ApplyMessage(*confirmed)
	return confirmed, nil
}

func replyTo(opts *SendOptions) string {
	if opts == nil {
		return ""
	}
	return opts.ReplyToID
}

// DeleteMessage removes a message server-side, then locally. Other views
// converge through the message-deleted broadcast.
func (s *Session) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.client.Messages().Delete(ctx, messageID); err != nil {
		return &InvocationError{Op: OpDeleteMessage, Cause: err}
	}
	s.Store.DeleteMessage(messageID)
	return nil
}

// AddReaction optimistically records the current user's reaction on a
// message and sends it over the messaging hub. A failed invocation removes
// the optimistic entry again, but only when this call actually inserted
// one; a reaction already confirmed by an earlier broadcast stays.
func (s *Session) AddReaction(ctx context.Context, messageID, emoji string) error {
	userID := s.selfID()
	inserted := s.Store.ApplyReaction(ReactionAddedPayload{MessageID: messageID, Emoji: emoji, UserID: userID})

	err := s.Messaging.Invoke(ctx, OpAddReaction, map[string]string{
		"messageId": messageID,
		"emoji":     emoji,
	})
	if err != nil {
		if inserted {
			s.Store.RemoveReaction(messageID, emoji, userID)
		}
		return err
	}
	return nil
}

// TogglePostLike flips the like state locally (flag, counter, durable
// cache) before the round-trip, reconciles only the counter from the
// server's authoritative value on success, and restores the exact
// pre-toggle state on failure. Other open views of this client are nudged
// over the activity hub.
func (s *Session) TogglePostLike(ctx context.Context, postID string) (liked bool, err error) {
	nowLiked, prevLiked, prevCount := s.Store.TogglePostLike(postID)

	serverCount, err := s.client.Posts().ToggleLike(ctx, postID)
	if err != nil {
		s.Store.RevertPostLike(postID, prevLiked, prevCount)
		return prevLiked, &InvocationError{Op: OpNotifyPostLikeUpdated, Cause: err}
	}

	s.Store.ReconcilePostLike(postID, serverCount)
	s.notifyActivity(ctx, OpNotifyPostLikeUpdated, map[string]string{"postId": postID})
	return nowLiked, nil
}

// AddComment posts a comment and applies the authoritative count from the
// response; the broadcast for the same action is a no-op thanks to
// comment-ID deduplication and absolute-set counters.
func (s *Session) AddComment(ctx context.Context, postID, content string) (*Comment, error) {
	comment, count, err := s.client.Comments().Add(ctx, postID, content)
	if err != nil {
		return nil, &InvocationError{Op: OpNotifyCommentAdded, Cause: err}
	}

	s.Store.ApplyCommentAdded(CommentAddedPayload{PostID: postID, Comment: comment, CommentCount: count})
	s.notifyActivity(ctx, OpNotifyCommentAdded, map[string]string{"postId": postID})
	return comment, nil
}

// DeleteComment removes a comment and adopts the authoritative count.
func (s *Session) DeleteComment(ctx context.Context, postID, commentID string) error {
	count, err := s.client.Comments().Delete(ctx, postID, commentID)
	if err != nil {
		return &InvocationError{Op: OpNotifyCommentAdded, Cause: err}
	}
	s.Store.ApplyCommentDeleted(CommentDeletedPayload{PostID: postID, CommentID: commentID, CommentCount: count})
	return nil
}

// ToggleCommentReaction mirrors TogglePostLike for a comment.
func (s *Session) ToggleCommentReaction(ctx context.Context, postID, commentID string) (liked bool, err error) {
	nowLiked, prevLiked, prevCount := s.Store.ToggleCommentReaction(postID, commentID)

	serverCount, err := s.client.Comments().React(ctx, postID, commentID)
	if err != nil {
		s.Store.RevertCommentReaction(postID, commentID, prevLiked, prevCount)
		return prevLiked, &InvocationError{Op: OpNotifyCommentReactionUpdated, Cause: err}
	}

	s.Store.ReconcileCommentReaction(postID, commentID, serverCount)
	s.notifyActivity(ctx, OpNotifyCommentReactionUpdated, map[string]string{
		"postId":    postID,
		"commentId": commentID,
	})
	return nowLiked, nil
}

// ── typing & presence signals ────────────────────────────────────────────

// StartTyping signals that the current user is typing in a room. Dropped
// silently while disconnected.
func (s *Session) StartTyping(ctx context.Context, conversationID, displayName string) {
	s.invokeLossy(ctx, OpUserTyping, map[string]string{
		"roomId":      conversationID,
		"displayName": displayName,
	})
}

// StopTyping signals the end of typing. Dropped silently while
// disconnected; peers expire the entry locally anyway.
func (s *Session) StopTyping(ctx context.Context, conversationID, displayName string) {
	s.invokeLossy(ctx, OpUserStoppedTyping, map[string]string{
		"roomId":      conversationID,
		"displayName": displayName,
	})
}

// RequestOnlineUsers asks the server for a full presence snapshot; the
// reply arrives as an online-users event.
func (s *Session) RequestOnlineUsers(ctx context.Context) error {
	return s.Messaging.Invoke(ctx, OpGetOnlineUsers, nil)
}

// CheckUserOnline asks the server about one user; the reply arrives as a
// user-online or user-offline event.
func (s *Session) CheckUserOnline(ctx context.Context, userID string) error {
	return s.Messaging.Invoke(ctx, OpCheckUserOnline, map[string]string{"userId": userID})
}

// ── helpers ──────────────────────────────────────────────────────────────

func (s *Session) selfID() string {
	s.Store.mu.Lock()
	defer s.Store.mu.Unlock()
	return s.Store.selfID
}

func (s *Session) invokeLossy(ctx context.Context, op string, payload interface{}) {
	err := s.Messaging.Invoke(ctx, op, payload)
	if err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Debug("lossy invoke failed", "op", op, "error", err)
	}
}

// notifyActivity nudges the acting client's other open views over the
// activity hub. Best effort: teardown and disconnects must not fail the
// originating action.
func (s *Session) notifyActivity(ctx context.Context, op string, payload interface{}) {
	err := s.Activity.Invoke(ctx, op, payload)
	if err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Debug("activity notify failed", "op", op, "error", err)
	}
}
