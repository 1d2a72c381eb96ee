package gather

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Canonical Store & Optimistic Reconciliation
// ============================================================================

// pendingMatchWindow bounds the sent-timestamp distance under which an
// incoming broadcast without a known server ID is matched against a
// locally-pending message with the same conversation, sender, and content.
const pendingMatchWindow = 15 * time.Second

// Store holds the canonical client-side state (message lists, conversation
// summaries, post/comment counters, and the per-user reaction index) and
// merges locally-originated speculative mutations with server-confirmed or
// broadcast events without duplicates, lost updates, or inconsistent
// counters.
//
// Store is the only writer of this state. All writes run synchronously
// under one mutex, so no two mutations interleave. Confirmations may
// arrive through a direct REST response or a broadcast, in either order;
// applying the same confirmation twice is a no-op.
type Store struct {
	flags  FlagCache
	logger *slog.Logger

	mu            sync.Mutex
	selfID        string
	activeRoom    string
	messages      map[string][]*Message
	conversations map[string]*Conversation
	posts         map[string]*Post
	comments      map[string]map[string]*Comment
}

// NewStore creates an empty store. flags persists the per-user reaction
// index; pass a MemoryFlagCache for non-durable state.
func NewStore(flags FlagCache, logger *slog.Logger) *Store {
	if flags == nil {
		flags = NewMemoryFlagCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		flags:         flags,
		logger:        logger,
		messages:      make(map[string][]*Message),
		conversations: make(map[string]*Conversation),
		posts:         make(map[string]*Post),
		comments:      make(map[string]map[string]*Comment),
	}
}

// SetIdentity records the authenticated user. Message ownership is derived
// exclusively from this identity and the message's sender ID; a
// server-asserted ownership boolean is never trusted.
func (s *Store) SetIdentity(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selfID = userID
}

// SetActiveRoom marks the conversation currently holding UI focus; new
// messages for it do not bump the unread counter.
func (s *Store) SetActiveRoom(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRoom = conversationID
}

// Bind subscribes the store's reconciliation handlers on the messaging and
// activity dispatchers.
func (s *Store) Bind(messaging, activity *Dispatcher) {
	messaging.Subscribe(EventMessageReceived, func(p json.RawMessage) {
		var msg Message
		if json.Unmarshal(p, &msg) == nil {
			s.ApplyMessage(msg)
		}
	})
	messaging.Subscribe(EventReactionAdded, func(p json.RawMessage) {
		var r ReactionAddedPayload
		if json.Unmarshal(p, &r) == nil {
			s.ApplyReaction(r)
		}
	})
	messaging.Subscribe(EventMessageDeleted, func(p json.RawMessage) {
		var d MessageDeletedPayload
		if json.Unmarshal(p, &d) == nil {
			s.DeleteMessage(d.MessageID)
		}
	})
	activity.Subscribe(EventPostLikeUpdated, func(p json.RawMessage) {
		var e PostLikePayload
		if json.Unmarshal(p, &e) == nil {
			s.ApplyPostLike(e, false)
		}
	})
	activity.Subscribe(EventPostLikeToggled, func(p json.RawMessage) {
		var e PostLikePayload
		if json.Unmarshal(p, &e) == nil {
			s.ApplyPostLike(e, true)
		}
	})
	activity.Subscribe(EventCommentAdded, func(p json.RawMessage) {
		var e CommentAddedPayload
		if json.Unmarshal(p, &e) == nil {
			s.ApplyCommentAdded(e)
		}
	})
	activity.Subscribe(EventCommentDeleted, func(p json.RawMessage) {
		var e CommentDeletedPayload
		if json.Unmarshal(p, &e) == nil {
			s.ApplyCommentDeleted(e)
		}
	})
	activity.Subscribe(EventCommentReactionUpdated, func(p json.RawMessage) {
		var e CommentReactionPayload
		if json.Unmarshal(p, &e) == nil {
			s.ApplyCommentReaction(e)
		}
	})
}

// ── seeding from REST ────────────────────────────────────────────────────

// SeedConversations replaces the conversation list with an authoritative
// fetch.
func (s *Store) SeedConversations(convs []Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range convs {
		c := convs[i]
		s.conversations[c.ID] = &c
	}
}

// SeedMessages replaces the message history of one conversation.
func (s *Store) SeedMessages(conversationID string, msgs []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*Message, 0, len(msgs))
	for i := range msgs {
		m := msgs[i]
		m.IsOwn = m.SenderID == s.selfID
		list = append(list, &m)
	}
	s.messages[conversationID] = list
}

// SeedPosts merges an authoritative post fetch and overwrites the reaction
// flag cache wholesale when likedIDs is non-nil.
func (s *Store) SeedPosts(posts []Post, likedIDs []string) {
	s.mu.Lock()
	for i := range posts {
		p := posts[i]
		s.posts[p.ID] = &p
	}
	s.mu.Unlock()

	if likedIDs != nil {
		flags := make(map[string]bool, len(likedIDs))
		for _, id := range likedIDs {
			flags[id] = true
		}
		if err := s.flags.ReplaceAll(flags); err != nil {
			s.logger.Warn("flag cache replace failed", "error", err)
		}
	}
}

// ── send-message flow ────────────────────────────────────────────────────

// AppendPending appends a locally-constructed optimistic message and
// returns it. The entry carries a locally-unique pending ID and no server
// ID until confirmation arrives.
func (s *Store) AppendPending(conversationID, content, replyToID string) *Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := &Message{
		PendingID:      uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       s.selfID,
		Content:        content,
		ReplyToID:      replyToID,
		IsOwn:          true,
		Pending:        true,
		SentAt:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	s.touchConversationLocked(conversationID, content, msg.SentAt, true)
	out := *msg
	return &out
}

// RollbackPending removes the optimistic entry after a failed send and
// returns its content so the caller can restore the composer.
func (s *Store) RollbackPending(conversationID, pendingID string) (content string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[conversationID]
	for i, m := range list {
		if m.PendingID == pendingID && m.Pending {
			s.messages[conversationID] = append(list[:i:i], list[i+1:]...)
			return m.Content, true
		}
	}
	return "", false
}

// ApplyMessage merges a server-confirmed message, arriving either as the
// direct response to a send or as a broadcast. An entry with the same
// server ID is a duplicate and the call is a no-op; a matching pending
// entry is superseded in place; anything else is appended.
func (s *Store) ApplyMessage(msg Message) {
	if msg.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.IsOwn = msg.SenderID == s.selfID
	msg.Pending = false
	list := s.messages[msg.ConversationID]

	for _, existing := range list {
		if existing.ID == msg.ID {
			return // already confirmed
		}
	}
	if idx := s.matchPendingLocked(list, &msg); idx >= 0 {
		pendingID := list[idx].PendingID
		replaced := msg
		replaced.PendingID = pendingID
		*list[idx] = replaced
		s.touchConversationLocked(msg.ConversationID, msg.Content, msg.SentAt, true)
		return
	}

	appended := msg
	s.messages[msg.ConversationID] = append(list, &appended)
	s.touchConversationLocked(msg.ConversationID, msg.Content, msg.SentAt, msg.IsOwn)
}

// matchPendingLocked finds a pending entry the incoming broadcast
// supersedes: same conversation, same sender, same content, sent within
// pendingMatchWindow. The broadcast is authoritative.
func (s *Store) matchPendingLocked(list []*Message, msg *Message) int {
	incoming, err := time.Parse(time.RFC3339Nano, msg.SentAt)
	for i, m := range list {
		if !m.Pending || m.SenderID != msg.SenderID || m.Content != msg.Content {
			continue
		}
		if err != nil {
			return i // unparseable timestamp: content+sender match suffices
		}
		pendingAt, perr := time.Parse(time.RFC3339Nano, m.SentAt)
		if perr != nil {
			return i
		}
		d := incoming.Sub(pendingAt)
		if d < 0 {
			d = -d
		}
		if d <= pendingMatchWindow {
			return i
		}
	}
	return -1
}

// DeleteMessage removes a message by server ID; unknown IDs are a no-op.
func (s *Store) DeleteMessage(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for convID, list := range s.messages {
		for i, m := range list {
			if m.ID == messageID {
				s.messages[convID] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// ApplyReaction appends a reaction to a message. The same emoji from the
// same user is recorded once, so replays are no-ops. It reports whether a
// new entry was inserted; a dedupe or unknown-message no-op returns false,
// which tells an optimistic caller there is nothing of its own to roll
// back.
func (s *Store) ApplyReaction(r ReactionAddedPayload) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.messages {
		for _, m := range list {
			if m.ID != r.MessageID {
				continue
			}
			for _, existing := range m.Reactions {
				if existing.Emoji == r.Emoji && existing.UserID == r.UserID {
					return false
				}
			}
			m.Reactions = append(m.Reactions, Reaction{Emoji: r.Emoji, UserID: r.UserID})
			return true
		}
	}
	return false
}

// RemoveReaction deletes a previously recorded reaction; absent entries
// are a no-op.
func (s *Store) RemoveReaction(messageID, emoji, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, list := range s.messages {
		for _, m := range list {
			if m.ID != messageID {
				continue
			}
			for i, existing := range m.Reactions {
				if existing.Emoji == emoji && existing.UserID == userID {
					m.Reactions = append(m.Reactions[:i:i], m.Reactions[i+1:]...)
					return
				}
			}
			return
		}
	}
}

// ── conversation summaries ───────────────────────────────────────────────

func (s *Store) touchConversationLocked(conversationID, preview, at string, own bool) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &Conversation{ID: conversationID}
		s.conversations[conversationID] = conv
	}
	conv.LastMessage = preview
	conv.LastActivityAt = at
	if !own && conversationID != s.activeRoom {
		conv.UnreadCount++
	}
}

// MarkRead zeroes the unread counter for a conversation.
func (s *Store) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.conversations[conversationID]; ok {
		conv.UnreadCount = 0
	}
}

// ── reaction toggle flow ─────────────────────────────────────────────────

// TogglePostLike flips the local reaction flag for a post and adjusts its
// counter by exactly ±1, clamped at zero, before any server round-trip.
// The new flag is persisted to the flag cache. It returns the resulting
// flag and the pre-toggle state for a later revert.
func (s *Store) TogglePostLike(postID string) (nowLiked, prevLiked bool, prevCount int) {
	prevLiked, _ = s.flags.Get(postID)
	nowLiked = !prevLiked

	s.mu.Lock()
	post, ok := s.posts[postID]
	if !ok {
		post = &Post{ID: postID}
		s.posts[postID] = post
	}
	prevCount = post.ReactionCount
	if nowLiked {
		post.ReactionCount++
	} else if post.ReactionCount > 0 {
		post.ReactionCount--
	}
	s.mu.Unlock()

	if err := s.flags.Set(postID, nowLiked); err != nil {
		s.logger.Warn("flag cache write failed", "post", postID, "error", err)
	}
	return nowLiked, prevLiked, prevCount
}

// ReconcilePostLike adopts the server's authoritative counter after a
// successful toggle while deliberately preserving the locally-decided
// reaction flag: the client that just acted wins on the boolean.
func (s *Store) ReconcilePostLike(postID string, serverCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if post, ok := s.posts[postID]; ok {
		if serverCount < 0 {
			serverCount = 0
		}
		post.ReactionCount = serverCount
	}
}

// RevertPostLike restores the exact pre-toggle state after a failed server
// call.
func (s *Store) RevertPostLike(postID string, prevLiked bool, prevCount int) {
	s.mu.Lock()
	if post, ok := s.posts[postID]; ok {
		if prevCount < 0 {
			prevCount = 0
		}
		post.ReactionCount = prevCount
	}
	s.mu.Unlock()

	if err := s.flags.Set(postID, prevLiked); err != nil {
		s.logger.Warn("flag cache revert failed", "post", postID, "error", err)
	}
}

// ToggleCommentReaction mirrors TogglePostLike for a comment's reaction
// counter and flag.
func (s *Store) ToggleCommentReaction(postID, commentID string) (nowLiked, prevLiked bool, prevCount int) {
	prevLiked, _ = s.flags.Get(commentID)
	nowLiked = !prevLiked

	s.mu.Lock()
	byID, ok := s.comments[postID]
	if !ok {
		byID = make(map[string]*Comment)
		s.comments[postID] = byID
	}
	comment, ok := byID[commentID]
	if !ok {
		comment = &Comment{ID: commentID, PostID: postID}
		byID[commentID] = comment
	}
	prevCount = comment.ReactionCount
	if nowLiked {
		comment.ReactionCount++
	} else if comment.ReactionCount > 0 {
		comment.ReactionCount--
	}
	s.mu.Unlock()

	if err := s.flags.Set(commentID, nowLiked); err != nil {
		s.logger.Warn("flag cache write failed", "comment", commentID, "error", err)
	}
	return nowLiked, prevLiked, prevCount
}

// ReconcileCommentReaction adopts the server counter, keeping the local
// flag.
func (s *Store) ReconcileCommentReaction(postID, commentID string, serverCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID, ok := s.comments[postID]; ok {
		if comment, ok := byID[commentID]; ok {
			if serverCount < 0 {
				serverCount = 0
			}
			comment.ReactionCount = serverCount
		}
	}
}

// RevertCommentReaction restores the pre-toggle state after a failure.
func (s *Store) RevertCommentReaction(postID, commentID string, prevLiked bool, prevCount int) {
	s.mu.Lock()
	if byID, ok := s.comments[postID]; ok {
		if comment, ok := byID[commentID]; ok {
			if prevCount < 0 {
				prevCount = 0
			}
			comment.ReactionCount = prevCount
		}
	}
	s.mu.Unlock()

	if err := s.flags.Set(commentID, prevLiked); err != nil {
		s.logger.Warn("flag cache revert failed", "comment", commentID, "error", err)
	}
}

// ── counter fan-in from events ───────────────────────────────────────────

// ApplyPostLike applies a like broadcast. The counter is always taken as
// an absolute assignment from the payload, never a local increment, so the
// REST response and broadcast for the same action cannot double count.
// The local reaction flag is preserved when one exists; the toggled
// variant seeds it only for posts this client has never decided on.
func (s *Store) ApplyPostLike(e PostLikePayload, toggled bool) {
	if e.PostID == "" {
		return
	}
	s.mu.Lock()
	post, ok := s.posts[e.PostID]
	if !ok {
		if e.Post == nil {
			s.mu.Unlock()
			return // unrelated post, never mutate unknown state
		}
		p := *e.Post
		post = &p
		s.posts[e.PostID] = post
	}
	count := e.ReactionCount
	if count < 0 {
		count = 0
	}
	post.ReactionCount = count
	s.mu.Unlock()

	if toggled {
		if _, decided := s.flags.Get(e.PostID); !decided {
			if err := s.flags.Set(e.PostID, e.IsLiked); err != nil {
				s.logger.Warn("flag cache seed failed", "post", e.PostID, "error", err)
			}
		}
	}
}

// ApplyCommentAdded records a comment broadcast. The post's comment count
// comes from three independent paths (direct REST response, broadcast to
// other viewers, broadcast to this client's other views); the payload
// count is absolute, and the comment itself is deduplicated by ID.
func (s *Store) ApplyCommentAdded(e CommentAddedPayload) {
	if e.PostID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[e.PostID]
	if !ok {
		return
	}
	count := e.CommentCount
	if count < 0 {
		count = 0
	}
	post.CommentCount = count

	if e.Comment != nil && e.Comment.ID != "" {
		byID, ok := s.comments[e.PostID]
		if !ok {
			byID = make(map[string]*Comment)
			s.comments[e.PostID] = byID
		}
		if _, dup := byID[e.Comment.ID]; !dup {
			c := *e.Comment
			byID[c.ID] = &c
		}
	}
}

// ApplyCommentDeleted removes a comment and absolute-sets the counter.
func (s *Store) ApplyCommentDeleted(e CommentDeletedPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.posts[e.PostID]
	if !ok {
		return
	}
	count := e.CommentCount
	if count < 0 {
		count = 0
	}
	post.CommentCount = count
	if byID, ok := s.comments[e.PostID]; ok {
		delete(byID, e.CommentID)
	}
}

// ApplyCommentReaction absolute-sets a comment's reaction counter when the
// payload carries one; a bare notification leaves the counter to the next
// authoritative fetch.
func (s *Store) ApplyCommentReaction(e CommentReactionPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.comments[e.PostID]
	if !ok {
		return
	}
	comment, ok := byID[e.CommentID]
	if !ok {
		return
	}
	if e.ReactionCount != nil {
		count := *e.ReactionCount
		if count < 0 {
			count = 0
		}
		comment.ReactionCount = count
	}
}

// ── accessors ────────────────────────────────────────────────────────────

// Messages returns a copy of a conversation's message list in arrival
// order.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.messages[conversationID]
	out := make([]Message, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// Conversation returns a conversation summary copy.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		return *c, true
	}
	return Conversation{}, false
}

// Post returns a post copy.
func (s *Store) Post(id string) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.posts[id]; ok {
		return *p, true
	}
	return Post{}, false
}

// Comment returns a comment copy.
func (s *Store) Comment(postID, commentID string) (Comment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byID, ok := s.comments[postID]; ok {
		if c, ok := byID[commentID]; ok {
			return *c, true
		}
	}
	return Comment{}, false
}

// HasLiked reports the locally-decided reaction flag for an entity.
func (s *Store) HasLiked(entityID string) bool {
	liked, _ := s.flags.Get(entityID)
	return liked
}
