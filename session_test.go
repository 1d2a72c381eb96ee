package gather

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

// newTestSession wires a session against an httptest REST backend and the
// in-memory fake transport.
func newTestSession(t *testing.T, handler http.HandlerFunc) (*Session, *fakeDialer) {
	t.Helper()
	client := newTestClient(t, handler)
	dialer := &fakeDialer{}
	session := client.Realtime().NewSession(&SessionConfig{
		Dial:            dialer.dial,
		BackoffSchedule: zeroBackoff,
		Logger:          testLogger(),
	})
	t.Cleanup(func() { _ = session.Close() })
	return session, dialer
}

func meHandler(t *testing.T, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/me" {
			okEnvelope(t, w, User{ID: "me", Username: "me"})
			return
		}
		next(w, r)
	}
}

func TestSession_ConnectEstablishesBothHubs(t *testing.T) {
	session, dialer := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !session.Messaging.Connected() || !session.Activity.Connected() {
		t.Fatal("expected both hubs connected")
	}
	if got := dialer.attempts(); got != 2 {
		t.Fatalf("expected one dial per hub, got %d", got)
	}
}

func TestSession_ConnectAttemptsBothHubsDespiteFailure(t *testing.T) {
	// The first dial (messaging) fails; the activity hub must still be
	// attempted and come up.
	client := newTestClient(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))
	dialer := &fakeDialer{failures: 1}
	session := client.Realtime().NewSession(&SessionConfig{
		Dial:            dialer.dial,
		BackoffSchedule: zeroBackoff,
		Logger:          testLogger(),
	})
	t.Cleanup(func() { _ = session.Close() })

	err := session.Connect(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError for the failed hub, got %v", err)
	}

	if !session.Activity.Connected() {
		t.Fatal("activity hub never attempted after messaging failure")
	}
	// Messaging recovers on its own through the background retry.
	waitFor(t, 2*time.Second, func() bool { return session.Messaging.Connected() })
}

func TestSession_AddReactionKeepsConfirmedEntryOnFailure(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))
	session.Store.SetIdentity("me")
	session.Store.ApplyMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Content: "x"})

	// The broadcast already confirmed our reaction.
	session.Store.ApplyReaction(ReactionAddedPayload{MessageID: "m1", Emoji: "👍", UserID: "me"})

	// Hubs never connected, so the invoke fails.
	if err := session.AddReaction(context.Background(), "m1", "👍"); err == nil {
		t.Fatal("expected invoke failure while disconnected")
	}

	msgs := session.Store.Messages("c1")
	if len(msgs[0].Reactions) != 1 {
		t.Fatalf("confirmed reaction rolled back: %+v", msgs[0].Reactions)
	}
}

func TestSession_SendMessageConfirms(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" && r.URL.Path == "/api/messages/c1" {
			okEnvelope(t, w, Message{
				ID:             "srv-1",
				ConversationID: "c1",
				SenderID:       "me",
				Content:        "hello",
				SentAt:         time.Now().UTC().Format(time.RFC3339Nano),
			})
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	msg, err := session.SendMessage(context.Background(), "c1", "hello", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if msg.ID != "srv-1" {
		t.Fatalf("unexpected confirmation: %+v", msg)
	}

	msgs := session.Store.Messages("c1")
	if len(msgs) != 1 || msgs[0].ID != "srv-1" || msgs[0].Pending {
		t.Fatalf("expected a single confirmed message, got %+v", msgs)
	}
}

func TestSession_SendMessageFailureRollsBack(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		errEnvelope(w, "INTERNAL", "database unavailable")
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var restoredConv, restoredContent string
	session.OnComposerRestore = func(conversationID, content string) {
		restoredConv, restoredContent = conversationID, content
	}

	_, err := session.SendMessage(context.Background(), "c1", "draft", nil)
	if err == nil {
		t.Fatal("expected send failure")
	}
	var invErr *InvocationError
	if !errors.As(err, &invErr) {
		t.Fatalf("expected InvocationError, got %T", err)
	}

	if got := session.Store.Messages("c1"); len(got) != 0 {
		t.Fatalf("optimistic entry survived the failure: %+v", got)
	}
	if restoredConv != "c1" || restoredContent != "draft" {
		t.Fatalf("composer not restored: conv=%q content=%q", restoredConv, restoredContent)
	}
}

func TestSession_TogglePostLikeReconciles(t *testing.T) {
	session, dialer := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/posts/p1/like" {
			okEnvelope(t, w, likeData{ReactionCount: 4, IsLiked: true})
			return
		}
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.Store.SeedPosts([]Post{{ID: "p1", ReactionCount: 3}}, []string{})

	liked, err := session.TogglePostLike(context.Background(), "p1")
	if err != nil {
		t.Fatalf("TogglePostLike: %v", err)
	}
	if !liked {
		t.Fatal("expected liked after toggle")
	}
	post, _ := session.Store.Post("p1")
	if post.ReactionCount != 4 {
		t.Fatalf("expected reconciled count 4, got %d", post.ReactionCount)
	}

	// The acting client's other views are nudged over the activity hub.
	conn := dialer.last()
	waitFor(t, time.Second, func() bool {
		for _, c := range conn.commands() {
			if c.Type == OpNotifyPostLikeUpdated {
				return true
			}
		}
		return false
	})
}

func TestSession_TogglePostLikeFailureReverts(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		errEnvelope(w, "INTERNAL", "nope")
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.Store.SeedPosts([]Post{{ID: "p1", ReactionCount: 3}}, []string{})

	liked, err := session.TogglePostLike(context.Background(), "p1")
	if err == nil {
		t.Fatal("expected failure")
	}
	if liked {
		t.Fatal("expected pre-toggle flag returned on failure")
	}
	post, _ := session.Store.Post("p1")
	if post.ReactionCount != 3 || session.Store.HasLiked("p1") {
		t.Fatalf("expected restored (3, not liked), got (%d, %v)", post.ReactionCount, session.Store.HasLiked("p1"))
	}
}

func TestSession_AddCommentAppliesAuthoritativeCount(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" && r.URL.Path == "/api/posts/p1/comments" {
			okEnvelope(t, w, commentData{
				Comment:      Comment{ID: "cm1", PostID: "p1", Content: "hi"},
				CommentCount: 3,
			})
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.Store.SeedPosts([]Post{{ID: "p1", CommentCount: 2}}, nil)

	comment, err := session.AddComment(context.Background(), "p1", "hi")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if comment.ID != "cm1" {
		t.Fatalf("unexpected comment: %+v", comment)
	}
	post, _ := session.Store.Post("p1")
	if post.CommentCount != 3 {
		t.Fatalf("expected count 3, got %d", post.CommentCount)
	}
}

func TestSession_OpenConversationJoinsAndMarksRead(t *testing.T) {
	session, dialer := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" && strings.HasSuffix(r.URL.Path, "/read") {
			okEnvelope(t, w, nil)
			return
		}
		t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	session.Store.ApplyMessage(Message{ID: "m1", ConversationID: "c1", SenderID: "them", Content: "x"})

	if err := session.OpenConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("OpenConversation: %v", err)
	}

	if !session.Rooms.Member("c1") {
		t.Fatal("expected room membership")
	}
	conv, _ := session.Store.Conversation("c1")
	if conv.UnreadCount != 0 {
		t.Fatalf("expected unread cleared, got %d", conv.UnreadCount)
	}

	// Messaging hub carries the join. Hub 0 is messaging, 1 is activity.
	joined := false
	for _, c := range dialer.conns[0].commands() {
		if c.Type == OpJoinRoom {
			joined = true
		}
	}
	if !joined {
		t.Fatal("join never sent over the messaging hub")
	}

	if err := session.CloseConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("CloseConversation: %v", err)
	}
	if session.Rooms.Member("c1") {
		t.Fatal("expected membership dropped")
	}
}

func TestSession_TypingSignalsLossyWhileDisconnected(t *testing.T) {
	session, _ := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))

	// Never connected: typing signals must not panic or error.
	session.StartTyping(context.Background(), "c1", "Me")
	session.StopTyping(context.Background(), "c1", "Me")
}

func TestSession_TypingEventsFlowToPresence(t *testing.T) {
	session, dialer := newTestSession(t, meHandler(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request: %s", r.URL.Path)
	}))

	if err := session.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	dialer.conns[0].push(EventUserTyping, TypingPayload{ConversationID: "c1", UserName: "Bob"})
	waitFor(t, time.Second, func() bool {
		typing := session.Presence.Typing("c1")
		return len(typing) == 1 && typing[0] == "Bob"
	})
}
