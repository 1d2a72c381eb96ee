package gather

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// stubInvoker records room invocations without a transport.
type stubInvoker struct {
	mu        sync.Mutex
	connected bool
	err       error
	calls     []Command
}

func (s *stubInvoker) Invoke(_ context.Context, op string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, Command{Type: op, Payload: payload})
	return nil
}

func (s *stubInvoker) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *stubInvoker) joins() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.calls {
		if c.Type == OpJoinRoom {
			out = append(out, c.Payload.(map[string]string)["roomId"])
		}
	}
	return out
}

func newTestRooms(t *testing.T, inv *stubInvoker) (*RoomManager, *Dispatcher) {
	t.Helper()
	d := NewDispatcher(testLogger())
	return NewRoomManager(inv, d, testLogger()), d
}

func TestRoomManager_JoinIdempotent(t *testing.T) {
	inv := &stubInvoker{connected: true}
	rooms, _ := newTestRooms(t, inv)

	ctx := context.Background()
	if err := rooms.Join(ctx, "conv-a"); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if err := rooms.Join(ctx, "conv-a"); err != nil {
		t.Fatalf("repeat Join: %v", err)
	}

	if got := inv.joins(); len(got) != 1 {
		t.Fatalf("expected a single join invocation, got %v", got)
	}
	if !rooms.Member("conv-a") {
		t.Fatal("expected membership after join")
	}
}

func TestRoomManager_LeaveUnknownRoomIsNoop(t *testing.T) {
	inv := &stubInvoker{connected: true}
	rooms, _ := newTestRooms(t, inv)

	if err := rooms.Leave(context.Background(), "never-joined"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if len(inv.calls) != 0 {
		t.Fatalf("expected no invocation, got %v", inv.calls)
	}
}

func TestRoomManager_JoinWhileDisconnectedIsSilent(t *testing.T) {
	inv := &stubInvoker{err: ErrNotConnected}
	rooms, _ := newTestRooms(t, inv)

	if err := rooms.Join(context.Background(), "conv-a"); err != nil {
		t.Fatalf("expected silent drop, got %v", err)
	}
	// Membership is recorded locally so the reconnect rejoin restores it.
	if !rooms.Member("conv-a") {
		t.Fatal("expected local membership despite dropped invocation")
	}
}

func TestRoomManager_JoinSurfacesOtherErrors(t *testing.T) {
	inv := &stubInvoker{err: errors.New("transport torn")}
	rooms, _ := newTestRooms(t, inv)

	if err := rooms.Join(context.Background(), "conv-a"); err == nil {
		t.Fatal("expected error surfaced")
	}
}

func TestRoomManager_RejoinAllOnReconnected(t *testing.T) {
	inv := &stubInvoker{connected: true}
	rooms, dispatcher := newTestRooms(t, inv)

	ctx := context.Background()
	_ = rooms.Join(ctx, "conv-b")
	_ = rooms.Join(ctx, "conv-a")
	_ = rooms.Join(ctx, "conv-c")
	_ = rooms.Leave(ctx, "conv-c")

	inv.mu.Lock()
	inv.calls = nil
	inv.mu.Unlock()

	dispatcher.Publish(EventReconnected, nil)

	got := inv.joins()
	if len(got) != 2 || got[0] != "conv-a" || got[1] != "conv-b" {
		t.Fatalf("expected rejoin of exactly [conv-a conv-b], got %v", got)
	}
}

func TestRoomManager_RejoinAfterHubReconnect(t *testing.T) {
	d := &fakeDialer{}
	hub, dispatcher := newTestHub(t, d)
	rooms := NewRoomManager(hub, dispatcher, testLogger())

	ctx := context.Background()
	if err := hub.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := rooms.Join(ctx, "conv-a"); err != nil {
		t.Fatalf("Join: %v", err)
	}

	d.last().drop()
	waitFor(t, 2*time.Second, func() bool {
		last := d.last()
		if last == nil {
			return false
		}
		for _, c := range last.commands() {
			if c.Type == OpJoinRoom {
				return true
			}
		}
		return false
	})
}

func TestRoomManager_RoomsSorted(t *testing.T) {
	inv := &stubInvoker{connected: true}
	rooms, _ := newTestRooms(t, inv)

	ctx := context.Background()
	_ = rooms.Join(ctx, "zz")
	_ = rooms.Join(ctx, "aa")
	_ = rooms.Join(ctx, "mm")

	got := rooms.Rooms()
	if len(got) != 3 || got[0] != "aa" || got[1] != "mm" || got[2] != "zz" {
		t.Fatalf("expected sorted membership, got %v", got)
	}
}
