package hub

import (
	"testing"

	"github.com/sirupsen/logrus/hooks/test"

	"boardsync/domain"
)

func testHub() *Hub {
	logger, _ := test.NewNullLogger()
	return NewHub(logger)
}

func user(id string) domain.Identity {
	return domain.Identity{UserID: id, DisplayName: "User " + id}
}

func TestJoinIsIdempotent(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))

	first, err := h.Join(conn.ID, "b1")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if first.AlreadyJoined || !first.NewlyPresent {
		t.Fatalf("unexpected first join result %+v", first)
	}

	second, err := h.Join(conn.ID, "b1")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !second.AlreadyJoined || second.NewlyPresent {
		t.Fatalf("unexpected rejoin result %+v", second)
	}
	if got := h.ConnectionsOf("b1"); len(got) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(got))
	}
}

func TestJoinUnknownConnection(t *testing.T) {
	h := testHub()
	if _, err := h.Join("nope", "b1"); err != ErrUnknownConnection {
		t.Fatalf("expected ErrUnknownConnection, got %v", err)
	}
}

func TestLeaveDropsEmptyRoom(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	if _, err := h.Join(conn.ID, "b1"); err != nil {
		t.Fatalf("join: %v", err)
	}

	dep, left := h.Leave(conn.ID, "b1")
	if !left || !dep.LastOfUser {
		t.Fatalf("unexpected departure %+v left=%v", dep, left)
	}
	if got := h.ConnectionsOf("b1"); len(got) != 0 {
		t.Fatalf("expected empty room, got %v", got)
	}
	if got := h.PresenceOf("b1"); len(got) != 0 {
		t.Fatalf("expected empty presence, got %v", got)
	}
	if len(h.rooms) != 0 || len(h.presence) != 0 {
		t.Fatalf("expected room and presence entries to be removed")
	}
}

func TestLeaveNotJoinedIsNoOp(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	if _, left := h.Leave(conn.ID, "b1"); left {
		t.Fatal("expected leave of unjoined board to report false")
	}
}

func TestMultiTabUserAppearsOnce(t *testing.T) {
	h := testHub()
	tab1 := h.Register(user("u1"))
	tab2 := h.Register(user("u1"))

	res1, _ := h.Join(tab1.ID, "b1")
	res2, _ := h.Join(tab2.ID, "b1")
	if !res1.NewlyPresent {
		t.Fatal("first tab should make the user present")
	}
	if res2.NewlyPresent {
		t.Fatal("second tab must not make the user newly present")
	}
	if got := h.PresenceOf("b1"); len(got) != 1 {
		t.Fatalf("expected single presence entry, got %v", got)
	}

	dep, _ := h.Leave(tab1.ID, "b1")
	if dep.LastOfUser {
		t.Fatal("user still has a tab open, must not be last")
	}
	if got := h.PresenceOf("b1"); len(got) != 1 {
		t.Fatalf("expected user to remain present, got %v", got)
	}

	dep, _ = h.Leave(tab2.ID, "b1")
	if !dep.LastOfUser {
		t.Fatal("closing the last tab must end presence")
	}
	if got := h.PresenceOf("b1"); len(got) != 0 {
		t.Fatalf("expected empty presence, got %v", got)
	}
}

func TestConnectionCanJoinMultipleBoards(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	if _, err := h.Join(conn.ID, "b1"); err != nil {
		t.Fatalf("join b1: %v", err)
	}
	if _, err := h.Join(conn.ID, "b2"); err != nil {
		t.Fatalf("join b2: %v", err)
	}
	if len(h.ConnectionsOf("b1")) != 1 || len(h.ConnectionsOf("b2")) != 1 {
		t.Fatal("expected connection in both rooms")
	}
}

func TestUnregisterCleansEveryRoom(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	other := h.Register(user("u2"))
	h.Join(conn.ID, "b1")
	h.Join(conn.ID, "b2")
	h.Join(other.ID, "b1")

	departures := h.Unregister(conn.ID)
	if len(departures) != 2 {
		t.Fatalf("expected 2 departures, got %d", len(departures))
	}
	for _, dep := range departures {
		if !dep.LastOfUser {
			t.Fatalf("expected last-of-user departure, got %+v", dep)
		}
	}
	if got := h.ConnectionsOf("b1"); len(got) != 1 {
		t.Fatalf("expected u2's connection to remain in b1, got %v", got)
	}
	if got := h.ConnectionsOf("b2"); len(got) != 0 {
		t.Fatalf("expected b2 to be empty, got %v", got)
	}
	if got := h.PresenceOf("b1"); len(got) != 1 || got[0].UserID != "u2" {
		t.Fatalf("expected only u2 present on b1, got %v", got)
	}
	if _, ok := h.Owner(conn.ID); ok {
		t.Fatal("expected connection to be dropped from the registry")
	}
}

func TestBroadcastIsolatedPerBoard(t *testing.T) {
	h := testHub()
	inX := h.Register(user("u1"))
	inY := h.Register(user("u2"))
	h.Join(inX.ID, "x")
	h.Join(inY.ID, "y")

	delivered := h.Broadcast("x", []byte("hello"), "")
	if delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	select {
	case <-inY.Events():
		t.Fatal("connection joined only to y must not receive x events")
	default:
	}
	select {
	case payload := <-inX.Events():
		if string(payload) != "hello" {
			t.Fatalf("unexpected payload %s", payload)
		}
	default:
		t.Fatal("expected delivery to x subscriber")
	}
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	h := testHub()
	a := h.Register(user("u1"))
	b := h.Register(user("u2"))
	h.Join(a.ID, "b1")
	h.Join(b.ID, "b1")

	if delivered := h.Broadcast("b1", []byte("ev"), a.ID); delivered != 1 {
		t.Fatalf("expected 1 delivery, got %d", delivered)
	}
	select {
	case <-a.Events():
		t.Fatal("excluded connection must not receive the event")
	default:
	}
}

func TestBroadcastDropsWhenQueueFull(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	h.Join(conn.ID, "b1")

	for i := 0; i < sendBuffer; i++ {
		if !h.SendTo(conn.ID, []byte("fill")) {
			t.Fatalf("queue filled early at %d", i)
		}
	}
	if delivered := h.Broadcast("b1", []byte("overflow"), ""); delivered != 0 {
		t.Fatalf("expected drop, got %d deliveries", delivered)
	}
}

func TestRefreshRequiresJoinedBoard(t *testing.T) {
	h := testHub()
	conn := h.Register(user("u1"))
	if h.Refresh(conn.ID, "b1") {
		t.Fatal("refresh must fail for a board the connection has not joined")
	}
	h.Join(conn.ID, "b1")
	if !h.Refresh(conn.ID, "b1") {
		t.Fatal("refresh must succeed for a joined board")
	}
}
