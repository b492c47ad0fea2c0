package ws

import (
	"testing"
)

func newTestClient(gameID string, buf int) *Client {
	return &Client{
		ID:     "c-" + gameID,
		GameID: gameID,
		egress: make(chan Event, buf),
	}
}

func TestDeregisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("g1", 1)

	r.Register(c)
	if !r.Deregister(c) {
		t.Fatalf("first Deregister = false")
	}
	if r.Deregister(c) {
		t.Fatalf("second Deregister = true, want no-op")
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d, want 0", r.Len())
	}

	// egress closed exactly once
	if _, open := <-c.egress; open {
		t.Fatalf("egress not closed")
	}
}

func TestBroadcastScopedToGame(t *testing.T) {
	r := NewRegistry()
	a := newTestClient("g1", 4)
	b := newTestClient("g2", 4)
	r.Register(a)
	r.Register(b)

	r.Broadcast("g1", Event{Type: EventGameState})

	if len(a.egress) != 1 {
		t.Fatalf("g1 client got %d events, want 1", len(a.egress))
	}
	if len(b.egress) != 0 {
		t.Fatalf("g2 client got %d events, want 0", len(b.egress))
	}
}

func TestBroadcastDropsOnFullQueueWithoutStalling(t *testing.T) {
	r := NewRegistry()
	slow := newTestClient("g1", 1)
	fast := &Client{ID: "fast", GameID: "g1", egress: make(chan Event, 8)}
	r.Register(slow)
	r.Register(fast)

	for i := 0; i < 3; i++ {
		r.Broadcast("g1", Event{Type: EventGameState})
	}

	if len(slow.egress) != 1 {
		t.Fatalf("slow client queue = %d, want 1", len(slow.egress))
	}
	if len(fast.egress) != 3 {
		t.Fatalf("fast client queue = %d, want 3 (dropped elsewhere)", len(fast.egress))
	}
	if got := r.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestSendSkipsDeregisteredClient(t *testing.T) {
	r := NewRegistry()
	c := newTestClient("g1", 1)
	r.Register(c)
	r.Deregister(c)

	if r.Send(c, Event{Type: EventError}) {
		t.Fatalf("Send to deregistered client = true")
	}
}
