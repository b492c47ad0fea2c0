package ws

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/castlegate/chessd/internal/engine"
	"github.com/castlegate/chessd/internal/game"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	replies []engine.Reply
}

func (s *stubEngine) SetDifficulty(int) error { return nil }
func (s *stubEngine) SearchDepth() int        { return 3 }
func (s *stubEngine) Close() error            { return nil }

func (s *stubEngine) BestMove(context.Context, string, int, time.Duration) (engine.Reply, error) {
	if len(s.replies) == 0 {
		return engine.Reply{}, errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func newTestHub(t *testing.T, replies ...engine.Reply) (*Hub, *game.Store) {
	t.Helper()
	store := game.NewStore(func(context.Context) (game.Engine, error) {
		return &stubEngine{replies: replies}, nil
	})
	t.Cleanup(store.Close)
	h := NewHub(store, Options{EgressBuffer: 16, AIMoveDelay: 10 * time.Millisecond})
	return h, store
}

func attachClient(h *Hub, gameID, playerID string) *Client {
	c := &Client{
		ID:       "conn-" + playerID,
		GameID:   gameID,
		playerID: playerID,
		name:     playerID,
		hub:      h,
		egress:   make(chan Event, 16),
	}
	h.registry.Register(c)
	return c
}

// waitEvent drains the client's queue until an event of the wanted type
// arrives.
func waitEvent(t *testing.T, c *Client, eventType string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.egress:
			if ev.Type == eventType {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", eventType)
		}
	}
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestRouteUnknownEventIsTerminal(t *testing.T) {
	h, _ := newTestHub(t)
	c := attachClient(h, "g1", "alice")

	err := h.route(context.Background(), c, Event{Type: "bogus"})
	require.ErrorIs(t, err, ErrUnknownEvent)
}

func TestRouteMalformedPayloadIsTerminal(t *testing.T) {
	h, _ := newTestHub(t)
	c := attachClient(h, "g1", "alice")

	err := h.route(context.Background(), c, Event{
		Type:    EventMove,
		Payload: json.RawMessage(`"not an object"`),
	})
	require.Error(t, err)
	require.False(t, callerError(err))
}

func TestNewAIGameBroadcastsState(t *testing.T) {
	h, store := newTestHub(t)
	c := attachClient(h, "g1", "alice")

	err := h.route(context.Background(), c, Event{
		Type: EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{
			Difficulty:  7,
			PlayerColor: "white",
			PlayerName:  "Alice",
		}),
	})
	require.NoError(t, err)

	ev := waitEvent(t, c, EventGameState)
	var snap game.Snapshot
	require.NoError(t, json.Unmarshal(ev.Payload, &snap))
	require.Equal(t, game.StatusInProgress, snap.Status)
	require.Equal(t, game.HumanVsAI, snap.Type)
	require.True(t, snap.Players[game.Black].IsAI)

	got, err := store.Snapshot("g1")
	require.NoError(t, err)
	require.Equal(t, 7, got.Difficulty)
}

func TestNewAIGameAsBlackTriggersOpeningAIMove(t *testing.T) {
	h, _ := newTestHub(t, engine.Reply{Move: "e2e4", Evaluation: 30, Depth: 3})
	c := attachClient(h, "g1", "alice")

	err := h.route(context.Background(), c, Event{
		Type: EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{
			Difficulty:  5,
			PlayerColor: "black",
		}),
	})
	require.NoError(t, err)

	ev := waitEvent(t, c, EventAIMove)
	var b AIMoveBroadcast
	require.NoError(t, json.Unmarshal(ev.Payload, &b))
	require.Equal(t, "e2e4", b.Move)
	require.Equal(t, "e2", b.From)
	require.Equal(t, "e4", b.To)
	require.Equal(t, "black", b.Turn)
}

func TestMoveFlowSchedulesAIReply(t *testing.T) {
	h, _ := newTestHub(t, engine.Reply{Move: "e7e5", Evaluation: -15, Depth: 3})
	c := attachClient(h, "g1", "alice")

	require.NoError(t, h.route(context.Background(), c, Event{
		Type:    EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{Difficulty: 5, PlayerColor: "white"}),
	}))
	waitEvent(t, c, EventGameState)

	require.NoError(t, h.route(context.Background(), c, Event{
		Type:    EventMove,
		Payload: payload(t, MovePayload{From: "e2", To: "e4"}),
	}))
	waitEvent(t, c, EventGameState)

	ev := waitEvent(t, c, EventAIMove)
	var b AIMoveBroadcast
	require.NoError(t, json.Unmarshal(ev.Payload, &b))
	require.Equal(t, "e7e5", b.Move)
	require.Equal(t, -15, b.Evaluation)
	require.Equal(t, "white", b.Turn)
}

func TestMoveDomainErrorGoesToCallerOnly(t *testing.T) {
	h, _ := newTestHub(t)
	alice := attachClient(h, "g1", "alice")
	watcher := attachClient(h, "g1", "watcher")

	require.NoError(t, h.route(context.Background(), alice, Event{
		Type:    EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{Difficulty: 5, PlayerColor: "white"}),
	}))
	waitEvent(t, alice, EventGameState)
	waitEvent(t, watcher, EventGameState)

	// illegal token: connection survives, only alice hears about it
	err := h.route(context.Background(), alice, Event{
		Type:    EventMove,
		Payload: payload(t, MovePayload{Move: "e2e5"}),
	})
	require.NoError(t, err)

	ev := waitEvent(t, alice, EventError)
	var ep ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &ep))
	require.Contains(t, ep.Message, "illegal move")
	require.Empty(t, watcher.egress)
}

func TestSpectatorCannotStartOrMove(t *testing.T) {
	h, store := newTestHub(t)
	spec := attachClient(h, "g1", "ghost")
	spec.role = "spectator"

	require.NoError(t, h.route(context.Background(), spec, Event{
		Type:    EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{Difficulty: 5}),
	}))
	waitEvent(t, spec, EventError)
	_, err := store.Snapshot("g1")
	require.ErrorIs(t, err, game.ErrGameNotFound)
}

func TestGameOverRelayCompletesSession(t *testing.T) {
	h, store := newTestHub(t)
	alice := attachClient(h, "g1", "alice")
	watcher := attachClient(h, "g1", "watcher")

	require.NoError(t, h.route(context.Background(), alice, Event{
		Type:    EventNewAIGame,
		Payload: payload(t, NewAIGamePayload{Difficulty: 5, PlayerColor: "white"}),
	}))
	waitEvent(t, alice, EventGameState)
	waitEvent(t, watcher, EventGameState)

	require.NoError(t, h.route(context.Background(), alice, Event{
		Type:    EventGameOver,
		Payload: payload(t, GameOverPayload{Result: "black", Winner: "black", Reason: "resignation"}),
	}))

	ev := waitEvent(t, watcher, EventGameOver)
	var p GameOverPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &p))
	require.Equal(t, "resignation", p.Reason)

	snap, err := store.Snapshot("g1")
	require.NoError(t, err)
	require.Equal(t, game.StatusCompleted, snap.Status)
}
