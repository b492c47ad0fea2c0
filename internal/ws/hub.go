package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/castlegate/chessd/internal/game"
	"github.com/castlegate/chessd/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ErrUnknownEvent marks an envelope type with no registered handler.
var ErrUnknownEvent = errors.New("unknown event type")

type handlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Hub accepts websocket connections, routes their events into the game
// store, and fans results back out through the registry.
type Hub struct {
	store    *game.Store
	registry *Registry

	allowedOrigins []string
	egressBuffer   int
	aiDelay        time.Duration

	handlers map[string]handlerFunc
}

// Options tunes hub behavior; zero values fall back to defaults.
type Options struct {
	AllowedOrigins []string
	EgressBuffer   int
	AIMoveDelay    time.Duration
}

func NewHub(store *game.Store, opts Options) *Hub {
	if opts.EgressBuffer <= 0 {
		opts.EgressBuffer = 32
	}
	if opts.AIMoveDelay <= 0 {
		opts.AIMoveDelay = 500 * time.Millisecond
	}
	h := &Hub{
		store:          store,
		registry:       NewRegistry(),
		allowedOrigins: opts.AllowedOrigins,
		egressBuffer:   opts.EgressBuffer,
		aiDelay:        opts.AIMoveDelay,
	}
	h.handlers = map[string]handlerFunc{
		EventNewAIGame: h.handleNewAIGame,
		EventMove:      h.handleMove,
		EventAIMove:    h.handleAIMove,
		EventGameOver:  h.handleGameOver,
	}
	return h
}

// Registry exposes the connection registry for monitoring.
func (h *Hub) Registry() *Registry { return h.registry }

// ServeWS upgrades the request and runs the connection's pumps. The game id
// comes from the route; player identity comes from headers with query and
// generated fallbacks.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	gameID := strings.TrimSpace(r.PathValue("gameID"))
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.allowedOrigins,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Warn("ws_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}

	playerID := firstNonEmpty(
		r.Header.Get("X-Connection-Id"),
		r.URL.Query().Get("playerId"),
		uuid.NewString(),
	)
	name := firstNonEmpty(
		r.Header.Get("X-Display-Name"),
		r.URL.Query().Get("playerName"),
		"anonymous",
	)
	role := r.URL.Query().Get("role")
	if role != "spectator" {
		role = "player"
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &Client{
		ID:       uuid.NewString(),
		GameID:   gameID,
		playerID: playerID,
		name:     name,
		role:     role,
		conn:     conn,
		hub:      h,
		egress:   make(chan Event, h.egressBuffer),
		cancel:   cancel,
	}
	h.registry.Register(c)

	// greet with current state when the game already exists
	if snap, err := h.store.Snapshot(gameID); err == nil {
		h.registry.Send(c, mustEvent(EventGameState, snap))
	}

	go c.writePump(ctx)
	c.readPump(ctx)
}

// route dispatches one envelope. A returned error is a protocol violation
// and terminal for the connection; recoverable game errors are delivered to
// the caller inside the handler and absorbed.
func (h *Hub) route(ctx context.Context, c *Client, ev Event) error {
	handler, ok := h.handlers[ev.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
	}
	return handler(ctx, c, ev.Payload)
}

// callerError reports whether the failure concerns only the submitting
// client; these are answered with an error event and the connection stays
// up.
func callerError(err error) bool {
	return errors.Is(err, game.ErrGameNotFound) ||
		errors.Is(err, game.ErrColorTaken) ||
		errors.Is(err, game.ErrNotYourTurn) ||
		errors.Is(err, game.ErrIllegalMove) ||
		errors.Is(err, game.ErrNotAITurn) ||
		errors.Is(err, game.ErrEngineUnavailable) ||
		errors.Is(err, game.ErrEngineMove)
}

func (h *Hub) handleNewAIGame(ctx context.Context, c *Client, payload json.RawMessage) error {
	if c.role == "spectator" {
		h.registry.Send(c, errorEvent("spectators cannot start games"))
		return nil
	}
	var p NewAIGamePayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode new_ai_game payload: %w", err)
		}
	}

	color, ok := game.ParseColor(p.PlayerColor)
	if !ok {
		color = game.White
	}
	if strings.TrimSpace(p.PlayerID) != "" {
		c.playerID = strings.TrimSpace(p.PlayerID)
	}
	if strings.TrimSpace(p.PlayerName) != "" {
		c.name = strings.TrimSpace(p.PlayerName)
	}

	if _, err := h.store.Create(ctx, c.GameID, game.HumanVsAI, p.Difficulty); err != nil {
		h.registry.Send(c, errorEvent(err.Error()))
		return nil
	}
	snap, err := h.store.Join(ctx, c.GameID, c.playerID, c.name, color)
	if err != nil {
		h.registry.Send(c, errorEvent(err.Error()))
		return nil
	}

	h.registry.Broadcast(c.GameID, mustEvent(EventGameState, snap))
	h.scheduleAITurn(c.GameID)
	return nil
}

func (h *Hub) handleMove(ctx context.Context, c *Client, payload json.RawMessage) error {
	if c.role == "spectator" {
		h.registry.Send(c, errorEvent("spectators cannot move"))
		return nil
	}
	var p MovePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode move payload: %w", err)
	}
	token := strings.TrimSpace(p.Move)
	if token == "" {
		token = strings.TrimSpace(p.From) + strings.TrimSpace(p.To) + strings.TrimSpace(p.Promotion)
	}

	res, err := h.store.Move(ctx, c.GameID, c.playerID, token)
	if err != nil {
		if callerError(err) {
			h.registry.Send(c, errorEvent(err.Error()))
			return nil
		}
		return err
	}

	snap, err := h.store.Snapshot(c.GameID)
	if err == nil {
		h.registry.Broadcast(c.GameID, mustEvent(EventGameState, snap))
	}
	if res.GameStatus == game.StatusCompleted {
		h.registry.Broadcast(c.GameID, mustEvent(EventGameOver, gameOverFromResult(res)))
		return nil
	}
	h.scheduleAITurn(c.GameID)
	return nil
}

func (h *Hub) handleAIMove(ctx context.Context, c *Client, _ json.RawMessage) error {
	h.requestAIMove(ctx, c.GameID, c)
	return nil
}

func (h *Hub) handleGameOver(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p GameOverPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode game_over payload: %w", err)
	}

	if _, err := h.store.End(ctx, c.GameID, p.Result, p.Winner, p.Reason); err != nil {
		if callerError(err) {
			h.registry.Send(c, errorEvent(err.Error()))
			return nil
		}
		return err
	}
	h.registry.Broadcast(c.GameID, mustEvent(EventGameOver, p))
	return nil
}

// scheduleAITurn arms a delayed engine move so clients render the human move
// before the reply arrives. The turn is re-checked after the delay; stale
// triggers dissolve.
func (h *Hub) scheduleAITurn(gameID string) {
	if !h.store.IsAITurn(gameID) {
		return
	}
	go func() {
		time.Sleep(h.aiDelay)
		if !h.store.IsAITurn(gameID) {
			return
		}
		h.requestAIMove(context.Background(), gameID, nil)
	}()
}

// requestAIMove runs one engine move and broadcasts the outcome. When caller
// is non-nil, failures are reported to it; otherwise they are only logged.
func (h *Hub) requestAIMove(ctx context.Context, gameID string, caller *Client) {
	res, err := h.store.AIMove(ctx, gameID)
	if err != nil {
		obslog.L().Warn("ai_move_failed", zap.String("game_id", gameID), zap.Error(err))
		if caller != nil && callerError(err) {
			h.registry.Send(caller, errorEvent(err.Error()))
		}
		return
	}

	h.registry.Broadcast(gameID, mustEvent(EventAIMove, aiBroadcastFromResult(res)))
	if res.GameStatus == game.StatusCompleted {
		h.registry.Broadcast(gameID, mustEvent(EventGameOver, gameOverFromResult(res)))
	}
}

func aiBroadcastFromResult(res *game.MoveResult) AIMoveBroadcast {
	b := AIMoveBroadcast{
		Move:        res.Move,
		FEN:         res.FEN,
		Turn:        string(res.Turn),
		IsCheck:     res.IsCheck,
		IsCheckmate: res.IsCheckmate,
		IsStalemate: res.IsStalemate,
		GameStatus:  string(res.GameStatus),
		Evaluation:  res.Evaluation,
		Depth:       res.Depth,
	}
	if len(res.Move) >= 4 {
		b.From = res.Move[:2]
		b.To = res.Move[2:4]
		if len(res.Move) > 4 {
			b.Promotion = res.Move[4:]
		}
	}
	return b
}

// gameOverFromResult derives the relayed result from a terminal move. The
// mover is the side opposite the resulting turn.
func gameOverFromResult(res *game.MoveResult) GameOverPayload {
	switch {
	case res.IsCheckmate:
		winner := string(res.Turn.Other())
		return GameOverPayload{Result: winner, Winner: winner, Reason: "checkmate"}
	case res.IsStalemate:
		return GameOverPayload{Result: "draw", Reason: "stalemate"}
	default:
		return GameOverPayload{Result: "draw", Reason: "rule"}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
