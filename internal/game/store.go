package game

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/castlegate/chessd/internal/engine"
	"github.com/castlegate/chessd/internal/obslog"
	"go.uber.org/zap"
)

// Engine is the session-facing view of an engine adapter. Adapter failure is
// never fatal to the owning session; callers degrade to "no AI opponent".
type Engine interface {
	SetDifficulty(level int) error
	SearchDepth() int
	BestMove(ctx context.Context, fen string, depth int, budget time.Duration) (engine.Reply, error)
	Close() error
}

// EngineFactory spawns a fresh engine adapter for an AI-capable session.
type EngineFactory func(ctx context.Context) (Engine, error)

// Store owns the id→session table. The store-level lock guards only the
// table; each session carries its own lock, so distinct games never contend.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	spawn  EngineFactory
	repo   Repository
	mirror Mirror
}

// NewStore builds a store. spawn may be nil, in which case AI-capable games
// degrade to human-only.
func NewStore(spawn EngineFactory) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		spawn:    spawn,
	}
}

// AttachRepository wires best-effort persistence. Failures are logged and
// never fail the in-memory operation.
func (s *Store) AttachRepository(r Repository) { s.repo = r }

// AttachMirror wires the best-effort snapshot mirror.
func (s *Store) AttachMirror(m Mirror) { s.mirror = m }

// Create installs a session under id, tearing down and replacing any
// existing one first (its engine adapter is closed before the new session
// becomes active). Engine spawn failure degrades the session to human-only.
func (s *Store) Create(ctx context.Context, id string, typ Type, difficulty int) (*Snapshot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("empty game id")
	}

	sess := &Session{
		ID:         id,
		Type:       typ,
		Difficulty: difficulty,
		game:       nchess.NewGame(),
		players:    make(map[Color]Player),
		status:     StatusWaiting,
		history:    []string{},
		createdAt:  time.Now(),
	}

	if typ.AICapable() && s.spawn != nil {
		eng, err := s.spawn(ctx)
		if err != nil {
			obslog.L().Warn("engine_spawn_failed",
				zap.String("game_id", id),
				zap.Error(err),
			)
		} else {
			if err := eng.SetDifficulty(difficulty); err != nil {
				obslog.L().Warn("engine_difficulty_failed", zap.String("game_id", id), zap.Error(err))
			}
			sess.engine = eng
		}
	}

	s.mu.Lock()
	if prev, ok := s.sessions[id]; ok {
		prev.mu.Lock()
		prev.releaseEngineLocked()
		prev.status = StatusAbandoned
		prev.mu.Unlock()
		obslog.L().Info("game_replaced", zap.String("game_id", id))
	}
	s.sessions[id] = sess
	s.mu.Unlock()

	obslog.L().Info("game_created",
		zap.String("game_id", id),
		zap.String("type", string(typ)),
		zap.Int("difficulty", difficulty),
		zap.Bool("engine", sess.engine != nil),
	)

	snap := sess.snapshot()
	s.persist(ctx, "create", func(r Repository) error { return r.SaveCreate(ctx, snap) })
	s.mirrorSave(ctx, snap)
	return snap, nil
}

// Join seats a player on a color slot. For AI-capable sessions the opposite
// color is auto-filled with a synthetic AI player; status becomes InProgress
// once both colors are filled.
func (s *Store) Join(ctx context.Context, id, playerID, name string, color Color) (*Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if _, taken := sess.players[color]; taken {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", color, ErrColorTaken)
	}
	sess.players[color] = Player{ID: playerID, Name: name, Color: color}

	if sess.Type.AICapable() {
		opp := color.Other()
		if _, taken := sess.players[opp]; !taken {
			sess.players[opp] = Player{
				ID:    "ai_" + id,
				Name:  fmt.Sprintf("Stockfish (Level %d)", sess.Difficulty),
				IsAI:  true,
				Color: opp,
			}
		}
	}

	if len(sess.players) == 2 && sess.status == StatusWaiting {
		sess.status = StatusInProgress
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	obslog.L().Info("game_joined",
		zap.String("game_id", id),
		zap.String("player_id", playerID),
		zap.String("color", string(color)),
		zap.String("status", string(snap.Status)),
	)

	s.persist(ctx, "join", func(r Repository) error { return r.SaveState(ctx, snap) })
	s.mirrorSave(ctx, snap)
	return snap, nil
}

// Move applies a player's move token. The token is matched against the
// current legal-move set by exact or positional-prefix equality; the
// submitting player must be the side-to-move's occupant.
func (s *Store) Move(ctx context.Context, id, playerID, token string) (*MoveResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	turn := colorFromLib(sess.game.Position().Turn())
	occupant, seated := sess.players[turn]
	if !seated || occupant.IsAI || occupant.ID != playerID {
		sess.mu.Unlock()
		return nil, fmt.Errorf("player %s on %s turn: %w", playerID, turn, ErrNotYourTurn)
	}

	token = strings.ToLower(strings.TrimSpace(token))
	mv := findLegalMove(sess.game, token)
	if mv == nil {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%q: %w", token, ErrIllegalMove)
	}

	res, err := sess.applyLocked(mv, token)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	obslog.L().Info("game_move",
		zap.String("game_id", id),
		zap.String("player_id", playerID),
		zap.String("move", res.Move),
		zap.String("status", string(res.GameStatus)),
	)

	s.persistMove(ctx, snap, res)
	return res, nil
}

// AIMove requests, re-validates, and applies an engine move for the
// side-to-move. The engine's answer is never trusted blindly: a token
// outside the legal-move set fails with ErrEngineMove and no state change.
func (s *Store) AIMove(ctx context.Context, id string) (*MoveResult, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.status != StatusInProgress {
		sess.mu.Unlock()
		return nil, fmt.Errorf("game %s: %w", sess.status, ErrNotAITurn)
	}
	turn := colorFromLib(sess.game.Position().Turn())
	occupant, seated := sess.players[turn]
	if !seated || !occupant.IsAI {
		sess.mu.Unlock()
		return nil, fmt.Errorf("%s to move: %w", turn, ErrNotAITurn)
	}
	if sess.engine == nil {
		sess.mu.Unlock()
		return nil, ErrEngineUnavailable
	}

	budget := time.Duration(500+sess.Difficulty*150) * time.Millisecond
	reply, err := sess.engine.BestMove(ctx, sess.game.FEN(), sess.engine.SearchDepth(), budget)
	if err != nil {
		sess.mu.Unlock()
		return nil, fmt.Errorf("engine search: %w", err)
	}

	token := strings.ToLower(strings.TrimSpace(reply.Move))
	mv := findLegalMove(sess.game, token)
	if mv == nil {
		sess.mu.Unlock()
		obslog.L().Warn("engine_move_rejected",
			zap.String("game_id", id),
			zap.String("move", reply.Move),
		)
		return nil, fmt.Errorf("%q: %w", reply.Move, ErrEngineMove)
	}

	res, err := sess.applyLocked(mv, token)
	if err != nil {
		sess.mu.Unlock()
		return nil, err
	}
	res.Evaluation = reply.Evaluation
	res.Depth = reply.Depth
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	obslog.L().Info("game_ai_move",
		zap.String("game_id", id),
		zap.String("move", res.Move),
		zap.Int("eval_cp", res.Evaluation),
		zap.Int("depth", res.Depth),
		zap.Duration("elapsed", reply.Elapsed),
		zap.String("status", string(res.GameStatus)),
	)

	s.persistMove(ctx, snap, res)
	return res, nil
}

// IsAITurn reports whether the session is in progress with an available
// engine and the side-to-move assigned to the AI player.
func (s *Store) IsAITurn(id string) bool {
	sess, err := s.lookup(id)
	if err != nil {
		return false
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	if sess.status != StatusInProgress || sess.engine == nil {
		return false
	}
	occupant, seated := sess.players[colorFromLib(sess.game.Position().Turn())]
	return seated && occupant.IsAI
}

// Snapshot returns a read-only copy of the session state.
func (s *Store) Snapshot(id string) (*Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.snapshot(), nil
}

// End marks the session completed (releasing its engine adapter) on behalf
// of an externally reported game-over. Already-final sessions are left
// untouched.
func (s *Store) End(ctx context.Context, id, result, winner, reason string) (*Snapshot, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	if sess.status != StatusCompleted && sess.status != StatusAbandoned {
		sess.status = StatusCompleted
		sess.releaseEngineLocked()
	}
	snap := sess.snapshotLocked()
	sess.mu.Unlock()

	obslog.L().Info("game_over",
		zap.String("game_id", id),
		zap.String("result", result),
		zap.String("winner", winner),
		zap.String("reason", reason),
	)

	s.persist(ctx, "end", func(r Repository) error { return r.SaveState(ctx, snap) })
	s.mirrorSave(ctx, snap)
	return snap, nil
}

// Delete closes any engine adapter and removes the session. A no-op when
// absent.
func (s *Store) Delete(ctx context.Context, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	sess.releaseEngineLocked()
	sess.mu.Unlock()

	obslog.L().Info("game_deleted", zap.String("game_id", id))
	s.persist(ctx, "delete", func(r Repository) error { return r.Delete(ctx, id) })
	s.mirrorDelete(ctx, id)
}

// Sweep evicts sessions idle longer than maxIdle and returns how many were
// removed. In-progress sessions are marked abandoned before removal.
func (s *Store) Sweep(ctx context.Context, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxIdle)

	s.mu.RLock()
	stale := make([]string, 0)
	for id, sess := range s.sessions {
		sess.mu.RLock()
		last := sess.lastMoveAt
		if last.IsZero() {
			last = sess.createdAt
		}
		sess.mu.RUnlock()
		if last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.mu.Lock()
		sess, ok := s.sessions[id]
		if ok {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}

		sess.mu.Lock()
		if sess.status == StatusWaiting || sess.status == StatusInProgress {
			sess.status = StatusAbandoned
		}
		sess.releaseEngineLocked()
		snap := sess.snapshotLocked()
		sess.mu.Unlock()

		// the archive keeps the abandoned row; only the live copies go
		s.persist(ctx, "sweep", func(r Repository) error { return r.SaveState(ctx, snap) })
		s.mirrorDelete(ctx, id)
	}

	if len(stale) > 0 {
		obslog.L().Info("game_sweep", zap.Int("evicted", len(stale)))
	}
	return len(stale)
}

// Close tears down every session and its engine adapter.
func (s *Store) Close() {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.releaseEngineLocked()
		sess.mu.Unlock()
	}
}

func (s *Store) lookup(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrGameNotFound)
	}
	return sess, nil
}

// findLegalMove matches a token against the current legal-move set by exact
// or positional-prefix equality, tolerating both plain and
// promotion-suffixed encodings.
func findLegalMove(g *nchess.Game, token string) *nchess.Move {
	if len(token) < 4 {
		return nil
	}
	moves := g.ValidMoves()
	for i := range moves {
		str := moves[i].String()
		if str == token {
			return &moves[i]
		}
		if len(str) >= 4 && str[:4] == token {
			return &moves[i]
		}
	}
	return nil
}

// applyLocked commits a validated move. Caller holds the session lock.
func (sess *Session) applyLocked(mv *nchess.Move, token string) (*MoveResult, error) {
	if err := sess.game.Move(mv, nil); err != nil {
		return nil, fmt.Errorf("apply move %q: %w", token, err)
	}
	sess.history = append(sess.history, token)
	sess.lastMoveAt = time.Now()

	res := &MoveResult{
		Move:        token,
		FEN:         sess.game.FEN(),
		Turn:        colorFromLib(sess.game.Position().Turn()),
		IsCheck:     sess.game.Position().Status().String() == "in_check",
		IsCheckmate: sess.game.Method() == nchess.Checkmate,
		IsStalemate: sess.game.Method() == nchess.Stalemate,
		GameStatus:  sess.status,
	}

	if res.IsCheckmate || res.IsStalemate || sess.game.Outcome() != nchess.NoOutcome {
		sess.status = StatusCompleted
		res.GameStatus = StatusCompleted
		sess.releaseEngineLocked()
	}
	return res, nil
}

// releaseEngineLocked closes and drops the engine adapter. Caller holds the
// session lock.
func (sess *Session) releaseEngineLocked() {
	if sess.engine == nil {
		return
	}
	if err := sess.engine.Close(); err != nil {
		obslog.L().Warn("engine_close_failed", zap.String("game_id", sess.ID), zap.Error(err))
	}
	sess.engine = nil
}

func (sess *Session) snapshot() *Snapshot {
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.snapshotLocked()
}

// snapshotLocked copies session state. Caller holds the session lock (read
// or write).
func (sess *Session) snapshotLocked() *Snapshot {
	players := make(map[Color]Player, len(sess.players))
	for c, p := range sess.players {
		players[c] = p
	}
	history := append([]string(nil), sess.history...)

	return &Snapshot{
		ID:          sess.ID,
		Type:        sess.Type,
		FEN:         sess.game.FEN(),
		Turn:        colorFromLib(sess.game.Position().Turn()),
		Status:      sess.status,
		Players:     players,
		IsCheck:     sess.game.Position().Status().String() == "in_check",
		IsCheckmate: sess.game.Method() == nchess.Checkmate,
		IsStalemate: sess.game.Method() == nchess.Stalemate,
		Difficulty:  sess.Difficulty,
		CreatedAt:   sess.createdAt,
		LastMoveAt:  sess.lastMoveAt,
		MoveHistory: history,
	}
}

// persist runs one best-effort repository call.
func (s *Store) persist(ctx context.Context, op string, fn func(Repository) error) {
	if s.repo == nil {
		return
	}
	if err := fn(s.repo); err != nil {
		obslog.L().Warn("persist_failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Store) persistMove(ctx context.Context, snap *Snapshot, res *MoveResult) {
	s.persist(ctx, "move", func(r Repository) error {
		if err := r.SaveMove(ctx, snap.ID, len(snap.MoveHistory), res.Move, res.FEN); err != nil {
			return err
		}
		return r.SaveState(ctx, snap)
	})
	s.mirrorSave(ctx, snap)
}

func (s *Store) mirrorSave(ctx context.Context, snap *Snapshot) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Save(ctx, snap); err != nil {
		obslog.L().Warn("mirror_save_failed", zap.String("game_id", snap.ID), zap.Error(err))
	}
}

func (s *Store) mirrorDelete(ctx context.Context, id string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.Delete(ctx, id); err != nil {
		obslog.L().Warn("mirror_delete_failed", zap.String("game_id", id), zap.Error(err))
	}
}
