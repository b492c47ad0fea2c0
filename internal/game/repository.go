package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Repository archives session history. All calls are best-effort from the
// store's point of view; errors are logged, never surfaced to players.
type Repository interface {
	SaveCreate(ctx context.Context, snap *Snapshot) error
	SaveState(ctx context.Context, snap *Snapshot) error
	SaveMove(ctx context.Context, gameID string, ply int, move, fen string) error
	Delete(ctx context.Context, gameID string) error
	Close() error
}

// PGRepository persists sessions and their move logs to Postgres.
type PGRepository struct {
	db *sql.DB
}

func NewPGRepository(databaseURL string) (*PGRepository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return &PGRepository{db: db}, nil
}

func (r *PGRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *PGRepository) SaveCreate(ctx context.Context, snap *Snapshot) error {
	return r.SaveState(ctx, snap)
}

// SaveState upserts the session row keyed by game id.
func (r *PGRepository) SaveState(ctx context.Context, snap *Snapshot) error {
	if r == nil || r.db == nil || snap == nil {
		return nil
	}
	playersRaw, _ := json.Marshal(snap.Players)
	historyRaw, _ := json.Marshal(snap.MoveHistory)

	q := `INSERT INTO games (
	    game_id, game_type, fen, turn, status, difficulty,
	    players, move_history, created_at, last_move_at
	  ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	  ON CONFLICT (game_id) DO UPDATE SET
	    fen=EXCLUDED.fen,
	    turn=EXCLUDED.turn,
	    status=EXCLUDED.status,
	    players=EXCLUDED.players,
	    move_history=EXCLUDED.move_history,
	    last_move_at=EXCLUDED.last_move_at`

	_, err := r.db.ExecContext(ctx, q,
		snap.ID, string(snap.Type), snap.FEN, string(snap.Turn), string(snap.Status),
		snap.Difficulty, string(playersRaw), string(historyRaw),
		snap.CreatedAt, nullableTime(snap.LastMoveAt),
	)
	return err
}

func (r *PGRepository) SaveMove(ctx context.Context, gameID string, ply int, move, fen string) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO game_moves (game_id, ply, move, fen, played_at)
	  VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (game_id, ply) DO UPDATE SET
	    move=EXCLUDED.move, fen=EXCLUDED.fen, played_at=EXCLUDED.played_at`
	_, err := r.db.ExecContext(ctx, q, gameID, ply, move, fen, time.Now())
	return err
}

func (r *PGRepository) Delete(ctx context.Context, gameID string) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM game_moves WHERE game_id = $1`, gameID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM games WHERE game_id = $1`, gameID)
	return err
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
