package game

import (
	"context"
	"sync"
)

// MemRepository is an in-process Repository used when no DATABASE_URL is
// configured, and by tests.
type MemRepository struct {
	mu     sync.Mutex
	states map[string]*Snapshot
	moves  map[string][]string
}

func NewMemRepository() *MemRepository {
	return &MemRepository{
		states: make(map[string]*Snapshot),
		moves:  make(map[string][]string),
	}
}

func (r *MemRepository) SaveCreate(ctx context.Context, snap *Snapshot) error {
	return r.SaveState(ctx, snap)
}

func (r *MemRepository) SaveState(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	r.mu.Lock()
	r.states[snap.ID] = snap
	r.mu.Unlock()
	return nil
}

func (r *MemRepository) SaveMove(_ context.Context, gameID string, ply int, move, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.moves[gameID]
	if ply > 0 && ply <= len(log) {
		log[ply-1] = move
	} else {
		log = append(log, move)
	}
	r.moves[gameID] = log
	return nil
}

func (r *MemRepository) Delete(_ context.Context, gameID string) error {
	r.mu.Lock()
	delete(r.states, gameID)
	delete(r.moves, gameID)
	r.mu.Unlock()
	return nil
}

func (r *MemRepository) Close() error { return nil }

// State returns the last saved snapshot, for tests.
func (r *MemRepository) State(gameID string) *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[gameID]
}

// Moves returns the recorded move log, for tests.
func (r *MemRepository) Moves(gameID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.moves[gameID]...)
}
