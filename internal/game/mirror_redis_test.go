package game

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
)

func newTestMirror(t *testing.T) (*RedisMirror, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb, err := NewRedisClient(fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return NewRedisMirror(rdb), mr
}

func TestMirrorRoundTripAndTTL(t *testing.T) {
	m, mr := newTestMirror(t)
	ctx := context.Background()

	snap := &Snapshot{
		ID:          "g1",
		Type:        HumanVsAI,
		FEN:         "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1",
		Turn:        Black,
		Status:      StatusInProgress,
		MoveHistory: []string{"e2e4"},
	}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := m.Load(ctx, "g1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got == nil || got.FEN != snap.FEN || got.Turn != Black || len(got.MoveHistory) != 1 {
		t.Fatalf("loaded snapshot = %+v", got)
	}

	if ttl := mr.TTL("game:state:g1"); ttl <= 0 || ttl > 24*time.Hour {
		t.Fatalf("ttl = %v, want (0, 24h]", ttl)
	}

	// idle entries age out without an explicit delete
	mr.FastForward(25 * time.Hour)
	if got, _ := m.Load(ctx, "g1"); got != nil {
		t.Fatalf("snapshot survived TTL expiry")
	}
}

func TestMirrorLoadMissingIsNil(t *testing.T) {
	m, _ := newTestMirror(t)
	got, err := m.Load(context.Background(), "absent")
	if err != nil || got != nil {
		t.Fatalf("Load absent = %+v, %v", got, err)
	}
}

func TestMirrorDelete(t *testing.T) {
	m, _ := newTestMirror(t)
	ctx := context.Background()

	snap := &Snapshot{ID: "g2", Status: StatusWaiting, FEN: "startpos"}
	if err := m.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := m.Delete(ctx, "g2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := m.Load(ctx, "g2"); got != nil {
		t.Fatalf("snapshot survived delete")
	}
}
