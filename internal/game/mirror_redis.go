package game

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const mirrorTTL = 24 * time.Hour

// Mirror keeps a live copy of each session snapshot in external storage so
// read-side consumers can inspect games without touching the store.
type Mirror interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, gameID string) (*Snapshot, error)
	Delete(ctx context.Context, gameID string) error
}

// RedisMirror stores one JSON snapshot per game with a rolling TTL, so
// abandoned games age out of Redis on their own.
type RedisMirror struct {
	rdb *redis.Client
}

func NewRedisMirror(rdb *redis.Client) *RedisMirror { return &RedisMirror{rdb: rdb} }

// NewRedisClient builds a client from a redis:// URL, tolerating a bare
// host:port address.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	redisURL = strings.TrimSpace(redisURL)
	if !strings.Contains(redisURL, "://") {
		redisURL = "redis://" + redisURL
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opt), nil
}

func (m *RedisMirror) key(gameID string) string { return "game:state:" + strings.TrimSpace(gameID) }

func (m *RedisMirror) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.rdb.Set(ctx, m.key(snap.ID), raw, mirrorTTL).Err()
}

func (m *RedisMirror) Load(ctx context.Context, gameID string) (*Snapshot, error) {
	raw, err := m.rdb.Get(ctx, m.key(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (m *RedisMirror) Delete(ctx context.Context, gameID string) error {
	return m.rdb.Del(ctx, m.key(gameID)).Err()
}
