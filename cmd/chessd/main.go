package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/castlegate/chessd/internal/api"
	appcfg "github.com/castlegate/chessd/internal/config"
	"github.com/castlegate/chessd/internal/engine"
	"github.com/castlegate/chessd/internal/game"
	"github.com/castlegate/chessd/internal/obslog"
	"github.com/castlegate/chessd/internal/opening"
	"github.com/castlegate/chessd/internal/server"
	"github.com/castlegate/chessd/internal/ws"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.L().Sync()

	store := game.NewStore(func(ctx context.Context) (game.Engine, error) {
		return engine.New(ctx, cfg.StockfishPath)
	})
	defer store.Close()

	var repo game.Repository
	if cfg.DatabaseURL != "" {
		pg, err := game.NewPGRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("repository init error: %v", err)
		}
		defer pg.Close()
		repo = pg
	} else {
		obslog.L().Warn("database_not_configured")
		repo = game.NewMemRepository()
	}
	store.AttachRepository(repo)

	if cfg.RedisURL != "" {
		rdb, err := game.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis init error: %v", err)
		}
		defer rdb.Close()
		store.AttachMirror(game.NewRedisMirror(rdb))
	}

	hub := ws.NewHub(store, ws.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		EgressBuffer:   cfg.EgressBuffer,
		AIMoveDelay:    time.Duration(cfg.AITriggerDelayMillis) * time.Millisecond,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.SessionIdleTTLSec > 0 {
		go runJanitor(rootCtx, store, time.Duration(cfg.SessionIdleTTLSec)*time.Second)
	}

	var openingSrc opening.Source
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("openings db error: %v", err)
		}
		defer db.Close()
		openingSrc = opening.NewDBSource(db)
	}

	wsServer := server.New(cfg.WSAddr, hub)
	apiServer := api.NewServer(openingSrc, hub.Registry())

	errCh := make(chan error, 2)
	go func() {
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := apiServer.ListenAndServe(cfg.APIAddr); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		obslog.L().Info("shutdown_signal")
	case err := <-errCh:
		obslog.L().Error("server_failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("ws_shutdown_failed", zap.Error(err))
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		obslog.L().Warn("api_shutdown_failed", zap.Error(err))
	}
}

// runJanitor sweeps idle sessions at a quarter of the TTL, bounded to keep
// short TTLs from busy-looping.
func runJanitor(ctx context.Context, store *game.Store, ttl time.Duration) {
	interval := ttl / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			store.Sweep(ctx, ttl)
		}
	}
}
