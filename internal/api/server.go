// Package api exposes the read-side HTTP surface: health and the opening
// book. It runs beside the websocket server on its own listener.
package api

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/castlegate/chessd/internal/obslog"
	"github.com/castlegate/chessd/internal/opening"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Stats is implemented by the registry so health output can report live
// connection counts.
type Stats interface {
	Len() int
	Dropped() int64
}

type Server struct {
	openings opening.Source
	stats    Stats

	srv *fasthttp.Server
}

func NewServer(openings opening.Source, stats Stats) *Server {
	s := &Server{openings: openings, stats: stats}
	s.srv = &fasthttp.Server{
		Handler:            s.handle,
		Name:               "chessd-api",
		ReadBufferSize:     8 << 10,
		MaxRequestBodySize: 64 << 10,
	}
	return s
}

func (s *Server) ListenAndServe(addr string) error {
	obslog.L().Info("api_listening", zap.String("addr", addr))
	return s.srv.ListenAndServe(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	switch {
	case path == "/healthz":
		s.handleHealth(ctx)
	case strings.HasPrefix(path, "/api/openings/"):
		s.handleOpenings(ctx, strings.TrimPrefix(path, "/api/openings/"))
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	body := map[string]any{"status": "ok"}
	if s.stats != nil {
		body["connections"] = s.stats.Len()
		body["dropped_events"] = s.stats.Dropped()
	}
	writeJSON(ctx, fasthttp.StatusOK, body)
}

func (s *Server) handleOpenings(ctx *fasthttp.RequestCtx, volume string) {
	if !ctx.IsGet() {
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return
	}
	if s.openings == nil {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, map[string]string{"message": "opening book not configured"})
		return
	}

	volume = strings.ToUpper(strings.TrimSpace(volume))
	if len(volume) != 1 || volume[0] < 'A' || volume[0] > 'E' {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"message": "volume must be A-E"})
		return
	}

	page, err := queryInt(ctx, "p", 1)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"message": "invalid page"})
		return
	}
	offset, err := queryInt(ctx, "o", 0)
	if err != nil {
		writeJSON(ctx, fasthttp.StatusBadRequest, map[string]string{"message": "invalid offset"})
		return
	}

	res, err := s.openings.ByVolume(ctx, opening.Params{Volume: volume, Page: page, Offset: offset})
	if err != nil {
		obslog.L().Error("openings_query_failed", zap.String("volume", volume), zap.Error(err))
		writeJSON(ctx, fasthttp.StatusInternalServerError, map[string]string{"message": "query failed"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, res)
}

func queryInt(ctx *fasthttp.RequestCtx, key string, fallback int) (int, error) {
	raw := string(ctx.QueryArgs().Peek(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	if err := json.NewEncoder(ctx).Encode(body); err != nil {
		obslog.L().Error("api_encode_failed", zap.Error(err))
	}
}
