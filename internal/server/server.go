// Package server hosts the websocket endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/castlegate/chessd/internal/obslog"
	"github.com/castlegate/chessd/internal/ws"
	"go.uber.org/zap"
)

type Server struct {
	srv *http.Server
}

// New mounts the hub on GET /ws/{gameID}.
func New(addr string, hub *ws.Hub) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/{gameID}", hub.ServeWS)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) ListenAndServe() error {
	obslog.L().Info("ws_listening", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
