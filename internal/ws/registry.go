package ws

import (
	"sync"
	"sync/atomic"

	"github.com/castlegate/chessd/internal/obslog"
	"go.uber.org/zap"
)

// Registry tracks live connections and fans events out to them. Enqueue and
// membership changes run under the same lock, so an egress channel is never
// written after Deregister closed it.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	dropped atomic.Int64
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[*Client]struct{})}
}

func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	r.clients[c] = struct{}{}
	n := len(r.clients)
	r.mu.Unlock()
	obslog.L().Info("ws_client_registered",
		zap.String("conn_id", c.ID),
		zap.String("game_id", c.GameID),
		zap.Int("total", n),
	)
}

// Deregister removes the client and closes its egress channel. Repeated
// calls for the same client are no-ops; the first caller gets true.
func (r *Registry) Deregister(c *Client) bool {
	r.mu.Lock()
	_, ok := r.clients[c]
	if ok {
		delete(r.clients, c)
		close(c.egress)
	}
	n := len(r.clients)
	r.mu.Unlock()
	if ok {
		obslog.L().Info("ws_client_deregistered",
			zap.String("conn_id", c.ID),
			zap.String("game_id", c.GameID),
			zap.Int("total", n),
		)
	}
	return ok
}

// Broadcast enqueues the event for every client of the game. A client whose
// egress queue is full has the event dropped rather than stalling the
// sender.
func (r *Registry) Broadcast(gameID string, ev Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if c.GameID != gameID {
			continue
		}
		select {
		case c.egress <- ev:
		default:
			r.dropped.Add(1)
			obslog.L().Warn("ws_event_dropped",
				zap.String("conn_id", c.ID),
				zap.String("event", ev.Type),
			)
		}
	}
}

// Send enqueues the event for one client. A client that was already
// deregistered is skipped, so callers never race a closed channel.
func (r *Registry) Send(c *Client, ev Event) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[c]; !ok {
		return false
	}
	select {
	case c.egress <- ev:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Dropped reports how many events were discarded on full queues.
func (r *Registry) Dropped() int64 { return r.dropped.Load() }
