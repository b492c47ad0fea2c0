package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/castlegate/chessd/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Client is one websocket connection bound to a game. Inbound frames are
// processed one at a time on the read pump; outbound events pass through the
// bounded egress queue and a single write pump, so the connection never sees
// concurrent writes.
type Client struct {
	ID       string
	GameID   string
	playerID string
	name     string
	role     string // "player" or "spectator"

	conn   *websocket.Conn
	hub    *Hub
	egress chan Event

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// shutdown tears the client down exactly once: deregister (closing egress,
// which stops the write pump), cancel the pumps' context, close the socket.
func (c *Client) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.hub.registry.Deregister(c)
		if c.cancel != nil {
			c.cancel()
		}
		_ = c.conn.Close(code, reason)
	})
}

// readPump decodes envelopes and routes them synchronously. A frame that is
// not valid JSON, lacks a type, or names an unknown type is a protocol
// violation and ends the connection.
func (c *Client) readPump(ctx context.Context) {
	defer c.shutdown(websocket.StatusNormalClosure, "read pump done")

	for {
		var ev Event
		if err := wsjson.Read(ctx, c.conn, &ev); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			// malformed JSON also lands here; nothing to salvage
			obslog.L().Debug("ws_read_failed",
				zap.String("conn_id", c.ID),
				zap.Error(err),
			)
			c.shutdown(websocket.StatusPolicyViolation, "malformed frame")
			return
		}

		if err := c.hub.route(ctx, c, ev); err != nil {
			c.hub.registry.Send(c, errorEvent(err.Error()))
			obslog.L().Warn("ws_protocol_violation",
				zap.String("conn_id", c.ID),
				zap.String("event", ev.Type),
				zap.Error(err),
			)
			c.shutdown(websocket.StatusPolicyViolation, "protocol violation")
			return
		}
	}
}

// writePump drains the egress queue onto the socket. It exits when the queue
// is closed by Deregister or when a write fails.
func (c *Client) writePump(ctx context.Context) {
	for ev := range c.egress {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := wsjson.Write(writeCtx, c.conn, ev)
		cancel()
		if err != nil {
			obslog.L().Debug("ws_write_failed",
				zap.String("conn_id", c.ID),
				zap.Error(err),
			)
			c.shutdown(websocket.StatusGoingAway, "write failure")
			// keep draining so Deregister's close is observed
			continue
		}
	}
	c.shutdown(websocket.StatusNormalClosure, "egress closed")
}
