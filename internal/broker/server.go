// ABOUTME: HTTP surface of the broker: WebSocket accept, read loop, health probes.
// ABOUTME: Each connection gets its own dispatcher; one connection's death never touches another's.

package broker

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// handleWS upgrades the request and serves the connection until it dies.
// The HTTP handler goroutine doubles as the connection's read loop.
func (b *Broker) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := newConn(ws,
		b.config.Limits.OutboundBuffer,
		b.config.Limits.WriteTimeout,
		b.config.Limits.PingInterval,
		b.logger,
	)
	b.serveConn(conn, ws)
}

func (b *Broker) serveConn(conn *Conn, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(b.connCtx)
	defer cancel()

	b.conns.add(conn)
	b.logger.Info("connection opened",
		"conn_id", conn.ID(),
		"remote", ws.RemoteAddr().String(),
		"total", b.conns.count(),
	)

	disp := newDispatcher(conn, b.registry, b.store,
		b.config.Limits.ToolTimeout,
		b.logger.With("component", "dispatcher"),
	)

	ws.SetReadLimit(b.config.Limits.MaxMessageBytes)
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("read failed", "conn_id", conn.ID(), "error", err)
			}
			break
		}
		disp.HandleMessage(ctx, raw)
	}

	// Teardown: cancel in-flight tasks, unblock producers, wait for
	// tasks to finish, then drop the connection's directory entries.
	cancel()
	conn.Close()
	disp.Wait()

	removed := b.directory.RemoveConn(conn.ID())
	b.conns.remove(conn.ID())
	b.logger.Info("connection closed",
		"conn_id", conn.ID(),
		"agents_removed", removed,
		"total", b.conns.count(),
	)
}

// handleHealth reports liveness.
func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": b.version,
	})
}

// handleReady reports readiness: the store answers and the listener is up.
func (b *Broker) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := b.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"connections": b.conns.count(),
		"tools":       b.registry.Count(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
