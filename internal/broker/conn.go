// ABOUTME: A single broker connection: socket handle, outbound queue, writer goroutine.
// ABOUTME: Every outbound envelope funnels through one writer, preserving per-request order.

package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
)

// ErrConnectionClosed is returned when sending on a connection that has
// been torn down. Streaming producers see it from Emit and stop.
var ErrConnectionClosed = errors.New("connection closed")

// Conn wraps a websocket with a bounded outbound queue. gorilla/websocket
// permits one concurrent writer, so all envelopes go through the queue;
// a full queue blocks senders, which is what back-pressures producers
// when the peer reads slowly.
type Conn struct {
	id     string
	ws     *websocket.Conn
	out    chan []byte
	logger *slog.Logger

	writeTimeout time.Duration
	pingInterval time.Duration

	closeOnce sync.Once
	closed    chan struct{}
}

func newConn(ws *websocket.Conn, buffer int, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *Conn {
	c := &Conn{
		id:           ulid.Make().String(),
		ws:           ws,
		out:          make(chan []byte, buffer),
		logger:       logger,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		closed:       make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// ID returns the connection handle, unique per accepted socket.
func (c *Conn) ID() string { return c.id }

// Send queues one wire message for delivery. It blocks while the
// outbound queue is full and fails once the connection closes or the
// context ends.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears the connection down: unblocks senders, stops the writer,
// closes the socket. Safe to call more than once and from any goroutine.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.out:
			if err := c.write(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed", "conn_id", c.id, "error", err)
				// Closing the socket unblocks the read loop, which
				// runs the full teardown.
				_ = c.ws.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("ping failed", "conn_id", c.id, "error", err)
				_ = c.ws.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) write(messageType int, payload []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, payload)
}

// connSet tracks live connections so shutdown can close them and the
// readiness probe can count them.
type connSet struct {
	mu    sync.Mutex
	conns map[string]*Conn
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[string]*Conn)}
}

func (s *connSet) add(c *Conn) {
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
}

func (s *connSet) remove(id string) {
	s.mu.Lock()
	delete(s.conns, id)
	s.mu.Unlock()
}

func (s *connSet) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *connSet) closeAll() {
	s.mu.Lock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
