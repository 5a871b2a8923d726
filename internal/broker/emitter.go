// ABOUTME: Adapts a streaming tool handler to the wire: tokens out, exactly one terminal.
// ABOUTME: Emit blocks on the outbound queue so producers cannot outrun the socket.

package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/2389/mcp-broker/internal/protocol"
)

// emitter is the Sink handed to a streaming handler. The mutex is held
// across the queue send so close() cannot order a terminal envelope in
// front of a token that is still being queued.
type emitter struct {
	conn      *Conn
	requestID string

	mu   sync.Mutex
	done bool
}

func newEmitter(conn *Conn, requestID string) *emitter {
	return &emitter{conn: conn, requestID: requestID}
}

// Emit queues one token envelope. It fails once the stream has been
// terminated, the connection has closed, or the request context ended.
func (e *emitter) Emit(ctx context.Context, content any) error {
	payload, err := protocol.EncodeToken(e.requestID, content)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return fmt.Errorf("stream for request %q already terminated", e.requestID)
	}
	return e.conn.Send(ctx, payload)
}

// close marks the stream terminal. After it returns, no token emitted
// through this sink can land behind the terminal envelope.
func (e *emitter) close() {
	e.mu.Lock()
	e.done = true
	e.mu.Unlock()
}
