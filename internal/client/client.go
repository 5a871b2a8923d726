// ABOUTME: WebSocket client for the broker: dial, demux, request lifecycle.
// ABOUTME: Routes response envelopes to pending requests by request_id.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/2389/mcp-broker/internal/protocol"
)

// pendingBuffer is the per-request response channel capacity. Streams
// deeper than this back-pressure the read loop until the consumer
// catches up.
const pendingBuffer = 64

// ErrClosed is returned for operations on a client whose connection has
// been closed, locally or by the broker.
var ErrClosed = errors.New("client closed")

// RemoteError is an error envelope reported by the broker for one
// request.
type RemoteError struct {
	RequestID string
	Message   string
}

func (e *RemoteError) Error() string { return e.Message }

// Client is a broker connection for invoking tools. It is safe for
// concurrent use; responses are routed to callers by request_id.
type Client struct {
	ws     *websocket.Conn
	logger *slog.Logger

	// agent and emotion are stamped on request envelopes: agent once
	// Register has run, emotion whenever SetEmotion picks a mood.
	identityMu sync.RWMutex
	agent      string
	emotion    string

	writeMu sync.Mutex

	mu      sync.RWMutex
	pending map[string]chan *protocol.Response

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to a broker WebSocket URL (ws://host:port/ws) and
// starts the response read loop.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}

	c := &Client{
		ws:      ws,
		logger:  logger,
		pending: make(map[string]chan *protocol.Response),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close tears the connection down and fails every outstanding request.
// Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.ws.Close()
	})
	return err
}

// readLoop routes inbound envelopes until the connection dies, then
// releases every waiter.
func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		resp, err := protocol.DecodeResponse(raw)
		if err != nil {
			c.logger.Warn("discarding malformed response", "error", err)
			continue
		}
		c.route(resp)
	}
}

// route hands a response to its pending request. A full channel blocks
// rather than drops, since dropping a token would corrupt a stream.
func (c *Client) route(resp *protocol.Response) {
	c.mu.RLock()
	ch, ok := c.pending[resp.RequestID]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("response for unknown request", "request_id", resp.RequestID)
		return
	}

	select {
	case ch <- resp:
	case <-c.closed:
	}
}

// createPending registers a response channel for a request id.
func (c *Client) createPending(requestID string) chan *protocol.Response {
	ch := make(chan *protocol.Response, pendingBuffer)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	return ch
}

func (c *Client) closePending(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// send writes one request envelope. gorilla/websocket allows a single
// concurrent writer, so writes serialize on a mutex.
func (c *Client) send(req *protocol.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	return nil
}

// SetEmotion sets the mood carried by subsequent requests. Tools that
// read emotional context, like generate_text, shade their output by it.
// An empty string clears the mood.
func (c *Client) SetEmotion(emotion string) {
	c.identityMu.Lock()
	c.emotion = emotion
	c.identityMu.Unlock()
}

func (c *Client) identity() (agent, emotion string) {
	c.identityMu.RLock()
	defer c.identityMu.RUnlock()
	return c.agent, c.emotion
}

// encodeParams accepts either pre-encoded JSON or any marshalable value.
func encodeParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding parameters: %w", err)
		}
		return data, nil
	}
}
