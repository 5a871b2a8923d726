// ABOUTME: Per-connection request state machine: decode, validate, run, answer.
// ABOUTME: Each accepted request runs in its own goroutine; ingestion never waits on a tool.

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/mcp-broker/internal/protocol"
	"github.com/2389/mcp-broker/internal/store"
	"github.com/2389/mcp-broker/internal/tools"
)

// auditTimeout bounds the best-effort audit write after a terminal
// outcome; the request context is usually gone by then.
const auditTimeout = 2 * time.Second

// dispatcher owns the request lifecycle for one connection. Duplicate
// request_id detection is scoped to the connection, matching the wire
// contract: ids only need to be unique among a client's outstanding
// requests.
type dispatcher struct {
	conn     *Conn
	registry *tools.Registry
	store    store.Store
	logger   *slog.Logger

	toolTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	wg       sync.WaitGroup
}

func newDispatcher(conn *Conn, registry *tools.Registry, st store.Store, toolTimeout time.Duration, logger *slog.Logger) *dispatcher {
	return &dispatcher{
		conn:        conn,
		registry:    registry,
		store:       st,
		logger:      logger,
		toolTimeout: toolTimeout,
		inflight:    make(map[string]context.CancelFunc),
	}
}

// HandleMessage processes one inbound wire message. Validation failures
// answer with an error envelope when the message yields a request_id;
// otherwise the message is logged and dropped, since there is nothing
// to key a reply to.
func (d *dispatcher) HandleMessage(ctx context.Context, raw []byte) {
	req, err := protocol.DecodeRequest(raw)
	if err != nil {
		var perr *protocol.ProtocolError
		if errors.As(err, &perr) && perr.Keyed() {
			d.sendError(ctx, perr.RequestID, err.Error())
			return
		}
		d.logger.Warn("dropping malformed message",
			"conn_id", d.conn.ID(),
			"error", err,
		)
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	if !d.track(req.RequestID, cancel) {
		cancel()
		d.sendError(ctx, req.RequestID,
			fmt.Sprintf("duplicate request_id %q is already in flight", req.RequestID))
		return
	}

	tool, err := d.registry.Resolve(req.Tool)
	if err != nil {
		d.untrack(req.RequestID)
		cancel()
		d.sendError(ctx, req.RequestID, fmt.Sprintf("tool not found: %q", req.Tool))
		return
	}

	if req.Stream != tool.IsStreaming() {
		d.untrack(req.RequestID)
		cancel()
		if tool.IsStreaming() {
			d.sendError(ctx, req.RequestID,
				fmt.Sprintf("tool %q streams; set stream to true", req.Tool))
		} else {
			d.sendError(ctx, req.RequestID,
				fmt.Sprintf("tool %q is unary; stream must be false", req.Tool))
		}
		return
	}

	d.wg.Add(1)
	go d.run(reqCtx, cancel, req, tool)
}

// run executes one request task through to its terminal outcome.
func (d *dispatcher) run(ctx context.Context, cancel context.CancelFunc, req *protocol.Request, tool tools.Tool) {
	defer d.wg.Done()
	defer cancel()
	defer d.untrack(req.RequestID)

	start := time.Now()
	err := d.invoke(ctx, req, tool)
	if err != nil {
		d.logger.Debug("request failed",
			"conn_id", d.conn.ID(),
			"request_id", req.RequestID,
			"tool", req.Tool,
			"error", err,
		)
	}
	d.audit(req, err, time.Since(start))
}

func (d *dispatcher) invoke(ctx context.Context, req *protocol.Request, tool tools.Tool) error {
	call := tools.Call{
		Params:  req.Parameters,
		Agent:   req.Agent,
		Emotion: req.Emotion,
		ConnID:  d.conn.ID(),
	}

	switch h := tool.Handler.(type) {
	case tools.Unary:
		return d.invokeUnary(ctx, req, h, call)
	case tools.Streaming:
		return d.invokeStreaming(ctx, req, h, call)
	default:
		// Handler is a sealed interface; only a registry bug gets here.
		err := fmt.Errorf("tool %q has an unknown handler kind", req.Tool)
		d.sendError(ctx, req.RequestID, err.Error())
		return err
	}
}

func (d *dispatcher) invokeUnary(ctx context.Context, req *protocol.Request, h tools.Unary, call tools.Call) error {
	callCtx := ctx
	if d.toolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.toolTimeout)
		defer cancel()
	}

	result, err := safeUnary(callCtx, h, call)
	if err != nil {
		if d.toolTimeout > 0 && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s", d.toolTimeout)
		}
		execErr := &tools.ExecutionError{Tool: req.Tool, Err: err}
		d.sendError(ctx, req.RequestID, execErr.Error())
		return execErr
	}

	payload, err := protocol.EncodeResult(req.RequestID, result)
	if err != nil {
		execErr := &tools.ExecutionError{Tool: req.Tool, Err: err}
		d.sendError(ctx, req.RequestID, execErr.Error())
		return execErr
	}
	return d.conn.Send(ctx, payload)
}

func (d *dispatcher) invokeStreaming(ctx context.Context, req *protocol.Request, h tools.Streaming, call tools.Call) error {
	em := newEmitter(d.conn, req.RequestID)
	err := safeStreaming(ctx, h, call, em)
	em.close()

	if err != nil {
		if errors.Is(err, ErrConnectionClosed) || ctx.Err() != nil {
			// The socket is gone; no envelope can reach the client.
			return err
		}
		execErr := &tools.ExecutionError{Tool: req.Tool, Err: err}
		d.sendError(ctx, req.RequestID, execErr.Error())
		return execErr
	}

	return d.conn.Send(ctx, protocol.EncodeEnd(req.RequestID))
}

// safeUnary runs a unary handler, converting a panic into an error so a
// misbehaving tool cannot take the whole broker down.
func safeUnary(ctx context.Context, h tools.Unary, call tools.Call) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, call)
}

func safeStreaming(ctx context.Context, h tools.Streaming, call tools.Call, out tools.Sink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, call, out)
}

func (d *dispatcher) sendError(ctx context.Context, requestID, message string) {
	if err := d.conn.Send(ctx, protocol.EncodeError(requestID, message)); err != nil {
		d.logger.Debug("error envelope not delivered",
			"conn_id", d.conn.ID(),
			"request_id", requestID,
			"error", err,
		)
	}
}

// track registers a request as in flight. It reports false when the id
// is already outstanding on this connection.
func (d *dispatcher) track(requestID string, cancel context.CancelFunc) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.inflight[requestID]; exists {
		return false
	}
	d.inflight[requestID] = cancel
	return true
}

func (d *dispatcher) untrack(requestID string) {
	d.mu.Lock()
	delete(d.inflight, requestID)
	d.mu.Unlock()
}

// CancelAll cancels every in-flight request task. Used at teardown so
// producers blocked in Emit or long tool calls wind down promptly.
func (d *dispatcher) CancelAll() {
	d.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(d.inflight))
	for _, cancel := range d.inflight {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Wait blocks until every request task has finished.
func (d *dispatcher) Wait() {
	d.wg.Wait()
}

// audit records the terminal outcome, best effort. A failed write is a
// log line, never a request failure.
func (d *dispatcher) audit(req *protocol.Request, terminalErr error, elapsed time.Duration) {
	if d.store == nil {
		return
	}

	rec := store.ToolCall{
		RequestID:  req.RequestID,
		ConnID:     d.conn.ID(),
		AgentID:    req.Agent,
		Tool:       req.Tool,
		Emotion:    req.Emotion,
		Status:     store.CallStatusOK,
		DurationMS: elapsed.Milliseconds(),
	}
	if terminalErr != nil {
		rec.Status = store.CallStatusError
		rec.Detail = terminalErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := d.store.RecordToolCall(ctx, rec); err != nil {
		d.logger.Warn("tool call audit write failed",
			"request_id", req.RequestID,
			"tool", req.Tool,
			"error", err,
		)
	}
}
