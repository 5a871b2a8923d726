// ABOUTME: Streaming invocation: tokens delivered on a channel until the terminal.
// ABOUTME: The event channel closes after end, error, cancellation, or disconnect.

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/mcp-broker/internal/protocol"
)

// StreamEvent is one delivery from a streaming call: a token's content,
// or the terminal error. After an event with Err set, or after a clean
// end, the channel closes.
type StreamEvent struct {
	Content json.RawMessage
	Err     error
}

// Stream invokes a streaming tool. Tokens arrive on the returned
// channel in emission order. Consumers must drain the channel until it
// closes; an abandoned stream holds its demux slot until the client
// closes.
func (c *Client) Stream(ctx context.Context, tool string, params any) (<-chan StreamEvent, error) {
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	ch := c.createPending(requestID)

	agent, emotion := c.identity()
	err = c.send(&protocol.Request{
		RequestID:  requestID,
		Tool:       tool,
		Parameters: encoded,
		Stream:     true,
		Agent:      agent,
		Emotion:    emotion,
	})
	if err != nil {
		c.closePending(requestID)
		return nil, err
	}

	events := make(chan StreamEvent)
	go c.pump(ctx, requestID, ch, events)
	return events, nil
}

// pump translates response envelopes into stream events until a
// terminal arrives.
func (c *Client) pump(ctx context.Context, requestID string, in <-chan *protocol.Response, out chan<- StreamEvent) {
	defer close(out)
	defer c.closePending(requestID)

	fail := func(err error) {
		select {
		case out <- StreamEvent{Err: err}:
		case <-c.closed:
		}
	}

	for {
		select {
		case resp := <-in:
			switch resp.Kind() {
			case protocol.KindToken:
				select {
				case out <- StreamEvent{Content: resp.Content}:
				case <-ctx.Done():
					fail(ctx.Err())
					return
				case <-c.closed:
					return
				}
			case protocol.KindEnd:
				return
			case protocol.KindError:
				fail(&RemoteError{RequestID: requestID, Message: resp.Error})
				return
			default:
				fail(fmt.Errorf("unexpected %s envelope on stream", resp.Kind()))
				return
			}
		case <-ctx.Done():
			fail(ctx.Err())
			return
		case <-c.closed:
			fail(ErrClosed)
			return
		}
	}
}
