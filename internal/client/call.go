// ABOUTME: Unary invocation and agent registration over the client connection.
// ABOUTME: Each call gets a uuid request_id and waits for its terminal envelope.

package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/2389/mcp-broker/internal/protocol"
)

// Call invokes a unary tool and returns its result. params may be nil,
// a json.RawMessage, or any value that marshals to a JSON object.
func (c *Client) Call(ctx context.Context, tool string, params any) (json.RawMessage, error) {
	encoded, err := encodeParams(params)
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	ch := c.createPending(requestID)
	defer c.closePending(requestID)

	agent, emotion := c.identity()
	err = c.send(&protocol.Request{
		RequestID:  requestID,
		Tool:       tool,
		Parameters: encoded,
		Agent:      agent,
		Emotion:    emotion,
	})
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		switch resp.Kind() {
		case protocol.KindResult:
			return resp.Result, nil
		case protocol.KindError:
			return nil, &RemoteError{RequestID: requestID, Message: resp.Error}
		default:
			return nil, fmt.Errorf("unexpected %s envelope for unary call to %q", resp.Kind(), tool)
		}
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register announces this client as an agent. After a successful
// registration every request envelope carries the agent id, so
// agent-scoped tools like memory_store resolve it implicitly.
func (c *Client) Register(ctx context.Context, agentID, name string, capabilities []string) error {
	params := map[string]any{
		"agent_id": agentID,
		"name":     name,
	}
	if len(capabilities) > 0 {
		params["capabilities"] = capabilities
	}

	if _, err := c.Call(ctx, "register_agent", params); err != nil {
		return fmt.Errorf("registering agent %q: %w", agentID, err)
	}

	c.identityMu.Lock()
	c.agent = agentID
	c.identityMu.Unlock()
	return nil
}
