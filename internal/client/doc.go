// Package client implements a WebSocket client for the broker.
//
// # Overview
//
// The client dials the broker's /ws endpoint and multiplexes any number
// of concurrent tool invocations over the single connection. Responses
// are routed back to callers by request_id.
//
// # Unary Calls
//
//	c, err := client.Dial(ctx, "ws://127.0.0.1:8765/ws", logger)
//	defer c.Close()
//
//	result, err := c.Call(ctx, "echo", map[string]any{"message": "hi"})
//
// Broker-reported failures come back as *RemoteError; use errors.As to
// read the message.
//
// # Streaming Calls
//
//	events, err := c.Stream(ctx, "generate_text", map[string]any{"prompt": "hello"})
//	for ev := range events {
//	    if ev.Err != nil {
//	        return ev.Err
//	    }
//	    fmt.Println(string(ev.Content))
//	}
//
// The channel closes after the terminal envelope. Consumers must drain
// it until then.
//
// # Registration
//
// Register announces the client as an agent and stamps the agent id on
// every subsequent request, which is how agent-scoped tools such as
// memory_store resolve an identity:
//
//	err := c.Register(ctx, "scout", "Scout", []string{"search"})
//
// # Mood
//
// SetEmotion attaches an emotion tag to subsequent requests. Mood-aware
// tools such as generate_text shade their output by it.
package client
