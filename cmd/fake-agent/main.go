// ABOUTME: Minimal fake agent for E2E testing: connects, registers, invokes a tool.
// ABOUTME: Usage: fake-agent [-addr 127.0.0.1:8765] [-tool echo] [-stream] [-n 3]

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/2389/mcp-broker/internal/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "broker address (host:port or ws:// URL)")
	name := flag.String("name", "Fake Agent", "agent display name")
	agentID := flag.String("id", "fake-agent", "agent ID")
	tool := flag.String("tool", "echo", "tool to invoke")
	params := flag.String("params", `{"message":"Hello, MCP!"}`, "tool parameters (JSON)")
	stream := flag.Bool("stream", false, "invoke as a streaming tool")
	n := flag.Int("n", 1, "number of concurrent invocations")
	flag.Parse()

	if err := run(*addr, *name, *agentID, *tool, *params, *stream, *n); err != nil {
		log.Fatal(err)
	}
}

func run(addr, name, agentID, tool, params string, stream bool, n int) error {
	url := addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + addr + "/ws"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := client.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer c.Close()

	if err := c.Register(ctx, agentID, name, []string{"smoke-test"}); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "registered as %s\n", agentID)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if stream {
				return invokeStreaming(ctx, c, i, tool, params)
			}
			return invokeUnary(ctx, c, i, tool, params)
		})
	}
	return g.Wait()
}

func invokeUnary(ctx context.Context, c *client.Client, i int, tool, params string) error {
	result, err := c.Call(ctx, tool, json.RawMessage(params))
	if err != nil {
		return fmt.Errorf("call %d: %w", i, err)
	}
	fmt.Printf("[%d] result: %s\n", i, result)
	return nil
}

func invokeStreaming(ctx context.Context, c *client.Client, i int, tool, params string) error {
	events, err := c.Stream(ctx, tool, json.RawMessage(params))
	if err != nil {
		return fmt.Errorf("stream %d: %w", i, err)
	}
	for ev := range events {
		if ev.Err != nil {
			return fmt.Errorf("stream %d: %w", i, ev.Err)
		}
		fmt.Printf("[%d] token: %s\n", i, ev.Content)
	}
	fmt.Printf("[%d] end\n", i)
	return nil
}
