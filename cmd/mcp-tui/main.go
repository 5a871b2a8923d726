// ABOUTME: Interactive TUI for the broker: prompt lines stream through generate_text.
// ABOUTME: Slash commands cover agents, system info, memory, and mood selection.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/2389/mcp-broker/internal/client"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8765", "Broker WebSocket address")
	name := flag.String("name", "tui-user", "Display name for agent registration")
	id := flag.String("id", "", "Agent ID (default: tui-<random>)")
	flag.Parse()

	agentID := *id
	if agentID == "" {
		agentID = "tui-" + uuid.New().String()[:8]
	}

	url := *addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + url + "/ws"
	}

	fmt.Printf("mcp-tui connected to %s\n", url)
	fmt.Println("Type a prompt and press Enter to generate text. /help for commands. Ctrl+C to quit.")
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, url, agentID, *name); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\nGoodbye!")
}

func run(ctx context.Context, url, agentID, name string) error {
	// Client log chatter would tear through the prompt, so discard it.
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	c, err := client.Dial(ctx, url, quiet)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Register(ctx, agentID, name, []string{"tui"}); err != nil {
		return err
	}
	fmt.Printf("Registered as %s\n\n", agentID)

	scanner := bufio.NewScanner(os.Stdin)
	var mood string

	for {
		// Print prompt (include mood if one is selected)
		if mood != "" {
			fmt.Printf("[%s]> ", mood)
		} else {
			fmt.Print("> ")
		}

		// Read input with context awareness
		inputCh := make(chan string, 1)
		errCh := make(chan error, 1)

		go func() {
			if scanner.Scan() {
				inputCh <- scanner.Text()
			} else {
				if err := scanner.Err(); err != nil {
					errCh <- err
				} else {
					errCh <- io.EOF
				}
			}
		}()

		var input string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case input = <-inputCh:
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if input == "/quit" || input == "/exit" || input == "/q" {
			return nil
		}

		if input == "/agents" {
			if err := listAgents(ctx, c); err != nil {
				fmt.Printf("\033[31m[error] %v\033[0m\n", err)
			}
			fmt.Println()
			continue
		}

		if input == "/info" {
			if err := showInfo(ctx, c); err != nil {
				fmt.Printf("\033[31m[error] %v\033[0m\n", err)
			}
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/emotion") {
			args := strings.TrimSpace(strings.TrimPrefix(input, "/emotion"))
			mood = args
			c.SetEmotion(args)
			if args == "" {
				fmt.Println("Cleared mood")
			} else {
				fmt.Printf("Now feeling %s\n", args)
			}
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/remember") {
			args := strings.TrimSpace(strings.TrimPrefix(input, "/remember"))
			if err := remember(ctx, c, args); err != nil {
				fmt.Printf("\033[31m[error] %v\033[0m\n", err)
			}
			fmt.Println()
			continue
		}

		if strings.HasPrefix(input, "/recall") {
			args := strings.TrimSpace(strings.TrimPrefix(input, "/recall"))
			if err := recall(ctx, c, args); err != nil {
				fmt.Printf("\033[31m[error] %v\033[0m\n", err)
			}
			fmt.Println()
			continue
		}

		if input == "/help" {
			printHelp()
			fmt.Println()
			continue
		}

		// Everything else is a prompt for the generation stream.
		if err := generate(ctx, c, input); err != nil {
			fmt.Printf("\033[31m[error] %v\033[0m\n", err)
		}
		fmt.Println()
	}
}

// printHelp displays available commands.
func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  /agents               List registered agents")
	fmt.Println("  /info                 Show broker system info")
	fmt.Println("  /emotion <mood>       Tag requests with a mood (happy, sad, ...)")
	fmt.Println("  /emotion              Clear the mood")
	fmt.Println("  /remember <key> <v>   Store a value in agent memory")
	fmt.Println("  /recall <key>         Retrieve a value from agent memory")
	fmt.Println("  /recall               List stored memory keys")
	fmt.Println("  /help                 Show this help")
	fmt.Println("  /quit                 Exit the TUI")
}

// agentEntry is one agent in the list_agents result.
type agentEntry struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	RegisteredAt string   `json:"registered_at"`
}

// listAgents fetches and displays registered agents.
func listAgents(ctx context.Context, c *client.Client) error {
	result, err := c.Call(ctx, "list_agents", nil)
	if err != nil {
		return err
	}

	var list struct {
		Agents []agentEntry `json:"agents"`
		Count  int          `json:"count"`
	}
	if err := json.Unmarshal(result, &list); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if list.Count == 0 {
		fmt.Println("No agents registered")
		return nil
	}

	fmt.Println("Registered agents:")
	for _, a := range list.Agents {
		caps := strings.Join(a.Capabilities, ", ")
		fmt.Printf("  %s: %s [%s]\n", a.ID, a.Name, caps)
	}
	return nil
}

// showInfo fetches and displays broker system info.
func showInfo(ctx context.Context, c *client.Client) error {
	result, err := c.Call(ctx, "system_info", nil)
	if err != nil {
		return err
	}

	var info struct {
		Hostname      string `json:"hostname"`
		OS            string `json:"os"`
		Arch          string `json:"arch"`
		GoVersion     string `json:"go_version"`
		BrokerVersion string `json:"broker_version"`
		Goroutines    int    `json:"goroutines"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	fmt.Printf("Broker %s on %s (%s/%s, %s)\n",
		info.BrokerVersion, info.Hostname, info.OS, info.Arch, info.GoVersion)
	fmt.Printf("Uptime: %ds, goroutines: %d\n", info.UptimeSeconds, info.Goroutines)
	return nil
}

// remember stores a key/value pair in agent memory. The value is kept
// as-is when it is valid JSON, otherwise stored as a string.
func remember(ctx context.Context, c *client.Client, args string) error {
	key, value, ok := strings.Cut(args, " ")
	if !ok || key == "" {
		return fmt.Errorf("usage: /remember <key> <value>")
	}
	value = strings.TrimSpace(value)

	raw := json.RawMessage(value)
	if !json.Valid(raw) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding value: %w", err)
		}
		raw = encoded
	}

	_, err := c.Call(ctx, "memory_store", map[string]any{"key": key, "value": raw})
	if err != nil {
		return err
	}

	fmt.Printf("Remembered %s\n", key)
	return nil
}

// recall retrieves a stored value, or lists keys when called bare.
func recall(ctx context.Context, c *client.Client, key string) error {
	if key == "" {
		result, err := c.Call(ctx, "memory_retrieve", nil)
		if err != nil {
			return err
		}
		var list struct {
			Keys  []string `json:"keys"`
			Count int      `json:"count"`
		}
		if err := json.Unmarshal(result, &list); err != nil {
			return fmt.Errorf("parsing response: %w", err)
		}
		if list.Count == 0 {
			fmt.Println("Nothing remembered yet")
			return nil
		}
		fmt.Printf("Stored keys (%d):\n", list.Count)
		for _, k := range list.Keys {
			fmt.Printf("  %s\n", k)
		}
		return nil
	}

	result, err := c.Call(ctx, "memory_retrieve", map[string]any{"key": key})
	if err != nil {
		return err
	}

	var entry struct {
		Found     bool            `json:"found"`
		Key       string          `json:"key"`
		Value     json.RawMessage `json:"value"`
		Emotion   string          `json:"emotion"`
		UpdatedAt string          `json:"updated_at"`
	}
	if err := json.Unmarshal(result, &entry); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}

	if !entry.Found {
		fmt.Printf("Nothing remembered under %s\n", key)
		return nil
	}

	fmt.Printf("%s = %s\n", entry.Key, entry.Value)
	if entry.Emotion != "" {
		fmt.Printf("\033[2m(stored while %s, updated %s)\033[0m\n", entry.Emotion, entry.UpdatedAt)
	} else {
		fmt.Printf("\033[2m(updated %s)\033[0m\n", entry.UpdatedAt)
	}
	return nil
}

// generate streams a completion for the prompt, printing tokens as they
// arrive.
func generate(ctx context.Context, c *client.Client, prompt string) error {
	events, err := c.Stream(ctx, "generate_text", map[string]any{"prompt": prompt})
	if err != nil {
		return err
	}

	first := true
	for ev := range events {
		if ev.Err != nil {
			if !first {
				fmt.Println()
			}
			return ev.Err
		}

		var token string
		if err := json.Unmarshal(ev.Content, &token); err != nil {
			// Non-string tokens print as raw JSON.
			token = string(ev.Content)
		}

		if first {
			first = false
		} else {
			fmt.Print(" ")
		}
		fmt.Print(token)
	}
	fmt.Println()
	return nil
}
