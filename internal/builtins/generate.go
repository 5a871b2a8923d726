// ABOUTME: Streaming generate_text builtin producing a deterministic local completion.
// ABOUTME: Stands in for a model backend so the token path stays honest and testable.

package builtins

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/mcp-broker/internal/tools"
)

// defaultMaxTokens bounds a generation when the caller doesn't.
const defaultMaxTokens = 64

// leads gives each emotion tag a distinct opening.
var leads = map[string][]string{
	"neutral": {"Considering", "the", "prompt:"},
	"happy":   {"Delighted", "to", "help", "with:"},
	"sad":     {"With", "a", "heavy", "heart:"},
	"excited": {"Oh,", "this", "is", "interesting:"},
	"curious": {"Let", "me", "wonder", "about:"},
}

type generateTextInput struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
}

func (b *handlers) GenerateText(ctx context.Context, call tools.Call, out tools.Sink) error {
	var in generateTextInput
	if err := json.Unmarshal(call.Params, &in); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	if in.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}

	max := in.MaxTokens
	if max <= 0 {
		max = defaultMaxTokens
	}

	words := completionWords(in.Prompt, call.Emotion)
	if len(words) > max {
		words = words[:max]
	}

	for _, w := range words {
		// Emit blocks under transport back-pressure and fails once the
		// request is cancelled; stop producing either way.
		if err := out.Emit(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// completionWords builds the deterministic token sequence for a prompt.
func completionWords(prompt, emotion string) []string {
	lead, ok := leads[emotion]
	if !ok {
		lead = leads["neutral"]
	}

	words := make([]string, 0, len(lead)+16)
	words = append(words, lead...)
	words = append(words, strings.Fields(prompt)...)
	words = append(words, "that", "is", "the", "shape", "of", "it.")
	return words
}
