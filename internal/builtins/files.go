// ABOUTME: Filesystem and process builtins: file_read, file_write, execute_command.
// ABOUTME: Host access is deliberate; the broker is scoped to trusted local deployment.

package builtins

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/2389/mcp-broker/internal/tools"
)

// maxFileReadBytes caps file_read so a stray path cannot balloon a
// single response envelope.
const maxFileReadBytes = 10 << 20

// defaultExecTimeout applies when the deps bundle carries no limit.
const defaultExecTimeout = 30 * time.Second

type fileReadInput struct {
	Path string `json:"path"`
}

func (b *handlers) FileRead(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in fileReadInput
	if err := json.Unmarshal(call.Params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	info, err := os.Stat(in.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.Path, err)
	}
	if info.Size() > maxFileReadBytes {
		return nil, fmt.Errorf("file %s is %d bytes, limit is %d", in.Path, info.Size(), maxFileReadBytes)
	}

	content, err := os.ReadFile(in.Path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.Path, err)
	}

	return json.Marshal(map[string]any{
		"path":    in.Path,
		"content": string(content),
		"size":    len(content),
	})
}

type fileWriteInput struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append"`
}

func (b *handlers) FileWrite(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in fileWriteInput
	if err := json.Unmarshal(call.Params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	if dir := filepath.Dir(in.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating directory for %s: %w", in.Path, err)
		}
	}

	flags := os.O_WRONLY | os.O_CREATE
	if in.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}

	f, err := os.OpenFile(in.Path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", in.Path, err)
	}
	n, err := f.WriteString(in.Content)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", in.Path, err)
	}

	return json.Marshal(map[string]any{
		"path":          in.Path,
		"bytes_written": n,
		"appended":      in.Append,
	})
}

type executeCommandInput struct {
	Command        string   `json:"command"`
	Args           []string `json:"args"`
	Dir            string   `json:"dir"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

func (b *handlers) ExecuteCommand(ctx context.Context, call tools.Call) (json.RawMessage, error) {
	var in executeCommandInput
	if err := json.Unmarshal(call.Params, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	timeout := b.deps.ExecTimeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, in.Command, in.Args...)
	cmd.Dir = in.Dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			// Non-zero exit is a tool result, not a broker failure.
			exitCode = exitErr.ExitCode()
		case cmdCtx.Err() == context.DeadlineExceeded:
			return nil, fmt.Errorf("command timed out after %s", timeout)
		default:
			return nil, fmt.Errorf("running %s: %w", in.Command, err)
		}
	}

	return json.Marshal(map[string]any{
		"stdout":      stdout.String(),
		"stderr":      stderr.String(),
		"exit_code":   exitCode,
		"duration_ms": duration.Milliseconds(),
	})
}
