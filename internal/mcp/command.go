package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/vthunder/toolbox/internal/logging"
)

// DefaultCallTimeout bounds a single tool call
const DefaultCallTimeout = 15 * time.Second

// CommandInvoker runs one subprocess per call: `<command> <tool> <json-args>`,
// reading the JSON response from stdout.
type CommandInvoker struct {
	Command  string
	Timeout  time.Duration
	Progress bool      // show a spinner on Stderr while the call runs
	Stderr   io.Writer // spinner destination, defaults to os.Stderr
}

// NewCommandInvoker creates an invoker for the helper at command
func NewCommandInvoker(command string, timeout time.Duration) *CommandInvoker {
	return &CommandInvoker{Command: command, Timeout: timeout}
}

// Call implements Invoker
func (c *CommandInvoker) Call(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if c.Command == "" {
		return nil, errors.New("no tool command configured")
	}
	if !ValidToolName(tool) {
		return nil, fmt.Errorf("invalid tool name %q", tool)
	}
	if args == nil {
		args = map[string]any{}
	}
	argJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal args: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.Command, tool, string(argJSON))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	stop := c.spin(tool)
	start := time.Now()
	err = cmd.Run()
	stop()
	logging.Debug("invoker", "%s finished in %s", tool, time.Since(start).Round(time.Millisecond))

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out after %s", tool, timeout)
	}
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = fmt.Sprintf("%s failed: %v", c.Command, err)
		}
		return nil, errors.New(msg)
	}

	var payload map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON from tool server: %w", err)
	}
	return ParseResponse(payload)
}

func (c *CommandInvoker) spin(tool string) func() {
	if !c.Progress {
		return func() {}
	}
	w := c.Stderr
	if w == nil {
		w = os.Stderr
	}
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("calling "+tool),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()
	return func() {
		close(done)
		_ = bar.Finish()
	}
}
