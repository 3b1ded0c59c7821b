// Package llmgateway is the daemon's single point of egress to the external
// LLM CLI. Every think cycle, digest generation, session evaluation, and
// natural-language command passes through here so bounded concurrency and
// the no-skip-permissions contract are enforced in exactly one place.
//
// Built on the same process-sandbox execution idiom used elsewhere in this
// daemon (exec.CommandContext, a dedicated process group, captured
// stdout/stderr, timeout-triggered kill) but narrowed to a single fixed
// binary instead of an arbitrary allowed-binaries sandbox — the gateway
// only ever shells out to the configured LLM CLI.
package llmgateway

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

const (
	defaultModel    = "sonnet"
	defaultMaxTurns = 1
	defaultTimeout  = 30 * time.Second
	stderrPreviewN  = 500
)

// Options configures a single call. Zero values take the defaults named in
// spec section 4.1.
type Options struct {
	Model        string
	MaxTurns     int
	OutputFormat string // "text" or "json"
	JSONSchema   string // raw JSON schema document; presence forces json + constrained decoding
	Timeout      time.Duration
	AllowedTools []string // opaque allowlist forwarded to the subprocess, repeatable flag
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = defaultModel
	}
	if o.MaxTurns == 0 {
		o.MaxTurns = defaultMaxTurns
	}
	if o.Timeout == 0 {
		o.Timeout = defaultTimeout
	}
	if o.OutputFormat == "" {
		o.OutputFormat = "text"
	}
	if o.JSONSchema != "" {
		o.OutputFormat = "json"
	}
	return o
}

// Gateway invokes the external LLM CLI (binary name opaque to the daemon —
// any constrained-decoding chat CLI reading prompt on stdin, writing
// response on stdout). It never adds a skip-permissions escape flag; that
// concern belongs only to interactive mux sessions, which this component
// does not touch.
type Gateway struct {
	binary string
	sem    *semaphore
	logger *zap.Logger
}

// New builds a Gateway bound to binary (e.g. "claude") with the given
// bounded-concurrency capacity (spec default 2).
func New(binary string, capacity int, logger *zap.Logger) *Gateway {
	return &Gateway{
		binary: binary,
		sem:    newSemaphore(capacity),
		logger: logger.With(zap.String("component", "llmgateway")),
	}
}

// Active returns the number of in-flight gated calls.
func (g *Gateway) Active() int { return g.sem.activeCount() }

// Pending returns the number of callers queued on CallGated.
func (g *Gateway) Pending() int { return g.sem.pendingCount() }

// CallGated acquires a semaphore slot (FIFO) before delegating to Call. The
// slot is released in all paths — success, subprocess error, or context
// cancellation while queued — so a caller that times out waiting never
// leaks a slot it was never granted.
func (g *Gateway) CallGated(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := g.sem.acquire(ctx); err != nil {
		return "", apperrors.NewTimeout("gateway: timed out waiting for a slot")
	}
	defer g.sem.release()
	return g.Call(ctx, prompt, opts)
}

// Call invokes the LLM CLI synchronously from the caller's point of view.
// On timeout the returned error has Code CodeTimeout and Message "ETIMEDOUT".
// On non-zero exit the error has Code CodeDownstream and Message
// "EXIT_<code>: <first 500 chars of stderr>".
func (g *Gateway) Call(ctx context.Context, prompt string, opts Options) (string, error) {
	opts = opts.withDefaults()

	args := []string{
		"--model", opts.Model,
		"--max-turns", strconv.Itoa(opts.MaxTurns),
		"--output-format", opts.OutputFormat,
	}
	if opts.JSONSchema != "" {
		args = append(args, "--json-schema", opts.JSONSchema)
	}
	for _, t := range opts.AllowedTools {
		args = append(args, "--allowedTools", t)
	}

	execCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, g.binary, args...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	if execCtx.Err() == context.DeadlineExceeded {
		g.logger.Warn("llm call timed out", zap.Duration("timeout", opts.Timeout))
		return "", apperrors.NewTimeout("ETIMEDOUT")
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			preview := truncate(stderr.String(), stderrPreviewN)
			g.logger.Warn("llm call exited non-zero",
				zap.Int("exit_code", exitErr.ExitCode()),
				zap.Duration("duration", duration),
			)
			return "", apperrors.Wrap(apperrors.CodeDownstream,
				fmt.Sprintf("EXIT_%d: %s", exitErr.ExitCode(), preview), runErr)
		}
		g.logger.Error("llm call exec error", zap.Error(runErr))
		return "", apperrors.Wrap(apperrors.CodeDownstream, "exec_error", runErr)
	}

	g.logger.Debug("llm call completed", zap.Duration("duration", duration))
	return strings.TrimSpace(stdout.String()), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
