// Package mux drives terminal-multiplexer sessions that each run one
// project's AI coding CLI. Grounded on the same exec.CommandContext/captured
// output idiom as internal/infrastructure/llmgateway, but shells out to tmux
// instead of the LLM CLI: new-session/send-keys/capture-pane/kill-session.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

const sessionPrefix = "overseer-"

// Driver is a capability.MuxDriver backed by the tmux binary. Each project
// gets one session named sessionPrefix+project; the session's single
// window runs the configured CLI with --dangerously-skip-permissions, since
// interactive mux sessions (unlike the gated llmgateway path) are expected
// to act on the filesystem.
type Driver struct {
	binary    string // "tmux"
	cliBinary string // the interactive coding CLI, e.g. "claude"
	workDir   func(project string) string
	logger    *zap.Logger
}

func New(cliBinary string, workDir func(project string) string, logger *zap.Logger) *Driver {
	return &Driver{
		binary:    "tmux",
		cliBinary: cliBinary,
		workDir:   workDir,
		logger:    logger.With(zap.String("component", "mux")),
	}
}

func sessionName(project string) string { return sessionPrefix + project }

func (d *Driver) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", apperrors.Wrap(apperrors.CodeDownstream,
			fmt.Sprintf("tmux %s: %s", strings.Join(args, " "), strings.TrimSpace(stderr.String())), err)
	}
	return stdout.String(), nil
}

// Start launches a new detached session running the CLI with prompt piped
// in via send-keys once the session is up.
func (d *Driver) Start(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error) {
	name := sessionName(project)
	dir := d.workDir(project)

	if _, err := d.run(ctx, "new-session", "-d", "-s", name, "-c", dir,
		d.cliBinary, "--dangerously-skip-permissions"); err != nil {
		return domain.ExecutionOutcome{OK: false, Msg: err.Error()}, err
	}

	time.Sleep(500 * time.Millisecond) // let the CLI finish booting before feeding it input

	if prompt != "" {
		if _, err := d.run(ctx, "send-keys", "-t", name, prompt, "Enter"); err != nil {
			return domain.ExecutionOutcome{OK: false, Msg: err.Error()}, err
		}
	}

	d.logger.Info("started session", zap.String("project", project))
	return domain.ExecutionOutcome{OK: true, Msg: "started"}, nil
}

// Stop kills the session outright; the CLI is expected to persist its own
// state before exit signals matter, so no graceful send-keys "exit" dance.
func (d *Driver) Stop(ctx context.Context, project string) (domain.ExecutionOutcome, error) {
	if _, err := d.run(ctx, "kill-session", "-t", sessionName(project)); err != nil {
		return domain.ExecutionOutcome{OK: false, Msg: err.Error()}, err
	}
	d.logger.Info("stopped session", zap.String("project", project))
	return domain.ExecutionOutcome{OK: true, Msg: "stopped"}, nil
}

func (d *Driver) Restart(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error) {
	_, _ = d.run(ctx, "kill-session", "-t", sessionName(project)) // best-effort; may already be gone
	return d.Start(ctx, project, prompt)
}

func (d *Driver) SendInput(ctx context.Context, project, text string) error {
	_, err := d.run(ctx, "send-keys", "-t", sessionName(project), text, "Enter")
	return err
}

// ListActive returns the project names of every running overseer-prefixed
// session.
func (d *Driver) ListActive(ctx context.Context) ([]string, error) {
	out, err := d.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if strings.Contains(err.Error(), "no server running") {
			return nil, nil
		}
		return nil, err
	}
	var active []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasPrefix(line, sessionPrefix) {
			active = append(active, strings.TrimPrefix(line, sessionPrefix))
		}
	}
	return active, nil
}

// CapturePane reads the session's visible scrollback, trimmed to maxBytes
// from the end.
func (d *Driver) CapturePane(ctx context.Context, project string, maxBytes int) (string, error) {
	out, err := d.run(ctx, "capture-pane", "-t", sessionName(project), "-p", "-S", "-200")
	if err != nil {
		return "", err
	}
	if maxBytes > 0 && len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}
	return out, nil
}
