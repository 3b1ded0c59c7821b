// Package capability declares the injectable external collaborators the
// core depends on only by interface (spec section 1): the SMS transport,
// the mux session driver, project state scanning, git introspection, and
// the filesystem signal protocol. Concrete implementations live under
// internal/infrastructure and are wired at the composition root.
package capability

import (
	"context"
	"time"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// InboundMessage is one operator message read off the SMS transport.
type InboundMessage struct {
	ID   int64
	Text string
}

// SMSTransport reads new operator messages by monotonic identifier and
// sends chunked replies.
type SMSTransport interface {
	Poll(ctx context.Context, lastID int64) ([]InboundMessage, error)
	Send(ctx context.Context, text string) error
}

// MuxDriver starts/stops/restarts a named terminal-multiplexer session
// running an external CLI in a project directory, and can read its pane or
// inject keystrokes.
type MuxDriver interface {
	Start(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error)
	Stop(ctx context.Context, project string) (domain.ExecutionOutcome, error)
	Restart(ctx context.Context, project, prompt string) (domain.ExecutionOutcome, error)
	SendInput(ctx context.Context, project, text string) error
	ListActive(ctx context.Context) ([]string, error)
	CapturePane(ctx context.Context, project string, maxBytes int) (string, error)
}

// ProjectStatus is the structured record parsed from a project's status
// markdown by the scanner capability.
type ProjectStatus struct {
	Name           string
	Phase          string
	Progress       string
	NeedsAttention bool
	Blockers       []string
	UserNote       string
	LastActivity   time.Time
	Focus          bool
}

// ProjectScanner parses per-project state into structured records.
type ProjectScanner interface {
	Scan(ctx context.Context) ([]ProjectStatus, error)
}

// GitIntrospector reports repository activity since a timestamp.
type GitIntrospector interface {
	Since(ctx context.Context, dir string, since time.Time) (domain.GitProgress, error)
}

// SignalEvent is one filesystem-signal-protocol notification: a managed
// session writing needs-input.json, completed.json, or error.json.
type SignalEvent struct {
	Project string
	Kind    string // "needs-input" | "completed" | "error"
	Payload map[string]any
}

// SignalReader scans projects' .orchestrator/ directories for pending
// signal files and clears them into .orchestrator/history/ once consumed.
type SignalReader interface {
	Poll(ctx context.Context) ([]SignalEvent, error)
}

// ResourceProbe reports host resource pressure (spec: os.freemem checks).
type ResourceProbe interface {
	FreeMemoryMB(ctx context.Context) (int, error)
}

// ProcessManager backs the "process" health-probe type and its restart
// action: find a PID by configured label, or kickstart it.
type ProcessManager interface {
	Find(ctx context.Context, label string) (pid int32, ok bool, err error)
	Kickstart(ctx context.Context, label string) error
}

// ContainerRuntime backs the "container" health-probe type: list running
// containers by name and restart one.
type ContainerRuntime interface {
	ListRunning(ctx context.Context) (map[string]bool, error)
	Restart(ctx context.Context, name string) error
}
