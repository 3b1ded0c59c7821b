package projectscan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
)

var signalKinds = []string{"needs-input", "completed", "error"}

// SignalReader is a capability.SignalReader draining each project's
// .orchestrator/ directory of the three signal files a managed session
// writes to request attention, report completion, or report an error, then
// moving the consumed file into .orchestrator/history/ so the next Poll
// never re-emits it.
type SignalReader struct {
	root   string
	logger *zap.Logger
}

func NewSignalReader(root string, logger *zap.Logger) *SignalReader {
	return &SignalReader{root: root, logger: logger.With(zap.String("component", "signal-reader"))}
}

func (r *SignalReader) Poll(ctx context.Context) ([]capability.SignalEvent, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return nil, err
	}

	var events []capability.SignalEvent
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		project := entry.Name()
		orchDir := filepath.Join(r.root, project, ".orchestrator")

		for _, kind := range signalKinds {
			path := filepath.Join(orchDir, kind+".json")
			data, err := os.ReadFile(path)
			if err != nil {
				continue // file not present this tick, not an error
			}

			var payload map[string]any
			if len(data) > 0 {
				if err := json.Unmarshal(data, &payload); err != nil {
					r.logger.Warn("malformed signal file", zap.String("project", project), zap.String("kind", kind), zap.Error(err))
				}
			}

			events = append(events, capability.SignalEvent{Project: project, Kind: kind, Payload: payload})

			if err := r.archive(orchDir, kind, path); err != nil {
				r.logger.Warn("failed to archive signal file", zap.String("project", project), zap.String("kind", kind), zap.Error(err))
			}
		}
	}
	return events, nil
}

// archive moves a consumed signal file into .orchestrator/history/, named
// with a timestamp so repeated kinds from the same project never collide.
func (r *SignalReader) archive(orchDir, kind, path string) error {
	historyDir := filepath.Join(orchDir, "history")
	if err := os.MkdirAll(historyDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(historyDir, kind+"-"+time.Now().UTC().Format("20060102T150405.000000000Z")+".json")
	return os.Rename(path, dest)
}
