// Package projectscan backs the scanner, git-introspection, and
// filesystem-signal capabilities: parsing each managed project's STATUS.md
// frontmatter into a structured record, reading git history since a
// timestamp, and draining the .orchestrator/ signal-file protocol. No
// "projects on disk" concept exists upstream to copy, so these are built on
// the stack's general-purpose parsing library (gopkg.in/yaml.v3, already
// part of the dependency set) and the same exec.CommandContext idiom used
// by mux.Driver and llmgateway.Gateway.
package projectscan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

// frontmatter is the YAML block each project's STATUS.md opens with,
// written by the managed CLI session as it works.
type frontmatter struct {
	Phase          string   `yaml:"phase"`
	Progress       string   `yaml:"progress"`
	NeedsAttention bool     `yaml:"needsAttention"`
	Blockers       []string `yaml:"blockers"`
	UserNote       string   `yaml:"userNote"`
	Focus          bool     `yaml:"focus"`
}

// Scanner is a capability.ProjectScanner reading STATUS.md out of every
// immediate subdirectory of root.
type Scanner struct {
	root   string
	logger *zap.Logger
}

func NewScanner(root string, logger *zap.Logger) *Scanner {
	return &Scanner{root: root, logger: logger.With(zap.String("component", "project-scanner"))}
}

func (s *Scanner) Scan(ctx context.Context) ([]capability.ProjectStatus, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}

	var statuses []capability.ProjectStatus
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		statusPath := filepath.Join(s.root, entry.Name(), "STATUS.md")
		info, err := os.Stat(statusPath)
		if err != nil {
			continue // no status file yet; project not yet adopted by a session
		}

		fm, err := parseFrontmatter(statusPath)
		if err != nil {
			s.logger.Warn("failed to parse STATUS.md", zap.String("project", entry.Name()), zap.Error(err))
			continue
		}

		statuses = append(statuses, capability.ProjectStatus{
			Name:           entry.Name(),
			Phase:          fm.Phase,
			Progress:       fm.Progress,
			NeedsAttention: fm.NeedsAttention,
			Blockers:       fm.Blockers,
			UserNote:       fm.UserNote,
			LastActivity:   info.ModTime(),
			Focus:          fm.Focus,
		})
	}
	return statuses, nil
}

// ProjectDir returns the absolute directory a managed project lives in,
// the same root+name join the scanner itself uses for STATUS.md.
func (s *Scanner) ProjectDir(project string) string {
	return filepath.Join(s.root, project)
}

// WriteEvaluationFile persists one session evaluation as the project-local
// .orchestrator/evaluation.json file spec section 6 names, implementing
// core.EvaluationFileWriter.
func (s *Scanner) WriteEvaluationFile(project string, e domain.Evaluation) error {
	dir := filepath.Join(s.root, project, ".orchestrator")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "evaluation.json"), data, 0o644)
}

// parseFrontmatter extracts the "---\n...\n---" YAML block at the top of a
// STATUS.md file. A file with no frontmatter delimiters yields a zero-value
// frontmatter rather than an error, since some projects may keep a purely
// freeform status body.
func parseFrontmatter(path string) (frontmatter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frontmatter{}, err
	}

	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return frontmatter{}, nil
	}
	rest := text[4:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return frontmatter{}, nil
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return frontmatter{}, err
	}
	return fm, nil
}
