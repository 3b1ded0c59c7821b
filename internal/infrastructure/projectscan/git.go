package projectscan

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// GitIntrospector is a capability.GitIntrospector backed by shelling out to
// the git binary, following the same exec.CommandContext/captured-output
// idiom as mux.Driver and llmgateway.Gateway.
type GitIntrospector struct {
	logger *zap.Logger
}

func NewGitIntrospector(logger *zap.Logger) *GitIntrospector {
	return &GitIntrospector{logger: logger.With(zap.String("component", "git-introspector"))}
}

func (g *GitIntrospector) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// Since summarizes commits in dir made at or after since. A dir that is not
// a git repository (or has no commits in the window) yields a zero-value
// GitProgress with NoGit/CommitCount reflecting which.
func (g *GitIntrospector) Since(ctx context.Context, dir string, since time.Time) (domain.GitProgress, error) {
	if _, err := g.run(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil {
		return domain.GitProgress{NoGit: true}, nil
	}

	sinceArg := "--since=" + since.UTC().Format(time.RFC3339)

	log, err := g.run(ctx, dir, "log", sinceArg, "--pretty=format:%s")
	if err != nil {
		g.logger.Warn("git log failed", zap.String("dir", dir), zap.Error(err))
		return domain.GitProgress{}, err
	}
	var commits []string
	for _, line := range strings.Split(log, "\n") {
		if strings.TrimSpace(line) != "" {
			commits = append(commits, line)
		}
	}
	progress := domain.GitProgress{CommitCount: len(commits)}
	if len(commits) > 0 {
		progress.LastCommitMessage = commits[0] // git log lists newest first
	}

	shortstat, err := g.run(ctx, dir, "log", sinceArg, "--shortstat", "--pretty=format:")
	if err != nil {
		g.logger.Warn("git shortstat failed", zap.String("dir", dir), zap.Error(err))
		return progress, nil
	}
	ins, del, files := parseShortstat(shortstat)
	progress.Insertions = ins
	progress.Deletions = del
	progress.FilesChanged = files
	return progress, nil
}

// parseShortstat sums every "N files changed, M insertions(+), K
// deletions(-)" line --shortstat emits once per commit.
func parseShortstat(text string) (insertions, deletions, files int) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			fields := strings.Fields(part)
			if len(fields) < 2 {
				continue
			}
			n, err := strconv.Atoi(fields[0])
			if err != nil {
				continue
			}
			switch {
			case strings.Contains(part, "file"):
				files += n
			case strings.Contains(part, "insertion"):
				insertions += n
			case strings.Contains(part, "deletion"):
				deletions += n
			}
		}
	}
	return insertions, deletions, files
}
