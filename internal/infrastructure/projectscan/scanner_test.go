package projectscan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeStatus(t *testing.T, root, project, content string) {
	t.Helper()
	dir := filepath.Join(root, project)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "STATUS.md"), []byte(content), 0o644))
}

func TestScanner_ParsesFrontmatter(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, root, "website-backend", `---
phase: implementing
progress: "60%"
needsAttention: true
blockers:
  - waiting on API key
userNote: focus on auth first
focus: true
---
Body notes here.
`)

	s := NewScanner(root, zap.NewNop())
	statuses, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)

	got := statuses[0]
	assert.Equal(t, "website-backend", got.Name)
	assert.Equal(t, "implementing", got.Phase)
	assert.Equal(t, "60%", got.Progress)
	assert.True(t, got.NeedsAttention)
	assert.Equal(t, []string{"waiting on API key"}, got.Blockers)
	assert.Equal(t, "focus on auth first", got.UserNote)
	assert.True(t, got.Focus)
}

func TestScanner_SkipsProjectsWithoutStatusFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "no-status-yet"), 0o755))

	s := NewScanner(root, zap.NewNop())
	statuses, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestScanner_NoFrontmatterYieldsZeroValueStatus(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, root, "freeform", "Just some notes, no YAML block.\n")

	s := NewScanner(root, zap.NewNop())
	statuses, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "freeform", statuses[0].Name)
	assert.Empty(t, statuses[0].Phase)
	assert.False(t, statuses[0].NeedsAttention)
}

func TestScanner_LastActivityReflectsFileModTime(t *testing.T) {
	root := t.TempDir()
	writeStatus(t, root, "website", "---\nphase: idle\n---\n")

	s := NewScanner(root, zap.NewNop())
	statuses, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.WithinDuration(t, time.Now(), statuses[0].LastActivity, time.Minute)
}
