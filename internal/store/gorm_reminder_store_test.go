package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
)

func newTestReminderStore(t *testing.T) *GormReminderStore {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	return NewGormReminderStore(db)
}

func TestGormReminderStore_SetAndListPending(t *testing.T) {
	s := newTestReminderStore(t)
	fireAt := time.Now().Add(time.Hour)

	id := s.SetReminder("ping ops about deploy", fireAt, "remind me in an hour to ping ops")
	assert.NotEmpty(t, id)

	pending := s.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "ping ops about deploy", pending[0].Text)
	assert.False(t, pending[0].Fired)
}

func TestGormReminderStore_MarkFiredExcludesFromPending(t *testing.T) {
	s := newTestReminderStore(t)
	id := s.SetReminder("check backups", time.Now(), "")

	require.NoError(t, s.MarkFired(id))
	assert.Empty(t, s.ListPending())
}

func TestGormReminderStore_CancelByText(t *testing.T) {
	s := newTestReminderStore(t)
	s.SetReminder("ping ops about deploy", time.Now().Add(time.Hour), "")
	s.SetReminder("check backups", time.Now().Add(2*time.Hour), "")

	n := s.CancelByText("ping ops")
	assert.Equal(t, 1, n)

	pending := s.ListPending()
	require.Len(t, pending, 1)
	assert.Equal(t, "check backups", pending[0].Text)
}

func TestGormReminderStore_CancelByText_NoMatchReturnsZero(t *testing.T) {
	s := newTestReminderStore(t)
	s.SetReminder("check backups", time.Now().Add(time.Hour), "")

	assert.Equal(t, 0, s.CancelByText("nonexistent"))
}
