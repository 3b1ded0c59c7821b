package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradmccloskey/one-claude/internal/domain"
	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
)

func TestGormConversationStore_PushAndGetRecent(t *testing.T) {
	dir := t.TempDir()
	db, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: filepath.Join(dir, "test.db")})
	require.NoError(t, err)

	s, err := NewGormConversationStore(db)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Push(domain.ConversationEntry{Role: "user", Text: "hello", TS: base})
	s.Push(domain.ConversationEntry{Role: "assistant", Text: "hi there", TS: base.Add(time.Second)})

	recent := s.GetRecent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "hi there", recent[0].Text)

	all := s.GetRecent(10)
	require.Len(t, all, 2)
	assert.Equal(t, "hello", all[0].Text)
}

func TestGormConversationStore_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "test.db")
	db, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: dsn})
	require.NoError(t, err)
	s, err := NewGormConversationStore(db)
	require.NoError(t, err)
	s.Push(domain.ConversationEntry{Role: "user", Text: "persisted", TS: time.Now().UTC()})

	db2, err := NewDBConnection(config.DatabaseConfig{Type: "sqlite", DSN: dsn})
	require.NoError(t, err)
	s2, err := NewGormConversationStore(db2)
	require.NoError(t, err)

	recent := s2.GetRecent(5)
	require.Len(t, recent, 1)
	assert.Equal(t, "persisted", recent[0].Text)
}

func TestNewDBConnection_RejectsNonSqlite(t *testing.T) {
	_, err := NewDBConnection(config.DatabaseConfig{Type: "postgres", DSN: "unused"})
	assert.Error(t, err)
}
