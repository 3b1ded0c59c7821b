// Package store holds the daemon's durable state: the single JSON state
// document (autonomy level, decision/execution/evaluation rings,
// error-retry counters, trust rows, restart budget) and the GORM/sqlite
// tables for conversation history and reminders.
//
// Durability follows a write-staging-file-then-rename idiom: a temp file is
// written in full and only then swapped in for the live path, so a crash
// mid-write never leaves a truncated document behind. This is a
// snapshot-on-write document, not an append-only log.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

const (
	decisionRingSize   = 50
	executionRingSize  = 100
	evaluationRingSize = 100
)

// stateDocument is the on-disk shape of JSONStateStore.
type stateDocument struct {
	AutonomyLevel    domain.AutonomyLevel                     `json:"autonomyLevel"`
	Decisions        []domain.Decision                        `json:"decisions"`
	Executions       []domain.Execution                       `json:"executions"`
	Evaluations      []domain.Evaluation                      `json:"evaluations"`
	ErrorRetryCounts map[string]int                           `json:"errorRetryCounts"`
	TrustRows        map[domain.AutonomyLevel]domain.TrustRow `json:"trustRows"`
	RestartBudget    domain.RestartBudget                     `json:"restartBudget"`
	Version          int                                      `json:"version"`
}

func newStateDocument() stateDocument {
	return stateDocument{
		AutonomyLevel:    domain.LevelObserve,
		ErrorRetryCounts: map[string]int{},
		TrustRows:        map[domain.AutonomyLevel]domain.TrustRow{},
	}
}

// JSONStateStore is a core.StateStore backed by one JSON document, written
// atomically (temp file + rename) on every mutation.
type JSONStateStore struct {
	path   string
	mu     sync.Mutex
	doc    stateDocument
	logger *zap.Logger
}

// Open loads path if it exists, or starts from a fresh document otherwise.
func Open(path string, logger *zap.Logger) (*JSONStateStore, error) {
	s := &JSONStateStore{path: path, doc: newStateDocument(), logger: logger.With(zap.String("component", "state-store"))}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apperrors.Wrap(apperrors.CodePersistence, "read state document", err)
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "parse state document", err)
	}
	if s.doc.ErrorRetryCounts == nil {
		s.doc.ErrorRetryCounts = map[string]int{}
	}
	if s.doc.TrustRows == nil {
		s.doc.TrustRows = map[domain.AutonomyLevel]domain.TrustRow{}
	}
	return s, nil
}

// persistLocked writes the document to a staging file in the same
// directory and renames it over the live path, so a crash mid-write never
// leaves a truncated document behind. Must be called with mu held.
func (s *JSONStateStore) persistLocked() {
	s.doc.Version++
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.logger.Error("marshal state document", zap.Error(err))
		return
	}

	staging := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("create state directory", zap.Error(err))
		return
	}
	if err := os.WriteFile(staging, data, 0o644); err != nil {
		s.logger.Error("write staging state document", zap.Error(err))
		return
	}
	if err := os.Rename(staging, s.path); err != nil {
		s.logger.Error("rename staging state document", zap.Error(err))
	}
}

func (s *JSONStateStore) AutonomyLevel() domain.AutonomyLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.AutonomyLevel
}

func (s *JSONStateStore) SetAutonomyLevel(level domain.AutonomyLevel) error {
	if !domain.ValidLevel(level) {
		return apperrors.NewConfig("unknown autonomy level: " + string(level))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.AutonomyLevel = level
	s.persistLocked()
	return nil
}

func (s *JSONStateStore) AppendDecision(d domain.Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Decisions = append(s.doc.Decisions, d)
	if len(s.doc.Decisions) > decisionRingSize {
		s.doc.Decisions = s.doc.Decisions[len(s.doc.Decisions)-decisionRingSize:]
	}
	s.persistLocked()
}

func (s *JSONStateStore) AppendExecution(e domain.Execution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Executions = append(s.doc.Executions, e)
	if len(s.doc.Executions) > executionRingSize {
		s.doc.Executions = s.doc.Executions[len(s.doc.Executions)-executionRingSize:]
	}
	s.persistLocked()
}

func (s *JSONStateStore) AppendEvaluation(e domain.Evaluation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Evaluations = append(s.doc.Evaluations, e)
	if len(s.doc.Evaluations) > evaluationRingSize {
		s.doc.Evaluations = s.doc.Evaluations[len(s.doc.Evaluations)-evaluationRingSize:]
	}
	s.persistLocked()
}

func (s *JSONStateStore) RecentDecisions(n int) []domain.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.doc.Decisions) {
		return append([]domain.Decision(nil), s.doc.Decisions...)
	}
	return append([]domain.Decision(nil), s.doc.Decisions[len(s.doc.Decisions)-n:]...)
}

func (s *JSONStateStore) ExecutionHistory() []domain.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Execution(nil), s.doc.Executions...)
}

func (s *JSONStateStore) EvaluationHistory() []domain.Evaluation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Evaluation(nil), s.doc.Evaluations...)
}

func (s *JSONStateStore) ErrorRetryCount(project string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ErrorRetryCounts[project]
}

func (s *JSONStateStore) IncErrorRetryCount(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ErrorRetryCounts[project]++
	s.persistLocked()
}

func (s *JSONStateStore) ResetErrorRetryCount(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.doc.ErrorRetryCounts, project)
	s.persistLocked()
}

func (s *JSONStateStore) TrustRow(level domain.AutonomyLevel) domain.TrustRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.TrustRows[level]
}

func (s *JSONStateStore) SetTrustRow(level domain.AutonomyLevel, row domain.TrustRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.TrustRows[level] = row
	s.persistLocked()
}

func (s *JSONStateStore) RestartBudget() domain.RestartBudget {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.RestartBudget
}

// RecordRestart appends t (unix millis) to the restart budget window and
// prunes anything older than 1h, mirroring CooldownMap's own pruning style.
func (s *JSONStateStore) RecordRestart(t int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := time.UnixMilli(t)
	s.doc.RestartBudget.Restarts = append(s.doc.RestartBudget.Restarts, at)
	cutoff := at.Add(-1 * time.Hour)
	kept := s.doc.RestartBudget.Restarts[:0]
	for _, r := range s.doc.RestartBudget.Restarts {
		if r.After(cutoff) {
			kept = append(kept, r)
		}
	}
	s.doc.RestartBudget.Restarts = kept
	s.persistLocked()
}

func (s *JSONStateStore) StateVersion() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Version
}
