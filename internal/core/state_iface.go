package core

import "github.com/bradmccloskey/one-claude/internal/domain"

// StateStore is the durable-state surface core components depend on. The
// concrete implementation (internal/store.StateStore) is wired in at the
// composition root; core never imports it directly, keeping StateStore a
// leaf dependency per the design's cyclic-reference-avoidance note.
type StateStore interface {
	AutonomyLevel() domain.AutonomyLevel
	SetAutonomyLevel(level domain.AutonomyLevel) error

	AppendDecision(d domain.Decision)
	AppendExecution(e domain.Execution)
	AppendEvaluation(e domain.Evaluation)

	RecentDecisions(n int) []domain.Decision
	ExecutionHistory() []domain.Execution
	EvaluationHistory() []domain.Evaluation

	ErrorRetryCount(project string) int
	IncErrorRetryCount(project string)
	ResetErrorRetryCount(project string)

	TrustRow(level domain.AutonomyLevel) domain.TrustRow
	SetTrustRow(level domain.AutonomyLevel, row domain.TrustRow)

	RestartBudget() domain.RestartBudget
	RecordRestart(t int64)

	StateVersion() int
}
