package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// TrustThreshold is the promotion gate for one level transition.
type TrustThreshold struct {
	MinSessions    int
	MinAvgScore    float64
	MinDaysAtLevel float64
}

// TrustConfig carries the two configured promotion thresholds.
type TrustConfig struct {
	CautiousToModerate TrustThreshold
	ModerateToFull     TrustThreshold
}

// AutonomyState is the durable current autonomy level plus the TrustTracker
// that accumulates per-level session/evaluation counters and produces
// purely advisory promotion recommendations. It never self-promotes — a
// human command is the only thing that changes the level.
type AutonomyState struct {
	store  StateStore
	trust  TrustConfig
	logger *zap.Logger

	lastSeenExecutions  int
	lastSeenEvaluations int
}

func NewAutonomyState(store StateStore, trust TrustConfig, logger *zap.Logger) *AutonomyState {
	return &AutonomyState{
		store:  store,
		trust:  trust,
		logger: logger.With(zap.String("component", "autonomy")),
	}
}

// Level returns the current persisted autonomy level.
func (a *AutonomyState) Level() domain.AutonomyLevel {
	return a.store.AutonomyLevel()
}

// SetLevel validates and persists a new autonomy level. An invalid value is
// a synchronous configuration error that does not mutate state, per spec
// section 7's error taxonomy.
func (a *AutonomyState) SetLevel(level domain.AutonomyLevel) error {
	if !domain.ValidLevel(level) {
		return apperrors.NewConfig("unknown autonomy level: " + string(level))
	}

	from := a.store.AutonomyLevel()
	if err := a.store.SetAutonomyLevel(level); err != nil {
		return apperrors.NewPersistence("failed to persist autonomy level", err)
	}

	if from != level {
		row := a.store.TrustRow(level)
		now := time.Now()
		if row.FirstEnteredAt.IsZero() {
			row.FirstEnteredAt = now
		}
		row.LastEnteredAt = now
		row.PromotionSent = false // reset latch: spec "resets on observed autonomy-level change"
		a.store.SetTrustRow(level, row)
		a.logger.Info("autonomy level changed",
			zap.String("from", string(from)), zap.String("to", string(level)))
	}

	return nil
}

// SyncTrustCounters diffs executionHistory/evaluationHistory against the
// last observed counts and increments the persisted per-level row. Called
// once per scan tick.
func (a *AutonomyState) SyncTrustCounters() {
	execs := a.store.ExecutionHistory()
	evals := a.store.EvaluationHistory()
	level := a.store.AutonomyLevel()

	row := a.store.TrustRow(level)

	newStarts := 0
	for _, e := range execs[minInt(len(execs), a.lastSeenExecutions):] {
		if e.Action == domain.ActionStart {
			newStarts++
		}
	}
	row.TotalSessions += newStarts
	a.lastSeenExecutions = len(execs)

	for _, ev := range evals[minInt(len(evals), a.lastSeenEvaluations):] {
		row.TotalEvaluations++
		row.SumEvalScores += ev.Score
	}
	a.lastSeenEvaluations = len(evals)

	a.store.SetTrustRow(level, row)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// PromotionRecommendation is purely advisory text describing a suggested
// promotion; never alters the level itself.
type PromotionRecommendation struct {
	From domain.AutonomyLevel
	To   domain.AutonomyLevel
	Text string
}

// CheckPromotion evaluates whether the current level qualifies for
// promotion, per spec section 4.5: observe→cautious and full are always
// null (explicit human-gated and terminal respectively); otherwise check
// sessions/avgScore/days against the configured threshold, and return a
// recommendation only once (latched) until the level actually changes.
func (a *AutonomyState) CheckPromotion() *PromotionRecommendation {
	level := a.store.AutonomyLevel()

	var next domain.AutonomyLevel
	var threshold TrustThreshold
	switch level {
	case domain.LevelObserve:
		return nil // humans move this gate
	case domain.LevelCautious:
		next, threshold = domain.LevelModerate, a.trust.CautiousToModerate
	case domain.LevelModerate:
		next, threshold = domain.LevelFull, a.trust.ModerateToFull
	case domain.LevelFull:
		return nil
	default:
		return nil
	}

	row := a.store.TrustRow(level)
	if row.PromotionSent {
		return nil
	}

	avg := row.AvgScore()
	days := row.DaysAtLevel(time.Now())

	if row.TotalSessions >= threshold.MinSessions &&
		avg >= threshold.MinAvgScore &&
		days >= threshold.MinDaysAtLevel {
		row.PromotionSent = true
		a.store.SetTrustRow(level, row)
		return &PromotionRecommendation{
			From: level,
			To:   next,
			Text: "AI has met the promotion criteria for " + string(next) + " autonomy — consider 'ai level " + string(next) + "'",
		}
	}

	return nil
}
