package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

func TestAutonomyState_SetLevel_RejectsUnknown(t *testing.T) {
	store := newFakeStore()
	a := NewAutonomyState(store, TrustConfig{}, testLogger(t))

	err := a.SetLevel(domain.AutonomyLevel("bogus"))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.CodeConfig))
	assert.Equal(t, domain.LevelObserve, a.Level(), "invalid level must not mutate state")
}

func TestAutonomyState_SetLevel_RoundTrips(t *testing.T) {
	store := newFakeStore()
	a := NewAutonomyState(store, TrustConfig{}, testLogger(t))

	require.NoError(t, a.SetLevel(domain.LevelCautious))
	assert.Equal(t, domain.LevelCautious, a.Level())
}

func TestAutonomyState_SetLevel_ResetsPromotionLatchOnChange(t *testing.T) {
	store := newFakeStore()
	store.SetTrustRow(domain.LevelModerate, domain.TrustRow{PromotionSent: true})
	a := NewAutonomyState(store, TrustConfig{}, testLogger(t))

	require.NoError(t, a.SetLevel(domain.LevelCautious))
	require.NoError(t, a.SetLevel(domain.LevelModerate))

	row := store.TrustRow(domain.LevelModerate)
	assert.False(t, row.PromotionSent)
	assert.False(t, row.LastEnteredAt.IsZero())
}

func TestAutonomyState_SyncTrustCounters_CountsNewStartsAndScores(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SetAutonomyLevel(domain.LevelCautious))
	a := NewAutonomyState(store, TrustConfig{}, testLogger(t))

	store.AppendExecution(domain.Execution{Action: domain.ActionStart, Project: "p1"})
	store.AppendExecution(domain.Execution{Action: domain.ActionNotify, Project: "p1"})
	store.AppendEvaluation(domain.Evaluation{Score: 8})
	store.AppendEvaluation(domain.Evaluation{Score: 6})

	a.SyncTrustCounters()

	row := store.TrustRow(domain.LevelCautious)
	assert.Equal(t, 1, row.TotalSessions)
	assert.Equal(t, 2, row.TotalEvaluations)
	assert.Equal(t, 14, row.SumEvalScores)

	// a second sync with no new entries must not double-count
	a.SyncTrustCounters()
	row = store.TrustRow(domain.LevelCautious)
	assert.Equal(t, 1, row.TotalSessions)
	assert.Equal(t, 2, row.TotalEvaluations)
}

func TestAutonomyState_CheckPromotion_ObserveAndFullAlwaysNil(t *testing.T) {
	store := newFakeStore()
	a := NewAutonomyState(store, TrustConfig{}, testLogger(t))
	assert.Nil(t, a.CheckPromotion())

	require.NoError(t, a.SetLevel(domain.LevelFull))
	assert.Nil(t, a.CheckPromotion())
}

func TestAutonomyState_CheckPromotion_FiresOnceThenLatches(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SetAutonomyLevel(domain.LevelCautious))
	trust := TrustConfig{
		CautiousToModerate: TrustThreshold{MinSessions: 1, MinAvgScore: 5, MinDaysAtLevel: 0},
	}
	a := NewAutonomyState(store, trust, testLogger(t))

	row := store.TrustRow(domain.LevelCautious)
	row.TotalSessions = 5
	row.TotalEvaluations = 1
	row.SumEvalScores = 9
	row.LastEnteredAt = time.Now().Add(-48 * time.Hour)
	store.SetTrustRow(domain.LevelCautious, row)

	rec := a.CheckPromotion()
	require.NotNil(t, rec)
	assert.Equal(t, domain.LevelCautious, rec.From)
	assert.Equal(t, domain.LevelModerate, rec.To)

	assert.Nil(t, a.CheckPromotion(), "promotion recommendation must latch until level changes")
}

func TestAutonomyState_CheckPromotion_BelowThresholdReturnsNil(t *testing.T) {
	store := newFakeStore()
	require.NoError(t, store.SetAutonomyLevel(domain.LevelCautious))
	trust := TrustConfig{
		CautiousToModerate: TrustThreshold{MinSessions: 100, MinAvgScore: 9, MinDaysAtLevel: 30},
	}
	a := NewAutonomyState(store, trust, testLogger(t))

	assert.Nil(t, a.CheckPromotion())
}
