package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

func newTestExecutor(t *testing.T, level domain.AutonomyLevel, cfg DecisionExecutorConfig, mux *fakeMux, notifier *recordingNotifier, resource *fakeResource) (*DecisionExecutor, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	require.NoError(t, store.SetAutonomyLevel(level))
	autonomy := NewAutonomyState(store, TrustConfig{}, testLogger(t))
	cooldown := NewCooldownMap(300_000, 600_000)
	dedup := NewRecommendationHashMap(3_600_000)
	return NewDecisionExecutor(store, autonomy, cooldown, dedup, mux, notifier, resource, cfg, testLogger(t)), store
}

func TestDecisionExecutor_Evaluate_RejectsUnknownAction(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	out := exec.Evaluate([]domain.Recommendation{{Project: "p", Action: domain.Action("blow_up"), Reason: "x"}})
	require.Len(t, out, 1)
	assert.False(t, out[0].Validated)
	assert.Equal(t, "unknown action", out[0].Rejected)
}

func TestDecisionExecutor_Evaluate_RejectsProtectedProject(t *testing.T) {
	cfg := DecisionExecutorConfig{ProtectedProjects: []string{"prod"}}
	exec, _ := newTestExecutor(t, domain.LevelFull, cfg, &fakeMux{}, &recordingNotifier{}, nil)
	out := exec.Evaluate([]domain.Recommendation{{Project: "prod", Action: domain.ActionStop, Reason: "x"}})
	require.Len(t, out, 1)
	assert.False(t, out[0].Validated)
	assert.Equal(t, "protected project", out[0].Rejected)
}

func TestDecisionExecutor_Evaluate_RejectsOnCooldown(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	exec.cooldown.Record("p", domain.ActionStart)

	out := exec.Evaluate([]domain.Recommendation{{Project: "p", Action: domain.ActionStart, Reason: "x"}})
	require.Len(t, out, 1)
	assert.False(t, out[0].Validated)
	assert.Equal(t, "cooldown active", out[0].Rejected)
	assert.Greater(t, out[0].CooldownRemainingMs, int64(0))
}

func TestDecisionExecutor_Evaluate_ObserveOnlyFlagSetAtObserveLevel(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelObserve, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	out := exec.Evaluate([]domain.Recommendation{{Project: "p", Action: domain.ActionSkip, Reason: "x"}})
	require.Len(t, out, 1)
	assert.True(t, out[0].Validated)
	assert.True(t, out[0].ObserveOnly)
}

func TestDecisionExecutor_FormatForSMS_NoRecommendations(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	msg := exec.FormatForSMS(nil, "")
	require.NotNil(t, msg)
	assert.Equal(t, "AI brain: No recommendations.", *msg)
}

func TestDecisionExecutor_FormatForSMS_SuppressedWhenAllDeduped(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "fix", Validated: true}
	exec.dedup.Record(Hash(rec.Project, rec.Action, rec.Reason))

	msg := exec.FormatForSMS([]domain.Recommendation{rec}, "")
	assert.Nil(t, msg)
}

func TestDecisionExecutor_FormatForSMS_ShowsKeptAndRejected(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	recs := []domain.Recommendation{
		{Project: "p1", Action: domain.ActionStart, Reason: "fix bug", Validated: true},
		{Project: "p2", Action: domain.ActionStop, Reason: "x", Validated: false, Rejected: "protected project"},
	}
	msg := exec.FormatForSMS(recs, "overall summary")
	require.NotNil(t, msg)
	assert.Contains(t, *msg, "p1 -> start: fix bug")
	assert.Contains(t, *msg, "1 rejected (protected project: 1)")
	assert.Contains(t, *msg, "overall summary")
}

func TestDecisionExecutor_FormatForSMS_TruncatesAt1500(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	var recs []domain.Recommendation
	for i := 0; i < 100; i++ {
		recs = append(recs, domain.Recommendation{
			Project: "p", Action: domain.ActionNotify,
			Reason:    "a very long reason string padded to push past the SMS limit repeatedly " + string(rune('a'+i%26)),
			Validated: true,
		})
	}
	msg := exec.FormatForSMS(recs, "")
	require.NotNil(t, msg)
	assert.LessOrEqual(t, len(*msg), 1500)
	assert.Contains(t, *msg, "[truncated]")
}

func TestDecisionExecutor_Execute_RejectsWhenAutonomyTooLow(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	exec, _ := newTestExecutor(t, domain.LevelObserve, DecisionExecutorConfig{}, mux, notifier, nil)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, "autonomy_level", result.Rejected)
	assert.Empty(t, mux.started)
	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, 3, sent[0].Tier)
}

func TestDecisionExecutor_Execute_StartSucceedsAndNotifies(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	exec, store := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5, MaxErrorRetries: 3}, mux, notifier, nil)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "resume work", Prompt: "go", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.True(t, result.Executed)
	assert.Equal(t, []string{"p"}, mux.started)
	assert.Len(t, store.ExecutionHistory(), 1)

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Message, "AI started p: resume work")
	assert.Equal(t, 2, sent[0].Tier)
}

func TestDecisionExecutor_Execute_StartRejectedWhenAlreadyRunning(t *testing.T) {
	mux := &fakeMux{active: []string{"p"}}
	notifier := &recordingNotifier{}
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5}, mux, notifier, nil)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, "already_running", result.Rejected)
}

func TestDecisionExecutor_Execute_StopRejectedWhenNotRunning(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, mux, notifier, nil)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStop, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, "precondition_failed", result.Rejected)
}

func TestDecisionExecutor_Execute_StartRejectedOnLowFreeMemory(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	resource := &fakeResource{freeMB: 100}
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5, MinFreeMemoryMB: 512}, mux, notifier, resource)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, "precondition_failed", result.Rejected)
}

func TestDecisionExecutor_Execute_SkipAlwaysSucceeds(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelObserve, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	rec := domain.Recommendation{Project: "p", Action: domain.ActionSkip, Reason: "nothing to do", Validated: true}
	result := exec.Execute(context.Background(), rec)
	assert.True(t, result.Executed)
}

func TestDecisionExecutor_Execute_NotValidatedIsNoop(t *testing.T) {
	exec, _ := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{}, &fakeMux{}, &recordingNotifier{}, nil)
	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: false}
	result := exec.Execute(context.Background(), rec)
	assert.False(t, result.Executed)
}

func TestDecisionExecutor_Execute_FailedStartIncrementsErrorRetryCount(t *testing.T) {
	mux := &fakeMux{startErr: errors.New("boom")}
	notifier := &recordingNotifier{}
	exec, store := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5}, mux, notifier, nil)

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, 1, store.ErrorRetryCount("p"))
}

func TestDecisionExecutor_Execute_SuccessfulStartResetsErrorRetryCount(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	exec, store := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5}, mux, notifier, nil)
	store.IncErrorRetryCount("p")
	store.IncErrorRetryCount("p")

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.True(t, result.Executed)
	assert.Equal(t, 0, store.ErrorRetryCount("p"))
}

func TestDecisionExecutor_Execute_StartRejectedWhenErrorRetriesExhausted(t *testing.T) {
	mux := &fakeMux{}
	notifier := &recordingNotifier{}
	exec, store := newTestExecutor(t, domain.LevelFull, DecisionExecutorConfig{MaxConcurrentSessions: 5, MaxErrorRetries: 2}, mux, notifier, nil)
	store.IncErrorRetryCount("p")
	store.IncErrorRetryCount("p")

	rec := domain.Recommendation{Project: "p", Action: domain.ActionStart, Reason: "x", Validated: true}
	result := exec.Execute(context.Background(), rec)

	assert.False(t, result.Executed)
	assert.Equal(t, "precondition_failed", result.Rejected)
}
