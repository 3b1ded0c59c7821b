package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
)

const smsHardLimit = 1500

var allowedActions = map[domain.Action]bool{
	domain.ActionStart: true, domain.ActionStop: true, domain.ActionRestart: true,
	domain.ActionNotify: true, domain.ActionSkip: true,
}

// DecisionExecutorConfig carries the tunables spec section 6 names.
type DecisionExecutorConfig struct {
	ProtectedProjects     []string
	MaxConcurrentSessions int
	MaxErrorRetries       int
	MinFreeMemoryMB       int
}

// DecisionExecutor is the action allowlist, protected-project filter,
// cooldown/dedup gate, autonomy check, precondition check, and dispatcher
// (spec section 4.4). It is the only component that actually applies a
// recommendation's side effect.
type DecisionExecutor struct {
	store    StateStore
	autonomy *AutonomyState
	cooldown *CooldownMap
	dedup    *RecommendationHashMap
	mux      capability.MuxDriver
	notifier NotificationSender
	resource capability.ResourceProbe
	cfg      DecisionExecutorConfig
	logger   *zap.Logger
}

func NewDecisionExecutor(
	store StateStore,
	autonomy *AutonomyState,
	cooldown *CooldownMap,
	dedup *RecommendationHashMap,
	mux capability.MuxDriver,
	notifier NotificationSender,
	resource capability.ResourceProbe,
	cfg DecisionExecutorConfig,
	logger *zap.Logger,
) *DecisionExecutor {
	return &DecisionExecutor{
		store: store, autonomy: autonomy, cooldown: cooldown, dedup: dedup,
		mux: mux, notifier: notifier, resource: resource, cfg: cfg,
		logger: logger.With(zap.String("component", "decision-executor")),
	}
}

func isProtected(project string, protected []string) bool {
	for _, p := range protected {
		if p == project {
			return true
		}
	}
	return false
}

// Evaluate is a pure transformation over recs: it reads the current
// autonomy level but has no other side effect. Checks run in order per
// recommendation, stopping at the first failure.
func (d *DecisionExecutor) Evaluate(recs []domain.Recommendation) []domain.Recommendation {
	level := d.autonomy.Level()
	out := make([]domain.Recommendation, len(recs))

	for i, rec := range recs {
		rec := rec

		if !allowedActions[rec.Action] {
			rec.Validated = false
			rec.Rejected = "unknown action"
			out[i] = rec
			continue
		}

		if isProtected(rec.Project, d.cfg.ProtectedProjects) {
			rec.Validated = false
			rec.Rejected = "protected project"
			out[i] = rec
			continue
		}

		if reason, remaining := d.cooldown.Check(rec.Project, rec.Action); reason != "" {
			rec.Validated = false
			rec.Rejected = reason
			rec.CooldownRemainingMs = remaining
			out[i] = rec
			continue
		}

		rec.Validated = true
		rec.ObserveOnly = level == domain.LevelObserve
		rec.AutonomyLevel = level
		out[i] = rec
	}

	return out
}

// FormatForSMS builds the operator-facing summary of one think cycle,
// deduplicating validated recommendations against the RecommendationHashMap
// first. Returns nil when the message should be suppressed entirely.
func (d *DecisionExecutor) FormatForSMS(evaluated []domain.Recommendation, summary string) *string {
	if len(evaluated) == 0 {
		msg := "AI brain: No recommendations."
		return &msg
	}

	var kept []domain.Recommendation
	var rejected []domain.Recommendation
	observeMode := false

	for _, rec := range evaluated {
		if !rec.Validated {
			rejected = append(rejected, rec)
			continue
		}
		if rec.ObserveOnly {
			observeMode = true
		}
		hash := Hash(rec.Project, rec.Action, rec.Reason)
		if d.dedup.SeenRecently(hash) {
			continue
		}
		d.dedup.Record(hash)
		kept = append(kept, rec)
	}

	if len(kept) == 0 && len(rejected) == 0 {
		return nil // every validated rec was deduped; nothing to report
	}

	var b strings.Builder
	for i, rec := range kept {
		fmt.Fprintf(&b, "%d. %s -> %s: %s\n", i+1, rec.Project, rec.Action, rec.Reason)
	}

	if len(rejected) > 0 {
		counts := map[string]int{}
		for _, r := range rejected {
			counts[r.Rejected]++
		}
		var parts []string
		for reason, n := range counts {
			parts = append(parts, fmt.Sprintf("%s: %d", reason, n))
		}
		sort.Strings(parts)
		fmt.Fprintf(&b, "%d rejected (%s)\n", len(rejected), strings.Join(parts, ", "))
	}

	if summary != "" {
		fmt.Fprintf(&b, "%s\n", summary)
	}

	if observeMode {
		b.WriteString("(observe mode - no actions taken)\n")
	}

	msg := strings.TrimRight(b.String(), "\n")
	if len(msg) > smsHardLimit {
		msg = msg[:smsHardLimit-len("[truncated]")] + "[truncated]"
	}
	return &msg
}

// ExecuteResult is execute()'s outcome.
type ExecuteResult struct {
	Executed bool
	Rejected string
	Outcome  domain.ExecutionOutcome
}

// Execute applies one already-evaluated recommendation's side effect. It
// re-checks the ActionMatrix (the autonomy level may have changed since
// evaluate ran), runs just-in-time preconditions, dispatches, updates the
// cooldown map, and appends an Execution record.
func (d *DecisionExecutor) Execute(ctx context.Context, rec domain.Recommendation) ExecuteResult {
	if !rec.Validated {
		return ExecuteResult{Executed: false}
	}

	level := d.autonomy.Level()
	if !domain.Permits(level, rec.Action) {
		d.notifier.Notify(fmt.Sprintf("AI would %s %s: %s", rec.Action, rec.Project, rec.Reason), 3)
		return ExecuteResult{Executed: false, Rejected: "autonomy_level"}
	}

	if rejected := d.checkPreconditions(ctx, rec); rejected != "" {
		return ExecuteResult{Executed: false, Rejected: rejected}
	}

	outcome, dispatchErr := d.dispatch(ctx, rec)
	if dispatchErr != nil {
		outcome = domain.ExecutionOutcome{OK: false, Msg: dispatchErr.Error()}
	}

	d.cooldown.Record(rec.Project, rec.Action)

	d.store.AppendExecution(domain.Execution{
		Timestamp:     time.Now(),
		Action:        rec.Action,
		Project:       rec.Project,
		Result:        outcome,
		AutonomyLevel: level,
		StateVersion:  d.store.StateVersion(),
	})

	switch rec.Action {
	case domain.ActionStart, domain.ActionRestart:
		if outcome.OK {
			d.store.ResetErrorRetryCount(rec.Project)
		} else {
			d.store.IncErrorRetryCount(rec.Project)
		}
	}

	if outcome.OK {
		switch rec.Action {
		case domain.ActionStart, domain.ActionStop, domain.ActionRestart:
			d.notifier.Notify(fmt.Sprintf("AI %sed %s: %s", pastTense(rec.Action), rec.Project, rec.Reason), 2)
		}
	}

	return ExecuteResult{Executed: outcome.OK, Outcome: outcome}
}

func pastTense(a domain.Action) string {
	switch a {
	case domain.ActionStart:
		return "start"
	case domain.ActionStop:
		return "stopp"
	case domain.ActionRestart:
		return "restart"
	}
	return string(a)
}

func (d *DecisionExecutor) checkPreconditions(ctx context.Context, rec domain.Recommendation) string {
	switch rec.Action {
	case domain.ActionStart:
		active, err := d.mux.ListActive(ctx)
		if err != nil {
			return "precondition_failed"
		}
		for _, p := range active {
			if p == rec.Project {
				return "already_running"
			}
		}
		if len(active) >= d.cfg.MaxConcurrentSessions {
			return "precondition_failed"
		}
		if d.resource != nil {
			free, err := d.resource.FreeMemoryMB(ctx)
			if err == nil && free < d.cfg.MinFreeMemoryMB {
				return "precondition_failed"
			}
		}
		if d.store.ErrorRetryCount(rec.Project) >= d.cfg.MaxErrorRetries {
			return "precondition_failed"
		}
	case domain.ActionStop, domain.ActionRestart:
		active, err := d.mux.ListActive(ctx)
		if err != nil {
			return "precondition_failed"
		}
		running := false
		for _, p := range active {
			if p == rec.Project {
				running = true
				break
			}
		}
		if !running {
			return "precondition_failed"
		}
	}
	return ""
}

func (d *DecisionExecutor) dispatch(ctx context.Context, rec domain.Recommendation) (domain.ExecutionOutcome, error) {
	switch rec.Action {
	case domain.ActionStart:
		return d.mux.Start(ctx, rec.Project, rec.Prompt)
	case domain.ActionStop:
		return d.mux.Stop(ctx, rec.Project)
	case domain.ActionRestart:
		return d.mux.Restart(ctx, rec.Project, rec.Prompt)
	case domain.ActionNotify:
		msg := rec.Message
		if msg == "" {
			msg = rec.Reason
		}
		tier := rec.NotificationTier
		if tier == 0 {
			tier = 2
		}
		d.notifier.Notify(msg, tier)
		return domain.ExecutionOutcome{OK: true, Msg: "notified"}, nil
	case domain.ActionSkip:
		return domain.ExecutionOutcome{OK: true, Msg: "skipped"}, nil
	}
	return domain.ExecutionOutcome{OK: false, Msg: "unknown action"}, nil
}
