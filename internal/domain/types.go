// Package domain holds the orchestrator's core data model: the shapes that
// flow between ContextAssembler, ThinkEngine, DecisionExecutor,
// AutonomyState/TrustTracker, HealthController, and the stores. None of
// these types carry behavior beyond small derived accessors — the
// components that own them supply the logic.
package domain

import "time"

// Action is one of the five dispatchable recommendation kinds.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
	ActionNotify  Action = "notify"
	ActionSkip    Action = "skip"
)

// AutonomyLevel is the four-rung privilege ladder. Persisted as a scalar on
// the state document; never advanced automatically.
type AutonomyLevel string

const (
	LevelObserve  AutonomyLevel = "observe"
	LevelCautious AutonomyLevel = "cautious"
	LevelModerate AutonomyLevel = "moderate"
	LevelFull     AutonomyLevel = "full"
)

// ValidLevel reports whether l is one of the four defined levels.
func ValidLevel(l AutonomyLevel) bool {
	switch l {
	case LevelObserve, LevelCautious, LevelModerate, LevelFull:
		return true
	}
	return false
}

// ActionMatrix is the constant permission table from spec section 3: which
// actions each autonomy level may dispatch. "skip" is permitted everywhere
// since it is purely informational.
var ActionMatrix = map[AutonomyLevel]map[Action]bool{
	LevelObserve: {
		ActionStart: false, ActionStop: false, ActionRestart: false,
		ActionNotify: false, ActionSkip: true,
	},
	LevelCautious: {
		ActionStart: true, ActionStop: false, ActionRestart: false,
		ActionNotify: true, ActionSkip: true,
	},
	LevelModerate: {
		ActionStart: true, ActionStop: true, ActionRestart: true,
		ActionNotify: true, ActionSkip: true,
	},
	LevelFull: {
		ActionStart: true, ActionStop: true, ActionRestart: true,
		ActionNotify: true, ActionSkip: true,
	},
}

// Permits reports whether level may dispatch action per the ActionMatrix.
func Permits(level AutonomyLevel, action Action) bool {
	row, ok := ActionMatrix[level]
	if !ok {
		return false
	}
	return row[action]
}

// Recommendation is produced by the LLM and validated by DecisionExecutor.
// Once a Decision has logged it, it is never mutated again.
type Recommendation struct {
	Project string `json:"project"`
	Action  Action `json:"action"`
	Reason  string `json:"reason"`

	Priority         int     `json:"priority,omitempty"`
	Message          string  `json:"message,omitempty"`
	Prompt           string  `json:"prompt,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
	NotificationTier int     `json:"notificationTier,omitempty"`

	// Set by DecisionExecutor.evaluate.
	Validated           bool          `json:"validated"`
	Rejected            string        `json:"rejected,omitempty"`
	ObserveOnly         bool          `json:"observeOnly"`
	AutonomyLevel       AutonomyLevel `json:"autonomyLevel,omitempty"`
	CooldownRemainingMs int64         `json:"cooldownRemainingMs,omitempty"`
}

// Decision is one complete think-cycle outcome, retained in a bounded ring
// (last 50 per spec section 3).
type Decision struct {
	Timestamp         time.Time        `json:"timestamp"`
	PromptLength      int              `json:"promptLength"`
	ResponseRawPrefix string           `json:"responseRawPrefix"`
	Recommendations   []Recommendation `json:"recommendations"`
	Summary           string           `json:"summary"`
	DurationMs        int64            `json:"durationMs"`
	Error             string           `json:"error,omitempty"`
	Evaluated         []Recommendation `json:"evaluated"`
}

// ExecutionOutcome is the {ok, msg} result shape execute() and dispatched
// collaborators return.
type ExecutionOutcome struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

// Execution is one applied action, retained in a ring (last 100).
type Execution struct {
	Timestamp     time.Time        `json:"timestamp"`
	Action        Action           `json:"action"`
	Project       string           `json:"project"`
	Result        ExecutionOutcome `json:"result"`
	AutonomyLevel AutonomyLevel    `json:"autonomyLevel"`
	StateVersion  int              `json:"stateVersion"`
}

// GitProgress summarizes repository activity since a session started.
type GitProgress struct {
	CommitCount       int    `json:"commitCount"`
	Insertions        int    `json:"insertions"`
	Deletions         int    `json:"deletions"`
	FilesChanged      int    `json:"filesChanged"`
	LastCommitMessage string `json:"lastCommitMessage"`
	NoGit             bool   `json:"noGit"`
}

// EvaluationRecommendation is the judge's verdict on what should happen next.
type EvaluationRecommendation string

const (
	EvalContinue EvaluationRecommendation = "continue"
	EvalRetry    EvaluationRecommendation = "retry"
	EvalEscalate EvaluationRecommendation = "escalate"
	EvalComplete EvaluationRecommendation = "complete"
)

// Evaluation is the LLM-as-judge scoring of one finished session, retained
// in a ring of 100.
type Evaluation struct {
	SessionID       string                   `json:"sessionId"`
	ProjectName     string                   `json:"projectName"`
	StartedAt       time.Time                `json:"startedAt"`
	StoppedAt       time.Time                `json:"stoppedAt"`
	DurationMinutes float64                  `json:"durationMinutes"`
	GitProgress     GitProgress              `json:"gitProgress"`
	Score           int                      `json:"score"`
	Recommendation  EvaluationRecommendation `json:"recommendation"`
	Accomplishments []string                 `json:"accomplishments"`
	Failures        []string                 `json:"failures"`
	Reasoning       string                   `json:"reasoning"`
	EvaluatedAt     time.Time                `json:"evaluatedAt"`
}

// HealthStatus is the up/down result of one service probe.
type HealthStatus string

const (
	StatusUp   HealthStatus = "up"
	StatusDown HealthStatus = "down"
)

// HealthResult is the in-memory result of the most recent probe of one
// configured service.
type HealthResult struct {
	Name             string       `json:"name"`
	Type             string       `json:"type"`
	Status           HealthStatus `json:"status"`
	LatencyMs        int64        `json:"latencyMs"`
	Error            string       `json:"error,omitempty"`
	ConsecutiveFails int          `json:"consecutiveFails"`
	LastChecked      time.Time    `json:"lastChecked"`
	Details          string       `json:"details,omitempty"`
}

// ConversationEntry is one credential-redacted chat line.
type ConversationEntry struct {
	Role string    `json:"role"` // "user" | "assistant"
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// Reminder is a one-shot deferred notification.
type Reminder struct {
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	FireAt        time.Time `json:"fireAtISO"`
	CreatedAt     time.Time `json:"createdAtISO"`
	Fired         bool      `json:"fired"`
	SourceMessage string    `json:"sourceMessage,omitempty"`
}

// TrustRow is TrustTracker's per-autonomy-level accumulator.
type TrustRow struct {
	TotalSessions    int       `json:"totalSessions"`
	TotalEvaluations int       `json:"totalEvaluations"`
	SumEvalScores    int       `json:"sumEvalScores"`
	FirstEnteredAt   time.Time `json:"firstEnteredAt"`
	LastEnteredAt    time.Time `json:"lastEnteredAt"`
	TotalDays        float64   `json:"totalDays"`
	PromotionSent    bool      `json:"promotionSent"`
}

// AvgScore returns the mean evaluation score at this level, or 0 if none.
func (r TrustRow) AvgScore() float64 {
	if r.TotalEvaluations == 0 {
		return 0
	}
	return float64(r.SumEvalScores) / float64(r.TotalEvaluations)
}

// DaysAtLevel returns cumulative days spent at this level, including the
// current open-ended stint since LastEnteredAt.
func (r TrustRow) DaysAtLevel(now time.Time) float64 {
	if r.LastEnteredAt.IsZero() {
		return r.TotalDays
	}
	return now.Sub(r.LastEnteredAt).Hours()/24 + r.TotalDays
}

// RestartBudget is a sliding 1h window of restart timestamps.
type RestartBudget struct {
	Restarts []time.Time `json:"restarts"`
}

// CountSince returns how many restarts fall within [since, now].
func (b RestartBudget) CountSince(since time.Time) int {
	n := 0
	for _, t := range b.Restarts {
		if !t.Before(since) {
			n++
		}
	}
	return n
}
