package core

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/bradmccloskey/one-claude/internal/capability"
	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// evaluationSchema is EVALUATION_SCHEMA from spec section 4.9: the judge's
// constrained-decoding reply shape for one finished session.
const evaluationSchema = `{
  "type": "object",
  "required": ["score", "recommendation", "reasoning"],
  "properties": {
    "score": {"type": "integer", "minimum": 1, "maximum": 5},
    "recommendation": {"type": "string", "enum": ["continue", "retry", "escalate", "complete"]},
    "accomplishments": {"type": "array", "items": {"type": "string"}},
    "failures": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "string"}
  }
}`

const (
	evaluationTimeout = 30 * time.Second
	panePreviewBytes  = 2000
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// stripANSI removes terminal escape sequences from captured pane text, the
// same regexp-over-a-handful-of-patterns approach used for credential
// redaction elsewhere in this package.
func stripANSI(s string) string {
	return ansiEscape.ReplaceAllString(s, "")
}

type evaluationResponse struct {
	Score           int                             `json:"score"`
	Recommendation  domain.EvaluationRecommendation `json:"recommendation"`
	Accomplishments []string                        `json:"accomplishments"`
	Failures        []string                        `json:"failures"`
	Reasoning       string                          `json:"reasoning"`
}

// EvaluationSink is the durable overflow store for evaluations beyond the
// in-memory ring StateStore keeps; satisfied by store.EvaluationArchive.
type EvaluationSink interface {
	Append(e domain.Evaluation) error
}

// EvaluationFileWriter persists one evaluation as the project-local
// .orchestrator/evaluation.json file spec section 6 names, alongside the
// ring/archive copies.
type EvaluationFileWriter interface {
	WriteEvaluationFile(project string, e domain.Evaluation) error
}

// SessionEvaluatorConfig carries the tunables spec section 6 names.
type SessionEvaluatorConfig struct {
	Model string
}

// SessionEvaluator scores a finished session with an LLM-as-judge call,
// falling back to a git-progress-derived score when the call fails (spec
// section 4.9).
type SessionEvaluator struct {
	mux     capability.MuxDriver
	git     capability.GitIntrospector
	gateway Gateway
	store   StateStore
	archive EvaluationSink
	files   EvaluationFileWriter
	dirFor  func(project string) string
	cfg     SessionEvaluatorConfig
	logger  *zap.Logger
}

func NewSessionEvaluator(
	mux capability.MuxDriver,
	git capability.GitIntrospector,
	gateway Gateway,
	store StateStore,
	archive EvaluationSink,
	files EvaluationFileWriter,
	dirFor func(project string) string,
	cfg SessionEvaluatorConfig,
	logger *zap.Logger,
) *SessionEvaluator {
	return &SessionEvaluator{
		mux: mux, git: git, gateway: gateway, store: store,
		archive: archive, files: files, dirFor: dirFor, cfg: cfg,
		logger: logger.With(zap.String("component", "session-evaluator")),
	}
}

// Evaluate scores one finished session and persists the result to the
// decision-history ring, the durable archive, and the project-local file.
// It never returns an error: judge failures degrade to the git-derived
// fallback score rather than dropping the evaluation.
func (s *SessionEvaluator) Evaluate(ctx context.Context, sessionID, project string, startedAt time.Time) domain.Evaluation {
	stoppedAt := time.Now()

	pane, err := s.mux.CapturePane(ctx, project, panePreviewBytes)
	if err != nil {
		s.logger.Warn("pane capture failed", zap.String("project", project), zap.Error(err))
	}
	pane = stripANSI(pane)

	dir := project
	if s.dirFor != nil {
		dir = s.dirFor(project)
	}
	progress, err := s.git.Since(ctx, dir, startedAt)
	if err != nil {
		s.logger.Warn("git introspection failed", zap.String("project", project), zap.Error(err))
	}

	eval := domain.Evaluation{
		SessionID:       sessionID,
		ProjectName:     project,
		StartedAt:       startedAt,
		StoppedAt:       stoppedAt,
		DurationMinutes: stoppedAt.Sub(startedAt).Minutes(),
		GitProgress:     progress,
		EvaluatedAt:     stoppedAt,
	}

	resp, judgeErr := s.judge(ctx, pane, progress)
	if judgeErr != nil {
		s.logger.Warn("judge call failed, falling back to git-derived score",
			zap.String("project", project), zap.Error(judgeErr))
		resp = fallbackEvaluation(progress)
	}

	eval.Score = resp.Score
	eval.Recommendation = resp.Recommendation
	eval.Accomplishments = resp.Accomplishments
	eval.Failures = resp.Failures
	eval.Reasoning = resp.Reasoning

	s.store.AppendEvaluation(eval)

	if s.archive != nil {
		if err := s.archive.Append(eval); err != nil {
			s.logger.Error("evaluation archive write failed", zap.Error(err))
		}
	}
	if s.files != nil {
		if err := s.files.WriteEvaluationFile(project, eval); err != nil {
			s.logger.Error("evaluation file write failed", zap.String("project", project), zap.Error(err))
		}
	}

	return eval
}

func (s *SessionEvaluator) judge(ctx context.Context, pane string, progress domain.GitProgress) (evaluationResponse, error) {
	prompt := fmt.Sprintf(
		"Score this finished coding session 1..5 (1=no progress, 3=some useful progress, 5=excellent, "+
			"completed the task). Evidence:\n\nGit activity: %d commits, +%d/-%d lines across %d files, last commit: %q\n\n"+
			"Pane tail:\n%s\n",
		progress.CommitCount, progress.Insertions, progress.Deletions, progress.FilesChanged,
		progress.LastCommitMessage, pane,
	)

	raw, err := s.gateway.CallGated(ctx, prompt, GatewayOptions{
		Model:        s.cfg.Model,
		MaxTurns:     1,
		OutputFormat: "json",
		JSONSchema:   evaluationSchema,
		Timeout:      evaluationTimeout,
	})
	if err != nil {
		return evaluationResponse{}, err
	}

	var resp evaluationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return evaluationResponse{}, apperrors.NewParseFailure("evaluation response did not decode: " + err.Error())
	}
	return resp, nil
}

// fallbackEvaluation derives a score from commit count alone, per spec
// section 4.9's degraded path: 0 commits -> 1, 1-2 commits -> 3, else 4.
func fallbackEvaluation(progress domain.GitProgress) evaluationResponse {
	score := 4
	recommendation := domain.EvalContinue
	switch {
	case progress.CommitCount == 0:
		score = 1
		recommendation = domain.EvalRetry
	case progress.CommitCount <= 2:
		score = 3
	}
	return evaluationResponse{
		Score:          score,
		Recommendation: recommendation,
		Reasoning:      "judge unavailable; score derived from commit count",
	}
}
