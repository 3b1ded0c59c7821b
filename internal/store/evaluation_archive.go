package store

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/bradmccloskey/one-claude/internal/domain"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// EvaluationModel is the GORM row shape for one archived session
// evaluation. JSONStateStore only ever keeps the most recent 100 in
// memory; every evaluation is additionally archived here so digests and
// trust-trend queries can look further back than the live ring.
type EvaluationModel struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SessionID       string `gorm:"size:64;index"`
	ProjectName     string `gorm:"size:128;index"`
	StartedAt       time.Time
	StoppedAt       time.Time
	DurationMinutes float64
	Score           int
	Recommendation  string    `gorm:"size:32"`
	GitProgress     string    `gorm:"type:text"` // JSON-encoded domain.GitProgress
	Accomplishments string    `gorm:"type:text"` // JSON-encoded []string
	Failures        string    `gorm:"type:text"` // JSON-encoded []string
	Reasoning       string    `gorm:"type:text"`
	EvaluatedAt     time.Time `gorm:"index"`
}

func (EvaluationModel) TableName() string { return "evaluation_archive" }

// EvaluationArchive is a write-mostly history of every evaluation ever
// produced, queried by the weekly-revenue/digest jobs for trends that
// outlive the in-memory ring.
type EvaluationArchive struct {
	db *gorm.DB
}

func NewEvaluationArchive(db *gorm.DB) *EvaluationArchive {
	return &EvaluationArchive{db: db}
}

// Append archives e. Failures here are logged by the caller, not fatal:
// the live ring in JSONStateStore remains the source of truth for
// in-process decisions.
func (a *EvaluationArchive) Append(e domain.Evaluation) error {
	gitProgress, err := json.Marshal(e.GitProgress)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "marshal git progress", err)
	}
	accomplishments, err := json.Marshal(e.Accomplishments)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "marshal accomplishments", err)
	}
	failures, err := json.Marshal(e.Failures)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "marshal failures", err)
	}

	model := EvaluationModel{
		SessionID:       e.SessionID,
		ProjectName:     e.ProjectName,
		StartedAt:       e.StartedAt,
		StoppedAt:       e.StoppedAt,
		DurationMinutes: e.DurationMinutes,
		Score:           e.Score,
		Recommendation:  string(e.Recommendation),
		GitProgress:     string(gitProgress),
		Accomplishments: string(accomplishments),
		Failures:        string(failures),
		Reasoning:       e.Reasoning,
		EvaluatedAt:     e.EvaluatedAt,
	}
	if err := a.db.Create(&model).Error; err != nil {
		return apperrors.Wrap(apperrors.CodePersistence, "archive evaluation", err)
	}
	return nil
}

// Since returns every archived evaluation for project evaluated at or after
// since, oldest first — used by the weekly-revenue digest to sum scores
// and session counts across a rolling window wider than the live ring.
func (a *EvaluationArchive) Since(project string, since time.Time) ([]domain.Evaluation, error) {
	var rows []EvaluationModel
	q := a.db.Where("evaluated_at >= ?", since).Order("evaluated_at asc")
	if project != "" {
		q = q.Where("project_name = ?", project)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "query evaluation archive", err)
	}

	out := make([]domain.Evaluation, 0, len(rows))
	for _, m := range rows {
		var gitProgress domain.GitProgress
		_ = json.Unmarshal([]byte(m.GitProgress), &gitProgress)
		var accomplishments, failures []string
		_ = json.Unmarshal([]byte(m.Accomplishments), &accomplishments)
		_ = json.Unmarshal([]byte(m.Failures), &failures)

		out = append(out, domain.Evaluation{
			SessionID:       m.SessionID,
			ProjectName:     m.ProjectName,
			StartedAt:       m.StartedAt,
			StoppedAt:       m.StoppedAt,
			DurationMinutes: m.DurationMinutes,
			GitProgress:     gitProgress,
			Score:           m.Score,
			Recommendation:  domain.EvaluationRecommendation(m.Recommendation),
			Accomplishments: accomplishments,
			Failures:        failures,
			Reasoning:       m.Reasoning,
			EvaluatedAt:     m.EvaluatedAt,
		})
	}
	return out, nil
}
