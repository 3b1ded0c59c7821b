package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// ReminderModel is the GORM row shape for one deferred notification.
type ReminderModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Text          string `gorm:"type:text;not null"`
	FireAt        time.Time
	CreatedAt     time.Time
	Fired         bool   `gorm:"index"`
	SourceMessage string `gorm:"type:text"`
}

func (ReminderModel) TableName() string { return "reminders" }

// GormReminderStore is a core.ReminderStore backed by sqlite via GORM.
type GormReminderStore struct {
	db *gorm.DB
}

func NewGormReminderStore(db *gorm.DB) *GormReminderStore {
	return &GormReminderStore{db: db}
}

func reminderToModel(r domain.Reminder) ReminderModel {
	return ReminderModel{
		ID:            r.ID,
		Text:          r.Text,
		FireAt:        r.FireAt,
		CreatedAt:     r.CreatedAt,
		Fired:         r.Fired,
		SourceMessage: r.SourceMessage,
	}
}

func reminderToEntity(m ReminderModel) domain.Reminder {
	return domain.Reminder{
		ID:            m.ID,
		Text:          m.Text,
		FireAt:        m.FireAt,
		CreatedAt:     m.CreatedAt,
		Fired:         m.Fired,
		SourceMessage: m.SourceMessage,
	}
}

// SetReminder creates a new pending reminder and returns its ID.
func (s *GormReminderStore) SetReminder(text string, fireAt time.Time, sourceMessage string) string {
	r := domain.Reminder{
		ID:            uuid.NewString(),
		Text:          text,
		FireAt:        fireAt,
		CreatedAt:     time.Now().UTC(),
		SourceMessage: sourceMessage,
	}
	model := reminderToModel(r)
	if err := s.db.Create(&model).Error; err != nil {
		return ""
	}
	return r.ID
}

// ListPending returns every reminder that has not yet fired.
func (s *GormReminderStore) ListPending() []domain.Reminder {
	var rows []ReminderModel
	if err := s.db.Where("fired = ?", false).Order("fire_at asc").Find(&rows).Error; err != nil {
		return nil
	}
	out := make([]domain.Reminder, 0, len(rows))
	for _, r := range rows {
		out = append(out, reminderToEntity(r))
	}
	return out
}

// MarkFired flips the fired flag for id, called by the scan loop once a
// reminder's fire time has passed and the notification has been sent.
func (s *GormReminderStore) MarkFired(id string) error {
	return s.db.Model(&ReminderModel{}).Where("id = ?", id).Update("fired", true).Error
}

// CancelByText deletes every pending reminder whose text contains query
// (case-insensitive) and returns the number removed.
func (s *GormReminderStore) CancelByText(query string) int {
	var rows []ReminderModel
	if err := s.db.Where("fired = ?", false).Find(&rows).Error; err != nil {
		return 0
	}
	needle := strings.ToLower(query)
	var ids []string
	for _, r := range rows {
		if strings.Contains(strings.ToLower(r.Text), needle) {
			ids = append(ids, r.ID)
		}
	}
	if len(ids) == 0 {
		return 0
	}
	if err := s.db.Where("id IN ?", ids).Delete(&ReminderModel{}).Error; err != nil {
		return 0
	}
	return len(ids)
}
