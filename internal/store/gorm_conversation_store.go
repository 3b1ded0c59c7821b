package store

import (
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/bradmccloskey/one-claude/internal/domain"
)

// conversationRingSize bounds the in-memory slot CommandRouter pulls recent
// turns from; the table itself is never pruned, so the full chat history is
// always available for later inspection even though GetRecent only ever
// serves the tail.
const conversationRingSize = 200

// ConversationModel is the GORM row shape for one conversation turn.
type ConversationModel struct {
	ID   uint      `gorm:"primaryKey;autoIncrement"`
	Role string    `gorm:"size:16;not null"`
	Text string    `gorm:"type:text;not null"`
	TS   time.Time `gorm:"index"`
}

func (ConversationModel) TableName() string { return "conversation_entries" }

// GormConversationStore is a core.ConversationStore backed by sqlite via
// GORM: a thin repository struct plus row<->domain translation helpers.
type GormConversationStore struct {
	db     *gorm.DB
	mu     sync.Mutex
	recent []domain.ConversationEntry // mirrors the ring kept on disk, avoids a query per GetRecent
}

func NewGormConversationStore(db *gorm.DB) (*GormConversationStore, error) {
	s := &GormConversationStore{db: db}
	if err := s.loadRecent(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GormConversationStore) loadRecent() error {
	var rows []ConversationModel
	if err := s.db.Order("ts asc").Limit(conversationRingSize).Find(&rows).Error; err != nil {
		return err
	}
	s.recent = make([]domain.ConversationEntry, 0, len(rows))
	for _, r := range rows {
		s.recent = append(s.recent, toEntry(r))
	}
	return nil
}

func toModel(e domain.ConversationEntry) ConversationModel {
	return ConversationModel{Role: e.Role, Text: e.Text, TS: e.TS}
}

func toEntry(m ConversationModel) domain.ConversationEntry {
	return domain.ConversationEntry{Role: m.Role, Text: m.Text, TS: m.TS}
}

// Push persists entry and appends it to the in-memory recent ring.
func (s *GormConversationStore) Push(entry domain.ConversationEntry) {
	if entry.TS.IsZero() {
		entry.TS = time.Now().UTC()
	}
	model := toModel(entry)
	if err := s.db.Create(&model).Error; err != nil {
		// Conversation history is best-effort: a write failure here must
		// never block routing a reply back to the operator.
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, entry)
	if len(s.recent) > conversationRingSize {
		s.recent = s.recent[len(s.recent)-conversationRingSize:]
	}
}

// GetRecent returns the last n entries, oldest first.
func (s *GormConversationStore) GetRecent(n int) []domain.ConversationEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= len(s.recent) {
		return append([]domain.ConversationEntry(nil), s.recent...)
	}
	return append([]domain.ConversationEntry(nil), s.recent[len(s.recent)-n:]...)
}
