package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bradmccloskey/one-claude/internal/infrastructure/config"
	apperrors "github.com/bradmccloskey/one-claude/pkg/errors"
)

// NewDBConnection opens the sqlite database at cfg.DSN and migrates every
// model this package owns. Only sqlite is wired — the daemon runs as a
// single process against a local file, never a shared postgres instance.
func NewDBConnection(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.Type != "sqlite" {
		return nil, apperrors.NewConfig(fmt.Sprintf("unsupported database type: %s", cfg.Type))
	}

	gormConfig := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), gormConfig)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "connect to database", err)
	}
	if err := autoMigrate(db); err != nil {
		return nil, apperrors.Wrap(apperrors.CodePersistence, "migrate database", err)
	}
	return db, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&ConversationModel{},
		&ReminderModel{},
		&EvaluationModel{},
	)
}
