package config

import (
	"fmt"

	"lmsquiz/models"

	"gorm.io/gorm"
)

// Migrate creates the schema. The partial unique index keeps at most one
// in-progress attempt per (quiz, user); the statement is valid on both
// PostgreSQL and SQLite.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Quiz{},
		&models.Question{},
		&models.Option{},
		&models.Attempt{},
		&models.AttemptAnswer{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	statements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_quiz_attempts_one_in_progress
			ON quiz_attempts (quiz_id, user_id)
			WHERE status = 'in_progress'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_options_question_uid
			ON options (question_id, uid)
			WHERE deleted_at IS NULL`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}
