package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AttemptStatus string

const (
	AttemptInProgress AttemptStatus = "in_progress"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptGraded     AttemptStatus = "graded"
	AttemptAbandoned  AttemptStatus = "abandoned"
)

// IsTerminal reports whether no student-driven transition may leave this status.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptCompleted || s == AttemptGraded || s == AttemptAbandoned
}

const (
	AbandonReasonExpired        = "expired"
	AbandonReasonAdministrative = "administrative"
)

type Attempt struct {
	ID                   uuid.UUID      `json:"id" gorm:"type:uuid;primaryKey"`
	QuizID               uint           `json:"quiz_id" gorm:"not null;index"`
	UserID               uint           `json:"user_id" gorm:"not null;index"`
	AttemptNumber        int            `json:"attempt_number" gorm:"not null"`
	Status               AttemptStatus  `json:"status" gorm:"type:varchar(20);not null;default:'in_progress';index"`
	StartedAt            time.Time      `json:"started_at" gorm:"not null"`
	ExpiresAt            *time.Time     `json:"expires_at,omitempty" gorm:"index"`
	SubmittedAt          *time.Time     `json:"submitted_at,omitempty"`
	GradedAt             *time.Time     `json:"graded_at,omitempty"`
	AbandonedAt          *time.Time     `json:"abandoned_at,omitempty"`
	AbandonReason        string         `json:"abandon_reason,omitempty" gorm:"type:varchar(32)"`
	TimeSpentSeconds     int            `json:"time_spent_seconds" gorm:"not null;default:0"`
	CurrentQuestionIndex int            `json:"current_question_index" gorm:"not null;default:0"`
	Snapshot             datatypes.JSON `json:"-" gorm:"type:jsonb;not null"`
	Score                float64        `json:"score" gorm:"not null;default:0"`
	MaxScore             float64        `json:"max_score" gorm:"not null;default:0"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`

	// Relationships
	Answers []AttemptAnswer `json:"answers,omitempty" gorm:"foreignKey:AttemptID"`
}

func (Attempt) TableName() string {
	return "quiz_attempts"
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the time limit has passed at now. Untimed attempts never expire.
func (a *Attempt) IsExpired(now time.Time) bool {
	return a.ExpiresAt != nil && now.After(*a.ExpiresAt)
}

// Questions decodes the question set frozen at start.
func (a *Attempt) Questions() ([]QuestionSnapshot, error) {
	var questions []QuestionSnapshot
	if len(a.Snapshot) == 0 {
		return questions, nil
	}
	if err := json.Unmarshal(a.Snapshot, &questions); err != nil {
		return nil, fmt.Errorf("invalid attempt snapshot: %w", err)
	}
	return questions, nil
}

func (a *Attempt) SetQuestions(questions []QuestionSnapshot) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt snapshot: %w", err)
	}
	a.Snapshot = datatypes.JSON(data)
	return nil
}

// AnswerMap indexes the stored answer rows by question id.
func (a *Attempt) AnswerMap() map[uint]AttemptAnswer {
	answers := make(map[uint]AttemptAnswer, len(a.Answers))
	for _, answer := range a.Answers {
		answers[answer.QuestionID] = answer
	}
	return answers
}

// ElapsedSeconds is the time spent so far, capped at the expiry instant.
func (a *Attempt) ElapsedSeconds(now time.Time) int {
	end := now
	if a.ExpiresAt != nil && end.After(*a.ExpiresAt) {
		end = *a.ExpiresAt
	}
	elapsed := int(end.Sub(a.StartedAt) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
