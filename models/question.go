package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionShortAnswer    QuestionType = "short_answer"
)

func (t QuestionType) Valid() bool {
	return t == QuestionMultipleChoice || t == QuestionShortAnswer
}

type Question struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	QuizID          uint           `json:"quiz_id" gorm:"not null;index"`
	Text            string         `json:"text" gorm:"not null"`
	Type            QuestionType   `json:"type" gorm:"type:varchar(32);not null"`
	Points          float64        `json:"points" gorm:"not null;default:1"`
	Order           int            `json:"order" gorm:"column:position;not null"`
	AcceptedAnswers datatypes.JSON `json:"accepted_answers,omitempty" gorm:"type:jsonb"` // short_answer auto-match
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Options []Option `json:"options,omitempty" gorm:"foreignKey:QuestionID"`
}

// AcceptedAnswerList decodes AcceptedAnswers, treating a malformed column as empty.
func (q *Question) AcceptedAnswerList() []string {
	if len(q.AcceptedAnswers) == 0 {
		return nil
	}
	var answers []string
	if err := json.Unmarshal(q.AcceptedAnswers, &answers); err != nil {
		return nil
	}
	return answers
}
