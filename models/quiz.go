package models

import (
	"time"

	"gorm.io/gorm"
)

type Quiz struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	Title            string         `json:"title" gorm:"not null"`
	Description      string         `json:"description"`
	UserID           uint           `json:"user_id" gorm:"not null;index"`
	CourseID         *uint          `json:"course_id,omitempty" gorm:"index"`
	MaxAttempts      int            `json:"max_attempts" gorm:"not null;default:0"` // 0 = unlimited
	TimeLimitSeconds int            `json:"time_limit_seconds" gorm:"not null;default:0"`
	AccessCodeHash   string         `json:"-"`
	Archived         bool           `json:"archived" gorm:"not null;default:false"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:QuizID"`
}

// TotalPoints is the sum of all question weights.
func (q *Quiz) TotalPoints() float64 {
	total := 0.0
	for _, question := range q.Questions {
		total += question.Points
	}
	return total
}

// TimeLimit returns zero when the quiz is untimed.
func (q *Quiz) TimeLimit() time.Duration {
	if q.TimeLimitSeconds <= 0 {
		return 0
	}
	return time.Duration(q.TimeLimitSeconds) * time.Second
}

func (q *Quiz) UnlimitedAttempts() bool {
	return q.MaxAttempts <= 0
}

func (q *Quiz) HasAccessCode() bool {
	return q.AccessCodeHash != ""
}
