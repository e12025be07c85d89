package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AttemptAnswer struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	AttemptID     uuid.UUID      `json:"attempt_id" gorm:"type:uuid;not null;uniqueIndex:idx_attempt_answers_attempt_question"`
	QuestionID    uint           `json:"question_id" gorm:"not null;uniqueIndex:idx_attempt_answers_attempt_question"`
	Value         datatypes.JSON `json:"value" gorm:"type:jsonb;not null"`
	IsCorrect     *bool          `json:"is_correct,omitempty"`
	PointsAwarded *float64       `json:"points_awarded,omitempty"`
	Feedback      string         `json:"feedback,omitempty"`
	GradedBy      *uint          `json:"graded_by,omitempty"`
	GradedAt      *time.Time     `json:"graded_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Values decodes the stored answer list. A malformed value reads as unanswered.
func (a AttemptAnswer) Values() []string {
	values := []string{}
	if len(a.Value) == 0 {
		return values
	}
	if err := json.Unmarshal(a.Value, &values); err != nil {
		return []string{}
	}
	return values
}

func (a AttemptAnswer) IsGraded() bool {
	return a.PointsAwarded != nil
}

// EncodeValues builds the JSON column for an answer list; nil encodes as [].
func EncodeValues(values []string) datatypes.JSON {
	if values == nil {
		values = []string{}
	}
	data, _ := json.Marshal(values)
	return datatypes.JSON(data)
}
