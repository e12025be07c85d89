package services

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"lmsquiz/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type GradingService struct {
	db  *gorm.DB
	now Clock
}

func NewGradingService(db *gorm.DB, clock Clock) *GradingService {
	if clock == nil {
		clock = time.Now
	}
	return &GradingService{db: db, now: clock}
}

type GradeAnswerRequest struct {
	Points   *float64 `json:"points" binding:"required,min=0"`
	Feedback string   `json:"feedback"`
}

type QuestionResult struct {
	QuestionID        uint                    `json:"question_id"`
	Text              string                  `json:"text"`
	Type              models.QuestionType     `json:"type"`
	Points            float64                 `json:"points"`
	Answer            []string                `json:"answer"`
	Answered          bool                    `json:"answered"`
	Options           []models.OptionSnapshot `json:"options,omitempty"`
	CorrectOptionUIDs []string                `json:"correct_option_uids,omitempty"`
	AcceptedAnswers   []string                `json:"accepted_answers,omitempty"`
	IsCorrect         *bool                   `json:"is_correct,omitempty"`
	PointsAwarded     *float64                `json:"points_awarded,omitempty"`
	Feedback          string                  `json:"feedback,omitempty"`
	Pending           bool                    `json:"pending"`
}

type AttemptResult struct {
	AttemptID   uuid.UUID            `json:"attempt_id"`
	QuizID      uint                 `json:"quiz_id"`
	UserID      uint                 `json:"user_id"`
	Status      models.AttemptStatus `json:"status"`
	Score       float64              `json:"score"`
	MaxScore    float64              `json:"max_score"`
	Percent     float64              `json:"percent"`
	Pending     int                  `json:"pending"`
	SubmittedAt *time.Time           `json:"submitted_at,omitempty"`
	GradedAt    *time.Time           `json:"graded_at,omitempty"`
	Questions   []QuestionResult     `json:"questions"`
}

// GradeAttempt auto-grades a completed attempt. Manual grades already given
// are kept. When nothing is left for a human the attempt becomes graded.
// Grading a graded attempt returns its result unchanged.
func (s *GradingService) GradeAttempt(ctx context.Context, attemptID uuid.UUID) (*AttemptResult, error) {
	now := s.now()

	var attempt models.Attempt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadAttemptTx(tx, attemptID, &attempt); err != nil {
			return err
		}
		switch attempt.Status {
		case models.AttemptGraded:
			return nil
		case models.AttemptCompleted:
		default:
			return ErrNotGradable
		}

		questions, err := attempt.Questions()
		if err != nil {
			return err
		}
		answers := attempt.AnswerMap()
		for _, q := range questions {
			answer, exists := answers[q.ID]
			if exists && answer.IsGraded() {
				continue
			}
			values := answer.Values()
			if !models.IsAnswered(values) {
				// Nothing to review: unanswered questions score zero.
				if err := storeGrade(tx, attempt.ID, q, exists, 0, nil, "", now); err != nil {
					return err
				}
				continue
			}
			correct, gradable := autoGrade(q, values)
			if !gradable {
				continue
			}
			points := 0.0
			if correct {
				points = q.Points
			}
			if err := storeGrade(tx, attempt.ID, q, exists, points, nil, "", now); err != nil {
				return err
			}
		}

		return finalize(tx, &attempt, now)
	})
	if err != nil {
		return nil, err
	}
	return buildResult(&attempt)
}

// GradeAnswer records a manual grade from the quiz owner for one question of
// a completed attempt.
func (s *GradingService) GradeAnswer(ctx context.Context, attemptID uuid.UUID, questionID uint, graderID uint, req *GradeAnswerRequest) (*AttemptResult, error) {
	now := s.now()
	if req.Points == nil {
		return nil, invalidInput("points are required")
	}
	points := *req.Points

	var attempt models.Attempt
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadAttemptTx(tx, attemptID, &attempt); err != nil {
			return err
		}

		var count int64
		if err := tx.Unscoped().Model(&models.Quiz{}).
			Where("id = ? AND user_id = ?", attempt.QuizID, graderID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotOwner
		}
		if attempt.Status != models.AttemptCompleted {
			return ErrNotGradable
		}

		questions, err := attempt.Questions()
		if err != nil {
			return err
		}
		idx := models.QuestionIndex(questions, questionID)
		if idx < 0 {
			return notFound("question")
		}
		q := questions[idx]
		if points < 0 || points > q.Points {
			return invalidInput("points must be between 0 and %g", q.Points)
		}

		_, exists := attempt.AnswerMap()[questionID]
		if err := storeGrade(tx, attempt.ID, q, exists, points, &graderID, req.Feedback, now); err != nil {
			return err
		}
		return finalize(tx, &attempt, now)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Question %d of attempt %s graded by user %d: %g points", questionID, attemptID, graderID, points)
	return buildResult(&attempt)
}

func loadAttemptTx(tx *gorm.DB, attemptID uuid.UUID, attempt *models.Attempt) error {
	err := tx.Where("id = ?", attemptID).Preload("Answers").First(attempt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound("attempt")
	}
	return err
}

// autoGrade reports whether values are correct for q, and whether q could be
// graded without a human at all.
func autoGrade(q models.QuestionSnapshot, values []string) (correct bool, gradable bool) {
	switch q.Type {
	case models.QuestionMultipleChoice:
		selection := models.NewMultipleChoiceSelection(values...)
		return selection.SameSet(q.CorrectOptionUIDs()), true
	case models.QuestionShortAnswer:
		if len(q.AcceptedAnswers) == 0 {
			return false, false
		}
		given := strings.TrimSpace(strings.Join(values, " "))
		for _, accepted := range q.AcceptedAnswers {
			if strings.EqualFold(given, strings.TrimSpace(accepted)) {
				return true, true
			}
		}
		return false, true
	default:
		return false, false
	}
}

func storeGrade(tx *gorm.DB, attemptID uuid.UUID, q models.QuestionSnapshot, exists bool, points float64, graderID *uint, feedback string, now time.Time) error {
	isCorrect := points >= q.Points && q.Points > 0
	if !exists {
		row := models.AttemptAnswer{
			AttemptID:     attemptID,
			QuestionID:    q.ID,
			Value:         models.EncodeValues(models.EmptyAnswer(q.Type).Values()),
			IsCorrect:     &isCorrect,
			PointsAwarded: &points,
			Feedback:      feedback,
			GradedBy:      graderID,
			GradedAt:      &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return tx.Create(&row).Error
	}
	return tx.Model(&models.AttemptAnswer{}).
		Where("attempt_id = ? AND question_id = ?", attemptID, q.ID).
		Updates(map[string]interface{}{
			"is_correct":     isCorrect,
			"points_awarded": points,
			"feedback":       feedback,
			"graded_by":      graderID,
			"graded_at":      now,
			"updated_at":     now,
		}).Error
}

// finalize reloads answers, stores the score and moves the attempt to graded
// once every question has a grade.
func finalize(tx *gorm.DB, attempt *models.Attempt, now time.Time) error {
	var answers []models.AttemptAnswer
	if err := tx.Where("attempt_id = ?", attempt.ID).Find(&answers).Error; err != nil {
		return err
	}
	attempt.Answers = answers

	questions, err := attempt.Questions()
	if err != nil {
		return err
	}
	score, maxScore, pending := tally(questions, attempt.AnswerMap())

	updates := map[string]interface{}{
		"score":      score,
		"max_score":  maxScore,
		"updated_at": now,
	}
	if pending == 0 {
		updates["status"] = models.AttemptGraded
		updates["graded_at"] = now
	}
	res := tx.Model(&models.Attempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.AttemptCompleted).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotGradable
	}

	attempt.Score = score
	attempt.MaxScore = maxScore
	if pending == 0 {
		attempt.Status = models.AttemptGraded
		attempt.GradedAt = &now
		log.Printf("Attempt %s graded: %g/%g", attempt.ID, score, maxScore)
	}
	return nil
}

func tally(questions []models.QuestionSnapshot, answers map[uint]models.AttemptAnswer) (score, maxScore float64, pending int) {
	for _, q := range questions {
		maxScore += q.Points
		answer, ok := answers[q.ID]
		if !ok || !answer.IsGraded() {
			pending++
			continue
		}
		score += *answer.PointsAwarded
	}
	return score, maxScore, pending
}

func buildResult(attempt *models.Attempt) (*AttemptResult, error) {
	questions, err := attempt.Questions()
	if err != nil {
		return nil, err
	}
	answers := attempt.AnswerMap()
	score, maxScore, pending := tally(questions, answers)

	result := &AttemptResult{
		AttemptID:   attempt.ID,
		QuizID:      attempt.QuizID,
		UserID:      attempt.UserID,
		Status:      attempt.Status,
		Score:       score,
		MaxScore:    maxScore,
		Pending:     pending,
		SubmittedAt: attempt.SubmittedAt,
		GradedAt:    attempt.GradedAt,
		Questions:   make([]QuestionResult, 0, len(questions)),
	}
	if maxScore > 0 {
		result.Percent = score / maxScore * 100
	}

	for _, q := range questions {
		item := QuestionResult{
			QuestionID:      q.ID,
			Text:            q.Text,
			Type:            q.Type,
			Points:          q.Points,
			Answer:          storedAnswer(q, answers),
			Options:         q.Options,
			AcceptedAnswers: q.AcceptedAnswers,
			Pending:         true,
		}
		if q.Type == models.QuestionMultipleChoice {
			item.CorrectOptionUIDs = q.CorrectOptionUIDs()
		}
		if answer, ok := answers[q.ID]; ok {
			item.Answered = models.IsAnswered(answer.Values())
			item.IsCorrect = answer.IsCorrect
			item.PointsAwarded = answer.PointsAwarded
			item.Feedback = answer.Feedback
			item.Pending = !answer.IsGraded()
		}
		result.Questions = append(result.Questions, item)
	}
	return result, nil
}
