package services

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"lmsquiz/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Clock returns the current time. Services take one so expiry can be tested.
type Clock func() time.Time

type AttemptService struct {
	db      *gorm.DB
	quizzes *QuizService
	grading *GradingService
	hub     *Hub
	now     Clock
}

func NewAttemptService(db *gorm.DB, quizzes *QuizService, grading *GradingService, clock Clock) *AttemptService {
	if clock == nil {
		clock = time.Now
	}
	return &AttemptService{
		db:      db,
		quizzes: quizzes,
		grading: grading,
		now:     clock,
	}
}

// AttachHub sets the hub that receives attempt events. Without one, events
// are dropped.
func (s *AttemptService) AttachHub(hub *Hub) {
	s.hub = hub
}

type StartAttemptRequest struct {
	AccessCode string `json:"access_code"`
}

// NavigateRequest is the wire form of NavigateInput. The target index is a
// pointer so that zero can be told apart from a missing field.
type NavigateRequest struct {
	QuizID              uint     `json:"quiz_id"`
	CurrentQuestionID   uint     `json:"current_question_id"`
	CurrentAnswer       []string `json:"current_answer"`
	TargetQuestionIndex *int     `json:"target_question_index" binding:"required"`
	SaveAnswer          bool     `json:"save_answer"`
}

func (r NavigateRequest) Input() NavigateInput {
	input := NavigateInput{
		QuizID:            r.QuizID,
		CurrentQuestionID: r.CurrentQuestionID,
		CurrentAnswer:     r.CurrentAnswer,
		SaveAnswer:        r.SaveAnswer,
	}
	if r.TargetQuestionIndex != nil {
		input.TargetQuestionIndex = *r.TargetQuestionIndex
	}
	return input
}

type NavigateInput struct {
	// QuizID, when set, must match the attempt's quiz.
	QuizID              uint
	CurrentQuestionID   uint
	CurrentAnswer       []string
	TargetQuestionIndex int
	SaveAnswer          bool
}

type NavigateResult struct {
	Success              bool     `json:"success"`
	Message              string   `json:"message,omitempty"`
	TargetQuestionIndex  int      `json:"target_question_index"`
	TargetQuestionID     uint     `json:"target_question_id"`
	TargetQuestionAnswer []string `json:"target_question_answer"`
	AnsweredQuestions    []uint   `json:"answered_questions"`
}

type SubmitResult struct {
	Success bool                 `json:"success"`
	Message string               `json:"message"`
	Status  models.AttemptStatus `json:"status"`
}

// AttemptView is an attempt as its owner sees it while taking the quiz.
type AttemptView struct {
	ID                   uuid.UUID            `json:"id"`
	QuizID               uint                 `json:"quiz_id"`
	AttemptNumber        int                  `json:"attempt_number"`
	Status               models.AttemptStatus `json:"status"`
	StartedAt            time.Time            `json:"started_at"`
	ExpiresAt            *time.Time           `json:"expires_at,omitempty"`
	SubmittedAt          *time.Time           `json:"submitted_at,omitempty"`
	AbandonReason        string               `json:"abandon_reason,omitempty"`
	RemainingSeconds     *int                 `json:"remaining_seconds,omitempty"`
	TimeSpentSeconds     int                  `json:"time_spent_seconds"`
	CurrentQuestionIndex int                  `json:"current_question_index"`
	Questions            []StudentQuestion    `json:"questions"`
	Answers              map[uint][]string    `json:"answers"`
	AnsweredQuestions    []uint               `json:"answered_questions"`
}

// StartAttempt resumes the caller's in-progress attempt or creates a new one.
// The bool result reports a resume.
func (s *AttemptService) StartAttempt(ctx context.Context, quizID uint, userID uint, accessCode string) (*AttemptView, bool, error) {
	now := s.now()

	quiz, err := s.quizzes.GetQuizForAttempt(ctx, quizID)
	if err != nil {
		return nil, false, err
	}

	existing, err := s.findInProgress(ctx, quizID, userID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !existing.IsExpired(now) {
			log.Printf("Attempt %s resumed by user %d", existing.ID, userID)
			view, err := s.view(existing, now)
			return view, true, err
		}
		if _, err := s.AbandonExpired(ctx, existing); err != nil {
			return nil, false, err
		}
	}

	if err := VerifyAccessCode(quiz, accessCode); err != nil {
		return nil, false, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("quiz_id = ? AND user_id = ?", quizID, userID).
		Count(&count).Error; err != nil {
		return nil, false, err
	}
	if !quiz.UnlimitedAttempts() && count >= int64(quiz.MaxAttempts) {
		return nil, false, ErrMaxAttemptsReached
	}

	snapshot, err := models.SnapshotQuestions(quiz.Questions)
	if err != nil {
		return nil, false, ErrNoQuestions
	}

	attempt := models.Attempt{
		QuizID:        quizID,
		UserID:        userID,
		AttemptNumber: int(count) + 1,
		Status:        models.AttemptInProgress,
		StartedAt:     now,
	}
	if limit := quiz.TimeLimit(); limit > 0 {
		expiresAt := now.Add(limit)
		attempt.ExpiresAt = &expiresAt
	}
	for _, q := range snapshot {
		attempt.MaxScore += q.Points
	}
	if err := attempt.SetQuestions(snapshot); err != nil {
		return nil, false, err
	}

	if err := s.db.WithContext(ctx).Omit("Answers").Create(&attempt).Error; err != nil {
		// A concurrent start for the same quiz and user won the unique index.
		winner, findErr := s.findInProgress(ctx, quizID, userID)
		if findErr == nil && winner != nil {
			log.Printf("Attempt start raced for quiz %d user %d, resuming %s", quizID, userID, winner.ID)
			view, err := s.view(winner, now)
			return view, true, err
		}
		return nil, false, err
	}

	log.Printf("Attempt %s started for quiz %d by user %d (attempt #%d)", attempt.ID, quizID, userID, attempt.AttemptNumber)
	view, err := s.view(&attempt, now)
	return view, false, err
}

// Navigate optionally saves the answer for the question being left, moves to
// the target question and returns its saved answer with the answered set.
func (s *AttemptService) Navigate(ctx context.Context, attemptID uuid.UUID, userID uint, input NavigateInput) (*NavigateResult, error) {
	now := s.now()

	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if input.QuizID != 0 && input.QuizID != attempt.QuizID {
		return nil, notFound("attempt")
	}
	if err := s.ensureActive(ctx, attempt, now); err != nil {
		return nil, err
	}

	questions, err := attempt.Questions()
	if err != nil {
		return nil, err
	}
	if input.TargetQuestionIndex < 0 || input.TargetQuestionIndex >= len(questions) {
		return nil, ErrOutOfRange
	}
	target := questions[input.TargetQuestionIndex]

	var saved models.Answer
	if input.SaveAnswer {
		idx := models.QuestionIndex(questions, input.CurrentQuestionID)
		if idx < 0 {
			return nil, invalidInput("current_question_id %d is not a question of this attempt", input.CurrentQuestionID)
		}
		if saved, err = normalizeAnswer(questions[idx], input.CurrentAnswer); err != nil {
			return nil, err
		}
	}

	var answers []models.AttemptAnswer
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Attempt{}).
			Where("id = ? AND status = ?", attempt.ID, models.AttemptInProgress).
			Updates(map[string]interface{}{
				"current_question_index": input.TargetQuestionIndex,
				"time_spent_seconds":     attempt.ElapsedSeconds(now),
				"updated_at":             now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.currentStateError(tx, attempt.ID)
		}

		if saved != nil {
			row := models.AttemptAnswer{
				AttemptID:  attempt.ID,
				QuestionID: input.CurrentQuestionID,
				Value:      models.EncodeValues(saved.Values()),
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
		}

		return tx.Where("attempt_id = ?", attempt.ID).Find(&answers).Error
	})
	if err != nil {
		return nil, err
	}

	attempt.Answers = answers
	answerMap := attempt.AnswerMap()
	answered := answeredQuestions(questions, answerMap)

	result := &NavigateResult{
		Success:              true,
		TargetQuestionIndex:  input.TargetQuestionIndex,
		TargetQuestionID:     target.ID,
		TargetQuestionAnswer: storedAnswer(target, answerMap),
		AnsweredQuestions:    answered,
	}

	s.hub.BroadcastToAttempt(attempt.ID, "answers_synced", map[string]interface{}{
		"current_question_index": input.TargetQuestionIndex,
		"answered_questions":     answered,
	})
	return result, nil
}

// Submit moves an in-progress attempt to completed and grades what can be
// graded automatically. A second submit fails without changing anything.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, userID uint) (*SubmitResult, error) {
	now := s.now()

	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureActive(ctx, attempt, now); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Attempt{}).
			Where("id = ? AND status = ?", attempt.ID, models.AttemptInProgress).
			Updates(map[string]interface{}{
				"status":             models.AttemptCompleted,
				"submitted_at":       now,
				"time_spent_seconds": attempt.ElapsedSeconds(now),
				"updated_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.currentStateError(tx, attempt.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Printf("Attempt %s submitted by user %d", attempt.ID, userID)

	status := models.AttemptCompleted
	if s.grading != nil {
		result, err := s.grading.GradeAttempt(ctx, attempt.ID)
		if err != nil {
			log.Printf("Auto-grading failed for attempt %s: %v", attempt.ID, err)
		} else {
			status = result.Status
		}
	}

	s.hub.BroadcastToAttempt(attempt.ID, "attempt_submitted", map[string]interface{}{
		"status": status,
	})

	return &SubmitResult{
		Success: true,
		Message: "Quiz submitted successfully",
		Status:  status,
	}, nil
}

// Abandon is the administrative abandon available to the quiz owner.
func (s *AttemptService) Abandon(ctx context.Context, attemptID uuid.UUID, ownerID uint) (*models.Attempt, error) {
	attempt, err := s.load(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}
	isOwner, err := s.quizzes.IsOwner(ctx, attempt.QuizID, ownerID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, ErrNotOwner
	}
	if attempt.Status != models.AttemptInProgress {
		return nil, stateError(attempt.Status)
	}

	changed, err := s.abandon(ctx, attempt, models.AbandonReasonAdministrative, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		var current models.Attempt
		if err := s.db.WithContext(ctx).Select("status").Where("id = ?", attempt.ID).First(&current).Error; err != nil {
			return nil, err
		}
		return nil, stateError(current.Status)
	}
	return attempt, nil
}

// AbandonExpired abandons an in-progress attempt whose time limit has passed.
// It reports whether this call made the transition.
func (s *AttemptService) AbandonExpired(ctx context.Context, attempt *models.Attempt) (bool, error) {
	now := s.now()
	if attempt.Status != models.AttemptInProgress || !attempt.IsExpired(now) {
		return false, nil
	}
	return s.abandon(ctx, attempt, models.AbandonReasonExpired, now)
}

// GetAttempt returns the caller's attempt. An expired in-progress attempt is
// abandoned on read.
func (s *AttemptService) GetAttempt(ctx context.Context, attemptID uuid.UUID, userID uint) (*AttemptView, error) {
	now := s.now()
	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	if attempt.Status == models.AttemptInProgress && attempt.IsExpired(now) {
		if _, err := s.AbandonExpired(ctx, attempt); err != nil {
			return nil, err
		}
		if attempt, err = s.loadOwned(ctx, attemptID, userID); err != nil {
			return nil, err
		}
	}
	return s.view(attempt, now)
}

// GetResult is the results view of a submitted attempt.
func (s *AttemptService) GetResult(ctx context.Context, attemptID uuid.UUID, userID uint) (*AttemptResult, error) {
	attempt, err := s.loadOwned(ctx, attemptID, userID)
	if err != nil {
		return nil, err
	}
	switch attempt.Status {
	case models.AttemptCompleted, models.AttemptGraded:
		return buildResult(attempt)
	case models.AttemptAbandoned:
		return nil, withStatus(ErrAttemptAbandoned, attempt.Status)
	default:
		return nil, ErrNotSubmitted
	}
}

// GetAttemptForReview lets the quiz owner read any attempt without changing it.
func (s *AttemptService) GetAttemptForReview(ctx context.Context, attemptID uuid.UUID, ownerID uint) (*AttemptResult, error) {
	attempt, err := s.load(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}
	isOwner, err := s.quizzes.IsOwner(ctx, attempt.QuizID, ownerID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, ErrNotOwner
	}
	return buildResult(attempt)
}

func (s *AttemptService) ListUserAttempts(ctx context.Context, userID uint, quizID uint) ([]models.Attempt, error) {
	var attempts []models.Attempt
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if quizID != 0 {
		query = query.Where("quiz_id = ?", quizID)
	}
	err := query.Order("started_at DESC").Find(&attempts).Error
	return attempts, err
}

func (s *AttemptService) ListQuizAttempts(ctx context.Context, quizID uint, ownerID uint) ([]models.Attempt, error) {
	isOwner, err := s.quizzes.IsOwner(ctx, quizID, ownerID)
	if err != nil {
		return nil, err
	}
	if !isOwner {
		return nil, notFound("quiz")
	}

	var attempts []models.Attempt
	err = s.db.WithContext(ctx).Where("quiz_id = ?", quizID).
		Order("started_at DESC").
		Find(&attempts).Error
	return attempts, err
}

// ExpiredAttempts lists in-progress attempts whose time limit passed before now.
func (s *AttemptService) ExpiredAttempts(ctx context.Context, now time.Time, limit int) ([]models.Attempt, error) {
	var attempts []models.Attempt
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", models.AttemptInProgress, now).
		Order("expires_at").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

func (s *AttemptService) abandon(ctx context.Context, attempt *models.Attempt, reason string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("id = ? AND status = ?", attempt.ID, models.AttemptInProgress).
		Updates(map[string]interface{}{
			"status":             models.AttemptAbandoned,
			"abandoned_at":       now,
			"abandon_reason":     reason,
			"time_spent_seconds": attempt.ElapsedSeconds(now),
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	attempt.Status = models.AttemptAbandoned
	attempt.AbandonedAt = &now
	attempt.AbandonReason = reason
	log.Printf("Attempt %s abandoned (%s)", attempt.ID, reason)

	s.hub.BroadcastToAttempt(attempt.ID, "attempt_abandoned", map[string]interface{}{
		"status": models.AttemptAbandoned,
		"reason": reason,
	})
	return true, nil
}

// ensureActive rejects terminal attempts and abandons expired ones.
func (s *AttemptService) ensureActive(ctx context.Context, attempt *models.Attempt, now time.Time) error {
	if attempt.Status != models.AttemptInProgress {
		return stateError(attempt.Status)
	}
	if attempt.IsExpired(now) {
		if _, err := s.abandon(ctx, attempt, models.AbandonReasonExpired, now); err != nil {
			log.Printf("Failed to abandon expired attempt %s: %v", attempt.ID, err)
		}
		return withStatus(newError(ErrExpired, ErrExpired.Error()), models.AttemptAbandoned)
	}
	return nil
}

func (s *AttemptService) currentStateError(tx *gorm.DB, attemptID uuid.UUID) error {
	var current models.Attempt
	if err := tx.Select("status").Where("id = ?", attemptID).First(&current).Error; err != nil {
		return err
	}
	return stateError(current.Status)
}

func stateError(status models.AttemptStatus) error {
	switch status {
	case models.AttemptCompleted, models.AttemptGraded:
		return withStatus(ErrAlreadySubmitted, status)
	case models.AttemptAbandoned:
		return withStatus(ErrAttemptAbandoned, status)
	default:
		return ErrInvalidState
	}
}

func (s *AttemptService) findInProgress(ctx context.Context, quizID uint, userID uint) (*models.Attempt, error) {
	var attempt models.Attempt
	err := s.db.WithContext(ctx).
		Where("quiz_id = ? AND user_id = ? AND status = ?", quizID, userID, models.AttemptInProgress).
		Preload("Answers").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (s *AttemptService) load(ctx context.Context, db *gorm.DB, attemptID uuid.UUID) (*models.Attempt, error) {
	var attempt models.Attempt
	err := db.WithContext(ctx).Where("id = ?", attemptID).Preload("Answers").First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("attempt")
		}
		return nil, err
	}
	return &attempt, nil
}

func (s *AttemptService) loadOwned(ctx context.Context, attemptID uuid.UUID, userID uint) (*models.Attempt, error) {
	attempt, err := s.load(ctx, s.db, attemptID)
	if err != nil {
		return nil, err
	}
	if attempt.UserID != userID {
		return nil, ErrNotOwner
	}
	return attempt, nil
}

func (s *AttemptService) view(attempt *models.Attempt, now time.Time) (*AttemptView, error) {
	questions, err := attempt.Questions()
	if err != nil {
		return nil, err
	}
	answerMap := attempt.AnswerMap()

	view := &AttemptView{
		ID:                   attempt.ID,
		QuizID:               attempt.QuizID,
		AttemptNumber:        attempt.AttemptNumber,
		Status:               attempt.Status,
		StartedAt:            attempt.StartedAt,
		ExpiresAt:            attempt.ExpiresAt,
		SubmittedAt:          attempt.SubmittedAt,
		AbandonReason:        attempt.AbandonReason,
		TimeSpentSeconds:     attempt.TimeSpentSeconds,
		CurrentQuestionIndex: attempt.CurrentQuestionIndex,
		Questions:            studentQuestions(questions),
		Answers:              make(map[uint][]string, len(answerMap)),
		AnsweredQuestions:    answeredQuestions(questions, answerMap),
	}
	for id, answer := range answerMap {
		view.Answers[id] = answer.Values()
	}
	if attempt.Status == models.AttemptInProgress {
		view.TimeSpentSeconds = attempt.ElapsedSeconds(now)
		if attempt.ExpiresAt != nil {
			remaining := int(attempt.ExpiresAt.Sub(now) / time.Second)
			if remaining < 0 {
				remaining = 0
			}
			view.RemainingSeconds = &remaining
		}
	}
	return view, nil
}

// normalizeAnswer decodes values for q and rejects option uids q does not have.
func normalizeAnswer(q models.QuestionSnapshot, values []string) (models.Answer, error) {
	answer, err := models.DecodeAnswer(q.Type, values)
	if err != nil {
		return nil, ErrInvalidAnswer
	}
	if selection, ok := answer.(models.MultipleChoiceSelection); ok {
		for _, uid := range selection.OptionUIDs {
			if !q.HasOption(uid) {
				return nil, ErrInvalidAnswer
			}
		}
	}
	return answer, nil
}

// answeredQuestions lists, in id order, the snapshot questions whose stored
// answer counts as answered.
func answeredQuestions(questions []models.QuestionSnapshot, answers map[uint]models.AttemptAnswer) []uint {
	answered := []uint{}
	for _, q := range questions {
		if answer, ok := answers[q.ID]; ok && models.IsAnswered(answer.Values()) {
			answered = append(answered, q.ID)
		}
	}
	sort.Slice(answered, func(i, j int) bool { return answered[i] < answered[j] })
	return answered
}

// storedAnswer returns the saved answer for q, or the empty default for its type.
func storedAnswer(q models.QuestionSnapshot, answers map[uint]models.AttemptAnswer) []string {
	if answer, ok := answers[q.ID]; ok {
		if decoded, err := models.DecodeAnswer(q.Type, answer.Values()); err == nil {
			return decoded.Values()
		}
	}
	return models.EmptyAnswer(q.Type).Values()
}
