package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"lmsquiz/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuizService struct {
	db    *gorm.DB
	cache *QuizCache
}

func NewQuizService(db *gorm.DB, cache *QuizCache) *QuizService {
	return &QuizService{db: db, cache: cache}
}

type CreateQuizRequest struct {
	Title            string                  `json:"title" binding:"required,nonblank"`
	Description      string                  `json:"description"`
	CourseID         *uint                   `json:"course_id"`
	MaxAttempts      int                     `json:"max_attempts" binding:"min=0"`
	TimeLimitSeconds int                     `json:"time_limit_seconds" binding:"min=0"`
	AccessCode       string                  `json:"access_code"`
	Questions        []CreateQuestionRequest `json:"questions" binding:"required,min=1,dive"`
}

type CreateQuestionRequest struct {
	Text            string                `json:"text" binding:"required,nonblank"`
	Type            models.QuestionType   `json:"type" binding:"required,questiontype"`
	Points          float64               `json:"points" binding:"min=0"`
	Order           int                   `json:"order"`
	AcceptedAnswers []string              `json:"accepted_answers"`
	Options         []CreateOptionRequest `json:"options" binding:"dive"`
}

type CreateOptionRequest struct {
	UID       string `json:"uid"`
	Text      string `json:"text" binding:"required,nonblank"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

// UpdateQuizRequest leaves fields untouched when they are absent. An empty
// access code removes the code; a non-nil question list replaces all questions.
type UpdateQuizRequest struct {
	Title            string                  `json:"title"`
	Description      string                  `json:"description"`
	MaxAttempts      *int                    `json:"max_attempts" binding:"omitempty,min=0"`
	TimeLimitSeconds *int                    `json:"time_limit_seconds" binding:"omitempty,min=0"`
	AccessCode       *string                 `json:"access_code"`
	Questions        []CreateQuestionRequest `json:"questions" binding:"omitempty,min=1,dive"`
}

// StudentQuiz is the quiz as shown to someone taking it: no correct flags,
// accepted answers or access code hash.
type StudentQuiz struct {
	ID               uint              `json:"id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	CourseID         *uint             `json:"course_id,omitempty"`
	MaxAttempts      int               `json:"max_attempts"`
	TimeLimitSeconds int               `json:"time_limit_seconds"`
	HasAccessCode    bool              `json:"has_access_code"`
	TotalPoints      float64           `json:"total_points"`
	Questions        []StudentQuestion `json:"questions"`
}

type StudentQuestion struct {
	ID      uint                `json:"id"`
	Text    string              `json:"text"`
	Type    models.QuestionType `json:"type"`
	Points  float64             `json:"points"`
	Order   int                 `json:"order"`
	Options []StudentOption     `json:"options"`
}

type StudentOption struct {
	UID   string `json:"uid"`
	Text  string `json:"text"`
	Order int    `json:"order"`
}

func studentQuestions(snapshot []models.QuestionSnapshot) []StudentQuestion {
	questions := make([]StudentQuestion, 0, len(snapshot))
	for _, q := range snapshot {
		item := StudentQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Type:    q.Type,
			Points:  q.Points,
			Order:   q.Order,
			Options: make([]StudentOption, 0, len(q.Options)),
		}
		for _, opt := range q.Options {
			item.Options = append(item.Options, StudentOption{UID: opt.UID, Text: opt.Text, Order: opt.Order})
		}
		questions = append(questions, item)
	}
	return questions
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("position, id")
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("position, id")
}

func (s *QuizService) CreateQuiz(ctx context.Context, userID uint, req *CreateQuizRequest) (*models.Quiz, error) {
	if err := validateQuizFields(req.Title, req.MaxAttempts, req.TimeLimitSeconds); err != nil {
		return nil, err
	}
	questions, err := buildQuestions(req.Questions)
	if err != nil {
		return nil, err
	}

	quiz := models.Quiz{
		Title:            strings.TrimSpace(req.Title),
		Description:      req.Description,
		UserID:           userID,
		CourseID:         req.CourseID,
		MaxAttempts:      req.MaxAttempts,
		TimeLimitSeconds: req.TimeLimitSeconds,
	}
	if req.AccessCode != "" {
		hash, err := hashAccessCode(req.AccessCode)
		if err != nil {
			return nil, err
		}
		quiz.AccessCodeHash = hash
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Questions").Create(&quiz).Error; err != nil {
			return err
		}
		return createQuestions(tx, quiz.ID, questions)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("Quiz %d created by user %d with %d questions", quiz.ID, userID, len(questions))
	return s.GetQuizByID(ctx, quiz.ID, userID)
}

func (s *QuizService) GetUserQuizzes(ctx context.Context, userID uint) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		Order("created_at DESC").
		Find(&quizzes).Error
	return quizzes, err
}

// GetQuizByID is the owner view. Quizzes owned by someone else read as missing.
func (s *QuizService) GetQuizByID(ctx context.Context, quizID uint, userID uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", quizID, userID).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("quiz")
		}
		return nil, err
	}
	return &quiz, nil
}

func (s *QuizService) UpdateQuiz(ctx context.Context, quizID uint, userID uint, req *UpdateQuizRequest) (*models.Quiz, error) {
	quiz, err := s.GetQuizByID(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(req.Title) != "" {
		quiz.Title = strings.TrimSpace(req.Title)
	}
	if req.Description != "" {
		quiz.Description = req.Description
	}
	if req.MaxAttempts != nil {
		quiz.MaxAttempts = *req.MaxAttempts
	}
	if req.TimeLimitSeconds != nil {
		quiz.TimeLimitSeconds = *req.TimeLimitSeconds
	}
	if err := validateQuizFields(quiz.Title, quiz.MaxAttempts, quiz.TimeLimitSeconds); err != nil {
		return nil, err
	}
	if req.AccessCode != nil {
		quiz.AccessCodeHash = ""
		if *req.AccessCode != "" {
			hash, err := hashAccessCode(*req.AccessCode)
			if err != nil {
				return nil, err
			}
			quiz.AccessCodeHash = hash
		}
	}

	var questions []models.Question
	if req.Questions != nil {
		if questions, err = buildQuestions(req.Questions); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Questions").Save(quiz).Error; err != nil {
			return err
		}
		if req.Questions == nil {
			return nil
		}

		// Attempts keep their own snapshot, so replacing rows is safe.
		var questionIDs []uint
		if err := tx.Model(&models.Question{}).Where("quiz_id = ?", quizID).Pluck("id", &questionIDs).Error; err != nil {
			return err
		}
		if len(questionIDs) > 0 {
			if err := tx.Where("question_id IN ?", questionIDs).Delete(&models.Option{}).Error; err != nil {
				return err
			}
			if err := tx.Where("quiz_id = ?", quizID).Delete(&models.Question{}).Error; err != nil {
				return err
			}
		}
		return createQuestions(tx, quizID, questions)
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, quizID)
	return s.GetQuizByID(ctx, quizID, userID)
}

// ArchiveQuiz hides the quiz from new attempts. Attempts already in progress
// continue on their snapshot.
func (s *QuizService) ArchiveQuiz(ctx context.Context, quizID uint, userID uint) (*models.Quiz, error) {
	quiz, err := s.GetQuizByID(ctx, quizID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(quiz).Update("archived", true).Error; err != nil {
		return nil, err
	}
	quiz.Archived = true
	s.invalidate(ctx, quizID)
	return quiz, nil
}

func (s *QuizService) DeleteQuiz(ctx context.Context, quizID uint, userID uint) error {
	if _, err := s.GetQuizByID(ctx, quizID, userID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Quiz{}, quizID).Error; err != nil {
		return err
	}
	s.invalidate(ctx, quizID)
	return nil
}

// GetQuizForAttempt returns the live definition used to start an attempt.
// Missing, deleted and archived quizzes are all ErrNotFound.
func (s *QuizService) GetQuizForAttempt(ctx context.Context, quizID uint) (*models.Quiz, error) {
	if quiz, ok := s.cache.Get(ctx, quizID); ok {
		if quiz.Archived {
			return nil, notFound("quiz")
		}
		return quiz, nil
	}

	var quiz models.Quiz
	err := s.db.WithContext(ctx).Where("id = ?", quizID).
		Preload("Questions", orderedQuestions).
		Preload("Questions.Options", orderedOptions).
		First(&quiz).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("quiz")
		}
		return nil, err
	}
	if quiz.Archived {
		return nil, notFound("quiz")
	}

	if err := s.cache.Set(ctx, &quiz); err != nil {
		log.Printf("Failed to cache quiz %d: %v", quizID, err)
	}
	return &quiz, nil
}

func (s *QuizService) GetQuizForStudent(ctx context.Context, quizID uint) (*StudentQuiz, error) {
	quiz, err := s.GetQuizForAttempt(ctx, quizID)
	if err != nil {
		return nil, err
	}
	snapshot, err := models.SnapshotQuestions(quiz.Questions)
	if err != nil {
		return nil, notFound("quiz")
	}
	return &StudentQuiz{
		ID:               quiz.ID,
		Title:            quiz.Title,
		Description:      quiz.Description,
		CourseID:         quiz.CourseID,
		MaxAttempts:      quiz.MaxAttempts,
		TimeLimitSeconds: quiz.TimeLimitSeconds,
		HasAccessCode:    quiz.HasAccessCode(),
		TotalPoints:      quiz.TotalPoints(),
		Questions:        studentQuestions(snapshot),
	}, nil
}

// IsOwner reports whether userID authored the quiz, including deleted and
// archived quizzes.
func (s *QuizService) IsOwner(ctx context.Context, quizID uint, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Unscoped().Model(&models.Quiz{}).
		Where("id = ? AND user_id = ?", quizID, userID).
		Count(&count).Error
	return count > 0, err
}

func (s *QuizService) invalidate(ctx context.Context, quizID uint) {
	if err := s.cache.Invalidate(ctx, quizID); err != nil {
		log.Printf("Failed to invalidate cached quiz %d: %v", quizID, err)
	}
}

// VerifyAccessCode checks code against the quiz's access code, if it has one.
func VerifyAccessCode(quiz *models.Quiz, code string) error {
	if !quiz.HasAccessCode() {
		return nil
	}
	if code == "" {
		return ErrInvalidAccessCode
	}
	if err := bcrypt.CompareHashAndPassword([]byte(quiz.AccessCodeHash), []byte(code)); err != nil {
		return ErrInvalidAccessCode
	}
	return nil
}

func hashAccessCode(code string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func validateQuizFields(title string, maxAttempts, timeLimitSeconds int) error {
	if strings.TrimSpace(title) == "" {
		return invalidInput("title is required")
	}
	if maxAttempts < 0 {
		return invalidInput("max_attempts must not be negative")
	}
	if timeLimitSeconds < 0 {
		return invalidInput("time_limit_seconds must not be negative")
	}
	return nil
}

// buildQuestions validates the request and returns unsaved rows.
func buildQuestions(reqs []CreateQuestionRequest) ([]models.Question, error) {
	if len(reqs) == 0 {
		return nil, invalidInput("a quiz needs at least one question")
	}

	questions := make([]models.Question, 0, len(reqs))
	for i, qReq := range reqs {
		n := i + 1
		if strings.TrimSpace(qReq.Text) == "" {
			return nil, invalidInput("question %d: text is required", n)
		}
		if !qReq.Type.Valid() {
			return nil, invalidInput("question %d: unknown type %q", n, qReq.Type)
		}
		if qReq.Points < 0 {
			return nil, invalidInput("question %d: points must not be negative", n)
		}
		points := qReq.Points
		if points == 0 {
			points = 1
		}
		order := qReq.Order
		if order == 0 {
			order = n
		}

		question := models.Question{
			Text:   qReq.Text,
			Type:   qReq.Type,
			Points: points,
			Order:  order,
		}

		switch qReq.Type {
		case models.QuestionMultipleChoice:
			if len(qReq.Options) < 2 {
				return nil, invalidInput("question %d: multiple choice needs at least two options", n)
			}
			if len(qReq.AcceptedAnswers) > 0 {
				return nil, invalidInput("question %d: accepted answers only apply to short answer", n)
			}
			options, err := buildOptions(n, qReq.Options)
			if err != nil {
				return nil, err
			}
			question.Options = options
		case models.QuestionShortAnswer:
			if len(qReq.Options) > 0 {
				return nil, invalidInput("question %d: short answer takes no options", n)
			}
			accepted := make([]string, 0, len(qReq.AcceptedAnswers))
			for _, answer := range qReq.AcceptedAnswers {
				if answer = strings.TrimSpace(answer); answer != "" {
					accepted = append(accepted, answer)
				}
			}
			if len(accepted) > 0 {
				data, err := json.Marshal(accepted)
				if err != nil {
					return nil, err
				}
				question.AcceptedAnswers = datatypes.JSON(data)
			}
		}

		questions = append(questions, question)
	}
	return questions, nil
}

func buildOptions(questionNumber int, reqs []CreateOptionRequest) ([]models.Option, error) {
	seen := make(map[string]struct{}, len(reqs))
	correct := 0
	options := make([]models.Option, 0, len(reqs))
	for i, oReq := range reqs {
		if strings.TrimSpace(oReq.Text) == "" {
			return nil, invalidInput("question %d: option %d text is required", questionNumber, i+1)
		}
		uid := strings.TrimSpace(oReq.UID)
		if uid == "" {
			uid = uuid.NewString()
		}
		if len(uid) > 64 {
			return nil, invalidInput("question %d: option uid %q is too long", questionNumber, uid)
		}
		if _, dup := seen[uid]; dup {
			return nil, invalidInput("question %d: duplicate option uid %q", questionNumber, uid)
		}
		seen[uid] = struct{}{}
		if oReq.IsCorrect {
			correct++
		}
		order := oReq.Order
		if order == 0 {
			order = i + 1
		}
		options = append(options, models.Option{
			UID:       uid,
			Text:      oReq.Text,
			IsCorrect: oReq.IsCorrect,
			Order:     order,
		})
	}
	if correct == 0 {
		return nil, invalidInput("question %d: at least one option must be correct", questionNumber)
	}
	return options, nil
}

func createQuestions(tx *gorm.DB, quizID uint, questions []models.Question) error {
	for i := range questions {
		question := questions[i]
		options := question.Options
		question.QuizID = quizID
		question.Options = nil
		if err := tx.Create(&question).Error; err != nil {
			return err
		}
		for j := range options {
			options[j].QuestionID = question.ID
			if err := tx.Create(&options[j]).Error; err != nil {
				return err
			}
		}
	}
	return nil
}
