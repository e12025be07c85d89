package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"lmsquiz/config"
	"lmsquiz/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	ownerID   uint = 1
	studentID uint = 2
	otherID   uint = 3
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db       *gorm.DB
	clock    *fakeClock
	redis    *redis.Client
	mr       *miniredis.Miniredis
	quizzes  *QuizService
	grading  *GradingService
	attempts *AttemptService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, config.Migrate(db))
	return db
}

// newTestEnv wires the services over SQLite. withRedis adds a miniredis
// backed quiz cache.
func newTestEnv(t *testing.T, withRedis bool) *testEnv {
	t.Helper()
	env := &testEnv{db: newTestDB(t), clock: newFakeClock()}

	if withRedis {
		env.mr = miniredis.RunT(t)
		env.redis = redis.NewClient(&redis.Options{Addr: env.mr.Addr()})
		t.Cleanup(func() { env.redis.Close() })
	}

	env.quizzes = NewQuizService(env.db, NewQuizCache(env.redis, time.Minute))
	env.grading = NewGradingService(env.db, env.clock.Now)
	env.attempts = NewAttemptService(env.db, env.quizzes, env.grading, env.clock.Now)
	return env
}

// threeQuestionQuiz has two multiple choice questions and one short answer.
func threeQuestionQuiz() *CreateQuizRequest {
	return &CreateQuizRequest{
		Title: "Geography",
		Questions: []CreateQuestionRequest{
			{
				Text:   "Pick B",
				Type:   models.QuestionMultipleChoice,
				Points: 1,
				Order:  1,
				Options: []CreateOptionRequest{
					{UID: "A", Text: "Option A"},
					{UID: "B", Text: "Option B", IsCorrect: true},
					{UID: "opt-2", Text: "Option C"},
				},
			},
			{
				Text:   "Pick x and y",
				Type:   models.QuestionMultipleChoice,
				Points: 2,
				Order:  2,
				Options: []CreateOptionRequest{
					{UID: "x", Text: "X", IsCorrect: true},
					{UID: "y", Text: "Y", IsCorrect: true},
					{UID: "z", Text: "Z"},
				},
			},
			{
				Text:            "Capital of France",
				Type:            models.QuestionShortAnswer,
				Points:          3,
				Order:           3,
				AcceptedAnswers: []string{"Paris"},
			},
		},
	}
}

func (env *testEnv) createQuiz(t *testing.T, mutate func(*CreateQuizRequest)) *models.Quiz {
	t.Helper()
	req := threeQuestionQuiz()
	if mutate != nil {
		mutate(req)
	}
	quiz, err := env.quizzes.CreateQuiz(context.Background(), ownerID, req)
	require.NoError(t, err)
	require.Len(t, quiz.Questions, len(req.Questions))
	return quiz
}

func (env *testEnv) start(t *testing.T, quizID uint) *AttemptView {
	t.Helper()
	view, _, err := env.attempts.StartAttempt(context.Background(), quizID, studentID, "")
	require.NoError(t, err)
	return view
}

func (env *testEnv) reload(t *testing.T, view *AttemptView) *models.Attempt {
	t.Helper()
	var attempt models.Attempt
	require.NoError(t, env.db.Preload("Answers").First(&attempt, "id = ?", view.ID).Error)
	return &attempt
}

func questionID(view *AttemptView, idx int) uint {
	return view.Questions[idx].ID
}
