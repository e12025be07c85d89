package services

import (
	"context"
	"errors"
	"testing"

	"lmsquiz/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateQuizValidation(t *testing.T) {
	env := newTestEnv(t, false)

	cases := []struct {
		name   string
		mutate func(*CreateQuizRequest)
	}{
		{"blank title", func(r *CreateQuizRequest) { r.Title = "  " }},
		{"no questions", func(r *CreateQuizRequest) { r.Questions = nil }},
		{"negative attempts", func(r *CreateQuizRequest) { r.MaxAttempts = -1 }},
		{"negative time limit", func(r *CreateQuizRequest) { r.TimeLimitSeconds = -5 }},
		{"unknown type", func(r *CreateQuizRequest) { r.Questions[0].Type = "essay" }},
		{"one option", func(r *CreateQuizRequest) { r.Questions[0].Options = r.Questions[0].Options[:1] }},
		{"no correct option", func(r *CreateQuizRequest) {
			for i := range r.Questions[0].Options {
				r.Questions[0].Options[i].IsCorrect = false
			}
		}},
		{"duplicate uid", func(r *CreateQuizRequest) { r.Questions[0].Options[1].UID = "A" }},
		{"short answer with options", func(r *CreateQuizRequest) {
			r.Questions[2].Options = []CreateOptionRequest{{Text: "nope"}}
		}},
		{"accepted answers on multiple choice", func(r *CreateQuizRequest) {
			r.Questions[0].AcceptedAnswers = []string{"B"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := threeQuestionQuiz()
			tc.mutate(req)
			_, err := env.quizzes.CreateQuiz(context.Background(), ownerID, req)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
}

func TestCreateQuizDefaultsAndUIDs(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, func(r *CreateQuizRequest) {
		r.Questions[1].Points = 0
		r.Questions[1].Options[0].UID = ""
		r.AccessCode = "code"
	})

	assert.Equal(t, "Geography", quiz.Title)
	assert.Equal(t, 1.0, quiz.Questions[1].Points)
	assert.NotEmpty(t, quiz.Questions[1].Options[0].UID)
	assert.NotEqual(t, "code", quiz.AccessCodeHash)
	assert.True(t, quiz.HasAccessCode())
	assert.Equal(t, []string{"Paris"}, quiz.Questions[2].AcceptedAnswerList())
}

func TestQuizOwnership(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)

	_, err := env.quizzes.GetQuizByID(context.Background(), quiz.ID, studentID)
	assert.Equal(t, KindNotFound, ErrorKind(err))

	err = env.quizzes.DeleteQuiz(context.Background(), quiz.ID, studentID)
	assert.Equal(t, KindNotFound, ErrorKind(err))

	quizzes, err := env.quizzes.GetUserQuizzes(context.Background(), ownerID)
	require.NoError(t, err)
	assert.Len(t, quizzes, 1)

	owner, err := env.quizzes.IsOwner(context.Background(), quiz.ID, ownerID)
	require.NoError(t, err)
	assert.True(t, owner)
}

func TestUpdateQuizReplacesQuestions(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)

	maxAttempts := 2
	updated, err := env.quizzes.UpdateQuiz(context.Background(), quiz.ID, ownerID, &UpdateQuizRequest{
		Title:       "Geography II",
		MaxAttempts: &maxAttempts,
		Questions: []CreateQuestionRequest{{
			Text: "Pick one", Type: models.QuestionMultipleChoice, Points: 1,
			Options: []CreateOptionRequest{{UID: "A", Text: "A", IsCorrect: true}, {UID: "B", Text: "B"}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Geography II", updated.Title)
	assert.Equal(t, 2, updated.MaxAttempts)
	require.Len(t, updated.Questions, 1)
	assert.Len(t, updated.Questions[0].Options, 2)
}

func TestDeleteQuizHidesItFromStudents(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)

	require.NoError(t, env.quizzes.DeleteQuiz(context.Background(), quiz.ID, ownerID))
	_, err := env.quizzes.GetQuizForStudent(context.Background(), quiz.ID)
	assert.Equal(t, KindNotFound, ErrorKind(err))

	// Owners still own deleted quizzes for review purposes.
	owner, err := env.quizzes.IsOwner(context.Background(), quiz.ID, ownerID)
	require.NoError(t, err)
	assert.True(t, owner)
}

func TestStudentViewHidesAnswers(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, func(r *CreateQuizRequest) { r.AccessCode = "code" })

	view, err := env.quizzes.GetQuizForStudent(context.Background(), quiz.ID)
	require.NoError(t, err)
	assert.True(t, view.HasAccessCode)
	assert.Equal(t, 6.0, view.TotalPoints)
	require.Len(t, view.Questions, 3)
	assert.Equal(t, []StudentOption{
		{UID: "A", Text: "Option A", Order: 1},
		{UID: "B", Text: "Option B", Order: 2},
		{UID: "opt-2", Text: "Option C", Order: 3},
	}, view.Questions[0].Options)
}

func TestQuizCacheServesAndInvalidates(t *testing.T) {
	env := newTestEnv(t, true)
	quiz := env.createQuiz(t, func(r *CreateQuizRequest) { r.AccessCode = "code" })
	ctx := context.Background()

	_, err := env.quizzes.GetQuizForAttempt(ctx, quiz.ID)
	require.NoError(t, err)
	require.True(t, env.mr.Exists(quizCacheKey(quiz.ID)))

	cached, ok := env.quizzes.cache.Get(ctx, quiz.ID)
	require.True(t, ok)
	assert.Len(t, cached.Questions, 3)
	assert.Equal(t, quiz.AccessCodeHash, cached.AccessCodeHash, "hash survives the cache")
	assert.NoError(t, VerifyAccessCode(cached, "code"))

	_, err = env.quizzes.UpdateQuiz(ctx, quiz.ID, ownerID, &UpdateQuizRequest{Title: "Renamed"})
	require.NoError(t, err)
	assert.False(t, env.mr.Exists(quizCacheKey(quiz.ID)))

	fresh, err := env.quizzes.GetQuizForAttempt(ctx, quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", fresh.Title)

	_, err = env.quizzes.ArchiveQuiz(ctx, quiz.ID, ownerID)
	require.NoError(t, err)
	_, err = env.quizzes.GetQuizForAttempt(ctx, quiz.ID)
	assert.Equal(t, KindNotFound, ErrorKind(err))
}

func TestQuizCacheFallsBackWhenRedisIsDown(t *testing.T) {
	env := newTestEnv(t, true)
	quiz := env.createQuiz(t, nil)
	env.mr.Close()

	got, err := env.quizzes.GetQuizForAttempt(context.Background(), quiz.ID)
	require.NoError(t, err)
	assert.Equal(t, quiz.ID, got.ID)
}
