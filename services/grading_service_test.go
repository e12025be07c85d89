package services

import (
	"context"
	"errors"
	"testing"

	"lmsquiz/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 {
	return &v
}

func TestAutoGrade(t *testing.T) {
	mc := models.QuestionSnapshot{
		Type: models.QuestionMultipleChoice,
		Options: []models.OptionSnapshot{
			{UID: "x", IsCorrect: true}, {UID: "y", IsCorrect: true}, {UID: "z"},
		},
	}
	cases := []struct {
		name     string
		question models.QuestionSnapshot
		values   []string
		correct  bool
		gradable bool
	}{
		{"exact set", mc, []string{"y", "x"}, true, true},
		{"subset", mc, []string{"x"}, false, true},
		{"superset", mc, []string{"x", "y", "z"}, false, true},
		{"short accepted", models.QuestionSnapshot{Type: models.QuestionShortAnswer, AcceptedAnswers: []string{"Paris"}}, []string{"  paris "}, true, true},
		{"short wrong", models.QuestionSnapshot{Type: models.QuestionShortAnswer, AcceptedAnswers: []string{"Paris"}}, []string{"Lyon"}, false, true},
		{"short manual", models.QuestionSnapshot{Type: models.QuestionShortAnswer}, []string{"Paris"}, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			correct, gradable := autoGrade(tc.question, tc.values)
			assert.Equal(t, tc.correct, correct)
			assert.Equal(t, tc.gradable, gradable)
		})
	}
}

func TestSubmitAutoGradesEverything(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)
	view := env.start(t, quiz.ID)

	navigate(t, env, view, NavigateInput{CurrentQuestionID: questionID(view, 0), CurrentAnswer: []string{"B"}, TargetQuestionIndex: 1, SaveAnswer: true})
	navigate(t, env, view, NavigateInput{CurrentQuestionID: questionID(view, 1), CurrentAnswer: []string{"x"}, TargetQuestionIndex: 2, SaveAnswer: true})
	navigate(t, env, view, NavigateInput{CurrentQuestionID: questionID(view, 2), CurrentAnswer: []string{"PARIS"}, TargetQuestionIndex: 2, SaveAnswer: true})

	submitted, err := env.attempts.Submit(context.Background(), view.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, submitted.Status)

	result, err := env.attempts.GetResult(context.Background(), view.ID, studentID)
	require.NoError(t, err)
	assert.Equal(t, 4.0, result.Score)
	assert.Equal(t, 6.0, result.MaxScore)
	assert.InDelta(t, 66.67, result.Percent, 0.01)
	assert.Equal(t, 0, result.Pending)
	require.NotNil(t, result.Questions[1].IsCorrect)
	assert.False(t, *result.Questions[1].IsCorrect)
	assert.Equal(t, 0.0, *result.Questions[1].PointsAwarded)

	attempt := env.reload(t, view)
	assert.Equal(t, 4.0, attempt.Score)
	assert.NotNil(t, attempt.GradedAt)
}

func TestGradeAttemptIsIdempotentOnceGraded(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)
	view := env.start(t, quiz.ID)
	navigate(t, env, view, NavigateInput{CurrentQuestionID: questionID(view, 0), CurrentAnswer: []string{"B"}, TargetQuestionIndex: 1, SaveAnswer: true})
	_, err := env.attempts.Submit(context.Background(), view.ID, studentID)
	require.NoError(t, err)

	again, err := env.grading.GradeAttempt(context.Background(), view.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, again.Status)
	assert.Equal(t, 1.0, again.Score)
}

func TestGradeAttemptRejectsInProgress(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, nil)
	view := env.start(t, quiz.ID)

	_, err := env.grading.GradeAttempt(context.Background(), view.ID)
	assert.True(t, errors.Is(err, ErrNotGradable))
	assert.Equal(t, models.AttemptInProgress, env.reload(t, view).Status)
}

func TestManualGradingCompletesAttempt(t *testing.T) {
	env := newTestEnv(t, false)
	quiz := env.createQuiz(t, func(req *CreateQuizRequest) { req.Questions[2].AcceptedAnswers = nil })
	view := env.start(t, quiz.ID)
	q2 := questionID(view, 2)

	navigate(t, env, view, NavigateInput{CurrentQuestionID: questionID(view, 0), CurrentAnswer: []string{"B"}, TargetQuestionIndex: 2, SaveAnswer: true})
	navigate(t, env, view, NavigateInput{CurrentQuestionID: q2, CurrentAnswer: []string{"It is Paris"}, TargetQuestionIndex: 0, SaveAnswer: true})
	submitted, err := env.attempts.Submit(context.Background(), view.ID, studentID)
	require.NoError(t, err)
	require.Equal(t, models.AttemptCompleted, submitted.Status)

	_, err = env.grading.GradeAnswer(context.Background(), view.ID, q2, studentID, &GradeAnswerRequest{Points: floatPtr(3)})
	assert.Equal(t, KindForbidden, ErrorKind(err), "students cannot grade")

	_, err = env.grading.GradeAnswer(context.Background(), view.ID, q2, ownerID, &GradeAnswerRequest{Points: floatPtr(3.5)})
	assert.Equal(t, KindInvalidInput, ErrorKind(err))

	_, err = env.grading.GradeAnswer(context.Background(), view.ID, 4242, ownerID, &GradeAnswerRequest{Points: floatPtr(1)})
	assert.Equal(t, KindNotFound, ErrorKind(err))

	result, err := env.grading.GradeAnswer(context.Background(), view.ID, q2, ownerID, &GradeAnswerRequest{
		Points:   floatPtr(2.5),
		Feedback: "Close enough",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttemptGraded, result.Status)
	assert.Equal(t, 3.5, result.Score)
	assert.Equal(t, "Close enough", result.Questions[2].Feedback)
	assert.False(t, *result.Questions[2].IsCorrect)

	stored := env.reload(t, view).AnswerMap()[q2]
	require.NotNil(t, stored.GradedBy)
	assert.Equal(t, ownerID, *stored.GradedBy)

	_, err = env.grading.GradeAnswer(context.Background(), view.ID, q2, ownerID, &GradeAnswerRequest{Points: floatPtr(3)})
	assert.True(t, errors.Is(err, ErrNotGradable), "graded attempts are final")
}
