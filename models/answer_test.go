package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMultipleChoiceSelectionDropsBlanksAndDuplicates(t *testing.T) {
	selection := NewMultipleChoiceSelection("opt-1", " opt-2 ", "", "opt-1", "  ")
	assert.Equal(t, []string{"opt-1", "opt-2"}, selection.OptionUIDs)
}

func TestToggleOnThenOff(t *testing.T) {
	selection := NewMultipleChoiceSelection("opt-1")

	selection = selection.Toggle("opt-2")
	assert.True(t, selection.Contains("opt-2"))
	assert.Equal(t, []string{"opt-1", "opt-2"}, selection.Values())

	selection = selection.Toggle("opt-2")
	assert.False(t, selection.Contains("opt-2"))
	assert.Equal(t, []string{"opt-1"}, selection.Values())
}

func TestToggleNeverDuplicates(t *testing.T) {
	selection := MultipleChoiceSelection{OptionUIDs: []string{"a", "a"}}
	selection = selection.Toggle("b")
	assert.Equal(t, []string{"a", "b"}, selection.Values())
}

func TestSameSetIgnoresOrderAndDuplicates(t *testing.T) {
	selection := NewMultipleChoiceSelection("a", "b")
	assert.True(t, selection.SameSet([]string{"b", "a"}))
	assert.True(t, selection.SameSet([]string{"b", "a", "b"}))
	assert.False(t, selection.SameSet([]string{"a"}))
	assert.False(t, selection.SameSet([]string{"a", "c"}))
}

func TestEmptyAnswerDefaults(t *testing.T) {
	assert.Equal(t, []string{}, EmptyAnswer(QuestionMultipleChoice).Values())
	assert.Equal(t, []string{""}, EmptyAnswer(QuestionShortAnswer).Values())
	assert.False(t, EmptyAnswer(QuestionMultipleChoice).Answered())
	assert.False(t, EmptyAnswer(QuestionShortAnswer).Answered())
}

func TestDecodeAnswer(t *testing.T) {
	answer, err := DecodeAnswer(QuestionMultipleChoice, []string{"x", "x", "y"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, answer.Values())

	answer, err = DecodeAnswer(QuestionShortAnswer, []string{"Paris"})
	require.NoError(t, err)
	assert.Equal(t, ShortAnswerText{Text: "Paris"}, answer)

	answer, err = DecodeAnswer(QuestionShortAnswer, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, answer.Values())

	_, err = DecodeAnswer(QuestionShortAnswer, []string{"a", "b"})
	assert.True(t, errors.Is(err, ErrAnswerShape))

	_, err = DecodeAnswer(QuestionType("essay"), []string{"a"})
	assert.True(t, errors.Is(err, ErrAnswerShape))
}

func TestIsAnswered(t *testing.T) {
	cases := []struct {
		name   string
		values []string
		want   bool
	}{
		{"nil", nil, false},
		{"empty", []string{}, false},
		{"blank string", []string{""}, false},
		{"whitespace only", []string{"  ", "\t"}, false},
		{"one value", []string{"B"}, true},
		{"blank then value", []string{" ", "opt-1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsAnswered(tc.values))
		})
	}
}

func TestShortAnswerBlankIsUnanswered(t *testing.T) {
	assert.False(t, ShortAnswerText{Text: "   "}.Answered())
	assert.True(t, ShortAnswerText{Text: " x "}.Answered())
}
