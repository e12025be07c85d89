package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrAnswerShape = errors.New("answer does not match question type")

// Answer is the value a student gives for one question. The concrete type is
// decided by the question type, never by the shape of the stored list.
type Answer interface {
	QuestionType() QuestionType
	// Values is the persisted list form.
	Values() []string
	// Answered reports whether the answer counts toward the answered set.
	Answered() bool
}

// MultipleChoiceSelection is an unordered set of option uids.
type MultipleChoiceSelection struct {
	OptionUIDs []string
}

// NewMultipleChoiceSelection drops blank and duplicate uids, keeping first-seen order.
func NewMultipleChoiceSelection(uids ...string) MultipleChoiceSelection {
	seen := make(map[string]struct{}, len(uids))
	selected := make([]string, 0, len(uids))
	for _, uid := range uids {
		uid = strings.TrimSpace(uid)
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		selected = append(selected, uid)
	}
	return MultipleChoiceSelection{OptionUIDs: selected}
}

func (s MultipleChoiceSelection) QuestionType() QuestionType {
	return QuestionMultipleChoice
}

func (s MultipleChoiceSelection) Values() []string {
	values := make([]string, len(s.OptionUIDs))
	copy(values, s.OptionUIDs)
	return values
}

func (s MultipleChoiceSelection) Answered() bool {
	return IsAnswered(s.OptionUIDs)
}

func (s MultipleChoiceSelection) Contains(uid string) bool {
	for _, selected := range s.OptionUIDs {
		if selected == uid {
			return true
		}
	}
	return false
}

// Toggle adds uid when absent and removes it when present.
func (s MultipleChoiceSelection) Toggle(uid string) MultipleChoiceSelection {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return NewMultipleChoiceSelection(s.OptionUIDs...)
	}
	if !s.Contains(uid) {
		return NewMultipleChoiceSelection(append(s.Values(), uid)...)
	}
	remaining := make([]string, 0, len(s.OptionUIDs))
	for _, selected := range s.OptionUIDs {
		if selected != uid {
			remaining = append(remaining, selected)
		}
	}
	return NewMultipleChoiceSelection(remaining...)
}

// SameSet compares selections ignoring order.
func (s MultipleChoiceSelection) SameSet(uids []string) bool {
	other := NewMultipleChoiceSelection(uids...)
	mine := NewMultipleChoiceSelection(s.OptionUIDs...)
	if len(mine.OptionUIDs) != len(other.OptionUIDs) {
		return false
	}
	for _, uid := range other.OptionUIDs {
		if !mine.Contains(uid) {
			return false
		}
	}
	return true
}

// ShortAnswerText is free text; it persists as a single-element list.
type ShortAnswerText struct {
	Text string
}

func (t ShortAnswerText) QuestionType() QuestionType {
	return QuestionShortAnswer
}

func (t ShortAnswerText) Values() []string {
	return []string{t.Text}
}

func (t ShortAnswerText) Answered() bool {
	return strings.TrimSpace(t.Text) != ""
}

// EmptyAnswer is the default shown for a question that has no saved answer:
// [] for multiple choice and [""] for short answer.
func EmptyAnswer(questionType QuestionType) Answer {
	if questionType == QuestionShortAnswer {
		return ShortAnswerText{}
	}
	return MultipleChoiceSelection{OptionUIDs: []string{}}
}

// DecodeAnswer interprets a raw list according to the question type.
func DecodeAnswer(questionType QuestionType, values []string) (Answer, error) {
	switch questionType {
	case QuestionMultipleChoice:
		return NewMultipleChoiceSelection(values...), nil
	case QuestionShortAnswer:
		switch len(values) {
		case 0:
			return ShortAnswerText{}, nil
		case 1:
			return ShortAnswerText{Text: values[0]}, nil
		default:
			return nil, fmt.Errorf("%w: short answer takes one value, got %d", ErrAnswerShape, len(values))
		}
	default:
		return nil, fmt.Errorf("%w: unknown question type %q", ErrAnswerShape, questionType)
	}
}

// IsAnswered is the answered predicate over a stored list: non-empty with at
// least one non-blank entry after trimming.
func IsAnswered(values []string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return true
		}
	}
	return false
}
