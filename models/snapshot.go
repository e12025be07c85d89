package models

import (
	"errors"
	"sort"
)

// QuestionSnapshot is the frozen copy of a question stored on an attempt.
type QuestionSnapshot struct {
	ID              uint             `json:"id"`
	Text            string           `json:"text"`
	Type            QuestionType     `json:"type"`
	Points          float64          `json:"points"`
	Order           int              `json:"order"`
	Options         []OptionSnapshot `json:"options"`
	AcceptedAnswers []string         `json:"accepted_answers,omitempty"`
}

type OptionSnapshot struct {
	UID       string `json:"uid"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
	Order     int    `json:"order"`
}

// SnapshotQuestions copies questions and options in display order.
func SnapshotQuestions(questions []Question) ([]QuestionSnapshot, error) {
	if len(questions) == 0 {
		return nil, errors.New("quiz has no questions")
	}

	ordered := make([]Question, len(questions))
	copy(ordered, questions)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Order != ordered[j].Order {
			return ordered[i].Order < ordered[j].Order
		}
		return ordered[i].ID < ordered[j].ID
	})

	snapshot := make([]QuestionSnapshot, 0, len(ordered))
	for _, question := range ordered {
		options := make([]Option, len(question.Options))
		copy(options, question.Options)
		sort.SliceStable(options, func(i, j int) bool {
			return options[i].Order < options[j].Order
		})

		item := QuestionSnapshot{
			ID:              question.ID,
			Text:            question.Text,
			Type:            question.Type,
			Points:          question.Points,
			Order:           question.Order,
			Options:         make([]OptionSnapshot, 0, len(options)),
			AcceptedAnswers: question.AcceptedAnswerList(),
		}
		for _, option := range options {
			item.Options = append(item.Options, OptionSnapshot{
				UID:       option.UID,
				Text:      option.Text,
				IsCorrect: option.IsCorrect,
				Order:     option.Order,
			})
		}
		snapshot = append(snapshot, item)
	}
	return snapshot, nil
}

func (q QuestionSnapshot) HasOption(uid string) bool {
	for _, option := range q.Options {
		if option.UID == uid {
			return true
		}
	}
	return false
}

func (q QuestionSnapshot) CorrectOptionUIDs() []string {
	uids := []string{}
	for _, option := range q.Options {
		if option.IsCorrect {
			uids = append(uids, option.UID)
		}
	}
	return uids
}

// AutoGradable reports whether grading needs no human.
func (q QuestionSnapshot) AutoGradable() bool {
	switch q.Type {
	case QuestionMultipleChoice:
		return true
	case QuestionShortAnswer:
		return len(q.AcceptedAnswers) > 0
	default:
		return false
	}
}

// QuestionIndex returns the position of questionID in the snapshot, or -1.
func QuestionIndex(questions []QuestionSnapshot, questionID uint) int {
	for idx, question := range questions {
		if question.ID == questionID {
			return idx
		}
	}
	return -1
}
