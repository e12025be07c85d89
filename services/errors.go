package services

import (
	"errors"
	"fmt"

	"lmsquiz/models"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrExpired      = errors.New("attempt time limit has passed")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")

	ErrAlreadySubmitted   = newError(ErrInvalidState, "attempt already submitted")
	ErrAttemptAbandoned   = newError(ErrInvalidState, "attempt was abandoned and cannot be continued")
	ErrOutOfRange         = newError(ErrInvalidState, "question index out of range")
	ErrNotGradable        = newError(ErrInvalidState, "attempt is not awaiting grading")
	ErrInvalidAnswer      = newError(ErrInvalidInput, "answer is not valid for this question")
	ErrMaxAttemptsReached = newError(ErrForbidden, "maximum number of attempts reached")
	ErrInvalidAccessCode  = newError(ErrForbidden, "invalid access code")
	ErrNotOwner           = newError(ErrForbidden, "you do not have access to this attempt")
	ErrNotSubmitted       = newError(ErrInvalidState, "attempt has not been submitted")
	ErrNoQuestions        = newError(ErrInvalidState, "quiz has no questions")
)

// domainError carries a user-facing message and unwraps to its category.
// status is set when a terminal attempt status blocked the operation.
type domainError struct {
	kind   error
	msg    string
	status models.AttemptStatus
}

func newError(kind error, msg string) error {
	return &domainError{kind: kind, msg: msg}
}

func (e *domainError) Error() string {
	return e.msg
}

func (e *domainError) Unwrap() error {
	return e.kind
}

func (e *domainError) Is(target error) bool {
	t, ok := target.(*domainError)
	return ok && t.kind == e.kind && t.msg == e.msg
}

func withStatus(err error, status models.AttemptStatus) error {
	var de *domainError
	if !errors.As(err, &de) {
		return err
	}
	return &domainError{kind: de.kind, msg: de.msg, status: status}
}

// BlockingStatus returns the attempt status that caused err, if any.
func BlockingStatus(err error) (models.AttemptStatus, bool) {
	var de *domainError
	if errors.As(err, &de) && de.status != "" {
		return de.status, true
	}
	return "", false
}

type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindInvalidState Kind = "invalid_state"
	KindExpired      Kind = "expired"
	KindInvalidInput Kind = "invalid_input"
	KindConflict     Kind = "conflict"
	KindInternal     Kind = "internal"
)

// ErrorKind classifies err for the transport layer. Anything that is not a
// domain error is internal.
func ErrorKind(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExpired):
		return KindExpired
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// PublicMessage is the text safe to show a user for err.
func PublicMessage(err error) string {
	if ErrorKind(err) == KindInternal {
		return "an error occurred"
	}
	return err.Error()
}

func notFound(what string) error {
	return newError(ErrNotFound, what+" not found")
}

func invalidInput(format string, args ...any) error {
	return newError(ErrInvalidInput, fmt.Sprintf(format, args...))
}
