package service

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers deciding whether to retry or report.
type Kind string

const (
	KindNotFound          Kind = "NotFound"
	KindWindowViolation   Kind = "WindowViolation"
	KindStateConflict     Kind = "StateConflict"
	KindValidationFailure Kind = "ValidationFailure"
	KindDependencyFailure Kind = "DependencyFailure"
)

// Error is a domain failure with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Code so sentinels compare equal to wrapped copies.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Sentinels for errors.Is.
var (
	ErrAssessmentNotFound   = newError(KindNotFound, "ASSESSMENT_NOT_FOUND", "assessment not found")
	ErrSectionNotFound      = newError(KindNotFound, "SECTION_NOT_FOUND", "section not found")
	ErrQuestionNotFound     = newError(KindNotFound, "QUESTION_NOT_FOUND", "question not found")
	ErrOptionNotFound       = newError(KindNotFound, "OPTION_NOT_FOUND", "option does not belong to the question")
	ErrAttemptNotFound      = newError(KindNotFound, "ATTEMPT_NOT_FOUND", "no answer recorded for the question")
	ErrAssessmentNotStarted = newError(KindWindowViolation, "ASSESSMENT_NOT_STARTED", "assessment has not started")
	ErrAssessmentEnded      = newError(KindWindowViolation, "ASSESSMENT_ENDED", "assessment has ended")
	ErrAssessmentNotEnded   = newError(KindWindowViolation, "ASSESSMENT_NOT_ENDED", "assessment has not ended yet")

	ErrSessionNotStarted           = newError(KindStateConflict, "ASSESSMENT_SESSION_NOT_STARTED", "candidate has not started the assessment")
	ErrSessionSubmitted            = newError(KindStateConflict, "ASSESSMENT_ALREADY_SUBMITTED", "assessment already submitted")
	ErrSectionAlreadySubmitted     = newError(KindStateConflict, "SECTION_ALREADY_SUBMITTED", "section already submitted")
	ErrPreviousSectionNotSubmitted = newError(KindStateConflict, "PREVIOUS_SECTION_NOT_SUBMITTED", "another section is still in progress")
	ErrSectionNotStarted           = newError(KindStateConflict, "SECTION_NOT_STARTED", "section has not been started")
	ErrScheduleLocked              = newError(KindStateConflict, "ASSESSMENT_ALREADY_STARTED", "assessment window can no longer change")

	ErrInvalidWindow  = newError(KindValidationFailure, "INVALID_WINDOW", "end time must be after start time")
	ErrInvalidContent = newError(KindValidationFailure, "INVALID_CONTENT", "assessment content is malformed")

	ErrDependency = newError(KindDependencyFailure, "DEPENDENCY_FAILURE", "a backing service failed")
)

// wrap attaches a cause to a sentinel while keeping errors.Is working.
func wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

// dependency wraps a store or scheduler failure.
func dependency(op string, err error) error {
	return wrap(ErrDependency, fmt.Errorf("%s: %w", op, err))
}

// KindOf classifies err. Errors that are not domain errors are dependency failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependencyFailure
}

// CodeOf returns the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrDependency.Code
}
