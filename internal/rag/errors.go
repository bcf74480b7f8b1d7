package rag

import (
	"context"
	"errors"
	"fmt"
)

// Error classes shared by every package in the core. Callers match them with
// errors.Is; wrapped causes remain reachable through the same chain.
var (
	// ErrValidation reports a malformed input: empty text, k <= 0, a vector of
	// the wrong dimension, an operation issued in the wrong session phase.
	ErrValidation = errors.New("validation error")

	// ErrNotFound reports an id or position outside the stored range.
	ErrNotFound = errors.New("not found")

	// ErrModel reports a failure of the embedding or summarization backend.
	ErrModel = errors.New("model error")

	// ErrTimeout reports an embed or summarize call that exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrExtraction reports a source whose text could not be extracted.
	ErrExtraction = errors.New("extraction error")
)

// ErrWrongDimension is returned when a vector's length differs from the
// index dimension. It matches ErrValidation.
var ErrWrongDimension = fmt.Errorf("%w: wrong vector dimension", ErrValidation)

// ErrWrongPhase is returned when an operation is issued in a session phase
// that does not accept it. It matches ErrValidation.
var ErrWrongPhase = fmt.Errorf("%w: wrong session phase", ErrValidation)

// Validationf returns an ErrValidation-class error with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf returns an ErrNotFound-class error with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ModelFailure classifies an error returned by an embedding or summarization
// backend. Deadline expiry becomes ErrTimeout, cancellation is passed through
// unchanged, anything else becomes ErrModel. Errors already carrying a class
// are only prefixed with op.
func ModelFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrModel), errors.Is(err, ErrValidation):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	default:
		return fmt.Errorf("%s: %w: %w", op, ErrModel, err)
	}
}

// Kind returns a short label naming the class of err, used for log
// attributes, metric labels, and HTTP status mapping.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrModel):
		return "model"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}
