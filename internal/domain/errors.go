package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrCatalogUnavailable is returned when no quiz exists for a specialisation and level.
	ErrCatalogUnavailable = errors.New("quiz not available")
	// ErrAttemptNotFound is returned for unknown or discarded attempts.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptNotOwned is returned when a user acts on someone else's attempt.
	ErrAttemptNotOwned = errors.New("attempt belongs to another user")
	// ErrAttemptHeldElsewhere is returned when another instance still runs the attempt.
	ErrAttemptHeldElsewhere = errors.New("attempt is running on another instance")
	// ErrAttemptNotActive is returned when answers arrive outside the in-progress state.
	ErrAttemptNotActive = errors.New("attempt is not in progress")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrOptionNotFound indicates a submitted option key is invalid.
	ErrOptionNotFound = errors.New("option not found")
)

// AttemptStartError wraps a failure of the attempt-issuing collaborator.
type AttemptStartError struct {
	QuizID string
	Err    error
}

func (e *AttemptStartError) Error() string {
	return fmt.Sprintf("start attempt for quiz %s: %v", e.QuizID, e.Err)
}

func (e *AttemptStartError) Unwrap() error { return e.Err }

// Retryable reports that calling start again may succeed.
func (e *AttemptStartError) Retryable() bool { return true }

// SubmissionError wraps a failed scoring/submit call. The attempt keeps its answers.
type SubmissionError struct {
	AttemptID string
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %s: %v", e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Retryable reports that the same attempt may be submitted again.
func (e *SubmissionError) Retryable() bool { return true }

// AggregationError reports that metrics could not be updated after a successful scoring.
type AggregationError struct {
	UserID         string
	Specialisation string
	Err            error
}

func (e *AggregationError) Error() string {
	return fmt.Sprintf("update readiness for user %s (%s): %v", e.UserID, e.Specialisation, e.Err)
}

func (e *AggregationError) Unwrap() error { return e.Err }

// CatalogUnavailable wraps ErrCatalogUnavailable with the requested lookup.
func CatalogUnavailable(specialisation string, level int) error {
	return fmt.Errorf("%w: specialisation=%q level=%d", ErrCatalogUnavailable, specialisation, level)
}

// QuizUnavailable wraps ErrCatalogUnavailable for a quiz id that could not be found.
func QuizUnavailable(quizID string, err error) error {
	return fmt.Errorf("%w: quiz=%q: %w", ErrCatalogUnavailable, quizID, err)
}

// IsRetryable checks whether err carries a retry affordance.
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}
