package app

import (
	"context"
	"errors"
	"time"

	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/readiness"
	"readiness-quiz-service/internal/scoring"
)

// CatalogRepository loads quiz content (from cache/backing store).
type CatalogRepository interface {
	FindQuiz(ctx context.Context, specialisation string, level int) (domain.Quiz, error)
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// AttemptIssuer hands out attempt ids.
type AttemptIssuer interface {
	IssueAttempt(ctx context.Context, quizID, userID string) (string, error)
}

// SubmitRequest carries everything needed to score one attempt.
type SubmitRequest struct {
	AttemptID string
	UserID    string
	Quiz      domain.Quiz
	Answers   []domain.AnswerSubmission
	TimeTaken time.Duration
}

// Submitter turns a submission into a scored result. It may be called more than once
// for the same attempt id after a failure.
type Submitter interface {
	SubmitQuiz(ctx context.Context, req SubmitRequest) (domain.AttemptResult, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, req SubmitRequest) (domain.AttemptResult, error)

func (f SubmitterFunc) SubmitQuiz(ctx context.Context, req SubmitRequest) (domain.AttemptResult, error) {
	return f(ctx, req)
}

// LocalSubmitter scores in-process with the scoring engine.
type LocalSubmitter struct{}

func (LocalSubmitter) SubmitQuiz(ctx context.Context, req SubmitRequest) (domain.AttemptResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.AttemptResult{}, err
	}
	return scoring.Score(req.Quiz, req.Answers, req.TimeTaken), nil
}

// ResultSink receives the persistence record of every completed attempt.
type ResultSink interface {
	SubmitTestResult(ctx context.Context, record domain.TestResultRecord) error
}

// ResultSinks fans a record out to every sink and joins their errors.
type ResultSinks []ResultSink

func (s ResultSinks) SubmitTestResult(ctx context.Context, record domain.TestResultRecord) error {
	var errs []error
	for _, sink := range s {
		if err := sink.SubmitTestResult(ctx, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MetricsAggregator folds a result into readiness metrics.
type MetricsAggregator interface {
	ApplyResult(ctx context.Context, in readiness.Input) (domain.ReadinessMetrics, error)
}

// AttemptRepository abstracts how live attempts are held (in-memory, Redis, etc).
type AttemptRepository interface {
	// Put stores the attempt and makes it the current one for its user and quiz.
	// It returns the attempt previously current for that pair, if any.
	Put(attempt *Attempt) (replaced *Attempt)
	Get(attemptID string) (*Attempt, bool)
	Delete(attemptID string)
	// Range calls fn for each attempt until fn returns false.
	Range(fn func(*Attempt) bool)
}

// Checkpoint is the resumable part of an in-progress attempt.
type Checkpoint struct {
	AttemptID string            `json:"attemptId"`
	UserID    string            `json:"userId"`
	QuizID    string            `json:"quizId"`
	StartedAt time.Time         `json:"startedAt"`
	Answers   map[string]string `json:"answers"`
}

// Checkpointer persists checkpoints so an attempt survives a restart.
// LoadCheckpoint returns domain.ErrAttemptNotFound when nothing is stored.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	LoadCheckpoint(ctx context.Context, attemptID string) (Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, attemptID string) error
}

// Claimer is implemented by attempt stores shared between instances. ClaimAttempt fails with
// domain.ErrAttemptHeldElsewhere while another instance still runs the attempt.
type Claimer interface {
	ClaimAttempt(ctx context.Context, attemptID string) error
}
