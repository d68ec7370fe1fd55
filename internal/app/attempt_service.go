package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"readiness-quiz-service/internal/countdown"
	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/readiness"
	"readiness-quiz-service/internal/scoring"
)

const defaultSubmitTimeout = 30 * time.Second

// AttemptService contains the quiz attempt use cases.
type AttemptService struct {
	attempts   AttemptRepository
	catalog    CatalogRepository
	issuer     AttemptIssuer
	submitter  Submitter
	aggregator MetricsAggregator
	sink       ResultSink
	checkpoint Checkpointer
	log        *zap.Logger
	now        func() time.Time
	tickers    countdown.TickerFactory

	submitTimeout time.Duration
}

type ServiceOption func(*AttemptService)

func WithSubmitter(s Submitter) ServiceOption {
	return func(svc *AttemptService) { svc.submitter = s }
}

func WithAggregator(a MetricsAggregator) ServiceOption {
	return func(svc *AttemptService) { svc.aggregator = a }
}

func WithResultSink(s ResultSink) ServiceOption {
	return func(svc *AttemptService) { svc.sink = s }
}

func WithCheckpointer(c Checkpointer) ServiceOption {
	return func(svc *AttemptService) { svc.checkpoint = c }
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(svc *AttemptService) { svc.log = l }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *AttemptService) { svc.now = now }
}

// WithTickerFactory replaces the countdown tick source of every new attempt.
func WithTickerFactory(f countdown.TickerFactory) ServiceOption {
	return func(svc *AttemptService) { svc.tickers = f }
}

// WithSubmitTimeout bounds submissions triggered by countdown expiry.
func WithSubmitTimeout(d time.Duration) ServiceOption {
	return func(svc *AttemptService) {
		if d > 0 {
			svc.submitTimeout = d
		}
	}
}

func NewAttemptService(store AttemptRepository, catalog CatalogRepository, issuer AttemptIssuer, opts ...ServiceOption) *AttemptService {
	svc := &AttemptService{
		attempts:      store,
		catalog:       catalog,
		issuer:        issuer,
		submitter:     LocalSubmitter{},
		log:           zap.NewNop(),
		now:           time.Now,
		submitTimeout: defaultSubmitTimeout,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// StartAttempt looks up the quiz for a specialisation and level and starts a timed attempt on it.
func (s *AttemptService) StartAttempt(ctx context.Context, userID, specialisation string, level int) (domain.AttemptSnapshot, error) {
	quiz, err := s.catalog.FindQuiz(ctx, specialisation, level)
	if err != nil {
		if errors.Is(err, domain.ErrQuizNotFound) {
			return domain.AttemptSnapshot{}, domain.CatalogUnavailable(specialisation, level)
		}
		return domain.AttemptSnapshot{}, fmt.Errorf("find quiz: %w", err)
	}
	return s.start(ctx, userID, quiz)
}

// StartQuiz starts an attempt on a known quiz id.
func (s *AttemptService) StartQuiz(ctx context.Context, userID, quizID string) (domain.AttemptSnapshot, error) {
	quiz, err := s.catalog.GetQuiz(ctx, quizID)
	if err != nil {
		if errors.Is(err, domain.ErrQuizNotFound) {
			return domain.AttemptSnapshot{}, domain.QuizUnavailable(quizID, err)
		}
		return domain.AttemptSnapshot{}, fmt.Errorf("get quiz: %w", err)
	}
	return s.start(ctx, userID, quiz)
}

func (s *AttemptService) start(ctx context.Context, userID string, quiz domain.Quiz) (domain.AttemptSnapshot, error) {
	attemptID, err := s.issuer.IssueAttempt(ctx, quiz.ID, userID)
	if err != nil {
		s.log.Warn("attempt issuance failed", zap.String("quiz_id", quiz.ID), zap.String("user_id", userID), zap.Error(err))
		return domain.AttemptSnapshot{}, &domain.AttemptStartError{QuizID: quiz.ID, Err: err}
	}

	attempt := newAttempt(attemptID, userID, quiz, s.now(), s.now, s.tickers)
	s.register(attempt)
	if err := s.arm(attempt, quiz.TimeBudgetSeconds()); err != nil {
		s.attempts.Delete(attemptID)
		return domain.AttemptSnapshot{}, &domain.AttemptStartError{QuizID: quiz.ID, Err: err}
	}
	s.saveCheckpoint(ctx, attempt)

	s.log.Info("attempt started",
		zap.String("attempt_id", attemptID),
		zap.String("quiz_id", quiz.ID),
		zap.String("user_id", userID),
		zap.Int("questions", len(quiz.Questions)),
		zap.Int("budget_seconds", quiz.TimeBudgetSeconds()),
	)
	return attempt.Snapshot(), nil
}

// register stores the attempt and abandons whatever live attempt it replaces.
func (s *AttemptService) register(attempt *Attempt) {
	replaced := s.attempts.Put(attempt)
	if replaced == nil || replaced == attempt {
		return
	}
	live := replaced.discard()
	if replaced.ID() == attempt.ID() {
		return
	}
	if live {
		s.attempts.Delete(replaced.ID())
		s.deleteCheckpoint(context.Background(), replaced.ID())
		s.log.Info("attempt abandoned by restart", zap.String("attempt_id", replaced.ID()), zap.String("user_id", replaced.UserID()))
	}
}

func (s *AttemptService) arm(attempt *Attempt, remaining int) error {
	timed := attempt.quiz.TimeBudgetSeconds() > 0
	return attempt.start(remaining, timed, func() {
		if attempt.beginExpiry() {
			go s.expire(attempt)
		}
	})
}

func (s *AttemptService) expire(attempt *Attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), s.submitTimeout)
	defer cancel()

	s.log.Info("attempt time expired, submitting", zap.String("attempt_id", attempt.ID()))
	if _, err := s.score(ctx, attempt, domain.ReasonExpired); err != nil {
		s.log.Warn("auto-submit failed", zap.String("attempt_id", attempt.ID()), zap.Error(err))
	}
}

// Answer records or replaces the selected option for a question.
func (s *AttemptService) Answer(ctx context.Context, userID, attemptID, questionID, optionKey string) (domain.AttemptSnapshot, error) {
	attempt, err := s.owned(userID, attemptID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	if err := attempt.answer(questionID, optionKey); err != nil {
		return domain.AttemptSnapshot{}, err
	}
	s.saveCheckpoint(ctx, attempt)
	return attempt.Snapshot(), nil
}

// Submit scores the attempt. Repeated calls return the stored outcome; a call made while
// another submission is in flight waits for it. After a failure Submit retries with the same
// attempt id and answers.
func (s *AttemptService) Submit(ctx context.Context, userID, attemptID string) (domain.SubmitOutcome, error) {
	attempt, err := s.owned(userID, attemptID)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	ticket, err := attempt.beginSubmit()
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	switch {
	case ticket.outcome != nil:
		return *ticket.outcome, nil
	case ticket.wait != nil:
		select {
		case <-ticket.wait:
		case <-ctx.Done():
			return domain.SubmitOutcome{}, ctx.Err()
		}
		outcome, err := attempt.settled()
		if err != nil {
			return domain.SubmitOutcome{}, err
		}
		return *outcome, nil
	case !ticket.run:
		return domain.SubmitOutcome{}, domain.ErrAttemptNotActive
	}
	return s.score(ctx, attempt, domain.ReasonManual)
}

// score runs a submission for an attempt already moved into Submitting.
func (s *AttemptService) score(ctx context.Context, attempt *Attempt, reason domain.SubmitReason) (domain.SubmitOutcome, error) {
	req := SubmitRequest{
		AttemptID: attempt.ID(),
		UserID:    attempt.UserID(),
		Quiz:      attempt.quiz,
		Answers:   attempt.answers.ToSubmission(attempt.quiz.Questions),
		TimeTaken: attempt.timeTaken(),
	}
	result, err := s.submitter.SubmitQuiz(ctx, req)
	if err != nil {
		subErr := &domain.SubmissionError{AttemptID: attempt.ID(), Err: err}
		attempt.fail(subErr)
		s.log.Warn("submission failed", zap.String("attempt_id", attempt.ID()), zap.String("reason", string(reason)), zap.Error(err))
		return domain.SubmitOutcome{}, subErr
	}

	result.AttemptID = attempt.ID()
	result.UserID = attempt.UserID()
	result.QuizID = attempt.QuizID()
	result.Reason = reason
	result.SubmittedAt = s.now().UTC()
	if malformed := scoring.MalformedQuestions(result); len(malformed) > 0 {
		s.log.Warn("quiz has questions without a correct option",
			zap.String("quiz_id", attempt.QuizID()),
			zap.Strings("question_ids", malformed),
		)
	}

	outcome := s.record(ctx, attempt, result)
	s.deleteCheckpoint(ctx, attempt.ID())
	s.log.Info("attempt completed",
		zap.String("attempt_id", attempt.ID()),
		zap.String("reason", string(reason)),
		zap.Int("percentage", result.Percentage),
		zap.Bool("passed", result.Passed),
	)
	attempt.complete(outcome)
	return outcome, nil
}

// record hands the result to the aggregator and the result sink. Their failures are reported
// on the outcome and never fail the submission.
func (s *AttemptService) record(ctx context.Context, attempt *Attempt, result domain.AttemptResult) domain.SubmitOutcome {
	outcome := domain.SubmitOutcome{Result: result}
	quiz := attempt.quiz
	var errs []error

	if s.aggregator != nil {
		metrics, err := s.aggregator.ApplyResult(ctx, readiness.Input{
			UserID:         attempt.UserID(),
			Category:       quiz.Category,
			Specialisation: quiz.Specialisation,
			Level:          quiz.DifficultyLevel,
			Result:         result,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			outcome.Metrics = &metrics
		}
	}

	if s.sink != nil {
		record := domain.TestResultRecord{
			AttemptID:        result.AttemptID,
			UserID:           result.UserID,
			CareerID:         domain.ProfileID(result.UserID, quiz.Specialisation),
			Specialisation:   quiz.Specialisation,
			Category:         quiz.Category,
			Level:            quiz.DifficultyLevel,
			Score:            result.Percentage,
			Passed:           result.Passed,
			TimeTakenSeconds: result.TimeTakenSeconds,
			QuestionsCount:   result.TotalCount,
			RecordedAt:       result.SubmittedAt,
		}
		if err := s.sink.SubmitTestResult(ctx, record); err != nil {
			errs = append(errs, &domain.AggregationError{
				UserID:         result.UserID,
				Specialisation: quiz.Specialisation,
				Err:            fmt.Errorf("record test result: %w", err),
			})
		}
	}

	if err := errors.Join(errs...); err != nil {
		outcome.AggregationError = err.Error()
		s.log.Warn("readiness update failed", zap.String("attempt_id", result.AttemptID), zap.Error(err))
	}
	return outcome
}

// Get returns a snapshot of the user's attempt.
func (s *AttemptService) Get(_ context.Context, userID, attemptID string) (domain.AttemptSnapshot, error) {
	attempt, err := s.owned(userID, attemptID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	return attempt.Snapshot(), nil
}

// Abandon stops the attempt and forgets it.
func (s *AttemptService) Abandon(ctx context.Context, userID, attemptID string) error {
	attempt, err := s.owned(userID, attemptID)
	if err != nil {
		return err
	}
	if attempt.discard() {
		s.log.Info("attempt abandoned", zap.String("attempt_id", attemptID), zap.String("user_id", userID))
	}
	s.attempts.Delete(attemptID)
	s.deleteCheckpoint(ctx, attemptID)
	return nil
}

// Subscribe returns a channel of attempt events. The caller must invoke the returned cancel
// function to avoid leaks. The channel is closed when the attempt is abandoned.
func (s *AttemptService) Subscribe(_ context.Context, userID, attemptID string) (<-chan domain.AttemptEvent, func(), error) {
	attempt, err := s.owned(userID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := attempt.subscribe()
	return ch, cancel, nil
}

// Resume returns a live attempt or rebuilds it from its checkpoint with the remaining time
// measured from the original start. An attempt whose time already ran out is submitted at once.
func (s *AttemptService) Resume(ctx context.Context, userID, attemptID string) (domain.AttemptSnapshot, error) {
	if attempt, ok := s.attempts.Get(attemptID); ok {
		if attempt.UserID() != userID {
			return domain.AttemptSnapshot{}, domain.ErrAttemptNotOwned
		}
		return attempt.Snapshot(), nil
	}
	if s.checkpoint == nil {
		return domain.AttemptSnapshot{}, domain.ErrAttemptNotFound
	}

	cp, err := s.checkpoint.LoadCheckpoint(ctx, attemptID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}
	if cp.UserID != userID {
		return domain.AttemptSnapshot{}, domain.ErrAttemptNotOwned
	}
	if claimer, ok := s.attempts.(Claimer); ok {
		if err := claimer.ClaimAttempt(ctx, attemptID); err != nil {
			return domain.AttemptSnapshot{}, err
		}
	}
	quiz, err := s.catalog.GetQuiz(ctx, cp.QuizID)
	if err != nil {
		return domain.AttemptSnapshot{}, err
	}

	attempt := newAttempt(cp.AttemptID, cp.UserID, quiz, cp.StartedAt, s.now, s.tickers)
	attempt.answers.Restore(cp.Answers)
	s.register(attempt)

	remaining := quiz.TimeBudgetSeconds() - int(s.now().Sub(cp.StartedAt)/time.Second)
	if remaining < 0 {
		remaining = 0
	}
	if err := s.arm(attempt, remaining); err != nil {
		s.attempts.Delete(attemptID)
		return domain.AttemptSnapshot{}, err
	}

	s.log.Info("attempt resumed",
		zap.String("attempt_id", attemptID),
		zap.Int("answers", len(cp.Answers)),
		zap.Int("remaining_seconds", remaining),
	)
	return attempt.Snapshot(), nil
}

// PruneFinished drops completed and failed attempts that finished more than olderThan ago.
func (s *AttemptService) PruneFinished(olderThan time.Duration) int {
	cutoff := s.now().Add(-olderThan)
	var stale []*Attempt
	s.attempts.Range(func(a *Attempt) bool {
		if a.finishedBefore(cutoff) {
			stale = append(stale, a)
		}
		return true
	})
	for _, a := range stale {
		a.discard()
		s.attempts.Delete(a.ID())
		if a.State() == domain.StateFailed {
			s.deleteCheckpoint(context.Background(), a.ID())
		}
	}
	if len(stale) > 0 {
		s.log.Debug("pruned finished attempts", zap.Int("count", len(stale)))
	}
	return len(stale)
}

// RunPruner calls PruneFinished every interval until ctx is done.
func (s *AttemptService) RunPruner(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PruneFinished(retention)
		}
	}
}

func (s *AttemptService) owned(userID, attemptID string) (*Attempt, error) {
	attempt, ok := s.attempts.Get(attemptID)
	if !ok {
		return nil, domain.ErrAttemptNotFound
	}
	if attempt.UserID() != userID {
		return nil, domain.ErrAttemptNotOwned
	}
	return attempt, nil
}

func (s *AttemptService) saveCheckpoint(ctx context.Context, attempt *Attempt) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.SaveCheckpoint(ctx, attempt.checkpoint()); err != nil {
		s.log.Warn("checkpoint save failed", zap.String("attempt_id", attempt.ID()), zap.Error(err))
	}
}

func (s *AttemptService) deleteCheckpoint(ctx context.Context, attemptID string) {
	if s.checkpoint == nil {
		return
	}
	if err := s.checkpoint.DeleteCheckpoint(ctx, attemptID); err != nil {
		s.log.Warn("checkpoint delete failed", zap.String("attempt_id", attemptID), zap.Error(err))
	}
}
