package app

import (
	"sync"
	"time"

	"readiness-quiz-service/internal/countdown"
	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/ledger"
)

// Attempt is one user's timed run through a quiz. It owns its ledger and countdown.
//
// Lock order: the countdown invokes callbacks while holding its own lock, and those
// callbacks take a.mu. Countdown methods are therefore never called with a.mu held.
type Attempt struct {
	id        string
	userID    string
	quiz      domain.Quiz
	startedAt time.Time
	now       func() time.Time

	answers *ledger.Ledger
	timer   *countdown.Countdown
	timed   bool

	mu          sync.Mutex
	state       domain.AttemptState
	outcome     *domain.SubmitOutcome
	lastErr     error
	inflight    chan struct{}
	finishedAt  time.Time
	discarded   bool
	subscribers map[chan domain.AttemptEvent]struct{}
}

// NewAttempt is exported for infrastructure layers and tests that need to seed attempts.
func NewAttempt(id, userID string, quiz domain.Quiz, startedAt time.Time) *Attempt {
	return newAttempt(id, userID, quiz, startedAt, time.Now, nil)
}

func newAttempt(id, userID string, quiz domain.Quiz, startedAt time.Time, now func() time.Time, tickers countdown.TickerFactory) *Attempt {
	var opts []countdown.Option
	if tickers != nil {
		opts = append(opts, countdown.WithTicker(tickers))
	}
	return &Attempt{
		id:          id,
		userID:      userID,
		quiz:        quiz,
		startedAt:   startedAt,
		now:         now,
		answers:     ledger.New(),
		timer:       countdown.New(opts...),
		state:       domain.StateNotStarted,
		subscribers: make(map[chan domain.AttemptEvent]struct{}),
	}
}

func (a *Attempt) ID() string          { return a.id }
func (a *Attempt) UserID() string      { return a.userID }
func (a *Attempt) QuizID() string      { return a.quiz.ID }
func (a *Attempt) StartedAt() time.Time { return a.startedAt }

// State returns the current lifecycle state.
func (a *Attempt) State() domain.AttemptState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// start moves NotStarted to InProgress and arms the countdown with budget seconds.
// A quiz without a time limit is untimed.
func (a *Attempt) start(budget int, timed bool, onExpire func()) error {
	a.mu.Lock()
	if a.state != domain.StateNotStarted {
		a.mu.Unlock()
		return domain.ErrAttemptNotActive
	}
	a.state = domain.StateInProgress
	a.timed = timed
	a.mu.Unlock()

	if !timed {
		return nil
	}
	return a.timer.Start(budget, a.onTick, onExpire)
}

func (a *Attempt) onTick(remaining int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != domain.StateInProgress {
		return
	}
	a.broadcastLocked(domain.AttemptEvent{Type: domain.EventTick, State: a.state, RemainingSeconds: remaining})
}

// answer records a selection while the attempt is in progress.
func (a *Attempt) answer(questionID, optionKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != domain.StateInProgress || a.discarded {
		return domain.ErrAttemptNotActive
	}
	question, ok := a.quiz.FindQuestion(questionID)
	if !ok {
		return domain.ErrQuestionNotFound
	}
	if !question.HasOption(optionKey) {
		return domain.ErrOptionNotFound
	}
	if err := a.answers.Set(questionID, optionKey); err != nil {
		return domain.ErrAttemptNotActive
	}
	return nil
}

// submitTicket tells the caller of beginSubmit what to do next.
type submitTicket struct {
	run     bool
	wait    <-chan struct{}
	outcome *domain.SubmitOutcome
}

// beginSubmit is the manual check-and-set into Submitting. Exactly one caller gets run=true;
// concurrent callers get the in-flight channel or the stored outcome. A Failed attempt is
// retried with its frozen answers.
func (a *Attempt) beginSubmit() (submitTicket, error) {
	a.mu.Lock()
	if a.discarded {
		a.mu.Unlock()
		return submitTicket{}, domain.ErrAttemptNotActive
	}
	switch a.state {
	case domain.StateInProgress, domain.StateFailed:
	case domain.StateSubmitting:
		wait := a.inflight
		a.mu.Unlock()
		return submitTicket{wait: wait}, nil
	case domain.StateCompleted:
		outcome := a.outcome
		a.mu.Unlock()
		return submitTicket{outcome: outcome}, nil
	default:
		a.mu.Unlock()
		return submitTicket{}, domain.ErrAttemptNotActive
	}
	a.enterSubmittingLocked()
	a.mu.Unlock()

	a.timer.Stop()
	return submitTicket{run: true}, nil
}

// beginExpiry runs inside the countdown's expiry callback, so the move into Submitting happens
// before the callback returns and no answer can land after time ran out. It must not touch the
// countdown. Expiry after any other transition is a no-op.
func (a *Attempt) beginExpiry() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.discarded || a.state != domain.StateInProgress {
		return false
	}
	a.enterSubmittingLocked()
	return true
}

func (a *Attempt) enterSubmittingLocked() {
	a.state = domain.StateSubmitting
	a.lastErr = nil
	a.inflight = make(chan struct{})
	a.answers.Freeze()
	a.broadcastLocked(domain.AttemptEvent{Type: domain.EventState, State: a.state})
}

// settled returns the outcome or error of the last finished submission.
func (a *Attempt) settled() (*domain.SubmitOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch a.state {
	case domain.StateCompleted:
		return a.outcome, nil
	case domain.StateFailed:
		return nil, a.lastErr
	default:
		return nil, domain.ErrAttemptNotActive
	}
}

// timeTaken is the elapsed time, capped at the quiz budget when timed.
func (a *Attempt) timeTaken() time.Duration {
	elapsed := a.now().Sub(a.startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if budget := time.Duration(a.quiz.TimeBudgetSeconds()) * time.Second; budget > 0 && elapsed > budget {
		elapsed = budget
	}
	return elapsed
}

func (a *Attempt) complete(outcome domain.SubmitOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = domain.StateCompleted
	a.outcome = &outcome
	a.finishedAt = a.now()
	a.closeInflightLocked()
	a.broadcastLocked(domain.AttemptEvent{Type: domain.EventResult, State: a.state, Outcome: &outcome})
}

// fail parks the attempt in Failed. The ledger stays frozen so a retry scores the same answers.
func (a *Attempt) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = domain.StateFailed
	a.lastErr = err
	a.finishedAt = a.now()
	a.closeInflightLocked()
	a.broadcastLocked(domain.AttemptEvent{Type: domain.EventError, State: a.state, Message: err.Error()})
}

func (a *Attempt) closeInflightLocked() {
	if a.inflight != nil {
		close(a.inflight)
		a.inflight = nil
	}
}

// discard tears a live attempt down without persisting anything. Completed attempts keep
// their outcome. It reports whether the attempt was still live.
func (a *Attempt) discard() bool {
	a.mu.Lock()
	live := !a.discarded && a.state != domain.StateCompleted
	if live {
		a.discarded = true
		for ch := range a.subscribers {
			delete(a.subscribers, ch)
			close(ch)
		}
	}
	a.mu.Unlock()

	if live {
		a.timer.Stop()
	}
	return live
}

// finishedBefore reports whether the attempt reached Completed or Failed before t.
func (a *Attempt) finishedBefore(t time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != domain.StateCompleted && a.state != domain.StateFailed {
		return false
	}
	return a.finishedAt.Before(t)
}

func (a *Attempt) checkpoint() Checkpoint {
	return Checkpoint{
		AttemptID: a.id,
		UserID:    a.userID,
		QuizID:    a.quiz.ID,
		StartedAt: a.startedAt,
		Answers:   a.answers.Snapshot(),
	}
}

// Snapshot returns a read-only view. Correctness data is hidden until the attempt completes.
func (a *Attempt) Snapshot() domain.AttemptSnapshot {
	remaining := a.timer.Remaining()

	a.mu.Lock()
	defer a.mu.Unlock()
	snap := domain.AttemptSnapshot{
		AttemptID: a.id,
		QuizID:    a.quiz.ID,
		UserID:    a.userID,
		State:     a.state,
		StartedAt: a.startedAt,
		Answers:   a.answers.Snapshot(),
		Quiz:      a.quiz.Public(),
	}
	if a.state == domain.StateInProgress && a.timed {
		snap.TimeRemainingSeconds = remaining
	}
	if a.outcome != nil {
		outcome := *a.outcome
		snap.Outcome = &outcome
		snap.Quiz = a.quiz
	}
	if a.lastErr != nil {
		snap.LastError = a.lastErr.Error()
	}
	return snap
}

// subscribe registers a listener; the first event is the current state.
func (a *Attempt) subscribe() (<-chan domain.AttemptEvent, func()) {
	ch := make(chan domain.AttemptEvent, 8)
	remaining := a.timer.Remaining()

	a.mu.Lock()
	initial := domain.AttemptEvent{Type: domain.EventState, AttemptID: a.id, State: a.state, Outcome: a.outcome}
	if a.timed {
		initial.RemainingSeconds = remaining
	}
	ch <- initial
	if a.discarded {
		close(ch)
		a.mu.Unlock()
		return ch, func() {}
	}
	a.subscribers[ch] = struct{}{}
	a.mu.Unlock()

	cancel := func() {
		a.mu.Lock()
		if _, ok := a.subscribers[ch]; ok {
			delete(a.subscribers, ch)
			close(ch)
		}
		a.mu.Unlock()
	}
	return ch, cancel
}

func (a *Attempt) broadcastLocked(event domain.AttemptEvent) {
	event.AttemptID = a.id
	for ch := range a.subscribers {
		select {
		case ch <- event:
		default:
			// slow subscriber: drop its oldest event
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
}
