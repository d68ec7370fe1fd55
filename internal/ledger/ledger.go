// Package ledger records which option a user picked for each question of an attempt.
package ledger

import (
	"errors"
	"sync"

	"readiness-quiz-service/internal/domain"
)

// ErrFrozen is returned when answers change after submission began.
var ErrFrozen = errors.New("answer ledger is read-only")

// Ledger maps question id to selected option key. Absence means unanswered.
type Ledger struct {
	mu      sync.RWMutex
	answers map[string]string
	frozen  bool
}

func New() *Ledger {
	return &Ledger{answers: make(map[string]string)}
}

// Set upserts the answer for a question.
func (l *Ledger) Set(questionID, optionKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return ErrFrozen
	}
	l.answers[questionID] = optionKey
	return nil
}

// Get returns the selected key and whether the question was answered.
func (l *Ledger) Get(questionID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	key, ok := l.answers[questionID]
	return key, ok
}

// IsComplete reports whether every id has an entry.
func (l *Ledger) IsComplete(questionIDs []string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range questionIDs {
		if _, ok := l.answers[id]; !ok {
			return false
		}
	}
	return true
}

// ToSubmission returns one entry per question in quiz order. Unanswered questions
// default to their first option's key so they are scored rather than skipped.
func (l *Ledger) ToSubmission(questions []domain.Question) []domain.AnswerSubmission {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.AnswerSubmission, 0, len(questions))
	for _, q := range questions {
		key, ok := l.answers[q.ID]
		if !ok && len(q.Options) > 0 {
			key = q.Options[0].Key
		}
		out = append(out, domain.AnswerSubmission{QuestionID: q.ID, SelectedKey: key})
	}
	return out
}

// Freeze makes the ledger read-only.
func (l *Ledger) Freeze() {
	l.mu.Lock()
	l.frozen = true
	l.mu.Unlock()
}

// Thaw re-enables writes.
func (l *Ledger) Thaw() {
	l.mu.Lock()
	l.frozen = false
	l.mu.Unlock()
}

func (l *Ledger) Frozen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.frozen
}

// Snapshot copies the current answers.
func (l *Ledger) Snapshot() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]string, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}

// Restore replaces the answers, used when rebuilding an attempt from a checkpoint.
func (l *Ledger) Restore(answers map[string]string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.answers = make(map[string]string, len(answers))
	for k, v := range answers {
		l.answers[k] = v
	}
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.answers)
}
