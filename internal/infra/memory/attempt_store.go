package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]*app.Attempt
	current  map[string]string
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{
		attempts: make(map[string]*app.Attempt),
		current:  make(map[string]string),
	}
}

func (s *AttemptStore) Put(attempt *app.Attempt) *app.Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := currentKey(attempt.UserID(), attempt.QuizID())
	var replaced *app.Attempt
	if prevID, ok := s.current[key]; ok {
		replaced = s.attempts[prevID]
	}
	s.attempts[attempt.ID()] = attempt
	s.current[key] = attempt.ID()
	return replaced
}

func (s *AttemptStore) Get(attemptID string) (*app.Attempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[attemptID]
	return attempt, ok
}

func (s *AttemptStore) Delete(attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	attempt, ok := s.attempts[attemptID]
	if !ok {
		return
	}
	delete(s.attempts, attemptID)
	key := currentKey(attempt.UserID(), attempt.QuizID())
	if s.current[key] == attemptID {
		delete(s.current, key)
	}
}

func (s *AttemptStore) Range(fn func(*app.Attempt) bool) {
	s.mu.RLock()
	attempts := make([]*app.Attempt, 0, len(s.attempts))
	for _, a := range s.attempts {
		attempts = append(attempts, a)
	}
	s.mu.RUnlock()

	for _, a := range attempts {
		if !fn(a) {
			return
		}
	}
}

// Len is the number of stored attempts.
func (s *AttemptStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.attempts)
}

func currentKey(userID, quizID string) string {
	return userID + "|" + quizID
}

// CheckpointStore keeps attempt checkpoints in process. It only survives a service rebuild,
// not a process restart; the Redis store covers that.
type CheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]app.Checkpoint
}

func NewCheckpointStore() *CheckpointStore {
	return &CheckpointStore{checkpoints: make(map[string]app.Checkpoint)}
}

func (s *CheckpointStore) SaveCheckpoint(_ context.Context, cp app.Checkpoint) error {
	answers := make(map[string]string, len(cp.Answers))
	for k, v := range cp.Answers {
		answers[k] = v
	}
	cp.Answers = answers

	s.mu.Lock()
	s.checkpoints[cp.AttemptID] = cp
	s.mu.Unlock()
	return nil
}

func (s *CheckpointStore) LoadCheckpoint(_ context.Context, attemptID string) (app.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[attemptID]
	if !ok {
		return app.Checkpoint{}, domain.ErrAttemptNotFound
	}
	return cp, nil
}

func (s *CheckpointStore) DeleteCheckpoint(_ context.Context, attemptID string) error {
	s.mu.Lock()
	delete(s.checkpoints, attemptID)
	s.mu.Unlock()
	return nil
}

// UUIDIssuer issues random attempt ids.
type UUIDIssuer struct{}

func (UUIDIssuer) IssueAttempt(ctx context.Context, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}
