package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/infra/memory"
)

// AttemptStore is a Redis-aware implementation of app.AttemptRepository and app.Checkpointer.
// Notes:
//   - Live attempts (with their countdowns and subscribers) stay in a local map; Redis holds a
//     lease under quiz:attempt:{id} naming the instance that runs the attempt.
//   - Leases expire unless RunHeartbeat refreshes them, so a crashed instance frees its
//     attempts after one lease TTL.
//   - Checkpoints survive a restart so Resume can rebuild the attempt on any instance.
type AttemptStore struct {
	*memory.AttemptStore
	client   *redis.Client
	ttl      time.Duration
	instance string
	leaseTTL time.Duration
}

type StoreOption func(*AttemptStore)

// WithInstance names this process in attempt leases. Defaults to the hostname.
func WithInstance(id string) StoreOption {
	return func(s *AttemptStore) {
		if id != "" {
			s.instance = id
		}
	}
}

// WithLeaseTTL sets how long a lease outlives its last heartbeat.
func WithLeaseTTL(d time.Duration) StoreOption {
	return func(s *AttemptStore) {
		if d > 0 {
			s.leaseTTL = d
		}
	}
}

const defaultLeaseTTL = 30 * time.Second

// claimScript takes the lease when it is free or already ours.
var claimScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == false or owner == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
end
return 0
`)

// releaseScript drops the lease only when we hold it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewAttemptStore(client *redis.Client, ttl time.Duration, opts ...StoreOption) *AttemptStore {
	s := &AttemptStore{
		AttemptStore: memory.NewAttemptStore(),
		client:       client,
		ttl:          ttl,
		leaseTTL:     defaultLeaseTTL,
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		s.instance = host
	} else {
		s.instance = uuid.NewString()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *AttemptStore) Put(attempt *app.Attempt) *app.Attempt {
	replaced := s.AttemptStore.Put(attempt)
	// best-effort; ClaimAttempt is the checked path
	_ = s.claim(context.Background(), attempt.ID())
	return replaced
}

func (s *AttemptStore) Delete(attemptID string) {
	s.AttemptStore.Delete(attemptID)
	_ = releaseScript.Run(context.Background(), s.client, []string{s.liveKey(attemptID)}, s.instance).Err()
}

// ClaimAttempt takes the lease for attemptID, failing with domain.ErrAttemptHeldElsewhere
// while another instance holds it.
func (s *AttemptStore) ClaimAttempt(ctx context.Context, attemptID string) error {
	err := s.claim(ctx, attemptID)
	if errors.Is(err, errLeaseTaken) {
		return domain.ErrAttemptHeldElsewhere
	}
	return err
}

var errLeaseTaken = errors.New("lease taken")

func (s *AttemptStore) claim(ctx context.Context, attemptID string) error {
	ok, err := claimScript.Run(ctx, s.client, []string{s.liveKey(attemptID)}, s.instance, s.leaseTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("claim attempt %s: %w", attemptID, err)
	}
	if ok == 0 {
		return errLeaseTaken
	}
	return nil
}

// Owner returns the instance holding the lease, or "" when nobody does.
func (s *AttemptStore) Owner(ctx context.Context, attemptID string) (string, error) {
	owner, err := s.client.Get(ctx, s.liveKey(attemptID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// RefreshLeases extends the lease of every unfinished local attempt and returns how many
// were refreshed.
func (s *AttemptStore) RefreshLeases(ctx context.Context) int {
	var ids []string
	s.Range(func(a *app.Attempt) bool {
		if a.State() != domain.StateCompleted {
			ids = append(ids, a.ID())
		}
		return true
	})
	refreshed := 0
	for _, id := range ids {
		if err := s.claim(ctx, id); err == nil {
			refreshed++
		}
	}
	return refreshed
}

// RunHeartbeat refreshes leases three times per lease TTL until ctx is done.
func (s *AttemptStore) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.leaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RefreshLeases(ctx)
		}
	}
}

// Checkpoint layout:
//   HSET quiz:attempt:{id}:checkpoint user {userID} quiz {quizID} started {RFC3339Nano}
//   HSET quiz:attempt:{id}:answers    {questionID} {optionKey}
func (s *AttemptStore) SaveCheckpoint(ctx context.Context, cp app.Checkpoint) error {
	metaKey := s.checkpointKey(cp.AttemptID)
	answersKey := s.answersKey(cp.AttemptID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, metaKey,
		"user", cp.UserID,
		"quiz", cp.QuizID,
		"started", cp.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	pipe.Del(ctx, answersKey)
	if len(cp.Answers) > 0 {
		values := make([]interface{}, 0, len(cp.Answers)*2)
		for questionID, key := range cp.Answers {
			values = append(values, questionID, key)
		}
		pipe.HSet(ctx, answersKey, values...)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, metaKey, s.ttl)
		pipe.Expire(ctx, answersKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (s *AttemptStore) LoadCheckpoint(ctx context.Context, attemptID string) (app.Checkpoint, error) {
	meta, err := s.client.HGetAll(ctx, s.checkpointKey(attemptID)).Result()
	if err != nil {
		return app.Checkpoint{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if len(meta) == 0 {
		return app.Checkpoint{}, domain.ErrAttemptNotFound
	}
	startedAt, err := time.Parse(time.RFC3339Nano, meta["started"])
	if err != nil {
		return app.Checkpoint{}, fmt.Errorf("checkpoint %s start time: %w", attemptID, err)
	}
	answers, err := s.client.HGetAll(ctx, s.answersKey(attemptID)).Result()
	if err != nil {
		return app.Checkpoint{}, fmt.Errorf("load checkpoint answers: %w", err)
	}
	return app.Checkpoint{
		AttemptID: attemptID,
		UserID:    meta["user"],
		QuizID:    meta["quiz"],
		StartedAt: startedAt,
		Answers:   answers,
	}, nil
}

func (s *AttemptStore) DeleteCheckpoint(ctx context.Context, attemptID string) error {
	return s.client.Del(ctx, s.checkpointKey(attemptID), s.answersKey(attemptID)).Err()
}

func (s *AttemptStore) liveKey(attemptID string) string {
	return "quiz:attempt:" + attemptID
}

func (s *AttemptStore) checkpointKey(attemptID string) string {
	return "quiz:attempt:" + attemptID + ":checkpoint"
}

func (s *AttemptStore) answersKey(attemptID string) string {
	return "quiz:attempt:" + attemptID + ":answers"
}
