package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"readiness-quiz-service/internal/domain"
)

// CatalogLoader fetches quiz content from a backing store (static file, Postgres).
type CatalogLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	FindQuizID(ctx context.Context, specialisation string, level int) (string, error)
}

// CatalogRepository caches quizzes in Redis and falls back to a loader on cache miss.
// Quizzes are stored as:  SET quiz:{quizID} {json}
// Lookups are stored as:  SET quiz:lookup:{specialisation}:{level} {quizID}
type CatalogRepository struct {
	client *redis.Client
	loader CatalogLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewCatalogRepository(client *redis.Client, loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *CatalogRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(r.quizKey(quizID), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if raw, err := json.Marshal(quiz); err == nil {
			_ = r.client.Set(ctx, r.quizKey(quizID), raw, r.ttlWithJitter()).Err()
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

func (r *CatalogRepository) FindQuiz(ctx context.Context, specialisation string, level int) (domain.Quiz, error) {
	key := r.lookupKey(specialisation, level)
	quizID, err := r.client.Get(ctx, key).Result()
	if err == nil && quizID != "" {
		return r.GetQuiz(ctx, quizID)
	}

	result, err, _ := r.sf.Do(key, func() (interface{}, error) {
		quizID, err := r.loader.FindQuizID(ctx, specialisation, level)
		if err != nil {
			return "", err
		}
		_ = r.client.Set(ctx, key, quizID, r.ttlWithJitter()).Err()
		return quizID, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return r.GetQuiz(ctx, result.(string))
}

// cached reads a quiz from Redis. Redis errors count as a miss so the loader still serves.
func (r *CatalogRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := r.client.Get(ctx, r.quizKey(quizID)).Bytes()
	if err != nil {
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, false
	}
	return quiz, true
}

// Invalidate drops the cached quiz body.
func (r *CatalogRepository) Invalidate(ctx context.Context, quizID string) error {
	return r.client.Del(ctx, r.quizKey(quizID)).Err()
}

func (r *CatalogRepository) quizKey(quizID string) string {
	return "quiz:" + quizID
}

func (r *CatalogRepository) lookupKey(specialisation string, level int) string {
	return "quiz:lookup:" + specialisation + ":" + strconv.Itoa(level)
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
