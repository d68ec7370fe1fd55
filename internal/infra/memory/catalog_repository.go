package memory

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"readiness-quiz-service/internal/domain"
)

// CatalogLoader fetches quiz content from a backing store (static file, Postgres).
type CatalogLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	// FindQuizID resolves the quiz served for a specialisation and level.
	FindQuizID(ctx context.Context, specialisation string, level int) (string, error)
}

// CatalogRepository caches quizzes and lookups with TTL to avoid repeated backing-store hits.
type CatalogRepository struct {
	loader CatalogLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.RWMutex
	quizzes map[string]cachedQuiz
	lookups map[string]cachedLookup
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

type cachedLookup struct {
	quizID    string
	expiresAt time.Time
}

func NewCatalogRepository(loader CatalogLoader, ttl time.Duration) *CatalogRepository {
	return &CatalogRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		quizzes: make(map[string]cachedQuiz),
		lookups: make(map[string]cachedLookup),
	}
}

func (r *CatalogRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.quizzes[quizID]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do("quiz:"+quizID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.quizzes[quizID]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.quizzes[quizID] = cachedQuiz{quiz: quiz, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// FindQuiz resolves the quiz for a specialisation and level, caching the lookup separately
// from the quiz body.
func (r *CatalogRepository) FindQuiz(ctx context.Context, specialisation string, level int) (domain.Quiz, error) {
	key := lookupKey(specialisation, level)
	now := r.clock()

	r.mu.RLock()
	entry, ok := r.lookups[key]
	r.mu.RUnlock()
	if ok && entry.expiresAt.After(now) {
		return r.GetQuiz(ctx, entry.quizID)
	}

	result, err, _ := r.sf.Do("lookup:"+key, func() (interface{}, error) {
		quizID, err := r.loader.FindQuizID(ctx, specialisation, level)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.lookups[key] = cachedLookup{quizID: quizID, expiresAt: now.Add(r.ttlWithJitter())}
		r.mu.Unlock()
		return quizID, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return r.GetQuiz(ctx, result.(string))
}

// Invalidate drops every cached entry.
func (r *CatalogRepository) Invalidate() {
	r.mu.Lock()
	r.quizzes = make(map[string]cachedQuiz)
	r.lookups = make(map[string]cachedLookup)
	r.mu.Unlock()
}

func lookupKey(specialisation string, level int) string {
	return specialisation + "|" + strconv.Itoa(level)
}

func (r *CatalogRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
