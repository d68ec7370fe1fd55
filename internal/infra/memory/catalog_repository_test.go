package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readiness-quiz-service/internal/domain"
)

func TestCatalogRepositoryCaches(t *testing.T) {
	loader := &countingLoader{CatalogLoader: NewStaticCatalogLoader(sampleQuiz())}
	repo := NewCatalogRepository(loader, time.Minute)

	_, err := repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads)

	_, err = repo.GetQuiz(context.Background(), "quiz-1")
	require.NoError(t, err)
	assert.Equal(t, 1, loader.loads, "second read should hit the cache")
}

func TestCatalogRepositoryFindQuizCachesLookup(t *testing.T) {
	loader := &countingLoader{CatalogLoader: NewStaticCatalogLoader(sampleQuiz())}
	repo := NewCatalogRepository(loader, time.Minute)

	for i := 0; i < 3; i++ {
		quiz, err := repo.FindQuiz(context.Background(), "backend", 1)
		require.NoError(t, err)
		assert.Equal(t, "quiz-1", quiz.ID)
	}
	assert.Equal(t, 1, loader.finds)
	assert.Equal(t, 1, loader.loads)

	_, err := repo.FindQuiz(context.Background(), "backend", 4)
	assert.ErrorIs(t, err, domain.ErrQuizNotFound)
}

func TestCatalogRepositoryExpires(t *testing.T) {
	loader := &countingLoader{CatalogLoader: NewStaticCatalogLoader(sampleQuiz())}
	repo := NewCatalogRepository(loader, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	assert.Equal(t, 2, loader.loads, "reload after ttl")

	repo.Invalidate()
	_, _ = repo.GetQuiz(context.Background(), "quiz-1")
	assert.Equal(t, 3, loader.loads, "reload after invalidate")
}

const catalogQuizYAML = `
quizzes:
  - quizId: be-1
    title: Backend basics
    category: technical
    difficultyLevel: 1
    timeLimitMinutes: 10
    specialisation: backend
    questions:
      - questionId: q1
        text: Which status code means not found?
        options:
          - key: A
            text: "200"
          - key: %s
            text: "404"
            isCorrect: true
      - questionId: %s
        text: Which verb is idempotent?
        options:
          - key: A
            text: PUT
            isCorrect: true
          - key: B
            text: POST
`

func TestParseCatalogValidates(t *testing.T) {
	quizzes, err := ParseCatalog([]byte(fmt.Sprintf(catalogQuizYAML, "B", "q2")))
	require.NoError(t, err)
	require.Len(t, quizzes, 1)
	assert.True(t, quizzes[0].Questions[0].Options[1].IsCorrect)

	bad := []byte(`
quizzes:
  - quizId: be-1
    category: technical
    difficultyLevel: 9
    specialisation: backend
`)
	_, err = ParseCatalog(bad)
	assert.Error(t, err, "level 9 is out of range")
}

func TestParseCatalogRejectsDuplicateKeys(t *testing.T) {
	_, err := ParseCatalog([]byte(fmt.Sprintf(catalogQuizYAML, "B", "q1")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate question id "q1"`)

	_, err = ParseCatalog([]byte(fmt.Sprintf(catalogQuizYAML, "A", "q2")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `duplicate option key "A"`)
}

type countingLoader struct {
	CatalogLoader
	mu    sync.Mutex
	loads int
	finds int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.loads++
	l.mu.Unlock()
	return l.CatalogLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) FindQuizID(ctx context.Context, specialisation string, level int) (string, error) {
	l.mu.Lock()
	l.finds++
	l.mu.Unlock()
	return l.CatalogLoader.FindQuizID(ctx, specialisation, level)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:               "quiz-1",
		Category:         domain.CategoryTechnical,
		DifficultyLevel:  1,
		TimeLimitMinutes: 5,
		Specialisation:   "backend",
		Questions: []domain.Question{
			{
				ID:   "q1",
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{Key: "A", Text: "3"},
					{Key: "B", Text: "4", IsCorrect: true},
				},
				Points: 1,
			},
		},
	}
}

func TestShippedCatalogLoads(t *testing.T) {
	loader, err := LoadCatalogFile("../../../config/catalog.yaml")
	require.NoError(t, err)

	id, err := loader.FindQuizID(context.Background(), "backend", 1)
	require.NoError(t, err)
	assert.Equal(t, "backend-1", id)

	for _, quiz := range loader.Quizzes() {
		for _, q := range quiz.Questions {
			_, ok := q.CorrectKey()
			assert.True(t, ok, "quiz %s question %s has no correct option", quiz.ID, q.ID)
		}
	}
}
