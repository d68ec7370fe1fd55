package http

import (
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/infra/memory"
	"readiness-quiz-service/internal/readiness"
)

type testEnv struct {
	service  *app.AttemptService
	profiles *readiness.Aggregator
	router   *gin.Engine
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleQuiz()), time.Minute)
	aggregator := readiness.NewAggregator(memory.NewMetricsStore())
	service := app.NewAttemptService(memory.NewAttemptStore(), catalog, memory.UUIDIssuer{},
		app.WithAggregator(aggregator),
		app.WithResultSink(memory.NewResultRecorder()),
	)
	return testEnv{
		service:  service,
		profiles: aggregator,
		router:   NewRouter(service, aggregator, zap.NewNop()),
	}
}

// sampleQuiz is untimed so no ticks interleave with the assertions.
func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:              "quiz-1",
		Title:           "Backend basics",
		Category:        domain.CategoryTechnical,
		DifficultyLevel: 1,
		Specialisation:  "backend",
		Questions: []domain.Question{
			{
				ID:   "q1",
				Text: "What is 2 + 2?",
				Options: []domain.Option{
					{Key: "A", Text: "3"},
					{Key: "B", Text: "4", IsCorrect: true},
				},
			},
			{
				ID:   "q2",
				Text: "Which verb creates a resource?",
				Options: []domain.Option{
					{Key: "A", Text: "GET"},
					{Key: "B", Text: "POST", IsCorrect: true},
				},
			},
		},
	}
}
