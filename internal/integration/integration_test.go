package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap/zaptest"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/infra/memory"
	pgstore "readiness-quiz-service/internal/infra/postgres"
	pgmigrations "readiness-quiz-service/internal/infra/postgres/migrations"
	infraredis "readiness-quiz-service/internal/infra/redis"
	"readiness-quiz-service/internal/readiness"
)

type stack struct {
	pool     *pgxpool.Pool
	db       *bun.DB
	redis    *goredis.Client
	catalog  *infraredis.CatalogRepository
	results  *pgstore.TestResultSink
	metrics  *pgstore.MetricsRepository
	attempts *infraredis.AttemptStore
}

func (s stack) service(t *testing.T) (*app.AttemptService, *readiness.Aggregator) {
	aggregator := readiness.NewAggregator(s.metrics)
	return app.NewAttemptService(s.attempts, s.catalog, memory.UUIDIssuer{},
		app.WithAggregator(aggregator),
		app.WithResultSink(s.results),
		app.WithCheckpointer(s.attempts),
		app.WithLogger(zaptest.NewLogger(t)),
	), aggregator
}

func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	st, cleanup := setup(t, ctx)
	defer cleanup()
	service, aggregator := st.service(t)

	snap, err := service.StartAttempt(ctx, "u1", "backend", 1)
	require.NoError(t, err)
	owner, err := st.attempts.Owner(ctx, snap.AttemptID)
	require.NoError(t, err)
	assert.NotEmpty(t, owner, "attempt lease is taken")

	for _, qid := range []string{"q1", "q2"} {
		_, err := service.Answer(ctx, "u1", snap.AttemptID, qid, "B")
		require.NoError(t, err, "answer %s", qid)
	}

	outcome, err := service.Submit(ctx, "u1", snap.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, 100, outcome.Result.Percentage)
	assert.True(t, outcome.Result.Passed)
	assert.Empty(t, outcome.AggregationError)

	profile, err := aggregator.Profile(ctx, "u1", "backend")
	require.NoError(t, err)
	assert.Equal(t, 100, profile.TechnicalScore)
	assert.Equal(t, 50, profile.ReadinessScore)
	assert.True(t, profile.IsPrimary)
	assert.Len(t, profile.Levels, 1)

	records, err := st.results.ListTestResults(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, snap.AttemptID, records[0].AttemptID)
	assert.Equal(t, domain.ProfileID("u1", "backend"), records[0].CareerID)

	// a retried sink write for the same attempt is ignored
	require.NoError(t, st.results.SubmitTestResult(ctx, records[0]))
	records, err = st.results.ListTestResults(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestAttemptResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	st, cleanup := setup(t, ctx)
	defer cleanup()
	first, _ := st.service(t)

	snap, err := first.StartQuiz(ctx, "u1", "be-1")
	require.NoError(t, err)
	_, err = first.Answer(ctx, "u1", snap.AttemptID, "q1", "B")
	require.NoError(t, err)

	// another instance cannot take the attempt while the lease is held
	other := st
	other.attempts = infraredis.NewAttemptStore(st.redis, time.Hour, infraredis.WithInstance("other-node"))
	otherService, _ := other.service(t)
	_, err = otherService.Resume(ctx, "u1", snap.AttemptID)
	require.ErrorIs(t, err, domain.ErrAttemptHeldElsewhere)

	// the same host restarting shares only Redis and Postgres
	st.attempts = infraredis.NewAttemptStore(st.redis, time.Hour)
	second, _ := st.service(t)

	resumed, err := second.Resume(ctx, "u1", snap.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateInProgress, resumed.State)
	assert.Equal(t, "B", resumed.Answers["q1"])
	assert.Greater(t, resumed.TimeRemainingSeconds, 0)
	assert.LessOrEqual(t, resumed.TimeRemainingSeconds, 300)

	require.NoError(t, second.Abandon(ctx, "u1", snap.AttemptID))
	require.NoError(t, first.Abandon(ctx, "u1", snap.AttemptID))
}

// Two instances each have their own in-process locks, so only the database serialises them.
func TestConcurrentAggregationAcrossInstances(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	st, cleanup := setup(t, ctx)
	defer cleanup()

	instanceA := readiness.NewAggregator(pgstore.NewMetricsRepository(st.db))
	instanceB := readiness.NewAggregator(pgstore.NewMetricsRepository(st.db))
	passed := func(pct int) domain.AttemptResult { return domain.AttemptResult{Percentage: pct, Passed: true} }

	type job struct {
		agg *readiness.Aggregator
		in  readiness.Input
	}
	run := func(jobs ...job) {
		var wg sync.WaitGroup
		errs := make(chan error, len(jobs))
		for _, j := range jobs {
			wg.Add(1)
			go func(j job) {
				defer wg.Done()
				_, err := j.agg.ApplyResult(ctx, j.in)
				errs <- err
			}(j)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
	}

	run(
		job{instanceA, readiness.Input{UserID: "u9", Category: domain.CategorySoftSkill, Specialisation: "backend", Result: passed(70)}},
		job{instanceB, readiness.Input{UserID: "u9", Category: domain.CategorySoftSkill, Specialisation: "frontend", Result: passed(70)}},
	)
	profiles, err := instanceA.Profiles(ctx, "u9")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.NotEqual(t, profiles[0].IsPrimary, profiles[1].IsPrimary, "exactly one primary")

	run(
		job{instanceA, readiness.Input{UserID: "u9", Category: domain.CategorySoftSkill, Specialisation: "backend", Result: passed(90)}},
		job{instanceB, readiness.Input{UserID: "u9", Category: domain.CategoryTechnical, Specialisation: "backend", Level: 1, Result: passed(80)}},
	)
	profile, err := instanceB.Profile(ctx, "u9", "backend")
	require.NoError(t, err)
	assert.Equal(t, 90, profile.SoftSkillScore)
	assert.Equal(t, 80, profile.TechnicalScore)
	assert.Equal(t, 85, profile.ReadinessScore)
}

func setup(t *testing.T, ctx context.Context) (stack, func()) {
	t.Helper()
	pgURL, pgCleanup := startPostgres(t, ctx)
	t.Cleanup(pgCleanup)
	redisURL, redisCleanup := startRedis(t, ctx)
	t.Cleanup(redisCleanup)

	db := migrateDB(t, ctx, pgURL)
	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err, "connect pg")
	loader := pgstore.NewCatalogLoader(pool)
	require.NoError(t, loader.UpsertQuiz(ctx, sampleQuiz()), "seed quiz")

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err, "redis client")

	st := stack{
		pool:     pool,
		db:       db,
		redis:    redisClient,
		catalog:  infraredis.NewCatalogRepository(redisClient, loader, 5*time.Minute),
		results:  pgstore.NewTestResultSink(pool),
		metrics:  pgstore.NewMetricsRepository(db),
		attempts: infraredis.NewAttemptStore(redisClient, time.Hour),
	}
	return st, func() {
		_ = redisClient.Close()
		pool.Close()
		_ = db.Close()
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		require.NoError(t, err, "start postgres")
	}
	host, err := container.Host(ctx)
	require.NoError(t, err, "postgres host")
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err, "postgres port")
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		require.NoError(t, err, "start redis")
	}
	host, err := container.Host(ctx)
	require.NoError(t, err, "redis host")
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err, "redis port")
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx), "migrator init")
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err, "migrate")
	return db
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:               "be-1",
		Title:            "Backend basics",
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

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
