package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/app"
	"readiness-quiz-service/internal/config"
	"readiness-quiz-service/internal/infra/events"
	"readiness-quiz-service/internal/infra/memory"
	pgstore "readiness-quiz-service/internal/infra/postgres"
	redisstore "readiness-quiz-service/internal/infra/redis"
	"readiness-quiz-service/internal/logging"
	"readiness-quiz-service/internal/readiness"
	transport "readiness-quiz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	if deps.heartbeat != nil {
		go deps.heartbeat(ctx)
	}
	go deps.service.RunPruner(ctx,
		config.TTLDuration(cfg.Attempts.PruneInterval, time.Minute),
		config.TTLDuration(cfg.Attempts.Retention, 30*time.Minute),
	)

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(deps.service, deps.aggregator, logger),
		ReadTimeout: 15 * time.Second,
		// websocket connections outlive any write timeout, so only reads are bounded
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting quiz service", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down server")
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type deps struct {
	service    *app.AttemptService
	aggregator *readiness.Aggregator
	heartbeat  func(context.Context)
	closers    []func() error
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// buildDeps picks Postgres and Redis backends when configured and in-memory ones otherwise.
func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{}
	fail := func(err error) (*deps, error) {
		d.close()
		return nil, err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, redisClient.Close)
	}

	var (
		pool *pgxpool.Pool
		db   *bun.DB
	)
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return fail(fmt.Errorf("connect postgres: %w", err))
		}
		d.closers = append(d.closers, func() error { pool.Close(); return nil })
		db = openBun(cfg.Postgres.URL)
		d.closers = append(d.closers, db.Close)
	}

	var loader memory.CatalogLoader
	switch {
	case pool != nil:
		loader = pgstore.NewCatalogLoader(pool)
	case cfg.Catalog.File != "":
		static, err := memory.LoadCatalogFile(cfg.Catalog.File)
		if err != nil {
			return fail(err)
		}
		logger.Info("catalog loaded", zap.String("file", cfg.Catalog.File), zap.Int("quizzes", len(static.Quizzes())))
		loader = static
	default:
		return fail(errors.New("no quiz catalog configured: set postgres.url or catalog.file"))
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var catalog app.CatalogRepository
	if redisClient != nil {
		catalog = redisstore.NewCatalogRepository(redisClient, loader, quizTTL)
	} else {
		catalog = memory.NewCatalogRepository(loader, quizTTL)
	}

	var (
		store       app.AttemptRepository
		checkpoints app.Checkpointer
	)
	if redisClient != nil {
		rs := redisstore.NewAttemptStore(redisClient,
			config.TTLDuration(cfg.Attempts.CheckpointTTL, 2*time.Hour),
			redisstore.WithInstance(cfg.Attempts.Instance),
			redisstore.WithLeaseTTL(config.TTLDuration(cfg.Attempts.LeaseTTL, 30*time.Second)),
		)
		store, checkpoints = rs, rs
		d.heartbeat = rs.RunHeartbeat
	} else {
		store, checkpoints = memory.NewAttemptStore(), memory.NewCheckpointStore()
	}

	var metrics readiness.MetricsRepository = memory.NewMetricsStore()
	if db != nil {
		metrics = pgstore.NewMetricsRepository(db)
	}
	d.aggregator = readiness.NewAggregator(metrics)

	var sinks app.ResultSinks
	if pool != nil {
		sinks = append(sinks, pgstore.NewTestResultSink(pool))
	}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(events.Config{
			Enabled:      cfg.Events.Enabled,
			Publisher:    cfg.Events.Publisher,
			KafkaBrokers: cfg.Events.KafkaBrokers,
			Topic:        cfg.Events.Topic,
		}, logger)
		if err != nil {
			return fail(err)
		}
		rp := events.NewResultPublisher(pub, cfg.Events.Topic, logger)
		d.closers = append(d.closers, rp.Close)
		sinks = append(sinks, rp)
	}

	opts := []app.ServiceOption{
		app.WithAggregator(d.aggregator),
		app.WithCheckpointer(checkpoints),
		app.WithLogger(logger),
		app.WithSubmitTimeout(config.TTLDuration(cfg.Attempts.SubmitTimeout, 30*time.Second)),
	}
	if len(sinks) > 0 {
		opts = append(opts, app.WithResultSink(sinks))
	}
	d.service = app.NewAttemptService(store, catalog, memory.UUIDIssuer{}, opts...)
	return d, nil
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}
