package cli

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"

	"readiness-quiz-service/internal/config"
	"readiness-quiz-service/internal/infra/memory"
	pgstore "readiness-quiz-service/internal/infra/postgres"
	pgmigrations "readiness-quiz-service/internal/infra/postgres/migrations"
	"readiness-quiz-service/internal/logging"
)

// NewMigrateCmd applies database migrations and optionally seeds the quiz catalog.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var (
		seed     string
		rollback bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := cmd.Context()
			if rollback {
				return rollbackMigrations(ctx, cfg, logger)
			}
			if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
				return err
			}
			if seed != "" {
				return seedCatalog(ctx, cfg, seed, logger)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "catalog YAML to upsert into the quizzes table")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the last migration group")
	return cmd
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		logger.Info("no new migrations")
		return nil
	}
	logger.Info("migrations applied", zap.String("group", group.String()))
	return nil
}

func rollbackMigrations(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}
	db := openBun(cfg.Postgres.URL)
	defer db.Close()

	group, err := migrate.NewMigrator(db, pgmigrations.Migrations).Rollback(ctx)
	if err != nil {
		return err
	}
	logger.Info("rolled back", zap.String("group", group.String()))
	return nil
}

func seedCatalog(ctx context.Context, cfg config.Config, path string, logger *zap.Logger) error {
	static, err := memory.LoadCatalogFile(path)
	if err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	loader := pgstore.NewCatalogLoader(pool)
	for _, quiz := range static.Quizzes() {
		if err := loader.UpsertQuiz(ctx, quiz); err != nil {
			return err
		}
	}
	logger.Info("catalog seeded", zap.String("file", path), zap.Int("quizzes", len(static.Quizzes())))
	return nil
}
