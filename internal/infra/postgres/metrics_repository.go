package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/readiness"
)

type careerProfile struct {
	bun.BaseModel `bun:"table:career_profiles,alias:cp"`

	UserID         string    `bun:"user_id,pk"`
	Specialisation string    `bun:"specialisation,pk"`
	TechnicalScore int       `bun:"technical_score,notnull"`
	SoftSkillScore int       `bun:"soft_skill_score,notnull"`
	ReadinessScore int       `bun:"readiness_score,notnull"`
	IsPrimary      bool      `bun:"is_primary,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

type levelSummary struct {
	bun.BaseModel `bun:"table:level_summaries,alias:ls"`

	UserID         string    `bun:"user_id,pk"`
	Specialisation string    `bun:"specialisation,pk"`
	Level          int       `bun:"level,pk"`
	BestScore      int       `bun:"best_score,notnull"`
	AttemptCount   int       `bun:"attempt_count,notnull"`
	LastAttemptAt  time.Time `bun:"last_attempt_at,notnull"`
	Passed         bool      `bun:"passed,notnull"`
}

func (p careerProfile) toDomain() domain.ReadinessMetrics {
	return domain.ReadinessMetrics{
		UserID:         p.UserID,
		Specialisation: p.Specialisation,
		TechnicalScore: p.TechnicalScore,
		SoftSkillScore: p.SoftSkillScore,
		ReadinessScore: p.ReadinessScore,
		IsPrimary:      p.IsPrimary,
		UpdatedAt:      p.UpdatedAt,
	}
}

// MetricsRepository stores readiness metrics with bun. Inside WithinUserTx it reads rows
// with FOR UPDATE.
type MetricsRepository struct {
	db     bun.IDB
	locked bool
}

func NewMetricsRepository(db *bun.DB) *MetricsRepository {
	return &MetricsRepository{db: db}
}

// WithinUserTx runs fn in a transaction holding an advisory lock on the user, so concurrent
// updates from other instances queue behind it. New profiles are covered too, since they have
// no row to lock yet.
func (r *MetricsRepository) WithinUserTx(ctx context.Context, userID string, fn func(ctx context.Context, repo readiness.MetricsRepository) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", userID); err != nil {
			return fmt.Errorf("lock user %s: %w", userID, err)
		}
		return fn(ctx, &MetricsRepository{db: tx, locked: true})
	})
}

func (r *MetricsRepository) forUpdate(q *bun.SelectQuery) *bun.SelectQuery {
	if r.locked {
		return q.For("UPDATE")
	}
	return q
}

func (r *MetricsRepository) GetMetrics(ctx context.Context, userID, specialisation string) (domain.ReadinessMetrics, error) {
	var p careerProfile
	err := r.forUpdate(r.db.NewSelect().Model(&p).
		Where("user_id = ? AND specialisation = ?", userID, specialisation)).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReadinessMetrics{}, readiness.ErrMetricsNotFound
	}
	if err != nil {
		return domain.ReadinessMetrics{}, fmt.Errorf("select profile: %w", err)
	}
	return p.toDomain(), nil
}

func (r *MetricsRepository) ListMetrics(ctx context.Context, userID string) ([]domain.ReadinessMetrics, error) {
	var profiles []careerProfile
	if err := r.db.NewSelect().Model(&profiles).
		Where("user_id = ?", userID).
		Order("specialisation ASC").
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	out := make([]domain.ReadinessMetrics, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p.toDomain())
	}
	return out, nil
}

func (r *MetricsRepository) SaveMetrics(ctx context.Context, m domain.ReadinessMetrics) error {
	p := careerProfile{
		UserID:         m.UserID,
		Specialisation: m.Specialisation,
		TechnicalScore: m.TechnicalScore,
		SoftSkillScore: m.SoftSkillScore,
		ReadinessScore: m.ReadinessScore,
		IsPrimary:      m.IsPrimary,
		UpdatedAt:      m.UpdatedAt,
	}
	_, err := r.db.NewInsert().Model(&p).
		On("CONFLICT (user_id, specialisation) DO UPDATE").
		Set("technical_score = EXCLUDED.technical_score").
		Set("soft_skill_score = EXCLUDED.soft_skill_score").
		Set("readiness_score = EXCLUDED.readiness_score").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *MetricsRepository) GetLevels(ctx context.Context, userID, specialisation string) ([]domain.LevelSummary, error) {
	var rows []levelSummary
	if err := r.forUpdate(r.db.NewSelect().Model(&rows).
		Where("user_id = ? AND specialisation = ?", userID, specialisation).
		Order("level ASC")).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	out := make([]domain.LevelSummary, 0, len(rows))
	for _, l := range rows {
		out = append(out, domain.LevelSummary{
			Level:         l.Level,
			BestScore:     l.BestScore,
			AttemptCount:  l.AttemptCount,
			LastAttemptAt: l.LastAttemptAt,
			Passed:        l.Passed,
		})
	}
	return out, nil
}

func (r *MetricsRepository) SaveLevel(ctx context.Context, userID, specialisation string, level domain.LevelSummary) error {
	row := levelSummary{
		UserID:         userID,
		Specialisation: specialisation,
		Level:          level.Level,
		BestScore:      level.BestScore,
		AttemptCount:   level.AttemptCount,
		LastAttemptAt:  level.LastAttemptAt,
		Passed:         level.Passed,
	}
	_, err := r.db.NewInsert().Model(&row).
		On("CONFLICT (user_id, specialisation, level) DO UPDATE").
		Set("best_score = EXCLUDED.best_score").
		Set("attempt_count = EXCLUDED.attempt_count").
		Set("last_attempt_at = EXCLUDED.last_attempt_at").
		Set("passed = EXCLUDED.passed").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert level: %w", err)
	}
	return nil
}

// SetPrimary flips the primary flag in one transaction so a user never has two.
func (r *MetricsRepository) SetPrimary(ctx context.Context, userID, specialisation string) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*careerProfile)(nil)).
			Where("user_id = ? AND specialisation = ?", userID, specialisation).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("check profile: %w", err)
		}
		if !exists {
			return readiness.ErrMetricsNotFound
		}
		if _, err := tx.NewUpdate().Model((*careerProfile)(nil)).
			Set("is_primary = FALSE").
			Where("user_id = ? AND is_primary", userID).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear primary: %w", err)
		}
		if _, err := tx.NewUpdate().Model((*careerProfile)(nil)).
			Set("is_primary = TRUE").
			Where("user_id = ? AND specialisation = ?", userID, specialisation).
			Exec(ctx); err != nil {
			return fmt.Errorf("set primary: %w", err)
		}
		return nil
	})
}
