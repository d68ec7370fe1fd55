package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"readiness-quiz-service/internal/domain"
)

// CatalogLoader loads quiz JSONB from Postgres.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

// FindQuizID returns the lowest quiz id registered for the pair.
func (l *CatalogLoader) FindQuizID(ctx context.Context, specialisation string, level int) (string, error) {
	var id string
	err := l.pool.QueryRow(ctx,
		`SELECT id FROM quizzes WHERE specialisation=$1 AND difficulty_level=$2 ORDER BY id LIMIT 1`,
		specialisation, level,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrQuizNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find quiz: %w", err)
	}
	return id, nil
}

// UpsertQuiz writes a quiz, replacing any previous version.
func (l *CatalogLoader) UpsertQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO quizzes (id, specialisation, difficulty_level, category, data)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			specialisation = EXCLUDED.specialisation,
			difficulty_level = EXCLUDED.difficulty_level,
			category = EXCLUDED.category,
			data = EXCLUDED.data`,
		quiz.ID, quiz.Specialisation, quiz.DifficultyLevel, string(quiz.Category), string(data),
	)
	if err != nil {
		return fmt.Errorf("upsert quiz %s: %w", quiz.ID, err)
	}
	return nil
}

// TestResultSink appends test results to the test_results table. A retried submission
// for the same attempt is ignored.
type TestResultSink struct {
	pool *pgxpool.Pool
}

func NewTestResultSink(pool *pgxpool.Pool) *TestResultSink {
	return &TestResultSink{pool: pool}
}

func (s *TestResultSink) SubmitTestResult(ctx context.Context, r domain.TestResultRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO test_results
			(attempt_id, user_id, career_id, specialisation, category, level, score, passed, time_taken_seconds, questions_count, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (attempt_id) DO NOTHING`,
		r.AttemptID, r.UserID, r.CareerID, r.Specialisation, string(r.Category), r.Level,
		r.Score, r.Passed, r.TimeTakenSeconds, r.QuestionsCount, r.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert test result: %w", err)
	}
	return nil
}

// ListTestResults returns a user's results, newest first.
func (s *TestResultSink) ListTestResults(ctx context.Context, userID string, limit int) ([]domain.TestResultRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT attempt_id, user_id, career_id, specialisation, category, level, score, passed,
		       time_taken_seconds, questions_count, recorded_at
		FROM test_results WHERE user_id=$1 ORDER BY recorded_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list test results: %w", err)
	}
	defer rows.Close()

	var out []domain.TestResultRecord
	for rows.Next() {
		var (
			r        domain.TestResultRecord
			category string
		)
		if err := rows.Scan(&r.AttemptID, &r.UserID, &r.CareerID, &r.Specialisation, &category, &r.Level,
			&r.Score, &r.Passed, &r.TimeTakenSeconds, &r.QuestionsCount, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan test result: %w", err)
		}
		r.Category = domain.Category(category)
		out = append(out, r)
	}
	return out, rows.Err()
}
