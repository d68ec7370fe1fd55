// Package readiness folds scored attempts into per-specialisation readiness metrics.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"readiness-quiz-service/internal/domain"
)

// ErrMetricsNotFound is returned by repositories when a user has no profile for a specialisation.
var ErrMetricsNotFound = errors.New("readiness metrics not found")

// MetricsRepository persists career profiles and their technical level summaries.
type MetricsRepository interface {
	GetMetrics(ctx context.Context, userID, specialisation string) (domain.ReadinessMetrics, error)
	ListMetrics(ctx context.Context, userID string) ([]domain.ReadinessMetrics, error)
	SaveMetrics(ctx context.Context, metrics domain.ReadinessMetrics) error
	GetLevels(ctx context.Context, userID, specialisation string) ([]domain.LevelSummary, error)
	SaveLevel(ctx context.Context, userID, specialisation string, level domain.LevelSummary) error
	SetPrimary(ctx context.Context, userID, specialisation string) error
}

// Transactor is implemented by repositories that can run one read-modify-write atomically
// across processes. fn receives a repository bound to the transaction.
type Transactor interface {
	WithinUserTx(ctx context.Context, userID string, fn func(ctx context.Context, repo MetricsRepository) error) error
}

// TechnicalRollup turns per-level summaries into the technical score.
type TechnicalRollup func(levels []domain.LevelSummary) int

// BestPassedLevel returns the highest best score among levels the user has passed.
func BestPassedLevel(levels []domain.LevelSummary) int {
	best := 0
	for _, l := range levels {
		if l.Passed && l.BestScore > best {
			best = l.BestScore
		}
	}
	return best
}

// Input is one scored attempt to fold into the metrics.
type Input struct {
	UserID         string
	Category       domain.Category
	Specialisation string
	Level          int
	Result         domain.AttemptResult
}

// Aggregator applies attempt results to a MetricsRepository. Updates for the same user are
// serialised so concurrent results never overwrite each other.
type Aggregator struct {
	repo   MetricsRepository
	rollup TechnicalRollup
	now    func() time.Time
	locks  userLocks
}

type Option func(*Aggregator)

// WithRollup replaces the technical score policy.
func WithRollup(r TechnicalRollup) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.rollup = r
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAggregator(repo MetricsRepository, opts ...Option) *Aggregator {
	a := &Aggregator{repo: repo, rollup: BestPassedLevel, now: time.Now, locks: userLocks{held: make(map[string]*userLock)}}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ApplyResult updates and stores the metrics for in.UserID and in.Specialisation.
// Every failure is returned as *domain.AggregationError.
func (a *Aggregator) ApplyResult(ctx context.Context, in Input) (domain.ReadinessMetrics, error) {
	metrics, err := a.apply(ctx, in)
	if err != nil {
		return domain.ReadinessMetrics{}, &domain.AggregationError{
			UserID:         in.UserID,
			Specialisation: in.Specialisation,
			Err:            err,
		}
	}
	return metrics, nil
}

func (a *Aggregator) apply(ctx context.Context, in Input) (domain.ReadinessMetrics, error) {
	if in.UserID == "" || in.Specialisation == "" {
		return domain.ReadinessMetrics{}, errors.New("user and specialisation are required")
	}
	unlock := a.locks.lock(in.UserID)
	defer unlock()

	tx, ok := a.repo.(Transactor)
	if !ok {
		return a.applyTo(ctx, a.repo, in)
	}
	var metrics domain.ReadinessMetrics
	err := tx.WithinUserTx(ctx, in.UserID, func(ctx context.Context, repo MetricsRepository) error {
		var err error
		metrics, err = a.applyTo(ctx, repo, in)
		return err
	})
	if err != nil {
		return domain.ReadinessMetrics{}, err
	}
	return metrics, nil
}

func (a *Aggregator) applyTo(ctx context.Context, repo MetricsRepository, in Input) (domain.ReadinessMetrics, error) {
	metrics, err := loadOrCreate(ctx, repo, in.UserID, in.Specialisation)
	if err != nil {
		return domain.ReadinessMetrics{}, err
	}

	levels, err := repo.GetLevels(ctx, in.UserID, in.Specialisation)
	if err != nil {
		return domain.ReadinessMetrics{}, fmt.Errorf("load levels: %w", err)
	}

	now := a.now().UTC()
	switch in.Category {
	case domain.CategorySoftSkill:
		metrics.SoftSkillScore = ApplySoftSkill(metrics.SoftSkillScore, in.Result)
	case domain.CategoryTechnical:
		updated := UpdateLevel(findLevel(levels, in.Level), in.Result, now)
		if err := repo.SaveLevel(ctx, in.UserID, in.Specialisation, updated); err != nil {
			return domain.ReadinessMetrics{}, fmt.Errorf("save level %d: %w", in.Level, err)
		}
		levels = replaceLevel(levels, updated)
		metrics.TechnicalScore = clamp(a.rollup(levels))
	default:
		return domain.ReadinessMetrics{}, fmt.Errorf("unknown category %q", in.Category)
	}

	metrics.ReadinessScore = ReadinessScore(metrics.TechnicalScore, metrics.SoftSkillScore)
	metrics.UpdatedAt = now
	metrics.Levels = levels
	if err := repo.SaveMetrics(ctx, metrics); err != nil {
		return domain.ReadinessMetrics{}, fmt.Errorf("save metrics: %w", err)
	}
	return metrics, nil
}

func loadOrCreate(ctx context.Context, repo MetricsRepository, userID, specialisation string) (domain.ReadinessMetrics, error) {
	metrics, err := repo.GetMetrics(ctx, userID, specialisation)
	if err == nil {
		return metrics, nil
	}
	if !errors.Is(err, ErrMetricsNotFound) {
		return domain.ReadinessMetrics{}, fmt.Errorf("load metrics: %w", err)
	}

	existing, err := repo.ListMetrics(ctx, userID)
	if err != nil {
		return domain.ReadinessMetrics{}, fmt.Errorf("list profiles: %w", err)
	}
	primary := true
	for _, m := range existing {
		if m.IsPrimary {
			primary = false
			break
		}
	}
	return domain.ReadinessMetrics{UserID: userID, Specialisation: specialisation, IsPrimary: primary}, nil
}

// Profiles lists every profile of a user, primary first.
func (a *Aggregator) Profiles(ctx context.Context, userID string) ([]domain.ReadinessMetrics, error) {
	profiles, err := a.repo.ListMetrics(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		if profiles[i].IsPrimary != profiles[j].IsPrimary {
			return profiles[i].IsPrimary
		}
		return profiles[i].Specialisation < profiles[j].Specialisation
	})
	return profiles, nil
}

// Profile returns one profile with its level summaries.
func (a *Aggregator) Profile(ctx context.Context, userID, specialisation string) (domain.ReadinessMetrics, error) {
	metrics, err := a.repo.GetMetrics(ctx, userID, specialisation)
	if err != nil {
		return domain.ReadinessMetrics{}, err
	}
	levels, err := a.repo.GetLevels(ctx, userID, specialisation)
	if err != nil {
		return domain.ReadinessMetrics{}, err
	}
	metrics.Levels = levels
	return metrics, nil
}

// SetPrimary makes specialisation the user's primary profile.
func (a *Aggregator) SetPrimary(ctx context.Context, userID, specialisation string) error {
	unlock := a.locks.lock(userID)
	defer unlock()
	if _, err := a.repo.GetMetrics(ctx, userID, specialisation); err != nil {
		return err
	}
	return a.repo.SetPrimary(ctx, userID, specialisation)
}

// userLocks hands out one mutex per user id and forgets it once nobody holds or waits on it.
type userLocks struct {
	mu   sync.Mutex
	held map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	ul, ok := l.held[userID]
	if !ok {
		ul = &userLock{}
		l.held[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.held, userID)
		}
		l.mu.Unlock()
	}
}

// ApplySoftSkill keeps the best passed percentage. Failed attempts leave the score unchanged.
func ApplySoftSkill(current int, result domain.AttemptResult) int {
	if !result.Passed {
		return current
	}
	if result.Percentage > current {
		return result.Percentage
	}
	return current
}

// ReadinessScore is the round-half-up mean of the two category scores.
func ReadinessScore(technical, softSkill int) int {
	return (technical + softSkill + 1) / 2
}

// UpdateLevel folds one technical attempt into the level summary.
func UpdateLevel(current domain.LevelSummary, result domain.AttemptResult, at time.Time) domain.LevelSummary {
	current.AttemptCount++
	current.LastAttemptAt = at
	if result.Percentage > current.BestScore {
		current.BestScore = result.Percentage
	}
	if result.Passed {
		current.Passed = true
	}
	return current
}

func findLevel(levels []domain.LevelSummary, level int) domain.LevelSummary {
	for _, l := range levels {
		if l.Level == level {
			return l
		}
	}
	return domain.LevelSummary{Level: level}
}

func replaceLevel(levels []domain.LevelSummary, updated domain.LevelSummary) []domain.LevelSummary {
	out := make([]domain.LevelSummary, 0, len(levels)+1)
	replaced := false
	for _, l := range levels {
		if l.Level == updated.Level {
			out = append(out, updated)
			replaced = true
			continue
		}
		out = append(out, l)
	}
	if !replaced {
		out = append(out, updated)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out
}

func clamp(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
