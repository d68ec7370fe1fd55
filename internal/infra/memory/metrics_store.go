package memory

import (
	"context"
	"sort"
	"sync"

	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/readiness"
)

// MetricsStore is an in-memory readiness.MetricsRepository.
type MetricsStore struct {
	mu      sync.RWMutex
	metrics map[string]domain.ReadinessMetrics
	levels  map[string]map[int]domain.LevelSummary
}

func NewMetricsStore() *MetricsStore {
	return &MetricsStore{
		metrics: make(map[string]domain.ReadinessMetrics),
		levels:  make(map[string]map[int]domain.LevelSummary),
	}
}

func (s *MetricsStore) GetMetrics(_ context.Context, userID, specialisation string) (domain.ReadinessMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[domain.ProfileID(userID, specialisation)]
	if !ok {
		return domain.ReadinessMetrics{}, readiness.ErrMetricsNotFound
	}
	m.Levels = nil
	return m, nil
}

func (s *MetricsStore) ListMetrics(_ context.Context, userID string) ([]domain.ReadinessMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ReadinessMetrics
	for _, m := range s.metrics {
		if m.UserID == userID {
			m.Levels = nil
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Specialisation < out[j].Specialisation })
	return out, nil
}

func (s *MetricsStore) SaveMetrics(_ context.Context, metrics domain.ReadinessMetrics) error {
	metrics.Levels = nil
	s.mu.Lock()
	s.metrics[domain.ProfileID(metrics.UserID, metrics.Specialisation)] = metrics
	s.mu.Unlock()
	return nil
}

func (s *MetricsStore) GetLevels(_ context.Context, userID, specialisation string) ([]domain.LevelSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byLevel := s.levels[domain.ProfileID(userID, specialisation)]
	out := make([]domain.LevelSummary, 0, len(byLevel))
	for _, l := range byLevel {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (s *MetricsStore) SaveLevel(_ context.Context, userID, specialisation string, level domain.LevelSummary) error {
	key := domain.ProfileID(userID, specialisation)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.levels[key] == nil {
		s.levels[key] = make(map[int]domain.LevelSummary)
	}
	s.levels[key][level.Level] = level
	return nil
}

// SetPrimary clears the flag on every other profile of the user.
func (s *MetricsStore) SetPrimary(_ context.Context, userID, specialisation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.metrics[domain.ProfileID(userID, specialisation)]; !ok {
		return readiness.ErrMetricsNotFound
	}
	for key, m := range s.metrics {
		if m.UserID != userID {
			continue
		}
		m.IsPrimary = m.Specialisation == specialisation
		s.metrics[key] = m
	}
	return nil
}

// ResultRecorder keeps every test result record it receives.
type ResultRecorder struct {
	mu      sync.Mutex
	records []domain.TestResultRecord
}

func NewResultRecorder() *ResultRecorder {
	return &ResultRecorder{}
}

func (r *ResultRecorder) SubmitTestResult(_ context.Context, record domain.TestResultRecord) error {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
	return nil
}

// Records returns a copy of the received records in arrival order.
func (r *ResultRecorder) Records() []domain.TestResultRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.TestResultRecord(nil), r.records...)
}
