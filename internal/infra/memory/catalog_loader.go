package memory

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"readiness-quiz-service/internal/domain"
)

// StaticCatalogLoader is a simple loader backed by an in-memory map (useful for tests/demos).
type StaticCatalogLoader struct {
	quizzes map[string]domain.Quiz
	index   map[string][]string
}

func NewStaticCatalogLoader(quizzes ...domain.Quiz) *StaticCatalogLoader {
	l := &StaticCatalogLoader{
		quizzes: make(map[string]domain.Quiz, len(quizzes)),
		index:   make(map[string][]string),
	}
	for _, quiz := range quizzes {
		l.quizzes[quiz.ID] = quiz
		key := lookupKey(quiz.Specialisation, quiz.DifficultyLevel)
		l.index[key] = append(l.index[key], quiz.ID)
	}
	for key := range l.index {
		sort.Strings(l.index[key])
	}
	return l
}

func (l *StaticCatalogLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// FindQuizID returns the lowest quiz id registered for the pair.
func (l *StaticCatalogLoader) FindQuizID(_ context.Context, specialisation string, level int) (string, error) {
	ids := l.index[lookupKey(specialisation, level)]
	if len(ids) == 0 {
		return "", domain.ErrQuizNotFound
	}
	return ids[0], nil
}

// Quizzes returns every quiz ordered by id.
func (l *StaticCatalogLoader) Quizzes() []domain.Quiz {
	out := make([]domain.Quiz, 0, len(l.quizzes))
	for _, quiz := range l.quizzes {
		out = append(out, quiz)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CatalogFile is the YAML layout of a seed catalog.
type CatalogFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes" validate:"dive"`
}

// LoadCatalogFile reads and validates a YAML catalog.
func LoadCatalogFile(path string) (*StaticCatalogLoader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	quizzes, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewStaticCatalogLoader(quizzes...), nil
}

// ParseCatalog decodes a YAML catalog and validates every quiz.
func ParseCatalog(data []byte) ([]domain.Quiz, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	v := validator.New()
	seen := make(map[string]struct{}, len(file.Quizzes))
	for _, quiz := range file.Quizzes {
		if err := v.Struct(quiz); err != nil {
			return nil, fmt.Errorf("quiz %q: %w", quiz.ID, err)
		}
		if _, dup := seen[quiz.ID]; dup {
			return nil, fmt.Errorf("duplicate quiz id %q", quiz.ID)
		}
		seen[quiz.ID] = struct{}{}
		if err := checkUniqueKeys(quiz); err != nil {
			return nil, fmt.Errorf("quiz %q: %w", quiz.ID, err)
		}
	}
	return file.Quizzes, nil
}

func checkUniqueKeys(quiz domain.Quiz) error {
	questions := make(map[string]struct{}, len(quiz.Questions))
	for _, q := range quiz.Questions {
		if _, dup := questions[q.ID]; dup {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		questions[q.ID] = struct{}{}

		options := make(map[string]struct{}, len(q.Options))
		for _, opt := range q.Options {
			if _, dup := options[opt.Key]; dup {
				return fmt.Errorf("question %q: duplicate option key %q", q.ID, opt.Key)
			}
			options[opt.Key] = struct{}{}
		}
	}
	return nil
}
