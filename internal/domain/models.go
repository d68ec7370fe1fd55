package domain

import "time"

// DefaultPassingScorePercent applies when a quiz does not set its own threshold.
const DefaultPassingScorePercent = 70

// Category distinguishes the two readiness tracks a quiz can feed.
type Category string

const (
	CategoryTechnical Category = "technical"
	CategorySoftSkill Category = "soft_skill"
)

// Option represents a possible answer for a question.
type Option struct {
	Key       string `json:"key" yaml:"key" validate:"required"`
	Text      string `json:"text" yaml:"text"`
	IsCorrect bool   `json:"isCorrect,omitempty" yaml:"isCorrect"`
	Rationale string `json:"rationale,omitempty" yaml:"rationale"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID          string   `json:"questionId" yaml:"questionId" validate:"required"`
	Text        string   `json:"text" yaml:"text"`
	Options     []Option `json:"options" yaml:"options" validate:"min=1,dive"`
	Explanation string   `json:"explanation,omitempty" yaml:"explanation"`
	Points      int      `json:"points,omitempty" yaml:"points" validate:"gte=0"` // defaults to 1 if zero
}

// PointValue returns the points a correct answer earns.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// CorrectKey returns the key of the first option flagged correct.
func (q Question) CorrectKey() (string, bool) {
	for _, opt := range q.Options {
		if opt.IsCorrect {
			return opt.Key, true
		}
	}
	return "", false
}

// HasOption reports whether key names one of the question's options.
func (q Question) HasOption(key string) bool {
	for _, opt := range q.Options {
		if opt.Key == key {
			return true
		}
	}
	return false
}

// Quiz is a named, timed collection of questions for one specialisation and level.
type Quiz struct {
	ID                  string     `json:"quizId" yaml:"quizId" validate:"required"`
	Title               string     `json:"title" yaml:"title"`
	Description         string     `json:"description,omitempty" yaml:"description"`
	Category            Category   `json:"category" yaml:"category" validate:"oneof=technical soft_skill"`
	DifficultyLevel     int        `json:"difficultyLevel" yaml:"difficultyLevel" validate:"min=1,max=5"`
	TimeLimitMinutes    int        `json:"timeLimitMinutes" yaml:"timeLimitMinutes" validate:"gte=0"`
	PassingScorePercent int        `json:"passingScorePercent" yaml:"passingScorePercent" validate:"gte=0,lte=100"`
	Specialisation      string     `json:"specialisation" yaml:"specialisation" validate:"required"`
	Questions           []Question `json:"questions" yaml:"questions" validate:"dive"`
}

// PassingScore returns the threshold percentage, applying the default.
func (q Quiz) PassingScore() int {
	if q.PassingScorePercent <= 0 {
		return DefaultPassingScorePercent
	}
	return q.PassingScorePercent
}

// TimeBudgetSeconds is the countdown budget of one attempt.
func (q Quiz) TimeBudgetSeconds() int {
	return q.TimeLimitMinutes * 60
}

// FindQuestion looks a question up by id.
func (q Quiz) FindQuestion(id string) (Question, bool) {
	for _, question := range q.Questions {
		if question.ID == id {
			return question, true
		}
	}
	return Question{}, false
}

// Public returns a copy without correctness data, safe to show during an attempt.
func (q Quiz) Public() Quiz {
	out := q
	out.Questions = make([]Question, len(q.Questions))
	for i, question := range q.Questions {
		question.Explanation = ""
		opts := make([]Option, len(question.Options))
		for j, opt := range question.Options {
			opts[j] = Option{Key: opt.Key, Text: opt.Text}
		}
		question.Options = opts
		out.Questions[i] = question
	}
	return out
}

// AnswerSubmission is one submitted answer.
type AnswerSubmission struct {
	QuestionID  string `json:"questionId" yaml:"questionId"`
	SelectedKey string `json:"selectedKey" yaml:"selectedKey"`
}

// AttemptState is the lifecycle position of an attempt.
type AttemptState string

const (
	StateNotStarted AttemptState = "not_started"
	StateInProgress AttemptState = "in_progress"
	StateSubmitting AttemptState = "submitting"
	StateCompleted  AttemptState = "completed"
	StateFailed     AttemptState = "failed"
)

// SubmitReason records what triggered a submission.
type SubmitReason string

const (
	ReasonManual  SubmitReason = "manual"
	ReasonExpired SubmitReason = "expired"
)

// QuestionResult is the per-question outcome, with options annotated for review.
type QuestionResult struct {
	QuestionID   string   `json:"questionId"`
	UserAnswer   *string  `json:"userAnswer"`
	IsCorrect    bool     `json:"isCorrect"`
	EarnedPoints int      `json:"earnedPoints"`
	Points       int      `json:"points"`
	Options      []Option `json:"options"`
	Explanation  string   `json:"explanation,omitempty"`
	Malformed    bool     `json:"malformed,omitempty"`
}

// AttemptResult is the scored, immutable outcome of a submitted attempt.
type AttemptResult struct {
	AttemptID           string           `json:"attemptId"`
	QuizID              string           `json:"quizId"`
	UserID              string           `json:"userId"`
	CorrectCount        int              `json:"correctCount"`
	TotalCount          int              `json:"totalCount"`
	Percentage          int              `json:"percentage"`
	PassingScorePercent int              `json:"passingScorePercent"`
	Passed              bool             `json:"passed"`
	EarnedPoints        int              `json:"earnedPoints"`
	TotalPoints         int              `json:"totalPoints"`
	QuestionResults     []QuestionResult `json:"questionResults"`
	TimeTakenSeconds    int              `json:"timeTakenSeconds"`
	Feedback            string           `json:"feedback"`
	Reason              SubmitReason     `json:"reason,omitempty"`
	SubmittedAt         time.Time        `json:"submittedAt"`
}

// LevelSummary tracks technical progress at one difficulty level.
type LevelSummary struct {
	Level         int       `json:"level"`
	BestScore     int       `json:"bestScore"`
	AttemptCount  int       `json:"attemptCount"`
	LastAttemptAt time.Time `json:"lastAttemptAt"`
	Passed        bool      `json:"passed"`
}

// ReadinessMetrics is a user's aggregate for one specialisation.
type ReadinessMetrics struct {
	UserID         string         `json:"userId"`
	Specialisation string         `json:"specialisation"`
	TechnicalScore int            `json:"technicalScore"`
	SoftSkillScore int            `json:"softSkillScore"`
	ReadinessScore int            `json:"readinessScore"`
	IsPrimary      bool           `json:"isPrimary"`
	Levels         []LevelSummary `json:"levels,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// TestResultRecord is what the persistence sink receives after scoring.
type TestResultRecord struct {
	AttemptID        string    `json:"attemptId"`
	UserID           string    `json:"userId"`
	CareerID         string    `json:"careerId"`
	Specialisation   string    `json:"specialisation"`
	Category         Category  `json:"category"`
	Level            int       `json:"level"`
	Score            int       `json:"score"`
	Passed           bool      `json:"passed"`
	TimeTakenSeconds int       `json:"timeTaken"`
	QuestionsCount   int       `json:"questionsCount"`
	RecordedAt       time.Time `json:"recordedAt"`
}

// SubmitOutcome is what a submission hands back to the caller.
type SubmitOutcome struct {
	Result           AttemptResult     `json:"result"`
	Metrics          *ReadinessMetrics `json:"metrics,omitempty"`
	AggregationError string            `json:"aggregationError,omitempty"`
}

// AttemptSnapshot is a read-only view of an attempt.
type AttemptSnapshot struct {
	AttemptID            string            `json:"attemptId"`
	QuizID               string            `json:"quizId"`
	UserID               string            `json:"userId"`
	State                AttemptState      `json:"state"`
	StartedAt            time.Time         `json:"startedAt"`
	TimeRemainingSeconds int               `json:"timeRemainingSeconds"`
	Answers              map[string]string `json:"answers"`
	Quiz                 Quiz              `json:"quiz"`
	Outcome              *SubmitOutcome    `json:"outcome,omitempty"`
	LastError            string            `json:"lastError,omitempty"`
}

// Event types streamed to attempt subscribers.
const (
	EventTick   = "tick"
	EventState  = "state"
	EventResult = "result"
	EventError  = "error"
)

// AttemptEvent is pushed to subscribers of a live attempt.
type AttemptEvent struct {
	Type             string         `json:"type"`
	AttemptID        string         `json:"attemptId"`
	State            AttemptState   `json:"state,omitempty"`
	RemainingSeconds int            `json:"remainingSeconds"`
	Outcome          *SubmitOutcome `json:"outcome,omitempty"`
	Message          string         `json:"message,omitempty"`
}

// ProfileID identifies a user's career profile for one specialisation.
func ProfileID(userID, specialisation string) string {
	return userID + ":" + specialisation
}
