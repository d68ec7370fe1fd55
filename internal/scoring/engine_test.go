package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"readiness-quiz-service/internal/domain"
)

func TestScoreEndToEndScenario(t *testing.T) {
	quiz := quizWithKeys("A", "B", "A", "C")
	submission := answers(quiz, "A", "B", "B", "C")

	result := Score(quiz, submission, 95*time.Second)

	assert.Equal(t, 3, result.CorrectCount)
	assert.Equal(t, 4, result.TotalCount)
	assert.Equal(t, 75, result.Percentage)
	assert.True(t, result.Passed)
	assert.Equal(t, 3, result.EarnedPoints)
	assert.Equal(t, 4, result.TotalPoints)
	assert.Equal(t, 95, result.TimeTakenSeconds)
	require.Len(t, result.QuestionResults, 4)
	assert.False(t, result.QuestionResults[2].IsCorrect)
	assert.Equal(t, "B", *result.QuestionResults[2].UserAnswer)
}

func TestScoreIsDeterministic(t *testing.T) {
	quiz := quizWithKeys("A", "C", "B", "D", "A")
	submission := answers(quiz, "A", "B", "B", "D", "C")

	first := Score(quiz, submission, time.Minute)
	second := Score(quiz, submission, time.Minute)

	assert.Equal(t, first, second)
}

func TestPassThresholdBoundary(t *testing.T) {
	// 100 questions so both 70% and 69% are reachable.
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = "A"
	}
	quiz := quizWithKeys(keys...)
	quiz.PassingScorePercent = 70

	picks := func(correct int) []domain.AnswerSubmission {
		out := make([]string, 100)
		for i := range out {
			if i < correct {
				out[i] = "A"
			} else {
				out[i] = "B"
			}
		}
		return answers(quiz, out...)
	}

	at70 := Score(quiz, picks(70), 0)
	assert.Equal(t, 70, at70.Percentage)
	assert.True(t, at70.Passed)

	at69 := Score(quiz, picks(69), 0)
	assert.Equal(t, 69, at69.Percentage)
	assert.False(t, at69.Passed)
}

func TestScoreEmptyQuiz(t *testing.T) {
	result := Score(domain.Quiz{ID: "empty"}, nil, 0)

	assert.Equal(t, 0, result.TotalCount)
	assert.Equal(t, 0, result.Percentage)
	assert.False(t, result.Passed)
	assert.Empty(t, result.QuestionResults)
}

func TestPercentageBoundsAndRounding(t *testing.T) {
	for total := 1; total <= 12; total++ {
		for correct := 0; correct <= total; correct++ {
			pct := Percentage(correct, total)
			assert.GreaterOrEqual(t, pct, 0)
			assert.LessOrEqual(t, pct, 100)
			// round-half-up against a float reference
			want := int(float64(100*correct)/float64(total) + 0.5)
			assert.Equal(t, want, pct, fmt.Sprintf("%d/%d", correct, total))
		}
	}
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 13, Percentage(1, 8)) // 12.5 rounds up
}

func TestMalformedQuestionIsAlwaysIncorrect(t *testing.T) {
	quiz := quizWithKeys("A", "A")
	for i := range quiz.Questions[1].Options {
		quiz.Questions[1].Options[i].IsCorrect = false
	}

	result := Score(quiz, answers(quiz, "A", "A"), 0)

	assert.Equal(t, 1, result.CorrectCount)
	assert.Equal(t, 50, result.Percentage)
	assert.True(t, result.QuestionResults[1].Malformed)
	assert.Equal(t, []string{"q2"}, MalformedQuestions(result))
}

func TestUnansweredQuestionHasNilAnswer(t *testing.T) {
	quiz := quizWithKeys("A", "B")

	result := Score(quiz, []domain.AnswerSubmission{{QuestionID: "q1", SelectedKey: "A"}}, 0)

	assert.Nil(t, result.QuestionResults[1].UserAnswer)
	assert.Equal(t, 1, result.CorrectCount)
}

func TestWeightedPointsDoNotChangePercentage(t *testing.T) {
	quiz := quizWithKeys("A", "B")
	quiz.Questions[0].Points = 5

	result := Score(quiz, answers(quiz, "A", "C"), 0)

	assert.Equal(t, 5, result.EarnedPoints)
	assert.Equal(t, 6, result.TotalPoints)
	assert.Equal(t, 50, result.Percentage)
}

func TestFeedbackBands(t *testing.T) {
	assert.Contains(t, Feedback(95, true), "Excellent")
	assert.Contains(t, Feedback(75, true), "passed")
	assert.Contains(t, Feedback(95, false), "Almost")
	assert.Contains(t, Feedback(10, false), "Keep practising")
}

func quizWithKeys(keys ...string) domain.Quiz {
	quiz := domain.Quiz{
		ID:                  "quiz-1",
		Category:            domain.CategoryTechnical,
		DifficultyLevel:     1,
		PassingScorePercent: 70,
		Specialisation:      "backend",
	}
	for i, key := range keys {
		var opts []domain.Option
		for _, k := range []string{"A", "B", "C", "D"} {
			opts = append(opts, domain.Option{Key: k, Text: "option " + k, IsCorrect: k == key})
		}
		quiz.Questions = append(quiz.Questions, domain.Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Text:    fmt.Sprintf("Question %d", i+1),
			Options: opts,
			Points:  1,
		})
	}
	return quiz
}

func answers(quiz domain.Quiz, picks ...string) []domain.AnswerSubmission {
	out := make([]domain.AnswerSubmission, len(picks))
	for i, pick := range picks {
		out[i] = domain.AnswerSubmission{QuestionID: quiz.Questions[i].ID, SelectedKey: pick}
	}
	return out
}
