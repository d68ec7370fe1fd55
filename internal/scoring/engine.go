// Package scoring turns a quiz and a submission into an AttemptResult.
// Everything here is pure so the same code can score on the server or offline.
package scoring

import (
	"time"

	"readiness-quiz-service/internal/domain"
)

// Score grades submission against quiz. Questions absent from submission count as unanswered.
// A question without a correct option is always incorrect and flagged Malformed.
func Score(quiz domain.Quiz, submission []domain.AnswerSubmission, timeTaken time.Duration) domain.AttemptResult {
	selected := make(map[string]string, len(submission))
	for _, answer := range submission {
		selected[answer.QuestionID] = answer.SelectedKey
	}

	result := domain.AttemptResult{
		QuizID:              quiz.ID,
		TotalCount:          len(quiz.Questions),
		PassingScorePercent: quiz.PassingScore(),
		QuestionResults:     make([]domain.QuestionResult, 0, len(quiz.Questions)),
		TimeTakenSeconds:    int(timeTaken / time.Second),
	}

	for _, question := range quiz.Questions {
		qr := scoreQuestion(question, selected)
		if qr.IsCorrect {
			result.CorrectCount++
		}
		result.EarnedPoints += qr.EarnedPoints
		result.TotalPoints += qr.Points
		result.QuestionResults = append(result.QuestionResults, qr)
	}

	result.Percentage = Percentage(result.CorrectCount, result.TotalCount)
	result.Passed = Passed(result.Percentage, result.TotalCount, result.PassingScorePercent)
	result.Feedback = Feedback(result.Percentage, result.Passed)
	return result
}

func scoreQuestion(question domain.Question, selected map[string]string) domain.QuestionResult {
	qr := domain.QuestionResult{
		QuestionID:  question.ID,
		Points:      question.PointValue(),
		Options:     append([]domain.Option(nil), question.Options...),
		Explanation: question.Explanation,
	}
	if key, ok := selected[question.ID]; ok {
		answer := key
		qr.UserAnswer = &answer
	}

	correctKey, ok := question.CorrectKey()
	if !ok {
		qr.Malformed = true
		return qr
	}
	if qr.UserAnswer != nil && *qr.UserAnswer == correctKey {
		qr.IsCorrect = true
		qr.EarnedPoints = qr.Points
	}
	return qr
}

// Percentage is round-half-up of 100*correct/total, computed in integers. Zero total yields 0.
func Percentage(correct, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*correct + total) / (2 * total)
}

// Passed applies the threshold; an empty quiz never passes.
func Passed(percentage, total, passingScore int) bool {
	if total <= 0 {
		return false
	}
	return percentage >= passingScore
}

// Feedback maps a percentage onto the message shown with the result.
func Feedback(percentage int, passed bool) string {
	switch {
	case passed && percentage >= 90:
		return "Excellent work! You have a strong command of this area."
	case passed:
		return "Well done, you passed. Review the questions you missed to sharpen further."
	case percentage >= 50:
		return "Almost there. Revisit the explanations below and try again."
	default:
		return "Keep practising. Work through the explanations and retake the quiz when ready."
	}
}

// MalformedQuestions lists the ids scoring had to treat as always-incorrect.
func MalformedQuestions(result domain.AttemptResult) []string {
	var ids []string
	for _, qr := range result.QuestionResults {
		if qr.Malformed {
			ids = append(ids, qr.QuestionID)
		}
	}
	return ids
}
