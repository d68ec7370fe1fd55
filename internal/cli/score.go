package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"readiness-quiz-service/internal/domain"
	"readiness-quiz-service/internal/infra/memory"
	"readiness-quiz-service/internal/ledger"
	"readiness-quiz-service/internal/scoring"
)

// AnswerSheet is the YAML input of the score command.
type AnswerSheet struct {
	QuizID           string            `yaml:"quizId"`
	TimeTakenSeconds int               `yaml:"timeTakenSeconds"`
	Answers          map[string]string `yaml:"answers"`
}

// NewScoreCmd scores an answer sheet offline with the same engine the server uses.
func NewScoreCmd() *cobra.Command {
	var catalogPath, answersPath string
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score an answer sheet against a catalog quiz",
		RunE: func(cmd *cobra.Command, args []string) error {
			static, err := memory.LoadCatalogFile(catalogPath)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(answersPath)
			if err != nil {
				return fmt.Errorf("read answers: %w", err)
			}
			var sheet AnswerSheet
			if err := yaml.Unmarshal(data, &sheet); err != nil {
				return fmt.Errorf("decode answers: %w", err)
			}
			quiz, err := static.LoadQuiz(cmd.Context(), sheet.QuizID)
			if err != nil {
				return fmt.Errorf("quiz %q: %w", sheet.QuizID, err)
			}

			result, err := scoreSheet(quiz, sheet)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&catalogPath, "catalog", "config/catalog.yaml", "catalog YAML holding the quiz")
	cmd.Flags().StringVar(&answersPath, "answers", "", "answer sheet YAML")
	_ = cmd.MarkFlagRequired("answers")
	return cmd
}

func scoreSheet(quiz domain.Quiz, sheet AnswerSheet) (domain.AttemptResult, error) {
	answers := ledger.New()
	for questionID, key := range sheet.Answers {
		question, ok := quiz.FindQuestion(questionID)
		if !ok {
			return domain.AttemptResult{}, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
		}
		if !question.HasOption(key) {
			return domain.AttemptResult{}, fmt.Errorf("%w: %s on %s", domain.ErrOptionNotFound, key, questionID)
		}
		if err := answers.Set(questionID, key); err != nil {
			return domain.AttemptResult{}, err
		}
	}
	return scoring.Score(quiz, answers.ToSubmission(quiz.Questions), time.Duration(sheet.TimeTakenSeconds)*time.Second), nil
}
