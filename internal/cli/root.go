package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"readiness-quiz-service/internal/config"
)

var (
	port       string
	configPath string
)

// ExecuteContext runs the CLI. Commands stop when ctx is cancelled.
func ExecuteContext(ctx context.Context) error {
	config.LoadEnv(".env")
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	envPort := os.Getenv("PORT")
	envConfig := os.Getenv("CONFIG_PATH")
	if envConfig == "" {
		envConfig = "config/config.yaml"
	}

	cmd := &cobra.Command{
		Use:          "quiz-service",
		Short:        "Timed readiness quizzes with server-side scoring",
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&port, "port", envPort, "port to listen on (overrides server.port)")
	cmd.PersistentFlags().StringVar(&configPath, "config", envConfig, "path to YAML config")
	cmd.AddCommand(NewStartCmd(&configPath, &port))
	cmd.AddCommand(NewMigrateCmd(&configPath))
	cmd.AddCommand(NewScoreCmd())
	return cmd
}
