package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"readiness-quiz-service/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cli.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
