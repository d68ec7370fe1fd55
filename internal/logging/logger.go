package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"readiness-quiz-service/internal/config"
)

// New builds the service logger: a console or JSON core on stdout, teed with a rotating
// JSON file when cfg.Logging.File is set.
func New(cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Logging.Level != "" {
		if err := level.Set(cfg.Logging.Level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	cores := []zapcore.Core{newStdoutCore(cfg.Logging.Format, level)}
	if cfg.Logging.File != "" {
		fileCore, err := newFileCore(cfg, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, fileCore)
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		CallerKey:      "caller",
		NameKey:        "logger",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
}

func newFileCore(cfg config.Config, level zapcore.Level) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.Logging.File,
		MaxSize:    orDefault(cfg.Logging.MaxSizeMB, 10),
		MaxBackups: orDefault(cfg.Logging.MaxBackups, 3),
		MaxAge:     orDefault(cfg.Logging.MaxAgeDays, 7),
		Compress:   true,
	})
	return zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), writer, level), nil
}

func newStdoutCore(format string, level zapcore.Level) zapcore.Core {
	if format == "json" {
		return zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), zapcore.Lock(os.Stdout), level)
	}
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stdout), level)
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
