package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// zapLogger adapts zap to watermill's logger.
type zapLogger struct {
	l *zap.Logger
}

func NewZapLogger(l *zap.Logger) watermill.LoggerAdapter {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLogger{l: l.Named("watermill")}
}

func (z zapLogger) Error(msg string, err error, fields watermill.LogFields) {
	z.l.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (z zapLogger) Info(msg string, fields watermill.LogFields) {
	z.l.Info(msg, toZap(fields)...)
}

func (z zapLogger) Debug(msg string, fields watermill.LogFields) {
	z.l.Debug(msg, toZap(fields)...)
}

// Trace is noisy; zap has no lower level than debug.
func (z zapLogger) Trace(msg string, fields watermill.LogFields) {
	if ce := z.l.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(toZap(fields), zap.Bool("trace", true))...)
	}
}

func (z zapLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return zapLogger{l: z.l.With(toZap(fields)...)}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
