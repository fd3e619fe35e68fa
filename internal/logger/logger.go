// Package logger builds the process-wide zap logger and carries trace ids
// through context.Context.
package logger

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// New creates a JSON logger for service at the given level ("debug",
// "info", "warn", "error"). The logger also replaces zap's globals.
func New(service, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.InitialFields = map[string]any{"service": service}

	log, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build logger")
	}
	zap.ReplaceGlobals(log)
	return log, nil
}

// WithTraceID stores a trace ID in the context for downstream propagation.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// TraceField returns the trace id of ctx as a zap field, or zap.Skip()
// when none is set.
// Usage: log.Info("msg", logger.TraceField(ctx))
func TraceField(ctx context.Context) zap.Field {
	tid := TraceID(ctx)
	if tid == "" {
		return zap.Skip()
	}
	return zap.String("trace_id", tid)
}

// For returns log annotated with the trace id of ctx.
func For(ctx context.Context, log *zap.Logger) *zap.Logger {
	if tid := TraceID(ctx); tid != "" {
		return log.With(zap.String("trace_id", tid))
	}
	return log
}
