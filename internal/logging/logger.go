// Package logging wraps zap into the hub's ambient logging helper, adapted
// from the teacher's internal/common/logger.
package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey string

const (
	correlationIDKey contextKey = "correlationId"
	requestIDKey     contextKey = "requestId"
)

// Config controls the format and level of the process-wide logger.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Logger wraps a *zap.Logger with the hub's convenience helpers.
type Logger struct {
	zap *zap.Logger
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// Default returns the process-wide singleton logger, building it with
// environment-detected defaults on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		l, err := New(Config{Level: "info", Format: detectLogFormat()})
		if err != nil {
			l = &Logger{zap: zap.NewNop()}
		}
		defaultLogger = l
	})
	return defaultLogger
}

// detectLogFormat mirrors the teacher's Kubernetes/production detection,
// adapted from KANDEV_ENV to HUB_ENV.
func detectLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	switch os.Getenv("HUB_ENV") {
	case "production", "prod":
		return "json"
	default:
		return "text"
	}
}

// New builds a Logger from cfg, choosing a JSON or console encoder by
// cfg.Format ("json" or "text").
func New(cfg Config) (*Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level = zapcore.InfoLevel
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		consoleCfg := encoderCfg
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleCfg)
	}

	out := zapcore.AddSync(os.Stdout)
	if cfg.OutputPath != "" {
		f, err := os.OpenFile(cfg.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = zapcore.AddSync(f)
	}

	core := zapcore.NewCore(encoder, out, level)
	return &Logger{zap: zap.New(core)}, nil
}

// Zap returns the underlying *zap.Logger for callers that need direct
// field-typed access.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// WithFields returns a child logger with the given structured fields
// attached to every subsequent entry.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

// WithContext extracts correlation/request IDs from ctx, if present, and
// attaches them as fields.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	fields := []zap.Field{}
	if v, ok := ctx.Value(correlationIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("correlationId", v))
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("requestId", v))
	}
	if len(fields) == 0 {
		return l
	}
	return l.WithFields(fields...)
}

// WithError attaches err as a structured field.
func (l *Logger) WithError(err error) *Logger {
	return l.WithFields(zap.Error(err))
}

// WithSessionID attaches a sessionId field, the hub analogue of the
// teacher's WithTaskID/WithAgentID helpers.
func (l *Logger) WithSessionID(id string) *Logger {
	return l.WithFields(zap.String("sessionId", id))
}

// WithAgentID attaches an agentId field.
func (l *Logger) WithAgentID(id string) *Logger {
	return l.WithFields(zap.String("agentId", id))
}

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.zap.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.zap.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.zap.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.zap.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.zap.Fatal(msg, fields...) }

// WithCorrelationID returns a context carrying id for WithContext to pick up.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithRequestID returns a context carrying id for WithContext to pick up.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}
