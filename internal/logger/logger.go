// Package logger is the structured logger shared by every pricer component.
// Calls take a message followed by alternating keys and values.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Logger struct {
	z *zap.SugaredLogger
}

// New builds the logger for a config log mode. "prod" writes JSON at info
// level with every entry kept; "dev" (or empty) writes colored console lines
// at debug level.
func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		// Price changes are audit records; none may be sampled away.
		cfg.Sampling = nil
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "dev", "development", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	default:
		return nil, fmt.Errorf("unknown log mode %q", mode)
	}
	z, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return Wrap(z), nil
}

// Wrap adapts an existing zap logger. Tests use it with an observer core.
func Wrap(z *zap.Logger) *Logger {
	return &Logger{z: z.Sugar()}
}

// Nop returns a logger that discards everything.
func Nop() *Logger { return Wrap(zap.NewNop()) }

// OrNop lets constructors accept a nil logger.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// Sync flushes buffered entries. Errors from syncing a terminal are common
// and carry nothing actionable.
func (l *Logger) Sync() { _ = l.z.Sync() }

func (l *Logger) Debug(msg string, kv ...any) { l.z.Debugw(msg, kv...) }

func (l *Logger) Info(msg string, kv ...any) { l.z.Infow(msg, kv...) }

func (l *Logger) Warn(msg string, kv ...any) { l.z.Warnw(msg, kv...) }

func (l *Logger) Error(msg string, kv ...any) { l.z.Errorw(msg, kv...) }

// With returns a child logger that adds kv to every entry.
func (l *Logger) With(kv ...any) *Logger { return &Logger{z: l.z.With(kv...)} }
