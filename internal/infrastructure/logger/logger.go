package logger

import (
	"errors"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap logger with the engine's field helpers
type Logger struct {
	*zap.Logger
}

// NewLogger creates a new logger instance.
// Development environments get a console encoder, everything else JSON.
func NewLogger(level string, env string) (*Logger, error) {
	config := zap.NewProductionConfig()
	if env == "development" {
		config = zap.NewDevelopmentConfig()
	}

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	config.Level = zap.NewAtomicLevelAt(zapLevel)

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// New wraps an existing zap logger
func New(l *zap.Logger) *Logger {
	return &Logger{Logger: l}
}

// NewNop returns a logger that discards everything, for tests
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// WithChain adds a chain field to the logger
func (l *Logger) WithChain(chain string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("chain", chain))}
}

// WithToken scopes the logger to one token on one chain
func (l *Logger) WithToken(chain, token string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("chain", chain), zap.String("token", token))}
}

// Close flushes buffered entries. Sync on a terminal returns EINVAL or
// ENOTTY, which is not a failure.
func (l *Logger) Close() error {
	err := l.Logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
