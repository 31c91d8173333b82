// Package obslog provides the orchestrator's structured logging sink: a
// single Printf(format, args...) entry point shared by every component
// that wants to log, backed by a JSON-encoding zap core so entries carry
// structured fields for manager-cycle and RPC dispatch diagnostics.
package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger appends structured, timestamped entries to a project log file.
type Logger struct {
	zap *zap.SugaredLogger
	raw *os.File
}

// New creates (or reuses) the log file at path, ensuring parent directories exist.
func New(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("obslog: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("obslog: open log file: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.InfoLevel)
	logger := zap.New(core)

	return &Logger{zap: logger.Sugar(), raw: f}, nil
}

// Close releases the underlying file handle.
func (l *Logger) Close() error {
	if l == nil || l.raw == nil {
		return nil
	}
	_ = l.zap.Sync()
	return l.raw.Close()
}

// Printf satisfies the Logger interface every bus/store/engine component
// depends on.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.zap == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.zap.Info(strings.TrimRight(msg, "\n"))
}

// Infow logs a structured info entry with key/value pairs.
func (l *Logger) Infow(msg string, kv ...any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Infow(msg, kv...)
}

// Warnw logs a structured warning entry with key/value pairs.
func (l *Logger) Warnw(msg string, kv ...any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Warnw(msg, kv...)
}

// Errorw logs a structured error entry with key/value pairs.
func (l *Logger) Errorw(msg string, kv ...any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Errorw(msg, kv...)
}

// Nop is a Logger that discards everything; useful in tests.
type Nop struct{}

// Printf implements the Logger interface as a no-op.
func (Nop) Printf(string, ...any) {}
