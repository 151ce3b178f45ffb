// Package logging provides Ionify's process-wide structured logger. It
// mirrors the zap setup in theRebelliousNerd-codenerd's cmd/nerd/main.go:
// a production config by default, switched to development/debug verbosity
// on request.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger *zap.Logger
)

// Init builds the process logger. verbose=true selects debug-level,
// console-friendly output (development config); otherwise JSON production
// output is used. Init is safe to call more than once (e.g. in tests); the
// last call wins.
func Init(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	mu.Lock()
	logger = l
	mu.Unlock()
	return l, nil
}

// L returns the process logger, falling back to a no-op logger if Init was
// never called (e.g. in package tests that don't care about log output).
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

// Sync flushes any buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}
