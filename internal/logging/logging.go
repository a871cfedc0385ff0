// Package logging provides category-scoped zap loggers for the discovery
// pipeline. Call Init once at startup; L returns a named sugared logger
// per subsystem. Before Init the loggers are no-ops, which keeps tests
// quiet.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one pipeline subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"
	CategoryWorker    Category = "worker"
	CategoryQueue     Category = "queue"
	CategoryFetch     Category = "fetch"
	CategoryPlanner   Category = "planner"
	CategoryExtract   Category = "extract"
	CategoryLLM       Category = "llm"
	CategoryRouting   Category = "routing"
	CategoryCatalog   Category = "catalog"
	CategoryAudit     Category = "audit"
	CategoryReport    Category = "report"
	CategoryStore     Category = "store"
	CategoryPipeline  Category = "pipeline"
	CategoryReasoning Category = "reasoning"
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the process logger. Verbose switches to debug level.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	base = logger
	mu.Unlock()
	return nil
}

// SetLogger replaces the process logger, for tests and embedders.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	base = l
	mu.Unlock()
}

// L returns the sugared logger for a category.
func L(c Category) *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(string(c)).Sugar()
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
