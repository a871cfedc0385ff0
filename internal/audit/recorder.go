// Package audit tracks per-file processing logs, computes coverage
// snapshots after a run, and drives the refinement loop.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// Recorder holds in-flight file processing logs in memory and persists
// them on completion or failure. Implements llm.AuditSink.
type Recorder struct {
	store *store.Store
	mu    sync.Mutex
	logs  map[string]*types.FileProcessingLog
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(s *store.Store) *Recorder {
	return &Recorder{store: s, logs: map[string]*types.FileProcessingLog{}}
}

// Start opens a new in-flight log row and returns its ID.
func (r *Recorder) Start(jobID, projectID, filePath, action, strategy string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.logs[id] = &types.FileProcessingLog{
		ID:           id,
		JobID:        jobID,
		ProjectID:    projectID,
		FilePath:     filePath,
		ActionName:   action,
		StrategyUsed: strategy,
		Status:       types.LogPending,
		CreatedAt:    time.Now().UTC(),
	}
	return id
}

// RecordAttempt appends one model attempt to an in-flight log.
func (r *Recorder) RecordAttempt(logID, model, provider string, success bool, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.logs[logID]
	if !ok {
		return
	}
	l.FallbackChain = append(l.FallbackChain, model)
	l.ModelUsed = model
	l.ModelProvider = provider
	l.FallbackUsed = len(l.FallbackChain) > 1
	if !success {
		l.RetryCount++
		l.ErrorType = errorType
	}
}

// Complete finalizes a log as success and persists it.
func (r *Recorder) Complete(logID string, tokensIn, tokensOut int, costUSD float64, latencyMS int64, nodes, edges, evidences int) error {
	r.mu.Lock()
	l, ok := r.logs[logID]
	if ok {
		delete(r.logs, logID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	l.Status = types.LogSuccess
	l.TokensIn = tokensIn
	l.TokensOut = tokensOut
	l.CostEstimateUSD = costUSD
	l.LatencyMS = latencyMS
	l.NodesExtracted = nodes
	l.EdgesExtracted = edges
	l.EvidencesExtracted = evidences
	l.ErrorType = ""
	return r.store.SaveFileLog(l)
}

// LogFileError finalizes a log as failed and persists it.
func (r *Recorder) LogFileError(logID, errorType, message string) error {
	r.mu.Lock()
	l, ok := r.logs[logID]
	if ok {
		delete(r.logs, logID)
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	l.Status = types.LogFailed
	if errorType == types.LogFallbackExhausted {
		l.Status = types.LogFallbackExhausted
	}
	l.ErrorType = errorType
	l.ErrorMessage = message
	logging.L(logging.CategoryAudit).Warnw("file processing failed",
		"file", l.FilePath, "action", l.ActionName, "error_type", errorType)
	return r.store.SaveFileLog(l)
}
