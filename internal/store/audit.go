package store

import (
	"encoding/json"
	"fmt"

	"digger/internal/types"
)

// SaveFileLog upserts a file processing log row by ID.
func (s *Store) SaveFileLog(l *types.FileProcessingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain, _ := json.Marshal(l.FallbackChain)
	_, err := s.db.Exec(
		`INSERT INTO file_processing_log
		 (id, job_id, project_id, file_path, action_name, strategy_used, model_provider,
		  model_used, fallback_used, fallback_chain, status, tokens_in, tokens_out,
		  cost_estimate_usd, latency_ms, error_type, error_message, retry_count,
		  nodes_extracted, edges_extracted, evidences_extracted, result_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   strategy_used = excluded.strategy_used,
		   model_provider = excluded.model_provider,
		   model_used = excluded.model_used,
		   fallback_used = excluded.fallback_used,
		   fallback_chain = excluded.fallback_chain,
		   status = excluded.status,
		   tokens_in = excluded.tokens_in,
		   tokens_out = excluded.tokens_out,
		   cost_estimate_usd = excluded.cost_estimate_usd,
		   latency_ms = excluded.latency_ms,
		   error_type = excluded.error_type,
		   error_message = excluded.error_message,
		   retry_count = excluded.retry_count,
		   nodes_extracted = excluded.nodes_extracted,
		   edges_extracted = excluded.edges_extracted,
		   evidences_extracted = excluded.evidences_extracted,
		   result_hash = excluded.result_hash`,
		l.ID, l.JobID, l.ProjectID, l.FilePath, l.ActionName, l.StrategyUsed,
		l.ModelProvider, l.ModelUsed, l.FallbackUsed, string(chain), l.Status,
		l.TokensIn, l.TokensOut, l.CostEstimateUSD, l.LatencyMS, l.ErrorType,
		l.ErrorMessage, l.RetryCount, l.NodesExtracted, l.EdgesExtracted,
		l.EvidencesExtracted, l.ResultHash,
	)
	if err != nil {
		return fmt.Errorf("failed to save file log: %w", err)
	}
	return nil
}

// ListJobLogs returns the processing log rows of a job in creation order.
func (s *Store) ListJobLogs(jobID string) ([]types.FileProcessingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, job_id, project_id, file_path, action_name, strategy_used, model_provider,
		        model_used, fallback_used, fallback_chain, status, tokens_in, tokens_out,
		        cost_estimate_usd, latency_ms, error_type, error_message, retry_count,
		        nodes_extracted, edges_extracted, evidences_extracted, result_hash, created_at
		 FROM file_processing_log WHERE job_id = ? ORDER BY created_at ASC, id ASC`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}
	defer rows.Close()

	var logs []types.FileProcessingLog
	for rows.Next() {
		var l types.FileProcessingLog
		var chain string
		if err := rows.Scan(
			&l.ID, &l.JobID, &l.ProjectID, &l.FilePath, &l.ActionName, &l.StrategyUsed,
			&l.ModelProvider, &l.ModelUsed, &l.FallbackUsed, &chain, &l.Status,
			&l.TokensIn, &l.TokensOut, &l.CostEstimateUSD, &l.LatencyMS, &l.ErrorType,
			&l.ErrorMessage, &l.RetryCount, &l.NodesExtracted, &l.EdgesExtracted,
			&l.EvidencesExtracted, &l.ResultHash, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file log: %w", err)
		}
		_ = json.Unmarshal([]byte(chain), &l.FallbackChain)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// SaveSnapshot persists an audit snapshot.
func (s *Store) SaveSnapshot(snap *types.AuditSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gaps, _ := json.Marshal(snap.Gaps)
	recs, _ := json.Marshal(snap.Recommendations)
	_, err := s.db.Exec(
		`INSERT INTO audit_snapshot (id, project_id, job_id, metrics, gaps, recommendations)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.ProjectID, nullable(snap.JobID), marshalJSON(snap.Metrics), string(gaps), string(recs),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the audit history of a project, newest first.
func (s *Store) ListSnapshots(projectID string) ([]types.AuditSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, project_id, COALESCE(job_id, ''), metrics, gaps, recommendations, created_at
		 FROM audit_snapshot WHERE project_id = ? ORDER BY created_at DESC`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []types.AuditSnapshot
	for rows.Next() {
		var snap types.AuditSnapshot
		var metrics, gaps, recs string
		if err := rows.Scan(&snap.ID, &snap.ProjectID, &snap.JobID, &metrics, &gaps, &recs, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		_ = json.Unmarshal([]byte(metrics), &snap.Metrics)
		_ = json.Unmarshal([]byte(gaps), &snap.Gaps)
		_ = json.Unmarshal([]byte(recs), &snap.Recommendations)
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SaveReasoningLog persists a reasoning synthesis row.
func (s *Store) SaveReasoningLog(rl *types.ReasoningLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"INSERT INTO reasoning_log (id, project_id, job_id, action, content) VALUES (?, ?, ?, ?, ?)",
		rl.ID, rl.ProjectID, rl.JobID, rl.Action, rl.Content,
	)
	if err != nil {
		return fmt.Errorf("failed to save reasoning log: %w", err)
	}
	return nil
}
