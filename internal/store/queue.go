package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"digger/internal/types"
)

// Enqueue inserts a pending queue entry for the job.
func (s *Store) Enqueue(jobID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"INSERT INTO job_queue (job_id, status) VALUES (?, ?)",
		jobID, types.QueuePending,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue entry id: %w", err)
	}
	return id, nil
}

// ClaimNext picks the oldest pending entry and flips it to processing,
// gated on the old status. Exactly one caller wins a given entry; returns
// nil when the queue is empty or the claim was lost.
func (s *Store) ClaimNext() (*types.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entry types.QueueEntry
	var lastErr sql.NullString
	err := s.db.QueryRow(
		`SELECT id, job_id, status, attempts, last_error, created_at, updated_at
		 FROM job_queue WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`,
		types.QueuePending,
	).Scan(&entry.ID, &entry.JobID, &entry.Status, &entry.Attempts, &lastErr,
		&entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select queue entry: %w", err)
	}
	entry.LastError = lastErr.String

	res, err := s.db.Exec(
		`UPDATE job_queue SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		types.QueueProcessing, time.Now().UTC(), entry.ID, types.QueuePending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		// Lost the race to another worker.
		return nil, nil
	}

	entry.Status = types.QueueProcessing
	entry.Attempts++
	return &entry, nil
}

// CompleteEntry marks a claimed entry completed.
func (s *Store) CompleteEntry(id int64) error {
	return s.finishEntry(id, types.QueueCompleted, "")
}

// FailEntry marks a claimed entry failed with the reason.
func (s *Store) FailEntry(id int64, reason string) error {
	return s.finishEntry(id, types.QueueFailed, reason)
}

func (s *Store) finishEntry(id int64, status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE job_queue SET status = ?, last_error = ?, updated_at = ? WHERE id = ?",
		status, nullable(reason), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish queue entry: %w", err)
	}
	return nil
}

// QueueEntry returns one entry by ID, or nil when absent.
func (s *Store) QueueEntry(id int64) (*types.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entry types.QueueEntry
	var lastErr sql.NullString
	err := s.db.QueryRow(
		`SELECT id, job_id, status, attempts, last_error, created_at, updated_at
		 FROM job_queue WHERE id = ?`, id,
	).Scan(&entry.ID, &entry.JobID, &entry.Status, &entry.Attempts, &lastErr,
		&entry.CreatedAt, &entry.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	entry.LastError = lastErr.String
	return &entry, nil
}
