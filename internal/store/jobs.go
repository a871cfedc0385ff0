package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"digger/internal/types"
)

// UpsertSolution creates the solution row if missing, otherwise updates
// its storage path.
func (s *Store) UpsertSolution(sol *types.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO solutions (id, name, storage_path, status) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET storage_path = excluded.storage_path`,
		sol.ID, sol.Name, sol.StoragePath, sol.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert solution: %w", err)
	}
	return nil
}

// GetSolution returns a solution by ID, or nil when absent.
func (s *Store) GetSolution(id string) (*types.Solution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sol types.Solution
	err := s.db.QueryRow(
		"SELECT id, name, storage_path, status, created_at FROM solutions WHERE id = ?", id,
	).Scan(&sol.ID, &sol.Name, &sol.StoragePath, &sol.Status, &sol.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get solution: %w", err)
	}
	return &sol, nil
}

// UpdateSolutionStatus sets the solution status.
func (s *Store) UpdateSolutionStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE solutions SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update solution status: %w", err)
	}
	return nil
}

// CreateJob inserts a new job row.
func (s *Store) CreateJob(job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO job_run (id, project_id, status, current_stage, progress_pct, requires_approval)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.Status, job.CurrentStage, job.ProgressPct, job.RequiresApproval,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func scanJob(row *sql.Row) (*types.Job, error) {
	var job types.Job
	var planID, errMsg, errDetails, synthesis sql.NullString
	var started, finished sql.NullTime
	err := row.Scan(
		&job.ID, &job.ProjectID, &job.Status, &job.CurrentStage, &job.ProgressPct,
		&planID, &job.RequiresApproval, &started, &finished,
		&errMsg, &errDetails, &synthesis, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.PlanID = planID.String
	job.ErrorMessage = errMsg.String
	job.ErrorDetails = errDetails.String
	job.SynthesisSummary = synthesis.String
	if started.Valid {
		t := started.Time
		job.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		job.FinishedAt = &t
	}
	return &job, nil
}

const jobColumns = `id, project_id, status, current_stage, progress_pct, plan_id,
	requires_approval, started_at, finished_at, error_message, error_details,
	synthesis_summary, created_at`

// GetJob returns a job by ID, or nil when absent.
func (s *Store) GetJob(id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanJob(s.db.QueryRow(
		"SELECT "+jobColumns+" FROM job_run WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// LatestJob returns the most recently created job for a project.
func (s *Store) LatestJob(projectID string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, err := scanJob(s.db.QueryRow(
		"SELECT "+jobColumns+" FROM job_run WHERE project_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		projectID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus sets the job status.
func (s *Store) UpdateJobStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE job_run SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// StartJob marks the job running at the given stage.
func (s *Store) StartJob(id, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE job_run SET status = ?, current_stage = ?, started_at = COALESCE(started_at, ?)
		 WHERE id = ?`,
		types.JobRunning, stage, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}
	return nil
}

// SetJobStage updates the stage label and progress of a running job.
func (s *Store) SetJobStage(id, stage string, progressPct int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE job_run SET current_stage = ?, progress_pct = ? WHERE id = ?",
		stage, progressPct, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set job stage: %w", err)
	}
	return nil
}

// SetJobPlan records the generated plan and moves the job to the given status.
func (s *Store) SetJobPlan(jobID, planID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE job_run SET plan_id = ?, status = ? WHERE id = ?",
		planID, status, jobID,
	)
	if err != nil {
		return fmt.Errorf("failed to set job plan: %w", err)
	}
	return nil
}

// CompleteJob marks the job completed.
func (s *Store) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE job_run SET status = ?, progress_pct = 100, current_stage = 'done', finished_at = ?
		 WHERE id = ?`,
		types.JobCompleted, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// FailJob marks the job failed with a short message and full details.
func (s *Store) FailJob(id, message, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE job_run SET status = ?, error_message = ?, error_details = ?, finished_at = ?
		 WHERE id = ?`,
		types.JobFailed, message, details, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return nil
}

// CancelActiveJob cancels the most recent non-terminal job for a project
// and returns its ID. Returns empty when nothing was cancelable.
func (s *Store) CancelActiveJob(projectID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobID string
	err := s.db.QueryRow(
		`SELECT id FROM job_run
		 WHERE project_id = ? AND status NOT IN (?, ?, ?)
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		projectID, types.JobCompleted, types.JobFailed, types.JobCancelled,
	).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find active job: %w", err)
	}

	_, err = s.db.Exec(
		"UPDATE job_run SET status = ?, finished_at = ? WHERE id = ?",
		types.JobCancelled, time.Now().UTC(), jobID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to cancel job: %w", err)
	}
	return jobID, nil
}

// SetJobSynthesis stores the reasoning synthesis summary on the job.
func (s *Store) SetJobSynthesis(id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("UPDATE job_run SET synthesis_summary = ? WHERE id = ?", summary, id)
	if err != nil {
		return fmt.Errorf("failed to set synthesis summary: %w", err)
	}
	return nil
}

// HasApprovedPlan reports whether any past job of the project ran with an
// approved plan. Used to default requires_approval on resubmission.
func (s *Store) HasApprovedPlan(projectID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM job_plan p
		 JOIN job_run j ON j.id = p.job_id
		 WHERE j.project_id = ? AND p.status = ?`,
		projectID, types.PlanApproved,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count approved plans: %w", err)
	}
	return n > 0, nil
}
