package types

import "time"

// Solution statuses.
const (
	SolutionPending    = "PENDING"
	SolutionQueued     = "QUEUED"
	SolutionProcessing = "PROCESSING"
	SolutionReady      = "READY"
	SolutionError      = "ERROR"
)

// Job statuses.
const (
	JobQueued        = "queued"
	JobRunning       = "running"
	JobPlanningReady = "planning_ready"
	JobCompleted     = "completed"
	JobFailed        = "failed"
	JobCancelled     = "cancelled"
)

// Queue entry statuses.
const (
	QueuePending    = "pending"
	QueueProcessing = "processing"
	QueueCompleted  = "completed"
	QueueFailed     = "failed"
)

// Solution is a project/workspace scoping all catalog state.
type Solution struct {
	ID          string
	Name        string
	StoragePath string
	Status      string
	CreatedAt   time.Time
}

// Job is a single discovery run over a solution.
type Job struct {
	ID               string
	ProjectID        string
	Status           string
	CurrentStage     string
	ProgressPct      int
	PlanID           string
	RequiresApproval bool
	StartedAt        *time.Time
	FinishedAt       *time.Time
	ErrorMessage     string
	ErrorDetails     string
	SynthesisSummary string
	CreatedAt        time.Time
}

// IsTerminal reports whether the job has reached a terminal state.
func (j *Job) IsTerminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// QueueEntry is a claimable token referencing a job.
type QueueEntry struct {
	ID        int64
	JobID     string
	Status    string
	Attempts  int
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}
