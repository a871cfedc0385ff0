package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// Service is the control-plane API over jobs, plans, and audits. The CLI
// commands are thin wrappers around it.
type Service struct {
	store *store.Store
}

// NewService creates a service over the given store.
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// SubmitOptions tune a submission.
type SubmitOptions struct {
	// RequiresApproval overrides the default approval gate. By default the
	// first run of a project requires approval; later runs of a project
	// with a previously approved plan do not.
	RequiresApproval *bool
}

// Submit registers (or refreshes) a solution and enqueues a discovery job
// for it. Returns the new job.
func (s *Service) Submit(projectID, name, sourceRef string, opts SubmitOptions) (*types.Job, error) {
	log := logging.L(logging.CategoryQueue)

	if projectID == "" {
		projectID = uuid.NewString()
	}
	if sourceRef == "" {
		return nil, fmt.Errorf("%w: source reference is required", types.ErrValidation)
	}

	err := s.store.UpsertSolution(&types.Solution{
		ID:          projectID,
		Name:        name,
		StoragePath: sourceRef,
		Status:      types.SolutionQueued,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	requiresApproval := true
	if opts.RequiresApproval != nil {
		requiresApproval = *opts.RequiresApproval
	} else {
		approved, err := s.store.HasApprovedPlan(projectID)
		if err != nil {
			return nil, err
		}
		requiresApproval = !approved
	}

	job := &types.Job{
		ID:               uuid.NewString(),
		ProjectID:        projectID,
		Status:           types.JobQueued,
		RequiresApproval: requiresApproval,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateJob(job); err != nil {
		return nil, err
	}
	if _, err := s.store.Enqueue(job.ID); err != nil {
		return nil, err
	}

	log.Infow("job submitted",
		"job_id", job.ID, "project_id", projectID, "requires_approval", requiresApproval)
	return job, nil
}

// Approve marks a job's plan approved and re-enqueues the job so a worker
// picks up execution.
func (s *Service) Approve(jobID string) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.PlanID == "" {
		return fmt.Errorf("%w: job %s has no plan to approve", types.ErrValidation, jobID)
	}
	if job.Status != types.JobPlanningReady {
		return fmt.Errorf("%w: job %s is %s, not planning_ready", types.ErrValidation, jobID, job.Status)
	}

	if err := s.store.UpdatePlanStatus(job.PlanID, types.PlanApproved); err != nil {
		return err
	}
	if err := s.store.UpdateJobStatus(jobID, types.JobQueued); err != nil {
		return err
	}
	if _, err := s.store.Enqueue(jobID); err != nil {
		return err
	}
	logging.L(logging.CategoryQueue).Infow("plan approved, job re-enqueued", "job_id", jobID)
	return nil
}

// Reject marks a job's plan rejected and fails the job.
func (s *Service) Reject(jobID, reason string) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.PlanID == "" {
		return fmt.Errorf("%w: job %s has no plan", types.ErrValidation, jobID)
	}
	if err := s.store.UpdatePlanStatus(job.PlanID, types.PlanRejected); err != nil {
		return err
	}
	if reason == "" {
		reason = "Plan rejected"
	}
	return s.store.FailJob(jobID, reason, "")
}

// Cancel requests cancellation of a project's active job. The orchestrator
// observes the status flip at the next item boundary.
func (s *Service) Cancel(projectID string) (string, error) {
	jobID, err := s.store.CancelActiveJob(projectID)
	if err != nil {
		return "", err
	}
	if jobID == "" {
		return "", fmt.Errorf("no active job for project %s", projectID)
	}
	logging.L(logging.CategoryQueue).Infow("cancellation requested", "job_id", jobID)
	return jobID, nil
}

// GetJob returns one job.
func (s *Service) GetJob(jobID string) (*types.Job, error) {
	return s.store.GetJob(jobID)
}

// LatestJob returns the most recent job for a project.
func (s *Service) LatestJob(projectID string) (*types.Job, error) {
	return s.store.LatestJob(projectID)
}

// GetPlan returns the plan bound to a job.
func (s *Service) GetPlan(jobID string) (*types.Plan, error) {
	return s.store.GetPlanByJob(jobID)
}

// GetActivePlan returns the plan of a project's latest job.
func (s *Service) GetActivePlan(projectID string) (*types.Plan, error) {
	job, err := s.store.LatestJob(projectID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.PlanID == "" {
		return nil, nil
	}
	return s.store.GetPlan(job.PlanID)
}

// UpdatePlanItem patches one plan item before approval: toggling it,
// reordering, or moving it between areas.
func (s *Service) UpdatePlanItem(jobID, itemID string, patch store.PlanItemPatch) error {
	job, err := s.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Status != types.JobPlanningReady {
		return fmt.Errorf("%w: plan items can only be edited while planning_ready", types.ErrValidation)
	}
	return s.store.UpdatePlanItem(itemID, patch)
}

// GetJobLogs returns the per-file processing logs for a job.
func (s *Service) GetJobLogs(jobID string) ([]types.FileProcessingLog, error) {
	return s.store.ListJobLogs(jobID)
}

// GetAuditHistory returns the audit snapshots for a project, newest first.
func (s *Service) GetAuditHistory(projectID string) ([]types.AuditSnapshot, error) {
	return s.store.ListSnapshots(projectID)
}
