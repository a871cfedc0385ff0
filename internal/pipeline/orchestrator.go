// Package pipeline ties the stages together: the worker pool polling the
// job queue, the orchestrator driving one job through ingest, planning,
// approval, execution, and post-processing, and the service API the CLI
// talks to.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"digger/internal/audit"
	"digger/internal/catalog"
	"digger/internal/config"
	"digger/internal/extract"
	"digger/internal/fetch"
	"digger/internal/llm"
	"digger/internal/logging"
	"digger/internal/planner"
	"digger/internal/report"
	"digger/internal/store"
	"digger/internal/types"
)

// ErrCancelled marks a run stopped by user cancellation.
var ErrCancelled = fmt.Errorf("User Cancelled")

// Orchestrator drives one job through its lifecycle. Re-entering the same
// job after plan approval resumes at execution instead of restarting.
type Orchestrator struct {
	store    *store.Store
	fetcher  *fetch.Fetcher
	planner  *planner.Planner
	syncer   *catalog.Syncer
	runner   *llm.Runner
	recorder *audit.Recorder
	refiner  *audit.Refiner
	reporter *report.Generator
}

// NewOrchestrator wires an orchestrator from its stages.
func NewOrchestrator(s *store.Store, f *fetch.Fetcher, p *planner.Planner, c *catalog.Syncer,
	r *llm.Runner, rec *audit.Recorder, ref *audit.Refiner, rep *report.Generator) *Orchestrator {
	return &Orchestrator{
		store: s, fetcher: f, planner: p, syncer: c,
		runner: r, recorder: rec, refiner: ref, reporter: rep,
	}
}

// Process runs one claimed job. Returning ErrCancelled means the user
// stopped the run; any other error is a fatal job failure already
// recorded on the job row.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	log := logging.L(logging.CategoryPipeline)

	job, err := o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.IsTerminal() {
		log.Infow("job already terminal, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	if err := o.store.StartJob(jobID, "ingest"); err != nil {
		return err
	}

	sol, err := o.store.GetSolution(job.ProjectID)
	if err != nil {
		return err
	}
	if sol == nil {
		return o.fail(jobID, "solution not found", fmt.Sprintf("no solution row for project %s", job.ProjectID))
	}

	localPath, err := o.fetcher.Fetch(ctx, sol.StoragePath)
	if err != nil {
		return o.fail(jobID, "artifact ingest failed", err.Error())
	}

	// Plan check. A missing plan means this is the first pass: build one
	// and hand control back so a human can approve it. The approval
	// endpoint re-enqueues the job.
	if job.PlanID == "" {
		if err := o.store.SetJobStage(jobID, "planning", 0); err != nil {
			return err
		}
		mode := types.ModeStandard
		if strings.EqualFold(os.Getenv(config.EconomyModeEnv), "true") {
			mode = types.ModeLowCost
		}
		plan, err := o.planner.BuildPlan(jobID, job.ProjectID, localPath, mode)
		if err != nil {
			return o.fail(jobID, "planning failed", err.Error())
		}
		if job.RequiresApproval {
			log.Infow("plan ready, awaiting approval", "job_id", jobID, "plan_id", plan.ID)
			return nil
		}
		if err := o.approveAndResume(jobID, plan.ID); err != nil {
			return err
		}
	} else {
		plan, err := o.store.GetPlan(job.PlanID)
		if err != nil {
			return err
		}
		if plan == nil || plan.Status != types.PlanApproved {
			log.Infow("plan not approved yet, releasing job", "job_id", jobID)
			// StartJob flipped the status to running; park the job back
			// at the approval barrier.
			return o.store.UpdateJobStatus(jobID, types.JobPlanningReady)
		}
	}

	job, err = o.store.GetJob(jobID)
	if err != nil {
		return err
	}
	plan, err := o.store.GetPlan(job.PlanID)
	if err != nil {
		return err
	}

	cancelled, err := o.execute(ctx, job, plan, localPath)
	if err != nil {
		return o.fail(jobID, "execution failed", err.Error())
	}
	if cancelled {
		return ErrCancelled
	}

	o.postProcess(ctx, job)
	if err := o.store.CompleteJob(jobID); err != nil {
		return err
	}
	log.Infow("job completed", "job_id", jobID, "project_id", job.ProjectID)
	return nil
}

// approveAndResume auto-approves a plan for jobs submitted without the
// approval gate, keeping the job running.
func (o *Orchestrator) approveAndResume(jobID, planID string) error {
	if err := o.store.UpdatePlanStatus(planID, types.PlanApproved); err != nil {
		return err
	}
	return o.store.UpdateJobStatus(jobID, types.JobRunning)
}

// execute runs the enabled plan items in (area, item) order. Per-item
// failures are recorded and skipped; returns true when the job was
// cancelled between items.
func (o *Orchestrator) execute(ctx context.Context, job *types.Job, plan *types.Plan, root string) (bool, error) {
	log := logging.L(logging.CategoryPipeline)

	var items []types.PlanItem
	for _, area := range plan.Areas {
		for _, item := range area.Items {
			if item.Enabled {
				items = append(items, item)
			}
		}
	}

	total := len(items)
	if total == 0 {
		return false, nil
	}
	for i, item := range items {
		current, err := o.store.GetJob(job.ID)
		if err != nil {
			return false, err
		}
		if current.Status == types.JobCancelled {
			log.Infow("job cancelled, stopping", "job_id", job.ID, "at_item", item.Path)
			return true, nil
		}

		stage := "processing: " + filepath.Base(item.Path)
		if err := o.store.SetJobStage(job.ID, stage, i*100/total); err != nil {
			return false, err
		}

		if item.Strategy == types.StrategySkip {
			if err := o.store.UpdateItemStatus(item.ID, types.ItemCompleted); err != nil {
				return false, err
			}
			continue
		}

		if err := o.store.UpdateItemStatus(item.ID, types.ItemRunning); err != nil {
			return false, err
		}
		if err := o.processItem(ctx, job, item, root); err != nil {
			log.Warnw("item failed", "job_id", job.ID, "path", item.Path, "error", err)
			if err := o.store.UpdateItemStatus(item.ID, types.ItemFailed); err != nil {
				return false, err
			}
			continue
		}
		if err := o.store.UpdateItemStatus(item.ID, types.ItemCompleted); err != nil {
			return false, err
		}
	}
	return false, nil
}

// processItem extracts one file and syncs the results, including the
// deep-dive pass when the route calls for one.
func (o *Orchestrator) processItem(ctx context.Context, job *types.Job, item types.PlanItem, root string) error {
	raw, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(item.Path)))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", item.Path, err)
	}

	var content string
	if item.Strategy == types.StrategyVLMExtract {
		content = base64.StdEncoding.EncodeToString(raw)
	} else {
		content = strings.ToValidUTF8(string(raw), "�")
	}

	route := extract.ForFile(item.Path, content)
	res, err := o.extractMacro(ctx, job, item, route, content)
	if err != nil {
		return err
	}
	if res == nil {
		return nil
	}
	extract.Normalize(res, job.ID[:8])
	o.hashEvidence(res, item.FileHash)

	nodeMap, err := o.syncer.SyncExtraction(job.ProjectID, res)
	if err != nil {
		return err
	}

	if route.DeepDive != extract.DeepDiveNone {
		if err := o.deepDive(ctx, job, item, route, content, nodeMap); err != nil {
			// Deep dive failures do not undo the macro pass.
			logging.L(logging.CategoryPipeline).Warnw("deep dive failed",
				"job_id", job.ID, "path", item.Path, "error", err)
		}
	}
	return nil
}

// extractMacro runs the first extraction pass, deterministic or LLM.
func (o *Orchestrator) extractMacro(ctx context.Context, job *types.Job, item types.PlanItem, route extract.Route, content string) (*types.ExtractionResult, error) {
	in := extract.Input{Path: item.Path, Content: content, JobPrefix: job.ID[:8], ProjectID: job.ProjectID}

	if route.Deterministic != nil {
		logID := o.recorder.Start(job.ID, job.ProjectID, item.Path, route.ExtractorID, item.Strategy)
		res, err := route.Deterministic(in)
		if err != nil {
			o.recorder.LogFileError(logID, "parser_error", err.Error())
			return nil, err
		}
		o.recorder.Complete(logID, 0, 0, 0, 0, len(res.Nodes), len(res.Edges), len(res.Evidences))
		return res, nil
	}

	action := route.Action
	logID := o.recorder.Start(job.ID, job.ProjectID, item.Path, action, item.Strategy)
	result := o.runner.Run(ctx, action, job.ProjectID, llm.Payload{
		FilePath: item.Path,
		Content:  content,
		MIME:     route.MIME,
		LogID:    logID,
	}, nil)
	if !result.Success {
		o.recorder.LogFileError(logID, result.ErrorType, result.ErrorMessage)
		return nil, fmt.Errorf("%w: %s", types.ErrActionExecution, result.ErrorMessage)
	}

	res, err := llm.ToExtractionResult(result.Data)
	if err != nil {
		o.recorder.LogFileError(logID, llm.ErrTypeValidation, err.Error())
		return nil, err
	}
	res.Meta = types.ExtractionMeta{ExtractorID: route.ExtractorID, SourceFile: item.Path}
	o.recorder.Complete(logID, result.TokensIn, result.TokensOut, result.CostUSD, result.LatencyMS,
		len(res.Nodes), len(res.Edges), len(res.Evidences))
	return res, nil
}

// deepDive runs the follow-up lineage pass and syncs its output through
// the node map from the macro pass.
func (o *Orchestrator) deepDive(ctx context.Context, job *types.Job, item types.PlanItem, route extract.Route, content string, nodeMap map[string]string) error {
	var dd *types.DeepDiveResult
	var err error

	switch route.DeepDive {
	case extract.DeepDiveDeterministic:
		dd, err = extract.DeepDiveSSIS(extract.Input{Path: item.Path, Content: content, ProjectID: job.ProjectID})
		if err != nil {
			return err
		}
	case extract.DeepDiveLLM:
		payload := content
		if strings.EqualFold(filepath.Ext(item.Path), ".dsx") {
			payload = extract.DataStageSummary(content)
		}
		logID := o.recorder.Start(job.ID, job.ProjectID, item.Path, "extract.deep_dive", item.Strategy)
		result := o.runner.Run(ctx, "extract.deep_dive", job.ProjectID, llm.Payload{
			FilePath: item.Path,
			Content:  payload,
			LogID:    logID,
		}, nil)
		if !result.Success {
			o.recorder.LogFileError(logID, result.ErrorType, result.ErrorMessage)
			return fmt.Errorf("%w: %s", types.ErrActionExecution, result.ErrorMessage)
		}
		dd, err = llm.ToDeepDive(result.Data)
		if err != nil {
			o.recorder.LogFileError(logID, llm.ErrTypeValidation, err.Error())
			return err
		}
		o.recorder.Complete(logID, result.TokensIn, result.TokensOut, result.CostUSD, result.LatencyMS,
			len(dd.Components), len(dd.Lineage), 0)
	default:
		return nil
	}

	return o.syncer.SyncDeepDive(job.ProjectID, dd, nodeMap)
}

// hashEvidence stamps the item's file hash onto evidences that lack one,
// enabling the planner's unchanged-file skip on the next run.
func (o *Orchestrator) hashEvidence(res *types.ExtractionResult, fileHash string) {
	for i := range res.Evidences {
		if res.Evidences[i].Hash == "" {
			res.Evidences[i].Hash = fileHash
		}
	}
}

// postProcess runs the audit, the reasoning synthesis, and the report.
// All three are best-effort; their failures never fail a completed run.
func (o *Orchestrator) postProcess(ctx context.Context, job *types.Job) {
	log := logging.L(logging.CategoryPipeline)

	if err := o.store.SetJobStage(job.ID, "post-processing", 99); err != nil {
		log.Warnw("failed to set stage", "job_id", job.ID, "error", err)
	}

	refinement, err := o.refiner.Analyze(ctx, job.ProjectID, job.ID)
	if err != nil {
		log.Warnw("audit failed", "job_id", job.ID, "error", err)
	}

	o.synthesize(ctx, job)

	var snap *types.AuditSnapshot
	if refinement != nil {
		snaps, err := o.store.ListSnapshots(job.ProjectID)
		if err == nil && len(snaps) > 0 {
			snap = &snaps[0]
		}
	}
	if _, err := o.reporter.WriteDiscoveryReport(job.ProjectID, job.ID, snap); err != nil {
		log.Warnw("report generation failed", "job_id", job.ID, "error", err)
	}
}

// synthesize asks the reasoning action for a run summary and stores a
// truncated copy on the job row.
func (o *Orchestrator) synthesize(ctx context.Context, job *types.Job) {
	log := logging.L(logging.CategoryReasoning)

	solCtx, err := o.syncer.GetSolutionContext(job.ProjectID)
	if err != nil {
		log.Warnw("failed to build solution context", "job_id", job.ID, "error", err)
		return
	}

	result := o.runner.Run(ctx, "reasoning.architect", job.ProjectID, llm.Payload{
		FilePath: "catalog_inventory.txt",
		Content:  solCtx.InventoryBrief,
	}, map[string]string{"inventory_brief": solCtx.InventoryBrief})
	if !result.Success {
		log.Warnw("reasoning synthesis failed", "job_id", job.ID, "error_type", result.ErrorType)
		return
	}

	summary, _ := result.Data["summary"].(string)
	if summary == "" {
		if s, ok := result.Data["analysis"].(string); ok {
			summary = s
		}
	}
	if summary == "" {
		return
	}
	if len(summary) > 500 {
		summary = summary[:500] + "..."
	}
	if err := o.store.SetJobSynthesis(job.ID, summary); err != nil {
		log.Warnw("failed to save synthesis", "job_id", job.ID, "error", err)
	}
}

// fail records a fatal job failure and returns the short message as error.
func (o *Orchestrator) fail(jobID, message, details string) error {
	if err := o.store.FailJob(jobID, message, details); err != nil {
		return err
	}
	return fmt.Errorf("%s: %s", message, details)
}
