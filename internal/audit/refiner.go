package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"digger/internal/catalog"
	"digger/internal/llm"
	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// refineAction is the LLM action driving the refinement loop.
const refineAction = "action.analyze_iteration"

// Refinement is the outcome of one analyze-and-suggest pass.
type Refinement struct {
	Summary         string   `json:"summary"`
	Suggestions     []string `json:"suggestions"`
	EscalateModel   bool     `json:"escalate_model"`
	SnapshotID      string   `json:"snapshot_id"`
	ComplexityLevel string   `json:"complexity_level"`
}

// Refiner reviews a finished run and proposes next steps via the
// analyze-iteration action.
type Refiner struct {
	store   *store.Store
	auditor *Auditor
	syncer  *catalog.Syncer
	runner  *llm.Runner
}

// NewRefiner wires a refiner.
func NewRefiner(s *store.Store, auditor *Auditor, syncer *catalog.Syncer, runner *llm.Runner) *Refiner {
	return &Refiner{store: s, auditor: auditor, syncer: syncer, runner: runner}
}

// Analyze runs an audit, grades complexity, and asks the model for
// refinement suggestions over the latest snapshot and catalog digest.
// The suggestion pass is best-effort; audit results stand without it.
func (r *Refiner) Analyze(ctx context.Context, projectID, jobID string) (*Refinement, error) {
	log := logging.L(logging.CategoryAudit)

	snap, err := r.auditor.RunAudit(projectID, jobID)
	if err != nil {
		return nil, err
	}
	complexity, err := r.auditor.AnalyzeComplexity(projectID)
	if err != nil {
		return nil, err
	}
	solCtx, err := r.syncer.GetSolutionContext(projectID)
	if err != nil {
		return nil, err
	}

	ref := &Refinement{
		SnapshotID:      snap.ID,
		ComplexityLevel: complexity.Level,
		EscalateModel:   complexity.Level == "high",
	}
	if ref.EscalateModel {
		ref.Suggestions = append(ref.Suggestions,
			"Project complexity is high ("+complexity.Drivers+"); route extraction actions to a stronger model tier.")
	}

	payloadDoc := map[string]any{
		"metrics":    snap.Metrics,
		"gaps":       snap.Gaps,
		"complexity": complexity,
		"inventory":  solCtx.InventoryBrief,
	}
	content, err := json.Marshal(payloadDoc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}

	result := r.runner.Run(ctx, refineAction, projectID, llm.Payload{
		FilePath: "audit_snapshot.json",
		Content:  string(content),
	}, map[string]string{"inventory_brief": solCtx.InventoryBrief})
	if !result.Success {
		log.Warnw("refinement suggestion pass failed",
			"project_id", projectID, "error_type", result.ErrorType, "error", result.ErrorMessage)
		return ref, nil
	}

	if s, ok := result.Data["summary"].(string); ok {
		ref.Summary = s
	}
	if raw, ok := result.Data["suggestions"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ref.Suggestions = append(ref.Suggestions, s)
			}
		}
	}

	if ref.Summary != "" {
		err = r.store.SaveReasoningLog(&types.ReasoningLog{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			JobID:     jobID,
			Action:    refineAction,
			Content:   ref.Summary,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}
	return ref, nil
}
