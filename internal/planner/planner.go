// Package planner walks a fetched artifact tree and produces the
// human-approvable execution plan: per-file policy decisions, area and
// strategy classification, and cost estimates.
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

var (
	schemaPathRe = regexp.MustCompile(`(?i)schema|migration`)
	docsPathRe   = regexp.MustCompile(`(?i)readme|contract|docs`)
	jobsPathRe   = regexp.MustCompile(`(?i)jobs|pipelines`)
)

// Area display order and titles.
var areaOrder = []struct {
	Name  string
	Title string
	Order int
}{
	{types.AreaFoundation, "Foundation (SQL & Schema)", 1},
	{types.AreaPackages, "Orchestration & Packages", 2},
	{types.AreaDocs, "Documentation & Diagrams", 3},
	{types.AreaAux, "Auxiliary & Scripts", 4},
}

// Planner builds plans from artifact trees.
type Planner struct {
	store *store.Store
}

// New creates a planner over the given store.
func New(s *store.Store) *Planner {
	return &Planner{store: s}
}

// BuildPlan walks root, classifies every file, and persists the resulting
// plan with status ready, binding it to the job.
func (p *Planner) BuildPlan(jobID, projectID, root, mode string) (*types.Plan, error) {
	log := logging.L(logging.CategoryPlanner)

	plan := &types.Plan{
		ID:     uuid.NewString(),
		JobID:  jobID,
		Status: types.PlanReady,
		Mode:   mode,
	}

	itemsByArea := map[string][]types.PlanItem{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		hash, err := hashFile(path)
		if err != nil {
			return fmt.Errorf("%w: failed to hash %s: %v", types.ErrPlanner, rel, err)
		}

		item, err := p.classify(projectID, rel, hash, info.Size())
		if err != nil {
			return err
		}
		itemsByArea[item.AreaID] = append(itemsByArea[item.AreaID], *item)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walk failed: %v", types.ErrPlanner, err)
	}

	for _, area := range areaOrder {
		items := itemsByArea[area.Name]
		if len(items) == 0 {
			continue
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
		areaID := uuid.NewString()
		for i := range items {
			items[i].AreaID = areaID
			items[i].OrderIndex = i
			plan.Summary.TotalFiles++
			plan.Summary.TotalCostEst += items[i].Estimate.CostUSD
			plan.Summary.TotalTimeEst += items[i].Estimate.TimeSeconds
		}
		plan.Areas = append(plan.Areas, types.PlanArea{
			ID:         areaID,
			PlanID:     plan.ID,
			Name:       area.Name,
			Title:      area.Title,
			OrderIndex: area.Order,
			Items:      items,
		})
	}

	if err := p.store.SavePlan(plan); err != nil {
		return nil, err
	}
	if err := p.store.SetJobPlan(jobID, plan.ID, types.JobPlanningReady); err != nil {
		return nil, err
	}

	log.Infow("plan built",
		"job_id", jobID, "files", plan.Summary.TotalFiles,
		"cost_est", plan.Summary.TotalCostEst, "areas", len(plan.Areas))
	return plan, nil
}

// classify applies the policy and the area/strategy table to one file.
// The area recorded in AreaID here is the logical area name; BuildPlan
// rewrites it to the persisted area UUID.
func (p *Planner) classify(projectID, rel, hash string, size int64) (*types.PlanItem, error) {
	action, reason := Decide(rel, size)

	if action == types.ActionProcess {
		processed, err := p.store.HasEvidenceForFile(projectID, rel, hash)
		if err != nil {
			return nil, err
		}
		if processed {
			action = types.ActionSkip
			reason = "Unchanged (already processed)"
		}
	}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), ".")
	area, strategy := areaAndStrategy(action, ext, rel)

	item := &types.PlanItem{
		ID:                uuid.NewString(),
		AreaID:            area,
		Path:              rel,
		FileHash:          hash,
		SizeBytes:         size,
		FileType:          ext,
		Classifier:        "policy_v1",
		Strategy:          strategy,
		RecommendedAction: action,
		Reason:            reason,
		Enabled:           action != types.ActionSkip,
		Estimate:          Estimate(size, strategy),
		Status:            types.ItemPending,
	}
	return item, nil
}

// areaAndStrategy is the classification table; the first matching row wins.
func areaAndStrategy(action, ext, rel string) (string, string) {
	switch {
	case action == types.ActionSkip:
		return types.AreaAux, types.StrategySkip
	case ext == "sql" || ext == "ddl" || schemaPathRe.MatchString(rel):
		return types.AreaFoundation, types.StrategyParserPlusLLM
	case (ext == "md" || ext == "json" || ext == "txt") && docsPathRe.MatchString(rel):
		return types.AreaDocs, types.StrategyLLMOnly
	case ext == "jpg" || ext == "jpeg" || ext == "png" || ext == "gif" || ext == "webp":
		return types.AreaDocs, types.StrategyVLMExtract
	case ext == "dtsx" || ext == "dsx":
		return types.AreaPackages, types.StrategyParserPlusLLM
	case jobsPathRe.MatchString(rel):
		return types.AreaPackages, types.StrategyLLMOnly
	case ext == "py" || ext == "sh" || ext == "bat" || ext == "ps1":
		return types.AreaAux, types.StrategyLLMOnly
	case ext == "xml" || ext == "config" || ext == "yaml" || ext == "yml" || ext == "env":
		return types.AreaAux, types.StrategyParserOnly
	default:
		return types.AreaAux, types.StrategyLLMOnly
	}
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
