package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// Asset types that count toward functional coverage.
var functionalTypes = map[string]bool{
	types.NodeTypeTable:      true,
	types.NodeTypeView:       true,
	types.NodeTypePipeline:   true,
	types.NodeTypeScript:     true,
	types.NodeTypePackage:    true,
	types.NodeTypeStoredProc: true,
}

// Auditor computes coverage snapshots from the catalog.
type Auditor struct {
	store *store.Store
}

// NewAuditor creates an auditor over the given store.
func NewAuditor(s *store.Store) *Auditor {
	return &Auditor{store: s}
}

// RunAudit computes the coverage metrics and gaps for a project and
// persists them as a snapshot tied to jobID.
func (a *Auditor) RunAudit(projectID, jobID string) (*types.AuditSnapshot, error) {
	assets, err := a.store.ListAssets(projectID)
	if err != nil {
		return nil, err
	}
	edges, err := a.store.ListEdges(projectID)
	if err != nil {
		return nil, err
	}
	lineage, err := a.store.ListColumnLineage(projectID)
	if err != nil {
		return nil, err
	}

	// Connectivity is keyed by asset ID. Lineage rows carry raw refs
	// (names or component ids), so resolve them against the inventory
	// before counting.
	byID := map[string]bool{}
	byName := map[string]string{}
	for _, asset := range assets {
		byID[asset.ID] = true
		byName[asset.NameDisplay] = asset.ID
		if asset.CanonicalName != "" {
			byName[asset.CanonicalName] = asset.ID
		}
	}

	connected := map[string]bool{}
	for _, e := range edges {
		connected[e.FromAssetID] = true
		connected[e.ToAssetID] = true
	}
	for _, cl := range lineage {
		for _, ref := range []string{cl.SourceAssetRef, cl.TargetAssetRef} {
			if byID[ref] {
				connected[ref] = true
			} else if id, ok := byName[ref]; ok {
				connected[id] = true
			}
		}
	}

	var functional, linked int
	var orphans []string
	for _, asset := range assets {
		if !functionalTypes[asset.AssetType] {
			continue
		}
		functional++
		if connected[asset.ID] {
			linked++
		} else if len(orphans) < 10 {
			orphans = append(orphans, asset.NameDisplay)
		}
	}

	metrics := types.AuditMetrics{
		TotalAssets:        len(assets),
		TotalRelationships: len(edges),
		AvgConfidence:      1.0,
	}
	if functional > 0 {
		metrics.CoverageScore = 100 * float64(linked) / float64(functional)
		if metrics.CoverageScore > 100 {
			metrics.CoverageScore = 100
		}
	}

	var confSum float64
	var confCount, hypotheses, lowConfidence int
	for _, e := range edges {
		confSum += e.Confidence
		confCount++
		if e.IsHypothesis {
			hypotheses++
		}
		if e.Confidence < 0.5 {
			lowConfidence++
		}
	}
	for _, cl := range lineage {
		confSum += cl.Confidence
		confCount++
	}
	if confCount > 0 {
		metrics.AvgConfidence = confSum / float64(confCount)
	}
	if len(edges) > 0 {
		metrics.HypothesisRatio = 100 * float64(hypotheses) / float64(len(edges))
	}

	var gaps []types.AuditGap
	if len(orphans) > 0 {
		gaps = append(gaps, types.AuditGap{
			Kind:        "orphan_assets",
			Description: fmt.Sprintf("%d functional assets have no relationships", functional-linked),
			AssetNames:  orphans,
			Count:       functional - linked,
		})
	}
	if lowConfidence > 0 {
		gaps = append(gaps, types.AuditGap{
			Kind:        "low_confidence",
			Description: fmt.Sprintf("%d edges have confidence below 0.5", lowConfidence),
			Count:       lowConfidence,
		})
	}

	snap := &types.AuditSnapshot{
		ID:              uuid.NewString(),
		ProjectID:       projectID,
		JobID:           jobID,
		Metrics:         metrics,
		Gaps:            gaps,
		Recommendations: recommendations(metrics, gaps),
		CreatedAt:       time.Now().UTC(),
	}
	if err := a.store.SaveSnapshot(snap); err != nil {
		return nil, err
	}

	logging.L(logging.CategoryAudit).Infow("audit snapshot saved",
		"project_id", projectID, "coverage", metrics.CoverageScore,
		"avg_confidence", metrics.AvgConfidence, "gaps", len(gaps))
	return snap, nil
}

func recommendations(m types.AuditMetrics, gaps []types.AuditGap) []string {
	var recs []string
	if m.CoverageScore < 50 {
		recs = append(recs, "Coverage is below 50%; re-run with deep_scan mode or supply additional source artifacts.")
	}
	if m.HypothesisRatio > 40 {
		recs = append(recs, "Over 40% of relationships are hypotheses; review regex-derived edges and confirm or reject them.")
	}
	for _, g := range gaps {
		if g.Kind == "low_confidence" {
			recs = append(recs, "Re-process files backing low-confidence edges with a stronger model.")
		}
	}
	return recs
}

// Complexity grades how demanding a project is, to steer model selection.
type Complexity struct {
	Score   int    `json:"score"`
	Level   string `json:"level"`
	Drivers string `json:"drivers,omitempty"`
}

// AnalyzeComplexity scores a project by catalog volume and connectivity.
func (a *Auditor) AnalyzeComplexity(projectID string) (*Complexity, error) {
	assetCount, err := a.store.CountAssets(projectID)
	if err != nil {
		return nil, err
	}
	edgeCount, err := a.store.CountEdges(projectID)
	if err != nil {
		return nil, err
	}
	packages, err := a.store.ListPackages(projectID)
	if err != nil {
		return nil, err
	}

	score := 0
	var drivers []string
	if assetCount > 1000 {
		score += 50
		drivers = append(drivers, "very large asset inventory")
	} else if assetCount > 500 {
		score += 30
		drivers = append(drivers, "large asset inventory")
	}
	if assetCount > 0 && float64(edgeCount)/float64(assetCount) > 5 {
		score += 20
		drivers = append(drivers, "dense relationship graph")
	}
	if len(packages) > 50 {
		score += 30
		drivers = append(drivers, "many ETL packages")
	}

	level := "low"
	switch {
	case score > 60:
		level = "high"
	case score > 30:
		level = "medium"
	}
	c := &Complexity{Score: score, Level: level}
	for i, d := range drivers {
		if i > 0 {
			c.Drivers += "; "
		}
		c.Drivers += d
	}
	return c, nil
}
