package catalog

import (
	"fmt"
	"sort"
	"strings"

	"digger/internal/types"
)

// SolutionContext is the catalog digest handed to reasoning actions.
type SolutionContext struct {
	ProjectID      string         `json:"project_id"`
	AssetsByType   map[string]int `json:"assets_by_type"`
	TotalEdges     int            `json:"total_edges"`
	LowConfidence  []types.Edge   `json:"low_confidence_edges,omitempty"`
	Packages       []string       `json:"packages,omitempty"`
	InventoryBrief string         `json:"inventory_brief"`
}

// GetSolutionContext summarizes what the catalog currently knows about a
// project, for prompt interpolation.
func (c *Syncer) GetSolutionContext(projectID string) (*SolutionContext, error) {
	assets, err := c.store.ListAssets(projectID)
	if err != nil {
		return nil, err
	}
	edges, err := c.store.ListEdges(projectID)
	if err != nil {
		return nil, err
	}
	packages, err := c.store.ListPackages(projectID)
	if err != nil {
		return nil, err
	}

	sc := &SolutionContext{
		ProjectID:    projectID,
		AssetsByType: map[string]int{},
		TotalEdges:   len(edges),
	}
	for _, a := range assets {
		sc.AssetsByType[a.AssetType]++
	}
	for _, e := range edges {
		if e.Confidence < 0.5 {
			sc.LowConfidence = append(sc.LowConfidence, e)
		}
	}
	for _, p := range packages {
		sc.Packages = append(sc.Packages, p.Name)
	}

	var kinds []string
	for t := range sc.AssetsByType {
		kinds = append(kinds, t)
	}
	sort.Strings(kinds)
	var b strings.Builder
	for _, t := range kinds {
		fmt.Fprintf(&b, "%s: %d\n", t, sc.AssetsByType[t])
	}
	fmt.Fprintf(&b, "edges: %d (%d low confidence)\n", sc.TotalEdges, len(sc.LowConfidence))
	if len(sc.Packages) > 0 {
		fmt.Fprintf(&b, "packages: %s\n", strings.Join(sc.Packages, ", "))
	}
	sc.InventoryBrief = b.String()
	return sc, nil
}
