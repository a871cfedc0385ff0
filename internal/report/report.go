// Package report renders run artifacts: the markdown discovery report and
// the per-solution sandbox of saved analysis files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"digger/internal/logging"
	"digger/internal/store"
	"digger/internal/types"
)

// Generator writes report artifacts under the artifacts root.
type Generator struct {
	store         *store.Store
	artifactsRoot string
}

// NewGenerator creates a report generator rooted at artifactsRoot.
func NewGenerator(s *store.Store, artifactsRoot string) *Generator {
	return &Generator{store: s, artifactsRoot: artifactsRoot}
}

// WriteDiscoveryReport renders the discovery report for a finished run and
// writes it to {artifacts_root}/{project_id}/reports/discovery_report.md.
// Returns the written path.
func (g *Generator) WriteDiscoveryReport(projectID, jobID string, snap *types.AuditSnapshot) (string, error) {
	assets, err := g.store.ListAssets(projectID)
	if err != nil {
		return "", err
	}
	edges, err := g.store.ListEdges(projectID)
	if err != nil {
		return "", err
	}
	packages, err := g.store.ListPackages(projectID)
	if err != nil {
		return "", err
	}
	logs, err := g.store.ListJobLogs(jobID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Discovery Report\n\n")
	fmt.Fprintf(&b, "Project: `%s`  \nJob: `%s`  \nGenerated: %s\n\n",
		projectID, jobID, time.Now().UTC().Format(time.RFC3339))

	if snap != nil {
		fmt.Fprintf(&b, "## Coverage\n\n")
		fmt.Fprintf(&b, "| Metric | Value |\n|---|---|\n")
		fmt.Fprintf(&b, "| Assets | %d |\n", snap.Metrics.TotalAssets)
		fmt.Fprintf(&b, "| Relationships | %d |\n", snap.Metrics.TotalRelationships)
		fmt.Fprintf(&b, "| Coverage score | %.1f%% |\n", snap.Metrics.CoverageScore)
		fmt.Fprintf(&b, "| Average confidence | %.2f |\n", snap.Metrics.AvgConfidence)
		fmt.Fprintf(&b, "| Hypothesis ratio | %.1f%% |\n\n", snap.Metrics.HypothesisRatio)

		if len(snap.Gaps) > 0 {
			fmt.Fprintf(&b, "### Gaps\n\n")
			for _, gap := range snap.Gaps {
				fmt.Fprintf(&b, "- **%s**: %s\n", gap.Kind, gap.Description)
				if len(gap.AssetNames) > 0 {
					fmt.Fprintf(&b, "  - %s\n", strings.Join(gap.AssetNames, ", "))
				}
			}
			fmt.Fprintln(&b)
		}
		if len(snap.Recommendations) > 0 {
			fmt.Fprintf(&b, "### Recommendations\n\n")
			for _, rec := range snap.Recommendations {
				fmt.Fprintf(&b, "- %s\n", rec)
			}
			fmt.Fprintln(&b)
		}
	}

	byType := map[string][]string{}
	for _, a := range assets {
		byType[a.AssetType] = append(byType[a.AssetType], a.NameDisplay)
	}
	var kinds []string
	for t := range byType {
		kinds = append(kinds, t)
	}
	sort.Strings(kinds)
	fmt.Fprintf(&b, "## Asset Inventory\n\n")
	for _, t := range kinds {
		names := byType[t]
		sort.Strings(names)
		fmt.Fprintf(&b, "### %s (%d)\n\n", t, len(names))
		limit := len(names)
		if limit > 50 {
			limit = 50
		}
		for _, name := range names[:limit] {
			fmt.Fprintf(&b, "- %s\n", name)
		}
		if len(names) > limit {
			fmt.Fprintf(&b, "- … and %d more\n", len(names)-limit)
		}
		fmt.Fprintln(&b)
	}

	if len(packages) > 0 {
		fmt.Fprintf(&b, "## ETL Packages\n\n")
		for _, p := range packages {
			fmt.Fprintf(&b, "- **%s** (%s) from `%s`\n", p.Name, p.PackageType, p.FilePath)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "## Relationships\n\n%d edges recorded.\n\n", len(edges))

	if len(logs) > 0 {
		var ok, failed int
		var cost float64
		for _, l := range logs {
			if l.Status == types.LogSuccess {
				ok++
			} else {
				failed++
			}
			cost += l.CostEstimateUSD
		}
		fmt.Fprintf(&b, "## Processing Summary\n\n")
		fmt.Fprintf(&b, "%d files processed, %d failed. Estimated LLM cost: $%.4f.\n", ok, failed, cost)
	}

	dir := filepath.Join(g.artifactsRoot, projectID, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create reports dir: %w", err)
	}
	path := filepath.Join(dir, "discovery_report.md")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	logging.L(logging.CategoryReport).Infow("discovery report written", "path", path)
	return path, nil
}
