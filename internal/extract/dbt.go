package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"digger/internal/types"
)

type dbtManifest struct {
	Nodes   map[string]dbtNode `json:"nodes"`
	Sources map[string]dbtNode `json:"sources"`
}

type dbtNode struct {
	Name         string `json:"name"`
	ResourceType string `json:"resource_type"`
	Schema       string `json:"schema"`
	DependsOn    struct {
		Nodes []string `json:"nodes"`
	} `json:"depends_on"`
}

// ExtractDBTManifest walks a dbt manifest.json: models, seeds, and sources
// become nodes, depends_on entries become DEPENDS_ON edges.
func ExtractDBTManifest(in Input) (*types.ExtractionResult, error) {
	var manifest dbtManifest
	if err := json.Unmarshal([]byte(in.Content), &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse dbt manifest: %w", err)
	}

	res := &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "dbt_manifest", SourceFile: in.Path},
	}

	known := map[string]bool{}
	addNode := func(uniqueID string, node dbtNode) {
		if known[uniqueID] {
			return
		}
		known[uniqueID] = true
		name := node.Name
		if name == "" {
			name = uniqueID
		}
		if node.Schema != "" {
			name = node.Schema + "." + name
		}
		res.Nodes = append(res.Nodes, types.ExtractedNode{
			NodeID:   uniqueID,
			NodeType: types.NodeTypeTable,
			Name:     name,
			System:   "dbt",
			Attributes: map[string]any{
				"resource_type": node.ResourceType,
			},
		})
	}

	for id, node := range manifest.Nodes {
		switch node.ResourceType {
		case "model", "seed", "snapshot":
			addNode(id, node)
		}
	}
	for id, node := range manifest.Sources {
		addNode(id, node)
	}

	for id, node := range manifest.Nodes {
		if !known[id] {
			continue
		}
		for _, dep := range node.DependsOn.Nodes {
			if !known[dep] || dep == id {
				continue
			}
			res.Edges = append(res.Edges, types.ExtractedEdge{
				FromNodeID: id,
				ToNodeID:   dep,
				EdgeType:   types.EdgeDependsOn,
				Confidence: 1.0,
				Rationale:  "dbt depends_on",
			})
		}
	}

	if len(res.Nodes) == 0 && !strings.Contains(in.Content, "dbt") {
		return nil, fmt.Errorf("manifest has no dbt nodes")
	}
	return res, nil
}
