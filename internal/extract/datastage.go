package extract

import (
	"bufio"
	"fmt"
	"sort"
	"strings"

	"digger/internal/types"
)

// dsRecord is one BEGIN/END block in a DataStage .dsx export.
type dsRecord struct {
	Kind       string // DSJOB, DSSTAGE, DSLINK
	Identifier string
	Properties map[string]string
}

// walkDataStage runs the line state machine over a .dsx export: BEGIN
// DSJOB / DSSTAGE / DSLINK blocks with Identifier and Key "Value" lines.
func walkDataStage(content string) []dsRecord {
	var records []dsRecord
	var stack []*dsRecord

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "BEGIN "):
			kind := strings.TrimSpace(strings.TrimPrefix(line, "BEGIN "))
			rec := &dsRecord{Kind: kind, Properties: map[string]string{}}
			stack = append(stack, rec)
		case strings.HasPrefix(line, "END "):
			if len(stack) == 0 {
				continue
			}
			rec := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			switch rec.Kind {
			case "DSJOB", "DSSTAGE", "DSLINK":
				records = append(records, *rec)
			}
		default:
			if len(stack) == 0 {
				continue
			}
			rec := stack[len(stack)-1]
			key, value, ok := splitProperty(line)
			if !ok {
				continue
			}
			if key == "Identifier" {
				rec.Identifier = value
			} else {
				rec.Properties[key] = value
			}
		}
	}
	return records
}

// splitProperty parses `Key "Value"` lines.
func splitProperty(line string) (string, string, bool) {
	i := strings.IndexByte(line, ' ')
	if i <= 0 {
		return "", "", false
	}
	key := line[:i]
	value := strings.TrimSpace(line[i+1:])
	value = strings.Trim(value, `"`)
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

// ExtractDataStage builds the structural summary of a .dsx export: the job
// as a PIPELINE node containing its stages, with links as dependencies
// between stages.
func ExtractDataStage(in Input) (*types.ExtractionResult, error) {
	records := walkDataStage(in.Content)

	res := &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "datastage", SourceFile: in.Path},
	}

	var jobID string
	stageIDs := map[string]bool{}

	for _, rec := range records {
		if rec.Kind != "DSJOB" || rec.Identifier == "" {
			continue
		}
		jobID = rec.Identifier
		res.Nodes = append(res.Nodes, types.ExtractedNode{
			NodeID:   rec.Identifier,
			NodeType: types.NodeTypePipeline,
			Name:     rec.Identifier,
			System:   "datastage",
			Attributes: map[string]any{
				"path": in.Path,
			},
		})
	}
	if jobID == "" {
		return nil, fmt.Errorf("no DSJOB record found")
	}

	for _, rec := range records {
		if rec.Kind != "DSSTAGE" || rec.Identifier == "" {
			continue
		}
		stageIDs[rec.Identifier] = true
		attrs := map[string]any{}
		if t, ok := rec.Properties["StageType"]; ok {
			attrs["stage_type"] = t
		}
		res.Nodes = append(res.Nodes, types.ExtractedNode{
			NodeID:       rec.Identifier,
			NodeType:     types.NodeTypeProcess,
			Name:         rec.Identifier,
			System:       "datastage",
			Attributes:   attrs,
			ParentNodeID: jobID,
		})

		evidenceRef := len(res.Evidences)
		res.Evidences = append(res.Evidences, types.Evidence{
			FilePath: in.Path,
			Kind:     types.EvidenceCode,
			Locator:  types.Locator{File: in.Path},
			Snippet:  "DSSTAGE " + rec.Identifier,
		})
		res.Edges = append(res.Edges, types.ExtractedEdge{
			FromNodeID:   jobID,
			ToNodeID:     rec.Identifier,
			EdgeType:     types.EdgeContains,
			Confidence:   1.0,
			EvidenceRefs: []int{evidenceRef},
		})
	}

	for _, rec := range records {
		if rec.Kind != "DSLINK" {
			continue
		}
		from := rec.Properties["SourceStage"]
		to := rec.Properties["TargetStage"]
		if !stageIDs[from] || !stageIDs[to] {
			continue
		}
		res.Edges = append(res.Edges, types.ExtractedEdge{
			FromNodeID: to,
			ToNodeID:   from,
			EdgeType:   types.EdgeDependsOn,
			Confidence: 0.9,
			Rationale:  "DSLINK " + rec.Identifier,
		})
	}

	return res, nil
}

// DataStageSummary renders the structural walk as text for the LLM
// deep-dive payload.
func DataStageSummary(content string) string {
	records := walkDataStage(content)
	var b strings.Builder
	for _, rec := range records {
		fmt.Fprintf(&b, "%s %s\n", rec.Kind, rec.Identifier)
		keys := make([]string, 0, len(rec.Properties))
		for k := range rec.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := rec.Properties[k]
			if len(v) > 120 {
				v = v[:120]
			}
			fmt.Fprintf(&b, "  %s = %s\n", k, v)
		}
	}
	return b.String()
}
