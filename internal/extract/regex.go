package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"digger/internal/types"
)

var (
	connStringRe = regexp.MustCompile(`(?i)(?:Data Source|Server|Host)\s*=\s*([\w.\\-]+)`)
	databaseRe   = regexp.MustCompile(`(?i)(?:Initial Catalog|Database)\s*=\s*([\w.-]+)`)
	tableRefRe   = regexp.MustCompile(`(?i)\b(?:FROM|JOIN|INTO|TABLE)\s+(\[?[\w]+\]?\.\[?[\w]+\]?)`)
)

// ExtractRegex is the low-cost scan for config-like files: connection
// targets and qualified table references, all flagged as hypotheses.
func ExtractRegex(in Input) (*types.ExtractionResult, error) {
	fileName := filepath.Base(in.Path)
	res := &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "regex_scan", SourceFile: in.Path},
	}
	res.Nodes = append(res.Nodes, types.ExtractedNode{
		NodeID:   fileName,
		NodeType: types.NodeTypeFile,
		Name:     fileName,
		System:   "filesystem",
		Attributes: map[string]any{
			"path": in.Path,
		},
	})

	seen := map[string]bool{}
	addHypothesis := func(name, nodeType, edgeType string, match string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		res.Nodes = append(res.Nodes, types.ExtractedNode{
			NodeID:   name,
			NodeType: nodeType,
			Name:     name,
			System:   "unknown",
		})
		evidenceRef := len(res.Evidences)
		res.Evidences = append(res.Evidences, types.Evidence{
			FilePath: in.Path,
			Kind:     types.EvidenceRegex,
			Locator:  types.Locator{File: in.Path, LineStart: lineOf(in.Content, match)},
			Snippet:  snippet(match, 160),
		})
		res.Edges = append(res.Edges, types.ExtractedEdge{
			FromNodeID:   fileName,
			ToNodeID:     name,
			EdgeType:     edgeType,
			Confidence:   0.5,
			IsHypothesis: true,
			EvidenceRefs: []int{evidenceRef},
		})
	}

	for _, m := range databaseRe.FindAllStringSubmatch(in.Content, -1) {
		addHypothesis(cleanIdentifier(m[1]), types.NodeTypeUnknown, types.EdgeDependsOn, m[0])
	}
	for _, m := range connStringRe.FindAllStringSubmatch(in.Content, -1) {
		addHypothesis(cleanIdentifier(m[1]), types.NodeTypeUnknown, types.EdgeDependsOn, m[0])
	}
	for _, m := range tableRefRe.FindAllStringSubmatch(in.Content, -1) {
		addHypothesis(cleanIdentifier(m[1]), types.NodeTypeTable, types.EdgeReadsFrom, m[0])
	}

	return res, nil
}

func lineOf(content, match string) int {
	i := strings.Index(content, match)
	if i < 0 {
		return 0
	}
	return 1 + strings.Count(content[:i], "\n")
}
