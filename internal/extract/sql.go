package extract

import (
	"path/filepath"
	"regexp"
	"strings"

	"digger/internal/types"
)

// Batch separator: a line containing only GO, case-insensitive.
var goSplitRe = regexp.MustCompile(`(?mi)^[ \t]*GO[ \t]*;?[ \t]*\r?$`)

var (
	cteRe    = regexp.MustCompile(`(?i)(?:\bWITH|,)\s+(\[?[A-Za-z_]\w*\]?)\s+(?:\([^)]*\)\s+)?AS\s*\(`)
	readRe   = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})`)
	insertRe = regexp.MustCompile(`(?i)\bINSERT\s+INTO\s+(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})`)
	updateRe = regexp.MustCompile(`(?i)\bUPDATE\s+(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})\s+SET\b`)
	mergeRe  = regexp.MustCompile(`(?i)\bMERGE\s+(?:INTO\s+)?(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})`)
	createRe = regexp.MustCompile(`(?i)\bCREATE\s+(TABLE|VIEW|PROCEDURE|PROC|FUNCTION)\s+(\[?[\w]+\]?(?:\.\[?[\w]+\]?){0,2})`)
)

var sqlKeywords = map[string]bool{
	"select": true, "where": true, "values": true, "set": true,
	"inserted": true, "deleted": true, "dual": true,
}

// ExtractSQL parses a T-SQL script into table nodes and read/write/create
// edges. Statements are split on line-anchored GO separators; CTE names
// declared within a statement are not emitted as tables from that statement.
func ExtractSQL(in Input) (*types.ExtractionResult, error) {
	fileName := filepath.Base(in.Path)
	res := &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "sql_parser", SourceFile: in.Path},
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

	seen := map[string]string{} // name -> node type
	type edgeKey struct{ to, kind string }
	edgeSeen := map[edgeKey]bool{}

	addNode := func(name, nodeType string) {
		if prev, ok := seen[name]; ok {
			// A CREATE upgrades an unqualified TABLE guess.
			if prev == types.NodeTypeTable && nodeType != types.NodeTypeTable {
				for i := range res.Nodes {
					if res.Nodes[i].NodeID == name {
						res.Nodes[i].NodeType = nodeType
					}
				}
				seen[name] = nodeType
			}
			return
		}
		seen[name] = nodeType
		res.Nodes = append(res.Nodes, types.ExtractedNode{
			NodeID:   name,
			NodeType: nodeType,
			Name:     name,
			System:   "sql",
		})
	}

	addEdge := func(to, kind string, evidenceRef int) {
		key := edgeKey{to: to, kind: kind}
		if edgeSeen[key] {
			return
		}
		edgeSeen[key] = true
		res.Edges = append(res.Edges, types.ExtractedEdge{
			FromNodeID:   fileName,
			ToNodeID:     to,
			EdgeType:     kind,
			Confidence:   0.9,
			EvidenceRefs: []int{evidenceRef},
		})
	}

	for _, stmt := range splitStatements(in.Content) {
		text := stmt.text
		if strings.TrimSpace(text) == "" {
			continue
		}

		ctes := map[string]bool{}
		for _, m := range cteRe.FindAllStringSubmatch(text, -1) {
			ctes[strings.ToLower(cleanIdentifier(m[1]))] = true
		}

		evidenceRef := len(res.Evidences)
		res.Evidences = append(res.Evidences, types.Evidence{
			FilePath: in.Path,
			Kind:     types.EvidenceSQLGlot,
			Locator:  types.Locator{File: in.Path, LineStart: stmt.lineStart, LineEnd: stmt.lineEnd},
			Snippet:  snippet(text, 240),
		})

		usable := func(name string) bool {
			if name == "" || strings.HasPrefix(name, "@") || strings.HasPrefix(name, "#") {
				return false
			}
			if ctes[strings.ToLower(name)] {
				return false
			}
			return !sqlKeywords[strings.ToLower(name)]
		}

		for _, m := range readRe.FindAllStringSubmatch(text, -1) {
			name := cleanIdentifier(m[1])
			if !usable(name) {
				continue
			}
			addNode(name, types.NodeTypeTable)
			addEdge(name, types.EdgeReadsFrom, evidenceRef)
		}

		for _, re := range []*regexp.Regexp{insertRe, updateRe, mergeRe} {
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				name := cleanIdentifier(m[1])
				if !usable(name) {
					continue
				}
				addNode(name, types.NodeTypeTable)
				addEdge(name, types.EdgeWritesTo, evidenceRef)
			}
		}

		for _, m := range createRe.FindAllStringSubmatch(text, -1) {
			name := cleanIdentifier(m[2])
			if !usable(name) {
				continue
			}
			nodeType := types.NodeTypeTable
			switch strings.ToUpper(m[1]) {
			case "VIEW":
				nodeType = types.NodeTypeView
			case "PROCEDURE", "PROC", "FUNCTION":
				nodeType = types.NodeTypeStoredProc
			}
			addNode(name, nodeType)
			addEdge(name, types.EdgeCreates, evidenceRef)
		}
	}

	return res, nil
}

type sqlStatement struct {
	text      string
	lineStart int
	lineEnd   int
}

func splitStatements(content string) []sqlStatement {
	seps := goSplitRe.FindAllStringIndex(content, -1)
	var stmts []sqlStatement
	start := 0
	emit := func(end int) {
		text := content[start:end]
		// Drop the newline the GO separator left behind so line numbers
		// anchor on the statement itself.
		trimmed := strings.TrimLeft(text, "\r\n")
		offset := start + len(text) - len(trimmed)
		lineStart := 1 + strings.Count(content[:offset], "\n")
		lineEnd := lineStart + strings.Count(trimmed, "\n")
		stmts = append(stmts, sqlStatement{text: trimmed, lineStart: lineStart, lineEnd: lineEnd})
	}
	for _, sep := range seps {
		emit(sep[0])
		start = sep[1]
	}
	emit(len(content))
	return stmts
}

// cleanIdentifier strips brackets and quotes: [dbo].[Sales] -> dbo.Sales.
func cleanIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer("[", "", "]", "", `"`, "", "`", "", ";", "").Replace(name)
	return strings.Trim(name, ".,()")
}

func snippet(text string, max int) string {
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	return text[:max]
}
