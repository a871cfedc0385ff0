package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"digger/internal/extract"
)

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// ExtractJSON pulls the JSON document out of a model response: fenced
// blocks are unwrapped, otherwise the first balanced {...} or [...]
// fragment is taken. A bare comma-separated sequence of objects is
// wrapped into an array.
func ExtractJSON(response string) (string, error) {
	candidate := strings.TrimSpace(response)
	if m := fenceRe.FindStringSubmatch(candidate); m != nil {
		candidate = strings.TrimSpace(m[1])
	}

	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}

	start, end, ok := firstBalanced(candidate)
	if !ok {
		return "", fmt.Errorf("no JSON fragment found in response")
	}

	// Collect trailing sibling objects separated by commas.
	count := 1
	cursor := end
	for {
		rest := strings.TrimLeftFunc(candidate[cursor:], unicode.IsSpace)
		if !strings.HasPrefix(rest, ",") {
			break
		}
		after := strings.TrimLeftFunc(rest[1:], unicode.IsSpace)
		if !strings.HasPrefix(after, "{") && !strings.HasPrefix(after, "[") {
			break
		}
		offset := len(candidate) - len(after)
		_, e2, ok := firstBalanced(candidate[offset:])
		if !ok {
			break
		}
		cursor = offset + e2
		count++
	}

	fragment := candidate[start:cursor]
	if count > 1 {
		fragment = "[" + fragment + "]"
	}
	if !json.Valid([]byte(fragment)) {
		return "", fmt.Errorf("extracted fragment is not valid JSON")
	}
	return fragment, nil
}

// firstBalanced finds the first balanced {...} or [...] span, honoring
// string literals and escapes.
func firstBalanced(s string) (int, int, bool) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return 0, 0, false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return start, i + 1, true
			}
		}
	}
	return 0, 0, false
}

var nodeIDAliases = []string{"node_id", "id", "entity_id", "entity_name", "entity", "name"}
var nodeTypeAliases = []string{"node_type", "entity_type", "type"}

// RepairExtraction coerces a parsed extract.* response into the
// {nodes, edges} shape: alias keys are merged, malformed edges dropped.
// Returns the repaired document and the number of dropped edges.
func RepairExtraction(parsed any) (map[string]any, int, error) {
	var doc map[string]any
	switch v := parsed.(type) {
	case []any:
		doc = map[string]any{"nodes": v, "edges": []any{}}
	case map[string]any:
		doc = v
	default:
		return nil, 0, fmt.Errorf("response is neither object nor list")
	}

	rawNodes, ok := doc["nodes"]
	if !ok {
		return nil, 0, fmt.Errorf("response has no nodes field")
	}
	nodes, ok := rawNodes.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("nodes field is not a list")
	}

	edges, ok := doc["edges"].([]any)
	if !ok {
		edges = []any{}
	}

	for i, raw := range nodes {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		coerceAlias(node, "node_id", nodeIDAliases)
		coerceAlias(node, "node_type", nodeTypeAliases)
		if _, ok := node["name"]; !ok {
			node["name"] = node["node_id"]
		}
		if attrs, ok := node["attributes"]; ok {
			if folded := extract.FoldAttributeValue(attrs); folded != nil {
				node["attributes"] = folded
			} else {
				delete(node, "attributes")
			}
		}
		nodes[i] = node
	}

	dropped := 0
	kept := edges[:0]
	for _, raw := range edges {
		edge, ok := raw.(map[string]any)
		if !ok {
			dropped++
			continue
		}
		coerceAlias(edge, "from_node_id", []string{"from_node_id", "source_id"})
		coerceAlias(edge, "to_node_id", []string{"to_node_id", "target_id"})
		if str(edge["from_node_id"]) == "" || str(edge["to_node_id"]) == "" {
			dropped++
			continue
		}
		kept = append(kept, edge)
	}

	doc["nodes"] = nodes
	doc["edges"] = kept
	return doc, dropped, nil
}

func coerceAlias(m map[string]any, canonical string, aliases []string) {
	for _, alias := range aliases {
		if v, ok := m[alias]; ok && str(v) != "" {
			m[canonical] = v
			return
		}
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
