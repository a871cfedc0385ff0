package extract

import (
	"fmt"

	"digger/internal/types"
)

// Normalize enforces the uniform result shape on extractor and LLM output:
// every node gets an ID, a type, a system, and a string-keyed attribute map.
func Normalize(res *types.ExtractionResult, jobPrefix string) {
	if res == nil {
		return
	}
	for i := range res.Nodes {
		node := &res.Nodes[i]
		if node.NodeID == "" {
			node.NodeID = fmt.Sprintf("unnamed_node_%d_%s", i, jobPrefix)
		}
		if node.NodeType == "" {
			node.NodeType = types.NodeTypeUnknown
		}
		if node.System == "" {
			node.System = "unknown"
		}
		if node.Name == "" {
			node.Name = node.NodeID
		}
		node.Attributes = FoldAttributes(node.Attributes)
	}
}

// FoldAttributes coerces attribute payloads into a string-keyed map. LLMs
// occasionally return a list of {name, value} pairs instead.
func FoldAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	return attrs
}

// FoldAttributeValue converts an arbitrary attributes value (map or list of
// {name, value} pairs) into a string-keyed map.
func FoldAttributeValue(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		folded := make(map[string]any, len(t))
		for _, item := range t {
			pair, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := pair["name"].(string)
			if name == "" {
				continue
			}
			folded[name] = pair["value"]
		}
		if len(folded) == 0 {
			return nil
		}
		return folded
	default:
		return nil
	}
}
