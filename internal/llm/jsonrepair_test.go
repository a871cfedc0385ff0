package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONFencedWithProse(t *testing.T) {
	response := "Sure! Here is the extraction you asked for:\n\n```json\n{\"nodes\": [], \"edges\": []}\n```\n\nLet me know if you need anything else."
	got, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes": [], "edges": []}`, got)
}

func TestExtractJSONBareFence(t *testing.T) {
	got, err := ExtractJSON("```\n[{\"a\": 1}]\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a": 1}]`, got)
}

func TestExtractJSONFirstBalancedFragment(t *testing.T) {
	got, err := ExtractJSON(`The answer is {"nodes": [{"node_id": "t", "name": "t"}], "edges": []} as requested.`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes": [{"node_id": "t", "name": "t"}], "edges": []}`, got)
}

func TestExtractJSONHonorsStringsWithBraces(t *testing.T) {
	got, err := ExtractJSON(`{"expr": "if {x} then }", "n": 1} trailing`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"expr": "if {x} then }", "n": 1}`, got)
}

func TestExtractJSONWrapsCommaSeparatedObjects(t *testing.T) {
	got, err := ExtractJSON(`{"node_id": "a"}, {"node_id": "b"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"node_id": "a"}, {"node_id": "b"}]`, got)
}

func TestExtractJSONNoFragment(t *testing.T) {
	_, err := ExtractJSON("I could not analyze this file.")
	require.Error(t, err)
}

func parse(t *testing.T, s string) any {
	t.Helper()
	var v any
	require.NoError(t, json.Unmarshal([]byte(s), &v))
	return v
}

func TestRepairExtractionListBecomesNodes(t *testing.T) {
	doc, dropped, err := RepairExtraction(parse(t, `[{"node_id": "a", "node_type": "TABLE", "name": "a"}]`))
	require.NoError(t, err)
	assert.Zero(t, dropped)

	nodes := doc["nodes"].([]any)
	require.Len(t, nodes, 1)
	assert.Empty(t, doc["edges"])
}

func TestRepairExtractionAliases(t *testing.T) {
	doc, dropped, err := RepairExtraction(parse(t, `{
		"nodes": [
			{"entity_id": "dbo.sales", "entity_type": "TABLE"},
			{"id": "x", "type": "VIEW", "name": "The View"}
		],
		"edges": [
			{"source_id": "x", "target_id": "dbo.sales", "edge_type": "READS_FROM"},
			{"source_id": "x", "edge_type": "READS_FROM"}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped, "edge without target must be dropped")

	nodes := doc["nodes"].([]any)
	first := nodes[0].(map[string]any)
	assert.Equal(t, "dbo.sales", first["node_id"])
	assert.Equal(t, "TABLE", first["node_type"])
	assert.Equal(t, "dbo.sales", first["name"], "name defaults to node_id")

	second := nodes[1].(map[string]any)
	assert.Equal(t, "x", second["node_id"])
	assert.Equal(t, "The View", second["name"])

	edges := doc["edges"].([]any)
	require.Len(t, edges, 1)
	edge := edges[0].(map[string]any)
	assert.Equal(t, "x", edge["from_node_id"])
	assert.Equal(t, "dbo.sales", edge["to_node_id"])
}

func TestRepairExtractionFoldsAttributeList(t *testing.T) {
	doc, _, err := RepairExtraction(parse(t, `{
		"nodes": [{"node_id": "t", "attributes": [{"name": "schema", "value": "dbo"}]}],
		"edges": []
	}`))
	require.NoError(t, err)

	node := doc["nodes"].([]any)[0].(map[string]any)
	want := map[string]any{"schema": "dbo"}
	if diff := cmp.Diff(want, node["attributes"]); diff != "" {
		t.Fatalf("attributes mismatch (-want +got):\n%s", diff)
	}
}

func TestRepairExtractionMissingNodes(t *testing.T) {
	_, _, err := RepairExtraction(parse(t, `{"edges": []}`))
	require.Error(t, err)

	_, _, err = RepairExtraction(parse(t, `{"nodes": "not a list"}`))
	require.Error(t, err)

	_, _, err = RepairExtraction("a bare string")
	require.Error(t, err)
}

func TestRepairExtractionNonListEdges(t *testing.T) {
	doc, dropped, err := RepairExtraction(parse(t, `{"nodes": [], "edges": {"oops": true}}`))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Empty(t, doc["edges"])
}
