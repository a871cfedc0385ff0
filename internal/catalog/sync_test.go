package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digger/internal/store"
	"digger/internal/types"
)

func newTestSyncer(t *testing.T) (*Syncer, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewSyncer(s), s
}

func sqlResult() *types.ExtractionResult {
	return &types.ExtractionResult{
		Meta: types.ExtractionMeta{ExtractorID: "sql_parser", SourceFile: "ingest.sql"},
		Nodes: []types.ExtractedNode{
			{NodeID: "ingest.sql", NodeType: types.NodeTypeFile, Name: "ingest.sql", System: "filesystem"},
			{NodeID: "dbo.sales", NodeType: types.NodeTypeTable, Name: "dbo.sales", System: "sql"},
			{NodeID: "staging.sales_raw", NodeType: types.NodeTypeTable, Name: "staging.sales_raw", System: "sql"},
		},
		Edges: []types.ExtractedEdge{
			{FromNodeID: "ingest.sql", ToNodeID: "staging.sales_raw", EdgeType: types.EdgeReadsFrom, Confidence: 0.9, EvidenceRefs: []int{0}},
			{FromNodeID: "ingest.sql", ToNodeID: "dbo.sales", EdgeType: types.EdgeWritesTo, Confidence: 0.9, EvidenceRefs: []int{0}},
		},
		Evidences: []types.Evidence{
			{FilePath: "ingest.sql", Kind: types.EvidenceSQLGlot, Snippet: "INSERT INTO dbo.sales ...", Hash: "h1"},
		},
	}
}

func TestSyncExtraction(t *testing.T) {
	c, s := newTestSyncer(t)

	nodeMap, err := c.SyncExtraction("p1", sqlResult())
	require.NoError(t, err)
	require.Len(t, nodeMap, 3)

	assets, err := s.ListAssets("p1")
	require.NoError(t, err)
	require.Len(t, assets, 3)

	edges, err := s.ListEdges("p1")
	require.NoError(t, err)
	require.Len(t, edges, 2)

	// Edge endpoints reference real assets of the same project.
	byID := map[string]types.Asset{}
	for _, a := range assets {
		byID[a.ID] = a
	}
	for _, e := range edges {
		assert.Contains(t, byID, e.FromAssetID)
		assert.Contains(t, byID, e.ToAssetID)
		assert.Equal(t, "p1", e.ProjectID)
	}

	n, err := s.CountEvidence("p1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSyncExtractionIdempotent(t *testing.T) {
	c, s := newTestSyncer(t)

	_, err := c.SyncExtraction("p1", sqlResult())
	require.NoError(t, err)
	_, err = c.SyncExtraction("p1", sqlResult())
	require.NoError(t, err)

	assets, _ := s.CountAssets("p1")
	edges, _ := s.CountEdges("p1")
	evidence, _ := s.CountEvidence("p1")
	assert.Equal(t, 3, assets, "rerun must create no new assets")
	assert.Equal(t, 2, edges, "rerun must create no new edges")
	assert.Equal(t, 1, evidence, "rerun must create no new evidence")
}

func TestSyncExtractionSkipsUnmappedEdges(t *testing.T) {
	c, s := newTestSyncer(t)

	res := sqlResult()
	res.Edges = append(res.Edges, types.ExtractedEdge{
		FromNodeID: "ingest.sql", ToNodeID: "never_declared", EdgeType: types.EdgeDependsOn,
	})
	_, err := c.SyncExtraction("p1", res)
	require.NoError(t, err)

	n, err := s.CountEdges("p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSyncExtractionParentTagUsesAssetUUID(t *testing.T) {
	c, s := newTestSyncer(t)

	res := &types.ExtractionResult{
		Nodes: []types.ExtractedNode{
			{NodeID: "job1", NodeType: types.NodeTypePipeline, Name: "job1", System: "datastage"},
			{NodeID: "stage1", NodeType: types.NodeTypeProcess, Name: "stage1", System: "datastage", ParentNodeID: "job1"},
		},
	}
	nodeMap, err := c.SyncExtraction("p1", res)
	require.NoError(t, err)

	stage, err := s.GetAsset(nodeMap["stage1"])
	require.NoError(t, err)
	require.NotNil(t, stage)
	assert.Equal(t, nodeMap["job1"], stage.Tags["parent_node_id"], "parent tag must hold the asset UUID")
}

func TestSyncDeepDiveBridgesComponentsAndLineage(t *testing.T) {
	c, s := newTestSyncer(t)

	// Macro pass first, as the orchestrator does.
	macro := &types.ExtractionResult{
		Nodes: []types.ExtractedNode{
			{NodeID: "CustomerLoad", NodeType: types.NodeTypeProcess, Name: "CustomerLoad", System: "ssis"},
			{NodeID: "dbo.Customers", NodeType: types.NodeTypeTable, Name: "dbo.Customers", System: "sql"},
			{NodeID: "stage.Customers", NodeType: types.NodeTypeTable, Name: "stage.Customers", System: "sql"},
		},
	}
	nodeMap, err := c.SyncExtraction("p1", macro)
	require.NoError(t, err)

	dd := &types.DeepDiveResult{
		Package: &types.Package{Name: "CustomerLoad", PackageType: "SSIS", FilePath: "CustomerLoad.dtsx"},
		Components: []types.PackageComponent{
			{Name: "OLE DB Source", Type: types.ComponentSource, OrderIndex: 0},
			{Name: "OLE DB Destination", Type: types.ComponentSink, OrderIndex: 1},
		},
		Lineage: []types.ColumnLineage{
			{
				SourceAssetRef: "dbo.Customers", SourceColumn: "*",
				TargetAssetRef: "stage.Customers", TargetColumn: "*",
				TransformationRule: "Data Flow Path", Confidence: 1.0,
			},
		},
	}
	require.NoError(t, c.SyncDeepDive("p1", dd, nodeMap))

	// Components are mirrored as assets with the bridge naming.
	src, err := s.FindAsset("p1", "OLE DB Source", "COMPONENT_SOURCE")
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "CustomerLoad:OLE DB Source", src.CanonicalName)
	assert.NotEmpty(t, src.Tags["component_id"])

	sink, err := s.FindAsset("p1", "OLE DB Destination", "COMPONENT_SINK")
	require.NoError(t, err)
	require.NotNil(t, sink)

	// Lineage persisted plus a DETAILED_LINEAGE edge between the tables.
	lineage, err := s.ListColumnLineage("p1")
	require.NoError(t, err)
	require.Len(t, lineage, 1)

	edges, err := s.ListEdges("p1")
	require.NoError(t, err)
	var found bool
	for _, e := range edges {
		if e.EdgeType == types.EdgeDetailedLineage {
			found = true
			assert.Equal(t, nodeMap["dbo.Customers"], e.FromAssetID)
			assert.Equal(t, nodeMap["stage.Customers"], e.ToAssetID)
		}
	}
	assert.True(t, found, "expected a DETAILED_LINEAGE edge")

	// Package and component rows exist.
	pkgs, err := s.ListPackages("p1")
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	comps, err := s.ListComponents(pkgs[0].PackageID)
	require.NoError(t, err)
	assert.Len(t, comps, 2)
}

func TestResolverDottedColumnFallback(t *testing.T) {
	c, _ := newTestSyncer(t)

	res := &types.ExtractionResult{
		Nodes: []types.ExtractedNode{
			{NodeID: "orders", NodeType: types.NodeTypeTable, Name: "orders", System: "sql"},
		},
	}
	nodeMap, err := c.SyncExtraction("p1", res)
	require.NoError(t, err)

	r := c.NewResolver("p1", nodeMap, nil)
	assert.Equal(t, nodeMap["orders"], r.Resolve("orders", ""))
	assert.Equal(t, nodeMap["orders"], r.Resolve("unknown_ref", "dbo.orders.amount"))
	assert.Empty(t, r.Resolve("missing", ""))
}
