package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digger/internal/store"
	"digger/internal/types"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWriteDiscoveryReport(t *testing.T) {
	s := newTestStore(t)
	root := t.TempDir()

	a := &types.Asset{
		ID: uuid.NewString(), ProjectID: "p1",
		AssetType: types.NodeTypeTable, NameDisplay: "dbo.sales", CanonicalName: "dbo.sales", System: "sql",
	}
	require.NoError(t, s.InsertAsset(a))
	b := &types.Asset{
		ID: uuid.NewString(), ProjectID: "p1",
		AssetType: types.NodeTypeTable, NameDisplay: "staging.sales_raw", CanonicalName: "staging.sales_raw", System: "sql",
	}
	require.NoError(t, s.InsertAsset(b))
	require.NoError(t, s.InsertEdge(&types.Edge{
		ID: uuid.NewString(), ProjectID: "p1",
		FromAssetID: a.ID, ToAssetID: b.ID, EdgeType: types.EdgeReadsFrom, Confidence: 0.9,
	}))

	snap := &types.AuditSnapshot{
		ID: uuid.NewString(), ProjectID: "p1", JobID: "job-1",
		Metrics: types.AuditMetrics{
			TotalAssets: 2, TotalRelationships: 1,
			CoverageScore: 100, AvgConfidence: 0.9,
		},
		Recommendations: []string{"Review low-confidence edges"},
	}

	path, err := NewGenerator(s, root).WriteDiscoveryReport("p1", "job-1", snap)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "p1", "reports", "discovery_report.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Discovery Report")
	assert.Contains(t, content, "| Coverage score | 100.0% |")
	assert.Contains(t, content, "dbo.sales")
	assert.Contains(t, content, "Review low-confidence edges")
	assert.Contains(t, content, "1 edges recorded.")
}

func TestWriteDiscoveryReportWithoutSnapshot(t *testing.T) {
	s := newTestStore(t)
	path, err := NewGenerator(s, t.TempDir()).WriteDiscoveryReport("empty", "job-x", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "## Coverage")
}

func TestSandboxRoundTrip(t *testing.T) {
	sb := NewSandbox(t.TempDir())

	path, err := sb.Save("p1", "notes.md", []byte("findings"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	names, err := sb.List("p1")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, names)

	data, err := sb.Read("p1", "notes.md")
	require.NoError(t, err)
	assert.Equal(t, "findings", string(data))
}

func TestSandboxRejectsTraversal(t *testing.T) {
	sb := NewSandbox(t.TempDir())

	_, err := sb.Save("p1", "../escape.md", []byte("x"))
	require.Error(t, err)
	_, err = sb.Save("p1", ".hidden", []byte("x"))
	require.Error(t, err)
	_, err = sb.Read("p1", "../../etc/passwd")
	require.Error(t, err)
}

func TestSandboxListEmpty(t *testing.T) {
	sb := NewSandbox(t.TempDir())
	names, err := sb.List("never-written")
	require.NoError(t, err)
	assert.Empty(t, names)
}
