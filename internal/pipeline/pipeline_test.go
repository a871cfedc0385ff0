package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"digger/internal/audit"
	"digger/internal/catalog"
	"digger/internal/config"
	"digger/internal/fetch"
	"digger/internal/llm"
	"digger/internal/planner"
	"digger/internal/prompt"
	"digger/internal/report"
	"digger/internal/store"
	"digger/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type harness struct {
	store   *store.Store
	service *Service
	orch    *Orchestrator
}

// unroutedClient refuses every call, standing in for providers that are
// not configured in tests.
type unroutedClient struct{}

func (unroutedClient) Provider() string { return "fake" }
func (unroutedClient) Call(ctx context.Context, model string, messages []llm.Message, opts llm.CallOptions) (*llm.CallResult, error) {
	return &llm.CallResult{Provider: "fake", Err: "no model in test"}, nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv(config.EconomyModeEnv, "")
	base := t.TempDir()

	s, err := store.New(filepath.Join(base, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	configDir := filepath.Join(base, "config")
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "providers"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(configDir, "routings"), 0755))
	files := map[string]string{
		"active.yml":                   "provider_file: providers/default.yml\nrouting_file: routings/routing-default.yml\n",
		"providers/default.yml":        "providers:\n  fake:\n    rates: {}\n",
		"routings/routing-default.yml": "actions:\n  default:\n    model: test-model\n    provider: fake\n",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(configDir, name), []byte(content), 0644))
	}
	router, err := config.NewModelRouter(configDir)
	require.NoError(t, err)

	recorder := audit.NewRecorder(s)
	runner := llm.NewRunner(router, map[string]llm.Client{"fake": unroutedClient{}}, prompt.NewComposer(s, filepath.Join(base, "prompts")))
	runner.Audit = recorder

	syncer := catalog.NewSyncer(s)
	orch := NewOrchestrator(
		s,
		fetch.New(filepath.Join(base, "storage"), filepath.Join(base, "bucket")),
		planner.New(s),
		syncer,
		runner,
		recorder,
		audit.NewRefiner(s, audit.NewAuditor(s), syncer, runner),
		report.NewGenerator(s, filepath.Join(base, "artifacts")),
	)
	return &harness{store: s, service: NewService(s), orch: orch}
}

func writeArtifacts(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return root
}

func TestApprovalGateThenExecution(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{
		"scripts/ingest.sql": "INSERT INTO dbo.sales SELECT * FROM staging.sales_raw;",
	})

	job, err := h.service.Submit("proj-1", "Sales DW", root, SubmitOptions{})
	require.NoError(t, err)
	require.True(t, job.RequiresApproval, "first submission requires approval")

	// First pass stops after planning.
	entry, err := h.store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(context.Background(), entry.JobID))
	require.NoError(t, h.store.CompleteEntry(entry.ID))

	got, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPlanningReady, got.Status)

	n, err := h.store.CountAssets("proj-1")
	require.NoError(t, err)
	assert.Zero(t, n, "no catalog writes before approval")

	// Approval re-enqueues; the second pass executes.
	require.NoError(t, h.service.Approve(job.ID))
	entry, err = h.store.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, entry, "approval must enqueue a new entry")
	require.NoError(t, h.orch.Process(context.Background(), entry.JobID))

	got, err = h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCompleted, got.Status)
	assert.Equal(t, 100, got.ProgressPct)

	for _, want := range []struct{ name, kind string }{
		{"ingest.sql", types.NodeTypeFile},
		{"dbo.sales", types.NodeTypeTable},
		{"staging.sales_raw", types.NodeTypeTable},
	} {
		a, err := h.store.FindAsset("proj-1", want.name, want.kind)
		require.NoError(t, err)
		assert.NotNil(t, a, want.name)
	}

	edges, err := h.store.ListEdges("proj-1")
	require.NoError(t, err)
	kinds := map[string]int{}
	for _, e := range edges {
		kinds[e.EdgeType]++
	}
	assert.Equal(t, 1, kinds[types.EdgeReadsFrom])
	assert.Equal(t, 1, kinds[types.EdgeWritesTo])

	// Post-processing left an audit snapshot and a report.
	snaps, err := h.store.ListSnapshots("proj-1")
	require.NoError(t, err)
	assert.NotEmpty(t, snaps)
}

func TestRerunUnchangedAddsNoRows(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{
		"ingest.sql": "INSERT INTO dbo.sales SELECT * FROM staging.sales_raw;",
	})

	runToCompletion := func() *types.Job {
		noApproval := false
		job, err := h.service.Submit("proj-2", "Sales", root, SubmitOptions{RequiresApproval: &noApproval})
		require.NoError(t, err)
		entry, err := h.store.ClaimNext()
		require.NoError(t, err)
		require.NoError(t, h.orch.Process(context.Background(), entry.JobID))
		require.NoError(t, h.store.CompleteEntry(entry.ID))
		got, err := h.store.GetJob(job.ID)
		require.NoError(t, err)
		return got
	}

	first := runToCompletion()
	require.Equal(t, types.JobCompleted, first.Status)
	assets1, _ := h.store.CountAssets("proj-2")
	edges1, _ := h.store.CountEdges("proj-2")
	evidence1, _ := h.store.CountEvidence("proj-2")

	second := runToCompletion()
	require.Equal(t, types.JobCompleted, second.Status)

	assets2, _ := h.store.CountAssets("proj-2")
	edges2, _ := h.store.CountEdges("proj-2")
	evidence2, _ := h.store.CountEvidence("proj-2")
	assert.Equal(t, assets1, assets2)
	assert.Equal(t, edges1, edges2)
	assert.Equal(t, evidence1, evidence2)

	// The second plan classified the unchanged file as a skip.
	plan, err := h.store.GetPlanByJob(second.ID)
	require.NoError(t, err)
	item := plan.Areas[0].Items[0]
	assert.Equal(t, "Unchanged (already processed)", item.Reason)
}

func TestCancelBeforeExecutionStops(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{
		"a.sql": "SELECT * FROM dbo.a;",
		"b.sql": "SELECT * FROM dbo.b;",
	})

	noApproval := false
	job, err := h.service.Submit("proj-3", "Cancelled", root, SubmitOptions{RequiresApproval: &noApproval})
	require.NoError(t, err)

	// Build and approve the plan without executing.
	entry, err := h.store.ClaimNext()
	require.NoError(t, err)
	plan, err := planner.New(h.store).BuildPlan(job.ID, "proj-3", root, types.ModeStandard)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdatePlanStatus(plan.ID, types.PlanApproved))

	// Cancellation lands before the worker resumes.
	_, err = h.service.Cancel("proj-3")
	require.NoError(t, err)

	err = h.orch.Process(context.Background(), entry.JobID)
	require.NoError(t, err, "a terminal job is skipped, not failed")

	got, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobCancelled, got.Status)

	// Nothing ran.
	plan, err = h.store.GetPlan(plan.ID)
	require.NoError(t, err)
	for _, area := range plan.Areas {
		for _, item := range area.Items {
			assert.Equal(t, types.ItemPending, item.Status)
		}
	}
	n, err := h.store.CountAssets("proj-3")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelBetweenItems(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{
		"a.sql": "SELECT * FROM dbo.a;",
		"b.sql": "SELECT * FROM dbo.b;",
	})

	noApproval := false
	job, err := h.service.Submit("proj-4", "MidCancel", root, SubmitOptions{RequiresApproval: &noApproval})
	require.NoError(t, err)

	plan, err := planner.New(h.store).BuildPlan(job.ID, "proj-4", root, types.ModeStandard)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdatePlanStatus(plan.ID, types.PlanApproved))
	require.NoError(t, h.store.UpdateJobStatus(job.ID, types.JobRunning))

	// Mark item 1 completed by hand, then cancel; execute must stop at the
	// next boundary check and leave item 2 untouched.
	require.NoError(t, h.store.UpdateItemStatus(plan.Areas[0].Items[0].ID, types.ItemCompleted))
	require.NoError(t, h.store.UpdateJobStatus(job.ID, types.JobCancelled))

	jobRow, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	planRow, err := h.store.GetPlan(plan.ID)
	require.NoError(t, err)

	cancelled, err := h.orch.execute(context.Background(), jobRow, planRow, root)
	require.NoError(t, err)
	assert.True(t, cancelled)

	planRow, err = h.store.GetPlan(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ItemCompleted, planRow.Areas[0].Items[0].Status)
	assert.Equal(t, types.ItemPending, planRow.Areas[0].Items[1].Status)
}

func TestWorkerPoolFailsEntryOnCancel(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{"a.sql": "SELECT * FROM dbo.a;"})

	noApproval := false
	job, err := h.service.Submit("proj-5", "PoolCancel", root, SubmitOptions{RequiresApproval: &noApproval})
	require.NoError(t, err)

	// Force the cancelled path through Process by pre-approving the plan
	// and flipping the job mid-flight via a doctored status.
	plan, err := planner.New(h.store).BuildPlan(job.ID, "proj-5", root, types.ModeStandard)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdatePlanStatus(plan.ID, types.PlanApproved))
	require.NoError(t, h.store.UpdateJobStatus(job.ID, types.JobRunning))

	jobRow, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	planRow, err := h.store.GetPlan(plan.ID)
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateJobStatus(job.ID, types.JobCancelled))

	cancelled, err := h.orch.execute(context.Background(), jobRow, planRow, root)
	require.NoError(t, err)
	require.True(t, cancelled)

	// The pool records the cancellation reason on the queue entry.
	entry, err := h.store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, h.store.FailEntry(entry.ID, ErrCancelled.Error()))
	stored, err := h.store.QueueEntry(entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "User Cancelled", stored.LastError)
}

func TestPoolRunsAndStops(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{
		"ingest.sql": "INSERT INTO dbo.sales SELECT * FROM staging.sales_raw;",
	})

	noApproval := false
	job, err := h.service.Submit("proj-6", "Pool", root, SubmitOptions{RequiresApproval: &noApproval})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(h.store, h.orch, 2, 10*time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := h.store.GetJob(job.ID)
		return err == nil && got.Status == types.JobCompleted
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop after context cancellation")
	}
}

func TestSubmitWithoutSourceIsValidationError(t *testing.T) {
	h := newHarness(t)

	_, err := h.service.Submit("p1", "NoSource", "", SubmitOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
	assert.Equal(t, "validation_error: source reference is required", err.Error())
}

func TestApproveWrongStateIsValidationError(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{"a.sql": "SELECT 1;"})

	job, err := h.service.Submit("p1", "Queued", root, SubmitOptions{})
	require.NoError(t, err)

	// Still queued, no plan yet.
	err = h.service.Approve(job.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrValidation))
}

func TestProcessUnapprovedPlanParksJob(t *testing.T) {
	h := newHarness(t)
	root := writeArtifacts(t, map[string]string{"a.sql": "SELECT 1;"})

	job, err := h.service.Submit("proj-7", "Parked", root, SubmitOptions{})
	require.NoError(t, err)

	entry, err := h.store.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, h.orch.Process(context.Background(), entry.JobID))
	require.NoError(t, h.store.CompleteEntry(entry.ID))

	// Re-process without approving; the job must return to the approval
	// barrier instead of sticking at running.
	require.NoError(t, h.orch.Process(context.Background(), job.ID))

	got, err := h.store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.JobPlanningReady, got.Status)
}

func TestProcessUnknownJob(t *testing.T) {
	h := newHarness(t)
	err := h.orch.Process(context.Background(), "missing")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrCancelled))
}
