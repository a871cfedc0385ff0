package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"digger/internal/types"
)

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "lifecycle")

	require.NoError(t, s.StartJob(job.ID, "ingest"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobRunning, got.Status)
	require.Equal(t, "ingest", got.CurrentStage)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, s.SetJobStage(job.ID, "processing: a.sql", 40))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, 40, got.ProgressPct)

	require.NoError(t, s.CompleteJob(job.ID))
	got, err = s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCompleted, got.Status)
	require.Equal(t, 100, got.ProgressPct)
	require.NotNil(t, got.FinishedAt)
	require.True(t, got.IsTerminal())
}

func TestFailJobRecordsDetails(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "failing")

	require.NoError(t, s.FailJob(job.ID, "artifact ingest failed", "clone exited 128"))
	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobFailed, got.Status)
	require.Equal(t, "artifact ingest failed", got.ErrorMessage)
	require.Equal(t, "clone exited 128", got.ErrorDetails)
}

func TestCancelActiveJob(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "cancellable")
	require.NoError(t, s.StartJob(job.ID, "ingest"))

	cancelled, err := s.CancelActiveJob(job.ProjectID)
	require.NoError(t, err)
	require.Equal(t, job.ID, cancelled)

	got, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobCancelled, got.Status)

	// No active job anymore.
	again, err := s.CancelActiveJob(job.ProjectID)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestPlanRoundTrip(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "planned")

	plan := &types.Plan{
		ID:     "plan-1",
		JobID:  job.ID,
		Status: types.PlanReady,
		Mode:   types.ModeStandard,
		Summary: types.PlanSummary{
			TotalFiles:   2,
			TotalCostEst: 0.01,
			TotalTimeEst: 6,
		},
		Areas: []types.PlanArea{
			{
				ID:         "area-1",
				PlanID:     "plan-1",
				Name:       types.AreaFoundation,
				Title:      "Foundation (SQL & Schema)",
				OrderIndex: 1,
				Items: []types.PlanItem{
					{
						ID: "item-1", AreaID: "area-1", Path: "a.sql", FileHash: "h1",
						SizeBytes: 100, FileType: "sql", Classifier: "policy_v1",
						Strategy: types.StrategyParserPlusLLM, RecommendedAction: types.ActionProcess,
						Enabled: true, OrderIndex: 0, Status: types.ItemPending,
					},
					{
						ID: "item-2", AreaID: "area-1", Path: "b.sql", FileHash: "h2",
						SizeBytes: 100, FileType: "sql", Classifier: "policy_v1",
						Strategy: types.StrategyParserPlusLLM, RecommendedAction: types.ActionProcess,
						Enabled: true, OrderIndex: 1, Status: types.ItemPending,
					},
				},
			},
		},
	}
	require.NoError(t, s.SavePlan(plan))
	require.NoError(t, s.SetJobPlan(job.ID, plan.ID, types.JobPlanningReady))

	got, err := s.GetPlanByJob(job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, plan.ID, got.ID)
	require.Len(t, got.Areas, 1)
	require.Len(t, got.Areas[0].Items, 2)
	require.Equal(t, "a.sql", got.Areas[0].Items[0].Path)

	jobRow, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, types.JobPlanningReady, jobRow.Status)
	require.Equal(t, plan.ID, jobRow.PlanID)

	require.NoError(t, s.UpdateItemStatus("item-1", types.ItemCompleted))
	enabled := false
	require.NoError(t, s.UpdatePlanItem("item-2", PlanItemPatch{Enabled: &enabled}))

	got, err = s.GetPlan(plan.ID)
	require.NoError(t, err)
	require.Equal(t, types.ItemCompleted, got.Areas[0].Items[0].Status)
	require.False(t, got.Areas[0].Items[1].Enabled)
}

func TestHasApprovedPlan(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "approvals")

	ok, err := s.HasApprovedPlan(job.ProjectID)
	require.NoError(t, err)
	require.False(t, ok)

	plan := &types.Plan{ID: "plan-a", JobID: job.ID, Status: types.PlanReady, Mode: types.ModeStandard}
	require.NoError(t, s.SavePlan(plan))
	require.NoError(t, s.SetJobPlan(job.ID, plan.ID, types.JobPlanningReady))
	require.NoError(t, s.UpdatePlanStatus(plan.ID, types.PlanApproved))

	ok, err = s.HasApprovedPlan(job.ProjectID)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUpsertSolutionRefreshesPath(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.UpsertSolution(&types.Solution{ID: "sol", Name: "n", StoragePath: "a", Status: types.SolutionQueued, CreatedAt: now}))
	require.NoError(t, s.UpsertSolution(&types.Solution{ID: "sol", Name: "n", StoragePath: "b", Status: types.SolutionQueued, CreatedAt: now}))

	sol, err := s.GetSolution("sol")
	require.NoError(t, err)
	require.Equal(t, "b", sol.StoragePath)
}
