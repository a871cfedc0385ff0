package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"digger/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedJob(t *testing.T, s *Store, projectID string) *types.Job {
	t.Helper()
	require.NoError(t, s.UpsertSolution(&types.Solution{
		ID:          projectID,
		Name:        "test",
		StoragePath: "local:///tmp/src",
		Status:      types.SolutionQueued,
		CreatedAt:   time.Now().UTC(),
	}))
	job := &types.Job{
		ID:               "job-" + projectID,
		ProjectID:        projectID,
		Status:           types.JobQueued,
		RequiresApproval: true,
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, s.CreateJob(job))
	return job
}

func TestQueueClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "p1")

	id, err := s.Enqueue(job.ID)
	require.NoError(t, err)

	entry, err := s.ClaimNext()
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, id, entry.ID)
	require.Equal(t, job.ID, entry.JobID)
	require.Equal(t, types.QueueProcessing, entry.Status)
	require.Equal(t, 1, entry.Attempts)

	// Nothing else pending.
	second, err := s.ClaimNext()
	require.NoError(t, err)
	require.Nil(t, second)

	require.NoError(t, s.CompleteEntry(entry.ID))
	stored, err := s.QueueEntry(entry.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueCompleted, stored.Status)
}

func TestQueueClaimOldestFirst(t *testing.T) {
	s := newTestStore(t)
	a := seedJob(t, s, "pa")
	b := seedJob(t, s, "pb")

	_, err := s.Enqueue(a.ID)
	require.NoError(t, err)
	_, err = s.Enqueue(b.ID)
	require.NoError(t, err)

	first, err := s.ClaimNext()
	require.NoError(t, err)
	require.Equal(t, a.ID, first.JobID)

	next, err := s.ClaimNext()
	require.NoError(t, err)
	require.Equal(t, b.ID, next.JobID)
}

func TestQueueSingleFlight(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "p2")
	_, err := s.Enqueue(job.ID)
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	claims := make(chan *types.QueueEntry, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := s.ClaimNext()
			if err == nil && entry != nil {
				claims <- entry
			}
		}()
	}
	wg.Wait()
	close(claims)

	var won int
	for range claims {
		won++
	}
	require.Equal(t, 1, won, "exactly one worker must win the claim")
}

func TestQueueFailEntryRecordsReason(t *testing.T) {
	s := newTestStore(t)
	job := seedJob(t, s, "p3")
	_, err := s.Enqueue(job.ID)
	require.NoError(t, err)

	entry, err := s.ClaimNext()
	require.NoError(t, err)
	require.NoError(t, s.FailEntry(entry.ID, "User Cancelled"))

	stored, err := s.QueueEntry(entry.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueFailed, stored.Status)
	require.Equal(t, "User Cancelled", stored.LastError)
}
