package jobstore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/jobqueue"
	badger "github.com/ternarybob/quaero/internal/storage/badger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "jobstore-test")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	logger := arbor.NewLogger()
	db, err := badger.NewBadgerDB(logger, &common.BadgerConfig{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := New(db, logger)
	require.NoError(t, err)
	return store
}

func TestStore_StoreStepAssignsJobAndOrderedDisplayIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := jobqueue.Job{Datasource: "WIKI"}
	step1 := jobqueue.JobStep{Type: jobqueue.JobTypeCrawl, Datasource: "WIKI"}
	require.NoError(t, store.StoreStep(ctx, &step1, &job))
	require.NotEmpty(t, job.ID)
	require.Equal(t, job.ID, step1.JobID)

	step2 := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "WIKI", JobID: job.ID}
	require.NoError(t, store.StoreStep(ctx, &step2, nil))

	require.Less(t, step1.DisplayID, step2.DisplayID)

	has, err := store.HasSteps(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, has)
}

func TestStore_GetPendingStepsOrdersAndPaginates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := jobqueue.Job{Datasource: "WIKI"}
	require.NoError(t, store.StoreJob(ctx, &job))

	var steps []jobqueue.JobStep
	for i := 0; i < 5; i++ {
		step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "WIKI", JobID: job.ID}
		require.NoError(t, store.StoreStep(ctx, &step, nil))
		steps = append(steps, step)
	}

	page1, err := store.GetPendingSteps(ctx, job.ID, 2, "")
	require.NoError(t, err)
	require.Len(t, page1, 2)
	require.Equal(t, steps[0].ID, page1[0].ID)
	require.Equal(t, steps[1].ID, page1[1].ID)

	page2, err := store.GetPendingSteps(ctx, job.ID, 2, page1[1].DisplayID)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, steps[2].ID, page2[0].ID)
	require.Equal(t, steps[3].ID, page2[1].ID)

	page3, err := store.GetPendingSteps(ctx, job.ID, 2, page2[1].DisplayID)
	require.NoError(t, err)
	require.Len(t, page3, 1)
	require.Equal(t, steps[4].ID, page3[0].ID)
}

func TestStore_ClaimTransitionsPendingToInProgressOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := jobqueue.Job{Datasource: "WIKI"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "WIKI"}
	require.NoError(t, store.StoreStep(ctx, &step, &job))

	claimed := step
	require.NoError(t, store.Claim(ctx, &claimed, "node-a"))
	require.Equal(t, jobqueue.JobStepStatusInProgress, claimed.Status)
	require.Equal(t, "node-a", claimed.ExecutingNode)

	again := step
	err := store.Claim(ctx, &again, "node-b")
	require.Error(t, err)
	var conflict *jobqueue.ClaimConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestStore_UpdateStatusClearsErrorDetailsOnNonErrorStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := jobqueue.Job{Datasource: "WIKI"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "WIKI"}
	require.NoError(t, store.StoreStep(ctx, &step, &job))

	require.NoError(t, store.UpdateStatus(ctx, step.ID, jobqueue.JobStepStatusError, "", "boom"))
	errored, err := store.GetStep(ctx, step.ID)
	require.NoError(t, err)
	require.Equal(t, "boom", errored.ErrorDetails)

	require.NoError(t, store.UpdateStatus(ctx, step.ID, jobqueue.JobStepStatusDone, "", ""))
	done, err := store.GetStep(ctx, step.ID)
	require.NoError(t, err)
	require.Empty(t, done.ErrorDetails)
	require.Equal(t, jobqueue.JobStepStatusDone, done.Status)
}
