package jobqueuehttp

import (
	"context"
	"errors"

	"github.com/ternarybob/quaero/internal/jobqueue"
)

// jobStoreChecker probes the job store with a GetJob for the empty ID,
// mirroring health/router.py's database HealthIndicator. It reports DOWN
// only when GetJob returns a *jobqueue.StoreError; any other error,
// including not-found for the probe ID, counts as UP.
type jobStoreChecker struct {
	store jobqueue.JobStore
}

// NewJobStoreChecker builds a readiness HealthChecker backed by store.
func NewJobStoreChecker(store jobqueue.JobStore) HealthChecker {
	return jobStoreChecker{store: store}
}

func (c jobStoreChecker) Name() string { return "job_store" }

func (c jobStoreChecker) Check(ctx context.Context) error {
	_, err := c.store.GetJob(ctx, "")
	var storeErr *jobqueue.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return nil
}

// indexStoreChecker reports the vector index store as UP when it can
// ensure its index exists, mirroring health/router.py's search-index
// HealthIndicator.
type indexStoreChecker struct {
	index jobqueue.IndexStore
}

// NewIndexStoreChecker builds a readiness HealthChecker backed by index.
func NewIndexStoreChecker(index jobqueue.IndexStore) HealthChecker {
	return indexStoreChecker{index: index}
}

func (c indexStoreChecker) Name() string { return "index_store" }

func (c indexStoreChecker) Check(ctx context.Context) error {
	return c.index.EnsureIndex(ctx)
}
