package jobqueue

import (
	"context"

	"github.com/ternarybob/arbor"
)

// SourceKeyFetcher returns the collection of keys of documents currently
// published/indexable in a datasource's source system, scoped by job. This
// is a capability interface: each Feature that supports SYNC_DELETIONS
// supplies its own implementation (e.g. "list every display ID the wiki
// currently has published").
type SourceKeyFetcher func(ctx context.Context, job Job, step JobStep, connection Connection) ([]string, error)

// DeletionReconciler diffs the keys published by a datasource's source
// against the keys currently indexed for the same scope, and enqueues a
// DELETE JobStep for every indexed key no longer published.
type DeletionReconciler struct {
	registry *FeatureRegistry
	index    IndexStore
	logger   arbor.ILogger
}

// NewDeletionReconciler builds a DeletionReconciler.
func NewDeletionReconciler(registry *FeatureRegistry, index IndexStore, logger arbor.ILogger) *DeletionReconciler {
	return &DeletionReconciler{registry: registry, index: index, logger: logger}
}

// Reconcile fetches source-published keys via fetchSourceKeys, compares them
// against the indexed keys scoped to job/step, and queues a DELETE step for
// every indexed key absent from the published set. Always calls
// chain.ExecuteJobSteps at the end, even when nothing needed deleting.
func (r *DeletionReconciler) Reconcile(
	ctx context.Context,
	job Job,
	step JobStep,
	chain *JobChain,
	connection Connection,
	fetchSourceKeys SourceKeyFetcher,
) error {
	mode, ok := r.registry.DeleteKeyMode(job, step)
	if !ok {
		return &UnsupportedJobStepError{Job: job, Step: &step}
	}
	keyField, scopeValue := mode.KeyFor(job.DocID, job.DocDisplayID)

	publishedKeys, err := fetchSourceKeys(ctx, job, step, connection)
	if err != nil {
		return err
	}
	published := make(map[string]bool, len(publishedKeys))
	for _, k := range publishedKeys {
		published[k] = true
	}

	scopeField := ""
	if job.DocID != "" || job.DocDisplayID != "" {
		scopeField = keyField
	}
	indexedKeys, err := r.index.IndexedKeys(ctx, job.Datasource, keyField, scopeField, scopeValue)
	if err != nil {
		return err
	}

	alreadyScheduled := map[string]bool{}
	for _, indexedKey := range indexedKeys {
		if alreadyScheduled[indexedKey] || published[indexedKey] {
			continue
		}

		r.logger.Info().Str("key", indexedKey).Str("datasource", job.Datasource).Msg("scheduling DELETE job for missing document")

		deleteStep := JobStep{
			Type:       JobTypeDelete,
			Datasource: job.Datasource,
			JobID:      job.ID,
		}
		if mode == DeleteKeyModeByDocID {
			deleteStep.DocID = indexedKey
		} else {
			deleteStep.DocDisplayID = indexedKey
		}
		if _, err := chain.QueueStep(ctx, job, deleteStep, connection, false); err != nil {
			return err
		}
		alreadyScheduled[indexedKey] = true
	}

	chain.ExecuteJobSteps(ctx, job)
	return nil
}
