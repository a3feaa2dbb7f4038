package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// jobQueuing is the subset of JobQueue that JobChain needs; it exists so
// JobChain can be constructed against a test double without depending on
// the concrete JobQueue type.
type jobQueuing interface {
	QueueStep(ctx context.Context, job Job, step JobStep, connection Connection, executeNow bool) (string, error)
	ExecuteJobSteps(ctx context.Context, job Job)
}

// JobChain is handed to job handlers as a facade to perform further
// decoupled actions, so handler logic never touches the JobStore directly.
type JobChain struct {
	queue jobQueuing
}

// NewJobChain wraps a JobQueue (or test double) as a JobChain.
func NewJobChain(queue jobQueuing) *JobChain {
	return &JobChain{queue: queue}
}

// QueueStep queues step for execution and returns the queued step's ID.
func (c *JobChain) QueueStep(ctx context.Context, job Job, step JobStep, connection Connection, executeNow bool) (string, error) {
	return c.queue.QueueStep(ctx, job, step, connection, executeNow)
}

// QueueSyncDeletionsIfConfigured queues a SYNC_DELETIONS step for job if
// job.DefaultedSyncDeletions() is true. Returns the queued step ID, or
// "" if none was created.
func (c *JobChain) QueueSyncDeletionsIfConfigured(ctx context.Context, job Job, connection Connection) (string, error) {
	if !job.DefaultedSyncDeletions() {
		return "", nil
	}
	step := JobStep{
		Type:         JobTypeSyncDeletions,
		Datasource:   job.Datasource,
		JobID:        job.ID,
		DocID:        job.DocID,
		DocDisplayID: job.DocDisplayID,
	}
	return c.queue.QueueStep(ctx, job, step, connection, false)
}

// ExecuteJobSteps launches execution of job's pending steps (via poll_more).
func (c *JobChain) ExecuteJobSteps(ctx context.Context, job Job) {
	c.queue.ExecuteJobSteps(ctx, job)
}

// IndexingChain extends JobChain with document indexing/deletion
// operations. It is the only way handlers reach the index store, chunker,
// and embedder.
type IndexingChain struct {
	*JobChain

	registry *FeatureRegistry
	index    IndexStore
	chunker  Chunker
	embedder EmbeddingService
	logger   arbor.ILogger

	chunkPrefix string

	ensureIndexOnce sync.Mutex
	indexEnsured    bool
}

// NewIndexingChain builds an IndexingChain. chunkPrefix is prepended to every
// chunk's content before embedding (mirrors the original system's
// CHUNK_PREFIX setting, used by some embedding models that expect a
// task-specific prefix); pass "" to disable.
func NewIndexingChain(
	queue jobQueuing,
	registry *FeatureRegistry,
	index IndexStore,
	chunker Chunker,
	embedder EmbeddingService,
	chunkPrefix string,
	logger arbor.ILogger,
) *IndexingChain {
	return &IndexingChain{
		JobChain:    NewJobChain(queue),
		registry:    registry,
		index:       index,
		chunker:     chunker,
		embedder:    embedder,
		chunkPrefix: chunkPrefix,
		logger:      logger,
	}
}

// IndexDocuments chunks, embeds, and stores documents, deleting any
// previously indexed chunks for the same document key first.
func (c *IndexingChain) IndexDocuments(ctx context.Context, job Job, step JobStep, documents []Document) error {
	chunks := c.chunker.Chunk(documents)
	c.amendChunkMetadata(job, chunks)

	if err := c.ensureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}

	if err := c.deleteExistingChunks(ctx, job, step, chunks); err != nil {
		return fmt.Errorf("delete existing chunks before reindex: %w", err)
	}

	return c.storeChunks(ctx, job, chunks)
}

func (c *IndexingChain) amendChunkMetadata(job Job, chunks []Chunk) {
	for i := range chunks {
		if c.chunkPrefix != "" {
			chunks[i].Content = c.chunkPrefix + chunks[i].Content
		}
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]any{}
		}
		chunks[i].Metadata["datasource"] = job.Datasource
		chunks[i].Metadata["chunk_id"] = i
	}
}

// ensureIndex makes sure the index exists, serialized behind a process-local
// lock so concurrent workers loading the first documents of a fresh
// deployment don't race to create it.
func (c *IndexingChain) ensureIndex(ctx context.Context) error {
	c.ensureIndexOnce.Lock()
	defer c.ensureIndexOnce.Unlock()
	if c.indexEnsured {
		return nil
	}
	if err := c.index.EnsureIndex(ctx); err != nil {
		return err
	}
	c.indexEnsured = true
	return nil
}

func (c *IndexingChain) deleteExistingChunks(ctx context.Context, job Job, step JobStep, chunks []Chunk) error {
	mode, ok := c.registry.DeleteKeyMode(job, step)
	if !ok {
		return &UnsupportedJobStepError{Job: job, Step: &step}
	}

	type key struct{ field, value string }
	alreadyDeleted := map[key]bool{}

	for i, chunk := range chunks {
		docID, _ := chunk.Metadata["doc_id"].(string)
		docDisplayID, _ := chunk.Metadata["doc_display_id"].(string)
		field, value := mode.KeyFor(docID, docDisplayID)

		if value == "" {
			c.logger.Warn().
				Str("datasource", step.Datasource).
				Int("chunk_id", i).
				Msg("couldn't determine the key to delete the indexed document for this chunk")
			continue
		}
		k := key{field, value}
		if alreadyDeleted[k] {
			continue
		}
		if err := c.DeleteDocument(ctx, job.Datasource, field, value, job.ConnectionID); err != nil {
			return err
		}
		alreadyDeleted[k] = true
	}
	return nil
}

func (c *IndexingChain) storeChunks(ctx context.Context, job Job, chunks []Chunk) error {
	c.logger.Debug().Str("datasource", job.Datasource).Int("chunks", len(chunks)).Msg("storing chunks")

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Content
	}

	embeddings, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	return c.index.BulkInsert(ctx, chunks, embeddings)
}

// DefaultDeleteHandler returns the Handler a Feature's HandlerFor can return
// for JobTypeDelete: it resolves the step's key under mode and calls
// chain.DeleteDocument, the same "DELETE handlers call chain.DeleteDocument
// with the step's key" shape every Feature needs.
func DefaultDeleteHandler(mode DeleteKeyMode) Handler {
	return func(ctx context.Context, job Job, step JobStep, chain *IndexingChain, connection Connection) error {
		keyField, keyValue := mode.KeyFor(step.DocID, step.DocDisplayID)
		if keyValue == "" {
			return nil
		}
		return chain.DeleteDocument(ctx, job.Datasource, keyField, keyValue, job.ConnectionID)
	}
}

// DeleteDocument deletes indexed documents matching datasource,
// keyField=keyValue, scoped to connectionID (plus the always-included
// "NONE" connection bucket). An index-not-found response is swallowed.
func (c *IndexingChain) DeleteDocument(ctx context.Context, datasource, keyField, keyValue, connectionID string) error {
	start := time.Now()
	err := c.index.DeleteByQuery(ctx, datasource, keyField, keyValue, connectionID)
	if err != nil {
		if err == ErrIndexNotFound {
			return nil
		}
		c.logger.Error().
			Err(err).
			Str("datasource", datasource).
			Str("key_field", keyField).
			Str("key_value", keyValue).
			Msg("failed deleting indexed documents")
		return err
	}
	c.logger.Debug().
		Str("datasource", datasource).
		Str("key_field", keyField).
		Str("key_value", keyValue).
		Dur("duration", time.Since(start)).
		Msg("deleted indexed documents")
	return nil
}
