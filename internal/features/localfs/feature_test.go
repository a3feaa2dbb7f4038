package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

type fakePDFExtractor struct{}

func (fakePDFExtractor) ReadPDFFromFile(ctx context.Context, filePath string) (string, error) {
	return "pdf text", nil
}

type noopQueuing struct {
	queued []jobqueue.JobStep
}

func (q *noopQueuing) QueueStep(ctx context.Context, job jobqueue.Job, step jobqueue.JobStep, connection jobqueue.Connection, executeNow bool) (string, error) {
	q.queued = append(q.queued, step)
	return job.ID, nil
}
func (q *noopQueuing) ExecuteJobSteps(ctx context.Context, job jobqueue.Job) {}

type recordingIndex struct {
	chunks  []jobqueue.Chunk
	indexed []string
	deleted []string
}

func (r *recordingIndex) EnsureIndex(ctx context.Context) error { return nil }
func (r *recordingIndex) DeleteByQuery(ctx context.Context, datasource, keyField, keyValue, connectionID string) error {
	r.deleted = append(r.deleted, keyValue)
	return nil
}
func (r *recordingIndex) BulkInsert(ctx context.Context, chunks []jobqueue.Chunk, embeddings [][]float32) error {
	r.chunks = append(r.chunks, chunks...)
	return nil
}
func (r *recordingIndex) IndexedKeys(ctx context.Context, datasource, keyField, scopeField, scopeValue string) ([]string, error) {
	return r.indexed, nil
}

type flatChunker struct{}

func (flatChunker) Chunk(documents []jobqueue.Document) []jobqueue.Chunk {
	chunks := make([]jobqueue.Chunk, 0, len(documents))
	for _, d := range documents {
		chunks = append(chunks, jobqueue.Chunk{Content: d.Content, Metadata: d.Metadata})
	}
	return chunks
}

type flatEmbedder struct{}

func (flatEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0}
	}
	return out, nil
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func TestFeature_AcceptsRequestOnlyWhenLoadDirectory(t *testing.T) {
	f := NewFeature(t.TempDir(), []string{"*.txt"}, fakePDFExtractor{}, arbor.NewLogger())
	assert.True(t, f.AcceptsRequest(jobqueue.JobRequest{LoadDirectory: true}))
	assert.False(t, f.AcceptsRequest(jobqueue.JobRequest{}))
}

func TestFeature_CrawlDirectoryQueuesOneLoadStepPerMatchingFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")
	writeFile(t, dir, "b.txt", "beta")
	writeFile(t, dir, "skip.md", "not matched")

	f := NewFeature(dir, []string{"*.txt"}, fakePDFExtractor{}, arbor.NewLogger())
	job := f.CreateJob(jobqueue.JobRequest{Datasource: "FS", LoadDirectory: true})
	step := f.CreateFirstStep(job)

	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, jobqueue.NewFeatureRegistry(f), &recordingIndex{}, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	require.Len(t, queuing.queued, 2)
	docIDs := []string{queuing.queued[0].DocID, queuing.queued[1].DocID}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, docIDs)
}

func TestFeature_LoadFileIndexesPlainTextContentByRelativePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes/a.txt", "alpha content")

	f := NewFeature(dir, []string{"*.txt"}, fakePDFExtractor{}, arbor.NewLogger())
	job := f.CreateJob(jobqueue.JobRequest{Datasource: "FS", LoadDirectory: true})
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: job.Datasource, DocID: "notes/a.txt"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	require.Len(t, index.chunks, 1)
	assert.Equal(t, "alpha content", index.chunks[0].Content)
	assert.Equal(t, "notes/a.txt", index.chunks[0].Metadata["doc_id"])
}

func TestFeature_LoadFileExtractsPDFContentByExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "report.pdf", "%PDF-1.4 fake bytes")

	f := NewFeature(dir, []string{"*.pdf"}, fakePDFExtractor{}, arbor.NewLogger())
	job := f.CreateJob(jobqueue.JobRequest{Datasource: "FS", LoadDirectory: true})
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: job.Datasource, DocID: "report.pdf"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	require.Len(t, index.chunks, 1)
	assert.Equal(t, "pdf text", index.chunks[0].Content)
}

func TestFeature_DeleteHandlerDeletesIndexedDocumentByPath(t *testing.T) {
	f := NewFeature(t.TempDir(), []string{"*.txt"}, fakePDFExtractor{}, arbor.NewLogger())
	job := f.CreateJob(jobqueue.JobRequest{Datasource: "FS", LoadDirectory: true})
	step := jobqueue.JobStep{Type: jobqueue.JobTypeDelete, Datasource: job.Datasource, DocID: "gone.txt"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	assert.Equal(t, []string{"gone.txt"}, index.deleted)
}

func TestFeature_SyncDeletionsQueuesDeleteForFilesNoLongerOnDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", "alpha")

	f := NewFeature(dir, []string{"*.txt"}, fakePDFExtractor{}, arbor.NewLogger())
	registry := jobqueue.NewFeatureRegistry(f)
	index := &recordingIndex{indexed: []string{"a.txt", "removed.txt"}}
	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, registry, index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())
	f.SetReconciler(jobqueue.NewDeletionReconciler(registry, index, arbor.NewLogger()))

	job := f.CreateJob(jobqueue.JobRequest{Datasource: "FS", LoadDirectory: true})
	step := jobqueue.JobStep{Type: jobqueue.JobTypeSyncDeletions, Datasource: job.Datasource}

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	require.Len(t, queuing.queued, 1)
	assert.Equal(t, jobqueue.JobTypeDelete, queuing.queued[0].Type)
	assert.Equal(t, "removed.txt", queuing.queued[0].DocID)
}
