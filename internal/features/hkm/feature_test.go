package hkm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

type fakeConnectionRepo struct {
	config map[string]any
}

func (r fakeConnectionRepo) GetConnection(ctx context.Context, connectionID string) (map[string]any, error) {
	return r.config, nil
}

type noopQueuing struct{ queued []jobqueue.JobStep }

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

// newTestServer serves a tiny hosted-knowledge-platform-shaped REST API:
// one page of two published articles, "1" and "2", each with one
// translation.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rx/application/knowledge/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"totalPages": 1,
			"result": []map[string]any{
				{"contentId": 1},
				{"contentId": 2},
			},
		})
	})
	mux.HandleFunc("/api/rx/application/knowledge/article/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/rx/application/knowledge/article/")
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"contentId": mustAtoi(id),
			"translations": []map[string]any{
				{
					"knowledgeState": "Published",
					"culture":        "en-US",
					"title":          "Article " + id,
					"issue":          "issue " + id,
					"environment":    "env",
					"resolution":     "res",
					"cause":          "cause",
					"tags":           []string{"tag1"},
				},
			},
		})
	})
	return httptest.NewServer(mux)
}

func mustAtoi(s string) int {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n
}

func TestFeature_AcceptsRequestAndJobByDatasource(t *testing.T) {
	f := NewFeature("HKM", fakeConnectionRepo{}, arbor.NewLogger())
	assert.True(t, f.AcceptsRequest(jobqueue.JobRequest{Datasource: "HKM"}))
	assert.False(t, f.AcceptsRequest(jobqueue.JobRequest{Datasource: "JIRA"}))
	assert.True(t, f.AcceptsJob(jobqueue.Job{Datasource: "HKM"}))
}

func TestFeature_CrawlArticlesQueuesLoadStepPerArticle(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "username": "u", "password": "p"}}
	f := NewFeature("HKM", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "HKM", ConnectionID: "conn-1"}
	step := f.CreateFirstStep(job)

	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, jobqueue.NewFeatureRegistry(f), &recordingIndex{}, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, queuing.queued, 2)
	var docIDs []string
	for _, s := range queuing.queued {
		docIDs = append(docIDs, s.DocID)
	}
	assert.ElementsMatch(t, []string{"1", "2"}, docIDs)
}

func TestFeature_LoadArticleIndexesOneDocumentPerTranslation(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "username": "u", "password": "p"}}
	f := NewFeature("HKM", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "HKM", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "HKM", DocID: "1"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, index.chunks, 1)
	assert.Contains(t, index.chunks[0].Content, "Title=Article 1")
	assert.Equal(t, "1", index.chunks[0].Metadata["doc_id"])
}

func TestFeature_LoadArticleSkipsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rx/application/knowledge/article/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "username": "u", "password": "p"}}
	f := NewFeature("HKM", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "HKM", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "HKM", DocID: "99"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))
	assert.Empty(t, index.chunks)
}

func TestFeature_DeleteHandlerDeletesIndexedDocumentByArticleID(t *testing.T) {
	f := NewFeature("HKM", fakeConnectionRepo{}, arbor.NewLogger())
	job := jobqueue.Job{Datasource: "HKM"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeDelete, Datasource: "HKM", DocID: "99"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	assert.Equal(t, []string{"99"}, index.deleted)
}

func TestFeature_SyncDeletionsQueuesDeleteForArticlesNoLongerPublished(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "username": "u", "password": "p"}}
	f := NewFeature("HKM", repo, arbor.NewLogger())
	registry := jobqueue.NewFeatureRegistry(f)
	index := &recordingIndex{indexed: []string{"1", "2", "3"}}
	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, registry, index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())
	f.SetReconciler(jobqueue.NewDeletionReconciler(registry, index, arbor.NewLogger()))

	job := jobqueue.Job{Datasource: "HKM", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeSyncDeletions, Datasource: "HKM"}

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, queuing.queued, 1)
	assert.Equal(t, jobqueue.JobTypeDelete, queuing.queued[0].Type)
	assert.Equal(t, "3", queuing.queued[0].DocID)
}
