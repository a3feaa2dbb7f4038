package confluence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

// newTestServer serves a tiny Confluence-shaped REST API: page "1" has
// children "2" and "3"; all pages have title/content.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	children := map[string][]string{"1": {"2", "3"}}
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) > len("/child/page") && path[len(path)-len("/child/page"):] == "/child/page" {
			pageID := path[len("/rest/api/content/") : len(path)-len("/child/page")]
			w.Header().Set("Content-Type", "application/json")
			resp := childPagesResponse{}
			for _, id := range children[pageID] {
				resp.Results = append(resp.Results, struct {
					ID string `json:"id"`
				}{ID: id})
			}
			json.NewEncoder(w).Encode(resp)
			return
		}
		pageID := path[len("/rest/api/content/"):]
		w.Header().Set("Content-Type", "application/json")
		var resp contentResponse
		resp.ID = pageID
		resp.Title = "Page " + pageID
		resp.Space.Name = "SPACE"
		resp.Body.Storage.Value = "<p>content " + pageID + "</p>"
		json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func TestFeature_AcceptsRequestAndJobByDatasource(t *testing.T) {
	f := NewFeature("CONFLUENCE", fakeConnectionRepo{}, arbor.NewLogger())
	assert.True(t, f.AcceptsRequest(jobqueue.JobRequest{Datasource: "CONFLUENCE"}))
	assert.False(t, f.AcceptsRequest(jobqueue.JobRequest{Datasource: "JIRA"}))
	assert.True(t, f.AcceptsJob(jobqueue.Job{Datasource: "CONFLUENCE"}))
}

func TestFeature_CrawlConfluenceQueuesLoadStepPerPageInTree(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "access_token": "tok", "page_id": "1"}}
	f := NewFeature("CONFLUENCE", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "CONFLUENCE", ConnectionID: "conn-1"}
	step := f.CreateFirstStep(job)

	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, jobqueue.NewFeatureRegistry(f), &recordingIndex{}, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, queuing.queued, 3)
	var docIDs []string
	for _, s := range queuing.queued {
		docIDs = append(docIDs, s.DocID)
	}
	assert.ElementsMatch(t, []string{"1", "2", "3"}, docIDs)
}

func TestFeature_LoadConfluencePageIndexesCleanedContent(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "access_token": "tok"}}
	f := NewFeature("CONFLUENCE", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "CONFLUENCE", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "CONFLUENCE", DocID: "2"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, index.chunks, 1)
	assert.Contains(t, index.chunks[0].Content, "Page 2")
	assert.Contains(t, index.chunks[0].Content, "content 2")
	assert.Equal(t, "2", index.chunks[0].Metadata["doc_id"])
}

func TestFeature_LoadConfluencePageSkipsEmptyTitle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rest/api/content/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(contentResponse{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "access_token": "tok"}}
	f := NewFeature("CONFLUENCE", repo, arbor.NewLogger())

	job := jobqueue.Job{Datasource: "CONFLUENCE", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeLoad, Datasource: "CONFLUENCE", DocID: "9"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))
	assert.Empty(t, index.chunks)
}

func TestFeature_DeleteHandlerDeletesIndexedDocumentByPageID(t *testing.T) {
	f := NewFeature("CONFLUENCE", fakeConnectionRepo{}, arbor.NewLogger())
	job := jobqueue.Job{Datasource: "CONFLUENCE"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeDelete, Datasource: "CONFLUENCE", DocID: "9"}

	index := &recordingIndex{}
	chain := jobqueue.NewIndexingChain(&noopQueuing{}, jobqueue.NewFeatureRegistry(f), index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{}))

	assert.Equal(t, []string{"9"}, index.deleted)
}

func TestFeature_SyncDeletionsQueuesDeleteForPagesNoLongerInTree(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	repo := fakeConnectionRepo{config: map[string]any{"url": server.URL, "access_token": "tok", "page_id": "1"}}
	f := NewFeature("CONFLUENCE", repo, arbor.NewLogger())
	registry := jobqueue.NewFeatureRegistry(f)
	index := &recordingIndex{indexed: []string{"1", "2", "3", "stale"}}
	queuing := &noopQueuing{}
	chain := jobqueue.NewIndexingChain(queuing, registry, index, flatChunker{}, flatEmbedder{}, "", arbor.NewLogger())
	f.SetReconciler(jobqueue.NewDeletionReconciler(registry, index, arbor.NewLogger()))

	job := jobqueue.Job{Datasource: "CONFLUENCE", ConnectionID: "conn-1"}
	step := jobqueue.JobStep{Type: jobqueue.JobTypeSyncDeletions, Datasource: "CONFLUENCE"}

	handler := f.HandlerFor(job, step)
	require.NotNil(t, handler)
	require.NoError(t, handler(context.Background(), job, step, chain, jobqueue.Connection{ID: "conn-1"}))

	require.Len(t, queuing.queued, 1)
	assert.Equal(t, jobqueue.JobTypeDelete, queuing.queued[0].Type)
	assert.Equal(t, "stale", queuing.queued[0].DocID)
}
