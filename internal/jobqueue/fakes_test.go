package jobqueue

import (
	"context"
	"sync"
)

// fakeFeature is a single-datasource test Feature whose behavior is driven
// by closures, so each scenario test can plug in only what it needs.
type fakeFeature struct {
	name          string
	datasource    string
	createFirst   func(job Job) JobStep
	handlers      map[JobType]Handler
	deleteKeyMode DeleteKeyMode
}

func (f *fakeFeature) Name() string { return f.name }

func (f *fakeFeature) AcceptsRequest(req JobRequest) bool { return req.Datasource == f.datasource }

func (f *fakeFeature) CreateJob(req JobRequest) Job {
	return Job{
		Datasource:    req.Datasource,
		DocID:         req.DocID,
		DocDisplayID:  req.DocDisplayID,
		ConnectionID:  req.ConnectionID,
		ModifiedSince: req.ModifiedSince,
		UploadName:    req.UploadName,
	}
}

func (f *fakeFeature) AcceptsJob(job Job) bool { return job.Datasource == f.datasource }

func (f *fakeFeature) CreateFirstStep(job Job) JobStep {
	if f.createFirst != nil {
		return f.createFirst(job)
	}
	return JobStep{Type: JobTypeCrawl, Datasource: job.Datasource, DocID: job.DocID, DocDisplayID: job.DocDisplayID}
}

func (f *fakeFeature) HandlerFor(job Job, step JobStep) Handler {
	return f.handlers[step.Type]
}

func (f *fakeFeature) DeleteKeyMode(job Job, step JobStep) DeleteKeyMode { return f.deleteKeyMode }

func (f *fakeFeature) ConnectionLoader(connectionID string, repo ConnectionRepository) ConnectionLoader {
	return DefaultConnectionLoader(connectionID)
}

// fakeIndexStore is an in-memory IndexStore recording every bulk-inserted
// chunk and every delete-by-query call, keyed by datasource/keyField/keyValue.
type fakeIndexStore struct {
	mu       sync.Mutex
	ensured  bool
	chunks   []Chunk
	deletes  []indexDelete
	indexed  map[string][]string // datasource|keyField -> indexed key values
	notFound bool                // when true, DeleteByQuery always returns ErrIndexNotFound
}

type indexDelete struct {
	datasource, keyField, keyValue, connectionID string
}

func newFakeIndexStore() *fakeIndexStore {
	return &fakeIndexStore{indexed: map[string][]string{}}
}

func (s *fakeIndexStore) EnsureIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensured = true
	return nil
}

func (s *fakeIndexStore) DeleteByQuery(ctx context.Context, datasource, keyField, keyValue, connectionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notFound {
		return ErrIndexNotFound
	}
	s.deletes = append(s.deletes, indexDelete{datasource, keyField, keyValue, connectionID})
	return nil
}

func (s *fakeIndexStore) BulkInsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, chunks...)
	return nil
}

func (s *fakeIndexStore) IndexedKeys(ctx context.Context, datasource, keyField, scopeField, scopeValue string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.indexed[datasource+"|"+keyField]...), nil
}

func (s *fakeIndexStore) setIndexed(datasource, keyField string, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed[datasource+"|"+keyField] = keys
}

// fakeChunker treats every document as exactly one chunk, preserving its metadata.
type fakeChunker struct{}

func (fakeChunker) Chunk(documents []Document) []Chunk {
	chunks := make([]Chunk, len(documents))
	for i, doc := range documents {
		md := map[string]any{}
		for k, v := range doc.Metadata {
			md[k] = v
		}
		chunks[i] = Chunk{Content: doc.Content, Metadata: md}
	}
	return chunks
}

// fakeEmbedder returns a zero-valued embedding per text, enough to drive the
// BulkInsert call without depending on a real embedding model.
type fakeEmbedder struct{}

func (fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0}
	}
	return out, nil
}
