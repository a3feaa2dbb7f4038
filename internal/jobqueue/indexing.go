package jobqueue

import "context"

// Document is one loaded, pre-chunk piece of content ready for indexing.
type Document struct {
	Content  string
	Metadata map[string]any
}

// Chunk is one slice of a Document after chunking, carrying its own copy of
// (amended) metadata.
type Chunk struct {
	Content  string
	Metadata map[string]any
}

// Chunker splits documents into Chunks. Concrete chunkers (see
// internal/indexing) are swapped in at wiring time; the orchestration core
// only depends on this interface.
type Chunker interface {
	Chunk(documents []Document) []Chunk
}

// EmbeddingService generates vector embeddings for chunk texts. This is a
// capability interface only: no concrete embedding call lives in this
// package.
type EmbeddingService interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// IndexStore is the capability interface IndexingChain uses to create,
// delete from, and populate the index. Concrete stores (see
// internal/indexing) are swapped in at wiring time.
type IndexStore interface {
	// EnsureIndex makes sure the target index exists, creating it if needed.
	EnsureIndex(ctx context.Context) error

	// DeleteByQuery deletes indexed documents matching datasource, the given
	// key field/value, and a connection scope of "NONE" plus connectionID
	// (when connectionID is non-empty). Returns ErrIndexNotFound if the
	// index itself doesn't exist yet; callers treat that as "nothing to
	// delete".
	DeleteByQuery(ctx context.Context, datasource, keyField, keyValue, connectionID string) error

	// BulkInsert stores chunks with their corresponding embeddings. len(chunks) == len(embeddings).
	BulkInsert(ctx context.Context, chunks []Chunk, embeddings [][]float32) error

	// IndexedKeys returns the set of distinct keyField values currently
	// indexed for datasource, optionally scoped further by scopeField/scopeValue
	// (pass empty strings for an unscoped, datasource-wide sweep).
	IndexedKeys(ctx context.Context, datasource, keyField, scopeField, scopeValue string) ([]string, error)
}
