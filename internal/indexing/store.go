// Package indexing provides the default IndexStore and Chunker
// implementations wired into jobqueue.IndexingChain.
package indexing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/jobqueue"
	badger "github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

// chunkRecord is one indexed chunk. DocID/DocDisplayID/ConnectionID are
// pulled out of Chunk.Metadata at insert time so they can be indexed by
// badgerhold; Content/Embedding/Metadata carry the rest.
type chunkRecord struct {
	ID           string `badgerhold:"key"`
	Datasource   string `badgerhold:"index"`
	DocID        string `badgerhold:"index"`
	DocDisplayID string `badgerhold:"index"`
	ConnectionID string `badgerhold:"index"`
	ChunkID      int
	Content      string
	Embedding    []float32
	Metadata     map[string]any
}

// Store implements jobqueue.IndexStore over the same BadgerDB/badgerhold
// stack as internal/jobstore, following the teacher's own
// DocumentStorage.FullTextSearch precedent of solving "search without a
// dedicated search engine" over badgerhold rather than reaching for an
// unrelated store the pack never uses.
type Store struct {
	db     *badger.BadgerDB
	logger arbor.ILogger
}

// New builds a Store.
func New(db *badger.BadgerDB, logger arbor.ILogger) *Store {
	return &Store{db: db, logger: logger}
}

var _ jobqueue.IndexStore = (*Store)(nil)

// EnsureIndex is a no-op: badgerhold creates its indexes lazily from struct
// tags the first time a record of this type is stored.
func (s *Store) EnsureIndex(ctx context.Context) error {
	return nil
}

// keyFieldAttr maps the jobqueue.DeleteKeyMode key field name to the
// corresponding chunkRecord struct field, so DeleteByQuery/IndexedKeys can
// build the right badgerhold query regardless of which key mode a Feature uses.
func keyFieldAttr(keyField string) (string, error) {
	switch keyField {
	case "metadata.doc_id":
		return "DocID", nil
	case "metadata.doc_display_id":
		return "DocDisplayID", nil
	default:
		return "", fmt.Errorf("unrecognized key field %q", keyField)
	}
}

// DeleteByQuery deletes every indexed chunk matching datasource,
// keyField=keyValue, scoped to connectionID plus the always-included "NONE"
// bucket used by documents with no connection (mirrors the original
// system's delete_document connection_ids handling).
func (s *Store) DeleteByQuery(ctx context.Context, datasource, keyField, keyValue, connectionID string) error {
	attr, err := keyFieldAttr(keyField)
	if err != nil {
		return err
	}

	connectionIDs := []string{"NONE"}
	if connectionID != "" {
		connectionIDs = append(connectionIDs, connectionID)
	}

	query := badgerhold.Where("Datasource").Eq(datasource).
		And(attr).Eq(keyValue).
		And("ConnectionID").In(toAnySlice(connectionIDs)...)

	if err := s.db.Store().DeleteMatching(&chunkRecord{}, query); err != nil {
		return fmt.Errorf("delete indexed chunks: %w", err)
	}
	return nil
}

func toAnySlice(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// BulkInsert stores chunks with their embeddings, extracting DocID/
// DocDisplayID/ConnectionID from each chunk's metadata for indexing.
func (s *Store) BulkInsert(ctx context.Context, chunks []jobqueue.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("bulk insert: %d chunks but %d embeddings", len(chunks), len(embeddings))
	}

	for i, chunk := range chunks {
		docID, _ := chunk.Metadata["doc_id"].(string)
		docDisplayID, _ := chunk.Metadata["doc_display_id"].(string)
		connectionID, _ := chunk.Metadata["connection_id"].(string)
		if connectionID == "" {
			connectionID = "NONE"
		}
		datasource, _ := chunk.Metadata["datasource"].(string)
		chunkID, _ := chunk.Metadata["chunk_id"].(int)

		rec := chunkRecord{
			ID:           uuid.NewString(),
			Datasource:   datasource,
			DocID:        docID,
			DocDisplayID: docDisplayID,
			ConnectionID: connectionID,
			ChunkID:      chunkID,
			Content:      chunk.Content,
			Embedding:    embeddings[i],
			Metadata:     chunk.Metadata,
		}
		if err := s.db.Store().Insert(rec.ID, rec); err != nil {
			s.logger.Error().Err(err).Str("datasource", datasource).Msg("indexing: failed to insert chunk")
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return nil
}

// IndexedKeys returns the distinct values of keyField currently indexed for
// datasource, optionally narrowed to scopeField=scopeValue (used when
// reconciling deletions scoped to one document rather than a whole job).
func (s *Store) IndexedKeys(ctx context.Context, datasource, keyField, scopeField, scopeValue string) ([]string, error) {
	attr, err := keyFieldAttr(keyField)
	if err != nil {
		return nil, err
	}

	query := badgerhold.Where("Datasource").Eq(datasource)
	if scopeField != "" {
		scopeAttr, err := keyFieldAttr(scopeField)
		if err != nil {
			return nil, err
		}
		query = query.And(scopeAttr).Eq(scopeValue)
	}

	var recs []chunkRecord
	if err := s.db.Store().Find(&recs, query); err != nil {
		return nil, fmt.Errorf("find indexed chunks: %w", err)
	}

	seen := map[string]bool{}
	var keys []string
	for _, rec := range recs {
		var value string
		if attr == "DocID" {
			value = rec.DocID
		} else {
			value = rec.DocDisplayID
		}
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		keys = append(keys, value)
	}
	return keys, nil
}
