// Package connections provides the concrete jobqueue.ConnectionRepository
// used by the running application: datasource-specific configuration
// (URL/token/project key, etc.) stored as JSON blobs in the same
// KeyValueStorage the upload Feature uses for stashed file bytes
// (internal/features/upload/feature.go's uploadKey/PutUpload idiom).
package connections

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/jobqueue"
)

// Repository implements jobqueue.ConnectionRepository over a
// KeyValueStorage, letting operators register per-datasource connections
// (owner/repo/token for GitHub, url/access_token/page_id for Confluence,
// url/username/password for the hosted knowledge platform, ...) without a
// dedicated connections table.
type Repository struct {
	store interfaces.KeyValueStorage
}

// New builds a Repository over store.
func New(store interfaces.KeyValueStorage) *Repository {
	return &Repository{store: store}
}

var _ jobqueue.ConnectionRepository = (*Repository)(nil)

// connectionKey namespaces connection configs away from other
// KeyValueStorage uses (uploaded file bytes, application settings, ...).
func connectionKey(connectionID string) string { return "ingestion-connection:" + connectionID }

// GetConnection loads and JSON-decodes the connection config stored under
// connectionID. Returns interfaces.ErrKeyNotFound (wrapped) if none was
// registered.
func (r *Repository) GetConnection(ctx context.Context, connectionID string) (map[string]any, error) {
	raw, err := r.store.Get(ctx, connectionKey(connectionID))
	if err != nil {
		return nil, fmt.Errorf("load connection %s: %w", connectionID, err)
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, fmt.Errorf("decode connection %s: %w", connectionID, err)
	}
	return fields, nil
}

// Put registers or replaces the configuration for connectionID. Used by
// operator tooling (config loaders, admin endpoints) to seed connections;
// not part of the jobqueue.ConnectionRepository contract itself.
func (r *Repository) Put(ctx context.Context, connectionID string, fields map[string]any) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode connection %s: %w", connectionID, err)
	}
	_, err = r.store.Upsert(ctx, connectionKey(connectionID), string(encoded), "ingestion connection")
	return err
}
