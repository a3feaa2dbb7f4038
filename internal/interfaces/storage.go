// -----------------------------------------------------------------------
// Last Modified: Wednesday, 5th November 2025 6:08:59 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package interfaces

// StorageManager is the top-level handle on the application's durable
// storage. The ingestion engine only needs generic key/value access (for
// connection credentials and uploaded-file bytes) plus the raw database
// handle, which internal/jobstore and internal/indexing open their own
// Badger buckets against.
type StorageManager interface {
	KeyValueStorage() KeyValueStorage
	DB() interface{}
	Close() error
}
