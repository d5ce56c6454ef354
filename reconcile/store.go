package reconcile

import (
	"context"

	"github.com/verdantiq/esgbridge/id"
)

// Store defines the persistence operations for sync records. Records are
// append-only: there is deliberately no update or delete.
type Store interface {
	// CreateSyncRecord persists a new sync record.
	CreateSyncRecord(ctx context.Context, rec *SyncRecord) error

	// GetSyncRecord returns a sync record by ID. Returns ErrRecordNotFound
	// if it does not exist.
	GetSyncRecord(ctx context.Context, recID id.ID) (*SyncRecord, error)

	// ListSyncRecords returns sync records matching opts, newest first.
	ListSyncRecords(ctx context.Context, opts ListOpts) ([]*SyncRecord, error)
}
