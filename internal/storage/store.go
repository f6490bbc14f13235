package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when a draft is saved against a stale revision.
var ErrConflict = errors.New("storage: revision conflict")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Drafts() DraftStore
	Leases() LeaseStore
}

// DraftStore persists the local rule draft so pending edits survive a restart.
//
// Save is a compare-and-set on Revision: the draft must carry the revision
// that is currently stored (0 when nothing is stored). On success the stored
// revision is advanced by one and returned.
type DraftStore interface {
	Load(ctx context.Context) (*Draft, error)
	Save(ctx context.Context, draft Draft) (int64, error)
}

// LeaseStore caches the last device list reported by the router.
type LeaseStore interface {
	Replace(ctx context.Context, leases []Lease) error
	List(ctx context.Context) ([]Lease, error)
}
