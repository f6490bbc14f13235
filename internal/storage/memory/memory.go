// Package memory is an in-process storage backend. State is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
)

// Store implements storage.Store in memory
type Store struct {
	drafts *draftStore
	leases *leaseStore
}

// Open creates an empty in-memory store
func Open() *Store {
	return &Store{
		drafts: &draftStore{},
		leases: &leaseStore{},
	}
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}

// Drafts returns the DraftStore implementation
func (s *Store) Drafts() storage.DraftStore {
	return s.drafts
}

// Leases returns the LeaseStore implementation
func (s *Store) Leases() storage.LeaseStore {
	return s.leases
}

type draftStore struct {
	mu    sync.Mutex
	draft *storage.Draft
}

func (s *draftStore) Load(ctx context.Context) (*storage.Draft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft == nil {
		return nil, storage.ErrNotFound
	}
	d := s.draft.Clone()
	return &d, nil
}

func (s *draftStore) Save(ctx context.Context, draft storage.Draft) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if s.draft != nil {
		current = s.draft.Revision
	}
	if draft.Revision != current {
		return current, storage.ErrConflict
	}

	d := draft.Clone()
	d.Revision = current + 1
	if d.SavedAt.IsZero() {
		d.SavedAt = time.Now()
	}
	s.draft = &d
	return d.Revision, nil
}

type leaseStore struct {
	mu     sync.RWMutex
	leases []storage.Lease
}

func (s *leaseStore) Replace(ctx context.Context, leases []storage.Lease) error {
	copied := append([]storage.Lease(nil), leases...)
	storage.SortLeases(copied)

	s.mu.Lock()
	s.leases = copied
	s.mu.Unlock()
	return nil
}

func (s *leaseStore) List(ctx context.Context) ([]storage.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]storage.Lease{}, s.leases...), nil
}
