package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "data", "homeguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDraftStoreSaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Drafts().Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	draft := storage.Draft{
		Confirmed: map[string][]storage.DraftRule{"block": {}},
		Current: map[string][]storage.DraftRule{
			"block": {{ID: "r1", Domain: "example.com", Active: true}},
		},
		Ledger:       []storage.DraftChange{{Sequence: 1, List: "block", Action: "add", Domain: "example.com", RuleID: "r1"}},
		NextSequence: 2,
	}

	rev, err := store.Drafts().Save(ctx, draft)
	if err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected revision 1, got %d", rev)
	}

	loaded, err := store.Drafts().Load(ctx)
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	if loaded.Revision != 1 || loaded.NextSequence != 2 {
		t.Fatalf("unexpected draft header: revision=%d next=%d", loaded.Revision, loaded.NextSequence)
	}
	if len(loaded.Ledger) != 1 || loaded.Ledger[0].Domain != "example.com" {
		t.Fatalf("unexpected ledger: %+v", loaded.Ledger)
	}
	if loaded.SavedAt.IsZero() {
		t.Fatal("expected saved_at to be set")
	}
}

func TestDraftStoreConflict(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Drafts().Save(ctx, storage.Draft{}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	rev, err := store.Drafts().Save(ctx, storage.Draft{Revision: 0})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale revision, got %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected current revision 1 with conflict, got %d", rev)
	}

	rev, err = store.Drafts().Save(ctx, storage.Draft{Revision: 1})
	if err != nil {
		t.Fatalf("save at current revision: %v", err)
	}
	if rev != 2 {
		t.Fatalf("expected revision 2, got %d", rev)
	}
}

func TestLeaseStoreReplace(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	first := []storage.Lease{
		{MAC: "bb:bb:bb:bb:bb:bb", IP: "192.168.1.11", Hostname: "tablet", ExpiresAt: now.Add(time.Hour)},
		{MAC: "aa:aa:aa:aa:aa:aa", IP: "192.168.1.10", Hostname: "laptop"},
		{MAC: "", IP: "192.168.1.99"},
	}
	if err := store.Leases().Replace(ctx, first); err != nil {
		t.Fatalf("replace leases: %v", err)
	}

	leases, err := store.Leases().List(ctx)
	if err != nil {
		t.Fatalf("list leases: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("expected 2 leases, got %d", len(leases))
	}
	if leases[0].MAC != "aa:aa:aa:aa:aa:aa" || leases[1].Hostname != "tablet" {
		t.Fatalf("unexpected order: %+v", leases)
	}
	if !leases[1].ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected expiry to round-trip, got %v", leases[1].ExpiresAt)
	}

	if err := store.Leases().Replace(ctx, []storage.Lease{{MAC: "cc:cc:cc:cc:cc:cc"}}); err != nil {
		t.Fatalf("replace leases: %v", err)
	}
	leases, err = store.Leases().List(ctx)
	if err != nil {
		t.Fatalf("list leases: %v", err)
	}
	if len(leases) != 1 || leases[0].MAC != "cc:cc:cc:cc:cc:cc" {
		t.Fatalf("expected previous generation to be dropped, got %+v", leases)
	}
}

func TestReopenKeepsDraft(t *testing.T) {
	path := filepath.Join(t.TempDir(), "homeguard.db")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := store.Drafts().Save(ctx, storage.Draft{NextSequence: 7}); err != nil {
		t.Fatalf("save draft: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = store.Close() }()

	draft, err := store.Drafts().Load(ctx)
	if err != nil {
		t.Fatalf("load draft: %v", err)
	}
	if draft.NextSequence != 7 || draft.Revision != 1 {
		t.Fatalf("unexpected draft after reopen: %+v", draft)
	}
}
