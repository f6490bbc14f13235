package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/goodtune/homeguard/internal/storage"
)

func TestDraftStore_RevisionCAS(t *testing.T) {
	store := Open()
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	drafts := store.Drafts()

	if _, err := drafts.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound on empty store, got %v", err)
	}

	draft := storage.Draft{
		Current: map[string][]storage.DraftRule{
			"block": {{ID: "r1", Domain: "example.com", Active: true}},
		},
		Ledger:       []storage.DraftChange{{Sequence: 1, List: "block", Action: "add", Domain: "example.com"}},
		NextSequence: 2,
	}

	rev, err := drafts.Save(ctx, draft)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rev != 1 {
		t.Errorf("Expected revision 1, got %d", rev)
	}

	// Saving again with the stale revision must fail
	if _, err := drafts.Save(ctx, draft); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	draft.Revision = rev
	rev, err = drafts.Save(ctx, draft)
	if err != nil {
		t.Fatalf("Save with current revision failed: %v", err)
	}
	if rev != 2 {
		t.Errorf("Expected revision 2, got %d", rev)
	}

	loaded, err := drafts.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Revision != 2 || loaded.NextSequence != 2 {
		t.Errorf("Unexpected draft: %+v", loaded)
	}

	// Loaded drafts are copies
	loaded.Current["block"][0].Domain = "mutated.com"
	again, _ := drafts.Load(ctx)
	if again.Current["block"][0].Domain != "example.com" {
		t.Errorf("Expected stored draft to be isolated from callers")
	}
}

func TestLeaseStore_Replace(t *testing.T) {
	store := Open()
	ctx := context.Background()

	leases := []storage.Lease{
		{MAC: "bb:00", IP: "192.168.1.11", Hostname: "tablet"},
		{MAC: "aa:00", IP: "192.168.1.10", Hostname: "laptop"},
	}
	if err := store.Leases().Replace(ctx, leases); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	got, err := store.Leases().List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].MAC != "aa:00" || got[1].MAC != "bb:00" {
		t.Errorf("Expected leases sorted by MAC, got %+v", got)
	}

	if err := store.Leases().Replace(ctx, nil); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, _ = store.Leases().List(ctx)
	if len(got) != 0 {
		t.Errorf("Expected empty lease list, got %d", len(got))
	}
}
