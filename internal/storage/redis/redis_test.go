package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() is already "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "127.0.0.1", DialTimeout: "soon", ReadTimeout: "1s", WriteTimeout: "1s"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestDraftStore_SaveAndLoad(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	drafts := store.Drafts()

	if _, err := drafts.Load(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	draft := storage.Draft{
		Confirmed: map[string][]storage.DraftRule{
			"block": {{ID: "r1", Domain: "ads.example", Active: true}},
		},
		Current: map[string][]storage.DraftRule{
			"block": {
				{ID: "r1", Domain: "ads.example", Active: true},
				{ID: "r2", Domain: "games.example", Active: true},
			},
		},
		Ledger: []storage.DraftChange{
			{Sequence: 1, List: "block", Action: "add", Domain: "games.example", RuleID: "r2"},
		},
		NextSequence: 2,
	}

	rev, err := drafts.Save(ctx, draft)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rev != 1 {
		t.Errorf("Expected revision 1, got %d", rev)
	}

	if got := mr.HGet("homeguard:draft", "revision"); got != "1" {
		t.Errorf("Expected stored revision 1, got %q", got)
	}

	loaded, err := drafts.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Revision != 1 {
		t.Errorf("Expected revision 1, got %d", loaded.Revision)
	}
	if len(loaded.Current["block"]) != 2 || loaded.Current["block"][1].Domain != "games.example" {
		t.Errorf("Unexpected current rules: %+v", loaded.Current)
	}
	if len(loaded.Ledger) != 1 || loaded.Ledger[0].RuleID != "r2" {
		t.Errorf("Unexpected ledger: %+v", loaded.Ledger)
	}
	if loaded.NextSequence != 2 {
		t.Errorf("Expected NextSequence 2, got %d", loaded.NextSequence)
	}
	if loaded.SavedAt.IsZero() {
		t.Error("Expected SavedAt to be set")
	}
}

func TestDraftStore_Conflict(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	drafts := store.Drafts()

	tests := []struct {
		name     string
		revision int64
		wantRev  int64
		wantErr  error
	}{
		{"first save", 0, 1, nil},
		{"stale revision", 0, 0, storage.ErrConflict},
		{"current revision", 1, 2, nil},
		{"future revision", 5, 0, storage.ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rev, err := drafts.Save(ctx, storage.Draft{Revision: tt.revision})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Save(rev=%d) error = %v, want %v", tt.revision, err, tt.wantErr)
			}
			if tt.wantErr == nil && rev != tt.wantRev {
				t.Errorf("Save(rev=%d) = %d, want %d", tt.revision, rev, tt.wantRev)
			}
		})
	}
}

func TestLeaseStore_Replace(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	leases := store.Leases()

	first := []storage.Lease{
		{MAC: "aa:aa", IP: "192.168.1.10", Hostname: "laptop"},
		{MAC: "bb:bb", IP: "192.168.1.11", Hostname: "phone"},
	}
	if err := leases.Replace(ctx, first); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	second := []storage.Lease{
		{MAC: "cc:cc", IP: "192.168.1.12", Hostname: "tv"},
		{MAC: "bb:bb", IP: "192.168.1.20", Hostname: "phone"},
	}
	if err := leases.Replace(ctx, second); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	if mr.Exists("homeguard:lease:aa:aa") {
		t.Error("Expected previous generation lease to be removed")
	}

	got, err := leases.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 leases, got %d", len(got))
	}
	if got[0].MAC != "bb:bb" || got[0].IP != "192.168.1.20" {
		t.Errorf("Unexpected first lease: %+v", got[0])
	}
	if got[1].MAC != "cc:cc" || got[1].Hostname != "tv" {
		t.Errorf("Unexpected second lease: %+v", got[1])
	}
	if got[0].UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be stamped")
	}
}

func TestLeaseStore_Expiry(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	leases := []storage.Lease{
		{MAC: "aa:aa", IP: "192.168.1.10", ExpiresAt: time.Now().Add(time.Hour)},
		{MAC: "bb:bb", IP: "192.168.1.11"},
	}
	if err := store.Leases().Replace(ctx, leases); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	if ttl := mr.TTL("homeguard:lease:aa:aa"); ttl <= 0 {
		t.Errorf("Expected TTL on expiring lease, got %v", ttl)
	}
	if ttl := mr.TTL("homeguard:lease:bb:bb"); ttl != 0 {
		t.Errorf("Expected no TTL on lease without expiry, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)

	got, err := store.Leases().List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].MAC != "bb:bb" {
		t.Errorf("Expected only the non-expiring lease, got %+v", got)
	}
}
