package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/homeguard/internal/config"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
router:
  base_url: http://192.168.8.1
  timout: 5s
storage:
  redis:
    password: secret
dns:
  upstream: 1.1.1.1
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("findUnknownKeys failed: %v", err)
	}

	want := []string{"dns.upstream", "router.timout"}
	if len(unknown) != len(want) {
		t.Fatalf("Expected %v, got %v", want, unknown)
	}
	for i := range want {
		if unknown[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, unknown[i])
		}
	}
}

func TestFindUnknownKeys_MissingFile(t *testing.T) {
	unknown, err := findUnknownKeys(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || len(unknown) != 0 {
		t.Errorf("Expected no unknown keys for a missing file, got %v, %v", unknown, err)
	}
}

func TestOpenStorage(t *testing.T) {
	store, err := openStorage(config.StorageConfig{Type: "memory"})
	if err != nil {
		t.Fatalf("openStorage(memory) failed: %v", err)
	}
	_ = store.Close()

	store, err = openStorage(config.StorageConfig{Type: "bolt", Bolt: config.BoltConfig{Path: filepath.Join(t.TempDir(), "homeguard.db")}})
	if err != nil {
		t.Fatalf("openStorage(bolt) failed: %v", err)
	}
	_ = store.Close()

	if _, err := openStorage(config.StorageConfig{Type: "etcd"}); err == nil {
		t.Error("Expected error for unsupported storage type")
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"0", 0},
		{"", 5 * time.Second},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, 5*time.Second); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
