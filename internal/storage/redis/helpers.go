package redis

import (
	"fmt"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
)

func draftKey() string {
	return keyPrefix + "draft"
}

func leasesSetKey() string {
	return keyPrefix + "leases"
}

func leaseKeyPrefix() string {
	return keyPrefix + "lease:"
}

// formatTime renders an optional timestamp; the zero time is stored as "".
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// parseLease converts a Redis hash to Lease
func parseLease(data map[string]string) (*storage.Lease, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	expiresAt, err := parseTime(data["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse expires_at: %w", err)
	}

	updatedAt, err := parseTime(data["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &storage.Lease{
		MAC:       data["mac"],
		IP:        data["ip"],
		Hostname:  data["hostname"],
		ExpiresAt: expiresAt,
		UpdatedAt: updatedAt,
	}, nil
}
