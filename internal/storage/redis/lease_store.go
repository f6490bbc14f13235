package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type leaseStore struct {
	client *redis.Client
	script *redis.Script
}

// Replace swaps the cached lease set for leases
func (s *leaseStore) Replace(ctx context.Context, leases []storage.Lease) error {
	now := time.Now()

	keys := []string{leasesSetKey()}
	args := make([]interface{}, 0, 2+6*len(leases))
	args = append(args, leaseKeyPrefix(), now.Unix())

	for _, lease := range leases {
		if lease.MAC == "" {
			continue
		}

		updatedAt := lease.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}

		var expiresUnix int64
		if !lease.ExpiresAt.IsZero() {
			expiresUnix = lease.ExpiresAt.Unix()
		}

		args = append(args,
			lease.MAC,
			lease.IP,
			lease.Hostname,
			formatTime(lease.ExpiresAt),
			expiresUnix,
			formatTime(updatedAt),
		)
	}

	return s.script.Run(ctx, s.client, keys, args...).Err()
}

// List retrieves all cached leases
func (s *leaseStore) List(ctx context.Context) ([]storage.Lease, error) {
	macs, err := s.client.SMembers(ctx, leasesSetKey()).Result()
	if err != nil {
		return nil, err
	}

	if len(macs) == 0 {
		return []storage.Lease{}, nil
	}

	// Use pipeline for batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(macs))

	for i, mac := range macs {
		cmds[i] = pipe.HGetAll(ctx, leaseKeyPrefix()+mac)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	leases := make([]storage.Lease, 0, len(macs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			// Expired via TTL
			continue
		}

		lease, err := parseLease(data)
		if err == nil {
			leases = append(leases, *lease)
		}
	}

	storage.SortLeases(leases)
	return leases, nil
}
