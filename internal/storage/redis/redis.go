package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/homeguard/internal/config"
	"github.com/goodtune/homeguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "homeguard:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	draftStore *draftStore
	leaseStore *leaseStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// A host that already carries a port (host:port) is used as-is
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Store{
		client:     client,
		draftStore: &draftStore{client: client, script: redis.NewScript(saveDraftScript)},
		leaseStore: &leaseStore{client: client, script: redis.NewScript(replaceLeasesScript)},
	}, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Drafts returns the DraftStore implementation
func (s *Store) Drafts() storage.DraftStore {
	return s.draftStore
}

// Leases returns the LeaseStore implementation
func (s *Store) Leases() storage.LeaseStore {
	return s.leaseStore
}
