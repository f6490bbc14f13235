package bolt

import (
	"context"
	"errors"
	"fmt"

	"github.com/goodtune/homeguard/internal/storage"
	"go.etcd.io/bbolt"
)

type leaseStore struct {
	db *bbolt.DB
}

// Replace swaps the whole lease set in one transaction.
func (s *leaseStore) Replace(ctx context.Context, leases []storage.Lease) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketLeases)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return fmt.Errorf("clear leases: %w", err)
		}
		bucket, err := tx.CreateBucket([]byte(bucketLeases))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketLeases, err)
		}

		for _, lease := range leases {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if lease.MAC == "" {
				continue
			}
			data, err := marshal(lease)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(lease.MAC), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns the cached leases ordered by MAC.
func (s *leaseStore) List(ctx context.Context) ([]storage.Lease, error) {
	leases, err := listBucket[storage.Lease](ctx, s.db, bucketLeases)
	if err != nil {
		return nil, err
	}
	storage.SortLeases(leases)
	return leases, nil
}
