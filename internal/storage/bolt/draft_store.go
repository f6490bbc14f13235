package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
	"go.etcd.io/bbolt"
)

type draftStore struct {
	db *bbolt.DB
}

func (s *draftStore) Load(ctx context.Context) (*storage.Draft, error) {
	return getBucketValue[storage.Draft](ctx, s.db, bucketDrafts, draftKey)
}

// Save writes draft if its revision matches the stored one. The read and the
// write share one bbolt transaction.
func (s *draftStore) Save(ctx context.Context, draft storage.Draft) (int64, error) {
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now()
	}

	var revision int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketDrafts))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucketDrafts)
		}

		var current int64
		if raw := b.Get([]byte(draftKey)); raw != nil {
			var stored storage.Draft
			if err := unmarshal(raw, &stored); err != nil {
				return err
			}
			current = stored.Revision
		}
		if draft.Revision != current {
			revision = current
			return storage.ErrConflict
		}

		draft.Revision = current + 1
		data, err := marshal(draft)
		if err != nil {
			return err
		}
		revision = draft.Revision
		return b.Put([]byte(draftKey), data)
	})
	if err != nil {
		return revision, err
	}
	return revision, nil
}
