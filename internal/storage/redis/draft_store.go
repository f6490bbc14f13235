package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/homeguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type draftStore struct {
	client *redis.Client
	script *redis.Script
}

// Load retrieves the persisted draft
func (s *draftStore) Load(ctx context.Context) (*storage.Draft, error) {
	data, err := s.client.HGetAll(ctx, draftKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	var draft storage.Draft
	if err := json.Unmarshal([]byte(data["payload"]), &draft); err != nil {
		return nil, fmt.Errorf("failed to decode draft payload: %w", err)
	}

	revision, err := strconv.ParseInt(data["revision"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse revision: %w", err)
	}
	draft.Revision = revision

	if draft.SavedAt, err = parseTime(data["saved_at"]); err != nil {
		return nil, fmt.Errorf("failed to parse saved_at: %w", err)
	}

	return &draft, nil
}

// Save stores the draft if draft.Revision matches the stored revision
func (s *draftStore) Save(ctx context.Context, draft storage.Draft) (int64, error) {
	if draft.SavedAt.IsZero() {
		draft.SavedAt = time.Now()
	}

	payload, err := json.Marshal(draft)
	if err != nil {
		return 0, fmt.Errorf("failed to encode draft: %w", err)
	}

	keys := []string{draftKey()}
	args := []interface{}{
		draft.Revision,
		payload,
		formatTime(draft.SavedAt),
	}

	revision, err := s.script.Run(ctx, s.client, keys, args...).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if revision < 0 {
		return draft.Revision, storage.ErrConflict
	}

	return revision, nil
}
