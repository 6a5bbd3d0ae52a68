package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ngoyal88/pricedash/pkg/cache"
	"github.com/ngoyal88/pricedash/pkg/metrics"
)

// RedisStore keeps a capped history of metric records in a Redis list.
// The newest record sits at the head; the list is trimmed on every write.
type RedisStore struct {
	rdb      *cache.Client
	key      string
	capacity int64
}

// NewRedisStore creates a Redis-backed history under key holding at most capacity records
func NewRedisStore(rdb *cache.Client, key string, capacity int) *RedisStore {
	if key == "" {
		key = "pricedash:metrics"
	}
	if capacity <= 0 {
		capacity = 200
	}
	return &RedisStore{
		rdb:      rdb,
		key:      key,
		capacity: int64(capacity),
	}
}

// SaveRecord pushes a record and trims the list in one transaction
func (s *RedisStore) SaveRecord(ctx context.Context, rec metrics.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	_, err = s.rdb.Redis().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, s.key, data)
		pipe.LTrim(ctx, s.key, 0, s.capacity-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save record %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, oldest first
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]metrics.Record, error) {
	if limit <= 0 || int64(limit) > s.capacity {
		limit = int(s.capacity)
	}

	raw, err := s.rdb.Redis().LRange(ctx, s.key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]metrics.Record, 0, len(raw))
	// Stored newest first; walk backwards so callers get insertion order.
	for i := len(raw) - 1; i >= 0; i-- {
		var rec metrics.Record
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Len returns the number of stored records
func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	return s.rdb.Redis().LLen(ctx, s.key).Result()
}

// Ping checks Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx)
}
