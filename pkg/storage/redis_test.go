package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ngoyal88/pricedash/pkg/cache"
	"github.com/ngoyal88/pricedash/pkg/metrics"
)

func setupStore(t *testing.T, capacity int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb, err := cache.NewRedis(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test:metrics", capacity), mr
}

func record(i int) metrics.Record {
	return metrics.Record{
		ID:             fmt.Sprintf("req-%d", i),
		Path:           "/api/gemini",
		PromptLength:   i,
		UpstreamStatus: 200,
		Timestamp:      int64(i),
	}
}

func TestRedisStore_SaveAndRecent(t *testing.T) {
	store, _ := setupStore(t, 10)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.SaveRecord(ctx, record(i)))
	}

	got, err := store.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []metrics.Record{record(1), record(2), record(3)}, got)

	got, err = store.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "req-2", got[0].ID)
	assert.Equal(t, "req-3", got[1].ID)
}

func TestRedisStore_TrimsToCapacity(t *testing.T) {
	store, mr := setupStore(t, 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.SaveRecord(ctx, record(i)))
	}

	n, err := store.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	list, err := mr.List("test:metrics")
	require.NoError(t, err)
	assert.Len(t, list, 3)

	got, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "req-3", got[0].ID)
	assert.Equal(t, "req-5", got[2].ID)
}

func TestRedisStore_Ping(t *testing.T) {
	store, _ := setupStore(t, 3)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestHistorySink_MirrorsAsync(t *testing.T) {
	store, _ := setupStore(t, 10)
	sink := NewHistorySink(store, time.Second, zap.NewNop())

	sink.Observe(record(1))
	sink.Observe(record(2))

	assert.Eventually(t, func() bool {
		n, err := store.Len(context.Background())
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)
}

type failingStore struct{ Store }

func (failingStore) SaveRecord(context.Context, metrics.Record) error {
	return errors.New("redis down")
}

func TestHistorySink_LogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sink := NewHistorySink(failingStore{}, time.Second, zap.New(core))

	sink.Observe(record(1))

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("failed to mirror metric record").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
