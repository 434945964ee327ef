package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"loginsight/internal/apperr"
	"loginsight/internal/bucket"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, time.Hour, time.Second), mr
}

func TestRedisConcurrentIncrements(t *testing.T) {
	store, mr := newTestRedis(t)
	ctx := context.Background()

	addr, err := bucket.For("p1", time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC), 5)
	require.NoError(t, err)

	const k = 200
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementBucket(ctx, "p1", addr)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total, err := store.SumBuckets(ctx, []string{addr.ID})
	require.NoError(t, err)
	require.Equal(t, int64(k), total)

	require.Equal(t, "p1", mr.HGet(Key(addr.ID), "project"))
	require.Equal(t, "2024-01-01T10:05:00Z", mr.HGet(Key(addr.ID), "start"))
	require.True(t, mr.TTL(Key(addr.ID)) > 0)
}

func TestRedisSumSkipsMissingBuckets(t *testing.T) {
	store, _ := newTestRedis(t)
	ctx := context.Background()

	addrs, err := bucket.Range("p1", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 10, 20, 0, 0, time.UTC), 10)
	require.NoError(t, err)
	require.Len(t, addrs, 3)

	require.NoError(t, store.IncrementBucket(ctx, "p1", addrs[0]))
	require.NoError(t, store.IncrementBucket(ctx, "p1", addrs[2]))
	require.NoError(t, store.IncrementBucket(ctx, "p1", addrs[2]))

	total, err := store.SumBuckets(ctx, bucket.IDs(addrs))
	require.NoError(t, err)
	require.Equal(t, int64(3), total)

	counts, err := store.BucketCounts(ctx, bucket.IDs(addrs))
	require.NoError(t, err)
	require.Equal(t, map[string]int64{addrs[0].ID: 1, addrs[2].ID: 2}, counts)
}

func TestRedisUnavailableIsInfrastructure(t *testing.T) {
	store, mr := newTestRedis(t)
	mr.Close()

	addr, err := bucket.For("p1", time.Now(), 5)
	require.NoError(t, err)

	err = store.IncrementBucket(context.Background(), "p1", addr)
	require.Error(t, err)
	require.True(t, apperr.Retryable(err))

	_, err = store.SumBuckets(context.Background(), []string{addr.ID})
	require.True(t, apperr.Retryable(err))
}
