package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"loginsight/internal/apperr"
	"loginsight/internal/bucket"
)

const keyPrefix = "bucket"

// Key returns "bucket:{bucketID}".
func Key(bucketID string) string {
	return fmt.Sprintf("%s:%s", keyPrefix, bucketID)
}

// Redis keeps each bucket as a hash holding project, window bounds and
// count. HINCRBY makes the increment atomic across processes.
type Redis struct {
	rdb     *redis.Client
	ttl     time.Duration
	timeout time.Duration
}

// NewRedis returns a redis-backed counter store. Buckets expire ttl after
// their last increment; ttl <= 0 keeps them forever.
func NewRedis(rdb *redis.Client, ttl, timeout time.Duration) *Redis {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Redis{rdb: rdb, ttl: ttl, timeout: timeout}
}

func (r *Redis) IncrementBucket(ctx context.Context, projectID string, addr bucket.Address) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	key := Key(addr.ID)
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "project", projectID)
		pipe.HSetNX(ctx, key, "start", addr.Start.UTC().Format(time.RFC3339))
		pipe.HSetNX(ctx, key, "end", addr.End.UTC().Format(time.RFC3339))
		pipe.HIncrBy(ctx, key, "count", 1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return apperr.Infrastructure("increment bucket", err)
	}
	return nil
}

func (r *Redis) SumBuckets(ctx context.Context, ids []string) (int64, error) {
	counts, err := r.BucketCounts(ctx, ids)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// BucketCounts reads the count field of every bucket in one pipeline.
// Missing buckets are left out of the result.
func (r *Redis) BucketCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmds := make([]*redis.StringCmd, len(ids))
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGet(ctx, Key(id), "count")
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, apperr.Infrastructure("read buckets", err)
	}

	for i, cmd := range cmds {
		n, err := cmd.Int64()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, apperr.Infrastructure("read buckets", err)
		}
		out[ids[i]] = n
	}
	return out, nil
}

// NewRedisClient connects to redis, retrying the initial ping a few times
// while the server comes up.
func NewRedisClient(ctx context.Context, addr, password string, db int, log *zap.Logger) (*redis.Client, error) {
	zapLog := log.With(zap.String("addr", addr), zap.Int("db", db))

	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	var err error
	for i := 0; i < 5; i++ {
		if err = rdb.Ping(ctx).Err(); err == nil {
			zapLog.Info("connected to redis")
			return rdb, nil
		}
		zapLog.Warn("redis not ready, retrying in 3 seconds", zap.Int("retry", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(3 * time.Second):
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("redis ping %s: %w", addr, err)
}
