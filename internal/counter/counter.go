// Package counter defines the bucket counter contract shared by the event
// writer, the query engine and the alert evaluator, and a redis backend for it.
package counter

import (
	"context"

	"loginsight/internal/bucket"
)

// Store is satisfied by any backend offering an atomic increment on a
// keyed counter, a summed read over a set of keys and a per-key read. *db.Store and *Redis
// both implement it.
type Store interface {
	IncrementBucket(ctx context.Context, projectID string, addr bucket.Address) error
	SumBuckets(ctx context.Context, ids []string) (int64, error)
	BucketCounts(ctx context.Context, ids []string) (map[string]int64, error)
}

// MaxBatch bounds how many bucket ids go into a single store call. Long
// ranges are read in several calls so they stay under driver parameter
// limits.
const MaxBatch = 1000

func batches(ids []string, fn func([]string) error) error {
	for len(ids) > 0 {
		n := min(len(ids), MaxBatch)
		if err := fn(ids[:n]); err != nil {
			return err
		}
		ids = ids[n:]
	}
	return nil
}

// Sum totals the counters of ids on s, reading at most MaxBatch ids per call.
func Sum(ctx context.Context, s Store, ids []string) (int64, error) {
	var total int64
	err := batches(ids, func(chunk []string) error {
		n, err := s.SumBuckets(ctx, chunk)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// Counts returns the stored count of each id on s that has a counter,
// reading at most MaxBatch ids per call.
func Counts(ctx context.Context, s Store, ids []string) (map[string]int64, error) {
	out := make(map[string]int64, len(ids))
	err := batches(ids, func(chunk []string) error {
		counts, err := s.BucketCounts(ctx, chunk)
		if err != nil {
			return err
		}
		for id, n := range counts {
			out[id] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
