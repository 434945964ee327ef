package db

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"loginsight/internal/bucket"
)

// IncrementBucket adds one to the counter at addr, creating it on first use.
// The insert-or-increment is a single statement, so concurrent writers to the
// same bucket never lose updates.
func (s *Store) IncrementBucket(ctx context.Context, projectID string, addr bucket.Address) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	row := BucketCounter{
		ID:          addr.ID,
		ProjectID:   projectID,
		WindowStart: addr.Start,
		WindowEnd:   addr.End,
		EventCount:  1,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{"event_count": gorm.Expr("bucket_counters.event_count + ?", 1)}),
	}).Create(&row).Error
	return s.wrap("increment bucket", err)
}

// SumBuckets returns the total count across the given bucket ids. Missing
// buckets count as zero.
func (s *Store) SumBuckets(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var total int64
	err := s.db.WithContext(ctx).Model(&BucketCounter{}).
		Where("id IN ?", ids).
		Select("COALESCE(SUM(event_count), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, s.wrap("sum buckets", err)
	}
	return total, nil
}

// Buckets returns the stored counters for ids, ordered by window start.
func (s *Store) Buckets(ctx context.Context, ids []string) ([]BucketCounter, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rows []BucketCounter
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("window_start").Find(&rows).Error; err != nil {
		return nil, s.wrap("list buckets", err)
	}
	return rows, nil
}

// BucketCounts returns the stored count for each id that has a counter.
func (s *Store) BucketCounts(ctx context.Context, ids []string) (map[string]int64, error) {
	rows, err := s.Buckets(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.ID] = r.EventCount
	}
	return out, nil
}
