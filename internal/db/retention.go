package db

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DeleteExpiredEvents removes every event whose ExpiresAt is at or before
// now. Bucket counters are left untouched.
func (s *Store) DeleteExpiredEvents(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Where("expires_at IS NOT NULL AND expires_at <= ?", now.UTC()).Delete(&Event{})
	if res.Error != nil {
		return 0, s.wrap("delete expired events", res.Error)
	}
	return res.RowsAffected, nil
}

// StartRetentionWorker launches a background goroutine that runs the
// retention cleanup once at startup and then once per day until ctx ends.
func StartRetentionWorker(ctx context.Context, s *Store, log *zap.Logger) {
	go func() {
		run := func() {
			n, err := s.DeleteExpiredEvents(ctx, time.Now())
			if err != nil {
				log.Error("retention cleanup failed", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("retention cleanup removed events", zap.Int64("deleted", n))
			}
		}
		run()

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
