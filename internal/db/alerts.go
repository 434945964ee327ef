package db

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimAlert creates a pending alert unless an earlier alert for the same
// project still owns a window overlapping a's window. The guard row is
// advanced with a conditional update inside the same transaction, so of
// several concurrent claims for overlapping windows exactly one succeeds.
func (s *Store) ClaimAlert(ctx context.Context, a *Alert) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		guard := AlertGuard{ProjectID: a.ProjectID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&guard).Error; err != nil {
			return err
		}

		res := tx.Model(&AlertGuard{}).
			Where("project_id = ? AND window_end <= ?", a.ProjectID, a.WindowStart).
			Updates(map[string]any{"window_start": a.WindowStart, "window_end": a.WindowEnd})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		ins := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(a)
		if ins.Error != nil {
			return ins.Error
		}
		created = ins.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, s.wrap("claim alert", err)
	}
	return created, nil
}

// ListAlerts returns a project's alerts newest first, optionally filtered
// by status.
func (s *Store) ListAlerts(ctx context.Context, projectID, status string, limit int) ([]Alert, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := s.db.WithContext(ctx).Where("project_id = ?", projectID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var alerts []Alert
	if err := q.Order("window_start DESC").Find(&alerts).Error; err != nil {
		return nil, s.wrap("list alerts", err)
	}
	return alerts, nil
}

// ClaimPendingAlerts leases up to limit pending alerts, oldest first, until
// now+lease. Alerts whose lease has not lapsed are skipped. Each lease is
// taken with a conditional update, so concurrent dispatchers never hold the
// same alert at once.
func (s *Store) ClaimPendingAlerts(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Alert, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	now = now.UTC()
	claimable := func(q *gorm.DB) *gorm.DB {
		return q.Where("status = ? AND (claimed_until IS NULL OR claimed_until <= ?)", AlertStatusPending, now)
	}

	var candidates []Alert
	err := claimable(s.db.WithContext(ctx)).
		Order("created_at").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, s.wrap("list pending alerts", err)
	}

	until := now.Add(lease)
	claimed := candidates[:0]
	for _, a := range candidates {
		res := claimable(s.db.WithContext(ctx).Model(&Alert{}).Where("id = ?", a.ID)).
			Update("claimed_until", until)
		if res.Error != nil {
			return nil, s.wrap("claim alert delivery", res.Error)
		}
		if res.RowsAffected == 1 {
			a.ClaimedUntil = &until
			claimed = append(claimed, a)
		}
	}
	return claimed, nil
}

// MarkAlertSent moves a pending alert to sent. It returns false when the
// alert already left the pending state.
func (s *Store) MarkAlertSent(ctx context.Context, id string, at time.Time, recipients []string) (bool, error) {
	return s.finishAlert(ctx, id, map[string]any{
		"status":     AlertStatusSent,
		"sent_at":    at.UTC(),
		"recipients": datatypes.NewJSONSlice(recipients),
	})
}

// MarkAlertFailed moves a pending alert to failed and records the error.
func (s *Store) MarkAlertFailed(ctx context.Context, id string, reason string, recipients []string) (bool, error) {
	return s.finishAlert(ctx, id, map[string]any{
		"status":     AlertStatusFailed,
		"error":      reason,
		"recipients": datatypes.NewJSONSlice(recipients),
	})
}

func (s *Store) finishAlert(ctx context.Context, id string, updates map[string]any) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&Alert{}).
		Where("id = ? AND status = ?", id, AlertStatusPending).
		Updates(updates)
	if res.Error != nil {
		return false, s.wrap("update alert", res.Error)
	}
	return res.RowsAffected == 1, nil
}
