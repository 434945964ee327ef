// Package alert evaluates rolling-window thresholds and hands the
// resulting alerts to a notifier.
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"loginsight/internal/apperr"
	"loginsight/internal/bucket"
	"loginsight/internal/counter"
	"loginsight/internal/db"
	"loginsight/internal/metrics"
)

// Store is the slice of the store the evaluator needs.
type Store interface {
	GetProject(ctx context.Context, id string) (*db.Project, error)
	ClaimAlert(ctx context.Context, a *db.Alert) (bool, error)
}

// Evaluator opens at most one alert per breach episode. An episode owns
// the bucket-aligned window it was detected in; a new alert can only be
// opened once the trailing window starts at or after the previous alert's
// window end.
type Evaluator struct {
	store        Store
	counters     counter.Store
	defaultWidth int
	metrics      *metrics.Metrics
	now          func() time.Time
	log          *zap.Logger
}

func NewEvaluator(store Store, counters counter.Store, defaultWidth int, m *metrics.Metrics, log *zap.Logger) *Evaluator {
	return &Evaluator{
		store:        store,
		counters:     counters,
		defaultWidth: defaultWidth,
		metrics:      m,
		now:          time.Now,
		log:          log,
	}
}

func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate sums the project's counters over [at-window, at) and claims an
// alert when the sum reaches the threshold. It returns the alert it
// created, or nil when nothing was opened.
func (e *Evaluator) Evaluate(ctx context.Context, projectID string, at time.Time) (*db.Alert, error) {
	p, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("project not found")
		}
		return nil, err
	}
	if !p.AlertingEnabled() {
		return nil, nil
	}

	at = at.UTC()
	window := time.Duration(p.AlertWindowMinutes) * time.Minute
	addrs, err := bucket.Covering(p.ID, at.Add(-window), at, p.BucketWidth(e.defaultWidth))
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if len(addrs) == 0 {
		return nil, nil
	}

	sum, err := counter.Sum(ctx, e.counters, bucket.IDs(addrs))
	if err != nil {
		return nil, err
	}
	if sum < int64(p.AlertThresholdCount) {
		return nil, nil
	}

	first, last := addrs[0], addrs[len(addrs)-1]
	a := &db.Alert{
		ID:          first.ID,
		ProjectID:   p.ID,
		Status:      db.AlertStatusPending,
		Message:     fmt.Sprintf("%d events in the last %d minutes (threshold %d)", sum, p.AlertWindowMinutes, p.AlertThresholdCount),
		EventCount:  sum,
		WindowStart: first.Start,
		WindowEnd:   last.End,
	}
	created, err := e.store.ClaimAlert(ctx, a)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, nil
	}

	e.metrics.AlertsCreated.WithLabelValues(p.ID).Inc()
	e.log.Info("alert opened",
		zap.String("project", p.ID),
		zap.String("alert_id", a.ID),
		zap.Int64("event_count", sum),
		zap.Time("window_start", a.WindowStart),
		zap.Time("window_end", a.WindowEnd))
	return a, nil
}

// Trigger evaluates projectID at the current time.
func (e *Evaluator) Trigger(ctx context.Context, projectID string) error {
	_, err := e.Evaluate(ctx, projectID, e.now())
	if err != nil {
		e.metrics.EvaluationErrors.Inc()
	}
	return err
}
