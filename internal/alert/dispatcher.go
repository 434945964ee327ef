package alert

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"loginsight/internal/db"
	"loginsight/internal/metrics"
)

// Notifier delivers one alert to a project's targets and reports who
// received it.
type Notifier interface {
	Notify(ctx context.Context, a *db.Alert, p *db.Project) ([]string, error)
}

// DeliveryStore is what the dispatcher reads and updates.
type DeliveryStore interface {
	GetProject(ctx context.Context, id string) (*db.Project, error)
	ClaimPendingAlerts(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]db.Alert, error)
	MarkAlertSent(ctx context.Context, id string, at time.Time, recipients []string) (bool, error)
	MarkAlertFailed(ctx context.Context, id string, reason string, recipients []string) (bool, error)
}

const (
	dispatchBatch = 50
	leaseMargin   = 30 * time.Second
)

// Dispatcher moves pending alerts to sent or failed. A failed delivery is
// recorded on the alert and not retried. Alerts are leased before delivery,
// so dispatchers on several instances never notify the same alert twice
// while its lease holds. A dispatcher that dies mid-batch releases its
// alerts when the lease lapses.
type Dispatcher struct {
	store    DeliveryStore
	notifier Notifier
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *zap.Logger
}

func NewDispatcher(store DeliveryStore, notifier Notifier, interval, timeout time.Duration, m *metrics.Metrics, log *zap.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		store:    store,
		notifier: notifier,
		interval: interval,
		timeout:  timeout,
		metrics:  m,
		now:      time.Now,
		log:      log,
	}
}

// Run dispatches on every tick until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.log.Error("alert dispatch failed", zap.Error(err))
			}
		}
	}
}

// DispatchOnce delivers up to one batch of pending alerts and returns how
// many reached a terminal state.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.store.ClaimPendingAlerts(ctx, d.now(), d.lease(), dispatchBatch)
	if err != nil {
		return 0, err
	}

	done := 0
	for i := range pending {
		a := &pending[i]
		finished, err := d.deliver(ctx, a)
		if err != nil {
			d.log.Error("alert status update failed", zap.String("alert_id", a.ID), zap.Error(err))
			continue
		}
		if finished {
			done++
		}
	}
	return done, nil
}

// lease covers a full batch of deliveries that each run into the timeout.
func (d *Dispatcher) lease() time.Duration {
	return dispatchBatch*d.timeout + leaseMargin
}

func (d *Dispatcher) deliver(ctx context.Context, a *db.Alert) (bool, error) {
	zapLog := d.log.With(zap.String("project", a.ProjectID), zap.String("alert_id", a.ID))

	p, err := d.store.GetProject(ctx, a.ProjectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			d.metrics.AlertDeliveries.WithLabelValues(db.AlertStatusFailed).Inc()
			return d.store.MarkAlertFailed(ctx, a.ID, "project not found", nil)
		}
		return false, err
	}

	nctx, cancel := context.WithTimeout(ctx, d.timeout)
	recipients, sendErr := d.notifier.Notify(nctx, a, p)
	cancel()

	if sendErr != nil {
		zapLog.Warn("alert delivery failed", zap.Strings("recipients", recipients), zap.Error(sendErr))
		d.metrics.AlertDeliveries.WithLabelValues(db.AlertStatusFailed).Inc()
		return d.store.MarkAlertFailed(ctx, a.ID, sendErr.Error(), recipients)
	}

	zapLog.Info("alert delivered", zap.Strings("recipients", recipients))
	d.metrics.AlertDeliveries.WithLabelValues(db.AlertStatusSent).Inc()
	return d.store.MarkAlertSent(ctx, a.ID, d.now(), recipients)
}
