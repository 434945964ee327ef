// Package ingest persists log events and keeps their bucket counters in step.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"loginsight/internal/apperr"
	"loginsight/internal/bucket"
	"loginsight/internal/config"
	"loginsight/internal/counter"
	"loginsight/internal/db"
	"loginsight/internal/metrics"
)

// Store is what the writer needs from the event store.
type Store interface {
	GetProject(ctx context.Context, id string) (*db.Project, error)
	InsertEvent(ctx context.Context, e *db.Event) error
}

// Trigger schedules a threshold evaluation for a project.
type Trigger interface {
	Trigger(ctx context.Context, projectID string) error
}

// Record is one event as accepted from a client. A zero Timestamp means
// "now".
type Record struct {
	ProjectID string
	KeyID     string
	KeyType   string

	Message   string
	UserID    string
	Meta      map[string]any
	Timestamp time.Time

	RemoteIP  string
	UserAgent string
}

type Writer struct {
	store    Store
	counters counter.Store
	trigger  Trigger
	cfg      *config.Config
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *zap.Logger
}

func NewWriter(store Store, counters counter.Store, trigger Trigger, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) *Writer {
	return &Writer{
		store:    store,
		counters: counters,
		trigger:  trigger,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
		log:      log,
	}
}

// WithClock replaces the clock used for defaulted timestamps and retention.
func (w *Writer) WithClock(now func() time.Time) *Writer {
	w.now = now
	return w
}

func (w *Writer) validate(r *Record) error {
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return apperr.Validation("message is required")
	}
	if r.ProjectID == "" || r.KeyID == "" {
		return apperr.Validation("event has no owning project or key")
	}
	if len(r.Meta) > 0 && w.cfg.MaxMetaBytes > 0 {
		raw, err := json.Marshal(r.Meta)
		if err != nil {
			return apperr.Validation("meta is not serializable")
		}
		if len(raw) > w.cfg.MaxMetaBytes {
			return apperr.Validation(fmt.Sprintf("meta exceeds %d bytes", w.cfg.MaxMetaBytes))
		}
	}
	return nil
}

// Record writes the event, bumps its bucket counter and schedules an
// evaluation for the project. A failed trigger is logged and otherwise
// ignored: the event is already durable.
func (w *Writer) Record(ctx context.Context, r Record) (string, error) {
	if err := w.validate(&r); err != nil {
		return "", err
	}

	project, err := w.store.GetProject(ctx, r.ProjectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return "", apperr.NotFound("project not found")
		}
		return "", err
	}

	ts := r.Timestamp
	if ts.IsZero() {
		ts = w.now()
	}
	ts = ts.UTC()

	addr, err := bucket.For(project.ID, ts, project.BucketWidth(w.cfg.BucketWidthMinutes))
	if err != nil {
		return "", apperr.Validation(err.Error())
	}

	var expiresAt *time.Time
	if days := project.Retention(w.cfg.RetentionDays); days > 0 {
		t := w.now().UTC().Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &t
	}

	ev := &db.Event{
		ID:        uuid.NewString(),
		ProjectID: project.ID,
		Timestamp: ts,
		KeyID:     r.KeyID,
		KeyType:   r.KeyType,
		Message:   r.Message,
		UserID:    r.UserID,
		RemoteIP:  r.RemoteIP,
		UserAgent: r.UserAgent,
		ExpiresAt: expiresAt,
	}
	if len(r.Meta) > 0 {
		ev.Meta = datatypes.JSONMap(r.Meta)
	}

	if err := w.store.InsertEvent(ctx, ev); err != nil {
		return "", err
	}
	w.metrics.EventsIngested.WithLabelValues(project.ID, r.KeyType).Inc()

	if err := w.counters.IncrementBucket(ctx, project.ID, addr); err != nil {
		w.log.Error("bucket increment failed",
			zap.String("project", project.ID),
			zap.String("bucket", addr.ID),
			zap.String("event_id", ev.ID),
			zap.Error(err))
		return "", err
	}
	w.metrics.BucketIncrements.WithLabelValues(w.cfg.CounterBackend).Inc()

	if w.trigger != nil {
		if err := w.trigger.Trigger(ctx, project.ID); err != nil {
			w.log.Warn("alert evaluation not scheduled",
				zap.String("project", project.ID),
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}

	return ev.ID, nil
}
