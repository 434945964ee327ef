// Package query answers count and listing questions over a project's events.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"loginsight/internal/apperr"
	"loginsight/internal/bucket"
	"loginsight/internal/counter"
	"loginsight/internal/db"
)

// Source is the raw-event side of the store.
type Source interface {
	GetProject(ctx context.Context, id string) (*db.Project, error)
	ListEvents(ctx context.Context, f db.EventFilter) ([]db.Event, error)
}

// Filters narrows a listing. Types holds key types (test, prod); Search is
// a case-insensitive substring of the message or meta.
type Filters struct {
	Types  []string
	Search string
}

type Result struct {
	Events []db.Event

	// BucketCount is the bucket-derived count for the whole range. Edge
	// buckets are counted in full, so it can exceed the exact event count
	// for ranges not aligned to bucket boundaries.
	BucketCount int64

	// Limit is the page cap in force; Truncated is set when more events
	// matched than were returned.
	Limit     int
	Truncated bool
}

type Engine struct {
	source       Source
	counters     counter.Store
	defaultWidth int
	maxPageSize  int
}

func NewEngine(source Source, counters counter.Store, defaultWidth, maxPageSize int) *Engine {
	if maxPageSize <= 0 {
		maxPageSize = 500
	}
	return &Engine{source: source, counters: counters, defaultWidth: defaultWidth, maxPageSize: maxPageSize}
}

func (e *Engine) project(ctx context.Context, projectID string) (*db.Project, error) {
	p, err := e.source.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.NotFound("project not found")
		}
		return nil, err
	}
	return p, nil
}

func checkRange(start, end time.Time) error {
	if end.Before(start) {
		return apperr.Validation("end must not be before start")
	}
	return nil
}

// maxCountBuckets bounds how many buckets a count may span: a year of
// five-minute buckets, or about three months of one-minute buckets.
const maxCountBuckets = 1 << 17

// width returns the project's bucket width after checking that [start, end)
// spans fewer than limit buckets. The check runs before any bucket is
// materialized.
func (e *Engine) width(p *db.Project, start, end time.Time, limit int) (int, error) {
	w := p.BucketWidth(e.defaultWidth)
	if err := bucket.Validate(w); err != nil {
		return 0, apperr.Validation(err.Error())
	}
	if end.Sub(start)/(time.Duration(w)*time.Minute) >= time.Duration(limit-1) {
		return 0, apperr.Validation(fmt.Sprintf("range spans more than %d buckets", limit))
	}
	return w, nil
}

func (e *Engine) count(ctx context.Context, p *db.Project, start, end time.Time) (int64, error) {
	w, err := e.width(p, start, end, maxCountBuckets)
	if err != nil {
		return 0, err
	}
	addrs, err := bucket.Covering(p.ID, start, end, w)
	if err != nil {
		return 0, apperr.Validation(err.Error())
	}
	return counter.Sum(ctx, e.counters, bucket.IDs(addrs))
}

// Count sums the counters of every bucket intersecting [start, end).
func (e *Engine) Count(ctx context.Context, projectID string, start, end time.Time) (int64, error) {
	if err := checkRange(start, end); err != nil {
		return 0, err
	}
	p, err := e.project(ctx, projectID)
	if err != nil {
		return 0, err
	}
	return e.count(ctx, p, start, end)
}

// Query lists raw events in [start, end), newest first with ties broken by
// id, and computes the bucket count for the range alongside. Results past
// the page cap are dropped and reported through Truncated.
func (e *Engine) Query(ctx context.Context, projectID string, start, end time.Time, f Filters) (*Result, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	types, err := normalizeTypes(f.Types)
	if err != nil {
		return nil, err
	}
	p, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if _, err := e.width(p, start, end, maxCountBuckets); err != nil {
		return nil, err
	}

	res := &Result{Limit: e.maxPageSize}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := e.source.ListEvents(gctx, db.EventFilter{
			ProjectID: p.ID,
			Start:     start,
			End:       end,
			KeyTypes:  types,
			Search:    strings.TrimSpace(f.Search),
			Limit:     e.maxPageSize + 1,
		})
		if err != nil {
			return err
		}
		if len(events) > e.maxPageSize {
			events = events[:e.maxPageSize]
			res.Truncated = true
		}
		res.Events = events
		return nil
	})
	g.Go(func() error {
		n, err := e.count(gctx, p, start, end)
		if err != nil {
			return err
		}
		res.BucketCount = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

func normalizeTypes(in []string) ([]string, error) {
	var out []string
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		switch t {
		case "":
		case db.KeyTypeTest, db.KeyTypeProd:
			out = append(out, t)
		default:
			return nil, apperr.Validation(fmt.Sprintf("unknown event type %q", t))
		}
	}
	return out, nil
}

// maxSeriesPoints bounds how many buckets a single series may span: a week
// of one-minute buckets, or a default retention period of five-minute ones.
const maxSeriesPoints = 7 * 24 * 60

// Point is one bucket of a count series.
type Point struct {
	Bucket string    `json:"bucket"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Count  int64     `json:"count"`
}

// Series returns one point per bucket from the bucket holding start up to
// the bucket holding end, with zero counts for buckets never written.
func (e *Engine) Series(ctx context.Context, projectID string, start, end time.Time) ([]Point, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	p, err := e.project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	w, err := e.width(p, start, end, maxSeriesPoints)
	if err != nil {
		return nil, err
	}
	addrs, err := bucket.Range(p.ID, start, end, w)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if len(addrs) > maxSeriesPoints {
		return nil, apperr.Validation(fmt.Sprintf("range spans more than %d buckets", maxSeriesPoints))
	}
	counts, err := counter.Counts(ctx, e.counters, bucket.IDs(addrs))
	if err != nil {
		return nil, err
	}

	points := make([]Point, len(addrs))
	for i, a := range addrs {
		points[i] = Point{Bucket: a.ID, Start: a.Start, End: a.End, Count: counts[a.ID]}
	}
	return points, nil
}
