package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"loginsight/internal/apperr"
	"loginsight/internal/config"
	"loginsight/internal/db"
	"loginsight/internal/ingest"
	"loginsight/internal/metrics"
	"loginsight/internal/query"
	"loginsight/internal/testutil"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func seed(t *testing.T) (*db.Store, *ingest.Writer) {
	t.Helper()
	store := testutil.NewTestStore(t)
	testutil.SeedProject(t, store, db.Project{ID: "p1"})
	cfg := &config.Config{BucketWidthMinutes: 5, RetentionDays: 30, CounterBackend: "db"}
	w := ingest.NewWriter(store, store, nil, cfg, metrics.New(nil), zap.NewNop())
	return store, w
}

func write(t *testing.T, w *ingest.Writer, keyType, msg string, ts time.Time) {
	t.Helper()
	_, err := w.Record(context.Background(), ingest.Record{
		ProjectID: "p1", KeyID: "k-" + keyType, KeyType: keyType, Message: msg, Timestamp: ts,
	})
	require.NoError(t, err)
}

func TestCountMatchesEventsOverWholeBuckets(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()

	offsets := []time.Duration{0, 30 * time.Second, 4*time.Minute + 59*time.Second, 5 * time.Minute, 7 * time.Minute, 12 * time.Minute, 14*time.Minute + 59*time.Second, 15 * time.Minute}
	for i, off := range offsets {
		write(t, w, db.KeyTypeProd, fmt.Sprintf("event %d", i), t0.Add(off))
	}

	engine := query.NewEngine(store, store, 5, 100)
	start, end := t0, t0.Add(15*time.Minute)

	count, err := engine.Count(ctx, "p1", start, end)
	require.NoError(t, err)

	res, err := engine.Query(ctx, "p1", start, end, query.Filters{})
	require.NoError(t, err)
	require.Equal(t, int64(len(res.Events)), count)
	require.Equal(t, int64(7), count)
	require.Equal(t, count, res.BucketCount)
}

func TestCountIncludesEdgeBucketsInFull(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()

	write(t, w, db.KeyTypeProd, "early", t0.Add(time.Minute))
	write(t, w, db.KeyTypeProd, "inside", t0.Add(3*time.Minute))
	write(t, w, db.KeyTypeProd, "late", t0.Add(6*time.Minute))

	engine := query.NewEngine(store, store, 5, 100)
	start, end := t0.Add(2*time.Minute), t0.Add(5*time.Minute)

	count, err := engine.Count(ctx, "p1", start, end)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	res, err := engine.Query(ctx, "p1", start, end, query.Filters{})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.GreaterOrEqual(t, count, int64(len(res.Events)))
}

func TestQueryFiltersAndOrdering(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()

	write(t, w, db.KeyTypeProd, "Checkout timeout", t0.Add(time.Minute))
	write(t, w, db.KeyTypeTest, "checkout ok", t0.Add(2*time.Minute))
	write(t, w, db.KeyTypeProd, "login", t0.Add(3*time.Minute))

	engine := query.NewEngine(store, store, 5, 100)
	end := t0.Add(10 * time.Minute)

	res, err := engine.Query(ctx, "p1", t0, end, query.Filters{})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	require.Equal(t, "login", res.Events[0].Message)
	require.Equal(t, "Checkout timeout", res.Events[2].Message)

	res, err = engine.Query(ctx, "p1", t0, end, query.Filters{Search: "CHECKOUT"})
	require.NoError(t, err)
	require.Len(t, res.Events, 2)

	res, err = engine.Query(ctx, "p1", t0, end, query.Filters{Types: []string{"PROD"}, Search: "checkout"})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	require.Equal(t, "Checkout timeout", res.Events[0].Message)

	again, err := engine.Query(ctx, "p1", t0, end, query.Filters{Types: []string{"prod"}, Search: "checkout"})
	require.NoError(t, err)
	require.Equal(t, res.Events[0].ID, again.Events[0].ID)
}

func TestQueryTruncatesAtPageSize(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		write(t, w, db.KeyTypeProd, fmt.Sprintf("e%d", i), t0.Add(time.Duration(i)*time.Second))
	}

	engine := query.NewEngine(store, store, 5, 3)
	res, err := engine.Query(ctx, "p1", t0, t0.Add(time.Hour), query.Filters{})
	require.NoError(t, err)
	require.Len(t, res.Events, 3)
	require.True(t, res.Truncated)
	require.Equal(t, 3, res.Limit)
	require.Equal(t, int64(5), res.BucketCount)

	engine = query.NewEngine(store, store, 5, 5)
	res, err = engine.Query(ctx, "p1", t0, t0.Add(time.Hour), query.Filters{})
	require.NoError(t, err)
	require.Len(t, res.Events, 5)
	require.False(t, res.Truncated)
}

func TestQueryErrors(t *testing.T) {
	store, _ := seed(t)
	ctx := context.Background()
	engine := query.NewEngine(store, store, 5, 100)

	_, err := engine.Query(ctx, "p1", t0, t0.Add(-time.Minute), query.Filters{})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = engine.Count(ctx, "p1", t0, t0.Add(-time.Minute))
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = engine.Query(ctx, "p1", t0, t0.Add(time.Hour), query.Filters{Types: []string{"staging"}})
	require.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = engine.Query(ctx, "ghost", t0, t0.Add(time.Hour), query.Filters{})
	require.True(t, apperr.Is(err, apperr.KindNotFound))

	count, err := engine.Count(ctx, "p1", t0, t0)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSeriesZeroFillsBuckets(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()

	write(t, w, db.KeyTypeProd, "a", t0.Add(time.Minute))
	write(t, w, db.KeyTypeProd, "b", t0.Add(2*time.Minute))
	write(t, w, db.KeyTypeTest, "c", t0.Add(11*time.Minute))

	engine := query.NewEngine(store, store, 5, 100)
	points, err := engine.Series(ctx, "p1", t0.Add(time.Minute), t0.Add(12*time.Minute))
	require.NoError(t, err)
	require.Len(t, points, 3)

	counts := make([]int64, len(points))
	for i, p := range points {
		counts[i] = p.Count
		if i > 0 {
			require.Equal(t, 5*time.Minute, p.Start.Sub(points[i-1].Start))
		}
	}
	require.Equal(t, []int64{2, 0, 1}, counts)
	require.Equal(t, "p1_20240101_1000", points[0].Bucket)
}

func TestLongRangesCountOrFailValidation(t *testing.T) {
	store, w := seed(t)
	ctx := context.Background()
	engine := query.NewEngine(store, store, 5, 100)

	write(t, w, db.KeyTypeProd, "old", t0.Add(-170*24*time.Hour))
	write(t, w, db.KeyTypeProd, "new", t0.Add(-time.Hour))

	start := t0.Add(-180 * 24 * time.Hour)
	count, err := engine.Count(ctx, "p1", start, t0)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	res, err := engine.Query(ctx, "p1", start, t0, query.Filters{})
	require.NoError(t, err)
	require.Equal(t, int64(2), res.BucketCount)
	require.Len(t, res.Events, 2)

	_, err = engine.Series(ctx, "p1", start, t0)
	require.True(t, apperr.Is(err, apperr.KindValidation), "%v", err)

	huge := t0.Add(-5 * 365 * 24 * time.Hour)
	_, err = engine.Count(ctx, "p1", huge, t0)
	require.True(t, apperr.Is(err, apperr.KindValidation), "%v", err)
	require.False(t, apperr.Retryable(err))

	_, err = engine.Query(ctx, "p1", time.Time{}, t0, query.Filters{})
	require.True(t, apperr.Is(err, apperr.KindValidation), "%v", err)
}
