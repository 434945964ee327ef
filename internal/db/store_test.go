package db_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"loginsight/internal/bucket"
	"loginsight/internal/db"
	"loginsight/internal/testutil"
)

var t0 = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func TestIncrementBucketConcurrent(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	addr, err := bucket.For("p1", t0.Add(2*time.Minute), 5)
	require.NoError(t, err)

	const k = 50
	var wg sync.WaitGroup
	errs := make(chan error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.IncrementBucket(ctx, "p1", addr)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	total, err := store.SumBuckets(ctx, []string{addr.ID})
	require.NoError(t, err)
	require.Equal(t, int64(k), total)

	rows, err := store.Buckets(ctx, []string{addr.ID})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "p1_20240101_1000", rows[0].ID)
	require.True(t, rows[0].WindowEnd.Sub(rows[0].WindowStart) == 5*time.Minute)
}

func TestSumBucketsMissing(t *testing.T) {
	store := testutil.NewTestStore(t)

	total, err := store.SumBuckets(context.Background(), []string{"nope_20240101_1000"})
	require.NoError(t, err)
	require.Zero(t, total)

	total, err = store.SumBuckets(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, total)
}

func seedEvent(t *testing.T, store *db.Store, id, keyType, msg string, ts time.Time, meta map[string]any) {
	t.Helper()
	e := &db.Event{
		ID:        id,
		ProjectID: "p1",
		KeyID:     "k1",
		KeyType:   keyType,
		Message:   msg,
		Timestamp: ts,
		Meta:      datatypes.JSONMap(meta),
	}
	require.NoError(t, store.InsertEvent(context.Background(), e))
}

func TestListEventsOrderingAndFilters(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	seedEvent(t, store, "b", db.KeyTypeProd, "Payment FAILED", t0.Add(time.Minute), nil)
	seedEvent(t, store, "a", db.KeyTypeProd, "payment ok", t0.Add(time.Minute), nil)
	seedEvent(t, store, "c", db.KeyTypeTest, "login", t0.Add(2*time.Minute), map[string]any{"gateway": "Stripe"})
	seedEvent(t, store, "d", db.KeyTypeProd, "100% done", t0.Add(3*time.Minute), nil)
	seedEvent(t, store, "e", db.KeyTypeProd, "outside", t0.Add(time.Hour), nil)

	all, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour)})
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"d", "c", "a", "b"}, ids)

	testOnly, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour), KeyTypes: []string{db.KeyTypeTest}})
	require.NoError(t, err)
	require.Len(t, testOnly, 1)
	require.Equal(t, "c", testOnly[0].ID)

	search, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour), Search: "PAYMENT"})
	require.NoError(t, err)
	require.Len(t, search, 2)

	meta, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour), Search: "stripe"})
	require.NoError(t, err)
	require.Len(t, meta, 1)
	require.Equal(t, "c", meta[0].ID)

	literal, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour), Search: "0%"})
	require.NoError(t, err)
	require.Len(t, literal, 1)
	require.Equal(t, "d", literal[0].ID)

	limited, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: t0.Add(time.Hour), Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestListEventsSearchMatchesEscapedMeta(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	end := t0.Add(time.Hour)

	seedEvent(t, store, "html", db.KeyTypeProd, "query ran", t0.Add(time.Minute), map[string]any{"sql": "a<b && c>d"})
	seedEvent(t, store, "quoted", db.KeyTypeProd, "parse error", t0.Add(2*time.Minute), map[string]any{"input": `say "hi" \ bye`})
	seedEvent(t, store, "plain", db.KeyTypeProd, "a<b in message", t0.Add(3*time.Minute), nil)

	lt, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: end, Search: "a<b"})
	require.NoError(t, err)
	require.Len(t, lt, 2)
	require.Equal(t, "plain", lt[0].ID)
	require.Equal(t, "html", lt[1].ID)

	amp, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: end, Search: "&& C>D"})
	require.NoError(t, err)
	require.Len(t, amp, 1)
	require.Equal(t, "html", amp[0].ID)

	quoted, err := store.ListEvents(ctx, db.EventFilter{ProjectID: "p1", Start: t0, End: end, Search: `"hi" \`})
	require.NoError(t, err)
	require.Len(t, quoted, 1)
	require.Equal(t, "quoted", quoted[0].ID)
}

func newAlert(id string, start, end time.Time) *db.Alert {
	return &db.Alert{
		ID:          id,
		ProjectID:   "p1",
		Status:      db.AlertStatusPending,
		Message:     "threshold reached",
		EventCount:  100,
		WindowStart: start,
		WindowEnd:   end,
	}
}

func TestClaimAlertOverlap(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	created, err := store.ClaimAlert(ctx, newAlert("p1_20240101_1000", t0, t0.Add(10*time.Minute)))
	require.NoError(t, err)
	require.True(t, created)

	created, err = store.ClaimAlert(ctx, newAlert("p1_20240101_1005", t0.Add(5*time.Minute), t0.Add(15*time.Minute)))
	require.NoError(t, err)
	require.False(t, created)

	created, err = store.ClaimAlert(ctx, newAlert("p1_20240101_1010", t0.Add(10*time.Minute), t0.Add(20*time.Minute)))
	require.NoError(t, err)
	require.True(t, created)

	alerts, err := store.ListAlerts(ctx, "p1", "", 0)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "p1_20240101_1010", alerts[0].ID)
}

func TestClaimAlertConcurrent(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	type result struct {
		created bool
		err     error
	}

	const m = 20
	var wg sync.WaitGroup
	results := make(chan result, m)
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := t0.Add(time.Duration(i%3) * time.Minute)
			created, err := store.ClaimAlert(ctx, newAlert(bucketIDFor(start), start, start.Add(10*time.Minute)))
			results <- result{created: created, err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for r := range results {
		require.NoError(t, r.err)
		if r.created {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func bucketIDFor(ts time.Time) string {
	id, _ := bucket.ID("p1", ts, 1)
	return id
}

func TestAlertStatusOnlyMovesForward(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	a := newAlert("p1_20240101_1000", t0, t0.Add(10*time.Minute))
	created, err := store.ClaimAlert(ctx, a)
	require.NoError(t, err)
	require.True(t, created)

	claimedAt := t0.Add(11 * time.Minute)
	pending, err := store.ClaimPendingAlerts(ctx, claimedAt, time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.NotNil(t, pending[0].ClaimedUntil)

	again, err := store.ClaimPendingAlerts(ctx, claimedAt.Add(30*time.Second), time.Minute, 10)
	require.NoError(t, err)
	require.Empty(t, again)

	lapsed, err := store.ClaimPendingAlerts(ctx, claimedAt.Add(time.Minute), time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, lapsed, 1)

	ok, err := store.MarkAlertSent(ctx, a.ID, t0.Add(11*time.Minute), []string{"https://hooks.example.com/a"})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.MarkAlertFailed(ctx, a.ID, "late failure", nil)
	require.NoError(t, err)
	require.False(t, ok)

	alerts, err := store.ListAlerts(ctx, "p1", db.AlertStatusSent, 0)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].SentAt)
	require.Equal(t, []string{"https://hooks.example.com/a"}, []string(alerts[0].Recipients))
	require.Empty(t, alerts[0].Error)
}

func TestRotateAndRevokeAPIKey(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	old := &db.APIKey{ID: "k1", ProjectID: "p1", Name: "svc", Type: db.KeyTypeProd, TokenHash: db.HashToken("prod_a"), TokenPrefix: "prod_a", Status: db.KeyStatusActive}
	require.NoError(t, store.CreateAPIKey(ctx, old))

	next := &db.APIKey{ID: "k2", ProjectID: "p1", Name: "svc", Type: db.KeyTypeProd, TokenHash: db.HashToken("prod_b"), TokenPrefix: "prod_b", Status: db.KeyStatusActive}
	require.NoError(t, store.RotateAPIKey(ctx, "k1", next, t0))

	got, err := store.GetAPIKey(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, db.KeyStatusRevoked, got.Status)
	require.Equal(t, "k2", got.ReplacedBy)

	again := &db.APIKey{ID: "k3", ProjectID: "p1", Name: "svc", Type: db.KeyTypeProd, TokenHash: db.HashToken("prod_c"), TokenPrefix: "prod_c", Status: db.KeyStatusActive}
	require.ErrorIs(t, store.RotateAPIKey(ctx, "k1", again, t0), db.ErrNotFound)

	require.NoError(t, store.RevokeAPIKey(ctx, "k2", t0))
	require.NoError(t, store.RevokeAPIKey(ctx, "k2", t0))
	require.ErrorIs(t, store.RevokeAPIKey(ctx, "missing", t0), db.ErrNotFound)

	byHash, err := store.FindAPIKeyByHash(ctx, db.HashToken("prod_b"))
	require.NoError(t, err)
	require.False(t, byHash.Active())
}

func TestDeleteExpiredEvents(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()

	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)
	require.NoError(t, store.InsertEvent(ctx, &db.Event{ID: "old", ProjectID: "p1", KeyID: "k", KeyType: "prod", Message: "x", Timestamp: t0, ExpiresAt: &past}))
	require.NoError(t, store.InsertEvent(ctx, &db.Event{ID: "new", ProjectID: "p1", KeyID: "k", KeyType: "prod", Message: "y", Timestamp: t0, ExpiresAt: &future}))

	n, err := store.DeleteExpiredEvents(ctx, t0)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestSessionAndMembership(t *testing.T) {
	store := testutil.NewTestStore(t)
	ctx := context.Background()
	testutil.SeedProject(t, store, db.Project{ID: "p1"})
	testutil.SeedMember(t, store, "u1", "sess-1", "p1")

	user, err := store.UserForSession(ctx, db.HashToken("sess-1"), t0)
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)

	_, err = store.UserForSession(ctx, db.HashToken("sess-2"), t0)
	require.ErrorIs(t, err, db.ErrNotFound)

	ok, err := store.IsMember(ctx, "p1", "u1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.IsMember(ctx, "p2", "u1")
	require.NoError(t, err)
	require.False(t, ok)
}
