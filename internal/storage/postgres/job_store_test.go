package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/places-search/internal/search"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

var rowColumns = []string{"id", "owner_id", "query", "location", "status", "result", "error", "created_at", "updated_at"}

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Unix(1700000000, 0).UTC()
	store, err := NewJobStoreWithPool(mock, fixedClock{now: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestCreateInsertsPendingRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	job := search.Job{
		ID:        "job-1",
		OwnerID:   "user-1",
		Query:     "coffee",
		Location:  search.LocationSpec{PlaceName: "Austin"},
		Status:    search.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO search_jobs").
		WithArgs("job-1", "user-1", "coffee", []byte(`{"place_name":"Austin"}`), "pending", now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRejectsNonPending(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	err := store.Create(context.Background(), search.Job{ID: "job-1", Status: search.StatusProcessing})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetScopesByOwner(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	rows := mock.NewRows(rowColumns).AddRow(
		"job-1",
		"user-1",
		"coffee",
		[]byte(`{"coordinates":{"lat":40.7128,"lng":-74.006}}`),
		"completed",
		[]byte(`{"query":"coffee","location":"Custom Coordinates","center":{"lat":40.7128,"lng":-74.006},"results":[],"count":0}`),
		"",
		now,
		now,
	)
	mock.ExpectQuery("SELECT (.+) FROM search_jobs WHERE id").
		WithArgs("job-1", "user-1").
		WillReturnRows(rows)

	job, err := store.Get(context.Background(), "job-1", "user-1")
	require.NoError(t, err)
	require.Equal(t, search.StatusCompleted, job.Status)
	require.NotNil(t, job.Location.Coordinates)
	require.InDelta(t, 40.7128, job.Location.Coordinates.Lat, 1e-9)
	require.NotNil(t, job.Result)
	require.Equal(t, search.CustomCoordinatesLabel, job.Result.Location)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM search_jobs WHERE id").
		WithArgs("job-1", "mallory").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "job-1", "mallory")
	require.ErrorIs(t, err, search.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNullResultDecodesToNil(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	rows := mock.NewRows(rowColumns).AddRow(
		"job-2", "user-1", "tea", []byte(`{"place_name":"Paris"}`), "pending", []byte("null"), "", now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM search_jobs WHERE id").WithArgs("job-2", "user-1").WillReturnRows(rows)

	job, err := store.Get(context.Background(), "job-2", "user-1")
	require.NoError(t, err)
	require.Nil(t, job.Result)
	require.Equal(t, "Paris", job.Location.PlaceName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOnePending(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	rows := mock.NewRows(rowColumns).AddRow(
		"job-1", "user-1", "coffee", []byte(`{"place_name":"Austin"}`), "processing", []byte("null"), "", now, now,
	)
	mock.ExpectQuery("UPDATE search_jobs SET status = 'processing'").
		WithArgs(now).
		WillReturnRows(rows)

	job, ok, err := store.ClaimOnePending(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, search.StatusProcessing, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOnePendingEmpty(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("UPDATE search_jobs SET status = 'processing'").
		WithArgs(now).
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.ClaimOnePending(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimOnePendingPropagatesErrors(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectQuery("UPDATE search_jobs SET status = 'processing'").
		WithArgs(now).
		WillReturnError(errors.New("connection reset"))

	_, _, err := store.ClaimOnePending(context.Background())
	require.ErrorContains(t, err, "claim pending job")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimStatementIsAtomic(t *testing.T) {
	t.Parallel()

	require.Contains(t, claimJobSQL, "FOR UPDATE SKIP LOCKED")
	require.Contains(t, claimJobSQL, "ORDER BY created_at, seq")
	require.True(t, strings.HasPrefix(claimJobSQL, "UPDATE"), "claim must be a single UPDATE statement")
	require.Contains(t, completeJobSQL, "status = 'processing'")
}

func TestCompleteWritesOutcome(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	payload := search.ResultPayload{Query: "coffee", Location: "Austin, TX", Results: []search.Listing{}, Count: 0}
	mock.ExpectExec(`UPDATE search_jobs SET status = \$2`).
		WithArgs(
			"job-1",
			"completed",
			[]byte(`{"query":"coffee","location":"Austin, TX","center":{"lat":0,"lng":0},"results":[],"count":0}`),
			"",
			now,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.Complete(context.Background(), "job-1", search.Succeeded(payload)))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteTerminalRowIsNoop(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	mock.ExpectExec(`UPDATE search_jobs SET status = \$2`).
		WithArgs("job-1", "failed", pgxmock.AnyArg(), "scrape failed", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Complete(context.Background(), "job-1", search.Failed(errors.New("scrape failed"))))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteRejectsInvalidOutcome(t *testing.T) {
	t.Parallel()

	store, mock, _ := newMockStore(t)
	err := store.Complete(context.Background(), "job-1", search.Outcome{Status: search.StatusPending})
	require.ErrorIs(t, err, search.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailStale(t *testing.T) {
	t.Parallel()

	store, mock, now := newMockStore(t)
	cutoff := now.Add(-time.Hour)
	mock.ExpectExec("UPDATE search_jobs SET status = 'failed'").
		WithArgs("abandoned", now, cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := store.FailStale(context.Background(), cutoff, "abandoned")
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewJobStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, nil)
	require.Error(t, err)
}
