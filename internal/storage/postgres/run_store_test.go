package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pt-crawler/internal/crawler"
)

func newMockRunStore(t *testing.T) (pgxmock.PgxPoolIface, *RunStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewRunStore(mock)
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	return mock, store
}

func TestRunStoreCreate(t *testing.T) {
	t.Parallel()
	mock, store := newMockRunStore(t)
	submitted := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", "hdsky-daily", "api", "queued", submitted).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.CreateRun(context.Background(), crawler.Run{
		ID:        "run-1",
		Task:      "hdsky-daily",
		Trigger:   "api",
		Status:    crawler.RunStatusQueued,
		Submitted: submitted,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateTerminal(t *testing.T) {
	t.Parallel()
	mock, store := newMockRunStore(t)
	mock.ExpectExec("UPDATE crawl_runs SET").
		WithArgs("run-1", "succeeded", "", 3, 1, 0, 2, true, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.UpdateRun(context.Background(), "run-1", crawler.RunStatusSucceeded, "",
		crawler.Summary{Created: 3, Skipped: 1, Pages: 2, StoppedOnSeen: true})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreUpdateUnknown(t *testing.T) {
	t.Parallel()
	mock, store := newMockRunStore(t)

	mock.ExpectExec("UPDATE crawl_runs SET").WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateRun(context.Background(), "missing", crawler.RunStatusRunning, "", crawler.Summary{})
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestRunStoreGetMissing(t *testing.T) {
	t.Parallel()
	mock, store := newMockRunStore(t)

	mock.ExpectQuery("SELECT id, task, trigger").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRun(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrRunNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}
