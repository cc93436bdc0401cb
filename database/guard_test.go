package database

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syndika/backend/tenant"
)

func acquireGuard(t *testing.T, pool *Pool, mock sqlmock.Sqlmock) *TenantConn {
	t.Helper()
	tc, _, _ := testTenant(t)
	mock.ExpectExec(reSetContext).WillReturnResult(sqlmock.NewResult(0, 0))
	g, err := pool.Acquire(context.Background(), tc)
	require.NoError(t, err)
	return g
}

func TestReleaseIsIdempotent(t *testing.T) {
	pool, mock, _ := newTestPool(t)
	g := acquireGuard(t, pool, mock)

	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, g.Release(context.Background()))
	require.NoError(t, g.Release(context.Background()))
	require.NoError(t, g.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGuardPanicsAfterRelease(t *testing.T) {
	pool, mock, _ := newTestPool(t)
	g := acquireGuard(t, pool, mock)

	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, g.Release(context.Background()))

	assert.Panics(t, func() {
		_, _ = g.Query(context.Background(), "SELECT 1")
	})
}

func TestReleaseClearFailureSurfacesAndDiscards(t *testing.T) {
	pool, mock, rec := newTestPool(t)
	g := acquireGuard(t, pool, mock)

	boom := errors.New("clear failed")
	mock.ExpectExec(reClear).WillReturnError(boom)

	err := g.Release(context.Background())
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())

	warns := rec.EntriesAt("warn")
	require.NotEmpty(t, warns)
	assert.Contains(t, warns[0].Message, "Discarding connection")
}

func TestCloseWithoutReleaseRunsAsyncCleanup(t *testing.T) {
	pool, mock, rec := newTestPool(t)
	g := acquireGuard(t, pool, mock)

	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, g.Close())

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 2*time.Second, 10*time.Millisecond, "drop-path cleanup never cleared the context")

	warns := rec.EntriesAt("warn")
	require.NotEmpty(t, warns)
	assert.Contains(t, warns[0].Message, "without release")
}

func TestDropCleanupFailureLogsSecurityError(t *testing.T) {
	pool, mock, rec := newTestPool(t)
	g := acquireGuard(t, pool, mock)
	orgID := g.Tenant().OrgString()

	mock.ExpectExec(reClear).WillReturnError(errors.New("clear failed"))
	require.NoError(t, g.Close())

	require.Eventually(t, func() bool {
		return len(rec.EntriesAt("error")) > 0
	}, 2*time.Second, 10*time.Millisecond)

	entry := rec.EntriesAt("error")[0]
	assert.Contains(t, entry.Message, "SECURITY")
	assert.Equal(t, true, entry.Fields["security"])
	assert.Equal(t, orgID, entry.Fields["org_id"])
	assert.NotNil(t, entry.Err)
}

func TestFinalizerCatchesAbandonedGuard(t *testing.T) {
	pool, mock, rec := newTestPool(t)

	mock.ExpectExec(reSetContext).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))

	abandonGuard(t, pool)

	require.Eventually(t, func() bool {
		runtime.GC()
		return mock.ExpectationsWereMet() == nil
	}, 5*time.Second, 50*time.Millisecond, "finalizer never triggered the cleanup")

	require.Eventually(t, func() bool {
		return len(rec.EntriesAt("error")) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.EntriesAt("error")[0].Message, "leaked without release")
}

// abandonGuard acquires a guard and drops the only reference to it without
// Release or Close, in its own frame so nothing keeps it reachable.
func abandonGuard(t *testing.T, pool *Pool) {
	t.Helper()
	tc := tenant.New(uuid.New(), uuid.New(), tenant.RoleTenant)
	g, err := pool.Acquire(context.Background(), tc)
	require.NoError(t, err)
	_ = g
}

func TestGuardTransactionInheritsSession(t *testing.T) {
	pool, mock, _ := newTestPool(t)
	g := acquireGuard(t, pool, mock)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO work_orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := g.Begin(context.Background())
	require.NoError(t, err)
	_, err = tx.ExecContext(context.Background(), "INSERT INTO work_orders (title) VALUES ($1)", "fix lift")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NoError(t, g.Release(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicConnQueriesAndCloses(t *testing.T) {
	pool, mock, _ := newTestPool(t)

	mock.ExpectExec(reClear).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id FROM listings").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("l1"))

	pub, err := pool.AcquirePublic(context.Background())
	require.NoError(t, err)

	rows, err := pub.Query(context.Background(), "SELECT id FROM listings")
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())

	require.NoError(t, pub.Close())
	require.NoError(t, pub.Close())

	assert.Panics(t, func() {
		_, _ = pub.Query(context.Background(), "SELECT 1")
	})
	require.NoError(t, mock.ExpectationsWereMet())
}
