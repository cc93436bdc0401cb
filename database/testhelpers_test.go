package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/syndika/backend/config"
	"github.com/syndika/backend/logger"
)

// newTestPool builds a Pool over a sqlmock driver so tests can observe every
// protocol statement sent on the wire.
func newTestPool(t *testing.T, opts ...func(*config.LifecycleConfig)) (*Pool, sqlmock.Sqlmock, *logger.Recorder) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	lc := config.LifecycleConfig{
		AcquireTimeout:     time.Second,
		ReleaseTimeout:     time.Second,
		DropCleanupTimeout: time.Second,
	}
	for _, opt := range opts {
		opt(&lc)
	}

	rec := logger.NewRecorder()
	return newPool(db, lc, rec), mock, rec
}
