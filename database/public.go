package database

import (
	"context"
	"database/sql"
	"sync/atomic"

	"github.com/syndika/backend/logger"
)

// PublicConn is a checked-out connection for unauthenticated paths: health
// checks, public listing search, webhook receivers. Its session context was
// cleared at acquisition, so RLS policies expose no tenant-scoped rows
// through it, and there is no context left to clear on the way out — Close
// simply returns the connection to the pool.
type PublicConn struct {
	conn *sql.Conn
	log  logger.Logger

	released atomic.Bool
}

func (g *PublicConn) grab() *sql.Conn {
	if g.released.Load() {
		panic("database: public connection used after close")
	}
	return g.conn
}

// Query executes a query that returns rows.
func (g *PublicConn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return g.grab().QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (g *PublicConn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return g.grab().QueryRowContext(ctx, query, args...)
}

// Exec executes a query without returning any rows.
func (g *PublicConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return g.grab().ExecContext(ctx, query, args...)
}

// Begin starts a transaction on the guarded connection.
func (g *PublicConn) Begin(ctx context.Context) (*sql.Tx, error) {
	return g.grab().BeginTx(ctx, nil)
}

// Close returns the connection to the pool. Safe to call more than once.
func (g *PublicConn) Close() error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	conn := g.conn
	g.conn = nil
	return conn.Close()
}
