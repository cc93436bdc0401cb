package database

import (
	"context"
	"database/sql"
	"runtime"
	"sync/atomic"

	"github.com/syndika/backend/tenant"
)

// TenantConn is an exclusively-owned checked-out connection whose session
// carries the tenant context recorded in it. It is the only query-capable
// handle this package hands out for tenant-scoped work, which makes the
// ordering guarantee structural: the context was set before the guard
// existed, and the connection cannot return to the pool except through a
// path that clears it.
//
// Callers must finish every guard on every exit path, preferring explicit
// Release:
//
//	g, err := pool.Acquire(ctx, tc)
//	if err != nil {
//		return err
//	}
//	defer g.Close()
//	// ... queries through g ...
//	return g.Release(ctx)
//
// Close after a successful Release is a no-op. Close without Release is the
// drop-safety net: it schedules a detached, best-effort context clear. A
// guard abandoned without either call is picked up by a finalizer, which
// degrades isolation from guaranteed to probable; that gap is deliberate and
// is compensated by the defensive clear in AcquirePublic.
type TenantConn struct {
	conn *sql.Conn
	pool *Pool
	tc   tenant.Context

	released atomic.Bool
}

func (p *Pool) newTenantConn(conn *sql.Conn, tc tenant.Context) *TenantConn {
	g := &TenantConn{conn: conn, pool: p, tc: tc}
	runtime.SetFinalizer(g, (*TenantConn).finalize)
	return g
}

// Tenant returns the context that was set on this connection's session.
// Diagnostic; queries are scoped by the database, not by this value.
func (g *TenantConn) Tenant() tenant.Context {
	return g.tc
}

// HasRole reports whether the guard's tenant context grants the required role.
func (g *TenantConn) HasRole(required tenant.Role) bool {
	return g.tc.HasRole(required)
}

// grab returns the connection or panics after release. Use-after-release is
// a programming error, not a runtime condition to handle.
func (g *TenantConn) grab() *sql.Conn {
	if g.released.Load() {
		panic("database: tenant connection used after release")
	}
	return g.conn
}

// Query executes a query that returns rows.
func (g *TenantConn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return g.grab().QueryContext(ctx, query, args...)
}

// QueryRow executes a query that returns at most one row.
func (g *TenantConn) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return g.grab().QueryRowContext(ctx, query, args...)
}

// Exec executes a query without returning any rows.
func (g *TenantConn) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return g.grab().ExecContext(ctx, query, args...)
}

// Begin starts a transaction on the guarded connection. The transaction
// inherits the session context.
func (g *TenantConn) Begin(ctx context.Context) (*sql.Tx, error) {
	return g.grab().BeginTx(ctx, nil)
}

// BeginTx starts a transaction with options on the guarded connection.
func (g *TenantConn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return g.grab().BeginTx(ctx, opts)
}

// Release clears the session context and returns the connection to the pool.
// This is the primary termination path and the only one with a synchronous
// guarantee. A failed clear leaves the session state unknown, so the
// connection is discarded from the pool rather than returned, and the error
// is surfaced for the caller to log.
func (g *TenantConn) Release(ctx context.Context) error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(g, nil)

	conn := g.conn
	g.conn = nil

	if err := clearRequestContext(ctx, conn); err != nil {
		g.pool.noteProtocolFailure()
		g.pool.log.Warn().
			Err(err).
			Str("org_id", g.tc.OrgString()).
			Str("user_id", g.tc.UserID.String()).
			Msg("Discarding connection: failed to clear RLS context on release")
		discardConn(conn)
		return err
	}
	g.pool.noteProtocolSuccess()

	return conn.Close()
}

// Close is the scope-exit fallback, meant for defer. After a successful
// Release it does nothing. Otherwise it detaches the connection and hands it
// to the drop-safety net for an asynchronous, best-effort context clear.
func (g *TenantConn) Close() error {
	if !g.released.CompareAndSwap(false, true) {
		return nil
	}
	runtime.SetFinalizer(g, nil)

	conn := g.conn
	g.conn = nil

	g.pool.log.Warn().
		Str("org_id", g.tc.OrgString()).
		Str("user_id", g.tc.UserID.String()).
		Msg("Tenant connection closed without release; scheduling async context clear")

	g.pool.releaseAsync(conn, g.tc)
	return nil
}

// finalize catches guards abandoned with neither Release nor Close.
func (g *TenantConn) finalize() {
	if !g.released.CompareAndSwap(false, true) {
		return
	}
	conn := g.conn
	g.conn = nil

	g.pool.log.Error().
		Str("org_id", g.tc.OrgString()).
		Str("user_id", g.tc.UserID.String()).
		Bool("security", true).
		Msg("SECURITY: tenant connection leaked without release; scheduling async context clear")

	g.pool.releaseAsync(conn, g.tc)
}

// releaseAsync is the drop-safety net: a detached task that clears the
// session context and returns the connection. When the clear fails the
// connection is still returned rather than discarded, trading residual leak
// risk for pool capacity; AcquirePublic's defensive clear covers the public
// side of that risk, the next tenant-scoped checkout is NOT covered. The
// failure is logged at security severity because it means RLS context may
// bleed into the connection's next user.
func (p *Pool) releaseAsync(conn *sql.Conn, tc tenant.Context) {
	p.cleanups.Add(1)
	go func() {
		defer p.cleanups.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.lifecycle.DropCleanupTimeout)
		defer cancel()

		if err := clearRequestContext(ctx, conn); err != nil {
			p.noteProtocolFailure()
			p.log.Error().
				Err(err).
				Str("org_id", tc.OrgString()).
				Str("user_id", tc.UserID.String()).
				Bool("security", true).
				Msg("SECURITY: failed to clear RLS context in drop cleanup; context may bleed to next user of this connection")
			_ = conn.Close()
			return
		}
		p.noteProtocolSuccess()

		p.log.Debug().
			Str("org_id", tc.OrgString()).
			Str("user_id", tc.UserID.String()).
			Msg("RLS context cleared via drop cleanup task")
		_ = conn.Close()
	}()
}
