// Package database implements the tenant-isolating connection lifecycle for
// PostgreSQL row-level security.
//
// RLS policies key on session parameters, and sessions belong to physical
// connections that the pool reuses across requests. Correct isolation
// therefore depends on a strict protocol: a connection must carry the right
// tenant context before any tenant-scoped query runs on it, and that context
// must never survive into the next checkout. This package enforces the
// protocol by construction: the raw pool handle is never exported, and every
// connection is handed out wrapped in a guard whose acquisition already set
// (or cleared) the session context.
package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/time/rate"

	"github.com/syndika/backend/config"
	"github.com/syndika/backend/logger"
	"github.com/syndika/backend/tenant"
)

// Pool wraps the physical connection pool and is the only way to reach it.
// Tenant-scoped access goes through Acquire, public access through
// AcquirePublic; neither ever exposes a connection without its session
// context having been set or cleared first.
type Pool struct {
	db        *sql.DB
	log       logger.Logger
	lifecycle config.LifecycleConfig
	limiter   *rate.Limiter

	closed atomic.Bool
	// consecutive context set/clear failures, for the degraded-mode gate
	protocolFailures atomic.Int64

	// in-flight drop-path cleanups, awaited on Close
	cleanups sync.WaitGroup
}

var (
	openPostgresDB = func(cfg *pgx.ConnConfig) *sql.DB {
		return stdlib.OpenDB(*cfg)
	}
	pingPostgresDB = func(ctx context.Context, db *sql.DB) error {
		return db.PingContext(ctx)
	}
)

// quoteDSN quotes a DSN value according to libpq rules:
// - Returns double single quotes for empty strings (empty value)
// - Escapes backslashes and single quotes
// - Wraps in single quotes when value contains non-alphanumeric/._- characters
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")

	return "'" + escaped + "'"
}

// NewPool connects to PostgreSQL and wraps the connection pool.
func NewPool(cfg *config.DatabaseConfig, log logger.Logger) (*Pool, error) {
	var dsn string
	if cfg.ConnectionString != "" {
		dsn = cfg.ConnectionString
	} else {
		parts := []string{
			fmt.Sprintf("host=%s", quoteDSN(cfg.Host)),
			fmt.Sprintf("port=%d", cfg.Port),
			fmt.Sprintf("user=%s", quoteDSN(cfg.Username)),
			fmt.Sprintf("password=%s", quoteDSN(cfg.Password)),
			fmt.Sprintf("dbname=%s", quoteDSN(cfg.Database)),
		}

		if cfg.SSLMode != "" {
			parts = append(parts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
		}

		dsn = strings.Join(parts, " ")
	}

	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}

	db := openPostgresDB(pgxConfig)

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := pingPostgresDB(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("Failed to close PostgreSQL connection after ping failure")
		}
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("database", cfg.Database).
		Msg("Connected to PostgreSQL database")

	return newPool(db, cfg.Lifecycle, log), nil
}

// newPool wraps an existing *sql.DB. Used by NewPool and by tests that
// substitute a mock driver.
func newPool(db *sql.DB, lifecycle config.LifecycleConfig, log logger.Logger) *Pool {
	p := &Pool{
		db:        db,
		log:       log,
		lifecycle: lifecycle,
	}
	if lifecycle.AcquirePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(lifecycle.AcquirePerSecond), lifecycle.AcquireBurst)
	}
	return p
}

// Acquire checks out a connection, sets the tenant session context on it, and
// returns a guard owning the connection. The guard must be released on every
// exit path; see TenantConn.
func (p *Pool) Acquire(ctx context.Context, tc tenant.Context) (*TenantConn, error) {
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tenant context: %w", err)
	}
	if err := p.admitTenantScoped(ctx); err != nil {
		return nil, err
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	userID := tc.UserID
	if err := setRequestContext(ctx, conn, tc.OrgID, &userID, tc.IsSuperAdmin()); err != nil {
		p.noteProtocolFailure()
		// The connection must go back clean even on the setup path.
		p.scrubAndReturn(conn)
		return nil, fmt.Errorf("%w: %w", ErrContextSetup, err)
	}
	p.noteProtocolSuccess()

	p.log.Debug().
		Str("org_id", tc.OrgString()).
		Str("user_id", tc.UserID.String()).
		Bool("super_admin", tc.IsSuperAdmin()).
		Msg("RLS context set on pooled connection")

	return p.newTenantConn(conn, tc), nil
}

// AcquireTenantOnly checks out a connection with only the organization
// dimension of the session context set, for flows that scope by tenant
// without a user identity (background jobs, imports).
func (p *Pool) AcquireTenantOnly(ctx context.Context, orgID uuid.UUID) (*TenantConn, error) {
	if orgID == uuid.Nil {
		return nil, fmt.Errorf("invalid tenant context: %w", tenant.ErrMissingOrg)
	}
	if err := p.admitTenantScoped(ctx); err != nil {
		return nil, err
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	if err := setTenantContext(ctx, conn, orgID); err != nil {
		p.noteProtocolFailure()
		p.scrubAndReturn(conn)
		return nil, fmt.Errorf("%w: %w", ErrContextSetup, err)
	}
	p.noteProtocolSuccess()

	return p.newTenantConn(conn, tenant.Context{OrgID: &orgID}), nil
}

// AcquirePublic checks out a connection for unauthenticated paths. The
// session context is cleared unconditionally before the connection is handed
// out: drop-triggered cleanup on the previous holder is asynchronous and
// best-effort, so the only place stale context can be ruled out is the next
// checkout.
func (p *Pool) AcquirePublic(ctx context.Context) (*PublicConn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	conn, err := p.checkout(ctx)
	if err != nil {
		return nil, err
	}

	if err := clearRequestContext(ctx, conn); err != nil {
		p.noteProtocolFailure()
		// Without a successful clear the session state is unknown; the
		// connection cannot be handed out or returned.
		discardConn(conn)
		return nil, fmt.Errorf("%w: %w", ErrContextSetup, err)
	}
	p.noteProtocolSuccess()

	return &PublicConn{conn: conn, log: p.log}, nil
}

func (p *Pool) admitTenantScoped(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.degraded() {
		return ErrDegraded
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return ErrAcquireTimeout
			}
			return fmt.Errorf("acquisition throttled: %w", err)
		}
	}
	return nil
}

func (p *Pool) checkout(ctx context.Context) (*sql.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, p.lifecycle.AcquireTimeout)
	defer cancel()

	conn, err := p.db.Conn(cctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrAcquireTimeout, p.lifecycle.AcquireTimeout)
		}
		return nil, fmt.Errorf("checkout connection: %w", err)
	}
	return conn, nil
}

// scrubAndReturn clears the session context on a connection whose setup
// failed, then returns it to the pool. Runs on a fresh deadline because the
// caller's context may already be canceled. If even the clear fails, the
// connection's state is unknown and it is discarded instead.
func (p *Pool) scrubAndReturn(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), p.lifecycle.ReleaseTimeout)
	defer cancel()

	if err := clearRequestContext(ctx, conn); err != nil {
		p.noteProtocolFailure()
		p.log.Warn().Err(err).Msg("Discarding connection: context clear failed after setup error")
		discardConn(conn)
		return
	}
	if err := conn.Close(); err != nil {
		p.log.Warn().Err(err).Msg("Failed to return scrubbed connection to pool")
	}
}

// discardConn drops the connection from the pool entirely instead of
// returning it. Used whenever the session context state is unknown.
func discardConn(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

func (p *Pool) degraded() bool {
	threshold := p.lifecycle.DegradedThreshold
	return threshold > 0 && p.protocolFailures.Load() >= int64(threshold)
}

func (p *Pool) noteProtocolFailure() {
	p.protocolFailures.Add(1)
}

func (p *Pool) noteProtocolSuccess() {
	p.protocolFailures.Store(0)
}

// Health checks database connectivity.
func (p *Pool) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.db.PingContext(ctx)
}

// Stats returns connection pool statistics.
func (p *Pool) Stats() map[string]any {
	stats := p.db.Stats()
	return map[string]any{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
		"max_idle_closed":      stats.MaxIdleClosed,
		"max_idle_time_closed": stats.MaxIdleTimeClosed,
		"max_lifetime_closed":  stats.MaxLifetimeClosed,
	}
}

// Close rejects further acquisitions, waits for in-flight drop-path cleanups,
// and closes the underlying pool.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cleanups.Wait()
	p.log.Info().Msg("Closing PostgreSQL connection pool")
	return p.db.Close()
}
