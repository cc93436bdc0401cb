package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Database-side session functions backing the row-level-security context
// protocol. Each call is a single round trip on the session bound to the
// given connection; none of them touch process-wide state.
const (
	stmtSetRequestContext   = "SELECT set_request_context($1, $2, $3)"
	stmtClearRequestContext = "SELECT clear_request_context()"
	stmtSetTenantContext    = "SELECT set_tenant_context($1)"
	stmtUserHasPermission   = "SELECT user_has_permission($1, $2, $3)"
)

// Executor is the narrow query surface exposed by guards. Query-issuing code
// accepts this type instead of raw connections so every statement is forced
// through a guard with known session context.
type Executor interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRow(ctx context.Context, query string, args ...any) *sql.Row
}

func nullable(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// setRequestContext sets the organization, user, and super-admin session
// parameters in one statement. Idempotent: a second call overwrites.
func setRequestContext(ctx context.Context, conn *sql.Conn, orgID, userID *uuid.UUID, isSuperAdmin bool) error {
	if _, err := conn.ExecContext(ctx, stmtSetRequestContext, nullable(orgID), nullable(userID), isSuperAdmin); err != nil {
		return fmt.Errorf("set request context: %w", err)
	}
	return nil
}

// clearRequestContext resets the session to the no-context state. RLS
// policies fail closed on that state: tenant-scoped rows are denied, not
// exposed.
func clearRequestContext(ctx context.Context, conn *sql.Conn) error {
	if _, err := conn.ExecContext(ctx, stmtClearRequestContext); err != nil {
		return fmt.Errorf("clear request context: %w", err)
	}
	return nil
}

// setTenantContext sets only the organization dimension, for flows that need
// tenant scoping without a user identity.
func setTenantContext(ctx context.Context, conn *sql.Conn, orgID uuid.UUID) error {
	if _, err := conn.ExecContext(ctx, stmtSetTenantContext, orgID); err != nil {
		return fmt.Errorf("set tenant context: %w", err)
	}
	return nil
}

// UserHasPermission reports whether the user holds the named permission in
// the organization. Read-only; it does not mutate session context and is safe
// to call at any point in a guard's lifetime.
func UserHasPermission(ctx context.Context, ex Executor, userID, orgID uuid.UUID, permission string) (bool, error) {
	var allowed sql.NullBool
	row := ex.QueryRow(ctx, stmtUserHasPermission, userID, orgID, permission)
	if err := row.Scan(&allowed); err != nil {
		return false, fmt.Errorf("check user permission: %w", err)
	}
	return allowed.Valid && allowed.Bool, nil
}
