package tenant

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrMissingOrg indicates a non-super-admin context without an organization id.
	ErrMissingOrg = errors.New("tenant context requires an organization id")
	// ErrMissingUser indicates a context without a user id.
	ErrMissingUser = errors.New("tenant context requires a user id")
	// ErrInvalidRole indicates a context carrying a role outside the known hierarchy.
	ErrInvalidRole = errors.New("tenant context carries an unknown role")
)

// Context is the immutable tenant identity for one request.
// It scopes every query issued on a connection acquired with it.
//
// OrgID is nil only for super-admin contexts, signalling cross-tenant
// visibility; every other context carries both organization and user.
type Context struct {
	OrgID  *uuid.UUID
	UserID uuid.UUID
	Role   Role
}

// New builds a tenant-scoped context for a user acting within an organization.
func New(orgID, userID uuid.UUID, role Role) Context {
	return Context{OrgID: &orgID, UserID: userID, Role: role}
}

// NewSuperAdmin builds a cross-tenant context for a platform administrator.
// The organization dimension is left unset so RLS policies grant global visibility.
func NewSuperAdmin(userID uuid.UUID, role Role) Context {
	return Context{OrgID: nil, UserID: userID, Role: role}
}

// IsSuperAdmin reports whether this context bypasses tenant isolation.
func (c Context) IsSuperAdmin() bool {
	return c.Role.IsSuperAdmin()
}

// HasRole reports whether the context's role grants at least the required role.
func (c Context) HasRole(required Role) bool {
	return c.Role.HasRole(required)
}

// Validate checks the invariant that organization and user ids are present
// together whenever isolation is required. Super-admin contexts may omit the
// organization id.
func (c Context) Validate() error {
	if !c.Role.Valid() {
		return ErrInvalidRole
	}
	if c.UserID == uuid.Nil {
		return ErrMissingUser
	}
	if !c.IsSuperAdmin() && (c.OrgID == nil || *c.OrgID == uuid.Nil) {
		return ErrMissingOrg
	}
	return nil
}

// OrgString returns the organization id for logging, or "-" when unset.
func (c Context) OrgString() string {
	if c.OrgID == nil {
		return "-"
	}
	return c.OrgID.String()
}

// ctxKey ensures tenant context keys do not collide with external packages.
type ctxKey struct{}

// With stores the tenant context in the provided context.Context.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc)
}

// FromContext extracts the tenant context set by With.
func FromContext(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	tc, ok := ctx.Value(ctxKey{}).(Context)
	return tc, ok
}
