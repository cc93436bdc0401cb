package database

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// PermissionChecker answers permission questions for authorization layers
// built on top of the guards. Identical concurrent lookups are collapsed
// into a single database round trip; results are not cached beyond that,
// since permission changes must take effect immediately.
type PermissionChecker struct {
	sfg singleflight.Group
}

// NewPermissionChecker creates a PermissionChecker.
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{}
}

// Check reports whether the user holds the named permission in the
// organization, querying through the given guard.
func (c *PermissionChecker) Check(ctx context.Context, ex Executor, userID, orgID uuid.UUID, permission string) (bool, error) {
	key := strings.Join([]string{userID.String(), orgID.String(), permission}, "|")

	v, err, _ := c.sfg.Do(key, func() (any, error) {
		return UserHasPermission(ctx, ex, userID, orgID, permission)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
