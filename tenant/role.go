// Package tenant carries the per-request tenant identity used to scope
// database access: the organization and user identifiers bound to a
// connection's row-level-security session, plus the role used for
// authorization decisions layered on top.
package tenant

import "fmt"

// Role identifies a user's role within an organization.
// Roles form a strict hierarchy; higher levels include the permissions of lower ones.
type Role string

const (
	// RoleSuperAdmin is the platform-level super administrator. Bypasses tenant isolation.
	RoleSuperAdmin Role = "super_admin"
	// RolePlatformAdmin is the infrastructure/operations administrator. Bypasses tenant isolation.
	RolePlatformAdmin Role = "platform_admin"
	// RoleOrgAdmin administers a single organization.
	RoleOrgAdmin Role = "org_admin"
	// RoleManager manages buildings within an organization.
	RoleManager Role = "manager"
	// RoleTechnicalManager handles technical operations for buildings.
	RoleTechnicalManager Role = "technical_manager"
	// RoleOwner owns one or more units.
	RoleOwner Role = "owner"
	// RoleOwnerDelegate acts on behalf of an owner.
	RoleOwnerDelegate Role = "owner_delegate"
	// RolePropertyManager manages short-term rental properties.
	RolePropertyManager Role = "property_manager"
	// RoleRealEstateAgent lists and shows properties.
	RoleRealEstateAgent Role = "real_estate_agent"
	// RoleTenant rents a unit.
	RoleTenant Role = "tenant"
	// RoleResident lives in a unit without ownership.
	RoleResident Role = "resident"
	// RoleGuest has temporary, minimal access.
	RoleGuest Role = "guest"
)

var roleLevels = map[Role]int{
	RoleSuperAdmin:       100,
	RolePlatformAdmin:    95,
	RoleOrgAdmin:         90,
	RoleManager:          80,
	RoleTechnicalManager: 75,
	RoleOwner:            60,
	RoleOwnerDelegate:    55,
	RolePropertyManager:  50,
	RoleRealEstateAgent:  45,
	RoleTenant:           40,
	RoleResident:         30,
	RoleGuest:            10,
}

var roleNames = map[Role]string{
	RoleSuperAdmin:       "Super Admin",
	RolePlatformAdmin:    "Platform Admin",
	RoleOrgAdmin:         "Organization Admin",
	RoleManager:          "Manager",
	RoleTechnicalManager: "Technical Manager",
	RoleOwner:            "Owner",
	RoleOwnerDelegate:    "Owner Delegate",
	RolePropertyManager:  "Property Manager",
	RoleRealEstateAgent:  "Real Estate Agent",
	RoleTenant:           "Tenant",
	RoleResident:         "Resident",
	RoleGuest:            "Guest",
}

// Roles lists every role in descending hierarchy order.
func Roles() []Role {
	return []Role{
		RoleSuperAdmin,
		RolePlatformAdmin,
		RoleOrgAdmin,
		RoleManager,
		RoleTechnicalManager,
		RoleOwner,
		RoleOwnerDelegate,
		RolePropertyManager,
		RoleRealEstateAgent,
		RoleTenant,
		RoleResident,
		RoleGuest,
	}
}

// ParseRole converts a stored role identifier into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether the role is part of the known hierarchy.
func (r Role) Valid() bool {
	_, ok := roleLevels[r]
	return ok
}

// Level returns the role's hierarchy level. Higher means more permissions.
// Unknown roles map to 0, below every defined role.
func (r Role) Level() int {
	return roleLevels[r]
}

// HasRole reports whether the role grants at least the permissions of required.
func (r Role) HasRole(required Role) bool {
	return r.Level() >= required.Level()
}

// IsSuperAdmin reports whether the role bypasses tenant isolation.
func (r Role) IsSuperAdmin() bool {
	return r == RoleSuperAdmin || r == RolePlatformAdmin
}

// IsAdmin reports whether the role is admin-level.
func (r Role) IsAdmin() bool {
	return r.IsSuperAdmin() || r == RoleOrgAdmin
}

// IsManager reports whether the role is manager-level or above.
func (r Role) IsManager() bool {
	return r.IsAdmin() || r == RoleManager || r == RoleTechnicalManager
}

// String returns the display name for the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return string(r)
}
