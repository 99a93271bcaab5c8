package rbac

import (
	"strings"
	"time"
)

// System role names. They are created by bootstrap and always exist.
const (
	RoleUser     = "USER"
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleEmployee = "EMPLOYEE"
)

// Built-in permission names
const (
	PermUserRead        = "user:read"
	PermUserWrite       = "user:write"
	PermRoleRead        = "role:read"
	PermRoleWrite       = "role:write"
	PermPermissionRead  = "permission:read"
	PermPermissionWrite = "permission:write"
	PermDocumentRead    = "document:read"
	PermDocumentWrite   = "document:write"
	PermAuditRead       = "audit:read"
)

// AdminCapability is the permission that makes a principal an administrator
const AdminCapability = PermRoleWrite

// readSuffix marks the permissions granted to MANAGER by bootstrap
const readSuffix = ":read"

// Permission is a named, atomic capability such as "user:read"
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Resource returns the part of the name before the first colon
func (p Permission) Resource() string {
	resource, _ := SplitPermissionName(p.Name)
	return resource
}

// Action returns the part of the name after the first colon
func (p Permission) Action() string {
	_, action := SplitPermissionName(p.Name)
	return action
}

// SplitPermissionName splits "resource:action". A name without a colon is
// all resource.
func SplitPermissionName(name string) (resource, action string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// IsReadPermission reports whether name ends with ":read"
func IsReadPermission(name string) bool {
	return strings.HasSuffix(name, readSuffix)
}

// Role is a named set of permissions
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsSystem    bool      `json:"is_system"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoleWithCounts annotates a role with live usage counts
type RoleWithCounts struct {
	Role
	UserCount       int64 `json:"user_count"`
	PermissionCount int64 `json:"permission_count"`
}

// User is the engine's view of a user: an id and an optional role link
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	RoleID    *int64    `json:"role_id,omitempty"`
	RoleName  string    `json:"role_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasRole reports whether a role is assigned
func (u User) HasRole() bool {
	return u.RoleID != nil
}

// UserPermissionOverride is a stored per-user exception. Rows only ever hold
// a grant or a deny; clearing an override deletes the row.
type UserPermissionOverride struct {
	UserID         int64     `json:"user_id"`
	PermissionID   int64     `json:"permission_id"`
	PermissionName string    `json:"permission"`
	Granted        bool      `json:"granted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// State returns the override as a tri-state value
func (o UserPermissionOverride) State() Override {
	if o.Granted {
		return OverrideGrant
	}
	return OverrideDeny
}

// EffectivePermission is the resolved decision for one catalog entry
type EffectivePermission struct {
	Permission string         `json:"permission"`
	Allowed    bool           `json:"allowed"`
	Source     DecisionSource `json:"source"`
}

// PermissionSpec describes a permission to seed
type PermissionSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// RoleSpec describes a role to seed together with its permission names
type RoleSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// SystemRoles returns the roles bootstrap guarantees
func SystemRoles() []RoleSpec {
	return []RoleSpec{
		{Name: RoleUser, Description: "Default role for regular users"},
		{Name: RoleAdmin, Description: "Full administrative access"},
		{Name: RoleManager, Description: "Read access to every resource"},
		{Name: RoleEmployee, Description: "Staff member"},
	}
}

// SystemPermissions returns the permissions bootstrap guarantees
func SystemPermissions() []PermissionSpec {
	return []PermissionSpec{
		{Name: PermUserRead, Description: "View users and their permissions"},
		{Name: PermUserWrite, Description: "Manage user permission overrides"},
		{Name: PermRoleRead, Description: "View roles"},
		{Name: PermRoleWrite, Description: "Manage roles and role assignments"},
		{Name: PermPermissionRead, Description: "View the permission catalog"},
		{Name: PermPermissionWrite, Description: "Add permissions to the catalog"},
		{Name: PermDocumentRead, Description: "Read documents"},
		{Name: PermDocumentWrite, Description: "Create and edit documents"},
		{Name: PermAuditRead, Description: "Read the authorization audit trail"},
	}
}

// IsSystemRole reports whether name is one of the bootstrap roles
func IsSystemRole(name string) bool {
	for _, r := range SystemRoles() {
		if r.Name == name {
			return true
		}
	}
	return false
}
