package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is the parent of every missing-entity error
	ErrNotFound = errors.New("not found")

	ErrRoleNotFound       = fmt.Errorf("role %w", ErrNotFound)
	ErrPermissionNotFound = fmt.Errorf("permission %w", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)

	ErrDuplicateName        = errors.New("name already exists")
	ErrAlreadyAssigned      = errors.New("permission already assigned to role")
	ErrNotAssigned          = errors.New("permission not assigned to role")
	ErrRoleInUse            = errors.New("role is assigned to users")
	ErrInvalidOverrideValue = errors.New("override value must be true, false or null")
	ErrNoOverrideFound      = errors.New("no override found")
	ErrInvalidName          = errors.New("invalid name")
	ErrForbidden            = errors.New("insufficient permissions")
	ErrUnauthenticated      = errors.New("authentication required")
)

// DuplicateNameError reports a role or permission name collision
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

// Is matches ErrDuplicateName
func (e *DuplicateNameError) Is(target error) bool {
	return target == ErrDuplicateName
}

// RoleInUseError reports how many users block a role deletion
type RoleInUseError struct {
	RoleID int64
	Count  int64
}

func (e *RoleInUseError) Error() string {
	return fmt.Sprintf("role %d is assigned to %d user(s)", e.RoleID, e.Count)
}

// Is matches ErrRoleInUse
func (e *RoleInUseError) Is(target error) bool {
	return target == ErrRoleInUse
}

// ForbiddenError names the capability the actor was missing
type ForbiddenError struct {
	Permission string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("insufficient permissions: %s required", e.Permission)
}

// Is matches ErrForbidden
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
