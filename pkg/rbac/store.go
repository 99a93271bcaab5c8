package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/platinummonkey/permit/pkg/storage"
)

const (
	permissionColumns = "p.id, p.name, p.description, p.created_at, p.updated_at"
	roleColumns       = "r.id, r.name, r.description, r.is_system, r.created_at, r.updated_at"
	userColumns       = "u.id, u.username, u.role_id, COALESCE(r.name, ''), u.created_at, u.updated_at"
	userFrom          = "users u LEFT JOIN roles r ON r.id = u.role_id"
)

// Store persists the permission catalog, roles, role-permission links,
// user-role assignments and per-user overrides
type Store struct {
	db      *sql.DB
	dialect storage.Dialect
	now     func() time.Time
}

// NewStore creates a new store
func NewStore(db *sql.DB, dialect storage.Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// DB returns the underlying connection pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect of the store
func (s *Store) Dialect() storage.Dialect {
	return s.dialect
}

// forUpdate locks the selected row until the transaction ends. SQLite
// serializes writers, so it needs no row lock.
func (s *Store) forUpdate() string {
	if s.dialect == storage.DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPermission(row scanner) (*Permission, error) {
	var p Permission
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanRole(row scanner) (*Role, error) {
	var r Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsSystem, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanUser(row scanner) (*User, error) {
	var u User
	var roleID sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &roleID, &u.RoleName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	if roleID.Valid {
		id := roleID.Int64
		u.RoleID = &id
	}
	return &u, nil
}

func validateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%w: %s name is required", ErrInvalidName, kind)
	}
	for _, r := range name {
		if unicode.IsSpace(r) {
			return fmt.Errorf("%w: %s name %q contains whitespace", ErrInvalidName, kind, name)
		}
	}
	return nil
}

// Permission catalog

// CreatePermission adds a permission to the catalog
func (s *Store) CreatePermission(ctx context.Context, name, description string) (*Permission, error) {
	name = strings.TrimSpace(name)
	if err := validateName("permission", name); err != nil {
		return nil, err
	}

	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, name, description, now).Scan(&id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, &DuplicateNameError{Kind: "permission", Name: name}
		}
		return nil, fmt.Errorf("failed to create permission: %w", err)
	}

	return &Permission{ID: id, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}, nil
}

// GetPermission retrieves a permission by ID
func (s *Store) GetPermission(ctx context.Context, id int64) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+" FROM permissions p WHERE p.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrPermissionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// GetPermissionByName retrieves a permission by name
func (s *Store) GetPermissionByName(ctx context.Context, name string) (*Permission, error) {
	p, err := scanPermission(s.db.QueryRowContext(ctx,
		"SELECT "+permissionColumns+" FROM permissions p WHERE p.name = $1", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPermissionNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission: %w", err)
	}
	return p, nil
}

// ListPermissions returns the whole catalog ordered by name
func (s *Store) ListPermissions(ctx context.Context) ([]*Permission, error) {
	return s.queryPermissions(ctx, s.db,
		"SELECT "+permissionColumns+" FROM permissions p ORDER BY p.name")
}

// UpdatePermissionDescription changes the only mutable permission attribute
func (s *Store) UpdatePermissionDescription(ctx context.Context, id int64, description string) (*Permission, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE permissions SET description = $1, updated_at = $2 WHERE id = $3",
		description, s.now(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update permission: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", ErrPermissionNotFound, id)
	}
	return s.GetPermission(ctx, id)
}

func (s *Store) queryPermissions(ctx context.Context, q storage.Querier, query string, args ...interface{}) ([]*Permission, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]*Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, p)
	}
	return permissions, rows.Err()
}

// Role registry

// CreateRole creates a custom role
func (s *Store) CreateRole(ctx context.Context, name, description string) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := validateName("role", name); err != nil {
		return nil, err
	}

	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id
	`, name, description, false, now).Scan(&id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, &DuplicateNameError{Kind: "role", Name: name}
		}
		return nil, fmt.Errorf("failed to create role: %w", err)
	}

	return &Role{ID: id, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}, nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, id int64) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles r WHERE r.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// GetRoleByName retrieves a role by exact name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	r, err := scanRole(s.db.QueryRowContext(ctx,
		"SELECT "+roleColumns+" FROM roles r WHERE r.name = $1", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return r, nil
}

// ListRoles returns every role ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+roleColumns+" FROM roles r ORDER BY r.name")
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListRolesWithCounts returns every role with its live user and permission counts
func (s *Store) ListRolesWithCounts(ctx context.Context) ([]*RoleWithCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+roleColumns+`,
			(SELECT COUNT(*) FROM users u WHERE u.role_id = r.id),
			(SELECT COUNT(*) FROM role_permissions rp WHERE rp.role_id = r.id)
		FROM roles r
		ORDER BY r.name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]*RoleWithCounts, 0)
	for rows.Next() {
		var rc RoleWithCounts
		if err := rows.Scan(
			&rc.ID, &rc.Name, &rc.Description, &rc.IsSystem, &rc.CreatedAt, &rc.UpdatedAt,
			&rc.UserCount, &rc.PermissionCount,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, &rc)
	}
	return roles, rows.Err()
}

// UpdateRole renames a role. A nil description keeps the current one.
func (s *Store) UpdateRole(ctx context.Context, id int64, name string, description *string) (*Role, error) {
	name = strings.TrimSpace(name)
	if err := validateName("role", name); err != nil {
		return nil, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE roles
		SET name = $1, description = COALESCE($2, description), updated_at = $3
		WHERE id = $4
	`, name, description, s.now(), id)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, &DuplicateNameError{Kind: "role", Name: name}
		}
		return nil, fmt.Errorf("failed to update role: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", ErrRoleNotFound, id)
	}

	return s.GetRole(ctx, id)
}

// DeleteRole removes a role that no user references. The count and the
// delete run in one transaction with the role row locked.
func (s *Store) DeleteRole(ctx context.Context, id int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var roleID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM roles WHERE id = $1"+s.forUpdate(), id).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %d", ErrRoleNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to lock role: %w", err)
		}

		count, err := countUsersWithRole(ctx, tx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return &RoleInUseError{RoleID: id, Count: count}
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM roles WHERE id = $1", id); err != nil {
			if storage.IsForeignKeyViolation(err) {
				return &RoleInUseError{RoleID: id, Count: 1}
			}
			return fmt.Errorf("failed to delete role: %w", err)
		}
		return nil
	})
}

// CountUsersWithRole returns how many users reference the role
func (s *Store) CountUsersWithRole(ctx context.Context, roleID int64) (int64, error) {
	return countUsersWithRole(ctx, s.db, roleID)
}

func countUsersWithRole(ctx context.Context, q storage.Querier, roleID int64) (int64, error) {
	var count int64
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE role_id = $1", roleID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count role users: %w", err)
	}
	return count, nil
}

// Role permissions

// AssignPermissionToRole adds a permission to a role's set. Assigning a
// permission the role already holds fails with ErrAlreadyAssigned.
func (s *Store) AssignPermissionToRole(ctx context.Context, roleID, permissionID int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT id FROM roles WHERE id = $1", roleID, ErrRoleNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "SELECT id FROM permissions WHERE id = $1", permissionID, ErrPermissionNotFound); err != nil {
			return err
		}

		created, err := s.linkIfAbsent(ctx, tx, roleID, permissionID)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("%w: role %d, permission %d", ErrAlreadyAssigned, roleID, permissionID)
		}
		return nil
	})
}

// RemovePermissionFromRole removes a permission from a role's set. Removing
// a permission the role does not hold fails with ErrNotAssigned.
func (s *Store) RemovePermissionFromRole(ctx context.Context, roleID, permissionID int64) error {
	return storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT id FROM roles WHERE id = $1", roleID, ErrRoleNotFound); err != nil {
			return err
		}
		if err := requireRow(ctx, tx, "SELECT id FROM permissions WHERE id = $1", permissionID, ErrPermissionNotFound); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx,
			"DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2",
			roleID, permissionID)
		if err != nil {
			return fmt.Errorf("failed to remove permission from role: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: role %d, permission %d", ErrNotAssigned, roleID, permissionID)
		}
		return nil
	})
}

// ListRolePermissions returns a role's permission set ordered by name
func (s *Store) ListRolePermissions(ctx context.Context, roleID int64) ([]*Permission, error) {
	if err := requireRow(ctx, s.db, "SELECT id FROM roles WHERE id = $1", roleID, ErrRoleNotFound); err != nil {
		return nil, err
	}
	return s.queryPermissions(ctx, s.db, `
		SELECT `+permissionColumns+`
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.name
	`, roleID)
}

// linkIfAbsent inserts a role-permission link and reports whether it was new
func (s *Store) linkIfAbsent(ctx context.Context, q storage.Querier, roleID, permissionID int64) (bool, error) {
	var linked int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
		RETURNING role_id
	`, roleID, permissionID, s.now()).Scan(&linked)
	if errors.Is(err, sql.ErrNoRows) || storage.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to assign permission to role: %w", err)
	}
	return true, nil
}

// requireRow returns notFound when the lookup query finds no row
func requireRow(ctx context.Context, q storage.Querier, query string, id int64, notFound error) error {
	var found int64
	err := q.QueryRowContext(ctx, query, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %d", notFound, id)
	}
	if err != nil {
		return fmt.Errorf("failed to look up %d: %w", id, err)
	}
	return nil
}

// Users

// CreateUser registers a user with an optional role
func (s *Store) CreateUser(ctx context.Context, username string, roleID *int64) (*User, error) {
	username = strings.TrimSpace(username)
	if err := validateName("user", username); err != nil {
		return nil, err
	}

	now := s.now()
	var id int64
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if roleID != nil {
			if err := requireRow(ctx, tx, "SELECT id FROM roles WHERE id = $1", *roleID, ErrRoleNotFound); err != nil {
				return err
			}
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO users (username, role_id, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			RETURNING id
		`, username, nullableID(roleID), now).Scan(&id)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return &DuplicateNameError{Kind: "user", Name: username}
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetUser(ctx, id)
}

// GetUser retrieves a user and the name of its role
func (s *Store) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM "+userFrom+" WHERE u.id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// AssignUserRole sets or clears (nil roleID) a user's role
func (s *Store) AssignUserRole(ctx context.Context, userID int64, roleID *int64) (*User, error) {
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT id FROM users WHERE id = $1", userID, ErrUserNotFound); err != nil {
			return err
		}
		if roleID != nil {
			if err := requireRow(ctx, tx, "SELECT id FROM roles WHERE id = $1"+s.forUpdate(), *roleID, ErrRoleNotFound); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE users SET role_id = $1, updated_at = $2 WHERE id = $3",
			nullableID(roleID), s.now(), userID); err != nil {
			return fmt.Errorf("failed to assign role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// Overrides

// SetUserPermission writes a per-user override. A cleared value deletes the
// row and returns a nil override.
func (s *Store) SetUserPermission(ctx context.Context, userID int64, permissionName string, value OverrideValue) (*UserPermissionOverride, error) {
	if err := value.Validate(); err != nil {
		return nil, err
	}

	var override *UserPermissionOverride
	err := storage.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireRow(ctx, tx, "SELECT id FROM users WHERE id = $1", userID, ErrUserNotFound); err != nil {
			return err
		}

		var permissionID int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM permissions WHERE name = $1", permissionName).Scan(&permissionID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrPermissionNotFound, permissionName)
		}
		if err != nil {
			return fmt.Errorf("failed to look up permission: %w", err)
		}

		if value.IsClear() {
			result, err := tx.ExecContext(ctx,
				"DELETE FROM user_permissions WHERE user_id = $1 AND permission_id = $2",
				userID, permissionID)
			if err != nil {
				return fmt.Errorf("failed to delete override: %w", err)
			}
			if n, _ := result.RowsAffected(); n == 0 {
				return fmt.Errorf("%w: user %d, permission %s", ErrNoOverrideFound, userID, permissionName)
			}
			return nil
		}

		granted := value.Override() == OverrideGrant
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permissions (user_id, permission_id, granted, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $4)
			ON CONFLICT (user_id, permission_id)
			DO UPDATE SET granted = excluded.granted, updated_at = excluded.updated_at
		`, userID, permissionID, granted, s.now()); err != nil {
			return fmt.Errorf("failed to upsert override: %w", err)
		}

		o := UserPermissionOverride{UserID: userID, PermissionID: permissionID, PermissionName: permissionName}
		if err := tx.QueryRowContext(ctx, `
			SELECT granted, created_at, updated_at FROM user_permissions
			WHERE user_id = $1 AND permission_id = $2
		`, userID, permissionID).Scan(&o.Granted, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return fmt.Errorf("failed to read override: %w", err)
		}
		override = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return override, nil
}

// ListOverridesForUser returns a user's overrides ordered by permission name
func (s *Store) ListOverridesForUser(ctx context.Context, userID int64) ([]*UserPermissionOverride, error) {
	if err := requireRow(ctx, s.db, "SELECT id FROM users WHERE id = $1", userID, ErrUserNotFound); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT up.user_id, up.permission_id, p.name, up.granted, up.created_at, up.updated_at
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]*UserPermissionOverride, 0)
	for rows.Next() {
		var o UserPermissionOverride
		if err := rows.Scan(&o.UserID, &o.PermissionID, &o.PermissionName, &o.Granted, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides = append(overrides, &o)
	}
	return overrides, rows.Err()
}

// Resolution state

// DecisionState reads the override, role membership and role name for one
// (user, permission) pair in a single query. Unknown users and permissions
// yield a zero state.
func (s *Store) DecisionState(ctx context.Context, userID int64, permission string) (DecisionState, error) {
	var granted sql.NullBool
	var state DecisionState
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT up.granted
				FROM user_permissions up
				JOIN permissions p ON p.id = up.permission_id
				WHERE up.user_id = $1 AND p.name = $2),
			EXISTS (SELECT 1
				FROM users u
				JOIN role_permissions rp ON rp.role_id = u.role_id
				JOIN permissions p ON p.id = rp.permission_id
				WHERE u.id = $1 AND p.name = $2),
			COALESCE((SELECT r.name
				FROM users u
				JOIN roles r ON r.id = u.role_id
				WHERE u.id = $1), '')
	`, userID, permission).Scan(&granted, &state.RoleHolds, &state.RoleName)
	if err != nil {
		return DecisionState{}, fmt.Errorf("failed to load decision state: %w", err)
	}

	if granted.Valid {
		state.Override = OverrideFromGranted(&granted.Bool)
	}
	return state, nil
}

// PermissionState is the decision input for one catalog entry
type PermissionState struct {
	Permission string
	Override   Override
	RoleHolds  bool
}

// PermissionStates returns the decision inputs of every catalog permission
// for a user, ordered by name
func (s *Store) PermissionStates(ctx context.Context, userID int64) ([]PermissionState, error) {
	if err := requireRow(ctx, s.db, "SELECT id FROM users WHERE id = $1", userID, ErrUserNotFound); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name, up.granted, rp.role_id IS NOT NULL
		FROM permissions p
		LEFT JOIN user_permissions up
			ON up.permission_id = p.id AND up.user_id = $1
		LEFT JOIN role_permissions rp
			ON rp.permission_id = p.id AND rp.role_id = (SELECT role_id FROM users WHERE id = $1)
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission states: %w", err)
	}
	defer rows.Close()

	states := make([]PermissionState, 0)
	for rows.Next() {
		var st PermissionState
		var granted sql.NullBool
		if err := rows.Scan(&st.Permission, &granted, &st.RoleHolds); err != nil {
			return nil, fmt.Errorf("failed to scan permission state: %w", err)
		}
		if granted.Valid {
			st.Override = OverrideFromGranted(&granted.Bool)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
