package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/storage"
)

func TestStore_Permissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreatePermission(ctx, "invoice:read", "Read invoices")
	require.NoError(t, err)
	assert.NotZero(t, p.ID)
	assert.Equal(t, "invoice", p.Resource())
	assert.Equal(t, "read", p.Action())

	t.Run("duplicate name", func(t *testing.T) {
		_, err := store.CreatePermission(ctx, "invoice:read", "again")
		assert.True(t, errors.Is(err, ErrDuplicateName))

		var dup *DuplicateNameError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "permission", dup.Kind)
		assert.Equal(t, "invoice:read", dup.Name)
	})

	t.Run("invalid name", func(t *testing.T) {
		_, err := store.CreatePermission(ctx, "  ", "")
		assert.True(t, errors.Is(err, ErrInvalidName))

		_, err = store.CreatePermission(ctx, "invoice read", "")
		assert.True(t, errors.Is(err, ErrInvalidName))
	})

	t.Run("get", func(t *testing.T) {
		got, err := store.GetPermission(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "invoice:read", got.Name)

		byName, err := store.GetPermissionByName(ctx, "invoice:read")
		require.NoError(t, err)
		assert.Equal(t, p.ID, byName.ID)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.GetPermission(ctx, 9999)
		assert.True(t, errors.Is(err, ErrPermissionNotFound))
		assert.True(t, errors.Is(err, ErrNotFound))

		_, err = store.GetPermissionByName(ctx, "missing:perm")
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("update description", func(t *testing.T) {
		updated, err := store.UpdatePermissionDescription(ctx, p.ID, "Read all invoices")
		require.NoError(t, err)
		assert.Equal(t, "Read all invoices", updated.Description)
		assert.Equal(t, "invoice:read", updated.Name)

		_, err = store.UpdatePermissionDescription(ctx, 9999, "x")
		assert.True(t, errors.Is(err, ErrPermissionNotFound))
	})

	t.Run("list ordered by name", func(t *testing.T) {
		_, err := store.CreatePermission(ctx, "audit:export", "")
		require.NoError(t, err)

		list, err := store.ListPermissions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "audit:export", list[0].Name)
		assert.Equal(t, "invoice:read", list[1].Name)
	})
}

func TestStore_Roles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "ACCOUNTANT", "Finance staff")
	require.NoError(t, err)
	assert.False(t, role.IsSystem)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := store.CreateRole(ctx, "ACCOUNTANT", "")
		assert.True(t, errors.Is(err, ErrDuplicateName))
	})

	t.Run("get by name is exact", func(t *testing.T) {
		got, err := store.GetRoleByName(ctx, "ACCOUNTANT")
		require.NoError(t, err)
		assert.Equal(t, role.ID, got.ID)

		_, err = store.GetRoleByName(ctx, "accountant")
		assert.True(t, errors.Is(err, ErrRoleNotFound))
	})

	t.Run("update keeps description when nil", func(t *testing.T) {
		updated, err := store.UpdateRole(ctx, role.ID, "FINANCE", nil)
		require.NoError(t, err)
		assert.Equal(t, "FINANCE", updated.Name)
		assert.Equal(t, "Finance staff", updated.Description)

		desc := "Finance department"
		updated, err = store.UpdateRole(ctx, role.ID, "FINANCE", &desc)
		require.NoError(t, err)
		assert.Equal(t, "Finance department", updated.Description)
	})

	t.Run("update errors", func(t *testing.T) {
		_, err := store.CreateRole(ctx, "AUDITOR", "")
		require.NoError(t, err)

		_, err = store.UpdateRole(ctx, role.ID, "AUDITOR", nil)
		assert.True(t, errors.Is(err, ErrDuplicateName))

		_, err = store.UpdateRole(ctx, 9999, "NOBODY", nil)
		assert.True(t, errors.Is(err, ErrRoleNotFound))
	})

	t.Run("list ordered by name", func(t *testing.T) {
		roles, err := store.ListRoles(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 2)
		assert.Equal(t, "AUDITOR", roles[0].Name)
		assert.Equal(t, "FINANCE", roles[1].Name)
	})
}

func TestStore_DeleteRole(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "TEMP", "")
	require.NoError(t, err)
	perm, err := store.CreatePermission(ctx, "temp:read", "")
	require.NoError(t, err)
	require.NoError(t, store.AssignPermissionToRole(ctx, role.ID, perm.ID))

	user, err := store.CreateUser(ctx, "alice", &role.ID)
	require.NoError(t, err)

	t.Run("in use", func(t *testing.T) {
		err := store.DeleteRole(ctx, role.ID)
		assert.True(t, errors.Is(err, ErrRoleInUse))

		var inUse *RoleInUseError
		require.True(t, errors.As(err, &inUse))
		assert.Equal(t, int64(1), inUse.Count)

		// Nothing changed
		_, err = store.GetRole(ctx, role.ID)
		assert.NoError(t, err)
	})

	t.Run("unused role is deleted with its links", func(t *testing.T) {
		_, err := store.AssignUserRole(ctx, user.ID, nil)
		require.NoError(t, err)

		require.NoError(t, store.DeleteRole(ctx, role.ID))

		_, err = store.GetRole(ctx, role.ID)
		assert.True(t, errors.Is(err, ErrRoleNotFound))

		var links int
		require.NoError(t, store.DB().QueryRowContext(ctx,
			"SELECT COUNT(*) FROM role_permissions WHERE role_id = $1", role.ID).Scan(&links))
		assert.Zero(t, links)

		// The permission itself survives
		_, err = store.GetPermission(ctx, perm.ID)
		assert.NoError(t, err)
	})

	t.Run("unknown role", func(t *testing.T) {
		err := store.DeleteRole(ctx, 9999)
		assert.True(t, errors.Is(err, ErrRoleNotFound))
	})
}

func TestStore_RolePermissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "EDITOR", "")
	require.NoError(t, err)
	write, err := store.CreatePermission(ctx, "page:write", "")
	require.NoError(t, err)
	read, err := store.CreatePermission(ctx, "page:read", "")
	require.NoError(t, err)

	require.NoError(t, store.AssignPermissionToRole(ctx, role.ID, write.ID))
	require.NoError(t, store.AssignPermissionToRole(ctx, role.ID, read.ID))

	t.Run("already assigned", func(t *testing.T) {
		err := store.AssignPermissionToRole(ctx, role.ID, write.ID)
		assert.True(t, errors.Is(err, ErrAlreadyAssigned))
	})

	t.Run("unknown role or permission", func(t *testing.T) {
		err := store.AssignPermissionToRole(ctx, 9999, write.ID)
		assert.True(t, errors.Is(err, ErrRoleNotFound))

		err = store.AssignPermissionToRole(ctx, role.ID, 9999)
		assert.True(t, errors.Is(err, ErrPermissionNotFound))
	})

	t.Run("list ordered by name", func(t *testing.T) {
		perms, err := store.ListRolePermissions(ctx, role.ID)
		require.NoError(t, err)
		require.Len(t, perms, 2)
		assert.Equal(t, "page:read", perms[0].Name)
		assert.Equal(t, "page:write", perms[1].Name)

		_, err = store.ListRolePermissions(ctx, 9999)
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("counts", func(t *testing.T) {
		_, err := store.CreateUser(ctx, "bob", &role.ID)
		require.NoError(t, err)

		roles, err := store.ListRolesWithCounts(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, int64(1), roles[0].UserCount)
		assert.Equal(t, int64(2), roles[0].PermissionCount)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, store.RemovePermissionFromRole(ctx, role.ID, write.ID))

		err := store.RemovePermissionFromRole(ctx, role.ID, write.ID)
		assert.True(t, errors.Is(err, ErrNotAssigned))

		perms, err := store.ListRolePermissions(ctx, role.ID)
		require.NoError(t, err)
		require.Len(t, perms, 1)
		assert.Equal(t, "page:read", perms[0].Name)
	})
}

func TestStore_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "STAFF", "")
	require.NoError(t, err)

	user, err := store.CreateUser(ctx, "carol", nil)
	require.NoError(t, err)
	assert.False(t, user.HasRole())
	assert.Empty(t, user.RoleName)

	t.Run("duplicate username", func(t *testing.T) {
		_, err := store.CreateUser(ctx, "carol", nil)
		assert.True(t, errors.Is(err, ErrDuplicateName))
	})

	t.Run("create with unknown role", func(t *testing.T) {
		_, err := store.CreateUser(ctx, "dave", int64Ptr(9999))
		assert.True(t, errors.Is(err, ErrRoleNotFound))
	})

	t.Run("assign and clear role", func(t *testing.T) {
		updated, err := store.AssignUserRole(ctx, user.ID, &role.ID)
		require.NoError(t, err)
		require.NotNil(t, updated.RoleID)
		assert.Equal(t, role.ID, *updated.RoleID)
		assert.Equal(t, "STAFF", updated.RoleName)

		cleared, err := store.AssignUserRole(ctx, user.ID, nil)
		require.NoError(t, err)
		assert.Nil(t, cleared.RoleID)
	})

	t.Run("assign errors", func(t *testing.T) {
		_, err := store.AssignUserRole(ctx, 9999, &role.ID)
		assert.True(t, errors.Is(err, ErrUserNotFound))

		_, err = store.AssignUserRole(ctx, user.ID, int64Ptr(9999))
		assert.True(t, errors.Is(err, ErrRoleNotFound))
	})
}

func TestStore_SetUserPermission(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePermission(ctx, "document:read", "")
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, "erin", nil)
	require.NoError(t, err)

	t.Run("grant then deny keeps one row", func(t *testing.T) {
		o, err := store.SetUserPermission(ctx, user.ID, "document:read", Grant())
		require.NoError(t, err)
		require.NotNil(t, o)
		assert.True(t, o.Granted)
		assert.Equal(t, OverrideGrant, o.State())

		o, err = store.SetUserPermission(ctx, user.ID, "document:read", Deny())
		require.NoError(t, err)
		assert.False(t, o.Granted)

		overrides, err := store.ListOverridesForUser(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, overrides, 1)
		assert.Equal(t, "document:read", overrides[0].PermissionName)
		assert.False(t, overrides[0].Granted)
	})

	t.Run("clear deletes the row", func(t *testing.T) {
		o, err := store.SetUserPermission(ctx, user.ID, "document:read", Clear())
		require.NoError(t, err)
		assert.Nil(t, o)

		overrides, err := store.ListOverridesForUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, overrides)

		_, err = store.SetUserPermission(ctx, user.ID, "document:read", Clear())
		assert.True(t, errors.Is(err, ErrNoOverrideFound))
	})

	t.Run("unknown user or permission", func(t *testing.T) {
		_, err := store.SetUserPermission(ctx, 9999, "document:read", Grant())
		assert.True(t, errors.Is(err, ErrUserNotFound))

		_, err = store.SetUserPermission(ctx, user.ID, "nope:read", Grant())
		assert.True(t, errors.Is(err, ErrPermissionNotFound))

		overrides, err := store.ListOverridesForUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Empty(t, overrides)
	})

	t.Run("unset value", func(t *testing.T) {
		_, err := store.SetUserPermission(ctx, user.ID, "document:read", OverrideValue{})
		assert.True(t, errors.Is(err, ErrInvalidOverrideValue))
	})

	t.Run("list for unknown user", func(t *testing.T) {
		_, err := store.ListOverridesForUser(ctx, 9999)
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

func TestStore_SetUserPermission_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.CreatePermission(ctx, "document:write", "")
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, "frank", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			value := Grant()
			if i%2 == 0 {
				value = Deny()
			}
			if _, err := store.SetUserPermission(ctx, user.ID, "document:write", value); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent override write failed: %v", err)
	}

	var rows int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM user_permissions WHERE user_id = $1", user.ID).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestStore_OverrideCascade(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	perm, err := store.CreatePermission(ctx, "report:read", "")
	require.NoError(t, err)
	user, err := store.CreateUser(ctx, "gina", nil)
	require.NoError(t, err)
	_, err = store.SetUserPermission(ctx, user.ID, "report:read", Grant())
	require.NoError(t, err)

	_, err = store.DB().ExecContext(ctx, "DELETE FROM permissions WHERE id = $1", perm.ID)
	require.NoError(t, err)

	overrides, err := store.ListOverridesForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, overrides)
}

func TestStore_DecisionState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	role, err := store.CreateRole(ctx, "READER", "")
	require.NoError(t, err)
	read, err := store.CreatePermission(ctx, "doc:read", "")
	require.NoError(t, err)
	_, err = store.CreatePermission(ctx, "doc:write", "")
	require.NoError(t, err)
	require.NoError(t, store.AssignPermissionToRole(ctx, role.ID, read.ID))

	user, err := store.CreateUser(ctx, "hank", &role.ID)
	require.NoError(t, err)

	state, err := store.DecisionState(ctx, user.ID, "doc:read")
	require.NoError(t, err)
	assert.Equal(t, DecisionState{Override: OverrideAbsent, RoleHolds: true, RoleName: "READER"}, state)

	_, err = store.SetUserPermission(ctx, user.ID, "doc:write", Grant())
	require.NoError(t, err)
	state, err = store.DecisionState(ctx, user.ID, "doc:write")
	require.NoError(t, err)
	assert.Equal(t, OverrideGrant, state.Override)
	assert.False(t, state.RoleHolds)

	t.Run("unknown user and permission give a zero state", func(t *testing.T) {
		state, err := store.DecisionState(ctx, 9999, "doc:read")
		require.NoError(t, err)
		assert.Equal(t, DecisionState{}, state)

		state, err = store.DecisionState(ctx, user.ID, "missing:perm")
		require.NoError(t, err)
		assert.Equal(t, OverrideAbsent, state.Override)
		assert.False(t, state.RoleHolds)
	})

	t.Run("permission states", func(t *testing.T) {
		states, err := store.PermissionStates(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, states, 2)
		assert.Equal(t, PermissionState{Permission: "doc:read", RoleHolds: true}, states[0])
		assert.Equal(t, PermissionState{Permission: "doc:write", Override: OverrideGrant}, states[1])

		_, err = store.PermissionStates(ctx, 9999)
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

func TestStore_DatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, storage.DialectPostgres)
	ctx := context.Background()

	t.Run("create permission failure is wrapped", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO permissions").WillReturnError(errors.New("connection reset"))

		_, err := store.CreatePermission(ctx, "x:read", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create permission")
	})

	t.Run("postgres unique violation", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO roles").WillReturnError(&pq.Error{Code: "23505"})

		_, err := store.CreateRole(ctx, "ADMIN", "")
		assert.True(t, errors.Is(err, ErrDuplicateName))
	})

	t.Run("delete role locks the row", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT id FROM roles WHERE id = \$1 FOR UPDATE`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM users WHERE role_id = \$1`).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectRollback()

		err := store.DeleteRole(ctx, 5)
		var inUse *RoleInUseError
		require.True(t, errors.As(err, &inUse))
		assert.Equal(t, int64(3), inUse.Count)
	})

	t.Run("decision state failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("timeout"))

		_, err := store.DecisionState(ctx, 1, "user:read")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load decision state")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
