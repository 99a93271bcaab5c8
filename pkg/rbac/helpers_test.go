package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

// newTestStore returns a store over a migrated in-memory SQLite database
func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, RunMigrations(ctx, db, storage.DialectSQLite, observability.NopLogger()))
	return NewStore(db, storage.DialectSQLite)
}

// newSeededStore returns a migrated store with the system roles and
// permissions in place
func newSeededStore(t *testing.T) (*Store, *Bootstrapper) {
	t.Helper()
	store := newTestStore(t)
	b := NewBootstrapper(store, observability.NopLogger())
	require.NoError(t, b.Init(context.Background()))
	return store, b
}

// mustUser creates a user holding the named role, or no role when roleName
// is empty
func mustUser(t *testing.T, store *Store, username, roleName string) *User {
	t.Helper()
	ctx := context.Background()

	var roleID *int64
	if roleName != "" {
		role, err := store.GetRoleByName(ctx, roleName)
		require.NoError(t, err)
		roleID = &role.ID
	}

	user, err := store.CreateUser(ctx, username, roleID)
	require.NoError(t, err)
	return user
}

func principalOf(u *User) auth.Principal {
	return auth.Principal{UserID: u.ID, RoleName: u.RoleName}
}

func boolPtr(v bool) *bool {
	return &v
}

func int64Ptr(v int64) *int64 {
	return &v
}
