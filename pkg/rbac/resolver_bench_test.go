package rbac

import (
	"context"
	"testing"

	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

func newBenchResolver(b *testing.B) (*Resolver, int64) {
	b.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Config{Driver: storage.DriverSQLite, URL: ":memory:"})
	if err != nil {
		b.Fatalf("Failed to open database: %v", err)
	}
	b.Cleanup(func() { db.Close() })

	if err := RunMigrations(ctx, db, storage.DialectSQLite, observability.NopLogger()); err != nil {
		b.Fatalf("Failed to migrate: %v", err)
	}
	store := NewStore(db, storage.DialectSQLite)
	if err := NewBootstrapper(store, observability.NopLogger()).Init(ctx); err != nil {
		b.Fatalf("Failed to bootstrap: %v", err)
	}

	role, err := store.GetRoleByName(ctx, RoleUser)
	if err != nil {
		b.Fatalf("Failed to load role: %v", err)
	}
	user, err := store.CreateUser(ctx, "bench", &role.ID)
	if err != nil {
		b.Fatalf("Failed to create user: %v", err)
	}
	if _, err := store.SetUserPermission(ctx, user.ID, PermDocumentWrite, Deny()); err != nil {
		b.Fatalf("Failed to set override: %v", err)
	}

	return NewResolver(store, observability.NopLogger()), user.ID
}

// BenchmarkResolveDecision measures a single decision including the state read
func BenchmarkResolveDecision(b *testing.B) {
	resolver, userID := newBenchResolver(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resolver.ResolveDecision(ctx, userID, PermDocumentWrite)
	}
}

func BenchmarkEffectivePermissions(b *testing.B) {
	resolver, userID := newBenchResolver(b)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := resolver.EffectivePermissions(ctx, userID); err != nil {
			b.Errorf("EffectivePermissions failed: %v", err)
		}
	}
}

func BenchmarkDecide(b *testing.B) {
	overrides := []Override{OverrideAbsent, OverrideGrant, OverrideDeny}
	for i := 0; i < b.N; i++ {
		Decide(overrides[i%3], i%2 == 0)
	}
}
