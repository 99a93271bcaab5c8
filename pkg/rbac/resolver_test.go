package rbac

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/auth"
	"github.com/platinummonkey/permit/pkg/observability"
)

// fakeState serves decision inputs from memory
type fakeState struct {
	states map[string]DecisionState
	err    error
	calls  int
}

func (f *fakeState) DecisionState(ctx context.Context, userID int64, permission string) (DecisionState, error) {
	f.calls++
	if f.err != nil {
		return DecisionState{}, f.err
	}
	return f.states[permission], nil
}

func (f *fakeState) PermissionStates(ctx context.Context, userID int64) ([]PermissionState, error) {
	if f.err != nil {
		return nil, f.err
	}
	states := make([]PermissionState, 0, len(f.states))
	for _, name := range []string{PermDocumentRead, PermRoleWrite, PermUserRead} {
		if st, ok := f.states[name]; ok {
			states = append(states, PermissionState{Permission: name, Override: st.Override, RoleHolds: st.RoleHolds})
		}
	}
	return states, nil
}

func TestResolver_ResolveDecision_FailsClosed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	state := &fakeState{err: errors.New("database is down")}
	resolver := NewResolver(state, observability.NopLogger(), WithResolverMetrics(metrics))

	assert.False(t, resolver.ResolveDecision(context.Background(), 1, PermUserRead))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DecisionErrorsTotal))
}

func TestResolver_ResolveDecision_RecordsSource(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	state := &fakeState{states: map[string]DecisionState{
		PermDocumentRead: {RoleHolds: true, Override: OverrideDeny},
	}}
	resolver := NewResolver(state, nil, WithResolverMetrics(metrics))

	assert.False(t, resolver.ResolveDecision(context.Background(), 1, PermDocumentRead))
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.DecisionsTotal.WithLabelValues("deny", string(SourceOverrideDeny))))
}

func TestResolver_IsAdminOrHasPermission(t *testing.T) {
	p := auth.Principal{UserID: 1, RoleName: RoleAdmin}

	tests := []struct {
		name   string
		states map[string]DecisionState
		strict bool
		want   bool
	}{
		{
			name:   "holds permission",
			states: map[string]DecisionState{PermDocumentRead: {RoleHolds: true}},
			want:   true,
		},
		{
			name: "deny override stops an admin",
			states: map[string]DecisionState{
				PermDocumentRead: {RoleHolds: true, Override: OverrideDeny, RoleName: RoleAdmin},
				PermRoleWrite:    {RoleHolds: true, RoleName: RoleAdmin},
			},
			want: false,
		},
		{
			name: "strict bypass honors the admin capability",
			states: map[string]DecisionState{
				PermDocumentRead: {RoleHolds: true, Override: OverrideDeny, RoleName: RoleManager},
				PermRoleWrite:    {Override: OverrideGrant, RoleName: RoleManager},
			},
			strict: true,
			want:   true,
		},
		{
			name: "strict bypass trusts the stored ADMIN role",
			states: map[string]DecisionState{
				PermDocumentRead: {RoleHolds: true, Override: OverrideDeny, RoleName: RoleAdmin},
				PermRoleWrite:    {RoleHolds: true, Override: OverrideDeny, RoleName: RoleAdmin},
			},
			strict: true,
			want:   true,
		},
		{
			name:   "strict bypass ignores the principal's claimed role",
			states: map[string]DecisionState{PermDocumentRead: {RoleName: RoleUser}},
			strict: true,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(&fakeState{states: tt.states}, nil, WithStrictAdminBypass(tt.strict))
			assert.Equal(t, tt.want, resolver.IsAdminOrHasPermission(context.Background(), p, PermDocumentRead))
		})
	}
}

func TestResolver_IsAdminOrHasPermission_SingleRead(t *testing.T) {
	state := &fakeState{states: map[string]DecisionState{}}
	resolver := NewResolver(state, nil)

	assert.False(t, resolver.IsAdminOrHasPermission(context.Background(), auth.Principal{UserID: 1}, PermDocumentRead))
	assert.Equal(t, 1, state.calls)

	strict := NewResolver(state, nil, WithStrictAdminBypass(true))
	assert.False(t, strict.IsAdminOrHasPermission(context.Background(), auth.Principal{UserID: 1}, AdminCapability))
	assert.Equal(t, 2, state.calls)
}

func TestResolver_DecisionSeriesStayBounded(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	resolver := NewResolver(&fakeState{states: map[string]DecisionState{}}, nil, WithResolverMetrics(metrics))

	names := make([]string, 0, 500)
	for i := 0; i < 500; i++ {
		names = append(names, fmt.Sprintf("junk:%d", i))
	}
	resolver.Check(context.Background(), 1, names)

	assert.Equal(t, 1, testutil.CollectAndCount(metrics.DecisionsTotal))
	assert.Equal(t, float64(500), testutil.ToFloat64(metrics.DecisionsTotal.WithLabelValues("deny", string(SourceNone))))
}

func TestResolver_Check(t *testing.T) {
	state := &fakeState{states: map[string]DecisionState{
		PermDocumentRead: {RoleHolds: true},
		PermUserRead:     {Override: OverrideGrant},
	}}
	resolver := NewResolver(state, nil)

	decisions := resolver.Check(context.Background(), 1, []string{PermDocumentRead, PermUserRead, PermRoleWrite, PermDocumentRead})
	assert.Equal(t, map[string]bool{
		PermDocumentRead: true,
		PermUserRead:     true,
		PermRoleWrite:    false,
	}, decisions)
	assert.Equal(t, 3, state.calls)
}

func TestResolver_EffectivePermissions(t *testing.T) {
	t.Run("sources", func(t *testing.T) {
		state := &fakeState{states: map[string]DecisionState{
			PermDocumentRead: {RoleHolds: true},
			PermRoleWrite:    {RoleHolds: true, Override: OverrideDeny},
			PermUserRead:     {Override: OverrideGrant},
		}}
		resolver := NewResolver(state, nil)

		effective, err := resolver.EffectivePermissions(context.Background(), 1)
		require.NoError(t, err)
		assert.Equal(t, []EffectivePermission{
			{Permission: PermDocumentRead, Allowed: true, Source: SourceRole},
			{Permission: PermRoleWrite, Allowed: false, Source: SourceOverrideDeny},
			{Permission: PermUserRead, Allowed: true, Source: SourceOverrideGrant},
		}, effective)
	})

	t.Run("errors are returned", func(t *testing.T) {
		resolver := NewResolver(&fakeState{err: ErrUserNotFound}, nil)
		_, err := resolver.EffectivePermissions(context.Background(), 1)
		assert.True(t, errors.Is(err, ErrUserNotFound))
	})
}

// The tests below run the resolver against a real seeded database.

func TestResolver_RoleMembership(t *testing.T) {
	store, _ := newSeededStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()

	manager := mustUser(t, store, "manager", RoleManager)
	plain := mustUser(t, store, "plain", RoleUser)
	roleless := mustUser(t, store, "roleless", "")

	assert.True(t, resolver.ResolveDecision(ctx, manager.ID, PermDocumentRead))
	assert.False(t, resolver.ResolveDecision(ctx, manager.ID, PermDocumentWrite))
	assert.False(t, resolver.ResolveDecision(ctx, plain.ID, PermDocumentRead))
	assert.False(t, resolver.ResolveDecision(ctx, roleless.ID, PermDocumentRead))

	// Unknown users and permissions are denied, not errors
	assert.False(t, resolver.ResolveDecision(ctx, 9999, PermDocumentRead))
	assert.False(t, resolver.ResolveDecision(ctx, manager.ID, "nope:read"))
}

func TestResolver_OverridesDominate(t *testing.T) {
	store, _ := newSeededStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()

	manager := mustUser(t, store, "manager", RoleManager)
	roleless := mustUser(t, store, "roleless", "")

	// Deny beats role membership
	_, err := store.SetUserPermission(ctx, manager.ID, PermDocumentRead, Deny())
	require.NoError(t, err)
	assert.False(t, resolver.ResolveDecision(ctx, manager.ID, PermDocumentRead))

	// Grant beats the absence of a role
	_, err = store.SetUserPermission(ctx, roleless.ID, PermDocumentWrite, Grant())
	require.NoError(t, err)
	assert.True(t, resolver.ResolveDecision(ctx, roleless.ID, PermDocumentWrite))

	// Clearing restores the role decision
	_, err = store.SetUserPermission(ctx, manager.ID, PermDocumentRead, Clear())
	require.NoError(t, err)
	assert.True(t, resolver.ResolveDecision(ctx, manager.ID, PermDocumentRead))
}

func TestResolver_ReadsStoredRole(t *testing.T) {
	store, _ := newSeededStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()

	user := mustUser(t, store, "claims-admin", RoleUser)

	// The principal's role name is informational only
	claimed := auth.Principal{UserID: user.ID, RoleName: RoleAdmin}
	assert.False(t, resolver.IsAdmin(ctx, claimed))
	assert.False(t, resolver.IsAdminOrHasPermission(ctx, claimed, PermDocumentWrite))

	// A role change is visible to the next decision
	admin, err := store.GetRoleByName(ctx, RoleAdmin)
	require.NoError(t, err)
	_, err = store.AssignUserRole(ctx, user.ID, &admin.ID)
	require.NoError(t, err)
	assert.True(t, resolver.IsAdmin(ctx, claimed))
}

func TestResolver_AdminWithDenyOverride(t *testing.T) {
	store, _ := newSeededStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()

	admin := mustUser(t, store, "root", RoleAdmin)
	p := principalOf(admin)

	_, err := store.SetUserPermission(ctx, admin.ID, PermDocumentRead, Deny())
	require.NoError(t, err)

	// The admin keeps admin status and every other permission
	assert.False(t, resolver.ResolveDecision(ctx, admin.ID, PermDocumentRead))
	assert.False(t, resolver.IsAdminOrHasPermission(ctx, p, PermDocumentRead))
	assert.True(t, resolver.IsAdmin(ctx, p))
	assert.True(t, resolver.IsAdminOrHasPermission(ctx, p, PermDocumentWrite))

	strict := NewResolver(store, nil, WithStrictAdminBypass(true))
	assert.True(t, strict.IsAdminOrHasPermission(ctx, p, PermDocumentRead))
}

func TestResolver_EffectivePermissions_Seeded(t *testing.T) {
	store, _ := newSeededStore(t)
	resolver := NewResolver(store, nil)
	ctx := context.Background()

	manager := mustUser(t, store, "manager", RoleManager)
	_, err := store.SetUserPermission(ctx, manager.ID, PermDocumentWrite, Grant())
	require.NoError(t, err)

	effective, err := resolver.EffectivePermissions(ctx, manager.ID)
	require.NoError(t, err)
	require.Len(t, effective, len(SystemPermissions()))

	byName := make(map[string]EffectivePermission, len(effective))
	for i, e := range effective {
		if i > 0 {
			assert.Less(t, effective[i-1].Permission, e.Permission)
		}
		byName[e.Permission] = e
		assert.Equal(t, resolver.ResolveDecision(ctx, manager.ID, e.Permission), e.Allowed, e.Permission)
	}
	assert.Equal(t, SourceRole, byName[PermUserRead].Source)
	assert.Equal(t, SourceOverrideGrant, byName[PermDocumentWrite].Source)
	assert.Equal(t, SourceNone, byName[PermRoleWrite].Source)
}
