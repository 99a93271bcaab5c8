package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/storage"
)

// Catalog is an additional set of permissions and roles to seed on top of
// the system ones
type Catalog struct {
	Permissions []PermissionSpec `json:"permissions" yaml:"permissions"`
	Roles       []RoleSpec       `json:"roles" yaml:"roles"`
}

// Empty reports whether the catalog seeds nothing
func (c Catalog) Empty() bool {
	return len(c.Permissions) == 0 && len(c.Roles) == 0
}

// SeedResult counts the rows a seeding step created
type SeedResult struct {
	RolesCreated       int `json:"roles_created"`
	PermissionsCreated int `json:"permissions_created"`
	LinksCreated       int `json:"links_created"`
}

func (r *SeedResult) add(o SeedResult) {
	r.RolesCreated += o.RolesCreated
	r.PermissionsCreated += o.PermissionsCreated
	r.LinksCreated += o.LinksCreated
}

func (r SeedResult) counts() map[string]int {
	return map[string]int{
		"role":       r.RolesCreated,
		"permission": r.PermissionsCreated,
		"link":       r.LinksCreated,
	}
}

// BootstrapOption configures a Bootstrapper
type BootstrapOption func(*Bootstrapper)

// WithMigrations runs schema migrations as the first step of Init
func WithMigrations(enabled bool) BootstrapOption {
	return func(b *Bootstrapper) {
		b.migrate = enabled
	}
}

// WithCatalog seeds an extra catalog after the system roles and permissions
func WithCatalog(c Catalog) BootstrapOption {
	return func(b *Bootstrapper) {
		b.catalog = c
	}
}

// WithBootstrapMetrics records bootstrap runs
func WithBootstrapMetrics(m *observability.Metrics) BootstrapOption {
	return func(b *Bootstrapper) {
		b.metrics = m
	}
}

// Bootstrapper guarantees the system roles and permissions exist. Every step
// is an insert-if-absent, so any number of runs, in any number of processes,
// converge on the same rows. It never removes anything.
type Bootstrapper struct {
	store   *Store
	logger  *observability.Logger
	metrics *observability.Metrics
	migrate bool

	mu      sync.RWMutex
	catalog Catalog

	group    singleflight.Group
	reseedMu sync.Mutex
	ready    atomic.Bool
}

// NewBootstrapper creates a bootstrapper for a store
func NewBootstrapper(store *Store, logger *observability.Logger, opts ...BootstrapOption) *Bootstrapper {
	if logger == nil {
		logger = observability.NopLogger()
	}
	b := &Bootstrapper{store: store, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Ready reports whether Init has completed successfully
func (b *Bootstrapper) Ready() bool {
	return b.ready.Load()
}

// Init performs the one-time initialization: migrations when enabled, the
// system roles and permissions, then the extra catalog. Concurrent callers
// share one run, and later calls return immediately once a run succeeded.
func (b *Bootstrapper) Init(ctx context.Context) error {
	if b.ready.Load() {
		return nil
	}

	_, err, _ := b.group.Do("init", func() (interface{}, error) {
		if b.ready.Load() {
			return nil, nil
		}
		if b.migrate {
			if err := RunMigrations(ctx, b.store.DB(), b.store.Dialect(), b.logger); err != nil {
				return nil, err
			}
		}
		if _, err := b.seed(ctx, b.currentCatalog()); err != nil {
			return nil, err
		}
		b.ready.Store(true)
		return nil, nil
	})
	return err
}

// Reseed replaces the extra catalog and applies it together with the system
// seed. Existing rows are kept. Calls run one at a time, each with its own
// catalog.
func (b *Bootstrapper) Reseed(ctx context.Context, c Catalog) (SeedResult, error) {
	b.reseedMu.Lock()
	defer b.reseedMu.Unlock()

	b.mu.Lock()
	b.catalog = c
	b.mu.Unlock()

	result, err := b.seed(ctx, c)
	if err != nil {
		return SeedResult{}, err
	}
	return result, nil
}

func (b *Bootstrapper) currentCatalog() Catalog {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.catalog
}

func (b *Bootstrapper) seed(ctx context.Context, c Catalog) (SeedResult, error) {
	ctx, span := tracer.Start(ctx, "rbac.Bootstrap")
	defer span.End()

	result, err := b.EnsureSystemPermissions(ctx)
	if err == nil && !c.Empty() {
		var extra SeedResult
		extra, err = b.ApplyCatalog(ctx, c)
		result.add(extra)
	}

	b.metrics.RecordBootstrap(err, result.counts())
	if err != nil {
		span.RecordError(err)
		b.logger.WithError(err).Error("Bootstrap failed")
		return result, err
	}

	b.logger.WithFields(map[string]interface{}{
		"roles_created":       result.RolesCreated,
		"permissions_created": result.PermissionsCreated,
		"links_created":       result.LinksCreated,
	}).Info("Bootstrap complete")
	return result, nil
}

// EnsureSystemRoles creates any missing system role and returns every role
func (b *Bootstrapper) EnsureSystemRoles(ctx context.Context) ([]*Role, error) {
	if _, err := b.ensureSystemRoles(ctx); err != nil {
		return nil, err
	}
	return b.store.ListRoles(ctx)
}

func (b *Bootstrapper) ensureSystemRoles(ctx context.Context) (int, error) {
	created := 0
	for _, spec := range SystemRoles() {
		ok, err := b.store.ensureRole(ctx, spec, true)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// EnsureSystemPermissions ensures the system roles, creates any missing
// system permission, then grants ADMIN every permission and MANAGER every
// ":read" permission it does not hold yet
func (b *Bootstrapper) EnsureSystemPermissions(ctx context.Context) (SeedResult, error) {
	var result SeedResult

	n, err := b.ensureSystemRoles(ctx)
	result.RolesCreated = n
	if err != nil {
		return result, err
	}

	for _, spec := range SystemPermissions() {
		ok, err := b.store.ensurePermission(ctx, spec)
		if err != nil {
			return result, err
		}
		if ok {
			result.PermissionsCreated++
		}
	}

	links, err := b.grantSystemRoles(ctx)
	result.LinksCreated = links
	return result, err
}

// grantSystemRoles links ADMIN to all permissions and MANAGER to all read
// permissions
func (b *Bootstrapper) grantSystemRoles(ctx context.Context) (int, error) {
	permissions, err := b.store.ListPermissions(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	grants := []struct {
		role  string
		match func(string) bool
	}{
		{role: RoleAdmin, match: func(string) bool { return true }},
		{role: RoleManager, match: IsReadPermission},
	}

	for _, g := range grants {
		role, err := b.store.GetRoleByName(ctx, g.role)
		if err != nil {
			return created, err
		}
		held, err := b.store.ListRolePermissions(ctx, role.ID)
		if err != nil {
			return created, err
		}
		holds := make(map[int64]bool, len(held))
		for _, p := range held {
			holds[p.ID] = true
		}

		for _, p := range permissions {
			if holds[p.ID] || !g.match(p.Name) {
				continue
			}
			ok, err := b.store.linkIfAbsent(ctx, b.store.DB(), role.ID, p.ID)
			if err != nil {
				return created, err
			}
			if ok {
				created++
			}
		}
	}
	return created, nil
}

// ApplyCatalog creates the catalog's missing permissions, roles and links.
// Role entries may reference permissions from the catalog itself or ones
// that already exist. ADMIN and MANAGER are then topped up.
func (b *Bootstrapper) ApplyCatalog(ctx context.Context, c Catalog) (SeedResult, error) {
	var result SeedResult

	for _, spec := range c.Permissions {
		if err := validateName("permission", strings.TrimSpace(spec.Name)); err != nil {
			return result, err
		}
		ok, err := b.store.ensurePermission(ctx, spec)
		if err != nil {
			return result, err
		}
		if ok {
			result.PermissionsCreated++
		}
	}

	for _, spec := range c.Roles {
		if err := validateName("role", strings.TrimSpace(spec.Name)); err != nil {
			return result, err
		}
		ok, err := b.store.ensureRole(ctx, spec, IsSystemRole(spec.Name))
		if err != nil {
			return result, err
		}
		if ok {
			result.RolesCreated++
		}

		role, err := b.store.GetRoleByName(ctx, strings.TrimSpace(spec.Name))
		if err != nil {
			return result, err
		}
		for _, name := range spec.Permissions {
			p, err := b.store.GetPermissionByName(ctx, name)
			if err != nil {
				return result, fmt.Errorf("catalog role %s: %w", spec.Name, err)
			}
			linked, err := b.store.linkIfAbsent(ctx, b.store.DB(), role.ID, p.ID)
			if err != nil {
				return result, err
			}
			if linked {
				result.LinksCreated++
			}
		}
	}

	links, err := b.grantSystemRoles(ctx)
	result.LinksCreated += links
	return result, err
}

// ensureRole inserts a role unless one with the same name exists. A unique
// violation from a concurrent insert counts as existing.
func (s *Store) ensureRole(ctx context.Context, spec RoleSpec, isSystem bool) (bool, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, is_system, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`, strings.TrimSpace(spec.Name), spec.Description, isSystem, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || storage.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to ensure role %s: %w", spec.Name, err)
	}
	return true, nil
}

// ensurePermission inserts a permission unless one with the same name exists
func (s *Store) ensurePermission(ctx context.Context, spec PermissionSpec) (bool, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO permissions (name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`, strings.TrimSpace(spec.Name), spec.Description, now).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) || storage.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to ensure permission %s: %w", spec.Name, err)
	}
	return true, nil
}
