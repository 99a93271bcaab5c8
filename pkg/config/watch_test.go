package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/permit/pkg/rbac"
)

type fakeReseeder struct {
	mu       sync.Mutex
	catalogs []rbac.Catalog
}

func (f *fakeReseeder) Reseed(ctx context.Context, c rbac.Catalog) (rbac.SeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalogs = append(f.catalogs, c)
	return rbac.SeedResult{RolesCreated: len(c.Roles)}, nil
}

func (f *fakeReseeder) calls() []rbac.Catalog {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rbac.Catalog(nil), f.catalogs...)
}

func startWatcher(t *testing.T, path string, r Reseeder) *CatalogWatcher {
	t.Helper()
	w := NewCatalogWatcher(path, r, nil)
	w.debounce = 20 * time.Millisecond
	w.applied = make(chan error, 4)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(func() { w.Close() })
	return w
}

func waitApplied(t *testing.T, w *CatalogWatcher) error {
	t.Helper()
	select {
	case err := <-w.applied:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not applied")
		return nil
	}
}

func TestCatalogWatcher_AppliesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("permissions: []\n"), 0o600))

	reseeder := &fakeReseeder{}
	w := startWatcher(t, path, reseeder)

	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))
	require.NoError(t, waitApplied(t, w))

	calls := reseeder.calls()
	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	require.Len(t, last.Roles, 1)
	assert.Equal(t, "ACCOUNTANT", last.Roles[0].Name)
}

func TestCatalogWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	reseeder := &fakeReseeder{}
	w := startWatcher(t, path, reseeder)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))
	select {
	case <-w.applied:
		t.Fatal("unrelated file triggered a reseed")
	case <-time.After(200 * time.Millisecond):
	}
	assert.Empty(t, reseeder.calls())
}

func TestCatalogWatcher_BrokenFileIsSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	reseeder := &fakeReseeder{}
	w := startWatcher(t, path, reseeder)

	require.NoError(t, os.WriteFile(path, []byte("roles: [\n"), 0o600))
	err := waitApplied(t, w)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid catalog")
	assert.Empty(t, reseeder.calls())
}

func TestCatalogWatcher_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	w := NewCatalogWatcher(path, &fakeReseeder{}, nil)
	require.NoError(t, w.Start(context.Background()))

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestCatalogWatcher_MissingDirectory(t *testing.T) {
	w := NewCatalogWatcher(filepath.Join(t.TempDir(), "nope", "catalog.yaml"), &fakeReseeder{}, nil)
	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}
