package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/permit/pkg/observability"
	"github.com/platinummonkey/permit/pkg/rbac"
)

// Reseeder applies a catalog; *rbac.Bootstrapper implements it
type Reseeder interface {
	Reseed(ctx context.Context, c rbac.Catalog) (rbac.SeedResult, error)
}

// CatalogWatcher re-applies the catalog file whenever it is written. Events
// are debounced so an editor's save sequence applies once.
type CatalogWatcher struct {
	path     string
	reseeder Reseeder
	logger   *observability.Logger
	debounce time.Duration

	// applied is signalled after every apply attempt; tests read it
	applied chan error

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewCatalogWatcher creates a watcher for path
func NewCatalogWatcher(path string, reseeder Reseeder, logger *observability.Logger) *CatalogWatcher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &CatalogWatcher{
		path:     path,
		reseeder: reseeder,
		logger:   logger.WithField("catalog", path),
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}
}

// Start begins watching the file's directory, so atomic renames are seen
// as well as writes
func (w *CatalogWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer observability.RecoverPanic(w.logger, "catalog watcher")
		w.loop(ctx)
	}()

	w.logger.Info("Watching permission catalog")
	return nil
}

func (w *CatalogWatcher) loop(ctx context.Context) {
	target := filepath.Clean(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.apply(ctx)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Catalog watcher error")
		}
	}
}

// apply loads and reseeds once. A broken file is logged and skipped; the
// previously applied catalog stays in effect.
func (w *CatalogWatcher) apply(ctx context.Context) {
	err := w.reload(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Failed to apply permission catalog")
	}
	if w.applied != nil {
		select {
		case w.applied <- err:
		default:
		}
	}
}

func (w *CatalogWatcher) reload(ctx context.Context) error {
	c, err := LoadCatalog(w.path)
	if err != nil {
		return err
	}
	result, err := w.reseeder.Reseed(ctx, c)
	if err != nil {
		return err
	}
	w.logger.WithFields(map[string]interface{}{
		"roles_created":       result.RolesCreated,
		"permissions_created": result.PermissionsCreated,
		"links_created":       result.LinksCreated,
	}).Info("Applied permission catalog")
	return nil
}

// Close stops the watcher and waits for the loop to exit
func (w *CatalogWatcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}
