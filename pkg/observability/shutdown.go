package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager stops HTTP servers and runs cleanup in reverse
// registration order
type ShutdownManager struct {
	logger   *Logger
	servers  []*http.Server
	funcs    []namedShutdown
	timeout  time.Duration
	mu       sync.Mutex
	signals  []os.Signal
	shutdown sync.Once
}

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		servers: servers,
		timeout: timeout,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// RegisterShutdownFunc registers a named cleanup function
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// AddServers attaches servers to stop before the cleanup functions run
func (sm *ShutdownManager) AddServers(servers ...*http.Server) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.servers = append(sm.servers, servers...)
}

// WaitForShutdown blocks until a termination signal arrives or ctx is
// cancelled, then shuts everything down
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, sm.signals...)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, starting graceful shutdown")
	return sm.Shutdown()
}

// Shutdown stops servers first, then runs the cleanup functions with the
// most recently registered first. It only runs once.
func (sm *ShutdownManager) Shutdown() error {
	var result error
	sm.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		sm.mu.Lock()
		servers := make([]*http.Server, len(sm.servers))
		copy(servers, sm.servers)
		funcs := make([]namedShutdown, len(sm.funcs))
		copy(funcs, sm.funcs)
		sm.mu.Unlock()

		var errs []error
		for _, server := range servers {
			if err := server.Shutdown(ctx); err != nil {
				sm.logger.WithError(err).Errorf("HTTP server %s shutdown error", server.Addr)
				errs = append(errs, fmt.Errorf("server %s: %w", server.Addr, err))
			}
		}

		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			if ctx.Err() != nil {
				errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", f.name))
				break
			}
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
				continue
			}
			sm.logger.Debugf("Shutdown of %s complete", f.name)
		}

		result = errors.Join(errs...)
		if result == nil {
			sm.logger.Info("Graceful shutdown complete")
		}
	})
	return result
}
