package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

const defaultShutdownTimeout = 30 * time.Second

// ShutdownFunc releases one resource.
type ShutdownFunc func(context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager drains HTTP servers and then runs cleanup hooks in reverse
// registration order, so later resources are released before the ones they
// depend on.
type ShutdownManager struct {
	logger  *Logger
	servers []*http.Server
	timeout time.Duration

	mu    sync.Mutex
	hooks []hook
}

// NewShutdownManager creates a shutdown manager. A zero timeout means 30s.
func NewShutdownManager(logger *Logger, timeout time.Duration, servers ...*http.Server) *ShutdownManager {
	if logger == nil {
		logger = Default()
	}
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &ShutdownManager{logger: logger, servers: servers, timeout: timeout}
}

// OnShutdown registers a named cleanup hook. nil hooks are ignored.
func (sm *ShutdownManager) OnShutdown(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, hook{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT, SIGTERM or ctx cancellation, then
// shuts down within the configured timeout.
func (sm *ShutdownManager) WaitForShutdown(ctx context.Context) error {
	sig, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sig.Done()

	if ctx.Err() != nil {
		sm.logger.Info("Context cancelled, starting graceful shutdown")
	} else {
		sm.logger.Info("Signal received, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown drains every server concurrently, then runs the hooks one by one.
// Every hook runs even after ctx expires; errors are joined.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var errs []error

	serverErrs := make([]error, len(sm.servers))
	var g errgroup.Group
	for i, srv := range sm.servers {
		i, srv := i, srv
		g.Go(func() error {
			sm.logger.WithField("addr", srv.Addr).Info("Draining HTTP server")
			if err := srv.Shutdown(ctx); err != nil {
				serverErrs[i] = fmt.Errorf("server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	errs = append(errs, serverErrs...)

	sm.mu.Lock()
	hooks := append([]hook(nil), sm.hooks...)
	sm.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		if err := hooks[i].fn(ctx); err != nil {
			sm.logger.WithField("hook", hooks[i].name).WithError(err).Error("Shutdown hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", hooks[i].name, err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	sm.logger.Info("Graceful shutdown complete")
	return nil
}
