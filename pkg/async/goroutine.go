package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var logger atomic.Pointer[logrus.Logger]

// SetLogger replaces the logger used to report task failures. The default is
// logrus.StandardLogger().
func SetLogger(l *logrus.Logger) {
	logger.Store(l)
}

func currentLogger() *logrus.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return logrus.StandardLogger()
}

// withTimeout bounds ctx when timeout is positive.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// SafeGo runs fn in a goroutine with panic recovery and an optional timeout.
// Errors and panics are logged, never propagated.
//
// Example:
//
//	SafeGo(ctx, 0, "role metadata watcher", func(ctx context.Context) error {
//	    return loader.Watch(ctx)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := withTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				currentLogger().WithFields(logrus.Fields{
					"task":  taskName,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Background task panicked")
			}
		}()

		if err := fn(ctx); err != nil && ctx.Err() == nil {
			currentLogger().WithField("task", taskName).WithError(err).Error("Background task failed")
		}
	}()
}

// SafeGoNoError is like SafeGo but for functions that don't return errors.
func SafeGoNoError(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context)) {
	SafeGo(parentCtx, timeout, taskName, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// WorkerPool runs submitted tasks on a fixed number of goroutines.
type WorkerPool struct {
	workers   int
	taskName  string
	timeout   time.Duration
	workCh    chan func(context.Context) error
	doneCh    chan struct{}
	errCh     chan error
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewWorkerPool starts workers goroutines. Each task gets its own timeout
// derived from ctx.
//
//	pool := NewWorkerPool(ctx, 8, "cache warm-up", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues a task. It blocks while the queue is full and fails once the
// pool is closed or its context is done.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("worker pool %s shut down", p.taskName)
	}
	if err := p.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool %s: %w", p.taskName, err)
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool %s: %w", p.taskName, p.ctx.Err())
	}
}

// close stops accepting tasks; queued tasks still run.
func (p *WorkerPool) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()
	})
}

// Wait closes the pool and blocks until every queued task has finished.
func (p *WorkerPool) Wait() {
	p.close()
	<-p.doneCh
	p.cancel()
}

// Shutdown closes the pool and waits up to timeout for queued tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.close()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

// Errors returns a channel that receives task errors. Errors beyond the
// buffer are logged and dropped.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		currentLogger().WithField("task", p.taskName).WithError(err).Warn("Error channel full, dropping error")
	}
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := withTimeout(p.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			currentLogger().WithFields(logrus.Fields{
				"task":   p.taskName,
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("Worker panicked: %v", r)
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

// BatchResult summarizes a Batch run.
type BatchResult struct {
	Processed int
	Errors    []error
}

// Batch runs fn over items on a worker pool and waits for all of them.
//
//	result := Batch(ctx, userIDs, 8, "cache warm-up", 5*time.Second, func(ctx context.Context, id uuid.UUID) error {
//	    _, err := resolver.Resolve(ctx, id)
//	    return err
//	})
func Batch[T any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, T) error) BatchResult {

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	var processed atomic.Int64

	var errs []error
	var errMu sync.Mutex
	var collect sync.WaitGroup
	collect.Add(1)
	go func() {
		defer collect.Done()
		for err := range pool.errCh {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
		}
	}()

	for _, item := range items {
		item := item
		if err := pool.Submit(func(ctx context.Context) error {
			if err := fn(ctx, item); err != nil {
				return err
			}
			processed.Add(1)
			return nil
		}); err != nil {
			errMu.Lock()
			errs = append(errs, err)
			errMu.Unlock()
			break
		}
	}

	pool.Wait()
	close(pool.errCh)
	collect.Wait()

	return BatchResult{Processed: int(processed.Load()), Errors: errs}
}
