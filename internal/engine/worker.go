package engine

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/clienthub/automation/pkg/schema"
)

const defaultPoolSize = 8

// PoolMetrics is a point-in-time snapshot of worker pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds the number of concurrently running jobs. Each job runs in
// its own goroutine behind a semaphore; panics are contained and counted.
type WorkerPool struct {
	sem    chan struct{}
	logger *slog.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool creates a pool running at most size jobs at once.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = defaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		sem:    make(chan struct{}, size),
		logger: logger,
	}
}

// Submit schedules a job, blocking while the pool is saturated. Returns an
// error if the pool is shut down or the context expires before a slot frees.
func (p *WorkerPool) Submit(ctx context.Context, name string, job func(ctx context.Context) error) error {
	// wg.Add happens under the same lock as the closed check so Shutdown
	// cannot miss an in-flight submission.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return schema.NewError(schema.ErrCodeCancelled, "worker pool is shut down")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.wg.Done()
		return schema.NewErrorf(schema.ErrCodeCancelled, "job %q: %s", name, ctx.Err().Error()).WithCause(ctx.Err())
	}

	go func() {
		defer p.wg.Done()
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				p.failed.Add(1)
				p.active.Add(-1)
				p.logger.Error("job panicked",
					slog.String("job", name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()

		p.active.Add(1)
		err := job(ctx)
		p.active.Add(-1)
		if err != nil {
			p.failed.Add(1)
			p.logger.Warn("job failed", slog.String("job", name), slog.String("error", err.Error()))
			return
		}
		p.completed.Add(1)
	}()
	return nil
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

// Shutdown stops accepting jobs and waits for in-flight jobs to finish or the
// context to expire.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return schema.NewErrorf(schema.ErrCodeTimeout, "worker pool shutdown: %s", ctx.Err().Error()).WithCause(ctx.Err())
	}
}
