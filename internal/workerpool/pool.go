// Package workerpool implements the bounded-concurrency job executor
// a fixed number of workers drain a FIFO queue,
// byte-sized jobs apply backpressure against a memory budget, and a worker
// that exits abnormally is retried exactly once before its job is reported
// failed.
//
// The teacher already reaches for golang.org/x/sync/errgroup for bounded
// parallel fan-out (esmdev/prebundle.go's prebundleAllPackages,
// esmdev.go's request handling); RunMany reuses that shape directly via
// errgroup.Group.SetLimit, and the pool builds on the same module's
// semaphore.Weighted for byte-based backpressure rather than introducing an
// unrelated limiter.
package workerpool

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ionifyjs/ionify/internal/ionifyerr"
)

// Job is a unit of work submitted to the pool. Size is the estimated byte
// cost used for backpressure (e.g. source file size); it must be >= 1. Path
// identifies the job for diagnostics (e.g. the module path being
// transformed); it is optional.
type Job struct {
	Size int64
	Path string
	Run  func(ctx context.Context) (any, error)
}

// Pool is a bounded worker pool with byte-based backpressure.
type Pool struct {
	maxBytes int64
	sem      *semaphore.Weighted

	queueMu sync.Mutex
	workers int

	closeOnce   sync.Once
	closed      chan struct{}
	closeCtx    context.Context
	closeCancel context.CancelFunc
}

// DefaultSize returns max(1, NumCPU-1), the pool size used when the caller
// does not override it.
func DefaultSize() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

// New constructs a Pool with the given worker count and byte budget. A
// maxBytes of 0 disables backpressure.
func New(workers int, maxBytes int64) *Pool {
	if workers < 1 {
		workers = DefaultSize()
	}
	var sem *semaphore.Weighted
	if maxBytes > 0 {
		sem = semaphore.NewWeighted(maxBytes)
	}
	closeCtx, closeCancel := context.WithCancel(context.Background())
	return &Pool{
		maxBytes:    maxBytes,
		sem:         sem,
		workers:     workers,
		closed:      make(chan struct{}),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}
}

// Run executes a single job, applying the pool's byte backpressure and the
// crash-retry policy. It returns *ionifyerr.PoolClosed if the pool has been
// closed.
func (p *Pool) Run(ctx context.Context, job Job) (any, error) {
	select {
	case <-p.closed:
		return nil, &ionifyerr.PoolClosed{}
	default:
	}

	size := job.Size
	if size < 1 {
		size = 1
	}
	if p.sem != nil {
		// Acquire must wake up on Close, not just on ctx — otherwise a
		// caller blocked here when the pool closes waits forever.
		acquireCtx, cancel := context.WithCancel(ctx)
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-p.closeCtx.Done():
				cancel()
			case <-stopWatch:
			}
		}()
		err := p.sem.Acquire(acquireCtx, size)
		close(stopWatch)
		cancel()
		if err != nil {
			if p.closeCtx.Err() != nil {
				return nil, &ionifyerr.PoolClosed{}
			}
			return nil, err
		}
		defer p.sem.Release(size)
	}

	return p.runWithRetry(ctx, job)
}

// runWithRetry executes job.Run, retrying exactly once if the run panics
// (the pool's stand-in for "the worker process exited abnormally": a
// recovered panic is the in-process signal that a job crashed its goroutine
// rather than returning a normal error). A job that returns a regular error
// is not retried.
func (p *Pool) runWithRetry(ctx context.Context, job Job) (value any, err error) {
	value, err, crashed := p.runOnce(ctx, job)
	if crashed {
		value, err, crashed = p.runOnce(ctx, job)
		if crashed {
			return nil, &ionifyerr.TransformError{Path: job.Path, Err: fmt.Errorf("workerpool: job crashed twice: %w", err)}
		}
	}
	return value, err
}

func (p *Pool) runOnce(ctx context.Context, job Job) (value any, err error, crashed bool) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("workerpool: panic: %v", r)
				crashed = true
			}
		}()
		value, err = job.Run(ctx)
	}()
	<-done
	return value, err, crashed
}

// RunMany submits jobs to the pool with bounded concurrency (the pool's
// configured worker count) and returns results in the same order as jobs,
// regardless of completion order. It reuses the teacher's errgroup-based
// fan-out shape (esmdev/prebundle.go's prebundleAllPackages): SetLimit caps
// in-flight goroutines at the pool's worker count, and each goroutine always
// returns a nil error so one job's failure never cancels its siblings —
// per-job errors are reported through errs, not through eg.Wait().
func (p *Pool) RunMany(ctx context.Context, jobs []Job) ([]any, []error) {
	results := make([]any, len(jobs))
	errs := make([]error, len(jobs))

	var eg errgroup.Group
	eg.SetLimit(p.workers)
	for i, job := range jobs {
		i, job := i, job
		eg.Go(func() error {
			v, err := p.Run(ctx, job)
			results[i] = v
			errs[i] = err
			return nil
		})
	}
	eg.Wait()
	return results, errs
}

// Close marks the pool closed; subsequent Run/RunMany calls return
// *ionifyerr.PoolClosed for new submissions. In-flight jobs are unaffected.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.closed)
		p.closeCancel()
	})
}
