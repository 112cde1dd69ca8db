// Package pool provides a bounded worker pool for blocking storage I/O.
//
// Sessions hand each storage operation to the pool and wait for its result,
// so a slow filesystem ties up at most Workers goroutines instead of every
// connection. A session never has more than one job in flight, which keeps
// request/reply ordering per connection intact.
//
// Key features:
//   - Fixed worker count with a bounded job queue
//   - Backpressure: Do blocks while the queue is full
//   - Panic recovery per job
//   - Graceful shutdown with drain timeout
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
)

var log = logging.Component("pool")

// =============================================================================
// Pool Configuration
// =============================================================================

// Config holds worker pool configuration.
type Config struct {
	// Workers is the number of concurrent storage workers.
	Workers int

	// QueueSize is the job queue capacity.
	QueueSize int

	// JobTimeout bounds a single job. Zero disables the limit.
	JobTimeout time.Duration

	// DrainTimeout is how long to wait for in-flight jobs during shutdown.
	DrainTimeout time.Duration
}

// DefaultConfig returns default pool configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers:      config.DefaultPoolWorkers,
		QueueSize:    config.DefaultPoolQueueSize,
		JobTimeout:   config.DefaultJobTimeout,
		DrainTimeout: time.Duration(config.DefaultDrainTimeoutSec) * time.Second,
	}
}

// Func is a unit of work executed by a worker.
type Func func(ctx context.Context) error

type job struct {
	ctx  context.Context
	fn   Func
	done chan error
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Queued       int
	Active       int
	Completed    int64
	Failed       int64
	Panics       int64
	Backpressure int64
}

// =============================================================================
// Pool
// =============================================================================

// Pool runs submitted jobs on a fixed set of workers.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	stopped bool

	jobs     chan *job
	shutdown chan struct{}
	wg       sync.WaitGroup

	workers      int
	jobTimeout   time.Duration
	drainTimeout time.Duration

	// Metrics
	active       atomic.Int32
	completed    atomic.Int64
	failed       atomic.Int64
	panics       atomic.Int64
	backpressure atomic.Int64
}

// New creates a new Pool. Call Start before submitting jobs.
func New(cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}

	return &Pool{
		jobs:         make(chan *job, cfg.QueueSize),
		shutdown:     make(chan struct{}),
		workers:      cfg.Workers,
		jobTimeout:   cfg.JobTimeout,
		drainTimeout: cfg.DrainTimeout,
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

// Start starts the workers.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	log.Info("pool started", "workers", p.workers, "queue_size", cap(p.jobs))
}

// Stop stops the pool gracefully, waiting for in-flight jobs.
// Uses the configured drain timeout.
func (p *Pool) Stop() {
	p.StopWithContext(context.Background())
}

// StopWithContext stops the pool with a custom context.
// The drain timeout from config is still respected as a maximum.
// Jobs still queued when the workers exit fail with ErrPoolStopped.
func (p *Pool) StopWithContext(ctx context.Context) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.shutdown)
	p.mu.Unlock()

	log.Info("pool stopping")

	drainCtx, cancel := context.WithTimeout(ctx, p.drainTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("pool stopped gracefully")
	case <-drainCtx.Done():
		if n := p.active.Load(); n > 0 {
			log.Warn("pool drain timeout", "active_workers", n)
		} else {
			log.Info("pool stopped after drain timeout")
		}
	}
}

// =============================================================================
// Submission
// =============================================================================

// Do submits fn and waits for its result.
//
// Do blocks while the queue is full. It returns ctx.Err() if ctx is done
// before the job completes, and ErrPoolStopped once the pool is stopping.
// A panic inside fn is returned as ErrInternal.
func (p *Pool) Do(ctx context.Context, fn Func) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	if err := p.enqueue(ctx, j); err != nil {
		return err
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) enqueue(ctx context.Context, j *job) error {
	// The read lock keeps Stop from closing shutdown while a send is
	// pending, so no job can land in the queue after the workers drained it.
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return errors.ErrPoolStopped
	}

	select {
	case p.jobs <- j:
		return nil
	default:
	}

	p.backpressure.Add(1)
	select {
	case p.jobs <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =============================================================================
// Worker
// =============================================================================

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		// Shutdown wins over queued work.
		select {
		case <-p.shutdown:
			p.drainQueue()
			return
		default:
		}

		select {
		case j := <-p.jobs:
			j.done <- p.executeWithRecovery(j)
		case <-p.shutdown:
			p.drainQueue()
			return
		}
	}
}

func (p *Pool) drainQueue() {
	for {
		select {
		case j := <-p.jobs:
			j.done <- errors.ErrPoolStopped
		default:
			return
		}
	}
}

// executeWithRecovery executes a job with counter management and panic recovery.
func (p *Pool) executeWithRecovery(j *job) (err error) {
	p.active.Add(1)

	defer func() {
		p.active.Add(-1)

		if r := recover(); r != nil {
			log.Error("panic in storage job", "panic", r)
			p.panics.Add(1)
			err = fmt.Errorf("panic: %v: %w", r, errors.ErrInternal)
		}

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}()

	// The caller may have given up while the job was queued.
	if cerr := j.ctx.Err(); cerr != nil {
		return cerr
	}

	ctx := j.ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	return j.fn(ctx)
}

// =============================================================================
// Utility Methods
// =============================================================================

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:       len(p.jobs),
		Active:       int(p.active.Load()),
		Completed:    p.completed.Load(),
		Failed:       p.failed.Load(),
		Panics:       p.panics.Load(),
		Backpressure: p.backpressure.Load(),
	}
}

// Workers returns the configured worker count.
func (p *Pool) Workers() int {
	return p.workers
}
