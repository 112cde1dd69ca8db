package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
)

func newTestPool(t *testing.T, workers, queue int) *Pool {
	t.Helper()
	p := New(&Config{
		Workers:      workers,
		QueueSize:    queue,
		DrainTimeout: 2 * time.Second,
	})
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func TestPool_Do(t *testing.T) {
	p := newTestPool(t, 2, 4)

	var ran atomic.Bool
	err := p.Do(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if !ran.Load() {
		t.Error("job did not run")
	}

	want := errors.New("boom")
	if err := p.Do(context.Background(), func(ctx context.Context) error { return want }); err != want {
		t.Errorf("expected job error, got %v", err)
	}

	stats := p.Stats()
	if stats.Completed != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPool_PanicRecovery(t *testing.T) {
	p := newTestPool(t, 1, 1)

	err := p.Do(context.Background(), func(ctx context.Context) error {
		panic("bad job")
	})
	if !errors.Is(err, errors.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}

	// The worker survives the panic.
	if err := p.Do(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("do after panic: %v", err)
	}
	if p.Stats().Panics != 1 {
		t.Errorf("panics = %d, want 1", p.Stats().Panics)
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	const workers = 3
	p := newTestPool(t, workers, 16)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Do(context.Background(), func(ctx context.Context) error {
				n := current.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if peak.Load() > workers {
		t.Errorf("peak concurrency %d exceeds %d workers", peak.Load(), workers)
	}
}

func TestPool_ContextCancelledWhileQueued(t *testing.T) {
	p := newTestPool(t, 1, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	go p.Do(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ran atomic.Bool
	err := p.Do(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	close(release)
	// Let the worker pick up the abandoned job.
	time.Sleep(20 * time.Millisecond)
	if ran.Load() {
		t.Error("abandoned job should not run")
	}
}

func TestPool_DoAfterStop(t *testing.T) {
	p := New(&Config{Workers: 1, QueueSize: 1, DrainTimeout: time.Second})
	p.Start()
	p.Stop()

	err := p.Do(context.Background(), func(ctx context.Context) error { return nil })
	if !errors.Is(err, errors.ErrPoolStopped) {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}

	// Stop is idempotent.
	p.Stop()
}

func TestPool_StopDrainsInFlight(t *testing.T) {
	p := New(&Config{Workers: 1, QueueSize: 4, DrainTimeout: 2 * time.Second})
	p.Start()

	started := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- p.Do(context.Background(), func(ctx context.Context) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			return nil
		})
	}()
	<-started

	p.Stop()

	select {
	case err := <-result:
		if err != nil {
			t.Errorf("in-flight job: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight job did not complete")
	}
}

func TestPool_DefaultWorkers(t *testing.T) {
	p := New(&Config{Workers: 0})
	if p.Workers() != DefaultConfig().Workers {
		t.Errorf("Workers() = %d, want %d", p.Workers(), DefaultConfig().Workers)
	}
	if p := New(&Config{Workers: 3}); p.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", p.Workers())
	}
}
