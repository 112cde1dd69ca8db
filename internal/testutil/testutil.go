// Package testutil provides test utilities for sensorlog.
//
// Calling t.Fatal or t.FailNow from a goroutine other than the test
// goroutine only exits that goroutine. GoroutineTest collects errors on a
// channel instead and reports them from Wait.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/record"
	"github.com/xtxerr/sensorlog/internal/store"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest runs goroutines on behalf of a test and collects their
// errors.
//
//	gt := testutil.NewGoroutineTest(t)
//	for i := 0; i < 10; i++ {
//	    gt.Go(func() error { return doSomething(i) })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      testing.TB
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest with a 30 second deadline.
func NewGoroutineTest(t testing.TB) *GoroutineTest {
	return NewGoroutineTestWithTimeout(t, 30*time.Second)
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context
// expires after timeout.
func NewGoroutineTestWithTimeout(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(); err != nil {
			gt.report(err)
		}
	}()
}

// GoWithContext runs fn in a goroutine with the test context.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.report(err)
		}
	}()
}

func (gt *GoroutineTest) report(err error) {
	select {
	case gt.errors <- err:
	default:
		gt.t.Logf("error channel full, dropping: %v", err)
	}
}

// Wait waits for all goroutines and fails the test if any returned an
// error. It must be called from the test goroutine.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()

	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		for i, err := range errs {
			gt.t.Errorf("goroutine error [%d]: %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the context handed to GoWithContext functions.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// =============================================================================
// Polling
// =============================================================================

// Eventually polls cond until it returns true or timeout passes.
func Eventually(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf("timed out after %v: %s", timeout, msg)
	}
}

// =============================================================================
// Store Fixtures
// =============================================================================

// NewStore returns a bounded-mode store in a fresh temporary directory.
func NewStore(t testing.TB) *store.Store {
	t.Helper()
	return NewStoreWithMode(t, store.ReadModeBounded)
}

// NewStoreWithMode returns a store in a fresh temporary directory.
func NewStoreWithMode(t testing.TB, mode store.ReadMode) *store.Store {
	t.Helper()

	st, err := store.New(store.Config{Dir: t.TempDir(), ReadMode: mode})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	return st
}

// Seed appends one record per value to the sensor's log. Timestamps start
// at start and advance by one second.
func Seed(t testing.TB, st *store.Store, sensor string, start int64, values ...float64) []record.Record {
	t.Helper()

	id, err := record.NewSensorID(sensor)
	if err != nil {
		t.Fatalf("sensor id %q: %v", sensor, err)
	}

	out := make([]record.Record, 0, len(values))
	for i, v := range values {
		r := record.Record{SensorID: id, Timestamp: start + int64(i), Value: v}
		if err := st.Append(context.Background(), r); err != nil {
			t.Fatalf("append %s: %v", sensor, err)
		}
		out = append(out, r)
	}
	return out
}
