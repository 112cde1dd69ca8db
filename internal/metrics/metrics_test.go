package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xtxerr/sensorlog/internal/pool"
)

func TestObserveRequest(t *testing.T) {
	m := New()

	m.ObserveRequest("get", "sensor_unknown", time.Millisecond)
	m.ObserveRequest("get", "sensor_unknown", time.Millisecond)
	m.ObserveRequest("get", "short_read", time.Millisecond)
	m.ObserveRequest("log", "ok", time.Millisecond)

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("get", "sensor_unknown")); got != 2 {
		t.Errorf("sensor_unknown = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues("get", "short_read")); got != 1 {
		t.Errorf("short_read = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.requestDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestSessionMetrics(t *testing.T) {
	m := New()

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("disconnect")
	m.ConnectionRefused()

	if got := testutil.ToFloat64(m.sessionsOpened); got != 2 {
		t.Errorf("opened = %v", got)
	}
	if got := testutil.ToFloat64(m.sessionsClosed.WithLabelValues("disconnect")); got != 1 {
		t.Errorf("closed = %v", got)
	}
	if got := testutil.ToFloat64(m.connectionsRefused); got != 1 {
		t.Errorf("refused = %v", got)
	}
}

func TestHandler_ServesRegisteredFuncs(t *testing.T) {
	m := New()
	m.RegisterSessions(func() int { return 3 })
	m.RegisterPool(func() pool.Stats { return pool.Stats{Queued: 5, Backpressure: 7} })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"sensorlog_sessions_active 3",
		"sensorlog_pool_queued_jobs 5",
		"sensorlog_pool_backpressure_total 7",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
