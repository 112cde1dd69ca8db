package handler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/pool"
	"github.com/xtxerr/sensorlog/internal/record"
	"github.com/xtxerr/sensorlog/internal/store"
	"github.com/xtxerr/sensorlog/internal/wire"
)

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveRequest(verb, reason string, _ time.Duration) {
	o.mu.Lock()
	o.calls = append(o.calls, verb+":"+reason)
	o.mu.Unlock()
}

func newTestHandler(t *testing.T, mode store.ReadMode) (*Handler, *store.Store, *recordingObserver) {
	t.Helper()

	st, err := store.New(store.Config{Dir: t.TempDir(), ReadMode: mode})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	p := pool.New(&pool.Config{Workers: 2, QueueSize: 4, DrainTimeout: time.Second})
	p.Start()
	t.Cleanup(p.Stop)

	obs := &recordingObserver{}
	h := NewHandler(&Config{
		Store:    st,
		Executor: p,
		Format:   wire.Format{Location: time.UTC, Precision: 6},
		Observer: obs,
	})
	return h, st, obs
}

func TestHandle_LogThenGet(t *testing.T) {
	h, _, _ := newTestHandler(t, store.ReadModeBounded)
	ctx := context.Background()

	reply, err := h.Handle(ctx, "LOG|S1|2024-01-01T00:00:00|21.5")
	if err != nil || reply != "" {
		t.Fatalf("LOG reply = %q, err = %v", reply, err)
	}
	reply, err = h.Handle(ctx, "LOG|S1|2024-01-01T00:01:00|22")
	if err != nil || reply != "" {
		t.Fatalf("LOG reply = %q, err = %v", reply, err)
	}

	reply, err = h.Handle(ctx, "GET|S1|2")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	want := "2;2024-01-01T00:00:00|21.500000;2024-01-01T00:01:00|22.000000"
	if reply != want {
		t.Errorf("GET reply = %q, want %q", reply, want)
	}

	reply, _ = h.Handle(ctx, "GET|S1|0")
	if reply != "0" {
		t.Errorf("GET 0 reply = %q, want 0", reply)
	}
}

func TestHandle_Errors(t *testing.T) {
	h, _, _ := newTestHandler(t, store.ReadModeBounded)
	ctx := context.Background()

	if _, err := h.Handle(ctx, "LOG|S1|2024-01-01T00:00:00|1"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		name    string
		line    string
		reply   string
		wantErr error
	}{
		{"unknown sensor", "GET|nosuch|1", errors.ReplyInvalidSensorID, errors.ErrSensorUnknown},
		{"over read", "GET|S1|2", errors.ReplyInvalidSensorID, errors.ErrShortRead},
		{"invalid get id", "GET|../x|1", errors.ReplyInvalidSensorID, errors.ErrInvalidSensorID},
		{"negative count", "GET|S1|-1", errors.ReplyMalformedRequest, errors.ErrInvalidCount},
		{"text count", "GET|S1|many", errors.ReplyMalformedRequest, errors.ErrInvalidCount},
		{"count over limit", "GET|S1|100001", errors.ReplyInvalidSensorID, errors.ErrCountOverLimit},
		{"count overflows int", "GET|S1|99999999999999999999", errors.ReplyInvalidSensorID, errors.ErrCountOverLimit},
		{"unknown sensor over limit", "GET|nosuch|100001", errors.ReplyInvalidSensorID, errors.ErrCountOverLimit},
		{"bad timestamp", "LOG|S1|yesterday|1", errors.ReplyMalformedRequest, errors.ErrInvalidTimestamp},
		{"bad value", "LOG|S1|2024-01-01T00:00:00|warm", errors.ReplyMalformedRequest, errors.ErrInvalidValue},
		{"nan value", "LOG|S1|2024-01-01T00:00:00|NaN", errors.ReplyMalformedRequest, errors.ErrInvalidValue},
		{"long id", "LOG|" + strings.Repeat("x", 32) + "|2024-01-01T00:00:00|1", errors.ReplyMalformedRequest, errors.ErrInvalidSensorID},
		{"truncated log", "LOG|S1", errors.ReplyMalformedRequest, errors.ErrProtocolMalformed},
		{"unknown verb", "PUT|S1|1", errors.ReplyMalformedRequest, errors.ErrProtocolMalformed},
		{"empty", "", errors.ReplyMalformedRequest, errors.ErrProtocolMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := h.Handle(ctx, tt.line)
			if reply != tt.reply {
				t.Errorf("reply = %q, want %q", reply, tt.reply)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestHandle_SentinelMode(t *testing.T) {
	h, _, _ := newTestHandler(t, store.ReadModeSentinel)
	ctx := context.Background()

	h.Handle(ctx, "LOG|S1|2024-01-01T00:00:00|0.000004")

	reply, err := h.Handle(ctx, "GET|S1|1")
	if reply != errors.ReplyInvalidSensorID {
		t.Errorf("reply = %q, want %q", reply, errors.ReplyInvalidSensorID)
	}
	if !errors.Is(err, errors.ErrSentinelValue) {
		t.Errorf("err = %v, want ErrSentinelValue", err)
	}
}

func TestHandle_BoundedModeNearZero(t *testing.T) {
	h, _, _ := newTestHandler(t, store.ReadModeBounded)
	ctx := context.Background()

	h.Handle(ctx, "LOG|S1|2024-01-01T00:00:00|0.000004")

	reply, err := h.Handle(ctx, "GET|S1|1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	if reply != "1;2024-01-01T00:00:00|0.000004" {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandle_StorageUnavailable(t *testing.T) {
	h, st, _ := newTestHandler(t, store.ReadModeBounded)
	id := record.MustSensorID("S1")

	// A directory where the sensor file should be breaks the append.
	if err := mkdir(st.Path(id)); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	reply, err := h.Handle(context.Background(), "LOG|S1|2024-01-01T00:00:00|1")
	if reply != errors.ReplyStorageUnavailable {
		t.Errorf("reply = %q, want %q", reply, errors.ReplyStorageUnavailable)
	}
	if !errors.Is(err, errors.ErrStorageUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestHandle_LegacyLogErrors(t *testing.T) {
	st, err := store.New(store.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	h := NewHandler(&Config{
		Store:           st,
		Format:          wire.Format{Location: time.UTC},
		LegacyLogErrors: true,
	})
	ctx := context.Background()

	if err := mkdir(st.Path(record.MustSensorID("S1"))); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	tests := []struct {
		name    string
		line    string
		wantErr error
	}{
		{"storage failure", "LOG|S1|2024-01-01T00:00:00|1", errors.ErrStorageUnavailable},
		{"bad value", "LOG|S2|2024-01-01T00:00:00|warm", errors.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := h.Handle(ctx, tt.line)
			if reply != errors.ReplyInvalidSensorID {
				t.Errorf("reply = %q, want %q", reply, errors.ReplyInvalidSensorID)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Success and GET replies are unchanged.
	if reply, err := h.Handle(ctx, "LOG|S2|2024-01-01T00:00:00|1"); reply != "" || err != nil {
		t.Errorf("LOG reply = %q, err = %v", reply, err)
	}
	if reply, _ := h.Handle(ctx, "GET|S2|x"); reply != errors.ReplyMalformedRequest {
		t.Errorf("GET reply = %q, want %q", reply, errors.ReplyMalformedRequest)
	}
}

func TestHandle_Observer(t *testing.T) {
	h, _, obs := newTestHandler(t, store.ReadModeBounded)
	ctx := context.Background()

	h.Handle(ctx, "LOG|S1|2024-01-01T00:00:00|1")
	h.Handle(ctx, "GET|S1|5")
	h.Handle(ctx, "GET|S2|1")
	h.Handle(ctx, "junk")

	want := []string{"log:ok", "get:short_read", "get:sensor_unknown", "malformed:malformed"}
	if strings.Join(obs.calls, ",") != strings.Join(want, ",") {
		t.Errorf("observed %v, want %v", obs.calls, want)
	}
}

func TestHandle_InlineExecutor(t *testing.T) {
	st, err := store.New(store.Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	h := NewHandler(&Config{Store: st, Format: wire.Format{Location: time.UTC, Precision: 6}})

	if reply, err := h.Handle(context.Background(), "LOG|S1|2024-01-01T00:00:00|1"); err != nil || reply != "" {
		t.Fatalf("LOG reply = %q, err = %v", reply, err)
	}
	if reply, _ := h.Handle(context.Background(), "GET|S1|1"); !strings.HasPrefix(reply, "1;") {
		t.Errorf("GET reply = %q", reply)
	}
}
