package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/store"
)

func TestDefaultConfig_Valid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv("SENSORLOG_TEST_DIR", "/srv/sensors")

	path := filepath.Join(t.TempDir(), "sensorlog.yaml")
	content := `
server:
  listen: "127.0.0.1:7000"
  malformed_limit_per_minute: 20
storage:
  data_dir: "${SENSORLOG_TEST_DIR}"
  read_mode: sentinel
pool:
  workers: 4
  job_timeout: 5s
session:
  idle_timeout: 90
protocol:
  timezone: UTC
  value_precision: -1
  legacy_log_errors: true
logging:
  level: debug
  json: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Server.Listen != "127.0.0.1:7000" {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
	if cfg.Storage.DataDir != "/srv/sensors" {
		t.Errorf("data_dir = %q, env not expanded", cfg.Storage.DataDir)
	}
	if cfg.Pool.Workers != 4 || cfg.Pool.JobTimeout.Duration() != 5*time.Second {
		t.Errorf("pool = %+v", cfg.Pool)
	}
	if cfg.Session.IdleTimeout.Duration() != 90*time.Second {
		t.Errorf("idle_timeout = %v", cfg.Session.IdleTimeout.Duration())
	}
	if !cfg.Protocol.LegacyLogErrors {
		t.Error("legacy_log_errors not read")
	}
	if !cfg.Logging.JSON || cfg.Logging.Level != "debug" {
		t.Errorf("logging = %+v", cfg.Logging)
	}

	// Untouched keys keep their defaults.
	def := DefaultConfig()
	if cfg.Pool.QueueSize != def.Pool.QueueSize {
		t.Errorf("queue_size = %d, want default %d", cfg.Pool.QueueSize, def.Pool.QueueSize)
	}
	if cfg.Server.MaxFrameSize != def.Server.MaxFrameSize {
		t.Errorf("max_frame_size = %d, want default", cfg.Server.MaxFrameSize)
	}
	if cfg.Storage.FileExtension != def.Storage.FileExtension {
		t.Errorf("file_extension = %q, want default", cfg.Storage.FileExtension)
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(empty): %v", err)
	}
	if cfg.Server.Listen != DefaultConfig().Server.Listen {
		t.Errorf("listen = %q", cfg.Server.Listen)
	}
}

func TestParse_UnknownKey(t *testing.T) {
	if _, err := Parse([]byte("server:\n  lisen: x\n")); err == nil {
		t.Fatal("misspelled key should be rejected")
	}
}

func TestParse_BadDuration(t *testing.T) {
	if _, err := Parse([]byte("pool:\n  job_timeout: soon\n")); err == nil {
		t.Fatal("bad duration should be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Listen = ""
	cfg.Storage.ReadMode = "guess"
	cfg.Pool.Workers = 0
	cfg.Protocol.Timezone = "Mars/Olympus"
	cfg.Logging.Level = "loud"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate should fail")
	}

	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error %T is not ValidationErrors", err)
	}
	if len(verrs.Errors) != 5 {
		t.Errorf("got %d errors, want 5:\n%v", len(verrs.Errors), err)
	}
	for _, field := range []string{"server.listen", "storage.read_mode", "pool.workers", "protocol.timezone", "logging.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s", field)
		}
	}
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Listen = ""
	cfg.Storage.DataDir = ""

	err := Validate(cfg)
	if !errors.Is(err, errors.ErrMissingField) {
		t.Fatalf("err = %v, want ErrMissingField", err)
	}
	for _, field := range []string{"server.listen", "storage.data_dir"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error does not mention %s", field)
		}
	}
}

func TestToServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol.Timezone = "UTC"
	cfg.Pool.DrainTimeoutSec = 7
	cfg.Session.CleanupIntervalSec = 15
	cfg.Server.MalformedLimitPerMinute = 3
	cfg.Protocol.LegacyLogErrors = true

	scfg, err := ToServerConfig(cfg, nil, nil)
	if err != nil {
		t.Fatalf("ToServerConfig: %v", err)
	}
	if scfg.Format.Location != time.UTC {
		t.Errorf("location = %v", scfg.Format.Location)
	}
	if scfg.DrainTimeout != 7*time.Second || scfg.CleanupInterval != 15*time.Second {
		t.Errorf("durations = %v, %v", scfg.DrainTimeout, scfg.CleanupInterval)
	}
	if scfg.MalformedLimit != 3 || scfg.MalformedWindow != time.Minute {
		t.Errorf("limiter = %d per %v", scfg.MalformedLimit, scfg.MalformedWindow)
	}
	if !scfg.LegacyLogErrors {
		t.Error("legacy_log_errors not passed to the server")
	}

	cfg.Protocol.Timezone = "Nowhere/Special"
	if _, err := ToServerConfig(cfg, nil, nil); err == nil {
		t.Error("unknown zone should fail")
	}
}

func TestToStoreConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.ReadMode = "sentinel"

	st, err := store.New(ToStoreConfig(cfg))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if st.ReadMode() != store.ReadModeSentinel {
		t.Errorf("read mode = %q", st.ReadMode())
	}
}
