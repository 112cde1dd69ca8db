// sensorlogd is the sensor telemetry server daemon.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/loader"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/metrics"
	"github.com/xtxerr/sensorlog/internal/server"
	"github.com/xtxerr/sensorlog/internal/store"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sensorlogd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("sensorlogd", pflag.ContinueOnError)
	cfgPath := flags.String("config", "sensorlog.yaml", "config file path")
	listen := flags.String("listen", "", "listen address (overrides config)")
	dataDir := flags.String("data-dir", "", "sensor log directory (overrides config)")
	readMode := flags.String("read-mode", "", "GET read mode: bounded or sentinel (overrides config)")
	logLevel := flags.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	logJSON := flags.Bool("log-json", false, "log as JSON")
	metricsListen := flags.String("metrics-listen", "", "Prometheus metrics address (overrides config)")
	version := flags.Bool("version", false, "print version and exit")

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *version {
		fmt.Println("sensorlogd", Version)
		return nil
	}

	// Load config
	cfg, err := loader.Load(*cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || flags.Changed("config") {
			return err
		}
		cfg = loader.DefaultConfig()
	}

	// CLI overrides
	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *readMode != "" {
		cfg.Storage.ReadMode = *readMode
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if flags.Changed("log-json") {
		cfg.Logging.JSON = *logJSON
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}

	if err := loader.Validate(cfg); err != nil {
		return err
	}

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	logging.Init(level, cfg.Logging.JSON)

	logging.Info("sensorlogd starting",
		"version", Version,
		"listen", cfg.Server.Listen,
		"data_dir", cfg.Storage.DataDir,
		"read_mode", cfg.Storage.ReadMode)

	st, err := store.New(loader.ToStoreConfig(cfg))
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New()
	}

	scfg, err := loader.ToServerConfig(cfg, st, m)
	if err != nil {
		return err
	}
	srv := server.New(scfg)
	if err := srv.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Run()
	})

	var metricsSrv *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsSrv = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logging.Info("metrics listening", "address", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	// Shutdown on signal or when any component fails.
	g.Go(func() error {
		<-ctx.Done()
		logging.Info("shutdown requested")

		drain := time.Duration(cfg.Pool.DrainTimeoutSec) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
		defer cancel()

		srv.ShutdownWithContext(shutdownCtx)
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info("sensorlogd stopped")
	return nil
}
