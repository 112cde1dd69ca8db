// sensorctl talks to a sensorlogd server and works with sensor log files.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/client"
	"github.com/xtxerr/sensorlog/internal/store"
	"github.com/xtxerr/sensorlog/internal/wire"
)

// Global configuration
type Config struct {
	Addr      string
	Timezone  string
	Precision int
	Timeout   time.Duration

	DataDir   string
	Extension string

	Format string
}

var (
	cfg     Config
	rootCmd *cobra.Command
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "sensorctl",
		Short: "sensorlog command-line client",
		Long: `Send readings to a sensorlogd server, fetch them back, and export or
summarise sensor log files.

Examples:
  sensorctl log boiler.temp 61.5
  sensorctl get boiler.temp 10
  sensorctl shell
  sensorctl export readings.parquet --data-dir /var/lib/sensorlog
  sensorctl summary --data-dir /var/lib/sensorlog --prefix boiler.
  sensorctl query readings.parquet`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfg.Addr, "addr", "a", "localhost:9000", "server address")
	pf.StringVar(&cfg.Timezone, "timezone", config.DefaultTimezone, "time zone of wire timestamps")
	pf.IntVar(&cfg.Precision, "precision", config.DefaultValuePrecision, "decimals the server prints")
	pf.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "request timeout")
	pf.StringVarP(&cfg.DataDir, "data-dir", "d", config.DefaultDataDir, "sensor log directory for local commands")
	pf.StringVar(&cfg.Extension, "ext", config.DefaultFileExtension, "sensor log file extension")
	pf.StringVarP(&cfg.Format, "output", "o", "table", "output format (table or json)")

	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(sensorsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(queryCmd)
}

// wireFormat builds the protocol format from the global flags.
func wireFormat() (wire.Format, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return wire.Format{}, fmt.Errorf("time zone %q: %w", cfg.Timezone, err)
	}
	return wire.Format{Location: loc, Precision: cfg.Precision}, nil
}

// dial connects to the configured server.
func dial(ctx context.Context) (*client.Client, error) {
	format, err := wireFormat()
	if err != nil {
		return nil, err
	}
	return client.Dial(ctx, &client.Config{
		Addr:           cfg.Addr,
		ConnectTimeout: cfg.Timeout,
		RequestTimeout: cfg.Timeout,
		Format:         format,
	})
}

// openStore opens the configured data directory. Local commands only read.
func openStore() (*store.Store, error) {
	if _, err := os.Stat(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	return store.New(store.Config{Dir: cfg.DataDir, Extension: cfg.Extension})
}
