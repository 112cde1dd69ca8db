package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/export"
)

var queryCmd = &cobra.Command{
	Use:   "query <parquet>",
	Short: "Aggregate a Parquet export with DuckDB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		memLimit, _ := cmd.Flags().GetString("memory-limit")

		q, err := export.NewQuerier(memLimit)
		if err != nil {
			return err
		}
		defer q.Close()

		stats, err := q.SensorStats(cmd.Context(), args[0], prefix)
		if err != nil {
			return err
		}

		format, err := wireFormat()
		if err != nil {
			return err
		}
		return outputStats(os.Stdout, format, stats)
	},
}

func init() {
	queryCmd.Flags().String("prefix", "", "only sensors with this id prefix")
	queryCmd.Flags().String("memory-limit", "", "DuckDB memory limit, e.g. 512MB")
}
