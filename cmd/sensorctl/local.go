package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xtxerr/sensorlog/internal/export"
	"github.com/xtxerr/sensorlog/internal/record"
)

var sensorsCmd = &cobra.Command{
	Use:   "sensors",
	Short: "List sensors in the data directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		ids, err := st.Sensors(cmd.Context())
		if err != nil {
			return err
		}

		if jsonOutput() {
			type row struct {
				Sensor  string `json:"sensor"`
				Records int64  `json:"records"`
			}
			rows := make([]row, 0, len(ids))
			for _, id := range ids {
				n, err := st.Count(cmd.Context(), id)
				if err != nil {
					return err
				}
				rows = append(rows, row{id.String(), n})
			}
			return writeJSON(os.Stdout, rows)
		}

		for _, id := range ids {
			n, err := st.Count(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("%s\t%d\n", id, n)
		}
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <out>",
	Short: "Export sensor logs to Parquet or delimited protobuf",
	Long: `Read every sensor log in the data directory and write the records to
one file. Use - as the output to write to stdout (pb format only).

Examples:
  sensorctl export readings.parquet
  sensorctl export readings.parquet --prefix boiler. --compression snappy
  sensorctl export - --format pb > readings.pb`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		prefix, _ := cmd.Flags().GetString("prefix")
		compression, _ := cmd.Flags().GetString("compression")

		st, err := openStore()
		if err != nil {
			return err
		}
		records, err := export.Collect(cmd.Context(), st, prefix)
		if err != nil {
			return err
		}

		out := args[0]
		switch format {
		case "parquet":
			if out == "-" {
				return fmt.Errorf("parquet output needs a file")
			}
			opts := export.Options{Compression: export.ParseCompressionType(compression)}
			if err := export.WriteParquet(out, records, opts); err != nil {
				return err
			}
		case "pb":
			if err := writeDelimitedTo(out, records); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown format %q (want parquet or pb)", format)
		}

		fmt.Fprintf(os.Stderr, "exported %d records\n", len(records))
		return nil
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary [file]",
	Short: "Summarise readings per sensor",
	Long: `Print count, range, mean and percentiles for each sensor. Reads the
data directory, or a Parquet or delimited protobuf export when a file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		accuracy, _ := cmd.Flags().GetFloat64("accuracy")

		var records []record.Record
		var err error
		if len(args) == 1 {
			records, err = readExport(args[0])
			if err == nil && prefix != "" {
				records = filterPrefix(records, prefix)
			}
		} else {
			st, serr := openStore()
			if serr != nil {
				return serr
			}
			records, err = export.Collect(cmd.Context(), st, prefix)
		}
		if err != nil {
			return err
		}

		format, err := wireFormat()
		if err != nil {
			return err
		}
		return outputSummaries(os.Stdout, format, export.Summarize(records, accuracy))
	},
}

func init() {
	exportCmd.Flags().String("format", "parquet", "output format: parquet or pb")
	exportCmd.Flags().String("prefix", "", "only sensors with this id prefix")
	exportCmd.Flags().String("compression", "zstd", "parquet compression: zstd, snappy, gzip, lz4, none")

	summaryCmd.Flags().String("prefix", "", "only sensors with this id prefix")
	summaryCmd.Flags().Float64("accuracy", export.DefaultAccuracy, "relative percentile accuracy, 0 disables percentiles")
}

func writeDelimitedTo(path string, records []record.Record) (err error) {
	var w io.Writer = os.Stdout
	if path != "-" {
		f, cerr := os.Create(path)
		if cerr != nil {
			return cerr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	bw := bufio.NewWriter(w)
	if _, err := export.WriteDelimited(bw, records); err != nil {
		return err
	}
	return bw.Flush()
}

// readExport loads a file written by export, picking the codec by extension.
func readExport(path string) ([]record.Record, error) {
	if strings.HasSuffix(path, ".parquet") {
		return export.ReadParquet(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return export.ReadDelimited(bufio.NewReader(f))
}

func filterPrefix(records []record.Record, prefix string) []record.Record {
	out := records[:0]
	for _, r := range records {
		if strings.HasPrefix(r.SensorID.String(), prefix) {
			out = append(out, r)
		}
	}
	return out
}
