package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/xtxerr/sensorlog/internal/export"
	"github.com/xtxerr/sensorlog/internal/wire"
)

func jsonOutput() bool { return cfg.Format == "json" }

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputReadings(w io.Writer, format wire.Format, readings []wire.Reading) error {
	if jsonOutput() {
		type row struct {
			Time      string  `json:"time"`
			Timestamp int64   `json:"timestamp"`
			Value     float64 `json:"value"`
		}
		rows := make([]row, len(readings))
		for i, r := range readings {
			rows[i] = row{format.FormatTimestamp(r.Timestamp), r.Timestamp, r.Value}
		}
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tVALUE")
	for _, r := range readings {
		fmt.Fprintf(tw, "%s\t%s\n", format.FormatTimestamp(r.Timestamp), strconv.FormatFloat(r.Value, 'g', -1, 64))
	}
	return tw.Flush()
}

func outputSummaries(w io.Writer, format wire.Format, sums []export.Summary) error {
	if jsonOutput() {
		return writeJSON(w, sums)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tCOUNT\tMIN\tAVG\tMAX\tP50\tP95\tP99\tFIRST\tLAST")
	for _, s := range sums {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.SensorID, s.Count,
			num(s.Min), num(s.Avg), num(s.Max),
			opt(s.P50), opt(s.P95), opt(s.P99),
			format.FormatTimestamp(s.FirstTs), format.FormatTimestamp(s.LastTs))
	}
	return tw.Flush()
}

func outputStats(w io.Writer, format wire.Format, stats []export.SensorStats) error {
	if jsonOutput() {
		return writeJSON(w, stats)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SENSOR\tCOUNT\tMIN\tAVG\tMAX\tFIRST\tLAST")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			s.SensorID, s.Count, num(s.Min), num(s.Avg), num(s.Max),
			format.FormatTimestamp(s.FirstTs), format.FormatTimestamp(s.LastTs))
	}
	return tw.Flush()
}

func num(v float64) string { return strconv.FormatFloat(v, 'g', 6, 64) }

func opt(v *float64) string {
	if v == nil {
		return "-"
	}
	return num(*v)
}
