// Package export converts sensor logs into analysis formats.
//
// The package provides:
//   - ParquetWriter/ReadParquet for columnar export
//   - WriteDelimited/ReadDelimited for length-delimited protobuf streams
//   - Aggregator/Summarize for streaming statistics with DDSketch percentiles
//   - Querier for SQL summaries over Parquet exports with DuckDB
//   - Collect for gathering records from a store
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/sensorlog/internal/record"
)

// =============================================================================
// Options
// =============================================================================

// CompressionType represents a Parquet compression algorithm.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionLZ4
	CompressionGzip
)

// Options configures the Parquet writer.
type Options struct {
	Compression CompressionType
}

// DefaultOptions returns default Parquet options.
func DefaultOptions() Options {
	return Options{Compression: CompressionZstd}
}

// ParseCompressionType parses a compression name. Unknown names fall back
// to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "gzip":
		return CompressionGzip
	case "none":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func codecFor(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionLZ4:
		return &parquet.Lz4Raw
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// =============================================================================
// Row
// =============================================================================

// Row is a record in Parquet form. Timestamp is in Unix seconds.
type Row struct {
	SensorID  string  `parquet:"sensor_id,dict"`
	Timestamp int64   `parquet:"timestamp"`
	Value     float64 `parquet:"value"`
}

// RecordToRow converts a record to a Row.
func RecordToRow(r record.Record) Row {
	return Row{SensorID: r.SensorID.String(), Timestamp: r.Timestamp, Value: r.Value}
}

// RowToRecord converts a Row back to a record, validating the sensor id.
func RowToRecord(row Row) (record.Record, error) {
	id, err := record.NewSensorID(row.SensorID)
	if err != nil {
		return record.Record{}, err
	}
	return record.Record{SensorID: id, Timestamp: row.Timestamp, Value: row.Value}, nil
}

// =============================================================================
// Writer
// =============================================================================

// ErrWriterClosed is returned when writing to a closed writer.
var ErrWriterClosed = fmt.Errorf("parquet writer is closed")

// ParquetWriter writes records to a Parquet stream.
type ParquetWriter struct {
	mu       sync.Mutex
	writer   *parquet.GenericWriter[Row]
	closer   io.Closer
	rowCount int64
	closed   bool
}

// NewParquetWriter creates a writer on w. Close finishes the file footer
// but does not close w.
func NewParquetWriter(w io.Writer, opts Options) *ParquetWriter {
	return &ParquetWriter{
		writer: parquet.NewGenericWriter[Row](w, parquet.Compression(codecFor(opts.Compression))),
	}
}

// CreateParquet creates path, including parent directories, and returns a
// writer that closes the file on Close.
func CreateParquet(path string, opts Options) (*ParquetWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}

	w := NewParquetWriter(f, opts)
	w.closer = f
	return w, nil
}

// Write appends records.
func (w *ParquetWriter) Write(records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}

	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = RecordToRow(r)
	}

	n, err := w.writer.Write(rows)
	w.rowCount += int64(n)
	if err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// RowCount returns the number of rows written.
func (w *ParquetWriter) RowCount() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rowCount
}

// Close flushes the footer and closes the underlying file, if owned.
func (w *ParquetWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.writer.Close(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return fmt.Errorf("close writer: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// WriteParquet writes records to path in one go.
func WriteParquet(path string, records []record.Record, opts Options) error {
	w, err := CreateParquet(path, opts)
	if err != nil {
		return err
	}
	if err := w.Write(records); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// =============================================================================
// Reader
// =============================================================================

// readBatch is the number of rows decoded per Read call.
const readBatch = 4096

// ReadParquet reads every record from a Parquet file written by
// ParquetWriter.
func ReadParquet(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := parquet.NewGenericReader[Row](f)
	defer reader.Close()

	out := make([]record.Record, 0, reader.NumRows())
	rows := make([]Row, readBatch)
	for {
		n, err := reader.Read(rows)
		for i := 0; i < n; i++ {
			r, cerr := RowToRecord(rows[i])
			if cerr != nil {
				return nil, fmt.Errorf("row %d: %w", len(out), cerr)
			}
			out = append(out, r)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
}
