// Package store persists sensor records as one append-only file per sensor.
//
// The store holds no cache or index. Every operation opens the sensor file,
// performs a single logical access, and closes it again, so concurrent
// sessions observe each other's appends as soon as the write call returns.
package store

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/record"
)

// =============================================================================
// Store Configuration
// =============================================================================

// ReadMode selects how Read decides that a sensor log holds too few records.
type ReadMode string

const (
	// ReadModeBounded derives the record count from the file size.
	ReadModeBounded ReadMode = "bounded"

	// ReadModeSentinel reads sequentially and treats a value in the
	// sentinel band as the end of valid data. Genuine readings inside the
	// band are reported as missing.
	ReadModeSentinel ReadMode = "sentinel"
)

// Sentinel band used by ReadModeSentinel, inclusive on both ends.
const (
	SentinelLow  = -1e-6
	SentinelHigh = 1e-5
)

// ParseReadMode parses a read mode name.
func ParseReadMode(s string) (ReadMode, error) {
	switch ReadMode(strings.ToLower(s)) {
	case ReadModeBounded, "":
		return ReadModeBounded, nil
	case ReadModeSentinel:
		return ReadModeSentinel, nil
	}
	return "", fmt.Errorf("unknown read mode %q (expected bounded or sentinel)", s)
}

// Config holds store configuration options.
type Config struct {
	// Dir is the directory holding the sensor log files.
	Dir string

	// Extension is appended to the sensor id to form the file name.
	Extension string

	// ReadMode selects the short-read detection policy.
	ReadMode ReadMode
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Dir:       "./data",
		Extension: ".dat",
		ReadMode:  ReadModeBounded,
	}
}

// ctxCheckInterval: the context is checked every N records on long reads.
const ctxCheckInterval = 256

// sentinelPrealloc caps the up-front slice capacity of a sentinel read; the
// file may hold far fewer records than requested.
const sentinelPrealloc = 1024

// =============================================================================
// Store
// =============================================================================

// Store provides access to sensor log files.
//
// Store is safe for concurrent use. Appends from different goroutines to
// the same sensor interleave at whole-record granularity.
type Store struct {
	config Config
}

// New creates a Store, creating the data directory if needed.
func New(cfg Config) (*Store, error) {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.Extension == "" {
		cfg.Extension = def.Extension
	}
	if cfg.ReadMode == "" {
		cfg.ReadMode = def.ReadMode
	}
	if _, err := ParseReadMode(string(cfg.ReadMode)); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return &Store{config: cfg}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.config.Dir }

// ReadMode returns the configured read mode.
func (s *Store) ReadMode() ReadMode { return s.config.ReadMode }

// Path returns the file path of a sensor log.
func (s *Store) Path(id record.SensorID) string {
	return filepath.Join(s.config.Dir, id.String()+s.config.Extension)
}

// =============================================================================
// Append
// =============================================================================

// Append writes one record to the end of its sensor log, creating the file
// on first use. The encoded record is written with a single write call.
func (s *Store) Append(ctx context.Context, r record.Record) error {
	if r.SensorID.IsZero() {
		return fmt.Errorf("append: %w", errors.ErrInvalidSensorID)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("append %s: %w", r.SensorID, err)
	}

	path := s.Path(r.SensorID)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open %s: %v: %w", path, err, errors.ErrStorageUnavailable)
	}

	data := record.Encode(r)
	n, werr := f.Write(data)
	cerr := f.Close()

	if werr != nil {
		return fmt.Errorf("write %s: %v: %w", path, werr, errors.ErrStorageUnavailable)
	}
	if n != len(data) {
		return fmt.Errorf("write %s: %d of %d bytes: %w", path, n, len(data), errors.ErrStorageUnavailable)
	}
	if cerr != nil {
		return fmt.Errorf("close %s: %v: %w", path, cerr, errors.ErrStorageUnavailable)
	}
	return nil
}

// =============================================================================
// Read
// =============================================================================

// Read returns the first count records of a sensor log in append order.
//
// A missing file yields ErrSensorUnknown. The file is opened read-only and
// never created. Fewer stored records than requested yields ErrShortRead;
// in sentinel mode a value inside the sentinel band yields ErrSentinelValue.
// A count of zero on an existing log returns an empty slice.
func (s *Store) Read(ctx context.Context, id record.SensorID, count int) ([]record.Record, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("read: %w", errors.ErrInvalidSensorID)
	}
	if count < 0 {
		return nil, fmt.Errorf("read %s: negative count %d: %w", id, count, errors.ErrInvalidCount)
	}

	f, err := s.open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if s.config.ReadMode == ReadModeSentinel {
		return s.readSentinel(ctx, f, id, count)
	}
	return s.readBounded(ctx, f, id, count)
}

func (s *Store) open(id record.SensorID) (*os.File, error) {
	path := s.Path(id)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", id, errors.ErrSensorUnknown)
		}
		return nil, fmt.Errorf("open %s: %v: %w", path, err, errors.ErrStorageUnavailable)
	}
	return f, nil
}

func (s *Store) readBounded(ctx context.Context, f *os.File, id record.SensorID, count int) ([]record.Record, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %v: %w", id, err, errors.ErrStorageUnavailable)
	}

	available := info.Size() / record.Width
	if int64(count) > available {
		return nil, fmt.Errorf("read %s: requested %d, stored %d: %w", id, count, available, errors.ErrShortRead)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}

	buf := make([]byte, count*record.Width)
	if _, err := io.ReadFull(f, buf); err != nil {
		// The file shrank between Stat and Read.
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", id, errors.ErrShortRead)
		}
		return nil, fmt.Errorf("read %s: %v: %w", id, err, errors.ErrStorageUnavailable)
	}

	records, _, err := record.DecodeAll(buf)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return records, nil
}

func (s *Store) readSentinel(ctx context.Context, f *os.File, id record.SensorID, count int) ([]record.Record, error) {
	records := make([]record.Record, 0, min(count, sentinelPrealloc))
	buf := make([]byte, record.Width)

	for i := 0; i < count; i++ {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("read %s: %w", id, err)
			}
		}

		if _, err := io.ReadFull(f, buf); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read %s: record %d of %d: %w", id, i, count, errors.ErrShortRead)
			}
			return nil, fmt.Errorf("read %s: %v: %w", id, err, errors.ErrStorageUnavailable)
		}

		r, err := record.Decode(buf)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", id, err)
		}
		if InSentinelBand(r.Value) {
			return nil, fmt.Errorf("read %s: record %d value %g: %w", id, i, r.Value, errors.ErrSentinelValue)
		}
		records = append(records, r)
	}

	return records, nil
}

// InSentinelBand reports whether v falls in the legacy sentinel band.
func InSentinelBand(v float64) bool {
	return v >= SentinelLow && v <= SentinelHigh
}

// =============================================================================
// Inspection
// =============================================================================

// Count returns the number of whole records in a sensor log.
// Trailing bytes that do not form a whole record are ignored.
func (s *Store) Count(ctx context.Context, id record.SensorID) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.Path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("stat %s: %w", id, errors.ErrSensorUnknown)
		}
		return 0, fmt.Errorf("stat %s: %v: %w", id, err, errors.ErrStorageUnavailable)
	}

	if rest := info.Size() % record.Width; rest != 0 {
		logging.Component("store").Warn("sensor log has trailing partial record",
			"sensor", id.String(),
			"bytes", rest,
		)
	}
	return info.Size() / record.Width, nil
}

// ReadAll returns every whole record of a sensor log regardless of read mode.
func (s *Store) ReadAll(ctx context.Context, id record.SensorID) ([]record.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.open(id)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %v: %w", id, err, errors.ErrStorageUnavailable)
	}

	records, rest, err := record.DecodeAll(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	if rest != 0 {
		logging.Component("store").Warn("sensor log has trailing partial record",
			"sensor", id.String(),
			"bytes", rest,
		)
	}
	return records, nil
}

// Sensors lists the sensors that have a log in the data directory, sorted
// by id. Files whose names are not valid sensor ids are skipped.
func (s *Store) Sensors(ctx context.Context) ([]record.SensorID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.config.Dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %v: %w", s.config.Dir, err, errors.ErrStorageUnavailable)
	}

	var ids []record.SensorID
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), s.config.Extension)
		if !ok {
			continue
		}
		id, err := record.NewSensorID(name)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}
