// Package handler provides request handling for the sensorlog protocol.
//
// The Handler turns a parsed command into a reply line. Sessions own the
// connection and drive the Handler one request at a time.
package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/command"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/pool"
	"github.com/xtxerr/sensorlog/internal/record"
	"github.com/xtxerr/sensorlog/internal/wire"
)

// =============================================================================
// Collaborators
// =============================================================================

// Storage is the subset of the record store the handler needs.
type Storage interface {
	Append(ctx context.Context, r record.Record) error
	Read(ctx context.Context, id record.SensorID, count int) ([]record.Record, error)
}

// Executor runs a storage job and waits for it.
type Executor interface {
	Do(ctx context.Context, fn pool.Func) error
}

// Observer receives one call per handled request.
// verb is "log", "get" or "malformed"; reason comes from errors.ReasonOf.
type Observer interface {
	ObserveRequest(verb, reason string, elapsed time.Duration)
}

// inline runs jobs on the calling goroutine.
type inline struct{}

func (inline) Do(ctx context.Context, fn pool.Func) error { return fn(ctx) }

// =============================================================================
// Handler
// =============================================================================

// Config holds handler configuration.
type Config struct {
	// Store persists and reads records (required).
	Store Storage

	// Executor runs storage jobs. Nil runs them inline.
	Executor Executor

	// Format renders timestamps and values.
	Format wire.Format

	// MaxGetCount caps the count of a single GET. Zero uses the default.
	MaxGetCount int

	// LegacyLogErrors replies ERROR|INVALID_SENSOR_ID to every failed LOG,
	// parse errors included, instead of the specific marker.
	LegacyLogErrors bool

	// Observer is notified of every request. Optional.
	Observer Observer
}

// Handler dispatches commands to the store.
//
// Handler is safe for concurrent use.
type Handler struct {
	store       Storage
	exec        Executor
	format      wire.Format
	maxGetCount int
	legacyLog   bool
	observer    Observer
}

// NewHandler creates a new handler.
func NewHandler(cfg *Config) *Handler {
	h := &Handler{
		store:       cfg.Store,
		exec:        cfg.Executor,
		format:      cfg.Format,
		maxGetCount: cfg.MaxGetCount,
		legacyLog:   cfg.LegacyLogErrors,
		observer:    cfg.Observer,
	}
	if h.exec == nil {
		h.exec = inline{}
	}
	if h.maxGetCount <= 0 {
		h.maxGetCount = config.DefaultMaxGetCount
	}
	return h
}

// Handle parses one request line and returns the reply body. The error is
// the internal cause behind an error reply, for logging; it is nil when the
// request succeeded.
func (h *Handler) Handle(ctx context.Context, line string) (string, error) {
	return h.Dispatch(ctx, command.Parse(line))
}

// Dispatch executes a parsed command.
func (h *Handler) Dispatch(ctx context.Context, cmd command.Command) (reply string, err error) {
	start := time.Now()
	defer func() {
		if h.observer != nil {
			h.observer.ObserveRequest(command.Name(cmd), errors.ReasonOf(err), time.Since(start))
		}
	}()

	switch c := cmd.(type) {
	case command.Log:
		reply, err = h.handleLog(ctx, c)
		if err != nil && h.legacyLog {
			reply = errors.ReplyInvalidSensorID
		}
		return reply, err
	case command.Get:
		return h.handleGet(ctx, c)
	case command.Malformed:
		return errors.ReplyMalformedRequest, fmt.Errorf("%s: %w", c.Reason, errors.ErrProtocolMalformed)
	default:
		return errors.ReplyInternal, fmt.Errorf("unhandled command %T: %w", cmd, errors.ErrInternal)
	}
}

// =============================================================================
// LOG
// =============================================================================

func (h *Handler) handleLog(ctx context.Context, c command.Log) (string, error) {
	id, err := record.NewSensorID(c.SensorID)
	if err != nil {
		return errors.ReplyMalformedRequest, errors.Wrap(err, "LOG")
	}
	ts, err := h.format.ParseTimestamp(c.TimestampText)
	if err != nil {
		return errors.ReplyMalformedRequest, errors.Wrapf(err, "LOG %s", id)
	}
	value, err := wire.ParseValue(c.ValueText)
	if err != nil {
		return errors.ReplyMalformedRequest, errors.Wrapf(err, "LOG %s", id)
	}

	r := record.Record{SensorID: id, Timestamp: ts, Value: value}
	err = h.exec.Do(ctx, func(ctx context.Context) error {
		return h.store.Append(ctx, r)
	})
	if err != nil {
		if errors.IsRetriable(err) {
			return errors.ReplyStorageUnavailable, err
		}
		return errors.ReplyFor(err), err
	}

	return "", nil
}

// =============================================================================
// GET
// =============================================================================

func (h *Handler) handleGet(ctx context.Context, c command.Get) (string, error) {
	count, err := wire.ParseCount(c.CountText, h.maxGetCount)
	if err != nil {
		// Over the limit shares the over-read reply; anything else is malformed.
		return errors.ReplyFor(err), errors.Wrap(err, "GET")
	}
	id, err := record.NewSensorID(c.SensorID)
	if err != nil {
		return errors.ReplyInvalidSensorID, errors.Wrap(err, "GET")
	}

	var records []record.Record
	err = h.exec.Do(ctx, func(ctx context.Context) error {
		var rerr error
		records, rerr = h.store.Read(ctx, id, count)
		return rerr
	})
	if err != nil {
		// Every store failure shares one marker on the wire.
		return errors.ReplyInvalidSensorID, err
	}

	return h.format.FormatGet(records), nil
}
