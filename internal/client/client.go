// Package client provides a client for the sensorlog line protocol.
//
// A Client owns one TCP connection and issues one request at a time,
// matching the server's one-request-per-session ordering.
package client

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/command"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/wire"
)

// =============================================================================
// State
// =============================================================================

// ClientState represents the connection state of a client.
type ClientState int32

const (
	StateConnected ClientState = iota
	StateBroken
	StateClosed
)

// String returns the human-readable name of the state.
func (s ClientState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// =============================================================================
// Errors
// =============================================================================

var (
	ErrClientClosed    = errors.New("client is closed")
	ErrConnectionLost  = errors.New("connection lost")
	ErrUnexpectedReply = errors.New("unexpected reply")
)

// ReplyError is an error marker returned by the server. It unwraps to the
// matching sentinel, so errors.Is(err, errors.ErrInvalidSensorID) works.
type ReplyError struct {
	Marker string
	Err    error
}

func (e *ReplyError) Error() string { return e.Marker }

func (e *ReplyError) Unwrap() error { return e.Err }

// =============================================================================
// Client
// =============================================================================

// Config holds client configuration.
type Config struct {
	Addr           string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MaxFrameSize limits a reply line. GET replies grow with the count.
	MaxFrameSize int

	// Format must match the server's protocol settings.
	Format wire.Format
}

// DefaultConfig returns default client configuration.
func DefaultConfig() *Config {
	return &Config{
		Addr:           "localhost:9000",
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		MaxFrameSize:   16 * 1024 * 1024,
		Format:         wire.DefaultFormat(),
	}
}

// Client is a sensorlog protocol client.
//
// Client is safe for concurrent use; requests are serialised.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn net.Conn
	wire *wire.Conn

	state     atomic.Int32
	closeOnce sync.Once
}

// Dial connects to the server.
func Dial(ctx context.Context, cfg *Config) (*Client, error) {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := &Client{cfg: *cfg}
	if c.cfg.Addr == "" {
		c.cfg.Addr = def.Addr
	}
	if c.cfg.MaxFrameSize <= 0 {
		c.cfg.MaxFrameSize = def.MaxFrameSize
	}
	if c.cfg.Format.Location == nil {
		c.cfg.Format = def.Format
	}

	dialer := &net.Dialer{Timeout: c.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.Addr, err)
	}

	c.conn = conn
	c.wire = wire.NewConn(conn, max(c.cfg.MaxFrameSize, config.DefaultMaxFrameSize))
	c.state.Store(int32(StateConnected))
	return c, nil
}

// State returns the current state.
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// Close closes the connection. It is idempotent.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		err = c.conn.Close()
	})
	return err
}

// =============================================================================
// Requests
// =============================================================================

// Raw sends one request line and returns the reply line without the
// terminator. Error markers are returned as text, not as errors.
func (c *Client) Raw(ctx context.Context, line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateClosed:
		return "", ErrClientClosed
	case StateBroken:
		return "", ErrConnectionLost
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if c.cfg.RequestTimeout > 0 {
		deadline = time.Now().Add(c.cfg.RequestTimeout)
	}
	c.conn.SetDeadline(deadline)

	// Unblock the exchange if ctx is cancelled midway.
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.wire.WriteFrame(line); err != nil {
		return "", c.fail(ctx, err)
	}
	reply, err := c.wire.ReadFrame()
	if err != nil {
		return "", c.fail(ctx, err)
	}
	return reply, nil
}

// fail marks the connection unusable. A half-finished exchange leaves the
// stream out of step with requests.
func (c *Client) fail(ctx context.Context, err error) error {
	c.state.CompareAndSwap(int32(StateConnected), int32(StateBroken))
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrConnectionLost, ctxErr)
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

// Log stores one reading.
func (c *Client) Log(ctx context.Context, sensor string, ts time.Time, value float64) error {
	line := strings.Join([]string{
		command.VerbLog,
		sensor,
		c.cfg.Format.FormatTimestamp(ts.Unix()),
		strconv.FormatFloat(value, 'g', -1, 64),
	}, "|")

	reply, err := c.Raw(ctx, line)
	if err != nil {
		return err
	}
	if wire.IsError(reply) {
		return &ReplyError{Marker: reply, Err: wire.ErrorFor(reply)}
	}
	if reply != "" {
		return fmt.Errorf("LOG reply %q: %w", reply, ErrUnexpectedReply)
	}
	return nil
}

// Get returns the earliest count readings of a sensor.
func (c *Client) Get(ctx context.Context, sensor string, count int) ([]wire.Reading, error) {
	line := strings.Join([]string{command.VerbGet, sensor, strconv.Itoa(count)}, "|")

	reply, err := c.Raw(ctx, line)
	if err != nil {
		return nil, err
	}
	if wire.IsError(reply) {
		return nil, &ReplyError{Marker: reply, Err: wire.ErrorFor(reply)}
	}

	readings, err := c.cfg.Format.ParseGet(reply)
	if err != nil {
		return nil, fmt.Errorf("GET reply: %w: %w", ErrUnexpectedReply, err)
	}
	return readings, nil
}
