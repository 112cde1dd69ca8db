// Package server provides the sensorlog TCP server.
//
// The server accepts connections, runs one session per connection, and
// routes storage I/O through a bounded worker pool.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/handler"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/metrics"
	"github.com/xtxerr/sensorlog/internal/pool"
	"github.com/xtxerr/sensorlog/internal/store"
	"github.com/xtxerr/sensorlog/internal/wire"
)

var log = logging.Component("server")

// maxAcceptBackoff caps the sleep after consecutive temporary accept errors.
const maxAcceptBackoff = time.Second

// =============================================================================
// Server Configuration
// =============================================================================

// Config holds server configuration.
type Config struct {
	// Store is the record store (required).
	Store *store.Store

	// Listen is the address to listen on (e.g., "0.0.0.0:9000").
	Listen string

	// Protocol settings.
	Format       wire.Format
	MaxFrameSize int
	MaxGetCount  int

	// LegacyLogErrors replies ERROR|INVALID_SENSOR_ID to a failed LOG.
	LegacyLogErrors bool

	// Session settings.
	IdleTimeout     time.Duration
	CleanupInterval time.Duration

	// Pool settings.
	PoolWorkers   int
	PoolQueueSize int
	JobTimeout    time.Duration
	DrainTimeout  time.Duration

	// Malformed request limiting. Zero limit disables it.
	MalformedLimit  int
	MalformedWindow time.Duration

	// Metrics is optional.
	Metrics *metrics.Metrics
}

// =============================================================================
// Server
// =============================================================================

// Server is the sensorlog TCP server.
type Server struct {
	cfg      *Config
	pool     *pool.Pool
	handler  *handler.Handler
	sessions *handler.SessionManager
	limiter  *MalformedLimiter
	metrics  *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener

	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a new server.
func New(cfg *Config) *Server {
	// Apply defaults
	if cfg.Listen == "" {
		cfg.Listen = config.DefaultListenAddress
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = config.DefaultMaxFrameSize
	}
	if cfg.MaxGetCount == 0 {
		cfg.MaxGetCount = config.DefaultMaxGetCount
	}
	if cfg.Format.Location == nil {
		cfg.Format.Location = time.Local
	}
	if cfg.MalformedWindow == 0 {
		cfg.MalformedWindow = time.Minute
	}

	p := pool.New(&pool.Config{
		Workers:      cfg.PoolWorkers,
		QueueSize:    cfg.PoolQueueSize,
		JobTimeout:   cfg.JobTimeout,
		DrainTimeout: cfg.DrainTimeout,
	})

	s := &Server{
		cfg:      cfg,
		pool:     p,
		limiter:  NewMalformedLimiter(cfg.MalformedLimit, cfg.MalformedWindow),
		metrics:  cfg.Metrics,
		shutdown: make(chan struct{}),
	}

	hcfg := &handler.Config{
		Store:       cfg.Store,
		Executor:    p,
		Format:      cfg.Format,
		MaxGetCount: cfg.MaxGetCount,

		LegacyLogErrors: cfg.LegacyLogErrors,
	}
	if s.metrics != nil {
		hcfg.Observer = s.metrics
	}
	s.handler = handler.NewHandler(hcfg)

	s.sessions = handler.NewSessionManager(&handler.SessionManagerConfig{
		Handler: s.handler,
		Session: handler.SessionConfig{
			IdleTimeout:    cfg.IdleTimeout,
			MaxFrameSize:   cfg.MaxFrameSize,
			OnRequestError: s.onRequestError,
		},
		CleanupInterval: cfg.CleanupInterval,
		OnSessionClosed: s.onSessionClosed,
	})

	if s.metrics != nil {
		s.metrics.RegisterSessions(s.sessions.CountActive)
		s.metrics.RegisterPool(p.Stats)
	}

	return s
}

// Listen binds the listening socket. Run calls it if it has not been
// called yet; calling it first lets the caller learn Addr before serving.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	log.Info("listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Run starts the server and blocks until Shutdown.
func (s *Server) Run() error {
	if err := s.Listen(); err != nil {
		return err
	}

	s.pool.Start()
	s.sessions.Start()
	log.Info("serving", "workers", s.pool.Workers())

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}

			// Accept errors never stop the server; back off so a
			// persistent condition such as fd exhaustion does not spin.
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			log.Error("accept error", "error", err, "retry_in", backoff)

			select {
			case <-time.After(backoff):
			case <-s.shutdown:
				return nil
			}
			continue
		}
		backoff = 0

		// Registering under mu orders the Add before Shutdown's Wait.
		s.mu.Lock()
		select {
		case <-s.shutdown:
			s.mu.Unlock()
			conn.Close()
			return nil
		default:
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go s.handleConn(conn)
	}
}

// Shutdown stops the server gracefully: the listener closes, every
// session closes, and in-flight storage jobs are drained.
func (s *Server) Shutdown() {
	s.ShutdownWithContext(context.Background())
}

// ShutdownWithContext is like Shutdown but bounds the pool drain by ctx.
func (s *Server) ShutdownWithContext(ctx context.Context) {
	s.shutdownOnce.Do(func() {
		log.Info("shutting down")
		close(s.shutdown)

		s.mu.Lock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()

		s.sessions.Stop()
		s.wg.Wait()
		s.pool.StopWithContext(ctx)
		s.limiter.Stop()

		log.Info("shutdown complete")
	})
}

// Sessions returns the session manager.
func (s *Server) Sessions() *handler.SessionManager {
	return s.sessions
}

// Limiter returns the malformed request limiter.
func (s *Server) Limiter() *MalformedLimiter {
	return s.limiter
}

// =============================================================================
// Connection Handling
// =============================================================================

// handleConn serves one connection until it closes.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()

	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)

	if s.limiter.IsBlocked(remoteIP) {
		log.Warn("refusing connection, too many malformed requests",
			"remote", remote,
			"failure_count", s.limiter.GetFailureCount(remoteIP))
		if s.metrics != nil {
			s.metrics.ConnectionRefused()
		}
		conn.Close()
		return
	}

	session := s.sessions.CreateSession(conn)
	if session == nil {
		// Shutting down.
		return
	}
	if s.metrics != nil {
		s.metrics.SessionOpened()
	}

	log.Info("session opened", "session_id", session.ID, "remote", remote)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in session", "session_id", session.ID, "panic", r)
			s.sessions.RemoveSession(session.ID)
		}
	}()

	session.Serve()
}

func (s *Server) onRequestError(session *handler.Session, err error) {
	if errors.IsProtocol(err) {
		s.limiter.RecordFailure(extractIP(session.Remote))
	}
}

func (s *Server) onSessionClosed(session *handler.Session, cause error) {
	label := closeCause(cause)
	if s.metrics != nil {
		s.metrics.SessionClosed(label)
	}
	log.Info("session closed",
		"session_id", session.ID,
		"remote", session.Remote,
		"requests", session.Requests(),
		"cause", label)
}

func closeCause(err error) string {
	switch {
	case err == nil:
		return "disconnect"
	case errors.Is(err, errors.ErrFrameTooLarge):
		return "frame_too_large"
	default:
		return "transport_error"
	}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
