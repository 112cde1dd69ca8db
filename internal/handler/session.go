package handler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/xtxerr/sensorlog/config"
	"github.com/xtxerr/sensorlog/internal/errors"
	"github.com/xtxerr/sensorlog/internal/logging"
	"github.com/xtxerr/sensorlog/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session State
// =============================================================================

// State is the position of a session in its request cycle.
type State int32

const (
	StateAwaitingRequest State = iota
	StateParsingRequest
	StateDispatching
	StateSendingReply
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateParsingRequest:
		return "parsing_request"
	case StateDispatching:
		return "dispatching"
	case StateSendingReply:
		return "sending_reply"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// =============================================================================
// Session
// =============================================================================

// Session serves one client connection.
//
// A session handles exactly one request at a time: it reads a frame,
// dispatches it, writes the reply, and only then reads the next frame.
// There is no session resumption; a reconnect is a new session.
//
// Session is safe for concurrent use.
type Session struct {
	// Immutable fields (no lock needed)
	ID        string
	Remote    string
	CreatedAt time.Time

	conn    net.Conn
	wire    *wire.Conn
	handler *Handler
	log     *slog.Logger

	idleTimeout    time.Duration
	onRequestError func(*Session, error)

	state     atomic.Int32
	requests  atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	onClose func(*Session, error)
}

// SessionConfig holds session configuration options.
type SessionConfig struct {
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero waits indefinitely.
	IdleTimeout time.Duration

	// MaxFrameSize limits a request line. Zero uses the default.
	MaxFrameSize int

	// OnRequestError is called after a request that produced an error
	// reply, before the reply is written. Optional.
	OnRequestError func(s *Session, err error)
}

// NewSession creates a session for conn. Serve must be called to run it.
func NewSession(id string, conn net.Conn, h *Handler, cfg *SessionConfig) *Session {
	if cfg == nil {
		cfg = &SessionConfig{}
	}
	maxFrame := cfg.MaxFrameSize
	if maxFrame <= 0 {
		maxFrame = config.DefaultMaxFrameSize
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	ctx := logging.ContextWithSessionID(context.Background(), id)
	ctx = logging.ContextWithRemoteAddr(ctx, remote)
	ctx, cancel := context.WithCancel(ctx)

	return &Session{
		ID:             id,
		Remote:         remote,
		CreatedAt:      time.Now(),
		conn:           conn,
		wire:           wire.NewConn(conn, maxFrame),
		handler:        h,
		log:            log.With("session_id", id, "remote", remote),
		idleTimeout:    cfg.IdleTimeout,
		onRequestError: cfg.OnRequestError,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	// Closed is terminal.
	for {
		cur := s.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

// Requests returns the number of requests handled so far.
func (s *Session) Requests() uint64 {
	return s.requests.Load()
}

// =============================================================================
// Request Loop
// =============================================================================

// Serve runs the request loop until the peer disconnects, a transport
// error occurs, or the session is closed. The returned error is nil for
// an orderly disconnect or a local Close.
func (s *Session) Serve() error {
	err := s.serve()
	s.closeWith(err)
	return err
}

func (s *Session) serve() error {
	for {
		s.setState(StateAwaitingRequest)

		if s.idleTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		line, err := s.wire.ReadFrame()
		if err != nil {
			return s.readError(err)
		}

		s.setState(StateParsingRequest)
		seq := s.requests.Add(1)
		ctx := logging.ContextWithRequestID(s.ctx, seq)

		s.setState(StateDispatching)
		reply, herr := s.handler.Handle(ctx, line)
		if herr != nil {
			s.logRequestError(ctx, line, herr)
			if s.onRequestError != nil {
				s.onRequestError(s, herr)
			}
		}

		s.setState(StateSendingReply)
		if err := s.wire.WriteFrame(reply); err != nil {
			if s.closed.Load() {
				return nil
			}
			return err
		}
	}
}

func (s *Session) readError(err error) error {
	switch {
	case s.closed.Load():
		return nil
	case err == io.EOF:
		s.log.Debug("peer closed connection")
		return nil
	case errors.Is(err, errors.ErrFrameTooLarge):
		s.log.Warn("request frame too large, closing", "error", err)
		return err
	case errors.Is(err, io.ErrUnexpectedEOF):
		s.log.Debug("peer closed connection mid-request")
		return nil
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		s.log.Info("idle timeout, closing", "idle_timeout", s.idleTimeout)
		return nil
	}
	return err
}

func (s *Session) logRequestError(ctx context.Context, line string, err error) {
	l := logging.WithContext(ctx).With("component", "session", "reason", errors.ReasonOf(err))
	switch {
	case errors.IsProtocol(err), errors.IsSensorUnknownOrShort(err):
		l.Debug("request rejected", "request", truncate(line, 128), "error", err)
	case errors.IsRetriable(err):
		l.Warn("storage unavailable", "error", err)
	default:
		l.Error("request failed", "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// Close
// =============================================================================

// Close closes the session permanently.
// This is idempotent - calling it multiple times has no additional effect.
func (s *Session) Close() error {
	return s.closeWith(nil)
}

func (s *Session) closeWith(cause error) error {
	var closeErr error

	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.state.Store(int32(StateClosed))
		s.cancel()

		closeErr = s.conn.Close()

		if s.onClose != nil {
			s.onClose(s, cause)
		}

		s.log.Debug("session closed", "requests", s.requests.Load())
	})

	return closeErr
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// =============================================================================
// Session Manager
// =============================================================================

// SessionManagerConfig holds session manager configuration.
type SessionManagerConfig struct {
	// Handler serves requests for every session (required).
	Handler *Handler

	// Session settings applied to every new session.
	Session SessionConfig

	// CleanupInterval controls how often closed sessions are purged.
	CleanupInterval time.Duration

	// OnSessionClosed is called once per session after it closes.
	// cause is nil for an orderly disconnect.
	OnSessionClosed func(session *Session, cause error)
}

// SessionManager tracks live sessions.
//
// SessionManager is safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	stopped  bool

	handler         *Handler
	sessionCfg      SessionConfig
	cleanupInterval time.Duration
	onSessionClosed func(*Session, error)

	// Background cleanup
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
	cleanupWg     sync.WaitGroup
}

// NewSessionManager creates a new session manager.
func NewSessionManager(cfg *SessionManagerConfig) *SessionManager {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Duration(config.DefaultSessionCleanupIntervalSec) * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &SessionManager{
		sessions:        make(map[string]*Session),
		handler:         cfg.Handler,
		sessionCfg:      cfg.Session,
		cleanupInterval: cfg.CleanupInterval,
		onSessionClosed: cfg.OnSessionClosed,
		cleanupCtx:      ctx,
		cleanupCancel:   cancel,
	}
}

// Start starts the background cleanup goroutine.
func (sm *SessionManager) Start() {
	sm.cleanupWg.Add(1)
	go sm.cleanupLoop()
	log.Info("session manager started")
}

// Stop stops the session manager and closes every remaining session.
func (sm *SessionManager) Stop() {
	sm.cleanupCancel()
	sm.cleanupWg.Wait()

	sm.mu.Lock()
	sm.stopped = true
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	// Close outside the lock; onClose calls back into the manager.
	for _, session := range sessions {
		session.Close()
	}

	log.Info("session manager stopped", "closed", len(sessions))
}

func (sm *SessionManager) cleanupLoop() {
	defer sm.cleanupWg.Done()

	ticker := time.NewTicker(sm.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sm.cleanupClosedSessions()
		case <-sm.cleanupCtx.Done():
			return
		}
	}
}

// cleanupClosedSessions removes closed sessions from the map.
func (sm *SessionManager) cleanupClosedSessions() {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	removed := 0
	for id, session := range sm.sessions {
		if session.IsClosed() {
			delete(sm.sessions, id)
			removed++
		}
	}

	if removed > 0 {
		log.Debug("cleaned up closed sessions", "count", removed)
	}
}

// CreateSession registers a new session for conn.
// After Stop, the connection is closed and nil is returned.
func (sm *SessionManager) CreateSession(conn net.Conn) *Session {
	id := generateSessionID()
	session := NewSession(id, conn, sm.handler, &sm.sessionCfg)
	session.onClose = func(s *Session, cause error) {
		sm.mu.Lock()
		delete(sm.sessions, s.ID)
		sm.mu.Unlock()

		if sm.onSessionClosed != nil {
			sm.onSessionClosed(s, cause)
		}
	}

	sm.mu.Lock()
	if sm.stopped {
		sm.mu.Unlock()
		conn.Close()
		return nil
	}
	sm.sessions[id] = session
	sm.mu.Unlock()

	log.Debug("session created", "session_id", id, "remote", session.Remote)
	return session
}

// RemoveSession closes a session and forgets it.
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.RLock()
	session, ok := sm.sessions[id]
	sm.mu.RUnlock()

	if !ok {
		return
	}
	session.Close()
	log.Info("session removed", "session_id", id)
}

// =============================================================================
// Statistics
// =============================================================================

// Count returns the total number of tracked sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CountActive returns the number of active (not closed) sessions.
func (sm *SessionManager) CountActive() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	count := 0
	for _, s := range sm.sessions {
		if !s.IsClosed() {
			count++
		}
	}
	return count
}

// =============================================================================
// Helpers
// =============================================================================

// generateSessionID returns a KSUID: sortable by creation time, with 128
// bits of randomness.
func generateSessionID() string {
	return ksuid.New().String()
}
