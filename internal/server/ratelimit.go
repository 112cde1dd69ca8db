package server

import (
	"sync"
	"time"
)

// =============================================================================
// Rate Limiter for Malformed Requests
// =============================================================================

// MalformedLimiter refuses connections from peers that keep sending
// malformed requests.
//
// Malformed requests are counted per IP address per time window. Once an
// IP reaches the limit, new connections from it are refused until the
// window expires. Sessions already open are not affected.
//
// Flow:
//  1. Client connects
//  2. Check IsBlocked() - if true, close immediately
//  3. Serve requests
//  4. On each malformed request: call RecordFailure()
type MalformedLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int           // max malformed requests before blocking
	window   time.Duration // time window for counting failures

	stop     chan struct{}
	stopOnce sync.Once
}

type rateLimitEntry struct {
	count     int       // number of malformed requests
	resetTime time.Time // when this entry expires
}

// NewMalformedLimiter creates a new rate limiter.
//
// Parameters:
//   - limit: malformed requests tolerated per window; zero or less disables
//   - window: time window for counting failures (e.g., 1 minute)
func NewMalformedLimiter(limit int, window time.Duration) *MalformedLimiter {
	rl := &MalformedLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}

	if rl.Enabled() {
		go rl.cleanupLoop()
	}

	return rl
}

// Enabled reports whether the limiter blocks anything.
func (rl *MalformedLimiter) Enabled() bool {
	return rl.limit > 0 && rl.window > 0
}

// IsBlocked returns true if the IP has exceeded the failure limit.
func (rl *MalformedLimiter) IsBlocked(ip string) bool {
	if !rl.Enabled() {
		return false
	}

	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return false
	}

	// Check if window has expired
	if time.Now().After(entry.resetTime) {
		return false
	}

	return entry.count >= rl.limit
}

// RecordFailure records a malformed request from ip.
func (rl *MalformedLimiter) RecordFailure(ip string) {
	if !rl.Enabled() {
		return
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.failures[ip]

	if !ok || now.After(entry.resetTime) {
		// New entry or window expired - start fresh
		rl.failures[ip] = &rateLimitEntry{
			count:     1,
			resetTime: now.Add(rl.window),
		}
		return
	}

	entry.count++
}

// Reset clears the failure count for an IP.
func (rl *MalformedLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// GetFailureCount returns the current failure count for an IP (for testing/monitoring).
func (rl *MalformedLimiter) GetFailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return 0
	}

	if time.Now().After(entry.resetTime) {
		return 0
	}

	return entry.count
}

// Stop ends the background cleanup.
func (rl *MalformedLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *MalformedLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *MalformedLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, entry := range rl.failures {
		if now.After(entry.resetTime) {
			delete(rl.failures, ip)
		}
	}
}
