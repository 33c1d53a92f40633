package apicall

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RateLimitConfig bounds how many calls a service admits per fixed window.
//
// The limit guards a provider-imposed quota before any network call is made.
// It is local to one Service value; it does not coordinate across processes.
type RateLimitConfig struct {
	// Limit is the number of calls admitted per window. 0 disables limiting.
	Limit int `yaml:"limit"`

	// Window is the fixed window length.
	// Default: 1m
	Window time.Duration `yaml:"window"`
}

// DefaultRateLimitConfig returns a disabled limiter with a one minute window.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:  0,
		Window: time.Minute,
	}
}

// IsEnabled reports whether calls are counted at all.
func (c RateLimitConfig) IsEnabled() bool {
	return c.Limit > 0 && c.Window > 0
}

// RateLimiterStats is a snapshot of the current window.
type RateLimiterStats struct {
	WindowStart time.Time
	Counter     int
	Limit       int
	Window      time.Duration

	// Rejected is the number of calls refused in the current window.
	Rejected int
}

// RateLimiter is a fixed (non-sliding) window call counter.
//
// Rejected calls are recorded for the roll-over warning and dropped; they are
// never queued for later execution.
type RateLimiter struct {
	cfg    RateLimitConfig
	clock  Clock
	logger zerolog.Logger

	mu               sync.Mutex
	windowStart      time.Time
	counter          int
	overflow         []*APICall
	previousOverflow int
}

// NewRateLimiter creates a limiter whose first window starts now.
func NewRateLimiter(cfg RateLimitConfig, clock Clock, logger zerolog.Logger) *RateLimiter {
	if clock == nil {
		clock = SystemClock
	}
	return &RateLimiter{
		cfg:         cfg,
		clock:       clock,
		logger:      logger,
		windowStart: clock.Now(),
	}
}

// Admit counts call against the current window.
//
// It returns a *RateLimitError (matching ErrLocalRateLimitExceeded) when the
// window is full. The check and the increment happen under one lock so two
// concurrent calls cannot both take the last slot.
func (l *RateLimiter) Admit(call *APICall) error {
	if l == nil || !l.cfg.IsEnabled() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if !now.Before(l.windowStart.Add(l.cfg.Window)) {
		l.rollWindow(now)
	}

	if l.counter >= l.cfg.Limit {
		l.overflow = append(l.overflow, call)
		return &RateLimitError{Call: call, Limit: l.cfg.Limit}
	}

	l.counter++
	return nil
}

// rollWindow reports the overflow of the window that just ended and starts a
// new one at now. Callers hold l.mu.
func (l *RateLimiter) rollWindow(now time.Time) {
	overflow := len(l.overflow)
	if overflow > 0 {
		grew := overflow > l.previousOverflow
		ev := l.logger.Warn()
		if grew {
			ev = l.logger.Error()
		}
		ev.Int("overflow", overflow).
			Int("previous_overflow", l.previousOverflow).
			Int("limit", l.cfg.Limit).
			Dur("window", l.cfg.Window).
			Bool("escalating", grew).
			Msg("local rate limit exceeded in previous window")
	}

	l.previousOverflow = overflow
	l.windowStart = now
	l.counter = 0
	l.overflow = nil
}

// Stats returns a snapshot of the current window.
func (l *RateLimiter) Stats() RateLimiterStats {
	if l == nil {
		return RateLimiterStats{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	return RateLimiterStats{
		WindowStart: l.windowStart,
		Counter:     l.counter,
		Limit:       l.cfg.Limit,
		Window:      l.cfg.Window,
		Rejected:    len(l.overflow),
	}
}
