package health

import (
	"sync"
	"time"

	"github.com/cloudmint/cloudmint/pkg/logger"
)

// Stats is an immutable point-in-time copy of the issuance counters.
// No reader ever observes SuccessfulRequests > TotalRequests.
type Stats struct {
	// TotalRequests is the number of issuance attempts recorded.
	TotalRequests int64

	// SuccessfulRequests is the number of attempts that produced a token.
	SuccessfulRequests int64

	// ConsecutiveFailures is the length of the trailing run of failures.
	// It resets to zero on any success.
	ConsecutiveFailures int

	// LastSuccess is when a token was last minted. Zero means never.
	LastSuccess time.Time

	// LastFailureKind is the error type of the most recent failure, empty
	// if the most recent attempt succeeded or nothing was recorded yet.
	LastFailureKind string

	// StartTime is when the tracker was created, i.e. process start.
	StartTime time.Time
}

// SuccessRate returns SuccessfulRequests / TotalRequests, or 1.0 when no
// requests have been recorded (no evidence of failure).
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 1.0
	}
	return float64(s.SuccessfulRequests) / float64(s.TotalRequests)
}

// Uptime returns how long the process has been tracking.
func (s Stats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ReadinessGate reports whether the service may accept new traffic.
// The shutdown coordinator satisfies it; not_ready wins over every other
// status the moment it returns false.
type ReadinessGate interface {
	AcceptingRequests() bool
}

// ConnectivitySource exposes the most recent upstream connectivity result.
// Satisfied by *Probe; may be nil when probing is disabled.
type ConnectivitySource interface {
	Last() (ProbeResult, bool)
}

// Tracker owns the process-wide issuance statistics. All mutation happens
// under a single lock; reads get consistent copies. State is in-memory only
// and resets on restart.
type Tracker struct {
	mu         sync.Mutex
	thresholds Thresholds

	total               int64
	successful          int64
	consecutiveFailures int
	lastSuccess         time.Time
	lastFailureKind     string
	startTime           time.Time

	// unhealthySince is when the stats-derived status last entered
	// unhealthy, zero while not unhealthy. Feeds the liveness grace window.
	unhealthySince time.Time

	gate  ReadinessGate
	probe ConnectivitySource

	// now is swappable for tests.
	now func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithReadinessGate wires the shutdown coordinator (or any other gate) into
// the status computation.
func WithReadinessGate(gate ReadinessGate) Option {
	return func(t *Tracker) { t.gate = gate }
}

// WithConnectivity wires the upstream connectivity probe into the status
// computation.
func WithConnectivity(src ConnectivitySource) Option {
	return func(t *Tracker) { t.probe = src }
}

// NewTracker creates a tracker with the given thresholds.
func NewTracker(thresholds Thresholds, opts ...Option) *Tracker {
	if err := thresholds.Validate(); err != nil {
		logger.Warnf("Invalid health thresholds (%v), falling back to defaults", err)
		thresholds = DefaultThresholds()
	}
	t := &Tracker{
		thresholds: thresholds,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.startTime = t.now()
	return t
}

// RecordSuccess records one successful issuance attempt.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.successful++
	if t.consecutiveFailures > 0 {
		logger.Infof("Token issuance recovered after %d consecutive failures", t.consecutiveFailures)
	}
	t.consecutiveFailures = 0
	t.lastSuccess = t.now()
	t.lastFailureKind = ""
	t.updateUnhealthySinceLocked()
}

// RecordFailure records one failed issuance attempt with its error kind.
// Draining rejections must not be recorded here; they are not issuance
// failures and would corrupt the failure counters.
func (t *Tracker) RecordFailure(kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.consecutiveFailures++
	t.lastFailureKind = kind
	if t.consecutiveFailures >= t.thresholds.ConsecutiveFailureLimit {
		logger.Warnf("Token issuance failing: %d consecutive failures (kind: %s)", t.consecutiveFailures, kind)
	}
	t.updateUnhealthySinceLocked()
}

// updateUnhealthySinceLocked maintains the unhealthy entry timestamp.
// Must be called with the lock held, after counters change.
func (t *Tracker) updateUnhealthySinceLocked() {
	if t.statsStatusLocked() == StatusUnhealthy {
		if t.unhealthySince.IsZero() {
			t.unhealthySince = t.now()
		}
	} else {
		t.unhealthySince = time.Time{}
	}
}

// Snapshot returns a consistent copy of the current statistics.
func (t *Tracker) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	return Stats{
		TotalRequests:       t.total,
		SuccessfulRequests:  t.successful,
		ConsecutiveFailures: t.consecutiveFailures,
		LastSuccess:         t.lastSuccess,
		LastFailureKind:     t.lastFailureKind,
		StartTime:           t.startTime,
	}
}

// Status computes the current health status from the counters, the
// connectivity probe and the readiness gate.
func (t *Tracker) Status() Status {
	if t.gate != nil && !t.gate.AcceptingRequests() {
		return StatusNotReady
	}

	t.mu.Lock()
	status := t.statsStatusLocked()
	t.mu.Unlock()

	// A reachable-looking service with an unreachable issuer cannot mint,
	// even if recent request history looks clean.
	if status == StatusHealthy && t.probe != nil {
		if last, ok := t.probe.Last(); ok && !last.Reachable {
			return StatusDegraded
		}
	}
	return status
}

// statsStatusLocked derives the status from the counters alone.
// Must be called with the lock held.
func (t *Tracker) statsStatusLocked() Status {
	rate := 1.0
	if t.total > 0 {
		rate = float64(t.successful) / float64(t.total)
	}

	if t.consecutiveFailures >= t.thresholds.ConsecutiveFailureLimit {
		return StatusUnhealthy
	}
	if t.total >= int64(t.thresholds.MinRequestsForRate) && rate < t.thresholds.UnhealthyRate {
		return StatusUnhealthy
	}
	if t.consecutiveFailures >= 1 {
		return StatusDegraded
	}
	if t.total > 0 && rate < t.thresholds.DegradedRate {
		return StatusDegraded
	}
	return StatusHealthy
}

// Live reports whether the process should still be considered alive.
// Unhealthy status only fails liveness once it has persisted beyond the
// grace window, so a transient failure burst does not trigger a restart.
// Draining does not fail liveness; a normal shutdown needs no restart.
func (t *Tracker) Live(grace time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statsStatusLocked() != StatusUnhealthy {
		return true
	}
	if t.unhealthySince.IsZero() {
		return true
	}
	return t.now().Sub(t.unhealthySince) < grace
}
