// Package lifecycle implements the shutdown state machine for cloudmint.
//
// The coordinator moves one way through running -> draining -> stopped.
// While draining, new issuance requests are refused but in-flight requests
// may finish within a bounded grace period. Readiness reporting reflects
// draining immediately, before the grace period elapses, so load balancers
// stop routing new traffic.
package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudmint/cloudmint/pkg/logger"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	// StateRunning accepts new requests.
	StateRunning State = iota

	// StateDraining refuses new requests while in-flight ones complete.
	StateDraining

	// StateStopped means draining finished and the process is exiting.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Coordinator owns the shutdown state and the in-flight request count.
// All transitions are one-way; there is no re-entry into running.
type Coordinator struct {
	state atomic.Int32

	// mu serializes state transitions against in-flight registration so a
	// request can never slip in after draining began.
	mu       sync.Mutex
	inflight sync.WaitGroup
}

// NewCoordinator creates a coordinator in the running state.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// AcceptingRequests reports whether new issuance requests may start.
// This is the readiness gate: it flips to false the instant draining begins.
func (c *Coordinator) AcceptingRequests() bool {
	return c.State() == StateRunning
}

// Begin registers one in-flight request. It returns false, registering
// nothing, once draining has begun; callers must then refuse the request
// with a service_unavailable outcome.
func (c *Coordinator) Begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if State(c.state.Load()) != StateRunning {
		return false
	}
	c.inflight.Add(1)
	return true
}

// End marks one in-flight request as finished. Every successful Begin must
// be paired with exactly one End.
func (c *Coordinator) End() {
	c.inflight.Done()
}

// BeginDrain transitions running -> draining. It returns false if the
// coordinator already left the running state.
func (c *Coordinator) BeginDrain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
		return false
	}
	logger.Info("Shutdown requested, draining in-flight requests")
	return true
}

// Drain waits for in-flight requests to finish, up to the grace period,
// then transitions to stopped. It returns true if everything finished
// within the grace period.
func (c *Coordinator) Drain(grace time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	clean := true
	select {
	case <-done:
		logger.Info("All in-flight requests completed")
	case <-time.After(grace):
		logger.Warnf("Drain grace period (%v) elapsed with requests still in flight", grace)
		clean = false
	}

	c.mu.Lock()
	c.state.Store(int32(StateStopped))
	c.mu.Unlock()
	return clean
}
