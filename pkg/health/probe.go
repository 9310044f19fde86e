package health

import (
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/cloudmint/cloudmint/pkg/logger"
)

// ProbeResult is the outcome of one upstream connectivity check.
type ProbeResult struct {
	// Reachable is true when the issuer answered the probe at the HTTP
	// layer, regardless of status code. A 4xx/5xx answer still proves the
	// network path and the service are up; credential problems are
	// diagnosed separately by real mint attempts.
	Reachable bool

	// Reason describes why the issuer was unreachable ("timeout",
	// "connection"), empty when reachable.
	Reason string

	// CheckedAt is when the probe completed.
	CheckedAt time.Time

	// Latency is how long the probe took.
	Latency time.Duration
}

// Probe performs lightweight reachability checks against the upstream token
// issuer, independent of whether a real token request occurred recently.
// This lets the health status distinguish "upstream is down" from "our
// credential is bad".
type Probe struct {
	url     string
	timeout time.Duration
	client  *http.Client

	mu   sync.RWMutex
	last *ProbeResult

	// onResult, when set, observes every completed check (metrics hook).
	onResult func(ProbeResult)
}

// OnResult registers a hook invoked after every completed check.
// Must be set before the probe starts running.
func (p *Probe) OnResult(fn func(ProbeResult)) {
	p.onResult = fn
}

// NewProbe creates a probe against the given issuer URL with a short
// per-check timeout. The probe never blocks a caller beyond the timeout.
func NewProbe(url string, timeout time.Duration) *Probe {
	return &Probe{
		url:     url,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Check performs one reachability check and records its result.
func (p *Probe) Check(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result := ProbeResult{CheckedAt: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		result.Reason = "invalid probe target"
		p.store(result)
		return result
	}

	resp, err := p.client.Do(req)
	result.Latency = time.Since(start)
	result.CheckedAt = time.Now()

	if err != nil {
		result.Reason = classifyProbeError(err)
		logger.Debugf("Connectivity probe failed (%s): %v", result.Reason, err)
		p.store(result)
		return result
	}
	defer resp.Body.Close()

	result.Reachable = true
	p.store(result)
	return result
}

func classifyProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return "timeout"
	}
	return "connection"
}

func (p *Probe) store(result ProbeResult) {
	p.mu.Lock()
	p.last = &result
	p.mu.Unlock()
	if p.onResult != nil {
		p.onResult(result)
	}
}

// Last returns the most recent probe result. ok is false until the first
// check has completed.
func (p *Probe) Last() (ProbeResult, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return ProbeResult{}, false
	}
	return *p.last, true
}

// Run checks connectivity periodically until the context is cancelled.
// After an unreachable result the next check is scheduled with exponential
// backoff, capped at the regular interval, so a flapping upstream is
// re-tested quickly without hammering it.
func (p *Probe) Run(ctx context.Context, interval time.Duration) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = interval

	timer := time.NewTimer(0) // first check immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			result := p.Check(ctx)

			var next time.Duration
			if result.Reachable {
				bo.Reset()
				next = interval
			} else {
				next = bo.NextBackOff()
				if next > interval {
					next = interval
				}
			}
			timer.Reset(next)
		}
	}
}
