// Package telemetry exposes prometheus metrics for token issuance and health.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudmint/cloudmint/pkg/health"
)

// Outcome label values for token requests.
const (
	OutcomeSuccess = "success"
)

var (
	tokenRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudmint_token_requests_total",
		Help: "Token issuance attempts by outcome (success or failure kind).",
	}, []string{"outcome"})

	issueDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cloudmint_token_issue_duration_seconds",
		Help:    "Latency of token issuance, including cache hits.",
		Buckets: prometheus.DefBuckets,
	})

	healthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cloudmint_health_status",
		Help: "Current health status; the gauge for the active status is 1.",
	}, []string{"status"})

	probeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cloudmint_connectivity_probes_total",
		Help: "Connectivity probe results against the upstream issuer.",
	}, []string{"result"})
)

// RecordTokenRequest counts one issuance attempt. outcome is
// OutcomeSuccess or the failure kind from the error taxonomy.
func RecordTokenRequest(outcome string, duration time.Duration) {
	tokenRequests.WithLabelValues(outcome).Inc()
	issueDuration.Observe(duration.Seconds())
}

// SetHealthStatus publishes the current derived status as a one-hot gauge.
func SetHealthStatus(current health.Status) {
	for _, s := range []health.Status{
		health.StatusHealthy, health.StatusDegraded, health.StatusUnhealthy, health.StatusNotReady,
	} {
		value := 0.0
		if s == current {
			value = 1.0
		}
		healthStatus.WithLabelValues(string(s)).Set(value)
	}
}

// RecordProbe counts one connectivity probe result.
func RecordProbe(reachable bool) {
	result := "reachable"
	if !reachable {
		result = "unreachable"
	}
	probeResults.WithLabelValues(result).Inc()
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
