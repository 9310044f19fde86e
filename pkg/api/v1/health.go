package v1

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudmint/cloudmint/pkg/health"
	"github.com/cloudmint/cloudmint/pkg/telemetry"
)

// HealthReporter exposes the tracker surface the health routes need.
// Satisfied by *health.Tracker.
type HealthReporter interface {
	Status() health.Status
	Snapshot() health.Stats
	Live(grace time.Duration) bool
}

// HealthResponse is the detailed payload served on /health.
type HealthResponse struct {
	Status              string            `json:"status"`
	ServiceAccountEmail string            `json:"service_account_email,omitempty"`
	UptimeSeconds       int64             `json:"uptime_seconds"`
	Stats               StatsResponse     `json:"stats"`
	Upstream            *UpstreamResponse `json:"upstream,omitempty"`
	Timestamp           string            `json:"timestamp"`
}

// StatsResponse is the JSON projection of the issuance counters.
type StatsResponse struct {
	TotalRequests       int64   `json:"total_requests"`
	SuccessfulRequests  int64   `json:"successful_requests"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	SuccessRate         float64 `json:"success_rate"`
	LastSuccess         string  `json:"last_success,omitempty"`
	LastFailureKind     string  `json:"last_failure_kind,omitempty"`
}

// UpstreamResponse reports the last connectivity probe result.
type UpstreamResponse struct {
	Reachable bool   `json:"reachable"`
	Reason    string `json:"reason,omitempty"`
	CheckedAt string `json:"checked_at"`
}

// HealthRoutes serves the health, readiness and liveness endpoints.
// The routes are registered at the top level (/health, /readiness,
// /liveness) so orchestrator probe configuration stays flat.
type HealthRoutes struct {
	reporter      HealthReporter
	connectivity  health.ConnectivitySource
	accountEmail  string
	livenessGrace time.Duration
}

// NewHealthRoutes creates the health route handlers.
func NewHealthRoutes(
	reporter HealthReporter,
	connectivity health.ConnectivitySource,
	accountEmail string,
	livenessGrace time.Duration,
) *HealthRoutes {
	return &HealthRoutes{
		reporter:      reporter,
		connectivity:  connectivity,
		accountEmail:  accountEmail,
		livenessGrace: livenessGrace,
	}
}

// Register attaches the health routes to the router.
func (h *HealthRoutes) Register(r chi.Router) {
	r.Get("/health", h.getHealth)
	r.Get("/readiness", h.getReadiness)
	r.Get("/liveness", h.getLiveness)
}

//	 getHealth
//		@Summary		Detailed health check
//		@Description	Report the derived health status with issuance statistics and upstream connectivity
//		@Tags			system
//		@Produce		json
//		@Success		200	{object}	HealthResponse
//		@Failure		503	{object}	HealthResponse
//		@Router			/health [get]
func (h *HealthRoutes) getHealth(w http.ResponseWriter, _ *http.Request) {
	status := h.reporter.Status()
	stats := h.reporter.Snapshot()
	telemetry.SetHealthStatus(status)

	resp := HealthResponse{
		Status:              string(status),
		ServiceAccountEmail: h.accountEmail,
		UptimeSeconds:       int64(stats.Uptime().Seconds()),
		Stats: StatsResponse{
			TotalRequests:       stats.TotalRequests,
			SuccessfulRequests:  stats.SuccessfulRequests,
			ConsecutiveFailures: stats.ConsecutiveFailures,
			SuccessRate:         stats.SuccessRate(),
			LastFailureKind:     stats.LastFailureKind,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !stats.LastSuccess.IsZero() {
		resp.Stats.LastSuccess = stats.LastSuccess.UTC().Format(time.RFC3339)
	}
	if h.connectivity != nil {
		if last, ok := h.connectivity.Last(); ok {
			resp.Upstream = &UpstreamResponse{
				Reachable: last.Reachable,
				Reason:    last.Reason,
				CheckedAt: last.CheckedAt.UTC().Format(time.RFC3339),
			}
		}
	}

	code := http.StatusOK
	if status == health.StatusUnhealthy || status == health.StatusNotReady {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

//	 getReadiness
//		@Summary		Readiness check
//		@Description	Report whether the service may receive new traffic
//		@Tags			system
//		@Success		204	{string}	string	"No Content"
//		@Failure		503	{string}	string	"Service Unavailable"
//		@Router			/readiness [get]
func (h *HealthRoutes) getReadiness(w http.ResponseWriter, _ *http.Request) {
	if h.reporter.Status() == health.StatusNotReady {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

//	 getLiveness
//		@Summary		Liveness check
//		@Description	Fail only once the service has been unhealthy beyond the grace window
//		@Tags			system
//		@Success		204	{string}	string	"No Content"
//		@Failure		503	{string}	string	"Service Unavailable"
//		@Router			/liveness [get]
func (h *HealthRoutes) getLiveness(w http.ResponseWriter, _ *http.Request) {
	if !h.reporter.Live(h.livenessGrace) {
		http.Error(w, "unhealthy beyond grace window", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
