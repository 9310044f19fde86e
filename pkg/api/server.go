// Package api contains the REST API for cloudmint.
package api

// @title           cloudmint API
// @version         1.0
// @description     Short-lived cloud access tokens in exchange for a shared API key.

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	v1 "github.com/cloudmint/cloudmint/pkg/api/v1"
	"github.com/cloudmint/cloudmint/pkg/auth"
	"github.com/cloudmint/cloudmint/pkg/health"
	"github.com/cloudmint/cloudmint/pkg/logger"
	"github.com/cloudmint/cloudmint/pkg/telemetry"
)

const (
	// requestTimeout bounds request handling via chi middleware. It must
	// exceed the mint timeout so a slow upstream surfaces as a typed
	// error, not a blank middleware timeout.
	requestTimeout = 15 * time.Second
)

// Deps carries everything the router serves from.
type Deps struct {
	// Issuer handles POST /api/v1/token.
	Issuer v1.TokenIssuer

	// Health feeds /health, /readiness and /liveness.
	Health v1.HealthReporter

	// Connectivity is the probe result source, may be nil.
	Connectivity health.ConnectivitySource

	// AccountEmail is reported on /health and the service root.
	AccountEmail string

	// APIKey guards the token endpoint.
	APIKey string

	// LivenessGrace is how long unhealthy must persist before /liveness fails.
	LivenessGrace time.Duration
}

// NewRouter assembles the chi router with the full endpoint surface.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
		headersMiddleware,
	)

	r.Get("/", rootHandler)
	v1.NewHealthRoutes(deps.Health, deps.Connectivity, deps.AccountEmail, deps.LivenessGrace).Register(r)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/usage", usageHandler)
		r.With(auth.APIKeyMiddleware(deps.APIKey)).Mount("/token", v1.TokenRouter(deps.Issuer))
	})

	return r
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

//	 rootHandler
//		@Summary		Basic service check
//		@Tags			system
//		@Produce		json
//		@Success		200	{object}	map[string]string
//		@Router			/ [get]
func rootHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "cloudmint token server",
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

//	 usageHandler
//		@Summary		API usage information
//		@Tags			system
//		@Produce		json
//		@Success		200	{object}	map[string]any
//		@Router			/api/v1/usage [get]
func usageHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"usage": map[string]string{
			"endpoint":       "/api/v1/token",
			"method":         "POST",
			"authentication": "Bearer token in Authorization header (required)",
			"example":        "curl -X POST 'https://your-server.example.com/api/v1/token' -H 'Authorization: Bearer your-api-key'",
		},
		"token_usage": map[string]string{
			"description": "Use the returned access token as a bearer token against downstream cloud APIs",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
