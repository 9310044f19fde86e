package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	apperrors "github.com/cloudmint/cloudmint/pkg/errors"
	"github.com/cloudmint/cloudmint/pkg/logger"
	"github.com/cloudmint/cloudmint/pkg/telemetry"
)

// TokenIssuer is the business logic behind the token endpoint.
// Satisfied by *broker.Broker.
type TokenIssuer interface {
	Issue(ctx context.Context) (*oauth2.Token, error)
}

// TokenResponse is the payload returned for a successful issuance.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiresAt   string `json:"expires_at"`
}

// ErrorResponse is the payload returned for a failed issuance.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// TokenRouter sets up the token issuance route.
func TokenRouter(issuer TokenIssuer) http.Handler {
	routes := &tokenRoutes{issuer: issuer}
	r := chi.NewRouter()
	r.Post("/", routes.issueToken)
	return r
}

type tokenRoutes struct {
	issuer TokenIssuer
}

//	 issueToken
//		@Summary		Issue an access token
//		@Description	Exchange the service account credential for a short-lived cloud access token
//		@Tags			token
//		@Produce		json
//		@Security		BearerAuth
//		@Success		200	{object}	TokenResponse
//		@Failure		401	{object}	ErrorResponse
//		@Failure		502	{object}	ErrorResponse
//		@Failure		503	{object}	ErrorResponse
//		@Router			/api/v1/token [post]
func (t *tokenRoutes) issueToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	tok, err := t.issuer.Issue(r.Context())
	duration := time.Since(start)

	if err != nil {
		kind := apperrors.TypeOf(err)
		if kind == "" {
			kind = "internal"
		}
		telemetry.RecordTokenRequest(kind, duration)
		logger.Errorw("Token issuance failed", "kind", kind, "error", err)
		writeJSON(w, statusForErrorKind(kind), ErrorResponse{Error: kind, Detail: err.Error()})
		return
	}

	telemetry.RecordTokenRequest(telemetry.OutcomeSuccess, duration)
	now := time.Now()
	writeJSON(w, http.StatusOK, TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.Expiry.Sub(now).Seconds()),
		ExpiresAt:   tok.Expiry.UTC().Format(time.RFC3339),
	})
}

// statusForErrorKind maps the error taxonomy onto HTTP status codes.
// Upstream problems surface as 502 so callers can tell them apart from
// local credential or configuration faults.
func statusForErrorKind(kind string) int {
	switch kind {
	case apperrors.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.ErrUpstreamUnreachable, apperrors.ErrUpstreamRejected, apperrors.ErrUpstreamMalformed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
