package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/cloudmint/cloudmint/pkg/errors"
	"github.com/cloudmint/cloudmint/pkg/logger"
)

const (
	// grantTypeJWTBearer is the OAuth 2.0 JWT bearer grant type (RFC 7523).
	//nolint:gosec // G101: OAuth2 URN identifier, not a credential
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertionLifetime is the validity window of the self-signed assertion.
	assertionLifetime = time.Hour

	// defaultExpirySeconds is assumed when the issuer omits expires_in.
	defaultExpirySeconds = 3600

	// maxResponseBodySize is the maximum size for reading response bodies (1 MB).
	maxResponseBodySize = 1 << 20
)

// oAuthError represents an OAuth 2.0 error response as defined in RFC 6749 Section 5.2.
type oAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
	StatusCode       int    `json:"-"`
}

func (e *oAuthError) String() string {
	if e.ErrorDescription != "" {
		return fmt.Sprintf("OAuth error %q (status %d): %s", e.Error, e.StatusCode, e.ErrorDescription)
	}
	return fmt.Sprintf("OAuth error %q (status %d)", e.Error, e.StatusCode)
}

// parseOAuthError attempts to parse an OAuth error response from the given response body.
func parseOAuthError(statusCode int, body []byte) *oAuthError {
	var oauthErr oAuthError
	if err := json.Unmarshal(body, &oauthErr); err != nil {
		return nil
	}
	if oauthErr.Error == "" {
		return nil
	}
	oauthErr.StatusCode = statusCode
	return &oauthErr
}

// response is used to decode the issuer response during a token exchange.
type response struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Minter exchanges the service account credential for access tokens.
// It performs no caching; each Mint call is one signed exchange against the
// upstream token endpoint.
type Minter struct {
	cred     *Credential
	tokenURL string
	scopes   []string
	timeout  time.Duration
	client   *http.Client

	// now is swappable for tests.
	now func() time.Time
}

// NewMinter creates a Minter for the given credential.
//
// tokenURL is the upstream token endpoint; if the credential carries its own
// token_uri, that takes precedence. timeout bounds each exchange so a hung
// upstream cannot stall callers.
func NewMinter(cred *Credential, tokenURL string, scopes []string, timeout time.Duration) *Minter {
	if cred.TokenURI != "" {
		tokenURL = cred.TokenURI
	}
	return &Minter{
		cred:     cred,
		tokenURL: tokenURL,
		scopes:   scopes,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Mint performs one signed exchange and returns the fresh access token.
//
// Failures are classified into the application error taxonomy:
// credential_invalid for local key problems, upstream_unreachable for
// network/DNS/timeout, upstream_rejected for issuer refusals, and
// upstream_malformed_response when the expected token fields are absent.
func (m *Minter) Mint(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := m.signAssertion()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	form := url.Values{}
	form.Set("grant_type", grantTypeJWTBearer)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.NewUpstreamUnreachableError("failed to build token exchange request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.NewUpstreamUnreachableError("token endpoint unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, errors.NewUpstreamUnreachableError("failed to read token endpoint response", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("token exchange failed with status %d", resp.StatusCode)
		if oauthErr := parseOAuthError(resp.StatusCode, body); oauthErr != nil {
			msg = oauthErr.String()
		}
		logger.Warnf("Token exchange rejected: %s", msg)
		return nil, errors.NewUpstreamRejectedError(msg, nil)
	}

	var tokenResp response
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.NewUpstreamMalformedError("token endpoint returned invalid JSON", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.NewUpstreamMalformedError("token endpoint response is missing access_token", nil)
	}

	expiresIn := tokenResp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpirySeconds
	}
	tokenType := tokenResp.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return &oauth2.Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenType,
		Expiry:      m.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// signAssertion builds the self-issued RS256 assertion for the exchange.
// Claims follow the Google service account flow: iss and sub are the account
// email, aud is the token endpoint, and the scope claim carries the
// space-joined requested scopes.
func (m *Minter) signAssertion() (string, error) {
	key, err := m.cred.signingKey()
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := jwt.MapClaims{
		"iss":   m.cred.ClientEmail,
		"sub":   m.cred.ClientEmail,
		"scope": strings.Join(m.scopes, " "),
		"aud":   m.tokenURL,
		"iat":   now.Unix(),
		"exp":   now.Add(assertionLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if m.cred.PrivateKeyID != "" {
		token.Header["kid"] = m.cred.PrivateKeyID
	}

	signed, err := token.SignedString(key)
	if err != nil {
		return "", errors.NewCredentialInvalidError("failed to sign token assertion", err)
	}
	return signed, nil
}

// TokenURL returns the upstream endpoint the minter exchanges against.
// The connectivity probe reuses it so probes and mints target the same host.
func (m *Minter) TokenURL() string {
	return m.tokenURL
}
