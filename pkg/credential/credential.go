// Package credential loads the long-lived service account credential and
// exchanges it for short-lived access tokens at the upstream issuer.
//
// Exactly one Credential is loaded per process lifetime. It is either fully
// valid or the process refuses to serve tokens; there is no partial state.
package credential

import (
	"crypto/rsa"
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudmint/cloudmint/pkg/errors"
	"github.com/cloudmint/cloudmint/pkg/logger"
)

// Credential is the immutable service account identity material.
// Fields mirror the Google service account key JSON layout.
type Credential struct {
	ClientEmail  string `json:"client_email"`
	PrivateKey   string `json:"private_key"`
	PrivateKeyID string `json:"private_key_id"`
	TokenURI     string `json:"token_uri"`
	ProjectID    string `json:"project_id"`

	// parsedKey caches the decoded RSA key after the first signing attempt.
	parseOnce sync.Once
	parsedKey *rsa.PrivateKey
	parseErr  error
}

// Load reads and validates the service account credential.
//
// The source is either an inline JSON blob or a filesystem path to one.
// An empty source falls back to defaultFile in the working directory.
// Any missing or malformed required field fails with a config_invalid error
// rather than producing a partially usable credential.
func Load(source, defaultFile string) (*Credential, error) {
	raw, origin, err := readSource(source, defaultFile)
	if err != nil {
		return nil, err
	}

	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, errors.NewConfigInvalidError("service account credential is not valid JSON", err)
	}
	if err := cred.validate(); err != nil {
		return nil, err
	}

	logger.Infof("Loaded service account credentials from %s", origin)
	return &cred, nil
}

// readSource resolves the credential bytes and a human-readable origin for
// logging. Inline JSON is detected by attempting to parse the source itself,
// matching the original deployment's SERVICE_ACCOUNT_JSON contract.
func readSource(source, defaultFile string) ([]byte, string, error) {
	if source == "" {
		raw, err := os.ReadFile(defaultFile)
		if err != nil {
			return nil, "", errors.NewConfigInvalidError(
				"service account credentials not configured and default key file missing", err)
		}
		return raw, "file " + defaultFile, nil
	}

	if json.Valid([]byte(source)) && strings.HasPrefix(strings.TrimSpace(source), "{") {
		return []byte(source), "SERVICE_ACCOUNT_JSON environment variable", nil
	}

	raw, err := os.ReadFile(source)
	if err != nil {
		return nil, "", errors.NewConfigInvalidError("failed to read service account key file", err)
	}
	return raw, "file " + source, nil
}

// validate checks the required identity fields. The private key PEM itself is
// only decoded on first use; a syntactically broken key surfaces later as a
// credential_invalid mint failure, not a startup error.
func (c *Credential) validate() error {
	if c.ClientEmail == "" {
		return errors.NewConfigInvalidError("service account credential is missing client_email", nil)
	}
	if c.PrivateKey == "" {
		return errors.NewConfigInvalidError("service account credential is missing private_key", nil)
	}
	if c.TokenURI != "" {
		u, err := url.Parse(c.TokenURI)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.NewConfigInvalidError("service account credential has a malformed token_uri", err)
		}
	}
	return nil
}

// signingKey returns the parsed RSA private key, decoding it once.
func (c *Credential) signingKey() (*rsa.PrivateKey, error) {
	c.parseOnce.Do(func() {
		key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(c.PrivateKey))
		if err != nil {
			c.parseErr = errors.NewCredentialInvalidError("service account private key is not a valid RSA PEM key", err)
			return
		}
		c.parsedKey = key
	})
	return c.parsedKey, c.parseErr
}

// Email returns the service account email for informational reporting.
func (c *Credential) Email() string {
	return c.ClientEmail
}
