// Package config loads and validates the cloudmint service configuration.
//
// Values come from viper, which merges defaults, environment variables and
// any cobra flags bound by the command layer. Startup fails before the
// listener binds if the configuration is not fully valid.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/cloudmint/cloudmint/pkg/errors"
	"github.com/cloudmint/cloudmint/pkg/health"
)

// Environment variables honoured for backwards compatibility with the
// original deployment (Cloud Run / Render style key=value config).
const (
	envAPIKey         = "API_KEY"
	envServiceAccount = "SERVICE_ACCOUNT_JSON"
	envPort           = "PORT"
)

// Default policy constants. All of them are overridable through viper keys
// of the same name as the struct field (e.g. "cache-margin").
const (
	DefaultTokenURL         = "https://oauth2.googleapis.com/token"
	DefaultScope            = "https://www.googleapis.com/auth/cloud-platform"
	DefaultCredentialFile   = "service-account-key.json"
	DefaultCacheMargin      = 5 * time.Minute
	DefaultMintTimeout      = 10 * time.Second
	DefaultProbeTimeout     = 3 * time.Second
	DefaultProbeInterval    = 60 * time.Second
	DefaultDrainGracePeriod = 20 * time.Second
	DefaultLivenessGrace    = 60 * time.Second
)

// Config holds the full service configuration.
type Config struct {
	// Address is the listen address, e.g. ":8080".
	Address string

	// APIKey is the shared secret callers must present as a bearer token.
	APIKey string

	// ServiceAccount is either an inline service account JSON blob or a
	// path to a file containing one. Empty means fall back to
	// DefaultCredentialFile in the working directory.
	ServiceAccount string

	// TokenURL is the upstream OAuth2 token endpoint.
	TokenURL string

	// Scopes are the OAuth2 scopes requested for minted tokens.
	Scopes []string

	// CacheMargin is how long before true expiry a cached token is
	// considered stale and a fresh mint is attempted.
	CacheMargin time.Duration

	// MintTimeout bounds a single upstream token exchange.
	MintTimeout time.Duration

	// ProbeTimeout bounds a single connectivity probe.
	ProbeTimeout time.Duration

	// ProbeInterval is the period of the background connectivity monitor.
	ProbeInterval time.Duration

	// DrainGracePeriod is how long in-flight requests may take to finish
	// after a termination signal before the server is forced down.
	DrainGracePeriod time.Duration

	// LivenessGrace is how long the service must remain unhealthy before
	// the liveness endpoint starts failing and an external restart is
	// justified.
	LivenessGrace time.Duration

	// Thresholds drive the healthy/degraded/unhealthy computation.
	Thresholds health.Thresholds
}

// SetDefaults registers defaults and environment bindings on viper.
// The command layer calls this once before flag binding.
func SetDefaults() {
	viper.SetDefault("address", ":8080")
	viper.SetDefault("token-url", DefaultTokenURL)
	viper.SetDefault("scopes", []string{DefaultScope})
	viper.SetDefault("cache-margin", DefaultCacheMargin)
	viper.SetDefault("mint-timeout", DefaultMintTimeout)
	viper.SetDefault("probe-timeout", DefaultProbeTimeout)
	viper.SetDefault("probe-interval", DefaultProbeInterval)
	viper.SetDefault("drain-grace-period", DefaultDrainGracePeriod)
	viper.SetDefault("liveness-grace", DefaultLivenessGrace)

	defaults := health.DefaultThresholds()
	viper.SetDefault("health-consecutive-failure-limit", defaults.ConsecutiveFailureLimit)
	viper.SetDefault("health-min-requests-for-rate", defaults.MinRequestsForRate)
	viper.SetDefault("health-unhealthy-rate", defaults.UnhealthyRate)
	viper.SetDefault("health-degraded-rate", defaults.DegradedRate)

	// Plain env names used by the hosted deployments.
	_ = viper.BindEnv("api-key", envAPIKey)
	_ = viper.BindEnv("service-account", envServiceAccount)
	_ = viper.BindEnv("port", envPort)
}

// Load assembles a Config from viper and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Address:          viper.GetString("address"),
		APIKey:           viper.GetString("api-key"),
		ServiceAccount:   viper.GetString("service-account"),
		TokenURL:         viper.GetString("token-url"),
		Scopes:           viper.GetStringSlice("scopes"),
		CacheMargin:      viper.GetDuration("cache-margin"),
		MintTimeout:      viper.GetDuration("mint-timeout"),
		ProbeTimeout:     viper.GetDuration("probe-timeout"),
		ProbeInterval:    viper.GetDuration("probe-interval"),
		DrainGracePeriod: viper.GetDuration("drain-grace-period"),
		LivenessGrace:    viper.GetDuration("liveness-grace"),
		Thresholds: health.Thresholds{
			ConsecutiveFailureLimit: viper.GetInt("health-consecutive-failure-limit"),
			MinRequestsForRate:      viper.GetInt("health-min-requests-for-rate"),
			UnhealthyRate:           viper.GetFloat64("health-unhealthy-rate"),
			DegradedRate:            viper.GetFloat64("health-degraded-rate"),
		},
	}

	// PORT (Cloud Run convention) overrides the full listen address.
	if port := viper.GetString("port"); port != "" {
		cfg.Address = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is complete enough to serve.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.NewConfigInvalidError(
			fmt.Sprintf("%s must be set to the shared client secret", envAPIKey), nil)
	}
	if c.TokenURL == "" {
		return errors.NewConfigInvalidError("token endpoint URL must not be empty", nil)
	}
	if len(c.Scopes) == 0 {
		return errors.NewConfigInvalidError("at least one OAuth2 scope is required", nil)
	}
	for name, d := range map[string]time.Duration{
		"cache-margin":       c.CacheMargin,
		"mint-timeout":       c.MintTimeout,
		"probe-timeout":      c.ProbeTimeout,
		"probe-interval":     c.ProbeInterval,
		"drain-grace-period": c.DrainGracePeriod,
		"liveness-grace":     c.LivenessGrace,
	} {
		if d <= 0 {
			return errors.NewConfigInvalidError(fmt.Sprintf("%s must be positive, got %v", name, d), nil)
		}
	}
	if err := c.Thresholds.Validate(); err != nil {
		return errors.NewConfigInvalidError("invalid health thresholds", err)
	}
	return nil
}
