package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudmint/cloudmint/pkg/api"
	"github.com/cloudmint/cloudmint/pkg/broker"
	"github.com/cloudmint/cloudmint/pkg/config"
	"github.com/cloudmint/cloudmint/pkg/credential"
	"github.com/cloudmint/cloudmint/pkg/health"
	"github.com/cloudmint/cloudmint/pkg/lifecycle"
	"github.com/cloudmint/cloudmint/pkg/logger"
	"github.com/cloudmint/cloudmint/pkg/telemetry"
)

const (
	serverReadTimeout  = 10 * time.Second // Enough for headers and small requests
	serverWriteTimeout = 20 * time.Second // Must be > the chi request timeout to let middleware answer
	serverIdleTimeout  = 60 * time.Second // Keep connections alive for reuse

	// shutdownTimeout bounds the final server.Shutdown call, after the
	// drain grace period has already let in-flight requests finish.
	shutdownTimeout = 5 * time.Second
)

func newServeCmd() *cobra.Command {
	config.SetDefaults()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the token server",
		Long: `Start the cloudmint HTTP server.

The server loads a service account credential at startup, then serves
short-lived access tokens on POST /api/v1/token to callers presenting the
shared API key as a bearer token. Health state is tracked per token request
and reported on /health, /readiness and /liveness.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("credentials", "",
		"Service account JSON, inline or a file path (defaults to "+config.DefaultCredentialFile+")")

	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		logger.Fatalf("Failed to bind address flag: %v", err)
	}
	if err := viper.BindPFlag("service-account", cmd.Flags().Lookup("credentials")); err != nil {
		logger.Fatalf("Failed to bind credentials flag: %v", err)
	}

	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The credential must be loadable and well-formed before the listener
	// binds. A broken key file is a deploy problem, not a runtime one.
	cred, err := credential.Load(cfg.ServiceAccount, config.DefaultCredentialFile)
	if err != nil {
		return err
	}
	logger.Infof("Loaded service account credential for %s", cred.Email())

	minter := credential.NewMinter(cred, cfg.TokenURL, cfg.Scopes, cfg.MintTimeout)
	coordinator := lifecycle.NewCoordinator()

	probe := health.NewProbe(minter.TokenURL(), cfg.ProbeTimeout)
	probe.OnResult(func(result health.ProbeResult) {
		telemetry.RecordProbe(result.Reachable)
	})

	tracker := health.NewTracker(cfg.Thresholds,
		health.WithReadinessGate(coordinator),
		health.WithConnectivity(probe),
	)

	probeCtx, stopProbe := context.WithCancel(context.Background())
	defer stopProbe()
	go probe.Run(probeCtx, cfg.ProbeInterval)

	issuer := broker.New(minter, tracker, coordinator, cfg.CacheMargin)

	router := api.NewRouter(api.Deps{
		Issuer:        issuer,
		Health:        tracker,
		Connectivity:  probe,
		AccountEmail:  cred.Email(),
		APIKey:        cfg.APIKey,
		LivenessGrace: cfg.LivenessGrace,
	})

	server := &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		logger.Infof("Server listening on %s", cfg.Address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop accepting token requests, then give in-flight ones the grace
	// period to finish. Readiness flips to not_ready immediately.
	coordinator.BeginDrain()
	stopProbe()
	if clean := coordinator.Drain(cfg.DrainGracePeriod); !clean {
		logger.Warnf("Drain grace period of %v expired with requests still in flight", cfg.DrainGracePeriod)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}
