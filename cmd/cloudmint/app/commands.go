// Package app provides the entry point for the cloudmint command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cloudmint/cloudmint/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "cloudmint",
	DisableAutoGenTag: true,
	Short:             "cloudmint - short-lived cloud access tokens over HTTP",
	Long: `cloudmint exchanges a long-lived service account credential for
short-lived bearer tokens on behalf of clients holding a shared API key.

It caches minted tokens until shortly before expiry, tracks the success rate
of upstream exchanges, and exposes health, readiness and liveness endpoints
so an orchestrator can decide when a restart is warranted.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the cloudmint CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("cloudmint version: %s", getVersion())
		},
	}
}

// getVersion returns the version string (will be set at build time)
func getVersion() string {
	return "dev"
}
