// Package main is the entry point for the cloudmint token server.
package main

import (
	"os"

	"github.com/cloudmint/cloudmint/cmd/cloudmint/app"
	"github.com/cloudmint/cloudmint/pkg/logger"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
