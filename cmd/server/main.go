// PropertyEscrow - escrow ledger for tokenized property sales
package main

import (
	"context"
	"os"

	"github.com/mbd888/propertyescrow/internal/config"
	"github.com/mbd888/propertyescrow/internal/logging"
	"github.com/mbd888/propertyescrow/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config is known
	logger := logging.New("info", "text")

	logger.Info("starting propertyescrow",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"seller", cfg.SellerAddr,
		"inspector", cfg.InspectorAddr,
		"lender", cfg.LenderAddr,
		"escrow", cfg.EscrowAddr,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
