// Package main is the entry point for the course portal server.
//
// main only reads configuration, builds the logger and starts the server;
// everything else lives under internal/.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sakif/course-portal/internal/config"
	"github.com/sakif/course-portal/internal/logger"
	"github.com/sakif/course-portal/internal/server"
)

func main() {
	// === 1. CONFIGURATION ===
	// Environment (PORTAL_*), .env, config.toml, then defaults.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// === 2. LOGGING ===
	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() { _ = log.Sync() }()

	// === 3. SERVER ===
	// New connects to the configured backend; Start blocks until SIGINT or
	// SIGTERM.
	srv, err := server.New(context.Background(), cfg, log)
	if err != nil {
		log.Error("failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}
}
