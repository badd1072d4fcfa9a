package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/mcp"
	"github.com/versus-control/web-topology/pkg/webapp"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Stdout carries the protocol, so logs go to stderr
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.SetOutput(os.Stderr)
	logger.Info("Starting topology MCP server...")

	loader := config.NewConfigLoader(".")
	settings, err := webapp.LoadSettings(cfg, loader)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load stack settings")
	}
	intent, err := webapp.LoadIntent(cfg, loader, settings)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load access policy")
	}

	mcpServer := mcp.NewServer(cfg, webapp.Factory(settings, logger), intent, logger)

	logger.WithField("server_name", cfg.MCP.ServerName).
		WithField("version", cfg.MCP.Version).
		Info("MCP server configured successfully")

	if err := mcpServer.Start(ctx); err != nil && err != context.Canceled {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("MCP server shutdown complete")
}
