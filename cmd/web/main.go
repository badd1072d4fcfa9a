package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/aws"
	"github.com/versus-control/web-topology/pkg/interfaces"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/web"
	"github.com/versus-control/web-topology/pkg/webapp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup logging using config
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting topology web server")

	loader := config.NewConfigLoader(".")
	settings, err := webapp.LoadSettings(cfg, loader)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load stack settings")
	}
	intent, err := webapp.LoadIntent(cfg, loader, settings)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load access policy")
	}

	stateManager := state.NewManager(cfg.GetStateFilePath(), cfg.AWS.Region, logger)
	if err := stateManager.LoadState(context.Background()); err != nil {
		logger.WithError(err).Error("Failed to load topology state, continuing with empty state")
	}

	opts := web.Options{
		Build:             webapp.Factory(settings, logger),
		Executor:          apply.NewExecutor(stateManager, cfg.Apply.Concurrency, logger),
		State:             stateManager,
		Intent:            intent,
		Logger:            logger,
		DisableWebSockets: !cfg.Web.EnableWebSockets,
		DisableMetrics:    !cfg.Web.EnableMetrics,
	}
	// Real applies are only served when dry runs are not forced
	if !cfg.Apply.DryRun {
		opts.Provider = func(ctx context.Context, topo *topology.Topology) (interfaces.Provider, error) {
			client, err := aws.NewClient(ctx, cfg.AWS.Region, logger)
			if err != nil {
				return nil, err
			}
			return aws.NewProvider(client, topo.Name()), nil
		}
	}
	webServer := web.NewWebServer(opts)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := cfg.GetWebAddress()
	fmt.Printf("\nTopology %s\n", settings.Name)
	fmt.Printf("  API:       http://%s/api/plan\n", addr)
	fmt.Printf("  Graph:     http://%s/api/graph?format=mermaid\n", addr)
	fmt.Printf("  Parameter: http://%s/api/parameter?key=%s\n", addr, settings.ParameterKey)
	if cfg.Web.EnableWebSockets {
		fmt.Printf("  Updates:   ws://%s/ws\n", addr)
	}
	fmt.Println()

	if err := webServer.Start(ctx, addr); err != nil && err != context.Canceled {
		logger.WithError(err).Error("Web server failed")
	}

	logger.Info("Topology web server stopped")
}
