package main

import (
	"fmt"
	"path/filepath"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/webapp"
)

type globalOptions struct {
	configFile string
	logLevel   string
}

// environment is the loaded configuration shared by every command
type environment struct {
	cfg      *config.Config
	logger   *logging.Logger
	settings webapp.Settings
	loader   *config.ConfigLoader
}

func loadEnvironment(opts *globalOptions) (*environment, error) {
	var (
		cfg *config.Config
		err error
	)
	configDir := "."
	if opts.configFile != "" {
		cfg, err = config.LoadFile(opts.configFile)
		configDir = filepath.Dir(opts.configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.Logging.Level
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	logger := logging.NewLogger(level, cfg.Logging.Format)

	loader := config.NewConfigLoader(configDir)
	settings, err := webapp.LoadSettings(cfg, loader)
	if err != nil {
		return nil, err
	}

	return &environment{
		cfg:      cfg,
		logger:   logger,
		settings: settings,
		loader:   loader,
	}, nil
}

func (env *environment) build() (*topology.Topology, error) {
	topo, _, err := webapp.Build(env.settings, env.logger)
	return topo, err
}

func (env *environment) intent() (*policy.Intent, error) {
	return webapp.LoadIntent(env.cfg, env.loader, env.settings)
}

func (env *environment) stateManager() *state.Manager {
	return state.NewManager(env.cfg.GetStateFilePath(), env.cfg.AWS.Region, env.logger)
}

func (env *environment) executor(stateManager *state.Manager) *apply.Executor {
	return apply.NewExecutor(stateManager, env.cfg.Apply.Concurrency, env.logger)
}
