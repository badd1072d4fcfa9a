package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/versus-control/web-topology/pkg/aws"
	"github.com/versus-control/web-topology/pkg/interfaces"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/web"
	"github.com/versus-control/web-topology/pkg/webapp"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	var (
		addr      string
		allowReal bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and execution updates",
		Long: `Serve the plan, graph, audit and parameter views over HTTP, with apply
progress streamed on /ws and metrics on /metrics.

Only dry runs are accepted unless --allow-apply is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			intent, err := env.intent()
			if err != nil {
				return err
			}

			stateManager := env.stateManager()
			if err := stateManager.LoadState(cmd.Context()); err != nil {
				return err
			}

			serverOpts := web.Options{
				Build:             webapp.Factory(env.settings, env.logger),
				Executor:          env.executor(stateManager),
				State:             stateManager,
				Intent:            intent,
				Logger:            env.logger,
				DisableWebSockets: !env.cfg.Web.EnableWebSockets,
				DisableMetrics:    !env.cfg.Web.EnableMetrics,
			}
			if allowReal {
				serverOpts.Provider = func(ctx context.Context, topo *topology.Topology) (interfaces.Provider, error) {
					client, err := aws.NewClient(ctx, env.cfg.AWS.Region, env.logger)
					if err != nil {
						return nil, err
					}
					return aws.NewProvider(client, topo.Name()), nil
				}
			}

			if addr == "" {
				addr = env.cfg.GetWebAddress()
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return web.NewWebServer(serverOpts).Start(ctx, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: web.host:web.port)")
	cmd.Flags().BoolVar(&allowReal, "allow-apply", false, "Accept real applies against AWS")

	return cmd
}
