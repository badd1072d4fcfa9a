package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newForgetCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget",
		Short: "Drop the recorded state of every step",
		Long: `Remove every step of the topology from the state file, dependents before
the steps they depend on, followed by recorded steps the plan no longer
contains. Provider resources are not touched; the next apply realizes every
step again instead of reusing recorded handles.

Examples:
    topology forget`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			topo, err := env.build()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			forgotten, err := env.executor(env.stateManager()).Forget(ctx, topo)
			out := cmd.OutOrStdout()
			for _, id := range forgotten {
				fmt.Fprintf(out, "forgot: %s\n", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d recorded steps forgotten\n", topo.Name(), len(forgotten))
			return nil
		},
	}
}
