package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newParametersCmd(opts *globalOptions) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "parameters [key]",
		Short: "Show published parameters recorded by the last apply",
		Long: `Show the parameters published by the topology. Values come from the
state recorded by the last apply, or from SSM Parameter Store with --remote.

Examples:
    topology parameters
    topology parameters /Instance/WebServer
    topology parameters /Instance/WebServer --remote`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			stateManager := env.stateManager()
			if err := stateManager.LoadState(cmd.Context()); err != nil {
				return err
			}
			topo, err := env.build()
			if err != nil {
				return err
			}
			env.executor(stateManager).Restore(topo)

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				if _, ok := topo.Parameters().Entry(args[0]); !ok {
					return fmt.Errorf("parameter %s is not published by %s", args[0], topo.Name())
				}
				if remote {
					client, err := connect(cmd.Context(), env)
					if err != nil {
						return err
					}
					value, err := client.GetParameter(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					fmt.Fprintln(out, value)
					return nil
				}
				value, ok := topo.Parameters().Lookup(args[0])
				if !ok {
					return fmt.Errorf("parameter %s has not been applied yet", args[0])
				}
				fmt.Fprintln(out, value)
				return nil
			}

			for _, view := range topo.Parameters().Entries() {
				value := view.Value
				if !view.Resolved {
					value = "<pending " + view.Source + ">"
				}
				fmt.Fprintf(out, "%s\t%s\n", view.Key, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "Read the value from SSM Parameter Store")

	return cmd
}
