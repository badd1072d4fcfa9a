package main

import (
	"github.com/spf13/cobra"

	"github.com/versus-control/web-topology/pkg/graph"
)

func newGraphCmd(opts *globalOptions) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the dependency graph",
		Long: `Render the dependency graph of the topology.

The DOT output can be rendered with Graphviz:
    topology graph | dot -Tpng -o topology.png

Or used in markdown (Mermaid format):
    topology graph -f mermaid`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := graph.ParseFormat(outputFormat)
			if err != nil {
				return err
			}
			env, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			topo, err := env.build()
			if err != nil {
				return err
			}
			return topo.Render(cmd.OutOrStdout(), format)
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "dot", "Output format: dot, mermaid or text")

	return cmd
}
