package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPlanCmd(opts *globalOptions) *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the provisioning plan in dependency order",
		Long: `Build the topology and print every realize step in the order it will be
applied, with its dependencies and spec checksum.

Examples:
    topology plan
    topology plan -f yaml`,
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
			plan := topo.Plan()

			out := cmd.OutOrStdout()
			switch outputFormat {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				return encoder.Encode(plan)
			case "yaml":
				encoder := yaml.NewEncoder(out)
				encoder.SetIndent(2)
				if err := encoder.Encode(plan); err != nil {
					return err
				}
				return encoder.Close()
			case "table":
				for _, step := range plan.Steps {
					fmt.Fprintf(out, "%3d  %-8s %-40s %v\n", step.Index+1, step.Action, step.ID, step.DependsOn)
				}
				return nil
			default:
				return fmt.Errorf("unknown format: %s (use 'table', 'json' or 'yaml')", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "format", "f", "table", "Output format: table, json or yaml")

	return cmd
}
