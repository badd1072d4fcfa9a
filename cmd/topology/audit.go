package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/versus-control/web-topology/pkg/policy"
)

func newAuditCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Check security policies against the expected access",
		Long: `Compare every ingress rule of the topology's security policies with the
expected least-privilege access. Expectations come from
policy.expectations_file when set, otherwise from the stack itself.

Exits non-zero when any violation is found.`,
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
			topo, err := env.build()
			if err != nil {
				return err
			}

			violations := policy.NewAuditor(env.logger).Audit(topo, intent)
			out := cmd.OutOrStdout()
			if len(violations) == 0 {
				fmt.Fprintf(out, "%s: security policies match the expected access\n", topo.Name())
				return nil
			}
			for _, v := range violations {
				fmt.Fprintln(out, v.String())
			}
			return fmt.Errorf("found %d access policy violations", len(violations))
		},
	}

	return cmd
}
