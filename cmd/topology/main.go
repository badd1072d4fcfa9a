// Command topology plans, audits and applies the two-tier web topology.
//
// Usage:
//
//	topology plan                  Print the provisioning plan
//	topology graph -f mermaid      Render the dependency graph
//	topology audit                 Check security policies against the expected access
//	topology apply --dry-run=false Realize the plan on AWS
//	topology parameters            Show published parameters from the last apply
//	topology serve                 Serve the HTTP API
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "topology",
		Short: "Plan and provision a two-tier web topology",
		Long: `topology declares a VPC with public and private tiers, a bastion host,
a private web server behind an application load balancer, and a parameter
store entry holding the web server's private address.

Entities are assembled into a dependency graph and realized in topological
order. Cycles are rejected before anything is provisioned.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "Path to the configuration file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(
		newPlanCmd(opts),
		newGraphCmd(opts),
		newAuditCmd(opts),
		newApplyCmd(opts),
		newForgetCmd(opts),
		newParametersCmd(opts),
		newServeCmd(opts),
	)

	return rootCmd
}
