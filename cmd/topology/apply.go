package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/aws"
	"github.com/versus-control/web-topology/pkg/types"
)

func newApplyCmd(opts *globalOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Realize the provisioning plan",
		Long: `Realize every step of the plan in dependency order. Independent steps run
concurrently up to apply.concurrency. When a step fails, the steps that
depend on it are skipped and the command exits non-zero.

Steps already recorded in the state file with an unchanged spec are reused.

Dry runs use a simulated provider and throwaway state. The configured
apply.dry_run is used unless --dry-run is given.

Examples:
    topology apply
    topology apply --dry-run=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(opts)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("dry-run") {
				dryRun = env.cfg.Apply.DryRun
			}

			topo, err := env.build()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if env.cfg.Apply.TimeoutMinutes > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(env.cfg.Apply.TimeoutMinutes)*time.Minute)
				defer cancel()
			}

			stateManager := env.stateManager()
			executor := env.executor(stateManager)

			progress := make(chan *types.ExecutionUpdate, 64)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printUpdates(cmd.OutOrStdout(), progress)
			}()

			var execution *types.PlanExecution
			if dryRun {
				execution, err = executor.DryRun(ctx, topo, progress)
			} else {
				client, clientErr := connect(ctx, env)
				if clientErr != nil {
					close(progress)
					<-done
					return clientErr
				}
				execution, err = executor.Apply(ctx, topo, aws.NewProvider(client, topo.Name()), progress)
			}
			close(progress)
			<-done

			out := cmd.OutOrStdout()
			var provisioningErr *apply.ProvisioningError
			if errors.As(err, &provisioningErr) {
				for _, id := range provisioningErr.Failed {
					fmt.Fprintf(out, "failed:  %s\n", id)
				}
				for _, id := range provisioningErr.Skipped {
					fmt.Fprintf(out, "skipped: %s\n", id)
				}
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%s: %d steps %s (execution %s)\n", topo.Name(), len(execution.Steps), execution.Status, execution.ID)
			if !dryRun {
				for _, view := range topo.Parameters().Entries() {
					fmt.Fprintf(out, "%s = %s\n", view.Key, view.Value)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "Apply against a simulated provider")

	return cmd
}

// connect creates the AWS client and verifies connectivity before anything
// is provisioned
func connect(ctx context.Context, env *environment) (*aws.Client, error) {
	client, err := aws.NewClient(ctx, env.cfg.AWS.Region, env.logger)
	if err != nil {
		return nil, err
	}
	if err := client.HealthCheck(ctx); err != nil {
		return nil, err
	}
	env.logger.WithField("region", client.GetRegion()).Info("AWS connectivity verified")
	return client, nil
}

func printUpdates(out io.Writer, progress <-chan *types.ExecutionUpdate) {
	for update := range progress {
		switch update.Type {
		case "step_completed":
			fmt.Fprintf(out, "[%3.0f%%] %s\n", update.Progress*100, update.StepID)
		case "step_failed":
			fmt.Fprintf(out, "[fail] %s: %s\n", update.StepID, update.Error)
		case "step_skipped":
			fmt.Fprintf(out, "[skip] %s\n", update.StepID)
		}
	}
}
