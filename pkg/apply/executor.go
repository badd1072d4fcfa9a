// Package apply realizes a provisioning plan against a provider.
//
// Steps run as soon as every dependency has completed, bounded by the
// configured concurrency. A failed step causes its transitive dependents to
// be skipped while independent branches keep running. Completed steps are
// recorded in state after each step, so a later apply of the same plan only
// realizes what is missing or changed.
package apply

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/interfaces"
	"github.com/versus-control/web-topology/pkg/simulate"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
)

// DefaultConcurrency bounds simultaneous realize calls when none is configured
const DefaultConcurrency = 4

// Executor drives a plan to completion
type Executor struct {
	logger      *logging.Logger
	state       interfaces.StateManager
	concurrency int
}

// NewExecutor creates an executor that records progress in stateManager
func NewExecutor(stateManager interfaces.StateManager, concurrency int, logger *logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Executor{
		logger:      logger,
		state:       stateManager,
		concurrency: concurrency,
	}
}

// stepResult is what a worker reports back to the scheduler
type stepResult struct {
	id       string
	handle   *types.RealizedResource
	reused   bool
	err      error
	duration time.Duration
}

// DryRun applies the topology to a simulated provider with throwaway state.
// Deferred values of the topology are resolved with simulated outputs, so the
// topology should not be applied again afterwards.
func (e *Executor) DryRun(ctx context.Context, topo *topology.Topology, progress chan<- *types.ExecutionUpdate) (*types.PlanExecution, error) {
	region := e.state.GetState().Region
	dry := &Executor{
		logger:      e.logger,
		state:       state.NewManager("", region, e.logger),
		concurrency: e.concurrency,
	}
	execution, err := dry.Apply(ctx, topo, simulate.NewProvider(region, e.logger), progress)
	if execution != nil {
		execution.DryRun = true
	}
	return execution, err
}

// Apply realizes every step of the topology's plan with provider. It returns
// the execution record in all cases; the error is a *ProvisioningError when
// any step failed or the context ended before the plan finished. An execution
// id carried by ctx under logging.ExecutionIDKey is used for the record,
// otherwise a new one is generated.
func (e *Executor) Apply(ctx context.Context, topo *topology.Topology, provider interfaces.Provider, progress chan<- *types.ExecutionUpdate) (*types.PlanExecution, error) {
	plan := topo.Plan()

	executionID, _ := ctx.Value(logging.ExecutionIDKey).(string)
	if executionID == "" {
		executionID = uuid.New().String()
	}

	execution := &types.PlanExecution{
		ID:        executionID,
		Name:      fmt.Sprintf("Apply %s", plan.Topology),
		Provider:  provider.Name(),
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
		Steps:     make([]*types.ExecutionStep, 0, len(plan.Steps)),
		Errors:    []string{},
	}

	ctx = context.WithValue(ctx, logging.ExecutionIDKey, execution.ID)
	log := e.logger.WithContext(ctx).WithFields(logrus.Fields{
		"topology":    plan.Topology,
		"fingerprint": plan.Fingerprint,
		"provider":    provider.Name(),
		"steps":       len(plan.Steps),
	})
	log.Info("Applying provisioning plan")

	if err := e.state.LoadState(ctx); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	if err := e.state.Bind(ctx, plan.Topology, plan.Fingerprint); err != nil {
		return nil, fmt.Errorf("failed to bind state: %w", err)
	}

	steps := make(map[string]topology.PlanStep, len(plan.Steps))
	remaining := make(map[string]int, len(plan.Steps))
	dependents := make(map[string][]string, len(plan.Steps))
	for _, step := range plan.Steps {
		steps[step.ID] = step
		remaining[step.ID] = len(step.DependsOn)
		for _, dep := range step.DependsOn {
			dependents[dep] = append(dependents[dep], step.ID)
		}
		execution.Steps = append(execution.Steps, &types.ExecutionStep{
			ID:        step.ID,
			Name:      step.Name,
			Status:    types.StatusPending,
			Resource:  string(step.Kind),
			Action:    step.Action,
			DependsOn: append([]string(nil), step.DependsOn...),
		})
	}

	e.send(ctx, progress, &types.ExecutionUpdate{
		Type:        "execution_started",
		ExecutionID: execution.ID,
		Message:     fmt.Sprintf("Starting apply of %s (%d steps)", plan.Topology, len(plan.Steps)),
		Timestamp:   time.Now(),
	})

	var ready []string
	for _, step := range plan.Steps {
		if remaining[step.ID] == 0 {
			ready = append(ready, step.ID)
		}
	}

	realized := make(types.Realized, len(plan.Steps))
	results := make(chan stepResult, len(plan.Steps))
	var failures []error
	finished := 0
	inflight := 0

	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)

	for {
		for len(ready) > 0 && ctx.Err() == nil {
			id := ready[0]
			ready = ready[1:]
			step := steps[id]

			refs := make(types.Realized, len(step.DependsOn))
			for _, dep := range step.DependsOn {
				refs[dep] = realized[dep]
			}

			record := execution.Step(id)
			now := time.Now()
			record.Status = types.StatusRunning
			record.StartedAt = &now
			inflight++
			InflightSteps.Inc()

			e.send(ctx, progress, &types.ExecutionUpdate{
				Type:        "step_started",
				ExecutionID: execution.ID,
				StepID:      id,
				Message:     fmt.Sprintf("Starting step %d/%d: %s", step.Index+1, len(plan.Steps), id),
				Progress:    float64(finished) / float64(len(plan.Steps)),
				Timestamp:   now,
			})

			g.Go(func() error {
				start := time.Now()
				handle, reused, err := e.realizeStep(ctx, provider, step, refs)
				results <- stepResult{id: id, handle: handle, reused: reused, err: err, duration: time.Since(start)}
				return nil
			})
		}

		if inflight == 0 {
			break
		}

		result := <-results
		inflight--
		InflightSteps.Dec()
		finished++

		step := steps[result.id]
		record := execution.Step(result.id)
		completedAt := time.Now()
		record.CompletedAt = &completedAt
		record.Duration = result.duration
		StepDuration.WithLabelValues(string(step.Kind), provider.Name()).Observe(result.duration.Seconds())

		if result.err == nil {
			result.err = e.state.RecordRealized(ctx, result.handle, step.Checksum, step.DependsOn)
		}

		if result.err != nil {
			record.Status = types.StatusFailed
			record.Error = result.err.Error()
			execution.Errors = append(execution.Errors, fmt.Sprintf("%s: %v", result.id, result.err))
			failures = append(failures, fmt.Errorf("%s: %w", result.id, result.err))
			StepsTotal.WithLabelValues(string(step.Kind), types.StatusFailed).Inc()

			log.WithFields(logrus.Fields{
				"step_id": result.id,
				"error":   result.err.Error(),
			}).Error("Step failed")

			e.send(ctx, progress, &types.ExecutionUpdate{
				Type:        "step_failed",
				ExecutionID: execution.ID,
				StepID:      result.id,
				Message:     fmt.Sprintf("Step failed: %v", result.err),
				Error:       result.err.Error(),
				Progress:    float64(finished) / float64(len(plan.Steps)),
				Timestamp:   completedAt,
			})

			for _, id := range topo.TransitiveDependents(result.id) {
				skipped := execution.Step(id)
				if skipped.Status != types.StatusPending {
					continue
				}
				skipped.Status = types.StatusSkipped
				skipped.Error = fmt.Sprintf("dependency %s failed", result.id)
				finished++
				StepsTotal.WithLabelValues(string(steps[id].Kind), types.StatusSkipped).Inc()

				e.send(ctx, progress, &types.ExecutionUpdate{
					Type:        "step_skipped",
					ExecutionID: execution.ID,
					StepID:      id,
					Message:     skipped.Error,
					Progress:    float64(finished) / float64(len(plan.Steps)),
					Timestamp:   completedAt,
				})
			}
			continue
		}

		realized[result.id] = result.handle
		record.Status = types.StatusCompleted
		record.Output = result.handle.Outputs
		if result.reused {
			if record.Output == nil {
				record.Output = map[string]string{}
			}
			record.Output["reused"] = "true"
		}
		StepsTotal.WithLabelValues(string(step.Kind), types.StatusCompleted).Inc()

		e.send(ctx, progress, &types.ExecutionUpdate{
			Type:        "step_completed",
			ExecutionID: execution.ID,
			StepID:      result.id,
			Message:     fmt.Sprintf("Completed step %d/%d: %s", step.Index+1, len(plan.Steps), result.id),
			Progress:    float64(finished) / float64(len(plan.Steps)),
			Timestamp:   completedAt,
		})

		var unlocked []string
		for _, dependent := range dependents[result.id] {
			remaining[dependent]--
			if remaining[dependent] == 0 && execution.Step(dependent).Status == types.StatusPending {
				unlocked = append(unlocked, dependent)
			}
		}
		ready = append(ready, unlocked...)
		sort.SliceStable(ready, func(i, j int) bool { return steps[ready[i]].Index < steps[ready[j]].Index })
	}

	_ = g.Wait()

	completedAt := time.Now()
	execution.CompletedAt = &completedAt

	var provisioningErr *ProvisioningError
	if len(failures) > 0 || ctx.Err() != nil {
		provisioningErr = summarize(execution)
		cause := errors.Join(failures...)
		if ctx.Err() != nil {
			cause = errors.Join(cause, ctx.Err())
		}
		provisioningErr.Cause = cause
		execution.Status = types.StatusFailed
	} else {
		execution.Status = types.StatusCompleted
	}
	ExecutionsTotal.WithLabelValues(provider.Name(), execution.Status).Inc()

	log.WithFields(logrus.Fields{
		"execution_id":   execution.ID,
		"status":         execution.Status,
		"duration":       completedAt.Sub(execution.StartedAt).String(),
		"state_checksum": e.state.Checksum(),
	}).Info("Provisioning plan applied")

	e.send(ctx, progress, &types.ExecutionUpdate{
		Type:        "execution_completed",
		ExecutionID: execution.ID,
		Message:     fmt.Sprintf("Plan execution %s", execution.Status),
		Progress:    1.0,
		Timestamp:   completedAt,
	})

	if provisioningErr != nil {
		return execution, provisioningErr
	}
	return execution, nil
}

// Restore resolves the deferred values of every step recorded in state with
// an unchanged checksum, so a fresh topology serves the parameters of an
// earlier apply. It returns the number of steps restored.
func (e *Executor) Restore(topo *topology.Topology) int {
	restored := 0
	for _, step := range topo.Plan().Steps {
		handle, ok := e.state.Realized(step.ID, step.Checksum)
		if !ok {
			continue
		}
		if err := e.resolveOutputs(step, handle); err != nil {
			e.logger.WithError(err).WithField("step_id", step.ID).Warn("Recorded step cannot be restored")
			continue
		}
		restored++
	}
	return restored
}

// Forget drops the recorded state of the topology's steps, dependents before
// their dependencies, followed by any recorded step the plan no longer
// contains. Provider resources are left in place, so the next apply realizes
// every step again. It returns the forgotten step ids in removal order.
func (e *Executor) Forget(ctx context.Context, topo *topology.Topology) ([]string, error) {
	if err := e.state.LoadState(ctx); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	order, err := topo.Graph().GetDeletionOrder()
	if err != nil {
		return nil, err
	}

	var forgotten []string
	for _, id := range order {
		if _, ok := e.state.GetResource(id); !ok {
			continue
		}
		if err := e.state.RemoveResource(ctx, id); err != nil {
			return forgotten, fmt.Errorf("failed to forget %s: %w", id, err)
		}
		forgotten = append(forgotten, id)
	}

	for _, resource := range e.state.ListResources("") {
		if err := e.state.RemoveResource(ctx, resource.ID); err != nil {
			return forgotten, fmt.Errorf("failed to forget %s: %w", resource.ID, err)
		}
		forgotten = append(forgotten, resource.ID)
	}

	e.logger.WithFields(logrus.Fields{
		"topology":       topo.Name(),
		"forgotten":      len(forgotten),
		"state_checksum": e.state.Checksum(),
	}).Info("Recorded steps forgotten")
	return forgotten, nil
}

// realizeStep reuses a recorded handle when the step's checksum is unchanged
// and otherwise dispatches to the provider. Deferred values produced by the
// step are resolved from the handle either way.
func (e *Executor) realizeStep(ctx context.Context, provider interfaces.Provider, step topology.PlanStep, refs types.Realized) (*types.RealizedResource, bool, error) {
	if handle, ok := e.state.Realized(step.ID, step.Checksum); ok {
		e.logger.WithField("step_id", step.ID).Debug("Step already realized, reusing recorded handle")
		if err := e.resolveOutputs(step, handle); err != nil {
			return nil, false, err
		}
		return handle, true, nil
	}

	var (
		handle *types.RealizedResource
		err    error
	)
	switch entity := step.Entity.(type) {
	case *topology.Network:
		handle, err = provider.AllocateNetwork(ctx, entity)
	case *topology.SecurityPolicy:
		handle, err = provider.AllocateSecurityPolicy(ctx, entity, refs)
	case *topology.ComputeInstance:
		handle, err = provider.AllocateInstance(ctx, entity, refs)
	case *topology.TargetGroup:
		handle, err = provider.AllocateTargetGroup(ctx, entity, refs)
	case *topology.LoadBalancer:
		handle, err = provider.AllocateLoadBalancer(ctx, entity, refs)
	case *topology.Listener:
		handle, err = provider.AllocateListener(ctx, entity, refs)
	case *topology.LoadBalancerReady:
		handle, err = provider.AwaitLoadBalancer(ctx, entity.LoadBalancer(), refs)
	case *topology.ParameterEntry:
		value, ok := entity.Value().Get()
		if !ok {
			return nil, false, fmt.Errorf("value of parameter %s from %s is unresolved", entity.ParameterKey(), entity.Value().Source())
		}
		handle, err = provider.PublishParameter(ctx, entity.ParameterKey(), value)
	default:
		return nil, false, fmt.Errorf("no provider operation for step %s", step.ID)
	}
	if err != nil {
		return nil, false, err
	}
	if handle == nil {
		return nil, false, fmt.Errorf("provider %s returned no handle for %s", provider.Name(), step.ID)
	}
	if err := e.resolveOutputs(step, handle); err != nil {
		return nil, false, err
	}
	return handle, false, nil
}

func (e *Executor) resolveOutputs(step topology.PlanStep, handle *types.RealizedResource) error {
	switch entity := step.Entity.(type) {
	case *topology.ComputeInstance:
		return e.resolve(step.ID, entity.PrivateAddress(), handle.Output(types.OutputPrivateAddress), types.OutputPrivateAddress)
	case *topology.LoadBalancer:
		return e.resolve(step.ID, entity.DNSName(), handle.Output(types.OutputDNSName), types.OutputDNSName)
	}
	return nil
}

func (e *Executor) resolve(stepID string, deferred *topology.Deferred[string], value, output string) error {
	if value == "" {
		return fmt.Errorf("step %s reported no %s", stepID, output)
	}
	err := deferred.Resolve(value)
	if errors.Is(err, topology.ErrAlreadyResolved) {
		if current, _ := deferred.Get(); current != value {
			e.logger.WithFields(logrus.Fields{
				"step_id":  stepID,
				"output":   output,
				"resolved": current,
				"reported": value,
			}).Warn("Deferred value already resolved with a different value, keeping the first")
		}
		return nil
	}
	return err
}

func (e *Executor) send(ctx context.Context, progress chan<- *types.ExecutionUpdate, update *types.ExecutionUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	case <-ctx.Done():
	}
}

func summarize(execution *types.PlanExecution) *ProvisioningError {
	result := &ProvisioningError{ExecutionID: execution.ID}
	for _, step := range execution.Steps {
		switch step.Status {
		case types.StatusCompleted:
			result.Completed = append(result.Completed, step.ID)
		case types.StatusFailed:
			result.Failed = append(result.Failed, step.ID)
		case types.StatusSkipped:
			result.Skipped = append(result.Skipped, step.ID)
		default:
			result.Pending = append(result.Pending, step.ID)
		}
	}
	return result
}
