package topology

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/graph"
)

// Topology is a finalized, ordered set of entities. Only deferred values
// change after finalization.
type Topology struct {
	name     string
	logger   *logging.Logger
	entities []Entity
	byKey    map[string]Entity
	graph    *graph.Manager
	order    []string
}

// Finalize resolves forward policy references, freezes every policy, derives
// the dependency edges and orders the entities. The builder accepts no
// further declarations once it succeeds; calling it again returns the same
// topology.
func (b *TopologyBuilder) Finalize() (*Topology, error) {
	if b.topology != nil {
		return b.topology, nil
	}

	var unresolved []string
	for _, e := range b.entities {
		policy, ok := e.(*SecurityPolicy)
		if !ok {
			continue
		}
		for _, rule := range policy.rules {
			if !rule.Source.IsPolicy() {
				continue
			}
			ref, ok := b.policy(rule.Source.PolicyName())
			if !ok {
				unresolved = append(unresolved, fmt.Sprintf("%s -> %s", policy.Key(), StepID(KindSecurityPolicy, rule.Source.PolicyName())))
				continue
			}
			if ref.network != policy.network {
				return nil, configErrorf(policy.Key(), "source", "policy %q belongs to network %q, not %q", ref.Name(), ref.network.Name(), policy.network.Name())
			}
		}
	}
	if len(unresolved) > 0 {
		return nil, &DependencyError{Unresolved: unresolved}
	}

	for _, e := range b.entities {
		if listener, ok := e.(*Listener); ok && len(listener.groups) == 0 {
			return nil, configErrorf(listener.Key(), "targetGroups", "listener forwards to no target group")
		}
	}

	entities := append([]Entity(nil), b.entities...)
	for _, e := range b.entities {
		if lb, ok := e.(*LoadBalancer); ok {
			entities = append(entities, &LoadBalancerReady{
				entityBase:   entityBase{id: EntityID(len(entities)), kind: KindLoadBalancerReady, name: lb.Name()},
				loadBalancer: lb,
			})
		}
	}

	manager := graph.NewManager(b.logger)
	byKey := make(map[string]Entity, len(entities))
	for _, e := range entities {
		byKey[e.Key()] = e
		manager.AddNode(e.Key(), string(e.Kind()), int(e.ID()), map[string]string{"name": e.Name()})
	}
	for _, e := range entities {
		for _, dep := range e.dependencies() {
			manager.AddDependency(e.Key(), dep)
		}
	}

	order, err := manager.GetDeploymentOrder()
	if err != nil {
		var cycleErr *graph.CycleError
		if errors.As(err, &cycleErr) {
			return nil, &DependencyError{Cycle: cycleErr.Cycle, Err: err}
		}
		return nil, &DependencyError{Err: err}
	}

	for _, e := range b.entities {
		if policy, ok := e.(*SecurityPolicy); ok {
			policy.frozen = true
		}
	}

	b.topology = &Topology{
		name:     b.name,
		logger:   b.logger,
		entities: entities,
		byKey:    byKey,
		graph:    manager,
		order:    order,
	}

	b.logger.WithFields(logrus.Fields{
		"topology": b.name,
		"entities": len(entities),
	}).Info("Topology finalized")

	return b.topology, nil
}

// Name returns the topology name.
func (t *Topology) Name() string { return t.name }

// Entities returns every entity in declaration order.
func (t *Topology) Entities() []Entity {
	return append([]Entity(nil), t.entities...)
}

// Entity looks up an entity by step id.
func (t *Topology) Entity(key string) (Entity, bool) {
	e, ok := t.byKey[key]
	return e, ok
}

// Order returns step ids in provisioning order.
func (t *Topology) Order() []string {
	return append([]string(nil), t.order...)
}

// Dependencies returns the direct dependencies of a step.
func (t *Topology) Dependencies(key string) []string {
	return t.graph.GetDependencies(key)
}

// TransitiveDependents returns every step that requires key, directly or not.
func (t *Topology) TransitiveDependents(key string) []string {
	return t.graph.GetTransitiveDependents(key)
}

// Levels groups steps that can be realized in parallel.
func (t *Topology) Levels() [][]string {
	levels, err := t.graph.CalculateDeploymentLevels()
	if err != nil {
		// Finalize already proved the graph acyclic.
		t.logger.WithError(err).Error("Failed to calculate deployment levels")
		return nil
	}
	return levels
}

// Graph exposes the underlying dependency graph.
func (t *Topology) Graph() *graph.Manager { return t.graph }

// Render writes the dependency graph in the given format.
func (t *Topology) Render(w io.Writer, format graph.Format) error {
	return t.graph.Render(w, format, t.name+" Dependency Graph")
}

// Parameters is the registry of published parameters.
func (t *Topology) Parameters() *ParameterStore {
	var entries []*ParameterEntry
	for _, e := range t.entities {
		if p, ok := e.(*ParameterEntry); ok {
			entries = append(entries, p)
		}
	}
	return &ParameterStore{entries: entries}
}

// SecurityPolicies returns every policy in declaration order.
func (t *Topology) SecurityPolicies() []*SecurityPolicy {
	return entitiesOf[*SecurityPolicy](t.entities)
}

// Instances returns every instance in declaration order.
func (t *Topology) Instances() []*ComputeInstance {
	return entitiesOf[*ComputeInstance](t.entities)
}

// Networks returns every network in declaration order.
func (t *Topology) Networks() []*Network {
	return entitiesOf[*Network](t.entities)
}

// TargetGroups returns every target group in declaration order.
func (t *Topology) TargetGroups() []*TargetGroup {
	return entitiesOf[*TargetGroup](t.entities)
}

// LoadBalancers returns every load balancer in declaration order.
func (t *Topology) LoadBalancers() []*LoadBalancer {
	return entitiesOf[*LoadBalancer](t.entities)
}

// SecurityPolicy returns the named policy.
func (t *Topology) SecurityPolicy(name string) (*SecurityPolicy, bool) {
	e, ok := t.byKey[StepID(KindSecurityPolicy, name)]
	if !ok {
		return nil, false
	}
	return e.(*SecurityPolicy), true
}

func entitiesOf[T Entity](entities []Entity) []T {
	var result []T
	for _, e := range entities {
		if typed, ok := e.(T); ok {
			result = append(result, typed)
		}
	}
	return result
}

// PlanStep is one realize-operation of a provisioning plan.
type PlanStep struct {
	Index      int               `json:"index" yaml:"index"`
	ID         string            `json:"id" yaml:"id"`
	Kind       Kind              `json:"kind" yaml:"kind"`
	Name       string            `json:"name" yaml:"name"`
	Action     string            `json:"action" yaml:"action"`
	DependsOn  []string          `json:"dependsOn,omitempty" yaml:"dependsOn,omitempty"`
	Attributes map[string]string `json:"attributes" yaml:"attributes"`
	Checksum   string            `json:"checksum" yaml:"checksum"`
	Entity     Entity            `json:"-" yaml:"-"`
}

// ProvisioningPlan is the ordered sequence of realize-operations.
type ProvisioningPlan struct {
	Topology    string     `json:"topology" yaml:"topology"`
	Fingerprint string     `json:"fingerprint" yaml:"fingerprint"`
	Steps       []PlanStep `json:"steps" yaml:"steps"`
	Levels      [][]string `json:"levels" yaml:"levels"`
}

// Step returns the step with the given id.
func (p *ProvisioningPlan) Step(id string) (PlanStep, bool) {
	for _, step := range p.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return PlanStep{}, false
}

// Plan produces the provisioning plan in dependency order. A step's checksum
// covers the checksums of its dependencies, so a change to a step changes
// every step downstream of it.
func (t *Topology) Plan() *ProvisioningPlan {
	steps := make([]PlanStep, 0, len(t.order))
	checksums := make(map[string]string, len(t.order))
	for i, key := range t.order {
		e := t.byKey[key]
		step := PlanStep{
			Index:      i,
			ID:         key,
			Kind:       e.Kind(),
			Name:       e.Name(),
			Action:     actionFor(e.Kind()),
			DependsOn:  t.graph.GetDependencies(key),
			Attributes: e.attributes(),
			Entity:     e,
		}
		step.Checksum = stepChecksum(step, checksums)
		checksums[key] = step.Checksum
		steps = append(steps, step)
	}

	plan := &ProvisioningPlan{
		Topology: t.name,
		Steps:    steps,
		Levels:   t.Levels(),
	}
	plan.Fingerprint = planFingerprint(plan)
	return plan
}

// Fingerprint is a digest of the plan. Identical definitions produce
// identical fingerprints.
func (t *Topology) Fingerprint() string {
	return t.Plan().Fingerprint
}

func actionFor(kind Kind) string {
	switch kind {
	case KindLoadBalancerReady:
		return "await"
	case KindParameter:
		return "publish"
	}
	return "realize"
}

// stepChecksum digests the step definition. Dependencies precede the step in
// plan order, so their checksums are already known.
func stepChecksum(step PlanStep, checksums map[string]string) string {
	keys := make([]string, 0, len(step.Attributes))
	for key := range step.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", step.ID, step.Action, strings.Join(step.DependsOn, ","))
	for _, key := range keys {
		fmt.Fprintf(h, "%s=%s\n", key, step.Attributes[key])
	}
	for _, dep := range step.DependsOn {
		fmt.Fprintf(h, "dep %s=%s\n", dep, checksums[dep])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func planFingerprint(plan *ProvisioningPlan) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n", plan.Topology)
	for _, step := range plan.Steps {
		fmt.Fprintf(h, "%d %s %s\n", step.Index, step.ID, step.Checksum)
	}
	return hex.EncodeToString(h.Sum(nil))
}
