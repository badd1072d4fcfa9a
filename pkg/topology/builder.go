// Package topology declares a two-tier web deployment as an explicit graph of
// entities (network, security policies, instances, parameters and load
// balancing) and orders it into a provisioning plan.
package topology

import (
	"fmt"

	"github.com/versus-control/web-topology/internal/logging"
)

// Kind identifies the type of a declared entity.
type Kind string

const (
	KindNetwork           Kind = "network"
	KindSecurityPolicy    Kind = "security-policy"
	KindInstance          Kind = "instance"
	KindParameter         Kind = "parameter"
	KindTargetGroup       Kind = "target-group"
	KindLoadBalancer      Kind = "load-balancer"
	KindListener          Kind = "listener"
	KindLoadBalancerReady Kind = "load-balancer-ready"
)

// EntityID indexes an entity in its builder's arena, in declaration order.
type EntityID int

// StepID is the plan identifier for an entity of the given kind and name.
func StepID(kind Kind, name string) string {
	return string(kind) + ":" + name
}

// Entity is any declared element of a topology.
type Entity interface {
	ID() EntityID
	Kind() Kind
	Name() string
	// Key is the unique plan step id of the entity.
	Key() string

	dependencies() []string
	attributes() map[string]string
}

type entityBase struct {
	id   EntityID
	kind Kind
	name string
}

func (e *entityBase) ID() EntityID { return e.id }
func (e *entityBase) Kind() Kind   { return e.kind }
func (e *entityBase) Name() string { return e.name }
func (e *entityBase) Key() string  { return StepID(e.kind, e.name) }

// TopologyBuilder owns every entity under construction. All define and add
// operations take the builder explicitly; it is the only mutator until
// Finalize.
type TopologyBuilder struct {
	name     string
	logger   *logging.Logger
	entities []Entity
	index    map[string]EntityID
	topology *Topology
}

// NewTopologyBuilder starts an empty topology. A nil logger discards output.
func NewTopologyBuilder(name string, logger *logging.Logger) *TopologyBuilder {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &TopologyBuilder{
		name:   name,
		logger: logger,
		index:  make(map[string]EntityID),
	}
}

// Name returns the topology name.
func (b *TopologyBuilder) Name() string {
	return b.name
}

// Entity looks up a declared entity by step id.
func (b *TopologyBuilder) Entity(key string) (Entity, bool) {
	id, ok := b.index[key]
	if !ok {
		return nil, false
	}
	return b.entities[id], true
}

// Parameters is the registry of published parameters.
func (b *TopologyBuilder) Parameters() *ParameterStore {
	return &ParameterStore{entries: b.parameterEntries()}
}

func (b *TopologyBuilder) nextID() EntityID {
	return EntityID(len(b.entities))
}

func (b *TopologyBuilder) checkOpen(entity string) error {
	if b == nil {
		return configErrorf(entity, "", "topology builder is nil")
	}
	if b.topology != nil {
		return configErrorf(entity, "", "topology %q is already finalized", b.name)
	}
	return nil
}

// register appends an entity to the arena. Names are unique per kind.
func (b *TopologyBuilder) register(e Entity) error {
	if e.Name() == "" {
		return configErrorf(string(e.Kind()), "name", "must not be empty")
	}
	if _, exists := b.index[e.Key()]; exists {
		return configErrorf(e.Key(), "name", "%s %q is already defined", e.Kind(), e.Name())
	}

	b.index[e.Key()] = e.ID()
	b.entities = append(b.entities, e)

	b.logger.WithField("entity", e.Key()).Debug("Entity declared")
	return nil
}

// owns reports whether the entity was declared on this builder.
func (b *TopologyBuilder) owns(e Entity) bool {
	id := e.ID()
	return int(id) >= 0 && int(id) < len(b.entities) && b.entities[id] == e
}

func (b *TopologyBuilder) requireOwned(entity, field string, e Entity) error {
	if !b.owns(e) {
		return configErrorf(entity, field, "%s is not declared in topology %q", e.Key(), b.name)
	}
	return nil
}

func (b *TopologyBuilder) policy(name string) (*SecurityPolicy, bool) {
	e, ok := b.Entity(StepID(KindSecurityPolicy, name))
	if !ok {
		return nil, false
	}
	return e.(*SecurityPolicy), true
}

func (b *TopologyBuilder) parameterEntries() []*ParameterEntry {
	var entries []*ParameterEntry
	for _, e := range b.entities {
		if p, ok := e.(*ParameterEntry); ok {
			entries = append(entries, p)
		}
	}
	return entries
}

func (b *TopologyBuilder) String() string {
	return fmt.Sprintf("TopologyBuilder(%s, %d entities)", b.name, len(b.entities))
}
