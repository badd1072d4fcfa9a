package interfaces

import (
	"context"

	"github.com/versus-control/web-topology/pkg/types"
)

// StateManager defines the interface for recording realized plan steps
type StateManager interface {
	// State persistence
	LoadState(ctx context.Context) error
	SaveState(ctx context.Context) error
	Bind(ctx context.Context, topology, fingerprint string) error

	// Realized steps
	RecordRealized(ctx context.Context, handle *types.RealizedResource, specChecksum string, dependencies []string) error
	Realized(stepID, specChecksum string) (*types.RealizedResource, bool)
	RemoveResource(ctx context.Context, resourceID string) error
	GetResource(resourceID string) (*types.ResourceState, bool)
	ListResources(resourceType string) []*types.ResourceState

	// State queries
	GetDependencies(resourceID string) []string
	GetState() *types.InfrastructureState
	Checksum() string
}
