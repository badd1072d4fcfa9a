package interfaces

import (
	"context"

	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
)

// Provider realizes topology entities against an infrastructure control
// plane. Every call receives the handles of the step's realized
// dependencies keyed by step id, and returns once the resource is usable.
type Provider interface {
	Name() string

	AllocateNetwork(ctx context.Context, network *topology.Network) (*types.RealizedResource, error)
	AllocateSecurityPolicy(ctx context.Context, policy *topology.SecurityPolicy, refs types.Realized) (*types.RealizedResource, error)
	// AllocateInstance must report the private address under types.OutputPrivateAddress.
	AllocateInstance(ctx context.Context, instance *topology.ComputeInstance, refs types.Realized) (*types.RealizedResource, error)
	AllocateTargetGroup(ctx context.Context, group *topology.TargetGroup, refs types.Realized) (*types.RealizedResource, error)
	AllocateLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error)
	AllocateListener(ctx context.Context, listener *topology.Listener, refs types.Realized) (*types.RealizedResource, error)
	AwaitLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error)
	PublishParameter(ctx context.Context, key, value string) (*types.RealizedResource, error)
}
