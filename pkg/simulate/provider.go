// Package simulate is an in-memory infrastructure provider. It realizes a
// topology deterministically without touching a cloud account and is used
// for dry runs and tests.
package simulate

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
)

// Provider realizes entities in memory
type Provider struct {
	region string
	logger *logging.Logger
	mutex  sync.RWMutex

	resources  map[string]*types.RealizedResource
	parameters map[string]string
	calls      []string

	// Failure and latency injection
	stepErrors map[string]error
	stepDelays map[string]time.Duration

	active        int
	maxConcurrent int
}

// NewProvider creates an empty simulated provider
func NewProvider(region string, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	return &Provider{
		region:     region,
		logger:     logger,
		resources:  make(map[string]*types.RealizedResource),
		parameters: make(map[string]string),
		stepErrors: make(map[string]error),
		stepDelays: make(map[string]time.Duration),
	}
}

// Name identifies the provider in executions
func (p *Provider) Name() string {
	return "simulated"
}

// ========== Error Simulation Methods ==========

// SimulateError makes the realize call for stepID fail with err
func (p *Provider) SimulateError(stepID string, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stepErrors[stepID] = err
}

// ClearError removes error simulation for a step
func (p *Provider) ClearError(stepID string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.stepErrors, stepID)
}

// SimulateDelay makes the realize call for stepID take at least d
func (p *Provider) SimulateDelay(stepID string, d time.Duration) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.stepDelays[stepID] = d
}

// ========== Inspection ==========

// Calls returns the step ids realized so far, in call order
func (p *Provider) Calls() []string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return append([]string(nil), p.calls...)
}

// MaxConcurrent returns the highest number of simultaneous realize calls seen
func (p *Provider) MaxConcurrent() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.maxConcurrent
}

// Resource returns the realized handle for a step
func (p *Provider) Resource(stepID string) (*types.RealizedResource, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	r, ok := p.resources[stepID]
	return r, ok
}

// Parameter returns a published parameter value
func (p *Provider) Parameter(key string) (string, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	v, ok := p.parameters[key]
	return v, ok
}

// ========== Provider Methods ==========

// AllocateNetwork realizes the VPC and one subnet per tier and zone
func (p *Provider) AllocateNetwork(ctx context.Context, network *topology.Network) (*types.RealizedResource, error) {
	return p.realize(ctx, network, func() (map[string]string, error) {
		vpcID := resourceID("vpc", network.Key())
		var public, private []string
		for _, subnet := range network.Subnets() {
			id := resourceID("subnet", network.Key()+"/"+subnet.Name)
			if subnet.Kind == topology.TierPublic {
				public = append(public, id)
			} else {
				private = append(private, id)
			}
		}
		return map[string]string{
			types.OutputVPCID:            vpcID,
			types.OutputPublicSubnetIDs:  strings.Join(public, ","),
			types.OutputPrivateSubnetIDs: strings.Join(private, ","),
			"cidr":                       network.CIDR().String(),
		}, nil
	})
}

// AllocateSecurityPolicy realizes a security group and its ingress rules
func (p *Provider) AllocateSecurityPolicy(ctx context.Context, policy *topology.SecurityPolicy, refs types.Realized) (*types.RealizedResource, error) {
	return p.realize(ctx, policy, func() (map[string]string, error) {
		vpcID, err := requireOutput(refs, policy.Network().Key(), types.OutputVPCID)
		if err != nil {
			return nil, err
		}

		var sources []string
		for _, rule := range policy.Rules() {
			if !rule.Source.IsPolicy() {
				sources = append(sources, rule.Source.CIDR())
				continue
			}
			if rule.Source.PolicyName() == policy.Name() {
				continue
			}
			groupID, err := requireOutput(refs, topology.StepID(topology.KindSecurityPolicy, rule.Source.PolicyName()), types.OutputGroupID)
			if err != nil {
				return nil, err
			}
			sources = append(sources, groupID)
		}

		return map[string]string{
			types.OutputGroupID: resourceID("sg", policy.Key()),
			types.OutputVPCID:   vpcID,
			"rule_sources":      strings.Join(sources, ","),
		}, nil
	})
}

// AllocateInstance launches an instance and assigns its private address
func (p *Provider) AllocateInstance(ctx context.Context, instance *topology.ComputeInstance, refs types.Realized) (*types.RealizedResource, error) {
	return p.realize(ctx, instance, func() (map[string]string, error) {
		if _, err := requireOutput(refs, instance.Network().Key(), types.OutputVPCID); err != nil {
			return nil, err
		}
		groupID, err := requireOutput(refs, instance.Policy().Key(), types.OutputGroupID)
		if err != nil {
			return nil, err
		}

		ip := hostAddress(instance.Subnet().CIDR, instance.Key())
		outputs := map[string]string{
			types.OutputInstanceID:     resourceID("i", instance.Key()),
			types.OutputPrivateIP:      ip.String(),
			types.OutputPrivateAddress: p.privateDNSName(ip),
			types.OutputGroupID:        groupID,
		}
		if instance.AssignPublicAddress() {
			outputs["public_ip"] = "203.0.113." + fmt.Sprint(ip.As4()[3])
		}
		return outputs, nil
	})
}

// AllocateTargetGroup creates a target group and registers its targets
func (p *Provider) AllocateTargetGroup(ctx context.Context, group *topology.TargetGroup, refs types.Realized) (*types.RealizedResource, error) {
	return p.realize(ctx, group, func() (map[string]string, error) {
		if _, err := requireOutput(refs, group.Network().Key(), types.OutputVPCID); err != nil {
			return nil, err
		}
		var targets []string
		for _, target := range group.Targets() {
			instanceID, err := requireOutput(refs, target.Instance.Key(), types.OutputInstanceID)
			if err != nil {
				return nil, err
			}
			targets = append(targets, fmt.Sprintf("%s:%d", instanceID, target.Port))
		}
		return map[string]string{
			types.OutputTargetGroupARN: p.arn("targetgroup", group.Name(), group.Key()),
			"targets":                  strings.Join(targets, ","),
		}, nil
	})
}

// AllocateLoadBalancer creates the load balancer in its tier's subnets
func (p *Provider) AllocateLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error) {
	return p.realize(ctx, lb, func() (map[string]string, error) {
		subnetKey := types.OutputPrivateSubnetIDs
		if lb.Tier() == topology.TierPublic {
			subnetKey = types.OutputPublicSubnetIDs
		}
		subnets, err := requireOutput(refs, lb.Network().Key(), subnetKey)
		if err != nil {
			return nil, err
		}
		if _, err := requireOutput(refs, lb.Policy().Key(), types.OutputGroupID); err != nil {
			return nil, err
		}
		suffix := hex.EncodeToString(digest(lb.Key()))[:8]
		return map[string]string{
			types.OutputLoadBalancerARN: p.arn("loadbalancer/app", lb.Name(), lb.Key()),
			types.OutputDNSName:         fmt.Sprintf("%s-%s.%s.elb.amazonaws.com", strings.ToLower(lb.Name()), suffix, p.region),
			"subnets":                   subnets,
			"scheme":                    lb.Scheme(),
		}, nil
	})
}

// AllocateListener creates a listener forwarding to its target groups
func (p *Provider) AllocateListener(ctx context.Context, listener *topology.Listener, refs types.Realized) (*types.RealizedResource, error) {
	return p.realize(ctx, listener, func() (map[string]string, error) {
		lbARN, err := requireOutput(refs, listener.LoadBalancer().Key(), types.OutputLoadBalancerARN)
		if err != nil {
			return nil, err
		}
		var groups []string
		for _, group := range listener.TargetGroups() {
			arn, err := requireOutput(refs, group.Key(), types.OutputTargetGroupARN)
			if err != nil {
				return nil, err
			}
			groups = append(groups, arn)
		}
		return map[string]string{
			types.OutputListenerARN:     p.arn("listener/app", listener.Name(), listener.Key()),
			types.OutputLoadBalancerARN: lbARN,
			"forward_to":                strings.Join(groups, ","),
		}, nil
	})
}

// AwaitLoadBalancer reports the load balancer active once its listeners exist
func (p *Provider) AwaitLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error) {
	ready := &readyEntity{lb: lb}
	return p.realize(ctx, ready, func() (map[string]string, error) {
		dnsName, err := requireOutput(refs, lb.Key(), types.OutputDNSName)
		if err != nil {
			return nil, err
		}
		for _, listener := range lb.Listeners() {
			if _, err := requireOutput(refs, listener.Key(), types.OutputListenerARN); err != nil {
				return nil, err
			}
		}
		return map[string]string{
			types.OutputDNSName: dnsName,
			"state":             "active",
		}, nil
	})
}

// PublishParameter stores a String parameter
func (p *Provider) PublishParameter(ctx context.Context, key, value string) (*types.RealizedResource, error) {
	entry := &parameterEntity{key: key}
	return p.realize(ctx, entry, func() (map[string]string, error) {
		p.mutex.Lock()
		p.parameters[key] = value
		p.mutex.Unlock()
		return map[string]string{
			types.OutputParameterName:    key,
			types.OutputParameterVersion: "1",
		}, nil
	})
}

// ========== Helpers ==========

type named interface {
	Kind() topology.Kind
	Name() string
	Key() string
}

type readyEntity struct{ lb *topology.LoadBalancer }

func (r *readyEntity) Kind() topology.Kind { return topology.KindLoadBalancerReady }
func (r *readyEntity) Name() string        { return r.lb.Name() }
func (r *readyEntity) Key() string         { return topology.StepID(r.Kind(), r.Name()) }

type parameterEntity struct{ key string }

func (e *parameterEntity) Kind() topology.Kind { return topology.KindParameter }
func (e *parameterEntity) Name() string        { return e.key }
func (e *parameterEntity) Key() string         { return topology.StepID(e.Kind(), e.key) }

func (p *Provider) realize(ctx context.Context, entity named, build func() (map[string]string, error)) (*types.RealizedResource, error) {
	key := entity.Key()
	start := time.Now()

	p.mutex.Lock()
	p.active++
	if p.active > p.maxConcurrent {
		p.maxConcurrent = p.active
	}
	p.calls = append(p.calls, key)
	injected := p.stepErrors[key]
	delay := p.stepDelays[key]
	p.mutex.Unlock()

	defer func() {
		p.mutex.Lock()
		p.active--
		p.mutex.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if injected != nil {
		p.logger.LogRealize(string(entity.Kind()), entity.Name(), time.Since(start), injected)
		return nil, fmt.Errorf("simulated failure for %s: %w", key, injected)
	}

	outputs, err := build()
	if err != nil {
		p.logger.LogRealize(string(entity.Kind()), entity.Name(), time.Since(start), err)
		return nil, err
	}

	handle := &types.RealizedResource{
		StepID:     key,
		Kind:       string(entity.Kind()),
		Name:       entity.Name(),
		ProviderID: primaryID(outputs),
		Outputs:    outputs,
		RealizedAt: time.Now(),
	}

	p.mutex.Lock()
	p.resources[key] = handle
	p.mutex.Unlock()

	p.logger.WithFields(logrus.Fields{
		"step":        key,
		"provider_id": handle.ProviderID,
	}).Debug("Simulated resource realized")
	return handle, nil
}

func requireOutput(refs types.Realized, stepID, output string) (string, error) {
	handle, ok := refs[stepID]
	if !ok {
		return "", fmt.Errorf("dependency %s has not been realized", stepID)
	}
	value := handle.Output(output)
	if value == "" {
		return "", fmt.Errorf("dependency %s has no %s output", stepID, output)
	}
	return value, nil
}

func primaryID(outputs map[string]string) string {
	for _, key := range []string{
		types.OutputListenerARN, types.OutputTargetGroupARN, types.OutputInstanceID,
		types.OutputGroupID, types.OutputLoadBalancerARN, types.OutputVPCID,
		types.OutputParameterName, types.OutputDNSName,
	} {
		if v, ok := outputs[key]; ok {
			return v
		}
	}
	keys := make([]string, 0, len(outputs))
	for k := range outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return outputs[keys[0]]
	}
	return ""
}

func digest(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

// resourceID derives an AWS-shaped id from a step key
func resourceID(prefix, seed string) string {
	return prefix + "-" + hex.EncodeToString(digest(seed))[:17]
}

func (p *Provider) arn(resource, name, seed string) string {
	return fmt.Sprintf("arn:aws:elasticloadbalancing:%s:000000000000:%s/%s/%s",
		p.region, resource, name, hex.EncodeToString(digest(seed))[:16])
}

// hostAddress picks a stable host address inside subnet, skipping the
// reserved first four and last addresses.
func hostAddress(subnet netip.Prefix, seed string) netip.Addr {
	size := uint32(1) << (32 - subnet.Bits())
	usable := size - 5
	offset := 4 + binary.BigEndian.Uint32(digest(seed)[:4])%usable

	base := subnet.Addr().As4()
	v := binary.BigEndian.Uint32(base[:]) + offset
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], v)
	return netip.AddrFrom4(out)
}

func (p *Provider) privateDNSName(ip netip.Addr) string {
	return fmt.Sprintf("ip-%s.%s.compute.internal", strings.ReplaceAll(ip.String(), ".", "-"), p.region)
}
