package aws

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/types"
)

// Provider realizes topology entities with the EC2, ELBv2 and SSM APIs.
// Every resource is tagged with the topology name so a stack can be
// located after the fact.
type Provider struct {
	client   *Client
	topology string
}

// NewProvider wraps a client for the named topology
func NewProvider(client *Client, topologyName string) *Provider {
	return &Provider{client: client, topology: topologyName}
}

// Name identifies the provider in executions
func (p *Provider) Name() string {
	return "aws"
}

// AllocateNetwork creates the VPC, an internet gateway, one subnet per tier
// and zone, a single NAT gateway in the first public subnet, and the route
// tables that give each tier its egress path.
func (p *Provider) AllocateNetwork(ctx context.Context, network *topology.Network) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateNetwork(ctx, network)
	p.client.logger.LogRealize(string(network.Kind()), network.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateNetwork(ctx context.Context, network *topology.Network) (*types.RealizedResource, error) {
	zones, err := p.client.GetAvailabilityZones(ctx)
	if err != nil {
		return nil, err
	}
	if len(zones) > network.MaxAZs() {
		zones = zones[:network.MaxAZs()]
	}

	vpc, err := p.client.CreateVPC(ctx, CreateVPCParams{
		Name:               network.Name(),
		CidrBlock:          network.CIDR().String(),
		EnableDnsSupport:   network.DNSSupport(),
		EnableDnsHostnames: network.DNSHostnames(),
		Tags:               p.tags(network.Key()),
	})
	if err != nil {
		return nil, err
	}

	var igwID string
	if network.HasTier(topology.TierPublic) {
		igw, err := p.client.CreateInternetGateway(ctx, CreateInternetGatewayParams{
			Name: network.Name() + "-igw",
			Tags: p.tags(network.Key()),
		}, vpc.ID)
		if err != nil {
			return nil, err
		}
		igwID = igw.ID
	}

	var public, private []string
	for _, subnet := range network.Subnets() {
		if subnet.Zone >= len(zones) {
			return nil, fmt.Errorf("subnet %s needs zone %d but %s has %d", subnet.Name, subnet.Zone, p.client.GetRegion(), len(zones))
		}
		created, err := p.client.CreateSubnet(ctx, CreateSubnetParams{
			VpcID:               vpc.ID,
			CidrBlock:           subnet.CIDR.String(),
			AvailabilityZone:    zones[subnet.Zone],
			MapPublicIpOnLaunch: subnet.Kind == topology.TierPublic,
			Name:                network.Name() + "/" + subnet.Name,
			Tags:                p.tags(network.Key()),
		})
		if err != nil {
			return nil, err
		}
		if subnet.Kind == topology.TierPublic {
			public = append(public, created.ID)
		} else {
			private = append(private, created.ID)
		}
	}

	if len(public) > 0 {
		table, err := p.client.CreateRouteTable(ctx, vpc.ID, network.Name()+"-public")
		if err != nil {
			return nil, err
		}
		if err := p.client.CreateRoute(ctx, table.ID, topology.AnyIPv4CIDR, igwID); err != nil {
			return nil, err
		}
		for _, subnetID := range public {
			if err := p.client.AssociateRouteTable(ctx, table.ID, subnetID); err != nil {
				return nil, err
			}
		}
	}

	var natID string
	if len(private) > 0 {
		if len(public) == 0 {
			return nil, fmt.Errorf("network %s has private subnets with egress but no public subnet for the NAT gateway", network.Name())
		}
		nat, err := p.client.CreateNATGateway(ctx, CreateNATGatewayParams{
			SubnetID: public[0],
			Name:     network.Name() + "-nat",
			Tags:     p.tags(network.Key()),
		})
		if err != nil {
			return nil, err
		}
		natID = nat.ID
		if err := p.client.WaitForNATGateway(ctx, natID); err != nil {
			return nil, err
		}

		table, err := p.client.CreateRouteTable(ctx, vpc.ID, network.Name()+"-private")
		if err != nil {
			return nil, err
		}
		if err := p.client.CreateRouteForNAT(ctx, table.ID, topology.AnyIPv4CIDR, natID); err != nil {
			return nil, err
		}
		for _, subnetID := range private {
			if err := p.client.AssociateRouteTable(ctx, table.ID, subnetID); err != nil {
				return nil, err
			}
		}
	}

	outputs := map[string]string{
		types.OutputVPCID:            vpc.ID,
		types.OutputPublicSubnetIDs:  strings.Join(public, ","),
		types.OutputPrivateSubnetIDs: strings.Join(private, ","),
		"cidr":                       network.CIDR().String(),
		"zones":                      strings.Join(zones, ","),
	}
	if igwID != "" {
		outputs["internet_gateway_id"] = igwID
	}
	if natID != "" {
		outputs["nat_gateway_id"] = natID
	}
	return p.handle(network.Key(), network.Kind(), network.Name(), vpc.ID, outputs), nil
}

// AllocateSecurityPolicy creates a security group and authorizes its rules
func (p *Provider) AllocateSecurityPolicy(ctx context.Context, policy *topology.SecurityPolicy, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateSecurityPolicy(ctx, policy, refs)
	p.client.logger.LogRealize(string(policy.Kind()), policy.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateSecurityPolicy(ctx context.Context, policy *topology.SecurityPolicy, refs types.Realized) (*types.RealizedResource, error) {
	vpcID, err := refOutput(refs, policy.Network().Key(), types.OutputVPCID)
	if err != nil {
		return nil, err
	}

	groupID, err := p.client.CreateSecurityGroup(ctx, SecurityGroupParams{
		GroupName:   policy.Name(),
		Description: policy.Description(),
		VpcID:       vpcID,
		Tags:        p.tags(policy.Key()),
	})
	if err != nil {
		return nil, err
	}

	for _, rule := range policy.Rules() {
		params := SecurityGroupRuleParams{
			GroupID:     groupID,
			Type:        "ingress",
			Protocol:    string(rule.Protocol),
			FromPort:    int32(rule.Ports.From),
			ToPort:      int32(rule.Ports.To),
			Description: rule.Description,
		}
		switch {
		case !rule.Source.IsPolicy():
			params.CidrBlocks = []string{rule.Source.CIDR()}
		case rule.Source.PolicyName() == policy.Name():
			params.SourceSG = groupID
		default:
			sourceID, err := refOutput(refs, topology.StepID(topology.KindSecurityPolicy, rule.Source.PolicyName()), types.OutputGroupID)
			if err != nil {
				return nil, err
			}
			params.SourceSG = sourceID
		}
		if err := p.client.AddSecurityGroupRule(ctx, params); err != nil {
			return nil, err
		}
	}

	if !policy.AllowAllOutbound() {
		if err := p.client.RevokeDefaultEgress(ctx, groupID); err != nil {
			return nil, err
		}
	}

	return p.handle(policy.Key(), policy.Kind(), policy.Name(), groupID, map[string]string{
		types.OutputGroupID: groupID,
		types.OutputVPCID:   vpcID,
	}), nil
}

// AllocateInstance launches an instance and waits until it is running
func (p *Provider) AllocateInstance(ctx context.Context, instance *topology.ComputeInstance, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateInstance(ctx, instance, refs)
	p.client.logger.LogRealize(string(instance.Kind()), instance.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateInstance(ctx context.Context, instance *topology.ComputeInstance, refs types.Realized) (*types.RealizedResource, error) {
	subnetID, err := p.subnetFor(refs, instance.Network(), instance.Tier(), instance.Subnet())
	if err != nil {
		return nil, err
	}
	groupID, err := refOutput(refs, instance.Policy().Key(), types.OutputGroupID)
	if err != nil {
		return nil, err
	}

	created, err := p.client.CreateEC2Instance(ctx, CreateInstanceParams{
		ImageID:         instance.Image(),
		InstanceType:    instance.SizeClass(),
		KeyName:         instance.Credential(),
		SecurityGroupID: groupID,
		SubnetID:        subnetID,
		UserData:        instance.Bootstrap(),
		Name:            instance.Name(),
		Tags:            p.tags(instance.Key()),
	})
	if err != nil {
		return nil, err
	}

	running, err := p.client.WaitForInstanceRunning(ctx, created.ID)
	if err != nil {
		return nil, err
	}

	privateDNS, _ := running.Details["privateDnsName"].(string)
	privateIP, _ := running.Details["privateIpAddress"].(string)
	if privateDNS == "" {
		return nil, fmt.Errorf("instance %s is running but has no private DNS name", created.ID)
	}

	outputs := map[string]string{
		types.OutputInstanceID:     created.ID,
		types.OutputPrivateAddress: privateDNS,
		types.OutputPrivateIP:      privateIP,
		types.OutputGroupID:        groupID,
	}
	if publicIP, _ := running.Details["publicIpAddress"].(string); publicIP != "" {
		outputs["public_ip"] = publicIP
	}
	return p.handle(instance.Key(), instance.Kind(), instance.Name(), created.ID, outputs), nil
}

// AllocateTargetGroup creates a target group and registers its targets
func (p *Provider) AllocateTargetGroup(ctx context.Context, group *topology.TargetGroup, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateTargetGroup(ctx, group, refs)
	p.client.logger.LogRealize(string(group.Kind()), group.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateTargetGroup(ctx context.Context, group *topology.TargetGroup, refs types.Realized) (*types.RealizedResource, error) {
	vpcID, err := refOutput(refs, group.Network().Key(), types.OutputVPCID)
	if err != nil {
		return nil, err
	}

	var targets []TargetParams
	for _, target := range group.Targets() {
		instanceID, err := refOutput(refs, target.Instance.Key(), types.OutputInstanceID)
		if err != nil {
			return nil, err
		}
		targets = append(targets, TargetParams{InstanceID: instanceID, Port: int32(target.Port)})
	}

	healthCheck := group.HealthCheck()
	created, err := p.client.CreateTargetGroup(ctx, CreateTargetGroupParams{
		Name:            group.Name(),
		Protocol:        string(group.Protocol()),
		Port:            int32(group.Port()),
		VpcID:           vpcID,
		HealthCheckPath: healthCheck.Path,
		Matcher:         healthCheck.Matcher,
		Tags:            p.tags(group.Key()),
	})
	if err != nil {
		return nil, err
	}

	if err := p.client.RegisterTargets(ctx, created.ID, targets); err != nil {
		return nil, err
	}

	return p.handle(group.Key(), group.Kind(), group.Name(), created.ID, map[string]string{
		types.OutputTargetGroupARN: created.ID,
		"target_count":             strconv.Itoa(len(targets)),
	}), nil
}

// AllocateLoadBalancer creates the load balancer in its tier's subnets. It
// returns as soon as the balancer is accepted; readiness is awaited by
// AwaitLoadBalancer once the listeners exist.
func (p *Provider) AllocateLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateLoadBalancer(ctx, lb, refs)
	p.client.logger.LogRealize(string(lb.Kind()), lb.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error) {
	subnets, err := p.tierSubnets(refs, lb.Network(), lb.Tier())
	if err != nil {
		return nil, err
	}
	groupID, err := refOutput(refs, lb.Policy().Key(), types.OutputGroupID)
	if err != nil {
		return nil, err
	}

	created, err := p.client.CreateApplicationLoadBalancer(ctx, CreateLoadBalancerParams{
		Name:           lb.Name(),
		Scheme:         lb.Scheme(),
		Subnets:        subnets,
		SecurityGroups: []string{groupID},
		Tags:           p.tags(lb.Key()),
	})
	if err != nil {
		return nil, err
	}

	dnsName, _ := created.Details["dnsName"].(string)
	return p.handle(lb.Key(), lb.Kind(), lb.Name(), created.ID, map[string]string{
		types.OutputLoadBalancerARN: created.ID,
		types.OutputDNSName:         dnsName,
		"scheme":                    lb.Scheme(),
	}), nil
}

// AllocateListener creates a listener forwarding to its target groups
func (p *Provider) AllocateListener(ctx context.Context, listener *topology.Listener, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	handle, err := p.allocateListener(ctx, listener, refs)
	p.client.logger.LogRealize(string(listener.Kind()), listener.Name(), time.Since(start), err)
	return handle, err
}

func (p *Provider) allocateListener(ctx context.Context, listener *topology.Listener, refs types.Realized) (*types.RealizedResource, error) {
	lbARN, err := refOutput(refs, listener.LoadBalancer().Key(), types.OutputLoadBalancerARN)
	if err != nil {
		return nil, err
	}

	var groups []string
	for _, group := range listener.TargetGroups() {
		arn, err := refOutput(refs, group.Key(), types.OutputTargetGroupARN)
		if err != nil {
			return nil, err
		}
		groups = append(groups, arn)
	}

	created, err := p.client.CreateListener(ctx, CreateListenerParams{
		LoadBalancerArn: lbARN,
		Protocol:        string(listener.Protocol()),
		Port:            int32(listener.Port()),
		TargetGroupArns: groups,
		CertificateArn:  listener.Certificate(),
	})
	if err != nil {
		return nil, err
	}

	return p.handle(listener.Key(), listener.Kind(), listener.Name(), created.ID, map[string]string{
		types.OutputListenerARN:     created.ID,
		types.OutputLoadBalancerARN: lbARN,
	}), nil
}

// AwaitLoadBalancer blocks until the load balancer is active
func (p *Provider) AwaitLoadBalancer(ctx context.Context, lb *topology.LoadBalancer, refs types.Realized) (*types.RealizedResource, error) {
	start := time.Now()
	key := topology.StepID(topology.KindLoadBalancerReady, lb.Name())

	handle, err := func() (*types.RealizedResource, error) {
		lbARN, err := refOutput(refs, lb.Key(), types.OutputLoadBalancerARN)
		if err != nil {
			return nil, err
		}
		active, err := p.client.WaitForLoadBalancerActive(ctx, lbARN)
		if err != nil {
			return nil, err
		}
		dnsName, _ := active.Details["dnsName"].(string)
		return p.handle(key, topology.KindLoadBalancerReady, lb.Name(), lbARN, map[string]string{
			types.OutputDNSName:         dnsName,
			types.OutputLoadBalancerARN: lbARN,
			"state":                     active.State,
		}), nil
	}()

	p.client.logger.LogRealize(string(topology.KindLoadBalancerReady), lb.Name(), time.Since(start), err)
	return handle, err
}

// PublishParameter writes a String parameter to the parameter store
func (p *Provider) PublishParameter(ctx context.Context, key, value string) (*types.RealizedResource, error) {
	start := time.Now()
	stepID := topology.StepID(topology.KindParameter, key)

	handle, err := func() (*types.RealizedResource, error) {
		put, err := p.client.PutParameter(ctx, PutParameterParams{
			Name:  key,
			Value: value,
			Tags:  p.tags(stepID),
		})
		if err != nil {
			return nil, err
		}
		version, _ := put.Details["version"].(string)
		return p.handle(stepID, topology.KindParameter, key, key, map[string]string{
			types.OutputParameterName:    key,
			types.OutputParameterVersion: version,
		}), nil
	}()

	p.client.logger.LogRealize(string(topology.KindParameter), key, time.Since(start), err)
	return handle, err
}

// ========== Helpers ==========

func (p *Provider) tags(stepID string) map[string]string {
	return map[string]string{
		"topology": p.topology,
		"step":     stepID,
	}
}

func (p *Provider) handle(stepID string, kind topology.Kind, name, providerID string, outputs map[string]string) *types.RealizedResource {
	p.client.logger.WithFields(logrus.Fields{
		"step":        stepID,
		"provider_id": providerID,
	}).Debug("AWS resource realized")

	return &types.RealizedResource{
		StepID:     stepID,
		Kind:       string(kind),
		Name:       name,
		ProviderID: providerID,
		Outputs:    outputs,
		RealizedAt: time.Now(),
	}
}

// tierSubnets returns the subnet ids of one tier, in zone order
func (p *Provider) tierSubnets(refs types.Realized, network *topology.Network, tier topology.TierKind) ([]string, error) {
	output := types.OutputPrivateSubnetIDs
	if tier == topology.TierPublic {
		output = types.OutputPublicSubnetIDs
	}
	joined, err := refOutput(refs, network.Key(), output)
	if err != nil {
		return nil, err
	}
	return strings.Split(joined, ","), nil
}

// subnetFor maps a carved subnet to the id created for it
func (p *Provider) subnetFor(refs types.Realized, network *topology.Network, tier topology.TierKind, subnet topology.Subnet) (string, error) {
	ids, err := p.tierSubnets(refs, network, tier)
	if err != nil {
		return "", err
	}
	for i, candidate := range topology.SubnetsOf(network, tier) {
		if candidate.Name == subnet.Name && i < len(ids) {
			return ids[i], nil
		}
	}
	return "", fmt.Errorf("subnet %s of %s was not realized", subnet.Name, network.Key())
}

func refOutput(refs types.Realized, stepID, output string) (string, error) {
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
