// Package webapp declares the two-tier web deployment: an internet-facing
// application load balancer in the public tier, a web server in the private
// tier, and a bastion host for administrative access.
package webapp

import (
	"fmt"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/topology"
)

// Entity names used by the stack
const (
	NetworkName          = "WebApplicationVPC"
	LoadBalancerPolicy   = "LoadBalancer"
	BastionPolicy        = "Bastion"
	WebServerPolicy      = "WebServer"
	WebServerInstance    = "WebServer"
	BastionInstance      = "Bastion"
	LoadBalancerName     = "LoadBalancer"
	HTTPTargetGroupName  = "HttpTargetGroup"
	HTTPSTargetGroupName = "HttpsTargetGroup"
	HTTPListenerName     = "HttpListener"
	HTTPSListenerName    = "HttpsListener"
)

// Settings parameterize the stack
type Settings struct {
	Name                string
	VPCCIDR             string
	MaxAZs              int
	PublicSubnetPrefix  int
	PrivateSubnetPrefix int

	WebInstanceType     string
	BastionInstanceType string
	ImageID             string
	WebSSHKeyName       string
	BastionSSHKeyName   string
	Bootstrap           []byte

	CertificateARN  string
	ParameterKey    string
	HealthCheckPath string

	BastionSSHCIDR               string
	LoadBalancerAllowAllOutbound bool
}

// DefaultSettings mirror the configuration defaults. Key names and the
// certificate have no default.
func DefaultSettings() Settings {
	return Settings{
		Name:                         "WebApplication",
		VPCCIDR:                      "10.0.0.0/16",
		MaxAZs:                       3,
		PublicSubnetPrefix:           24,
		PrivateSubnetPrefix:          24,
		WebInstanceType:              "t2.small",
		BastionInstanceType:          "t2.micro",
		ImageID:                      "resolve:ssm:/aws/service/ami-amazon-linux-latest/amzn2-ami-hvm-x86_64-gp2",
		ParameterKey:                 "/Instance/WebServer",
		HealthCheckPath:              "/health_check",
		BastionSSHCIDR:               topology.AnyIPv4CIDR,
		LoadBalancerAllowAllOutbound: true,
	}
}

// SettingsFromConfig builds settings from loaded configuration and the
// bootstrap payload read by the caller.
func SettingsFromConfig(cfg *config.Config, bootstrap []byte) Settings {
	return Settings{
		Name:                         cfg.Stack.Name,
		VPCCIDR:                      cfg.Stack.VPCCIDR,
		MaxAZs:                       cfg.Stack.MaxAZs,
		PublicSubnetPrefix:           cfg.Stack.PublicSubnetPrefix,
		PrivateSubnetPrefix:          cfg.Stack.PrivateSubnetPrefix,
		WebInstanceType:              cfg.Stack.WebInstanceType,
		BastionInstanceType:          cfg.Stack.BastionInstanceType,
		ImageID:                      cfg.Stack.ImageID,
		WebSSHKeyName:                cfg.Stack.WebSSHKeyName,
		BastionSSHKeyName:            cfg.Stack.BastionSSHKeyName,
		Bootstrap:                    bootstrap,
		CertificateARN:               cfg.Stack.CertificateARN,
		ParameterKey:                 cfg.Stack.ParameterKey,
		HealthCheckPath:              cfg.Stack.HealthCheckPath,
		BastionSSHCIDR:               cfg.Policy.BastionSSHCIDR,
		LoadBalancerAllowAllOutbound: cfg.Policy.LoadBalancerAllowAllOutbound,
	}
}

// Stack holds the declared entities
type Stack struct {
	Network *topology.Network

	LoadBalancerPolicy *topology.SecurityPolicy
	BastionPolicy      *topology.SecurityPolicy
	WebServerPolicy    *topology.SecurityPolicy

	WebServer *topology.ComputeInstance
	Bastion   *topology.ComputeInstance
	Parameter *topology.ParameterEntry

	LoadBalancer     *topology.LoadBalancer
	HTTPTargetGroup  *topology.TargetGroup
	HTTPSTargetGroup *topology.TargetGroup
	HTTPListener     *topology.Listener
	HTTPSListener    *topology.Listener
}

// Define declares the stack on b
func Define(b *topology.TopologyBuilder, s Settings) (*Stack, error) {
	stack := &Stack{}
	var err error

	stack.Network, err = topology.DefineNetwork(b, NetworkName, s.VPCCIDR, s.MaxAZs,
		topology.PublicTier(s.PublicSubnetPrefix),
		topology.PrivateTier(s.PrivateSubnetPrefix),
	)
	if err != nil {
		return nil, err
	}

	if err := stack.definePolicies(b, s); err != nil {
		return nil, err
	}

	stack.WebServer, err = topology.DefineInstance(b, topology.InstanceSpec{
		Name:       WebServerInstance,
		Network:    stack.Network,
		Tier:       topology.TierPrivateWithEgress,
		SizeClass:  s.WebInstanceType,
		Image:      s.ImageID,
		Policy:     stack.WebServerPolicy,
		Bootstrap:  s.Bootstrap,
		Credential: s.WebSSHKeyName,
	})
	if err != nil {
		return nil, err
	}

	stack.Parameter, err = topology.Publish(b, s.ParameterKey, stack.WebServer.PrivateAddress())
	if err != nil {
		return nil, err
	}

	stack.Bastion, err = topology.DefineInstance(b, topology.InstanceSpec{
		Name:       BastionInstance,
		Network:    stack.Network,
		Tier:       topology.TierPublic,
		SizeClass:  s.BastionInstanceType,
		Image:      s.ImageID,
		Policy:     stack.BastionPolicy,
		Credential: s.BastionSSHKeyName,
	})
	if err != nil {
		return nil, err
	}

	if err := stack.defineLoadBalancing(b, s); err != nil {
		return nil, err
	}
	return stack, nil
}

func (stack *Stack) definePolicies(b *topology.TopologyBuilder, s Settings) error {
	var err error

	stack.LoadBalancerPolicy, err = topology.DefineSecurityPolicy(b, LoadBalancerPolicy, stack.Network,
		"Allow access to load balancer", s.LoadBalancerAllowAllOutbound)
	if err != nil {
		return err
	}
	if err := topology.AddIngressRule(b, stack.LoadBalancerPolicy, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(80), "Allow access to http"); err != nil {
		return err
	}
	if err := topology.AddIngressRule(b, stack.LoadBalancerPolicy, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(443), "Allow access to https"); err != nil {
		return err
	}

	stack.BastionPolicy, err = topology.DefineSecurityPolicy(b, BastionPolicy, stack.Network,
		"Allow access to bastion server", true)
	if err != nil {
		return err
	}
	if err := topology.AddIngressRule(b, stack.BastionPolicy, bastionSource(s), topology.ProtocolTCP, topology.Port(22), "Allow access to ssh"); err != nil {
		return err
	}

	stack.WebServerPolicy, err = topology.DefineSecurityPolicy(b, WebServerPolicy, stack.Network,
		"Allow access to web server", true)
	if err != nil {
		return err
	}
	rules := []struct {
		source      *topology.SecurityPolicy
		port        int
		description string
	}{
		{stack.BastionPolicy, 22, "Allow access to ssh"},
		{stack.LoadBalancerPolicy, 80, "Allow access to http"},
		{stack.LoadBalancerPolicy, 443, "Allow access to https"},
	}
	for _, rule := range rules {
		if err := topology.AddIngressRule(b, stack.WebServerPolicy, topology.PolicySource(rule.source),
			topology.ProtocolTCP, topology.Port(rule.port), rule.description); err != nil {
			return err
		}
	}
	return nil
}

func (stack *Stack) defineLoadBalancing(b *topology.TopologyBuilder, s Settings) error {
	var err error

	stack.LoadBalancer, err = topology.DefineLoadBalancer(b, LoadBalancerName, stack.Network, true,
		stack.LoadBalancerPolicy, topology.TierPublic)
	if err != nil {
		return err
	}

	health := topology.HealthCheck{Path: s.HealthCheckPath, Matcher: topology.DefaultHealthyMatcher}

	stack.HTTPTargetGroup, err = topology.DefineTargetGroup(b, HTTPTargetGroupName, stack.Network, topology.ProtocolHTTP, 80, health)
	if err != nil {
		return err
	}
	if err := topology.AddTarget(b, stack.HTTPTargetGroup, stack.WebServer, 80); err != nil {
		return err
	}

	stack.HTTPSTargetGroup, err = topology.DefineTargetGroup(b, HTTPSTargetGroupName, stack.Network, topology.ProtocolHTTPS, 443, health)
	if err != nil {
		return err
	}
	if err := topology.AddTarget(b, stack.HTTPSTargetGroup, stack.WebServer, 443); err != nil {
		return err
	}

	stack.HTTPListener, err = topology.AddListener(b, stack.LoadBalancer, HTTPListenerName, 80, "")
	if err != nil {
		return err
	}
	if err := topology.AttachTargetGroups(b, stack.HTTPListener, stack.HTTPTargetGroup); err != nil {
		return err
	}

	stack.HTTPSListener, err = topology.AddListener(b, stack.LoadBalancer, HTTPSListenerName, 443, s.CertificateARN)
	if err != nil {
		return err
	}
	return topology.AttachTargetGroups(b, stack.HTTPSListener, stack.HTTPSTargetGroup)
}

// Build declares the stack on a fresh builder and finalizes it. Deferred
// values resolve at most once, so every apply needs its own topology.
func Build(s Settings, logger *logging.Logger) (*topology.Topology, *Stack, error) {
	if s.Name == "" {
		return nil, nil, fmt.Errorf("stack name is required")
	}
	b := topology.NewTopologyBuilder(s.Name, logger)
	stack, err := Define(b, s)
	if err != nil {
		return nil, nil, err
	}
	topo, err := b.Finalize()
	if err != nil {
		return nil, nil, err
	}
	return topo, stack, nil
}

// Expectations is the least-privilege intent of the stack: the load balancer
// takes web traffic from anywhere, the web server only from the load
// balancer and ssh only from the bastion.
func (s Settings) Expectations() *policy.Intent {
	lb := "policy:" + LoadBalancerPolicy
	bastion := "policy:" + BastionPolicy

	intent := &policy.Intent{
		Expectations: []policy.Expectation{
			{Policy: LoadBalancerPolicy, Protocol: topology.ProtocolTCP, Port: 80, Sources: []string{topology.AnyIPv4CIDR}},
			{Policy: LoadBalancerPolicy, Protocol: topology.ProtocolTCP, Port: 443, Sources: []string{topology.AnyIPv4CIDR}},
			{Policy: BastionPolicy, Protocol: topology.ProtocolTCP, Port: 22, Sources: []string{bastionSource(s).String()}},
			{Policy: WebServerPolicy, Protocol: topology.ProtocolTCP, Port: 22, Sources: []string{bastion}},
			{Policy: WebServerPolicy, Protocol: topology.ProtocolTCP, Port: 80, Sources: []string{lb}},
			{Policy: WebServerPolicy, Protocol: topology.ProtocolTCP, Port: 443, Sources: []string{lb}},
		},
		AdminPorts: append([]int(nil), policy.DefaultAdminPorts...),
	}
	if bastionSource(s).IsAnyIPv4() {
		intent.AllowPublicAdmin = []string{BastionPolicy}
	}
	return intent
}

func bastionSource(s Settings) topology.Source {
	if s.BastionSSHCIDR == "" || s.BastionSSHCIDR == topology.AnyIPv4CIDR {
		return topology.AnyIPv4()
	}
	return topology.CIDRSource(s.BastionSSHCIDR)
}

// Factory returns a function building a fresh topology from s on every call
func Factory(s Settings, logger *logging.Logger) func() (*topology.Topology, error) {
	return func() (*topology.Topology, error) {
		topo, _, err := Build(s, logger)
		return topo, err
	}
}
