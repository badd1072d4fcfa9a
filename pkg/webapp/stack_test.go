package webapp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/topology"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.WebSSHKeyName = "web-key"
	s.BastionSSHKeyName = "bastion-key"
	s.CertificateARN = "arn:aws:acm:us-west-2:123456789012:certificate/abc"
	s.Bootstrap = []byte("#!/bin/bash\nyum install -y httpd\n")
	return s
}

func TestBuildReferenceStack(t *testing.T) {
	topo, stack, err := Build(testSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, "WebApplication", topo.Name())
	assert.Len(t, topo.Entities(), 13)
	assert.Len(t, topology.SubnetsOf(stack.Network, topology.TierPublic), 3)
	assert.Len(t, topology.SubnetsOf(stack.Network, topology.TierPrivateWithEgress), 3)

	assert.False(t, stack.WebServer.AssignPublicAddress())
	assert.True(t, stack.Bastion.AssignPublicAddress())
	assert.Equal(t, "t2.small", stack.WebServer.SizeClass())
	assert.Equal(t, "t2.micro", stack.Bastion.SizeClass())
	assert.Equal(t, "internet-facing", stack.LoadBalancer.Scheme())

	assert.True(t, stack.HTTPTargetGroup.HasTarget(stack.WebServer, 80))
	assert.True(t, stack.HTTPSTargetGroup.HasTarget(stack.WebServer, 443))
	assert.Equal(t, topology.ProtocolHTTPS, stack.HTTPSListener.Protocol())
	assert.Equal(t, "/health_check", stack.HTTPTargetGroup.HealthCheck().Path)

	entry, ok := topo.Parameters().Entry("/Instance/WebServer")
	require.True(t, ok)
	assert.Equal(t, stack.WebServer.Key(), entry.Value().Source())
}

func TestBuildProvisioningOrder(t *testing.T) {
	topo, stack, err := Build(testSettings(), nil)
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range topo.Order() {
		pos[id] = i
	}

	chain := []string{
		stack.Network.Key(),
		stack.WebServerPolicy.Key(),
		stack.WebServer.Key(),
		stack.HTTPTargetGroup.Key(),
		stack.HTTPListener.Key(),
		topology.StepID(topology.KindLoadBalancerReady, LoadBalancerName),
	}
	for i := 1; i < len(chain); i++ {
		assert.Less(t, pos[chain[i-1]], pos[chain[i]], "%s before %s", chain[i-1], chain[i])
	}
	assert.Less(t, pos[stack.LoadBalancerPolicy.Key()], pos[stack.WebServerPolicy.Key()])
	assert.Less(t, pos[stack.BastionPolicy.Key()], pos[stack.WebServerPolicy.Key()])
	assert.Less(t, pos[stack.WebServer.Key()], pos[stack.Parameter.Key()])
}

func TestBuildIsDeterministic(t *testing.T) {
	first, _, err := Build(testSettings(), nil)
	require.NoError(t, err)
	second, _, err := Build(testSettings(), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Order(), second.Order())
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestBuildRequiresCredentialsAndCertificate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"missing web key", func(s *Settings) { s.WebSSHKeyName = "" }, "credential"},
		{"missing bastion key", func(s *Settings) { s.BastionSSHKeyName = "" }, "credential"},
		{"missing certificate", func(s *Settings) { s.CertificateARN = "" }, "certificate"},
		{"bad cidr", func(s *Settings) { s.VPCCIDR = "10.0.0.0/33" }, "cidr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := testSettings()
			tt.mutate(&s)
			_, _, err := Build(s, nil)

			var cfgErr *topology.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "got %v", err)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadBalancerEgressIsConfigurable(t *testing.T) {
	s := testSettings()
	s.LoadBalancerAllowAllOutbound = false
	_, stack, err := Build(s, nil)
	require.NoError(t, err)

	assert.False(t, stack.LoadBalancerPolicy.AllowAllOutbound())
	assert.True(t, stack.WebServerPolicy.AllowAllOutbound())
}

func TestReferenceStackMeetsItsExpectations(t *testing.T) {
	s := testSettings()
	s.BastionSSHCIDR = "198.51.100.0/24"
	topo, stack, err := Build(s, nil)
	require.NoError(t, err)

	rules := stack.BastionPolicy.Admits(topology.ProtocolTCP, 22)
	require.Len(t, rules, 1)
	assert.Equal(t, "198.51.100.0/24", rules[0].Source.CIDR())

	assert.Empty(t, policy.NewAuditor(nil).Audit(topo, s.Expectations()))
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Stack.Name = "Shop"
	cfg.Stack.VPCCIDR = "10.1.0.0/16"
	cfg.Stack.MaxAZs = 2
	cfg.Stack.WebSSHKeyName = "w"
	cfg.Stack.CertificateARN = "cert"
	cfg.Policy.BastionSSHCIDR = "203.0.113.0/24"

	s := SettingsFromConfig(cfg, []byte("payload"))
	assert.Equal(t, "Shop", s.Name)
	assert.Equal(t, "10.1.0.0/16", s.VPCCIDR)
	assert.Equal(t, 2, s.MaxAZs)
	assert.Equal(t, "w", s.WebSSHKeyName)
	assert.Equal(t, "cert", s.CertificateARN)
	assert.Equal(t, "203.0.113.0/24", s.BastionSSHCIDR)
	assert.Equal(t, []byte("payload"), s.Bootstrap)
}
