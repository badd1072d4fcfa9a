package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/topology"
	"github.com/versus-control/web-topology/pkg/webapp"
)

// policies declares the three web deployment policies; extra is applied to
// the web server policy before finalizing.
func policies(t *testing.T, extra func(b *topology.TopologyBuilder, web *topology.SecurityPolicy)) *topology.Topology {
	t.Helper()
	b := topology.NewTopologyBuilder("audit", nil)

	network, err := topology.DefineNetwork(b, webapp.NetworkName, "10.0.0.0/16", 2, topology.PublicTier(24), topology.PrivateTier(24))
	require.NoError(t, err)

	lb, err := topology.DefineSecurityPolicy(b, webapp.LoadBalancerPolicy, network, "Allow access to load balancer", true)
	require.NoError(t, err)
	require.NoError(t, topology.AddIngressRule(b, lb, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(80), "http"))
	require.NoError(t, topology.AddIngressRule(b, lb, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(443), "https"))

	bastion, err := topology.DefineSecurityPolicy(b, webapp.BastionPolicy, network, "Allow access to bastion server", true)
	require.NoError(t, err)
	require.NoError(t, topology.AddIngressRule(b, bastion, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(22), "ssh"))

	web, err := topology.DefineSecurityPolicy(b, webapp.WebServerPolicy, network, "Allow access to web server", true)
	require.NoError(t, err)
	require.NoError(t, topology.AddIngressRule(b, web, topology.PolicySource(bastion), topology.ProtocolTCP, topology.Port(22), "ssh"))
	require.NoError(t, topology.AddIngressRule(b, web, topology.PolicySource(lb), topology.ProtocolTCP, topology.Port(80), "http"))
	require.NoError(t, topology.AddIngressRule(b, web, topology.PolicySource(lb), topology.ProtocolTCP, topology.Port(443), "https"))

	if extra != nil {
		extra(b, web)
	}

	topo, err := b.Finalize()
	require.NoError(t, err)
	return topo
}

func TestAuditReferencePoliciesClean(t *testing.T) {
	topo := policies(t, nil)
	violations := policy.NewAuditor(nil).Audit(topo, webapp.DefaultSettings().Expectations())
	assert.Empty(t, violations)
}

func TestAuditDetectsSSHFromInternetOnWebServer(t *testing.T) {
	topo := policies(t, func(b *topology.TopologyBuilder, web *topology.SecurityPolicy) {
		require.NoError(t, topology.AddIngressRule(b, web, topology.AnyIPv4(), topology.ProtocolTCP, topology.Port(22), "ssh from anywhere"))
	})

	violations := policy.NewAuditor(nil).Audit(topo, webapp.DefaultSettings().Expectations())
	require.Len(t, violations, 2)

	checks := map[string]policy.Violation{}
	for _, v := range violations {
		assert.Equal(t, webapp.WebServerPolicy, v.Policy)
		assert.Equal(t, policy.SeverityHigh, v.Severity)
		checks[v.Check] = v
	}
	require.Contains(t, checks, "expectation")
	require.Contains(t, checks, "admin-exposure")
	assert.Contains(t, checks["expectation"].Message, "unexpected source 0.0.0.0/0")
	assert.Equal(t, "tcp 22 from 0.0.0.0/0", checks["admin-exposure"].Rule)
}

func TestAuditAllProtocolRuleCoversPort(t *testing.T) {
	topo := policies(t, func(b *topology.TopologyBuilder, web *topology.SecurityPolicy) {
		require.NoError(t, topology.AddIngressRule(b, web, topology.CIDRSource("10.0.0.0/8"), topology.ProtocolAll, topology.Ports(0, 65535), "everything internal"))
	})

	violations := policy.NewAuditor(nil).Audit(topo, webapp.DefaultSettings().Expectations())

	// one unexpected source per expectation on the web server policy
	assert.Len(t, violations, 3)
	for _, v := range violations {
		assert.Equal(t, "expectation", v.Check)
		assert.Contains(t, v.Message, "10.0.0.0/8")
	}
}

func TestAuditMissingSourceAndUnknownPolicy(t *testing.T) {
	topo := policies(t, nil)
	intent := &policy.Intent{
		Expectations: []policy.Expectation{
			{Policy: webapp.WebServerPolicy, Protocol: topology.ProtocolTCP, Port: 8080, Sources: []string{"policy:LoadBalancer"}},
			{Policy: "Database", Protocol: topology.ProtocolTCP, Port: 5432, Sources: []string{"policy:WebServer"}},
		},
		AllowPublicAdmin: []string{webapp.BastionPolicy},
	}

	violations := policy.NewAuditor(nil).Audit(topo, intent)
	require.Len(t, violations, 2)

	assert.Equal(t, "Database", violations[0].Policy)
	assert.Contains(t, violations[0].Message, "not declared")
	assert.Equal(t, webapp.WebServerPolicy, violations[1].Policy)
	assert.Contains(t, violations[1].Message, "does not admit expected source policy:LoadBalancer")
	assert.Equal(t, policy.SeverityMedium, violations[1].Severity)
}

func TestAdminExposureWithoutExemption(t *testing.T) {
	topo := policies(t, nil)
	violations := policy.NewAuditor(nil).Audit(topo, &policy.Intent{})

	require.Len(t, violations, 1)
	assert.Equal(t, webapp.BastionPolicy, violations[0].Policy)
	assert.Equal(t, "admin-exposure", violations[0].Check)
}

func TestRestrictedBastionExpectations(t *testing.T) {
	settings := webapp.DefaultSettings()
	settings.BastionSSHCIDR = "198.51.100.0/24"

	intent := settings.Expectations()
	assert.Empty(t, intent.AllowPublicAdmin)

	var bastion policy.Expectation
	for _, e := range intent.Expectations {
		if e.Policy == webapp.BastionPolicy {
			bastion = e
		}
	}
	assert.Equal(t, []string{"198.51.100.0/24"}, bastion.Sources)
}

func TestIntentFromConfig(t *testing.T) {
	intent, err := policy.IntentFromConfig(&config.AccessPolicyConfig{
		Expectations: []config.ExpectationConfig{
			{Policy: "LoadBalancer", Port: 80, Sources: []string{"any"}},
			{Policy: "WebServer", Protocol: "TCP", Port: 22, Sources: []string{"policy: Bastion"}},
		},
		AdminPorts:       []int{22, 3389},
		AllowPublicAdmin: []string{"Bastion"},
	})
	require.NoError(t, err)

	require.Len(t, intent.Expectations, 2)
	assert.Equal(t, topology.ProtocolTCP, intent.Expectations[0].Protocol)
	assert.Equal(t, []string{topology.AnyIPv4CIDR}, intent.Expectations[0].Sources)
	assert.Equal(t, []string{"policy:Bastion"}, intent.Expectations[1].Sources)
	assert.Equal(t, []int{22, 3389}, intent.AdminPorts)

	tests := []struct {
		name string
		exp  config.ExpectationConfig
	}{
		{"missing policy", config.ExpectationConfig{Port: 80}},
		{"bad port", config.ExpectationConfig{Policy: "p", Port: 70000}},
		{"bad protocol", config.ExpectationConfig{Policy: "p", Port: 80, Protocol: "sctp"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := policy.IntentFromConfig(&config.AccessPolicyConfig{Expectations: []config.ExpectationConfig{tt.exp}})
			assert.Error(t, err)
		})
	}
}
