package topology

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type twoTier struct {
	b             *TopologyBuilder
	network       *Network
	lbPolicy      *SecurityPolicy
	bastionPolicy *SecurityPolicy
	webPolicy     *SecurityPolicy
	web           *ComputeInstance
	bastion       *ComputeInstance
	lb            *LoadBalancer
	httpGroup     *TargetGroup
	httpsGroup    *TargetGroup
	httpListener  *Listener
	httpsListener *Listener
}

// newTwoTier declares the reference web deployment without finalizing it.
func newTwoTier(t *testing.T) *twoTier {
	t.Helper()
	f := &twoTier{b: NewTopologyBuilder("WebApplication", nil)}
	var err error

	f.network, err = DefineNetwork(f.b, "WebApplicationVPC", "10.0.0.0/16", 3, PublicTier(24), PrivateTier(24))
	require.NoError(t, err)

	f.lbPolicy, err = DefineSecurityPolicy(f.b, "LoadBalancer", f.network, "Allow access to load balancer", true)
	require.NoError(t, err)
	require.NoError(t, AddIngressRule(f.b, f.lbPolicy, AnyIPv4(), ProtocolTCP, Port(80), "Allow access to http"))
	require.NoError(t, AddIngressRule(f.b, f.lbPolicy, AnyIPv4(), ProtocolTCP, Port(443), "Allow access to https"))

	f.bastionPolicy, err = DefineSecurityPolicy(f.b, "Bastion", f.network, "Allow access to bastion server", true)
	require.NoError(t, err)
	require.NoError(t, AddIngressRule(f.b, f.bastionPolicy, AnyIPv4(), ProtocolTCP, Port(22), "Allow access to ssh"))

	f.webPolicy, err = DefineSecurityPolicy(f.b, "WebServer", f.network, "Allow access to web server", true)
	require.NoError(t, err)
	require.NoError(t, AddIngressRule(f.b, f.webPolicy, PolicySource(f.bastionPolicy), ProtocolTCP, Port(22), "Allow ssh from bastion"))
	require.NoError(t, AddIngressRule(f.b, f.webPolicy, PolicySource(f.lbPolicy), ProtocolTCP, Port(80), "Allow http from load balancer"))
	require.NoError(t, AddIngressRule(f.b, f.webPolicy, PolicySource(f.lbPolicy), ProtocolTCP, Port(443), "Allow https from load balancer"))

	f.web, err = DefineInstance(f.b, InstanceSpec{
		Name:       "WebServer",
		Network:    f.network,
		Tier:       TierPrivateWithEgress,
		SizeClass:  "t2.small",
		Image:      "ami-amazon-linux-2",
		Policy:     f.webPolicy,
		Bootstrap:  []byte("#!/bin/bash\nyum install -y nginx\n"),
		Credential: "web-key",
	})
	require.NoError(t, err)

	_, err = Publish(f.b, "/Instance/WebServer", f.web.PrivateAddress())
	require.NoError(t, err)

	f.bastion, err = DefineInstance(f.b, InstanceSpec{
		Name:       "Bastion",
		Network:    f.network,
		Tier:       TierPublic,
		SizeClass:  "t2.micro",
		Image:      "ami-amazon-linux-2",
		Policy:     f.bastionPolicy,
		Credential: "bastion-key",
	})
	require.NoError(t, err)

	f.lb, err = DefineLoadBalancer(f.b, "LoadBalancer", f.network, true, f.lbPolicy, TierPublic)
	require.NoError(t, err)

	health := HealthCheck{Path: "/health_check", Matcher: "200"}
	f.httpGroup, err = DefineTargetGroup(f.b, "HttpTargetGroup", f.network, ProtocolHTTP, 80, health)
	require.NoError(t, err)
	require.NoError(t, AddTarget(f.b, f.httpGroup, f.web, 80))

	f.httpsGroup, err = DefineTargetGroup(f.b, "HttpsTargetGroup", f.network, ProtocolHTTPS, 443, health)
	require.NoError(t, err)
	require.NoError(t, AddTarget(f.b, f.httpsGroup, f.web, 443))

	f.httpListener, err = AddListener(f.b, f.lb, "HttpListener", 80, "")
	require.NoError(t, err)
	require.NoError(t, AttachTargetGroups(f.b, f.httpListener, f.httpGroup))

	f.httpsListener, err = AddListener(f.b, f.lb, "HttpsListener", 443, "arn:aws:acm:us-west-2:123456789012:certificate/abc")
	require.NoError(t, err)
	require.NoError(t, AttachTargetGroups(f.b, f.httpsListener, f.httpsGroup))

	return f
}

func (f *twoTier) finalize(t *testing.T) *Topology {
	t.Helper()
	topo, err := f.b.Finalize()
	require.NoError(t, err)
	return topo
}

func positions(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	return pos
}
