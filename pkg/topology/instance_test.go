package topology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefineInstanceValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(spec *InstanceSpec)
		field  string
	}{
		{name: "missing tier", mutate: func(s *InstanceSpec) { s.Tier = TierKind("isolated") }, field: "tier"},
		{name: "empty credential", mutate: func(s *InstanceSpec) { s.Credential = "" }, field: "credential"},
		{name: "empty image", mutate: func(s *InstanceSpec) { s.Image = "" }, field: "image"},
		{name: "empty size", mutate: func(s *InstanceSpec) { s.SizeClass = "" }, field: "sizeClass"},
		{name: "no policy", mutate: func(s *InstanceSpec) { s.Policy = nil }, field: "policy"},
		{name: "no network", mutate: func(s *InstanceSpec) { s.Network = nil }, field: "network"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, network := newPolicyBuilder(t)
			policy, err := DefineSecurityPolicy(b, "web", network, "web", true)
			require.NoError(t, err)

			spec := InstanceSpec{
				Name: "web", Network: network, Tier: TierPrivateWithEgress,
				SizeClass: "t2.small", Image: "ami-1", Policy: policy, Credential: "key",
			}
			tt.mutate(&spec)

			_, err = DefineInstance(b, spec)
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestInstanceMissingTierOnNetwork(t *testing.T) {
	b := NewTopologyBuilder("test", nil)
	network, err := DefineNetwork(b, "vpc", "10.0.0.0/16", 1, PublicTier(24))
	require.NoError(t, err)
	policy, err := DefineSecurityPolicy(b, "web", network, "web", true)
	require.NoError(t, err)

	_, err = DefineInstance(b, InstanceSpec{
		Name: "web", Network: network, Tier: TierPrivateWithEgress,
		SizeClass: "t2.small", Image: "ami-1", Policy: policy, Credential: "key",
	})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "tier", cfgErr.Field)
	assert.False(t, policy.Frozen())
}

func TestInstancePlacementAndAddressing(t *testing.T) {
	f := newTwoTier(t)

	assert.False(t, f.web.AssignPublicAddress())
	assert.True(t, f.bastion.AssignPublicAddress())
	assert.Equal(t, "PrivateSubnet1", f.web.Subnet().Name)
	assert.Equal(t, "PublicSubnet1", f.bastion.Subnet().Name)

	_, resolved := f.web.PrivateAddress().Get()
	assert.False(t, resolved)
	assert.Equal(t, "instance:WebServer", f.web.PrivateAddress().Source())
}

func TestDeferredResolvesOnce(t *testing.T) {
	d := NewDeferred[string]("instance:web")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := d.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, d.Resolve("ip-10-0-3-12.ec2.internal"))
	assert.ErrorIs(t, d.Resolve("other"), ErrAlreadyResolved)

	value, ok := d.Get()
	assert.True(t, ok)
	assert.Equal(t, "ip-10-0-3-12.ec2.internal", value)

	value, err = d.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ip-10-0-3-12.ec2.internal", value)
}

func TestDeferredWaitUnblocksOnResolve(t *testing.T) {
	d := NewDeferred[string]("instance:web")
	got := make(chan string, 1)

	go func() {
		value, _ := d.Wait(context.Background())
		got <- value
	}()

	require.NoError(t, d.Resolve("10.0.3.12"))
	select {
	case value := <-got:
		assert.Equal(t, "10.0.3.12", value)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Resolve")
	}
}

func TestResolvedLiteralHasNoSource(t *testing.T) {
	d := Resolved("static")
	assert.Empty(t, d.Source())
	assert.True(t, d.IsResolved())
}
