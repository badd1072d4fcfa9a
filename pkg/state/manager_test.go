package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/types"
)

func handle(stepID, providerID string) *types.RealizedResource {
	return &types.RealizedResource{
		StepID:     stepID,
		Kind:       "network",
		Name:       "vpc",
		ProviderID: providerID,
		Outputs:    map[string]string{types.OutputVPCID: providerID},
		RealizedAt: time.Now(),
	}
}

func TestRealizedMatchesChecksum(t *testing.T) {
	ctx := context.Background()
	m := NewManager("", "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, m.Bind(ctx, "WebApplication", "fp"))

	require.NoError(t, m.RecordRealized(ctx, handle("network:vpc", "vpc-123"), "sum-1", nil))

	got, ok := m.Realized("network:vpc", "sum-1")
	require.True(t, ok)
	assert.Equal(t, "vpc-123", got.ProviderID)
	assert.Equal(t, "vpc-123", got.Output(types.OutputVPCID))

	_, ok = m.Realized("network:vpc", "sum-2")
	assert.False(t, ok, "a changed spec must be realized again")

	_, ok = m.Realized("network:other", "sum-1")
	assert.False(t, ok)
}

func TestStatePersistsAcrossManagers(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "topology.state")

	first := NewManager(path, "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, first.LoadState(ctx))
	require.NoError(t, first.Bind(ctx, "WebApplication", "fp"))
	require.NoError(t, first.RecordRealized(ctx, handle("network:vpc", "vpc-123"), "sum-1", nil))
	require.NoError(t, first.RecordRealized(ctx, handle("security-policy:web", "sg-9"), "sum-2", []string{"network:vpc"}))

	second := NewManager(path, "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, second.LoadState(ctx))

	_, ok := second.Realized("network:vpc", "sum-1")
	assert.True(t, ok)
	assert.Equal(t, []string{"network:vpc"}, second.GetDependencies("security-policy:web"))
	assert.Equal(t, first.Checksum(), second.Checksum())
	assert.Equal(t, "WebApplication", second.GetState().Topology)
}

func TestBindToAnotherTopologyResets(t *testing.T) {
	ctx := context.Background()
	m := NewManager("", "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, m.Bind(ctx, "first", "fp"))
	require.NoError(t, m.RecordRealized(ctx, handle("network:vpc", "vpc-1"), "sum", nil))

	require.NoError(t, m.Bind(ctx, "first", "fp2"))
	assert.Len(t, m.ListResources(""), 1)

	require.NoError(t, m.Bind(ctx, "second", "fp"))
	assert.Empty(t, m.ListResources(""))
}

func TestRemoveResource(t *testing.T) {
	ctx := context.Background()
	m := NewManager("", "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, m.RecordRealized(ctx, handle("network:vpc", "vpc-1"), "a", nil))
	require.NoError(t, m.RecordRealized(ctx, handle("security-policy:web", "sg-1"), "b", []string{"network:vpc"}))

	require.NoError(t, m.RemoveResource(ctx, "network:vpc"))
	assert.Empty(t, m.GetDependencies("security-policy:web"))
	assert.Error(t, m.RemoveResource(ctx, "network:vpc"))
}
