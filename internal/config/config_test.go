package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stack:\n  max_azs: 2\n"), 0644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Stack.MaxAZs)
	assert.Equal(t, "WebApplication", cfg.Stack.Name)
	assert.Equal(t, "10.0.0.0/16", cfg.Stack.VPCCIDR)
	assert.Equal(t, "/Instance/WebServer", cfg.Stack.ParameterKey)
	assert.Equal(t, "0.0.0.0/0", cfg.Policy.BastionSSHCIDR)
	assert.True(t, cfg.Policy.LoadBalancerAllowAllOutbound)
	assert.True(t, cfg.Apply.DryRun)
	assert.Equal(t, 4, cfg.Apply.Concurrency)
	assert.Equal(t, "localhost:8080", cfg.GetWebAddress())
}

func TestLoadFileEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stack:\n  web_ssh_key_name: from-file\n"), 0644))

	t.Setenv("WEB_SSH_KEY_NAME", "web-key")
	t.Setenv("BASTION_SSH_KEY_NAME", "bastion-key")
	t.Setenv("CERTIFICATE_ARN", "arn:aws:acm:eu-west-1:123456789012:certificate/abc")
	t.Setenv("AWS_REGION", "eu-west-1")
	t.Setenv("TOPOLOGY_APPLY_CONCURRENCY", "8")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "web-key", cfg.Stack.WebSSHKeyName)
	assert.Equal(t, "bastion-key", cfg.Stack.BastionSSHKeyName)
	assert.Equal(t, "arn:aws:acm:eu-west-1:123456789012:certificate/abc", cfg.Stack.CertificateARN)
	assert.Equal(t, "eu-west-1", cfg.AWS.Region)
	assert.Equal(t, 8, cfg.Apply.Concurrency)
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stack: [unterminated\n"), 0644))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestConfigLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup.sh"), []byte("#!/bin/bash\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "policy.yaml"), []byte("admin_ports: [22, 3389]\n"), 0644))
	loader := NewConfigLoader(dir)

	payload, err := loader.LoadBootstrapPayload("setup.sh")
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/bash\n", string(payload))

	payload, err = loader.LoadBootstrapPayload("")
	require.NoError(t, err)
	assert.Nil(t, payload)

	_, err = loader.LoadBootstrapPayload("missing.sh")
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.sh")

	accessPolicy, err := loader.LoadAccessPolicy("policy.yaml")
	require.NoError(t, err)
	assert.Equal(t, []int{22, 3389}, accessPolicy.AdminPorts)

	_, err = loader.LoadAccessPolicy("missing.yaml")
	assert.Error(t, err)
}
