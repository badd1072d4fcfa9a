package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/types"
)

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	content := `
stack:
  web_ssh_key_name: web-key
  bastion_ssh_key_name: bastion-key
  certificate_arn: arn:aws:acm:us-west-2:123456789012:certificate/abc
  bootstrap_script: setup-server.sh
state:
  file_path: ` + filepath.Join(dir, "topology.state") + `
logging:
  level: error
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup-server.sh"), []byte("#!/bin/bash\n"), 0644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestPlanCommand(t *testing.T) {
	configPath := writeConfig(t, "")

	out, err := run(t, "plan", "--config", configPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 13)
	assert.Contains(t, lines[0], "network:WebApplicationVPC")

	out, err = run(t, "plan", "--config", configPath, "-f", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "topology: WebApplication")

	_, err = run(t, "plan", "--config", configPath, "-f", "xml")
	assert.Error(t, err)
}

func TestPlanCommandRejectsMissingCertificate(t *testing.T) {
	configPath := writeConfig(t, "")
	t.Setenv("CERTIFICATE_ARN", "")
	content, err := os.ReadFile(configPath)
	require.NoError(t, err)
	stripped := strings.Replace(string(content), "  certificate_arn: arn:aws:acm:us-west-2:123456789012:certificate/abc\n", "", 1)
	require.NoError(t, os.WriteFile(configPath, []byte(stripped), 0644))

	_, err = run(t, "plan", "--config", configPath)
	assert.ErrorContains(t, err, "certificate")
}

func TestGraphCommand(t *testing.T) {
	configPath := writeConfig(t, "")

	out, err := run(t, "graph", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "digraph")

	out, err = run(t, "graph", "--config", configPath, "-f", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Steps: 13")
	assert.Contains(t, out, "CRITICAL STEPS:")

	_, err = run(t, "graph", "--config", configPath, "-f", "png")
	assert.Error(t, err)
}

func TestAuditCommand(t *testing.T) {
	configPath := writeConfig(t, "")

	out, err := run(t, "audit", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "match the expected access")

	// Expecting the bastion to be reachable only from a management range
	policyPath := filepath.Join(filepath.Dir(configPath), "access-policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte(`
expectations:
  - policy: Bastion
    port: 22
    sources: ["198.51.100.0/24"]
admin_ports: [22]
`), 0644))
	configPath = writeConfig(t, "policy:\n  expectations_file: "+policyPath+"\n")

	out, err = run(t, "audit", "--config", configPath)
	assert.Error(t, err)
	assert.Contains(t, out, "Bastion")
}

func TestDryRunApplyAndParameters(t *testing.T) {
	configPath := writeConfig(t, "")

	out, err := run(t, "apply", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "WebApplication: 13 steps completed")
	assert.Contains(t, out, "parameter:/Instance/WebServer")

	out, err = run(t, "parameters", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "/Instance/WebServer\t<pending instance:WebServer>")

	_, err = run(t, "parameters", "--config", configPath, "/Instance/WebServer")
	assert.ErrorContains(t, err, "not been applied")

	_, err = run(t, "parameters", "--config", configPath, "/Instance/Missing")
	assert.ErrorContains(t, err, "not published")
}

func TestForgetCommand(t *testing.T) {
	configPath := writeConfig(t, "")
	stateFile := filepath.Join(filepath.Dir(configPath), "topology.state")
	ctx := context.Background()

	recorded := state.NewManager(stateFile, "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, recorded.LoadState(ctx))
	require.NoError(t, recorded.Bind(ctx, "WebApplication", "fp"))
	require.NoError(t, recorded.RecordRealized(ctx, &types.RealizedResource{
		StepID:     "network:WebApplicationVPC",
		Kind:       "network",
		Name:       "WebApplicationVPC",
		ProviderID: "vpc-123",
	}, "sum", nil))
	require.NoError(t, recorded.RecordRealized(ctx, &types.RealizedResource{
		StepID:     "security-policy:Bastion",
		Kind:       "security-policy",
		Name:       "Bastion",
		ProviderID: "sg-123",
	}, "sum", []string{"network:WebApplicationVPC"}))

	out, err := run(t, "forget", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "forgot: security-policy:Bastion\nforgot: network:WebApplicationVPC\n")
	assert.Contains(t, out, "WebApplication: 2 recorded steps forgotten")

	reloaded := state.NewManager(stateFile, "us-west-2", logging.NewDiscardLogger())
	require.NoError(t, reloaded.LoadState(ctx))
	assert.Empty(t, reloaded.ListResources(""))
}
