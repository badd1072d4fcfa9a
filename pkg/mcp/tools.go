package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/graph"
	"github.com/versus-control/web-topology/pkg/topology"
)

// Available Tools:
//   - plan-topology              : Ordered provisioning plan (json or yaml)
//   - visualize-dependency-graph : Dependency graph as dot, mermaid or text
//   - audit-access-policy        : Compare security policies with the expected access
//   - list-parameters            : Every published parameter and whether it resolved
//   - get-parameter              : One parameter by key
//   - dry-run-apply              : Apply the plan against the simulated provider
//   - get-topology-state         : Steps recorded by earlier applies
func (s *Server) registerTools() {
	s.registerTool(mcp.NewTool("plan-topology",
		mcp.WithDescription("Build the topology and return its provisioning plan in dependency order"),
		mcp.WithString("format", mcp.Description("Output format: json (default) or yaml")),
	), s.planTopology)

	s.registerTool(mcp.NewTool("visualize-dependency-graph",
		mcp.WithDescription("Render the dependency graph of the topology"),
		mcp.WithString("format", mcp.Description("Output format: dot (default), mermaid or text")),
	), s.visualizeDependencyGraph)

	s.registerTool(mcp.NewTool("audit-access-policy",
		mcp.WithDescription("Audit the security policies against the expected least-privilege access"),
	), s.auditAccessPolicy)

	s.registerTool(mcp.NewTool("list-parameters",
		mcp.WithDescription("List published parameters, restored from the last apply when available"),
	), s.listParameters)

	s.registerTool(mcp.NewTool("get-parameter",
		mcp.WithDescription("Look up a published parameter by key"),
		mcp.WithString("key", mcp.Required(), mcp.Description("Parameter key, e.g. /Instance/WebServer")),
	), s.getParameter)

	s.registerTool(mcp.NewTool("dry-run-apply",
		mcp.WithDescription("Apply the plan against a simulated provider and report every step"),
	), s.dryRunApply)

	s.registerTool(mcp.NewTool("get-topology-state",
		mcp.WithDescription("Return the recorded state of realized steps"),
	), s.getTopologyState)
}

func (s *Server) planTopology(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	topo, err := s.build()
	if err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to build topology: %s", err.Error()))
	}
	plan := topo.Plan()

	format, _ := arguments["format"].(string)
	switch format {
	case "", "json":
		return s.createSuccessResponse("Provisioning plan built", map[string]interface{}{
			"plan": plan,
		})
	case "yaml":
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(plan); err != nil {
			return s.createErrorResponse(fmt.Sprintf("Failed to encode plan: %s", err.Error()))
		}
		if err := encoder.Close(); err != nil {
			return s.createErrorResponse(fmt.Sprintf("Failed to encode plan: %s", err.Error()))
		}
		return mcp.NewToolResultText(buf.String()), nil
	}
	return s.createErrorResponse(fmt.Sprintf("Unsupported plan format %q (expected json or yaml)", format))
}

func (s *Server) visualizeDependencyGraph(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	name, _ := arguments["format"].(string)
	format, err := graph.ParseFormat(name)
	if err != nil {
		return s.createErrorResponse(err.Error())
	}

	topo, err := s.build()
	if err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to build topology: %s", err.Error()))
	}

	var buf bytes.Buffer
	if err := topo.Render(&buf, format); err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to render graph: %s", err.Error()))
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) auditAccessPolicy(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if s.Intent == nil {
		return s.createErrorResponse("No access policy expectations configured")
	}

	topo, err := s.build()
	if err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to build topology: %s", err.Error()))
	}

	violations := s.Auditor.Audit(topo, s.Intent)
	message := "Security policies match the expected access"
	if len(violations) > 0 {
		message = fmt.Sprintf("Found %d access policy violations", len(violations))
	}
	return s.createSuccessResponse(message, map[string]interface{}{
		"clean":      len(violations) == 0,
		"violations": violations,
	})
}

func (s *Server) listParameters(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	topo, err := s.restoredTopology(ctx)
	if err != nil {
		return s.createErrorResponse(err.Error())
	}
	return s.createSuccessResponse("Parameters listed", map[string]interface{}{
		"parameters": topo.Parameters().Entries(),
	})
}

func (s *Server) getParameter(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	key, _ := arguments["key"].(string)
	if key == "" {
		return s.createErrorResponse("key is required")
	}

	topo, err := s.restoredTopology(ctx)
	if err != nil {
		return s.createErrorResponse(err.Error())
	}

	entry, ok := topo.Parameters().Entry(key)
	if !ok {
		return s.createErrorResponse(fmt.Sprintf("Parameter %s is not published by the topology", key))
	}

	value, resolved := topo.Parameters().Lookup(key)
	if !resolved {
		return s.createSuccessResponse(fmt.Sprintf("Parameter %s has not been resolved yet", key), map[string]interface{}{
			"key":      key,
			"resolved": false,
			"source":   entry.Value().Source(),
		})
	}
	return s.createSuccessResponse(fmt.Sprintf("Parameter %s resolved", key), map[string]interface{}{
		"key":      key,
		"value":    value,
		"resolved": true,
	})
}

func (s *Server) dryRunApply(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	topo, err := s.build()
	if err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to build topology: %s", err.Error()))
	}

	execution, err := s.Executor.DryRun(ctx, topo, nil)
	if execution == nil {
		return s.createErrorResponse(fmt.Sprintf("Dry run could not start: %s", err.Error()))
	}

	data := map[string]interface{}{
		"execution":  execution,
		"parameters": topo.Parameters().Entries(),
	}
	if err != nil {
		data["error"] = err.Error()
		var provisioningErr *apply.ProvisioningError
		if errors.As(err, &provisioningErr) {
			data["failed"] = provisioningErr.Failed
			data["skipped"] = provisioningErr.Skipped
		}
		return s.createSuccessResponse("Dry run finished with failures", data)
	}
	return s.createSuccessResponse(fmt.Sprintf("Dry run completed %d steps", len(execution.Steps)), data)
}

func (s *Server) getTopologyState(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	if err := s.StateManager.LoadState(ctx); err != nil {
		return s.createErrorResponse(fmt.Sprintf("Failed to load state: %s", err.Error()))
	}
	return s.createSuccessResponse("Topology state loaded", map[string]interface{}{
		"state":    s.StateManager.GetState(),
		"checksum": s.StateManager.Checksum(),
	})
}

// restoredTopology builds a topology whose deferred values are resolved
// from the latest recorded state
func (s *Server) restoredTopology(ctx context.Context) (*topology.Topology, error) {
	if err := s.StateManager.LoadState(ctx); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	topo, err := s.build()
	if err != nil {
		return nil, fmt.Errorf("failed to build topology: %w", err)
	}
	restored := s.Executor.Restore(topo)
	s.Logger.WithField("restored_steps", restored).Debug("Topology restored from state")
	return topo, nil
}

// createErrorResponse creates a standardized error response for tool actions
func (s *Server) createErrorResponse(message string) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     message,
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}

	jsonData, _ := json.MarshalIndent(errorData, "", "  ")

	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{
				Type: "text",
				Text: string(jsonData),
			},
		},
	}, nil
}

// createSuccessResponse creates a standardized success response for tool actions
func (s *Server) createSuccessResponse(message string, data map[string]interface{}) (*mcp.CallToolResult, error) {
	responseData := map[string]interface{}{
		"success":   true,
		"message":   message,
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05Z"),
	}

	for key, value := range data {
		responseData[key] = value
	}

	jsonData, _ := json.MarshalIndent(responseData, "", "  ")

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{
				Type: "text",
				Text: string(jsonData),
			},
		},
	}, nil
}
