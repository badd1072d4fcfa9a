package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// registerResources exposes read-only views of the topology
func (s *Server) registerResources() {
	s.addJSONResource("topology://plan", "Provisioning Plan",
		"Steps of the topology in dependency order with their checksums",
		func(ctx context.Context) (interface{}, error) {
			topo, err := s.build()
			if err != nil {
				return nil, err
			}
			return topo.Plan(), nil
		})

	s.addJSONResource("topology://parameters", "Published Parameters",
		"Parameter store entries, resolved from the last recorded apply",
		func(ctx context.Context) (interface{}, error) {
			topo, err := s.restoredTopology(ctx)
			if err != nil {
				return nil, err
			}
			return topo.Parameters().Entries(), nil
		})

	s.addJSONResource("topology://state", "Topology State",
		"Realized steps recorded by earlier applies",
		func(ctx context.Context) (interface{}, error) {
			if err := s.StateManager.LoadState(ctx); err != nil {
				return nil, err
			}
			return s.StateManager.GetState(), nil
		})
}

func (s *Server) addJSONResource(uri, name, description string, read func(ctx context.Context) (interface{}, error)) {
	resource := mcp.NewResource(
		uri,
		name,
		mcp.WithResourceDescription(description),
		mcp.WithMIMEType("application/json"),
	)

	s.mcpServer.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		value, err := read(ctx)
		if err != nil {
			s.Logger.WithError(err).WithField("uri", uri).Error("Failed to read resource")
			return nil, fmt.Errorf("failed to read %s: %w", uri, err)
		}

		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
