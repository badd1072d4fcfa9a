package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/versus-control/web-topology/internal/config"
	"github.com/versus-control/web-topology/internal/logging"
	"github.com/versus-control/web-topology/pkg/apply"
	"github.com/versus-control/web-topology/pkg/policy"
	"github.com/versus-control/web-topology/pkg/state"
	"github.com/versus-control/web-topology/pkg/topology"
)

// TopologyFactory builds a fresh topology on every call
type TopologyFactory func() (*topology.Topology, error)

type Server struct {
	mcpServer *server.MCPServer

	Config       *config.Config
	Logger       *logging.Logger
	StateManager *state.Manager
	Executor     *apply.Executor
	Auditor      *policy.Auditor
	Intent       *policy.Intent
	ToolManager  *ToolManager

	build TopologyFactory
}

// NewServer exposes the topology read-side and dry runs over MCP. Real
// applies stay with the command line.
func NewServer(cfg *config.Config, build TopologyFactory, intent *policy.Intent, logger *logging.Logger) *Server {
	stateManager := state.NewManager(cfg.GetStateFilePath(), cfg.AWS.Region, logger)

	mcpServer := server.NewMCPServer(
		cfg.MCP.ServerName,
		cfg.MCP.Version,
		server.WithResourceCapabilities(true, true),
		server.WithToolCapabilities(true),
	)

	s := &Server{
		mcpServer: mcpServer,

		Config:       cfg,
		Logger:       logger,
		StateManager: stateManager,
		Executor:     apply.NewExecutor(stateManager, cfg.Apply.Concurrency, logger),
		Auditor:      policy.NewAuditor(logger),
		Intent:       intent,
		ToolManager:  NewToolManager(logger),

		build: build,
	}

	s.registerResources()
	s.registerTools()

	// Load existing state from file
	if err := s.StateManager.LoadState(context.Background()); err != nil {
		logger.WithError(err).Error("Failed to load topology state, continuing with empty state")
	}

	return s
}

// registerTool records the tool with the manager and the MCP server
func (s *Server) registerTool(tool mcp.Tool, execute ToolFunc) {
	if err := s.ToolManager.Register(tool, execute); err != nil {
		s.Logger.WithError(err).WithField("toolName", tool.Name).Error("Failed to register tool")
		return
	}

	name := tool.Name
	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		arguments, ok := request.Params.Arguments.(map[string]interface{})
		if !ok && request.Params.Arguments != nil {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{
					mcp.NewTextContent("Invalid arguments format"),
				},
			}, nil
		}
		return s.ToolManager.ExecuteTool(ctx, name, arguments)
	})

	s.Logger.WithField("toolName", name).Debug("Registered tool")
}

// HandleMessage processes a single JSON-RPC message
func (s *Server) HandleMessage(ctx context.Context, message []byte) mcp.JSONRPCMessage {
	return s.mcpServer.HandleMessage(ctx, message)
}

// Start begins the stdio message loop for the MCP server
func (s *Server) Start(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

// Serve reads one JSON-RPC message per line from in and writes responses to out
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.Logger.Info("Starting MCP server message loop on stdio...")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.Logger.Info("Shutdown signal received, stopping server")
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		response := s.mcpServer.HandleMessage(ctx, line)
		if response == nil {
			continue
		}

		responseBytes, err := json.Marshal(response)
		if err != nil {
			s.Logger.WithError(err).Error("Failed to marshal response")
			continue
		}
		out.Write(append(responseBytes, '\n'))
	}

	if err := scanner.Err(); err != nil {
		s.Logger.WithError(err).Error("Error reading from stdin")
		return err
	}
	return nil
}
