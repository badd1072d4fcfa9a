package mcp

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/versus-control/web-topology/internal/logging"
)

// ToolFunc executes a tool with already decoded arguments
type ToolFunc func(ctx context.Context, arguments map[string]interface{}) (*mcp.CallToolResult, error)

type registeredTool struct {
	tool    mcp.Tool
	execute ToolFunc
}

// ToolManager is the registry between tool definitions and the MCP server
type ToolManager struct {
	logger *logging.Logger
	mutex  sync.RWMutex
	tools  map[string]registeredTool
}

// NewToolManager creates an empty tool manager
func NewToolManager(logger *logging.Logger) *ToolManager {
	return &ToolManager{
		logger: logger,
		tools:  make(map[string]registeredTool),
	}
}

// Register adds a tool; names are unique
func (tm *ToolManager) Register(tool mcp.Tool, execute ToolFunc) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if _, exists := tm.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s is already registered", tool.Name)
	}
	tm.tools[tool.Name] = registeredTool{tool: tool, execute: execute}
	return nil
}

// ExecuteTool executes a tool by name with the given arguments
func (tm *ToolManager) ExecuteTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	tm.mutex.RLock()
	registered, exists := tm.tools[name]
	tm.mutex.RUnlock()

	if !exists {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				mcp.NewTextContent(fmt.Sprintf("Tool '%s' not found", name)),
			},
		}, nil
	}

	tm.logger.LogMCPCallTool(name, arguments)
	return registered.execute(ctx, arguments)
}

// ListAvailableTools returns the registered tools sorted by name
func (tm *ToolManager) ListAvailableTools() []mcp.Tool {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()

	tools := make([]mcp.Tool, 0, len(tm.tools))
	for _, registered := range tm.tools {
		tools = append(tools, registered.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}
