package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/snippetbox/config"
	"github.com/isdmx/snippetbox/sandbox"
)

const (
	toolExecuteCode = "execute_code"
	toolStats       = "get_execution_stats"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.SnippetExecutor
	mcpServer *server.MCPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.SnippetExecutor) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.metrics_port", s.config.Server.MetricsPort),
		zap.Int("sandbox.timeout_sec", s.config.Sandbox.TimeoutSec),
		zap.Int("sandbox.max_timeout_sec", s.config.Sandbox.MaxTimeoutSec),
		zap.Int("sandbox.grace_period_ms", s.config.Sandbox.GracePeriodMS),
		zap.Int("sandbox.max_concurrent", s.config.Sandbox.MaxConcurrent),
		zap.Int("sandbox.max_output_kb", s.config.Sandbox.MaxOutputKB),
		zap.Uint64("sandbox.max_steps", s.config.Sandbox.MaxSteps),
		zap.Int("sandbox.memory_mb", s.config.Sandbox.MemoryMB),
		zap.Bool("sandbox.collect_all_findings", s.config.Sandbox.CollectAllFindings),
		zap.String("policy.file", s.config.Policy.File),
	)

	s.mcpServer = server.NewMCPServer("snippetbox", "A sandboxed snippet execution server")

	s.registerExecuteCodeTool()
	s.registerStatsTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        toolExecuteCode,
		Description: "Execute a Python-like snippet in an isolated worker process and return its printed output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Snippet source code",
				},
				"timeout": map[string]any{
					"type":        "number",
					"description": "Timeout in seconds (optional, defaults to the server setting)",
					"minimum":     1,
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerStatsTool() {
	tool := mcp.Tool{
		Name:        toolStats,
		Description: "Return execution counters: total, succeeded and failed",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}

	s.mcpServer.AddTool(tool, s.handleStats)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	timeout := request.GetInt("timeout", 0)
	if timeout < 0 {
		return nil, fmt.Errorf("invalid timeout: %d, must be positive", timeout)
	}

	s.logger.Info("code execution requested",
		zap.Int("code_len", len(code)),
		zap.Int("timeout_sec", timeout))

	result := s.executor.Execute(ctx, sandbox.ExecuteRequest{
		Code:       code,
		TimeoutSec: timeout,
	})

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(resultJSON),
			},
		},
		IsError: !result.Success,
	}, nil
}

// handleStats handles the get_execution_stats tool
func (s *MCPServer) handleStats(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	statsJSON, err := json.Marshal(s.executor.Stats())
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution stats: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(statsJSON),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// Serve starts the transport named by server.transport
func (s *MCPServer) Serve() error {
	if s.config.Server.Transport == "http" {
		return s.ServeHTTP()
	}
	return s.ServeStdio()
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
