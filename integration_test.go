package integration

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/snippetbox/config"
	"github.com/isdmx/snippetbox/logger"
	"github.com/isdmx/snippetbox/mcpserver"
	"github.com/isdmx/snippetbox/policy"
	"github.com/isdmx/snippetbox/sandbox"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: config.SandboxConfig{
			TimeoutSec:    5,
			MaxTimeoutSec: 10,
			GracePeriodMS: 200,
			MaxOutputKB:   64,
		},
		Logging: config.LoggingConfig{
			Mode:  "development",
			Level: "debug",
		},
	}
}

// TestIntegrationConfigLoggerSandbox tests the integration between config, logger, policy and sandbox packages
func TestIntegrationConfigLoggerSandbox(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := testConfig()

		testLogger, err := logger.NewFromConfig(cfg)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("Integration test started")
		_ = testLogger.Sync()
	})

	t.Run("ConfigPolicySandboxFactoryIntegration", func(t *testing.T) {
		cfg := testConfig()

		pol, err := policy.NewFromConfig(cfg)
		require.NoError(t, err)

		executor, err := sandbox.NewFromConfig(zaptest.NewLogger(t), cfg, pol)
		require.NoError(t, err)
		require.NotNil(t, executor)
		assert.Same(t, pol, executor.Policy())
	})

	t.Run("WorkerPathFromConfig", func(t *testing.T) {
		cfg := testConfig()
		cfg.Sandbox.WorkerPath = "/nonexistent/snippetbox"

		pol, err := policy.NewFromConfig(cfg)
		require.NoError(t, err)

		executor, err := sandbox.NewFromConfig(zaptest.NewLogger(t), cfg, pol)
		require.NoError(t, err)

		result := executor.Run(context.Background(), "print(1)", 0)
		assert.False(t, result.Success)
		assert.Equal(t, sandbox.ErrorKindHostDispatch, result.ErrorKind)
	})
}

// TestIntegrationMCP drives the MCP tools through the real executor. Only
// rejected snippets are used so that no worker process is needed.
func TestIntegrationMCP(t *testing.T) {
	cfg := testConfig()
	testLogger := zaptest.NewLogger(t)

	pol, err := policy.NewFromConfig(cfg)
	require.NoError(t, err)

	executor, err := sandbox.NewFromConfig(testLogger, cfg, pol)
	require.NoError(t, err)

	server, err := mcpserver.New(cfg, testLogger, executor)
	require.NoError(t, err)
	mcpServer := server.GetMCPServer()
	require.NotNil(t, mcpServer)

	tools := mcpServer.ListTools()
	require.Contains(t, tools, "execute_code")
	require.Contains(t, tools, "get_execution_stats")

	call := func(name string, args map[string]any) string {
		t.Helper()
		result, err := tools[name].Handler(context.Background(), mcp.CallToolRequest{
			Params: mcp.CallToolParams{Name: name, Arguments: args},
		})
		require.NoError(t, err)
		require.Len(t, result.Content, 1)
		text, ok := result.Content[0].(mcp.TextContent)
		require.True(t, ok)
		return text.Text
	}

	var result sandbox.ExecutionResult
	require.NoError(t, json.Unmarshal([]byte(call("execute_code", map[string]any{"code": "import os"})), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Module 'os' is not whitelisted")

	var stats sandbox.ExecutionStats
	require.NoError(t, json.Unmarshal([]byte(call("get_execution_stats", map[string]any{})), &stats))
	assert.Equal(t, sandbox.ExecutionStats{Total: 1, Succeeded: 0, Failed: 1}, stats)
}
