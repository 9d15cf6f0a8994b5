package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/snippetbox/config"
	"github.com/isdmx/snippetbox/sandbox"
)

// MockSnippetExecutor implements sandbox.SnippetExecutor for testing
type MockSnippetExecutor struct {
	result   sandbox.ExecutionResult
	stats    sandbox.ExecutionStats
	requests []sandbox.ExecuteRequest
}

func (m *MockSnippetExecutor) Execute(_ context.Context, req sandbox.ExecuteRequest) sandbox.ExecutionResult {
	m.requests = append(m.requests, req)
	return m.result
}

func (m *MockSnippetExecutor) Stats() sandbox.ExecutionStats {
	return m.stats
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Sandbox: config.SandboxConfig{TimeoutSec: 30, MaxTimeoutSec: 300, GracePeriodMS: 1000, MaxOutputKB: 1024},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockSnippetExecutor{}

	server, err := New(cfg, logger, mockExecutor)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, mockExecutor, server.executor)
	assert.NotNil(t, server.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	logger := zaptest.NewLogger(t)

	t.Run("Success", func(t *testing.T) {
		mockExecutor := &MockSnippetExecutor{
			result: sandbox.ExecutionResult{Success: true, Output: "4\n"},
		}
		server, err := New(testConfig(), logger, mockExecutor)
		require.NoError(t, err)

		result, err := server.handleExecuteCode(context.Background(), callRequest(toolExecuteCode, map[string]any{
			"code":    "print(2 + 2)",
			"timeout": float64(5),
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var decoded sandbox.ExecutionResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &decoded))
		assert.True(t, decoded.Success)
		assert.Equal(t, "4\n", decoded.Output)
		assert.Empty(t, decoded.Error)

		require.Len(t, mockExecutor.requests, 1)
		assert.Equal(t, sandbox.ExecuteRequest{Code: "print(2 + 2)", TimeoutSec: 5}, mockExecutor.requests[0])
	})

	t.Run("DefaultTimeout", func(t *testing.T) {
		mockExecutor := &MockSnippetExecutor{result: sandbox.ExecutionResult{Success: true}}
		server, err := New(testConfig(), logger, mockExecutor)
		require.NoError(t, err)

		_, err = server.handleExecuteCode(context.Background(), callRequest(toolExecuteCode, map[string]any{
			"code": "print(1)",
		}))
		require.NoError(t, err)
		require.Len(t, mockExecutor.requests, 1)
		assert.Zero(t, mockExecutor.requests[0].TimeoutSec)
	})

	t.Run("FailedExecution", func(t *testing.T) {
		mockExecutor := &MockSnippetExecutor{
			result: sandbox.ExecutionResult{
				Error:     "Security: Module 'os' is not whitelisted. Allowed: math",
				ErrorKind: sandbox.ErrorKindSecurityRejected,
			},
		}
		server, err := New(testConfig(), logger, mockExecutor)
		require.NoError(t, err)

		result, err := server.handleExecuteCode(context.Background(), callRequest(toolExecuteCode, map[string]any{
			"code": "import os",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.JSONEq(t,
			`{"success":false,"output":"","error":"Security: Module 'os' is not whitelisted. Allowed: math","return_value":null,"error_kind":"security_rejected"}`,
			resultText(t, result))
	})

	t.Run("MissingCode", func(t *testing.T) {
		mockExecutor := &MockSnippetExecutor{}
		server, err := New(testConfig(), logger, mockExecutor)
		require.NoError(t, err)

		_, err = server.handleExecuteCode(context.Background(), callRequest(toolExecuteCode, map[string]any{}))
		require.Error(t, err)
		assert.Empty(t, mockExecutor.requests)
	})

	t.Run("NegativeTimeout", func(t *testing.T) {
		mockExecutor := &MockSnippetExecutor{}
		server, err := New(testConfig(), logger, mockExecutor)
		require.NoError(t, err)

		_, err = server.handleExecuteCode(context.Background(), callRequest(toolExecuteCode, map[string]any{
			"code":    "print(1)",
			"timeout": float64(-1),
		}))
		require.Error(t, err)
		assert.Empty(t, mockExecutor.requests)
	})
}

func TestHandleStats(t *testing.T) {
	mockExecutor := &MockSnippetExecutor{
		stats: sandbox.ExecutionStats{Total: 5, Succeeded: 3, Failed: 2},
	}
	server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor)
	require.NoError(t, err)

	result, err := server.handleStats(context.Background(), callRequest(toolStats, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":5,"succeeded":3,"failed":2}`, resultText(t, result))
}
