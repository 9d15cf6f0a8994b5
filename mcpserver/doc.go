// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package exposes the snippet executor as two MCP tools using
// the mark3labs/mcp-go library. execute_code runs one snippet and returns the
// execution result as JSON text; get_execution_stats returns the running
// counters.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executor)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.Serve() // stdio or HTTP, per server.transport
package mcpserver
