// Package logger provides structured logging capabilities.
//
// The logger package sets up the application's zap logger from the logging
// section of the configuration. All output goes to stderr so that the MCP
// stdio transport keeps exclusive use of stdout.
//
// Usage:
//
//	logger, err := logger.New("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	logger.Info("Application started")
//	logger.Error("An error occurred", zap.Error(err))
package logger
