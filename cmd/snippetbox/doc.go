// Package main is the entry point for snippetbox.
//
// snippetbox screens short Python-like snippets against a policy and runs each
// one in a fresh worker process under a deadline. It serves the executor over
// MCP (stdio or HTTP), runs one-off snippets from the command line, and doubles
// as its own worker binary through the hidden "worker" command.
//
// The server uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging, viper for configuration and
// cobra for the command line.
package main
