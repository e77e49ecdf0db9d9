// Package main is the entry point for the execution engine server.
//
// The server runs untrusted JavaScript, TypeScript, Python, Go and Rust code
// in Docker containers with memory, CPU and network limits. It exposes the
// engine as an MCP tool over stdio or HTTP and, when server.api_port is set,
// as a REST API. A background janitor sweeps orphaned containers.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
