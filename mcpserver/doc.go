// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// The mcpserver package implements an MCP-compliant server that exposes the
// execute_code tool. It uses the mark3labs/mcp-go library to handle the
// protocol details and hands every call to a sandbox.Executor after asking
// the usage gate for permission.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(cfg, logger, engine, usage.NewUnlimited())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
