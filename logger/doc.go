// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Logs always go to stderr so the stdio MCP transport
// keeps stdout to itself.
//
// Usage:
//
//	log, err := logger.New("production", "info")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("engine started", zap.String("sandbox_root", root))
package logger
