// Package sandbox provides secure code execution capabilities.
//
// The sandbox package implements the execution engine for running untrusted
// code in isolated Docker containers. Every execution gets its own workspace
// directory under the sandbox root, its own container with memory, CPU and
// network constraints, and is torn down on every exit path.
//
// The Engine orchestrates a request through the workspace manager, the
// source materializer, the container lifecycle manager, the stream
// demultiplexer and the timeout supervisor, then assembles an
// ExecutionResult. Metrics and security reports come from pluggable
// collectors and are always populated.
//
// A Janitor removes containers and workspaces left behind by a previous
// process, once at startup and then on a cron schedule.
//
// Usage:
//
//	engine, err := sandbox.NewEngine(logger, sandbox.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Shutdown(context.Background())
//
//	result := engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
//	    Language: sandbox.LanguagePython,
//	    Code:     "print('Hello, World!')",
//	    Timeout:  10000,
//	})
package sandbox
