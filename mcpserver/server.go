package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/codecontext/execengine/config"
	"github.com/codecontext/execengine/sandbox"
	"github.com/codecontext/execengine/usage"
)

// ToolName is the name of the code execution tool
const ToolName = "execute_code"

// MCPServer represents the MCP server
type MCPServer struct {
	config     *config.Config
	logger     *zap.Logger
	executor   sandbox.Executor
	gate       usage.Gate
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, gate usage.Gate) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger.Named("mcp"),
		executor: executor,
		gate:     gate,
	}

	// Log configuration parameters on startup
	s.logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Int("server.api_port", cfg.Server.APIPort),
		zap.String("sandbox.root_dir", cfg.Sandbox.RootDir),
		zap.Int("sandbox.default_timeout_ms", cfg.Sandbox.DefaultTimeoutMs),
		zap.String("sandbox.default_memory_limit", cfg.Sandbox.DefaultMemoryLimit),
		zap.Int64("sandbox.cpu_shares", cfg.Sandbox.CPUShares),
		zap.Bool("sandbox.network_enabled", cfg.Sandbox.NetworkEnabled),
		zap.Int("languages", len(cfg.Languages)),
	)

	s.mcpServer = server.NewMCPServer("execengine", "1.0.0")
	s.registerExecuteCodeTool()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s, nil
}

// registerExecuteCodeTool registers the execute_code tool
func (s *MCPServer) registerExecuteCodeTool() {
	languages := make([]string, 0, len(sandbox.SupportedLanguages()))
	for _, l := range sandbox.SupportedLanguages() {
		languages = append(languages, string(l))
	}

	tool := mcp.Tool{
		Name:        ToolName,
		Description: "Execute code in an isolated, resource-limited container and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"language": map[string]any{
					"type":        "string",
					"description": "Runtime language",
					"enum":        languages,
				},
				"tests": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Test fragments appended to the source and run one by one (optional)",
				},
				"dependencies": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Packages as name@version (optional)",
				},
				"timeout_ms": map[string]any{
					"type":        "number",
					"description": "Execution timeout in milliseconds (optional)",
				},
				"memory_limit": map[string]any{
					"type":        "string",
					"description": "Memory limit such as 128m or 1g (optional)",
				},
			},
			Required: []string{"code", "language"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

// handleExecuteCode handles the execute_code tool
func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	if !sandbox.Language(language).Valid() {
		return nil, fmt.Errorf("invalid language: %s", language)
	}

	decision, err := s.gate.CanExecute(ctx)
	if err != nil {
		return nil, fmt.Errorf("usage check failed: %w", err)
	}
	if !decision.Allowed {
		s.logger.Info("execution denied by usage gate", zap.String("reason", decision.Reason))
		return errorResult("Execution not allowed: " + decision.Reason), nil
	}

	req := sandbox.ExecutionRequest{
		Language:     sandbox.Language(language),
		Code:         code,
		Tests:        request.GetStringSlice("tests", nil),
		Dependencies: request.GetStringSlice("dependencies", nil),
		Timeout:      request.GetInt("timeout_ms", 0),
		MemoryLimit:  request.GetString("memory_limit", ""),
	}

	s.logger.Info("executing code in sandbox",
		zap.String("language", language),
		zap.Int("tests", len(req.Tests)),
		zap.Int("dependencies", len(req.Dependencies)))

	result := s.executor.ExecuteCode(ctx, req)

	if err := s.gate.RecordExecution(ctx); err != nil {
		s.logger.Warn("failed to record execution", zap.Error(err))
	}

	s.logger.Info("code execution completed",
		zap.String("execution_id", result.ID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Int64("execution_time_ms", result.ExecutionTime))

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(payload),
			},
		},
		IsError: !result.Success,
	}, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
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

	return s.httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it was started
func (s *MCPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
