package main

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/codecontext/execengine/api"
	"github.com/codecontext/execengine/config"
	"github.com/codecontext/execengine/logger"
	"github.com/codecontext/execengine/mcpserver"
	"github.com/codecontext/execengine/sandbox"
	"github.com/codecontext/execengine/usage"
)

func main() {
	app := fx.New(
		// Provide dependencies
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			sandbox.NewEngineFromConfig,
			sandbox.NewJanitorFromConfig,
			func(e *sandbox.Engine) sandbox.Executor { return e },
			usage.NewUnlimited,
			mcpserver.New,
			api.New,
		),

		fx.Invoke(registerLifecycle),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

// registerLifecycle starts the janitor and the configured transports and
// makes sure the engine removes every unit still running when the process stops.
func registerLifecycle(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	engine *sandbox.Engine,
	janitor *sandbox.Janitor,
	mcp *mcpserver.MCPServer,
	rest *api.Server,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			janitor.Start(ctx)

			if rest.Enabled() {
				if err := rest.Start(); err != nil {
					return err
				}
			}

			go func() {
				var err error
				switch cfg.Server.Transport {
				case "stdio":
					err = mcp.ServeStdio()
				case "http":
					err = mcp.ServeHTTP()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("MCP transport stopped", zap.Error(err))
				}
				// stdio returns when the client disconnects
				if err := shutdowner.Shutdown(); err != nil {
					log.Debug("shutdown already in progress", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := mcp.Shutdown(ctx); err != nil {
				log.Warn("failed to stop MCP transport", zap.Error(err))
			}
			if err := rest.Shutdown(ctx); err != nil {
				log.Warn("failed to stop REST API", zap.Error(err))
			}
			janitor.Stop(ctx)
			return engine.Shutdown(ctx)
		},
	})
}
