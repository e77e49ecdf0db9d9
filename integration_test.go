package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codecontext/execengine/api"
	"github.com/codecontext/execengine/config"
	"github.com/codecontext/execengine/logger"
	"github.com/codecontext/execengine/mcpserver"
	"github.com/codecontext/execengine/sandbox"
	"github.com/codecontext/execengine/usage"
)

// dockerTestsEnv enables the tests that need a reachable Docker daemon.
const dockerTestsEnv = "EXECENGINE_DOCKER_TESTS"

func loadTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("EXECENGINE_SANDBOX_ROOT_DIR", t.TempDir())
	cfg, err := config.Load(viper.New(), t.TempDir())
	require.NoError(t, err)
	return cfg
}

// TestIntegrationConfigLoggerSandbox tests the integration between config, logger, and sandbox packages
func TestIntegrationConfigLoggerSandbox(t *testing.T) {
	t.Run("ConfigAndLoggerIntegration", func(t *testing.T) {
		cfg := loadTestConfig(t)
		cfg.Logging = config.LoggingConfig{Mode: "development", Level: "debug"}

		testLogger, err := logger.NewFromConfig(cfg)
		require.NoError(t, err)
		require.NotNil(t, testLogger)

		testLogger.Info("Integration test started")
		_ = testLogger.Sync()
	})

	t.Run("ConfigLoggerEngineFactoryIntegration", func(t *testing.T) {
		cfg := loadTestConfig(t)
		cfg.Languages["python"] = config.Language{
			Image:       "python:3.12-alpine",
			Environment: map[string]string{"PIP_NO_CACHE_DIR": "1"},
		}

		engineConfig := sandbox.EngineConfig(cfg)
		assert.Equal(t, 30*time.Second, engineConfig.DefaultTimeout)
		assert.Equal(t, "python:3.12-alpine", engineConfig.Images[sandbox.LanguagePython])
		assert.Equal(t, "1", engineConfig.Environment[sandbox.LanguagePython]["PIP_NO_CACHE_DIR"])

		// Creating the client does not contact the daemon.
		engine, err := sandbox.NewEngineFromConfig(zaptest.NewLogger(t), cfg)
		require.NoError(t, err)
		require.NotNil(t, engine)
		assert.Empty(t, engine.Active())
		assert.DirExists(t, cfg.Sandbox.RootDir)
	})

	t.Run("FullTransportIntegration", func(t *testing.T) {
		cfg := loadTestConfig(t)
		testLogger := zaptest.NewLogger(t)

		engine, err := sandbox.NewEngineFromConfig(testLogger, cfg)
		require.NoError(t, err)

		server, err := mcpserver.New(cfg, testLogger, engine, usage.NewUnlimited())
		require.NoError(t, err)
		require.NotNil(t, server.GetMCPServer())

		rest := api.New(cfg, testLogger, engine, usage.NewUnlimited())
		assert.False(t, rest.Enabled())

		rec := httptest.NewRecorder()
		rest.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/executions", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"active":[]}`, rec.Body.String())

		// Rejected requests never reach Docker.
		result := engine.ExecuteCode(context.Background(), sandbox.ExecutionRequest{Language: "cobol", Code: "DISPLAY 'HI'."})
		assert.False(t, result.Success)
		assert.Equal(t, sandbox.ExitCodeFailure, result.ExitCode)
	})
}

func newDockerEngine(t *testing.T) *sandbox.Engine {
	t.Helper()
	if os.Getenv(dockerTestsEnv) == "" {
		t.Skipf("set %s=1 to run tests against a Docker daemon", dockerTestsEnv)
	}

	cfg := loadTestConfig(t)
	engine, err := sandbox.NewEngineFromConfig(zaptest.NewLogger(t), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})
	return engine
}

// TestIntegrationDockerExecution runs real containers.
func TestIntegrationDockerExecution(t *testing.T) {
	engine := newDockerEngine(t)
	ctx := context.Background()

	programs := []struct {
		language sandbox.Language
		code     string
	}{
		{sandbox.LanguageJavaScript, `console.log("hello")`},
		{sandbox.LanguageTypeScript, `const greeting: string = "hello"; console.log(greeting)`},
		{sandbox.LanguagePython, `print("hello")`},
		{sandbox.LanguageGo, "package main\n\nimport \"fmt\"\n\nfunc main() { fmt.Println(\"hello\") }\n"},
		{sandbox.LanguageRust, `fn main() { println!("hello"); }`},
	}

	for _, p := range programs {
		t.Run(string(p.language), func(t *testing.T) {
			result := engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
				Language: p.language,
				Code:     p.code,
				Timeout:  300000,
			})
			require.True(t, result.Success, "errors: %v", result.Errors)
			assert.Equal(t, 0, result.ExitCode)
			assert.True(t, strings.HasSuffix(result.Output, "hello"), "output: %q", result.Output)
		})
	}

	t.Run("Timeout", func(t *testing.T) {
		start := time.Now()
		result := engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
			Language: sandbox.LanguagePython,
			Code:     "while True:\n    pass\n",
			Timeout:  1000,
		})
		assert.False(t, result.Success)
		assert.Equal(t, sandbox.ExitCodeTimeout, result.ExitCode)
		assert.Contains(t, result.Errors, "Execution timed out after 1000ms")
		assert.Less(t, time.Since(start), 20*time.Second)
	})

	t.Run("NonZeroExit", func(t *testing.T) {
		result := engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
			Language: sandbox.LanguagePython,
			Code:     "import sys\nprint('bad', file=sys.stderr)\nsys.exit(3)\n",
		})
		assert.False(t, result.Success)
		assert.Equal(t, 3, result.ExitCode)
		assert.Contains(t, result.Errors, "bad")
	})

	t.Run("NoNetwork", func(t *testing.T) {
		result := engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
			Language: sandbox.LanguagePython,
			Code:     "import urllib.request\nurllib.request.urlopen('http://example.com', timeout=3)\n",
			Timeout:  10000,
		})
		assert.False(t, result.Success)
	})

	t.Run("Concurrent", func(t *testing.T) {
		const n = 4
		results := make([]sandbox.ExecutionResult, n)
		var wg sync.WaitGroup
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i] = engine.ExecuteCode(ctx, sandbox.ExecutionRequest{
					Language: sandbox.LanguagePython,
					Code:     fmt.Sprintf("print(%d)", i),
				})
			}()
		}
		wg.Wait()

		for i, result := range results {
			require.True(t, result.Success, "errors: %v", result.Errors)
			assert.Equal(t, fmt.Sprint(i), result.Output)
		}
		assert.Empty(t, engine.Active())
	})
}
