// Package sandbox provides secure code execution capabilities.
//
// The Engine is the facade over the execution pipeline. It keeps a registry
// of in-flight environments so that Shutdown can stop and remove any unit
// still running.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// Config holds configuration for the execution engine
type Config struct {
	RootDir            string
	DefaultTimeout     time.Duration
	DefaultMemoryLimit string
	CPUShares          int64
	PidsLimit          int64
	TmpfsSize          string
	NetworkEnabled     bool
	PullImages         bool
	StopGrace          time.Duration
	DrainGrace         time.Duration
	StatsInterval      time.Duration
	TestParallelism    int
	DockerHost         string
	Images             map[Language]string
	Environment        map[Language]map[string]string
}

// DefaultConfig provides conservative defaults for the engine.
func DefaultConfig() Config {
	return Config{
		RootDir:            "./sandbox",
		DefaultTimeout:     DefaultTimeoutMs * time.Millisecond,
		DefaultMemoryLimit: "128m",
		// Half the default weight so one execution cannot starve the others.
		CPUShares:       512,
		PidsLimit:       256,
		TmpfsSize:       "100m",
		NetworkEnabled:  false,
		PullImages:      true,
		StopGrace:       0,
		DrainGrace:      2 * time.Second,
		StatsInterval:   250 * time.Millisecond,
		TestParallelism: 2,
	}
}

// Engine implements Executor using Docker
type Engine struct {
	logger       *zap.Logger
	config       *Config
	docker       ContainerAPI
	fs           FileSystem
	workspace    *Workspace
	materializer *Materializer
	containers   *ContainerManager
	supervisor   *Supervisor
	metrics      MetricsCollector
	security     SecurityCollector
	active       *xsync.MapOf[string, *Environment]
}

var _ Executor = (*Engine)(nil)

// Option defines a functional option for Engine
type Option func(*Engine)

// WithContainerAPI sets the Docker API used by the Engine
func WithContainerAPI(api ContainerAPI) Option {
	return func(e *Engine) {
		e.docker = api
	}
}

// WithFileSystem sets the FileSystem for the Engine
func WithFileSystem(fs FileSystem) Option {
	return func(e *Engine) {
		e.fs = fs
	}
}

// WithMetricsCollector sets the MetricsCollector for the Engine
func WithMetricsCollector(c MetricsCollector) Option {
	return func(e *Engine) {
		e.metrics = c
	}
}

// WithSecurityCollector sets the SecurityCollector for the Engine
func WithSecurityCollector(c SecurityCollector) Option {
	return func(e *Engine) {
		e.security = c
	}
}

// NewEngine creates the engine, the sandbox root and, unless one is
// supplied, the Docker client.
func NewEngine(logger *zap.Logger, config Config, opts ...Option) (*Engine, error) {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = DefaultTimeoutMs * time.Millisecond
	}
	if config.TestParallelism <= 0 {
		config.TestParallelism = 1
	}
	if config.TmpfsSize == "" {
		config.TmpfsSize = "100m"
	}

	e := &Engine{
		logger:   logger.Named("engine"),
		config:   &config,
		fs:       RealFileSystem{},
		metrics:  StatsMetricsCollector{},
		security: PolicySecurityCollector{PidsLimit: config.PidsLimit},
		active:   xsync.NewMapOf[string, *Environment](),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.docker == nil {
		cli, err := NewDockerClient(config.DockerHost)
		if err != nil {
			return nil, err
		}
		e.docker = cli
	}

	workspace, err := NewWorkspace(config.RootDir, e.fs, e.logger)
	if err != nil {
		return nil, err
	}
	e.workspace = workspace
	e.materializer = NewMaterializer(e.fs)
	e.containers = NewContainerManager(e.docker, e.config, e.logger.Named("containers"))
	e.supervisor = NewSupervisor(e.containers, e.config, e.logger.Named("supervisor"))

	e.logger.Info("execution engine ready",
		zap.String("sandbox_root", workspace.Root()),
		zap.Duration("default_timeout", config.DefaultTimeout),
		zap.String("default_memory_limit", config.DefaultMemoryLimit),
		zap.Bool("network_enabled", config.NetworkEnabled))

	return e, nil
}

// ExecuteCode runs the request and always returns a result. Failures before
// the container starts yield Success=false, ExitCode=1 and the message in
// Errors; ExecutionTime always covers the whole call.
func (e *Engine) ExecuteCode(ctx context.Context, req ExecutionRequest) ExecutionResult {
	start := time.Now()
	req = e.normalize(req)

	logger := e.logger.With(zap.String("execution_id", req.ID), zap.String("language", string(req.Language)))
	logger.Info("executing code",
		zap.Int("timeout_ms", req.Timeout),
		zap.String("memory_limit", req.MemoryLimit),
		zap.Int("tests", len(req.Tests)))

	result, err := e.execute(ctx, req, true)
	if err != nil {
		result = failureResult(req.ID, err, time.Since(start))
		logger.Error("execution failed", zap.Error(err), zap.Int64("execution_time_ms", result.ExecutionTime))
		return result
	}

	result.ExecutionTime = time.Since(start).Milliseconds()
	logger.Info("execution completed",
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Int64("execution_time_ms", result.ExecutionTime),
		zap.Int64("memory_usage", result.MemoryUsage))
	return result
}

// Active lists the environment IDs of executions still in flight.
func (e *Engine) Active() []string {
	ids := make([]string, 0, e.active.Size())
	e.active.Range(func(id string, _ *Environment) bool {
		ids = append(ids, id)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Shutdown stops and removes every unit still registered and closes the
// Docker client.
func (e *Engine) Shutdown(ctx context.Context) error {
	var leftovers []*Environment
	e.active.Range(func(_ string, env *Environment) bool {
		leftovers = append(leftovers, env)
		return true
	})

	if len(leftovers) > 0 {
		e.logger.Warn("shutting down with executions in flight", zap.Int("count", len(leftovers)))
	}
	for _, env := range leftovers {
		if id := env.ContainerID(); id != "" {
			if err := e.containers.Stop(ctx, id); err != nil {
				e.logger.Warn("failed to stop container on shutdown", zap.String("environment_id", env.ID), zap.Error(err))
			}
		}
		e.cleanupEnvironment(ctx, env)
	}

	if err := e.docker.Close(); err != nil {
		return fmt.Errorf("failed to close docker client: %w", err)
	}
	return nil
}

// normalize returns a copy of req with the ID and limits filled in.
func (e *Engine) normalize(req ExecutionRequest) ExecutionRequest {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Timeout <= 0 {
		req.Timeout = int(e.config.DefaultTimeout.Milliseconds())
	}
	if req.MemoryLimit == "" {
		req.MemoryLimit = e.config.DefaultMemoryLimit
	}
	return req
}

// execute runs one request through the pipeline. It returns an error only
// when the unit could not be started.
func (e *Engine) execute(ctx context.Context, req ExecutionRequest, withTests bool) (ExecutionResult, error) {
	if !req.Language.Valid() {
		return ExecutionResult{}, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, req.Language)
	}

	env, err := e.prepare(ctx, req)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer e.cleanupEnvironment(ctx, env)

	timeout := req.timeout()
	outcome, err := e.supervisor.Run(ctx, env, timeout)
	if err != nil {
		return ExecutionResult{}, err
	}

	result := assembleResult(req.ID, outcome, env, timeout)

	if withTests && len(req.Tests) > 0 {
		result.TestResults = e.runTests(ctx, req)
	}

	metrics := e.metrics.CollectMetrics(ctx, env)
	metrics.normalize()
	result.PerformanceMetrics = &metrics

	report := e.security.GenerateReport(ctx, env)
	report.normalize()
	result.SecurityReport = &report

	return result, nil
}

// memoryLimit parses a request limit. Docker treats zero as unlimited, so
// limits that parse to zero fall back to the configured default.
func (e *Engine) memoryLimit(limit string) int64 {
	if bytes := ParseMemoryLimit(limit); bytes > 0 {
		return bytes
	}
	if bytes := ParseMemoryLimit(e.config.DefaultMemoryLimit); bytes > 0 {
		return bytes
	}
	return DefaultMemoryLimit
}

// prepare allocates the workspace, materializes the source and creates the
// unit. On failure everything allocated so far is released.
func (e *Engine) prepare(ctx context.Context, req ExecutionRequest) (*Environment, error) {
	id, dir, err := e.workspace.Allocate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaterialization, err)
	}

	env := &Environment{
		ID:             id,
		Directory:      dir,
		Language:       req.Language,
		MemoryLimit:    e.memoryLimit(req.MemoryLimit),
		NetworkEnabled: e.config.NetworkEnabled,
	}
	// Registered before the unit exists so Sweep never treats it as orphaned.
	e.active.Store(env.ID, env)

	entry, err := e.materializer.Materialize(dir, req)
	if err != nil {
		e.cleanupEnvironment(ctx, env)
		if !errors.Is(err, ErrMaterialization) {
			err = fmt.Errorf("%w: %v", ErrMaterialization, err)
		}
		return nil, err
	}
	env.EntryFile = entry

	containerID, err := e.containers.Create(ctx, env, req)
	if err != nil {
		e.cleanupEnvironment(ctx, env)
		return nil, err
	}
	if !env.attach(containerID) {
		// Released by Shutdown while Create was in flight.
		e.discard(ctx, env, containerID)
		return nil, fmt.Errorf("%w: environment %s released during creation", ErrUnitCreation, env.ID)
	}

	return env, nil
}

// discard removes a unit created for an environment that was already
// released, along with the workspace the bind mount may have recreated.
func (e *Engine) discard(ctx context.Context, env *Environment, containerID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := e.containers.Remove(cleanupCtx, containerID); err != nil {
		e.logger.Warn("cleanup warning", zap.String("environment_id", env.ID), zap.Error(err))
	}
	e.workspace.Release(env.Directory)
}

// cleanupEnvironment removes the unit and the workspace. Only the first
// call does anything; failures are logged.
func (e *Engine) cleanupEnvironment(ctx context.Context, env *Environment) {
	containerID, ok := env.release()
	if !ok {
		return
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if containerID != "" {
		if err := e.containers.Remove(cleanupCtx, containerID); err != nil {
			e.logger.Warn("cleanup warning", zap.String("environment_id", env.ID), zap.Error(err))
		}
	}
	e.workspace.Release(env.Directory)
	e.active.Delete(env.ID)
}
