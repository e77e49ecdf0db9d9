package sandbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// cleanupTimeout bounds Docker calls made after the request context may be gone.
const cleanupTimeout = 10 * time.Second

// RunOutcome is what the supervisor observed for one unit.
type RunOutcome struct {
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	Err      error
}

// Supervisor runs a created unit to completion or timeout. The wait on the
// container races a timer; when the timer wins the unit is stopped by force.
type Supervisor struct {
	containers    *ContainerManager
	logger        *zap.Logger
	drainGrace    time.Duration
	statsInterval time.Duration
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(containers *ContainerManager, config *Config, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		containers:    containers,
		logger:        logger,
		drainGrace:    config.DrainGrace,
		statsInterval: config.StatsInterval,
	}
}

type waitResult struct {
	code int
	err  error
}

// Run attaches to the unit, starts it and supervises it. The returned error
// is set only when the unit could not be started; once it runs, every
// outcome, including a timeout, is reported through RunOutcome.
func (s *Supervisor) Run(ctx context.Context, env *Environment, timeout time.Duration) (*RunOutcome, error) {
	logger := s.logger.With(zap.String("environment_id", env.ID), zap.String("container_id", env.ContainerID()))

	// Attach before start so no early output is lost.
	hijack, err := s.containers.Attach(ctx, env.ContainerID())
	if err != nil {
		return nil, err
	}
	defer hijack.Close()

	demux := NewStreamDemuxer()
	drained := make(chan error, 1)
	go func() {
		drained <- demux.Drain(hijack.Reader)
	}()

	if err := s.containers.Start(ctx, env.ContainerID()); err != nil {
		return nil, err
	}

	// No unit outlives its request, whatever happens below.
	defer s.forceStop(ctx, env, logger)

	samplerCtx, stopSampler := context.WithCancel(ctx)
	var samplerWG sync.WaitGroup
	if s.statsInterval > 0 {
		samplerWG.Add(1)
		go func() {
			defer samplerWG.Done()
			s.sample(samplerCtx, env)
		}()
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	waitCh := make(chan waitResult, 1)
	go func() {
		code, err := s.containers.Wait(waitCtx, env.ContainerID())
		waitCh <- waitResult{code: code, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	outcome := &RunOutcome{}
	select {
	case res := <-waitCh:
		outcome.ExitCode = res.code
		outcome.Err = res.err
	case <-timer.C:
		outcome.TimedOut = true
		outcome.ExitCode = ExitCodeTimeout
		logger.Warn("execution timed out, stopping container", zap.Duration("timeout", timeout))
		s.forceStop(ctx, env, logger)
	case <-ctx.Done():
		outcome.ExitCode = ExitCodeFailure
		outcome.Err = fmt.Errorf("execution cancelled: %w", ctx.Err())
		s.forceStop(ctx, env, logger)
	}

	stopSampler()
	samplerWG.Wait()
	if env.Usage().Samples == 0 && !outcome.TimedOut {
		s.snapshot(ctx, env)
	}

	// Let trailing frames arrive before the stream is closed.
	select {
	case err := <-drained:
		if err != nil {
			logger.Debug("attach stream ended with error", zap.Error(err))
		}
	case <-time.After(s.drainGrace):
		logger.Debug("attach stream still open after drain grace period")
	}

	outcome.Stdout = demux.Stdout()
	outcome.Stderr = demux.Stderr()
	return outcome, nil
}

// forceStop stops the unit even when ctx is already done.
func (s *Supervisor) forceStop(ctx context.Context, env *Environment, logger *zap.Logger) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.containers.Stop(stopCtx, env.ContainerID()); err != nil {
		logger.Warn("failed to stop container", zap.Error(err))
	}
}

func (s *Supervisor) sample(ctx context.Context, env *Environment) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	s.snapshot(ctx, env)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshot(ctx, env)
		}
	}
}

func (s *Supervisor) snapshot(ctx context.Context, env *Environment) {
	stats, err := s.containers.Stats(ctx, env.ContainerID())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("failed to sample container stats", zap.String("environment_id", env.ID), zap.Error(err))
		}
		return
	}
	env.recordStats(stats)
}
