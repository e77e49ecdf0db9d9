package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	// orphanMinAge keeps Sweep away from workspaces still being allocated.
	orphanMinAge = time.Minute
	sweepTimeout = 2 * time.Minute
)

// Sweep removes units and workspaces that no in-flight execution owns,
// such as those left behind by a crashed process. It reports how many
// containers and directories it removed.
func (e *Engine) Sweep(ctx context.Context) (int, int, error) {
	units, err := e.containers.List(ctx)
	if err != nil {
		return 0, 0, err
	}

	removedUnits := 0
	for _, unit := range units {
		if _, ok := e.active.Load(unit.Labels[LabelEnvironment]); ok {
			continue
		}
		if err := e.containers.Remove(ctx, unit.ID); err != nil {
			e.logger.Warn("failed to remove orphaned container", zap.String("container_id", unit.ID), zap.Error(err))
			continue
		}
		removedUnits++
	}

	entries, err := e.fs.ReadDir(e.workspace.Root())
	if err != nil {
		return removedUnits, 0, fmt.Errorf("failed to read sandbox root: %w", err)
	}

	cutoff := time.Now().Add(-orphanMinAge)
	removedDirs := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := e.active.Load(entry.Name()); ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		e.workspace.Release(filepath.Join(e.workspace.Root(), entry.Name()))
		removedDirs++
	}

	return removedUnits, removedDirs, nil
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// Janitor runs Engine.Sweep once at start and then on a cron schedule.
// An empty schedule disables the periodic runs.
type Janitor struct {
	engine *Engine
	cron   *cron.Cron
	logger *zap.Logger
}

// NewJanitor creates a Janitor. The schedule uses standard cron syntax or
// descriptors such as "@every 10m".
func NewJanitor(engine *Engine, schedule string, logger *zap.Logger) (*Janitor, error) {
	j := &Janitor{engine: engine, logger: logger.Named("janitor")}
	if schedule == "" {
		return j, nil
	}

	cl := cronLogger{sugar: j.logger.Sugar()}
	j.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl)))
	if _, err := j.cron.AddFunc(schedule, j.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *Janitor) run() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()
	j.Sweep(ctx)
}

// Sweep runs one pass and logs what it removed.
func (j *Janitor) Sweep(ctx context.Context) {
	units, dirs, err := j.engine.Sweep(ctx)
	if err != nil {
		j.logger.Warn("sweep failed", zap.Error(err))
		return
	}
	if units > 0 || dirs > 0 {
		j.logger.Info("removed orphaned resources", zap.Int("containers", units), zap.Int("workspaces", dirs))
	}
}

// Start sweeps once and then starts the schedule.
func (j *Janitor) Start(ctx context.Context) {
	j.Sweep(ctx)
	if j.cron != nil {
		j.cron.Start()
	}
}

// Stop halts the schedule and waits for a running sweep until ctx is done.
func (j *Janitor) Stop(ctx context.Context) {
	if j.cron == nil {
		return
	}
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}
