package sandbox

import (
	"time"

	"go.uber.org/zap"

	"github.com/codecontext/execengine/config"
)

// NewEngineFromConfig creates an Engine from the application configuration
func NewEngineFromConfig(logger *zap.Logger, cfg *config.Config) (*Engine, error) {
	return NewEngine(logger, EngineConfig(cfg))
}

// NewJanitorFromConfig creates the Janitor using sandbox.sweep_schedule
func NewJanitorFromConfig(engine *Engine, cfg *config.Config, logger *zap.Logger) (*Janitor, error) {
	return NewJanitor(engine, cfg.Sandbox.SweepSchedule, logger)
}

// EngineConfig translates the application configuration into engine settings
func EngineConfig(cfg *config.Config) Config {
	sc := cfg.Sandbox
	engineConfig := Config{
		RootDir:            sc.RootDir,
		DefaultTimeout:     cfg.GetTimeout(),
		DefaultMemoryLimit: sc.DefaultMemoryLimit,
		CPUShares:          sc.CPUShares,
		PidsLimit:          sc.PidsLimit,
		TmpfsSize:          sc.TmpfsSize,
		NetworkEnabled:     sc.NetworkEnabled,
		PullImages:         sc.PullImages,
		StopGrace:          time.Duration(sc.StopGraceSec) * time.Second,
		DrainGrace:         time.Duration(sc.DrainGraceMs) * time.Millisecond,
		StatsInterval:      time.Duration(sc.StatsIntervalMs) * time.Millisecond,
		TestParallelism:    sc.TestParallelism,
		DockerHost:         sc.DockerHost,
		Images:             make(map[Language]string),
		Environment:        make(map[Language]map[string]string),
	}

	for name, lang := range cfg.Languages {
		if lang.Image != "" {
			engineConfig.Images[Language(name)] = lang.Image
		}
		if len(lang.Environment) > 0 {
			engineConfig.Environment[Language(name)] = lang.Environment
		}
	}

	return engineConfig
}
