package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codecontext/execengine/config"
)

func TestEngineConfig(t *testing.T) {
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{
			RootDir:            "/var/lib/execengine",
			DefaultTimeoutMs:   15000,
			DefaultMemoryLimit: "256m",
			CPUShares:          1024,
			PidsLimit:          64,
			TmpfsSize:          "50m",
			NetworkEnabled:     true,
			PullImages:         true,
			StopGraceSec:       2,
			DrainGraceMs:       500,
			StatsIntervalMs:    100,
			TestParallelism:    4,
			DockerHost:         "unix:///run/podman/podman.sock",
		},
		Languages: map[string]config.Language{
			"python": {Image: "python:3.12-alpine", Environment: map[string]string{"PIP_NO_CACHE_DIR": "1"}},
			"go":     {Image: ""},
		},
	}

	ec := EngineConfig(cfg)
	assert.Equal(t, "/var/lib/execengine", ec.RootDir)
	assert.Equal(t, 15*time.Second, ec.DefaultTimeout)
	assert.Equal(t, "256m", ec.DefaultMemoryLimit)
	assert.Equal(t, int64(1024), ec.CPUShares)
	assert.Equal(t, int64(64), ec.PidsLimit)
	assert.Equal(t, "50m", ec.TmpfsSize)
	assert.True(t, ec.NetworkEnabled)
	assert.Equal(t, 2*time.Second, ec.StopGrace)
	assert.Equal(t, 500*time.Millisecond, ec.DrainGrace)
	assert.Equal(t, 100*time.Millisecond, ec.StatsInterval)
	assert.Equal(t, 4, ec.TestParallelism)
	assert.Equal(t, "unix:///run/podman/podman.sock", ec.DockerHost)

	assert.Equal(t, map[Language]string{LanguagePython: "python:3.12-alpine"}, ec.Images)
	assert.Equal(t, "1", ec.Environment[LanguagePython]["PIP_NO_CACHE_DIR"])
	assert.NotContains(t, ec.Environment, LanguageGo)
}
