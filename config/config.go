package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. EXECENGINE_SANDBOX_ROOT_DIR.
const EnvPrefix = "EXECENGINE"

// SupportedLanguages lists the language keys accepted under `languages`.
var SupportedLanguages = []string{"javascript", "typescript", "python", "go", "rust"}

var memoryLimitPattern = regexp.MustCompile(`^0*[1-9]\d*[kmgKMG]?$`)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig        `mapstructure:"server"`
	Sandbox   SandboxConfig       `mapstructure:"sandbox"`
	Logging   LoggingConfig       `mapstructure:"logging"`
	Languages map[string]Language `mapstructure:"languages"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"`
	HTTPPort  int    `mapstructure:"http_port"`
	// APIPort enables the REST API when positive.
	APIPort int `mapstructure:"api_port"`
}

// SandboxConfig holds execution engine configuration
type SandboxConfig struct {
	RootDir            string `mapstructure:"root_dir"`
	DefaultTimeoutMs   int    `mapstructure:"default_timeout_ms"`
	DefaultMemoryLimit string `mapstructure:"default_memory_limit"`
	CPUShares          int64  `mapstructure:"cpu_shares"`
	PidsLimit          int64  `mapstructure:"pids_limit"`
	TmpfsSize          string `mapstructure:"tmpfs_size"`
	NetworkEnabled     bool   `mapstructure:"network_enabled"`
	PullImages         bool   `mapstructure:"pull_images"`
	StopGraceSec       int    `mapstructure:"stop_grace_sec"`
	DrainGraceMs       int    `mapstructure:"drain_grace_ms"`
	StatsIntervalMs    int    `mapstructure:"stats_interval_ms"`
	TestParallelism    int    `mapstructure:"test_parallelism"`
	DockerHost         string `mapstructure:"docker_host"`
	// SweepSchedule is a cron expression; empty disables periodic sweeps.
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// Language holds per-language overrides
type Language struct {
	Image       string            `mapstructure:"image"`
	Environment map[string]string `mapstructure:"environment"`
}

// New loads and validates the application configuration from ./config.yaml
// or ./config/config.yaml, a .env file and EXECENGINE_* variables.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}
	return Load(viper.New(), ".", "./config")
}

// Load reads the configuration using v, searching the given paths.
func Load(v *viper.Viper, paths ...string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	config.normalize()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", "stdio")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.api_port", 0)

	v.SetDefault("sandbox.root_dir", "./sandbox")
	v.SetDefault("sandbox.default_timeout_ms", 30000)
	v.SetDefault("sandbox.default_memory_limit", "128m")
	v.SetDefault("sandbox.cpu_shares", 512)
	v.SetDefault("sandbox.pids_limit", 256)
	v.SetDefault("sandbox.tmpfs_size", "100m")
	v.SetDefault("sandbox.network_enabled", false)
	v.SetDefault("sandbox.pull_images", true)
	v.SetDefault("sandbox.stop_grace_sec", 0)
	v.SetDefault("sandbox.drain_grace_ms", 2000)
	v.SetDefault("sandbox.stats_interval_ms", 250)
	v.SetDefault("sandbox.test_parallelism", 2)
	v.SetDefault("sandbox.docker_host", "")
	v.SetDefault("sandbox.sweep_schedule", "@every 10m")

	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("languages.javascript.image", "node:18-alpine")
	v.SetDefault("languages.typescript.image", "node:18-alpine")
	v.SetDefault("languages.python.image", "python:3.11-alpine")
	v.SetDefault("languages.go.image", "golang:1.20-alpine")
	v.SetDefault("languages.rust.image", "rust:1.70-alpine")
}

// validate ensures the configuration is valid
//
//nolint:gocyclo // One flat check per key reads better than a table here
func (c *Config) validate() error {
	if c.Server.Transport != "stdio" && c.Server.Transport != "http" {
		return fmt.Errorf("invalid server.transport: %s, must be 'stdio' or 'http'", c.Server.Transport)
	}

	if c.Server.Transport == "http" && (c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535) {
		return fmt.Errorf("server.http_port must be between 1 and 65535, got: %d", c.Server.HTTPPort)
	}

	if c.Server.APIPort < 0 || c.Server.APIPort > 65535 {
		return fmt.Errorf("server.api_port must be between 0 and 65535, got: %d", c.Server.APIPort)
	}

	if c.Sandbox.RootDir == "" {
		return errors.New("sandbox.root_dir must not be empty")
	}

	if c.Sandbox.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("sandbox.default_timeout_ms must be positive, got: %d", c.Sandbox.DefaultTimeoutMs)
	}

	if !memoryLimitPattern.MatchString(c.Sandbox.DefaultMemoryLimit) {
		return fmt.Errorf("invalid sandbox.default_memory_limit: %q, expected a positive number with optional k, m or g suffix", c.Sandbox.DefaultMemoryLimit)
	}

	if c.Sandbox.CPUShares <= 0 {
		return fmt.Errorf("sandbox.cpu_shares must be positive, got: %d", c.Sandbox.CPUShares)
	}

	if c.Sandbox.PidsLimit < 0 {
		return fmt.Errorf("sandbox.pids_limit must not be negative, got: %d", c.Sandbox.PidsLimit)
	}

	if !memoryLimitPattern.MatchString(c.Sandbox.TmpfsSize) {
		return fmt.Errorf("invalid sandbox.tmpfs_size: %q", c.Sandbox.TmpfsSize)
	}

	if c.Sandbox.StopGraceSec < 0 || c.Sandbox.DrainGraceMs < 0 || c.Sandbox.StatsIntervalMs < 0 {
		return errors.New("sandbox.stop_grace_sec, sandbox.drain_grace_ms and sandbox.stats_interval_ms must not be negative")
	}

	if c.Sandbox.TestParallelism <= 0 {
		return fmt.Errorf("sandbox.test_parallelism must be positive, got: %d", c.Sandbox.TestParallelism)
	}

	if c.Sandbox.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Sandbox.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sandbox.sweep_schedule: %w", err)
		}
	}

	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	for name := range c.Languages {
		if !isSupportedLanguage(name) {
			return fmt.Errorf("unsupported language in languages: %s", name)
		}
	}

	return nil
}

// normalize restores upper-case variable names, which viper lowercases.
func (c *Config) normalize() {
	for name, lang := range c.Languages {
		if len(lang.Environment) == 0 {
			continue
		}
		env := make(map[string]string, len(lang.Environment))
		for k, v := range lang.Environment {
			env[strings.ToUpper(k)] = v
		}
		lang.Environment = env
		c.Languages[name] = lang
	}
}

func isSupportedLanguage(name string) bool {
	for _, l := range SupportedLanguages {
		if l == name {
			return true
		}
	}
	return false
}

// GetTimeout returns the default execution timeout as a duration
func (c *Config) GetTimeout() time.Duration {
	return time.Duration(c.Sandbox.DefaultTimeoutMs) * time.Millisecond
}
