// Package config provides configuration management for checkpointd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for checkpointd.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Checkpoints CheckpointsConfig `mapstructure:"checkpoints"`
	Cache       CacheConfig       `mapstructure:"cache"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// CheckpointsConfig holds the location of the agent's checkpoint
// repositories and how the external git binary is invoked.
type CheckpointsConfig struct {
	// Root is the directory containing one subdirectory per workspace,
	// each holding a .git (active) or .git_disabled (paused) repository.
	Root string `mapstructure:"root"`
	// GitBinary is the version-control executable to invoke.
	GitBinary string `mapstructure:"gitBinary"`
	// CommandTimeout bounds each git invocation, in seconds.
	CommandTimeout int `mapstructure:"commandTimeout"`
	// IgnoreFile is the YAML document of default diff-exclusion patterns.
	IgnoreFile string `mapstructure:"ignoreFile"`
	// BoundariesDir holds pre-extracted subtask boundary documents, one
	// JSON file per task.
	BoundariesDir string `mapstructure:"boundariesDir"`
}

// CacheConfig holds the on-disk JSON cache location.
type CacheConfig struct {
	Dir string `mapstructure:"dir"`
}

// CommandTimeoutDuration returns the git command timeout as a time.Duration.
func (c *CheckpointsConfig) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("CHECKPOINTD_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".checkpointd"
	}
	return filepath.Join(home, ".checkpointd")
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Checkpoints defaults
	v.SetDefault("checkpoints.root", filepath.Join(defaultDataDir(), "checkpoints"))
	v.SetDefault("checkpoints.gitBinary", "git")
	v.SetDefault("checkpoints.commandTimeout", 30)
	v.SetDefault("checkpoints.ignoreFile", filepath.Join(defaultDataDir(), "changesignore.yaml"))
	v.SetDefault("checkpoints.boundariesDir", filepath.Join(defaultDataDir(), "boundaries"))

	// Cache defaults
	v.SetDefault("cache.dir", filepath.Join(defaultDataDir(), "cache"))
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CHECKPOINTD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/checkpointd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CHECKPOINTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("checkpoints.root", "CHECKPOINTD_CHECKPOINTS_ROOT")
	_ = v.BindEnv("checkpoints.gitBinary", "CHECKPOINTD_CHECKPOINTS_GIT_BINARY")
	_ = v.BindEnv("checkpoints.commandTimeout", "CHECKPOINTD_CHECKPOINTS_COMMAND_TIMEOUT")
	_ = v.BindEnv("checkpoints.ignoreFile", "CHECKPOINTD_CHECKPOINTS_IGNORE_FILE")
	_ = v.BindEnv("checkpoints.boundariesDir", "CHECKPOINTD_CHECKPOINTS_BOUNDARIES_DIR")
	_ = v.BindEnv("cache.dir", "CHECKPOINTD_CACHE_DIR")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/checkpointd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that the configuration is usable.
func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Checkpoints.Root == "" {
		return fmt.Errorf("checkpoints.root must not be empty")
	}
	if cfg.Checkpoints.GitBinary == "" {
		return fmt.Errorf("checkpoints.gitBinary must not be empty")
	}
	if cfg.Checkpoints.CommandTimeout <= 0 {
		return fmt.Errorf("checkpoints.commandTimeout must be positive, got %d", cfg.Checkpoints.CommandTimeout)
	}
	if cfg.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must not be empty")
	}
	return nil
}
