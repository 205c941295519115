package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Deploy   DeployConfig   `mapstructure:"deploy"`
	Registry RegistryConfig `mapstructure:"registry"`
	Docker   DockerConfig   `mapstructure:"docker"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// DeployConfig holds the deployment parameters for a run.
type DeployConfig struct {
	// SourceImage is the public image reference to pull. It is referenced by
	// tag, not digest, so re-runs may deploy different bytes under the same
	// destination tags.
	SourceImage string `mapstructure:"source_image"`

	// Repository is the destination ECR repository name.
	Repository string `mapstructure:"repository"`

	// Region is the target AWS region. Empty means the operator is prompted,
	// falling back to the fixed default.
	Region string `mapstructure:"region"`

	// VersionTag is the fixed semantic version tag pushed next to "latest".
	VersionTag string `mapstructure:"version_tag"`

	// KeepImages is the retention count for the lifecycle policy.
	KeepImages int `mapstructure:"keep_images"`

	// AutoApprove skips the confirmation prompt.
	AutoApprove bool `mapstructure:"auto_approve"`

	// Output selects the summary format: text, json, or yaml.
	Output string `mapstructure:"output"`
}

// RegistryConfig holds ECR client configuration.
type RegistryConfig struct {
	// Endpoint overrides the AWS endpoint, used to run against a simulator.
	Endpoint string `mapstructure:"endpoint"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// HistoryConfig holds the run-journal configuration.
type HistoryConfig struct {
	// Enabled turns on the SQLite run journal.
	Enabled bool `mapstructure:"enabled"`

	// DSN is the SQLite database path.
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultRegion is used when neither flag, config, nor operator supplies one.
const DefaultRegion = "us-east-1"

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("deploy.source_image", "nginx:latest")
	v.SetDefault("deploy.repository", "web")
	v.SetDefault("deploy.region", "")
	v.SetDefault("deploy.version_tag", "v1.0.0")
	v.SetDefault("deploy.keep_images", 10)
	v.SetDefault("deploy.auto_approve", false)
	v.SetDefault("deploy.output", "text")
	v.SetDefault("registry.endpoint", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsn", "./data/shipper.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SHIPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr; stdout is reserved for prompts and the summary.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
