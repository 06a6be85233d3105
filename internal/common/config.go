package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the bootstrap application configuration. Runtime-mutable
// settings (enabled services, repositories, query defaults) live in the
// settings document in storage, not here.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Upstreams   UpstreamsConfig `toml:"upstreams"`
	Telemetry   TelemetryConfig `toml:"telemetry"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// UpstreamsConfig carries the base URLs of the external APIs. Overridable so
// tests and on-prem deployments can point at their own endpoints. The SCM API
// URL is part of the runtime settings document instead, because the original
// tool exposes it in its settings UI.
type UpstreamsConfig struct {
	QAPublicURL   string `toml:"qa_public_url"`   // Stack Exchange API base
	QAPublicHost  string `toml:"qa_public_host"`  // host used for canonical question URLs
	QAInternalURL string `toml:"qa_internal_url"` // internal Stack Overflow API base
	DevOpsURL     string `toml:"devops_url"`      // work-item tracker base (org/project appended)
}

type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // event sink URL; empty disables the HTTP sink
}

// NewDefaultConfig returns the built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7345,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/tracker",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Upstreams: UpstreamsConfig{
			QAPublicURL:  "https://api.stackexchange.com/2.3",
			QAPublicHost: "stackoverflow.com",
			DevOpsURL:    "https://dev.azure.com",
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("TRACKER_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("TRACKER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("TRACKER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("TRACKER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("TRACKER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("TRACKER_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}

	if u := os.Getenv("TRACKER_QA_PUBLIC_URL"); u != "" {
		config.Upstreams.QAPublicURL = u
	}
	if u := os.Getenv("TRACKER_QA_INTERNAL_URL"); u != "" {
		config.Upstreams.QAInternalURL = u
	}
	if u := os.Getenv("TRACKER_DEVOPS_URL"); u != "" {
		config.Upstreams.DevOpsURL = u
	}
	if ep := os.Getenv("TRACKER_TELEMETRY_ENDPOINT"); ep != "" {
		config.Telemetry.Endpoint = ep
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}
