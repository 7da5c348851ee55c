// Package config loads daemon configuration from a YAML file with
// environment-variable interpolation and SPINDLE_* overrides.
package config

import (
	"fmt"
	"os"
	"regexp"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the daemon configuration.
type Config struct {
	Service   Service            `yaml:"service"`
	Transport Transport          `yaml:"transport"`
	API       API                `yaml:"api"`
	Profiles  Profiles           `yaml:"profiles"`
	Apps      map[string]AppConf `yaml:"apps"`
}

// Service names the process and sets its log level.
type Service struct {
	Name     string `yaml:"name" envconfig:"SPINDLE_SERVICE_NAME"`
	LogLevel string `yaml:"log_level" envconfig:"SPINDLE_LOG_LEVEL"`
}

// Transport configures the message bus the daemon serves on.
type Transport struct {
	URL      string `yaml:"url" envconfig:"SPINDLE_TRANSPORT_URL"`
	Subject  string `yaml:"subject" envconfig:"SPINDLE_TRANSPORT_SUBJECT"`
	NodeAddr string `yaml:"node_addr" envconfig:"SPINDLE_NODE_ADDR"`
}

// API configures the HTTP introspection server.
type API struct {
	Enabled bool   `yaml:"enabled" envconfig:"SPINDLE_API_ENABLED"`
	Listen  string `yaml:"listen" envconfig:"SPINDLE_API_LISTEN"`
}

// Profiles locates the profile database.
type Profiles struct {
	Path string `yaml:"path" envconfig:"SPINDLE_PROFILES_PATH"`
}

// AppConf describes how workers for one application are spawned.
type AppConf struct {
	Entrypoint string   `yaml:"entrypoint"`
	Args       []string `yaml:"args"`
}

// Load reads, interpolates, and validates the configuration at path.
// Environment variables prefixed SPINDLE_ override file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// interpolateEnv replaces ${VAR} with the value of VAR. Unset variables
// interpolate to the empty string.
func interpolateEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := envVarPattern.FindStringSubmatch(m)[1]
		return os.Getenv(name)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "spindled"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "INFO"
	}
	if cfg.Transport.URL == "" {
		cfg.Transport.URL = "nats://127.0.0.1:4222"
	}
	if cfg.Transport.Subject == "" {
		cfg.Transport.Subject = "spindle.exec"
	}
	if cfg.Transport.NodeAddr == "" {
		cfg.Transport.NodeAddr = hostnameOr("localhost")
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8581"
	}
	if cfg.Profiles.Path == "" {
		cfg.Profiles.Path = "spindle.db"
	}
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}

func validate(cfg *Config) error {
	for name, app := range cfg.Apps {
		if app.Entrypoint == "" {
			return fmt.Errorf("app %q: entrypoint is required", name)
		}
	}
	return nil
}
