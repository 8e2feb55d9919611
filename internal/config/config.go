// Package config loads the daemon/CLI configuration: broker address,
// default receive batch size, session-store directory, and the local
// control surface bind address. YAML on disk, overridable by ${VAR} /
// ${VAR:default} substitution, matching the teacher's config loader shape.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon/CLI configuration.
type Config struct {
	Broker       BrokerConfig       `yaml:"broker" json:"broker"`
	Receive      ReceiveConfig      `yaml:"receive" json:"receive"`
	SessionStore SessionStoreConfig `yaml:"session_store" json:"session_store"`
	LocalControl LocalControlConfig `yaml:"local_control" json:"local_control"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" json:"metrics"`
}

// BrokerConfig describes how to reach the messaging broker.
type BrokerConfig struct {
	// ControlAddr is the control/session endpoint (HTTP or WS), e.g.
	// "https://broker.example.com" or "wss://broker.example.com/ws".
	ControlAddr string `yaml:"control_addr" json:"control_addr"`
	// DatagramAddr is the HTTP datagram-bridge endpoint, empty disables it.
	DatagramAddr string `yaml:"datagram_addr,omitempty" json:"datagram_addr,omitempty"`
	// APIKeyScope is "public" or "private" per the handshake request.
	APIKeyScope string `yaml:"api_key_scope" json:"api_key_scope"`
	// APIKeySecret signs the bearer token a private-scope handshake
	// carries; ignored when APIKeyScope is "public".
	APIKeySecret string `yaml:"api_key_secret,omitempty" json:"api_key_secret,omitempty"`
	// DialTimeout is read from the config file but is not passed to the
	// transports; they apply their own fixed request and dial timeouts.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
}

// ReceiveConfig holds the default pull size; §9 Open Questions: "default
// limit is 20 in the source... expose it as configurable".
type ReceiveConfig struct {
	DefaultLimit uint32        `yaml:"default_limit" json:"default_limit"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// SessionStoreConfig points at the per-channel session-id persistence file
// directory (spec §6 "Persisted state").
type SessionStoreConfig struct {
	Directory string `yaml:"directory" json:"directory"`
}

// LocalControlConfig configures the line-delimited JSON control surface.
type LocalControlConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	BindAddr   string `yaml:"bind_addr" json:"bind_addr"` // loopback-only by convention
	AuthTokenEnv string `yaml:"auth_token_env,omitempty" json:"auth_token_env,omitempty"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"` // debug, info, warn, error
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
	Path    string `yaml:"path" json:"path"`
}

// Default returns sane defaults matching spec §9's default-limit decision.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			APIKeyScope: "public",
			DialTimeout: 10 * time.Second,
		},
		Receive: ReceiveConfig{
			DefaultLimit: 20,
			PollInterval: 2 * time.Second,
		},
		SessionStore: SessionStoreConfig{
			Directory: "", // empty means os.UserHomeDir()
		},
		LocalControl: LocalControlConfig{
			Enabled:  true,
			BindAddr: "127.0.0.1:8842",
		},
		Logging: LoggingConfig{Level: "info"},
		Metrics: MetricsConfig{Enabled: true, Addr: "127.0.0.1:9842", Path: "/metrics"},
	}
}

// Load reads and parses a YAML config file, applying ${VAR}/${VAR:default}
// substitution to every string field before unmarshaling.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	substituted := SubstituteEnvVars(string(raw))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(substituted), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// SubstituteEnvVars replaces ${VAR} or ${VAR:default} with environment
// variable values. An unset or empty variable takes the default, and the
// empty string when no default is given.
func SubstituteEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
