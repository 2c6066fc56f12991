// Package config loads the hub/agent's typed configuration from environment
// variables, a config file, and defaults, using viper exactly as the
// teacher's internal/common/config does, trimmed to this spec's components.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every subsystem's settings.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	AgentLink  AgentLinkConfig  `mapstructure:"agentLink"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Repository RepositoryConfig `mapstructure:"repository"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Agent      AgentProcConfig  `mapstructure:"agent"`
}

// ServerConfig is the hub's HTTP/WebSocket listener configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// DatabaseConfig selects and configures the C11 persistence backend.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // "sqlite" | "postgres"
	Path     string `mapstructure:"path"`   // sqlite file path
	DSN      string `mapstructure:"dsn"`    // postgres connection string
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// NATSConfig configures the optional NATS-backed event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentLinkConfig governs agent connection liveness (§5).
type AgentLinkConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	OfflineGrace      time.Duration `mapstructure:"offlineGrace"` // default 30s, §4.8
}

// VaultConfig points at the credential vault's master key material (C5).
type VaultConfig struct {
	KeyPath string `mapstructure:"keyPath"`
}

// RepositoryConfig sets C4's defaults (§6 recognized settings keys).
type RepositoryConfig struct {
	DefaultConnectionTimeout time.Duration `mapstructure:"defaultConnectionTimeout"`
	DefaultRetryCount        int           `mapstructure:"defaultRetryCount"`
	WorkspaceBasePath        string        `mapstructure:"workspaceBasePath"`
}

// LoggingConfig selects the ambient logger's level/format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentProcConfig is read only by cmd/agent: which hub to dial and which
// local agent identity/secret to register with.
type AgentProcConfig struct {
	HubURL      string   `mapstructure:"hubUrl"`
	AgentID     string   `mapstructure:"agentId"`
	Name        string   `mapstructure:"name"`
	Secret      string   `mapstructure:"secret"`
	MaxWorkers  int      `mapstructure:"maxWorkers"`
	AllowTools  []string `mapstructure:"allowTools"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./hub.db")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	v.SetDefault("nats.maxReconnects", 10)

	v.SetDefault("agentLink.heartbeatInterval", 10*time.Second)
	v.SetDefault("agentLink.offlineGrace", 30*time.Second)

	v.SetDefault("vault.keyPath", "./hub.key")

	v.SetDefault("repository.defaultConnectionTimeout", 10*time.Second)
	v.SetDefault("repository.defaultRetryCount", 3)
	v.SetDefault("repository.workspaceBasePath", "workspaces")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("agent.maxWorkers", 2)
}

// Load reads configuration from (in increasing precedence) defaults, an
// optional config file named configName under configPath, and HUB_-prefixed
// environment variables, matching the teacher's layered precedence.
func Load(configName, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configName != "" {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		if configPath != "" {
			v.AddConfigPath(configPath)
		}
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants that must hold before the process boots (§7:
// fatal startup errors).
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	return nil
}
