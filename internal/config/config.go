// Package config loads process configuration: where the policy, audit log
// and state database live, logging, the server address and the operator
// TOTP secret. Policy rules themselves live in the policy YAML.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config is the process configuration.
type Config struct {
	PolicyPath string         `mapstructure:"policy_path"`
	AuditLog   string         `mapstructure:"audit_log"`
	StateDB    string         `mapstructure:"state_db"`
	Log        LogConfig      `mapstructure:"log"`
	Server     ServerConfig   `mapstructure:"server"`
	Operator   OperatorConfig `mapstructure:"operator"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ServerConfig is the gRPC listener and its maintenance loop.
type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// OperatorConfig protects remote operator controls. An empty TOTPSecret
// disables the check.
type OperatorConfig struct {
	TOTPSecret string `mapstructure:"totp_secret"`
}

// Dir returns ~/.toolgate.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".toolgate"
	}
	return filepath.Join(home, ".toolgate")
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns the built-in process configuration.
func DefaultConfig() *Config {
	dir := Dir()
	return &Config{
		PolicyPath: filepath.Join(dir, "policy.yaml"),
		AuditLog:   filepath.Join(dir, "audit.jsonl"),
		StateDB:    filepath.Join(dir, "state.db"),
		Log:        LogConfig{Level: "info"},
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          50071,
			PurgeInterval: time.Minute,
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("policy_path", cfg.PolicyPath)
	v.SetDefault("audit_log", cfg.AuditLog)
	v.SetDefault("state_db", cfg.StateDB)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.purge_interval", cfg.Server.PurgeInterval)
	v.SetDefault("operator.totp_secret", cfg.Operator.TOTPSecret)
}

// Load reads the config file at path (Path() when empty) and applies
// TOOLGATE_* environment overrides, e.g. TOOLGATE_SERVER_PORT. A missing
// file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	cfg := DefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.ErrorUnused = false
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and normalizes the log level.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AuditLog) == "" {
		return fmt.Errorf("audit_log must not be empty")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.PurgeInterval < 0 {
		return fmt.Errorf("server.purge_interval must not be negative")
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		level = "info"
	}
	switch level {
	case "debug", "info", "warn", "error":
		c.Log.Level = level
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	return nil
}
