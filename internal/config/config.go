// Package config provides configuration loading and defaults for the forwarding bot.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backend names accepted in StoreConfig.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// ServerConfig holds the liveness/admin HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// AuthToken guards the /mcp admin endpoint. Empty leaves /mcp unmounted.
	AuthToken string `yaml:"auth_token"`
}

// DiscordConfig holds Discord bot credentials and slash command targeting.
type DiscordConfig struct {
	Token string `yaml:"token"`
	// CommandGuildIDs registers slash commands per guild (instant update)
	// instead of globally when non-empty.
	CommandGuildIDs []string `yaml:"command_guild_ids"`
}

// StoreConfig selects and configures the mapping store.
type StoreConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisKey      string `yaml:"redis_key"`
}

// QueueConfig controls the inbound message event queue.
type QueueConfig struct {
	MaxSize int `yaml:"max_size"`
	Workers int `yaml:"workers"`
}

// DispatchConfig controls how messages are matched and forwarded.
type DispatchConfig struct {
	// CrossGuildScan also matches mappings stored under other guilds whose
	// source channel ID equals the message's channel ID.
	CrossGuildScan bool   `yaml:"cross_guild_scan"`
	Prefix         string `yaml:"prefix"`
}

// GuildFilter holds allowlist and denylist entries for guild IDs.
type GuildFilter struct {
	Allowlist []string `yaml:"allowlist"`
	Denylist  []string `yaml:"denylist"`
}

// SafetyConfig groups guild filters.
type SafetyConfig struct {
	Guilds GuildFilter `yaml:"guilds"`
}

// AuditConfig controls audit logging of mapping changes.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	LogPath string `yaml:"log_path"`
}

// LoggingConfig controls structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Discord  DiscordConfig  `yaml:"discord"`
	Store    StoreConfig    `yaml:"store"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Safety   SafetyConfig   `yaml:"safety"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoadConfig reads and parses a YAML configuration file from the given path.
// On error, nil is returned for the config pointer.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadConfigWithDefaults reads path on top of DefaultConfig, so keys missing
// from the file keep their default values.
func LoadConfigWithDefaults(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a new Config populated with sensible default values.
// Each call returns a distinct instance.
//
// Defaults:
//   - Server.Port = 3000
//   - Store.Backend = "file", Store.Path = "mappings.json"
//   - Store.RedisKey = "invictus:mappings"
//   - Queue.MaxSize = 1000, Queue.Workers = 1
//   - Dispatch.Prefix = "Forwarded message: "
//   - Audit.Enabled = true, Audit.LogPath = "audit.log"
//   - Logging.Level = "info", Logging.Format = "text"
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 3000,
		},
		Store: StoreConfig{
			Backend:  BackendFile,
			Path:     "mappings.json",
			RedisKey: "invictus:mappings",
		},
		Queue: QueueConfig{
			MaxSize: 1000,
			Workers: 1,
		},
		Dispatch: DispatchConfig{
			Prefix: "Forwarded message: ",
		},
		Audit: AuditConfig{
			Enabled: true,
			LogPath: "audit.log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// envOverrides lists the environment variables that override file values.
type envOverrides struct {
	DiscordToken string `env:"DISCORD_TOKEN"`
	MappingsFile string `env:"MAPPINGS_FILE"`
	Port         int    `env:"PORT"`
	StoreBackend string `env:"STORE_BACKEND"`
	RedisAddr    string `env:"REDIS_ADDR"`
	AuthToken    string `env:"ADMIN_AUTH_TOKEN"`
	LogLevel     string `env:"LOG_LEVEL"`
	LogFormat    string `env:"LOG_FORMAT"`
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnvOverrides updates cfg in place with values from environment variables.
// Only non-empty (non-zero) values override existing config values.
//
// Recognized variables:
//   - DISCORD_TOKEN    -> cfg.Discord.Token
//   - MAPPINGS_FILE    -> cfg.Store.Path
//   - PORT             -> cfg.Server.Port
//   - STORE_BACKEND    -> cfg.Store.Backend
//   - REDIS_ADDR       -> cfg.Store.RedisAddr
//   - ADMIN_AUTH_TOKEN -> cfg.Server.AuthToken
//   - LOG_LEVEL        -> cfg.Logging.Level
//   - LOG_FORMAT       -> cfg.Logging.Format
func ApplyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.DiscordToken != "" {
		cfg.Discord.Token = o.DiscordToken
	}
	if o.MappingsFile != "" {
		cfg.Store.Path = o.MappingsFile
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.StoreBackend != "" {
		cfg.Store.Backend = o.StoreBackend
	}
	if o.RedisAddr != "" {
		cfg.Store.RedisAddr = o.RedisAddr
	}
	if o.AuthToken != "" {
		cfg.Server.AuthToken = o.AuthToken
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Logging.Format = o.LogFormat
	}
	return nil
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return errors.New("config: discord token is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Server.Port)
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("config: store path is required for backend %q", c.Store.Backend)
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("config: redis_addr is required for backend \"redis\"")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Store.Backend)
	}
	return nil
}
