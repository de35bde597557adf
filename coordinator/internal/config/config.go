package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/devrev/pairdb/pkg/gossip"
)

// Config represents the coordinator service configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Partner  PartnerConfig  `mapstructure:"partner"`
	Replace  ReplaceConfig  `mapstructure:"replace"`
	Store    StoreConfig    `mapstructure:"store"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Gossip   gossip.Config  `mapstructure:"gossip"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Health   HealthConfig   `mapstructure:"health"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents gRPC server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AdvertiseAddr   string        `mapstructure:"advertise_addr"`
	MaxMessageSize  int           `mapstructure:"max_message_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PartnerConfig points at the redundant coordinator
type PartnerConfig struct {
	Addr string `mapstructure:"addr"`
}

// ReplaceConfig tunes the replace protocol
type ReplaceConfig struct {
	AutoReplace           bool          `mapstructure:"auto_replace"`
	DelaySteps            int           `mapstructure:"delay_steps"`
	StepInterval          time.Duration `mapstructure:"step_interval"`
	PartnerSyncSteps      int           `mapstructure:"partner_sync_steps"`
	KeepAliveTimeoutSteps int           `mapstructure:"keepalive_timeout_steps"`
	RPCTimeout            time.Duration `mapstructure:"rpc_timeout"`
	BroadcastConcurrency  int           `mapstructure:"broadcast_concurrency"`
}

// StoreConfig selects where rings are persisted
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Cluster string `mapstructure:"cluster"`
}

// DatabaseConfig represents PostgreSQL seed store configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MinConnections int    `mapstructure:"min_connections"`
}

// RedisConfig represents Redis seed store configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// HealthConfig represents the health check server configuration
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Addr returns the address peers use to reach this coordinator
func (s ServerConfig) Addr() string {
	if s.AdvertiseAddr != "" {
		return s.AdvertiseAddr
	}
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if c.Partner.Addr != "" && c.Partner.Addr == c.Server.Addr() {
		return errors.New("partner.addr must differ from this coordinator's address")
	}
	if c.Replace.StepInterval <= 0 {
		return errors.New("replace.step_interval must be positive")
	}
	if c.Replace.DelaySteps < 0 || c.Replace.PartnerSyncSteps < 0 || c.Replace.KeepAliveTimeoutSteps < 0 {
		return errors.New("replace step counts must not be negative")
	}
	if c.Replace.RPCTimeout <= 0 {
		return errors.New("replace.rpc_timeout must be positive")
	}
	switch c.Store.Backend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			return errors.New("redis.host is required")
		}
	case "postgres":
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
	default:
		return fmt.Errorf("store.backend must be one of: memory, redis, postgres (got %q)", c.Store.Backend)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            50051,
			MaxMessageSize:  10 * 1024 * 1024,
			ShutdownTimeout: 30 * time.Second,
		},
		Replace: ReplaceConfig{
			AutoReplace:           true,
			DelaySteps:            5,
			StepInterval:          time.Second,
			PartnerSyncSteps:      10,
			KeepAliveTimeoutSteps: 10,
			RPCTimeout:            5 * time.Second,
			BroadcastConcurrency:  16,
		},
		Store: StoreConfig{
			Backend: "memory",
			Cluster: "default",
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			Database:       "pairdb_metadata",
			User:           "coordinator",
			MaxConnections: 10,
			MinConnections: 1,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Gossip: gossip.Config{
			Enabled:  false,
			BindPort: 7946,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
