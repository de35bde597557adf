package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrev/pairdb/pkg/gossip"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AdvertiseAddr   string        `yaml:"advertise_addr"`
	MaxConnections  int           `yaml:"max_connections"`
	MaxMessageSize  int           `yaml:"max_message_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// CoordinatorConfig holds coordinator client configuration
type CoordinatorConfig struct {
	Addrs             []string      `yaml:"addrs"`
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`
	RPCTimeout        time.Duration `yaml:"rpc_timeout"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	MaxRetries        int           `yaml:"max_retries"`
}

// ReplicationConfig holds replica placement configuration. A key lives on
// Factor+1 nodes, matching the gateway's router.replication_factor.
type ReplicationConfig struct {
	Factor         int           `yaml:"factor"`
	ForwardWrites  bool          `yaml:"forward_writes"`
	ForwardTimeout time.Duration `yaml:"forward_timeout"`
}

// TransferConfig holds bulk transfer configuration
type TransferConfig struct {
	PortOffset   int           `yaml:"port_offset"`
	Compression  bool          `yaml:"compression"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	BatchSize    int           `yaml:"batch_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	IOTimeout    time.Duration `yaml:"io_timeout"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// TombstoneConfig holds tombstone retention configuration
type TombstoneConfig struct {
	MinRetention time.Duration `yaml:"min_retention"`
	MaxRetention time.Duration `yaml:"max_retention"`
	MemoryBudget int64         `yaml:"memory_budget"`
	GCInterval   time.Duration `yaml:"gc_interval"`
}

// LimitsConfig holds request size limits
type LimitsConfig struct {
	MaxKeySize   int `yaml:"max_key_size"`
	MaxValueSize int `yaml:"max_value_size"`
}

// Config represents the complete configuration for the storage node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Replication ReplicationConfig `yaml:"replication"`
	Transfer    TransferConfig    `yaml:"transfer"`
	Tombstone   TombstoneConfig   `yaml:"tombstone"`
	Limits      LimitsConfig      `yaml:"limits"`
	Gossip      gossip.Config     `yaml:"gossip"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Health      HealthConfig      `yaml:"health"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Port           int           `yaml:"port"`
	Path           string        `yaml:"path"`
	SampleInterval time.Duration `yaml:"sample_interval"`
}

// HealthConfig holds health server configuration
type HealthConfig struct {
	Port           int           `yaml:"port"`
	CheckInterval  time.Duration `yaml:"check_interval"`
	ContactTimeout time.Duration `yaml:"contact_timeout"`
	MemoryLimit    uint64        `yaml:"memory_limit"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Addr returns the address coordinators and peers use to reach this node
func (s ServerConfig) Addr() string {
	if s.AdvertiseAddr != "" {
		return s.AdvertiseAddr
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// TransferAddr returns the bulk transfer listen address
func (c *Config) TransferAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port+c.Transfer.PortOffset))
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 50052
	}
	if cfg.Server.NodeID == "" {
		cfg.Server.NodeID = cfg.Server.Addr()
	}
	if cfg.Server.MaxConnections == 0 {
		cfg.Server.MaxConnections = 1000
	}
	if cfg.Server.MaxMessageSize == 0 {
		cfg.Server.MaxMessageSize = 16 * 1024 * 1024
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	// Coordinator defaults
	if len(cfg.Coordinator.Addrs) == 0 {
		cfg.Coordinator.Addrs = []string{"localhost:50051"}
	}
	if cfg.Coordinator.KeepAliveInterval == 0 {
		cfg.Coordinator.KeepAliveInterval = time.Second
	}
	if cfg.Coordinator.RPCTimeout == 0 {
		cfg.Coordinator.RPCTimeout = 5 * time.Second
	}
	if cfg.Coordinator.RetryInterval == 0 {
		cfg.Coordinator.RetryInterval = 5 * time.Second
	}
	if cfg.Coordinator.MaxRetries == 0 {
		cfg.Coordinator.MaxRetries = 10
	}

	if cfg.Replication.Factor == 0 {
		cfg.Replication.Factor = 2
	}
	if cfg.Replication.ForwardTimeout == 0 {
		cfg.Replication.ForwardTimeout = 2 * time.Second
	}

	if cfg.Transfer.PortOffset == 0 {
		cfg.Transfer.PortOffset = 1000
	}
	if cfg.Transfer.Workers == 0 {
		cfg.Transfer.Workers = 4
	}
	if cfg.Transfer.QueueSize == 0 {
		cfg.Transfer.QueueSize = 64
	}
	if cfg.Transfer.BatchSize == 0 {
		cfg.Transfer.BatchSize = 1000
	}
	if cfg.Transfer.DialTimeout == 0 {
		cfg.Transfer.DialTimeout = 5 * time.Second
	}
	if cfg.Transfer.IOTimeout == 0 {
		cfg.Transfer.IOTimeout = 30 * time.Second
	}
	if cfg.Transfer.SendTimeout == 0 {
		cfg.Transfer.SendTimeout = 5 * time.Minute
	}
	if cfg.Transfer.MaxAttempts == 0 {
		cfg.Transfer.MaxAttempts = 3
	}
	if cfg.Transfer.RetryBackoff == 0 {
		cfg.Transfer.RetryBackoff = time.Second
	}

	if cfg.Tombstone.MinRetention == 0 {
		cfg.Tombstone.MinRetention = time.Minute
	}
	if cfg.Tombstone.MaxRetention == 0 {
		cfg.Tombstone.MaxRetention = time.Hour
	}
	if cfg.Tombstone.MemoryBudget == 0 {
		cfg.Tombstone.MemoryBudget = 64 * 1024 * 1024 // 64MB
	}
	if cfg.Tombstone.GCInterval == 0 {
		cfg.Tombstone.GCInterval = 10 * time.Second
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9091
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.SampleInterval == 0 {
		cfg.Metrics.SampleInterval = 15 * time.Second
	}
	if cfg.Health.Port == 0 {
		cfg.Health.Port = 8081
	}
	if cfg.Health.CheckInterval == 0 {
		cfg.Health.CheckInterval = 10 * time.Second
	}
	if cfg.Health.ContactTimeout == 0 {
		cfg.Health.ContactTimeout = 10 * cfg.Coordinator.KeepAliveInterval
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if port := c.Server.Port + c.Transfer.PortOffset; port < 1 || port > 65535 {
		return fmt.Errorf("transfer.port_offset puts the transfer port out of range: %d", port)
	}
	if c.Replication.Factor < 1 {
		return fmt.Errorf("replication.factor must be at least 1")
	}
	if c.Tombstone.MaxRetention < c.Tombstone.MinRetention {
		return fmt.Errorf("tombstone.max_retention must not be shorter than tombstone.min_retention")
	}
	if c.Tombstone.MemoryBudget < 0 {
		return fmt.Errorf("tombstone.memory_budget must not be negative")
	}
	for _, addr := range c.Coordinator.Addrs {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("coordinator.addrs: invalid address %q: %w", addr, err)
		}
	}
	if len(c.Coordinator.Addrs) > 2 {
		return fmt.Errorf("coordinator.addrs accepts at most two coordinators")
	}
	return nil
}
