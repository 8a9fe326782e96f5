package rdmnet

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// AllocStrategy selects how Connection records and registry tree nodes
// are allocated at Core construction time (spec §9: "a single
// construction-time strategy, not compile-time conditionals").
type AllocStrategy string

const (
	// AllocDynamic uses the general allocator for every Connection.
	AllocDynamic AllocStrategy = "dynamic"
	// AllocPooled draws Connection records from a sync.Pool; Create
	// returns NoMem once MaxConnections handles are registered.
	AllocPooled AllocStrategy = "pooled"
)

// Config holds all configurable parameters for the connection core.
type Config struct {
	// Timing
	HeartbeatSendInterval time.Duration `yaml:"heartbeat_send_interval" default:"5s"`
	HeartbeatTimeout      time.Duration `yaml:"heartbeat_timeout" default:"15s"`
	TickInterval          time.Duration `yaml:"tick_interval" default:"1s"`

	// Backoff bounds
	BackoffMin     time.Duration `yaml:"backoff_min" default:"1000ms"`
	BackoffMax     time.Duration `yaml:"backoff_max" default:"5000ms"`
	BackoffCeiling time.Duration `yaml:"backoff_ceiling" default:"30000ms"`

	// I/O
	RecvBufferSize int  `yaml:"recv_buffer_size" default:"1220"`
	Blocking       bool `yaml:"blocking" default:"false"`

	// Resource bounds
	AllocStrategy  AllocStrategy `yaml:"alloc_strategy" default:"dynamic"`
	MaxConnections int           `yaml:"max_connections" default:"0"` // 0 = unbounded

	// Tick thread
	EnableTickThread bool `yaml:"enable_tick_thread" default:"true"`

	// Externally-managed sockets (attach_existing_socket)
	EnableExternalSockets bool `yaml:"enable_external_sockets" default:"true"`

	// Logging
	LogLevel string `yaml:"log_level" default:"info"`
}

// DefaultConfig returns a Config populated with the E1.33 draft defaults.
func DefaultConfig() *Config {
	return &Config{
		HeartbeatSendInterval: HeartbeatSendInterval,
		HeartbeatTimeout:      HeartbeatTimeout,
		TickInterval:          1 * time.Second,
		BackoffMin:            BackoffMin,
		BackoffMax:            BackoffMax,
		BackoffCeiling:        BackoffCeiling,
		RecvBufferSize:        DefaultRecvBufferSize,
		Blocking:              false,
		AllocStrategy:         AllocDynamic,
		MaxConnections:        0,
		EnableTickThread:      true,
		EnableExternalSockets: true,
		LogLevel:              "info",
	}
}

// LoadConfig loads configuration from a YAML file (if it exists), applies
// RDMNET_-prefixed environment variable overrides, then validates.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()

	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			data, err := os.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
			}
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
			}
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvironmentOverrides applies RDMNET_-prefixed environment variable
// overrides on top of file/default values.
func (c *Config) applyEnvironmentOverrides() {
	if val := os.Getenv("RDMNET_HEARTBEAT_SEND_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.HeartbeatSendInterval = d
		}
	}
	if val := os.Getenv("RDMNET_HEARTBEAT_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.HeartbeatTimeout = d
		}
	}
	if val := os.Getenv("RDMNET_TICK_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.TickInterval = d
		}
	}
	if val := os.Getenv("RDMNET_RECV_BUFFER_SIZE"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.RecvBufferSize = i
		}
	}
	if val := os.Getenv("RDMNET_MAX_CONNECTIONS"); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			c.MaxConnections = i
		}
	}
	if val := os.Getenv("RDMNET_ALLOC_STRATEGY"); val != "" {
		c.AllocStrategy = AllocStrategy(strings.ToLower(val))
	}
	if val := os.Getenv("RDMNET_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("RDMNET_BLOCKING"); val != "" {
		c.Blocking = strings.EqualFold(val, "true")
	}
}

// Validate checks the configuration for internally-consistent values.
func (c *Config) Validate() error { //nolint:cyclop
	if c.HeartbeatSendInterval <= 0 {
		return fmt.Errorf("heartbeat_send_interval must be positive")
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("heartbeat_timeout must be positive")
	}
	if c.HeartbeatTimeout <= c.HeartbeatSendInterval {
		return fmt.Errorf("heartbeat_timeout must exceed heartbeat_send_interval")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.BackoffMin <= 0 {
		return fmt.Errorf("backoff_min must be positive")
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("backoff_max must be >= backoff_min")
	}
	if c.BackoffCeiling < c.BackoffMax {
		return fmt.Errorf("backoff_ceiling must be >= backoff_max")
	}
	if c.RecvBufferSize < acnRootLayerHeaderSize {
		return fmt.Errorf("recv_buffer_size must be at least %d bytes", acnRootLayerHeaderSize)
	}
	switch c.AllocStrategy {
	case AllocDynamic, AllocPooled:
	default:
		return fmt.Errorf("invalid alloc_strategy: %s", c.AllocStrategy)
	}
	if c.AllocStrategy == AllocPooled && c.MaxConnections <= 0 {
		return fmt.Errorf("max_connections must be positive when alloc_strategy is pooled")
	}
	validLogLevels := []string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}
	valid := false
	for _, level := range validLogLevels {
		if strings.EqualFold(c.LogLevel, level) {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("invalid log_level: %s (valid: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	return nil
}

// Save writes the configuration to filename as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}
	return nil
}

// String returns the YAML representation of the configuration.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
