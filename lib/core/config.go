// Package core assembles a channel provider from configuration: it loads
// TOML settings, builds the authenticator and transport factory they
// describe, and opens the pooled channel provider over them.
package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/opaldb/opal-go/lib/auth"
	"github.com/opaldb/opal-go/lib/channel"
	"github.com/opaldb/opal-go/lib/transport"
)

// Default configuration values
const (
	DefaultHost                 = "127.0.0.1"
	DefaultMaxSize              = 100
	DefaultMaxWaitQueueSize     = 500
	DefaultMaxWaitTime          = 2 * time.Minute
	DefaultMaintenanceFrequency = time.Minute
	DefaultDialTimeout          = 10 * time.Second
)

// Config holds all configuration for a driver connection pool.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Pool      PoolConfig      `toml:"pool"`
	Auth      AuthConfig      `toml:"auth"`
	Transport TransportConfig `toml:"transport"`
}

// ServerConfig identifies the endpoint the pool serves.
type ServerConfig struct {
	// Host is the server hostname or IP
	Host string `toml:"host"`
	// Port is the server TCP port; zero uses the default port
	Port int `toml:"port"`
}

// PoolConfig contains connection pool settings.
type PoolConfig struct {
	// MaxSize is the hard cap on live connections
	MaxSize int `toml:"max_size"`
	// MinSize is the floor maintenance tries to maintain
	MinSize int `toml:"min_size"`
	// MaxWaitQueueSize bounds concurrent waiters
	MaxWaitQueueSize int `toml:"max_wait_queue_size"`
	// MaxWaitTime is the default acquisition timeout; zero is
	// non-blocking and negative waits indefinitely
	MaxWaitTime time.Duration `toml:"max_wait_time"`
	// MaxIdleTime prunes connections unused for longer; zero disables
	MaxIdleTime time.Duration `toml:"max_idle_time"`
	// MaxLifeTime prunes connections older than this; zero disables
	MaxLifeTime time.Duration `toml:"max_life_time"`
	// MaintenanceFrequency is the period of the maintenance task
	MaintenanceFrequency time.Duration `toml:"maintenance_frequency"`
	// MaintenanceInitialDelay delays the first maintenance run
	MaintenanceInitialDelay time.Duration `toml:"maintenance_initial_delay"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	// Mechanism is the SASL mechanism ("PLAIN", "SCRAM-SHA-256").
	// Empty disables authentication.
	Mechanism string `toml:"mechanism"`
	// Username is the account name
	Username string `toml:"username"`
	// Password is the account secret
	Password string `toml:"password"`
	// PasswordFile is a file to read the password from instead
	PasswordFile string `toml:"password_file"`
	// Source is the database the credential is defined on
	Source string `toml:"source"`
}

// TransportConfig contains socket-level settings.
type TransportConfig struct {
	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `toml:"dial_timeout"`
	// IOTimeout bounds each send and receive; zero disables
	IOTimeout time.Duration `toml:"io_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: transport.DefaultPort,
		},
		Pool: PoolConfig{
			MaxSize:              DefaultMaxSize,
			MaxWaitQueueSize:     DefaultMaxWaitQueueSize,
			MaxWaitTime:          DefaultMaxWaitTime,
			MaintenanceFrequency: DefaultMaintenanceFrequency,
		},
		Transport: TransportConfig{
			DialTimeout: DefaultDialTimeout,
		},
	}
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 0 and 65535")
	}
	if err := c.PoolSettings().Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if c.Auth.Mechanism != "" {
		switch c.Auth.Mechanism {
		case auth.MechanismPlain, auth.MechanismScramSHA256:
		default:
			return fmt.Errorf("auth.mechanism %q is not supported", c.Auth.Mechanism)
		}
		if c.Auth.Username == "" {
			return errors.New("auth.username is required when a mechanism is set")
		}
		if c.Auth.Password != "" && c.Auth.PasswordFile != "" {
			return errors.New("auth.password and auth.password_file are mutually exclusive")
		}
	}
	if c.Transport.DialTimeout < 0 {
		return errors.New("transport.dial_timeout must not be negative")
	}
	if c.Transport.IOTimeout < 0 {
		return errors.New("transport.io_timeout must not be negative")
	}
	return nil
}

// ServerAddress returns the configured endpoint.
func (c *Config) ServerAddress() transport.ServerAddress {
	return transport.NewServerAddress(c.Server.Host, c.Server.Port)
}

// PoolSettings maps the pool section onto channel settings.
func (c *Config) PoolSettings() channel.Settings {
	return channel.Settings{
		MaxSize:                 c.Pool.MaxSize,
		MinSize:                 c.Pool.MinSize,
		MaxWaitQueueSize:        c.Pool.MaxWaitQueueSize,
		MaxWaitTime:             c.Pool.MaxWaitTime,
		MaxIdleTime:             c.Pool.MaxIdleTime,
		MaxLifeTime:             c.Pool.MaxLifeTime,
		MaintenanceFrequency:    c.Pool.MaintenanceFrequency,
		MaintenanceInitialDelay: c.Pool.MaintenanceInitialDelay,
	}
}

// Credential builds the auth credential, resolving the password file if
// one is configured.
func (c *Config) Credential() (auth.Credential, error) {
	password := c.Auth.Password
	if c.Auth.PasswordFile != "" {
		data, err := os.ReadFile(c.Auth.PasswordFile)
		if err != nil {
			return auth.Credential{}, fmt.Errorf("reading password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
	}

	return auth.Credential{
		Username: c.Auth.Username,
		Password: password,
		Source:   c.Auth.Source,
	}, nil
}
