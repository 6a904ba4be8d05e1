// Package config loads the receiver/sender configuration surface from
// spec §6: a YAML file overridable by environment variables, validated
// and defaulted before use.
//
// Grounded on the teacher's internal/config/config.go: read-file (if
// present) -> env overrides -> validate -> setDefaults pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Role selects which half of the protocol this process runs, and
// which role within that half (spec §6's configuration surface).
type Role string

const (
	RoleReceiverClient Role = "receiver-client"
	RoleReceiverServer Role = "receiver-server"
	RoleSender         Role = "sender"
)

// Config is the top-level document. Only the section matching Role is
// populated/required; the others are ignored.
type Config struct {
	Role     Role           `yaml:"role"`
	Receiver ReceiverConfig `yaml:"receiver"`
	Sender   SenderConfig   `yaml:"sender"`
	Log      LogConfig      `yaml:"log"`
}

// ReceiverConfig covers both receiver roles from spec §6:
//   - client role: {host required, port required 1..65535}
//   - server role: {port required, password required non-empty}
type ReceiverConfig struct {
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Password               string        `yaml:"password"`
	AsyncWorkers           int           `yaml:"async_workers"`
	InitialResponseTimeout time.Duration `yaml:"initial_response_timeout"`
	LoginRatePerSecond     float64       `yaml:"login_rate_per_second"`
	LoginRateBurst         int           `yaml:"login_rate_burst"`
}

// SenderConfig is the symmetric counterpart (spec §6: "sender:
// symmetric pair").
type SenderConfig struct {
	Host                   string        `yaml:"host"`
	Port                   int           `yaml:"port"`
	Password               string        `yaml:"password"`
	ServerRole             bool          `yaml:"server_role"`
	InitialResponseTimeout time.Duration `yaml:"initial_response_timeout"`
	MaxRetries             int           `yaml:"max_retries"`
}

// LogConfig tunes the AMBIENT STACK's structured logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads path (if it exists), applies environment overrides,
// validates, then fills in defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file — continue with env vars + defaults
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) applyEnvOverrides() {
	envString("CROWDLINK_ROLE", (*string)(&c.Role))
	envString("CROWDLINK_LOG_LEVEL", &c.Log.Level)

	envString("CROWDLINK_RECEIVER_HOST", &c.Receiver.Host)
	envInt("CROWDLINK_RECEIVER_PORT", &c.Receiver.Port)
	envString("CROWDLINK_RECEIVER_PASSWORD", &c.Receiver.Password)
	envInt("CROWDLINK_RECEIVER_ASYNC_WORKERS", &c.Receiver.AsyncWorkers)
	envDuration("CROWDLINK_RECEIVER_INITIAL_RESPONSE_TIMEOUT", &c.Receiver.InitialResponseTimeout)
	envFloat("CROWDLINK_RECEIVER_LOGIN_RATE_PER_SECOND", &c.Receiver.LoginRatePerSecond)
	envInt("CROWDLINK_RECEIVER_LOGIN_RATE_BURST", &c.Receiver.LoginRateBurst)

	envString("CROWDLINK_SENDER_HOST", &c.Sender.Host)
	envInt("CROWDLINK_SENDER_PORT", &c.Sender.Port)
	envString("CROWDLINK_SENDER_PASSWORD", &c.Sender.Password)
	envBool("CROWDLINK_SENDER_SERVER_ROLE", &c.Sender.ServerRole)
	envDuration("CROWDLINK_SENDER_INITIAL_RESPONSE_TIMEOUT", &c.Sender.InitialResponseTimeout)
	envInt("CROWDLINK_SENDER_MAX_RETRIES", &c.Sender.MaxRetries)
}

func (c *Config) validate() error {
	switch c.Role {
	case RoleReceiverClient:
		if c.Receiver.Host == "" {
			return fmt.Errorf("receiver.host is required for role %q", c.Role)
		}
		if c.Receiver.Port < 1 || c.Receiver.Port > 65535 {
			return fmt.Errorf("receiver.port must be in 1..65535")
		}
	case RoleReceiverServer:
		if c.Receiver.Port < 1 || c.Receiver.Port > 65535 {
			return fmt.Errorf("receiver.port must be in 1..65535")
		}
		if c.Receiver.Password == "" {
			return fmt.Errorf("receiver.password is required for role %q", c.Role)
		}
	case RoleSender:
		if c.Sender.Port < 1 || c.Sender.Port > 65535 {
			return fmt.Errorf("sender.port must be in 1..65535")
		}
		if c.Sender.ServerRole {
			if c.Sender.Password == "" {
				return fmt.Errorf("sender.password is required when sender.server_role is true")
			}
		} else if c.Sender.Host == "" {
			return fmt.Errorf("sender.host is required when sender.server_role is false")
		}
	default:
		return fmt.Errorf("role must be one of %q, %q, %q", RoleReceiverClient, RoleReceiverServer, RoleSender)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Receiver.AsyncWorkers == 0 {
		c.Receiver.AsyncWorkers = 16
	}
	if c.Receiver.InitialResponseTimeout == 0 {
		c.Receiver.InitialResponseTimeout = 15 * time.Second
	}
	if c.Receiver.LoginRatePerSecond == 0 {
		c.Receiver.LoginRatePerSecond = 1
	}
	if c.Receiver.LoginRateBurst == 0 {
		c.Receiver.LoginRateBurst = 5
	}
	if c.Sender.InitialResponseTimeout == 0 {
		c.Sender.InitialResponseTimeout = 15 * time.Second
	}
	if c.Sender.MaxRetries == 0 {
		c.Sender.MaxRetries = 7
	}
}

// Addr formats host:port for the active role.
func (c *Config) Addr() string {
	switch c.Role {
	case RoleSender:
		if c.Sender.ServerRole {
			return fmt.Sprintf(":%d", c.Sender.Port)
		}
		return fmt.Sprintf("%s:%d", c.Sender.Host, c.Sender.Port)
	default:
		if c.Role == RoleReceiverServer {
			return fmt.Sprintf(":%d", c.Receiver.Port)
		}
		return fmt.Sprintf("%s:%d", c.Receiver.Host, c.Receiver.Port)
	}
}
