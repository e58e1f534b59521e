package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds daemon configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	// CallRateLimit caps outgoing call attempts per minute; 0 disables it.
	CallRateLimit int `mapstructure:"call_rate_limit" yaml:"call_rate_limit"`

	// IdentityPrefix is prepended to the user id to build the transport identity.
	IdentityPrefix string `mapstructure:"identity_prefix" yaml:"identity_prefix"`

	JWT          JWTConfig          `mapstructure:"jwt" yaml:"jwt"`
	Signaling    SignalingConfig    `mapstructure:"signaling" yaml:"signaling"`
	ICEServers   []string           `mapstructure:"ice_servers" yaml:"ice_servers"`
	Registration RegistrationConfig `mapstructure:"registration" yaml:"registration"`
}

// JWTConfig validates identity tokens issued by the web application.
type JWTConfig struct {
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	Issuer   string        `mapstructure:"issuer" yaml:"issuer"`
	Audience string        `mapstructure:"audience" yaml:"audience"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"` // for tokens minted by the CLI
}

// SignalingConfig points at the signaling server of the call transport.
type SignalingConfig struct {
	URL               string        `mapstructure:"url" yaml:"url"`
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret         string        `mapstructure:"api_secret" yaml:"api_secret"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	DialTimeout       time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
}

// RegistrationConfig controls identity collision backoff.
type RegistrationConfig struct {
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              "127.0.0.1:8790",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "wirecall.db",
		CallRateLimit:     30,
		IdentityPrefix:    "wirecall",
		JWT: JWTConfig{
			Secret:   "change-me-in-production",
			Issuer:   "wirecall",
			Audience: "wirecall",
			TTL:      24 * time.Hour,
		},
		Signaling: SignalingConfig{
			URL:               "ws://127.0.0.1:9000/peerjs",
			APIKey:            "devkey",
			APISecret:         "devsecret-change-me-please-32chars",
			TokenTTL:          time.Hour,
			HeartbeatInterval: 5 * time.Second,
			DialTimeout:       10 * time.Second,
		},
		ICEServers: []string{"stun:stun.l.google.com:19302"},
		Registration: RegistrationConfig{
			BaseDelay:      2 * time.Second,
			MaxDelay:       10 * time.Second,
			AttemptTimeout: 15 * time.Second,
		},
	}
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Signaling.URL == "" {
		errs = append(errs, errors.New("signaling.url is required"))
	}
	if c.Registration.BaseDelay <= 0 || c.Registration.MaxDelay < c.Registration.BaseDelay {
		errs = append(errs, fmt.Errorf("registration delays invalid: base %s, max %s",
			c.Registration.BaseDelay, c.Registration.MaxDelay))
	}
	if c.CallRateLimit < 0 {
		errs = append(errs, errors.New("call_rate_limit must not be negative"))
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q: want console or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Command-line flags use it to override loaded values.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		c.LogFormat = other.LogFormat
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.Signaling.URL != "" {
		c.Signaling.URL = other.Signaling.URL
	}
}
