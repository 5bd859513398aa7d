package config

import "time"

// Config holds client configuration values.
type Config struct {
	ServerURL   string        `mapstructure:"server_url" yaml:"server_url"`
	WSURL       string        `mapstructure:"ws_url" yaml:"ws_url"`
	LogLevel    string        `mapstructure:"log_level" yaml:"log_level"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout" yaml:"http_timeout"`
	// LoginGrace is how long a "username taken" error stays visible
	// before the session force-logs-out.
	LoginGrace time.Duration `mapstructure:"login_grace" yaml:"login_grace"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		ServerURL:   "http://localhost:3000",
		WSURL:       "ws://localhost:3000/ws",
		LogLevel:    "info",
		HTTPTimeout: 10 * time.Second,
		LoginGrace:  3 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.WSURL != "" {
		c.WSURL = other.WSURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HTTPTimeout != 0 {
		c.HTTPTimeout = other.HTTPTimeout
	}
	if other.LoginGrace != 0 {
		c.LoginGrace = other.LoginGrace
	}
}
