// Package config provides centralized configuration management for the
// webhook server. It loads configuration from environment variables with
// sensible defaults and validates all settings on startup to fail fast on
// misconfiguration.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all server configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Action   ActionConfig
	Security SecurityConfig
	Transfer TransferConfig
	Work     WorkConfig
	Delivery DeliveryConfig
	Rate     RateLimitConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout bounds reading the request, attachment included (default: 60s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"60s"`

	// WriteTimeout is the maximum duration for writing the response (default: 0, none)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is how long shutdown waits for in-flight deliveries (default: 60s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"60s"`

	// RequestTimeout is the middleware timeout for requests (default: 15m)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"15m"`
}

// ActionConfig describes how the action advertises itself to the hub.
type ActionConfig struct {
	// PublicURL is the externally reachable base URL used in the action list
	PublicURL string `env:"ACTION_PUBLIC_URL" default:"http://localhost:8080"`

	// Label is the human readable action name (default: Secure SFTP)
	Label string `env:"ACTION_LABEL" default:"Secure SFTP"`

	// Name is the integration identifier (default: SecureSFTP)
	Name string `env:"ACTION_NAME" default:"SecureSFTP"`

	// IconDataURI replaces the built-in icon shown in the hub (data: URI)
	IconDataURI string `env:"ACTION_ICON_DATA_URI"`
}

// SecurityConfig holds request authentication settings.
type SecurityConfig struct {
	// HubSecret is the shared token every hub request must present (required)
	HubSecret string `env:"ACTION_HUB_SECRET" envAlt:"LOOKER_ACTION_HUB_SECRET" required:"true" secret:"true"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// TransferConfig holds the SFTP credentials and client settings.
type TransferConfig struct {
	// PrivateKey is unencrypted PEM or OpenSSH key text
	PrivateKey string `env:"SFTP_PEM" envAlt:"sftp_pem" secret:"true"`

	// Password is used when no usable key is configured
	Password string `env:"SFTP_PASSWORD" secret:"true"`

	// ConnectTimeout bounds dialing and the SSH handshake (default: 30s)
	ConnectTimeout time.Duration `env:"SFTP_CONNECT_TIMEOUT" default:"30s"`

	// KnownHostsFile is an OpenSSH known_hosts file. Empty accepts any host
	// key and logs its fingerprint.
	KnownHostsFile string `env:"SFTP_KNOWN_HOSTS"`

	// StrictKeys fails deliveries when a configured key cannot be used
	// instead of falling back to the password (default: false)
	StrictKeys bool `env:"SFTP_STRICT_KEYS" default:"false"`
}

// WorkConfig holds scratch space settings.
type WorkConfig struct {
	// Dir is where per-run work areas are created (default: system temp dir)
	Dir string `env:"WORK_DIR"`

	// MaxPayloadBytes caps the request body (default: 256MB)
	MaxPayloadBytes int64 `env:"WORK_MAX_PAYLOAD_BYTES" default:"268435456"`

	// MaxExpandedBytes caps the uncompressed archive size, -1 disables (default: 1GB)
	MaxExpandedBytes int64 `env:"WORK_MAX_EXPANDED_BYTES" default:"1073741824"`
}

// DeliveryConfig bounds concurrent pipeline runs.
type DeliveryConfig struct {
	// MaxConcurrent is the maximum number of parallel runs (default: 4)
	MaxConcurrent int `env:"DELIVERY_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long a request waits for a free slot (default: 30s)
	MaxWaitTime time.Duration `env:"DELIVERY_MAX_WAIT_TIME" default:"30s"`

	// Timeout bounds a single run from extraction to upload (default: 10m)
	Timeout time.Duration `env:"DELIVERY_TIMEOUT" default:"10m"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 120)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`

	// ExecuteLimit is requests per minute for the execute endpoint (default: 20)
	ExecuteLimit int `env:"RATE_LIMIT_EXECUTE" default:"20"`
}

// DatabaseConfig holds the optional delivery journal connection.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty disables the journal.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" secret:"true"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 0)
	MinConns int `env:"DB_MIN_CONNS" default:"0"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// Enabled reports whether a journal database is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c.URL != ""
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text, json or console (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
