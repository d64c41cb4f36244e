package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// Config holds API server configuration.
type Config struct {
	// Host is the listen host
	Host string `yaml:"host"`

	// Port is the listen port
	Port int `yaml:"port"`

	// ReadTimeout bounds reading one request
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// IdleTimeout bounds keep-alive idle time between requests.
	// There is deliberately no write timeout: stream connections are
	// long-lived by design.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxHeaderBytes caps request header size
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// EnableCORS enables permissive CORS headers
	EnableCORS bool `yaml:"enable_cors"`

	// AllowedOrigins lists the allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins"`

	// StreamPath is the event stream endpoint path
	StreamPath string `yaml:"stream_path"`

	// EnableWebSocket enables the websocket relay
	EnableWebSocket bool `yaml:"enable_websocket"`

	// WebSocketPath is the websocket relay endpoint path
	WebSocketPath string `yaml:"websocket_path"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// EnableRateLimit enables per-IP rate limiting
	EnableRateLimit bool `yaml:"enable_rate_limit"`

	// RateLimitPerSecond is the per-IP request rate
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`

	// RateLimitBurst is the per-IP burst allowance
	RateLimitBurst int `yaml:"rate_limit_burst"`
}

// DefaultConfig returns the default API configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:               constants.DefaultAPIHost,
		Port:               constants.DefaultAPIPort,
		ReadTimeout:        constants.DefaultReadTimeout,
		IdleTimeout:        constants.DefaultIdleTimeout,
		MaxHeaderBytes:     constants.DefaultMaxHeaderBytes,
		EnableCORS:         true,
		AllowedOrigins:     []string{"*"},
		StreamPath:         constants.DefaultStreamPath,
		EnableWebSocket:    true,
		WebSocketPath:      constants.DefaultWebSocketPath,
		ShutdownTimeout:    constants.DefaultShutdownTimeout,
		EnableRateLimit:    false,
		RateLimitPerSecond: constants.DefaultRateLimitPerSecond,
		RateLimitBurst:     constants.DefaultRateLimitBurst,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < constants.MinPort || c.Port > constants.MaxPort {
		return fmt.Errorf("port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}
	if c.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.StreamPath == "" {
		return errors.New("stream path cannot be empty")
	}
	if c.EnableWebSocket && c.WebSocketPath == "" {
		return errors.New("websocket path cannot be empty")
	}
	return nil
}

// Address returns the listen address in host:port form.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
