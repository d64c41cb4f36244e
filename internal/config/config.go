package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// Config holds all configuration for the indexer and gateway.
type Config struct {
	Chain     ChainConfig     `yaml:"chain"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Storage   storage.Config  `yaml:"storage"`
	Bus       bus.Config      `yaml:"bus"`
	API       APIConfig       `yaml:"api"`
	Stream    StreamConfig    `yaml:"stream"`
	Log       LogConfig       `yaml:"log"`
	Retention RetentionConfig `yaml:"retention"`
	State     StateConfig     `yaml:"state"`
}

// ChainConfig holds RPC connection configuration
type ChainConfig struct {
	// Endpoint is the HTTP(S) JSON-RPC endpoint URL
	Endpoint string `yaml:"endpoint"`
	// WSEndpoint is the optional WebSocket endpoint for push mode
	WSEndpoint string `yaml:"ws_endpoint,omitempty"`
	// Program is the base58 program id to monitor
	Program string `yaml:"program"`
	// Timeout is the per-call RPC timeout
	Timeout time.Duration `yaml:"timeout"`
}

// IndexerConfig holds polling configuration
type IndexerConfig struct {
	// PageSize is the signature discovery page size
	PageSize int `yaml:"page_size"`
	// EnablePush switches to push-subscription mode when a WS endpoint
	// is configured. Polling remains the fallback.
	EnablePush bool `yaml:"enable_push"`
}

// APIConfig holds API server configuration
type APIConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Host               string   `yaml:"host"`
	Port               int      `yaml:"port"`
	StreamPath         string   `yaml:"stream_path"`
	EnableWebSocket    bool     `yaml:"enable_websocket"`
	WebSocketPath      string   `yaml:"websocket_path"`
	EnableCORS         bool     `yaml:"enable_cors"`
	AllowedOrigins     []string `yaml:"allowed_origins"`
	EnableRateLimit    bool     `yaml:"enable_rate_limit"`
	RateLimitPerSecond float64  `yaml:"rate_limit_per_second"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// StreamConfig holds streaming session configuration
type StreamConfig struct {
	KeepAliveInterval    time.Duration `yaml:"keep_alive_interval"`
	FallbackPollInterval time.Duration `yaml:"fallback_poll_interval"`
	GapQueryLimit        int           `yaml:"gap_query_limit"`
	SubscriberBufferSize int           `yaml:"subscriber_buffer_size"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetentionConfig holds history retention configuration
type RetentionConfig struct {
	// Period is how long durable history rows are kept
	Period time.Duration `yaml:"period"`
	// SweepInterval is how often the cleanup pass runs
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// StateConfig holds the optimistic state tracker configuration
type StateConfig struct {
	// OptimisticTTL is how long unconfirmed entries live before reaping
	OptimisticTTL time.Duration `yaml:"optimistic_ttl"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// Chain defaults
	if c.Chain.Timeout == 0 {
		c.Chain.Timeout = constants.DefaultQueryTimeout
	}

	// Indexer defaults
	if c.Indexer.PageSize == 0 {
		c.Indexer.PageSize = constants.DefaultSignaturePageSize
	}

	// Storage defaults
	c.Storage.SetDefaults()

	// Bus defaults
	if c.Bus.Type == "" {
		c.Bus.Type = bus.BackendLocal
	}
	if c.Bus.PublishBufferSize == 0 {
		c.Bus.PublishBufferSize = constants.DefaultPublishBufferSize
	}

	// API defaults
	if c.API.Host == "" {
		c.API.Host = constants.DefaultAPIHost
	}
	if c.API.Port == 0 {
		c.API.Port = constants.DefaultAPIPort
	}
	if c.API.StreamPath == "" {
		c.API.StreamPath = constants.DefaultStreamPath
	}
	if c.API.WebSocketPath == "" {
		c.API.WebSocketPath = constants.DefaultWebSocketPath
	}
	if c.API.AllowedOrigins == nil {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.API.RateLimitPerSecond == 0 {
		c.API.RateLimitPerSecond = constants.DefaultRateLimitPerSecond
	}
	if c.API.RateLimitBurst == 0 {
		c.API.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	// Stream defaults
	if c.Stream.KeepAliveInterval == 0 {
		c.Stream.KeepAliveInterval = constants.DefaultKeepAliveInterval
	}
	if c.Stream.FallbackPollInterval == 0 {
		c.Stream.FallbackPollInterval = constants.DefaultFallbackPollInterval
	}
	if c.Stream.GapQueryLimit == 0 {
		c.Stream.GapQueryLimit = constants.DefaultGapQueryLimit
	}
	if c.Stream.SubscriberBufferSize == 0 {
		c.Stream.SubscriberBufferSize = constants.DefaultSubscriberBufferSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Retention defaults
	if c.Retention.Period == 0 {
		c.Retention.Period = constants.DefaultHistoryRetention
	}
	if c.Retention.SweepInterval == 0 {
		c.Retention.SweepInterval = time.Hour
	}

	// State defaults
	if c.State.OptimisticTTL == 0 {
		c.State.OptimisticTTL = constants.DefaultOptimisticTTL
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	// Chain configuration
	if endpoint := os.Getenv("LATTICA_RPC_ENDPOINT"); endpoint != "" {
		c.Chain.Endpoint = endpoint
	}
	if wsEndpoint := os.Getenv("LATTICA_WS_ENDPOINT"); wsEndpoint != "" {
		c.Chain.WSEndpoint = wsEndpoint
	}
	if program := os.Getenv("LATTICA_PROGRAM_ID"); program != "" {
		c.Chain.Program = program
	}
	if timeout := os.Getenv("LATTICA_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_RPC_TIMEOUT: %w", err)
		}
		c.Chain.Timeout = duration
	}

	// Indexer configuration
	if pageSize := os.Getenv("LATTICA_PAGE_SIZE"); pageSize != "" {
		val, err := strconv.Atoi(pageSize)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_PAGE_SIZE: %w", err)
		}
		c.Indexer.PageSize = val
	}
	if enablePush := os.Getenv("LATTICA_ENABLE_PUSH"); enablePush != "" {
		val, err := strconv.ParseBool(enablePush)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_ENABLE_PUSH: %w", err)
		}
		c.Indexer.EnablePush = val
	}

	// Storage configuration
	if path := os.Getenv("LATTICA_DB_PATH"); path != "" {
		c.Storage.Path = path
	}

	// Bus configuration
	if busType := os.Getenv("LATTICA_BUS_TYPE"); busType != "" {
		c.Bus.Type = bus.BackendType(busType)
	}
	if nodeID := os.Getenv("LATTICA_NODE_ID"); nodeID != "" {
		c.Bus.NodeID = nodeID
	}
	if addresses := os.Getenv("LATTICA_REDIS_ADDRESSES"); addresses != "" {
		c.Bus.Redis.Addresses = strings.Split(addresses, ",")
	}
	if password := os.Getenv("LATTICA_REDIS_PASSWORD"); password != "" {
		c.Bus.Redis.Password = password
	}
	if brokers := os.Getenv("LATTICA_KAFKA_BROKERS"); brokers != "" {
		c.Bus.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if topic := os.Getenv("LATTICA_KAFKA_TOPIC"); topic != "" {
		c.Bus.Kafka.Topic = topic
	}

	// API configuration
	if enabled := os.Getenv("LATTICA_API_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_API_ENABLED: %w", err)
		}
		c.API.Enabled = val
	}
	if host := os.Getenv("LATTICA_API_HOST"); host != "" {
		c.API.Host = host
	}
	if port := os.Getenv("LATTICA_API_PORT"); port != "" {
		val, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_API_PORT: %w", err)
		}
		c.API.Port = val
	}
	if enableWS := os.Getenv("LATTICA_API_WEBSOCKET"); enableWS != "" {
		val, err := strconv.ParseBool(enableWS)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_API_WEBSOCKET: %w", err)
		}
		c.API.EnableWebSocket = val
	}
	if enableCORS := os.Getenv("LATTICA_API_CORS_ENABLED"); enableCORS != "" {
		val, err := strconv.ParseBool(enableCORS)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_API_CORS_ENABLED: %w", err)
		}
		c.API.EnableCORS = val
	}
	if origins := os.Getenv("LATTICA_API_CORS_ALLOWED_ORIGINS"); origins != "" {
		c.API.AllowedOrigins = strings.Split(origins, ",")
	}
	if enableRL := os.Getenv("LATTICA_API_RATE_LIMIT_ENABLED"); enableRL != "" {
		val, err := strconv.ParseBool(enableRL)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_API_RATE_LIMIT_ENABLED: %w", err)
		}
		c.API.EnableRateLimit = val
	}

	// Log configuration
	if level := os.Getenv("LATTICA_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LATTICA_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Retention configuration
	if period := os.Getenv("LATTICA_RETENTION_PERIOD"); period != "" {
		duration, err := time.ParseDuration(period)
		if err != nil {
			return fmt.Errorf("invalid LATTICA_RETENTION_PERIOD: %w", err)
		}
		c.Retention.Period = duration
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Chain.Endpoint == "" {
		return fmt.Errorf("RPC endpoint is required")
	}
	if c.Chain.Program == "" {
		return fmt.Errorf("program id is required")
	}
	if c.Chain.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}

	if c.Indexer.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Indexer.EnablePush && c.Chain.WSEndpoint == "" {
		return fmt.Errorf("push mode requires a websocket endpoint")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	validBusTypes := map[bus.BackendType]bool{
		bus.BackendLocal: true,
		bus.BackendRedis: true,
		bus.BackendKafka: true,
	}
	if !validBusTypes[c.Bus.Type] {
		return fmt.Errorf("invalid bus type %q, must be one of: local, redis, kafka", c.Bus.Type)
	}
	if c.Bus.PublishBufferSize <= 0 {
		return fmt.Errorf("bus publish buffer size must be positive")
	}
	if c.Bus.Type == bus.BackendRedis && len(c.Bus.Redis.Addresses) == 0 {
		return fmt.Errorf("redis bus selected but no addresses configured")
	}
	if c.Bus.Type == bus.BackendKafka {
		if len(c.Bus.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka bus selected but no brokers configured")
		}
		if c.Bus.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	if c.Retention.Period <= 0 {
		return fmt.Errorf("retention period must be positive")
	}
	if c.State.OptimisticTTL <= 0 {
		return fmt.Errorf("optimistic TTL must be positive")
	}

	return nil
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for anything still unset
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
