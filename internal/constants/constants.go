package constants

import "time"

// Default configuration values shared across packages.
const (
	// DefaultQueryTimeout is the default timeout for RPC calls
	DefaultQueryTimeout = 30 * time.Second

	// DefaultSignaturePageSize is the page size for signature discovery.
	// 1000 is the maximum the RPC accepts per getSignaturesForAddress call.
	DefaultSignaturePageSize = 1000

	// DefaultPublishBufferSize is the default publish channel buffer for the bus
	DefaultPublishBufferSize = 1024

	// DefaultSubscriberBufferSize is the default per-subscriber channel buffer
	DefaultSubscriberBufferSize = 64

	// DefaultKeepAliveInterval is the idle keep-alive interval for streaming connections
	DefaultKeepAliveInterval = 30 * time.Second

	// DefaultFallbackPollInterval is the store-polling interval used when
	// a streaming connection cannot attach to the publish bus
	DefaultFallbackPollInterval = 3 * time.Second

	// DefaultGapQueryLimit bounds a single gap-fill query
	DefaultGapQueryLimit = 500

	// DefaultHistoryRetention is how long durable history rows are kept
	DefaultHistoryRetention = 24 * time.Hour

	// DefaultOptimisticTTL is how long an unconfirmed optimistic operation
	// entry may live before it is reaped
	DefaultOptimisticTTL = 10 * time.Minute
)

// HTTP server defaults.
const (
	DefaultAPIHost = "0.0.0.0"
	DefaultAPIPort = 8080

	DefaultReadTimeout    = 30 * time.Second
	DefaultIdleTimeout    = 120 * time.Second
	DefaultMaxHeaderBytes = 1 << 20

	DefaultShutdownTimeout = 10 * time.Second

	DefaultStreamPath    = "/events"
	DefaultWebSocketPath = "/ws"

	DefaultRateLimitPerSecond = 100.0
	DefaultRateLimitBurst     = 200

	MinPort = 1
	MaxPort = 65535
)

// Reconnect policy for the optional push-subscription mode. Mirrors the
// client reconnection contract: base 1s, doubling, cap 30s, give up after 10.
const (
	PushReconnectBase     = 1 * time.Second
	PushReconnectCap      = 30 * time.Second
	PushReconnectAttempts = 10
)

// Environment variable names. LATTICA_POLL_INTERVAL_MS and
// LATTICA_MAX_PAGES_PER_CYCLE override the tier policy when set.
const (
	EnvPollIntervalMs   = "LATTICA_POLL_INTERVAL_MS"
	EnvMaxPagesPerCycle = "LATTICA_MAX_PAGES_PER_CYCLE"
)
