package chain

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// Tier classifies an RPC endpoint by how hard it may be driven.
type Tier string

const (
	// TierLocal is a node reachable over loopback; effectively unthrottled.
	TierLocal Tier = "local"

	// TierPrivate is a managed or dedicated RPC with generous rate limits.
	TierPrivate Tier = "private"

	// TierPublic is a well-known shared RPC; the most conservative policy.
	TierPublic Tier = "public"
)

// TierPolicy tunes polling and backoff for one endpoint tier.
// Immutable after construction.
type TierPolicy struct {
	// PollInterval is the base delay between polling cycles
	PollInterval time.Duration

	// MaxPagesPerCycle caps signature discovery pages in one cycle
	MaxPagesPerCycle int

	// InterRequestDelay paces consecutive RPC calls within a cycle
	InterRequestDelay time.Duration

	// RateLimitBackoffMultiplier scales backoff when the endpoint rate-limits
	RateLimitBackoffMultiplier int

	// MaxRetries bounds retries for a single RPC call
	MaxRetries int
}

// tierPolicies holds the per-tier defaults.
var tierPolicies = map[Tier]TierPolicy{
	TierLocal: {
		PollInterval:               1 * time.Second,
		MaxPagesPerCycle:           50,
		InterRequestDelay:          0,
		RateLimitBackoffMultiplier: 2,
		MaxRetries:                 5,
	},
	TierPrivate: {
		PollInterval:               5 * time.Second,
		MaxPagesPerCycle:           20,
		InterRequestDelay:          100 * time.Millisecond,
		RateLimitBackoffMultiplier: 3,
		MaxRetries:                 5,
	},
	TierPublic: {
		PollInterval:               15 * time.Second,
		MaxPagesPerCycle:           5,
		InterRequestDelay:          500 * time.Millisecond,
		RateLimitBackoffMultiplier: 5,
		MaxRetries:                 3,
	},
}

// managedProviderMarkers identify dedicated/managed RPC vendors.
var managedProviderMarkers = []string{
	"helius-rpc.com",
	"helius.xyz",
	"quiknode.pro",
	"quicknode.com",
	"alchemy.com",
	"rpcpool.com",
	"triton.one",
	"ankr.com",
}

// sharedRPCMarkers identify well-known shared public endpoints.
var sharedRPCMarkers = []string{
	"api.mainnet-beta.solana.com",
	"api.devnet.solana.com",
	"api.testnet.solana.com",
}

// ClassifyEndpoint maps an RPC endpoint URL to a tier. Unknown hosts default
// to public so an unrecognized endpoint is never over-driven.
func ClassifyEndpoint(endpoint string) Tier {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return TierPublic
	}

	host := strings.ToLower(u.Hostname())

	if host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.") {
		return TierLocal
	}

	for _, marker := range sharedRPCMarkers {
		if host == marker {
			return TierPublic
		}
	}

	for _, marker := range managedProviderMarkers {
		if host == marker || strings.HasSuffix(host, "."+marker) {
			return TierPrivate
		}
	}

	return TierPublic
}

// PolicyForTier returns the policy tuple for a tier, with environment
// overrides applied for poll interval and page cap when present.
func PolicyForTier(tier Tier) TierPolicy {
	policy, ok := tierPolicies[tier]
	if !ok {
		policy = tierPolicies[TierPublic]
	}

	if raw := os.Getenv(constants.EnvPollIntervalMs); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			policy.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if raw := os.Getenv(constants.EnvMaxPagesPerCycle); raw != "" {
		if pages, err := strconv.Atoi(raw); err == nil && pages > 0 {
			policy.MaxPagesPerCycle = pages
		}
	}

	return policy
}

// PolicyForEndpoint classifies an endpoint and resolves its policy in one step.
func PolicyForEndpoint(endpoint string) (Tier, TierPolicy) {
	tier := ClassifyEndpoint(endpoint)
	return tier, PolicyForTier(tier)
}
