package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

func TestClassifyEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     Tier
	}{
		{"localhost", "http://localhost:8899", TierLocal},
		{"loopback ip", "http://127.0.0.1:8899", TierLocal},
		{"loopback range", "http://127.0.0.53:8899", TierLocal},
		{"ipv6 loopback", "http://[::1]:8899", TierLocal},
		{"helius", "https://mainnet.helius-rpc.com/?api-key=x", TierPrivate},
		{"quicknode", "https://little-old-tree.solana-mainnet.quiknode.pro/abc/", TierPrivate},
		{"alchemy", "https://solana-mainnet.g.alchemy.com/v2/key", TierPrivate},
		{"mainnet beta", "https://api.mainnet-beta.solana.com", TierPublic},
		{"devnet", "https://api.devnet.solana.com", TierPublic},
		{"unknown host", "https://rpc.example.org", TierPublic},
		{"garbage", "not a url", TierPublic},
		{"empty", "", TierPublic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyEndpoint(tt.endpoint))
		})
	}
}

func TestPolicyForTier(t *testing.T) {
	local := PolicyForTier(TierLocal)
	assert.Equal(t, 1*time.Second, local.PollInterval)
	assert.Equal(t, 50, local.MaxPagesPerCycle)
	assert.Equal(t, time.Duration(0), local.InterRequestDelay)
	assert.Equal(t, 2, local.RateLimitBackoffMultiplier)
	assert.Equal(t, 5, local.MaxRetries)

	private := PolicyForTier(TierPrivate)
	assert.Equal(t, 5*time.Second, private.PollInterval)
	assert.Equal(t, 20, private.MaxPagesPerCycle)
	assert.Equal(t, 100*time.Millisecond, private.InterRequestDelay)
	assert.Equal(t, 3, private.RateLimitBackoffMultiplier)

	public := PolicyForTier(TierPublic)
	assert.Equal(t, 15*time.Second, public.PollInterval)
	assert.Equal(t, 5, public.MaxPagesPerCycle)
	assert.Equal(t, 500*time.Millisecond, public.InterRequestDelay)
	assert.Equal(t, 5, public.RateLimitBackoffMultiplier)
	assert.Equal(t, 3, public.MaxRetries)
}

func TestPolicyForTier_UnknownTierFallsBackToPublic(t *testing.T) {
	got := PolicyForTier(Tier("mystery"))
	assert.Equal(t, PolicyForTier(TierPublic), got)
}

func TestPolicyForTier_EnvOverrides(t *testing.T) {
	t.Setenv(constants.EnvPollIntervalMs, "250")
	t.Setenv(constants.EnvMaxPagesPerCycle, "7")

	got := PolicyForTier(TierPublic)
	assert.Equal(t, 250*time.Millisecond, got.PollInterval)
	assert.Equal(t, 7, got.MaxPagesPerCycle)

	// Invalid values leave the tier defaults in place
	t.Setenv(constants.EnvPollIntervalMs, "not-a-number")
	t.Setenv(constants.EnvMaxPagesPerCycle, "-3")

	got = PolicyForTier(TierPublic)
	assert.Equal(t, 15*time.Second, got.PollInterval)
	assert.Equal(t, 5, got.MaxPagesPerCycle)
}

func TestPolicyForEndpoint(t *testing.T) {
	tier, policy := PolicyForEndpoint("http://localhost:8899")
	assert.Equal(t, TierLocal, tier)
	assert.Equal(t, 1*time.Second, policy.PollInterval)
}
