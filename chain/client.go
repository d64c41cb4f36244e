package chain

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Client wraps the Solana JSON-RPC client with tier-aware request pacing.
type Client struct {
	rpcClient *rpc.Client
	endpoint  string
	tier      Tier
	policy    TierPolicy
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewClient creates a new Solana RPC client. The endpoint is classified into
// a tier at construction and the resulting policy paces every call.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	tier, policy := PolicyForEndpoint(cfg.Endpoint)

	var limiter *rate.Limiter
	if policy.InterRequestDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(policy.InterRequestDelay), 1)
	}

	client := &Client{
		rpcClient: rpc.New(cfg.Endpoint),
		endpoint:  cfg.Endpoint,
		tier:      tier,
		policy:    policy,
		limiter:   limiter,
		logger:    logger,
	}

	logger.Info("created Solana RPC client",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("tier", string(tier)),
		zap.Duration("poll_interval", policy.PollInterval),
		zap.Int("max_pages_per_cycle", policy.MaxPagesPerCycle))

	return client, nil
}

// Tier returns the tier this client's endpoint was classified into.
func (c *Client) Tier() Tier {
	return c.tier
}

// Policy returns the tier policy resolved at construction.
func (c *Client) Policy() TierPolicy {
	return c.policy
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

// pace blocks until the inter-request delay of the tier has elapsed.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Ping verifies the endpoint is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.rpcClient.GetHealth(ctx)
	return err
}

// GetCurrentSlot returns the finalized chain height.
func (c *Client) GetCurrentSlot(ctx context.Context) (uint64, error) {
	if err := c.pace(ctx); err != nil {
		return 0, err
	}

	slot, err := c.rpcClient.GetSlot(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return 0, fmt.Errorf("failed to get current slot: %w", err)
	}
	return slot, nil
}

// GetSignaturesPage fetches one reverse-chronological page of signatures for
// the program, starting before the given cursor (zero cursor = newest).
// Failed transactions are filtered out.
func (c *Client) GetSignaturesPage(ctx context.Context, program solana.PublicKey, before solana.Signature, limit int) ([]SignatureRef, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	opts := &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentFinalized,
	}
	if !before.IsZero() {
		opts.Before = before
	}

	sigs, err := c.rpcClient.GetSignaturesForAddressWithOpts(ctx, program, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get signatures for %s: %w", program, err)
	}

	refs := make([]SignatureRef, 0, len(sigs))
	for _, sig := range sigs {
		if sig.Err != nil {
			// Failed transactions emit no events worth indexing
			continue
		}
		ref := SignatureRef{
			Signature: sig.Signature,
			Slot:      sig.Slot,
		}
		if sig.BlockTime != nil {
			bt := int64(*sig.BlockTime)
			ref.BlockTime = &bt
		}
		refs = append(refs, ref)
	}

	return refs, nil
}

// GetTransactionEvents fetches one transaction and extracts its raw program
// events from the log messages.
func (c *Client) GetTransactionEvents(ctx context.Context, sig solana.Signature) (*TransactionEvents, error) {
	if err := c.pace(ctx); err != nil {
		return nil, err
	}

	maxVersion := uint64(0)
	result, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Commitment:                     rpc.CommitmentFinalized,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", sig, err)
	}

	txEvents := &TransactionEvents{
		Signature: sig,
		Slot:      result.Slot,
	}
	if result.BlockTime != nil {
		bt := int64(*result.BlockTime)
		txEvents.BlockTime = &bt
	}

	if result.Meta == nil || result.Meta.Err != nil {
		// No metadata or failed execution: nothing to extract
		return txEvents, nil
	}

	txEvents.Events = ExtractRawEvents(result.Meta.LogMessages)
	return txEvents, nil
}
