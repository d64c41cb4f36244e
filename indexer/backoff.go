package indexer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/chain"
)

// rateLimitCap bounds rate-limit backoff at this multiple of the base poll
// interval.
const rateLimitCap = 10

// isRateLimitError classifies an RPC error as a rate limit rejection.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests")
}

// rateLimitBackoff computes the sleep before retrying a rate-limited call.
// Scales with the tier policy and the consecutive error count, capped at ten
// times the base poll interval.
func rateLimitBackoff(policy chain.TierPolicy, consecutiveErrors int) time.Duration {
	if consecutiveErrors < 1 {
		consecutiveErrors = 1
	}

	backoff := policy.PollInterval * time.Duration(policy.RateLimitBackoffMultiplier) * time.Duration(consecutiveErrors)
	if limit := policy.PollInterval * rateLimitCap; backoff > limit {
		backoff = limit
	}
	return backoff
}

// transientBackoff is the flat backoff for non-rate-limit errors.
func transientBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * time.Second
}

// retrier wraps RPC calls with tier-scaled retry. The consecutive rate limit
// counter survives across calls so sustained throttling backs off harder;
// any success resets it.
type retrier struct {
	policy            chain.TierPolicy
	logger            *zap.Logger
	consecutiveErrors int
}

func newRetrier(policy chain.TierPolicy, logger *zap.Logger) *retrier {
	return &retrier{policy: policy, logger: logger}
}

// do runs op, retrying per policy. Returns the last error when retries are
// exhausted.
func (r *retrier) do(ctx context.Context, name string, op func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxRetries; attempt++ {
		err := op(ctx)
		if err == nil {
			r.consecutiveErrors = 0
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		var delay time.Duration
		if isRateLimitError(err) {
			r.consecutiveErrors++
			delay = rateLimitBackoff(r.policy, r.consecutiveErrors)
			r.logger.Warn("rate limited, backing off",
				zap.String("call", name),
				zap.Int("attempt", attempt),
				zap.Int("consecutive_errors", r.consecutiveErrors),
				zap.Duration("backoff", delay))
		} else {
			delay = transientBackoff(attempt)
			r.logger.Warn("transient RPC error, retrying",
				zap.String("call", name),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(err))
		}

		if attempt == r.policy.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return lastErr
}
