package indexer

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// runPush maintains a log subscription that nudges the poll loop the moment
// a program transaction lands. Ordering never depends on it: every
// notification only triggers a regular cycle, and the polling timer keeps
// running as a safety net. After too many failed reconnects the indexer
// demotes itself to plain polling.
func (i *Indexer) runPush(ctx context.Context) {
	attempts := 0
	delay := constants.PushReconnectBase

	for {
		if ctx.Err() != nil {
			return
		}

		err := i.pushSession(ctx)
		if ctx.Err() != nil {
			return
		}

		attempts++
		if attempts >= constants.PushReconnectAttempts {
			i.logger.Warn("push subscription abandoned, demoting to polling",
				zap.Int("attempts", attempts),
				zap.Error(err))
			i.setState(StatePolling)
			return
		}

		i.logger.Warn("push subscription lost, reconnecting",
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > constants.PushReconnectCap {
			delay = constants.PushReconnectCap
		}
	}
}

// pushSession runs one websocket subscription until it fails or the context
// ends.
func (i *Indexer) pushSession(ctx context.Context) error {
	client, err := ws.Connect(ctx, i.pushEndpoint)
	if err != nil {
		return err
	}
	defer client.Close()

	sub, err := client.LogsSubscribeMentions(i.program, rpc.CommitmentFinalized)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	i.setState(StatePushSubscription)
	defer i.setState(StatePolling)

	i.logger.Info("push subscription active",
		zap.String("endpoint", i.pushEndpoint))

	for {
		got, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if got == nil {
			continue
		}

		i.logger.Debug("push notification",
			zap.Uint64("slot", got.Context.Slot),
			zap.String("signature", got.Value.Signature.String()))

		// Nudge the poll loop; drop if a wake is already pending
		select {
		case i.wake <- struct{}{}:
		default:
		}
	}
}
