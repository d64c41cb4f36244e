package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/chain"
	"github.com/waLLLnut/lattica-server-sub000/events"
	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// State is the indexer lifecycle state.
type State int32

const (
	// StateStopped means the indexer is not running.
	StateStopped State = iota

	// StatePolling means the indexer is driving cycles off its timer.
	StatePolling

	// StatePushSubscription means a log subscription is nudging cycles; the
	// polling timer still runs as a safety net.
	StatePushSubscription
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePolling:
		return "polling"
	case StatePushSubscription:
		return "push"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler consumes one normalized event. Handlers must be idempotent:
// crash recovery may redeliver the last unacknowledged transaction's events.
type Handler func(ctx context.Context, ev events.Event) error

// ChainClient is the RPC surface the indexer needs.
type ChainClient interface {
	Policy() chain.TierPolicy
	GetCurrentSlot(ctx context.Context) (uint64, error)
	GetSignaturesPage(ctx context.Context, program solana.PublicKey, before solana.Signature, limit int) ([]chain.SignatureRef, error)
	GetTransactionEvents(ctx context.Context, sig solana.Signature) (*chain.TransactionEvents, error)
}

var _ ChainClient = (*chain.Client)(nil)

// Config holds indexer configuration.
type Config struct {
	// Program is the monitored program id.
	Program solana.PublicKey

	// PageSize is the signature discovery page size.
	PageSize int

	// PushEndpoint is the websocket endpoint for the optional push mode.
	// Empty disables push.
	PushEndpoint string
}

// Indexer drives the ordered polling loop for one program. Transaction
// processing within a cycle is strictly sequential; ordering correctness
// depends on it.
type Indexer struct {
	client      ChainClient
	normalizer  *events.Normalizer
	checkpoints storage.CheckpointStore
	bus         bus.Bus
	logger      *zap.Logger

	program      solana.PublicKey
	pageSize     int
	pushEndpoint string
	policy       chain.TierPolicy
	retrier      *retrier
	handlers     []Handler

	state atomic.Int32

	// wake lets the push subscription trigger an immediate cycle
	wake chan struct{}
}

// New creates an Indexer. The publish bus may be nil when no status
// messages are wanted (tests).
func New(cfg Config, client ChainClient, normalizer *events.Normalizer, checkpoints storage.CheckpointStore, publishBus bus.Bus, logger *zap.Logger) (*Indexer, error) {
	if client == nil {
		return nil, fmt.Errorf("chain client cannot be nil")
	}
	if normalizer == nil {
		return nil, fmt.Errorf("normalizer cannot be nil")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store cannot be nil")
	}
	if cfg.Program.IsZero() {
		return nil, fmt.Errorf("program cannot be zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = constants.DefaultSignaturePageSize
	}

	policy := client.Policy()

	return &Indexer{
		client:       client,
		normalizer:   normalizer,
		checkpoints:  checkpoints,
		bus:          publishBus,
		logger:       logger.With(zap.String("component", "indexer"), zap.String("program", cfg.Program.String())),
		program:      cfg.Program,
		pageSize:     cfg.PageSize,
		pushEndpoint: cfg.PushEndpoint,
		policy:       policy,
		retrier:      newRetrier(policy, logger),
		wake:         make(chan struct{}, 1),
	}, nil
}

// RegisterHandler adds an event handler. Not safe to call after Run.
func (i *Indexer) RegisterHandler(h Handler) {
	i.handlers = append(i.handlers, h)
}

// State returns the current lifecycle state.
func (i *Indexer) State() State {
	return State(i.state.Load())
}

func (i *Indexer) setState(s State) {
	i.state.Store(int32(s))
}

// Run drives polling cycles until the context is cancelled. The timer
// re-arms after each cycle completes, so cycles never overlap.
func (i *Indexer) Run(ctx context.Context) error {
	i.setState(StatePolling)
	i.publishStatus("running", "")
	i.logger.Info("indexer started",
		zap.Duration("poll_interval", i.policy.PollInterval),
		zap.Int("page_size", i.pageSize))

	defer func() {
		i.setState(StateStopped)
		i.publishStatus("stopped", "")
		i.logger.Info("indexer stopped")
	}()

	if i.pushEndpoint != "" {
		go i.runPush(ctx)
	}

	for {
		i.runCycle(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(i.policy.PollInterval):
		case <-i.wake:
		}
	}
}

// runCycle performs one full poll: height check, signature discovery,
// ordered processing. Cycle-level errors are logged and retried on the next
// tick; the indexer never terminates on them.
func (i *Indexer) runCycle(ctx context.Context) {
	var height uint64
	err := i.retrier.do(ctx, "getSlot", func(ctx context.Context) error {
		var err error
		height, err = i.client.GetCurrentSlot(ctx)
		return err
	})
	if err != nil {
		i.cycleError("failed to read chain height", err)
		return
	}

	cp, err := i.checkpoints.GetCheckpoint(ctx, i.program)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		i.cycleError("failed to read checkpoint", err)
		return
	}

	if cp.Slot > 0 && height <= cp.Slot {
		return
	}

	refs, err := i.discoverSignatures(ctx, cp)
	if err != nil {
		i.cycleError("signature discovery failed", err)
		return
	}
	if len(refs) == 0 {
		return
	}

	sortRefs(refs)
	i.warnSlotGaps(cp.Slot, refs)

	i.logger.Debug("processing transactions",
		zap.Int("count", len(refs)),
		zap.Uint64("from_slot", refs[0].Slot),
		zap.Uint64("to_slot", refs[len(refs)-1].Slot))

	for _, ref := range refs {
		if ctx.Err() != nil {
			return
		}
		if !i.processTransaction(ctx, ref) {
			// Abort the rest of the cycle so the unadvanced checkpoint
			// makes the next cycle refetch this transaction
			return
		}
	}
}

// processTransaction fetches, normalizes, dispatches, and checkpoints one
// transaction. Returns false when the cycle must abort.
func (i *Indexer) processTransaction(ctx context.Context, ref chain.SignatureRef) bool {
	var tx *chain.TransactionEvents
	err := i.retrier.do(ctx, "getTransaction", func(ctx context.Context) error {
		var err error
		tx, err = i.client.GetTransactionEvents(ctx, ref.Signature)
		return err
	})
	if err != nil {
		i.cycleError("failed to fetch transaction", err)
		return false
	}

	for _, ev := range i.normalizer.NormalizeTransaction(tx) {
		for _, handler := range i.handlers {
			if err := handler(ctx, ev); err != nil {
				// At-least-once: handler failures never block the
				// checkpoint
				i.logger.Error("event handler failed",
					zap.String("kind", string(ev.Kind())),
					zap.String("signature", ref.Signature.String()),
					zap.Error(err))
			}
		}
	}

	cp := storage.Checkpoint{Slot: ref.Slot, Signature: ref.Signature}
	if err := i.checkpoints.UpsertCheckpoint(ctx, i.program, cp); err != nil {
		i.cycleError("failed to write checkpoint", err)
		return false
	}

	return true
}

// discoverSignatures pages backwards from the newest signature, collecting
// everything past the checkpoint. Pages are capped per cycle; hitting the
// cap logs a possible missed backlog.
func (i *Indexer) discoverSignatures(ctx context.Context, cp storage.Checkpoint) ([]chain.SignatureRef, error) {
	var (
		collected []chain.SignatureRef
		before    solana.Signature
	)

	for page := 0; ; page++ {
		if page >= i.policy.MaxPagesPerCycle {
			i.logger.Warn("page cap hit, possible missed backlog",
				zap.Int("max_pages", i.policy.MaxPagesPerCycle),
				zap.Int("collected", len(collected)))
			break
		}

		var refs []chain.SignatureRef
		err := i.retrier.do(ctx, "getSignatures", func(ctx context.Context) error {
			var err error
			refs, err = i.client.GetSignaturesPage(ctx, i.program, before, i.pageSize)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			break
		}

		reachedCheckpoint := false
		for _, ref := range refs {
			if ref.Signature == cp.Signature || (cp.Slot > 0 && ref.Slot <= cp.Slot) {
				reachedCheckpoint = true
				break
			}
			collected = append(collected, ref)
		}
		if reachedCheckpoint {
			break
		}

		if len(refs) < i.pageSize {
			// Short page: no more history
			break
		}
		before = refs[len(refs)-1].Signature
	}

	return collected, nil
}

// sortRefs orders signatures ascending by (slot, blockTime), with the
// signature as a deterministic final tie break. Discovery pages arrive in
// reverse-chronological order, so this sort is mandatory before processing.
func sortRefs(refs []chain.SignatureRef) {
	sort.SliceStable(refs, func(a, b int) bool {
		if refs[a].Slot != refs[b].Slot {
			return refs[a].Slot < refs[b].Slot
		}
		at, bt := refs[a].BlockTimeOrZero(), refs[b].BlockTimeOrZero()
		if at != bt {
			return at < bt
		}
		return refs[a].Signature.String() < refs[b].Signature.String()
	})
}

// warnSlotGaps logs slot discontinuities. Informational only: a gap just
// means no program transaction landed in the skipped slots.
func (i *Indexer) warnSlotGaps(checkpointSlot uint64, refs []chain.SignatureRef) {
	prev := checkpointSlot
	for _, ref := range refs {
		if prev > 0 && ref.Slot > prev+1 {
			i.logger.Warn("slot gap detected",
				zap.Uint64("from_slot", prev),
				zap.Uint64("to_slot", ref.Slot),
				zap.Uint64("gap", ref.Slot-prev-1))
		}
		if ref.Slot > prev {
			prev = ref.Slot
		}
	}
}

func (i *Indexer) cycleError(msg string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	i.logger.Error(msg, zap.Error(err))
	i.publishError(msg, err)
}

func (i *Indexer) publishStatus(state, detail string) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(bus.StatusMessage(bus.TypeIndexerStatus, bus.StatusPayload{
		State:  state,
		Detail: detail,
	}, time.Now()))
}

func (i *Indexer) publishError(msg string, err error) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(bus.StatusMessage(bus.TypeIndexerError, bus.StatusPayload{
		State:  "error",
		Detail: fmt.Sprintf("%s: %v", msg, err),
	}, time.Now()))
}
