package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/bus"
	"github.com/waLLLnut/lattica-server-sub000/events"
	"github.com/waLLLnut/lattica-server-sub000/state"
	"github.com/waLLLnut/lattica-server-sub000/storage"
)

// Publisher is the standard event handler: it converts a normalized event
// into its bus message, persists it for gap replay, publishes it, and
// settles the optimistic state machine. Durable append happens before the
// live publish so a gap-filling client can never miss a message it saw
// announced.
type Publisher struct {
	bus     bus.Bus
	history storage.HistoryStore
	states  *state.Store
	logger  *zap.Logger
}

// NewPublisher creates a Publisher. The state store may be nil when no
// optimistic tracking is wanted.
func NewPublisher(publishBus bus.Bus, history storage.HistoryStore, states *state.Store, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		bus:     publishBus,
		history: history,
		states:  states,
		logger:  logger.With(zap.String("component", "publisher")),
	}
}

// Handle implements the indexer Handler contract. Idempotent: redelivery
// rewrites the same history row and republishes, which subscribers
// deduplicate by event id.
func (p *Publisher) Handle(ctx context.Context, ev events.Event) error {
	msg, err := bus.FromEvent(ev, time.Now())
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	if err := p.history.Append(ctx, msg); err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}

	if !p.bus.Publish(msg) {
		// History already holds the message, so gap fill recovers it
		p.logger.Warn("bus publish dropped",
			zap.String("event_id", msg.EventID),
			zap.String("event_type", string(msg.EventType)))
	}

	p.settle(ev)
	return nil
}

// settle updates the optimistic state machine from a confirmed chain event.
func (p *Publisher) settle(ev events.Event) {
	if p.states == nil {
		return
	}

	var handle events.Handle
	switch e := ev.(type) {
	case *events.InputHandleRegistered:
		handle = e.Handle
	case *events.UnaryOpRequested:
		handle = e.ResultHandle
	case *events.BinaryOpRequested:
		handle = e.ResultHandle
	case *events.TernaryOpRequested:
		handle = e.ResultHandle
	default:
		return
	}

	p.states.Confirm(handle, ev.Caller().String(), ev.Slot(), ev.Signature().String())
}
