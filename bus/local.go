package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// SubscriptionStats tracks per-subscription delivery counters.
type SubscriptionStats struct {
	MessagesReceived atomic.Uint64
	MessagesDropped  atomic.Uint64
	LastMessageTime  atomic.Int64 // unix nanoseconds
	CreatedAt        time.Time
}

// Subscription is one live attachment to the bus. Ch is closed by
// Unsubscribe or Stop, never by the subscriber.
type Subscription struct {
	ID       SubscriptionID
	Channels map[Channel]bool
	Ch       chan Message
	Stats    SubscriptionStats
}

// LocalBus is the in-process bus. A single delivery goroutine drains the
// publish buffer and fans messages out to matching subscriptions with
// non-blocking sends.
type LocalBus struct {
	subscribers map[SubscriptionID]*Subscription
	mu          sync.RWMutex

	publishCh chan Message
	done      chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stats struct {
		published atomic.Uint64
		delivered atomic.Uint64
		dropped   atomic.Uint64
	}

	metrics *Metrics
	healthy atomic.Bool
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus creates a local bus with the given publish buffer size.
func NewLocalBus(publishBufferSize int) *LocalBus {
	if publishBufferSize <= 0 {
		publishBufferSize = constants.DefaultPublishBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &LocalBus{
		subscribers: make(map[SubscriptionID]*Subscription),
		publishCh:   make(chan Message, publishBufferSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	b.healthy.Store(true)
	return b
}

// SetMetrics enables Prometheus metrics. Optional; nil metrics are never
// recorded.
func (b *LocalBus) SetMetrics(metrics *Metrics) {
	b.metrics = metrics
}

// Run starts the delivery loop. Call in a goroutine.
func (b *LocalBus) Run() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			b.closeAllSubscriptions()
			return

		case msg := <-b.publishCh:
			b.stats.published.Add(1)
			if b.metrics != nil {
				b.metrics.RecordPublished(msg.EventType)
			}
			b.broadcast(msg)
		}
	}
}

// broadcast delivers one message to every subscription listening on any of
// its channels. Slow subscribers drop rather than block the loop.
func (b *LocalBus) broadcast(msg Message) {
	start := time.Now()
	channels := msg.Channels()

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !subscribesAny(sub, channels) {
			continue
		}

		select {
		case sub.Ch <- msg:
			b.stats.delivered.Add(1)
			sub.Stats.MessagesReceived.Add(1)
			sub.Stats.LastMessageTime.Store(time.Now().UnixNano())
			if b.metrics != nil {
				b.metrics.RecordDelivered(msg.EventType)
			}
		default:
			b.stats.dropped.Add(1)
			sub.Stats.MessagesDropped.Add(1)
			if b.metrics != nil {
				b.metrics.RecordDropped(msg.EventType)
			}
		}
	}

	if b.metrics != nil {
		b.metrics.ObserveBroadcast(time.Since(start))
	}
}

func subscribesAny(sub *Subscription, channels []Channel) bool {
	for _, ch := range channels {
		if sub.Channels[ch] {
			return true
		}
	}
	return false
}

// Publish queues a message without blocking.
func (b *LocalBus) Publish(msg Message) bool {
	select {
	case <-b.ctx.Done():
		return false
	default:
	}

	select {
	case b.publishCh <- msg:
		return true
	default:
		b.stats.dropped.Add(1)
		if b.metrics != nil {
			b.metrics.RecordDropped(msg.EventType)
		}
		return false
	}
}

// PublishWithContext publishes with cancellation.
func (b *LocalBus) PublishWithContext(ctx context.Context, msg Message) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !b.Publish(msg) {
		return ErrPublishFailed
	}
	return nil
}

/// Subscribe registers a subscription. Synchronous: the subscription is
// active before Subscribe returns.
func (b *LocalBus) Subscribe(id SubscriptionID, channels []Channel, bufferSize int) *Subscription {
	select {
	case <-b.ctx.Done():
		return nil
	default:
	}

	if bufferSize <= 0 {
		bufferSize = constants.DefaultSubscriberBufferSize
	}

	channelSet := make(map[Channel]bool, len(channels))
	for _, ch := range channels {
		channelSet[ch] = true
	}

	sub := &Subscription{
		ID:       id,
		Channels: channelSet,
		Ch:       make(chan Message, bufferSize),
		Stats: SubscriptionStats{
			CreatedAt: time.Now(),
		},
	}

	b.mu.Lock()
	b.subscribers[id] = sub
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordSubscription()
		b.metrics.UpdateSubscriberCount(count)
	}

	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *LocalBus) Unsubscribe(id SubscriptionID) {
	b.mu.Lock()
	if sub, exists := b.subscribers[id]; exists {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
	count := len(b.subscribers)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RecordUnsubscription()
		b.metrics.UpdateSubscriberCount(count)
	}
}

func (b *LocalBus) closeAllSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subscribers {
		close(sub.Ch)
	}
	b.subscribers = make(map[SubscriptionID]*Subscription)
}

// Stop shuts the bus down and waits for the delivery loop to exit.
func (b *LocalBus) Stop() {
	b.healthy.Store(false)
	b.cancel()
	<-b.done
}

// SubscriberCount returns the number of live subscriptions.
func (b *LocalBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats returns (published, delivered, dropped) totals.
func (b *LocalBus) Stats() (uint64, uint64, uint64) {
	return b.stats.published.Load(),
		b.stats.delivered.Load(),
		b.stats.dropped.Load()
}

// Healthy reports whether the delivery loop is running.
func (b *LocalBus) Healthy() bool {
	return b.healthy.Load()
}

// Type identifies the backend implementation.
func (b *LocalBus) Type() BackendType {
	return BackendLocal
}
