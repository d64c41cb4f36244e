package bus

import "context"

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// Bus is the publish interface between the indexer and the streaming
// gateway. Delivery is at-least-once per connected subscriber: a published
// message reaches every live subscription whose channels match, and slow
// subscribers lose messages rather than stall the bus.
type Bus interface {
	// Publish queues a message for delivery to the message's channels.
	// Non-blocking; returns false when the publish buffer is full or the
	// bus is stopped.
	Publish(msg Message) bool

	// PublishWithContext publishes with cancellation.
	PublishWithContext(ctx context.Context, msg Message) error

	// Subscribe registers interest in the given channels. The returned
	// subscription is live before Subscribe returns. Returns nil after
	// Stop.
	Subscribe(id SubscriptionID, channels []Channel, bufferSize int) *Subscription

	// Unsubscribe removes a subscription and closes its channel.
	Unsubscribe(id SubscriptionID)

	// Run starts the delivery loop. Call in a goroutine.
	Run()

	// Stop shuts the bus down and closes all subscriptions.
	Stop()

	// SubscriberCount returns the number of live subscriptions.
	SubscriberCount() int

	// Stats returns (published, delivered, dropped) totals.
	Stats() (uint64, uint64, uint64)

	// Healthy reports whether the bus is operational.
	Healthy() bool

	// Type identifies the backend implementation.
	Type() BackendType
}

// DistributedBus extends Bus with cross-process fan-out.
type DistributedBus interface {
	Bus

	// Connect establishes the connection to the distributed backend.
	Connect(ctx context.Context) error

	// Disconnect closes the backend connection.
	Disconnect(ctx context.Context) error

	// IsConnected reports the backend connection state.
	IsConnected() bool

	// NodeID returns this node's identity, used to suppress echo.
	NodeID() string
}

// BackendType identifies a bus implementation.
type BackendType string

const (
	// BackendLocal is the in-process channel-based bus.
	BackendLocal BackendType = "local"

	// BackendRedis fans out over Redis Pub/Sub.
	BackendRedis BackendType = "redis"

	// BackendKafka fans out over Kafka topics.
	BackendKafka BackendType = "kafka"
)
