package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// RedisBusConfig configures the Redis Pub/Sub backend.
type RedisBusConfig struct {
	Addresses     []string      `yaml:"addresses"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	ClusterMode   bool          `yaml:"cluster_mode"`
	ChannelPrefix string        `yaml:"channel_prefix"`
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

// RedisBus fans messages out across processes via Redis Pub/Sub. Local
// delivery always happens first; the remote hop is best effort and logged
// on failure.
type RedisBus struct {
	localBus *LocalBus
	client   redis.UniversalClient
	config   RedisBusConfig
	nodeID   string
	logger   *zap.Logger

	// remoteCh feeds the single writer goroutine so the remote hop
	// preserves publish order; one goroutine per message would let the
	// broker see messages in arbitrary order
	remoteCh   chan Message
	sendRemote func(Message)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected atomic.Bool

	stats struct {
		publishedRemote atomic.Uint64
		receivedRemote  atomic.Uint64
		publishErrors   atomic.Uint64
	}
}

var _ DistributedBus = (*RedisBus)(nil)

// redisEnvelope wraps a message with the publishing node's identity so a
// node never redelivers its own traffic.
type redisEnvelope struct {
	NodeID  string  `json:"nodeId"`
	Message Message `json:"message"`
}

// NewRedisBus creates a Redis-backed bus. Call Connect before publishing
// expects remote fan-out.
func NewRedisBus(cfg RedisBusConfig, nodeID string, publishBufferSize int, logger *zap.Logger) (*RedisBus, error) {
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: no Redis addresses configured", ErrInvalidConfiguration)
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "lattica"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	if publishBufferSize <= 0 {
		publishBufferSize = constants.DefaultPublishBufferSize
	}

	b := &RedisBus{
		localBus: NewLocalBus(publishBufferSize),
		config:   cfg,
		nodeID:   nodeID,
		logger:   logger.With(zap.String("component", "redis-bus"), zap.String("node_id", nodeID)),
		remoteCh: make(chan Message, publishBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.sendRemote = b.publishToRedis

	if cfg.ClusterMode {
		b.client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        cfg.Addresses,
			Password:     cfg.Password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	} else {
		b.client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addresses[0],
			Password:     cfg.Password,
			DB:           cfg.DB,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	return b, nil
}

// pubsubChannel is the single Redis channel this bus publishes on. Routing
// to global/user scopes happens locally on each node after receipt.
func (b *RedisBus) pubsubChannel() string {
	return b.config.ChannelPrefix + ":messages"
}

// Connect verifies the Redis connection and starts the receive loop.
func (b *RedisBus) Connect(ctx context.Context) error {
	if b.connected.Load() {
		return ErrAlreadyConnected
	}

	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	b.connected.Store(true)

	b.wg.Add(2)
	go b.receiveLoop()
	go b.remoteLoop()

	b.logger.Info("connected to Redis",
		zap.Strings("addresses", b.config.Addresses),
		zap.Bool("cluster_mode", b.config.ClusterMode))

	return nil
}

// Disconnect closes the Redis connection.
func (b *RedisBus) Disconnect(_ context.Context) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}

	b.connected.Store(false)
	if err := b.client.Close(); err != nil {
		b.logger.Error("error closing Redis client", zap.Error(err))
	}

	b.logger.Info("disconnected from Redis")
	return nil
}

// IsConnected reports the Redis connection state.
func (b *RedisBus) IsConnected() bool {
	return b.connected.Load()
}

// NodeID returns this node's identity.
func (b *RedisBus) NodeID() string {
	return b.nodeID
}

// Run starts the local delivery loop and blocks until Stop.
func (b *RedisBus) Run() {
	go b.localBus.Run()
	<-b.ctx.Done()
	b.wg.Wait()
	b.localBus.Stop()
}

// Stop shuts the bus down.
func (b *RedisBus) Stop() {
	b.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.Disconnect(ctx)

	b.wg.Wait()
}

// Publish delivers locally and, when connected, queues the message for the
// remote writer. The queue keeps remote delivery in publish order.
func (b *RedisBus) Publish(msg Message) bool {
	if !b.localBus.Publish(msg) {
		return false
	}

	if b.connected.Load() {
		select {
		case b.remoteCh <- msg:
		default:
			b.stats.publishErrors.Add(1)
			b.logger.Warn("remote publish queue full, dropping message",
				zap.String("event_id", msg.EventID))
		}
	}
	return true
}

// remoteLoop is the single writer for the Redis hop.
func (b *RedisBus) remoteLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-b.remoteCh:
			b.sendRemote(msg)
		}
	}
}

// PublishWithContext publishes with cancellation.
func (b *RedisBus) PublishWithContext(ctx context.Context, msg Message) error {
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

func (b *RedisBus) publishToRedis(msg Message) {
	data, err := json.Marshal(redisEnvelope{NodeID: b.nodeID, Message: msg})
	if err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}

	timeout := b.config.WriteTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	if err := b.client.Publish(ctx, b.pubsubChannel(), data).Err(); err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to publish to Redis",
			zap.Error(err),
			zap.String("event_id", msg.EventID))
		return
	}

	b.stats.publishedRemote.Add(1)
}

func (b *RedisBus) receiveLoop() {
	defer b.wg.Done()

	pubsub := b.client.Subscribe(b.ctx, b.pubsubChannel())
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleRemote(msg)
		}
	}
}

func (b *RedisBus) handleRemote(msg *redis.Message) {
	var envelope redisEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
		b.logger.Error("failed to unmarshal envelope", zap.Error(err))
		return
	}

	// Never redeliver this node's own traffic
	if envelope.NodeID == b.nodeID {
		return
	}

	b.stats.receivedRemote.Add(1)
	b.localBus.Publish(envelope.Message)
}

// SetMetrics enables Prometheus metrics on the local delivery path.
func (b *RedisBus) SetMetrics(metrics *Metrics) {
	b.localBus.SetMetrics(metrics)
}

// Subscribe registers a local subscription.
func (b *RedisBus) Subscribe(id SubscriptionID, channels []Channel, bufferSize int) *Subscription {
	return b.localBus.Subscribe(id, channels, bufferSize)
}

// Unsubscribe removes a local subscription.
func (b *RedisBus) Unsubscribe(id SubscriptionID) {
	b.localBus.Unsubscribe(id)
}

// SubscriberCount returns the number of local subscriptions.
func (b *RedisBus) SubscriberCount() int {
	return b.localBus.SubscriberCount()
}

// Stats returns the local delivery totals.
func (b *RedisBus) Stats() (uint64, uint64, uint64) {
	return b.localBus.Stats()
}

// RemoteStats returns (publishedRemote, receivedRemote, publishErrors).
func (b *RedisBus) RemoteStats() (uint64, uint64, uint64) {
	return b.stats.publishedRemote.Load(),
		b.stats.receivedRemote.Load(),
		b.stats.publishErrors.Load()
}

// Healthy pings Redis when connected, otherwise reports local health.
func (b *RedisBus) Healthy() bool {
	if !b.connected.Load() {
		return b.localBus.Healthy()
	}

	ctx, cancel := context.WithTimeout(b.ctx, time.Second)
	defer cancel()
	return b.client.Ping(ctx).Err() == nil
}

// Type identifies the backend implementation.
func (b *RedisBus) Type() BackendType {
	return BackendRedis
}
