package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/waLLLnut/lattica-server-sub000/internal/constants"
)

// KafkaBusConfig configures the Kafka backend.
type KafkaBusConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// KafkaBus fans messages out across processes via a Kafka topic. Like the
// Redis backend, local delivery happens first and the remote hop is best
// effort.
type KafkaBus struct {
	localBus *LocalBus
	writer   *kafka.Writer
	reader   *kafka.Reader
	config   KafkaBusConfig
	nodeID   string
	logger   *zap.Logger

	// remoteCh feeds the single writer goroutine so the remote hop
	// preserves publish order. Partition keying only helps when the
	// writer sees messages in order to begin with.
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
		echoesSkipped   atomic.Uint64
	}
}

var _ DistributedBus = (*KafkaBus)(nil)

// kafkaEnvelope mirrors redisEnvelope for the Kafka transport.
type kafkaEnvelope struct {
	NodeID  string  `json:"nodeId"`
	Message Message `json:"message"`
}

// NewKafkaBus creates a Kafka-backed bus.
func NewKafkaBus(cfg KafkaBusConfig, nodeID string, publishBufferSize int, logger *zap.Logger) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: no Kafka brokers configured", ErrInvalidConfiguration)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: no Kafka topic configured", ErrInvalidConfiguration)
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("%w: no Kafka group ID configured", ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())

	if publishBufferSize <= 0 {
		publishBufferSize = constants.DefaultPublishBufferSize
	}

	b := &KafkaBus{
		localBus: NewLocalBus(publishBufferSize),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: batchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
		config:   cfg,
		nodeID:   nodeID,
		logger:   logger.With(zap.String("component", "kafka-bus"), zap.String("node_id", nodeID)),
		remoteCh: make(chan Message, publishBufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	b.sendRemote = b.publishToKafka
	return b, nil
}

// Connect starts the consumer loop. Consumption begins at the last offset so
// a fresh node never replays the topic; durable replay is the history
// store's job.
func (b *KafkaBus) Connect(_ context.Context) error {
	if b.connected.Load() {
		return ErrAlreadyConnected
	}

	b.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     b.config.Brokers,
		Topic:       b.config.Topic,
		GroupID:     b.config.GroupID,
		StartOffset: kafka.LastOffset,
		MaxWait:     time.Second,
	})

	b.connected.Store(true)

	b.wg.Add(2)
	go b.consumeLoop()
	go b.remoteLoop()

	b.logger.Info("connected to Kafka",
		zap.Strings("brokers", b.config.Brokers),
		zap.String("topic", b.config.Topic),
		zap.String("group_id", b.config.GroupID))

	return nil
}

// Disconnect closes the Kafka reader and writer.
func (b *KafkaBus) Disconnect(_ context.Context) error {
	if !b.connected.Load() {
		return ErrNotConnected
	}

	b.connected.Store(false)

	if b.reader != nil {
		if err := b.reader.Close(); err != nil {
			b.logger.Error("error closing Kafka reader", zap.Error(err))
		}
	}
	if err := b.writer.Close(); err != nil {
		b.logger.Error("error closing Kafka writer", zap.Error(err))
	}

	b.logger.Info("disconnected from Kafka")
	return nil
}

// IsConnected reports the Kafka connection state.
func (b *KafkaBus) IsConnected() bool {
	return b.connected.Load()
}

// NodeID returns this node's identity.
func (b *KafkaBus) NodeID() string {
	return b.nodeID
}

// Run starts the local delivery loop and blocks until Stop.
func (b *KafkaBus) Run() {
	go b.localBus.Run()
	<-b.ctx.Done()
	b.wg.Wait()
	b.localBus.Stop()
}

// Stop shuts the bus down.
func (b *KafkaBus) Stop() {
	b.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = b.Disconnect(ctx)

	b.wg.Wait()
}

// Publish delivers locally and, when connected, queues the message for the
// remote writer. The queue keeps remote delivery in publish order.
func (b *KafkaBus) Publish(msg Message) bool {
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

// remoteLoop is the single writer for the Kafka hop.
func (b *KafkaBus) remoteLoop() {
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
func (b *KafkaBus) PublishWithContext(ctx context.Context, msg Message) error {
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

func (b *KafkaBus) publishToKafka(msg Message) {
	data, err := json.Marshal(kafkaEnvelope{NodeID: b.nodeID, Message: msg})
	if err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to marshal envelope", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(b.ctx, 5*time.Second)
	defer cancel()

	// Keying by target owner keeps one principal's messages in order
	// within a partition
	key := msg.TargetOwner
	if key == "" {
		key = string(GlobalChannel)
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	})
	if err != nil {
		b.stats.publishErrors.Add(1)
		b.logger.Error("failed to publish to Kafka",
			zap.Error(err),
			zap.String("event_id", msg.EventID))
		return
	}

	b.stats.publishedRemote.Add(1)
}

func (b *KafkaBus) consumeLoop() {
	defer b.wg.Done()

	for {
		kmsg, err := b.reader.ReadMessage(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.logger.Error("error reading from Kafka", zap.Error(err))
			continue
		}

		var envelope kafkaEnvelope
		if err := json.Unmarshal(kmsg.Value, &envelope); err != nil {
			b.logger.Error("failed to unmarshal envelope", zap.Error(err))
			continue
		}

		if envelope.NodeID == b.nodeID {
			b.stats.echoesSkipped.Add(1)
			continue
		}

		b.stats.receivedRemote.Add(1)
		b.localBus.Publish(envelope.Message)
	}
}

// SetMetrics enables Prometheus metrics on the local delivery path.
func (b *KafkaBus) SetMetrics(metrics *Metrics) {
	b.localBus.SetMetrics(metrics)
}

// Subscribe registers a local subscription.
func (b *KafkaBus) Subscribe(id SubscriptionID, channels []Channel, bufferSize int) *Subscription {
	return b.localBus.Subscribe(id, channels, bufferSize)
}

// Unsubscribe removes a local subscription.
func (b *KafkaBus) Unsubscribe(id SubscriptionID) {
	b.localBus.Unsubscribe(id)
}

// SubscriberCount returns the number of local subscriptions.
func (b *KafkaBus) SubscriberCount() int {
	return b.localBus.SubscriberCount()
}

// Stats returns the local delivery totals.
func (b *KafkaBus) Stats() (uint64, uint64, uint64) {
	return b.localBus.Stats()
}

// RemoteStats returns (publishedRemote, receivedRemote, publishErrors).
func (b *KafkaBus) RemoteStats() (uint64, uint64, uint64) {
	return b.stats.publishedRemote.Load(),
		b.stats.receivedRemote.Load(),
		b.stats.publishErrors.Load()
}

// Healthy reports local health; Kafka failures surface through publish
// error stats rather than health flips.
func (b *KafkaBus) Healthy() bool {
	return b.localBus.Healthy()
}

// Type identifies the backend implementation.
func (b *KafkaBus) Type() BackendType {
	return BackendKafka
}
