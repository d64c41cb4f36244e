package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config selects and configures a bus backend.
type Config struct {
	Type              BackendType    `yaml:"type"`
	PublishBufferSize int            `yaml:"publish_buffer_size"`
	NodeID            string         `yaml:"node_id"`
	Redis             RedisBusConfig `yaml:"redis"`
	Kafka             KafkaBusConfig `yaml:"kafka"`
}

// Factory creates Bus instances from configuration.
type Factory struct {
	config Config
	logger *zap.Logger
}

// NewFactory creates a bus factory.
func NewFactory(cfg Config, logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		config: cfg,
		logger: logger.With(zap.String("component", "bus-factory")),
	}
}

// Create builds the configured backend. Distributed backends that fail to
// connect still return a working bus in local-only degraded mode.
func (f *Factory) Create(ctx context.Context) (Bus, error) {
	switch f.config.Type {
	case BackendLocal, "":
		return f.createLocal(), nil
	case BackendRedis:
		return f.createRedis(ctx)
	case BackendKafka:
		return f.createKafka(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown bus type %q", ErrInvalidConfiguration, f.config.Type)
	}
}

func (f *Factory) nodeID() string {
	if f.config.NodeID != "" {
		return f.config.NodeID
	}
	return uuid.NewString()
}

func (f *Factory) createLocal() Bus {
	f.logger.Info("creating local bus",
		zap.Int("publish_buffer_size", f.config.PublishBufferSize))
	return NewLocalBus(f.config.PublishBufferSize)
}

func (f *Factory) createRedis(ctx context.Context) (Bus, error) {
	b, err := NewRedisBus(f.config.Redis, f.nodeID(), f.config.PublishBufferSize, f.logger)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.Connect(connectCtx); err != nil {
		f.logger.Warn("Redis connection failed, bus runs local-only", zap.Error(err))
	}
	return b, nil
}

func (f *Factory) createKafka(ctx context.Context) (Bus, error) {
	b, err := NewKafkaBus(f.config.Kafka, f.nodeID(), f.config.PublishBufferSize, f.logger)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := b.Connect(connectCtx); err != nil {
		f.logger.Warn("Kafka connection failed, bus runs local-only", zap.Error(err))
	}
	return b, nil
}
