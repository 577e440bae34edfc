package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaConfig configures a consumer group whose message values are JSON records.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  []string `mapstructure:"topics"`
	GroupID string   `mapstructure:"group_id"`
	// InitialOffset is "oldest" or "newest" (the default).
	InitialOffset string `mapstructure:"initial_offset"`
	// Version is the Kafka protocol version, e.g. "2.8.0". Empty keeps sarama's default.
	Version string `mapstructure:"version"`
}

// Validate checks that the consumer can be built.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("kafka: at least one broker is required")
	}
	if len(c.Topics) == 0 {
		return fmt.Errorf("kafka: at least one topic is required")
	}
	if c.GroupID == "" {
		return fmt.Errorf("kafka: group id is required")
	}
	return nil
}

func (c KafkaConfig) saramaConfig() (*sarama.Config, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Return.Errors = true

	switch c.InitialOffset {
	case "oldest", "earliest":
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		config.Consumer.Offsets.Initial = sarama.OffsetNewest
	}

	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, fmt.Errorf("kafka: %w", err)
		}
		config.Version = v
	}
	return config, nil
}

// Kafka feeds message values to a RecordFunc. Records from all claimed partitions are
// handed over one at a time, and a message is marked only after its record was accepted.
type Kafka struct {
	cfg    KafkaConfig
	log    *zap.Logger
	fn     RecordFunc
	mu     sync.Mutex
	count  int
	fatal  error
	cancel context.CancelFunc
}

// NewKafka returns a consumer that calls fn for every message.
func NewKafka(cfg KafkaConfig, log *zap.Logger, fn RecordFunc) (*Kafka, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Kafka{cfg: cfg, log: log, fn: fn}, nil
}

// Run consumes until ctx is done or fn returns an error, which Run then returns.
func (k *Kafka) Run(ctx context.Context) error {
	config, err := k.cfg.saramaConfig()
	if err != nil {
		return err
	}
	group, err := sarama.NewConsumerGroup(k.cfg.Brokers, k.cfg.GroupID, config)
	if err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			k.log.Error("failed to close consumer group", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	k.cancel = cancel

	go func() {
		for err := range group.Errors() {
			k.log.Error("consumer group error", zap.Error(err))
		}
	}()

	k.log.Info("subscribed to Kafka topics",
		zap.Strings("topics", k.cfg.Topics),
		zap.String("consumer_group", k.cfg.GroupID))

	for {
		err := group.Consume(ctx, k.cfg.Topics, k)
		if fatal := k.fatalErr(); fatal != nil {
			return fatal
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			k.log.Error("consume failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Records returns the number of records handed to fn.
func (k *Kafka) Records() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.count
}

func (k *Kafka) fatalErr() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.fatal
}

// Setup implements sarama.ConsumerGroupHandler
func (k *Kafka) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler
func (k *Kafka) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim implements sarama.ConsumerGroupHandler
func (k *Kafka) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := k.handle(session, message); err != nil {
				return err
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

func (k *Kafka) handle(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.fatal != nil {
		return k.fatal
	}
	k.count++
	if err := k.fn(k.count, message.Value); err != nil {
		k.fatal = err
		if k.cancel != nil {
			k.cancel()
		}
		return err
	}
	session.MarkMessage(message, "")

	k.log.Debug("processed Kafka message",
		zap.String("topic", message.Topic),
		zap.Int32("partition", message.Partition),
		zap.Int64("offset", message.Offset))
	return nil
}
