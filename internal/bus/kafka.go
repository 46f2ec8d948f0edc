package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// KafkaBus implements EventBus on Kafka. Topics map one to one onto Kafka
// topics; the tenant is the record key, so one tenant's notifications stay
// ordered within a partition.
type KafkaBus struct {
	mu            sync.Mutex
	producer      sarama.SyncProducer
	brokers       []string
	groupID       string
	subscriptions map[string]*kafkaSubscription
	closed        bool
}

type kafkaSubscription struct {
	id       string
	tenantID string
	topic    string
	group    sarama.ConsumerGroup
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewKafkaBus connects a synchronous producer to the configured brokers.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.KafkaBrokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	slog.Info("kafka producer connected", "brokers", cfg.KafkaBrokers)

	return newKafkaBus(producer, cfg), nil
}

func newKafkaBus(producer sarama.SyncProducer, cfg domain.EventBusConfig) *KafkaBus {
	groupID := cfg.KafkaGroupID
	if groupID == "" {
		groupID = "harrier"
	}
	return &KafkaBus{
		producer:      producer,
		brokers:       cfg.KafkaBrokers,
		groupID:       groupID,
		subscriptions: make(map[string]*kafkaSubscription),
	}
}

// Publish sends a message and waits for the broker acknowledgement or ctx.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := publishTenant(tenantID); err != nil {
		return err
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("bus is closed")
	}

	msg := newMessage(tenantID, topic, payload)
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	record := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(tenantID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerTenantID), Value: []byte(tenantID)},
			{Key: []byte(headerMessageID), Value: []byte(msg.ID)},
		},
	}

	type result struct {
		partition int32
		offset    int64
		err       error
	}
	resultCh := make(chan result, 1)

	go func() {
		partition, offset, err := b.producer.SendMessage(record)
		resultCh <- result{partition, offset, err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return fmt.Errorf("kafka send failed: %w", res.err)
		}
		slog.Debug("kafka message sent",
			"topic", topic,
			"message_id", msg.ID,
			"partition", res.partition,
			"offset", res.offset,
		)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe joins the configured consumer group and delivers messages of
// tenantID on topic to handler until Unsubscribe or Close. domain.AllTenants
// receives every tenant's messages.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(b.brokers, b.groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:       uuid.New().String(),
		tenantID: tenantID,
		topic:    topic,
		group:    group,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	h := &consumerGroupHandler{tenantID: tenantID, handler: handler}
	go func() {
		defer close(sub.done)
		for {
			if err := group.Consume(subCtx, []string{topic}, h); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				slog.Error("kafka consume failed", "topic", topic, "error", err)
			}
			if subCtx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range group.Errors() {
			slog.Error("kafka consumer group error", "topic", topic, "error", err)
		}
	}()

	b.subscriptions[sub.id] = sub
	return sub, nil
}

// Ping reports whether the bus can still publish.
func (b *KafkaBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription and the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subscriptions
	b.subscriptions = make(map[string]*kafkaSubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return b.producer.Close()
}

// Unsubscribe leaves the consumer group.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	err := s.group.Close()
	<-s.done
	return err
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}

// consumerGroupHandler decodes envelopes and forwards those of one tenant.
type consumerGroupHandler struct {
	tenantID string
	handler  domain.MessageHandler
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for record := range claim.Messages() {
		h.process(session.Context(), record)
		session.MarkMessage(record, "")
	}
	return nil
}

func (h *consumerGroupHandler) process(ctx context.Context, record *sarama.ConsumerMessage) {
	deliver(ctx, fmt.Sprintf("kafka:%s/%d@%d", record.Topic, record.Partition, record.Offset), record.Value, h.tenantID, h.handler)
}
