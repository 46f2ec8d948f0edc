package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS or Kafka (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic. AllTenants as tenantID
	// receives the topic for every tenant.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string `envconfig:"TYPE"`

	// Channel settings (Community tier)
	ChannelBufferSize int `envconfig:"CHANNEL_BUFFER_SIZE"`

	// NATS settings (Pro tier)
	NATSUrl           string `envconfig:"NATS_URL"`
	NATSToken         string `envconfig:"NATS_TOKEN"`
	NATSMaxReconnects int    `envconfig:"NATS_MAX_RECONNECTS"`
	NATSReconnectWait int    `envconfig:"NATS_RECONNECT_WAIT"` // seconds
	NATSQueue         string `envconfig:"NATS_QUEUE"`

	// Kafka settings (Pro tier)
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID string   `envconfig:"KAFKA_GROUP_ID"`
}

// AllTenants subscribes to a topic across every tenant. Publishing under it
// is rejected.
const AllTenants = "*"

// Standard topic names for scoring notifications.
const (
	TopicBatchScored = "harrier.batch.scored"
	TopicReview      = "harrier.review"
)
