package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Envelope header names carried by the NATS and Kafka transports.
const (
	headerTenantID  = "tenant-id"
	headerMessageID = "message-id"
)

// New creates a new event bus based on configuration.
// Community tier uses channels; Pro tier uses NATS or Kafka.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	case "kafka":
		return NewKafkaBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// publishTenant rejects tenant IDs a message cannot be published under.
func publishTenant(tenantID string) error {
	switch tenantID {
	case "":
		return fmt.Errorf("tenantID is required")
	case domain.AllTenants:
		return fmt.Errorf("cannot publish to all tenants")
	}
	return nil
}

// deliver decodes a transport payload and hands it to handler when it
// belongs to tenantID, or to any tenant for domain.AllTenants. Decode and handler failures are logged, never
// returned, so one bad message cannot stall a subscription.
func deliver(ctx context.Context, source string, data []byte, tenantID string, handler domain.MessageHandler) {
	var msg domain.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("failed to unmarshal bus message",
			"source", source,
			"error", err,
		)
		return
	}
	if tenantID != domain.AllTenants && msg.TenantID != tenantID {
		return
	}

	if err := handler(ctx, &msg); err != nil {
		slog.Error("handler error",
			"source", source,
			"message_id", msg.ID,
			"error", err,
		)
	}
}
