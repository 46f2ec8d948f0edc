// Package bus delivers scoring notifications over channels, NATS or Kafka.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

// route addresses the subscribers of one topic for one tenant. A route whose
// tenantID is domain.AllTenants receives the topic for every tenant.
type route struct {
	tenantID string
	topic    string
}

// ChannelBus implements EventBus in process using buffered Go channels.
// Used as the Community tier event bus.
type ChannelBus struct {
	mu         sync.RWMutex
	bufferSize int
	routes     map[route]map[string]*channelSubscription
	closed     bool
}

type channelSubscription struct {
	bus     *ChannelBus
	id      string
	route   route
	handler domain.MessageHandler
	inbox   chan *domain.Message
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewChannelBus creates a new channel-based event bus. Each subscriber gets
// its own inbox of bufferSize messages.
func NewChannelBus(bufferSize int) *ChannelBus {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &ChannelBus{
		bufferSize: bufferSize,
		routes:     make(map[route]map[string]*channelSubscription),
	}
}

// Publish hands the message to the tenant's subscribers and to every
// all-tenant subscriber of the topic. It never blocks: a full inbox drops
// the message for that subscriber.
func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := publishTenant(tenantID); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}

	msg := newMessage(tenantID, topic, payload)
	var dropped int
	for _, r := range [...]route{{tenantID, topic}, {domain.AllTenants, topic}} {
		for _, sub := range b.routes[r] {
			if !sub.offer(msg) {
				dropped++
			}
		}
	}
	if dropped > 0 {
		slog.Warn("channel bus subscriber inbox full",
			"topic", topic,
			"tenant_id", tenantID,
			"dropped", dropped,
		)
	}
	return nil
}

// Subscribe registers a handler for a topic. Pass domain.AllTenants as the
// tenant to receive the topic for every tenant.
func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSubscription{
		bus:     b,
		id:      uuid.New().String(),
		route:   route{tenantID: tenantID, topic: topic},
		handler: handler,
		inbox:   make(chan *domain.Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
	}

	subs, ok := b.routes[sub.route]
	if !ok {
		subs = make(map[string]*channelSubscription)
		b.routes[sub.route] = subs
	}
	subs[sub.id] = sub

	go sub.run()
	return sub, nil
}

// Ping checks bus health.
func (b *ChannelBus) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus is closed")
	}
	return nil
}

// Close stops every subscription. Later publishes and subscribes fail.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.stop()
		}
	}
	clear(b.routes)
	return nil
}

// detach removes sub from its route and stops it. A subscription already
// swept by Close or unsubscribed is left alone.
func (b *ChannelBus) detach(sub *channelSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.routes[sub.route]
	if _, ok := subs[sub.id]; !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.routes, sub.route)
	}
	sub.stop()
}

// offer queues msg without blocking. Callers hold the bus read lock, so the
// inbox cannot be closed underneath the send.
func (s *channelSubscription) offer(msg *domain.Message) bool {
	select {
	case s.inbox <- msg:
		return true
	default:
		return false
	}
}

func (s *channelSubscription) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-s.inbox:
			if !ok {
				return
			}
			if err := s.handler(s.ctx, msg); err != nil {
				slog.Error("handler error",
					"topic", msg.Topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// stop cancels the handler goroutine and closes the inbox. Callers hold the
// bus write lock.
func (s *channelSubscription) stop() {
	s.cancel()
	close(s.inbox)
}

// Unsubscribe stops receiving messages and detaches from the bus.
func (s *channelSubscription) Unsubscribe() error {
	s.bus.detach(s)
	return nil
}

// Topic returns the subscribed topic.
func (s *channelSubscription) Topic() string {
	return s.route.topic
}

// newMessage wraps a payload in the envelope shared by every bus.
func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
