package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
)

// Queued is a review request as held by the Sink.
type Queued struct {
	Request
	MessageID  string    `json:"messageId"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Sink consumes scoring notifications for every tenant. Review requests are
// kept in a bounded per-tenant queue, oldest evicted first; batch summaries
// are only logged and counted.
type Sink struct {
	bus      domain.EventBus
	capacity int
	now      func() time.Time

	mu     sync.RWMutex
	queues map[string][]Queued
	subs   []domain.Subscription
}

// NewSink creates a sink holding up to capacity requests per tenant. A
// capacity of zero or less defaults to 100.
func NewSink(bus domain.EventBus, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 100
	}
	return &Sink{
		bus:      bus,
		capacity: capacity,
		now:      time.Now,
		queues:   make(map[string][]Queued),
	}
}

// Start subscribes to the review and batch summary topics across all
// tenants. Delivery runs until Stop or until ctx is cancelled.
func (s *Sink) Start(ctx context.Context) error {
	handlers := []struct {
		topic   string
		handler domain.MessageHandler
	}{
		{domain.TopicReview, s.handleReview},
		{domain.TopicBatchScored, s.handleSummary},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subs) > 0 {
		return fmt.Errorf("review sink already started")
	}

	for _, h := range handlers {
		sub, err := s.bus.Subscribe(ctx, domain.AllTenants, h.topic, h.handler)
		if err != nil {
			for _, started := range s.subs {
				started.Unsubscribe()
			}
			s.subs = nil
			return fmt.Errorf("failed to subscribe to %s: %w", h.topic, err)
		}
		s.subs = append(s.subs, sub)
	}

	slog.Info("review sink started", "capacity", s.capacity)
	return nil
}

// Stop unsubscribes from the bus. Queued requests stay readable.
func (s *Sink) Stop() error {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribe %s: %w", sub.Topic(), err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the tenant's queued review requests, newest first.
func (s *Sink) Pending(tenantID string) []Queued {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.queues[tenantID])
	slices.Reverse(out)
	return out
}

func (s *Sink) handleReview(ctx context.Context, msg *domain.Message) error {
	var req Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.ReviewReceived.WithLabelValues(msg.Topic, "error").Inc()
		return fmt.Errorf("failed to decode review request: %w", err)
	}

	s.mu.Lock()
	q := append(s.queues[msg.TenantID], Queued{Request: req, MessageID: msg.ID, ReceivedAt: s.now().UTC()})
	evicted := 0
	if len(q) > s.capacity {
		evicted = len(q) - s.capacity
		q = slices.Clone(q[evicted:])
	}
	s.queues[msg.TenantID] = q
	s.mu.Unlock()

	metrics.ReviewReceived.WithLabelValues(msg.Topic, "ok").Inc()
	metrics.ReviewItems.Add(float64(len(req.Items)))

	slog.Info("review request queued",
		"tenant_id", msg.TenantID,
		"batch_id", req.BatchID,
		"flagged", req.Flagged,
		"truncated", req.Truncated,
		"evicted", evicted,
	)
	return nil
}

func (s *Sink) handleSummary(ctx context.Context, msg *domain.Message) error {
	var summary BatchScored
	if err := json.Unmarshal(msg.Payload, &summary); err != nil {
		metrics.ReviewReceived.WithLabelValues(msg.Topic, "error").Inc()
		return fmt.Errorf("failed to decode batch summary: %w", err)
	}

	metrics.ReviewReceived.WithLabelValues(msg.Topic, "ok").Inc()
	slog.Debug("batch scored",
		"tenant_id", msg.TenantID,
		"batch_id", summary.BatchID,
		"model_version", summary.ModelVersion,
		"total", summary.Summary.Total,
		"flagged", summary.Summary.Flagged,
	)
	return nil
}
