// Package review publishes scoring notifications so flagged transactions can
// be routed to manual review.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/ranking"
)

// BatchScored is the payload published on domain.TopicBatchScored.
type BatchScored struct {
	BatchID      string         `json:"batchId"`
	ModelVersion string         `json:"modelVersion"`
	Summary      domain.Summary `json:"summary"`
	ScoredAt     time.Time      `json:"scoredAt"`
}

// Item is one flagged row awaiting review.
type Item struct {
	Index            int     `json:"index"`
	FraudProbability float64 `json:"fraudProbability"`
}

// Request is the payload published on domain.TopicReview. Items are ordered
// by probability, highest first, and Truncated is set when the flagged set
// exceeded the dispatcher limit.
type Request struct {
	BatchID      string    `json:"batchId"`
	ModelVersion string    `json:"modelVersion"`
	Threshold    float64   `json:"threshold"`
	Flagged      int       `json:"flagged"`
	Truncated    bool      `json:"truncated"`
	Items        []Item    `json:"items"`
	RequestedAt  time.Time `json:"requestedAt"`
}

// Dispatcher publishes the outcome of each scoring request on the EventBus.
type Dispatcher struct {
	bus   domain.EventBus
	limit int
}

// NewDispatcher creates a dispatcher. A limit of zero or less lists every
// flagged row.
func NewDispatcher(bus domain.EventBus, limit int) *Dispatcher {
	return &Dispatcher{bus: bus, limit: limit}
}

// Dispatch publishes the batch summary, then a review request when any row
// was flagged. Both publishes are attempted; failures are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, tenantID, batchID string, res *pipeline.Result) error {
	if d == nil || d.bus == nil {
		return nil
	}

	summary := BatchScored{
		BatchID:      batchID,
		ModelVersion: res.ModelVersion,
		Summary:      res.Summary,
		ScoredAt:     time.Now().UTC(),
	}
	errSummary := d.publish(ctx, tenantID, domain.TopicBatchScored, summary)

	flagged := decision.Flagged(res.Scored)
	if len(flagged) == 0 {
		return errSummary
	}

	errReview := d.publish(ctx, tenantID, domain.TopicReview, d.reviewRequest(batchID, res, flagged))
	if errReview == nil {
		slog.Info("review requested",
			"tenant_id", tenantID,
			"batch_id", batchID,
			"flagged", len(flagged),
		)
	}

	return errors.Join(errSummary, errReview)
}

func (d *Dispatcher) reviewRequest(batchID string, res *pipeline.Result, flagged []domain.ScoredTransaction) Request {
	slices.SortFunc(flagged, ranking.Compare)

	req := Request{
		BatchID:      batchID,
		ModelVersion: res.ModelVersion,
		Threshold:    res.Threshold,
		Flagged:      len(flagged),
		RequestedAt:  time.Now().UTC(),
	}
	if d.limit > 0 && len(flagged) > d.limit {
		flagged = flagged[:d.limit]
		req.Truncated = true
	}

	req.Items = make([]Item, len(flagged))
	for i, st := range flagged {
		req.Items[i] = Item{Index: st.Index(), FraudProbability: st.FraudProbability}
	}
	return req
}

func (d *Dispatcher) publish(ctx context.Context, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		metrics.ReviewPublished.WithLabelValues(topic, "error").Inc()
		return fmt.Errorf("failed to encode %s: %w", topic, err)
	}

	if err := d.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		metrics.ReviewPublished.WithLabelValues(topic, "error").Inc()
		slog.Error("failed to publish notification",
			"tenant_id", tenantID,
			"topic", topic,
			"error", err,
		)
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}

	metrics.ReviewPublished.WithLabelValues(topic, "ok").Inc()
	return nil
}
