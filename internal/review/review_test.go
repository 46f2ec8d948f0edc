package review

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

const tenant = "tenant-001"

func result(threshold float64, probs ...float64) *pipeline.Result {
	res := &pipeline.Result{ModelVersion: "v1", Threshold: threshold}
	flagged := 0
	for i, p := range probs {
		label := domain.LabelLegit
		if p >= threshold {
			label = domain.LabelFraud
			flagged++
		}
		res.Scored = append(res.Scored, domain.ScoredTransaction{
			Record:           domain.NewTransactionRecord(i, nil),
			FraudProbability: p,
			Label:            label,
			Threshold:        threshold,
		})
	}
	res.Summary = domain.Summary{Total: len(probs), Flagged: flagged, Threshold: threshold}
	return res
}

// collect subscribes to topic and returns a function that waits for n
// messages.
func collect(t *testing.T, b domain.EventBus, topic string, n int) func() []*domain.Message {
	t.Helper()
	var mu sync.Mutex
	var got []*domain.Message
	var wg sync.WaitGroup
	wg.Add(n)

	_, err := b.Subscribe(context.Background(), tenant, topic, func(ctx context.Context, msg *domain.Message) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		wg.Done()
		return nil
	})
	require.NoError(t, err)

	return func() []*domain.Message {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for %s", topic)
		}
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestDispatchPublishesSummaryAndReview(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	waitSummary := collect(t, b, domain.TopicBatchScored, 1)
	waitReview := collect(t, b, domain.TopicReview, 1)

	d := NewDispatcher(b, 0)
	require.NoError(t, d.Dispatch(context.Background(), tenant, "batch-1", result(0.5, 0.2, 0.9, 0.6, 0.9)))

	var summary BatchScored
	require.NoError(t, json.Unmarshal(waitSummary()[0].Payload, &summary))
	assert.Equal(t, "batch-1", summary.BatchID)
	assert.Equal(t, "v1", summary.ModelVersion)
	assert.Equal(t, 3, summary.Summary.Flagged)

	var req Request
	require.NoError(t, json.Unmarshal(waitReview()[0].Payload, &req))
	assert.Equal(t, 3, req.Flagged)
	assert.False(t, req.Truncated)
	require.Len(t, req.Items, 3)
	assert.Equal(t, []int{1, 3, 2}, []int{req.Items[0].Index, req.Items[1].Index, req.Items[2].Index})
}

func TestDispatchTruncatesReview(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	waitReview := collect(t, b, domain.TopicReview, 1)

	d := NewDispatcher(b, 2)
	require.NoError(t, d.Dispatch(context.Background(), tenant, "batch-2", result(0.5, 0.7, 0.8, 0.9)))

	var req Request
	require.NoError(t, json.Unmarshal(waitReview()[0].Payload, &req))
	assert.Equal(t, 3, req.Flagged)
	assert.True(t, req.Truncated)
	require.Len(t, req.Items, 2)
	assert.Equal(t, 2, req.Items[0].Index)
	assert.Equal(t, 1, req.Items[1].Index)
}

func TestDispatchSkipsReviewWithoutFlags(t *testing.T) {
	b := bus.NewChannelBus(10)
	defer b.Close()

	_, err := b.Subscribe(context.Background(), tenant, domain.TopicReview, func(ctx context.Context, msg *domain.Message) error {
		t.Error("no review expected for a batch without flagged rows")
		return nil
	})
	require.NoError(t, err)
	waitSummary := collect(t, b, domain.TopicBatchScored, 1)

	d := NewDispatcher(b, 0)
	require.NoError(t, d.Dispatch(context.Background(), tenant, "batch-3", result(0.5, 0.1, 0.2)))
	waitSummary()
	time.Sleep(20 * time.Millisecond)
}

type failingBus struct {
	domain.EventBus
	topics []string
}

func (f *failingBus) Publish(ctx context.Context, tenantID, topic string, payload []byte) error {
	f.topics = append(f.topics, topic)
	return errors.New("broker unavailable")
}

func TestDispatchJoinsPublishErrors(t *testing.T) {
	fb := &failingBus{}
	d := NewDispatcher(fb, 0)
	failures := metrics.ReviewPublished.WithLabelValues(domain.TopicReview, "error")
	before := testutil.ToFloat64(failures)

	err := d.Dispatch(context.Background(), tenant, "batch-4", result(0.5, 0.9))
	require.Error(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
	assert.Contains(t, err.Error(), domain.TopicBatchScored)
	assert.Contains(t, err.Error(), domain.TopicReview)
	assert.Equal(t, []string{domain.TopicBatchScored, domain.TopicReview}, fb.topics)
}

func TestNilDispatcher(t *testing.T) {
	var d *Dispatcher
	assert.NoError(t, d.Dispatch(context.Background(), tenant, "batch-5", result(0.5, 0.9)))
}
