// Package metrics declares the Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BatchesScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_batches_scored_total",
		Help: "Total number of batches scored or re-thresholded.",
	})

	TransactionsScored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_transactions_scored_total",
		Help: "Total number of transactions scored.",
	})

	TransactionsFlagged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_transactions_flagged_total",
		Help: "Total number of transactions labelled as fraud.",
	})

	PipelineErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_pipeline_errors_total",
		Help: "Total number of rejected pipeline requests, labelled by stage.",
	}, []string{"stage"})

	Explanations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_explanations_total",
		Help: "Total number of transaction explanations produced.",
	})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_stage_duration_ms",
		Help:    "Pipeline stage latency in milliseconds, labelled by stage.",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250, 1000, 5000},
	}, []string{"stage"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harrier_batch_size_rows",
		Help:    "Number of rows per scored batch.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	ReviewPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_review_messages_total",
		Help: "Review notifications published, labelled by topic and status.",
	}, []string{"topic", "status"})

	ReviewReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_review_received_total",
		Help: "Notifications consumed by the review sink, labelled by topic and status.",
	}, []string{"topic", "status"})

	ReviewItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harrier_review_items_total",
		Help: "Flagged rows queued for manual review.",
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harrier_http_requests_total",
		Help: "HTTP requests, labelled by method, route pattern and status code.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harrier_http_request_duration_seconds",
		Help:    "HTTP request latency, labelled by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
