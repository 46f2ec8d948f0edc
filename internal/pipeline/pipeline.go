// Package pipeline runs a batch through validation, scoring, labelling and
// ranking as one all-or-nothing request.
package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/explain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/metrics"
	"github.com/opensource-finance/harrier/internal/ranking"
	"github.com/opensource-finance/harrier/internal/scoring"
)

var tracer = otel.Tracer("harrier-pipeline")

// Pipeline wires the components around one loaded model.
type Pipeline struct {
	params    *domain.ModelParameters
	validator *features.Validator
	engine    *scoring.Engine
	explainer *explain.Explainer
}

// New creates a pipeline. A nil params value yields a pipeline that rejects
// every call with domain.ErrModelNotLoaded.
func New(params *domain.ModelParameters, maxWorkers int) *Pipeline {
	p := &Pipeline{
		params:    params,
		engine:    scoring.NewEngine(params, maxWorkers),
		explainer: explain.NewExplainer(params),
	}
	if params != nil {
		p.validator = features.NewValidator(params.Schema())
	}
	return p
}

// Params returns the loaded model, or nil.
func (p *Pipeline) Params() *domain.ModelParameters {
	return p.params
}

// Ready reports whether a model is loaded.
func (p *Pipeline) Ready() bool {
	return p.params != nil
}

// Result is the outcome of one scoring request.
type Result struct {
	ModelVersion string
	Threshold    float64
	Records      []domain.TransactionRecord
	Scored       []domain.ScoredTransaction
	Ranked       domain.RankedList
	Summary      domain.Summary
}

// CheckConfig validates the request parameters and compiles the filter.
func (p *Pipeline) CheckConfig(cfg domain.RequestConfig) (*ranking.Filter, error) {
	if p.params == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if err := decision.ValidateThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	if cfg.TopK < 0 {
		return nil, &domain.InvalidLimitError{Name: "topK", Value: cfg.TopK}
	}
	if cfg.TopN < 0 {
		return nil, &domain.InvalidLimitError{Name: "topN", Value: cfg.TopN}
	}
	return ranking.CompileFilter(p.params.Schema(), cfg.Filter)
}

// Run validates raw rows and scores them. The request configuration is
// checked before any row is read.
func (p *Pipeline) Run(ctx context.Context, rows []domain.RawRecord, cfg domain.RequestConfig) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.Int("rows", len(rows)),
		attribute.Float64("threshold", cfg.Threshold),
	))
	defer span.End()

	filter, err := p.CheckConfig(cfg)
	if err != nil {
		return nil, fail(span, "config", err)
	}

	records, err := p.validate(ctx, rows)
	if err != nil {
		return nil, fail(span, "validate", err)
	}

	res, err := p.score(ctx, records, cfg, filter)
	if err != nil {
		return nil, fail(span, "score", err)
	}
	return res, nil
}

// Rescore scores already validated records, e.g. after the caller changed
// the threshold. Labels are always regenerated.
func (p *Pipeline) Rescore(ctx context.Context, records []domain.TransactionRecord, cfg domain.RequestConfig) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Rescore", trace.WithAttributes(
		attribute.Int("rows", len(records)),
		attribute.Float64("threshold", cfg.Threshold),
	))
	defer span.End()

	filter, err := p.CheckConfig(cfg)
	if err != nil {
		return nil, fail(span, "config", err)
	}
	if len(records) == 0 {
		return nil, fail(span, "validate", domain.ErrEmptyBatch)
	}

	res, err := p.score(ctx, records, cfg, filter)
	if err != nil {
		return nil, fail(span, "score", err)
	}
	return res, nil
}

// Explain explains the record with the given original index.
func (p *Pipeline) Explain(ctx context.Context, records []domain.TransactionRecord, index, topN int) (*domain.Explanation, error) {
	_, span := tracer.Start(ctx, "pipeline.Explain", trace.WithAttributes(
		attribute.Int("index", index),
		attribute.Int("top_n", topN),
	))
	defer span.End()

	if p.params == nil {
		return nil, fail(span, "config", domain.ErrModelNotLoaded)
	}
	if topN < 0 {
		return nil, fail(span, "config", &domain.InvalidLimitError{Name: "topN", Value: topN})
	}

	var rec *domain.TransactionRecord
	for i := range records {
		if records[i].Index == index {
			rec = &records[i]
			break
		}
	}
	if rec == nil {
		return nil, fail(span, "explain", &domain.UnknownRecordError{Index: index})
	}

	start := time.Now()
	exp, err := p.explainer.Explain(*rec, topN)
	if err != nil {
		return nil, fail(span, "explain", err)
	}
	observe("explain", start)
	metrics.Explanations.Inc()

	return exp, nil
}

func (p *Pipeline) validate(ctx context.Context, rows []domain.RawRecord) ([]domain.TransactionRecord, error) {
	_, span := tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	start := time.Now()
	records, err := p.validator.Validate(rows)
	if err != nil {
		return nil, err
	}
	observe("validate", start)
	return records, nil
}

// score runs scoring, labelling, summary and ranking on valid records.
func (p *Pipeline) score(ctx context.Context, records []domain.TransactionRecord, cfg domain.RequestConfig, filter *ranking.Filter) (*Result, error) {
	sctx, span := tracer.Start(ctx, "pipeline.score")
	start := time.Now()
	probs, err := p.engine.ScoreBatch(sctx, records)
	span.End()
	if err != nil {
		return nil, err
	}
	observe("score", start)

	start = time.Now()
	scored, err := decision.Apply(records, probs, cfg.Threshold)
	if err != nil {
		return nil, err
	}
	summary := decision.Summarize(scored)
	observe("classify", start)

	_, span = tracer.Start(ctx, "pipeline.rank")
	start = time.Now()
	ranked, err := ranking.RankFiltered(scored, cfg.TopK, filter)
	span.End()
	if err != nil {
		return nil, err
	}
	observe("rank", start)

	metrics.BatchesScored.Inc()
	metrics.BatchSize.Observe(float64(len(records)))
	metrics.TransactionsScored.Add(float64(len(records)))
	metrics.TransactionsFlagged.Add(float64(summary.Flagged))

	return &Result{
		ModelVersion: p.params.Version(),
		Threshold:    cfg.Threshold,
		Records:      records,
		Scored:       scored,
		Ranked:       ranked,
		Summary:      summary,
	}, nil
}

func observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(float64(time.Since(start).Microseconds()) / 1000)
}

func fail(span trace.Span, stage string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	metrics.PipelineErrors.WithLabelValues(stage).Inc()
	return err
}
