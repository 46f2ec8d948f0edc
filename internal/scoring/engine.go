// Package scoring computes fraud probabilities with a logistic model.
package scoring

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/harrier/internal/domain"
)

// minChunk is the smallest slice of a batch handed to one worker.
const minChunk = 256

// Engine scores records against one immutable parameter set.
// It holds no mutable state and is safe for concurrent use.
type Engine struct {
	params     *domain.ModelParameters
	maxWorkers int
}

// NewEngine creates an engine. A nil params value yields an engine that
// fails every call with domain.ErrModelNotLoaded.
func NewEngine(params *domain.ModelParameters, maxWorkers int) *Engine {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Engine{params: params, maxWorkers: maxWorkers}
}

// Params returns the model the engine scores with.
func (e *Engine) Params() *domain.ModelParameters {
	return e.params
}

// Logit returns weights·features + bias for one record.
func (e *Engine) Logit(rec domain.TransactionRecord) (float64, error) {
	if e.params == nil {
		return 0, domain.ErrModelNotLoaded
	}
	if rec.Len() != e.params.Dim() {
		return 0, &domain.DimensionMismatchError{Index: rec.Index, Got: rec.Len(), Want: e.params.Dim()}
	}

	z := e.params.Bias()
	for i := 0; i < rec.Len(); i++ {
		z += e.params.Weight(i) * rec.Feature(i)
	}
	if math.IsNaN(z) {
		return 0, domain.ErrNonFiniteLogit
	}
	return z, nil
}

// Score returns the fraud probability of one record, in [0, 1].
func (e *Engine) Score(rec domain.TransactionRecord) (float64, error) {
	z, err := e.Logit(rec)
	if err != nil {
		return 0, err
	}
	return Sigmoid(z), nil
}

// ScoreBatch scores every record. The i-th probability belongs to the i-th
// record. Large batches are split across up to maxWorkers goroutines.
// On error or cancellation no partial result is returned.
func (e *Engine) ScoreBatch(ctx context.Context, recs []domain.TransactionRecord) ([]float64, error) {
	if e.params == nil {
		return nil, domain.ErrModelNotLoaded
	}

	probs := make([]float64, len(recs))
	if e.maxWorkers == 1 || len(recs) <= minChunk {
		if err := e.scoreRange(ctx, recs, probs, 0, len(recs)); err != nil {
			return nil, err
		}
		return probs, nil
	}

	chunk := (len(recs) + e.maxWorkers - 1) / e.maxWorkers
	if chunk < minChunk {
		chunk = minChunk
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxWorkers)
	for start := 0; start < len(recs); start += chunk {
		end := min(start+chunk, len(recs))
		g.Go(func() error {
			return e.scoreRange(gctx, recs, probs, start, end)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return probs, nil
}

// scoreRange writes probabilities for recs[start:end] into out.
// Workers write disjoint ranges of out.
func (e *Engine) scoreRange(ctx context.Context, recs []domain.TransactionRecord, out []float64, start, end int) error {
	for i := start; i < end; i++ {
		if (i-start)%minChunk == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		p, err := e.Score(recs[i])
		if err != nil {
			return err
		}
		out[i] = p
	}
	return nil
}

// Sigmoid maps a logit to a probability without overflowing exp for large
// negative inputs.
func Sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	ez := math.Exp(z)
	return ez / (1 + ez)
}
