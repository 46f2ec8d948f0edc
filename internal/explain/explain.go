// Package explain decomposes a transaction's logit into per-feature
// contributions. The decomposition is exact for a linear logit, which is
// the only model form the loader accepts.
package explain

import (
	"cmp"
	"math"
	"slices"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/scoring"
)

// Method names the decomposition reported in every explanation.
const Method = "linear-exact"

// Explainer explains transactions scored with one parameter set.
type Explainer struct {
	params *domain.ModelParameters
}

// NewExplainer creates an explainer for params.
func NewExplainer(params *domain.ModelParameters) *Explainer {
	return &Explainer{params: params}
}

// Explain returns the topN largest contributions by magnitude. Ties keep
// schema order. ContributionSum and Logit cover every feature regardless
// of topN, so ContributionSum + Bias equals Logit, and Probability is the
// sigmoid of that logit as scoring.Engine computes it.
func (e *Explainer) Explain(rec domain.TransactionRecord, topN int) (*domain.Explanation, error) {
	if e.params == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if topN < 0 {
		return nil, &domain.InvalidLimitError{Name: "topN", Value: topN}
	}

	n := e.params.Dim()
	if rec.Len() != n {
		return nil, &domain.DimensionMismatchError{Index: rec.Index, Got: rec.Len(), Want: n}
	}

	schema := e.params.Schema()
	contributions := make([]domain.Contribution, n)

	// accumulate exactly as scoring.Engine.Logit does
	logit := e.params.Bias()
	var sum float64
	for i := 0; i < n; i++ {
		w := e.params.Weight(i)
		v := rec.Feature(i)
		c := w * v
		logit += c
		sum += c

		contributions[i] = domain.Contribution{
			Feature:      schema.Name(i),
			Value:        v,
			Weight:       w,
			Contribution: c,
			Direction:    domain.DirectionOf(c),
		}
	}
	if math.IsNaN(logit) {
		return nil, domain.ErrNonFiniteLogit
	}

	slices.SortStableFunc(contributions, func(a, b domain.Contribution) int {
		return cmp.Compare(math.Abs(b.Contribution), math.Abs(a.Contribution))
	})

	k := min(topN, n)
	return &domain.Explanation{
		Index:           rec.Index,
		ModelVersion:    e.params.Version(),
		Method:          Method,
		Probability:     scoring.Sigmoid(logit),
		Logit:           logit,
		Bias:            e.params.Bias(),
		ContributionSum: sum,
		TopN:            topN,
		Contributions:   contributions[:k:k],
	}, nil
}
