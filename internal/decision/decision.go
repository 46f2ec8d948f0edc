// Package decision turns fraud probabilities into binary labels at a
// caller-chosen threshold and aggregates the outcome of a batch.
package decision

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ValidateThreshold checks that t lies strictly between 0 and 1.
func ValidateThreshold(t float64) error {
	if math.IsNaN(t) || t <= 0 || t >= 1 {
		return &domain.InvalidThresholdError{Threshold: t}
	}
	return nil
}

// Classify labels a probability: fraud when p >= t.
func Classify(p, t float64) (domain.Label, error) {
	if err := ValidateThreshold(t); err != nil {
		return domain.LabelLegit, err
	}
	return classify(p, t), nil
}

func classify(p, t float64) domain.Label {
	if p >= t {
		return domain.LabelFraud
	}
	return domain.LabelLegit
}

// Apply labels every record at threshold t. probs[i] belongs to recs[i].
// The threshold is checked before any record is touched.
func Apply(recs []domain.TransactionRecord, probs []float64, t float64) ([]domain.ScoredTransaction, error) {
	if err := ValidateThreshold(t); err != nil {
		return nil, err
	}
	if len(recs) != len(probs) {
		return nil, &domain.DimensionMismatchError{Index: -1, Got: len(probs), Want: len(recs)}
	}

	scored := make([]domain.ScoredTransaction, len(recs))
	for i, rec := range recs {
		scored[i] = domain.ScoredTransaction{
			Record:           rec,
			FraudProbability: probs[i],
			Label:            classify(probs[i], t),
			Threshold:        t,
		}
	}
	return scored, nil
}

// Summarize counts flagged transactions. The threshold is taken from the
// first transaction; an empty input yields a zero summary.
func Summarize(scored []domain.ScoredTransaction) domain.Summary {
	s := domain.Summary{Total: len(scored)}
	if len(scored) == 0 {
		return s
	}

	s.Threshold = scored[0].Threshold
	for _, st := range scored {
		if st.Label == domain.LabelFraud {
			s.Flagged++
		}
	}
	s.FlaggedPercent = float64(s.Flagged) / float64(s.Total) * 100
	return s
}

// ShouldReview returns true if the transaction needs manual review.
func ShouldReview(st domain.ScoredTransaction) bool {
	return st.Label == domain.LabelFraud
}

// Flagged returns the transactions that need review, in input order.
func Flagged(scored []domain.ScoredTransaction) []domain.ScoredTransaction {
	var out []domain.ScoredTransaction
	for _, st := range scored {
		if ShouldReview(st) {
			out = append(out, st)
		}
	}
	return out
}
