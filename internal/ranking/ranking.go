// Package ranking orders scored transactions by fraud probability.
package ranking

import (
	"cmp"
	"slices"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Compare orders by probability descending, then by original index
// ascending. Two distinct rows never compare equal.
func Compare(a, b domain.ScoredTransaction) int {
	if c := cmp.Compare(b.FraudProbability, a.FraudProbability); c != 0 {
		return c
	}
	return cmp.Compare(a.Index(), b.Index())
}

// Rank returns at most topK transactions, highest probability first.
// The input slice is not reordered.
func Rank(scored []domain.ScoredTransaction, topK int) (domain.RankedList, error) {
	if topK < 0 {
		return domain.RankedList{}, &domain.InvalidLimitError{Name: "topK", Value: topK}
	}

	sorted := slices.Clone(scored)
	slices.SortFunc(sorted, Compare)

	n := min(topK, len(sorted))
	return domain.RankedList{
		TopK:  topK,
		Total: len(scored),
		Items: sorted[:n:n],
	}, nil
}

// RankFiltered ranks only the transactions matching filter. A nil filter
// matches everything. Total counts the matching transactions.
func RankFiltered(scored []domain.ScoredTransaction, topK int, filter *Filter) (domain.RankedList, error) {
	if topK < 0 {
		return domain.RankedList{}, &domain.InvalidLimitError{Name: "topK", Value: topK}
	}
	if filter == nil {
		return Rank(scored, topK)
	}

	matched := make([]domain.ScoredTransaction, 0, len(scored))
	for _, st := range scored {
		ok, err := filter.Match(st)
		if err != nil {
			return domain.RankedList{}, err
		}
		if ok {
			matched = append(matched, st)
		}
	}
	return Rank(matched, topK)
}
