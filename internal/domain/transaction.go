package domain

// RawRecord is one input row as supplied by the caller: column name to value.
// Values may be numbers, json.Number or numeric strings.
type RawRecord map[string]any

// TransactionRecord is a validated input row.
// Features are stored in canonical schema order and never modified after
// validation; use Feature or Features to read them.
type TransactionRecord struct {
	// Index is the row's original position in the submitted batch.
	Index    int
	features []float64
}

// NewTransactionRecord copies features into a new record.
func NewTransactionRecord(index int, features []float64) TransactionRecord {
	f := make([]float64, len(features))
	copy(f, features)
	return TransactionRecord{Index: index, features: f}
}

// Len returns the number of features in the record.
func (r TransactionRecord) Len() int {
	return len(r.features)
}

// Feature returns the value at canonical position i.
func (r TransactionRecord) Feature(i int) float64 {
	return r.features[i]
}

// Features returns a copy of the feature vector.
func (r TransactionRecord) Features() []float64 {
	out := make([]float64, len(r.features))
	copy(out, r.features)
	return out
}

// Label is the binary fraud classification.
type Label int

const (
	LabelLegit Label = 0
	LabelFraud Label = 1
)

// ScoredTransaction is a record annotated with its probability and the label
// produced at Threshold. Label is only meaningful together with Threshold.
type ScoredTransaction struct {
	Record           TransactionRecord
	FraudProbability float64
	Label            Label
	Threshold        float64
}

// Index returns the original row index.
func (s ScoredTransaction) Index() int {
	return s.Record.Index
}

// RankedList is the top-K view of a scored batch.
type RankedList struct {
	TopK  int                 `json:"topK"`
	Total int                 `json:"total"`
	Items []ScoredTransaction `json:"items"`
}

// Summary aggregates the labels of a scored batch.
type Summary struct {
	Total          int     `json:"total"`
	Flagged        int     `json:"flagged"`
	FlaggedPercent float64 `json:"flaggedPercent"`
	Threshold      float64 `json:"threshold"`
}

// RequestConfig carries the per-request tuning parameters.
type RequestConfig struct {
	// Threshold is the fraud cutoff, in (0, 1).
	Threshold float64 `json:"threshold"`

	// TopK bounds the ranked listing.
	TopK int `json:"topK"`

	// TopN bounds the explanation breakdown.
	TopN int `json:"topN"`

	// Filter is an optional CEL predicate restricting the ranked listing.
	Filter string `json:"filter,omitempty"`
}

// Request defaults.
const (
	DefaultThreshold = 0.5
	DefaultTopK      = 20
	DefaultTopN      = 10
)

// DefaultRequestConfig returns the defaults used when a caller omits values.
func DefaultRequestConfig() RequestConfig {
	return RequestConfig{
		Threshold: DefaultThreshold,
		TopK:      DefaultTopK,
		TopN:      DefaultTopN,
	}
}
