// Package features validates raw input rows against the model's feature
// schema and produces canonical transaction records.
package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Validator checks that input rows carry every schema field and converts
// them to records in canonical order.
type Validator struct {
	schema *domain.FeatureSchema
}

// NewValidator creates a validator for the given schema.
func NewValidator(schema *domain.FeatureSchema) *Validator {
	return &Validator{schema: schema}
}

// Schema returns the schema rows are validated against.
func (v *Validator) Schema() *domain.FeatureSchema {
	return v.schema
}

// Validate checks every row and returns one record per row, in input order.
// Missing fields are reported once for the whole batch, in schema order.
// Extra columns are ignored. Either every row is valid or none is returned.
func (v *Validator) Validate(rows []domain.RawRecord) ([]domain.TransactionRecord, error) {
	if len(rows) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	if missing := v.missing(rows); len(missing) > 0 {
		return nil, &domain.MissingFeatureError{Missing: missing}
	}

	n := v.schema.Len()
	records := make([]domain.TransactionRecord, len(rows))
	buf := make([]float64, n)

	for i, row := range rows {
		for j := 0; j < n; j++ {
			name := v.schema.Name(j)
			raw := row[name]
			f, ok := toFloat(raw)
			if !ok {
				return nil, &domain.InvalidValueError{Index: i, Feature: name, Value: raw}
			}
			buf[j] = f
		}
		records[i] = domain.NewTransactionRecord(i, buf)
	}

	return records, nil
}

// missing returns the schema fields absent from any row, in schema order.
func (v *Validator) missing(rows []domain.RawRecord) []string {
	var missing []string
	for j := 0; j < v.schema.Len(); j++ {
		name := v.schema.Name(j)
		for _, row := range rows {
			if _, ok := row[name]; !ok {
				missing = append(missing, name)
				break
			}
		}
	}
	return missing
}

// toFloat converts a cell to a finite float64.
func toFloat(raw any) (float64, bool) {
	var f float64
	switch val := raw.(type) {
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case uint:
		f = float64(val)
	case uint32:
		f = float64(val)
	case uint64:
		f = float64(val)
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
