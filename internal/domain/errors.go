package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrModelNotLoaded is returned when scoring is attempted without parameters.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrEmptyBatch is returned when a batch contains no rows.
	ErrEmptyBatch = errors.New("batch contains no rows")

	// ErrNonFiniteLogit is returned when a dot product overflows.
	ErrNonFiniteLogit = errors.New("logit is not finite")

	// ErrBatchNotFound is returned when a cached batch has expired or never existed.
	ErrBatchNotFound = errors.New("batch not found")
)

// MissingFeatureError lists schema fields absent from the input columns.
type MissingFeatureError struct {
	Missing []string
}

func (e *MissingFeatureError) Error() string {
	return fmt.Sprintf("missing required features: [%s]", strings.Join(e.Missing, ", "))
}

// InvalidValueError reports a cell that could not be read as a finite number.
type InvalidValueError struct {
	Index   int
	Feature string
	Value   any
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("row %d: feature %s has non-numeric value %v", e.Index, e.Feature, e.Value)
}

// InvalidThresholdError reports a threshold outside the open interval (0, 1).
type InvalidThresholdError struct {
	Threshold float64
}

func (e *InvalidThresholdError) Error() string {
	return fmt.Sprintf("threshold %v must be within (0, 1)", e.Threshold)
}

// InvalidLimitError reports a negative top-K or top-N.
type InvalidLimitError struct {
	Name  string
	Value int
}

func (e *InvalidLimitError) Error() string {
	return fmt.Sprintf("%s must be a non-negative integer, got %d", e.Name, e.Value)
}

// InvalidFilterError reports a listing filter that failed to compile or evaluate.
type InvalidFilterError struct {
	Expression string
	Err        error
}

func (e *InvalidFilterError) Error() string {
	return fmt.Sprintf("invalid filter %q: %v", e.Expression, e.Err)
}

func (e *InvalidFilterError) Unwrap() error {
	return e.Err
}

// DimensionMismatchError reports a feature vector whose length differs from
// the schema. Index is -1 when the mismatch is not tied to a row.
type DimensionMismatchError struct {
	Index int
	Got   int
	Want  int
}

func (e *DimensionMismatchError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("dimension mismatch: got %d features, want %d", e.Got, e.Want)
	}
	return fmt.Sprintf("row %d: dimension mismatch: got %d features, want %d", e.Index, e.Got, e.Want)
}

// UnknownRecordError reports an explanation request for a row that is not in
// the current scored set.
type UnknownRecordError struct {
	Index int
}

func (e *UnknownRecordError) Error() string {
	return fmt.Sprintf("record %d is not in the scored set", e.Index)
}

// MalformedInputError reports tabular input that could not be parsed, such
// as a ragged row or an unterminated quote. Line is 1-based.
type MalformedInputError struct {
	Line int
	Err  error
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input on line %d: %v", e.Line, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}
