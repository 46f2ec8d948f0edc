package domain

import "fmt"

// FeatureSchema is the ordered list of model input fields.
// Position in the schema is the feature's identity everywhere downstream.
type FeatureSchema struct {
	names []string
	index map[string]int
}

// NewFeatureSchema builds a schema from an ordered list of unique names.
func NewFeatureSchema(names []string) (*FeatureSchema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("schema requires at least one feature")
	}

	s := &FeatureSchema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("schema feature %d has an empty name", i)
		}
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("schema feature %q is duplicated", name)
		}
		s.names[i] = name
		s.index[name] = i
	}
	return s, nil
}

// CreditCardSchema returns the canonical 30-field schema:
// Time, V1..V28, Amount.
func CreditCardSchema() *FeatureSchema {
	names := make([]string, 0, 30)
	names = append(names, FeatureTime)
	for i := 1; i <= 28; i++ {
		names = append(names, fmt.Sprintf("V%d", i))
	}
	names = append(names, FeatureAmount)

	s, _ := NewFeatureSchema(names)
	return s
}

// Well-known feature names.
const (
	FeatureTime   = "Time"
	FeatureAmount = "Amount"
)

// Len returns the number of features.
func (s *FeatureSchema) Len() int {
	return len(s.names)
}

// Name returns the feature name at position i.
func (s *FeatureSchema) Name(i int) string {
	return s.names[i]
}

// Names returns a copy of the feature names in canonical order.
func (s *FeatureSchema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Index returns the canonical position of a feature.
func (s *FeatureSchema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether two schemas have the same names in the same order.
func (s *FeatureSchema) Equal(other *FeatureSchema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.names) != len(other.names) {
		return false
	}
	for i := range s.names {
		if s.names[i] != other.names[i] {
			return false
		}
	}
	return true
}
