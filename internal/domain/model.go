package domain

import (
	"fmt"
	"math"
	"time"
)

// LinkLogistic is the only supported link function. Per-feature
// contributions are exact only for a linear predictor behind this link.
const LinkLogistic = "logistic"

// ModelParameters is a fitted linear probability model.
// It is immutable: all fields are private and accessors return copies.
type ModelParameters struct {
	version string
	link    string
	schema  *FeatureSchema
	weights []float64
	bias    float64
}

// NewModelParameters validates and copies a weight vector aligned with schema.
func NewModelParameters(version string, schema *FeatureSchema, weights []float64, bias float64) (*ModelParameters, error) {
	if schema == nil {
		return nil, fmt.Errorf("model schema is required")
	}
	if len(weights) != schema.Len() {
		return nil, &DimensionMismatchError{Index: -1, Got: len(weights), Want: schema.Len()}
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight for %s is not finite", schema.Name(i))
		}
	}
	if math.IsNaN(bias) || math.IsInf(bias, 0) {
		return nil, fmt.Errorf("bias is not finite")
	}

	w := make([]float64, len(weights))
	copy(w, weights)

	return &ModelParameters{
		version: version,
		link:    LinkLogistic,
		schema:  schema,
		weights: w,
		bias:    bias,
	}, nil
}

// Version returns the model version label.
func (m *ModelParameters) Version() string { return m.version }

// Link returns the link function name.
func (m *ModelParameters) Link() string { return m.link }

// Schema returns the feature schema the weights are aligned with.
func (m *ModelParameters) Schema() *FeatureSchema { return m.schema }

// Bias returns the intercept.
func (m *ModelParameters) Bias() float64 { return m.bias }

// Weight returns the weight at canonical position i.
func (m *ModelParameters) Weight(i int) float64 { return m.weights[i] }

// Dim returns the number of weights.
func (m *ModelParameters) Dim() int { return len(m.weights) }

// Weights returns a copy of the weight vector.
func (m *ModelParameters) Weights() []float64 {
	out := make([]float64, len(m.weights))
	copy(out, m.weights)
	return out
}

// ModelArtifact is the stored form of a model in the registry.
type ModelArtifact struct {
	Version   string             `json:"version" yaml:"version"`
	Link      string             `json:"link" yaml:"link"`
	Features  []string           `json:"features" yaml:"features"`
	Weights   map[string]float64 `json:"weights" yaml:"weights"`
	Bias      float64            `json:"bias" yaml:"bias"`
	Active    bool               `json:"active" yaml:"-"`
	CreatedAt time.Time          `json:"createdAt,omitempty" yaml:"-"`
}

// ArtifactFromParameters converts loaded parameters back to artifact form.
func ArtifactFromParameters(m *ModelParameters) *ModelArtifact {
	names := m.schema.Names()
	weights := make(map[string]float64, len(names))
	for i, name := range names {
		weights[name] = m.weights[i]
	}
	return &ModelArtifact{
		Version:  m.version,
		Link:     m.link,
		Features: names,
		Weights:  weights,
		Bias:     m.bias,
	}
}
