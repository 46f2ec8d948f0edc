// Package model loads fitted model artifacts and turns them into the
// immutable parameters shared by every scoring component.
package model

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ErrUnsupportedLink is returned for artifacts whose link function is not
// logistic. Contributions are only exact for a linear logit.
var ErrUnsupportedLink = errors.New("unsupported link function")

// LoadFile reads a YAML or JSON artifact from disk.
func LoadFile(path string) (*domain.ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML or JSON artifact.
func Parse(data []byte) (*domain.ModelArtifact, error) {
	var a domain.ModelArtifact
	if err := yaml.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}
	return &a, nil
}

// FromArtifact validates an artifact and aligns its weights with the feature
// order it declares. An artifact without a feature list uses the credit card
// schema. An empty link defaults to logistic.
func FromArtifact(a *domain.ModelArtifact) (*domain.ModelParameters, error) {
	if a == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if strings.TrimSpace(a.Version) == "" {
		return nil, fmt.Errorf("model version is required")
	}

	link := strings.ToLower(strings.TrimSpace(a.Link))
	if link != "" && link != domain.LinkLogistic {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLink, a.Link)
	}

	schema := domain.CreditCardSchema()
	if len(a.Features) > 0 {
		s, err := domain.NewFeatureSchema(a.Features)
		if err != nil {
			return nil, fmt.Errorf("invalid model features: %w", err)
		}
		schema = s
	}

	weights := make([]float64, schema.Len())
	var missing []string
	for i, name := range schema.Names() {
		w, ok := a.Weights[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		weights[i] = w
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("model %s has no weight for: %s", a.Version, strings.Join(missing, ", "))
	}

	var unknown []string
	for name := range a.Weights {
		if _, ok := schema.Index(name); !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("model %s has weights for unknown features: %s", a.Version, strings.Join(unknown, ", "))
	}

	return domain.NewModelParameters(a.Version, schema, weights, a.Bias)
}

// Summary is the read-only view of a loaded model.
type Summary struct {
	Version  string             `json:"version"`
	Link     string             `json:"link"`
	Bias     float64            `json:"bias"`
	Features []string           `json:"features"`
	Weights  map[string]float64 `json:"weights"`
	L1Norm   float64            `json:"l1Norm"`
}

// Summarize describes loaded parameters.
func Summarize(m *domain.ModelParameters) Summary {
	a := domain.ArtifactFromParameters(m)
	var l1 float64
	for i := 0; i < m.Dim(); i++ {
		l1 += math.Abs(m.Weight(i))
	}
	return Summary{
		Version:  a.Version,
		Link:     a.Link,
		Bias:     a.Bias,
		Features: a.Features,
		Weights:  a.Weights,
		L1Norm:   l1,
	}
}
