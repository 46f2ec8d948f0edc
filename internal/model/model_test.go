package model

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
)

func creditCardArtifact() *domain.ModelArtifact {
	weights := make(map[string]float64)
	for _, name := range domain.CreditCardSchema().Names() {
		weights[name] = 0
	}
	weights["Amount"] = 0.01
	weights["V14"] = -0.5
	return &domain.ModelArtifact{Version: "lr-test", Link: "logistic", Weights: weights, Bias: -2}
}

func TestFromArtifactAlignsWeights(t *testing.T) {
	m, err := FromArtifact(creditCardArtifact())
	require.NoError(t, err)

	assert.Equal(t, "lr-test", m.Version())
	assert.Equal(t, 30, m.Dim())
	assert.Equal(t, -2.0, m.Bias())
	assert.Equal(t, 0.01, m.Weight(29))
	assert.Equal(t, -0.5, m.Weight(14))
	assert.True(t, m.Schema().Equal(domain.CreditCardSchema()))
}

func TestFromArtifactCustomFeatures(t *testing.T) {
	m, err := FromArtifact(&domain.ModelArtifact{
		Version:  "tiny",
		Features: []string{"b", "a"},
		Weights:  map[string]float64{"a": 1, "b": 2},
	})
	require.NoError(t, err)

	assert.Equal(t, []float64{2, 1}, m.Weights())
	assert.Equal(t, domain.LinkLogistic, m.Link())
}

func TestFromArtifactErrors(t *testing.T) {
	t.Run("nil artifact", func(t *testing.T) {
		_, err := FromArtifact(nil)
		assert.ErrorIs(t, err, domain.ErrModelNotLoaded)
	})

	t.Run("non logistic link", func(t *testing.T) {
		a := creditCardArtifact()
		a.Link = "probit"
		_, err := FromArtifact(a)
		assert.ErrorIs(t, err, ErrUnsupportedLink)
	})

	t.Run("missing weight", func(t *testing.T) {
		a := creditCardArtifact()
		delete(a.Weights, "V7")
		_, err := FromArtifact(a)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "V7")
	})

	t.Run("unknown weight", func(t *testing.T) {
		a := creditCardArtifact()
		a.Weights["Class"] = 1
		_, err := FromArtifact(a)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Class")
	})

	t.Run("missing version", func(t *testing.T) {
		a := creditCardArtifact()
		a.Version = ""
		_, err := FromArtifact(a)
		assert.Error(t, err)
	})
}

func TestParseYAMLAndJSON(t *testing.T) {
	yamlDoc := []byte(`
version: tiny-yaml
link: logistic
features: [x, y]
weights:
  x: 0.5
  y: -1.5
bias: 0.25
`)
	jsonDoc := []byte(`{"version":"tiny-json","features":["x","y"],"weights":{"x":0.5,"y":-1.5},"bias":0.25}`)

	for name, doc := range map[string][]byte{"yaml": yamlDoc, "json": jsonDoc} {
		t.Run(name, func(t *testing.T) {
			a, err := Parse(doc)
			require.NoError(t, err)

			m, err := FromArtifact(a)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.5, -1.5}, m.Weights())
			assert.Equal(t, 0.25, m.Bias())
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: v1\nfeatures: [a]\nweights: {a: 1}\n"), 0o600))

	a, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", a.Version)

	_, err = LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestSummarize(t *testing.T) {
	m, err := FromArtifact(creditCardArtifact())
	require.NoError(t, err)

	s := Summarize(m)
	assert.Equal(t, "lr-test", s.Version)
	assert.Equal(t, 0.01, s.Weights["Amount"])
	assert.InDelta(t, 0.51, s.L1Norm, 1e-12)
	assert.Len(t, s.Features, 30)
}
