package features

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Description documents one schema field.
type Description struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Describe returns a description for every field in schema order.
func Describe(schema *domain.FeatureSchema) []Description {
	out := make([]Description, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		name := schema.Name(i)
		out[i] = Description{Position: i, Name: name, Description: describe(name)}
	}
	return out
}

func describe(name string) string {
	switch name {
	case domain.FeatureTime:
		return "Seconds elapsed since the first transaction in the dataset"
	case domain.FeatureAmount:
		return "Transaction amount (€)"
	}
	var n int
	if _, err := fmt.Sscanf(name, "V%d", &n); err == nil && n >= 1 && n <= 28 {
		return fmt.Sprintf("Anonymised PCA component %d", n)
	}
	return "Model input feature"
}
