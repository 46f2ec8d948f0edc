package ranking

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Variables available to every filter besides the feature names.
const (
	VarProbability = "fraud_probability"
	VarLabel       = "label"
	VarIndex       = "index"
	VarTx          = "tx"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter is a compiled CEL predicate over one scored transaction.
//
// Every feature is bound by name as a double (e.g. `Amount > 100.0 && V14 < -5.0`)
// and also through the map `tx` (e.g. `tx["Amount"]`), alongside
// fraud_probability, label and index.
type Filter struct {
	expr    string
	schema  *domain.FeatureSchema
	program cel.Program
	direct  []bool
}

// CompileFilter compiles expr against schema. An empty expression returns a
// nil filter, which matches everything.
func CompileFilter(schema *domain.FeatureSchema, expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	reserved := map[string]bool{VarProbability: true, VarLabel: true, VarIndex: true, VarTx: true}
	direct := make([]bool, schema.Len())
	opts := []cel.EnvOption{
		cel.Variable(VarTx, cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable(VarProbability, cel.DoubleType),
		cel.Variable(VarLabel, cel.IntType),
		cel.Variable(VarIndex, cel.IntType),
	}
	for i, name := range schema.Names() {
		if reserved[name] || !identifier.MatchString(name) {
			continue
		}
		direct[i] = true
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &domain.InvalidFilterError{Expression: expr, Err: issues.Err()}
	}
	if outputType := ast.OutputType(); !outputType.IsExactType(cel.BoolType) {
		return nil, &domain.InvalidFilterError{
			Expression: expr,
			Err:        fmt.Errorf("expression must return bool, got %s", outputType),
		}
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, &domain.InvalidFilterError{Expression: expr, Err: err}
	}

	return &Filter{expr: expr, schema: schema, program: program, direct: direct}, nil
}

// Expression returns the source of the filter.
func (f *Filter) Expression() string {
	return f.expr
}

// Match reports whether st satisfies the filter.
func (f *Filter) Match(st domain.ScoredTransaction) (bool, error) {
	n := f.schema.Len()
	if st.Record.Len() != n {
		return false, &domain.DimensionMismatchError{Index: st.Index(), Got: st.Record.Len(), Want: n}
	}

	tx := make(map[string]float64, n)
	activation := make(map[string]any, n+4)
	for i := 0; i < n; i++ {
		name := f.schema.Name(i)
		v := st.Record.Feature(i)
		tx[name] = v
		if f.direct[i] {
			activation[name] = v
		}
	}
	activation[VarTx] = tx
	activation[VarProbability] = st.FraudProbability
	activation[VarLabel] = int64(st.Label)
	activation[VarIndex] = int64(st.Index())

	out, _, err := f.program.Eval(activation)
	if err != nil {
		return false, &domain.InvalidFilterError{Expression: f.expr, Err: err}
	}

	b, ok := out.(types.Bool)
	if !ok {
		return false, &domain.InvalidFilterError{
			Expression: f.expr,
			Err:        fmt.Errorf("expression returned %s", out.Type()),
		}
	}
	return bool(b), nil
}
