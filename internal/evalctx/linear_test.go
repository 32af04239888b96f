package evalctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

func extract(t *testing.T, src string, vars []string, base Context) (map[string]float64, float64, error) {
	t.Helper()
	toks, err := rpn.Compile(src)
	require.NoError(t, err)
	return LinearCoefficients(toks, vars, base)
}

func TestLinearCoefficients_ContextScaledCoefficient(t *testing.T) {
	base := MapContext{"k": domain.Scalar(4), "b": domain.Scalar(2)}
	coeffs, constant, err := extract(t, "k * x + b", []string{"x"}, base)
	require.NoError(t, err)
	assert.Equal(t, float64(4), coeffs["x"])
	assert.Equal(t, float64(2), constant)
}

func TestLinearCoefficients_ConstantSubexpressionsFold(t *testing.T) {
	coeffs, constant, err := extract(t, "sin(0) * x + max(1, 2) + x / 4", []string{"x"}, MapContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(0.25), coeffs["x"])
	assert.Equal(t, float64(2), constant)
}

func TestLinearCoefficients_NegationAndSubtraction(t *testing.T) {
	coeffs, constant, err := extract(t, "-x - (2 - y)", []string{"x", "y"}, MapContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(-1), coeffs["x"])
	assert.Equal(t, float64(1), coeffs["y"])
	assert.Equal(t, float64(-2), constant)
}

// Non-linear terms must fail the extraction with the offending token's
// index in the error, never produce a silently-wrong affine row.
func TestLinearCoefficients_RejectsNonLinear(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"product of unknowns", "x * y"},
		{"square", "x * x"},
		{"unknown under function", "sin(x) + 1"},
		{"unknown under exponent", "x ^ 2 + y"},
		{"unknown in divisor", "1 / x"},
		{"unknown in tensor literal", "[x, 1]"},
		{"unknown under comparison", "(x > 1) + y"},
		{"unknown under factorial", "x! + 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := extract(t, tt.src, []string{"x", "y"}, MapContext{})
			require.Error(t, err)
			var fe *domain.FunctionError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, "extract_linear", fe.Name)
			assert.Contains(t, fe.Reason, "token")
		})
	}
}

func TestLinearCoefficients_UnknownVariableInCoefficient(t *testing.T) {
	_, _, err := extract(t, "missing * x", []string{"x"}, MapContext{})
	require.Error(t, err)
	var uv *domain.UnknownVariableError
	assert.ErrorAs(t, err, &uv)
}

func TestLinearCoefficients_ConstantOnlyExpression(t *testing.T) {
	coeffs, constant, err := extract(t, "3 * 4 + 1", []string{"x"}, MapContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(0), coeffs["x"])
	assert.Equal(t, float64(13), constant)
}
