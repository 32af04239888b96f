package evalctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

func evalSrc(t *testing.T, src string, ctx Context) domain.Value {
	t.Helper()
	toks, err := rpn.Compile(src)
	require.NoError(t, err)
	v, err := Eval(toks, ctx)
	require.NoError(t, err)
	return v
}

func TestEval_Arithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want float64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"2 ^ 10", 1024},
		{"10 % 3", 1},
		{"4!", 24},
		{"-3 + 5", 2},
		{"1 < 2", 1},
		{"1 > 2", 0},
		{"1 && 0", 0},
		{"0 || 1", 1},
		{"5 @ 1", 0}, // bit 1 of 5 (0b101) is 0
		{"5 @ 0", 1}, // bit 0 of 5 is 1
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			v := evalSrc(t, tt.src, MapContext{})
			assert.Equal(t, tt.want, v.AsScalar())
		})
	}
}

func TestEval_Variables(t *testing.T) {
	ctx := MapContext{"x": domain.Scalar(4), "y": domain.Scalar(5)}
	v := evalSrc(t, "x * y + 1", ctx)
	assert.Equal(t, float64(21), v.AsScalar())
}

func TestEval_UnknownVariable(t *testing.T) {
	toks, err := rpn.Compile("missing + 1")
	require.NoError(t, err)
	_, err = Eval(toks, MapContext{})
	require.Error(t, err)
	var uv *domain.UnknownVariableError
	assert.ErrorAs(t, err, &uv)
}

func TestEval_Builtins(t *testing.T) {
	v := evalSrc(t, "max(1, 5, 3)", MapContext{})
	assert.Equal(t, float64(5), v.AsScalar())

	v = evalSrc(t, "abs(-7)", MapContext{})
	assert.Equal(t, float64(7), v.AsScalar())
}

func TestEval_VectorTimesVectorIsElementwise(t *testing.T) {
	v := evalSrc(t, "[1, 2] * [3, 4]", MapContext{})
	require.Equal(t, domain.KindTensor, v.Kind())
	assert.Equal(t, []float64{3, 8}, v.AsTensor().Data)
}

func TestEval_MatrixTimesVectorIsMatMul(t *testing.T) {
	ctx := MapContext{"m": domain.TensorV(domain.NewTensor([]int{2, 2}, []float64{1, 2, 3, 4}))}
	v := evalSrc(t, "m * [1, 1]", ctx)
	require.Equal(t, domain.KindTensor, v.Kind())
	assert.Equal(t, []int{2}, v.AsTensor().Shape)
	assert.Equal(t, []float64{3, 7}, v.AsTensor().Data)
}

func TestEval_MatrixInverse(t *testing.T) {
	ctx := MapContext{"m": domain.TensorV(domain.NewTensor([]int{2, 2}, []float64{2, 0, 0, 2}))}
	v := evalSrc(t, "m ^ -1", ctx)
	require.Equal(t, domain.KindTensor, v.Kind())
	assert.Equal(t, []float64{0.5, 0, 0, 0.5}, v.AsTensor().Data)
}

func TestEval_SingularMatrixInverse(t *testing.T) {
	ctx := MapContext{"m": domain.TensorV(domain.NewTensor([]int{2, 2}, []float64{1, 2, 2, 4}))}
	toks, err := rpn.Compile("m ^ -1")
	require.NoError(t, err)
	_, err = Eval(toks, ctx)
	require.Error(t, err)
	var se *domain.SolverError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "SINGULAR_MATRIX", se.Code)
}

func TestEval_TensorScalarBroadcast(t *testing.T) {
	ctx := MapContext{"v": domain.TensorV(domain.NewTensor([]int{3}, []float64{1, 2, 3}))}
	v := evalSrc(t, "v + 10", ctx)
	assert.Equal(t, []float64{11, 12, 13}, v.AsTensor().Data)
}

func TestChain_FirstHitWins(t *testing.T) {
	inner := MapContext{"x": domain.Scalar(1)}
	outer := MapContext{"x": domain.Scalar(99), "y": domain.Scalar(2)}
	chain := Chain{inner, outer}
	v, ok := chain.GetVar("x")
	require.True(t, ok)
	assert.Equal(t, float64(1), v.AsScalar())
	v, ok = chain.GetVar("y")
	require.True(t, ok)
	assert.Equal(t, float64(2), v.AsScalar())
	_, ok = chain.GetVar("z")
	assert.False(t, ok)
}

func TestEval_FactorialBounds(t *testing.T) {
	v := evalSrc(t, "170!", MapContext{})
	assert.InEpsilon(t, 7.257415615307994e306, v.AsScalar(), 1e-9)

	for _, src := range []string{"171!", "(-1)!", "factorial(2.5)"} {
		toks, err := rpn.Compile(src)
		require.NoError(t, err, src)
		_, err = Eval(toks, MapContext{})
		require.Error(t, err, src)
		var fe *domain.FunctionError
		assert.ErrorAs(t, err, &fe, src)
	}
}

func TestLinearCoefficients(t *testing.T) {
	toks, err := rpn.Compile("2 * x + 3 * y - 7")
	require.NoError(t, err)
	coeffs, constant, err := LinearCoefficients(toks, []string{"x", "y"}, MapContext{})
	require.NoError(t, err)
	assert.Equal(t, float64(2), coeffs["x"])
	assert.Equal(t, float64(3), coeffs["y"])
	assert.Equal(t, float64(-7), constant)
}
