package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveLinear_SimpleSystem(t *testing.T) {
	// 2x + y = 5; x - y = 1  =>  x=2, y=1
	sys := LinearSystem{
		Names: []string{"x", "y"},
		A:     [][]float64{{2, 1}, {1, -1}},
		B:     []float64{5, 1},
	}
	res, err := Reference{}.SolveLinear(sys, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Diagnostics.Success)
	assert.InDelta(t, 2, res.X["x"], 1e-6)
	assert.InDelta(t, 1, res.X["y"], 1e-6)
}

func TestSolveLinear_Singular(t *testing.T) {
	sys := LinearSystem{
		Names: []string{"x", "y"},
		A:     [][]float64{{1, 2}, {2, 4}},
		B:     []float64{1, 2},
	}
	_, err := Reference{}.SolveLinear(sys, nil, nil)
	require.Error(t, err)
}

func TestSolveNonlinear_Quadratic(t *testing.T) {
	// f(x) = x^2 - 4 = 0 => x = 2 (from a positive initial guess)
	sys := NonlinearSystem{
		Names: []string{"x"},
		Eval: func(x []float64) ([]float64, error) {
			return []float64{x[0]*x[0] - 4}, nil
		},
	}
	res, err := Reference{}.SolveNonlinear(sys, map[string]float64{"x": 1}, nil)
	require.NoError(t, err)
	assert.True(t, res.Diagnostics.Success)
	assert.InDelta(t, 2, res.X["x"], 1e-4)
}

func TestSolveMILP_Bounded(t *testing.T) {
	// minimize x subject to x >= 1.5, x integer, x in [0, 10] => x = 2
	spec := MILPSpec{
		Names:        []string{"x"},
		C:            []float64{1},
		A:            [][]float64{{1}},
		B:            []float64{1.5},
		ConstraintOp: []string{">="},
		Lower:        []float64{0},
		Upper:        []float64{10},
		IsInteger:    []bool{true},
		Minimize:     true,
	}
	res, err := Reference{}.SolveMILP(spec, nil)
	require.NoError(t, err)
	assert.True(t, res.Diagnostics.Success)
	assert.InDelta(t, 2, res.X["x"], 1e-6)
}

func TestSolveNLP_Minimum(t *testing.T) {
	// minimize (x-3)^2
	spec := NLPSpec{
		Names:     []string{"x"},
		XInit:     []float64{0},
		Lower:     []float64{-100},
		Upper:     []float64{100},
		Minimize:  true,
		Objective: func(x []float64) (float64, error) { return (x[0] - 3) * (x[0] - 3), nil },
	}
	res, err := Reference{}.SolveNLP(spec, nil)
	require.NoError(t, err)
	assert.True(t, res.Diagnostics.Success)
	assert.InDelta(t, 3, res.X["x"], 0.05)
}
