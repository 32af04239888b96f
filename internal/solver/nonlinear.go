package solver

import (
	"math"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

const (
	newtonMaxIter  = 50
	newtonTol      = 1e-9
	newtonFDStep   = 1e-6
	newtonMinDamp  = 1e-4
)

// SolveNonlinear runs damped Newton's method: at each step, build the
// residual Jacobian by forward finite differences, solve for the Newton
// step with gaussianSolve, then halve the step length until the residual
// norm decreases (classic damping, avoids overshoot on stiff systems).
func (Reference) SolveNonlinear(sys NonlinearSystem, xInit map[string]float64, _ map[string]string) (NonlinearResult, error) {
	n := len(sys.Names)
	x := make([]float64, n)
	for i, name := range sys.Names {
		x[i] = xInit[name]
	}

	residual, err := sys.Eval(x)
	if err != nil {
		return NonlinearResult{}, &domain.FunctionError{Name: "nlsolve", Reason: err.Error()}
	}

	for iter := 0; iter < newtonMaxIter; iter++ {
		norm := normOf(residual)
		if norm < newtonTol {
			break
		}
		jac, err := jacobianOf(sys.Eval, x, residual)
		if err != nil {
			return NonlinearResult{}, &domain.FunctionError{Name: "nlsolve", Reason: err.Error()}
		}
		neg := make([]float64, n)
		for i := range residual {
			neg[i] = -residual[i]
		}
		step, err := gaussianSolve(jac, neg)
		if err != nil {
			return NonlinearResult{Diagnostics: Diagnostics{Success: false, Code: "SINGULAR_JACOBIAN"}}, err
		}

		damp := 1.0
		for damp > newtonMinDamp {
			trial := make([]float64, n)
			for i := range x {
				trial[i] = x[i] + damp*step[i]
			}
			trialResidual, err := sys.Eval(trial)
			if err == nil && normOf(trialResidual) < norm {
				x, residual = trial, trialResidual
				break
			}
			damp /= 2
		}
		if damp <= newtonMinDamp {
			break
		}
	}

	out := make(map[string]float64, n)
	for i, name := range sys.Names {
		out[name] = x[i]
	}
	converged := normOf(residual) < newtonTol
	diag := Diagnostics{Success: converged}
	if !converged {
		diag.Code = "DID_NOT_CONVERGE"
	}
	return NonlinearResult{X: out, Diagnostics: diag}, nil
}

func normOf(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// jacobianOf builds the n x n forward-difference Jacobian of f at x, given
// f(x) already evaluated as f0.
func jacobianOf(f func([]float64) ([]float64, error), x, f0 []float64) ([][]float64, error) {
	n := len(x)
	jac := make([][]float64, n)
	for i := range jac {
		jac[i] = make([]float64, n)
	}
	for j := 0; j < n; j++ {
		xh := append([]float64{}, x...)
		xh[j] += newtonFDStep
		fh, err := f(xh)
		if err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			jac[i][j] = (fh[i] - f0[i]) / newtonFDStep
		}
	}
	return jac, nil
}
