package solver

import "math"

const (
	nlpIterations = 300
	nlpStep       = 0.05
	nlpFDStep     = 1e-6
)

// SolveNLP performs box-constrained gradient descent from spec.XInit,
// estimating the objective gradient by forward finite differences. A
// reference implementation per the same scoping note as SolveMILP.
func (Reference) SolveNLP(spec NLPSpec, _ map[string]string) (NLPResult, error) {
	n := len(spec.Names)
	x := make([]float64, n)
	for i, v := range spec.XInit {
		x[i] = clampRange(v, spec.Lower[i], spec.Upper[i])
	}
	sign := 1.0
	if !spec.Minimize {
		sign = -1.0
	}

	var lastErr error
	for iter := 0; iter < nlpIterations; iter++ {
		f0, err := spec.Objective(x)
		if err != nil {
			lastErr = err
			break
		}
		grad := make([]float64, n)
		for j := 0; j < n; j++ {
			xh := append([]float64{}, x...)
			xh[j] += nlpFDStep
			fh, err := spec.Objective(xh)
			if err != nil {
				lastErr = err
				break
			}
			grad[j] = (fh - f0) / nlpFDStep
		}
		if lastErr != nil {
			break
		}
		for j := range x {
			x[j] = clampRange(x[j]-sign*nlpStep*grad[j], spec.Lower[j], spec.Upper[j])
		}
	}

	obj, err := spec.Objective(x)
	out := make(map[string]float64, n)
	for i, name := range spec.Names {
		out[name] = x[i]
	}
	if err != nil || lastErr != nil || math.IsNaN(obj) || math.IsInf(obj, 0) {
		return NLPResult{X: out, Diagnostics: Diagnostics{Success: false, Code: "OBJECTIVE_EVAL_FAILED"}}, nil
	}
	return NLPResult{X: out, Obj: obj, Diagnostics: Diagnostics{Success: true}}, nil
}
