package solver

import "math"

// SolveMILP implements a reference branch-and-bound over the LP relaxation:
// relax integrality, solve the continuous problem by projected gradient
// descent on the penalized objective (constraints as quadratic penalties,
// adequate for the small dense systems this engine's actions build), then
// branch on the most-fractional integer variable until every IsInteger
// coordinate is within 1e-6 of an integer or the node budget is exhausted.
// Not a production MILP solver — spec.md §1 places MILP/NLP backends
// out of scope; this exists to make SimpleMilp/Milp actions testable.
func (r Reference) SolveMILP(spec MILPSpec, params map[string]string) (MILPResult, error) {
	maxNodes := 64
	best := MILPResult{Diagnostics: Diagnostics{Success: false, Code: "INFEASIBLE"}}
	bestObj := math.Inf(1)
	if !spec.Minimize {
		bestObj = math.Inf(-1)
	}

	type node struct {
		lower, upper []float64
	}
	queue := []node{{append([]float64{}, spec.Lower...), append([]float64{}, spec.Upper...)}}

	for len(queue) > 0 && maxNodes > 0 {
		n := queue[0]
		queue = queue[1:]

		x := relax(spec, n.lower, n.upper)
		if !feasible(spec, x, n.lower, n.upper) {
			continue
		}
		obj := dot(spec.C, x)

		branchVar := -1
		frac := 0.0
		for i, isInt := range spec.IsInteger {
			if !isInt {
				continue
			}
			f := x[i] - math.Floor(x[i])
			d := math.Min(f, 1-f)
			if d > 1e-6 && d > frac {
				frac, branchVar = d, i
			}
		}

		if branchVar == -1 {
			improves := (spec.Minimize && obj < bestObj) || (!spec.Minimize && obj > bestObj)
			if improves {
				bestObj = obj
				out := make(map[string]float64, len(x))
				for i, name := range spec.Names {
					out[name] = x[i]
				}
				best = MILPResult{X: out, Obj: obj, Diagnostics: Diagnostics{Success: true}}
			}
			continue
		}

		floorUpper := append([]float64{}, n.upper...)
		floorUpper[branchVar] = math.Floor(x[branchVar])
		ceilLower := append([]float64{}, n.lower...)
		ceilLower[branchVar] = math.Ceil(x[branchVar])
		queue = append(queue, node{n.lower, floorUpper}, node{ceilLower, n.upper})
		maxNodes--
	}
	return best, nil
}

// relax minimizes/maximizes c^T x over the box [lower, upper] ignoring
// A/B entirely when no rows are present, otherwise nudges toward
// constraint satisfaction via a quadratic penalty added to the gradient.
func relax(spec MILPSpec, lower, upper []float64) []float64 {
	n := len(spec.Names)
	x := make([]float64, n)
	for i := range x {
		x[i] = clampRange(0, lower[i], upper[i])
	}
	sign := 1.0
	if !spec.Minimize {
		sign = -1.0
	}
	const lr = 0.05
	for iter := 0; iter < 200; iter++ {
		grad := make([]float64, n)
		for i := range grad {
			grad[i] = sign * spec.C[i]
		}
		for row := range spec.A {
			lhs := dot(spec.A[row], x)
			viol := constraintViolation(lhs, spec.B[row], spec.ConstraintOp[row])
			for i := range grad {
				grad[i] += 2 * viol * spec.A[row][i]
			}
		}
		for i := range x {
			x[i] = clampRange(x[i]-lr*grad[i], lower[i], upper[i])
		}
	}
	return x
}

func constraintViolation(lhs, b float64, op string) float64 {
	switch op {
	case "<=":
		if lhs > b {
			return lhs - b
		}
		return 0
	case ">=":
		if lhs < b {
			return lhs - b
		}
		return 0
	default: // "="
		return lhs - b
	}
}

func feasible(spec MILPSpec, x, lower, upper []float64) bool {
	for i := range x {
		if x[i] < lower[i]-1e-6 || x[i] > upper[i]+1e-6 {
			return false
		}
	}
	for row := range spec.A {
		if math.Abs(constraintViolation(dot(spec.A[row], x), spec.B[row], spec.ConstraintOp[row])) > 1e-3 {
			return false
		}
	}
	return true
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
