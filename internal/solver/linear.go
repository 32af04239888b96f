package solver

// gaussianSolve solves the dense n x n system Ax = b by Gauss-Jordan
// elimination with partial pivoting, mirroring internal/domain.MatInverse's
// pivoting strategy. A and b are not mutated. Returns singular() if a
// pivot falls below the same 1e-12 threshold domain.MatInverse uses.
func gaussianSolve(a [][]float64, b []float64) ([]float64, error) {
	n := len(a)
	m := make([][]float64, n)
	rhs := make([]float64, n)
	copy(rhs, b)
	for i := 0; i < n; i++ {
		m[i] = make([]float64, n)
		copy(m[i], a[i])
	}

	for col := 0; col < n; col++ {
		pivotRow := col
		best := abs(m[col][col])
		for r := col + 1; r < n; r++ {
			if v := abs(m[r][col]); v > best {
				best, pivotRow = v, r
			}
		}
		if best < 1e-12 {
			return nil, singular()
		}
		if pivotRow != col {
			m[col], m[pivotRow] = m[pivotRow], m[col]
			rhs[col], rhs[pivotRow] = rhs[pivotRow], rhs[col]
		}
		pivot := m[col][col]
		for j := col; j < n; j++ {
			m[col][j] /= pivot
		}
		rhs[col] /= pivot
		for r := 0; r < n; r++ {
			if r == col {
				continue
			}
			factor := m[r][col]
			if factor == 0 {
				continue
			}
			for j := col; j < n; j++ {
				m[r][j] -= factor * m[col][j]
			}
			rhs[r] -= factor * rhs[col]
		}
	}
	return rhs, nil
}

// leastSquaresSolve solves an overdetermined or underdetermined m x n
// system via the normal equations (A^T A) x = A^T b, falling back to
// gaussianSolve on the resulting square system. Adequate for the small,
// well-conditioned systems the seed test suite exercises.
func leastSquaresSolve(a [][]float64, b []float64, n int) ([]float64, error) {
	m := len(a)
	ata := make([][]float64, n)
	atb := make([]float64, n)
	for i := 0; i < n; i++ {
		ata[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			var sum float64
			for k := 0; k < m; k++ {
				sum += a[k][i] * a[k][j]
			}
			ata[i][j] = sum
		}
		var sum float64
		for k := 0; k < m; k++ {
			sum += a[k][i] * b[k]
		}
		atb[i] = sum
	}
	return gaussianSolve(ata, atb)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Reference is a deterministic, in-process Solver good enough to make the
// Solve/Nlsolve/Milp/Nlp actions exercisable in tests: Gaussian elimination
// for SolveLinear, damped Newton for SolveNonlinear, branch-and-bound over
// a penalized LP relaxation for SolveMILP, and box-constrained gradient descent
// for SolveNLP. None of these are production solver backends — spec.md §1
// names the real MILP/NLP/Newton engines as out-of-scope external
// collaborators.
type Reference struct{}

func (Reference) SolveLinear(sys LinearSystem, _ map[string]float64, _ map[string]string) (LinearResult, error) {
	n := len(sys.Names)
	var x []float64
	var err error
	if len(sys.A) == n {
		x, err = gaussianSolve(sys.A, sys.B)
	} else {
		x, err = leastSquaresSolve(sys.A, sys.B, n)
	}
	if err != nil {
		return LinearResult{Diagnostics: Diagnostics{Success: false, Code: "SINGULAR_MATRIX"}}, err
	}
	out := make(map[string]float64, n)
	for i, name := range sys.Names {
		out[name] = x[i]
	}
	return LinearResult{X: out, Diagnostics: Diagnostics{Success: true}}, nil
}
