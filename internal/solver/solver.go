// Package solver defines the narrow interface the AOE runtime (C4) uses to
// invoke numerical backends for Solve/Nlsolve/Milp/SimpleMilp/Nlp actions,
// per spec.md §6. spec.md §1 places the solver backends themselves out of
// scope as an external collaborator; the implementation in this package
// exists only so the seed test suite and Solve-family actions are
// exercisable without a real MILP/NLP engine wired in.
package solver

import "github.com/shufengdong/sparrowzz-sub000/internal/domain"

// Diagnostics reports whether a solve succeeded and, if not, an
// implementation-defined error code (spec.md §6).
type Diagnostics struct {
	Success bool
	Code    string
}

// LinearResult is the outcome of SolveLinear.
type LinearResult struct {
	X           map[string]float64
	Diagnostics Diagnostics
}

// NonlinearResult is the outcome of SolveNonlinear.
type NonlinearResult struct {
	X           map[string]float64
	Diagnostics Diagnostics
}

// MILPResult is the outcome of SolveMILP.
type MILPResult struct {
	X           map[string]float64
	Obj         float64
	Diagnostics Diagnostics
}

// NLPResult is the outcome of SolveNLP.
type NLPResult struct {
	X           map[string]float64
	Obj         float64
	Diagnostics Diagnostics
}

// LinearSystem is a dense Ax = b system over named unknowns, built by
// internal/aoe from an action's extracted linear coefficients.
type LinearSystem struct {
	Names []string    // x[i] is the unknown Names[i]
	A     [][]float64 // m x n
	B     []float64   // length m
}

// NonlinearSystem is f(x) = 0 evaluated via Eval, one component per row.
type NonlinearSystem struct {
	Names []string
	Eval  func(x []float64) ([]float64, error) // returns len(Eval)==len(Names) residuals
}

// MILPSpec is a dense mixed-integer linear program: minimize or maximize
// c^T x subject to A x {<=,=,>=} b, per-variable bounds, and an integer
// mask (spec.md §4.4's SimpleMilp).
type MILPSpec struct {
	Names        []string
	C            []float64
	A            [][]float64
	B            []float64
	ConstraintOp []string // "<=", "=", ">=" per row of A
	Lower, Upper []float64
	IsInteger    []bool
	Minimize     bool
}

// NLPSpec is a general nonlinear objective over box-constrained variables,
// optimized by local box-constrained descent from XInit (spec.md §4.4's Nlp).
type NLPSpec struct {
	Names        []string
	XInit        []float64
	Lower, Upper []float64
	Objective    func(x []float64) (float64, error)
	Minimize     bool
}

// Solver is the four-operation interface spec.md §6 names. Params are
// name->string maps, matching the original's implementation-defined
// solver tuning knobs.
type Solver interface {
	SolveLinear(sys LinearSystem, xInit map[string]float64, params map[string]string) (LinearResult, error)
	SolveNonlinear(sys NonlinearSystem, xInit map[string]float64, params map[string]string) (NonlinearResult, error)
	SolveMILP(spec MILPSpec, params map[string]string) (MILPResult, error)
	SolveNLP(spec NLPSpec, params map[string]string) (NLPResult, error)
}

func singular() error { return &domain.SolverError{Code: "SINGULAR_MATRIX"} }
