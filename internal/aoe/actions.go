package aoe

import (
	"context"
	"strings"
	"time"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/evalctx"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
	"github.com/shufengdong/sparrowzz-sub000/internal/solver"
	"github.com/shufengdong/sparrowzz-sub000/internal/transport"
)

const (
	defaultCheckTolRel    = 1e-6
	defaultCheckTolAbs    = 1e-9
	defaultCheckTimeoutMS = 2000
)

// executeAction dispatches one ActionEdge's ActionSpec, per spec.md §4.4.
func (inst *Instance) executeAction(ctx context.Context, edge *domain.ActionEdge) domain.ActionResult {
	res := domain.ActionResult{StartTime: time.Now()}
	action := &edge.Action

	switch action.Kind {
	case domain.ActionNone:
		res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
	case domain.ActionSetPoints:
		inst.dispatchSetPoints(ctx, action, &res)
	case domain.ActionSetPointsWithCheck:
		inst.dispatchSetPointsWithCheck(ctx, action, &res)
	case domain.ActionSolve:
		inst.dispatchSolve(action, &res)
	case domain.ActionNlsolve:
		inst.dispatchNlsolve(action, &res)
	case domain.ActionMilp, domain.ActionSimpleMilp:
		inst.dispatchMilp(action, &res)
	case domain.ActionNlp:
		inst.dispatchNlp(action, &res)
	case domain.ActionURL:
		inst.dispatchURL(ctx, action, &res)
	default:
		res.Final = domain.Failed("UNKNOWN_ACTION_KIND")
	}

	res.EndTime = time.Now()
	return res
}

// buildSetpointBatch evaluates every PointAssignment of action against
// inst's context and splits the results into a ControlBatch, resolving
// each PointAlias through the instance buffer's alias table.
func (inst *Instance) buildSetpointBatch(action *domain.ActionSpec) (domain.ControlBatch, error) {
	var batch domain.ControlBatch
	ctx := inst.evalCtx()
	for _, asn := range action.Assignments {
		id, ok := inst.buf.ResolveAlias(asn.PointAlias)
		if !ok {
			return batch, &domain.GraphError{Reason: "unknown point alias " + asn.PointAlias}
		}
		tokens, err := rpn.Compile(asn.Expr)
		if err != nil {
			return batch, err
		}
		v, err := evalctx.Eval(tokens, ctx)
		if err != nil {
			return batch, err
		}
		if asn.IsDiscrete {
			batch.Ints = append(batch.Ints, domain.SetIntValue{PointID: id, YkCommand: int64(scalarOf(v))})
		} else {
			batch.Floats = append(batch.Floats, domain.SetFloatValue{PointID: id, YtCommand: scalarOf(v)})
		}
	}
	return batch, nil
}

func (inst *Instance) dispatchSetPoints(ctx context.Context, action *domain.ActionSpec, res *domain.ActionResult) {
	batch, err := inst.buildSetpointBatch(action)
	if err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	if err := inst.control.Emit(ctx, batch); err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	res.YkIDs, res.YtIDs = batch.Ints, batch.Floats
	res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
}

// dispatchSetPointsWithCheck writes the batch, then blocks (respecting
// ctx and the action's own cancel window) until every written point's
// buffered reading matches the commanded value within tolerance, or its
// check timeout elapses (spec.md §4.4, SPEC_FULL.md §5 Open Question #1).
func (inst *Instance) dispatchSetPointsWithCheck(ctx context.Context, action *domain.ActionSpec, res *domain.ActionResult) {
	batch, err := inst.buildSetpointBatch(action)
	if err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	if err := inst.control.Emit(ctx, batch); err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	res.YkIDs, res.YtIDs = batch.Ints, batch.Floats

	relTol, absTol := action.CheckTolRel, action.CheckTolAbs
	if relTol == 0 {
		relTol = defaultCheckTolRel
	}
	if absTol == 0 {
		absTol = defaultCheckTolAbs
	}
	timeoutMS := action.CheckTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = defaultCheckTimeoutMS
	}
	deadline := time.Now().Add(time.Duration(timeoutMS) * time.Millisecond)

	matches := func() bool {
		for _, iv := range batch.Ints {
			mv, ok := inst.buf.Get(iv.PointID)
			if !ok || int64(mv.Value()) != iv.YkCommand {
				return false
			}
		}
		for _, fv := range batch.Floats {
			mv, ok := inst.buf.Get(fv.PointID)
			if !ok || absDiff(mv.Value(), fv.YtCommand) > maxOf(absTol, relTol*absDiff(fv.YtCommand, 0)) {
				return false
			}
		}
		return true
	}
	if matches() {
		res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
		return
	}
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.Final = domain.Failed("CHECK_TIMEOUT")
			return
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			res.Final = domain.Failed("CANCELED")
			return
		case msg, ok := <-inst.measureCh:
			timer.Stop()
			if !ok {
				res.Final = domain.Failed("CHANNEL_CLOSED")
				return
			}
			inst.applyMeasureMsg(msg)
			if matches() {
				res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
				return
			}
		case <-timer.C:
			res.Final = domain.Failed("CHECK_TIMEOUT")
			return
		}
	}
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

func maxOf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// splitEquation separates "lhs = rhs" into its two expression sources, or
// treats a bare expression as "expr = 0" when no "=" is present. The
// grammar's two-character operators containing "=" ("==", "<=", ">=",
// "!=") are not separators, so only a lone "=" splits the equation.
func splitEquation(eq string) (lhsSrc, rhsSrc string) {
	for idx := 0; idx < len(eq); idx++ {
		if eq[idx] != '=' {
			continue
		}
		if idx+1 < len(eq) && eq[idx+1] == '=' {
			return eq, "0" // a bare boolean expression; treat as g(x) = 0 with x already boolean-valued
		}
		if idx > 0 && strings.IndexByte("<>!", eq[idx-1]) >= 0 {
			continue
		}
		return eq[:idx], eq[idx+1:]
	}
	return eq, "0"
}

// linearRow compiles one equation into its Ax=b row: coefficients per
// named variable and the right-hand constant, via evalctx.LinearCoefficients
// applied to (lhs - rhs).
func (inst *Instance) linearRow(eq string, vars []string) (map[string]float64, float64, error) {
	lhsSrc, rhsSrc := splitEquation(eq)
	lhsTok, err := rpn.Compile(lhsSrc)
	if err != nil {
		return nil, 0, err
	}
	rhsTok, err := rpn.Compile(rhsSrc)
	if err != nil {
		return nil, 0, err
	}
	base := inst.evalCtx()
	lhsCoef, lhsConst, err := evalctx.LinearCoefficients(lhsTok, vars, base)
	if err != nil {
		return nil, 0, err
	}
	rhsCoef, rhsConst, err := evalctx.LinearCoefficients(rhsTok, vars, base)
	if err != nil {
		return nil, 0, err
	}
	coef := make(map[string]float64, len(vars))
	for _, v := range vars {
		coef[v] = lhsCoef[v] - rhsCoef[v]
	}
	return coef, rhsConst - lhsConst, nil
}

func (inst *Instance) dispatchSolve(action *domain.ActionSpec, res *domain.ActionResult) {
	n := len(action.Variables)
	a := make([][]float64, 0, len(action.Equations))
	b := make([]float64, 0, len(action.Equations))
	for _, eq := range action.Equations {
		coef, rhs, err := inst.linearRow(eq, action.Variables)
		if err != nil {
			res.Final = domain.Failed(err.Error())
			return
		}
		row := make([]float64, n)
		for i, v := range action.Variables {
			row[i] = coef[v]
		}
		a = append(a, row)
		b = append(b, rhs)
	}
	sys := solver.LinearSystem{Names: action.Variables, A: a, B: b}
	out, err := inst.solver.SolveLinear(sys, action.XInit, action.Params)
	if err != nil || !out.Diagnostics.Success {
		res.Final = domain.Failed(out.Diagnostics.Code)
		return
	}
	res.NumResult = out.X
	res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
}

func (inst *Instance) dispatchNlsolve(action *domain.ActionSpec, res *domain.ActionResult) {
	eqTokens := make([][2][]rpn.Token, len(action.Equations))
	for i, eq := range action.Equations {
		lhsSrc, rhsSrc := splitEquation(eq)
		lhsTok, err := rpn.Compile(lhsSrc)
		if err != nil {
			res.Final = domain.Failed(err.Error())
			return
		}
		rhsTok, err := rpn.Compile(rhsSrc)
		if err != nil {
			res.Final = domain.Failed(err.Error())
			return
		}
		eqTokens[i] = [2][]rpn.Token{lhsTok, rhsTok}
	}
	base := inst.evalCtx()
	names := action.Variables
	evalResidual := func(x []float64) ([]float64, error) {
		bind := make(evalctx.MapContext, len(names))
		for i, name := range names {
			bind[name] = domain.Scalar(x[i])
		}
		chain := evalctx.Chain{bind, base}
		out := make([]float64, len(eqTokens))
		for i, pair := range eqTokens {
			lv, err := evalctx.Eval(pair[0], chain)
			if err != nil {
				return nil, err
			}
			rv, err := evalctx.Eval(pair[1], chain)
			if err != nil {
				return nil, err
			}
			out[i] = scalarOf(lv) - scalarOf(rv)
		}
		return out, nil
	}

	sys := solver.NonlinearSystem{Names: names, Eval: evalResidual}
	out, err := inst.solver.SolveNonlinear(sys, action.XInit, action.Params)
	if err != nil || !out.Diagnostics.Success {
		res.Final = domain.Failed(out.Diagnostics.Code)
		return
	}
	res.NumResult = out.X
	res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
}

func (inst *Instance) dispatchMilp(action *domain.ActionSpec, res *domain.ActionResult) {
	n := len(action.Variables)
	c, lower, upper, isInt := make([]float64, n), make([]float64, n), make([]float64, n), make([]bool, n)
	cCoef, _, err := inst.linearRow(action.Objective+" = 0", action.Variables)
	if err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	for i, v := range action.Variables {
		c[i] = cCoef[v]
		lower[i] = action.Lower[v]
		upper[i] = action.Upper[v]
		isInt[i] = action.IsInteger[v]
	}
	a := make([][]float64, 0, len(action.Equations))
	b := make([]float64, 0, len(action.Equations))
	for _, eq := range action.Equations {
		coef, rhs, err := inst.linearRow(eq, action.Variables)
		if err != nil {
			res.Final = domain.Failed(err.Error())
			return
		}
		row := make([]float64, n)
		for i, v := range action.Variables {
			row[i] = coef[v]
		}
		a = append(a, row)
		b = append(b, rhs)
	}
	ops := action.ConstraintOps
	if len(ops) < len(a) {
		ops = make([]string, len(a))
		for i := range ops {
			ops[i] = "="
		}
	}
	spec := solver.MILPSpec{
		Names: action.Variables, C: c, A: a, B: b, ConstraintOp: ops,
		Lower: lower, Upper: upper, IsInteger: isInt, Minimize: action.Minimize,
	}
	out, err := inst.solver.SolveMILP(spec, action.Params)
	if err != nil || !out.Diagnostics.Success {
		res.Final = domain.Failed(out.Diagnostics.Code)
		return
	}
	res.NumResult = out.X
	res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
}

func (inst *Instance) dispatchNlp(action *domain.ActionSpec, res *domain.ActionResult) {
	objTokens, err := rpn.Compile(action.Objective)
	if err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	base := inst.evalCtx()
	names := action.Variables
	n := len(names)
	xInit, lower, upper := make([]float64, n), make([]float64, n), make([]float64, n)
	for i, name := range names {
		xInit[i] = action.XInit[name]
		lower[i] = action.Lower[name]
		upper[i] = action.Upper[name]
	}
	objective := func(x []float64) (float64, error) {
		bind := make(evalctx.MapContext, n)
		for i, name := range names {
			bind[name] = domain.Scalar(x[i])
		}
		v, err := evalctx.Eval(objTokens, evalctx.Chain{bind, base})
		if err != nil {
			return 0, err
		}
		return scalarOf(v), nil
	}
	spec := solver.NLPSpec{Names: names, XInit: xInit, Lower: lower, Upper: upper, Objective: objective, Minimize: action.Minimize}
	out, err := inst.solver.SolveNLP(spec, action.Params)
	if err != nil || !out.Diagnostics.Success {
		res.Final = domain.Failed(out.Diagnostics.Code)
		return
	}
	res.NumResult = out.X
	res.Final = domain.ActionFinalResult{Status: domain.ActionSuccess}
}

func (inst *Instance) dispatchURL(ctx context.Context, action *domain.ActionSpec, res *domain.ActionResult) {
	spec, err := transport.FetchActionSpec(ctx, inst.httpClient, action.URL)
	if err != nil {
		res.Final = domain.Failed(err.Error())
		return
	}
	nested := &domain.ActionEdge{Action: *spec}
	nestedRes := inst.executeAction(ctx, nested)
	*res = nestedRes
}
