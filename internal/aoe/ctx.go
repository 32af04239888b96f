package aoe

import (
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/evalctx"
)

// refreshVariables re-evaluates the AOE's declared Variables in
// dependency order, seeding each with the buffer and the variables
// already computed earlier in this same pass (spec.md §4.4's design note
// on variable re-evaluation preceding every activation). Direct bindings
// received as Vars messages are carried over.
func (inst *Instance) refreshVariables() error {
	computed := make(evalctx.MapContext, len(inst.varCtx)+len(inst.varOrder))
	for name, v := range inst.varCtx {
		computed[name] = v
	}
	bufCtx := evalctx.BufferContext{Buf: inst.buf}
	for _, v := range inst.varOrder {
		tokens := inst.varExpr[v.Name]
		val, err := evalctx.Eval(tokens, evalctx.Chain{computed, bufCtx})
		if err != nil {
			return err
		}
		computed[v.Name] = val
	}
	inst.varCtx = computed
	return nil
}

// evalCtx builds the Context an event or action expression evaluates
// against: declared variables first, then the measurement buffer.
func (inst *Instance) evalCtx() evalctx.Context {
	return evalctx.Chain{evalctx.MapContext(inst.varCtx), evalctx.BufferContext{Buf: inst.buf}}
}

func (inst *Instance) applyMeasureMsg(msg MeasureMsg) {
	for name, v := range msg.Vars {
		inst.varCtx[name] = v
	}
	for _, mv := range msg.Measures {
		inst.buf.UpdateBuf(mv)
	}
}

func scalarOf(v domain.Value) float64 { return v.AsScalar() }
