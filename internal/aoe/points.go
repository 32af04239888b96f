package aoe

import (
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

// NeededAliases returns the bare point aliases this AOE's event and
// variable expressions reference, excluding names that resolve to a
// declared AOE variable instead of a measurement point.
func (inst *Instance) NeededAliases() map[string]bool {
	declared := make(map[string]bool, len(inst.varOrder))
	for _, v := range inst.varOrder {
		declared[v.Name] = true
	}
	needed := make(map[string]bool)
	collect := func(tokens []rpn.Token) {
		for _, name := range rpn.FreeVariables(tokens) {
			bare, _ := domain.SplitSuffix(name)
			if !declared[bare] {
				needed[bare] = true
			}
		}
	}
	for _, tokens := range inst.exprOf {
		collect(tokens)
	}
	for _, tokens := range inst.varExpr {
		collect(tokens)
	}
	return needed
}

// InitialPoints implements spec.md §4.4's `initial_points`: for every
// point alias this AOE's expressions reference, bind the alias on the
// shared buffer and seed it from allMeasurements if a current reading is
// already known, per alias_to_id.
func (inst *Instance) InitialPoints(allMeasurements map[uint64]domain.MeasurementValue, aliasToID map[string]uint64) {
	needed := inst.NeededAliases()
	for alias := range needed {
		id, ok := aliasToID[alias]
		if !ok {
			continue
		}
		inst.buf.BindAlias(alias, id)
		if mv, ok := allMeasurements[id]; ok {
			inst.buf.UpdateBuf(mv)
		}
	}
}
