package aoe

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/dfs"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

// FinishAndCheck validates the model's event/action graph and variable
// declarations, compiles every expression once, and assigns toposort order
// and start-node set. It must be called exactly once before ShouldStart or
// Start. knownAliases, if non-nil, is the set of measurement point names
// the engine already knows about; a nil map skips the cross-check against
// point aliases (spec.md §4.4's "every variable... is either a known point
// alias or a declared variable"), deferring unknown-name detection to
// first evaluation instead.
func (inst *Instance) FinishAndCheck(knownAliases map[string]bool) error {
	if err := inst.buildEventGraph(); err != nil {
		return err
	}
	if err := inst.buildVariableOrder(); err != nil {
		return err
	}
	if err := inst.compileExpressions(); err != nil {
		return err
	}
	if knownAliases != nil {
		if err := inst.checkFreeVariables(knownAliases); err != nil {
			return err
		}
	}
	inst.checked = true
	return nil
}

func (inst *Instance) buildEventGraph() error {
	seen := make(map[uint64]bool, len(inst.model.Events))
	for i := range inst.model.Events {
		n := &inst.model.Events[i]
		if seen[n.ID] {
			return &domain.GraphError{Reason: fmt.Sprintf("duplicate event id %d", n.ID)}
		}
		seen[n.ID] = true
		inst.nodeByID[n.ID] = n
		if err := inst.g.AddVertex(vid(n.ID)); err != nil {
			return &domain.GraphError{Reason: err.Error()}
		}
	}

	for i := range inst.model.Actions {
		e := &inst.model.Actions[i]
		if !seen[e.SourceNodeID] {
			return &domain.GraphError{Reason: fmt.Sprintf("action edge references unknown source node %d", e.SourceNodeID)}
		}
		if !seen[e.TargetNodeID] {
			return &domain.GraphError{Reason: fmt.Sprintf("action edge references unknown target node %d", e.TargetNodeID)}
		}
		inst.outgoing[e.SourceNodeID] = append(inst.outgoing[e.SourceNodeID], e)
		inst.incoming[e.TargetNodeID] = append(inst.incoming[e.TargetNodeID], e)
		// A self-loop action edge (a node's own terminal action, with no
		// follow-on node) carries no ordering information, so it is kept
		// out of the toposort graph: adding it would make every such node
		// look like a one-node cycle.
		if e.SourceNodeID == e.TargetNodeID {
			continue
		}
		if _, err := inst.g.AddEdge(vid(e.SourceNodeID), vid(e.TargetNodeID), 0); err != nil {
			return &domain.GraphError{Reason: err.Error()}
		}
	}

	order, err := dfs.TopologicalSort(inst.g)
	if err != nil {
		if err == dfs.ErrCycleDetected {
			return &domain.CycleError{PointID: inst.model.ID}
		}
		return &domain.GraphError{Reason: err.Error()}
	}
	inst.topo = make([]uint64, 0, len(order))
	for _, idStr := range order {
		id, _ := strconv.ParseUint(idStr, 10, 64)
		inst.topo = append(inst.topo, id)
	}

	for _, id := range inst.topo {
		if !inst.hasRealIncoming(id) {
			inst.starts = append(inst.starts, id)
		}
	}
	if len(inst.starts) == 0 {
		return &domain.GraphError{Reason: "event graph has no zero-in-degree start node"}
	}
	return nil
}

// buildVariableOrder topologically sorts the model's declared Variables by
// their expression dependencies on one another, detecting cycles with a
// plain DFS rather than reusing internal/cpgraph: variables are named by
// bare string, not point_id, so cpgraph's point-alias machinery does not
// fit this smaller, AOE-local dependency set.
func (inst *Instance) buildVariableOrder() error {
	byName := make(map[string]*domain.Variable, len(inst.model.Variables))
	for i := range inst.model.Variables {
		v := &inst.model.Variables[i]
		if _, dup := byName[v.Name]; dup {
			return &domain.GraphError{Reason: fmt.Sprintf("duplicate variable %q", v.Name)}
		}
		byName[v.Name] = v
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(byName))
	var order []domain.Variable

	var visit func(name string) error
	visit = func(name string) error {
		v, ok := byName[name]
		if !ok {
			return nil // not a declared variable; resolved elsewhere (point alias or unbound)
		}
		switch state[name] {
		case done:
			return nil
		case visiting:
			return &domain.CycleError{PointID: inst.model.ID}
		}
		state[name] = visiting
		tokens, err := rpn.Compile(v.Expr)
		if err != nil {
			return err
		}
		for _, dep := range rpn.FreeVariables(tokens) {
			bare, _ := domain.SplitSuffix(dep)
			if err := visit(bare); err != nil {
				return err
			}
		}
		state[name] = done
		inst.varExpr[name] = tokens
		order = append(order, *v)
		return nil
	}

	for name := range byName {
		if err := visit(name); err != nil {
			return err
		}
	}
	inst.varOrder = order
	return nil
}

func (inst *Instance) compileExpressions() error {
	for id, n := range inst.nodeByID {
		if n.NodeType == domain.SwitchOfActionResult {
			continue // no expression: its branch is chosen by incoming action results
		}
		tokens, err := rpn.Compile(n.Expr)
		if err != nil {
			return err
		}
		inst.exprOf[id] = tokens
	}
	return nil
}

// checkFreeVariables verifies every free variable referenced by an event
// expression resolves to either a declared AOE variable or a known
// measurement point alias.
func (inst *Instance) checkFreeVariables(knownAliases map[string]bool) error {
	declared := make(map[string]bool, len(inst.varOrder))
	for _, v := range inst.varOrder {
		declared[v.Name] = true
	}
	for id, tokens := range inst.exprOf {
		for _, name := range rpn.FreeVariables(tokens) {
			bare, _ := domain.SplitSuffix(name)
			if declared[bare] || knownAliases[bare] {
				continue
			}
			return &domain.GraphError{Reason: fmt.Sprintf("event %d references unknown variable %q", id, bare)}
		}
	}
	return nil
}

func vid(id uint64) string { return strconv.FormatUint(id, 10) }

// hasRealIncoming reports whether id has an incoming action edge from a
// different node; self-loop terminal actions don't count.
func (inst *Instance) hasRealIncoming(id uint64) bool {
	for _, e := range inst.incoming[id] {
		if e.SourceNodeID != id {
			return true
		}
	}
	return false
}
