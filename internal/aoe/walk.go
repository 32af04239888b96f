package aoe

import (
	"time"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/evalctx"
)

// switchVote records one incoming action's outcome at a SwitchOfActionResult
// node, in the order the incoming actions ran; selectEdges routes on
// whether any recorded vote succeeded.
type switchVote struct {
	edge    *domain.ActionEdge
	success bool
}

// activationWalk holds the per-activation mutable state of one Start call:
// which nodes are enabled, the StopAll/cancellation flags, and the
// SwitchOfActionResult vote tally. Kept separate from Instance so this
// state never leaks between concurrent or successive activations.
type activationWalk struct {
	inst        *Instance
	enabled     map[uint64]bool
	visited     map[uint64]bool
	executed    map[*domain.ActionEdge]bool
	switchInput map[uint64][]switchVote
	switchTruth map[uint64]bool // SwitchNode id -> its own expression's sign, for selectEdges
	stopAll     bool
	canceled    bool
	cancelCh    <-chan struct{}
	ctxDone     <-chan struct{}
}

// evaluateNode implements one event node's evaluation, per spec.md §4.4:
// a SwitchOfActionResult node happens the instant it is reached (its
// branch is decided by selectEdges from switchInput); a SwitchNode records
// its expression's sign and happens at once; every other node happens at
// once if its expression is already positive on entry, and otherwise
// re-checks it on every inbound measurement update until it turns
// positive, its timeout elapses, or the activation is canceled.
func (w *activationWalk) evaluateNode(node *domain.EventNode) (domain.EventResult, bool) {
	start := time.Now()
	res := domain.EventResult{StartTime: start}

	if node.NodeType == domain.SwitchOfActionResult {
		res.Final = domain.EventHappen
		res.EndTime = time.Now()
		return res, true
	}

	if node.NodeType == domain.SwitchNode {
		// A SwitchNode routes on its expression's current sign rather than
		// waiting for it to turn positive: it always "happens" the instant it is
		// reached, per spec.md §4.4's switch semantics.
		v, err := evalctx.Eval(w.inst.exprOf[node.ID], w.inst.evalCtx())
		if err != nil {
			res.Final, res.Err = domain.EventError, err
			res.EndTime = time.Now()
			return res, false
		}
		w.switchTruth[node.ID] = scalarOf(v) > 0
		res.Final = domain.EventHappen
		res.EndTime = time.Now()
		return res, true
	}

	tokens := w.inst.exprOf[node.ID]
	check := func() (bool, error) {
		v, err := evalctx.Eval(tokens, w.inst.evalCtx())
		if err != nil {
			return false, err
		}
		return scalarOf(v) > 0, nil
	}

	happen, err := check()
	if err != nil {
		res.Final, res.Err = domain.EventError, err
		res.EndTime = time.Now()
		return res, false
	}
	if happen {
		res.Final = domain.EventHappen
		res.EndTime = time.Now()
		return res, true
	}

	deadline := start.Add(time.Duration(node.TimeoutMS) * time.Millisecond)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			res.Final = domain.EventNotHappen
			res.EndTime = time.Now()
			return res, false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-w.ctxDone:
			timer.Stop()
			res.Final = domain.EventCanceled
			res.EndTime = time.Now()
			return res, false
		case <-w.cancelCh:
			timer.Stop()
			res.Final = domain.EventCanceled
			res.EndTime = time.Now()
			return res, false
		case msg, ok := <-w.inst.measureCh:
			timer.Stop()
			if !ok {
				res.Final, res.Err = domain.EventError, domain.ErrChannelClosed
				res.EndTime = time.Now()
				return res, false
			}
			w.inst.applyMeasureMsg(msg)
			happen, err = check()
			if err != nil {
				res.Final, res.Err = domain.EventError, err
				res.EndTime = time.Now()
				return res, false
			}
			if happen {
				res.Final = domain.EventHappen
				res.EndTime = time.Now()
				return res, true
			}
		case <-timer.C:
			res.Final = domain.EventNotHappen
			res.EndTime = time.Now()
			return res, false
		}
	}
}

// selectEdges returns the outgoing action edges to traverse from node,
// having just evaluated it as Happen. A node's declared edge order is its
// branch order: a SwitchNode takes edges[0] when its own expression was
// positive (as recorded in switchTruth by evaluateNode) and edges[1]
// otherwise; any further declared edges are never taken. A
// SwitchOfActionResult node routes the same way on whether at least one
// incoming action succeeded, and fans out along all of its edges when no
// incoming action was recorded. Every other node type fans out along all
// of its outgoing edges.
func (w *activationWalk) selectEdges(node *domain.EventNode) []*domain.ActionEdge {
	edges := w.inst.outgoing[node.ID]
	switch node.NodeType {
	case domain.SwitchNode:
		// edges[0] is the declared true branch, edges[1] the false branch;
		// a switch with only one declared edge fires it only on true.
		if w.switchTruth[node.ID] {
			if len(edges) > 0 {
				return edges[:1]
			}
			return nil
		}
		if len(edges) > 1 {
			return edges[1:2]
		}
		return nil
	case domain.SwitchOfActionResult:
		// success := at least one incoming action succeeded (success
		// dominates failure); the decision then routes exactly like a
		// SwitchNode: edges[0] on success, edges[1] on failure.
		votes := w.switchInput[node.ID]
		if len(votes) == 0 {
			return edges // reached with no recorded incoming votes: fan out normally
		}
		success := false
		for _, vote := range votes {
			if vote.success {
				success = true
				break
			}
		}
		if success {
			if len(edges) > 0 {
				return edges[:1]
			}
			return nil
		}
		if len(edges) > 1 {
			return edges[1:2]
		}
		return nil
	default:
		return edges
	}
}

// propagate applies edge's FailureMode to the executed action's outcome,
// enabling (or not) edge's target node, and records the vote if the
// target is a SwitchOfActionResult node (spec.md §4.4).
func (w *activationWalk) propagate(edge *domain.ActionEdge, res domain.ActionResult) {
	succeeded := res.Final.Status == domain.ActionSuccess

	if target := w.inst.nodeByID[edge.TargetNodeID]; target != nil && target.NodeType == domain.SwitchOfActionResult {
		w.switchInput[edge.TargetNodeID] = append(w.switchInput[edge.TargetNodeID], switchVote{edge: edge, success: succeeded})
	}

	switch edge.FailureMode {
	case domain.FailureStopAll:
		if !succeeded {
			w.stopAll = true
			return
		}
		w.enabled[edge.TargetNodeID] = true
	case domain.FailureIgnore:
		w.enabled[edge.TargetNodeID] = true
	default: // FailureDefault, FailureStopFailed
		if succeeded {
			w.enabled[edge.TargetNodeID] = true
		}
	}
}
