package aoe

import (
	"context"
	"time"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/evalctx"
)

// ShouldStart implements spec.md §4.4's `should_start`: SimpleRepeat and
// TimeDrive triggers fire unconditionally (the dispatcher's ticker/cron
// already gates timing); EventDrive and the mixed modes additionally
// require at least one start node's expression to currently evaluate
// positive.
func (inst *Instance) ShouldStart() (bool, error) {
	if !inst.checked {
		return false, &domain.GraphError{Reason: "ShouldStart called before FinishAndCheck"}
	}
	switch inst.model.Trigger.Kind {
	case domain.TriggerSimpleRepeat, domain.TriggerTimeDrive:
		return true, nil
	}
	if err := inst.refreshVariables(); err != nil {
		return false, err
	}
	ctx := inst.evalCtx()
	for _, id := range inst.starts {
		tokens, ok := inst.exprOf[id]
		if !ok {
			continue // a SwitchOfActionResult start node has no gating expression
		}
		v, err := evalctx.Eval(tokens, ctx)
		if err != nil {
			return false, err
		}
		if scalarOf(v) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Start runs one activation of the AOE: refresh declared variables, walk
// the event graph in topological order evaluating reachable/enabled
// nodes, dispatch actions along traversed edges, and propagate failure
// modes, per spec.md §4.4's execution state machine. The returned
// AoeResult is always populated, even when the activation is canceled or
// aborted by a StopAll failure.
func (inst *Instance) Start(ctx context.Context) domain.AoeResult {
	result := domain.AoeResult{AoeID: inst.model.ID, StartTime: time.Now()}
	if !inst.checked {
		result.EndTime = time.Now()
		return result
	}
	cancelCh, done := inst.beginActivation()
	defer done()
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-cancelCh:
			stop()
		case <-ctx.Done():
		}
	}()
	inst.log.Debug().Msg("activation started")

	if err := inst.refreshVariables(); err != nil {
		inst.log.Warn().Err(err).Msg("variable refresh failed, aborting activation")
		result.EndTime = time.Now()
		return result
	}

	walk := &activationWalk{
		inst:        inst,
		enabled:     make(map[uint64]bool, len(inst.topo)),
		switchInput: make(map[uint64][]switchVote),
		switchTruth: make(map[uint64]bool),
		visited:     make(map[uint64]bool, len(inst.topo)),
		executed:    make(map[*domain.ActionEdge]bool, len(inst.model.Actions)),
		cancelCh:    cancelCh,
		ctxDone:     ctx.Done(),
	}
	for _, id := range inst.starts {
		walk.enabled[id] = true
	}

	for _, id := range inst.topo {
		if walk.stopAll {
			break
		}
		if walk.canceled {
			break
		}
		if !walk.enabled[id] {
			continue
		}
		walk.visited[id] = true
		node := inst.nodeByID[id]

		evRes, happened := walk.evaluateNode(node)
		result.EventResults = append(result.EventResults, domain.AoeEventResult{EventID: id, Result: evRes})

		if evRes.Final == domain.EventCanceled {
			walk.canceled = true
			break
		}
		if !happened {
			continue
		}

		for _, edge := range walk.selectEdges(node) {
			if walk.stopAll {
				break
			}
			walk.executed[edge] = true
			actRes := inst.executeAction(ctx, edge)
			if actRes.Final.Status == domain.ActionFailed {
				inst.log.Warn().Str("code", actRes.Final.Code).Uint64("from", edge.SourceNodeID).
					Uint64("to", edge.TargetNodeID).Msg("action failed")
			}
			result.ActionResults = append(result.ActionResults, domain.AoeActionResult{
				FromNodeID: edge.SourceNodeID,
				ToNodeID:   edge.TargetNodeID,
				Result:     actRes,
			})
			walk.propagate(edge, actRes)
		}
	}

	if walk.canceled {
		inst.log.Debug().Msg("activation canceled")
		inst.fillCanceledTail(&result, walk.visited)
	}
	if walk.stopAll {
		inst.log.Debug().Msg("activation aborted by stop_all failure mode")
	}
	if walk.canceled || walk.stopAll {
		inst.fillNotRunActions(&result, walk.executed)
	}
	result.EndTime = time.Now()
	return result
}

// fillCanceledTail records every event node this activation did not
// evaluate as Canceled, per spec.md §5's cancellation semantics
// ("remaining events are Canceled, remaining actions are NotRun").
func (inst *Instance) fillCanceledTail(result *domain.AoeResult, visited map[uint64]bool) {
	now := time.Now()
	for _, id := range inst.topo {
		if visited[id] {
			continue
		}
		result.EventResults = append(result.EventResults, domain.AoeEventResult{
			EventID: id,
			Result:  domain.EventResult{StartTime: now, EndTime: now, Final: domain.EventCanceled},
		})
	}
}

// fillNotRunActions records every action edge an early-terminating
// activation (StopAll, cancellation) never dispatched as NotRun, so
// result consumers can tell "not run" from "absent".
func (inst *Instance) fillNotRunActions(result *domain.AoeResult, executed map[*domain.ActionEdge]bool) {
	now := time.Now()
	for i := range inst.model.Actions {
		edge := &inst.model.Actions[i]
		if executed[edge] {
			continue
		}
		result.ActionResults = append(result.ActionResults, domain.AoeActionResult{
			FromNodeID: edge.SourceNodeID,
			ToNodeID:   edge.TargetNodeID,
			Result: domain.ActionResult{
				StartTime: now,
				EndTime:   now,
				Final:     domain.ActionFinalResult{Status: domain.ActionNotRun},
			},
		})
	}
}
