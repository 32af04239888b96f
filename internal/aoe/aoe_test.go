package aoe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

func newBuffer(aliases map[string]uint64, readings map[uint64]domain.MeasurementValue) *domain.Buffer {
	buf := domain.NewBuffer()
	for name, id := range aliases {
		buf.BindAlias(name, id)
	}
	for id, mv := range readings {
		buf.UpdateBuf(mv)
	}
	return buf
}

// TestFireAlarm mirrors spec.md §8's seed scenario: a ConditionNode gated
// on a point crossing above a threshold fires a SetPoints action.
func TestFireAlarm(t *testing.T) {
	buf := newBuffer(map[string]uint64{"temp": 1, "alarm": 2}, map[uint64]domain.MeasurementValue{
		1: {PointID: 1, AnalogValue: 10},
	})
	model := &domain.AoeModel{
		ID:   1,
		Name: "fire_alarm",
		Events: []domain.EventNode{
			{ID: 10, NodeType: domain.ConditionNode, Expr: "temp - 50", TimeoutMS: 200},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 10, TargetNodeID: 10, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{
				Kind:        domain.ActionSetPoints,
				Assignments: []domain.PointAssignment{{PointAlias: "alarm", IsDiscrete: true, Expr: "1"}},
			}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, buf, 4, 4)
	require.NoError(t, inst.FinishAndCheck(nil))

	go func() {
		time.Sleep(10 * time.Millisecond)
		inst.MeasureSender() <- MeasureMsg{Measures: []domain.MeasurementValue{{PointID: 1, AnalogValue: 60}}}
	}()

	result := inst.Start(context.Background())
	require.Len(t, result.EventResults, 1)
	assert.Equal(t, domain.EventHappen, result.EventResults[0].Result.Final)
	require.Len(t, result.ActionResults, 1)
	assert.Equal(t, domain.ActionSuccess, result.ActionResults[0].Result.Final.Status)
	require.Len(t, result.ActionResults[0].Result.YkIDs, 1)
	assert.Equal(t, int64(1), result.ActionResults[0].Result.YkIDs[0].YkCommand)
}

// TestSimpleRepeat_AlwaysShouldStart covers the SimpleRepeat trigger mode:
// ShouldStart never consults the event graph.
func TestSimpleRepeat_AlwaysShouldStart(t *testing.T) {
	buf := domain.NewBuffer()
	model := &domain.AoeModel{
		ID:      2,
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Trigger: domain.Trigger{Kind: domain.TriggerSimpleRepeat, Period: time.Second},
	}
	inst := New(model, buf, 1, 1)
	require.NoError(t, inst.FinishAndCheck(nil))

	start, err := inst.ShouldStart()
	require.NoError(t, err)
	assert.True(t, start)
}

// TestSwitchBranch verifies SwitchNode routing: the true branch's action
// runs, the false branch's does not.
func TestSwitchBranch(t *testing.T) {
	buf := newBuffer(map[string]uint64{"mode": 1, "hot": 2, "cold": 3}, map[uint64]domain.MeasurementValue{
		1: {PointID: 1, AnalogValue: 5},
	})
	model := &domain.AoeModel{
		ID: 3,
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.SwitchNode, Expr: "mode - 1", TimeoutMS: 10},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 3, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
			{SourceNodeID: 1, TargetNodeID: 3, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
			{SourceNodeID: 2, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{
				Kind: domain.ActionSetPoints, Assignments: []domain.PointAssignment{{PointAlias: "hot", IsDiscrete: true, Expr: "1"}},
			}},
			{SourceNodeID: 3, TargetNodeID: 3, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{
				Kind: domain.ActionSetPoints, Assignments: []domain.PointAssignment{{PointAlias: "cold", IsDiscrete: true, Expr: "1"}},
			}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, buf, 1, 4)
	require.NoError(t, inst.FinishAndCheck(nil))

	result := inst.Start(context.Background())
	var sawHot, sawCold bool
	for _, ar := range result.ActionResults {
		for _, iv := range ar.Result.YkIDs {
			if iv.PointID == 2 {
				sawHot = true
			}
			if iv.PointID == 3 {
				sawCold = true
			}
		}
	}
	assert.True(t, sawHot, "true branch (mode>1) should have run")
	assert.False(t, sawCold, "false branch should not have run")
}

// TestTimeout covers a condition that never crosses positive before its
// node's timeout: the event resolves NotHappen and no action runs.
func TestTimeout(t *testing.T) {
	buf := newBuffer(map[string]uint64{"x": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID:     4,
		Events: []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "x - 10", TimeoutMS: 30}},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 1, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, buf, 1, 1)
	require.NoError(t, inst.FinishAndCheck(nil))

	start := time.Now()
	result := inst.Start(context.Background())
	assert.WithinDuration(t, start.Add(30*time.Millisecond), time.Now(), 100*time.Millisecond)
	require.Len(t, result.EventResults, 1)
	assert.Equal(t, domain.EventNotHappen, result.EventResults[0].Result.Final)
	assert.Empty(t, result.ActionResults)
}

// TestCycleDetection covers spec.md §8's cycle-detection seed scenario: an
// event graph with an action cycle must fail FinishAndCheck.
func TestCycleDetection(t *testing.T) {
	model := &domain.AoeModel{
		ID: 5,
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
			{SourceNodeID: 2, TargetNodeID: 1, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, domain.NewBuffer(), 1, 1)
	err := inst.FinishAndCheck(nil)
	require.Error(t, err)
	var cycleErr *domain.CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

// TestCancellation covers spec.md §8's cancellation seed scenario: a
// waiting event observes the activation context's cancellation and the
// result reports it (plus the tail of unreached nodes) as Canceled.
func TestCancellation(t *testing.T) {
	buf := newBuffer(map[string]uint64{"x": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID: 6,
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "x - 10", TimeoutMS: 5000},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, buf, 1, 1)
	require.NoError(t, inst.FinishAndCheck(nil))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result := inst.Start(ctx)
	assert.WithinDuration(t, start, time.Now(), 500*time.Millisecond)
	require.Len(t, result.EventResults, 2)
	assert.Equal(t, domain.EventCanceled, result.EventResults[0].Result.Final)
	assert.Equal(t, domain.EventCanceled, result.EventResults[1].Result.Final)
	require.Len(t, result.ActionResults, 1)
	assert.Equal(t, domain.ActionNotRun, result.ActionResults[0].Result.Final.Status)
}

// TestStopAllMarksPendingNotRun covers the StopAll failure mode: a failed
// action aborts the activation and every never-dispatched action edge is
// recorded as NotRun rather than silently missing from the result.
func TestStopAllMarksPendingNotRun(t *testing.T) {
	buf := newBuffer(map[string]uint64{"x": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID: 7,
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 3, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
		},
		Actions: []domain.ActionEdge{
			// Fails: "no_such_point" resolves to no alias.
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureStopAll, Action: domain.ActionSpec{
				Kind: domain.ActionSetPoints, Assignments: []domain.PointAssignment{{PointAlias: "no_such_point", Expr: "1"}},
			}},
			{SourceNodeID: 2, TargetNodeID: 3, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	inst := New(model, buf, 1, 1)
	require.NoError(t, inst.FinishAndCheck(nil))

	result := inst.Start(context.Background())
	require.Len(t, result.ActionResults, 2)
	assert.Equal(t, domain.ActionFailed, result.ActionResults[0].Result.Final.Status)
	assert.Equal(t, domain.ActionNotRun, result.ActionResults[1].Result.Final.Status)
	assert.Equal(t, uint64(2), result.ActionResults[1].FromNodeID)
	assert.Equal(t, uint64(3), result.ActionResults[1].ToNodeID)
}

// TestFinishAndCheck_RejectsDuplicateEventID ensures the simplest model
// validation failure mode surfaces a typed GraphError.
func TestFinishAndCheck_RejectsDuplicateEventID(t *testing.T) {
	model := &domain.AoeModel{
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
		},
	}
	inst := New(model, domain.NewBuffer(), 1, 1)
	err := inst.FinishAndCheck(nil)
	require.Error(t, err)
	var graphErr *domain.GraphError
	assert.ErrorAs(t, err, &graphErr)
}
