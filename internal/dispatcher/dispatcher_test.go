package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shufengdong/sparrowzz-sub000/internal/aoe"
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

func newInstance(t *testing.T, model *domain.AoeModel, buf *domain.Buffer) *aoe.Instance {
	t.Helper()
	inst := aoe.New(model, buf, 8, 8)
	require.NoError(t, inst.FinishAndCheck(nil))
	return inst
}

// TestSimpleRepeat covers the periodic trigger loop: an always-true AOE on
// a 50ms period completes several activations inside a ~340ms window.
func TestSimpleRepeat(t *testing.T) {
	buf := newBuffer(map[string]uint64{"x": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID:     1,
		Name:   "periodic",
		Events: []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 1, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{
				Kind: domain.ActionSetPoints, Assignments: []domain.PointAssignment{{PointAlias: "x", Expr: "x + 1"}},
			}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerSimpleRepeat, Period: 50 * time.Millisecond},
	}
	d := New(16)
	require.NoError(t, d.Schedule([]*aoe.Instance{newInstance(t, model, buf)}))
	defer d.Shutdown(time.Second)

	deadline := time.After(340 * time.Millisecond)
	var got int
collect:
	for {
		select {
		case res := <-d.ResultReceiver():
			assert.Equal(t, uint64(1), res.AoeID)
			got++
		case <-deadline:
			break collect
		}
	}
	assert.GreaterOrEqual(t, got, 3)
	assert.LessOrEqual(t, got, 8)
}

// TestEventDriveBroadcast covers the fire-alarm seed scenario end to end
// through the dispatcher: a broadcast measurement wakes the AOE, both
// events happen, and the setpoint batch appears in the result.
func TestEventDriveBroadcast(t *testing.T) {
	aliases := map[string]uint64{"FIRE_ALARM": 1, "PCS_STOP": 2, "PCS_P_1": 3, "PCS_P_2": 4, "PCS_P_3": 5}
	buf := newBuffer(aliases, map[uint64]domain.MeasurementValue{
		1: {PointID: 1, AnalogValue: 0},
		2: {PointID: 2, IsDiscrete: true, DiscreteValue: 1},
		3: {PointID: 3, AnalogValue: 0},
		4: {PointID: 4, AnalogValue: 0},
		5: {PointID: 5, AnalogValue: 0},
	})
	model := &domain.AoeModel{
		ID:   2,
		Name: "fire_alarm",
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "FIRE_ALARM > 0", TimeoutMS: 100},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "PCS_STOP == 1 && PCS_P_1 < 1e-4 && PCS_P_2 < 1e-4 && PCS_P_3 < 1e-4", TimeoutMS: 5000},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{
				Kind: domain.ActionSetPoints,
				Assignments: []domain.PointAssignment{
					{PointAlias: "PCS_STOP", IsDiscrete: true, Expr: "1"},
					{PointAlias: "PCS_P_1", Expr: "0"},
					{PointAlias: "PCS_P_2", Expr: "0"},
					{PointAlias: "PCS_P_3", Expr: "0"},
				},
			}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	d := New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{newInstance(t, model, buf)}))
	defer d.Shutdown(time.Second)

	d.Broadcast([]domain.MeasurementValue{{PointID: 1, AnalogValue: 1}})

	select {
	case res := <-d.ResultReceiver():
		require.Len(t, res.EventResults, 2)
		assert.Equal(t, domain.EventHappen, res.EventResults[0].Result.Final)
		assert.Equal(t, domain.EventHappen, res.EventResults[1].Result.Final)
		require.Len(t, res.ActionResults, 1)
		assert.Equal(t, domain.ActionSuccess, res.ActionResults[0].Result.Final.Status)
		assert.Len(t, res.ActionResults[0].Result.YkIDs, 1)
		assert.Len(t, res.ActionResults[0].Result.YtIDs, 3)
	case <-time.After(2 * time.Second):
		t.Fatal("no result within 2s of broadcast")
	}
}

// TestBroadcastRoutesByInterest verifies fan-out only reaches AOEs whose
// expressions reference an updated point.
func TestBroadcastRoutesByInterest(t *testing.T) {
	bufA := newBuffer(map[string]uint64{"a": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1}})
	bufB := newBuffer(map[string]uint64{"b": 2}, map[uint64]domain.MeasurementValue{2: {PointID: 2}})
	mk := func(id uint64, expr string) *domain.AoeModel {
		return &domain.AoeModel{
			ID:      id,
			Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: expr, TimeoutMS: 10}},
			Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
		}
	}
	d := New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{
		newInstance(t, mk(10, "a > 0"), bufA),
		newInstance(t, mk(11, "b > 0"), bufB),
	}))
	defer d.Shutdown(time.Second)

	d.Broadcast([]domain.MeasurementValue{{PointID: 1, AnalogValue: 5}})

	select {
	case res := <-d.ResultReceiver():
		assert.Equal(t, uint64(10), res.AoeID)
	case <-time.After(2 * time.Second):
		t.Fatal("interested aoe never fired")
	}
	select {
	case res := <-d.ResultReceiver():
		t.Fatalf("uninterested aoe %d fired", res.AoeID)
	case <-time.After(150 * time.Millisecond):
	}
}

// TestManualActivate covers the kick path used by the monitoring API: the
// trigger gate is bypassed.
func TestManualActivate(t *testing.T) {
	buf := newBuffer(map[string]uint64{"x": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID:      3,
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	d := New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{newInstance(t, model, buf)}))
	defer d.Shutdown(time.Second)

	require.Error(t, d.Activate(999))
	require.NoError(t, d.Activate(3))

	select {
	case res := <-d.ResultReceiver():
		assert.Equal(t, uint64(3), res.AoeID)
		_, ok := d.LastResult(3)
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("manual activation produced no result")
	}
}

// TestShutdownCancelsInFlight covers the cancellation seed scenario at the
// dispatcher level: an activation stuck on a 10s-timeout event is canceled
// and its result still surfaces, with the event marked Canceled.
func TestShutdownCancelsInFlight(t *testing.T) {
	buf := newBuffer(map[string]uint64{"ready": 1}, map[uint64]domain.MeasurementValue{1: {PointID: 1, AnalogValue: 0}})
	model := &domain.AoeModel{
		ID: 4,
		Events: []domain.EventNode{
			{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10},
			{ID: 2, NodeType: domain.ConditionNode, Expr: "ready == 1", TimeoutMS: 10000},
		},
		Actions: []domain.ActionEdge{
			{SourceNodeID: 1, TargetNodeID: 2, FailureMode: domain.FailureDefault, Action: domain.ActionSpec{Kind: domain.ActionNone}},
		},
		Trigger: domain.Trigger{Kind: domain.TriggerEventDrive},
	}
	d := New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{newInstance(t, model, buf)}))

	d.Broadcast([]domain.MeasurementValue{{PointID: 1, AnalogValue: 0}})
	time.Sleep(100 * time.Millisecond) // let the activation reach the waiting event

	start := time.Now()
	require.NoError(t, d.Shutdown(2*time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var sawCanceled bool
	for res := range d.ResultReceiver() {
		for _, ev := range res.EventResults {
			if ev.EventID == 2 && ev.Result.Final == domain.EventCanceled {
				sawCanceled = true
			}
		}
	}
	assert.True(t, sawCanceled, "waiting event should be reported Canceled")
}

// TestScheduleRejectsBadCron ensures load-time trigger errors abort
// scheduling and never reach the result channel.
func TestScheduleRejectsBadCron(t *testing.T) {
	model := &domain.AoeModel{
		ID:      5,
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Trigger: domain.Trigger{Kind: domain.TriggerTimeDrive, Cron: "not a cron"},
	}
	d := New(1)
	err := d.Schedule([]*aoe.Instance{newInstance(t, model, domain.NewBuffer())})
	require.Error(t, err)
	var graphErr *domain.GraphError
	assert.ErrorAs(t, err, &graphErr)
}

// TestTimeDriveCron fires an every-second cron schedule at least once
// within a generous window.
func TestTimeDriveCron(t *testing.T) {
	model := &domain.AoeModel{
		ID:      6,
		Events:  []domain.EventNode{{ID: 1, NodeType: domain.ConditionNode, Expr: "1", TimeoutMS: 10}},
		Trigger: domain.Trigger{Kind: domain.TriggerTimeDrive, Cron: "* * * * * *"},
	}
	d := New(4)
	require.NoError(t, d.Schedule([]*aoe.Instance{newInstance(t, model, domain.NewBuffer())}))
	defer d.Shutdown(time.Second)

	select {
	case res := <-d.ResultReceiver():
		assert.Equal(t, uint64(6), res.AoeID)
	case <-time.After(3 * time.Second):
		t.Fatal("cron trigger never fired")
	}
}
