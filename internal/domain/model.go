package domain

import (
	"strconv"
	"time"
)

// NodeType discriminates the three event-node kinds of spec.md §3.
type NodeType string

const (
	ConditionNode        NodeType = "condition"
	SwitchNode           NodeType = "switch"
	SwitchOfActionResult NodeType = "switch_of_action_result"
)

// EventNode is a vertex in an AOE's event graph: a boolean condition over
// measured quantities, evaluated with a per-node timeout.
type EventNode struct {
	ID        uint64   `json:"id"`
	AoeID     uint64   `json:"aoe_id"`
	Name      string   `json:"name"`
	NodeType  NodeType `json:"node_type"`
	Expr      string   `json:"expr"` // infix source; compiled lazily by the instance
	TimeoutMS uint64   `json:"timeout_ms"`
}

// FailureMode is the policy describing how a failed action affects the
// rest of the AOE graph walk (spec.md §4.4).
type FailureMode string

const (
	FailureDefault    FailureMode = "default"
	FailureIgnore     FailureMode = "ignore"
	FailureStopAll    FailureMode = "stop_all"
	FailureStopFailed FailureMode = "stop_failed"
)

// ActionKind discriminates the ActionSpec variants of spec.md §3.
type ActionKind string

const (
	ActionNone               ActionKind = "none"
	ActionSetPoints          ActionKind = "set_points"
	ActionSetPointsWithCheck ActionKind = "set_points_with_check"
	ActionSolve              ActionKind = "solve"
	ActionNlsolve            ActionKind = "nlsolve"
	ActionMilp               ActionKind = "milp"
	ActionSimpleMilp         ActionKind = "simple_milp"
	ActionNlp                ActionKind = "nlp"
	ActionURL                ActionKind = "url"
)

// PointAssignment binds a target point (by alias) to an expression whose
// evaluated value is written to that point when the action runs.
type PointAssignment struct {
	PointAlias string `json:"point_alias"`
	IsDiscrete bool   `json:"is_discrete"`
	Expr       string `json:"expr"`
}

// ActionSpec is the computational or control operation carried by an
// ActionEdge.
type ActionSpec struct {
	Kind ActionKind `json:"kind"`

	// ActionSetPoints / ActionSetPointsWithCheck
	Assignments []PointAssignment `json:"assignments,omitempty"`
	// CheckTolRel/CheckTolAbs override the default analog-comparison
	// tolerance for SetPointsWithCheck (spec.md §9 Open Question #1).
	CheckTolRel    float64 `json:"check_tol_rel,omitempty"`
	CheckTolAbs    float64 `json:"check_tol_abs,omitempty"`
	CheckTimeoutMS uint64  `json:"check_timeout_ms,omitempty"`

	// ActionSolve / ActionNlsolve / ActionMilp / ActionSimpleMilp / ActionNlp
	Variables []string           `json:"variables,omitempty"` // unknowns, by declared variable name
	Equations []string           `json:"equations,omitempty"` // infix expressions, one per row of Ax=b or g(x)=0
	XInit     map[string]float64 `json:"x_init,omitempty"`
	Params    map[string]string  `json:"params,omitempty"`

	// ActionMilp / ActionSimpleMilp: linear objective over Variables plus a
	// per-equation relational operator ("<=", "=", ">="), since Equations
	// alone (as used by ActionSolve) carries no inequality direction.
	Objective     string             `json:"objective,omitempty"`
	ConstraintOps []string           `json:"constraint_ops,omitempty"`
	Lower         map[string]float64 `json:"lower,omitempty"`
	Upper         map[string]float64 `json:"upper,omitempty"`
	IsInteger     map[string]bool    `json:"is_integer,omitempty"`
	Minimize      bool               `json:"minimize,omitempty"`

	// ActionURL
	URL string `json:"url,omitempty"`
}

// ActionEdge is a directed edge from one event node to another, carrying
// an ActionSpec executed when traversed.
type ActionEdge struct {
	AoeID        uint64      `json:"aoe_id"`
	Name         string      `json:"name"`
	SourceNodeID uint64      `json:"source_node_id"`
	TargetNodeID uint64      `json:"target_node_id"`
	FailureMode  FailureMode `json:"failure_mode"`
	Action       ActionSpec  `json:"action"`
}

// TriggerKind discriminates the five trigger modes of spec.md §3.
type TriggerKind string

const (
	TriggerSimpleRepeat  TriggerKind = "simple_repeat"
	TriggerTimeDrive     TriggerKind = "time_drive"
	TriggerEventDrive    TriggerKind = "event_drive"
	TriggerEventRepeat   TriggerKind = "event_repeat_mix"
	TriggerEventTimeMix  TriggerKind = "event_time_mix"
)

// Trigger is the condition under which an AOE begins a new activation.
type Trigger struct {
	Kind   TriggerKind   `json:"kind"`
	Period time.Duration `json:"period,omitempty"` // SimpleRepeat, EventRepeatMix
	Cron   string        `json:"cron,omitempty"`   // TimeDrive, EventTimeMix
}

// String serializes a Trigger per spec.md §6's wire format.
func (t Trigger) String() string {
	switch t.Kind {
	case TriggerSimpleRepeat:
		return "SimpleRepeat:" + durMS(t.Period)
	case TriggerTimeDrive:
		return "TimeDrive:" + t.Cron
	case TriggerEventDrive:
		return "EventDrive"
	case TriggerEventRepeat:
		return "EventRepeatMix:" + durMS(t.Period)
	case TriggerEventTimeMix:
		return "EventTimeMix:" + t.Cron
	default:
		return "Unknown"
	}
}

func durMS(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// Variable is a declared AOE-scoped name bound to an expression,
// re-evaluated as part of the variable DAG before each activation.
type Variable struct {
	Name string `json:"name"`
	Expr string `json:"expr"`
}

// AoeModel is the declarative definition of one AOE: its events, actions,
// trigger, and variables (spec.md §3). An AoeModel is immutable once
// loaded; `aoe.Instance` wraps it with the runtime graph and buffers.
type AoeModel struct {
	ID        uint64       `json:"id"`
	Name      string       `json:"name"`
	Events    []EventNode  `json:"events"`
	Actions   []ActionEdge `json:"actions"`
	Trigger   Trigger      `json:"trigger"`
	Variables []Variable   `json:"variables"`
}

// SetIntValue is an outbound discrete (yk) setpoint write.
type SetIntValue struct {
	PointID   uint64 `json:"point_id"`
	YkCommand int64  `json:"yk_command"`
}

// SetFloatValue is an outbound analog (yt) setpoint write.
type SetFloatValue struct {
	PointID   uint64  `json:"point_id"`
	YtCommand float64 `json:"yt_command"`
}

// ControlBatch is the payload of the dispatcher's outbound control
// channel: a batch of discrete and analog setpoint writes produced by
// one action's execution.
type ControlBatch struct {
	Ints   []SetIntValue   `json:"ints"`
	Floats []SetFloatValue `json:"floats"`
}
