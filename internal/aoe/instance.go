// Package aoe implements the per-AOE runtime (C4 in spec.md §4.4): the
// event/action graph built from an AoeModel, the should-start gate, and
// the trigger -> toposort walk -> action dispatch -> result execution
// state machine.
package aoe

import (
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/katalvlaran/lvlath/core"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
	"github.com/shufengdong/sparrowzz-sub000/internal/solver"
	"github.com/shufengdong/sparrowzz-sub000/internal/transport"
)

// MeasureMsg is the payload of an Instance's inbound measurement channel:
// either a batch of raw point readings to merge into the buffer, or a set
// of direct variable bindings (spec.md §6's "Vars"/"Measures" inbound
// shapes).
type MeasureMsg struct {
	Vars     map[string]domain.Value
	Measures []domain.MeasurementValue
}

// Instance wraps an immutable AoeModel with the runtime graph, buffers,
// and channels of one AOE (spec.md §3's "AOE instance"). Build it with
// New, then call FinishAndCheck exactly once before ShouldStart/Start.
type Instance struct {
	model *domain.AoeModel

	g        *core.Graph
	nodeByID map[uint64]*domain.EventNode
	exprOf   map[uint64][]rpn.Token // compiled event expressions, keyed by node ID
	outgoing map[uint64][]*domain.ActionEdge // declaration order
	incoming map[uint64][]*domain.ActionEdge // declaration order
	topo     []uint64
	starts   []uint64

	varOrder []domain.Variable          // topologically sorted declared variables
	varExpr  map[string][]rpn.Token     // compiled variable expressions, by name

	buf    *domain.Buffer
	varCtx map[string]domain.Value

	measureCh chan MeasureMsg
	cancelMu  sync.Mutex
	cancelCh  chan struct{} // non-nil only while an activation is running
	control   transport.ChannelSink

	solver     solver.Solver
	httpClient *http.Client

	log zerolog.Logger

	checked bool
}

// New constructs an Instance for model. buf is the measurement buffer the
// AOE's point aliases resolve against, supplied by the caller and used by
// this instance alone; measureBuf
// and controlBuf size the two bounded channels the instance owns.
func New(model *domain.AoeModel, buf *domain.Buffer, measureBuf, controlBuf int) *Instance {
	return &Instance{
		model:     model,
		g:         core.NewGraph(core.WithDirected(true)),
		nodeByID:  make(map[uint64]*domain.EventNode),
		exprOf:    make(map[uint64][]rpn.Token),
		outgoing:  make(map[uint64][]*domain.ActionEdge),
		incoming:  make(map[uint64][]*domain.ActionEdge),
		buf:       buf,
		varCtx:    make(map[string]domain.Value),
		varExpr:   make(map[string][]rpn.Token),
		measureCh: make(chan MeasureMsg, measureBuf),
		control:   transport.NewChannelSink(controlBuf),
		solver:    solver.Reference{},
		httpClient: http.DefaultClient,
		log:       log.With().Uint64("aoe_id", model.ID).Str("aoe_name", model.Name).Logger(),
	}
}

// MeasureSender returns the send side of the instance's inbound
// measurement channel.
func (inst *Instance) MeasureSender() chan<- MeasureMsg { return inst.measureCh }

// MeasureReceiver returns the receive side of the same channel, for the
// dispatcher's trigger loop to drain while the instance is idle. During an
// activation the Start call itself consumes the channel, so exactly one
// reader is active at any time.
func (inst *Instance) MeasureReceiver() <-chan MeasureMsg { return inst.measureCh }

// Apply merges one inbound measurement message into the instance's buffer
// and variable context without starting an activation.
func (inst *Instance) Apply(msg MeasureMsg) { inst.applyMeasureMsg(msg) }

// WantsPoint reports whether this instance's buffer has an alias bound
// for pointID, i.e. whether the dispatcher should route updates of that
// point here. Alias bindings are established by InitialPoints.
func (inst *Instance) WantsPoint(pointID uint64) bool {
	_, ok := inst.buf.AliasOf(pointID)
	return ok
}

// ControlReceiver returns the receive side of the instance's outbound
// control-batch channel.
func (inst *Instance) ControlReceiver() <-chan domain.ControlBatch { return inst.control }

// Cancel signals the instance's in-flight activation, if any, to abort.
// A Cancel with no activation running is a no-op: cancellation only ever
// targets the currently executing Start call, per spec.md §5.
func (inst *Instance) Cancel() {
	inst.cancelMu.Lock()
	defer inst.cancelMu.Unlock()
	if inst.cancelCh != nil {
		close(inst.cancelCh)
	}
}

// beginActivation allocates a fresh cancel channel for one Start call and
// returns it plus a cleanup func that clears it back to nil.
func (inst *Instance) beginActivation() (chan struct{}, func()) {
	inst.cancelMu.Lock()
	ch := make(chan struct{})
	inst.cancelCh = ch
	inst.cancelMu.Unlock()
	return ch, func() {
		inst.cancelMu.Lock()
		inst.cancelCh = nil
		inst.cancelMu.Unlock()
	}
}

// Model returns the AoeModel this instance was built from.
func (inst *Instance) Model() *domain.AoeModel { return inst.model }
