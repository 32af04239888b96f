// Package dispatcher owns the fleet of AOE instances: it fans incoming
// measurement snapshots out to interested AOEs, runs one trigger loop per
// AOE honoring its trigger mode, serializes activations per AOE, and
// aggregates AoeResults onto a single shared channel (C5 in spec.md §4.5).
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/shufengdong/sparrowzz-sub000/internal/aoe"
	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// cronParser accepts standard five-field POSIX cron plus an optional
// leading seconds field (spec.md §6's trigger strings).
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Dispatcher schedules AOE instances and aggregates their results. The
// zero value is not usable; construct with New.
type Dispatcher struct {
	mu         sync.RWMutex
	insts      map[uint64]*aoe.Instance
	kicks      map[uint64]chan struct{}
	lastResult map[uint64]domain.AoeResult

	results chan domain.AoeResult

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log    zerolog.Logger
	tracer trace.Tracer
}

// New constructs a Dispatcher whose shared result channel holds up to
// resultBuf pending AoeResults; a full channel back-pressures publishers.
func New(resultBuf int) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		insts:      make(map[uint64]*aoe.Instance),
		kicks:      make(map[uint64]chan struct{}),
		lastResult: make(map[uint64]domain.AoeResult),
		results:    make(chan domain.AoeResult, resultBuf),
		ctx:        ctx,
		cancel:     cancel,
		log:        log.With().Str("component", "dispatcher").Logger(),
		tracer:     otel.Tracer("dispatcher"), // noop unless a TracerProvider is installed
	}
}

// Schedule takes ownership of insts and launches one trigger loop per
// instance. Every instance must already have passed FinishAndCheck. A
// cron trigger that fails to parse aborts scheduling with an error before
// any loop is launched, so a bad model never half-starts.
func (d *Dispatcher) Schedule(insts []*aoe.Instance) error {
	type entry struct {
		inst  *aoe.Instance
		sched cron.Schedule
	}
	pending := make([]entry, 0, len(insts))
	for _, inst := range insts {
		trig := inst.Model().Trigger
		var sched cron.Schedule
		if trig.Kind == domain.TriggerTimeDrive || trig.Kind == domain.TriggerEventTimeMix {
			var err error
			sched, err = cronParser.Parse(trig.Cron)
			if err != nil {
				return &domain.GraphError{Reason: fmt.Sprintf("aoe %d: bad cron %q: %v", inst.Model().ID, trig.Cron, err)}
			}
		}
		pending = append(pending, entry{inst: inst, sched: sched})
	}

	d.mu.Lock()
	for _, e := range pending {
		id := e.inst.Model().ID
		if _, dup := d.insts[id]; dup {
			d.mu.Unlock()
			return &domain.GraphError{Reason: fmt.Sprintf("aoe %d already scheduled", id)}
		}
		kick := make(chan struct{}, 1)
		d.insts[id] = e.inst
		d.kicks[id] = kick
		d.wg.Add(1)
		go d.runLoop(e.inst, e.sched, kick)
	}
	d.mu.Unlock()

	d.log.Info().Int("count", len(pending)).Msg("aoes scheduled")
	return nil
}

// ResultReceiver exposes the consumer side of the shared result channel.
func (d *Dispatcher) ResultReceiver() <-chan domain.AoeResult { return d.results }

// Instances returns the scheduled instances ordered by AOE id.
func (d *Dispatcher) Instances() []*aoe.Instance {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*aoe.Instance, 0, len(d.insts))
	for _, inst := range d.insts {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model().ID < out[j].Model().ID })
	return out
}

// Instance returns the scheduled instance with the given AOE id.
func (d *Dispatcher) Instance(id uint64) (*aoe.Instance, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	inst, ok := d.insts[id]
	return inst, ok
}

// LastResult returns the most recent AoeResult of the given AOE, if it
// has completed at least one activation since scheduling.
func (d *Dispatcher) LastResult(id uint64) (domain.AoeResult, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res, ok := d.lastResult[id]
	return res, ok
}

// Activate requests one manual activation of the given AOE, bypassing its
// trigger gate. The request coalesces with any already-pending one.
func (d *Dispatcher) Activate(id uint64) error {
	d.mu.RLock()
	kick, ok := d.kicks[id]
	d.mu.RUnlock()
	if !ok {
		return &domain.DomainError{Code: domain.ErrCodeNotFound, Message: fmt.Sprintf("aoe %d not scheduled", id)}
	}
	select {
	case kick <- struct{}{}:
	default:
	}
	return nil
}

// Broadcast routes a measurement snapshot to every AOE whose buffer has an
// alias bound for at least one of the updated points. A full per-AOE channel
// back-pressures the caller rather than dropping, per spec.md §5.
func (d *Dispatcher) Broadcast(measures []domain.MeasurementValue) {
	for _, inst := range d.Instances() {
		var mine []domain.MeasurementValue
		for _, mv := range measures {
			if inst.WantsPoint(mv.PointID) {
				mine = append(mine, mv)
			}
		}
		if len(mine) == 0 {
			continue
		}
		select {
		case inst.MeasureSender() <- aoe.MeasureMsg{Measures: mine}:
		case <-d.ctx.Done():
			return
		}
	}
}

// SendVars pushes direct context-variable bindings to every AOE.
func (d *Dispatcher) SendVars(vars map[string]domain.Value) {
	for _, inst := range d.Instances() {
		select {
		case inst.MeasureSender() <- aoe.MeasureMsg{Vars: vars}:
		case <-d.ctx.Done():
			return
		}
	}
}

// Shutdown signals cancel to every AOE, then awaits loop completion for
// at most deadline. On a clean drain the result channel is closed so
// consumers observe normal termination.
func (d *Dispatcher) Shutdown(deadline time.Duration) error {
	d.cancel()
	for _, inst := range d.Instances() {
		inst.Cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		close(d.results)
		d.log.Info().Msg("dispatcher stopped")
		return nil
	case <-time.After(deadline):
		d.log.Warn().Dur("deadline", deadline).Msg("shutdown deadline exceeded")
		return domain.ErrTimeout
	}
}

// runLoop is one AOE's trigger loop: it drains the instance's inbound
// measurement channel while idle, fires activations per the trigger mode,
// and publishes every AoeResult.
func (d *Dispatcher) runLoop(inst *aoe.Instance, sched cron.Schedule, kick <-chan struct{}) {
	defer d.wg.Done()
	trig := inst.Model().Trigger
	logger := d.log.With().Uint64("aoe_id", inst.Model().ID).Str("trigger", trig.String()).Logger()

	// eventGated: mixed modes require ShouldStart at the moment of a timer
	// fire; pure periodic/cron modes fire unconditionally (spec.md §4.5).
	eventGated := trig.Kind == domain.TriggerEventRepeat || trig.Kind == domain.TriggerEventTimeMix
	eventDriven := eventGated || trig.Kind == domain.TriggerEventDrive

	var timerC <-chan time.Time
	var ticker *time.Ticker
	var timer *time.Timer
	switch trig.Kind {
	case domain.TriggerSimpleRepeat, domain.TriggerEventRepeat:
		ticker = time.NewTicker(trig.Period)
		defer ticker.Stop()
		timerC = ticker.C
	case domain.TriggerTimeDrive, domain.TriggerEventTimeMix:
		timer = time.NewTimer(time.Until(sched.Next(time.Now())))
		defer timer.Stop()
		timerC = timer.C
	}

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-kick:
			d.runOnce(inst, false, logger)
		case msg, ok := <-inst.MeasureReceiver():
			if !ok {
				logger.Debug().Msg("measurement channel closed, loop exiting")
				return
			}
			inst.Apply(msg)
			if eventDriven {
				d.runOnce(inst, true, logger)
			}
		case <-timerC:
			d.runOnce(inst, eventGated, logger)
			if timer != nil {
				timer.Reset(time.Until(sched.Next(time.Now())))
			}
		}
	}
}

// runOnce fires one activation, optionally gated on ShouldStart, and
// publishes the result. Activations are serialized per AOE because the
// trigger loop itself blocks in Start (spec.md §8's single-activation
// atomicity).
func (d *Dispatcher) runOnce(inst *aoe.Instance, gated bool, logger zerolog.Logger) {
	if gated {
		ok, err := inst.ShouldStart()
		if err != nil {
			logger.Warn().Err(err).Msg("should_start failed")
			return
		}
		if !ok {
			return
		}
	}
	ctx, span := d.tracer.Start(d.ctx, "aoe.activation", trace.WithAttributes(
		attribute.Int64("aoe.id", int64(inst.Model().ID)),
		attribute.String("aoe.name", inst.Model().Name),
		attribute.String("aoe.trigger", inst.Model().Trigger.String()),
	))
	res := inst.Start(ctx)
	span.SetAttributes(
		attribute.Int("aoe.events", len(res.EventResults)),
		attribute.Int("aoe.actions", len(res.ActionResults)),
	)
	span.End()
	logger.Debug().
		Int("events", len(res.EventResults)).
		Int("actions", len(res.ActionResults)).
		Dur("elapsed", res.EndTime.Sub(res.StartTime)).
		Msg("activation finished")
	d.publish(inst.Model().ID, res)
}

func (d *Dispatcher) publish(id uint64, res domain.AoeResult) {
	d.mu.Lock()
	d.lastResult[id] = res
	d.mu.Unlock()
	select {
	case d.results <- res:
		return
	default:
	}
	select {
	case d.results <- res:
	case <-d.ctx.Done():
	}
}
