// Package transport implements the AOE runtime's two outward I/O
// boundaries named in spec.md §6: the outbound control-command channel
// and the `Url` action's HTTP fetch.
package transport

import (
	"context"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// ControlSink is the send side of the outbound control channel an AOE
// instance owns: a batch of discrete/analog setpoint writes per spec.md
// §3/§6. Back-pressure is strict (spec.md §5): Emit blocks until the
// batch is accepted or ctx is canceled.
type ControlSink interface {
	Emit(ctx context.Context, batch domain.ControlBatch) error
}

// ChannelSink is a ControlSink backed by a bounded Go channel, matching
// spec.md §5's "bounded MPMC channel, never drop silently" requirement.
type ChannelSink chan domain.ControlBatch

// NewChannelSink creates a ChannelSink with the given buffer capacity
// (AOE_MEAS_BUF_NUM-style tunable; spec.md §5 names AOE_RESULT_BUF as the
// analogous default for the result channel).
func NewChannelSink(capacity int) ChannelSink {
	return make(ChannelSink, capacity)
}

func (s ChannelSink) Emit(ctx context.Context, batch domain.ControlBatch) error {
	select {
	case s <- batch:
		return nil
	case <-ctx.Done():
		return domain.ErrCanceled
	}
}
