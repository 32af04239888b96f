package domain

import (
	"strings"
	"sync"
)

// MeasurementValue is a single point's current reading, as produced by
// external I/O collaborators (spec.md §3).
type MeasurementValue struct {
	PointID           uint64
	IsDiscrete        bool
	Timestamp         uint64
	AnalogValue       float64
	DiscreteValue     int64
	IsTransformed     bool
	TransformedAnalog float64
	TransformedDiscrt int64
}

// Value returns the effective analog or discrete reading, preferring the
// transformed value when present.
func (m MeasurementValue) Value() float64 {
	if m.IsDiscrete {
		if m.IsTransformed {
			return float64(m.TransformedDiscrt)
		}
		return float64(m.DiscreteValue)
	}
	if m.IsTransformed {
		return m.TransformedAnalog
	}
	return m.AnalogValue
}

// pointSuffixes enumerates the variable-name suffixes that resolve to a
// derived attribute of the bare point, per spec.md §3.
var pointSuffixes = []string{"_pub_t", "_pub_v", "_ddt", "_dt", "_err", "_t"}

// SplitSuffix strips a known derived-attribute suffix from a variable
// name, returning the bare point alias and the suffix (empty if none).
func SplitSuffix(name string) (bare, suffix string) {
	for _, suf := range pointSuffixes {
		if strings.HasSuffix(name, suf) {
			return strings.TrimSuffix(name, suf), suf
		}
	}
	return name, ""
}

// Buffer is a process-local mapping from point_id to its current,
// previous, and last-published MeasurementValue, plus a name alias
// table. Each AOE instance owns exactly one Buffer (spec.md §3, §5).
type Buffer struct {
	mu          sync.RWMutex
	current     map[uint64]MeasurementValue
	lastMV      map[uint64]MeasurementValue
	lastHandled map[uint64]MeasurementValue
	aliasToID   map[string]uint64
	idToAlias   map[uint64]string
}

func NewBuffer() *Buffer {
	return &Buffer{
		current:     make(map[uint64]MeasurementValue),
		lastMV:      make(map[uint64]MeasurementValue),
		lastHandled: make(map[uint64]MeasurementValue),
		aliasToID:   make(map[string]uint64),
		idToAlias:   make(map[uint64]string),
	}
}

// BindAlias registers a point-name alias for point_id.
func (b *Buffer) BindAlias(name string, pointID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aliasToID[name] = pointID
	b.idToAlias[pointID] = name
}

func (b *Buffer) ResolveAlias(name string) (uint64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.aliasToID[name]
	return id, ok
}

func (b *Buffer) AliasOf(pointID uint64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	name, ok := b.idToAlias[pointID]
	return name, ok
}

// UpdateBuf writes mv into the buffer, snapshotting the prior reading as
// last_mv, per spec.md §3's measurement buffer lifecycle.
func (b *Buffer) UpdateBuf(mv MeasurementValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.current[mv.PointID]; ok {
		b.lastMV[mv.PointID] = prev
	}
	b.current[mv.PointID] = mv
}

// MarkHandled snapshots the current reading of pointID as the last
// network-published state.
func (b *Buffer) MarkHandled(pointID uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.current[pointID]; ok {
		b.lastHandled[pointID] = cur
	}
}

func (b *Buffer) Get(pointID uint64) (MeasurementValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mv, ok := b.current[pointID]
	return mv, ok
}

func (b *Buffer) LastMV(pointID uint64) (MeasurementValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mv, ok := b.lastMV[pointID]
	return mv, ok
}

func (b *Buffer) LastHandled(pointID uint64) (MeasurementValue, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	mv, ok := b.lastHandled[pointID]
	return mv, ok
}

// Snapshot returns a shallow copy of all current readings, keyed by
// point_id.
func (b *Buffer) Snapshot() map[uint64]MeasurementValue {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[uint64]MeasurementValue, len(b.current))
	for k, v := range b.current {
		out[k] = v
	}
	return out
}

// Merge absorbs another buffer's current readings, preserving this
// buffer's alias table.
func (b *Buffer) Merge(other map[uint64]MeasurementValue) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, mv := range other {
		if prev, ok := b.current[id]; ok {
			b.lastMV[id] = prev
		}
		b.current[id] = mv
	}
}

// ResolveSuffixed evaluates a variable name with a known derived-attribute
// suffix against the buffer, seeded with a previous-sample snapshot for
// `_dt`/`_ddt`/`_err`-style deltas.
func (b *Buffer) ResolveSuffixed(name string) (float64, bool) {
	bare, suffix := SplitSuffix(name)
	id, ok := b.ResolveAlias(bare)
	if !ok {
		return 0, false
	}
	cur, ok := b.Get(id)
	if !ok {
		return 0, false
	}
	switch suffix {
	case "":
		return cur.Value(), true
	case "_t":
		return float64(cur.Timestamp), true
	case "_dt":
		if prev, ok := b.LastMV(id); ok {
			return float64(cur.Timestamp) - float64(prev.Timestamp), true
		}
		return 0, true
	case "_ddt":
		if prev, ok := b.LastMV(id); ok {
			dt := float64(cur.Timestamp) - float64(prev.Timestamp)
			if dt == 0 {
				return 0, true
			}
			return (cur.Value() - prev.Value()) / dt, true
		}
		return 0, true
	case "_err":
		if prev, ok := b.LastMV(id); ok {
			return cur.Value() - prev.Value(), true
		}
		return 0, true
	case "_pub_t":
		if h, ok := b.LastHandled(id); ok {
			return float64(h.Timestamp), true
		}
		return 0, true
	case "_pub_v":
		if h, ok := b.LastHandled(id); ok {
			return h.Value(), true
		}
		return 0, true
	default:
		return 0, false
	}
}
