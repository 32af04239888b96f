package cpgraph

import (
	"sort"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/evalctx"
)

// Recompute implements spec.md §4.3's update protocol: given the point IDs
// that just changed in buf, walk the downstream computed points in
// ascending layer order, evaluating each against a context seeded with the
// measurement buffer and the values already produced by lower layers of
// this same activation. A failure at one point is recorded in errs and
// does not block its layer-mates or later layers.
//
// cg.Build must have been called (and stayed valid) before Recompute.
func (cg *Graph) Recompute(buf *domain.Buffer, updated []uint64) (values map[uint64]domain.Value, errs map[uint64]error) {
	values = make(map[uint64]domain.Value)
	errs = make(map[uint64]error)
	if !cg.built {
		errs[0] = &domain.GraphError{Reason: "Recompute called before Build"}
		return values, errs
	}

	downstream := cg.Downstream(updated)
	byLayer := make(map[int][]uint64)
	maxLayer := 0
	for _, id := range downstream {
		p := cg.points[id]
		byLayer[p.Layer] = append(byLayer[p.Layer], id)
		if p.Layer > maxLayer {
			maxLayer = p.Layer
		}
	}

	computed := make(evalctx.MapContext)
	bufCtx := evalctx.BufferContext{Buf: buf}
	for layer := 1; layer <= maxLayer; layer++ {
		ids := byLayer[layer]
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			p := cg.points[id]
			ctx := evalctx.Chain{computed, bufCtx}
			tokens := p.Expr
			v, err := evalctx.Eval(tokens, ctx)
			if err != nil {
				errs[id] = err
				continue
			}
			values[id] = v
			computed[p.Name] = v
		}
	}
	return values, errs
}
