// Package cpgraph implements the computation-point dependency graph (C3 in
// spec.md §4.3): a DAG of measurement points where some points are raw
// inputs and others are expressions over other points, re-evaluated in
// layer order whenever their inputs change.
package cpgraph

import (
	"fmt"
	"strconv"

	"github.com/katalvlaran/lvlath/core"
	"github.com/katalvlaran/lvlath/dfs"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

// Point is one vertex of the computation-point graph: either a raw input
// (Expr == nil) bound directly to a measurement, or a computed point whose
// value is re-derived from Expr whenever any of its dependencies changes.
type Point struct {
	ID    uint64
	Name  string
	Expr  []rpn.Token
	Layer int
}

// Graph is the computation-point DAG: `{ graph, exprs, layer, var_names }`
// of spec.md §3. The vertex ID space of the backing core.Graph is the
// decimal string form of each point_id; var_names is recovered on demand
// via rpn.FreeVariables rather than stored redundantly.
type Graph struct {
	g       *core.Graph
	points  map[uint64]*Point
	aliases map[string]uint64 // point name -> point_id, mirrors the owning Buffer's alias table
	built   bool
}

// New creates an empty computation-point graph.
func New() *Graph {
	return &Graph{
		g:       core.NewGraph(core.WithDirected(true)),
		points:  make(map[uint64]*Point),
		aliases: make(map[string]uint64),
	}
}

func vid(id uint64) string { return strconv.FormatUint(id, 10) }

// AddInput registers a raw, externally-updated point with no expression.
func (cg *Graph) AddInput(id uint64, name string) error {
	return cg.addPoint(id, name, nil)
}

// AddComputed registers a point whose value is derived from expr. expr's
// free variables (stripped of the `_t|_dt|_ddt|_err|_pub_t|_pub_v` suffixes
// recognized by domain.SplitSuffix) become this point's incoming edges;
// each must already be a registered point (input or computed) under its
// bare name.
func (cg *Graph) AddComputed(id uint64, name string, expr []rpn.Token) error {
	if err := cg.addPoint(id, name, expr); err != nil {
		return err
	}
	for _, varName := range rpn.FreeVariables(expr) {
		bare, _ := domain.SplitSuffix(varName)
		depID, ok := cg.aliases[bare]
		if !ok {
			return &domain.GraphError{Reason: fmt.Sprintf("point %q references undeclared point %q", name, bare)}
		}
		if _, err := cg.g.AddEdge(vid(depID), vid(id), 0); err != nil {
			return &domain.GraphError{Reason: err.Error()}
		}
	}
	cg.built = false
	return nil
}

func (cg *Graph) addPoint(id uint64, name string, expr []rpn.Token) error {
	if _, exists := cg.points[id]; exists {
		return &domain.GraphError{Reason: fmt.Sprintf("point %d already registered", id)}
	}
	if _, exists := cg.aliases[name]; exists {
		return &domain.GraphError{Reason: fmt.Sprintf("point name %q already registered", name)}
	}
	if err := cg.g.AddVertex(vid(id)); err != nil {
		return &domain.GraphError{Reason: err.Error()}
	}
	cg.points[id] = &Point{ID: id, Name: name, Expr: expr}
	cg.aliases[name] = id
	cg.built = false
	return nil
}

// Point returns the registered point, if any.
func (cg *Graph) Point(id uint64) (*Point, bool) {
	p, ok := cg.points[id]
	return p, ok
}

// PointByName returns the registered point with the given alias, if any.
func (cg *Graph) PointByName(name string) (*Point, bool) {
	id, ok := cg.aliases[name]
	if !ok {
		return nil, false
	}
	return cg.points[id], true
}

// Build validates the graph is acyclic and assigns each point's layer:
// layer(v) = 0 for inputs, 1 + max(layer(predecessors)) for computed
// points (spec.md §4.3's invariant). Must be called after every batch of
// AddInput/AddComputed calls and before Recompute.
func (cg *Graph) Build() error {
	order, err := dfs.TopologicalSort(cg.g)
	if err != nil {
		if err == dfs.ErrCycleDetected {
			return &domain.CycleError{PointID: cg.firstCyclicGuess()}
		}
		return &domain.GraphError{Reason: err.Error()}
	}
	for _, idStr := range order {
		id, _ := strconv.ParseUint(idStr, 10, 64)
		p := cg.points[id]
		if p.Expr == nil {
			p.Layer = 0
			continue
		}
		layer := 1 // a computed point is always at least one layer above its inputs, even with no predecessors
		for _, dep := range cg.predecessors(idStr) {
			depID, _ := strconv.ParseUint(dep, 10, 64)
			if cg.points[depID].Layer+1 > layer {
				layer = cg.points[depID].Layer + 1
			}
		}
		p.Layer = layer
	}
	cg.built = true
	return nil
}

// predecessors returns the vertex IDs with a directed edge into idStr,
// since core.Graph.Neighbors only walks outgoing edges from a vertex.
func (cg *Graph) predecessors(idStr string) []string {
	var preds []string
	for _, e := range cg.g.Edges() {
		if e.To == idStr {
			preds = append(preds, e.From)
		}
	}
	return preds
}

// firstCyclicGuess returns the point_id of a point that lies on a cycle
// (one from which a forward search leads back to itself), used to
// populate CycleError when TopologicalSort reports a cycle without naming
// a specific vertex. It returns 0 if no point lies on a cycle.
func (cg *Graph) firstCyclicGuess() uint64 {
	for id := range cg.points {
		start := vid(id)
		seen := make(map[string]bool)
		queue := []string{start}
		for len(queue) > 0 {
			next, _ := cg.g.NeighborIDs(queue[0])
			queue = queue[1:]
			for _, n := range next {
				if n == start {
					return id
				}
				if !seen[n] {
					seen[n] = true
					queue = append(queue, n)
				}
			}
		}
	}
	return 0
}

// Downstream performs a forward BFS from the given updated point IDs and
// returns every reachable computed point, per spec.md §4.3's update
// protocol ("collect the union of downstream computed points reachable by
// a forward BFS").
func (cg *Graph) Downstream(updated []uint64) []uint64 {
	visited := make(map[uint64]bool)
	var queue []string
	for _, id := range updated {
		queue = append(queue, vid(id))
	}
	var out []uint64
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		successors, err := cg.g.NeighborIDs(cur)
		if err != nil {
			continue
		}
		for _, nextStr := range successors {
			nextID, _ := strconv.ParseUint(nextStr, 10, 64)
			if visited[nextID] {
				continue
			}
			visited[nextID] = true
			out = append(out, nextID)
			queue = append(queue, nextStr)
		}
	}
	return out
}
