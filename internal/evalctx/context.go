// Package evalctx implements the RPN stack-machine evaluator (C2 in
// spec.md §4.2): a Context abstraction for variable/function resolution
// and the scalar/complex/tensor evaluator that walks a compiled rpn.Token
// stream.
package evalctx

import "github.com/shufengdong/sparrowzz-sub000/internal/domain"

// Context resolves the free variables and function calls an expression
// references. Value is already a tagged union over scalar/complex/tensor
// (domain.Value), so one GetVar/EvalFunc pair covers what the original
// Rust evaluator split across eight monomorphic trait methods
// (GetVar/GetVarComplex/GetTensor/GetTensorComplex/EvalFunc/...) — the
// type-level dispatch happens once, inside Value, not at the interface.
type Context interface {
	// GetVar resolves name to a value. ok is false if this context has no
	// binding for name, letting a Chain fall through to the next link.
	GetVar(name string) (domain.Value, bool)
	// EvalFunc invokes a context-provided function (one not covered by
	// the evaluator's builtin library) with already-evaluated arguments.
	// ok is false if this context does not provide a function named name.
	EvalFunc(name string, args []domain.Value) (domain.Value, bool, error)
}

// MapContext is a Context backed by a fixed variable map, with no
// function-call support. Useful for AOE-declared Variables and for tests.
type MapContext map[string]domain.Value

func (m MapContext) GetVar(name string) (domain.Value, bool) {
	v, ok := m[name]
	return v, ok
}

func (m MapContext) EvalFunc(string, []domain.Value) (domain.Value, bool, error) {
	return domain.Value{}, false, nil
}

// BufferContext adapts a measurement Buffer into a Context: GetVar
// resolves a bare point alias or one of its derived-attribute suffixes
// (`_t`/`_dt`/`_ddt`/`_err`/`_pub_t`/`_pub_v`) via Buffer.ResolveSuffixed.
// It provides no functions.
type BufferContext struct {
	Buf *domain.Buffer
}

func (c BufferContext) GetVar(name string) (domain.Value, bool) {
	v, ok := c.Buf.ResolveSuffixed(name)
	if !ok {
		return domain.Value{}, false
	}
	return domain.Scalar(v), true
}

func (c BufferContext) EvalFunc(string, []domain.Value) (domain.Value, bool, error) {
	return domain.Value{}, false, nil
}

// Chain composes contexts into a single first-hit-wins lookup: GetVar and
// EvalFunc try each link in order and return the first that resolves.
// This replaces a global mutable variable/function registry with explicit,
// per-evaluation composition (spec.md §4.2's design note).
type Chain []Context

func (c Chain) GetVar(name string) (domain.Value, bool) {
	for _, ctx := range c {
		if v, ok := ctx.GetVar(name); ok {
			return v, true
		}
	}
	return domain.Value{}, false
}

func (c Chain) EvalFunc(name string, args []domain.Value) (domain.Value, bool, error) {
	for _, ctx := range c {
		v, ok, err := ctx.EvalFunc(name, args)
		if ok || err != nil {
			return v, ok, err
		}
	}
	return domain.Value{}, false, nil
}
