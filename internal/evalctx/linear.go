package evalctx

import (
	"fmt"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

// linEntry is one stack slot of the linear-extraction walk: either a
// folded constant value (coeffs == nil; constant sub-expressions fold
// eagerly, so functions, tensors and comparisons may still appear inside
// coefficients) or an affine form c + Σ coeffs[v]·v over the unknowns.
type linEntry struct {
	coeffs map[string]float64
	c      float64
	val    domain.Value
}

func constEntry(v domain.Value) linEntry { return linEntry{val: v} }

func (e linEntry) isConst() bool { return e.coeffs == nil }

// asAffine promotes a folded constant into a zero-coefficient affine
// form. Only scalars can participate in an affine combination.
func (e linEntry) asAffine(pos int) (linEntry, error) {
	if !e.isConst() {
		return e, nil
	}
	if e.val.Kind() != domain.KindScalar {
		return linEntry{}, nonLinearErr(pos, "non-scalar value combined with an unknown")
	}
	return linEntry{coeffs: map[string]float64{}, c: e.val.AsScalar()}, nil
}

func nonLinearErr(pos int, reason string) error {
	return &domain.FunctionError{
		Name:   "extract_linear",
		Reason: fmt.Sprintf("non-linear term at token %d: %s", pos, reason),
	}
}

// LinearCoefficients decomposes an RPN into the coefficients and constant
// term of an expression affine in vars — one row of the Ax=b system a
// Solve action's Equations build (spec.md §4.2). The walk mirrors Eval's
// stack machine but carries symbolic affine forms for the unknowns:
// constant-only sub-expressions are eagerly folded through the real
// evaluator, sums and constant scalings combine forms, and any operation
// that would make an unknown non-linear (a product of two forms, an
// unknown under a function or inside a tensor, a non-arithmetic operator)
// fails the extraction with the offending token's index.
func LinearCoefficients(tokens []rpn.Token, vars []string, base Context) (coeffs map[string]float64, constant float64, err error) {
	unknown := make(map[string]bool, len(vars))
	for _, v := range vars {
		unknown[v] = true
	}

	var stack []linEntry
	pop := func() linEntry {
		e := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return e
	}

	for i, t := range tokens {
		switch t.Kind {
		case rpn.KindNumber:
			stack = append(stack, constEntry(domain.Scalar(t.Num)))

		case rpn.KindVariable:
			if unknown[t.Name] {
				stack = append(stack, linEntry{coeffs: map[string]float64{t.Name: 1}})
				continue
			}
			v, ok := base.GetVar(t.Name)
			if !ok {
				return nil, 0, &domain.UnknownVariableError{Name: t.Name}
			}
			stack = append(stack, constEntry(v))

		case rpn.KindUnary:
			a := pop()
			if a.isConst() {
				v, err := evalUnary(t.Un, a.val)
				if err != nil {
					return nil, 0, err
				}
				stack = append(stack, constEntry(v))
				continue
			}
			switch t.Un {
			case rpn.Pos:
				stack = append(stack, a)
			case rpn.Neg:
				stack = append(stack, scaleEntry(a, -1))
			default:
				return nil, 0, nonLinearErr(i, "unknown under a non-arithmetic unary operator")
			}

		case rpn.KindBinary:
			b := pop()
			a := pop()
			if a.isConst() && b.isConst() {
				v, err := evalBinary(t.Bin, a.val, b.val)
				if err != nil {
					return nil, 0, err
				}
				stack = append(stack, constEntry(v))
				continue
			}
			e, err := combineAffine(t.Bin, a, b, i)
			if err != nil {
				return nil, 0, err
			}
			stack = append(stack, e)

		case rpn.KindFunc:
			arity := 0
			if t.Arity != nil {
				arity = *t.Arity
			}
			args := make([]domain.Value, arity)
			for j := arity - 1; j >= 0; j-- {
				e := pop()
				if !e.isConst() {
					return nil, 0, nonLinearErr(i, fmt.Sprintf("unknown inside a call to %q", t.Name))
				}
				args[j] = e.val
			}
			v, err := evalCall(t.Name, args, base)
			if err != nil {
				return nil, 0, err
			}
			stack = append(stack, constEntry(v))

		case rpn.KindTensor:
			arity := 0
			if t.Arity != nil {
				arity = *t.Arity
			}
			args := make([]domain.Value, arity)
			for j := arity - 1; j >= 0; j-- {
				e := pop()
				if !e.isConst() {
					return nil, 0, nonLinearErr(i, "unknown inside a tensor literal")
				}
				args[j] = e.val
			}
			v, err := domain.Concat(args)
			if err != nil {
				return nil, 0, err
			}
			stack = append(stack, constEntry(v))
		}
	}

	if len(stack) != 1 {
		return nil, 0, &domain.FunctionError{Name: "extract_linear", Reason: "expression did not reduce to a single value"}
	}
	top, err := stack[0].asAffine(len(tokens) - 1)
	if err != nil {
		return nil, 0, err
	}
	coeffs = make(map[string]float64, len(vars))
	for _, v := range vars {
		coeffs[v] = top.coeffs[v]
	}
	return coeffs, top.c, nil
}

// combineAffine applies a binary operator where at least one operand is
// an affine form. Only +, -, constant·form and form/constant preserve
// linearity; everything else fails the extraction at token pos.
func combineAffine(op rpn.BinaryOp, a, b linEntry, pos int) (linEntry, error) {
	switch op {
	case rpn.Add, rpn.Sub:
		fa, err := a.asAffine(pos)
		if err != nil {
			return linEntry{}, err
		}
		fb, err := b.asAffine(pos)
		if err != nil {
			return linEntry{}, err
		}
		sign := 1.0
		if op == rpn.Sub {
			sign = -1
		}
		out := linEntry{coeffs: make(map[string]float64, len(fa.coeffs)+len(fb.coeffs)), c: fa.c + sign*fb.c}
		for v, k := range fa.coeffs {
			out.coeffs[v] += k
		}
		for v, k := range fb.coeffs {
			out.coeffs[v] += sign * k
		}
		return out, nil

	case rpn.Mul:
		if a.isConst() {
			a, b = b, a
		}
		if !b.isConst() {
			return linEntry{}, nonLinearErr(pos, "product of two terms containing unknowns")
		}
		if b.val.Kind() != domain.KindScalar {
			return linEntry{}, nonLinearErr(pos, "unknown scaled by a non-scalar")
		}
		return scaleEntry(a, b.val.AsScalar()), nil

	case rpn.Div:
		if a.isConst() {
			return linEntry{}, nonLinearErr(pos, "unknown in a divisor")
		}
		if !b.isConst() || b.val.Kind() != domain.KindScalar {
			return linEntry{}, nonLinearErr(pos, "unknown in a divisor")
		}
		d := b.val.AsScalar()
		if d == 0 {
			return linEntry{}, &domain.FunctionError{Name: "extract_linear", Reason: fmt.Sprintf("division by zero at token %d", pos)}
		}
		return scaleEntry(a, 1/d), nil

	case rpn.Pow:
		return linEntry{}, nonLinearErr(pos, "unknown under an exponent")

	default:
		return linEntry{}, nonLinearErr(pos, "unknown under a non-arithmetic operator")
	}
}

func scaleEntry(e linEntry, k float64) linEntry {
	out := linEntry{coeffs: make(map[string]float64, len(e.coeffs)), c: e.c * k}
	for v, c := range e.coeffs {
		out.coeffs[v] = c * k
	}
	return out
}
