package evalctx

import (
	"math"
	"math/cmplx"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
	"github.com/shufengdong/sparrowzz-sub000/internal/rpn"
)

// Eval walks a compiled RPN token stream on a value stack, dispatching
// each operator over the Scalar/Complex/Tensor kinds of its operands by
// pattern match on domain.Value.Kind rather than virtual dispatch,
// per spec.md §9's design note.
func Eval(tokens []rpn.Token, ctx Context) (domain.Value, error) {
	var stack []domain.Value
	pop := func() domain.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	for _, t := range tokens {
		switch t.Kind {
		case rpn.KindNumber:
			stack = append(stack, domain.Scalar(t.Num))
		case rpn.KindVariable:
			v, ok := ctx.GetVar(t.Name)
			if !ok {
				return domain.Value{}, &domain.UnknownVariableError{Name: t.Name}
			}
			stack = append(stack, v)
		case rpn.KindUnary:
			a := pop()
			v, err := evalUnary(t.Un, a)
			if err != nil {
				return domain.Value{}, err
			}
			stack = append(stack, v)
		case rpn.KindBinary:
			b := pop()
			a := pop()
			v, err := evalBinary(t.Bin, a, b)
			if err != nil {
				return domain.Value{}, err
			}
			stack = append(stack, v)
		case rpn.KindFunc:
			n := t.Arity
			arity := 0
			if n != nil {
				arity = *n
			}
			args := make([]domain.Value, arity)
			for i := arity - 1; i >= 0; i-- {
				args[i] = pop()
			}
			v, err := evalCall(t.Name, args, ctx)
			if err != nil {
				return domain.Value{}, err
			}
			stack = append(stack, v)
		case rpn.KindTensor:
			n := t.Arity
			arity := 0
			if n != nil {
				arity = *n
			}
			args := make([]domain.Value, arity)
			for i := arity - 1; i >= 0; i-- {
				args[i] = pop()
			}
			v, err := domain.Concat(args)
			if err != nil {
				return domain.Value{}, err
			}
			stack = append(stack, v)
		}
	}
	if len(stack) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "eval", Reason: "expression did not reduce to a single value"}
	}
	return stack[0], nil
}

func evalCall(name string, args []domain.Value, ctx Context) (domain.Value, error) {
	if f, ok := builtins[name]; ok {
		return f(args)
	}
	v, ok, err := ctx.EvalFunc(name, args)
	if err != nil {
		return domain.Value{}, err
	}
	if !ok {
		return domain.Value{}, &domain.UnknownVariableError{Name: name}
	}
	return v, nil
}

func evalUnary(op rpn.UnaryOp, a domain.Value) (domain.Value, error) {
	switch op {
	case rpn.Pos:
		return a, nil
	case rpn.Neg:
		switch a.Kind() {
		case domain.KindScalar:
			return domain.Scalar(-a.AsScalar()), nil
		case domain.KindComplex:
			return domain.ComplexFrom(-a.AsComplex()), nil
		case domain.KindTensor:
			t := a.AsTensor()
			if t.Complex {
				return domain.TensorV(domain.BroadcastScalarComplex(t, 0, false, func(x, _ complex128) complex128 { return -x })), nil
			}
			return domain.TensorV(domain.BroadcastScalarReal(t, 0, false, func(x, _ float64) float64 { return -x })), nil
		}
	case rpn.Not:
		if !a.IsTruthy() {
			return domain.Scalar(1), nil
		}
		return domain.Scalar(0), nil
	case rpn.BitNot:
		return domain.Scalar(float64(^int64(a.AsScalar()))), nil
	case rpn.Fact:
		return builtinFactorial([]domain.Value{a})
	}
	return domain.Value{}, &domain.FunctionError{Name: "unary", Reason: "unsupported operand kind"}
}

func evalBinary(op rpn.BinaryOp, a, b domain.Value) (domain.Value, error) {
	switch op {
	case rpn.Add:
		return dispatchArith(a, b, func(x, y float64) float64 { return x + y }, func(x, y complex128) complex128 { return x + y })
	case rpn.Sub:
		return dispatchArith(a, b, func(x, y float64) float64 { return x - y }, func(x, y complex128) complex128 { return x - y })
	case rpn.Mul:
		return dispatchMul(a, b)
	case rpn.Div:
		return dispatchArith(a, b, func(x, y float64) float64 { return x / y }, func(x, y complex128) complex128 { return x / y })
	case rpn.Mod:
		return domain.Scalar(domain.ClampInf(math.Mod(a.AsScalar(), b.AsScalar()))), nil
	case rpn.Pow:
		return dispatchPow(a, b)
	case rpn.BitAt:
		return domain.Scalar(float64((int64(a.AsScalar()) >> int64(b.AsScalar())) & 1)), nil
	case rpn.And:
		return boolOf(a.IsTruthy() && b.IsTruthy()), nil
	case rpn.Or:
		return boolOf(a.IsTruthy() || b.IsTruthy()), nil
	case rpn.BitAnd:
		return domain.Scalar(float64(int64(a.AsScalar()) & int64(b.AsScalar()))), nil
	case rpn.BitOr:
		return domain.Scalar(float64(int64(a.AsScalar()) | int64(b.AsScalar()))), nil
	case rpn.BitXor:
		return domain.Scalar(float64(int64(a.AsScalar()) ^ int64(b.AsScalar()))), nil
	case rpn.Shl:
		return domain.Scalar(float64(int64(a.AsScalar()) << int64(b.AsScalar()))), nil
	case rpn.Shr:
		return domain.Scalar(float64(int64(a.AsScalar()) >> int64(b.AsScalar()))), nil
	case rpn.Eq:
		return boolOf(a.AsScalar() == b.AsScalar()), nil
	case rpn.Neq:
		return boolOf(a.AsScalar() != b.AsScalar()), nil
	case rpn.Lt:
		return boolOf(a.AsScalar() < b.AsScalar()), nil
	case rpn.Gt:
		return boolOf(a.AsScalar() > b.AsScalar()), nil
	case rpn.Le:
		return boolOf(a.AsScalar() <= b.AsScalar()), nil
	case rpn.Ge:
		return boolOf(a.AsScalar() >= b.AsScalar()), nil
	}
	return domain.Value{}, &domain.FunctionError{Name: "binary", Reason: "unsupported operator"}
}

func boolOf(b bool) domain.Value {
	if b {
		return domain.Scalar(1)
	}
	return domain.Scalar(0)
}

// dispatchArith handles the elementwise operators (+, -, /) across every
// Scalar/Complex/Tensor combination, broadcasting a scalar/complex
// operand across a tensor's elements and promoting to complex whenever
// either side is complex.
func dispatchArith(a, b domain.Value, fr func(x, y float64) float64, fc func(x, y complex128) complex128) (domain.Value, error) {
	ak, bk := a.Kind(), b.Kind()
	switch {
	case ak == domain.KindTensor && bk == domain.KindTensor:
		ta, tb := a.AsTensor(), b.AsTensor()
		if ta.Complex || tb.Complex {
			out, err := domain.ElementwiseComplex(ta.ToComplex(), tb.ToComplex(), fc)
			return wrapTensor(out, err)
		}
		out, err := domain.ElementwiseReal(ta, tb, fr)
		return wrapTensor(out, err)
	case ak == domain.KindTensor:
		ta := a.AsTensor()
		if ta.Complex || bk == domain.KindComplex {
			return domain.TensorV(domain.BroadcastScalarComplex(ta.ToComplex(), b.AsComplex(), false, fc)), nil
		}
		return domain.TensorV(domain.BroadcastScalarReal(ta, b.AsScalar(), false, fr)), nil
	case bk == domain.KindTensor:
		tb := b.AsTensor()
		if tb.Complex || ak == domain.KindComplex {
			return domain.TensorV(domain.BroadcastScalarComplex(tb.ToComplex(), a.AsComplex(), true, fc)), nil
		}
		return domain.TensorV(domain.BroadcastScalarReal(tb, a.AsScalar(), true, fr)), nil
	case ak == domain.KindComplex || bk == domain.KindComplex:
		return domain.ComplexFrom(fc(a.AsComplex(), b.AsComplex())), nil
	default:
		return domain.Scalar(domain.ClampInf(fr(a.AsScalar(), b.AsScalar()))), nil
	}
}

func wrapTensor(t *domain.Tensor, err error) (domain.Value, error) {
	if err != nil {
		return domain.Value{}, err
	}
	return domain.TensorV(t), nil
}

// dispatchMul additionally covers matrix-matrix and matrix-vector
// products when both operands are tensors, per spec.md §4.2's tensor
// algebra: a vector times a matrix (or vice versa) with conforming inner
// dimensions, or a matrix times a matrix, is a matrix product; every
// other shape combination (including two equal-length vectors) is
// elementwise.
func dispatchMul(a, b domain.Value) (domain.Value, error) {
	if a.Kind() == domain.KindTensor && b.Kind() == domain.KindTensor {
		ta, tb := a.AsTensor(), b.AsTensor()
		if matMulConforms(ta.Shape, tb.Shape) {
			out, err := domain.MatMul(ta, tb)
			return wrapTensor(out, err)
		}
	}
	return dispatchArith(a, b, func(x, y float64) float64 { return x * y }, func(x, y complex128) complex128 { return x * y })
}

func matMulConforms(a, b []int) bool {
	switch {
	case len(a) == 1 && len(b) == 2:
		return a[0] == b[0]
	case len(a) == 2 && len(b) == 1:
		return a[1] == b[0]
	case len(a) == 2 && len(b) == 2:
		return a[1] == b[0]
	default:
		return false
	}
}

// dispatchPow covers scalar exponentiation, complex exponentiation, and
// the matrix-inverse notation pow(tensor_square, -1), per spec.md §4.2.
func dispatchPow(a, b domain.Value) (domain.Value, error) {
	if a.Kind() == domain.KindTensor {
		t := a.AsTensor()
		if b.Kind() != domain.KindComplex && b.AsScalar() == -1 {
			out, err := domain.MatInverse(t)
			return wrapTensor(out, err)
		}
		return domain.Value{}, &domain.FunctionError{Name: "pow", Reason: "tensor exponent must be -1 (matrix inverse)"}
	}
	if a.Kind() == domain.KindComplex || b.Kind() == domain.KindComplex {
		return domain.ComplexFrom(cmplx.Pow(a.AsComplex(), b.AsComplex())), nil
	}
	return domain.Scalar(domain.ClampInf(math.Pow(a.AsScalar(), b.AsScalar()))), nil
}
