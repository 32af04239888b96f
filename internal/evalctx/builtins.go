package evalctx

import (
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/shufengdong/sparrowzz-sub000/internal/domain"
)

// builtin is the evaluator's native function library: the primitives of
// spec.md §4.2 that do not need to consult a Context. Looked up before
// falling through to the current Context chain.
type builtin func(args []domain.Value) (domain.Value, error)

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"sin":     unaryMath(math.Sin),
		"cos":     unaryMath(math.Cos),
		"tan":     unaryMath(math.Tan),
		"exp":     unaryMath(math.Exp),
		"ln":      unaryMath(math.Log),
		"log10":   unaryMath(math.Log10),
		"abs":     unaryMath(math.Abs),
		"floor":   unaryMath(math.Floor),
		"ceil":    unaryMath(math.Ceil),
		"round":   unaryMath(math.Round),
		"signum":  unaryMath(signum),
		"sqrt":    unaryMath(math.Sqrt),
		"atan2":   binaryMath(math.Atan2),
		"min":     variadicMath(math.Min),
		"max":     variadicMath(math.Max),
		"rand":    builtinRand,
		"rand2":   builtinRand2,
		"factorial": builtinFactorial,

		"eye":        builtinEye,
		"zeros":      builtinZeros,
		"ones":       builtinOnes,
		"range":      builtinRange,
		"diag":       builtinDiag,
		"get":        builtinGet,
		"slice":      builtinSlice,
		"sum":        builtinSum,
		"size":       builtinSize,
		"transpose":  builtinTranspose,
		"ctranspose": builtinCTranspose,
		"conj":       builtinConj,
		"real":       builtinReal,
		"imag":       builtinImag,
		"angle":      builtinAngle,
		"power":      builtinPower,
		"sparse":     builtinSparse,
	}
}

func signum(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

func unaryMath(f func(float64) float64) builtin {
	return func(args []domain.Value) (domain.Value, error) {
		if len(args) != 1 {
			return domain.Value{}, &domain.FunctionError{Name: "unary", Reason: "expected 1 argument"}
		}
		if args[0].Kind() == domain.KindComplex {
			return domain.Value{}, &domain.FunctionError{Name: "unary", Reason: "complex argument not supported"}
		}
		return domain.Scalar(domain.ClampInf(f(args[0].AsScalar()))), nil
	}
}

func binaryMath(f func(float64, float64) float64) builtin {
	return func(args []domain.Value) (domain.Value, error) {
		if len(args) != 2 {
			return domain.Value{}, &domain.FunctionError{Name: "binary", Reason: "expected 2 arguments"}
		}
		return domain.Scalar(domain.ClampInf(f(args[0].AsScalar(), args[1].AsScalar()))), nil
	}
}

func variadicMath(f func(float64, float64) float64) builtin {
	return func(args []domain.Value) (domain.Value, error) {
		if len(args) == 0 {
			return domain.Value{}, &domain.FunctionError{Name: "variadic", Reason: "expected at least 1 argument"}
		}
		acc := args[0].AsScalar()
		for _, a := range args[1:] {
			acc = f(acc, a.AsScalar())
		}
		return domain.Scalar(acc), nil
	}
}

func builtinRand(args []domain.Value) (domain.Value, error) {
	if len(args) != 0 {
		return domain.Value{}, &domain.FunctionError{Name: "rand", Reason: "expected 0 arguments"}
	}
	return domain.Scalar(rand.Float64()), nil
}

func builtinRand2(args []domain.Value) (domain.Value, error) {
	if len(args) != 2 {
		return domain.Value{}, &domain.FunctionError{Name: "rand2", Reason: "expected 2 arguments (lo, hi)"}
	}
	lo, hi := args[0].AsScalar(), args[1].AsScalar()
	return domain.Scalar(lo + rand.Float64()*(hi-lo)), nil
}

func builtinFactorial(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "factorial", Reason: "expected 1 argument"}
	}
	n := args[0].AsScalar()
	if n < 0 || n != math.Trunc(n) {
		return domain.Value{}, &domain.FunctionError{Name: "factorial", Reason: "argument must be a non-negative integer"}
	}
	// 171! overflows float64; the valid domain is 0..=170.
	if n > 170 {
		return domain.Value{}, &domain.FunctionError{Name: "factorial", Reason: "argument must not exceed 170"}
	}
	result := 1.0
	for i := 2.0; i <= n; i++ {
		result *= i
	}
	return domain.Scalar(result), nil
}

func builtinEye(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "eye", Reason: "expected 1 argument (n)"}
	}
	n := int(args[0].AsScalar())
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = 1
	}
	return domain.TensorV(domain.NewTensor([]int{n, n}, data)), nil
}

func builtinZeros(args []domain.Value) (domain.Value, error) {
	return filledTensor(args, 0)
}

func builtinOnes(args []domain.Value) (domain.Value, error) {
	return filledTensor(args, 1)
}

func filledTensor(args []domain.Value, fill float64) (domain.Value, error) {
	if len(args) == 0 {
		return domain.Value{}, &domain.FunctionError{Name: "zeros/ones", Reason: "expected at least 1 dimension argument"}
	}
	shape := make([]int, len(args))
	n := 1
	for i, a := range args {
		shape[i] = int(a.AsScalar())
		n *= shape[i]
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = fill
	}
	return domain.TensorV(domain.NewTensor(shape, data)), nil
}

func builtinRange(args []domain.Value) (domain.Value, error) {
	if len(args) != 2 {
		return domain.Value{}, &domain.FunctionError{Name: "range", Reason: "expected 2 arguments (start, end)"}
	}
	start, end := args[0].AsScalar(), args[1].AsScalar()
	n := int(end) - int(start)
	if n < 0 {
		return domain.Value{}, &domain.FunctionError{Name: "range", Reason: "end must be >= start"}
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = start + float64(i)
	}
	return domain.TensorV(domain.NewTensor([]int{n}, data)), nil
}

func builtinDiag(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "diag", Reason: "expected 1 tensor argument"}
	}
	t := args[0].AsTensor()
	if len(t.Shape) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "diag", Reason: "expected a 1-D tensor"}
	}
	n := t.Shape[0]
	data := make([]float64, n*n)
	for i := 0; i < n; i++ {
		data[i*n+i] = t.Data[i]
	}
	return domain.TensorV(domain.NewTensor([]int{n, n}, data)), nil
}

func builtinGet(args []domain.Value) (domain.Value, error) {
	if len(args) < 2 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "get", Reason: "expected a tensor and one index per dimension"}
	}
	t := args[0].AsTensor()
	idx := args[1:]
	if len(idx) != len(t.Shape) {
		return domain.Value{}, &domain.FunctionError{Name: "get", Reason: "index count must match tensor rank"}
	}
	off, err := flatOffset(t.Shape, idx)
	if err != nil {
		return domain.Value{}, err
	}
	if t.Complex {
		return domain.ComplexFrom(t.CData[off]), nil
	}
	return domain.Scalar(t.Data[off]), nil
}

func flatOffset(shape []int, idx []domain.Value) (int, error) {
	off := 0
	for i, s := range shape {
		v := int(idx[i].AsScalar())
		if v < 0 || v >= s {
			return 0, &domain.FunctionError{Name: "get", Reason: "index out of range"}
		}
		off = off*s + v
	}
	return off, nil
}

func builtinSlice(args []domain.Value) (domain.Value, error) {
	if len(args) != 3 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "slice", Reason: "expected (tensor, start, end)"}
	}
	t := args[0].AsTensor()
	if len(t.Shape) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "slice", Reason: "expected a 1-D tensor"}
	}
	start, end := int(args[1].AsScalar()), int(args[2].AsScalar())
	if start < 0 || end > t.Shape[0] || start > end {
		return domain.Value{}, &domain.FunctionError{Name: "slice", Reason: "index out of range"}
	}
	if t.Complex {
		return domain.TensorV(domain.NewComplexTensor([]int{end - start}, append([]complex128{}, t.CData[start:end]...))), nil
	}
	return domain.TensorV(domain.NewTensor([]int{end - start}, append([]float64{}, t.Data[start:end]...))), nil
}

func builtinSum(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "sum", Reason: "expected 1 tensor argument"}
	}
	t := args[0].AsTensor()
	if t.Complex {
		var acc complex128
		for _, v := range t.CData {
			acc += v
		}
		return domain.ComplexFrom(acc), nil
	}
	var acc float64
	for _, v := range t.Data {
		acc += v
	}
	return domain.Scalar(domain.ClampInf(acc)), nil
}

func builtinSize(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "size", Reason: "expected 1 tensor argument"}
	}
	shape := args[0].AsTensor().Shape
	data := make([]float64, len(shape))
	for i, s := range shape {
		data[i] = float64(s)
	}
	return domain.TensorV(domain.NewTensor([]int{len(shape)}, data)), nil
}

func builtinTranspose(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "transpose", Reason: "expected 1 tensor argument"}
	}
	t := args[0].AsTensor()
	if len(t.Shape) != 2 {
		return domain.Value{}, &domain.FunctionError{Name: "transpose", Reason: "expected a 2-D tensor"}
	}
	return domain.TensorV(domain.Transpose(t)), nil
}

func builtinCTranspose(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 || args[0].Kind() != domain.KindTensor {
		return domain.Value{}, &domain.FunctionError{Name: "ctranspose", Reason: "expected 1 tensor argument"}
	}
	t := args[0].AsTensor()
	if len(t.Shape) != 2 || !t.Complex {
		return domain.Value{}, &domain.FunctionError{Name: "ctranspose", Reason: "expected a 2-D complex tensor"}
	}
	return domain.TensorV(domain.CTranspose(t)), nil
}

func builtinConj(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "conj", Reason: "expected 1 argument"}
	}
	return domain.ComplexFrom(cmplx.Conj(args[0].AsComplex())), nil
}

func builtinReal(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "real", Reason: "expected 1 argument"}
	}
	return domain.Scalar(real(args[0].AsComplex())), nil
}

func builtinImag(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "imag", Reason: "expected 1 argument"}
	}
	return domain.Scalar(imag(args[0].AsComplex())), nil
}

func builtinAngle(args []domain.Value) (domain.Value, error) {
	if len(args) != 1 {
		return domain.Value{}, &domain.FunctionError{Name: "angle", Reason: "expected 1 argument"}
	}
	return domain.Scalar(cmplx.Phase(args[0].AsComplex())), nil
}

func builtinPower(args []domain.Value) (domain.Value, error) {
	if len(args) != 2 {
		return domain.Value{}, &domain.FunctionError{Name: "power", Reason: "expected 2 arguments"}
	}
	if args[0].Kind() == domain.KindComplex || args[1].Kind() == domain.KindComplex {
		return domain.ComplexFrom(cmplx.Pow(args[0].AsComplex(), args[1].AsComplex())), nil
	}
	return domain.Scalar(domain.ClampInf(math.Pow(args[0].AsScalar(), args[1].AsScalar()))), nil
}

// builtinSparse builds a tensor from (row, col, value) triples, the
// remainder defaulting to zero — a convenience constructor for the
// sparse system matrices solver actions commonly assemble.
func builtinSparse(args []domain.Value) (domain.Value, error) {
	if len(args) < 2 || (len(args)-2)%3 != 0 {
		return domain.Value{}, &domain.FunctionError{Name: "sparse", Reason: "expected (rows, cols, [row, col, value]...)"}
	}
	rows, cols := int(args[0].AsScalar()), int(args[1].AsScalar())
	data := make([]float64, rows*cols)
	for i := 2; i < len(args); i += 3 {
		r, c, v := int(args[i].AsScalar()), int(args[i+1].AsScalar()), args[i+2].AsScalar()
		if r < 0 || r >= rows || c < 0 || c >= cols {
			return domain.Value{}, &domain.FunctionError{Name: "sparse", Reason: "index out of range"}
		}
		data[r*cols+c] = v
	}
	return domain.TensorV(domain.NewTensor([]int{rows, cols}, data)), nil
}
