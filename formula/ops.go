// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
)

// zeroOp is the constant zero vector.
type zeroOp struct {
	dim int
}

func (op *zeroOp) String() string { return fmt.Sprintf("Zero(%d)", op.dim) }

func (op *zeroOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 0)
	return ShapeOf(op.dim)
}

func (op *zeroOp) VJP(_, _ *Formula) []*Formula { return nil }

func (op *zeroOp) EvalFloat32(out []float32, _ [][]float32) { clear(out) }
func (op *zeroOp) EvalFloat64(out []float64, _ [][]float64) { clear(out) }

// Zeros returns the zero formula of the given dimension.
func Zeros(b *Builder, dim int) *Formula {
	if dim <= 0 {
		exceptions.Panicf("Zeros: dimension must be positive, got %d", dim)
	}
	return b.NewNode(&zeroOp{dim: dim})
}

// ZerosLike returns the zero formula with the same dimension as f.
func ZerosLike(f *Formula) *Formula {
	f.AssertValid()
	return Zeros(f.builder, f.Dim())
}

// constOp is a constant vector.
type constOp struct {
	values []float64
}

func (op *constOp) String() string {
	parts := make([]string, len(op.values))
	for ii, value := range op.values {
		parts[ii] = strconv.FormatFloat(value, 'g', -1, 64)
	}
	return fmt.Sprintf("Const(%s)", strings.Join(parts, ","))
}

func (op *constOp) Format(_ []string) string {
	if len(op.values) == 1 && op.values[0] >= 0 {
		return strconv.FormatFloat(op.values[0], 'g', -1, 64)
	}
	return op.String()
}

func (op *constOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 0)
	return ShapeOf(len(op.values))
}

func (op *constOp) VJP(_, _ *Formula) []*Formula { return nil }

func (op *constOp) EvalFloat32(out []float32, _ [][]float32) { evalConst(op.values, out) }
func (op *constOp) EvalFloat64(out []float64, _ [][]float64) { evalConst(op.values, out) }

func evalConst[T Float](values []float64, out []T) {
	for ii, value := range values {
		out[ii] = T(value)
	}
}

// Const returns a constant vector formula. A vector of zeros is returned as Zeros.
func Const(b *Builder, values ...float64) *Formula {
	if len(values) == 0 {
		exceptions.Panicf("Const: at least one value is required")
	}
	allZero := true
	for _, value := range values {
		if value != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return Zeros(b, len(values))
	}
	return b.NewNode(&constOp{values: append([]float64(nil), values...)})
}

// Scalar returns a constant formula of dimension 1.
func Scalar(b *Builder, value float64) *Formula { return Const(b, value) }

// IntCst returns the integer constant n as a formula of dimension 1.
func IntCst(b *Builder, n int) *Formula { return Const(b, float64(n)) }

// binaryKind enumerates the arithmetic binary operations.
type binaryKind int

const (
	opAdd binaryKind = iota
	opSub
	opMul
	opDiv
)

var binarySymbols = [...]string{opAdd: "+", opSub: "-", opMul: "*", opDiv: "/"}
var binaryNames = [...]string{opAdd: "Add", opSub: "Sub", opMul: "Mul", opDiv: "Div"}

// binaryOp implements the arithmetic operations. Operands must have the same dimension, or
// one of them must be of dimension 1, in which case it is broadcast.
type binaryOp struct {
	kind binaryKind
}

func (op *binaryOp) String() string { return binaryNames[op.kind] }

func (op *binaryOp) Format(operands []string) string {
	return fmt.Sprintf("(%s%s%s)", operands[0], binarySymbols[op.kind], operands[1])
}

func (op *binaryOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 2)
	return ShapeOf(broadcastDim(op, operands[0], operands[1]))
}

// broadcastDim returns the output dimension of an elementwise binary operation.
func broadcastDim(op fmt.Stringer, a, b *Formula) int {
	switch {
	case a.Dim() == b.Dim():
		return a.Dim()
	case a.Dim() == 1:
		return b.Dim()
	case b.Dim() == 1:
		return a.Dim()
	}
	exceptions.Panicf("%s: operands of dimensions %d and %d are incompatible, they must be equal or one of them must be 1",
		op, a.Dim(), b.Dim())
	return 0
}

// reduceToOperand sums v over the broadcast axis if operand was broadcast.
func reduceToOperand(v, operand *Formula) *Formula {
	if operand.Dim() == v.Dim() {
		return v
	}
	return Sum(v)
}

func (op *binaryOp) VJP(node, v *Formula) []*Formula {
	a, b := node.operands[0], node.operands[1]
	switch op.kind {
	case opAdd:
		return []*Formula{reduceToOperand(v, a), reduceToOperand(v, b)}
	case opSub:
		return []*Formula{reduceToOperand(v, a), Neg(reduceToOperand(v, b))}
	case opMul:
		return []*Formula{reduceToOperand(Mul(v, b), a), reduceToOperand(Mul(v, a), b)}
	case opDiv:
		// d(a/b)/da = 1/b ; d(a/b)/db = -a/b^2
		return []*Formula{
			reduceToOperand(Div(v, b), a),
			reduceToOperand(Neg(Div(Mul(v, a), Square(b))), b),
		}
	}
	return nil
}

func (op *binaryOp) EvalFloat32(out []float32, operands [][]float32) {
	evalBinary(op.kind, out, operands[0], operands[1])
}

func (op *binaryOp) EvalFloat64(out []float64, operands [][]float64) {
	evalBinary(op.kind, out, operands[0], operands[1])
}

func evalBinary[T Float](kind binaryKind, out, a, b []T) {
	strideA, strideB := 1, 1
	if len(a) == 1 {
		strideA = 0
	}
	if len(b) == 1 {
		strideB = 0
	}
	switch kind {
	case opAdd:
		for k := range out {
			out[k] = a[k*strideA] + b[k*strideB]
		}
	case opSub:
		for k := range out {
			out[k] = a[k*strideA] - b[k*strideB]
		}
	case opMul:
		for k := range out {
			out[k] = a[k*strideA] * b[k*strideB]
		}
	case opDiv:
		for k := range out {
			out[k] = a[k*strideA] / b[k*strideB]
		}
	}
}

// broadcastTo returns x broadcast to dimension dim (x must have dimension 1 or dim).
func broadcastTo(x *Formula, dim int) *Formula {
	if x.Dim() == dim {
		return x
	}
	return SumT(x, dim)
}

// Add returns a+b. A zero operand is folded away.
func Add(a, b *Formula) *Formula {
	op := &binaryOp{kind: opAdd}
	dim := broadcastDim(op, a, b)
	switch {
	case a.IsZero():
		return broadcastTo(b, dim)
	case b.IsZero():
		return broadcastTo(a, dim)
	}
	return newNode(op, a, b)
}

// Sub returns a-b. A zero operand is folded away.
func Sub(a, b *Formula) *Formula {
	op := &binaryOp{kind: opSub}
	dim := broadcastDim(op, a, b)
	switch {
	case b.IsZero():
		return broadcastTo(a, dim)
	case a.IsZero():
		return Neg(broadcastTo(b, dim))
	}
	return newNode(op, a, b)
}

// Mul returns the elementwise product a*b. If either operand is zero the result is zero.
func Mul(a, b *Formula) *Formula {
	op := &binaryOp{kind: opMul}
	dim := broadcastDim(op, a, b)
	if a.IsZero() || b.IsZero() {
		return Zeros(a.builder, dim)
	}
	return newNode(op, a, b)
}

// Div returns the elementwise division a/b.
func Div(a, b *Formula) *Formula {
	op := &binaryOp{kind: opDiv}
	dim := broadcastDim(op, a, b)
	if a.IsZero() {
		return Zeros(a.builder, dim)
	}
	return newNode(op, a, b)
}

// unaryKind enumerates the elementwise unary operations.
type unaryKind int

const (
	opNeg unaryKind = iota
	opExp
	opLog
	opSquare
	opSqrt
	opSin
	opCos
	opAbs
	opSign
)

var unaryNames = [...]string{
	opNeg: "Neg", opExp: "Exp", opLog: "Log", opSquare: "Square", opSqrt: "Sqrt",
	opSin: "Sin", opCos: "Cos", opAbs: "Abs", opSign: "Sign",
}

// unaryOp implements the elementwise math functions.
type unaryOp struct {
	kind unaryKind
}

func (op *unaryOp) String() string { return unaryNames[op.kind] }

func (op *unaryOp) Format(operands []string) string {
	if op.kind == opNeg {
		return fmt.Sprintf("(-%s)", operands[0])
	}
	return fmt.Sprintf("%s(%s)", unaryNames[op.kind], operands[0])
}

func (op *unaryOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	return ShapeOf(operands[0].Dim())
}

func (op *unaryOp) VJP(node, v *Formula) []*Formula {
	x := node.operands[0]
	b := node.builder
	switch op.kind {
	case opNeg:
		return []*Formula{Neg(v)}
	case opExp:
		return []*Formula{Mul(v, node)}
	case opLog:
		return []*Formula{Div(v, x)}
	case opSquare:
		return []*Formula{Mul(Scalar(b, 2), Mul(v, x))}
	case opSqrt:
		return []*Formula{Div(v, Mul(Scalar(b, 2), node))}
	case opSin:
		return []*Formula{Mul(v, Cos(x))}
	case opCos:
		return []*Formula{Neg(Mul(v, Sin(x)))}
	case opAbs:
		// The derivative at 0 is taken to be 0, the value of Sign(0).
		return []*Formula{Mul(v, Sign(x))}
	case opSign:
		return []*Formula{nil}
	}
	return nil
}

func (op *unaryOp) EvalFloat32(out []float32, operands [][]float32) {
	evalUnary(op.kind, out, operands[0])
}

func (op *unaryOp) EvalFloat64(out []float64, operands [][]float64) {
	evalUnary(op.kind, out, operands[0])
}

func evalUnary[T Float](kind unaryKind, out, x []T) {
	switch kind {
	case opNeg:
		for k, value := range x {
			out[k] = -value
		}
	case opExp:
		for k, value := range x {
			out[k] = T(math.Exp(float64(value)))
		}
	case opLog:
		for k, value := range x {
			out[k] = T(math.Log(float64(value)))
		}
	case opSquare:
		for k, value := range x {
			out[k] = value * value
		}
	case opSqrt:
		for k, value := range x {
			out[k] = T(math.Sqrt(float64(value)))
		}
	case opSin:
		for k, value := range x {
			out[k] = T(math.Sin(float64(value)))
		}
	case opCos:
		for k, value := range x {
			out[k] = T(math.Cos(float64(value)))
		}
	case opAbs:
		for k, value := range x {
			out[k] = T(math.Abs(float64(value)))
		}
	case opSign:
		for k, value := range x {
			switch {
			case value > 0:
				out[k] = 1
			case value < 0:
				out[k] = -1
			default:
				out[k] = 0
			}
		}
	}
}

// oddUnary lists the unary functions with f(0) == 0, which are folded on a zero operand.
var oddUnary = map[unaryKind]bool{opNeg: true, opSquare: true, opSqrt: true, opSin: true, opAbs: true, opSign: true}

func unary(kind unaryKind, x *Formula) *Formula {
	x.AssertValid()
	if oddUnary[kind] && x.IsZero() {
		return x
	}
	return newNode(&unaryOp{kind: kind}, x)
}

// Neg returns -x.
func Neg(x *Formula) *Formula { return unary(opNeg, x) }

// Exp returns the elementwise exponential of x.
func Exp(x *Formula) *Formula { return unary(opExp, x) }

// Log returns the elementwise natural logarithm of x.
func Log(x *Formula) *Formula { return unary(opLog, x) }

// Square returns x*x elementwise.
func Square(x *Formula) *Formula { return unary(opSquare, x) }

// Sqrt returns the elementwise square root of x.
func Sqrt(x *Formula) *Formula { return unary(opSqrt, x) }

// Sin returns the elementwise sine of x.
func Sin(x *Formula) *Formula { return unary(opSin, x) }

// Cos returns the elementwise cosine of x.
func Cos(x *Formula) *Formula { return unary(opCos, x) }

// Abs returns the elementwise absolute value of x.
func Abs(x *Formula) *Formula { return unary(opAbs, x) }

// Sign returns -1, 0 or 1 elementwise. It has no gradient.
func Sign(x *Formula) *Formula { return unary(opSign, x) }

// powOp raises its operand to a fixed integer power.
type powOp struct {
	n int
}

func (op *powOp) String() string { return fmt.Sprintf("Pow(%d)", op.n) }

func (op *powOp) Format(operands []string) string {
	return fmt.Sprintf("Pow(%s,%d)", operands[0], op.n)
}

func (op *powOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	return ShapeOf(operands[0].Dim())
}

func (op *powOp) VJP(node, v *Formula) []*Formula {
	x := node.operands[0]
	return []*Formula{Mul(Scalar(node.builder, float64(op.n)), Mul(v, Pow(x, op.n-1)))}
}

func (op *powOp) EvalFloat32(out []float32, operands [][]float32) { evalPow(op.n, out, operands[0]) }
func (op *powOp) EvalFloat64(out []float64, operands [][]float64) { evalPow(op.n, out, operands[0]) }

func evalPow[T Float](n int, out, x []T) {
	for k, value := range x {
		out[k] = T(math.Pow(float64(value), float64(n)))
	}
}

// Pow returns x^n elementwise for an integer n.
func Pow(x *Formula, n int) *Formula {
	x.AssertValid()
	switch n {
	case 0:
		ones := make([]float64, x.Dim())
		for ii := range ones {
			ones[ii] = 1
		}
		return Const(x.builder, ones...)
	case 1:
		return x
	case 2:
		return Square(x)
	}
	if x.IsZero() && n > 0 {
		return x
	}
	return newNode(&powOp{n: n}, x)
}

// sumOp sums the elements of a vector into a scalar.
type sumOp struct{}

func (op *sumOp) String() string { return "Sum" }

func (op *sumOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	return ShapeOf(1)
}

func (op *sumOp) VJP(node, v *Formula) []*Formula {
	return []*Formula{SumT(v, node.operands[0].Dim())}
}

func (op *sumOp) EvalFloat32(out []float32, operands [][]float32) { evalSum(out, operands[0]) }
func (op *sumOp) EvalFloat64(out []float64, operands [][]float64) { evalSum(out, operands[0]) }

func evalSum[T Float](out, x []T) {
	var total T
	for _, value := range x {
		total += value
	}
	out[0] = total
}

// Sum returns the scalar sum of the elements of x.
func Sum(x *Formula) *Formula {
	x.AssertValid()
	if x.Dim() == 1 {
		return x
	}
	if x.IsZero() {
		return Zeros(x.builder, 1)
	}
	return newNode(&sumOp{}, x)
}

// sumTOp broadcasts a scalar to a vector: it is the transpose (adjoint) of Sum.
type sumTOp struct {
	dim int
}

func (op *sumTOp) String() string { return fmt.Sprintf("SumT(%d)", op.dim) }

func (op *sumTOp) Format(operands []string) string {
	return fmt.Sprintf("SumT(%s,%d)", operands[0], op.dim)
}

func (op *sumTOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	checkScalar(op, operands[0], "operand")
	if op.dim <= 0 {
		exceptions.Panicf("%s: dimension must be positive", op)
	}
	return ShapeOf(op.dim)
}

func (op *sumTOp) VJP(_, v *Formula) []*Formula { return []*Formula{Sum(v)} }

func (op *sumTOp) EvalFloat32(out []float32, operands [][]float32) { evalSumT(out, operands[0]) }
func (op *sumTOp) EvalFloat64(out []float64, operands [][]float64) { evalSumT(out, operands[0]) }

func evalSumT[T Float](out, x []T) {
	for k := range out {
		out[k] = x[0]
	}
}

// SumT broadcasts the scalar x to a vector of dimension dim.
func SumT(x *Formula, dim int) *Formula {
	x.AssertValid()
	if x.Dim() == dim {
		checkScalar(&sumTOp{dim: dim}, x, "operand")
		return x
	}
	if x.IsZero() {
		checkScalar(&sumTOp{dim: dim}, x, "operand")
		return Zeros(x.builder, dim)
	}
	return newNode(&sumTOp{dim: dim}, x)
}

// Scalprod returns the scalar product of a and b.
func Scalprod(a, b *Formula) *Formula {
	if a.Dim() != b.Dim() {
		exceptions.Panicf("Scalprod: operands must have the same dimension, got %d and %d", a.Dim(), b.Dim())
	}
	return Sum(Mul(a, b))
}

// SqNorm2 returns the squared Euclidean norm of x.
func SqNorm2(x *Formula) *Formula { return Sum(Square(x)) }

// SqDist returns the squared Euclidean distance between a and b.
func SqDist(a, b *Formula) *Formula {
	if a.Dim() != b.Dim() {
		exceptions.Panicf("SqDist: operands must have the same dimension, got %d and %d", a.Dim(), b.Dim())
	}
	return SqNorm2(Sub(a, b))
}

// GaussKernel returns exp(-gamma*|x-y|^2) * b, the Gaussian kernel applied to b.
//
// gamma must be a scalar.
func GaussKernel(gamma, x, y, b *Formula) *Formula {
	if gamma.Dim() != 1 {
		exceptions.Panicf("GaussKernel: gamma must be a scalar, got dimension %d", gamma.Dim())
	}
	return Mul(Exp(Neg(Mul(gamma, SqDist(x, y)))), b)
}
