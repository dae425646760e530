// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"fmt"
	"math"

	"github.com/gomlx/exceptions"
)

// selectOp picks one block of BlockDim values out of NumBlocks stacked blocks, at the index
// given by a scalar operand.
type selectOp struct {
	numBlocks, blockDim int
}

func (op *selectOp) String() string {
	return fmt.Sprintf("Select(%d,%d)", op.numBlocks, op.blockDim)
}

func (op *selectOp) Format(operands []string) string {
	return fmt.Sprintf("Select(%s,%s,%d)", operands[0], operands[1], op.numBlocks)
}

func (op *selectOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 2)
	if op.numBlocks <= 0 || op.blockDim <= 0 {
		exceptions.Panicf("%s: number of blocks and block dimension must be positive", op)
	}
	if operands[0].Dim() != op.numBlocks*op.blockDim {
		exceptions.Panicf("Select should pick values in a vector of size D*K=%d*%d=%d, got %s of dimension %d",
			op.numBlocks, op.blockDim, op.numBlocks*op.blockDim, operands[0], operands[0].Dim())
	}
	checkScalar(op, operands[1], "indexing")
	return ShapeOf(op.blockDim)
}

// VJP scatters the incoming gradient back into the selected block: SelectT is the dual of Select.
// The index receives no gradient.
func (op *selectOp) VJP(node, v *Formula) []*Formula {
	return []*Formula{SelectT(v, node.operands[1], op.numBlocks), nil}
}

func (op *selectOp) EvalFloat32(out []float32, operands [][]float32) {
	evalSelect(op.numBlocks, op.blockDim, out, operands[0], operands[1])
}

func (op *selectOp) EvalFloat64(out []float64, operands [][]float64) {
	evalSelect(op.numBlocks, op.blockDim, out, operands[0], operands[1])
}

// blockIndex rounds the index value to the nearest integer (halfway cases away from zero).
// It returns false if the index falls outside [0, numBlocks), or is not a finite number.
func blockIndex[T Float](value T, numBlocks int) (int, bool) {
	rounded := math.Round(float64(value))
	if !(rounded >= 0 && rounded < float64(numBlocks)) {
		return 0, false
	}
	return int(rounded), true
}

func evalSelect[T Float](numBlocks, blockDim int, out, f, g []T) {
	index, ok := blockIndex(g[0], numBlocks)
	if !ok {
		// Out of range indices select the zero vector.
		clear(out)
		return
	}
	copy(out, f[index*blockDim:(index+1)*blockDim])
}

// Select returns the block of f at index round(g), where f is seen as numBlocks stacked
// blocks of dimension f.Dim()/numBlocks.
//
// g must be a scalar and f.Dim() must be a multiple of numBlocks, otherwise it panics.
// If round(g) falls outside [0, numBlocks) the result is the zero vector: there is no
// runtime error.
func Select(f, g *Formula, numBlocks int) *Formula {
	f.AssertValid()
	if numBlocks <= 0 || f.Dim()%numBlocks != 0 {
		exceptions.Panicf("Select should pick values in a vector of size D*K with D=%d, got %s of dimension %d",
			numBlocks, f, f.Dim())
	}
	return SelectBlocks(f, g, numBlocks, f.Dim()/numBlocks)
}

// SelectBlocks is like Select, but with the block dimension given explicitly: f.Dim()
// must be exactly numBlocks*blockDim.
func SelectBlocks(f, g *Formula, numBlocks, blockDim int) *Formula {
	op := &selectOp{numBlocks: numBlocks, blockDim: blockDim}
	f.AssertValid()
	g.AssertValid()
	op.OutputShape([]*Formula{f, g})
	if f.IsZero() {
		return Zeros(f.builder, blockDim)
	}
	return newNode(op, f, g)
}

// selectTOp is the transpose of selectOp: it places its operand in one block of an otherwise
// zero vector of NumBlocks blocks.
type selectTOp struct {
	numBlocks, blockDim int
}

func (op *selectTOp) String() string {
	return fmt.Sprintf("SelectT(%d,%d)", op.numBlocks, op.blockDim)
}

func (op *selectTOp) Format(operands []string) string {
	return fmt.Sprintf("SelectT(%s,%s,%d)", operands[0], operands[1], op.numBlocks)
}

func (op *selectTOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 2)
	if op.numBlocks <= 0 {
		exceptions.Panicf("%s: number of blocks must be positive", op)
	}
	if operands[0].Dim() != op.blockDim {
		exceptions.Panicf("%s: operand must have the block dimension %d, got %s of dimension %d",
			op, op.blockDim, operands[0], operands[0].Dim())
	}
	checkScalar(op, operands[1], "indexing")
	return Shape{Dim: op.numBlocks * op.blockDim, BlockDim: op.blockDim}
}

func (op *selectTOp) VJP(node, v *Formula) []*Formula {
	return []*Formula{SelectBlocks(v, node.operands[1], op.numBlocks, op.blockDim), nil}
}

func (op *selectTOp) EvalFloat32(out []float32, operands [][]float32) {
	evalSelectT(op.numBlocks, op.blockDim, out, operands[0], operands[1])
}

func (op *selectTOp) EvalFloat64(out []float64, operands [][]float64) {
	evalSelectT(op.numBlocks, op.blockDim, out, operands[0], operands[1])
}

func evalSelectT[T Float](numBlocks, blockDim int, out, f, g []T) {
	clear(out)
	if index, ok := blockIndex(g[0], numBlocks); ok {
		copy(out[index*blockDim:(index+1)*blockDim], f)
	}
}

// SelectT places f in block round(g) of a zero vector of numBlocks blocks of f.Dim() values.
// If round(g) is outside [0, numBlocks) the result is all zeros.
//
// It is the transpose of Select: Select(SelectT(f, g, d), g, d) == f for in-range indices.
func SelectT(f, g *Formula, numBlocks int) *Formula {
	f.AssertValid()
	g.AssertValid()
	op := &selectTOp{numBlocks: numBlocks, blockDim: f.Dim()}
	shape := op.OutputShape([]*Formula{f, g})
	if f.IsZero() {
		return Zeros(f.builder, shape.Dim)
	}
	return newNode(op, f, g)
}

// extractOp takes a contiguous range of values of its operand.
type extractOp struct {
	start, dim int
}

func (op *extractOp) String() string { return fmt.Sprintf("Extract(%d,%d)", op.start, op.dim) }

func (op *extractOp) Format(operands []string) string {
	return fmt.Sprintf("Extract(%s,%d,%d)", operands[0], op.start, op.dim)
}

func (op *extractOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	if op.start < 0 || op.dim <= 0 || op.start+op.dim > operands[0].Dim() {
		exceptions.Panicf("%s: range [%d, %d) out of bounds for %s of dimension %d",
			op, op.start, op.start+op.dim, operands[0], operands[0].Dim())
	}
	return ShapeOf(op.dim)
}

func (op *extractOp) VJP(node, v *Formula) []*Formula {
	return []*Formula{ExtractT(v, op.start, node.operands[0].Dim())}
}

func (op *extractOp) EvalFloat32(out []float32, operands [][]float32) {
	copy(out, operands[0][op.start:op.start+op.dim])
}

func (op *extractOp) EvalFloat64(out []float64, operands [][]float64) {
	copy(out, operands[0][op.start:op.start+op.dim])
}

// Extract returns the values [start, start+dim) of f.
func Extract(f *Formula, start, dim int) *Formula {
	f.AssertValid()
	op := &extractOp{start: start, dim: dim}
	op.OutputShape([]*Formula{f})
	if start == 0 && dim == f.Dim() {
		return f
	}
	if f.IsZero() {
		return Zeros(f.builder, dim)
	}
	return newNode(op, f)
}

// Elem returns the m-th value of f, as a scalar.
func Elem(f *Formula, m int) *Formula { return Extract(f, m, 1) }

// extractTOp is the transpose of extractOp: it writes its operand at an offset of a zero vector.
type extractTOp struct {
	start, total int
}

func (op *extractTOp) String() string { return fmt.Sprintf("ExtractT(%d,%d)", op.start, op.total) }

func (op *extractTOp) Format(operands []string) string {
	return fmt.Sprintf("ExtractT(%s,%d,%d)", operands[0], op.start, op.total)
}

func (op *extractTOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 1)
	if op.start < 0 || op.start+operands[0].Dim() > op.total {
		exceptions.Panicf("%s: %s of dimension %d does not fit at offset %d of a vector of dimension %d",
			op, operands[0], operands[0].Dim(), op.start, op.total)
	}
	return ShapeOf(op.total)
}

func (op *extractTOp) VJP(node, v *Formula) []*Formula {
	return []*Formula{Extract(v, op.start, node.operands[0].Dim())}
}

func (op *extractTOp) EvalFloat32(out []float32, operands [][]float32) {
	clear(out)
	copy(out[op.start:], operands[0])
}

func (op *extractTOp) EvalFloat64(out []float64, operands [][]float64) {
	clear(out)
	copy(out[op.start:], operands[0])
}

// ExtractT returns a zero vector of dimension total with f written at offset start.
func ExtractT(f *Formula, start, total int) *Formula {
	f.AssertValid()
	op := &extractTOp{start: start, total: total}
	op.OutputShape([]*Formula{f})
	if start == 0 && total == f.Dim() {
		return f
	}
	if f.IsZero() {
		return Zeros(f.builder, total)
	}
	return newNode(op, f)
}

// concatOp concatenates two vectors.
type concatOp struct{}

func (op *concatOp) String() string { return "Concat" }

func (op *concatOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 2)
	return ShapeOf(operands[0].Dim() + operands[1].Dim())
}

func (op *concatOp) VJP(node, v *Formula) []*Formula {
	a, b := node.operands[0], node.operands[1]
	return []*Formula{Extract(v, 0, a.Dim()), Extract(v, a.Dim(), b.Dim())}
}

func (op *concatOp) EvalFloat32(out []float32, operands [][]float32) {
	copy(out, operands[0])
	copy(out[len(operands[0]):], operands[1])
}

func (op *concatOp) EvalFloat64(out []float64, operands [][]float64) {
	copy(out, operands[0])
	copy(out[len(operands[0]):], operands[1])
}

// Concat returns the concatenation of a and b.
func Concat(a, b *Formula) *Formula {
	a.AssertValid()
	b.AssertValid()
	if a.IsZero() && b.IsZero() {
		return Zeros(a.builder, a.Dim()+b.Dim())
	}
	return newNode(&concatOp{}, a, b)
}
