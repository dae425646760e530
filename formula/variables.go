// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"fmt"

	"github.com/gomlx/exceptions"
)

// Category tells how a variable is indexed during a reduction.
type Category int

const (
	// IndexedByI variables hold one value per point of the first set (x_i).
	IndexedByI Category = iota

	// IndexedByJ variables hold one value per point of the second set (y_j).
	IndexedByJ

	// Parameter variables hold a single value shared by every pair (i, j).
	Parameter
)

// String returns the short name used in formulas: "Vi", "Vj" or "Pm".
func (c Category) String() string {
	switch c {
	case IndexedByI:
		return "Vi"
	case IndexedByJ:
		return "Vj"
	case Parameter:
		return "Pm"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// varOp is the leaf operation of variables.
type varOp struct {
	index, dim int
	category   Category
}

func (op *varOp) String() string {
	return fmt.Sprintf("%s(%d,%d)", op.category, op.index, op.dim)
}

func (op *varOp) OutputShape(operands []*Formula) Shape {
	checkNumOperands(op, operands, 0)
	return ShapeOf(op.dim)
}

func (op *varOp) VJP(_, _ *Formula) []*Formula { return nil }

func (op *varOp) EvalFloat32(_ []float32, _ [][]float32) {
	exceptions.Panicf("variable %s must be loaded, not evaluated", op)
}

func (op *varOp) EvalFloat64(_ []float64, _ [][]float64) {
	exceptions.Panicf("variable %s must be loaded, not evaluated", op)
}

// Var returns the variable with the given index, dimension and category.
//
// Declaring the same index twice returns the same variable; declaring it with a different
// dimension or category panics.
func Var(b *Builder, index, dim int, category Category) *Formula {
	b.AssertValid()
	if index < 0 {
		exceptions.Panicf("variable index must be >= 0, got %d", index)
	}
	if dim <= 0 {
		exceptions.Panicf("variable %d must have a positive dimension, got %d", index, dim)
	}
	if category < IndexedByI || category > Parameter {
		exceptions.Panicf("variable %d: invalid category %d", index, category)
	}
	if existing, found := b.variables[index]; found {
		op := existing.op.(*varOp)
		if op.dim != dim || op.category != category {
			exceptions.Panicf("variable index %d already declared as %s, cannot redeclare it as %s(%d,%d)",
				index, existing, category, index, dim)
		}
		return existing
	}
	v := b.NewNode(&varOp{index: index, dim: dim, category: category})
	b.variables[index] = v
	return v
}

// Vi returns a variable indexed by i, the first point set.
func Vi(b *Builder, index, dim int) *Formula { return Var(b, index, dim, IndexedByI) }

// Vj returns a variable indexed by j, the second point set.
func Vj(b *Builder, index, dim int) *Formula { return Var(b, index, dim, IndexedByJ) }

// Pm returns a parameter variable, shared by every pair (i, j).
func Pm(b *Builder, index, dim int) *Formula { return Var(b, index, dim, Parameter) }

// VarIndex returns the index of a variable. It panics if f is not a variable.
func (f *Formula) VarIndex() int {
	return f.varOp().index
}

// VarCategory returns the category of a variable. It panics if f is not a variable.
func (f *Formula) VarCategory() Category {
	return f.varOp().category
}

func (f *Formula) varOp() *varOp {
	f.AssertValid()
	op, ok := f.op.(*varOp)
	if !ok {
		exceptions.Panicf("formula %s is not a variable", f)
	}
	return op
}
