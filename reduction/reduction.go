// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package reduction defines kernel reductions: a formula F(x_i, y_j, p) together with the
// reduction operator (sum, max, ...) applied over one of the two indices, and the precision
// of the computation.
//
// A Reduction is built once and carries all the build-time metadata the dispatcher and the
// host bridge need (number of arguments, which index is reduced, output dimension). The
// numeric rules of the reduction operators (Init, Fold, Merge, Finalize) are defined here so
// that every executor produces the same results.
package reduction

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/formula"
	"github.com/pkg/errors"
)

// Op is the reduction operator.
type Op int

const (
	// Sum adds F over the reduced index.
	Sum Op = iota

	// Max takes the elementwise maximum of F over the reduced index.
	Max

	// Min takes the elementwise minimum of F over the reduced index.
	Min

	// ArgMax returns, for each component of F, the reduced index where the maximum is attained.
	// Ties are resolved with the smallest index.
	ArgMax

	// ArgMin returns, for each component of F, the reduced index where the minimum is attained.
	// Ties are resolved with the smallest index.
	ArgMin

	// LogSumExp computes log(sum(exp(F))) over the reduced index, in a numerically stable way.
	// F must be a scalar.
	LogSumExp
)

var opNames = [...]string{
	Sum: "Sum", Max: "Max", Min: "Min", ArgMax: "ArgMax", ArgMin: "ArgMin", LogSumExp: "LogSumExp",
}

// String implements fmt.Stringer.
func (op Op) String() string {
	if op < 0 || int(op) >= len(opNames) {
		return fmt.Sprintf("Op(%d)", int(op))
	}
	return opNames[op]
}

// OpFromString returns the Op with the given name, case-sensitive.
func OpFromString(name string) (Op, error) {
	for op, opName := range opNames {
		if opName == name {
			return Op(op), nil
		}
	}
	return 0, errors.Errorf("unknown reduction operator %q, valid values are %v", name, opNames)
}

// Axis is the index reduced over.
type Axis int

const (
	// OverJ reduces over j: the output has one row per point i of the first set.
	OverJ Axis = iota

	// OverI reduces over i: the output has one row per point j of the second set.
	OverI
)

// String implements fmt.Stringer.
func (a Axis) String() string {
	switch a {
	case OverJ:
		return "OverJ"
	case OverI:
		return "OverI"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// TagIJ returns 0 for OverJ and 1 for OverI.
func (a Axis) TagIJ() int { return int(a) }

// Swap returns the other axis.
func (a Axis) Swap() Axis { return 1 - a }

// OutputCategory is the category of the variables indexed by the output rows.
func (a Axis) OutputCategory() formula.Category {
	if a == OverI {
		return formula.IndexedByJ
	}
	return formula.IndexedByI
}

// ReducedCategory is the category of the variables indexed by the reduced index.
func (a Axis) ReducedCategory() formula.Category {
	if a == OverI {
		return formula.IndexedByI
	}
	return formula.IndexedByJ
}

// Reduction is a formula and the reduction applied to it. It is immutable once created.
type Reduction struct {
	name      string
	formula   *formula.Formula
	op        Op
	axis      Axis
	precision dtypes.DType
	program   *formula.Program

	// args[index] is the variable with that index, or nil if the formula doesn't use the index.
	args []*formula.Formula
}

// Metadata is the build-time information about a reduction exposed to callers.
type Metadata struct {
	// NArgs is the number of argument buffers a launch expects: one per variable index,
	// up to the largest index used.
	NArgs int

	// TagIJ is 0 when reducing over j, 1 when reducing over i.
	TagIJ int

	// DimOut is the dimension of each output row.
	DimOut int
}

// New creates a reduction of formula f. It panics (see exceptions.Panicf) if the parameters
// are invalid: precision other than Float32 or Float64, unknown operator or axis, or
// LogSumExp of a non-scalar formula.
func New(name string, f *formula.Formula, op Op, axis Axis, precision dtypes.DType) *Reduction {
	f.AssertValid()
	if precision != dtypes.Float32 && precision != dtypes.Float64 {
		exceptions.Panicf("reduction %q: precision must be Float32 or Float64, got %s", name, precision)
	}
	if op < Sum || op > LogSumExp {
		exceptions.Panicf("reduction %q: invalid operator %s", name, op)
	}
	if axis != OverJ && axis != OverI {
		exceptions.Panicf("reduction %q: invalid axis %s", name, axis)
	}
	if op == LogSumExp && f.Dim() != 1 {
		exceptions.Panicf("reduction %q: LogSumExp requires a scalar formula, got %s of dimension %d", name, f, f.Dim())
	}
	r := &Reduction{
		name:      name,
		formula:   f,
		op:        op,
		axis:      axis,
		precision: precision,
		program:   formula.Compile(f),
	}
	vars := f.Variables()
	if len(vars) > 0 {
		r.args = make([]*formula.Formula, vars[len(vars)-1].VarIndex()+1)
		for _, v := range vars {
			r.args[v.VarIndex()] = v
		}
	}
	return r
}

// TryNew is like New, but returns an error instead of panicking.
func TryNew(name string, f *formula.Formula, op Op, axis Axis, precision dtypes.DType) (r *Reduction, err error) {
	err = exceptions.TryCatch[error](func() { r = New(name, f, op, axis, precision) })
	return
}

// Name of the reduction, used for logging and printing.
func (r *Reduction) Name() string { return r.name }

// Formula reduced.
func (r *Reduction) Formula() *formula.Formula { return r.formula }

// Op returns the reduction operator.
func (r *Reduction) Op() Op { return r.op }

// Axis returns the reduced index.
func (r *Reduction) Axis() Axis { return r.axis }

// Precision returns the dtype of the computation, Float32 or Float64.
func (r *Reduction) Precision() dtypes.DType { return r.precision }

// Program returns the compiled formula, shared by the executors.
func (r *Reduction) Program() *formula.Program { return r.program }

// NArgs is the number of argument buffers expected: the largest variable index used plus one.
func (r *Reduction) NArgs() int { return len(r.args) }

// TagIJ is 0 when reducing over j (output indexed by i) and 1 when reducing over i.
func (r *Reduction) TagIJ() int { return r.axis.TagIJ() }

// DimOut is the dimension of each output row.
func (r *Reduction) DimOut() int {
	if r.op == LogSumExp {
		return 1
	}
	return r.formula.Dim()
}

// DimAccumulator is the number of scalars of the accumulator of one output row.
func (r *Reduction) DimAccumulator() int {
	switch r.op {
	case ArgMax, ArgMin:
		// Value and index per component.
		return 2 * r.formula.Dim()
	case LogSumExp:
		// Running maximum and sum of exponentials.
		return 2
	}
	return r.formula.Dim()
}

// Arg returns the variable with the given index, or nil if the formula doesn't use it.
func (r *Reduction) Arg(index int) *formula.Formula {
	if index < 0 || index >= len(r.args) {
		return nil
	}
	return r.args[index]
}

// Args returns the variables indexed by position: entries for unused indices are nil.
func (r *Reduction) Args() []*formula.Formula { return r.args }

// Metadata returns the build-time metadata of the reduction.
func (r *Reduction) Metadata() Metadata {
	return Metadata{NArgs: r.NArgs(), TagIJ: r.TagIJ(), DimOut: r.DimOut()}
}

// maxPrintedFormulaLen bounds the formula printed by Reduction.String.
const maxPrintedFormulaLen = 500

// String implements fmt.Stringer.
func (r *Reduction) String() string {
	return fmt.Sprintf("%s: %s_%s(%s) -> %s", r.name, r.op, r.axis, r.formula.ShortString(maxPrintedFormulaLen), r.precision)
}
