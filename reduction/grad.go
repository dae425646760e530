// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduction

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/kreduce/formula"
)

// Grad returns the reduction computing the gradient of the Sum reduction r with respect to the
// variable v, given gradIn, the gradient with respect to the output of r.
//
// gradIn must be a variable indexed like the output rows of r (Vi when reducing over j, Vj
// when reducing over i), with dimension DimOut. The gradient is itself a Sum reduction of
// Differentiate(F, v, gradIn):
//
//   - if v is indexed like the output rows, it reduces over the same index;
//   - if v is indexed by the reduced index, it reduces over the other index, since the
//     gradient has one row per point of the reduced set.
//
// Parameters (Pm) would require summing over both indices and are not supported. It panics on
// invalid arguments.
func (r *Reduction) Grad(v, gradIn *formula.Formula) *Reduction {
	if r.op != Sum {
		exceptions.Panicf("Grad(%s): only Sum reductions can be differentiated, got %s", r.name, r.op)
	}
	v.AssertValid()
	gradIn.AssertValid()
	if !v.IsVariable() || !gradIn.IsVariable() {
		exceptions.Panicf("Grad(%s): v and gradIn must be variables, got %s and %s", r.name, v, gradIn)
	}
	outputCategory := r.axis.OutputCategory()
	if gradIn.VarCategory() != outputCategory {
		exceptions.Panicf("Grad(%s): gradIn %s must be a variable of category %s, indexed like the output rows",
			r.name, gradIn, outputCategory)
	}
	if gradIn.Dim() != r.DimOut() {
		exceptions.Panicf("Grad(%s): gradIn %s must have the output dimension %d", r.name, gradIn, r.DimOut())
	}
	if r.formula.DependsOn(gradIn) {
		exceptions.Panicf("Grad(%s): gradIn %s is already used by the formula %s", r.name, gradIn, r.formula)
	}

	axis := r.axis
	switch v.VarCategory() {
	case outputCategory:
		// Same rows as the output.
	case r.axis.ReducedCategory():
		axis = r.axis.Swap()
	default:
		exceptions.Panicf("Grad(%s): gradient with respect to parameter %s is not supported", r.name, v)
	}
	grad := formula.Differentiate(r.formula, v, gradIn)
	return New(fmt.Sprintf("d%s/d%s", r.name, v), grad, Sum, axis, r.precision)
}
