// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"github.com/gomlx/exceptions"
)

// This file implements reverse-mode differentiation as a rewriting of formulas, using the
// VJP (Vector Jacobian Product) of each operation.
//
// Conventions:
//
// * gradIn: the incoming gradient, also known as the adjoint: the gradient of whatever is being
//      differentiated (typically a reduction) with respect to the output of the current node.
//      It has the dimension of the node.
// * VJP: for a node, maps gradIn to one new adjoint per operand (Op.VJP).
// * Differentiate walks the nodes in reverse id order, from the formula down to the variable,
//      accumulating with Add nodes one adjoint per node.

// Differentiate returns the formula of the gradient of f with respect to the variable v,
// given gradIn, the gradient with respect to the output of f.
//
// More precisely, it returns the formula of (df/dv)^T . gradIn, with the dimension of v.
// gradIn must have the dimension of f. Formulas that don't depend on v yield Zeros(v.Dim()).
//
// The result is itself a Formula, so it can be differentiated again for higher-order
// derivatives. It panics if the arguments are invalid or if an operation returns an
// inconsistent VJP.
func Differentiate(f, v, gradIn *Formula) *Formula {
	f.AssertValid()
	v.AssertValid()
	gradIn.AssertValid()
	if !v.IsVariable() {
		exceptions.Panicf("Differentiate: can only differentiate with respect to a variable, got %s", v)
	}
	if f.builder != v.builder || f.builder != gradIn.builder {
		exceptions.Panicf("Differentiate: formula, variable and incoming gradient must belong to the same builder")
	}
	if gradIn.Dim() != f.Dim() {
		exceptions.Panicf("Differentiate(%s): incoming gradient %s has dimension %d, but formula has dimension %d",
			f, gradIn, gradIn.Dim(), f.Dim())
	}
	return differentiate(f, v, gradIn)
}

// Grad is an alias to Differentiate.
func Grad(f, v, gradIn *Formula) *Formula { return Differentiate(f, v, gradIn) }

// Gradient differentiates f with respect to each of the given variables, with the same
// incoming gradient.
func Gradient(f, gradIn *Formula, vars ...*Formula) []*Formula {
	grads := make([]*Formula, len(vars))
	for ii, v := range vars {
		grads[ii] = Differentiate(f, v, gradIn)
	}
	return grads
}

// differentiate visits the nodes between f and v in decreasing id order, which is a reverse
// topological order since operands are always older than their users. Each node keeps one adjoint,
// the sum of the VJPs of its users, so shared sub-formulas are differentiated only once.
func differentiate(f, v, gradIn *Formula) *Formula {
	if f == v {
		return gradIn
	}
	if !f.DependsOn(v) || gradIn.IsZero() {
		return ZerosLike(v)
	}

	b := f.builder
	adjoints := map[NodeId]*Formula{f.id: gradIn}
	for id := f.id; id > v.id; id-- {
		adjoint, found := adjoints[id]
		if !found {
			continue
		}
		delete(adjoints, id)
		node := b.nodes[id]
		vjps := node.op.VJP(node, adjoint)
		if len(vjps) != len(node.operands) {
			exceptions.Panicf("VJP of %s returned %d gradients, but it has %d operands, implementation of "+
				"the differentiation rule for the operation failed", node.op, len(vjps), len(node.operands))
		}
		for ii, operand := range node.operands {
			vjp := vjps[ii]
			if vjp == nil || vjp.IsZero() || !operand.DependsOn(v) {
				continue
			}
			if vjp.Dim() != operand.Dim() {
				exceptions.Panicf("invalid gradient calculation for %s: VJP for operand #%d (out of %d) has dimension %d, "+
					"but operand %s has dimension %d -- this indicates a bug in the differentiation rule of %s",
					node.op, ii, len(node.operands), vjp.Dim(), operand, operand.Dim(), node.op)
			}
			if previous, found := adjoints[operand.id]; found {
				adjoints[operand.id] = Add(previous, vjp)
			} else {
				adjoints[operand.id] = vjp
			}
		}
	}
	if adjoint, found := adjoints[v.id]; found {
		return adjoint
	}
	return ZerosLike(v)
}
