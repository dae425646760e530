// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"github.com/gomlx/exceptions"
)

// Op is the contract implemented by every operation kind.
//
// An operation is combined with arbitrary other operations without special casing: the
// propagator in Differentiate and the evaluators only use the methods below.
type Op interface {
	// String returns the name of the operation including its static parameters, e.g. "Select(3)".
	// It is also used as the de-duplication key, so two ops with the same string must compute
	// the same thing.
	String() string

	// OutputShape validates the operand dimensions and returns the shape of the output.
	// It must panic (see exceptions.Panicf) if the operands violate the operation contract.
	OutputShape(operands []*Formula) Shape

	// VJP returns the local chain rule for the node: given v, the gradient with respect to the
	// output of node, it returns one formula per operand, the gradient with respect to that
	// operand, each with the operand dimension.
	//
	// A nil entry means no gradient flows to that operand (e.g.: discrete indices).
	VJP(node, v *Formula) []*Formula

	// EvalFloat32 computes the output for float32 operand values.
	EvalFloat32(out []float32, operands [][]float32)

	// EvalFloat64 computes the output for float64 operand values.
	EvalFloat64(out []float64, operands [][]float64)
}

// evalOp dispatches to the op numeric rule of the precision T.
func evalOp[T Float](op Op, out []T, operands [][]T) {
	switch typedOut := any(out).(type) {
	case []float32:
		op.EvalFloat32(typedOut, any(operands).([][]float32))
	case []float64:
		op.EvalFloat64(typedOut, any(operands).([][]float64))
	}
}

// checkNumOperands panics if the number of operands is not the one expected by op.
func checkNumOperands(op Op, operands []*Formula, want int) {
	if len(operands) != want {
		exceptions.Panicf("%s takes %d operands, got %d", op, want, len(operands))
	}
}

// checkScalar panics if the operand is not of dimension 1.
func checkScalar(op Op, operand *Formula, what string) {
	if operand.Dim() != 1 {
		exceptions.Panicf("%s only supports scalar %s, got %s of dimension %d", op, what, operand, operand.Dim())
	}
}
