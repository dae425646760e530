// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package backends

import (
	"github.com/gomlx/kreduce/formula"
)

// Kernel evaluates the formula of a job for one pair (output row, reduced point) at a time.
// It is the building block of executors: each goroutine must use its own Kernel.
//
// Parameters are loaded once, on creation. Variables indexed like the output rows ("outer")
// are loaded with SetOuter, and the variables of the reduced side ("inner") with SetInner,
// from the job arguments or from any other buffers with the same layout (e.g. a tile).
type Kernel[T formula.Float] struct {
	job       *Job
	evaluator *formula.Evaluator[T]
	outer     []kernelVar[T]
	inner     []kernelVar[T]
}

type kernelVar[T formula.Float] struct {
	index, dim int
	buf        []T
}

// NewKernel creates a Kernel for the job, given the typed views of its arguments (see JobBuffers).
func NewKernel[T formula.Float](job *Job, args [][]T) *Kernel[T] {
	r := job.Reduction
	k := &Kernel[T]{
		job:       job,
		evaluator: formula.NewEvaluator[T](r.Program()),
	}
	outerCategory := r.Axis().OutputCategory()
	for _, v := range r.Program().Variables() {
		kv := kernelVar[T]{index: v.VarIndex(), dim: v.Dim(), buf: args[v.VarIndex()]}
		switch v.VarCategory() {
		case formula.Parameter:
			k.evaluator.SetVar(kv.index, kv.buf)
		case outerCategory:
			k.outer = append(k.outer, kv)
		default:
			k.inner = append(k.inner, kv)
		}
	}
	return k
}

// SetOuter loads the variables indexed like the output rows with the values of the given row.
func (k *Kernel[T]) SetOuter(row int) {
	for _, v := range k.outer {
		k.evaluator.SetVar(v.index, v.buf[row*v.dim:(row+1)*v.dim])
	}
}

// NumInner is the number of variables of the reduced side.
func (k *Kernel[T]) NumInner() int { return len(k.inner) }

// InnerDims returns the dimension of each variable of the reduced side, in the order used by
// InnerBuffers and SetInner.
func (k *Kernel[T]) InnerDims() []int {
	dims := make([]int, len(k.inner))
	for ii, v := range k.inner {
		dims[ii] = v.dim
	}
	return dims
}

// InnerBuffers returns the job arguments of the variables of the reduced side.
func (k *Kernel[T]) InnerBuffers() [][]T {
	buffers := make([][]T, len(k.inner))
	for ii, v := range k.inner {
		buffers[ii] = v.buf
	}
	return buffers
}

// SetInner loads the variables of the reduced side from row pos of buffers, which must be laid
// out like InnerBuffers.
func (k *Kernel[T]) SetInner(buffers [][]T, pos int) {
	for ii, v := range k.inner {
		k.evaluator.SetVar(v.index, buffers[ii][pos*v.dim:(pos+1)*v.dim])
	}
}

// Eval evaluates the formula for the loaded variables. The returned slice is owned by the
// Kernel and is overwritten by the next call.
func (k *Kernel[T]) Eval() []T { return k.evaluator.Eval() }
