// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package bridge converts host arrays into the flat buffers of a reduction job, and is the entry
// point to run reductions on them.
//
// Example: a Gaussian kernel convolution, summing over the j points.
//
//	b := formula.NewBuilder("conv")
//	aliases := must.M1(formula.ParseAliases(b, "x=Vi(0,3)", "y=Vj(1,3)", "w=Vj(2,1)", "g=Pm(3,1)"))
//	f := must.M1(formula.Parse(b, "GaussKernel(g, x, y, w)", aliases))
//	r := reduction.New("conv", f, reduction.Sum, reduction.OverJ, dtypes.Float64)
//	tags, err := backends.DefaultTags()
//	...
//	out, err := bridge.Genred(r, tags, []bridge.Array[float64]{x, y, w, gamma})
package bridge

import (
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/pkg/errors"
)

// Metadata returns the build-time metadata of the reduction: the number of arguments, the
// index of the reduction axis and the output dimension.
func Metadata(r *reduction.Reduction) reduction.Metadata {
	return r.Metadata()
}

// Genred runs the reduction r with the given arguments, one per variable index, on the executor
// selected by tags. It returns a newly allocated array of shape (nOut, r.DimOut()).
//
// Arguments of variables indexed by i or j have shape (n, dim), or (n) if dim is 1. Parameters
// have shape (dim). All arguments must be contiguous. The sizes nx and ny of the point sets are
// inferred from the arguments, and must be consistent. A point set not used by the formula has
// size 1. Entries for indices not used by the formula are ignored and may be nil.
//
// Options, like backends.WithProgress, are passed through to backends.Launch.
//
// Invalid arguments are reported with errors wrapping backends.ErrInvalidInput. See
// backends.Launch for the other errors.
func Genred[T formula.Float](r *reduction.Reduction, tags backends.Tags, args []Array[T], opts ...backends.LaunchOption) (*Dense[T], error) {
	if r == nil {
		return nil, errors.Wrap(backends.ErrInvalidInput, "Genred: nil reduction")
	}
	if len(args) != r.NArgs() {
		return nil, errors.Wrapf(backends.ErrInvalidInput, "Genred(%q): reduction takes %d arguments, got %d",
			r.Name(), r.NArgs(), len(args))
	}
	sizes := map[formula.Category]int{}
	buffers := make([][]T, len(args))
	for ii, arg := range args {
		v := r.Arg(ii)
		if v == nil {
			continue
		}
		n, err := checkArg(v, arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "Genred(%q): argument #%d (%s)", r.Name(), ii, v)
		}
		category := v.VarCategory()
		if category != formula.Parameter {
			if previous, found := sizes[category]; found && previous != n {
				return nil, errors.Wrapf(backends.ErrInvalidInput,
					"Genred(%q): argument #%d (%s) has %d points, but previous arguments indexed by %s have %d",
					r.Name(), ii, v, n, category, previous)
			}
			sizes[category] = n
		}
		buffers[ii] = arg.Data()
	}
	nx, ny := 1, 1
	if n, found := sizes[formula.IndexedByI]; found {
		nx = n
	}
	if n, found := sizes[formula.IndexedByJ]; found {
		ny = n
	}
	nOut := nx
	if r.Axis() == reduction.OverI {
		nOut = ny
	}
	out, err := backends.Launch(r, tags, nx, ny, nOut, r.DimOut(), buffers, opts...)
	if err != nil {
		return nil, err
	}
	return NewDense(out.Data, out.Rows, out.Dim), nil
}

// checkArg validates the array of the variable v and returns its number of points.
func checkArg[T formula.Float](v *formula.Formula, arg Array[T]) (int, error) {
	if arg == nil {
		return 0, errors.Wrap(backends.ErrInvalidInput, "missing array")
	}
	if dense, ok := arg.(*Dense[T]); ok && dense == nil {
		return 0, errors.Wrap(backends.ErrInvalidInput, "missing array: nil *Dense")
	}
	if !arg.IsContiguous() {
		return 0, errors.Wrap(backends.ErrInvalidInput, "array is not contiguous")
	}
	dim := v.Dim()
	if v.VarCategory() == formula.Parameter {
		if arg.Rank() != 1 || arg.AxisSize(0) != dim {
			return 0, errors.Wrapf(backends.ErrInvalidInput, "parameter must have shape (%d), got %v", dim, shapeOf(arg))
		}
		return 1, nil
	}
	switch {
	case arg.Rank() == 2 && arg.AxisSize(1) == dim:
		return arg.AxisSize(0), nil
	case arg.Rank() == 1 && dim == 1:
		return arg.AxisSize(0), nil
	}
	return 0, errors.Wrapf(backends.ErrInvalidInput, "expected shape (n, %d), got %v", dim, shapeOf(arg))
}

func shapeOf[T formula.Float](arg Array[T]) []int {
	shape := make([]int, arg.Rank())
	for axis := range shape {
		shape[axis] = arg.AxisSize(axis)
	}
	return shape
}
