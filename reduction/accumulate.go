// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package reduction

import (
	"math"

	"github.com/gomlx/kreduce/formula"
)

// The functions below implement the numerics of the reduction operators on one output row.
//
// The accumulator of a row has DimAccumulator() scalars. Executors call Init once per row,
// Fold once per reduced index (in increasing order of the index), and Finalize to write the
// output row. Executors that split the reduced index in blocks accumulate each block
// separately and combine them with Merge, in increasing order of the blocks, which yields the
// same result as a sequential Fold up to floating point rounding of Sum and LogSumExp.
//
// Layouts: for ArgMax and ArgMin the accumulator holds the values followed by the indices; for
// LogSumExp it holds the running maximum followed by the running sum of exp(value-maximum).
// When nothing is folded, Sum returns 0, Max -Inf, Min +Inf, ArgMax and ArgMin index 0 and
// LogSumExp -Inf.

// Init sets acc to the neutral accumulator.
func Init[T formula.Float](r *Reduction, acc []T) {
	switch r.op {
	case Sum:
		clear(acc)
	case Max:
		fill(acc, T(math.Inf(-1)))
	case Min:
		fill(acc, T(math.Inf(1)))
	case ArgMax:
		dim := len(acc) / 2
		fill(acc[:dim], T(math.Inf(-1)))
		clear(acc[dim:])
	case ArgMin:
		dim := len(acc) / 2
		fill(acc[:dim], T(math.Inf(1)))
		clear(acc[dim:])
	case LogSumExp:
		acc[0] = T(math.Inf(-1))
		acc[1] = 0
	}
}

func fill[T formula.Float](values []T, value T) {
	for ii := range values {
		values[ii] = value
	}
}

// Fold accumulates value, the formula evaluated at the reduced index j.
func Fold[T formula.Float](r *Reduction, acc, value []T, j int) {
	switch r.op {
	case Sum:
		for k, v := range value {
			acc[k] += v
		}
	case Max:
		for k, v := range value {
			if v > acc[k] {
				acc[k] = v
			}
		}
	case Min:
		for k, v := range value {
			if v < acc[k] {
				acc[k] = v
			}
		}
	case ArgMax:
		dim := len(value)
		for k, v := range value {
			if v > acc[k] {
				acc[k] = v
				acc[dim+k] = T(j)
			}
		}
	case ArgMin:
		dim := len(value)
		for k, v := range value {
			if v < acc[k] {
				acc[k] = v
				acc[dim+k] = T(j)
			}
		}
	case LogSumExp:
		foldLogSumExp(acc, value[0], 1)
	}
}

// foldLogSumExp adds weight*exp(x) to the accumulator (maximum, sum).
func foldLogSumExp[T formula.Float](acc []T, x, weight T) {
	if weight == 0 || math.IsInf(float64(x), -1) {
		return
	}
	maximum := acc[0]
	if x > maximum {
		acc[1] = acc[1]*T(math.Exp(float64(maximum-x))) + weight
		acc[0] = x
		return
	}
	acc[1] += weight * T(math.Exp(float64(x-maximum)))
}

// Merge combines into acc the accumulator other of a later block of reduced indices.
func Merge[T formula.Float](r *Reduction, acc, other []T) {
	switch r.op {
	case Sum:
		for k, v := range other {
			acc[k] += v
		}
	case Max:
		for k, v := range other {
			if v > acc[k] {
				acc[k] = v
			}
		}
	case Min:
		for k, v := range other {
			if v < acc[k] {
				acc[k] = v
			}
		}
	case ArgMax:
		dim := len(acc) / 2
		for k, v := range other[:dim] {
			if v > acc[k] {
				acc[k] = v
				acc[dim+k] = other[dim+k]
			}
		}
	case ArgMin:
		dim := len(acc) / 2
		for k, v := range other[:dim] {
			if v < acc[k] {
				acc[k] = v
				acc[dim+k] = other[dim+k]
			}
		}
	case LogSumExp:
		foldLogSumExp(acc, other[0], other[1])
	}
}

// Finalize writes the output row from the accumulator.
func Finalize[T formula.Float](r *Reduction, out, acc []T) {
	switch r.op {
	case Sum, Max, Min:
		copy(out, acc)
	case ArgMax, ArgMin:
		copy(out, acc[len(acc)/2:])
	case LogSumExp:
		if acc[1] == 0 {
			out[0] = T(math.Inf(-1))
			return
		}
		out[0] = acc[0] + T(math.Log(float64(acc[1])))
	}
}
