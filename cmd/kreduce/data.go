// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/kreduce/bridge"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"golang.org/x/exp/constraints"
)

// randomArrays returns one array per argument of r, with values uniformly sampled in [-1, 1).
// Arguments of unused indices are nil.
func randomArrays[T formula.Float](r *reduction.Reduction, nx, ny int, seed uint64) []bridge.Array[T] {
	rng := rand.New(rand.NewPCG(seed, uint64(r.NArgs())))
	args := make([]bridge.Array[T], r.NArgs())
	for ii, v := range r.Args() {
		if v == nil {
			continue
		}
		var shape []int
		switch v.VarCategory() {
		case formula.IndexedByI:
			shape = []int{nx, v.Dim()}
		case formula.IndexedByJ:
			shape = []int{ny, v.Dim()}
		default:
			shape = []int{v.Dim()}
		}
		arr := bridge.Zeros[T](shape...)
		data := arr.Data()
		for jj := range data {
			data[jj] = T(2*rng.Float64() - 1)
		}
		args[ii] = arr
	}
	return args
}

// stats summarizes a buffer of values.
type stats[T constraints.Float] struct {
	Count     int
	Min, Max  T
	Mean, RMS float64
	NonFinite int
}

// summarize returns the statistics of the finite values, and the count of the non-finite ones.
func summarize[T constraints.Float](values []T) stats[T] {
	s := stats[T]{Min: T(math.Inf(1)), Max: T(math.Inf(-1))}
	var sum, sum2 float64
	for _, v := range values {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			s.NonFinite++
			continue
		}
		s.Count++
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += f
		sum2 += f * f
	}
	if s.Count > 0 {
		s.Mean = sum / float64(s.Count)
		s.RMS = math.Sqrt(sum2 / float64(s.Count))
	}
	return s
}
