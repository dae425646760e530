// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/kreduce/backends"
	"github.com/gomlx/kreduce/bridge"
	"github.com/gomlx/kreduce/reduction"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagParsing(t *testing.T) {
	assert.Equal(t, []string{"x=Vi(0,3)", "y=Vj(1,3)"}, splitDeclarations(" x=Vi(0,3);; y=Vj(1,3) ;"))
	assert.Equal(t, dtypes.Float32, must.M1(parseDType("f32")))
	assert.Equal(t, dtypes.Float64, must.M1(parseDType("Float64")))
	_, err := parseDType("int8")
	assert.Error(t, err)
	assert.Equal(t, reduction.OverI, must.M1(parseAxis("I")))
	_, err = parseAxis("k")
	assert.Error(t, err)
}

func TestNewReduction(t *testing.T) {
	declarations := splitDeclarations("x=Vi(0,3);y=Vj(1,3);b=Vj(2,1);g=Pm(3,1)")
	r := must.M1(newReduction(declarations, "GaussKernel(g,x,y,b)", reduction.Sum, reduction.OverJ, dtypes.Float64, ""))
	assert.Equal(t, 4, r.NArgs())
	assert.Equal(t, 1, r.DimOut())

	// Gradient with respect to y: reduced over i, with the gradient input at index 4.
	dr := must.M1(newReduction(declarations, "GaussKernel(g,x,y,b)", reduction.Sum, reduction.OverJ, dtypes.Float64, "y"))
	assert.Equal(t, reduction.OverI, dr.Axis())
	assert.Equal(t, 3, dr.DimOut())
	assert.Equal(t, 5, dr.NArgs())

	_, err := newReduction(declarations, "GaussKernel(g,x,y,b)", reduction.Sum, reduction.OverJ, dtypes.Float64, "z")
	assert.Error(t, err)
	_, err = newReduction(declarations, "GaussKernel(g,x,y,b)", reduction.Max, reduction.OverJ, dtypes.Float64, "x")
	assert.Error(t, err, "only Sum reductions can be differentiated")
	_, err = newReduction(declarations, "Exp(", reduction.Sum, reduction.OverJ, dtypes.Float64, "")
	assert.Error(t, err)
}

func TestRandomArraysRun(t *testing.T) {
	declarations := splitDeclarations("x=Vi(0,2);w=Vj(2,1)")
	r := must.M1(newReduction(declarations, "x*w", reduction.Sum, reduction.OverJ, dtypes.Float32, ""))
	const nx, ny = 7, 5
	args := randomArrays[float32](r, nx, ny, 1)
	require.Len(t, args, 3)
	assert.Nil(t, args[1])
	assert.Equal(t, []int{nx, 2}, args[0].(*bridge.Dense[float32]).Shape())
	assert.Equal(t, []int{ny, 1}, args[2].(*bridge.Dense[float32]).Shape())
	for _, v := range args[0].Data() {
		assert.True(t, v >= -1 && v < 1)
	}

	out, err := bridge.Genred(r, backends.Tags{}, args)
	require.NoError(t, err)
	assert.Equal(t, []int{nx, 2}, out.Shape())
}

func TestSummarize(t *testing.T) {
	s := summarize([]float64{1, -3, math.NaN(), 2, math.Inf(1)})
	assert.Equal(t, 3, s.Count)
	assert.Equal(t, 2, s.NonFinite)
	assert.Equal(t, -3.0, s.Min)
	assert.Equal(t, 2.0, s.Max)
	assert.InDelta(t, 0.0, s.Mean, 1e-12)
	assert.InDelta(t, math.Sqrt(14.0/3), s.RMS, 1e-12)

	empty := summarize[float32](nil)
	assert.Zero(t, empty.Count)
	assert.Zero(t, empty.Mean)
}
