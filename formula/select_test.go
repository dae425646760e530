// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula_test

import (
	"math"
	"math/rand/v2"
	"testing"

	. "github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/formula/formulatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	b := NewBuilder("TestSelect")
	f := Vi(b, 0, 6)
	g := Pm(b, 1, 1)
	s := Select(f, g, 3)
	require.Equal(t, 2, s.Dim())
	require.Equal(t, 1, s.Shape().NumBlocks())

	fValues := []float64{0, 1, 2, 3, 4, 5}
	for _, tc := range []struct {
		index float64
		want  []float64
	}{
		{0, []float64{0, 1}},
		{1, []float64{2, 3}},
		{2, []float64{4, 5}},
		{0.5, []float64{2, 3}}, // Halfway cases round away from zero.
		{1.49, []float64{2, 3}},
		{2.4, []float64{4, 5}},
		{-0.4, []float64{0, 1}},
		{5, []float64{0, 0}},
		{-1, []float64{0, 0}},
		{2.9, []float64{0, 0}}, // Rounds to 3 == D.
		{3, []float64{0, 0}},
		{-0.5, []float64{0, 0}},
		{math.NaN(), []float64{0, 0}},
		{math.Inf(1), []float64{0, 0}},
	} {
		got := Eval(s, map[int][]float64{0: fValues, 1: {tc.index}})
		assert.Equalf(t, tc.want, got, "Select(f, %g, 3)", tc.index)
	}

	// Same in float32.
	got32 := Eval(s, map[int][]float32{0: {0, 1, 2, 3, 4, 5}, 1: {1}})
	assert.Equal(t, []float32{2, 3}, got32)

	// Construction failures: F dimension not D*K, G not a scalar.
	require.Panics(t, func() { Select(Vi(b, 2, 7), g, 3) })
	require.Panics(t, func() { Select(f, Vj(b, 3, 2), 3) })
	require.Panics(t, func() { Select(f, g, 0) })
	require.Panics(t, func() { SelectBlocks(f, g, 2, 2) })
	require.NotPanics(t, func() { SelectBlocks(f, g, 2, 3) })
}

func TestSelectT(t *testing.T) {
	b := NewBuilder("TestSelectT")
	f := Vi(b, 0, 2)
	g := Pm(b, 1, 1)
	st := SelectT(f, g, 3)
	require.Equal(t, Shape{Dim: 6, BlockDim: 2}, st.Shape())
	require.Equal(t, 3, st.Shape().NumBlocks())

	for _, tc := range []struct {
		index float64
		want  []float64
	}{
		{0, []float64{7, 8, 0, 0, 0, 0}},
		{1, []float64{0, 0, 7, 8, 0, 0}},
		{2.2, []float64{0, 0, 0, 0, 7, 8}},
		{3, []float64{0, 0, 0, 0, 0, 0}},
		{-1, []float64{0, 0, 0, 0, 0, 0}},
	} {
		got := Eval(st, map[int][]float64{0: {7, 8}, 1: {tc.index}})
		assert.Equalf(t, tc.want, got, "SelectT(f, %g, 3)", tc.index)
	}

	// Select(SelectT(f, g)) == f for in-range indices.
	roundTrip := Select(st, g, 3)
	require.Equal(t, 2, roundTrip.Dim())
	assert.Equal(t, []float64{7, 8}, Eval(roundTrip, map[int][]float64{0: {7, 8}, 1: {1}}))
	require.Panics(t, func() { SelectT(f, Vj(b, 2, 2), 3) })
}

func TestSelectGradient(t *testing.T) {
	b := NewBuilder("TestSelectGradient")
	f := Vi(b, 0, 6)
	g := Pm(b, 1, 1)
	e := Vi(b, 2, 2)
	s := Select(f, g, 3)

	grad := Differentiate(s, f, e)
	require.Equal(t, 6, grad.Dim())
	require.Same(t, SelectT(e, g, 3), grad, "the gradient of Select is SelectT of the incoming gradient")
	values := map[int][]float64{0: {0, 1, 2, 3, 4, 5}, 2: {10, 20}}
	values[1] = []float64{1}
	assert.Equal(t, []float64{0, 0, 10, 20, 0, 0}, Eval(grad, values))
	values[1] = []float64{3}
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, Eval(grad, values), "out of range index receives no gradient")

	// The index does not receive any gradient.
	require.True(t, Differentiate(s, g, e).IsZero())

	// Second order: the gradient of SelectT is Select.
	e2 := Vi(b, 3, 6)
	grad2 := Differentiate(grad, e, e2)
	require.Same(t, SelectBlocks(e2, g, 3, 2), grad2)

	// Finite differences through a formula using Select.
	x := Vi(b, 4, 3)
	y := Vj(b, 5, 3)
	composite := Mul(Exp(Select(Concat(x, y), g, 2)), Sin(x))
	rng := rand.New(rand.NewPCG(42, 0))
	for _, index := range []float64{0, 1, 2} {
		values := formulatest.RandomValues(rng, -1, 1, x, y)
		values[1] = []float64{index}
		formulatest.CheckGradient(t, composite, x, []float64{1, -2, 0.5}, values, 1e-5)
		formulatest.CheckGradient(t, composite, y, []float64{1, -2, 0.5}, values, 1e-5)
	}
}

func TestExtractAndConcat(t *testing.T) {
	b := NewBuilder("TestExtractAndConcat")
	x := Vi(b, 0, 3)
	y := Vj(b, 1, 2)
	c := Concat(x, y)
	values := map[int][]float64{0: {1, 2, 3}, 1: {4, 5}}
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, Eval(c, values))
	assert.Equal(t, []float64{2, 3, 4}, Eval(Extract(c, 1, 3), values))
	assert.Equal(t, []float64{5}, Eval(Elem(c, 4), values))
	assert.Equal(t, []float64{0, 4, 5, 0}, Eval(ExtractT(y, 1, 4), values))
	assert.Same(t, c, Extract(c, 0, 5))

	rng := rand.New(rand.NewPCG(1, 2))
	f := Mul(Extract(Concat(Square(x), y), 2, 3), Elem(x, 0))
	values = formulatest.RandomValues(rng, -1, 1, x, y)
	formulatest.CheckGradient(t, f, x, []float64{1, 2, 3}, values, 1e-5)
	formulatest.CheckGradient(t, f, y, []float64{1, 2, 3}, values, 1e-5)
}
