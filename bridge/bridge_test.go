// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"math"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/kreduce/backends"
	_ "github.com/gomlx/kreduce/backends/default"
	"github.com/gomlx/kreduce/formula"
	"github.com/gomlx/kreduce/reduction"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestDense(t *testing.T) {
	d := FromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, 2, d.Rank())
	assert.Equal(t, []int{2, 3}, d.Shape())
	assert.Equal(t, 3, d.AxisSize(1))
	assert.True(t, d.IsContiguous())
	assert.Equal(t, []float64{4, 5, 6}, d.Row(1))
	assert.Equal(t, 6.0, d.At(1, 2))
	assert.Equal(t, "Dense[2 3][1 2 3 4 5 6]", d.String())

	tr := d.Transposed()
	assert.Equal(t, []int{3, 2}, tr.Shape())
	assert.False(t, tr.IsContiguous())
	assert.Equal(t, 2.0, tr.At(1, 0))
	assert.Panics(t, func() { tr.Row(0) })
	c := tr.Contiguous()
	assert.True(t, c.IsContiguous())
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, c.Data())
	assert.Same(t, d, d.Contiguous())

	// Transposing a column keeps it contiguous: only axes of size > 1 matter.
	col := FromRows([][]float64{{1}, {2}, {3}})
	assert.True(t, col.Transposed().IsContiguous())

	assert.Equal(t, []float32{0, 0, 0, 0}, Zeros[float32](2, 2).Data())
	assert.Panics(t, func() { NewDense([]float32{1, 2, 3}, 2, 2) })
	assert.Panics(t, func() { FromRows([][]float32{{1, 2}, {3}}) })
	assert.Panics(t, func() { d.At(2, 0) })
	assert.Panics(t, func() { d.AxisSize(2) })
}

func TestHalfPrecisionConversions(t *testing.T) {
	half := []float16.Float16{float16.Fromfloat32(1.5), float16.Fromfloat32(-2)}
	assert.Equal(t, []float32{1.5, -2}, FromFloat16(half, 2).Data())
	bf := []bfloat16.BFloat16{bfloat16.FromFloat32(0.5), bfloat16.FromFloat32(4)}
	assert.Equal(t, []float32{0.5, 4}, FromBFloat16(bf, 2, 1).Data())
}

// gaussConv builds sum_j exp(-g*|x_i-y_j|^2) * w_j, with the weights w of dimension 1.
func gaussConv(t *testing.T, precision dtypes.DType) *reduction.Reduction {
	b := formula.NewBuilder(t.Name())
	aliases := must.M1(formula.ParseAliases(b, "x=Vi(0,2)", "y=Vj(1,2)", "w=Vj(2,1)", "g=Pm(3,1)"))
	f := must.M1(formula.Parse(b, "GaussKernel(g, x, y, w)", aliases))
	return reduction.New("conv", f, reduction.Sum, reduction.OverJ, precision)
}

func TestGenred(t *testing.T) {
	r := gaussConv(t, dtypes.Float64)
	assert.Equal(t, reduction.Metadata{NArgs: 4, TagIJ: 0, DimOut: 1}, Metadata(r))

	x := FromRows([][]float64{{0, 0}, {1, 0}, {0, 2}})
	y := FromRows([][]float64{{0, 0}, {1, 1}})
	w := NewDense([]float64{1, 2}, 2) // Rank 1 is accepted for dimension 1.
	g := NewDense([]float64{0.5}, 1)
	out, err := Genred(r, backends.Tags{}, []Array[float64]{x, y, w, g})
	require.NoError(t, err)
	require.Equal(t, []int{3, 1}, out.Shape())
	for i := range 3 {
		var want float64
		for j := range 2 {
			d2 := math.Pow(x.At(i, 0)-y.At(j, 0), 2) + math.Pow(x.At(i, 1)-y.At(j, 1), 2)
			want += math.Exp(-0.5*d2) * w.At(j)
		}
		assert.InDeltaf(t, want, out.At(i, 0), 1e-12, "row %d", i)
	}

	// Reducing over i: one output row per y point.
	rT := reduction.New("convT", r.Formula(), reduction.Sum, reduction.OverI, dtypes.Float64)
	assert.Equal(t, 1, Metadata(rT).TagIJ)
	out, err = Genred(rT, backends.Tags{}, []Array[float64]{x, y, w, g})
	require.NoError(t, err)
	require.Equal(t, []int{2, 1}, out.Shape())
}

func TestGenredUnusedIndexAndMissingSet(t *testing.T) {
	// Formula only using j points and a parameter at index 2: index 0 and 1 are unused, and the
	// i point set has a single point.
	b := formula.NewBuilder(t.Name())
	aliases := must.M1(formula.ParseAliases(b, "y=Vj(1,1)", "p=Pm(2,1)"))
	f := must.M1(formula.Parse(b, "y*p", aliases))
	r := reduction.New("scaled-sum", f, reduction.Sum, reduction.OverJ, dtypes.Float32)
	require.Equal(t, 3, r.NArgs())
	out, err := Genred(r, backends.Tags{}, []Array[float32]{nil, NewDense([]float32{1, 2, 3}, 3), NewDense([]float32{2}, 1)})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, out.Shape())
	assert.Equal(t, []float32{12}, out.Data())
}

func TestGenredErrors(t *testing.T) {
	r := gaussConv(t, dtypes.Float64)
	x := FromRows([][]float64{{0, 0}, {1, 0}, {0, 2}})
	y := FromRows([][]float64{{0, 0}, {1, 1}})
	w := NewDense([]float64{1, 2}, 2)
	g := NewDense([]float64{0.5}, 1)

	testCases := []struct {
		name string
		args []Array[float64]
	}{
		{"too few arguments", []Array[float64]{x, y, w}},
		{"missing argument", []Array[float64]{x, y, nil, g}},
		{"nil dense argument", []Array[float64]{x, y, (*Dense[float64])(nil), g}},
		{"not contiguous", []Array[float64]{FromRows([][]float64{{0, 1, 2}, {3, 4, 5}}).Transposed(), y, w, g}},
		{"wrong dimension", []Array[float64]{FromRows([][]float64{{0, 0, 0}}), y, w, g}},
		{"inconsistent ny", []Array[float64]{x, y, NewDense([]float64{1, 2, 3}, 3), g}},
		{"parameter rank", []Array[float64]{x, y, w, NewDense([]float64{0.5}, 1, 1)}},
		{"parameter size", []Array[float64]{x, y, w, NewDense([]float64{0.5, 1}, 2)}},
	}
	for _, tc := range testCases {
		_, err := Genred(r, backends.Tags{}, tc.args)
		require.ErrorIsf(t, err, backends.ErrInvalidInput, "test case %q", tc.name)
	}
	_, err := Genred[float64](nil, backends.Tags{}, nil)
	require.ErrorIs(t, err, backends.ErrInvalidInput)

	// Precision mismatch is detected by the dispatcher.
	r32 := gaussConv(t, dtypes.Float32)
	_, err = Genred(r32, backends.Tags{}, []Array[float64]{x, y, w, g})
	require.ErrorIs(t, err, backends.ErrPrecision)
}
