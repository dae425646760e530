// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/kreduce/formula"
	"github.com/x448/float16"
)

// Array is the contract of host arrays accepted by Genred: a multidimensional array of T
// exposing its axis sizes and its flat buffer.
type Array[T formula.Float] interface {
	// Rank is the number of axes.
	Rank() int

	// AxisSize returns the size of the given axis.
	AxisSize(axis int) int

	// Data returns the flat buffer of the array. It is only in row-major order if IsContiguous.
	Data() []T

	// IsContiguous returns whether Data holds the values in row-major order, without gaps.
	IsContiguous() bool
}

// Dense is a multidimensional array of T stored in a flat buffer, with arbitrary strides.
// It implements Array.
type Dense[T formula.Float] struct {
	shape, strides []int
	data           []T
}

var _ Array[float32] = (*Dense[float32])(nil)

// rowMajorStrides returns the strides of a contiguous array of the given shape.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for axis := len(shape) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= shape[axis]
	}
	return strides
}

func shapeSize(shape []int) int {
	size := 1
	for _, dim := range shape {
		if dim < 0 {
			exceptions.Panicf("invalid negative axis size in shape %v", shape)
		}
		size *= dim
	}
	return size
}

// NewDense returns a contiguous Dense array using data (not copied) as its buffer.
// It panics if len(data) doesn't match the shape.
func NewDense[T formula.Float](data []T, shape ...int) *Dense[T] {
	if size := shapeSize(shape); size != len(data) {
		exceptions.Panicf("NewDense: shape %v has %d elements, but data has %d", shape, size, len(data))
	}
	return &Dense[T]{shape: slices.Clone(shape), strides: rowMajorStrides(shape), data: data}
}

// Zeros returns a contiguous Dense array of the given shape filled with zeros.
func Zeros[T formula.Float](shape ...int) *Dense[T] {
	return NewDense(make([]T, shapeSize(shape)), shape...)
}

// FromRows returns a Dense array of shape (len(rows), dim) with a copy of rows, which must all
// have the same length dim.
func FromRows[T formula.Float](rows [][]T) *Dense[T] {
	var dim int
	if len(rows) > 0 {
		dim = len(rows[0])
	}
	data := make([]T, 0, len(rows)*dim)
	for ii, row := range rows {
		if len(row) != dim {
			exceptions.Panicf("FromRows: row #%d has length %d, but row #0 has length %d", ii, len(row), dim)
		}
		data = append(data, row...)
	}
	return NewDense(data, len(rows), dim)
}

// FromFloat16 returns a Dense float32 array with the values of the half-precision buffer.
func FromFloat16(values []float16.Float16, shape ...int) *Dense[float32] {
	data := make([]float32, len(values))
	for ii, v := range values {
		data[ii] = v.Float32()
	}
	return NewDense(data, shape...)
}

// FromBFloat16 returns a Dense float32 array with the values of the bfloat16 buffer.
func FromBFloat16(values []bfloat16.BFloat16, shape ...int) *Dense[float32] {
	data := make([]float32, len(values))
	for ii, v := range values {
		data[ii] = v.Float32()
	}
	return NewDense(data, shape...)
}

// Rank implements Array.
func (d *Dense[T]) Rank() int { return len(d.shape) }

// AxisSize implements Array.
func (d *Dense[T]) AxisSize(axis int) int {
	if axis < 0 || axis >= len(d.shape) {
		exceptions.Panicf("AxisSize(%d) out of range for array of rank %d", axis, len(d.shape))
	}
	return d.shape[axis]
}

// Shape returns a copy of the axis sizes.
func (d *Dense[T]) Shape() []int { return slices.Clone(d.shape) }

// Size is the total number of elements.
func (d *Dense[T]) Size() int { return shapeSize(d.shape) }

// Data implements Array.
func (d *Dense[T]) Data() []T { return d.data }

// IsContiguous implements Array. Axes of size 1 may have any stride.
func (d *Dense[T]) IsContiguous() bool {
	want := rowMajorStrides(d.shape)
	for axis, stride := range d.strides {
		if d.shape[axis] > 1 && stride != want[axis] {
			return false
		}
	}
	return true
}

// Transposed returns a view of the array with the order of the axes reversed, sharing the buffer.
// The view of an array with more than one axis of size > 1 is not contiguous.
func (d *Dense[T]) Transposed() *Dense[T] {
	t := &Dense[T]{shape: slices.Clone(d.shape), strides: slices.Clone(d.strides), data: d.data}
	slices.Reverse(t.shape)
	slices.Reverse(t.strides)
	return t
}

// Contiguous returns the array itself if it is contiguous, or a contiguous copy otherwise.
func (d *Dense[T]) Contiguous() *Dense[T] {
	if d.IsContiguous() {
		return d
	}
	c := Zeros[T](d.shape...)
	indices := make([]int, len(d.shape))
	for ii := range c.data {
		c.data[ii] = d.At(indices...)
		// Increment indices, last axis first.
		for axis := len(indices) - 1; axis >= 0; axis-- {
			indices[axis]++
			if indices[axis] < d.shape[axis] {
				break
			}
			indices[axis] = 0
		}
	}
	return c
}

// At returns the element at the given indices, one per axis.
func (d *Dense[T]) At(indices ...int) T {
	if len(indices) != len(d.shape) {
		exceptions.Panicf("At: got %d indices for an array of rank %d", len(indices), len(d.shape))
	}
	var pos int
	for axis, idx := range indices {
		if idx < 0 || idx >= d.shape[axis] {
			exceptions.Panicf("At: index %d out of range for axis %d of size %d", idx, axis, d.shape[axis])
		}
		pos += idx * d.strides[axis]
	}
	return d.data[pos]
}

// Row returns the view of the i-th row of a contiguous array of rank 2.
func (d *Dense[T]) Row(i int) []T {
	if len(d.shape) != 2 || !d.IsContiguous() {
		exceptions.Panicf("Row: requires a contiguous array of rank 2, got shape %v", d.shape)
	}
	dim := d.shape[1]
	return d.data[i*dim : (i+1)*dim]
}

// String implements fmt.Stringer, printing the shape and the first values.
func (d *Dense[T]) String() string {
	const maxValues = 8
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "Dense%v[", d.shape)
	n := min(d.Size(), maxValues)
	c := d.Contiguous()
	for ii := range n {
		if ii > 0 {
			sb.WriteString(" ")
		}
		_, _ = fmt.Fprintf(&sb, "%g", c.data[ii])
	}
	if d.Size() > maxValues {
		sb.WriteString(" ...")
	}
	sb.WriteString("]")
	return sb.String()
}
