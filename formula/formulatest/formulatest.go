// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package formulatest holds test utilities for packages that depend on the formula package.
package formulatest

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/kreduce/formula"
	"github.com/stretchr/testify/require"
)

// DefaultEpsilon is the step used by NumericGradient when eps <= 0.
const DefaultEpsilon = 1e-6

// RandomValues returns uniformly random values in [low, high) for each of the variables.
func RandomValues(rng *rand.Rand, low, high float64, vars ...*formula.Formula) map[int][]float64 {
	values := make(map[int][]float64, len(vars))
	for _, v := range vars {
		value := make([]float64, v.Dim())
		for ii := range value {
			value[ii] = low + (high-low)*rng.Float64()
		}
		values[v.VarIndex()] = value
	}
	return values
}

// NumericGradient returns the central differences approximation of the gradient of
// <gradIn, f> with respect to the variable v, evaluated at values.
//
// values must hold a value for every variable f depends on; it is not modified.
func NumericGradient(f, v *formula.Formula, gradIn []float64, values map[int][]float64, eps float64) []float64 {
	if eps <= 0 {
		eps = DefaultEpsilon
	}
	if len(gradIn) != f.Dim() {
		panic(fmt.Sprintf("NumericGradient: gradIn has %d values, formula %s has dimension %d", len(gradIn), f, f.Dim()))
	}
	program := formula.Compile(f)
	e := formula.NewEvaluator[float64](program)
	for _, fv := range program.Variables() {
		e.SetVar(fv.VarIndex(), values[fv.VarIndex()])
	}
	grad := make([]float64, v.Dim())
	if !e.HasVar(v.VarIndex()) {
		return grad
	}

	perturbed := append([]float64(nil), values[v.VarIndex()]...)
	dot := func() float64 {
		e.SetVar(v.VarIndex(), perturbed)
		var total float64
		for ii, value := range e.Eval() {
			total += gradIn[ii] * value
		}
		return total
	}
	for k := range perturbed {
		original := perturbed[k]
		perturbed[k] = original + eps
		plus := dot()
		perturbed[k] = original - eps
		minus := dot()
		perturbed[k] = original
		grad[k] = (plus - minus) / (2 * eps)
	}
	return grad
}

// CheckGradient compares the symbolic gradient of f with respect to v (see formula.Differentiate)
// with its finite differences approximation, for the incoming gradient gradIn.
func CheckGradient(t *testing.T, f, v *formula.Formula, gradIn []float64, values map[int][]float64, delta float64) {
	t.Helper()
	b := f.Builder()
	grad := formula.Differentiate(f, v, formula.Const(b, gradIn...))
	require.Equal(t, v.Dim(), grad.Dim(), "gradient of %s with respect to %s", f, v)
	got := formula.Eval(grad, values)
	want := NumericGradient(f, v, gradIn, values, 0)
	require.InDeltaSlicef(t, want, got, delta, "gradient of %s with respect to %s: symbolic %s", f, v, grad)
}

// Ones returns a slice of n ones, a convenient incoming gradient.
func Ones(n int) []float64 {
	ones := make([]float64, n)
	for ii := range ones {
		ones[ii] = 1
	}
	return ones
}
