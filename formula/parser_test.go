// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula_test

import (
	"math"
	"testing"

	. "github.com/gomlx/kreduce/formula"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAliases(t *testing.T) {
	b := NewBuilder("TestParseAliases")
	aliases, err := ParseAliases(b, "p=Pm(0,1)", "a=Vy(1,1)", "x = Vx(2,3)", "y=Vj(3,3)")
	require.NoError(t, err)
	require.Len(t, aliases, 4)
	require.Same(t, Pm(b, 0, 1), aliases["p"])
	require.Same(t, Vj(b, 1, 1), aliases["a"])
	require.Same(t, Vi(b, 2, 3), aliases["x"])
	require.Same(t, Vj(b, 3, 3), aliases["y"])

	for _, bad := range [][]string{
		{"p"},
		{"1p=Pm(0,1)"},
		{"p=Pm(0,1)", "p=Pm(0,1)"},
		{"q=Exp(Pm(0,1))"},
		{"q=Vi(0,2)"}, // Index 0 is already a parameter of dimension 1.
		{"q=Vi(4,0)"},
		{"q=Vi(4)"},
	} {
		_, err := ParseAliases(b, bad...)
		assert.Errorf(t, err, "ParseAliases(%q) should have failed", bad)
	}
}

func TestParse(t *testing.T) {
	b := NewBuilder("TestParse")
	aliases := must.M1(ParseAliases(b, "p=Pm(0,1)", "a=Vj(1,1)", "x=Vi(2,3)", "y=Vj(3,3)"))
	p, a, x, y := aliases["p"], aliases["a"], aliases["x"], aliases["y"]

	f, err := Parse(b, "Square(p-a)*Exp(x+y)", aliases)
	require.NoError(t, err)
	require.Same(t, Mul(Square(Sub(p, a)), Exp(Add(x, y))), f)
	require.Equal(t, 3, f.Dim())

	// The string representation parses back to the same formula.
	require.Same(t, f, must.M1(Parse(b, f.String(), nil)))

	values := map[int][]float64{0: {3}, 1: {1}, 2: {0, 1, 2}, 3: {0, 0, -1}}
	want := []float64{4, 4 * math.E, 4 * math.E}
	require.InDeltaSlice(t, want, Eval(f, values), 1e-9)

	for _, tc := range []struct {
		text string
		want []float64
	}{
		{"1+2*3", []float64{7}},
		{"(1+2)*3", []float64{9}},
		{"2-3-1", []float64{-2}},
		{"8/2/2", []float64{2}},
		{"-p*2", []float64{-6}},
		{"--p", []float64{3}},
		{"(x|y)", []float64{-2}},
		{"Scalprod(x, y)", []float64{-2}},
		{"SqNorm2(x)", []float64{5}},
		{"x*p + 1e-1", []float64{0.1, 3.1, 6.1}},
		{"Select(Concat(x,y), IntCst(1), 2)", []float64{0, 0, -1}},
		{"Elem(x, 2)", []float64{2}},
		{"Extract(x,1,2)", []float64{1, 2}},
		{"ExtractT(a, 1, 3)", []float64{0, 1, 0}},
		{"SumT(p,2)", []float64{3, 3}},
		{"Pow(x,3)", []float64{0, 1, 8}},
		{"Sum(x) + Zero(1)", []float64{3}},
		{"Const(1,-2,0.5)*x", []float64{0, -2, 1}},
		{"Abs(y) + Sign(y)", []float64{0, 0, 0}},
		{"SelectT(a, p - 1, 3)", []float64{0, 0, 1}},
		{"GaussKernel(Pm(4,1), x, x, a)", []float64{1}},
	} {
		f, err := Parse(b, tc.text, aliases)
		require.NoErrorf(t, err, "Parse(%q)", tc.text)
		values[4] = []float64{0.5}
		assert.InDeltaSlicef(t, tc.want, Eval(f, values), 1e-9, "Parse(%q) = %s", tc.text, f)
	}
}

func TestParseErrors(t *testing.T) {
	b := NewBuilder("TestParseErrors")
	aliases := must.M1(ParseAliases(b, "p=Pm(0,1)", "x=Vi(1,3)", "y=Vj(2,2)"))
	for _, text := range []string{
		"",
		"x+",
		"x+y",                     // Incompatible dimensions.
		"Foo(x)",                  // Unknown function.
		"z*2",                     // Unknown alias.
		"Exp(x",                   // Missing parenthesis.
		"Exp(x))",                 // Extra parenthesis.
		"Select(x, p, 2)",         // 3 is not a multiple of 2.
		"Select(x, y, 3)",         // Index must be a scalar.
		"Vi(0,3)",                 // Index 0 is already a parameter.
		"Pow(x, 1.5)",             // Integer exponent required.
		"Extract(x, 2, 5)",        // Out of bounds.
		"Const()",                 // At least one value.
		"x $ y",                   // Invalid character.
		"Exp(x, y)",               // Too many arguments.
		"(x|Concat(x,y))",         // Scalar product of different dimensions.
		"GaussKernel(x, x, x, x)", // Gamma must be a scalar.
	} {
		_, err := Parse(b, text, aliases)
		assert.Errorf(t, err, "Parse(%q) should have failed", text)
	}
	require.Panics(t, func() { MustParse(b, "x+y", aliases) })
}

func TestParserFunctions(t *testing.T) {
	names := ParserFunctions()
	assert.IsNonDecreasing(t, names)
	for _, name := range []string{"Select", "SelectT", "GaussKernel", "Vi", "Pm", "Const"} {
		assert.Contains(t, names, name)
	}
}
