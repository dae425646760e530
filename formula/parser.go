// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"maps"
	"slices"
	"strconv"
	"strings"
	"text/scanner"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Aliases maps names used in formula strings to formulas, usually variables.
type Aliases map[string]*Formula

// ParseAliases parses variable declarations of the form "name=Vi(index,dim)" (also Vj, Pm,
// and the older Vx and Vy for Vi and Vj).
func ParseAliases(b *Builder, declarations ...string) (Aliases, error) {
	aliases := make(Aliases, len(declarations))
	for _, declaration := range declarations {
		name, definition, found := strings.Cut(declaration, "=")
		if !found {
			return nil, errors.Errorf("invalid alias %q: expected the form \"name=Vi(index,dim)\"", declaration)
		}
		name = strings.TrimSpace(name)
		if !isIdentifier(name) {
			return nil, errors.Errorf("invalid alias %q: %q is not a valid name", declaration, name)
		}
		if _, duplicate := aliases[name]; duplicate {
			return nil, errors.Errorf("alias %q defined more than once", name)
		}
		v, err := Parse(b, definition, nil)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid alias %q", declaration)
		}
		if !v.IsVariable() {
			return nil, errors.Errorf("invalid alias %q: %s is not a variable declaration", declaration, v)
		}
		aliases[name] = v
	}
	return aliases, nil
}

// Parse parses a formula in the usual infix syntax, e.g. "Square(p-a)*Exp(x+y)".
//
// Supported are the operators + - * / (with broadcasting of scalars), unary minus,
// parentheses, "(a|b)" for the scalar product, numeric constants, variables declared inline
// as "Vi(index,dim)", "Vj(index,dim)" or "Pm(index,dim)", names defined in aliases, and the
// functions Exp, Log, Square, Sqrt, Sin, Cos, Abs, Sign, Neg, Sum, SumT, Pow, Select,
// SelectT, Extract, ExtractT, Elem, Concat, Scalprod, SqNorm2, SqDist, GaussKernel, IntCst,
// Zero and Const.
//
// Syntax errors and dimension mismatches are returned as errors.
func Parse(b *Builder, text string, aliases Aliases) (f *Formula, err error) {
	b.AssertValid()
	err = exceptions.TryCatch[error](func() {
		p := newParser(b, text, aliases)
		f = p.parseExpr()
		if p.tok != scanner.EOF {
			p.errorf("unexpected %q after the end of the formula", p.s.TokenText())
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse formula %q", text)
	}
	return f, nil
}

// MustParse is like Parse, but panics on error.
func MustParse(b *Builder, text string, aliases Aliases) *Formula {
	f, err := Parse(b, text, aliases)
	if err != nil {
		panic(err)
	}
	return f
}

// constFunction takes a variable number of numbers, so it is parsed apart from calls.
const constFunction = "Const"

// ParserFunctions returns the sorted names of the functions accepted in formula strings.
func ParserFunctions() []string {
	names := append(slices.Collect(maps.Keys(calls)), constFunction)
	slices.Sort(names)
	return names
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for ii, r := range name {
		isLetter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if !isLetter && (ii == 0 || r < '0' || r > '9') {
			return false
		}
	}
	return true
}

type parser struct {
	b       *Builder
	aliases Aliases
	text    string
	s       scanner.Scanner
	tok     rune
}

func newParser(b *Builder, text string, aliases Aliases) *parser {
	p := &parser{b: b, aliases: aliases, text: text}
	p.s.Init(strings.NewReader(text))
	p.s.Mode = scanner.ScanIdents | scanner.ScanInts | scanner.ScanFloats
	p.s.Error = func(s *scanner.Scanner, msg string) {
		p.errorf("%s", msg)
	}
	p.next()
	return p
}

func (p *parser) next() { p.tok = p.s.Scan() }

func (p *parser) errorf(format string, args ...any) {
	panic(errors.Errorf("column %d: "+format, append([]any{p.s.Position.Column}, args...)...))
}

func (p *parser) expect(tok rune) {
	if p.tok != tok {
		p.errorf("expected %q, got %q", string(tok), p.s.TokenText())
	}
	p.next()
}

// expr := term { ("+" | "-") term }
func (p *parser) parseExpr() *Formula {
	f := p.parseTerm()
	for p.tok == '+' || p.tok == '-' {
		tok := p.tok
		p.next()
		rhs := p.parseTerm()
		if tok == '+' {
			f = Add(f, rhs)
		} else {
			f = Sub(f, rhs)
		}
	}
	return f
}

// term := unary { ("*" | "/") unary }
func (p *parser) parseTerm() *Formula {
	f := p.parseUnary()
	for p.tok == '*' || p.tok == '/' {
		tok := p.tok
		p.next()
		rhs := p.parseUnary()
		if tok == '*' {
			f = Mul(f, rhs)
		} else {
			f = Div(f, rhs)
		}
	}
	return f
}

// unary := "-" unary | primary
func (p *parser) parseUnary() *Formula {
	if p.tok == '-' {
		p.next()
		return Neg(p.parseUnary())
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() *Formula {
	switch p.tok {
	case scanner.Int, scanner.Float:
		value := p.parseNumber()
		return Scalar(p.b, value)

	case '(':
		p.next()
		f := p.parseExpr()
		if p.tok == '|' {
			p.next()
			f = Scalprod(f, p.parseExpr())
		}
		p.expect(')')
		return f

	case scanner.Ident:
		name := p.s.TokenText()
		p.next()
		if p.tok == '(' {
			return p.parseCall(name)
		}
		if f, found := p.aliases[name]; found {
			if f.builder != p.b {
				p.errorf("alias %q belongs to a different builder", name)
			}
			return f
		}
		p.errorf("unknown name %q", name)

	case scanner.EOF:
		p.errorf("unexpected end of formula")
	}
	p.errorf("unexpected %q", p.s.TokenText())
	return nil
}

func (p *parser) parseNumber() float64 {
	value, err := strconv.ParseFloat(p.s.TokenText(), 64)
	if err != nil {
		p.errorf("invalid number %q", p.s.TokenText())
	}
	p.next()
	return value
}

// parseInt parses an optionally negative integer literal.
func (p *parser) parseInt() int {
	sign := 1
	if p.tok == '-' {
		sign = -1
		p.next()
	}
	if p.tok != scanner.Int {
		p.errorf("expected an integer, got %q", p.s.TokenText())
	}
	value, err := strconv.Atoi(p.s.TokenText())
	if err != nil {
		p.errorf("invalid integer %q", p.s.TokenText())
	}
	p.next()
	return sign * value
}

// callSignature describes the arguments of a function: each 'f' is a formula and each 'i' an integer.
type callSignature struct {
	args  string
	build func(b *Builder, fs []*Formula, ints []int) *Formula
}

var calls = map[string]callSignature{
	"Vi":     {"ii", func(b *Builder, _ []*Formula, n []int) *Formula { return Vi(b, n[0], n[1]) }},
	"Vx":     {"ii", func(b *Builder, _ []*Formula, n []int) *Formula { return Vi(b, n[0], n[1]) }},
	"Vj":     {"ii", func(b *Builder, _ []*Formula, n []int) *Formula { return Vj(b, n[0], n[1]) }},
	"Vy":     {"ii", func(b *Builder, _ []*Formula, n []int) *Formula { return Vj(b, n[0], n[1]) }},
	"Pm":     {"ii", func(b *Builder, _ []*Formula, n []int) *Formula { return Pm(b, n[0], n[1]) }},
	"IntCst": {"i", func(b *Builder, _ []*Formula, n []int) *Formula { return IntCst(b, n[0]) }},
	"Zero":   {"i", func(b *Builder, _ []*Formula, n []int) *Formula { return Zeros(b, n[0]) }},

	"Exp":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Exp(f[0]) }},
	"Log":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Log(f[0]) }},
	"Square":  {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Square(f[0]) }},
	"Sqrt":    {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Sqrt(f[0]) }},
	"Sin":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Sin(f[0]) }},
	"Cos":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Cos(f[0]) }},
	"Abs":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Abs(f[0]) }},
	"Sign":    {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Sign(f[0]) }},
	"Neg":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Neg(f[0]) }},
	"Sum":     {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return Sum(f[0]) }},
	"SqNorm2": {"f", func(_ *Builder, f []*Formula, _ []int) *Formula { return SqNorm2(f[0]) }},

	"Concat":   {"ff", func(_ *Builder, f []*Formula, _ []int) *Formula { return Concat(f[0], f[1]) }},
	"Scalprod": {"ff", func(_ *Builder, f []*Formula, _ []int) *Formula { return Scalprod(f[0], f[1]) }},
	"SqDist":   {"ff", func(_ *Builder, f []*Formula, _ []int) *Formula { return SqDist(f[0], f[1]) }},

	"SumT":     {"fi", func(_ *Builder, f []*Formula, n []int) *Formula { return SumT(f[0], n[0]) }},
	"Pow":      {"fi", func(_ *Builder, f []*Formula, n []int) *Formula { return Pow(f[0], n[0]) }},
	"Elem":     {"fi", func(_ *Builder, f []*Formula, n []int) *Formula { return Elem(f[0], n[0]) }},
	"Extract":  {"fii", func(_ *Builder, f []*Formula, n []int) *Formula { return Extract(f[0], n[0], n[1]) }},
	"ExtractT": {"fii", func(_ *Builder, f []*Formula, n []int) *Formula { return ExtractT(f[0], n[0], n[1]) }},
	"Select":   {"ffi", func(_ *Builder, f []*Formula, n []int) *Formula { return Select(f[0], f[1], n[0]) }},
	"SelectT":  {"ffi", func(_ *Builder, f []*Formula, n []int) *Formula { return SelectT(f[0], f[1], n[0]) }},

	"GaussKernel": {"ffff", func(_ *Builder, f []*Formula, _ []int) *Formula {
		return GaussKernel(f[0], f[1], f[2], f[3])
	}},
}

func (p *parser) parseCall(name string) *Formula {
	p.expect('(')
	if name == constFunction {
		var values []float64
		for {
			sign := 1.0
			if p.tok == '-' {
				sign = -1
				p.next()
			}
			if p.tok != scanner.Int && p.tok != scanner.Float {
				p.errorf("Const: expected a number, got %q", p.s.TokenText())
			}
			values = append(values, sign*p.parseNumber())
			if p.tok != ',' {
				break
			}
			p.next()
		}
		p.expect(')')
		return Const(p.b, values...)
	}

	call, found := calls[name]
	if !found {
		p.errorf("unknown function %q", name)
	}
	var fs []*Formula
	var ints []int
	for ii, kind := range call.args {
		if ii > 0 {
			p.expect(',')
		}
		if kind == 'f' {
			fs = append(fs, p.parseExpr())
		} else {
			ints = append(ints, p.parseInt())
		}
	}
	p.expect(')')
	return call.build(p.b, fs, ints)
}
