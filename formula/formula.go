// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package formula builds the symbolic per-pair formulas evaluated by kernel reductions.
//
// A formula describes the computation F(x_i, y_j, p) performed for each pair (i, j) of two point
// sets, before a reduction (sum, max, ...) over one of the two indices. Formulas are built
// from variables (the leaves) and operations, and every node knows its output dimension
// at construction time: operands with incompatible dimensions make the construction panic
// (see package github.com/gomlx/exceptions), never a later numeric run.
//
// The main elements in the package are:
//
//   - Builder: the arena that owns the nodes of a family of formulas. Nodes get increasing
//     ids, so creation order is a valid evaluation order, and identical expressions are
//     de-duplicated.
//
//   - Formula: an immutable node. Its operands are strictly older nodes, so formulas are
//     acyclic by construction and can be freely shared.
//
//   - Op: the contract every operation kind implements: output shape rule, numeric rule for
//     each supported precision, and a local reverse-mode differentiation rule (VJP).
//
//   - Differentiate: rewrites a formula into the formula of its gradient with respect to one
//     variable. It only builds formulas, it never evaluates them.
//
//   - Program and Evaluator: a formula lowered to a flat list of nodes and a scratch buffer,
//     evaluated numerically for float32 or float64.
package formula

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
)

// NodeId is the unique id of a Formula within its Builder.
type NodeId int

// Float is the set of precisions formulas can be evaluated with.
type Float interface {
	float32 | float64
}

// Shape is the build-time descriptor of the value of a formula: Dim scalars, organized as
// Dim/BlockDim blocks of BlockDim scalars each.
//
// Most formulas are a single block (BlockDim == Dim).
type Shape struct {
	Dim, BlockDim int
}

// ShapeOf returns the single block shape of the given dimension.
func ShapeOf(dim int) Shape {
	return Shape{Dim: dim, BlockDim: dim}
}

// NumBlocks returns Dim/BlockDim.
func (s Shape) NumBlocks() int {
	if s.BlockDim <= 0 {
		return 0
	}
	return s.Dim / s.BlockDim
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if s.BlockDim == s.Dim {
		return fmt.Sprintf("[%d]", s.Dim)
	}
	return fmt.Sprintf("[%dx%d]", s.NumBlocks(), s.BlockDim)
}

// Builder owns the nodes of a family of formulas.
//
// Formulas built from different builders cannot be mixed. A Builder is not safe for concurrent
// construction, but the formulas it built are immutable and can be shared by any number of
// goroutines.
type Builder struct {
	name      string
	nodes     []*Formula
	dedup     map[dedupKey][]*Formula
	variables map[int]*Formula
}

// NewBuilder creates an empty Builder. The name is only used for printing.
func NewBuilder(name string) *Builder {
	return &Builder{
		name:      name,
		dedup:     make(map[dedupKey][]*Formula),
		variables: make(map[int]*Formula),
	}
}

// Name of the builder.
func (b *Builder) Name() string { return b.name }

// NumNodes returns the number of nodes created so far.
func (b *Builder) NumNodes() int { return len(b.nodes) }

// NodeById returns the node with the given id.
func (b *Builder) NodeById(id NodeId) *Formula {
	if int(id) < 0 || int(id) >= len(b.nodes) {
		exceptions.Panicf("builder %q has no node with id %d", b.name, id)
	}
	return b.nodes[id]
}

// Variables returns the variables declared so far, sorted by index.
func (b *Builder) Variables() []*Formula {
	vars := make([]*Formula, 0, len(b.variables))
	for _, v := range b.variables {
		vars = append(vars, v)
	}
	slices.SortFunc(vars, func(a, b *Formula) int { return a.VarIndex() - b.VarIndex() })
	return vars
}

// VariableByIndex returns the variable declared with the given index, or nil.
func (b *Builder) VariableByIndex(index int) *Formula {
	return b.variables[index]
}

// AssertValid panics if the builder is nil.
func (b *Builder) AssertValid() {
	if b == nil {
		exceptions.Panicf("formula.Builder is nil")
	}
}

// String implements fmt.Stringer.
func (b *Builder) String() string {
	return fmt.Sprintf("Builder %q (%d nodes, %d variables)", b.name, len(b.nodes), len(b.variables))
}

// Formula is one immutable node of a formula tree.
type Formula struct {
	builder  *Builder
	id       NodeId
	op       Op
	operands []*Formula
	shape    Shape

	// deps holds the sorted indices of the variables the formula depends on.
	deps []int
}

// AssertValid panics if the formula is nil or was not created by a Builder.
func (f *Formula) AssertValid() {
	if f == nil {
		exceptions.Panicf("formula is nil")
	}
	if f.builder == nil || f.op == nil {
		exceptions.Panicf("formula was not created by a formula.Builder")
	}
}

// Builder that owns the formula.
func (f *Formula) Builder() *Builder { return f.builder }

// Id of the formula within its builder.
func (f *Formula) Id() NodeId { return f.id }

// Op is the operation computed by this node.
func (f *Formula) Op() Op { return f.op }

// Operands of the node. The returned slice must not be modified.
func (f *Formula) Operands() []*Formula { return f.operands }

// Shape of the formula value.
func (f *Formula) Shape() Shape { return f.shape }

// Dim is the number of scalars of the formula value.
func (f *Formula) Dim() int { return f.shape.Dim }

// IsZero returns whether the formula is the constant zero vector.
func (f *Formula) IsZero() bool {
	_, ok := f.op.(*zeroOp)
	return ok
}

// IsVariable returns whether the formula is a variable leaf.
func (f *Formula) IsVariable() bool {
	_, ok := f.op.(*varOp)
	return ok
}

// IsConstant returns whether the formula depends on no variable.
func (f *Formula) IsConstant() bool { return len(f.deps) == 0 }

// DependsOn returns whether the variable v appears in the formula.
func (f *Formula) DependsOn(v *Formula) bool {
	if !v.IsVariable() {
		exceptions.Panicf("DependsOn(%s): argument is not a variable", v)
	}
	_, found := slices.BinarySearch(f.deps, v.VarIndex())
	return found
}

// VariableIndices returns the sorted indices of the variables the formula depends on.
func (f *Formula) VariableIndices() []int {
	return slices.Clone(f.deps)
}

// Variables returns the variable leaves the formula depends on, sorted by index.
func (f *Formula) Variables() []*Formula {
	vars := make([]*Formula, len(f.deps))
	for ii, index := range f.deps {
		vars[ii] = f.builder.variables[index]
	}
	return vars
}

// String returns the formula in the same syntax accepted by Parse.
//
// Shared sub-formulas are printed once per use, so the result can be much longer than the
// number of nodes. See ShortString for a bounded version.
func (f *Formula) String() string {
	if f == nil {
		return "<nil>"
	}
	return f.format(make(map[NodeId]string), 0)
}

// ShortString returns String truncated to at most maxLen bytes, ending with "..." if it was cut.
// Its cost is bounded by the number of nodes times maxLen.
func (f *Formula) ShortString(maxLen int) string {
	if f == nil {
		return "<nil>"
	}
	if maxLen <= 0 {
		return ""
	}
	return f.format(make(map[NodeId]string), maxLen)
}

// format prints the formula, memoizing the string of each node. If maxLen > 0 every string is
// truncated to maxLen.
func (f *Formula) format(memo map[NodeId]string, maxLen int) string {
	if str, found := memo[f.id]; found {
		return str
	}
	operands := make([]string, len(f.operands))
	for ii, operand := range f.operands {
		operands[ii] = operand.format(memo, maxLen)
	}
	var str string
	if fmtOp, ok := f.op.(formatter); ok {
		str = fmtOp.Format(operands)
	} else if len(operands) == 0 {
		str = f.op.String()
	} else {
		str = fmt.Sprintf("%s(%s)", f.op.String(), strings.Join(operands, ","))
	}
	if maxLen > 0 && len(str) > maxLen {
		const ellipsis = "..."
		str = str[:max(maxLen-len(ellipsis), 0)] + ellipsis[:min(len(ellipsis), maxLen)]
	}
	memo[f.id] = str
	return str
}

// formatter is implemented by ops that print themselves differently from "Name(operands...)".
type formatter interface {
	Format(operands []string) string
}

// dedupKey indexes candidate duplicates: same op and same first operand.
type dedupKey struct {
	op           string
	numOperands  int
	firstOperand *Formula
}

// NewNode creates (or returns an identical, previously created) node for op applied to
// the operands.
//
// This is how new operation kinds are added: implement Op and call NewNode from a constructor
// function. The operands must all belong to b. It panics if op.OutputShape rejects the operands.
func (b *Builder) NewNode(op Op, operands ...*Formula) *Formula {
	b.AssertValid()
	for ii, operand := range operands {
		operand.AssertValid()
		if operand.builder != b {
			exceptions.Panicf("%s: operand #%d belongs to builder %q, not %q", op, ii, operand.builder.name, b.name)
		}
	}
	shape := op.OutputShape(operands)
	if shape.BlockDim == 0 {
		shape.BlockDim = shape.Dim
	}
	if shape.Dim <= 0 || shape.BlockDim <= 0 || shape.Dim%shape.BlockDim != 0 {
		exceptions.Panicf("%s: invalid output shape %+v", op, shape)
	}

	key := dedupKey{op: op.String(), numOperands: len(operands)}
	if len(operands) > 0 {
		key.firstOperand = operands[0]
	}
	for _, candidate := range b.dedup[key] {
		if slices.Equal(candidate.operands, operands) {
			return candidate
		}
	}

	node := &Formula{
		builder:  b,
		id:       NodeId(len(b.nodes)),
		op:       op,
		operands: slices.Clone(operands),
		shape:    shape,
	}
	if v, ok := op.(*varOp); ok {
		node.deps = []int{v.index}
	} else {
		for _, operand := range operands {
			node.deps = mergeSorted(node.deps, operand.deps)
		}
	}
	b.nodes = append(b.nodes, node)
	b.dedup[key] = append(b.dedup[key], node)
	return node
}

// newNode is NewNode with the builder taken from the operands.
func newNode(op Op, operands ...*Formula) *Formula {
	if len(operands) == 0 {
		exceptions.Panicf("%s: no operands given", op)
	}
	operands[0].AssertValid()
	return operands[0].builder.NewNode(op, operands...)
}

// mergeSorted returns the sorted union of two sorted slices of ints.
func mergeSorted(a, b []int) []int {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return slices.Clone(b)
	}
	merged := make([]int, 0, len(a)+len(b))
	var ia, ib int
	for ia < len(a) && ib < len(b) {
		switch {
		case a[ia] < b[ib]:
			merged = append(merged, a[ia])
			ia++
		case a[ia] > b[ib]:
			merged = append(merged, b[ib])
			ib++
		default:
			merged = append(merged, a[ia])
			ia++
			ib++
		}
	}
	merged = append(merged, a[ia:]...)
	return append(merged, b[ib:]...)
}
