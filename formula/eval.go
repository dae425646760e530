// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package formula

import (
	"github.com/gomlx/exceptions"
)

// Program is a formula lowered for numeric evaluation: the nodes reachable from the root, in
// evaluation order, with the position of each node value in a scratch buffer.
//
// A Program is immutable and can be shared by any number of Evaluators.
type Program struct {
	root  *Formula
	nodes []*Formula

	// offsets[ii] is the position of the value of nodes[ii] in the scratch buffer.
	offsets []int

	// operands[ii] lists the positions (in nodes) of the operands of nodes[ii].
	operands [][]int

	// vars lists the variables used, sorted by index, and varPositions their positions in nodes.
	vars         []*Formula
	varPositions map[int]int

	scratchSize int
}

// Compile lowers the formula root into a Program.
func Compile(root *Formula) *Program {
	root.AssertValid()
	b := root.builder

	// Mark nodes reachable from root: operands always have smaller ids.
	reachable := make([]bool, root.id+1)
	reachable[root.id] = true
	for id := root.id; id >= 0; id-- {
		if !reachable[id] {
			continue
		}
		for _, operand := range b.nodes[id].operands {
			reachable[operand.id] = true
		}
	}

	p := &Program{
		root:         root,
		varPositions: make(map[int]int),
	}
	positions := make(map[NodeId]int)
	for id, isReachable := range reachable {
		if !isReachable {
			continue
		}
		node := b.nodes[id]
		pos := len(p.nodes)
		positions[node.id] = pos
		p.nodes = append(p.nodes, node)
		p.offsets = append(p.offsets, p.scratchSize)
		p.scratchSize += node.Dim()
		operandPositions := make([]int, len(node.operands))
		for ii, operand := range node.operands {
			operandPositions[ii] = positions[operand.id]
		}
		p.operands = append(p.operands, operandPositions)
		if node.IsVariable() {
			p.varPositions[node.VarIndex()] = pos
		}
	}
	p.vars = root.Variables()
	return p
}

// Root returns the formula the program evaluates.
func (p *Program) Root() *Formula { return p.root }

// NumNodes returns the number of nodes evaluated by the program, including leaves.
func (p *Program) NumNodes() int { return len(p.nodes) }

// ScratchSize is the number of scalars of scratch space used by one Evaluator.
func (p *Program) ScratchSize() int { return p.scratchSize }

// Variables returns the variables used by the program, sorted by index.
func (p *Program) Variables() []*Formula { return p.vars }

// Evaluator evaluates a Program for one precision. It holds mutable scratch space,
// so each goroutine must use its own Evaluator.
type Evaluator[T Float] struct {
	program *Program
	scratch []T

	// values[ii] is the view of the scratch holding the value of program.nodes[ii].
	values [][]T

	// inputs[ii] are the views of the operands of program.nodes[ii].
	inputs [][][]T

	// dynamic lists the positions of the nodes that depend on variables, in evaluation order.
	dynamic []int
}

// NewEvaluator creates an Evaluator for the program. Nodes that don't depend on any variable
// are evaluated once, here.
func NewEvaluator[T Float](p *Program) *Evaluator[T] {
	e := &Evaluator[T]{
		program: p,
		scratch: make([]T, p.scratchSize),
		values:  make([][]T, len(p.nodes)),
		inputs:  make([][][]T, len(p.nodes)),
	}
	for ii, node := range p.nodes {
		e.values[ii] = e.scratch[p.offsets[ii] : p.offsets[ii]+node.Dim()]
	}
	for ii, node := range p.nodes {
		operandValues := make([][]T, len(p.operands[ii]))
		for jj, pos := range p.operands[ii] {
			operandValues[jj] = e.values[pos]
		}
		e.inputs[ii] = operandValues
		switch {
		case node.IsVariable():
			// Loaded by SetVar.
		case node.IsConstant():
			evalOp(node.op, e.values[ii], operandValues)
		default:
			e.dynamic = append(e.dynamic, ii)
		}
	}
	return e
}

// Program returns the program evaluated.
func (e *Evaluator[T]) Program() *Program { return e.program }

// HasVar returns whether the variable with the given index is used by the program.
func (e *Evaluator[T]) HasVar(index int) bool {
	_, found := e.program.varPositions[index]
	return found
}

// SetVar loads the value of the variable with the given index. The value is copied.
func (e *Evaluator[T]) SetVar(index int, value []T) {
	pos, found := e.program.varPositions[index]
	if !found {
		exceptions.Panicf("variable #%d is not used by formula %s", index, e.program.root)
	}
	dst := e.values[pos]
	if len(value) != len(dst) {
		exceptions.Panicf("variable #%d has dimension %d, got a value with %d elements", index, len(dst), len(value))
	}
	copy(dst, value)
}

// Eval evaluates the program with the variables last set, and returns the value of the root.
//
// The returned slice is owned by the Evaluator and is overwritten by the next call.
func (e *Evaluator[T]) Eval() []T {
	for _, ii := range e.dynamic {
		evalOp(e.program.nodes[ii].op, e.values[ii], e.inputs[ii])
	}
	return e.values[len(e.values)-1]
}

// Eval evaluates f once, with the values of the variables given by their index.
// It is a convenience for tests and tools: it compiles f for every call.
func Eval[T Float](f *Formula, values map[int][]T) []T {
	e := NewEvaluator[T](Compile(f))
	for _, v := range e.program.vars {
		value, found := values[v.VarIndex()]
		if !found {
			exceptions.Panicf("Eval(%s): missing value for variable %s", f, v)
		}
		e.SetVar(v.VarIndex(), value)
	}
	return append([]T(nil), e.Eval()...)
}
