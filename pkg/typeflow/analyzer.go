// Package typeflow computes the types of operand-stack slots and local
// variables at every point of a JVM method body by abstract interpretation.
//
// An Analyzer is built for one method. ComputeTypes runs a worklist fixpoint
// over the control-flow graph, joining states where paths meet; an optional
// Visitor observes each simulated instruction and can reject it. Hierarchy
// questions are answered by a hierarchy.Provider, and missing facts only make
// the result less precise.
package typeflow

import (
	"fmt"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

// Method describes a decoded method body.
type Method struct {
	// Name is the method name; "<init>" marks a constructor.
	Name      string
	Static    bool
	ClassType string
	Signature string

	Instructions []instr.Instruction
	// Handlers lists the exception handlers covering each instruction. It is
	// either nil or exactly as long as Instructions.
	Handlers [][]instr.ExceptionHandler

	// InstructionToBytecode maps instruction indices to bytecode offsets. When
	// nil, the instruction index is used as the offset.
	InstructionToBytecode []int
	// VarTypes holds declared local variable descriptors indexed by bytecode
	// offset and then by local. Empty strings mean "not declared".
	VarTypes [][]string
}

// IsConstructor reports whether m is an instance initializer.
func (m *Method) IsConstructor() bool {
	return m.Name == "<init>"
}

// Analyzer types one method body. It is not safe for concurrent use.
type Analyzer struct {
	name        string
	constructor bool
	static      bool
	classType   string
	signature   string

	instructions []instr.Instruction
	handlers     [][]instr.ExceptionHandler
	instToBC     []int
	varTypes     [][]string

	hierarchy hierarchy.Provider

	maxStack  int
	maxLocals int
	stacks    [][]jvmtype.Type
	locals    [][]jvmtype.Type

	stackSizes  []int
	blockStarts *intsets.Sparse
	backEdges   [][]int
}

// New validates m and returns an analyzer for it. h may be nil, in which case
// every undecided hierarchy question is answered optimistically.
func New(m Method, h hierarchy.Provider) (*Analyzer, error) {
	n := len(m.Instructions)
	if n == 0 {
		return nil, fmt.Errorf("method %s has no instructions", m.Name)
	}
	if m.Handlers != nil && len(m.Handlers) != n {
		return nil, fmt.Errorf("handler table has %d entries for %d instructions", len(m.Handlers), n)
	}
	if m.InstructionToBytecode != nil && len(m.InstructionToBytecode) < n {
		return nil, fmt.Errorf("bytecode offset table has %d entries for %d instructions", len(m.InstructionToBytecode), n)
	}
	if m.ClassType == "" && (!m.Static || m.IsConstructor()) {
		return nil, fmt.Errorf("method %s needs a declaring class", m.Name)
	}
	if _, err := jvmtype.ParamTypesInLocals(jvmtype.Undefined, m.Signature); err != nil {
		return nil, fmt.Errorf("method %s: %w", m.Name, err)
	}
	if _, err := jvmtype.ReturnType(m.Signature); err != nil {
		return nil, fmt.Errorf("method %s: %w", m.Name, err)
	}

	handlers := m.Handlers
	if handlers == nil {
		handlers = make([][]instr.ExceptionHandler, n)
	}
	for i, in := range m.Instructions {
		if in == nil {
			return nil, fmt.Errorf("nil instruction at index %d", i)
		}
		if err := validateInstruction(in, n); err != nil {
			return nil, fmt.Errorf("instruction %d (%s): %w", i, in, err)
		}
		for _, hd := range handlers[i] {
			if hd.Handler < 0 || hd.Handler >= n {
				return nil, fmt.Errorf("instruction %d: handler target %d out of range", i, hd.Handler)
			}
		}
	}

	return &Analyzer{
		name:         m.Name,
		constructor:  m.IsConstructor(),
		static:       m.Static,
		classType:    m.ClassType,
		signature:    m.Signature,
		instructions: m.Instructions,
		handlers:     handlers,
		instToBC:     m.InstructionToBytecode,
		varTypes:     m.VarTypes,
		hierarchy:    h,
	}, nil
}

func validateInstruction(in instr.Instruction, n int) error {
	for _, t := range in.BranchTargets() {
		if t < 0 || t >= n {
			return fmt.Errorf("branch target %d out of range", t)
		}
	}
	switch v := in.(type) {
	case instr.Invoke:
		if _, err := jvmtype.ParamDescriptors(v.Signature); err != nil {
			return err
		}
		if _, err := jvmtype.ReturnType(v.Signature); err != nil {
			return err
		}
	case instr.LocalLoad:
		if v.Var < 0 {
			return fmt.Errorf("negative local index %d", v.Var)
		}
	case instr.LocalStore:
		if v.Var < 0 {
			return fmt.Errorf("negative local index %d", v.Var)
		}
	case instr.Pop:
		if v.Size < 1 || v.Size > 2 {
			return fmt.Errorf("invalid pop size %d", v.Size)
		}
	case instr.Dup:
		if v.Size < 1 || v.Size > 2 || v.Delta < 0 || v.Delta > 2 {
			return fmt.Errorf("invalid dup shape %d/%d", v.Size, v.Delta)
		}
	}
	return nil
}

// Name returns the analyzed method's name.
func (a *Analyzer) Name() string { return a.name }

// ClassType returns the declaring class descriptor.
func (a *Analyzer) ClassType() string { return a.classType }

// Signature returns the method descriptor.
func (a *Analyzer) Signature() string { return a.signature }

// IsConstructor reports whether the method is an instance initializer.
func (a *Analyzer) IsConstructor() bool { return a.constructor }

// IsStatic reports whether the method is static.
func (a *Analyzer) IsStatic() bool { return a.static }

// Instructions returns the method body.
func (a *Analyzer) Instructions() []instr.Instruction { return a.instructions }

// Handlers returns the per-instruction exception handler table.
func (a *Analyzer) Handlers() [][]instr.ExceptionHandler { return a.handlers }

// Hierarchy returns the provider used for subtype questions.
func (a *Analyzer) Hierarchy() hierarchy.Provider { return a.hierarchy }

// MaxStack returns the deepest stack seen by the last analysis.
func (a *Analyzer) MaxStack() int { return a.maxStack }

// MaxLocals returns the width of every locals table.
func (a *Analyzer) MaxLocals() int { return a.maxLocals }

// StackTypes returns, per instruction, the stack types on entry (top at
// index 0), or nil where the last analysis recorded no state.
func (a *Analyzer) StackTypes() [][]jvmtype.Type { return a.stacks }

// LocalTypes returns, per instruction, the local variable types on entry, or
// nil where the last analysis recorded no state.
func (a *Analyzer) LocalTypes() [][]jvmtype.Type { return a.locals }

// receiverType is the type a constructor's receiver has before <init> runs.
func (a *Analyzer) receiverType() jvmtype.Type {
	if a.constructor {
		return jvmtype.This
	}
	return jvmtype.Concrete(a.classType)
}

func (a *Analyzer) initTypeInfo() error {
	n := len(a.instructions)
	a.stacks = make([][]jvmtype.Type, n)
	a.locals = make([][]jvmtype.Type, n)

	receiver := jvmtype.Undefined
	if !a.static {
		receiver = a.receiverType()
	}
	params, err := jvmtype.ParamTypesInLocals(receiver, a.signature)
	if err != nil {
		return fmt.Errorf("method %s: %w", a.name, err)
	}
	if a.constructor {
		self := jvmtype.Concrete(a.classType)
		for i, p := range params {
			if p == self {
				params[i] = jvmtype.This
			}
		}
	}

	sizes, err := a.StackSizes()
	if err != nil {
		return err
	}
	a.maxStack = 0
	for _, s := range sizes {
		a.maxStack = max(a.maxStack, s)
	}
	a.maxLocals = a.computeMaxLocals(len(params))

	a.stacks[0] = []jvmtype.Type{}
	a.locals[0] = make([]jvmtype.Type, a.maxLocals)
	copy(a.locals[0], params)
	return nil
}

func (a *Analyzer) computeMaxLocals(params int) int {
	m := params
	for _, in := range a.instructions {
		switch v := in.(type) {
		case instr.LocalLoad:
			m = max(m, v.Var+jvmtype.WordSize(v.Type))
		case instr.LocalStore:
			m = max(m, v.Var+jvmtype.WordSize(v.Type))
		}
	}
	return m
}

// bytecodeOffset maps instruction i to its bytecode offset, or -1 when i is
// past the end of the offset table.
func (a *Analyzer) bytecodeOffset(i int) int {
	if a.instToBC == nil {
		return i
	}
	if i >= len(a.instToBC) {
		return -1
	}
	return a.instToBC[i]
}

// sizeAfter returns the stack depth after in executes on a stack of depth size.
func sizeAfter(in instr.Instruction, size int) int {
	switch v := in.(type) {
	case instr.Dup:
		return size + v.Size
	case instr.Swap:
		return size
	}
	size -= in.PoppedCount()
	if in.PushedWordSize() > 0 {
		size++
	}
	return size
}
