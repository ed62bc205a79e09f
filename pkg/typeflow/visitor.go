package typeflow

import (
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

// Visitor is called for every instruction the analysis simulates, before the
// instruction's effect is applied. Returning an error stops the analysis; a
// *Failure is passed through to the caller, any other error is wrapped.
type Visitor interface {
	Visit(f *Frame) error
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(f *Frame) error

// Visit implements Visitor.
func (fn VisitorFunc) Visit(f *Frame) error { return fn(f) }

// Frame is the state presented to a Visitor. Its slices alias the analyzer's
// working buffers and are only valid during the call; visitors must not
// modify them.
type Frame struct {
	Index       int
	Instruction instr.Instruction
	// Stack holds the operand stack, top at index 0.
	Stack  []jvmtype.Type
	Locals []jvmtype.Type

	path *pathNode
}

// Path returns the diagnostic path leading to this frame, or nil when the
// analysis was run without paths.
func (f *Frame) Path() []PathElement {
	return f.path.elements()
}

// Fail returns a Failure at the frame's instruction carrying its path.
func (f *Frame) Fail(reason string) *Failure {
	return &Failure{Offset: f.Index, Reason: reason, Path: f.Path()}
}
