// Package instr defines the decoded instruction model consumed by the type-flow
// analyzer. Instructions are immutable values; operand counts are in stack
// elements, not JVM words, so a long or double counts once.
package instr

import (
	"github.com/715d/bcverify/pkg/jvmtype"
)

// Kind names the instruction categories.
type Kind uint8

const (
	KindConstant Kind = iota
	KindLocalLoad
	KindLocalStore
	KindArrayLoad
	KindArrayStore
	KindPop
	KindDup
	KindSwap
	KindBinaryOp
	KindUnaryOp
	KindShift
	KindConversion
	KindComparison
	KindConditionalBranch
	KindGoto
	KindSwitch
	KindReturn
	KindGet
	KindPut
	KindInvoke
	KindNew
	KindArrayLength
	KindThrow
	KindMonitor
	KindCheckCast
	KindInstanceOf
)

var kindNames = [...]string{
	KindConstant:          "constant",
	KindLocalLoad:         "load",
	KindLocalStore:        "store",
	KindArrayLoad:         "arrayload",
	KindArrayStore:        "arraystore",
	KindPop:               "pop",
	KindDup:               "dup",
	KindSwap:              "swap",
	KindBinaryOp:          "binaryop",
	KindUnaryOp:           "unaryop",
	KindShift:             "shift",
	KindConversion:        "conversion",
	KindComparison:        "comparison",
	KindConditionalBranch: "conditionalbranch",
	KindGoto:              "goto",
	KindSwitch:            "switch",
	KindReturn:            "return",
	KindGet:               "get",
	KindPut:               "put",
	KindInvoke:            "invoke",
	KindNew:               "new",
	KindArrayLength:       "arraylength",
	KindThrow:             "throw",
	KindMonitor:           "monitor",
	KindCheckCast:         "checkcast",
	KindInstanceOf:        "instanceof",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "invalid"
}

// Instruction is one decoded instruction.
type Instruction interface {
	Kind() Kind

	// PoppedCount is the number of stack elements the instruction consumes.
	PoppedCount() int

	// PushedWordSize is the JVM word size of the pushed value, 0 when nothing is pushed.
	PushedWordSize() int

	// PushedType returns the type of the pushed value given the stack before
	// the instruction executes (top at index 0), or jvmtype.Undefined when
	// nothing is pushed. stack may be nil.
	PushedType(stack []jvmtype.Type) jvmtype.Type

	// FallsThrough reports whether control can reach the next instruction.
	FallsThrough() bool

	// BranchTargets returns the instruction indices control may jump to.
	BranchTargets() []int

	String() string
}

// ExceptionHandler routes exceptions raised by an instruction to Handler.
// An empty CatchClass catches everything.
type ExceptionHandler struct {
	Handler    int
	CatchClass string
}

// CatchType returns the type pushed on entry to the handler.
func (h ExceptionHandler) CatchType() jvmtype.Type {
	if h.CatchClass == "" {
		return jvmtype.Throwable
	}
	return jvmtype.Concrete(h.CatchClass)
}

// base supplies the common defaults: a straight-line instruction that pushes nothing.
type base struct{}

func (base) PushedWordSize() int { return 0 }
func (base) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Undefined }
func (base) FallsThrough() bool { return true }
func (base) BranchTargets() []int { return nil }

// pushedWords returns the word size of a pushed value of descriptor desc.
func pushedWords(desc string) int {
	if desc == "" {
		return 0
	}
	return jvmtype.WordSize(desc)
}
