package instr

import (
	"fmt"
	"strings"

	"github.com/715d/bcverify/pkg/jvmtype"
)

// Constant pushes a constant. Type is the constant's descriptor; the null
// constant uses "L;".
type Constant struct {
	base
	Type  string
	Value any
}

func (Constant) Kind() Kind { return KindConstant }
func (Constant) PoppedCount() int { return 0 }
func (c Constant) PushedWordSize() int { return pushedWords(c.Type) }
func (c Constant) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(c.Type) }
func (c Constant) String() string {
	if c.Type == "L;" {
		return "const null"
	}
	return fmt.Sprintf("const %s %v", c.Type, c.Value)
}

// LocalLoad pushes local variable Var. The analyzer replaces the pushed type
// with the type recorded for the local.
type LocalLoad struct {
	base
	Type string
	Var  int
}

func (LocalLoad) Kind() Kind { return KindLocalLoad }
func (LocalLoad) PoppedCount() int { return 0 }
func (l LocalLoad) PushedWordSize() int { return pushedWords(l.Type) }
func (l LocalLoad) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(l.Type) }
func (l LocalLoad) String() string { return fmt.Sprintf("load %s %d", l.Type, l.Var) }

// LocalStore pops the top of stack into local variable Var.
type LocalStore struct {
	base
	Type string
	Var  int
}

func (LocalStore) Kind() Kind { return KindLocalStore }
func (LocalStore) PoppedCount() int { return 1 }
func (s LocalStore) String() string { return fmt.Sprintf("store %s %d", s.Type, s.Var) }

// ArrayLoad pops an index and an array and pushes the element. Type is the
// element descriptor; reference loads use "Ljava/lang/Object;" and take the
// precise element type from the array operand.
type ArrayLoad struct {
	base
	Type string
}

func (ArrayLoad) Kind() Kind { return KindArrayLoad }
func (ArrayLoad) PoppedCount() int { return 2 }
func (a ArrayLoad) PushedWordSize() int { return pushedWords(a.Type) }
func (a ArrayLoad) PushedType(stack []jvmtype.Type) jvmtype.Type {
	if a.Type != jvmtype.DescObject || len(stack) < 2 {
		return jvmtype.Concrete(a.Type)
	}
	arr := stack[1]
	if elem, ok := arr.Element(); ok {
		return elem
	}
	if arr.Kind() == jvmtype.KindNull {
		return jvmtype.Null
	}
	return jvmtype.Concrete(a.Type)
}
func (a ArrayLoad) String() string { return "arrayload " + a.Type }

// ArrayStore pops a value, an index and an array.
type ArrayStore struct {
	base
	Type string
}

func (ArrayStore) Kind() Kind { return KindArrayStore }
func (ArrayStore) PoppedCount() int { return 3 }
func (a ArrayStore) String() string { return "arraystore " + a.Type }

// Pop discards Size elements.
type Pop struct {
	base
	Size int
}

func (Pop) Kind() Kind { return KindPop }
func (p Pop) PoppedCount() int { return p.Size }
func (p Pop) String() string { return fmt.Sprintf("pop %d", p.Size) }

// Dup copies the top Size elements and inserts the copies Delta elements
// below them.
type Dup struct {
	base
	Size  int
	Delta int
}

func (Dup) Kind() Kind { return KindDup }
func (d Dup) PoppedCount() int { return d.Size + d.Delta }
func (d Dup) String() string { return fmt.Sprintf("dup %d %d", d.Size, d.Delta) }

// Swap exchanges the top two elements.
type Swap struct {
	base
}

func (Swap) Kind() Kind { return KindSwap }
func (Swap) PoppedCount() int { return 2 }
func (Swap) String() string { return "swap" }

// ArithOp is the operator of a BinaryOp, UnaryOp or Shift.
type ArithOp uint8

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpAnd
	OpOr
	OpXor
	OpNeg
	OpShl
	OpShr
	OpUshr
)

var arithNames = [...]string{"add", "sub", "mul", "div", "rem", "and", "or", "xor", "neg", "shl", "shr", "ushr"}

func (o ArithOp) String() string {
	if int(o) < len(arithNames) {
		return arithNames[o]
	}
	return "invalid"
}

// BinaryOp pops two operands of Type and pushes the result.
type BinaryOp struct {
	base
	Type string
	Op   ArithOp
}

func (BinaryOp) Kind() Kind { return KindBinaryOp }
func (BinaryOp) PoppedCount() int { return 2 }
func (b BinaryOp) PushedWordSize() int { return pushedWords(b.Type) }
func (b BinaryOp) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(b.Type) }
func (b BinaryOp) String() string { return fmt.Sprintf("%s %s", b.Op, b.Type) }

// UnaryOp pops one operand of Type and pushes the result.
type UnaryOp struct {
	base
	Type string
}

func (UnaryOp) Kind() Kind { return KindUnaryOp }
func (UnaryOp) PoppedCount() int { return 1 }
func (u UnaryOp) PushedWordSize() int { return pushedWords(u.Type) }
func (u UnaryOp) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(u.Type) }
func (u UnaryOp) String() string { return "neg " + u.Type }

// Shift pops an int shift distance and a value of Type.
type Shift struct {
	base
	Type string
	Op   ArithOp
}

func (Shift) Kind() Kind { return KindShift }
func (Shift) PoppedCount() int { return 2 }
func (s Shift) PushedWordSize() int { return pushedWords(s.Type) }
func (s Shift) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(s.Type) }
func (s Shift) String() string { return fmt.Sprintf("%s %s", s.Op, s.Type) }

// Conversion converts the top of stack from From to To.
type Conversion struct {
	base
	From string
	To   string
}

func (Conversion) Kind() Kind { return KindConversion }
func (Conversion) PoppedCount() int { return 1 }
func (c Conversion) PushedWordSize() int { return pushedWords(c.To) }
func (c Conversion) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(c.To) }
func (c Conversion) String() string { return fmt.Sprintf("convert %s %s", c.From, c.To) }

// CompareOp is the operator of a Comparison.
type CompareOp uint8

const (
	OpCmp CompareOp = iota
	OpCmpL
	OpCmpG
)

func (o CompareOp) String() string {
	switch o {
	case OpCmp:
		return "cmp"
	case OpCmpL:
		return "cmpl"
	case OpCmpG:
		return "cmpg"
	}
	return "invalid"
}

// Comparison pops two operands of Type and pushes an int.
type Comparison struct {
	base
	Type string
	Op   CompareOp
}

func (Comparison) Kind() Kind { return KindComparison }
func (Comparison) PoppedCount() int { return 2 }
func (Comparison) PushedWordSize() int { return 1 }
func (Comparison) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Int }
func (c Comparison) String() string { return fmt.Sprintf("%s %s", c.Op, c.Type) }

// Cond is the condition of a ConditionalBranch.
type Cond uint8

const (
	CondEq Cond = iota
	CondNe
	CondLt
	CondGe
	CondGt
	CondLe
)

var condNames = [...]string{"eq", "ne", "lt", "ge", "gt", "le"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return "invalid"
}

// ConditionalBranch pops two operands of Type, or one when ZeroOperand is
// set, and jumps to Target when Cond holds.
type ConditionalBranch struct {
	base
	Type        string
	Cond        Cond
	Target      int
	ZeroOperand bool
}

func (ConditionalBranch) Kind() Kind { return KindConditionalBranch }
func (c ConditionalBranch) PoppedCount() int {
	if c.ZeroOperand {
		return 1
	}
	return 2
}
func (c ConditionalBranch) BranchTargets() []int { return []int{c.Target} }
func (c ConditionalBranch) String() string {
	operand := "cmp"
	if c.ZeroOperand {
		operand = "zero"
	}
	return fmt.Sprintf("if %s %s %s -> %d", c.Type, operand, c.Cond, c.Target)
}

// Goto jumps unconditionally.
type Goto struct {
	base
	Target int
}

func (Goto) Kind() Kind { return KindGoto }
func (Goto) PoppedCount() int { return 0 }
func (Goto) FallsThrough() bool { return false }
func (g Goto) BranchTargets() []int { return []int{g.Target} }
func (g Goto) String() string { return fmt.Sprintf("goto %d", g.Target) }

// SwitchCase is one arm of a Switch.
type SwitchCase struct {
	Value  int32
	Target int
}

// Switch pops an int key and jumps to the matching case or to Default.
type Switch struct {
	base
	Default int
	Cases   []SwitchCase
}

func (Switch) Kind() Kind { return KindSwitch }
func (Switch) PoppedCount() int { return 1 }
func (Switch) FallsThrough() bool { return false }
func (s Switch) BranchTargets() []int {
	targets := make([]int, 0, len(s.Cases)+1)
	for _, c := range s.Cases {
		targets = append(targets, c.Target)
	}
	return append(targets, s.Default)
}
func (s Switch) String() string {
	var b strings.Builder
	b.WriteString("switch")
	for _, c := range s.Cases {
		fmt.Fprintf(&b, " %d:%d", c.Value, c.Target)
	}
	fmt.Fprintf(&b, " default:%d", s.Default)
	return b.String()
}

// Return leaves the method. Type is "V" for a void return.
type Return struct {
	base
	Type string
}

func (Return) Kind() Kind { return KindReturn }
func (r Return) PoppedCount() int {
	if r.Type == jvmtype.DescVoid {
		return 0
	}
	return 1
}
func (Return) FallsThrough() bool { return false }
func (r Return) String() string { return "return " + r.Type }

// Get reads a field. Instance reads pop the object reference.
type Get struct {
	base
	Class     string
	Name      string
	FieldType string
	Static    bool
}

func (Get) Kind() Kind { return KindGet }
func (g Get) PoppedCount() int {
	if g.Static {
		return 0
	}
	return 1
}
func (g Get) PushedWordSize() int { return pushedWords(g.FieldType) }
func (g Get) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(g.FieldType) }
func (g Get) String() string { return fieldString("get", g.Static, g.Class, g.Name, g.FieldType) }

// Put writes a field. It pops the value and, for instance fields, the object reference below it.
type Put struct {
	base
	Class     string
	Name      string
	FieldType string
	Static    bool
}

func (Put) Kind() Kind { return KindPut }
func (p Put) PoppedCount() int {
	if p.Static {
		return 1
	}
	return 2
}
func (p Put) String() string { return fieldString("put", p.Static, p.Class, p.Name, p.FieldType) }

func fieldString(op string, static bool, class, name, typ string) string {
	if static {
		op += "static"
	} else {
		op += "field"
	}
	return fmt.Sprintf("%s %s %s %s", op, class, name, typ)
}

// InvokeMode is the dispatch mode of an Invoke.
type InvokeMode uint8

const (
	InvokeVirtual InvokeMode = iota
	InvokeSpecial
	InvokeStatic
	InvokeInterface
	InvokeDynamic
)

var invokeNames = [...]string{"invokevirtual", "invokespecial", "invokestatic", "invokeinterface", "invokedynamic"}

func (m InvokeMode) String() string {
	if int(m) < len(invokeNames) {
		return invokeNames[m]
	}
	return "invalid"
}

// HasReceiver reports whether calls in mode m pop a receiver.
func (m InvokeMode) HasReceiver() bool {
	return m != InvokeStatic && m != InvokeDynamic
}

// Invoke calls a method. The receiver, when present, is deepest on the stack
// and the last parameter is on top.
//
// Signature must be a valid method descriptor; the analyzer validates it
// before use.
type Invoke struct {
	base
	Mode      InvokeMode
	Class     string
	Name      string
	Signature string
}

// ParamCount returns the number of popped elements including the receiver.
func (i Invoke) ParamCount() int {
	params, err := jvmtype.ParamDescriptors(i.Signature)
	if err != nil {
		return 0
	}
	if i.Mode.HasReceiver() {
		return len(params) + 1
	}
	return len(params)
}

// ReturnType returns the descriptor of the returned value, "V" for none.
func (i Invoke) ReturnType() string {
	ret, err := jvmtype.ReturnType(i.Signature)
	if err != nil {
		return jvmtype.DescVoid
	}
	return ret
}

// IsConstructorCall reports whether i runs an instance initializer.
func (i Invoke) IsConstructorCall() bool {
	return i.Mode == InvokeSpecial && i.Name == "<init>"
}

func (Invoke) Kind() Kind { return KindInvoke }
func (i Invoke) PoppedCount() int { return i.ParamCount() }
func (i Invoke) PushedWordSize() int { return jvmtype.WordSize(i.ReturnType()) }
func (i Invoke) PushedType([]jvmtype.Type) jvmtype.Type {
	ret := i.ReturnType()
	if ret == jvmtype.DescVoid {
		return jvmtype.Undefined
	}
	return jvmtype.Concrete(ret)
}
func (i Invoke) String() string {
	if i.Mode == InvokeDynamic {
		return fmt.Sprintf("%s %s %s", i.Mode, i.Name, i.Signature)
	}
	return fmt.Sprintf("%s %s %s %s", i.Mode, i.Class, i.Name, i.Signature)
}

// New allocates an object, or an array when ArrayBoundsCount is positive. Array
// allocation pops one int bound per dimension being sized.
type New struct {
	base
	Type             string
	ArrayBoundsCount int
}

func (New) Kind() Kind { return KindNew }
func (n New) PoppedCount() int { return n.ArrayBoundsCount }
func (New) PushedWordSize() int { return 1 }
func (n New) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(n.Type) }
func (n New) String() string {
	if n.ArrayBoundsCount == 0 {
		return "new " + n.Type
	}
	return fmt.Sprintf("newarray %s %d", n.Type, n.ArrayBoundsCount)
}

// ArrayLength pops an array and pushes its length.
type ArrayLength struct {
	base
}

func (ArrayLength) Kind() Kind { return KindArrayLength }
func (ArrayLength) PoppedCount() int { return 1 }
func (ArrayLength) PushedWordSize() int { return 1 }
func (ArrayLength) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Int }
func (ArrayLength) String() string { return "arraylength" }

// Throw pops an exception and raises it.
type Throw struct {
	base
}

func (Throw) Kind() Kind { return KindThrow }
func (Throw) PoppedCount() int { return 1 }
func (Throw) FallsThrough() bool { return false }
func (Throw) String() string { return "throw" }

// Monitor enters or exits the monitor of the popped object.
type Monitor struct {
	base
	Enter bool
}

func (Monitor) Kind() Kind { return KindMonitor }
func (Monitor) PoppedCount() int { return 1 }
func (m Monitor) String() string {
	if m.Enter {
		return "monitorenter"
	}
	return "monitorexit"
}

// CheckCast narrows the reference on top of the stack to Type.
type CheckCast struct {
	base
	Type string
}

func (CheckCast) Kind() Kind { return KindCheckCast }
func (CheckCast) PoppedCount() int { return 1 }
func (CheckCast) PushedWordSize() int { return 1 }
func (c CheckCast) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Concrete(c.Type) }
func (c CheckCast) String() string { return "checkcast " + c.Type }

// InstanceOf pops a reference and pushes whether it is an instance of Type.
type InstanceOf struct {
	base
	Type string
}

func (InstanceOf) Kind() Kind { return KindInstanceOf }
func (InstanceOf) PoppedCount() int { return 1 }
func (InstanceOf) PushedWordSize() int { return 1 }
func (InstanceOf) PushedType([]jvmtype.Type) jvmtype.Type { return jvmtype.Int }
func (i InstanceOf) String() string { return "instanceof " + i.Type }
