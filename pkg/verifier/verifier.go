// Package verifier checks JVM method bodies against the operand types each
// instruction demands.
package verifier

import (
	"fmt"

	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
	"github.com/715d/bcverify/pkg/typeflow"
)

// Options configures a Verifier.
type Options struct {
	// Strict rejects operands whose subtype relation cannot be proven. By
	// default only a definite No is rejected.
	Strict bool
}

// Verifier is a typeflow.Analyzer that type-checks every instruction it
// simulates. It is not safe for concurrent use.
type Verifier struct {
	*typeflow.Analyzer
	opts Options
}

// New returns a verifier for m.
func New(m typeflow.Method, h hierarchy.Provider, opts Options) (*Verifier, error) {
	a, err := typeflow.New(m, h)
	if err != nil {
		return nil, err
	}
	return &Verifier{Analyzer: a, opts: opts}, nil
}

// Verify checks the method, recording types at basic block starts only. The
// returned error is a *typeflow.Failure when the code does not verify.
func (v *Verifier) Verify() error {
	return v.Analyzer.ComputeTypes(v.checker(), v.BasicBlockStarts(), true)
}

// VerifyCollectAll is like Verify but records types at every instruction.
func (v *Verifier) VerifyCollectAll() error {
	return v.Analyzer.ComputeTypes(v.checker(), v.AllInstructions(), true)
}

// ComputeTypes fills the type tables at basic block starts without checking
// operands. Only structural problems such as underflow or incompatible merges
// are reported.
func (v *Verifier) ComputeTypes() error {
	return v.Analyzer.ComputeTypes(nil, v.BasicBlockStarts(), false)
}

func (v *Verifier) checker() *checker {
	// The signature was validated when the analyzer was built.
	ret, _ := jvmtype.ReturnType(v.Signature())
	return &checker{v: v, returnType: ret}
}

type checker struct {
	v          *Verifier
	returnType string
}

func (c *checker) subtype(t1, t2 jvmtype.Type) bool {
	r := c.v.Subtype(t1, t2)
	if c.v.opts.Strict {
		return r == hierarchy.Yes
	}
	return r != hierarchy.No
}

func (c *checker) checkStack(f *typeflow.Frame, i int, desc string) error {
	if !c.subtype(f.Stack[i], jvmtype.StackType(jvmtype.Concrete(desc))) {
		return f.Fail(fmt.Sprintf("Expected type %s at stack %d, got %s", desc, i, f.Stack[i]))
	}
	return nil
}

// checkArrayStack checks that stack slot i holds an array of elem. baload and
// bastore also operate on boolean arrays.
func (c *checker) checkArrayStack(f *typeflow.Frame, i int, elem string) error {
	if elem == jvmtype.DescByte && f.Stack[i] == jvmtype.MustParse("[Z") {
		return nil
	}
	return c.checkStack(f, i, "["+elem)
}

func (c *checker) checkStacks(f *typeflow.Frame, descs ...string) error {
	for i, d := range descs {
		if err := c.checkStack(f, i, d); err != nil {
			return err
		}
	}
	return nil
}

// Visit implements typeflow.Visitor.
func (c *checker) Visit(f *typeflow.Frame) error {
	switch in := f.Instruction.(type) {
	case instr.Constant, instr.Goto, instr.Pop, instr.Dup, instr.Swap:
		return nil

	case instr.LocalLoad:
		t := f.Locals[in.Var]
		if !t.IsDefined() {
			return f.Fail(fmt.Sprintf("Local variable %d is not defined", in.Var))
		}
		if !c.subtype(t, jvmtype.Concrete(in.Type)) {
			return f.Fail(fmt.Sprintf("Expected type %s for local %d, got %s", in.Type, in.Var, t))
		}
		return nil

	case instr.LocalStore:
		return c.checkStack(f, 0, in.Type)

	case instr.ArrayLoad:
		if err := c.checkStack(f, 0, jvmtype.DescInt); err != nil {
			return err
		}
		return c.checkArrayStack(f, 1, in.Type)

	case instr.ArrayStore:
		if err := c.checkStacks(f, in.Type, jvmtype.DescInt); err != nil {
			return err
		}
		return c.checkArrayStack(f, 2, in.Type)

	case instr.BinaryOp:
		return c.checkStacks(f, in.Type, in.Type)

	case instr.UnaryOp:
		return c.checkStack(f, 0, in.Type)

	case instr.Shift:
		return c.checkStacks(f, jvmtype.DescInt, in.Type)

	case instr.Conversion:
		return c.checkStack(f, 0, in.From)

	case instr.Comparison:
		return c.checkStacks(f, in.Type, in.Type)

	case instr.ConditionalBranch:
		if in.ZeroOperand {
			return c.checkStack(f, 0, in.Type)
		}
		return c.checkStacks(f, in.Type, in.Type)

	case instr.Switch:
		return c.checkStack(f, 0, jvmtype.DescInt)

	case instr.Return:
		if in.Type == jvmtype.DescVoid {
			if c.returnType != jvmtype.DescVoid {
				return f.Fail(fmt.Sprintf("Void return in method returning %s", c.returnType))
			}
			return nil
		}
		if err := c.checkStack(f, 0, in.Type); err != nil {
			return err
		}
		return c.checkStack(f, 0, c.returnType)

	case instr.Get:
		if in.Static {
			return nil
		}
		return c.checkStack(f, 0, in.Class)

	case instr.Put:
		if in.Static {
			return c.checkStack(f, 0, in.FieldType)
		}
		return c.checkStacks(f, in.FieldType, in.Class)

	case instr.Invoke:
		return c.checkInvoke(f, in)

	case instr.New:
		for i := range in.ArrayBoundsCount {
			if err := c.checkStack(f, i, jvmtype.DescInt); err != nil {
				return err
			}
		}
		return nil

	case instr.ArrayLength:
		t := f.Stack[0]
		switch {
		case t.Kind() == jvmtype.KindNull, t.IsArray():
			return nil
		case t.Kind() == jvmtype.KindUnknown && !c.v.opts.Strict:
			return nil
		}
		return f.Fail(fmt.Sprintf("Expected array type at stack 0, got %s", t))

	case instr.Throw:
		return c.checkStack(f, 0, jvmtype.DescThrowable)

	case instr.Monitor, instr.CheckCast, instr.InstanceOf:
		return c.checkStack(f, 0, jvmtype.DescObject)
	}
	return fmt.Errorf("unsupported instruction %T", f.Instruction)
}

func (c *checker) checkInvoke(f *typeflow.Frame, in instr.Invoke) error {
	if in.Mode == instr.InvokeDynamic {
		return nil
	}
	receiver := jvmtype.Undefined
	if in.Mode.HasReceiver() {
		receiver = jvmtype.Concrete(in.Class)
	}
	params, err := jvmtype.ParamTypes(receiver, in.Signature)
	if err != nil {
		return err
	}
	for i := range params {
		if err := c.checkStack(f, i, params[len(params)-1-i].Descriptor()); err != nil {
			return err
		}
	}
	return nil
}
