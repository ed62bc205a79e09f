package asm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

// typePrefixes maps mnemonic prefixes to descriptors.
var typePrefixes = map[byte]string{
	'i': jvmtype.DescInt,
	'l': jvmtype.DescLong,
	'f': jvmtype.DescFloat,
	'd': jvmtype.DescDouble,
	'a': jvmtype.DescObject,
	'b': jvmtype.DescByte,
	'c': jvmtype.DescChar,
	's': jvmtype.DescShort,
}

// newarrayTypes maps newarray element keywords to descriptors.
var newarrayTypes = map[string]string{
	"boolean": jvmtype.DescBoolean,
	"byte":    jvmtype.DescByte,
	"char":    jvmtype.DescChar,
	"short":   jvmtype.DescShort,
	"int":     jvmtype.DescInt,
	"long":    jvmtype.DescLong,
	"float":   jvmtype.DescFloat,
	"double":  jvmtype.DescDouble,
}

var arithOps = map[string]instr.ArithOp{
	"add": instr.OpAdd,
	"sub": instr.OpSub,
	"mul": instr.OpMul,
	"div": instr.OpDiv,
	"rem": instr.OpRem,
	"and": instr.OpAnd,
	"or":  instr.OpOr,
	"xor": instr.OpXor,
}

var shiftOps = map[string]instr.ArithOp{
	"shl":  instr.OpShl,
	"shr":  instr.OpShr,
	"ushr": instr.OpUshr,
}

var conds = map[string]instr.Cond{
	"eq": instr.CondEq,
	"ne": instr.CondNe,
	"lt": instr.CondLt,
	"ge": instr.CondGe,
	"gt": instr.CondGt,
	"le": instr.CondLe,
}

var dups = map[string]instr.Dup{
	"dup":     {Size: 1},
	"dup_x1":  {Size: 1, Delta: 1},
	"dup_x2":  {Size: 1, Delta: 2},
	"dup2":    {Size: 2},
	"dup2_x1": {Size: 2, Delta: 1},
	"dup2_x2": {Size: 2, Delta: 2},
}

var invokes = map[string]instr.InvokeMode{
	"invokevirtual":   instr.InvokeVirtual,
	"invokespecial":   instr.InvokeSpecial,
	"invokestatic":    instr.InvokeStatic,
	"invokeinterface": instr.InvokeInterface,
}

// simple holds the mnemonics without operands that have a single meaning.
var simple = map[string]instr.Instruction{
	"aconst_null":  instr.Constant{Type: "L;"},
	"pop":          instr.Pop{Size: 1},
	"pop2":         instr.Pop{Size: 2},
	"swap":         instr.Swap{},
	"lcmp":         instr.Comparison{Type: jvmtype.DescLong, Op: instr.OpCmp},
	"fcmpl":        instr.Comparison{Type: jvmtype.DescFloat, Op: instr.OpCmpL},
	"fcmpg":        instr.Comparison{Type: jvmtype.DescFloat, Op: instr.OpCmpG},
	"dcmpl":        instr.Comparison{Type: jvmtype.DescDouble, Op: instr.OpCmpL},
	"dcmpg":        instr.Comparison{Type: jvmtype.DescDouble, Op: instr.OpCmpG},
	"return":       instr.Return{Type: jvmtype.DescVoid},
	"arraylength":  instr.ArrayLength{},
	"athrow":       instr.Throw{},
	"monitorenter": instr.Monitor{Enter: true},
	"monitorexit":  instr.Monitor{},
}

func (p *parser) instruction(op string, args []string) (instr.Instruction, error) {
	if in, ok := simple[op]; ok {
		return in, want(args, 0)
	}
	if d, ok := dups[op]; ok {
		return d, want(args, 0)
	}
	if mode, ok := invokes[op]; ok {
		if err := want(args, 3); err != nil {
			return nil, err
		}
		return instr.Invoke{Mode: mode, Class: args[0], Name: args[1], Signature: args[2]}, nil
	}

	switch op {
	case "bipush", "sipush":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(args[0], 10, 32)
		if err != nil {
			return nil, err
		}
		return instr.Constant{Type: jvmtype.DescInt, Value: int32(v)}, nil
	case "ldc", "ldc_w", "ldc2_w":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		return literal(args[0])
	case "goto", "goto_w":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		t, err := p.target(args[0])
		return instr.Goto{Target: t}, err
	case "ifnull", "ifnonnull":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		cond := instr.CondEq
		if op == "ifnonnull" {
			cond = instr.CondNe
		}
		t, err := p.target(args[0])
		return instr.ConditionalBranch{Type: jvmtype.DescObject, Cond: cond, Target: t, ZeroOperand: true}, err
	case "tableswitch":
		return p.tableswitch(args)
	case "lookupswitch":
		return p.lookupswitch(args)
	case "getfield", "getstatic", "putfield", "putstatic":
		if err := want(args, 3); err != nil {
			return nil, err
		}
		if err := jvmtype.ValidateDescriptor(args[2]); err != nil {
			return nil, err
		}
		static := strings.HasSuffix(op, "static")
		if strings.HasPrefix(op, "get") {
			return instr.Get{Class: args[0], Name: args[1], FieldType: args[2], Static: static}, nil
		}
		return instr.Put{Class: args[0], Name: args[1], FieldType: args[2], Static: static}, nil
	case "invokedynamic":
		if err := want(args, 2); err != nil {
			return nil, err
		}
		return instr.Invoke{Mode: instr.InvokeDynamic, Name: args[0], Signature: args[1]}, nil
	case "new":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		return instr.New{Type: args[0]}, jvmtype.ValidateDescriptor(args[0])
	case "newarray":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		elem, ok := newarrayTypes[args[0]]
		if !ok {
			elem = args[0]
		}
		return instr.New{Type: "[" + elem, ArrayBoundsCount: 1}, jvmtype.ValidateDescriptor(elem)
	case "anewarray":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		return instr.New{Type: "[" + args[0], ArrayBoundsCount: 1}, jvmtype.ValidateDescriptor(args[0])
	case "multianewarray":
		if err := want(args, 2); err != nil {
			return nil, err
		}
		dims, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, err
		}
		if dims < 1 || dims > strings.Count(args[0], "[") {
			return nil, fmt.Errorf("invalid dimension count %d for %s", dims, args[0])
		}
		return instr.New{Type: args[0], ArrayBoundsCount: dims}, jvmtype.ValidateDescriptor(args[0])
	case "checkcast", "instanceof":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		if err := jvmtype.ValidateDescriptor(args[0]); err != nil {
			return nil, err
		}
		if op == "checkcast" {
			return instr.CheckCast{Type: args[0]}, nil
		}
		return instr.InstanceOf{Type: args[0]}, nil
	}

	return p.typed(op, args)
}

// typed handles the mnemonics whose first letter names an operand type.
func (p *parser) typed(op string, args []string) (instr.Instruction, error) {
	if len(op) < 2 {
		return nil, fmt.Errorf("unknown mnemonic")
	}
	if from, to, ok := strings.Cut(op, "2"); ok && len(from) == 1 && len(to) == 1 {
		f, fok := typePrefixes[from[0]]
		t, tok := typePrefixes[to[0]]
		if fok && tok {
			return instr.Conversion{From: f, To: t}, want(args, 0)
		}
	}
	typ, ok := typePrefixes[op[0]]
	if !ok {
		return nil, fmt.Errorf("unknown mnemonic")
	}
	rest := op[1:]

	if name, n, ok := strings.Cut(rest, "_"); ok && (name == "load" || name == "store" || name == "const") {
		v, err := strconv.Atoi(strings.Replace(n, "m", "-", 1))
		if err != nil {
			return nil, fmt.Errorf("unknown mnemonic")
		}
		if err := want(args, 0); err != nil {
			return nil, err
		}
		switch name {
		case "load":
			return instr.LocalLoad{Type: typ, Var: v}, nil
		case "store":
			return instr.LocalStore{Type: typ, Var: v}, nil
		}
		return constant(typ, v), nil
	}

	switch rest {
	case "load", "store":
		if err := want(args, 1); err != nil {
			return nil, err
		}
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid local index %q", args[0])
		}
		if rest == "load" {
			return instr.LocalLoad{Type: typ, Var: v}, nil
		}
		return instr.LocalStore{Type: typ, Var: v}, nil
	case "aload":
		return instr.ArrayLoad{Type: typ}, want(args, 0)
	case "astore":
		return instr.ArrayStore{Type: typ}, want(args, 0)
	case "return":
		return instr.Return{Type: typ}, want(args, 0)
	case "neg":
		return instr.UnaryOp{Type: typ}, want(args, 0)
	case "inc":
		return nil, fmt.Errorf("iinc is not modeled")
	}
	if o, ok := arithOps[rest]; ok {
		return instr.BinaryOp{Type: typ, Op: o}, want(args, 0)
	}
	if o, ok := shiftOps[rest]; ok {
		return instr.Shift{Type: typ, Op: o}, want(args, 0)
	}
	if c, ok := strings.CutPrefix(rest, "f"); ok {
		// ifeq and friends, if_icmpeq and if_acmpeq.
		if cond, ok := conds[c]; ok && typ == jvmtype.DescInt {
			if err := want(args, 1); err != nil {
				return nil, err
			}
			t, err := p.target(args[0])
			return instr.ConditionalBranch{Type: jvmtype.DescInt, Cond: cond, Target: t, ZeroOperand: true}, err
		}
		for prefix, ctype := range map[string]string{"_icmp": jvmtype.DescInt, "_acmp": jvmtype.DescObject} {
			if cc, ok := strings.CutPrefix(c, prefix); ok {
				cond, ok := conds[cc]
				if !ok || (ctype == jvmtype.DescObject && cond != instr.CondEq && cond != instr.CondNe) {
					break
				}
				if err := want(args, 1); err != nil {
					return nil, err
				}
				t, err := p.target(args[0])
				return instr.ConditionalBranch{Type: ctype, Cond: cond, Target: t}, err
			}
		}
	}
	return nil, fmt.Errorf("unknown mnemonic")
}

func constant(typ string, v int) instr.Instruction {
	switch typ {
	case jvmtype.DescLong:
		return instr.Constant{Type: typ, Value: int64(v)}
	case jvmtype.DescFloat:
		return instr.Constant{Type: typ, Value: float32(v)}
	case jvmtype.DescDouble:
		return instr.Constant{Type: typ, Value: float64(v)}
	}
	return instr.Constant{Type: jvmtype.DescInt, Value: int32(v)}
}

// literal parses an ldc operand: a quoted string, a class descriptor, or a
// number with an optional L, F or D suffix.
func literal(s string) (instr.Instruction, error) {
	if strings.HasPrefix(s, "\"") {
		v, err := strconv.Unquote(s)
		if err != nil {
			return nil, err
		}
		return instr.Constant{Type: jvmtype.DescString, Value: v}, nil
	}
	if strings.HasPrefix(s, "L") || strings.HasPrefix(s, "[") {
		if err := jvmtype.ValidateDescriptor(s); err != nil {
			return nil, err
		}
		return instr.Constant{Type: jvmtype.DescClass, Value: s}, nil
	}

	switch last := s[len(s)-1]; last {
	case 'L', 'l':
		v, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
		return instr.Constant{Type: jvmtype.DescLong, Value: v}, err
	case 'F', 'f':
		v, err := strconv.ParseFloat(s[:len(s)-1], 32)
		return instr.Constant{Type: jvmtype.DescFloat, Value: float32(v)}, err
	case 'D', 'd':
		v, err := strconv.ParseFloat(s[:len(s)-1], 64)
		return instr.Constant{Type: jvmtype.DescDouble, Value: v}, err
	}
	if strings.ContainsAny(s, ".eE") {
		v, err := strconv.ParseFloat(s, 64)
		return instr.Constant{Type: jvmtype.DescDouble, Value: v}, err
	}
	v, err := strconv.ParseInt(s, 10, 32)
	return instr.Constant{Type: jvmtype.DescInt, Value: int32(v)}, err
}

// tableswitch LOW DEFAULT TARGET...
func (p *parser) tableswitch(args []string) (instr.Instruction, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: tableswitch LOW DEFAULT TARGET...")
	}
	low, err := strconv.ParseInt(args[0], 10, 32)
	if err != nil {
		return nil, err
	}
	def, err := p.target(args[1])
	if err != nil {
		return nil, err
	}
	sw := instr.Switch{Default: def}
	for i, a := range args[2:] {
		t, err := p.target(a)
		if err != nil {
			return nil, err
		}
		sw.Cases = append(sw.Cases, instr.SwitchCase{Value: int32(low) + int32(i), Target: t})
	}
	return sw, nil
}

// lookupswitch DEFAULT VALUE:TARGET...
func (p *parser) lookupswitch(args []string) (instr.Instruction, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: lookupswitch DEFAULT VALUE:TARGET...")
	}
	def, err := p.target(args[0])
	if err != nil {
		return nil, err
	}
	sw := instr.Switch{Default: def}
	for _, a := range args[1:] {
		vs, ts, ok := strings.Cut(a, ":")
		if !ok {
			return nil, fmt.Errorf("malformed case %q", a)
		}
		v, err := strconv.ParseInt(vs, 10, 32)
		if err != nil {
			return nil, err
		}
		t, err := p.target(ts)
		if err != nil {
			return nil, err
		}
		sw.Cases = append(sw.Cases, instr.SwitchCase{Value: int32(v), Target: t})
	}
	return sw, nil
}

func want(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d operands, got %d", n, len(args))
	}
	return nil
}
