package typeflow

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/bcverify/pkg/asm"
	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

func method(t *testing.T, sig string, static bool, src string) Method {
	t.Helper()
	code, err := asm.Parse(src)
	require.NoError(t, err)
	return Method{
		Name:         "m",
		Static:       static,
		ClassType:    "LTest;",
		Signature:    sig,
		Instructions: code.Instructions,
		Handlers:     code.Handlers,
	}
}

func analyzer(t *testing.T, m Method, h hierarchy.Provider) *Analyzer {
	t.Helper()
	a, err := New(m, h)
	require.NoError(t, err)
	return a
}

func table(ts [][]jvmtype.Type) [][]string {
	out := make([][]string, len(ts))
	for i, row := range ts {
		if row != nil {
			out[i] = jvmtype.Strings(row)
		}
	}
	return out
}

func testHierarchy(t *testing.T) *hierarchy.Store {
	t.Helper()
	s := hierarchy.NewStore()
	require.NoError(t, s.SetClass(jvmtype.DescObject, "", nil, false, false))
	require.NoError(t, s.SetClass("LA;", jvmtype.DescObject, nil, false, false))
	require.NoError(t, s.SetClass("LB;", "LA;", nil, false, false))
	require.NoError(t, s.SetClass("LC;", "LA;", nil, false, false))
	return s
}

func computeAll(t *testing.T, a *Analyzer) {
	t.Helper()
	require.NoError(t, a.ComputeTypes(nil, a.AllInstructions(), false))
}

func TestNew_Validation(t *testing.T) {
	good := method(t, "()V", true, "return")

	tests := []struct {
		name   string
		mutate func(m *Method)
	}{
		{"no instructions", func(m *Method) { m.Instructions = nil }},
		{"nil instruction", func(m *Method) { m.Instructions = []instr.Instruction{nil} }},
		{"handler table length", func(m *Method) { m.Handlers = make([][]instr.ExceptionHandler, 2) }},
		{"handler target", func(m *Method) {
			m.Handlers = [][]instr.ExceptionHandler{{{Handler: 5}}}
		}},
		{"branch target", func(m *Method) { m.Instructions = []instr.Instruction{instr.Goto{Target: 1}} }},
		{"signature", func(m *Method) { m.Signature = "(Q)V" }},
		{"return type", func(m *Method) { m.Signature = "()" }},
		{"missing class", func(m *Method) { m.Static = false; m.ClassType = "" }},
		{"bytecode table", func(m *Method) { m.InstructionToBytecode = []int{} }},
		{"invoke signature", func(m *Method) {
			m.Instructions = []instr.Instruction{instr.Invoke{Mode: instr.InvokeStatic, Class: "LFoo;", Name: "f", Signature: "I"}}
		}},
		{"dup shape", func(m *Method) { m.Instructions = []instr.Instruction{instr.Dup{Size: 3}} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := good
			tt.mutate(&m)
			_, err := New(m, nil)
			assert.Error(t, err)
		})
	}

	_, err := New(good, nil)
	assert.NoError(t, err)
}

func TestStackSizes(t *testing.T) {
	a := analyzer(t, method(t, "(II)I", true, `
		iload_0
		iload_1
		iadd
		ireturn
	`), nil)
	sizes, err := a.StackSizes()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 1}, sizes)

	a = analyzer(t, method(t, "()V", true, `
	start:	iconst_0
		pop
		return
	unreachable:
		return
	h:	pop
		return
	.catch start h h
	`), nil)
	sizes, err = a.StackSizes()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, -1, 1, 0}, sizes)
}

func TestStackSizes_Failures(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		offset int
		reason string
	}{
		{
			name: "mismatch",
			src: `
				iload_0
				ifeq join
				iconst_1
			join:	return
			`,
			offset: 3,
			reason: "Stack size mismatch",
		},
		{
			name:   "falls off end",
			src:    "iconst_0",
			offset: 0,
			reason: "Control falls off the end of the method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := analyzer(t, method(t, "(I)V", true, tt.src), nil)
			_, err := a.StackSizes()
			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.offset, f.Offset)
			assert.Equal(t, tt.reason, f.Reason)
		})
	}
}

func TestControlFlow(t *testing.T) {
	a := analyzer(t, method(t, "(I)V", true, `
	0:	iload_0
		ifeq four
		iload_0
		return
	four:	goto 0
	`), nil)

	assert.Equal(t, []int{0, 4}, a.BasicBlockStarts().AppendTo(nil))
	assert.Equal(t, [][]int{{4}, nil, nil, nil, {1}}, a.BackEdges())

	r, err := a.ReachableFrom(2, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, r.AppendTo(nil))

	r, err = a.ReachableFrom(0, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.AppendTo(nil))

	mask := a.AllInstructions()
	mask.Remove(4)
	require.NoError(t, a.ReachableFromUpdate(0, r, true, mask))
	assert.Equal(t, []int{0, 1, 2, 3}, r.AppendTo(nil))

	reaching, err := a.ReachingTo(3, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 4}, reaching.AppendTo(nil))

	reaching, err = a.ReachingTo(4, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4}, reaching.AppendTo(nil), "4 lies on a cycle")

	_, err = a.ReachableFrom(-1, true, nil)
	assert.Error(t, err)
	assert.Error(t, a.ReachingToUpdate(0, nil, nil))
}

func TestComputeTypes_Basic(t *testing.T) {
	a := analyzer(t, method(t, "(I)I", true, `
		iload_0
		ireturn
	`), nil)
	computeAll(t, a)

	assert.Equal(t, [][]string{{}, {"I"}}, table(a.StackTypes()))
	assert.Equal(t, [][]string{{"I"}, {"I"}}, table(a.LocalTypes()))
	assert.Equal(t, 1, a.MaxStack())
	assert.Equal(t, 1, a.MaxLocals())
}

func TestComputeTypes_Underflow(t *testing.T) {
	tests := []struct {
		name   string
		sig    string
		src    string
		offset int
	}{
		{
			name:   "empty return",
			sig:    "()I",
			src:    "ireturn",
			offset: 0,
		},
		{
			name: "loop after underflow",
			sig:  "()V",
			src: `
				pop
			loop:	goto loop
			`,
			offset: 0,
		},
		{
			name: "underflow inside loop",
			sig:  "()V",
			src: `
			loop:	pop
				goto loop
			`,
			offset: 0,
		},
		{
			name: "after branch",
			sig:  "(I)I",
			src: `
				iload_0
				ifeq bad
				iload_0
				ireturn
			bad:	iadd
				ireturn
			`,
			offset: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := analyzer(t, method(t, tt.sig, true, tt.src), nil)
			err := a.ComputeTypes(nil, a.BasicBlockStarts(), true)

			var f *Failure
			require.ErrorAs(t, err, &f)
			assert.Equal(t, tt.offset, f.Offset)
			assert.Equal(t, "Stack underflow", f.Reason)
			require.NotEmpty(t, f.Path)
			assert.Equal(t, tt.offset, f.Path[len(f.Path)-1].Index)
		})
	}

	a := analyzer(t, method(t, "()I", true, "ireturn"), nil)
	err := a.ComputeTypes(nil, a.BasicBlockStarts(), true)
	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, "Stack underflow at offset 0", f.Error())
	require.Len(t, f.Path, 1)
	assert.Equal(t, 0, f.Path[0].Index)
}

func TestStackSizes_StopsAtUnderflow(t *testing.T) {
	a := analyzer(t, method(t, "()V", true, `
		pop
	loop:	goto loop
	`), nil)
	sizes, err := a.StackSizes()
	require.NoError(t, err)
	assert.Equal(t, []int{0, -1}, sizes)
}

func TestComputeTypes_StackJoin(t *testing.T) {
	const branchy = `
		iload_0
		ifeq els
		getstatic LFoo; b LB;
		goto join
	els:	%s
	join:	areturn
	`

	tests := []struct {
		name     string
		other    string
		h        hierarchy.Provider
		expected string
	}{
		{"common superclass", "getstatic LFoo; c LC;", testHierarchy(t), "LA;"},
		{"no hierarchy", "getstatic LFoo; c LC;", nil, "L?;"},
		{"null absorbed", "aconst_null", nil, "LB;"},
		{"primitive vs reference", "iconst_0", nil, "TOP"},
		{"array covariance", "getstatic LFoo; c [LB;", nil, jvmtype.DescObject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := replaceOther(branchy, tt.other)
			a := analyzer(t, method(t, "(I)Ljava/lang/Object;", true, src), tt.h)
			require.NoError(t, a.ComputeTypes(nil, a.BasicBlockStarts(), false))
			join := 5
			assert.Equal(t, []string{tt.expected}, jvmtype.Strings(a.StackTypes()[join]))
			assert.Nil(t, a.StackTypes()[2], "no state is recorded inside a block")
		})
	}
}

func replaceOther(src, other string) string {
	return strings.Replace(src, "%s", other, 1)
}

func TestComputeTypes_StackTypeMismatch(t *testing.T) {
	a := analyzer(t, method(t, "(I)V", true, `
		iload_0
		ifeq els
		iconst_0
		goto join
	els:	fconst_0
	join:	pop
		return
	`), nil)
	err := a.ComputeTypes(nil, a.BasicBlockStarts(), true)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, 5, f.Offset)
	assert.Equal(t, "Stack type mismatch at 0 (I vs F)", f.Reason)
	assert.NotEmpty(t, f.Path)
}

func TestComputeTypes_LocalJoin(t *testing.T) {
	a := analyzer(t, method(t, "(I)V", true, `
		iload_0
		ifeq els
		iconst_1
		istore_1
		goto join
	els:	fconst_0
		fstore_1
	join:	return
	`), nil)
	require.NoError(t, a.ComputeTypes(nil, a.BasicBlockStarts(), false))
	assert.Equal(t, []string{"I", "?"}, jvmtype.Strings(a.LocalTypes()[7]))
}

func TestComputeTypes_StackShuffles(t *testing.T) {
	a := analyzer(t, method(t, "()V", true, `
		iconst_0
		fconst_0
		dup_x1
		swap
		aconst_null
		dup2_x1
		pop2
		pop2
		pop2
		return
	`), nil)
	computeAll(t, a)

	stacks := table(a.StackTypes())
	assert.Equal(t, []string{"F", "I", "F"}, stacks[3], "after dup_x1")
	assert.Equal(t, []string{"I", "F", "F"}, stacks[4], "after swap")
	assert.Equal(t, []string{"L;", "I", "F", "L;", "I", "F"}, stacks[6], "after dup2_x1")
	assert.Equal(t, []string{}, stacks[9])
}

func TestComputeTypes_WideLocals(t *testing.T) {
	a := analyzer(t, method(t, "(J)V", true, `
		iconst_5
		istore_1
		lconst_0
		lstore_1
		return
	`), nil)
	computeAll(t, a)

	locals := table(a.LocalTypes())
	assert.Equal(t, []string{"J", "?", "?"}, locals[0])
	assert.Equal(t, []string{"?", "I", "?"}, locals[2], "int store breaks the long in 0-1")
	assert.Equal(t, []string{"?", "J", "?"}, locals[4])
}

func TestComputeTypes_Constructor(t *testing.T) {
	m := method(t, "(LTest;)V", false, `
		aload_0
		invokespecial Ljava/lang/Object; <init> ()V
		aload_0
		pop
		return
	`)
	m.Name = "<init>"
	a := analyzer(t, m, nil)
	computeAll(t, a)

	assert.Equal(t, []string{"THIS", "THIS"}, jvmtype.Strings(a.LocalTypes()[0]))
	assert.Equal(t, []string{"THIS"}, jvmtype.Strings(a.StackTypes()[1]))
	assert.Equal(t, []string{"LTest;", "LTest;"}, jvmtype.Strings(a.LocalTypes()[2]))
	assert.Equal(t, []string{"LTest;"}, jvmtype.Strings(a.StackTypes()[3]))
}

func TestComputeTypes_Uninitialized(t *testing.T) {
	m := method(t, "()LFoo;", true, `
		new LFoo;
		dup
		astore_0
		invokespecial LFoo; <init> ()V
		aload_0
		areturn
	`)
	m.InstructionToBytecode = []int{10, 13, 14, 15, 18, 19}
	a := analyzer(t, m, nil)
	computeAll(t, a)

	stacks := table(a.StackTypes())
	assert.Equal(t, []string{"#10#LFoo;"}, stacks[1])
	assert.Equal(t, []string{"#10#LFoo;", "#10#LFoo;"}, stacks[2])
	assert.Equal(t, []string{"#10#LFoo;"}, jvmtype.Strings(a.LocalTypes()[3]))
	assert.Equal(t, []string{"LFoo;"}, jvmtype.Strings(a.LocalTypes()[4]), "locals are initialized too")
	assert.Equal(t, []string{"LFoo;"}, stacks[5])
}

func TestComputeTypes_UninitializedJoin(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		expected []string
	}{
		{
			name: "initialized on one branch",
			src: `
				iload_0
				ifeq init
				new LFoo;
				astore_1
				goto join
			init:	new LFoo;
				dup
				invokespecial LFoo; <init> ()V
				astore_1
			join:	return
			`,
			expected: []string{"I", "TOP"},
		},
		{
			name: "different allocation sites",
			src: `
				iload_0
				ifeq other
				new LFoo;
				astore_1
				goto join
			other:	new LFoo;
				astore_1
			join:	return
			`,
			expected: []string{"I", "TOP"},
		},
		{
			name: "same allocation site",
			src: `
				new LFoo;
				astore_1
				iload_0
				ifeq join
				iconst_0
				pop
			join:	return
			`,
			expected: []string{"I", "#0#LFoo;"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, err := asm.Parse(tt.src)
			require.NoError(t, err)
			a := analyzer(t, method(t, "(I)V", true, tt.src), nil)
			computeAll(t, a)
			last := len(code.Instructions) - 1
			assert.Equal(t, tt.expected, jvmtype.Strings(a.LocalTypes()[last]))
		})
	}
}

func TestComputeTypes_DeclaredVariables(t *testing.T) {
	src := `
		aconst_null
		astore_0
		return
	`
	a := analyzer(t, method(t, "()V", true, src), nil)
	computeAll(t, a)
	assert.Equal(t, []string{"L;"}, jvmtype.Strings(a.LocalTypes()[2]))

	m := method(t, "()V", true, src)
	m.VarTypes = [][]string{2: {jvmtype.DescString}}
	a = analyzer(t, m, nil)
	computeAll(t, a)
	assert.Equal(t, []string{jvmtype.DescString}, jvmtype.Strings(a.LocalTypes()[2]))
}

func TestComputeTypes_Handlers(t *testing.T) {
	a := analyzer(t, method(t, "()V", true, `
	try:	iconst_0
		istore_0
		return
	catch:	astore_1
		return
	all:	astore_1
		return
	.catch try catch catch Ljava/io/IOException;
	.catch try catch all
	`), nil)
	require.NoError(t, a.ComputeTypes(nil, a.BasicBlockStarts(), false))

	assert.Equal(t, []string{"Ljava/io/IOException;"}, jvmtype.Strings(a.StackTypes()[3]))
	assert.Equal(t, []string{"?", "?"}, jvmtype.Strings(a.LocalTypes()[3]))
	assert.Equal(t, []string{jvmtype.DescThrowable}, jvmtype.Strings(a.StackTypes()[5]))
}

func TestComputeTypes_Loop(t *testing.T) {
	a := analyzer(t, method(t, "()V", true, `
		aconst_null
		astore_0
	loop:	getstatic LFoo; b LB;
		astore_0
		goto loop
	`), testHierarchy(t))
	require.NoError(t, a.ComputeTypes(nil, a.BasicBlockStarts(), false))
	assert.Equal(t, []string{"LB;"}, jvmtype.Strings(a.LocalTypes()[2]))
}

func TestComputeTypes_Idempotent(t *testing.T) {
	a := analyzer(t, method(t, "(I)Ljava/lang/Object;", true, replaceOther(`
		iload_0
		ifeq els
		getstatic LFoo; b LB;
		goto join
	els:	%s
	join:	areturn
	`, "getstatic LFoo; c LC;")), testHierarchy(t))

	require.NoError(t, a.ComputeTypes(nil, a.AllInstructions(), false))
	stacks, locals := a.StackTypes(), a.LocalTypes()
	require.NoError(t, a.ComputeTypes(nil, a.AllInstructions(), false))

	assert.Empty(t, cmp.Diff(stacks, a.StackTypes()))
	assert.Empty(t, cmp.Diff(locals, a.LocalTypes()))
}

func TestComputeTypes_Visitor(t *testing.T) {
	m := method(t, "(I)I", true, `
		iload_0
		iconst_1
		iadd
		ireturn
	`)

	var seen []int
	a := analyzer(t, m, nil)
	err := a.ComputeTypes(VisitorFunc(func(f *Frame) error {
		seen = append(seen, f.Index)
		if f.Index == 2 {
			assert.Equal(t, []string{"I", "I"}, jvmtype.Strings(f.Stack))
			return f.Fail("stop here")
		}
		return nil
	}), a.BasicBlockStarts(), true)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, 2, f.Offset)
	assert.Equal(t, []int{0, 1, 2}, seen)

	var buf bytes.Buffer
	require.NoError(t, f.WritePath(&buf))
	assert.Equal(t, "Offset 0: [], [I]\n", buf.String())

	sentinel := errors.New("boom")
	err = a.ComputeTypes(VisitorFunc(func(*Frame) error { return sentinel }), a.BasicBlockStarts(), false)
	assert.ErrorIs(t, err, sentinel)
	assert.False(t, errors.As(err, &f))
}

func TestFindCommonSupertype_Sentinels(t *testing.T) {
	a := analyzer(t, method(t, "()V", true, "return"), nil)
	foo := jvmtype.Concrete("LFoo;")

	tests := []struct {
		name     string
		t1, t2   jvmtype.Type
		expected jvmtype.Type
	}{
		{"equal", foo, foo, foo},
		{"null left", jvmtype.Null, foo, foo},
		{"null right", foo, jvmtype.Null, foo},
		{"null vs primitive", jvmtype.Null, jvmtype.Int, jvmtype.Top},
		{"this", jvmtype.This, foo, jvmtype.Top},
		{"top", jvmtype.Int, jvmtype.Top, jvmtype.Top},
		{"primitive vs reference", jvmtype.Int, foo, jvmtype.Top},
		{"uninitialized vs initialized", jvmtype.Uninitialized(2, "LFoo;"), foo, jvmtype.Top},
		{"initialized vs uninitialized", foo, jvmtype.Uninitialized(2, "LFoo;"), jvmtype.Top},
		{"uninitialized sites differ", jvmtype.Uninitialized(2, "LFoo;"), jvmtype.Uninitialized(5, "LFoo;"), jvmtype.Top},
		{"uninitialized vs null", jvmtype.Uninitialized(2, "LFoo;"), jvmtype.Null, jvmtype.Top},
		{"uninitialized same site", jvmtype.Uninitialized(2, "LFoo;"), jvmtype.Uninitialized(2, "LFoo;"), jvmtype.Uninitialized(2, "LFoo;")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, j := a.FindCommonSupertype(tt.t1, tt.t2)
			assert.Equal(t, hierarchy.JoinExact, j)
			assert.Equal(t, tt.expected, got)
		})
	}

	_, j := a.FindCommonSupertype(jvmtype.Int, jvmtype.Float)
	assert.Equal(t, hierarchy.JoinNone, j)

	assert.True(t, a.IsSubtypeOf(jvmtype.This, jvmtype.Concrete("LTest;")))
	assert.True(t, a.IsSubtypeOf(jvmtype.Uninitialized(3, "LTest;"), jvmtype.Object))
	assert.False(t, a.IsSubtypeOf(jvmtype.Int, jvmtype.Float))
}
