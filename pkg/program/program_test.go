package program

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

const sample = `
format: "1.2"
classes:
  - name: LBase;
    super: Ljava/lang/Object;
    interfaces: [LRunnable;]
  - name: LRunnable;
    interface: true
  - name: LLeaf;
    super: LBase;
    final: true
methods:
  - class: LBase;
    name: id
    signature: (I)I
    static: true
    code: |
      iload_0
      ireturn
  - class: LLeaf;
    name: run
    signature: ()V
    bytecode: [0, 1, 2]
    var_types:
      1: [LLeaf;, ""]
    code: |
      aconst_null
      astore_1
      return
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "1.2", f.Format)
	require.Len(t, f.Classes, 3)
	require.Len(t, f.Methods, 2)
	assert.Equal(t, "LBase;.id(I)I", f.Methods[0].ID())

	h, err := f.Hierarchy()
	require.NoError(t, err)
	assert.Equal(t, []string{"LBase;", "LLeaf;", "LRunnable;"}, h.ClassNames())
	assert.Equal(t, hierarchy.Yes, h.IsInterface("LRunnable;"))
	assert.Equal(t, hierarchy.Yes, hierarchy.IsSubtypeOf(h, jvmtype.Concrete("LLeaf;"), jvmtype.Concrete("LRunnable;")))
}

func TestCompile(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	m, code, err := f.Methods[1].Compile()
	require.NoError(t, err)
	assert.Equal(t, "run", m.Name)
	assert.False(t, m.Static)
	assert.Equal(t, "LLeaf;", m.ClassType)
	assert.Equal(t, []int{0, 1, 2}, m.InstructionToBytecode)
	assert.Equal(t, [][]string{nil, {"LLeaf;", ""}}, m.VarTypes)
	assert.Equal(t, []int{1, 2, 3}, code.Lines)
	assert.Equal(t, instr.LocalStore{Type: jvmtype.DescObject, Var: 1}, m.Instructions[1])
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", ""},
		{"missing format", "methods: []"},
		{"bad format", `format: "one"`},
		{"future format", `format: "2.0"`},
		{"unknown field", "format: \"1.0\"\nmethod: []"},
		{"bad class", "format: \"1.0\"\nclasses: [{name: Foo}]"},
		{"bad super", "format: \"1.0\"\nclasses: [{name: LFoo;, super: Bar}]"},
		{"duplicate class", "format: \"1.0\"\nclasses: [{name: LFoo;}, {name: LFoo;}]"},
		{"incomplete method", "format: \"1.0\"\nmethods: [{class: LFoo;, name: m}]"},
		{
			name: "duplicate method",
			src: `format: "1.0"
methods:
  - {class: LFoo;, name: m, signature: ()V, code: return}
  - {class: LFoo;, name: m, signature: ()V, code: return}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src))
			assert.Error(t, err)
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		method Method
	}{
		{"assembly", Method{Class: "LFoo;", Name: "m", Signature: "()V", Code: "frobnicate"}},
		{"bytecode length", Method{Class: "LFoo;", Name: "m", Signature: "()V", Code: "return", Bytecode: []int{0, 1}}},
		{"negative offset", Method{Class: "LFoo;", Name: "m", Signature: "()V", Code: "return", VarTypes: map[int][]string{-1: {"I"}}}},
		{"bad declared type", Method{Class: "LFoo;", Name: "m", Signature: "()V", Code: "return", VarTypes: map[int][]string{0: {"Q"}}}},
		{"offset past code", Method{Class: "LFoo;", Name: "m", Signature: "()V", Code: "return", VarTypes: map[int][]string{1 << 30: {"I"}}}},
		{"offset past bytecode", Method{
			Class: "LFoo;", Name: "m", Signature: "()V", Code: "iconst_0\npop\nreturn",
			Bytecode: []int{0, 1, 2}, VarTypes: map[int][]string{3: {"I"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tt.method.Compile()
			assert.Error(t, err)
		})
	}
}

func TestCompile_LastOffset(t *testing.T) {
	m := Method{
		Class: "LFoo;", Name: "m", Signature: "()V", Code: "iconst_0\npop\nreturn",
		Bytecode: []int{0, 1, 4}, VarTypes: map[int][]string{4: {"I"}},
	}
	out, _, err := m.Compile()
	require.NoError(t, err)
	require.Len(t, out.VarTypes, 5)
	assert.Equal(t, []string{"I"}, out.VarTypes[4])
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "program.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, f.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
