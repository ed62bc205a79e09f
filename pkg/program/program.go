// Package program reads YAML program files: a partial class hierarchy plus
// a set of method bodies written in the asm mnemonic syntax.
//
//	format: "1.0"
//	classes:
//	  - name: LBase;
//	    super: Ljava/lang/Object;
//	methods:
//	  - class: LBase;
//	    name: id
//	    signature: (I)I
//	    static: true
//	    code: |
//	      iload_0
//	      ireturn
package program

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	yaml "gopkg.in/yaml.v3"

	"github.com/715d/bcverify/pkg/asm"
	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/jvmtype"
	"github.com/715d/bcverify/pkg/typeflow"
)

// FormatConstraint is the range of format versions this package reads.
const FormatConstraint = "^1"

var formatConstraint = mustConstraint(FormatConstraint)

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// File is a parsed program file.
type File struct {
	// Path is where the file was loaded from, if anywhere.
	Path    string   `yaml:"-"`
	Format  string   `yaml:"format"`
	Classes []Class  `yaml:"classes,omitempty"`
	Methods []Method `yaml:"methods"`
}

// Class records what is known about one class or interface.
type Class struct {
	Name       string   `yaml:"name"`
	Super      string   `yaml:"super,omitempty"`
	Interfaces []string `yaml:"interfaces,omitempty"`
	Interface  bool     `yaml:"interface,omitempty"`
	Final      bool     `yaml:"final,omitempty"`
}

// Method is one method body.
type Method struct {
	Class     string `yaml:"class"`
	Name      string `yaml:"name"`
	Signature string `yaml:"signature"`
	Static    bool   `yaml:"static,omitempty"`
	Code      string `yaml:"code"`
	// Bytecode optionally maps instruction indices to bytecode offsets.
	Bytecode []int `yaml:"bytecode,omitempty"`
	// VarTypes maps bytecode offsets to declared local variable descriptors.
	VarTypes map[int][]string `yaml:"var_types,omitempty"`
}

// ID returns the method's display name, such as "LFoo;.bar(I)V".
func (m *Method) ID() string {
	return m.Class + "." + m.Name + m.Signature
}

// Lines returns the source lines of the method body.
func (m *Method) Lines() []string {
	return strings.Split(strings.ReplaceAll(m.Code, "\r\n", "\n"), "\n")
}

// Load reads and parses the program file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	f.Path = path
	return f, nil
}

// Parse decodes a program file. Unknown fields are rejected.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty program file")
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Format == "" {
		return fmt.Errorf("missing format version")
	}
	v, err := semver.NewVersion(f.Format)
	if err != nil {
		return fmt.Errorf("format version %q: %w", f.Format, err)
	}
	if !formatConstraint.Check(v) {
		return fmt.Errorf("unsupported format version %s (want %s)", v, FormatConstraint)
	}

	seen := make(map[string]bool, len(f.Classes))
	for _, c := range f.Classes {
		if err := jvmtype.ValidateDescriptor(c.Name); err != nil {
			return fmt.Errorf("class %q: %w", c.Name, err)
		}
		if seen[c.Name] {
			return fmt.Errorf("class %s declared twice", c.Name)
		}
		seen[c.Name] = true
		for _, ref := range append([]string{c.Super}, c.Interfaces...) {
			if ref == "" {
				continue
			}
			if err := jvmtype.ValidateDescriptor(ref); err != nil {
				return fmt.Errorf("class %s: %w", c.Name, err)
			}
		}
	}

	ids := make(map[string]bool, len(f.Methods))
	for i := range f.Methods {
		m := &f.Methods[i]
		if m.Class == "" || m.Name == "" || m.Signature == "" {
			return fmt.Errorf("method %d: class, name and signature are required", i)
		}
		if ids[m.ID()] {
			return fmt.Errorf("method %s declared twice", m.ID())
		}
		ids[m.ID()] = true
	}
	return nil
}

// Hierarchy returns a store holding the file's classes.
func (f *File) Hierarchy() (*hierarchy.Store, error) {
	s := hierarchy.NewStore()
	for _, c := range f.Classes {
		if err := s.SetClass(c.Name, c.Super, c.Interfaces, c.Interface, c.Final); err != nil {
			return nil, fmt.Errorf("add class: %w", err)
		}
	}
	return s, nil
}

// Compile assembles m into the analyzer's input form.
func (m *Method) Compile() (typeflow.Method, *asm.Code, error) {
	code, err := asm.ParseLines(m.Lines())
	if err != nil {
		return typeflow.Method{}, nil, fmt.Errorf("method %s: %w", m.ID(), err)
	}
	if m.Bytecode != nil && len(m.Bytecode) != len(code.Instructions) {
		return typeflow.Method{}, nil, fmt.Errorf("method %s: %d bytecode offsets for %d instructions",
			m.ID(), len(m.Bytecode), len(code.Instructions))
	}

	out := typeflow.Method{
		Name:                  m.Name,
		Static:                m.Static,
		ClassType:             m.Class,
		Signature:             m.Signature,
		Instructions:          code.Instructions,
		Handlers:              code.Handlers,
		InstructionToBytecode: m.Bytecode,
	}
	if len(m.VarTypes) > 0 {
		last := len(code.Instructions) - 1
		if len(m.Bytecode) > 0 {
			last = slices.Max(m.Bytecode)
		}
		offsets := make([]int, 0, len(m.VarTypes))
		for off := range m.VarTypes {
			if off < 0 {
				return typeflow.Method{}, nil, fmt.Errorf("method %s: negative bytecode offset %d", m.ID(), off)
			}
			if off > last {
				return typeflow.Method{}, nil, fmt.Errorf("method %s: var_types offset %d past the end of the code", m.ID(), off)
			}
			offsets = append(offsets, off)
		}
		out.VarTypes = make([][]string, slices.Max(offsets)+1)
		for off, descs := range m.VarTypes {
			for _, d := range descs {
				if d == "" {
					continue
				}
				if err := jvmtype.ValidateDescriptor(d); err != nil {
					return typeflow.Method{}, nil, fmt.Errorf("method %s: var_types at %d: %w", m.ID(), off, err)
				}
			}
			out.VarTypes[off] = slices.Clone(descs)
		}
	}
	return out, code, nil
}
