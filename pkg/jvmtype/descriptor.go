package jvmtype

import (
	"fmt"
	"strings"
)

// ValidateDescriptor checks that s is a well-formed field descriptor.
func ValidateDescriptor(s string) error {
	n, err := descriptorLength(s, 0)
	if err != nil {
		return err
	}
	if n != len(s) {
		return fmt.Errorf("trailing characters in descriptor %q", s)
	}
	return nil
}

// descriptorLength returns the length of the field descriptor starting at s[i].
func descriptorLength(s string, i int) (int, error) {
	if i >= len(s) {
		return 0, fmt.Errorf("truncated descriptor %q", s)
	}
	switch s[i] {
	case 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 2 {
			return 0, fmt.Errorf("malformed class descriptor in %q", s)
		}
		return end + 1, nil
	case '[':
		n, err := descriptorLength(s, i+1)
		if err != nil {
			return 0, err
		}
		return n + 1, nil
	}
	return 0, fmt.Errorf("invalid descriptor character %q in %q", s[i], s)
}

// StackType returns the type the JVM uses to hold a value of type t on its
// operand stack: boolean, byte, char and short are promoted to int.
func StackType(t Type) Type {
	if t.kind != KindConcrete {
		return t
	}
	switch t.desc {
	case DescBoolean, DescByte, DescChar, DescShort:
		return Int
	}
	return t
}

// WordSize returns the number of stack words a value of descriptor desc
// occupies: 0 for void, 2 for long and double, 1 otherwise.
func WordSize(desc string) int {
	switch desc {
	case DescVoid:
		return 0
	case DescLong, DescDouble:
		return 2
	}
	return 1
}

// ArrayOf returns the array type with element type t.
func ArrayOf(t Type) Type {
	return Concrete("[" + t.Descriptor())
}

// ReturnType returns the return descriptor of method signature sig.
func ReturnType(sig string) (string, error) {
	i := strings.LastIndexByte(sig, ')')
	if i < 0 || i == len(sig)-1 {
		return "", fmt.Errorf("invalid method descriptor %q", sig)
	}
	ret := sig[i+1:]
	if ret == DescVoid {
		return ret, nil
	}
	if err := ValidateDescriptor(ret); err != nil {
		return "", fmt.Errorf("invalid return type in %q: %w", sig, err)
	}
	return ret, nil
}

// ParamDescriptors returns the parameter descriptors of method signature sig
// in declaration order.
func ParamDescriptors(sig string) ([]string, error) {
	if len(sig) < 3 || sig[0] != '(' {
		return nil, fmt.Errorf("invalid method descriptor %q", sig)
	}
	if strings.IndexByte(sig, ')') < 0 {
		return nil, fmt.Errorf("invalid method descriptor (missing ')'): %q", sig)
	}
	var params []string
	i := 1
	for sig[i] != ')' {
		n, err := descriptorLength(sig, i)
		if err != nil {
			return nil, fmt.Errorf("invalid parameter in %q: %w", sig, err)
		}
		params = append(params, sig[i:i+n])
		i += n
		if i >= len(sig) {
			return nil, fmt.Errorf("invalid method descriptor (missing ')'): %q", sig)
		}
	}
	return params, nil
}

// ParamTypes returns the parameter types of sig, preceded by receiver when it
// is defined.
func ParamTypes(receiver Type, sig string) ([]Type, error) {
	descs, err := ParamDescriptors(sig)
	if err != nil {
		return nil, err
	}
	out := make([]Type, 0, len(descs)+1)
	if receiver.IsDefined() {
		out = append(out, receiver)
	}
	for _, d := range descs {
		out = append(out, Concrete(d))
	}
	return out, nil
}

// ParamTypesInLocals returns the local variable types on method entry. Values
// are promoted to their stack types and two-word values leave the following
// slot Undefined.
func ParamTypesInLocals(receiver Type, sig string) ([]Type, error) {
	descs, err := ParamDescriptors(sig)
	if err != nil {
		return nil, err
	}
	out := make([]Type, 0, len(descs)+1)
	if receiver.IsDefined() {
		out = append(out, receiver)
	}
	for _, d := range descs {
		t := StackType(Concrete(d))
		out = append(out, t)
		if t.IsWide() {
			out = append(out, Undefined)
		}
	}
	return out, nil
}
