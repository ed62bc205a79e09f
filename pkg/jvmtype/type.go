// Package jvmtype models the type tokens tracked for operand-stack slots and
// local variables while typing JVM bytecode.
package jvmtype

import (
	"fmt"
	"strings"
)

// Kind discriminates the variants of a Type.
type Kind uint8

const (
	// KindUndefined is the zero Kind. It marks a local variable slot that holds
	// no usable value.
	KindUndefined Kind = iota
	// KindConcrete is a regular JVM type descriptor such as "I" or "[Ljava/lang/String;".
	KindConcrete
	// KindNull is the type of the null constant.
	KindNull
	// KindUnknown is a reference type that could not be determined precisely.
	KindUnknown
	// KindThis is the receiver of a constructor before the super or this
	// constructor call has completed.
	KindThis
	// KindTop is the result of joining types that have no representable common type.
	KindTop
	// KindUninitialized is an object created by new whose constructor has not run yet.
	KindUninitialized
)

// Common descriptors.
const (
	DescBoolean = "Z"
	DescByte    = "B"
	DescChar    = "C"
	DescShort   = "S"
	DescInt     = "I"
	DescLong    = "J"
	DescFloat   = "F"
	DescDouble  = "D"
	DescVoid    = "V"

	DescObject       = "Ljava/lang/Object;"
	DescString       = "Ljava/lang/String;"
	DescClass        = "Ljava/lang/Class;"
	DescThrowable    = "Ljava/lang/Throwable;"
	DescSerializable = "Ljava/io/Serializable;"
	DescCloneable    = "Ljava/lang/Cloneable;"

	// nullDesc and unknownDesc are the printed forms of Null and Unknown.
	nullDesc    = "L;"
	unknownDesc = "L?;"
)

// Type is a type token. Types are comparable values; two Types are equal when
// they are the same variant with the same payload.
type Type struct {
	kind Kind
	desc string
	site int
}

// Sentinel values.
var (
	Undefined = Type{}
	Null      = Type{kind: KindNull}
	Unknown   = Type{kind: KindUnknown}
	This      = Type{kind: KindThis}
	Top       = Type{kind: KindTop}
)

// Frequently used concrete types.
var (
	Int       = Concrete(DescInt)
	Long      = Concrete(DescLong)
	Float     = Concrete(DescFloat)
	Double    = Concrete(DescDouble)
	Object    = Concrete(DescObject)
	String    = Concrete(DescString)
	Throwable = Concrete(DescThrowable)
)

// Concrete returns the type for descriptor desc. The printed forms of Null and
// Unknown ("L;" and "L?;") map to their sentinels and "" maps to Undefined.
func Concrete(desc string) Type {
	switch desc {
	case "":
		return Undefined
	case nullDesc:
		return Null
	case unknownDesc:
		return Unknown
	}
	return Type{kind: KindConcrete, desc: desc}
}

// Uninitialized returns the type of an object allocated at site whose
// constructor has not completed.
func Uninitialized(site int, desc string) Type {
	return Type{kind: KindUninitialized, desc: desc, site: site}
}

// Kind returns the variant of t.
func (t Type) Kind() Kind { return t.kind }

// Descriptor returns the JVM descriptor carried by t. Null and Unknown report
// their printed forms; This, Top and Undefined report "".
func (t Type) Descriptor() string {
	switch t.kind {
	case KindConcrete, KindUninitialized:
		return t.desc
	case KindNull:
		return nullDesc
	case KindUnknown:
		return unknownDesc
	}
	return ""
}

// Site returns the allocation site of an Uninitialized type and -1 otherwise.
func (t Type) Site() int {
	if t.kind != KindUninitialized {
		return -1
	}
	return t.site
}

// Equal reports whether t and u are the same type.
func (t Type) Equal(u Type) bool { return t == u }

// IsDefined reports whether t holds a value.
func (t Type) IsDefined() bool { return t.kind != KindUndefined }

// Strip removes the uninitialized-allocation tag, returning the underlying
// concrete type. Other types are returned unchanged.
func (t Type) Strip() Type {
	if t.kind == KindUninitialized {
		return Type{kind: KindConcrete, desc: t.desc}
	}
	return t
}

// IsReference reports whether t is a class, interface or array type, the null
// type or an unknown reference. Uninitialized objects are references, This is not.
func (t Type) IsReference() bool {
	switch t.kind {
	case KindNull, KindUnknown, KindUninitialized:
		return true
	case KindConcrete:
		return t.desc[0] == 'L' || t.desc[0] == '['
	}
	return false
}

// IsArray reports whether t is an array type.
func (t Type) IsArray() bool {
	return t.kind == KindConcrete && t.desc[0] == '['
}

// IsPrimitive reports whether t is a primitive (non-reference) concrete type.
func (t Type) IsPrimitive() bool {
	return t.kind == KindConcrete && !t.IsReference()
}

// IsWide reports whether t occupies two local variable slots.
func (t Type) IsWide() bool {
	return t.kind == KindConcrete && (t.desc == DescLong || t.desc == DescDouble)
}

// Element returns the element type of an array type.
func (t Type) Element() (Type, bool) {
	if !t.IsArray() {
		return Undefined, false
	}
	return Concrete(t.desc[1:]), true
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t.kind {
	case KindUndefined:
		return "?"
	case KindThis:
		return "THIS"
	case KindTop:
		return "TOP"
	case KindUninitialized:
		return fmt.Sprintf("#%d#%s", t.site, t.desc)
	}
	return t.Descriptor()
}

// Parse is the inverse of String. It accepts the printed forms of every variant.
func Parse(s string) (Type, error) {
	switch s {
	case "?":
		return Undefined, nil
	case "THIS":
		return This, nil
	case "TOP":
		return Top, nil
	}
	if strings.HasPrefix(s, "#") {
		var site int
		rest := s[1:]
		i := strings.IndexByte(rest, '#')
		if i < 0 {
			return Undefined, fmt.Errorf("malformed uninitialized type %q", s)
		}
		if _, err := fmt.Sscanf(rest[:i], "%d", &site); err != nil {
			return Undefined, fmt.Errorf("malformed allocation site in %q: %w", s, err)
		}
		if err := ValidateDescriptor(rest[i+1:]); err != nil {
			return Undefined, err
		}
		return Uninitialized(site, rest[i+1:]), nil
	}
	if s == nullDesc || s == unknownDesc {
		return Concrete(s), nil
	}
	if err := ValidateDescriptor(s); err != nil {
		return Undefined, err
	}
	return Concrete(s), nil
}

// MustParse is like Parse but panics on malformed input.
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Strings formats a slice of types, mostly for diagnostics and tests.
func Strings(ts []Type) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.String()
	}
	return out
}
