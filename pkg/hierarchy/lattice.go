package hierarchy

import (
	"slices"

	"github.com/715d/bcverify/pkg/jvmtype"
)

// Join classifies the result of FindCommonSupertype.
type Join uint8

const (
	// JoinExact means the returned type is the most specific common supertype.
	JoinExact Join = iota
	// JoinAmbiguous means missing facts, or a mix of class and interfaces that
	// no single type represents, prevented a precise answer. The returned type
	// is Unknown, or an array of Unknown when both inputs are arrays.
	JoinAmbiguous
	// JoinIncomplete means a common class was found but further common
	// interfaces may exist. The returned type is Unknown, or an array of
	// Unknown when both inputs are arrays.
	JoinIncomplete
	// JoinNone means the types provably have no common supertype.
	JoinNone
)

func (j Join) String() string {
	switch j {
	case JoinExact:
		return "exact"
	case JoinAmbiguous:
		return "ambiguous"
	case JoinIncomplete:
		return "incomplete"
	case JoinNone:
		return "none"
	}
	return "invalid"
}

// IsSubtypeOf reports whether t1 is a subtype of t2. Uninitialized types are
// compared by their underlying class. A nil provider makes every undecided
// reference comparison Maybe.
func IsSubtypeOf(h Provider, t1, t2 jvmtype.Type) Ternary {
	t1, t2 = t1.Strip(), t2.Strip()
	switch {
	case !t1.IsDefined() || !t2.IsDefined():
		return No
	case t1 == t2:
		return Yes
	case t1.Kind() == jvmtype.KindUnknown || t2.Kind() == jvmtype.KindUnknown:
		return Maybe
	case t1.Kind() == jvmtype.KindNull:
		if t2.IsReference() {
			return Yes
		}
		return No
	case !t1.IsReference() || !t2.IsReference() || t2.Kind() == jvmtype.KindNull:
		return No
	}

	d1, d2 := t1.Descriptor(), t2.Descriptor()
	if t1.IsArray() {
		switch {
		case isArraySupertype(d2):
			return Yes
		case t2.IsArray():
			e1, _ := t1.Element()
			e2, _ := t2.Element()
			return IsSubtypeOf(h, e1, e2)
		}
		return No
	}
	if t2.IsArray() {
		return No
	}
	if h == nil {
		return Maybe
	}
	return checkSubtypeOfHierarchy(h, d1, d2)
}

// FindCommonSupertype computes the most specific common supertype of t1 and t2
// as far as h allows. The Join result says how far the answer can be trusted;
// the type is only meaningful for JoinExact. For JoinAmbiguous and
// JoinIncomplete it is Unknown, or [L?; when two reference arrays have
// elements that do not join exactly.
func FindCommonSupertype(h Provider, t1, t2 jvmtype.Type) (jvmtype.Type, Join) {
	t1, t2 = t1.Strip(), t2.Strip()
	switch {
	case !t1.IsDefined() || !t2.IsDefined():
		return jvmtype.Undefined, JoinNone
	case t1 == t2:
		return t1, JoinExact
	case t1.Kind() == jvmtype.KindUnknown || t2.Kind() == jvmtype.KindUnknown:
		if t1.IsReference() && t2.IsReference() {
			return jvmtype.Unknown, JoinAmbiguous
		}
		return jvmtype.Undefined, JoinNone
	case !t1.IsReference() || !t2.IsReference():
		return jvmtype.Undefined, JoinNone
	}

	// Null joins to the other operand.
	if t1.Kind() == jvmtype.KindNull {
		return t2, JoinExact
	}
	if t2.Kind() == jvmtype.KindNull {
		return t1, JoinExact
	}

	if t2.IsArray() {
		t1, t2 = t2, t1
	}
	if t1.IsArray() {
		return joinArray(h, t1, t2)
	}
	if h == nil {
		return jvmtype.Unknown, JoinAmbiguous
	}
	return findCommonSupertypeHierarchy(h, t1, t2)
}

// joinArray joins array type a with reference type b.
func joinArray(h Provider, a, b jvmtype.Type) (jvmtype.Type, Join) {
	if !b.IsArray() {
		switch b.Descriptor() {
		case jvmtype.DescSerializable, jvmtype.DescCloneable:
			return b, JoinExact
		}
		return jvmtype.Object, JoinExact
	}
	e1, _ := a.Element()
	e2, _ := b.Element()
	if !e1.IsReference() || !e2.IsReference() {
		return jvmtype.Object, JoinExact
	}
	elem, j := FindCommonSupertype(h, e1, e2)
	switch j {
	case JoinNone:
		return jvmtype.Object, JoinExact
	case JoinExact:
		return jvmtype.ArrayOf(elem), JoinExact
	}
	return jvmtype.ArrayOf(jvmtype.Unknown), j
}

func isArraySupertype(desc string) bool {
	switch desc {
	case jvmtype.DescObject, jvmtype.DescSerializable, jvmtype.DescCloneable:
		return true
	}
	return false
}

// superChain returns cl followed by its known superclasses. exact reports
// whether the chain ends at java.lang.Object. Cyclic provider data ends the
// walk as inexact.
func superChain(h Provider, cl string) (chain []string, exact bool) {
	seen := make(map[string]struct{})
	for c := cl; ; {
		if _, dup := seen[c]; dup {
			return chain, false
		}
		seen[c] = struct{}{}
		chain = append(chain, c)
		sup, ok := h.SuperClass(c)
		if !ok {
			return chain, c == jvmtype.DescObject
		}
		c = sup
	}
}

func checkSuperinterfacesContain(h Provider, t1, t2 string, visited map[string]struct{}) Ternary {
	ifaces, ok := h.SuperInterfaces(t1)
	if !ok {
		return Maybe
	}

	r := No
	for _, iface := range ifaces {
		if _, seen := visited[iface]; seen {
			continue
		}
		visited[iface] = struct{}{}
		if iface == t2 {
			return Yes
		}
		switch checkSuperinterfacesContain(h, iface, t2, visited) {
		case Yes:
			return Yes
		case Maybe:
			r = Maybe
		}
	}
	return r
}

func checkSupertypesContain(h Provider, t1, t2 string) Ternary {
	chain, exact := superChain(h, t1)
	for _, c := range chain[1:] {
		if c == t2 {
			return Yes
		}
	}

	r := No
	if !exact {
		r = Maybe
	}

	if h.IsInterface(t2) != No {
		visited := make(map[string]struct{})
		for _, c := range chain {
			switch checkSuperinterfacesContain(h, c, t2, visited) {
			case Yes:
				return Yes
			case Maybe:
				r = Maybe
			}
		}
	}
	return r
}

func checkSubtypesContain(h Provider, t1, t2 string, visited map[string]struct{}) Ternary {
	// No interface is a subclass of a real class.
	if h.IsInterface(t1) == No && h.IsInterface(t2) == Yes {
		return No
	}

	subs, ok := h.SubClasses(t1)
	if !ok {
		return Maybe
	}

	r := No
	for _, sub := range subs {
		if _, seen := visited[sub]; seen {
			continue
		}
		visited[sub] = struct{}{}
		if sub == t2 {
			return Yes
		}
		switch checkSubtypesContain(h, sub, t2, visited) {
		case Yes:
			return Yes
		case Maybe:
			r = Maybe
		}
	}
	return r
}

func checkSubtypeOfHierarchy(h Provider, t1, t2 string) Ternary {
	if t2 == jvmtype.DescObject {
		return Yes
	}
	v := checkSupertypesContain(h, t1, t2)
	if v == Maybe {
		v = checkSubtypesContain(h, t2, t1, make(map[string]struct{}))
	}
	return v
}

// insertSuperInterfaces adds the transitive superinterfaces of t to supers and
// reports whether every interface list along the way was known.
func insertSuperInterfaces(h Provider, t string, supers map[string]struct{}) bool {
	ifaces, ok := h.SuperInterfaces(t)
	if !ok {
		return false
	}
	exact := true
	for _, iface := range ifaces {
		if _, seen := supers[iface]; seen {
			continue
		}
		supers[iface] = struct{}{}
		if !insertSuperInterfaces(h, iface, supers) {
			exact = false
		}
	}
	return exact
}

func findCommonSupertypeHierarchy(h Provider, t1, t2 jvmtype.Type) (jvmtype.Type, Join) {
	if IsSubtypeOf(h, t1, t2) == Yes {
		return t2, JoinExact
	}
	if IsSubtypeOf(h, t2, t1) == Yes {
		return t1, JoinExact
	}
	d1, d2 := t1.Descriptor(), t2.Descriptor()

	chain1, t1ExactClasses := superChain(h, d1)
	t1Supers := map[string]struct{}{jvmtype.DescObject: {}}
	for _, c := range chain1 {
		t1Supers[c] = struct{}{}
	}
	t1ClassCount := len(t1Supers)
	t1ExactInterfaces := true
	for _, c := range chain1 {
		if !insertSuperInterfaces(h, c, t1Supers) {
			t1ExactInterfaces = false
		}
	}

	// The first class on t2's chain that is also a superclass of t1 dominates.
	chain2, _ := superChain(h, d2)
	dominating := -1
	for i, c := range chain2 {
		if _, ok := t1Supers[c]; ok {
			dominating = i
			break
		}
	}
	if dominating < 0 {
		return jvmtype.Unknown, JoinAmbiguous
	}
	if !t1ExactClasses && !slices.Contains(chain1, chain2[dominating]) {
		// A class of t2 may hide in the unknown part of t1's chain.
		return jvmtype.Unknown, JoinAmbiguous
	}
	result := map[string]struct{}{chain2[dominating]: {}}

	t2ExactInterfaces := true
	if !t1ExactClasses {
		t1ExactInterfaces = false
	}
	if !t1ExactInterfaces || len(t1Supers) > t1ClassCount {
		t2Ifaces := make(map[string]struct{})
		for _, c := range chain2[:dominating] {
			if !insertSuperInterfaces(h, c, t2Ifaces) {
				t2ExactInterfaces = false
			}
		}
		if !t1ExactInterfaces && len(t2Ifaces) > 0 {
			// An interface of t2 might also apply to t1.
			return jvmtype.Unknown, JoinAmbiguous
		}
		for iface := range t2Ifaces {
			if _, ok := t1Supers[iface]; ok {
				result[iface] = struct{}{}
			}
		}
	}

	if !t2ExactInterfaces {
		return jvmtype.Unknown, JoinIncomplete
	}

	// Drop members subsumed by a more specific member.
	for elem := range result {
		for other := range result {
			if elem != other && IsSubtypeOf(h, jvmtype.Concrete(other), jvmtype.Concrete(elem)) == Yes {
				delete(result, elem)
				break
			}
		}
	}

	switch len(result) {
	case 0:
		return jvmtype.Object, JoinExact
	case 1:
		for only := range result {
			return jvmtype.Concrete(only), JoinExact
		}
	}
	return jvmtype.Unknown, JoinAmbiguous
}
