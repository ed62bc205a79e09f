// Package hierarchy answers subtype and common-supertype questions over a
// possibly incomplete class hierarchy.
//
// Every query tolerates missing facts: an unknown superclass, interface list or
// subclass set downgrades an answer to Maybe (or a join to Unknown) instead of
// producing an error or a false claim.
package hierarchy

// Ternary is a three-valued answer to a hierarchy query. Maybe means the
// available facts are insufficient, never "false".
type Ternary uint8

const (
	No Ternary = iota + 1
	Yes
	Maybe
)

func (t Ternary) String() string {
	switch t {
	case No:
		return "NO"
	case Yes:
		return "YES"
	case Maybe:
		return "MAYBE"
	}
	return "INVALID"
}

// Provider is a source of class hierarchy facts. Classes are named by their JVM
// descriptors ("Ljava/lang/Object;"). The boolean results report whether the
// answer is known; an unknown answer must never be treated as empty.
type Provider interface {
	// SuperClass returns the direct superclass of cl. It reports false when
	// cl has no superclass or the superclass is unknown.
	SuperClass(cl string) (string, bool)

	// SuperInterfaces returns the interfaces cl directly implements or, for an
	// interface, directly extends. It reports false when the set is unknown.
	SuperInterfaces(cl string) ([]string, bool)

	// SubClasses returns the direct subtypes of cl. It reports false when the
	// set is unknown; an empty known set means cl has no subtypes at all, as
	// for a final class.
	SubClasses(cl string) ([]string, bool)

	// IsInterface reports whether cl is an interface.
	IsInterface(cl string) Ternary
}
