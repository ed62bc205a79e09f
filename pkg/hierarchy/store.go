package hierarchy

import (
	"fmt"
	"maps"
	"slices"
)

// ClassInfo holds the facts a Store keeps for one class.
type ClassInfo struct {
	Interface       bool
	Final           bool
	SuperClass      string
	SuperInterfaces []string
}

// Store is an in-memory Provider keyed by class descriptor. Classes that were
// never added answer "unknown" to every query.
//
// A Store is not synchronized. Configure it before analysis; concurrent
// read-only queries are safe, concurrent mutation is not.
type Store struct {
	contents map[string]ClassInfo
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{contents: make(map[string]ClassInfo)}
}

// SetClass records or replaces the facts for cl. superClass is empty for
// java.lang.Object and for classes whose superclass is unknown.
func (s *Store) SetClass(cl, superClass string, superInterfaces []string, isInterface, isFinal bool) error {
	if cl == "" {
		return fmt.Errorf("class name cannot be empty")
	}
	if superClass == cl {
		return fmt.Errorf("class %s cannot be its own superclass", cl)
	}
	s.contents[cl] = ClassInfo{
		Interface:       isInterface,
		Final:           isFinal,
		SuperClass:      superClass,
		SuperInterfaces: slices.Clone(superInterfaces),
	}
	return nil
}

// RemoveClass forgets everything known about cl.
func (s *Store) RemoveClass(cl string) {
	delete(s.contents, cl)
}

// ContainsClass reports whether facts about cl have been recorded.
func (s *Store) ContainsClass(cl string) bool {
	_, ok := s.contents[cl]
	return ok
}

// ClassNames returns the recorded class names in sorted order.
func (s *Store) ClassNames() []string {
	return slices.Sorted(maps.Keys(s.contents))
}

// Lookup returns the facts recorded for cl.
func (s *Store) Lookup(cl string) (ClassInfo, bool) {
	info, ok := s.contents[cl]
	return info, ok
}

// SuperClass implements Provider.
func (s *Store) SuperClass(cl string) (string, bool) {
	info, ok := s.contents[cl]
	if !ok || info.SuperClass == "" {
		return "", false
	}
	return info.SuperClass, true
}

// SuperInterfaces implements Provider.
func (s *Store) SuperInterfaces(cl string) ([]string, bool) {
	info, ok := s.contents[cl]
	if !ok {
		return nil, false
	}
	return slices.Clone(info.SuperInterfaces), true
}

// SubClasses implements Provider. Only final classes have a known subclass set.
func (s *Store) SubClasses(cl string) ([]string, bool) {
	info, ok := s.contents[cl]
	if !ok || !info.Final {
		return nil, false
	}
	return []string{}, true
}

// IsInterface implements Provider.
func (s *Store) IsInterface(cl string) Ternary {
	info, ok := s.contents[cl]
	switch {
	case !ok:
		return Maybe
	case info.Interface:
		return Yes
	}
	return No
}
