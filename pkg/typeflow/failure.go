package typeflow

import (
	"fmt"
	"io"
	"strings"

	"github.com/715d/bcverify/pkg/jvmtype"
)

// Failure reports bytecode that cannot be typed or does not verify.
type Failure struct {
	// Offset is the index of the offending instruction.
	Offset int
	Reason string
	// Path lists the states through which the offending value flowed, oldest
	// first. It is nil unless a path was requested.
	Path []PathElement
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s at offset %d", f.Reason, f.Offset)
}

// WritePath prints one line per path element:
//
//	Offset 3: [I,Ljava/lang/String;], [LFoo;,?]
func (f *Failure) WritePath(w io.Writer) error {
	for _, e := range f.Path {
		if _, err := fmt.Fprintf(w, "Offset %d: [%s], [%s]\n", e.Index, joinTypes(e.Stack), joinTypes(e.Locals)); err != nil {
			return err
		}
	}
	return nil
}

func joinTypes(ts []jvmtype.Type) string {
	return strings.Join(jvmtype.Strings(ts), ",")
}

// PathElement is the recorded state at the start of one straight-line run of
// the analysis.
type PathElement struct {
	Index  int
	Stack  []jvmtype.Type
	Locals []jvmtype.Type
}

// pathNode is an immutable list of path elements linked from newest to oldest.
// Runs scheduled from the same point share their prefix.
type pathNode struct {
	elem   PathElement
	parent *pathNode
	depth  int
}

func (p *pathNode) push(e PathElement) *pathNode {
	depth := 1
	if p != nil {
		depth = p.depth + 1
	}
	return &pathNode{elem: e, parent: p, depth: depth}
}

func (p *pathNode) elements() []PathElement {
	if p == nil {
		return nil
	}
	out := make([]PathElement, p.depth)
	for n := p; n != nil; n = n.parent {
		out[n.depth-1] = n.elem
	}
	return out
}
