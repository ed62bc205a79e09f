package typeflow

import (
	"fmt"

	"golang.org/x/tools/container/intsets"
)

// BackEdges returns, for every instruction, the instructions that reach it by
// a branch or an exception handler, in ascending order. Fall-through edges are
// not included.
func (a *Analyzer) BackEdges() [][]int {
	if a.backEdges != nil {
		return a.backEdges
	}

	back := make([][]int, len(a.instructions))
	add := func(to, from int) {
		if n := len(back[to]); n > 0 && back[to][n-1] == from {
			return
		}
		back[to] = append(back[to], from)
	}
	for i, in := range a.instructions {
		for _, t := range in.BranchTargets() {
			add(t, i)
		}
		for _, h := range a.handlers[i] {
			add(h.Handler, i)
		}
	}
	a.backEdges = back
	return back
}

// BasicBlockStarts returns the set of instructions that begin a basic block:
// the entry, every branch target and every handler. The returned set is
// shared; callers must not modify it.
func (a *Analyzer) BasicBlockStarts() *intsets.Sparse {
	if a.blockStarts != nil {
		return a.blockStarts
	}

	s := new(intsets.Sparse)
	s.Insert(0)
	for i, in := range a.instructions {
		for _, t := range in.BranchTargets() {
			s.Insert(t)
		}
		for _, h := range a.handlers[i] {
			s.Insert(h.Handler)
		}
	}
	a.blockStarts = s
	return s
}

// AllInstructions returns a new set holding every instruction index.
func (a *Analyzer) AllInstructions() *intsets.Sparse {
	s := new(intsets.Sparse)
	for i := range a.instructions {
		s.Insert(i)
	}
	return s
}

// ReachableFrom returns the instructions reachable from from, including from
// itself. A non-nil mask limits the walk to its members.
func (a *Analyzer) ReachableFrom(from int, followHandlers bool, mask *intsets.Sparse) (*intsets.Sparse, error) {
	reachable := new(intsets.Sparse)
	if err := a.ReachableFromUpdate(from, reachable, followHandlers, mask); err != nil {
		return nil, err
	}
	return reachable, nil
}

// ReachableFromUpdate is like ReachableFrom but clears and fills reachable.
func (a *Analyzer) ReachableFromUpdate(from int, reachable *intsets.Sparse, followHandlers bool, mask *intsets.Sparse) error {
	if reachable == nil {
		return fmt.Errorf("reachable set is nil")
	}
	if err := a.checkIndex(from); err != nil {
		return err
	}
	reachable.Clear()

	stack := []int{from}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for {
			if reachable.Has(i) || (mask != nil && !mask.Has(i)) {
				break
			}
			reachable.Insert(i)

			in := a.instructions[i]
			stack = append(stack, in.BranchTargets()...)
			if followHandlers {
				for _, h := range a.handlers[i] {
					stack = append(stack, h.Handler)
				}
			}
			if !in.FallsThrough() || i+1 >= len(a.instructions) {
				break
			}
			i++
		}
	}
	return nil
}

// ReachingTo returns the instructions from which to can be reached. to itself
// is only included when it lies on a cycle. A non-nil mask limits the walk to
// its members.
func (a *Analyzer) ReachingTo(to int, mask *intsets.Sparse) (*intsets.Sparse, error) {
	reaching := new(intsets.Sparse)
	if err := a.ReachingToUpdate(to, reaching, mask); err != nil {
		return nil, err
	}
	return reaching, nil
}

// ReachingToUpdate is like ReachingTo but clears and fills reaching.
func (a *Analyzer) ReachingToUpdate(to int, reaching, mask *intsets.Sparse) error {
	if reaching == nil {
		return fmt.Errorf("reaching set is nil")
	}
	if err := a.checkIndex(to); err != nil {
		return err
	}
	back := a.BackEdges()
	reaching.Clear()

	stack := append([]int(nil), back[to]...)
	if to > 0 && a.instructions[to-1].FallsThrough() {
		stack = append(stack, to-1)
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for {
			if reaching.Has(i) || (mask != nil && !mask.Has(i)) {
				break
			}
			reaching.Insert(i)

			stack = append(stack, back[i]...)
			if i == 0 || !a.instructions[i-1].FallsThrough() {
				break
			}
			i--
		}
	}
	return nil
}

func (a *Analyzer) checkIndex(i int) error {
	if i < 0 || i >= len(a.instructions) {
		return fmt.Errorf("instruction index %d out of range [0, %d)", i, len(a.instructions))
	}
	return nil
}

// StackSizes returns the operand stack depth on entry to every instruction, or
// -1 for unreachable instructions. Exception handlers are entered with depth 1.
// A path stops at the first instruction that would underflow the stack; code
// reachable only past that point keeps -1 and the underflow itself is left to
// ComputeTypes, which reports it with the path that led there.
func (a *Analyzer) StackSizes() ([]int, error) {
	if a.stackSizes != nil {
		return a.stackSizes, nil
	}

	sizes := make([]int, len(a.instructions))
	for i := range sizes {
		sizes[i] = -1
	}

	type entry struct{ index, size int }
	work := []entry{{0, 0}}
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]

		for i, size := e.index, e.size; ; {
			if sizes[i] >= 0 {
				if sizes[i] != size {
					return nil, &Failure{Offset: i, Reason: "Stack size mismatch"}
				}
				break
			}
			sizes[i] = size

			in := a.instructions[i]
			if size < in.PoppedCount() {
				break
			}
			size = sizeAfter(in, size)
			for _, t := range in.BranchTargets() {
				work = append(work, entry{t, size})
			}
			for _, h := range a.handlers[i] {
				work = append(work, entry{h.Handler, 1})
			}
			if !in.FallsThrough() {
				break
			}
			if i+1 == len(a.instructions) {
				return nil, &Failure{Offset: i, Reason: "Control falls off the end of the method"}
			}
			i++
		}
	}
	a.stackSizes = sizes
	return sizes, nil
}
