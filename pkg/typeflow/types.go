package typeflow

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/bcverify/pkg/hierarchy"
	"github.com/715d/bcverify/pkg/instr"
	"github.com/715d/bcverify/pkg/jvmtype"
)

// ComputeTypes recomputes the type tables from scratch. States are recorded
// and joined only at instructions in mergePoints, which must contain every
// basic block start. With wantPath, failures carry the path that produced the
// offending state. v may be nil.
func (a *Analyzer) ComputeTypes(v Visitor, mergePoints *intsets.Sparse, wantPath bool) error {
	if mergePoints == nil {
		return fmt.Errorf("merge point set is nil")
	}
	start := time.Now()
	if err := a.initTypeInfo(); err != nil {
		return err
	}

	r := &run{
		a:           a,
		visitor:     v,
		mergePoints: mergePoints,
		wantPath:    wantPath,
		stack:       make([]jvmtype.Type, a.maxStack),
		locals:      make([]jvmtype.Type, a.maxLocals),
	}
	r.schedule(0, nil)
	for len(r.work) > 0 {
		e := r.work[len(r.work)-1]
		r.work = r.work[:len(r.work)-1]
		if err := r.propagate(e.index, e.path); err != nil {
			return err
		}
	}

	slog.Debug("computed types",
		"class", a.classType,
		"method", a.name,
		"signature", a.signature,
		"instructions", len(a.instructions),
		"runs", r.runs,
		"dur", time.Since(start))
	return nil
}

// IsSubtypeOf reports whether t1 may be a subtype of t2. This stands for the
// declaring class and uninitialized objects for their class. Only a definite
// No is rejected.
func (a *Analyzer) IsSubtypeOf(t1, t2 jvmtype.Type) bool {
	return a.Subtype(t1, t2) != hierarchy.No
}

// Subtype is the three-valued form of IsSubtypeOf.
func (a *Analyzer) Subtype(t1, t2 jvmtype.Type) hierarchy.Ternary {
	return hierarchy.IsSubtypeOf(a.hierarchy, a.patch(t1), a.patch(t2))
}

// FindCommonSupertype joins two slot types. An uninitialized object only
// joins with an identical one (same allocation site and class) and yields Top
// otherwise. Null yields to the other reference, This and Top absorb
// everything, and mixing primitive and non-primitive values yields Top. Other
// pairs are joined by the hierarchy.
func (a *Analyzer) FindCommonSupertype(t1, t2 jvmtype.Type) (jvmtype.Type, hierarchy.Join) {
	switch {
	case t1 == t2:
		return t1, hierarchy.JoinExact
	case t1.Kind() == jvmtype.KindUninitialized || t2.Kind() == jvmtype.KindUninitialized:
		return jvmtype.Top, hierarchy.JoinExact
	case t1.Kind() == jvmtype.KindNull && t2.IsReference():
		return t2, hierarchy.JoinExact
	case t2.Kind() == jvmtype.KindNull && t1.IsReference():
		return t1, hierarchy.JoinExact
	case isSentinel(t1) || isSentinel(t2):
		return jvmtype.Top, hierarchy.JoinExact
	case t1.IsPrimitive() != t2.IsPrimitive():
		return jvmtype.Top, hierarchy.JoinExact
	}
	return hierarchy.FindCommonSupertype(a.hierarchy, a.patch(t1), a.patch(t2))
}

func isSentinel(t jvmtype.Type) bool {
	return t.Kind() == jvmtype.KindThis || t.Kind() == jvmtype.KindTop
}

func (a *Analyzer) patch(t jvmtype.Type) jvmtype.Type {
	if t.Kind() == jvmtype.KindThis {
		return jvmtype.Concrete(a.classType)
	}
	return t.Strip()
}

type workItem struct {
	index int
	path  *pathNode
}

// run holds the state of one ComputeTypes call.
type run struct {
	a           *Analyzer
	visitor     Visitor
	mergePoints *intsets.Sparse
	wantPath    bool

	work []workItem
	runs int

	// Working copies of the current state. stack[:size] is live.
	stack  []jvmtype.Type
	size   int
	locals []jvmtype.Type
}

func (r *run) schedule(i int, path *pathNode) {
	r.work = append(r.work, workItem{index: i, path: path})
}

// propagate simulates the straight-line run starting at i, merging into every
// successor and scheduling those whose state changed.
func (r *run) propagate(i int, path *pathNode) error {
	a := r.a
	for {
		r.runs++
		if r.wantPath {
			path = path.push(PathElement{
				Index:  i,
				Stack:  cloneTypes(a.stacks[i]),
				Locals: cloneTypes(a.locals[i]),
			})
		}
		r.size = copy(r.stack, a.stacks[i])
		copy(r.locals, a.locals[i])

		restart := false
		for !restart {
			in := a.instructions[i]
			if r.size < in.PoppedCount() {
				return r.fail(i, "Stack underflow", path)
			}

			if r.visitor != nil {
				f := &Frame{Index: i, Instruction: in, Stack: r.stack[:r.size], Locals: r.locals, path: path}
				if err := r.visitor.Visit(f); err != nil {
					var fail *Failure
					if errors.As(err, &fail) {
						return err
					}
					return fmt.Errorf("visit instruction %d: %w", i, err)
				}
			}

			r.apply(i, in)

			for _, h := range a.handlers[i] {
				changed, err := r.merge(h.Handler, []jvmtype.Type{h.CatchType()}, path)
				if err != nil {
					return err
				}
				if changed {
					r.schedule(h.Handler, path)
				}
			}
			for _, t := range in.BranchTargets() {
				changed, err := r.merge(t, r.stack[:r.size], path)
				if err != nil {
					return err
				}
				if changed {
					r.schedule(t, path)
				}
			}

			if !in.FallsThrough() {
				return nil
			}
			i++
			if i == len(a.instructions) {
				return r.fail(i-1, "Control falls off the end of the method", path)
			}
			if r.mergePoints.Has(i) {
				changed, err := r.merge(i, r.stack[:r.size], path)
				if err != nil {
					return err
				}
				if !changed {
					return nil
				}
				restart = true
			}
		}
	}
}

func (r *run) fail(i int, reason string, path *pathNode) *Failure {
	return &Failure{Offset: i, Reason: reason, Path: path.elements()}
}

// apply executes the stack and locals effect of instruction i.
func (r *run) apply(i int, in instr.Instruction) {
	popped := in.PoppedCount()
	switch v := in.(type) {
	case instr.Dup:
		copy(r.stack[popped+v.Size:], r.stack[popped:r.size])
		copy(r.stack[popped:], r.stack[:v.Size])
		r.size += v.Size
		return
	case instr.Swap:
		r.stack[0], r.stack[1] = r.stack[1], r.stack[0]
		return
	}

	pushed := in.PushedType(r.stack[:r.size])
	if n, ok := in.(instr.New); ok && n.ArrayBoundsCount == 0 && !pushed.IsArray() {
		pushed = jvmtype.Uninitialized(r.a.allocationSite(i), n.Type)
	}

	if pushed.IsDefined() {
		copy(r.stack[1:], r.stack[popped:r.size])
		r.size = r.size - popped + 1
		r.stack[0] = jvmtype.StackType(pushed)
		if load, ok := in.(instr.LocalLoad); ok {
			r.stack[0] = r.locals[load.Var]
		}
		return
	}

	switch v := in.(type) {
	case instr.LocalStore:
		r.store(i, v.Var)
	case instr.Invoke:
		if v.IsConstructorCall() {
			r.initialize(v)
		}
	}
	copy(r.stack, r.stack[popped:r.size])
	r.size -= popped
}

func (a *Analyzer) allocationSite(i int) int {
	if bc := a.bytecodeOffset(i); bc >= 0 {
		return bc
	}
	return i
}

// store writes the top of stack into local index.
func (r *run) store(i, index int) {
	t := r.stack[0]
	r.locals[index] = t
	if t.IsWide() && index+1 < len(r.locals) {
		r.locals[index+1] = jvmtype.Undefined
	}
	if index > 0 && r.locals[index-1].IsWide() {
		r.locals[index-1] = jvmtype.Undefined
	}

	if t.Kind() != jvmtype.KindNull || r.a.varTypes == nil {
		return
	}
	// A null store says nothing about the variable; prefer its declared type
	// at this instruction or the next one.
	for _, at := range []int{i, i + 1} {
		if at >= len(r.a.instructions) {
			continue
		}
		if declared := r.a.declaredType(r.a.bytecodeOffset(at), index); declared != "" {
			r.locals[index] = jvmtype.Concrete(declared)
		}
	}
}

func (a *Analyzer) declaredType(bc, local int) string {
	if bc < 0 || bc >= len(a.varTypes) || local >= len(a.varTypes[bc]) {
		return ""
	}
	return a.varTypes[bc][local]
}

// initialize marks the receiver of an <init> call as constructed.
func (r *run) initialize(call instr.Invoke) {
	receiver := r.stack[call.ParamCount()-1]
	switch {
	case receiver.Kind() == jvmtype.KindUninitialized:
		r.replace(receiver, receiver.Strip())
	case receiver.Kind() == jvmtype.KindThis && r.a.constructor:
		r.replace(jvmtype.This, jvmtype.Concrete(r.a.classType))
	}
}

func (r *run) replace(from, to jvmtype.Type) {
	for j := range r.size {
		if r.stack[j] == from {
			r.stack[j] = to
		}
	}
	for j, t := range r.locals {
		if t == from {
			r.locals[j] = to
		}
	}
}

// merge joins the given stack and the current locals into the recorded state
// of instruction i and reports whether that state changed.
func (r *run) merge(i int, stack []jvmtype.Type, path *pathNode) (bool, error) {
	a := r.a
	if a.stacks[i] == nil {
		a.stacks[i] = cloneTypes(stack)
		a.locals[i] = cloneTypes(r.locals)
		return true, nil
	}

	changed := false
	st := a.stacks[i]
	if len(st) != len(stack) {
		return false, r.fail(i, fmt.Sprintf("Stack size mismatch: %d, %d", len(st), len(stack)), path)
	}
	for j := range st {
		t, join := a.FindCommonSupertype(st[j], stack[j])
		if join == hierarchy.JoinNone {
			return false, r.fail(i, fmt.Sprintf("Stack type mismatch at %d (%s vs %s)", j, st[j], stack[j]), path)
		}
		if t != st[j] {
			st[j] = t
			changed = true
		}
	}

	ls := a.locals[i]
	for j := range ls {
		t := a.joinLocal(ls[j], r.locals[j])
		if t != ls[j] {
			ls[j] = t
			changed = true
		}
	}
	return changed, nil
}

func (a *Analyzer) joinLocal(t1, t2 jvmtype.Type) jvmtype.Type {
	if !t1.IsDefined() || !t2.IsDefined() {
		return jvmtype.Undefined
	}
	t, join := a.FindCommonSupertype(t1, t2)
	if join == hierarchy.JoinNone {
		return jvmtype.Undefined
	}
	return t
}

func cloneTypes(ts []jvmtype.Type) []jvmtype.Type {
	out := make([]jvmtype.Type, len(ts))
	copy(out, ts)
	return out
}
