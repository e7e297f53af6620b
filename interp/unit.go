package interp

import (
	"fmt"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/heap"
)

// Unit is a registered module with its constant pool materialized as values.
// The unit owns one reference to every heap-backed constant and to its own
// module object; both are released by Release.
type Unit struct {
	ID     uint32
	Code   *bytecode.Module
	Consts []heap.Value
	Ref    heap.Value
}

// UnitLookup resolves a module id to a registered unit.
type UnitLookup func(id uint32) (*Unit, bool)

// NewUnit materializes the constants of m on h. ConstModule entries are
// resolved through lookup and share the referenced unit's module object.
func NewUnit(h *heap.Heap, id uint32, m *bytecode.Module, lookup UnitLookup) (*Unit, error) {
	u := &Unit{
		ID:     id,
		Code:   m,
		Consts: make([]heap.Value, len(m.Constants)),
	}

	for i, c := range m.Constants {
		switch c.Kind {
		case bytecode.ConstInt:
			u.Consts[i] = heap.Int(c.Int)
		case bytecode.ConstFloat:
			u.Consts[i] = heap.Float(c.Float)
		case bytecode.ConstBool:
			u.Consts[i] = heap.Bool(c.Bool)
		case bytecode.ConstAtom:
			u.Consts[i] = h.Atom(c.Text)
		case bytecode.ConstStr:
			u.Consts[i] = h.NewString(c.Text)
		case bytecode.ConstEntry:
			u.Consts[i] = h.NewClosure(id, c.Entry, nil)
		case bytecode.ConstModule:
			other, ok := lookup(c.Module)
			if !ok {
				h.ReleaseAll(u.Consts[:i])
				return nil, fmt.Errorf("%w: module %d is not loaded", bytecode.ErrLoad, c.Module)
			}
			h.Retain(other.Ref)
			u.Consts[i] = other.Ref
		default:
			h.ReleaseAll(u.Consts[:i])
			return nil, fmt.Errorf("%w: unknown constant kind %d", bytecode.ErrLoad, c.Kind)
		}
	}

	u.Ref = h.NewModule(id, m)
	return u, nil
}

// Release drops the references the unit holds.
func (u *Unit) Release(h *heap.Heap) {
	h.ReleaseAll(u.Consts)
	h.Release(u.Ref)
	u.Consts = nil
	u.Ref = heap.Nil
}

// Roots visits every value the unit keeps alive.
func (u *Unit) Roots(visit func(heap.Value)) {
	for _, v := range u.Consts {
		visit(v)
	}
	visit(u.Ref)
}
