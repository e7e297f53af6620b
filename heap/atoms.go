package heap

import "sync"

// AtomTable interns symbol names. Atom ids are dense and stable for the
// lifetime of the table, so atom equality is id equality.
type AtomTable struct {
	mu    sync.RWMutex
	ids   map[string]uint32
	names []string
}

// NewAtomTable creates an empty table.
func NewAtomTable() *AtomTable {
	return &AtomTable{ids: make(map[string]uint32)}
}

// Intern returns the atom for name, creating it on first use.
func (t *AtomTable) Intern(name string) Value {
	t.mu.RLock()
	id, ok := t.ids[name]
	t.mu.RUnlock()
	if ok {
		return atomValue(id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[name]; ok {
		return atomValue(id)
	}
	id = uint32(len(t.names))
	t.names = append(t.names, name)
	t.ids[name] = id
	return atomValue(id)
}

// Name returns the symbol name of an atom, or "" for non-atoms and ids the
// table never issued.
func (t *AtomTable) Name(v Value) string {
	if v.kind != KindAtom {
		return ""
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id := v.AtomID()
	if int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

// Len returns the number of interned atoms.
func (t *AtomTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.names)
}
