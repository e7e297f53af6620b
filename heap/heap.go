package heap

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/raft/bytecode"
)

const (
	objectOverhead = 64
	valueSize      = 24
)

// Stats is a snapshot of heap counters.
type Stats struct {
	Live      int64
	Allocated int64
	Freed     int64
	Collected int64
	LiveBytes int64

	// Faults counts retain/release calls against already freed objects.
	Faults int64
}

// GCStats describes one cycle collection pass.
type GCStats struct {
	Scanned   int
	Reachable int
	Collected int
	Duration  time.Duration
}

// Heap owns every object allocated by the actors of one runtime.
// Reference counts are atomic so values may cross actor boundaries.
type Heap struct {
	mu      sync.Mutex
	objects map[*Object]struct{}
	nextID  uint64

	allocated atomic.Int64
	freed     atomic.Int64
	collected atomic.Int64
	faults    atomic.Int64
	liveBytes atomic.Int64
	sinceGC   atomic.Int64

	atoms *AtomTable
}

// New creates an empty heap.
func New() *Heap {
	return &Heap{
		objects: make(map[*Object]struct{}),
		atoms:   NewAtomTable(),
	}
}

// Atoms returns the heap's symbol table.
func (h *Heap) Atoms() *AtomTable { return h.atoms }

// Atom interns a symbol name.
func (h *Heap) Atom(name string) Value { return h.atoms.Intern(name) }

// alloc registers an object with a reference count of one.
func (h *Heap) alloc(o *Object) Value {
	o.refs.Store(1)

	h.mu.Lock()
	h.nextID++
	o.id = h.nextID
	h.objects[o] = struct{}{}
	h.mu.Unlock()

	h.allocated.Add(1)
	h.sinceGC.Add(1)
	h.liveBytes.Add(o.size)
	return refValue(o)
}

// NewArray allocates an array that takes ownership of items.
func (h *Heap) NewArray(items []Value) Value {
	return h.alloc(&Object{
		kind:  ObjArray,
		items: items,
		size:  objectOverhead + int64(len(items))*valueSize,
	})
}

// NewString allocates an immutable string.
func (h *Heap) NewString(s string) Value {
	return h.alloc(&Object{
		kind: ObjStr,
		str:  []byte(s),
		size: objectOverhead + int64(len(s)),
	})
}

// NewClosure allocates a closure over a module entry that takes ownership of captures.
func (h *Heap) NewClosure(module uint32, entry int, captures []Value) Value {
	return h.alloc(&Object{
		kind:   ObjClosure,
		module: module,
		entry:  entry,
		items:  captures,
		size:   objectOverhead + int64(len(captures))*valueSize,
	})
}

// NewModule allocates a module object wrapping loaded bytecode.
func (h *Heap) NewModule(id uint32, m *bytecode.Module) Value {
	return h.alloc(&Object{
		kind:   ObjModule,
		module: id,
		code:   m,
		size:   objectOverhead + int64(len(m.Code))*valueSize,
	})
}

// Retain adds a strong reference. Scalars are ignored.
func (h *Heap) Retain(v Value) {
	if v.kind != KindRef || v.obj == nil {
		return
	}
	if v.obj.freed.Load() {
		h.faults.Add(1)
		return
	}
	v.obj.refs.Add(1)
}

// Release drops a strong reference, freeing the object and releasing its
// children when the count reaches zero. Scalars are ignored.
func (h *Heap) Release(v Value) {
	if v.kind != KindRef || v.obj == nil {
		return
	}
	h.release(v.obj)
}

// ReleaseAll releases every value in vs.
func (h *Heap) ReleaseAll(vs []Value) {
	for _, v := range vs {
		h.Release(v)
	}
}

func (h *Heap) release(o *Object) {
	if o.freed.Load() {
		h.faults.Add(1)
		return
	}
	n := o.refs.Add(-1)
	switch {
	case n > 0:
		return
	case n < 0:
		h.faults.Add(1)
		return
	}

	if !o.freed.CompareAndSwap(false, true) {
		return
	}
	h.mu.Lock()
	delete(h.objects, o)
	h.mu.Unlock()
	h.freed.Add(1)
	h.liveBytes.Add(-o.size)

	o.mu.Lock()
	items := o.items
	o.items = nil
	o.mu.Unlock()
	for _, child := range items {
		if child.kind == KindRef {
			h.release(child.obj)
		}
	}
}

// Index returns a retained copy of element i of an array.
func (h *Heap) Index(arr Value, i int64) (Value, error) {
	o, err := arrayObject(arr)
	if err != nil {
		return Nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if i < 0 || i >= int64(len(o.items)) {
		return Nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrType, i, len(o.items))
	}
	v := o.items[i]
	h.Retain(v)
	return v, nil
}

// SetIndex stores v into element i of an array, taking ownership of v and
// releasing the previous element.
func (h *Heap) SetIndex(arr Value, i int64, v Value) error {
	o, err := arrayObject(arr)
	if err != nil {
		return err
	}
	o.mu.Lock()
	if i < 0 || i >= int64(len(o.items)) {
		n := len(o.items)
		o.mu.Unlock()
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrType, i, n)
	}
	old := o.items[i]
	o.items[i] = v
	o.mu.Unlock()
	h.Release(old)
	return nil
}

func arrayObject(v Value) (*Object, error) {
	if v.kind != KindRef || v.obj.kind != ObjArray {
		return nil, fmt.Errorf("%w: expected array, got %s", ErrType, v.kind)
	}
	return v.obj, nil
}

// Collect runs a mark-and-sweep pass to reclaim cycles that reference
// counting cannot free. roots must visit every value held outside the heap.
// The caller guarantees no mutator runs concurrently.
func (h *Heap) Collect(roots func(visit func(Value))) GCStats {
	start := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	for o := range h.objects {
		o.mark = false
	}

	var stack []*Object
	push := func(o *Object) {
		if o == nil || o.mark || o.freed.Load() {
			return
		}
		o.mark = true
		stack = append(stack, o)
	}
	roots(func(v Value) {
		if v.kind == KindRef {
			push(v.obj)
		}
	})
	reachable := 0
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reachable++
		o.children(push)
	}

	var garbage []*Object
	for o := range h.objects {
		if !o.mark {
			garbage = append(garbage, o)
		}
	}

	for _, o := range garbage {
		o.freed.Store(true)
	}
	for _, o := range garbage {
		// References from garbage into live objects are dropped; references
		// between garbage objects vanish with them.
		for _, child := range o.items {
			if child.kind == KindRef && !child.obj.freed.Load() {
				child.obj.refs.Add(-1)
			}
		}
		o.items = nil
		o.refs.Store(0)
		delete(h.objects, o)
		h.liveBytes.Add(-o.size)
	}

	h.collected.Add(int64(len(garbage)))
	h.sinceGC.Store(0)

	return GCStats{
		Scanned:   reachable + len(garbage),
		Reachable: reachable,
		Collected: len(garbage),
		Duration:  time.Since(start),
	}
}

// Pressure returns the number of allocations since the last collection.
func (h *Heap) Pressure() int64 {
	return h.sinceGC.Load()
}

// Stats returns a snapshot of the heap counters.
func (h *Heap) Stats() Stats {
	h.mu.Lock()
	live := int64(len(h.objects))
	h.mu.Unlock()

	return Stats{
		Live:      live,
		Allocated: h.allocated.Load(),
		Freed:     h.freed.Load(),
		Collected: h.collected.Load(),
		LiveBytes: h.liveBytes.Load(),
		Faults:    h.faults.Load(),
	}
}

// Format renders a value using the heap's atom names. An array reached
// again while it is being rendered prints as <cycle>.
func (h *Heap) Format(v Value) string {
	return h.format(v, make(map[*Object]bool))
}

func (h *Heap) format(v Value, visiting map[*Object]bool) string {
	switch v.kind {
	case KindAtom:
		return ":" + h.atoms.Name(v)
	case KindRef:
		if v.obj.kind != ObjArray {
			return v.String()
		}
		if visiting[v.obj] {
			return "<cycle>"
		}
		visiting[v.obj] = true
		defer delete(visiting, v.obj)

		v.obj.mu.Lock()
		items := append([]Value(nil), v.obj.items...)
		v.obj.mu.Unlock()
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = h.format(item, visiting)
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return v.String()
	}
}
