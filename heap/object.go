package heap

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/najoast/raft/bytecode"
)

// ObjectKind identifies the variant of a heap object.
type ObjectKind uint8

const (
	ObjArray ObjectKind = iota
	ObjStr
	ObjClosure
	ObjModule
)

// String returns the string representation of ObjectKind.
func (k ObjectKind) String() string {
	switch k {
	case ObjArray:
		return "array"
	case ObjStr:
		return "str"
	case ObjClosure:
		return "closure"
	case ObjModule:
		return "module"
	default:
		return "unknown"
	}
}

// Object is a reference-counted heap allocation.
type Object struct {
	kind ObjectKind
	id   uint64

	refs  atomic.Int64
	freed atomic.Bool

	// mark is only touched while the world is stopped for collection.
	mark bool

	// mu guards items for arrays, which SetIndex can mutate.
	mu    sync.Mutex
	items []Value

	str []byte

	module uint32
	entry  int
	code   *bytecode.Module

	size int64
}

// Kind returns the object variant.
func (o *Object) Kind() ObjectKind { return o.kind }

// ID returns the allocation id, unique within the owning heap.
func (o *Object) ID() uint64 { return o.id }

// Refs returns the current strong reference count.
func (o *Object) Refs() int64 { return o.refs.Load() }

// Freed reports whether the object has been reclaimed.
func (o *Object) Freed() bool { return o.freed.Load() }

// Len returns the element count of an array or the byte length of a string.
func (o *Object) Len() int {
	switch o.kind {
	case ObjArray:
		o.mu.Lock()
		defer o.mu.Unlock()
		return len(o.items)
	case ObjStr:
		return len(o.str)
	default:
		return 0
	}
}

// Bytes returns the contents of a string object. The slice must not be modified.
func (o *Object) Bytes() []byte { return o.str }

// ModuleID returns the module a closure or module object refers to.
func (o *Object) ModuleID() uint32 { return o.module }

// Entry returns the instruction offset a closure starts at.
func (o *Object) Entry() int { return o.entry }

// Code returns the instructions of a module object.
func (o *Object) Code() *bytecode.Module { return o.code }

// Captures returns a copy of a closure's captured values without retaining them.
func (o *Object) Captures() []Value {
	if o.kind != ObjClosure {
		return nil
	}
	return append([]Value(nil), o.items...)
}

// children calls fn for every reference held by the object.
func (o *Object) children(fn func(*Object)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, v := range o.items {
		if v.kind == KindRef {
			fn(v.obj)
		}
	}
}

func (o *Object) describe() string {
	if o == nil {
		return "<nil ref>"
	}
	switch o.kind {
	case ObjStr:
		return fmt.Sprintf("%q", o.str)
	case ObjArray:
		return fmt.Sprintf("#array<%d>[%d]", o.id, o.Len())
	case ObjClosure:
		return fmt.Sprintf("#closure<%d>@%d:%d", o.id, o.module, o.entry)
	case ObjModule:
		return fmt.Sprintf("#module<%d>:%d", o.id, o.module)
	default:
		return fmt.Sprintf("#object<%d>", o.id)
	}
}
