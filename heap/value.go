// Package heap implements the tagged value representation and the managed,
// reference-counted heap shared by the actors of one runtime.
package heap

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt
	KindFloat
	KindBool
	KindAtom
	KindRef
	KindPid
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindAtom:
		return "atom"
	case KindRef:
		return "ref"
	case KindPid:
		return "pid"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the scalar kinds and heap references.
// The zero Value is Nil. Copying a KindRef value does not retain it; the
// owner of a slot that holds a reference is responsible for Retain/Release.
type Value struct {
	kind Kind
	bits uint64
	obj  *Object
}

// Nil is the empty value.
var Nil = Value{}

// Int returns an integer value.
func Int(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// Float returns a float value.
func Float(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.bits = 1
	}
	return v
}

// Pid returns a value carrying an actor identifier.
func Pid(id uint64) Value {
	return Value{kind: KindPid, bits: id}
}

func atomValue(id uint32) Value {
	return Value{kind: KindAtom, bits: uint64(id)}
}

func refValue(o *Object) Value {
	return Value{kind: KindRef, obj: o}
}

// Kind returns the variant of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether the value is Nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// IsRef reports whether the value references a heap object.
func (v Value) IsRef() bool { return v.kind == KindRef }

// IsNumeric reports whether the value is an Int or a Float.
func (v Value) IsNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// AsInt returns the integer payload. Only meaningful for KindInt.
func (v Value) AsInt() int64 { return int64(v.bits) }

// AsFloat returns the float payload, promoting integers.
func (v Value) AsFloat() float64 {
	if v.kind == KindInt {
		return float64(int64(v.bits))
	}
	return math.Float64frombits(v.bits)
}

// AsBool returns the boolean payload. Only meaningful for KindBool.
func (v Value) AsBool() bool { return v.bits != 0 }

// AsPid returns the actor identifier. Only meaningful for KindPid.
func (v Value) AsPid() uint64 { return v.bits }

// AtomID returns the interned symbol id. Only meaningful for KindAtom.
func (v Value) AtomID() uint32 { return uint32(v.bits) }

// Object returns the referenced heap object, or nil for scalar values.
func (v Value) Object() *Object { return v.obj }

// String renders the value without access to the atom table.
// Use Heap.Format for atom names.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt:
		return strconv.FormatInt(v.AsInt(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.AsFloat(), 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.AsBool())
	case KindAtom:
		return fmt.Sprintf(":#%d", v.AtomID())
	case KindPid:
		return fmt.Sprintf("<%d>", v.AsPid())
	case KindRef:
		return v.obj.describe()
	default:
		return "?"
	}
}
