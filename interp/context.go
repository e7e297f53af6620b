// Package interp executes bytecode against a per-actor execution context.
package interp

import (
	"fmt"

	"github.com/najoast/raft/heap"
)

// Frame is one activation record on the call stack.
type Frame struct {
	ReturnIP     int
	ReturnModule *Unit
	Locals       []heap.Value
	Module       *Unit

	defined []bool
}

func (f *Frame) store(slot int, v heap.Value) (old heap.Value, had bool) {
	if slot >= len(f.Locals) {
		grow := slot + 1 - len(f.Locals)
		f.Locals = append(f.Locals, make([]heap.Value, grow)...)
		f.defined = append(f.defined, make([]bool, grow)...)
	}
	old, had = f.Locals[slot], f.defined[slot]
	f.Locals[slot] = v
	f.defined[slot] = true
	return old, had
}

func (f *Frame) load(slot int) (heap.Value, bool) {
	if slot >= len(f.Locals) || !f.defined[slot] {
		return heap.Nil, false
	}
	return f.Locals[slot], true
}

func newFrame(returnIP int, returnModule, module *Unit, locals []heap.Value) Frame {
	defined := make([]bool, len(locals))
	for i := range defined {
		defined[i] = true
	}
	return Frame{
		ReturnIP:     returnIP,
		ReturnModule: returnModule,
		Locals:       locals,
		Module:       module,
		defined:      defined,
	}
}

// Context is the operand stack, instruction pointer and call stack of one
// actor. It is only touched by the worker currently running the actor.
type Context struct {
	heap   *heap.Heap
	stack  []heap.Value
	ip     int
	frames []Frame
}

// NewContext creates a context that starts executing unit at entry. The
// context takes ownership of locals, which seed the first frame's slots.
func NewContext(h *heap.Heap, unit *Unit, entry int, locals []heap.Value) (*Context, error) {
	if entry < 0 || entry > len(unit.Code.Code) {
		h.ReleaseAll(locals)
		return nil, fmt.Errorf("%w: entry %d in module %d", ErrOutOfBounds, entry, unit.ID)
	}
	return &Context{
		heap:   h,
		stack:  make([]heap.Value, 0, 16),
		ip:     entry,
		frames: []Frame{newFrame(-1, nil, unit, locals)},
	}, nil
}

// IP returns the instruction pointer.
func (c *Context) IP() int { return c.ip }

// Depth returns the number of active frames.
func (c *Context) Depth() int { return len(c.frames) }

// Module returns the unit of the current frame.
func (c *Context) Module() *Unit {
	if len(c.frames) == 0 {
		return nil
	}
	return c.frames[len(c.frames)-1].Module
}

// Stack returns a copy of the operand stack, bottom first. Values are not retained.
func (c *Context) Stack() []heap.Value {
	return append([]heap.Value(nil), c.stack...)
}

// Top returns the value on top of the stack without retaining it.
func (c *Context) Top() (heap.Value, bool) {
	if len(c.stack) == 0 {
		return heap.Nil, false
	}
	return c.stack[len(c.stack)-1], true
}

// Roots visits every value the context keeps alive.
func (c *Context) Roots(visit func(heap.Value)) {
	for _, v := range c.stack {
		visit(v)
	}
	for i := range c.frames {
		for j, v := range c.frames[i].Locals {
			if c.frames[i].defined[j] {
				visit(v)
			}
		}
	}
}

// Release drops every reference held by the context. The context must not
// be run afterwards.
func (c *Context) Release() {
	c.heap.ReleaseAll(c.stack)
	c.stack = nil
	for i := range c.frames {
		c.releaseFrame(&c.frames[i])
	}
	c.frames = nil
}

func (c *Context) releaseFrame(f *Frame) {
	for i, v := range f.Locals {
		if f.defined[i] {
			c.heap.Release(v)
		}
	}
	f.Locals = nil
	f.defined = nil
}

func (c *Context) push(v heap.Value) {
	c.stack = append(c.stack, v)
}

func (c *Context) pop() (heap.Value, error) {
	n := len(c.stack)
	if n == 0 {
		return heap.Nil, ErrStackUnderflow
	}
	v := c.stack[n-1]
	c.stack[n-1] = heap.Nil
	c.stack = c.stack[:n-1]
	return v, nil
}

// popN removes the top n values and returns them in push order.
func (c *Context) popN(n int) ([]heap.Value, error) {
	if n < 0 || n > len(c.stack) {
		return nil, ErrStackUnderflow
	}
	start := len(c.stack) - n
	vs := append([]heap.Value(nil), c.stack[start:]...)
	for i := start; i < len(c.stack); i++ {
		c.stack[i] = heap.Nil
	}
	c.stack = c.stack[:start]
	return vs, nil
}

// pop2 pops the right operand and then the left one.
func (c *Context) pop2() (left, right heap.Value, err error) {
	if len(c.stack) < 2 {
		return heap.Nil, heap.Nil, ErrStackUnderflow
	}
	right, _ = c.pop()
	left, _ = c.pop()
	return left, right, nil
}
