package interp

import (
	"errors"
	"fmt"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/heap"
)

// MaxDepth bounds the call stack of one actor.
const MaxDepth = 4096

// ErrCallDepth is returned when a Call would exceed MaxDepth frames.
var ErrCallDepth = errors.New("call depth exceeded")

// Host is the runtime the dispatcher calls back into for actor and
// supervision instructions. Pids are passed as raw ids.
type Host interface {
	// Self returns the pid of the running actor.
	Self() uint64
	// Unit resolves a registered module.
	Unit(id uint32) (*Unit, bool)
	// Spawn starts callee under the running actor's supervisor. callee is
	// borrowed; the host retains what it keeps.
	Spawn(callee heap.Value) (uint64, error)
	// SpawnChild starts callee under the given supervisor.
	SpawnChild(supervisor uint64, callee heap.Value) (uint64, error)
	// Send moves msg into the target's mailbox, or releases it when the
	// target cannot receive.
	Send(to uint64, msg heap.Value)
	// Receive dequeues the head of the running actor's mailbox.
	Receive() (heap.Value, bool)
	// SpawnSupervisor creates a supervisor under the running actor's supervisor.
	SpawnSupervisor() (uint64, error)
	// SetStrategy configures a supervisor.
	SetStrategy(supervisor uint64, strategy int, maxRestarts, windowMillis int64) error
	// RestartChild restarts a child of a supervisor on request.
	RestartChild(supervisor, child uint64) error
}

// Status is how a slice of execution ended.
type Status uint8

const (
	// Yielded means the budget ran out; the actor is still runnable.
	Yielded Status = iota
	// Waiting means ReceiveMessage found an empty mailbox.
	Waiting
	// Terminated means the outermost frame returned.
	Terminated
	// Failed means an instruction raised an error.
	Failed
)

func (s Status) String() string {
	switch s {
	case Yielded:
		return "yielded"
	case Waiting:
		return "waiting"
	case Terminated:
		return "terminated"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of Run.
type Outcome struct {
	Status Status
	Steps  int
	Err    error
}

type flow uint8

const (
	flowNext flow = iota
	flowWait
	flowHalt
)

// Run executes instructions until the actor blocks, terminates, fails or has
// executed budget instructions. A budget of zero or less means no limit.
func (c *Context) Run(host Host, budget int) Outcome {
	steps := 0
	for {
		if len(c.frames) == 0 {
			return Outcome{Status: Terminated, Steps: steps}
		}
		code := c.frames[len(c.frames)-1].Module.Code.Code

		if c.ip == len(code) {
			if len(c.frames) == 1 {
				return Outcome{Status: Terminated, Steps: steps}
			}
			c.ret()
			continue
		}
		if c.ip < 0 || c.ip > len(code) {
			return Outcome{
				Status: Failed,
				Steps:  steps,
				Err:    &ExecError{IP: c.ip, Err: ErrOutOfBounds},
			}
		}
		if budget > 0 && steps >= budget {
			return Outcome{Status: Yielded, Steps: steps}
		}

		in := code[c.ip]
		ip := c.ip
		c.ip++
		steps++

		fl, err := c.exec(host, in)
		if err != nil {
			c.ip = ip
			return Outcome{
				Status: Failed,
				Steps:  steps,
				Err:    &ExecError{Op: in.Op, IP: ip, Err: err},
			}
		}
		switch fl {
		case flowWait:
			c.ip = ip
			return Outcome{Status: Waiting, Steps: steps}
		case flowHalt:
			return Outcome{Status: Terminated, Steps: steps}
		}
	}
}

func (c *Context) exec(host Host, in bytecode.Instruction) (flow, error) {
	h := c.heap
	unit := c.Module()

	switch in.Op {
	// Stack manipulation
	case bytecode.OpPushConst:
		if in.A < 0 || in.A >= len(unit.Consts) {
			return flowNext, fmt.Errorf("%w: constant %d", ErrOutOfBounds, in.A)
		}
		v := unit.Consts[in.A]
		h.Retain(v)
		c.push(v)

	case bytecode.OpPop:
		v, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		h.Release(v)

	case bytecode.OpDup:
		return flowNext, c.peek(0)

	case bytecode.OpPeek:
		return flowNext, c.peek(in.A)

	case bytecode.OpSwap:
		n := len(c.stack)
		if n < 2 {
			return flowNext, ErrStackUnderflow
		}
		c.stack[n-1], c.stack[n-2] = c.stack[n-2], c.stack[n-1]

	// Arithmetic and comparison
	case bytecode.OpAdd:
		return flowNext, c.binary(heap.Add)
	case bytecode.OpSub:
		return flowNext, c.binary(heap.Sub)
	case bytecode.OpMul:
		return flowNext, c.binary(heap.Mul)
	case bytecode.OpDiv:
		return flowNext, c.binary(heap.Div)
	case bytecode.OpMod:
		return flowNext, c.binary(heap.Mod)
	case bytecode.OpExp:
		return flowNext, c.binary(heap.Pow)
	case bytecode.OpNeg:
		return flowNext, c.unary(heap.Neg)
	case bytecode.OpNot:
		return flowNext, c.unary(heap.Not)

	case bytecode.OpEq:
		return flowNext, c.binary(func(a, b heap.Value) (heap.Value, error) {
			return heap.Bool(heap.Equal(a, b)), nil
		})
	case bytecode.OpLt:
		return flowNext, c.binary(compareWith(func(n int) bool { return n < 0 }))
	case bytecode.OpGt:
		return flowNext, c.binary(compareWith(func(n int) bool { return n > 0 }))

	// Locals
	case bytecode.OpStoreVar:
		v, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		f := &c.frames[len(c.frames)-1]
		if old, had := f.store(in.A, v); had {
			h.Release(old)
		}

	case bytecode.OpLoadVar:
		v, ok := c.frames[len(c.frames)-1].load(in.A)
		if !ok {
			return flowNext, fmt.Errorf("%w: slot %d", ErrUndefinedLocal, in.A)
		}
		h.Retain(v)
		c.push(v)

	// Heap construction
	case bytecode.OpMakeArray:
		items, err := c.popN(in.A)
		if err != nil {
			return flowNext, err
		}
		c.push(h.NewArray(items))

	case bytecode.OpIndex:
		arr, idx, err := c.pop2()
		if err != nil {
			return flowNext, err
		}
		defer h.Release(arr)
		if idx.Kind() != heap.KindInt {
			return flowNext, fmt.Errorf("%w: index must be int, got %s", heap.ErrType, idx.Kind())
		}
		v, err := h.Index(arr, idx.AsInt())
		if err != nil {
			return flowNext, err
		}
		c.push(v)

	case bytecode.OpSetIndex:
		v, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		arr, idx, err := c.pop2()
		if err != nil {
			h.Release(v)
			return flowNext, err
		}
		if idx.Kind() != heap.KindInt {
			h.Release(v)
			h.Release(arr)
			return flowNext, fmt.Errorf("%w: index must be int, got %s", heap.ErrType, idx.Kind())
		}
		if err := h.SetIndex(arr, idx.AsInt(), v); err != nil {
			h.Release(v)
			h.Release(arr)
			return flowNext, err
		}
		c.push(arr)

	case bytecode.OpLen:
		v, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		defer h.Release(v)
		obj := v.Object()
		if obj == nil || (obj.Kind() != heap.ObjArray && obj.Kind() != heap.ObjStr) {
			return flowNext, fmt.Errorf("%w: cannot take length of %s", heap.ErrType, v.Kind())
		}
		c.push(heap.Int(int64(obj.Len())))

	case bytecode.OpMakeClosure:
		caps, err := c.popN(in.B)
		if err != nil {
			return flowNext, err
		}
		c.push(h.NewClosure(unit.ID, in.A, caps))

	// Control flow
	case bytecode.OpJump:
		c.ip = in.A

	case bytecode.OpJumpIfFalse:
		v, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		if v.Kind() != heap.KindBool {
			h.Release(v)
			return flowNext, fmt.Errorf("%w: condition must be bool, got %s", heap.ErrType, v.Kind())
		}
		if !v.AsBool() {
			c.ip = in.A
		}

	case bytecode.OpCall:
		return flowNext, c.call(host, in.A)

	case bytecode.OpReturn:
		if len(c.frames) == 1 {
			return flowHalt, nil
		}
		c.ret()

	// Actors
	case bytecode.OpSpawnActor:
		callee, err := c.pop()
		if err != nil {
			return flowNext, err
		}
		defer h.Release(callee)
		if err := checkSpawnable(callee); err != nil {
			return flowNext, err
		}
		pid, err := host.Spawn(callee)
		if err != nil {
			return flowNext, err
		}
		c.push(heap.Pid(pid))

	case bytecode.OpSpawnChild:
		callee, sup, err := c.pop2()
		if err != nil {
			return flowNext, err
		}
		defer h.Release(callee)
		if err := checkSpawnable(callee); err != nil {
			return flowNext, err
		}
		if err := checkPid(sup); err != nil {
			return flowNext, err
		}
		pid, err := host.SpawnChild(sup.AsPid(), callee)
		if err != nil {
			return flowNext, err
		}
		c.push(heap.Pid(pid))

	case bytecode.OpSendMessage:
		msg, to, err := c.pop2()
		if err != nil {
			return flowNext, err
		}
		if err := checkPid(to); err != nil {
			h.Release(to)
			h.Release(msg)
			return flowNext, err
		}
		host.Send(to.AsPid(), msg)

	case bytecode.OpReceiveMessage:
		v, ok := host.Receive()
		if !ok {
			return flowWait, nil
		}
		c.push(v)

	case bytecode.OpSelf:
		c.push(heap.Pid(host.Self()))

	// Supervision
	case bytecode.OpSpawnSupervisor:
		pid, err := host.SpawnSupervisor()
		if err != nil {
			return flowNext, err
		}
		c.push(heap.Pid(pid))

	case bytecode.OpSetStrategy:
		args, err := c.popN(3)
		if err != nil {
			return flowNext, err
		}
		sup, maxRestarts, window := args[0], args[1], args[2]
		if err := checkPid(sup); err != nil {
			h.ReleaseAll(args)
			return flowNext, err
		}
		if maxRestarts.Kind() != heap.KindInt || window.Kind() != heap.KindInt ||
			maxRestarts.AsInt() < 0 || window.AsInt() < 0 {
			h.ReleaseAll(args)
			return flowNext, fmt.Errorf("%w: restart intensity must be non-negative ints, got %s and %s",
				heap.ErrType, maxRestarts, window)
		}
		if err := host.SetStrategy(sup.AsPid(), in.A, maxRestarts.AsInt(), window.AsInt()); err != nil {
			return flowNext, err
		}
		c.push(sup)

	case bytecode.OpRestartChild:
		sup, child, err := c.pop2()
		if err != nil {
			return flowNext, err
		}
		if err := checkPid(sup); err != nil {
			h.Release(sup)
			h.Release(child)
			return flowNext, err
		}
		if err := checkPid(child); err != nil {
			h.Release(child)
			return flowNext, err
		}
		if err := host.RestartChild(sup.AsPid(), child.AsPid()); err != nil {
			return flowNext, err
		}
		c.push(sup)

	default:
		return flowNext, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, uint8(in.Op))
	}

	return flowNext, nil
}

func (c *Context) peek(n int) error {
	if n < 0 || n >= len(c.stack) {
		return ErrStackUnderflow
	}
	v := c.stack[len(c.stack)-1-n]
	c.heap.Retain(v)
	c.push(v)
	return nil
}

func (c *Context) binary(fn func(a, b heap.Value) (heap.Value, error)) error {
	a, b, err := c.pop2()
	if err != nil {
		return err
	}
	r, err := fn(a, b)
	c.heap.Release(a)
	c.heap.Release(b)
	if err != nil {
		return err
	}
	c.push(r)
	return nil
}

func (c *Context) unary(fn func(a heap.Value) (heap.Value, error)) error {
	a, err := c.pop()
	if err != nil {
		return err
	}
	r, err := fn(a)
	c.heap.Release(a)
	if err != nil {
		return err
	}
	c.push(r)
	return nil
}

func compareWith(pred func(int) bool) func(a, b heap.Value) (heap.Value, error) {
	return func(a, b heap.Value) (heap.Value, error) {
		n, err := heap.Compare(a, b)
		if err != nil {
			return heap.Nil, err
		}
		return heap.Bool(pred(n)), nil
	}
}

// call pops the callee and n arguments and enters a new frame. Arguments
// occupy the first local slots, followed by any closure captures.
func (c *Context) call(host Host, n int) error {
	if n < 0 || n > len(c.stack)-1 {
		return ErrStackUnderflow
	}
	if len(c.frames) >= MaxDepth {
		return fmt.Errorf("%w: %d frames", ErrCallDepth, len(c.frames))
	}

	callee, _ := c.pop()
	defer c.heap.Release(callee)

	current := c.Module()
	target, entry, captures, err := c.resolveCallee(host, current, callee)
	if err != nil {
		return err
	}

	args, err := c.popN(n)
	if err != nil {
		return err
	}
	for _, v := range captures {
		c.heap.Retain(v)
	}
	locals := append(args, captures...)

	c.frames = append(c.frames, newFrame(c.ip, current, target, locals))
	c.ip = entry
	return nil
}

func (c *Context) resolveCallee(host Host, current *Unit, callee heap.Value) (*Unit, int, []heap.Value, error) {
	switch callee.Kind() {
	case heap.KindInt:
		entry := callee.AsInt()
		if entry < 0 || entry >= int64(len(current.Code.Code)) {
			return nil, 0, nil, fmt.Errorf("%w: call to %d", ErrOutOfBounds, entry)
		}
		return current, int(entry), nil, nil

	case heap.KindRef:
		obj := callee.Object()
		if obj.Kind() != heap.ObjClosure && obj.Kind() != heap.ObjModule {
			break
		}
		target, ok := host.Unit(obj.ModuleID())
		if !ok {
			return nil, 0, nil, fmt.Errorf("%w: module %d is not loaded", ErrOutOfBounds, obj.ModuleID())
		}
		if obj.Kind() == heap.ObjModule {
			return target, 0, nil, nil
		}
		if obj.Entry() < 0 || obj.Entry() >= len(target.Code.Code) {
			return nil, 0, nil, fmt.Errorf("%w: call to %d", ErrOutOfBounds, obj.Entry())
		}
		return target, obj.Entry(), obj.Captures(), nil
	}
	return nil, 0, nil, fmt.Errorf("%w: cannot call %s", heap.ErrType, callee)
}

func (c *Context) ret() {
	top := len(c.frames) - 1
	f := &c.frames[top]
	c.ip = f.ReturnIP
	c.releaseFrame(f)
	c.frames = c.frames[:top]
}

func checkSpawnable(v heap.Value) error {
	if obj := v.Object(); obj != nil && (obj.Kind() == heap.ObjClosure || obj.Kind() == heap.ObjModule) {
		return nil
	}
	return fmt.Errorf("%w: cannot spawn %s", heap.ErrType, v)
}

func checkPid(v heap.Value) error {
	if v.Kind() != heap.KindPid {
		return fmt.Errorf("%w: expected pid, got %s", heap.ErrType, v.Kind())
	}
	return nil
}
