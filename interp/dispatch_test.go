package interp

import (
	"errors"
	"math"
	"testing"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/heap"
)

type sentMessage struct {
	to  uint64
	msg heap.Value
}

type strategyCall struct {
	supervisor    uint64
	strategy      int
	max, windowMs int64
}

type fakeHost struct {
	heap     *heap.Heap
	self     uint64
	nextPid  uint64
	units    map[uint32]*Unit
	inbox    []heap.Value
	sent     []sentMessage
	spawned  []heap.Value
	strategy []strategyCall
	restarts [][2]uint64
}

func newFakeHost(h *heap.Heap) *fakeHost {
	return &fakeHost{heap: h, self: 1, nextPid: 1, units: make(map[uint32]*Unit)}
}

func (f *fakeHost) Self() uint64 { return f.self }

func (f *fakeHost) Unit(id uint32) (*Unit, bool) {
	u, ok := f.units[id]
	return u, ok
}

func (f *fakeHost) Spawn(callee heap.Value) (uint64, error) {
	f.heap.Retain(callee)
	f.spawned = append(f.spawned, callee)
	f.nextPid++
	return f.nextPid, nil
}

func (f *fakeHost) SpawnChild(supervisor uint64, callee heap.Value) (uint64, error) {
	return f.Spawn(callee)
}

func (f *fakeHost) Send(to uint64, msg heap.Value) {
	f.sent = append(f.sent, sentMessage{to: to, msg: msg})
}

func (f *fakeHost) Receive() (heap.Value, bool) {
	if len(f.inbox) == 0 {
		return heap.Nil, false
	}
	v := f.inbox[0]
	f.inbox = f.inbox[1:]
	return v, true
}

func (f *fakeHost) SpawnSupervisor() (uint64, error) {
	f.nextPid++
	return f.nextPid, nil
}

func (f *fakeHost) SetStrategy(supervisor uint64, strategy int, maxRestarts, windowMillis int64) error {
	f.strategy = append(f.strategy, strategyCall{supervisor, strategy, maxRestarts, windowMillis})
	return nil
}

func (f *fakeHost) RestartChild(supervisor, child uint64) error {
	f.restarts = append(f.restarts, [2]uint64{supervisor, child})
	return nil
}

func (f *fakeHost) load(t *testing.T, id uint32, m *bytecode.Module) *Unit {
	t.Helper()
	u, err := NewUnit(f.heap, id, m, f.Unit)
	if err != nil {
		t.Fatalf("NewUnit failed: %v", err)
	}
	f.units[id] = u
	return u
}

func start(t *testing.T, b *bytecode.Builder) (*heap.Heap, *fakeHost, *Context) {
	t.Helper()
	h := heap.New()
	host := newFakeHost(h)
	unit := host.load(t, 1, b.MustBuild())
	ctx, err := NewContext(h, unit, 0, nil)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	return h, host, ctx
}

func ints(t *testing.T, stack []heap.Value) []int64 {
	t.Helper()
	out := make([]int64, len(stack))
	for i, v := range stack {
		if v.Kind() != heap.KindInt {
			t.Fatalf("stack[%d] is %s, expected int", i, v.Kind())
		}
		out[i] = v.AsInt()
	}
	return out
}

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *bytecode.Builder)
		want  []int64
	}{
		{
			name:  "one plus two",
			build: func(b *bytecode.Builder) { b.PushInt(1).PushInt(2).Op(bytecode.OpAdd) },
			want:  []int64{3},
		},
		{
			name: "operand order",
			build: func(b *bytecode.Builder) {
				b.PushInt(10).PushInt(4).Op(bytecode.OpSub)
				b.PushInt(9).PushInt(2).Op(bytecode.OpDiv)
				b.PushInt(9).PushInt(2).Op(bytecode.OpMod)
			},
			want: []int64{6, 4, 1},
		},
		{
			name:  "exp and neg",
			build: func(b *bytecode.Builder) { b.PushInt(3).PushInt(4).Op(bytecode.OpExp).Op(bytecode.OpNeg) },
			want:  []int64{-81},
		},
		{
			name: "swap and peek",
			build: func(b *bytecode.Builder) {
				b.PushInt(1).PushInt(2).Op(bytecode.OpSwap).Op(bytecode.OpPeek, 1)
			},
			want: []int64{2, 1, 2},
		},
		{
			name:  "dup and pop",
			build: func(b *bytecode.Builder) { b.PushInt(7).Op(bytecode.OpDup).Op(bytecode.OpMul).PushInt(0).Op(bytecode.OpPop) },
			want:  []int64{49},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytecode.NewBuilder(tt.name)
			tt.build(b)
			_, host, ctx := start(t, b)

			out := ctx.Run(host, 0)
			if out.Status != Terminated {
				t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
			}
			got := ints(t, ctx.Stack())
			if len(got) != len(tt.want) {
				t.Fatalf("stack = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("stack = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name    string
		build   func(b *bytecode.Builder)
		wantErr error
		wantIP  int
	}{
		{
			name:    "stack underflow",
			build:   func(b *bytecode.Builder) { b.PushInt(1).Op(bytecode.OpAdd) },
			wantErr: ErrStackUnderflow,
			wantIP:  1,
		},
		{
			name:    "division by zero",
			build:   func(b *bytecode.Builder) { b.PushInt(10).PushInt(0).Op(bytecode.OpDiv) },
			wantErr: heap.ErrArithmetic,
			wantIP:  2,
		},
		{
			name:    "unknown opcode",
			build:   func(b *bytecode.Builder) { b.PushInt(1).Op(bytecode.Opcode(0xEE)) },
			wantErr: ErrUnknownOpcode,
			wantIP:  1,
		},
		{
			name:    "undefined local",
			build:   func(b *bytecode.Builder) { b.Op(bytecode.OpLoadVar, 3) },
			wantErr: ErrUndefinedLocal,
		},
		{
			name:    "non-bool condition",
			build:   func(b *bytecode.Builder) { b.PushInt(1).Jump(bytecode.OpJumpIfFalse, "end").Label("end").Op(bytecode.OpReturn) },
			wantErr: heap.ErrType,
			wantIP:  1,
		},
		{
			name:    "call outside module",
			build:   func(b *bytecode.Builder) { b.PushInt(99).Op(bytecode.OpCall, 0) },
			wantErr: ErrOutOfBounds,
			wantIP:  1,
		},
		{
			name: "call with too few arguments",
			build: func(b *bytecode.Builder) {
				b.PushInt(1).PushEntry("f").Op(bytecode.OpCall, 2).Op(bytecode.OpReturn).
					Label("f").Op(bytecode.OpReturn)
			},
			wantErr: ErrStackUnderflow,
			wantIP:  2,
		},
		{
			name: "call with huge argument count",
			build: func(b *bytecode.Builder) {
				b.PushEntry("f").Op(bytecode.OpCall, math.MaxInt).Op(bytecode.OpReturn).
					Label("f").PushInt(7).Op(bytecode.OpReturn)
			},
			wantErr: ErrStackUnderflow,
			wantIP:  1,
		},
		{
			name:    "send to non-pid",
			build:   func(b *bytecode.Builder) { b.PushInt(1).PushInt(2).Op(bytecode.OpSendMessage) },
			wantErr: heap.ErrType,
			wantIP:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytecode.NewBuilder(tt.name)
			tt.build(b)
			_, host, ctx := start(t, b)

			out := ctx.Run(host, 0)
			if out.Status != Failed {
				t.Fatalf("expected failed, got %s", out.Status)
			}
			if !errors.Is(out.Err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, out.Err)
			}
			var execErr *ExecError
			if !errors.As(out.Err, &execErr) {
				t.Fatalf("expected *ExecError, got %T", out.Err)
			}
			if execErr.IP != tt.wantIP {
				t.Errorf("expected failure at %d, got %d", tt.wantIP, execErr.IP)
			}
		})
	}
}

func TestRunBudgetYields(t *testing.T) {
	b := bytecode.NewBuilder("budget")
	for i := 0; i < 5; i++ {
		b.PushInt(int64(i))
	}
	_, host, ctx := start(t, b)

	out := ctx.Run(host, 3)
	if out.Status != Yielded || out.Steps != 3 {
		t.Fatalf("expected yield after 3 steps, got %s after %d", out.Status, out.Steps)
	}
	if ctx.IP() != 3 {
		t.Errorf("expected ip 3, got %d", ctx.IP())
	}

	out = ctx.Run(host, 3)
	if out.Status != Terminated || out.Steps != 2 {
		t.Fatalf("expected termination after 2 steps, got %s after %d", out.Status, out.Steps)
	}
	if len(ctx.Stack()) != 5 {
		t.Errorf("expected 5 values, got %d", len(ctx.Stack()))
	}
}

func TestRunReceiveSuspends(t *testing.T) {
	b := bytecode.NewBuilder("receiver")
	b.Op(bytecode.OpReceiveMessage).PushInt(1).Op(bytecode.OpAdd).Op(bytecode.OpReturn)
	_, host, ctx := start(t, b)

	out := ctx.Run(host, 0)
	if out.Status != Waiting {
		t.Fatalf("expected waiting, got %s", out.Status)
	}
	if ctx.IP() != 0 {
		t.Fatalf("receive must be retried on resume, ip = %d", ctx.IP())
	}

	host.inbox = append(host.inbox, heap.Int(41))
	out = ctx.Run(host, 0)
	if out.Status != Terminated {
		t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
	}
	if got := ints(t, ctx.Stack()); len(got) != 1 || got[0] != 42 {
		t.Errorf("expected [42], got %v", got)
	}
}

func TestRunLoopWithLocals(t *testing.T) {
	// sum = 0; i = 10; while 0 < i { sum += i; i -= 1 }
	b := bytecode.NewBuilder("loop")
	b.PushInt(0).Op(bytecode.OpStoreVar, 0)
	b.PushInt(10).Op(bytecode.OpStoreVar, 1)
	b.Label("top")
	b.PushInt(0).Op(bytecode.OpLoadVar, 1).Op(bytecode.OpLt)
	b.Jump(bytecode.OpJumpIfFalse, "done")
	b.Op(bytecode.OpLoadVar, 0).Op(bytecode.OpLoadVar, 1).Op(bytecode.OpAdd).Op(bytecode.OpStoreVar, 0)
	b.Op(bytecode.OpLoadVar, 1).PushInt(1).Op(bytecode.OpSub).Op(bytecode.OpStoreVar, 1)
	b.Jump(bytecode.OpJump, "top")
	b.Label("done")
	b.Op(bytecode.OpLoadVar, 0).Op(bytecode.OpReturn)
	_, host, ctx := start(t, b)

	out := ctx.Run(host, 0)
	if out.Status != Terminated {
		t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
	}
	if got := ints(t, ctx.Stack()); len(got) != 1 || got[0] != 55 {
		t.Errorf("expected [55], got %v", got)
	}
}

func TestRunCallAndClosure(t *testing.T) {
	t.Run("entry constant", func(t *testing.T) {
		b := bytecode.NewBuilder("call")
		b.PushInt(20).PushInt(22).PushEntry("add").Op(bytecode.OpCall, 2).Op(bytecode.OpReturn)
		b.Label("add").Op(bytecode.OpLoadVar, 0).Op(bytecode.OpLoadVar, 1).Op(bytecode.OpAdd).Op(bytecode.OpReturn)
		_, host, ctx := start(t, b)

		out := ctx.Run(host, 0)
		if out.Status != Terminated {
			t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
		}
		if got := ints(t, ctx.Stack()); len(got) != 1 || got[0] != 42 {
			t.Errorf("expected [42], got %v", got)
		}
		if ctx.Depth() != 1 {
			t.Errorf("expected frames to unwind, depth %d", ctx.Depth())
		}
	})

	t.Run("captures follow arguments", func(t *testing.T) {
		b := bytecode.NewBuilder("closure")
		b.PushInt(5).MakeClosure("f", 1).PushInt(10).Op(bytecode.OpSwap).Op(bytecode.OpCall, 1).Op(bytecode.OpReturn)
		b.Label("f").Op(bytecode.OpLoadVar, 0).Op(bytecode.OpLoadVar, 1).Op(bytecode.OpSub).Op(bytecode.OpReturn)
		_, host, ctx := start(t, b)

		out := ctx.Run(host, 0)
		if out.Status != Terminated {
			t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
		}
		if got := ints(t, ctx.Stack()); len(got) != 1 || got[0] != 5 {
			t.Errorf("expected [5], got %v", got)
		}
	})
}

func TestRunArrays(t *testing.T) {
	b := bytecode.NewBuilder("arrays")
	b.PushInt(1).PushInt(2).PushInt(3).Op(bytecode.OpMakeArray, 3)
	b.PushInt(1).PushInt(20).Op(bytecode.OpSetIndex)
	b.Op(bytecode.OpDup).Op(bytecode.OpLen).Op(bytecode.OpStoreVar, 0)
	b.PushInt(1).Op(bytecode.OpIndex)
	b.Op(bytecode.OpLoadVar, 0).Op(bytecode.OpReturn)
	h, host, ctx := start(t, b)

	out := ctx.Run(host, 0)
	if out.Status != Terminated {
		t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
	}
	if got := ints(t, ctx.Stack()); len(got) != 2 || got[0] != 20 || got[1] != 3 {
		t.Errorf("expected [20 3], got %v", got)
	}

	// The array was only referenced from the stack and is gone.
	ctx.Release()
	for _, u := range host.units {
		u.Release(h)
	}
	if live := h.Stats().Live; live != 0 {
		t.Errorf("expected empty heap, got %d live objects", live)
	}
}

func TestRefcountsFollowStackOps(t *testing.T) {
	b := bytecode.NewBuilder("refs")
	b.PushStr("s").Op(bytecode.OpDup).Op(bytecode.OpPop).Op(bytecode.OpReturn)
	h, host, ctx := start(t, b)

	str := host.units[1].Consts[0].Object()
	if str.Refs() != 1 {
		t.Fatalf("constant pool should own one reference, got %d", str.Refs())
	}

	if out := ctx.Run(host, 0); out.Status != Terminated {
		t.Fatalf("expected terminated, got %s", out.Status)
	}
	if str.Refs() != 2 {
		t.Errorf("expected pool + stack references, got %d", str.Refs())
	}

	ctx.Release()
	if str.Refs() != 1 {
		t.Errorf("expected only the pool reference after release, got %d", str.Refs())
	}
	host.units[1].Release(h)
	if !str.Freed() {
		t.Error("expected string to be freed with its module")
	}
	if f := h.Stats().Faults; f != 0 {
		t.Errorf("unexpected faults: %d", f)
	}
}

func TestActorInstructions(t *testing.T) {
	b := bytecode.NewBuilder("actors")
	b.PushEntry("worker").Op(bytecode.OpSpawnActor)
	b.PushAtom("ping").Op(bytecode.OpSwap).Op(bytecode.OpSendMessage)
	b.Op(bytecode.OpSpawnSupervisor).PushInt(2).PushInt(1000).Op(bytecode.OpSetStrategy, 1)
	b.Op(bytecode.OpDup).PushEntry("worker").Op(bytecode.OpSwap).Op(bytecode.OpSpawnChild)
	b.Op(bytecode.OpRestartChild)
	b.Op(bytecode.OpSelf).Op(bytecode.OpReturn)
	b.Label("worker").Op(bytecode.OpReceiveMessage).Op(bytecode.OpReturn)
	h, host, ctx := start(t, b)

	out := ctx.Run(host, 0)
	if out.Status != Terminated {
		t.Fatalf("expected terminated, got %s (%v)", out.Status, out.Err)
	}

	if len(host.sent) != 1 || host.sent[0].to != 2 {
		t.Fatalf("expected one message to pid 2, got %+v", host.sent)
	}
	if got := h.Format(host.sent[0].msg); got != ":ping" {
		t.Errorf("expected :ping, got %s", got)
	}
	if len(host.strategy) != 1 || host.strategy[0] != (strategyCall{3, 1, 2, 1000}) {
		t.Errorf("unexpected strategy calls %+v", host.strategy)
	}
	if len(host.spawned) != 2 {
		t.Errorf("expected 2 spawns, got %d", len(host.spawned))
	}
	if len(host.restarts) != 1 || host.restarts[0] != [2]uint64{3, 4} {
		t.Errorf("unexpected restarts %+v", host.restarts)
	}

	stack := ctx.Stack()
	if len(stack) != 2 || stack[0].AsPid() != 3 || stack[1].AsPid() != 1 {
		t.Errorf("expected [<3> <1>] on stack, got %v", stack)
	}
	for _, v := range stack {
		if v.Kind() != heap.KindPid {
			t.Errorf("expected pid, got %s", v.Kind())
		}
	}
}
