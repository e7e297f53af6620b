package core

import (
	"fmt"
	"time"

	"github.com/najoast/raft/heap"
	"github.com/najoast/raft/interp"
)

type pendingAction uint8

const (
	pendingNone pendingAction = iota
	pendingRestart
	pendingStop
)

// entry is one slot of the arena. Exactly one of actor and sup is set.
// All fields are guarded by System.mu, except that the worker running an
// actor owns actor.ctx for the duration of the slice.
type entry struct {
	pid    Pid
	parent Pid
	state  ActorState
	reason error

	// restarts holds the restart times still inside the parent's window.
	restarts     []time.Time
	restartCount int

	actor *actor
	sup   *supervisor
}

// actor holds the execution state of a bytecode actor.
type actor struct {
	// callee is the closure or module the actor was spawned from and is
	// restarted from. The entry owns one reference to it.
	callee heap.Value

	ctx     *interp.Context
	mailbox *Mailbox

	pending pendingAction
	queued  bool
	steps   uint64

	// snapshot is the operand stack at the end of the last slice; the
	// entry owns one reference to each heap value in it.
	snapshot []heap.Value
}

func (e *entry) alive() bool {
	switch e.state {
	case StateReady, StateRunning, StateWaiting:
		return true
	default:
		return false
	}
}

// stopping reports whether a running actor will stop when its slice ends.
func (e *entry) stopping() bool {
	return e.actor != nil && e.actor.pending == pendingStop
}

// detaching reports whether a running actor's mailbox will be discarded when
// its slice ends, by a pending stop or restart.
func (e *entry) detaching() bool {
	return e.actor != nil && e.actor.pending != pendingNone
}

// allowRestart records a restart at now when fewer than max restarts fall
// inside window, and reports whether it did.
func (e *entry) allowRestart(now time.Time, max int, window time.Duration) bool {
	if window > 0 {
		cutoff := now.Add(-window)
		kept := e.restarts[:0]
		for _, t := range e.restarts {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		e.restarts = kept
	}

	if len(e.restarts) >= max {
		return false
	}
	e.restarts = append(e.restarts, now)
	return true
}

// boot gives the actor a fresh execution context and mailbox and queues it.
func (s *System) boot(e *entry) error {
	a := e.actor
	unit, entryIP, captures, err := s.resolveCallee(a.callee)
	if err != nil {
		return err
	}
	for _, v := range captures {
		s.heap.Retain(v)
	}
	ctx, err := interp.NewContext(s.heap, unit, entryIP, captures)
	if err != nil {
		return err
	}

	a.ctx = ctx
	a.mailbox = NewMailbox()
	a.pending = pendingNone
	e.state = StateReady
	e.reason = nil
	s.enqueue(e)
	return nil
}

// teardown releases the execution context and undelivered messages.
func (s *System) teardown(e *entry) {
	a := e.actor
	if a == nil {
		return
	}
	if a.ctx != nil {
		a.ctx.Release()
		a.ctx = nil
	}
	if a.mailbox != nil && !a.mailbox.Closed() {
		s.heap.ReleaseAll(a.mailbox.Close())
	}
}

// takeSnapshot replaces the retained stack snapshot with the current stack.
func (s *System) takeSnapshot(e *entry) {
	a := e.actor
	if a.ctx == nil {
		return
	}
	next := a.ctx.Stack()
	for _, v := range next {
		s.heap.Retain(v)
	}
	s.heap.ReleaseAll(a.snapshot)
	a.snapshot = next
}

func (s *System) resolveCallee(callee heap.Value) (*interp.Unit, int, []heap.Value, error) {
	obj := callee.Object()
	if obj == nil {
		return nil, 0, nil, fmt.Errorf("%w: cannot spawn %s", heap.ErrType, callee)
	}
	unit, ok := s.unit(obj.ModuleID())
	if !ok {
		return nil, 0, nil, fmt.Errorf("%w: %d", ErrModuleNotFound, obj.ModuleID())
	}
	switch obj.Kind() {
	case heap.ObjModule:
		return unit, 0, nil, nil
	case heap.ObjClosure:
		return unit, obj.Entry(), obj.Captures(), nil
	default:
		return nil, 0, nil, fmt.Errorf("%w: cannot spawn %s", heap.ErrType, callee)
	}
}

// spawnActor creates an actor from callee under the given supervisor.
// callee is borrowed.
func (s *System) spawnActor(parent Pid, callee heap.Value) (Pid, error) {
	sup, err := s.liveSupervisor(parent)
	if err != nil {
		return 0, err
	}

	e := &entry{
		pid:    s.nextPid(),
		parent: parent,
		actor:  &actor{callee: callee},
	}
	s.heap.Retain(callee)
	if err := s.boot(e); err != nil {
		s.heap.Release(callee)
		return 0, err
	}

	s.entries = append(s.entries, e)
	sup.sup.children = append(sup.sup.children, e.pid)
	s.emit(Event{Kind: EventSpawn, Pid: e.pid, Parent: parent})
	return e.pid, nil
}
