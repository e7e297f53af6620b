package core

import (
	"fmt"
	"time"

	"github.com/najoast/raft/heap"
	"github.com/najoast/raft/interp"
)

// actorHost binds the dispatcher to the actor it is running.
type actorHost struct {
	s *System
	e *entry
}

var _ interp.Host = (*actorHost)(nil)

func (h *actorHost) Self() uint64 {
	return uint64(h.e.pid)
}

func (h *actorHost) Unit(id uint32) (*interp.Unit, bool) {
	return h.s.unit(id)
}

func (h *actorHost) Spawn(callee heap.Value) (uint64, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	pid, err := h.s.spawnActor(h.e.parent, callee)
	return uint64(pid), err
}

func (h *actorHost) SpawnChild(supervisor uint64, callee heap.Value) (uint64, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	pid, err := h.s.spawnActor(Pid(supervisor), callee)
	return uint64(pid), err
}

func (h *actorHost) Send(to uint64, msg heap.Value) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	// Undeliverable messages are recorded as conditions; the sender goes on.
	_ = h.s.deliver(h.e.pid, Pid(to), msg)
}

func (h *actorHost) Receive() (heap.Value, bool) {
	return h.e.actor.mailbox.Pop()
}

func (h *actorHost) SpawnSupervisor() (uint64, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	pid, err := h.s.spawnSupervisor(h.e.parent)
	return uint64(pid), err
}

func (h *actorHost) SetStrategy(supervisor uint64, strategy int, maxRestarts, windowMillis int64) error {
	if strategy < 0 || strategy > int(RestForOne) {
		return fmt.Errorf("unknown supervisor strategy %d", strategy)
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.setStrategy(Pid(supervisor), SupervisorSpec{
		Strategy:    Strategy(strategy),
		MaxRestarts: int(maxRestarts),
		Window:      time.Duration(windowMillis) * time.Millisecond,
	})
}

func (h *actorHost) RestartChild(supervisor, child uint64) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.restartChild(Pid(supervisor), Pid(child))
}
