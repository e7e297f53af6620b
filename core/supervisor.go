package core

import (
	"fmt"
	"time"
)

// supervisor holds the restart policy and children of a supervisor entry.
type supervisor struct {
	spec SupervisorSpec

	// children in spawn order
	children []Pid
}

// spawnSupervisor creates a supervisor with the default policy. A zero
// parent creates a root supervisor.
func (s *System) spawnSupervisor(parent Pid) (Pid, error) {
	var up *entry
	if parent != 0 {
		var err error
		if up, err = s.liveSupervisor(parent); err != nil {
			return 0, err
		}
	}

	e := &entry{
		pid:    s.nextPid(),
		parent: parent,
		state:  StateWaiting,
		sup:    &supervisor{spec: s.opts.Supervisor},
	}
	s.entries = append(s.entries, e)
	if up != nil {
		up.sup.children = append(up.sup.children, e.pid)
	}
	s.emit(Event{Kind: EventSpawn, Pid: e.pid, Parent: parent, Supervisor: true})
	return e.pid, nil
}

func (s *System) liveSupervisor(pid Pid) (*entry, error) {
	e := s.lookup(pid)
	if e == nil || e.sup == nil {
		return nil, fmt.Errorf("%w: %s is not a supervisor", ErrActorNotFound, pid)
	}
	if !e.alive() {
		return nil, fmt.Errorf("%w: supervisor %s is %s", ErrActorNotFound, pid, e.state)
	}
	return e, nil
}

func (s *System) setStrategy(pid Pid, spec SupervisorSpec) error {
	e, err := s.liveSupervisor(pid)
	if err != nil {
		return err
	}
	e.sup.spec = spec
	s.log.Debug("supervisor configured", "pid", pid, "strategy", spec.Strategy,
		"max_restarts", spec.MaxRestarts, "window", spec.Window)
	return nil
}

// restartChild restarts a child on request. It does not count against the
// child's restart intensity.
func (s *System) restartChild(supPid, child Pid) error {
	sup, err := s.liveSupervisor(supPid)
	if err != nil {
		return err
	}
	for _, pid := range sup.sup.children {
		if pid == child {
			s.restart(s.lookup(pid))
			return nil
		}
	}
	return fmt.Errorf("%w: %s is not a child of %s", ErrActorNotFound, child, supPid)
}

// handleFailure applies sup's strategy to a failed child, or escalates when
// the child has used up its restart intensity.
func (s *System) handleFailure(sup, child *entry, reason error) {
	if sup == nil || !sup.alive() {
		return
	}

	spec := sup.sup.spec
	if !child.allowRestart(s.now(), spec.MaxRestarts, spec.Window) {
		s.escalate(sup, fmt.Errorf("%w: %s failed more than %d times in %s: %w",
			ErrRestartLimit, child.pid, spec.MaxRestarts, spec.Window, reason))
		return
	}

	switch spec.Strategy {
	case OneForOne:
		s.restart(child)

	case OneForAll:
		for _, pid := range sup.sup.children {
			if c := s.lookup(pid); c == child || c.alive() {
				s.restart(c)
			}
		}

	case RestForOne:
		after := false
		for _, pid := range sup.sup.children {
			c := s.lookup(pid)
			if c == child {
				after = true
			}
			if c == child || (after && c.alive()) {
				s.restart(c)
			}
		}
	}
}

// escalate stops sup and its subtree and reports the failure to sup's
// parent. Escalating a root supervisor halts the run.
func (s *System) escalate(sup *entry, reason error) {
	s.stopChildren(sup)
	sup.state = StateFailed
	sup.reason = reason
	s.record(reason)
	s.emit(Event{Kind: EventEscalate, Pid: sup.pid, Parent: sup.parent, Supervisor: true, Reason: reason})
	s.log.Warn("supervisor escalated", "pid", sup.pid, "parent", sup.parent, "reason", reason)

	if sup.parent == 0 {
		s.escalated = reason
		s.halted = true
		s.cond.Broadcast()
		return
	}
	s.handleFailure(s.lookup(sup.parent), sup, reason)
}

// restart gives e a fresh start. Supervisors stop their subtree and restart
// every child that did not finish normally.
func (s *System) restart(e *entry) {
	if e.sup != nil {
		s.stopChildren(e)
		e.state = StateWaiting
		e.reason = nil
		for _, pid := range e.sup.children {
			if c := s.lookup(pid); c.reason != nil || c.stopping() {
				c.restarts = nil
				s.restart(c)
			}
		}
		s.countRestart(e)
		return
	}

	if e.state == StateRunning {
		e.actor.pending = pendingRestart
		return
	}
	s.teardown(e)
	if err := s.boot(e); err != nil {
		e.state = StateFailed
		e.reason = err
		s.record(err)
		return
	}
	s.countRestart(e)
}

func (s *System) countRestart(e *entry) {
	e.restartCount++
	s.restartsTotal++
	s.emit(Event{Kind: EventRestart, Pid: e.pid, Parent: e.parent, Supervisor: e.sup != nil})
	s.log.Debug("restarted", "pid", e.pid, "parent", e.parent, "restarts", e.restartCount)
}

// stop terminates e with ErrStopped. Running actors stop when their slice ends.
func (s *System) stop(e *entry) {
	if e.sup != nil {
		s.stopChildren(e)
		if e.alive() {
			e.state = StateTerminated
			e.reason = ErrStopped
			s.emit(Event{Kind: EventTerminate, Pid: e.pid, Parent: e.parent, Supervisor: true, Reason: ErrStopped})
		}
		return
	}

	switch e.state {
	case StateRunning:
		e.actor.pending = pendingStop
	case StateReady, StateWaiting:
		s.teardown(e)
		e.state = StateTerminated
		e.reason = ErrStopped
		s.emit(Event{Kind: EventTerminate, Pid: e.pid, Parent: e.parent, Reason: ErrStopped})
	}
}

func (s *System) stopChildren(sup *entry) {
	for _, pid := range sup.sup.children {
		s.stop(s.lookup(pid))
	}
}

func (s *System) now() time.Time {
	return s.opts.Clock()
}
