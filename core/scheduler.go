package core

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/raft/interp"
)

// enqueue appends a ready actor to the run queue.
func (s *System) enqueue(e *entry) {
	if e.actor.queued {
		return
	}
	e.actor.queued = true
	s.queue = append(s.queue, e)
	s.cond.Broadcast()
}

// dequeue returns the next actor still in StateReady, skipping entries that
// were stopped or restarted while queued.
func (s *System) dequeue() *entry {
	for len(s.queue) > 0 {
		e := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		e.actor.queued = false
		if e.state == StateReady {
			return e
		}
	}
	return nil
}

// RunToCompletion runs actors on the worker pool until no actor is runnable,
// a failure escalates past the root supervisor, or ctx is done. Actors left
// waiting for messages are reported in Result.Parked and may be resumed by
// Send and another run.
func (s *System) RunToCompletion(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Result{}, ErrSystemClosed
	}
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrAlreadyRunning
	}
	s.running = true
	s.interrupted = false
	s.runs.Add(1)
	s.mu.Unlock()
	defer s.runs.Done()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.interrupted = true
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	start := time.Now()
	s.log.Info("run started", "workers", s.opts.Workers, "budget", s.budget.Load())

	var g errgroup.Group
	for i := 0; i < s.opts.Workers; i++ {
		g.Go(s.worker)
	}
	err := g.Wait()

	s.mu.Lock()
	s.running = false
	res := s.result()
	s.mu.Unlock()
	res.Duration = time.Since(start)
	s.flushEvents()

	s.log.Info("run finished",
		"steps", humanize.Comma(int64(res.Steps)),
		"parked", len(res.Parked),
		"conditions", len(res.Conditions),
		"escalated", res.Escalated != nil,
		"took", res.Duration)

	if err == nil {
		err = ctx.Err()
	}
	return res, err
}

// RunStep runs a single scheduler turn on the calling goroutine. It reports
// false when no actor is ready, or when a run is in progress.
func (s *System) RunStep() bool {
	s.mu.Lock()
	if s.closed || s.halted || s.running {
		s.mu.Unlock()
		return false
	}
	e := s.dequeue()
	if e == nil {
		s.mu.Unlock()
		return false
	}
	e.state = StateRunning
	s.busy++
	s.mu.Unlock()

	s.turn(e)
	return true
}

func (s *System) worker() error {
	for {
		e, ok := s.next()
		if !ok {
			return nil
		}
		s.turn(e)
	}
}

// next blocks until an actor is ready or the run is over.
func (s *System) next() (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed || s.halted || s.interrupted {
			return nil, false
		}
		if e := s.dequeue(); e != nil {
			e.state = StateRunning
			s.busy++
			return e, true
		}
		if s.busy == 0 {
			s.cond.Broadcast()
			return nil, false
		}
		s.cond.Wait()
	}
}

// turn runs one slice of e, which the caller has marked running.
func (s *System) turn(e *entry) {
	host := &actorHost{s: s, e: e}

	s.world.RLock()
	out := e.actor.ctx.Run(host, int(s.budget.Load()))
	s.world.RUnlock()

	s.mu.Lock()
	s.busy--
	s.finish(e, out)
	s.cond.Broadcast()
	s.mu.Unlock()

	s.flushEvents()
	s.maybeCollect()
}

// finish applies the outcome of a slice.
func (s *System) finish(e *entry, out interp.Outcome) {
	a := e.actor
	a.steps += uint64(out.Steps)
	s.steps += uint64(out.Steps)
	s.takeSnapshot(e)

	switch a.pending {
	case pendingStop:
		a.pending = pendingNone
		e.state = StateReady
		s.stop(e)
		return
	case pendingRestart:
		a.pending = pendingNone
		e.state = StateReady
		s.restart(e)
		return
	}

	switch out.Status {
	case interp.Yielded:
		e.state = StateReady
		s.enqueue(e)

	case interp.Waiting:
		// A send that raced with this slice left a message behind.
		if a.mailbox.Len() > 0 {
			e.state = StateReady
			s.enqueue(e)
		} else {
			e.state = StateWaiting
		}

	case interp.Terminated:
		s.teardown(e)
		e.state = StateTerminated
		e.reason = nil
		s.emit(Event{Kind: EventTerminate, Pid: e.pid, Parent: e.parent})

	case interp.Failed:
		s.teardown(e)
		e.state = StateFailed
		e.reason = out.Err
		s.record(fmt.Errorf("%s failed: %w", e.pid, out.Err))
		s.emit(Event{Kind: EventFail, Pid: e.pid, Parent: e.parent, Reason: out.Err})
		s.log.Debug("actor failed", "pid", e.pid, "reason", out.Err)
		s.handleFailure(s.lookup(e.parent), e, out.Err)
	}
}

// result builds a Result from the current state. Callers hold s.mu.
func (s *System) result() Result {
	res := Result{
		RunID:      s.id,
		Escalated:  s.escalated,
		Conditions: append([]error(nil), s.conditions...),
		Steps:      s.steps,
	}
	for _, e := range s.entries[1:] {
		if e.actor != nil && e.state == StateWaiting {
			res.Parked = append(res.Parked, e.pid)
		}
	}
	return res
}
