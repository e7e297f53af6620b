package core

import (
	"github.com/dustin/go-humanize"

	"github.com/najoast/raft/heap"
)

// roots visits every value reachable from outside the heap: module constant
// pools, actor stacks and locals, mailboxes, spawn callees and retained
// snapshots. Callers hold both s.world and s.mu.
func (s *System) roots(visit func(heap.Value)) {
	s.modMu.RLock()
	for _, u := range s.units {
		u.Roots(visit)
	}
	s.modMu.RUnlock()

	for _, e := range s.entries[1:] {
		a := e.actor
		if a == nil {
			continue
		}
		visit(a.callee)
		if a.ctx != nil {
			a.ctx.Roots(visit)
		}
		if a.mailbox != nil {
			a.mailbox.roots(visit)
		}
		for _, v := range a.snapshot {
			visit(v)
		}
	}
}

// maybeCollect runs a cycle collection when enough allocations happened
// since the last one.
func (s *System) maybeCollect() {
	threshold := s.gcThreshold.Load()
	if threshold <= 0 || s.heap.Pressure() < threshold {
		return
	}
	s.collect(threshold)
}

// CollectCycles stops the world and reclaims unreachable reference cycles.
func (s *System) CollectCycles() heap.GCStats {
	return s.collect(0)
}

// collect waits for running slices to finish, then collects. A positive
// threshold is re-checked once the world is stopped so that concurrent
// triggers collect only once.
func (s *System) collect(threshold int64) heap.GCStats {
	s.world.Lock()
	defer s.world.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (threshold > 0 && s.heap.Pressure() < threshold) {
		return heap.GCStats{}
	}

	stats := s.heap.Collect(s.roots)
	s.gcRuns++

	hs := s.heap.Stats()
	s.log.Debug("cycle collection",
		"collected", stats.Collected,
		"reachable", stats.Reachable,
		"live_objects", humanize.Comma(hs.Live),
		"live_bytes", humanize.Bytes(uint64(hs.LiveBytes)),
		"took", stats.Duration)
	return stats
}
