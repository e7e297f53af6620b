package core

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/heap"
	"github.com/najoast/raft/interp"
)

// System is the VM coordinator. It owns the heap, the module registry and
// the arena of actors and supervisors, and schedules actors on a pool of
// workers. Several Systems may coexist in one process.
type System struct {
	id   string
	opts Options
	log  *slog.Logger
	heap *heap.Heap

	// world is held for reading by every running slice and for writing by
	// the cycle collector.
	world sync.RWMutex

	modMu  sync.RWMutex
	units  map[uint32]*interp.Unit
	nextID uint32

	mu      sync.Mutex
	cond    *sync.Cond
	entries []*entry // indexed by Pid; entries[0] is unused
	queue   []*entry
	root    Pid
	busy    int

	running     bool
	interrupted bool
	halted      bool
	closed      bool
	runs        sync.WaitGroup

	escalated  error
	conditions []error
	events     []Event

	steps         uint64
	sent          uint64
	dropped       uint64
	restartsTotal uint64
	gcRuns        uint64

	budget      atomic.Int64
	gcThreshold atomic.Int64
}

// New creates a System. Zero Workers, FairnessBudget, Supervisor and Clock
// take their values from DefaultOptions; a zero GCThreshold disables
// automatic collection.
func New(opts Options) *System {
	def := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.FairnessBudget <= 0 {
		opts.FairnessBudget = def.FairnessBudget
	}
	if opts.Supervisor == (SupervisorSpec{}) {
		opts.Supervisor = def.Supervisor
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &System{
		id:      uuid.NewString(),
		opts:    opts,
		heap:    heap.New(),
		units:   make(map[uint32]*interp.Unit),
		entries: []*entry{nil},
	}
	s.log = opts.Logger.With("system", s.id)
	s.cond = sync.NewCond(&s.mu)
	s.budget.Store(int64(opts.FairnessBudget))
	s.gcThreshold.Store(opts.GCThreshold)
	return s
}

// ID returns the unique id of this System, used in logs and results.
func (s *System) ID() string {
	return s.id
}

// Heap returns the heap shared by the actors of this System. Values built
// on it outside a run must be handed to Send before the next collection.
func (s *System) Heap() *heap.Heap {
	return s.heap
}

// SetFairnessBudget changes the per-turn instruction budget. It takes effect
// from the next slice.
func (s *System) SetFairnessBudget(n int) {
	if n > 0 {
		s.budget.Store(int64(n))
	}
}

// SetGCThreshold changes the allocation count that triggers a cycle
// collection. Zero disables automatic collection.
func (s *System) SetGCThreshold(n int64) {
	s.gcThreshold.Store(n)
}

// LoadModule decodes and registers a module in the wire format.
func (s *System) LoadModule(data []byte) (ModuleID, error) {
	m, err := bytecode.Decode(data)
	if err != nil {
		return 0, err
	}
	return s.AddModule(m)
}

// AddModule validates and registers a module. Module constants must name
// modules registered earlier.
func (s *System) AddModule(m *bytecode.Module) (ModuleID, error) {
	if s.isClosed() {
		return 0, ErrSystemClosed
	}

	// The collector must not run between materializing constants and
	// registering the unit.
	s.world.RLock()
	defer s.world.RUnlock()
	s.modMu.Lock()
	defer s.modMu.Unlock()

	if err := m.Validate(func(id uint32) bool {
		_, ok := s.units[id]
		return ok
	}); err != nil {
		return 0, err
	}

	id := s.nextID + 1
	u, err := interp.NewUnit(s.heap, id, m, func(id uint32) (*interp.Unit, bool) {
		u, ok := s.units[id]
		return u, ok
	})
	if err != nil {
		return 0, err
	}
	s.nextID = id
	s.units[id] = u
	s.log.Debug("module loaded", "id", id, "name", m.Name,
		"instructions", len(m.Code), "constants", len(m.Constants))
	return ModuleID(id), nil
}

func (s *System) unit(id uint32) (*interp.Unit, bool) {
	s.modMu.RLock()
	defer s.modMu.RUnlock()
	u, ok := s.units[id]
	return u, ok
}

// SpawnRoot starts an actor at the first instruction of a module under the
// root supervisor, creating the root supervisor on first use.
func (s *System) SpawnRoot(id ModuleID) (Pid, error) {
	u, ok := s.unit(uint32(id))
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrModuleNotFound, id)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrSystemClosed
	}
	if s.root == 0 {
		root, err := s.spawnSupervisor(0)
		if err != nil {
			s.mu.Unlock()
			return 0, err
		}
		s.root = root
	}
	pid, err := s.spawnActor(s.root, u.Ref)
	s.mu.Unlock()

	s.flushEvents()
	return pid, err
}

// RootSupervisor returns the pid of the root supervisor, or zero before the
// first SpawnRoot.
func (s *System) RootSupervisor() Pid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Send delivers a value to an actor from outside the runtime, waking it if
// it is waiting. The System takes ownership of v.
func (s *System) Send(to Pid, v heap.Value) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.heap.Release(v)
		return ErrSystemClosed
	}
	err := s.deliver(0, to, v)
	s.mu.Unlock()

	s.flushEvents()
	return err
}

// deliver moves msg into the mailbox of to. Undeliverable messages are
// released and recorded, including those sent to an actor whose mailbox is
// about to be discarded by a pending stop or restart. Callers hold s.mu.
func (s *System) deliver(from, to Pid, msg heap.Value) error {
	e := s.lookup(to)
	if e == nil || e.actor == nil || !e.alive() || e.detaching() {
		s.heap.Release(msg)
		err := fmt.Errorf("%w: send from %s to %s", ErrActorNotFound, from, to)
		s.drop(to, err)
		return err
	}
	if err := e.actor.mailbox.Push(msg); err != nil {
		s.heap.Release(msg)
		err = fmt.Errorf("send from %s to %s: %w", from, to, err)
		s.drop(to, err)
		return err
	}

	s.sent++
	if e.state == StateWaiting {
		e.state = StateReady
		s.enqueue(e)
	}
	return nil
}

func (s *System) drop(to Pid, err error) {
	s.dropped++
	s.record(err)
	s.emit(Event{Kind: EventDrop, Pid: to, Reason: err})
}

// Observe returns the state of an actor or supervisor.
func (s *System) Observe(pid Pid) (ActorSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.lookup(pid)
	if e == nil {
		return ActorSnapshot{}, false
	}
	snap := ActorSnapshot{
		Pid:        e.pid,
		Parent:     e.parent,
		Supervisor: e.sup != nil,
		State:      e.state,
		Reason:     e.reason,
		Restarts:   e.restartCount,
	}
	if a := e.actor; a != nil {
		snap.Stack = append([]heap.Value(nil), a.snapshot...)
		snap.Steps = a.steps
		if a.mailbox != nil {
			snap.Mailbox = a.mailbox.Len()
		}
	}
	if e.sup != nil {
		snap.Strategy = e.sup.spec
		snap.Children = append([]Pid(nil), e.sup.children...)
	}
	return snap, true
}

// Stats returns current runtime statistics.
func (s *System) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		Steps:    s.steps,
		Sent:     s.sent,
		Dropped:  s.dropped,
		Restarts: s.restartsTotal,
		GCRuns:   s.gcRuns,
	}
	for _, e := range s.entries[1:] {
		if e.sup != nil {
			st.Supervisors++
			continue
		}
		st.Actors++
		switch e.state {
		case StateReady, StateRunning:
			st.Ready++
		case StateWaiting:
			st.Waiting++
		case StateTerminated:
			st.Terminated++
		case StateFailed:
			st.Failed++
		}
	}
	s.mu.Unlock()

	st.Heap = s.heap.Stats()
	return st
}

// Close stops the System and releases every value it holds. It waits for a
// run in progress to return.
func (s *System) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.runs.Wait()

	s.world.Lock()
	defer s.world.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries[1:] {
		if e.actor == nil {
			continue
		}
		s.teardown(e)
		s.heap.ReleaseAll(e.actor.snapshot)
		e.actor.snapshot = nil
		s.heap.Release(e.actor.callee)
		e.actor.callee = heap.Nil
	}
	s.queue = nil

	s.modMu.Lock()
	for id, u := range s.units {
		u.Release(s.heap)
		delete(s.units, id)
	}
	s.modMu.Unlock()

	hs := s.heap.Stats()
	s.log.Info("system closed", "live_objects", hs.Live, "faults", hs.Faults)
	return nil
}

func (s *System) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *System) lookup(pid Pid) *entry {
	if pid == 0 || uint64(pid) >= uint64(len(s.entries)) {
		return nil
	}
	return s.entries[pid]
}

func (s *System) nextPid() Pid {
	return Pid(len(s.entries))
}

// record keeps a non-fatal condition for the run result.
func (s *System) record(err error) {
	s.conditions = append(s.conditions, err)
}

// emit queues an event for the observer. Callers hold s.mu.
func (s *System) emit(ev Event) {
	if s.opts.Observer == nil {
		return
	}
	ev.At = s.now()
	s.events = append(s.events, ev)
}

// flushEvents delivers queued events outside the lock.
func (s *System) flushEvents() {
	if s.opts.Observer == nil {
		return
	}
	s.mu.Lock()
	events := s.events
	s.events = nil
	s.mu.Unlock()

	for _, ev := range events {
		s.opts.Observer(ev)
	}
}
