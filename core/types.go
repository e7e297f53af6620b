package core

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/najoast/raft/heap"
)

// Pid identifies an actor or supervisor. Pids are allocated sequentially
// starting at 1 and are never reused within a System.
type Pid uint64

// String returns the string representation of Pid.
func (p Pid) String() string {
	return fmt.Sprintf("<%d>", uint64(p))
}

// ModuleID identifies a registered bytecode module.
type ModuleID uint32

// ActorState represents the scheduling state of an actor.
type ActorState uint8

const (
	// StateReady means the actor is queued for execution
	StateReady ActorState = iota

	// StateRunning means a worker is executing the actor
	StateRunning

	// StateWaiting means the actor is blocked on an empty mailbox.
	// Alive supervisors also report this state.
	StateWaiting

	// StateTerminated means the actor finished or was stopped by its supervisor
	StateTerminated

	// StateFailed means an instruction raised an error
	StateFailed
)

// String returns the string representation of ActorState.
func (s ActorState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Strategy selects which children a supervisor restarts when one fails.
type Strategy uint8

const (
	// OneForOne restarts only the failed child
	OneForOne Strategy = iota

	// OneForAll restarts every live child in spawn order
	OneForAll

	// RestForOne restarts the failed child and the children spawned after it
	RestForOne
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case OneForOne:
		return "one_for_one"
	case OneForAll:
		return "one_for_all"
	case RestForOne:
		return "rest_for_one"
	default:
		return "unknown"
	}
}

// ParseStrategy parses a strategy name as written by Strategy.String.
// Hyphens are accepted in place of underscores.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(name), "-", "_") {
	case "one_for_one":
		return OneForOne, nil
	case "one_for_all":
		return OneForAll, nil
	case "rest_for_one":
		return RestForOne, nil
	default:
		return 0, fmt.Errorf("unknown supervisor strategy %q", name)
	}
}

// SupervisorSpec is the restart policy of a supervisor.
type SupervisorSpec struct {
	Strategy Strategy

	// MaxRestarts is how many restarts of one child are allowed within
	// Window before the supervisor gives up. Zero escalates every failure.
	MaxRestarts int

	// Window is the sliding restart window. Zero or less never forgets a restart.
	Window time.Duration
}

// Options contains configuration options for creating a System.
type Options struct {
	// Workers is the number of scheduler goroutines
	Workers int

	// FairnessBudget is the number of instructions an actor runs per turn
	FairnessBudget int

	// GCThreshold is the number of allocations between cycle collections.
	// Zero disables automatic collection.
	GCThreshold int64

	// Supervisor is the policy for the root supervisor and for supervisors
	// spawned by bytecode until they call SetStrategy
	Supervisor SupervisorSpec

	// Logger receives runtime logs. Nil discards them.
	Logger *slog.Logger

	// Observer receives lifecycle events. It is called without the system
	// lock held and may be called from several workers at once.
	Observer func(Event)

	// Clock returns the current time for restart windows
	Clock func() time.Time
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		Workers:        runtime.NumCPU(),
		FairnessBudget: 1000,
		GCThreshold:    10000,
		Supervisor: SupervisorSpec{
			Strategy:    OneForOne,
			MaxRestarts: 3,
			Window:      5 * time.Second,
		},
		Clock: time.Now,
	}
}

// EventKind identifies a lifecycle event.
type EventKind uint8

const (
	EventSpawn EventKind = iota
	EventTerminate
	EventFail
	EventRestart
	EventEscalate
	EventDrop
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventSpawn:
		return "spawn"
	case EventTerminate:
		return "terminate"
	case EventFail:
		return "fail"
	case EventRestart:
		return "restart"
	case EventEscalate:
		return "escalate"
	case EventDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Event reports a change in the actor tree.
type Event struct {
	Kind       EventKind
	Pid        Pid
	Parent     Pid
	Supervisor bool
	Reason     error
	At         time.Time
}

// ActorSnapshot is the observable state of an actor or supervisor, taken at
// the end of its most recent slice.
type ActorSnapshot struct {
	Pid        Pid
	Parent     Pid
	Supervisor bool
	State      ActorState
	Reason     error

	// Stack is the operand stack, bottom first. Heap values stay valid
	// until the actor's next slice, or until Close for finished actors.
	Stack []heap.Value

	Mailbox  int
	Restarts int
	Steps    uint64

	// Supervisors only
	Strategy SupervisorSpec
	Children []Pid
}

// Top returns the value on top of the stack.
func (a ActorSnapshot) Top() (heap.Value, bool) {
	if len(a.Stack) == 0 {
		return heap.Nil, false
	}
	return a.Stack[len(a.Stack)-1], true
}

// Result is the outcome of RunToCompletion.
type Result struct {
	RunID string

	// Escalated is set when a failure escalated past the root supervisor.
	Escalated error

	// Parked lists actors left waiting on empty mailboxes.
	Parked []Pid

	// Conditions lists recorded non-fatal errors: failures and dropped sends.
	Conditions []error

	Steps    uint64
	Duration time.Duration
}

// Stats contains runtime statistics for a System.
type Stats struct {
	Actors      int
	Supervisors int
	Ready       int
	Waiting     int
	Terminated  int
	Failed      int

	Steps    uint64
	Sent     uint64
	Dropped  uint64
	Restarts uint64
	GCRuns   uint64

	Heap heap.Stats
}
