package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/raft/config"
	"github.com/najoast/raft/core"
	"github.com/najoast/raft/heap"
)

// ErrNoProgram is returned when the runtime service starts without a loaded module.
var ErrNoProgram = errors.New("no program loaded")

// RuntimeService runs one bytecode program on a core.System.
type RuntimeService struct {
	system *core.System
	logger *slog.Logger

	mu     sync.Mutex
	entry  core.ModuleID
	inbox  []heap.Value
	root   core.Pid
	cancel context.CancelFunc
	done   chan struct{}
	result core.Result
	err    error
}

// NewRuntimeService wraps system. The service owns the system and closes it on Stop.
func NewRuntimeService(system *core.System, logger *slog.Logger) *RuntimeService {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RuntimeService{
		system: system,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Name returns the service name
func (s *RuntimeService) Name() string {
	return "runtime"
}

// System returns the wrapped runtime.
func (s *RuntimeService) System() *core.System {
	return s.system
}

// Load registers a module and marks it as the program's entry module.
func (s *RuntimeService) Load(data []byte) (core.ModuleID, error) {
	id, err := s.system.LoadModule(data)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()
	return id, nil
}

// SetEntry selects an already registered module as the entry module.
func (s *RuntimeService) SetEntry(id core.ModuleID) {
	s.mu.Lock()
	s.entry = id
	s.mu.Unlock()
}

// SendOnStart queues values for the root actor's mailbox. They are
// delivered when Start spawns it, before the first instruction runs. The
// service takes ownership of the values.
func (s *RuntimeService) SendOnStart(values ...heap.Value) {
	s.mu.Lock()
	s.inbox = append(s.inbox, values...)
	s.mu.Unlock()
}

// Start spawns the root actor and runs the system in the background until
// it is quiescent. Start returns once the run is under way.
func (s *RuntimeService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return core.ErrAlreadyRunning
	}
	if s.entry == 0 {
		return ErrNoProgram
	}

	root, err := s.system.SpawnRoot(s.entry)
	if err != nil {
		return fmt.Errorf("spawn root actor: %w", err)
	}
	s.root = root

	for _, v := range s.inbox {
		if err := s.system.Send(root, v); err != nil {
			s.logger.Warn("initial message dropped", "root", root, "error", err)
		}
	}
	s.inbox = nil

	// The run outlives ctx, which only bounds startup.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go func() {
		res, err := s.system.RunToCompletion(runCtx)
		if err == nil && res.Escalated != nil {
			err = res.Escalated
		}
		s.mu.Lock()
		s.result, s.err = res, err
		s.mu.Unlock()
		close(s.done)
	}()

	s.logger.Info("program started", "system", s.system.ID(), "module", s.entry, "root", root)
	return nil
}

// Stop interrupts a run in progress, waits for it and closes the system.
func (s *RuntimeService) Stop(ctx context.Context) error {
	if cancel := s.cancelFunc(); cancel != nil {
		cancel()
		select {
		case <-s.done:
		case <-ctx.Done():
			return fmt.Errorf("waiting for run to stop: %w", ctx.Err())
		}
	}

	s.mu.Lock()
	s.system.Heap().ReleaseAll(s.inbox)
	s.inbox = nil
	s.mu.Unlock()
	return s.system.Close()
}

func (s *RuntimeService) cancelFunc() context.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel
}

// Done is closed when the program has run to completion or was interrupted.
func (s *RuntimeService) Done() <-chan struct{} {
	return s.done
}

// Result returns the outcome of the run. It is only meaningful after Done is closed.
func (s *RuntimeService) Result() (core.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Root returns the Pid of the program's root actor.
func (s *RuntimeService) Root() core.Pid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// Health reports the run state with the runtime counters.
func (s *RuntimeService) Health(ctx context.Context) (HealthStatus, error) {
	stats := s.system.Stats()
	status := HealthStatus{
		LastCheck: time.Now(),
		Data: map[string]any{
			"actors":      stats.Actors,
			"supervisors": stats.Supervisors,
			"steps":       stats.Steps,
			"restarts":    stats.Restarts,
			"dropped":     stats.Dropped,
			"heap_live":   stats.Heap.Live,
		},
	}

	s.mu.Lock()
	started := s.cancel != nil
	s.mu.Unlock()

	select {
	case <-s.done:
		res, err := s.Result()
		switch {
		case res.Escalated != nil:
			status.State, status.Message = HealthCritical, res.Escalated.Error()
		case err != nil:
			status.State, status.Message = HealthStopped, err.Error()
		default:
			status.State, status.Message = HealthStopped, "program finished"
		}
	default:
		if started {
			status.State, status.Message = HealthHealthy, "program running"
		} else {
			status.State, status.Message = HealthStarting, "program not started"
		}
	}
	return status, nil
}

// ApplyConfig applies the settings that can change while a program runs.
func (s *RuntimeService) ApplyConfig(oldConfig, newConfig *config.Config) {
	if oldConfig.Scheduler.FairnessBudget != newConfig.Scheduler.FairnessBudget {
		s.system.SetFairnessBudget(newConfig.Scheduler.FairnessBudget)
		s.logger.Info("fairness budget changed", "budget", newConfig.Scheduler.FairnessBudget)
	}
	if oldConfig.Heap.GCThreshold != newConfig.Heap.GCThreshold {
		s.system.SetGCThreshold(newConfig.Heap.GCThreshold)
		s.logger.Info("gc threshold changed", "threshold", newConfig.Heap.GCThreshold)
	}
}

// WatcherService runs a config.Watcher as a managed service.
type WatcherService struct {
	watcher *config.Watcher
	started atomic.Bool
}

// NewWatcherService wraps watcher.
func NewWatcherService(watcher *config.Watcher) *WatcherService {
	return &WatcherService{watcher: watcher}
}

// Name returns the service name
func (s *WatcherService) Name() string {
	return "config-watcher"
}

// Start starts watching the configuration file
func (s *WatcherService) Start(ctx context.Context) error {
	if err := s.watcher.Start(); err != nil {
		return err
	}
	s.started.Store(true)
	return nil
}

// Stop stops watching the configuration file
func (s *WatcherService) Stop(ctx context.Context) error {
	s.started.Store(false)
	return s.watcher.Stop()
}

// Health reports whether the watcher is running
func (s *WatcherService) Health(ctx context.Context) (HealthStatus, error) {
	if !s.started.Load() {
		return HealthStatus{State: HealthStopped, Message: "not watching"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "watching " + s.watcher.File(),
	}, nil
}
