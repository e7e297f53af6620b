package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/najoast/raft/bytecode"
	"github.com/najoast/raft/config"
	"github.com/najoast/raft/core"
	"github.com/najoast/raft/heap"
	"github.com/najoast/raft/logs"
)

// recordingService appends its lifecycle calls to a shared log.
type recordingService struct {
	name     string
	log      *[]string
	mu       *sync.Mutex
	startErr error
}

func (s *recordingService) record(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, op+":"+s.name)
}

func (s *recordingService) Name() string { return s.name }

func (s *recordingService) Start(ctx context.Context) error {
	s.record("start")
	return s.startErr
}

func (s *recordingService) Stop(ctx context.Context) error {
	s.record("stop")
	return nil
}

func (s *recordingService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{State: HealthHealthy}, nil
}

func TestLifecycleOrder(t *testing.T) {
	var (
		calls []string
		mu    sync.Mutex
	)
	svc := func(name string) *recordingService {
		return &recordingService{name: name, log: &calls, mu: &mu}
	}

	lm := NewLifecycleManager(nil)
	var events []EventType
	lm.AddListener(func(ev LifecycleEvent) {
		events = append(events, ev.Type)
	})

	// c depends on b, b depends on a
	if err := lm.Register("c", svc("c"), "b"); err != nil {
		t.Fatalf("Register c failed: %v", err)
	}
	if err := lm.Register("b", svc("b"), "a"); err != nil {
		t.Fatalf("Register b failed: %v", err)
	}
	if err := lm.Register("a", svc("a")); err != nil {
		t.Fatalf("Register a failed: %v", err)
	}
	if err := lm.Register("a", svc("a")); !errors.Is(err, ErrDuplicateService) {
		t.Errorf("expected ErrDuplicateService, got %v", err)
	}

	ctx := context.Background()
	if err := lm.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !lm.IsStarted() {
		t.Error("manager should report started")
	}
	if err := lm.Register("late", svc("late")); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}

	health, err := lm.Health(ctx)
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if len(health) != 3 || health["b"].State != HealthHealthy || health["b"].LastCheck.IsZero() {
		t.Errorf("unexpected health %+v", health)
	}

	if err := lm.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	want := []string{"start:a", "start:b", "start:c", "stop:c", "stop:b", "stop:a"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, calls)
	}
	if events[len(events)-1] != EventLifecycleStopped {
		t.Errorf("expected last event %s, got %s", EventLifecycleStopped, events[len(events)-1])
	}
	if got := lm.Services(); strings.Join(got, ",") != "a,b,c" {
		t.Errorf("unexpected services %v", got)
	}
}

func TestLifecycleStartFailureRollsBack(t *testing.T) {
	var (
		calls []string
		mu    sync.Mutex
	)
	boom := errors.New("boom")
	lm := NewLifecycleManager(nil)
	lm.Register("a", &recordingService{name: "a", log: &calls, mu: &mu})
	lm.Register("b", &recordingService{name: "b", log: &calls, mu: &mu, startErr: boom}, "a")

	err := lm.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected start error to wrap boom, got %v", err)
	}
	var appErr *ApplicationError
	if !errors.As(err, &appErr) || appErr.Service != "b" {
		t.Errorf("expected ApplicationError for b, got %v", err)
	}
	want := "start:a,start:b,stop:a"
	if got := strings.Join(calls, ","); got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
	if lm.IsStarted() {
		t.Error("manager should not report started after failure")
	}
}

func TestLifecycleDependencyErrors(t *testing.T) {
	var (
		calls []string
		mu    sync.Mutex
	)
	tests := []struct {
		name    string
		deps    map[string][]string
		wantErr error
	}{
		{"unknown dependency", map[string][]string{"a": {"ghost"}}, ErrUnknownDependency},
		{"cycle", map[string][]string{"a": {"b"}, "b": {"a"}}, ErrCircularDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lm := NewLifecycleManager(nil)
			for name, deps := range tt.deps {
				lm.Register(name, &recordingService{name: name, log: &calls, mu: &mu}, deps...)
			}
			if err := lm.Start(context.Background()); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func encode(t *testing.T, m *bytecode.Module) []byte {
	t.Helper()
	data, err := bytecode.Encode(m)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data
}

func addProgram(t *testing.T) []byte {
	return encode(t, bytecode.NewBuilder("add").PushInt(1).PushInt(2).Op(bytecode.OpAdd).MustBuild())
}

func waitDone(t *testing.T, rt *RuntimeService) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("program did not finish")
	}
}

func TestRuntimeService(t *testing.T) {
	rt := NewRuntimeService(core.New(core.Options{Workers: 2}), nil)
	ctx := context.Background()

	if err := rt.Start(ctx); !errors.Is(err, ErrNoProgram) {
		t.Fatalf("expected ErrNoProgram, got %v", err)
	}
	status, _ := rt.Health(ctx)
	if status.State != HealthStarting {
		t.Errorf("expected starting state before run, got %s", status.State)
	}

	if _, err := rt.Load(addProgram(t)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := rt.Start(ctx); !errors.Is(err, core.ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning on second start, got %v", err)
	}
	waitDone(t, rt)

	if _, err := rt.Result(); err != nil {
		t.Errorf("unexpected run error: %v", err)
	}
	snap, ok := rt.System().Observe(rt.Root())
	if !ok {
		t.Fatalf("root actor %s not observable", rt.Root())
	}
	top, ok := snap.Top()
	if !ok || top.AsInt() != 3 {
		t.Errorf("expected 3 on the root stack, got %v", snap.Stack)
	}

	status, _ = rt.Health(ctx)
	if status.State != HealthStopped || status.Data["actors"] == nil {
		t.Errorf("unexpected health after run %+v", status)
	}

	if err := rt.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if live := rt.System().Heap().Stats().Live; live != 0 {
		t.Errorf("expected empty heap after Stop, got %d live objects", live)
	}
}

func TestRuntimeServiceSendOnStart(t *testing.T) {
	system := core.New(core.Options{Workers: 1})
	rt := NewRuntimeService(system, nil)
	ctx := context.Background()
	defer rt.Stop(ctx)

	program := bytecode.NewBuilder("echo").Op(bytecode.OpReceiveMessage).Op(bytecode.OpReceiveMessage).MustBuild()
	if _, err := rt.Load(encode(t, program)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rt.SendOnStart(heap.Int(42), system.Heap().Atom("done"))

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitDone(t, rt)

	snap, ok := system.Observe(rt.Root())
	if !ok {
		t.Fatal("root actor not observable")
	}
	if len(snap.Stack) != 2 || snap.Stack[0].AsInt() != 42 {
		t.Fatalf("expected [42 :done], got %v", snap.Stack)
	}
	if got := system.Heap().Format(snap.Stack[1]); got != ":done" {
		t.Errorf("expected :done, got %s", got)
	}
}

func TestRuntimeServiceApplyConfig(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := logs.NewWithWriter(config.LogConfig{Level: config.LogLevelInfo, Format: "text"}, buf)
	rt := NewRuntimeService(core.New(core.Options{Workers: 1}), logger.Logger)
	defer rt.Stop(context.Background())

	oldConfig := config.DefaultConfig()
	newConfig := oldConfig.Clone()
	newConfig.Scheduler.FairnessBudget = 5
	rt.ApplyConfig(oldConfig, newConfig)

	out := buf.String()
	if !strings.Contains(out, "fairness budget changed") {
		t.Errorf("expected budget change to be logged, got %q", out)
	}
	if strings.Contains(out, "gc threshold changed") {
		t.Errorf("unchanged threshold should not be applied, got %q", out)
	}
}

func newTestApplication(t *testing.T, mutate func(*config.Config)) *Application {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Scheduler.Workers = 2
	if mutate != nil {
		mutate(cfg)
	}
	app, err := NewApplication(cfg, logs.NewWithWriter(cfg.Log, io.Discard))
	if err != nil {
		t.Fatalf("NewApplication failed: %v", err)
	}
	return app
}

func TestApplicationRun(t *testing.T) {
	app := newTestApplication(t, nil)
	if _, err := app.Runtime().Load(addProgram(t)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var result int64
	app.OnProgramExit(func(rt *RuntimeService) {
		snap, _ := rt.System().Observe(rt.Root())
		if top, ok := snap.Top(); ok {
			result = top.AsInt()
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result != 3 {
		t.Errorf("expected 3, got %d", result)
	}
	if app.LifecycleManager().(*DefaultLifecycleManager).IsStarted() {
		t.Error("services should be stopped after Run")
	}
}

func TestApplicationRunReportsEscalation(t *testing.T) {
	app := newTestApplication(t, func(c *config.Config) {
		c.Supervisor.MaxRestarts = 0
	})
	program := bytecode.NewBuilder("crash").PushInt(1).PushInt(0).Op(bytecode.OpDiv).MustBuild()
	if _, err := app.Runtime().Load(encode(t, program)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := app.Run(ctx)
	if !errors.Is(err, core.ErrRestartLimit) {
		t.Fatalf("expected ErrRestartLimit, got %v", err)
	}
}

func TestApplicationRunWithoutProgram(t *testing.T) {
	app := newTestApplication(t, nil)
	if err := app.Run(context.Background()); !errors.Is(err, ErrNoProgram) {
		t.Fatalf("expected ErrNoProgram, got %v", err)
	}
}

func TestApplicationWatchConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "raft.yaml")
	if err := os.WriteFile(file, []byte("log:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	app := newTestApplication(t, nil)
	if err := app.WatchConfig(file, config.NewLoader()); err != nil {
		t.Fatalf("WatchConfig failed: %v", err)
	}
	if _, err := app.Runtime().Load(addProgram(t)); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var started []string
	app.LifecycleManager().AddListener(func(ev LifecycleEvent) {
		if ev.Type == EventServiceStarted {
			started = append(started, ev.Service)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(started, ",") != "config-watcher,runtime" {
		t.Errorf("expected watcher to start before runtime, got %v", started)
	}
}
