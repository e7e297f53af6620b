package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"
)

var (
	ErrAlreadyStarted      = errors.New("lifecycle manager already started")
	ErrDuplicateService    = errors.New("service already registered")
	ErrUnknownDependency   = errors.New("dependency not registered")
	ErrCircularDependency  = errors.New("circular dependency detected")
	ErrInvalidRegistration = errors.New("invalid service registration")
)

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	services     map[string]Service
	dependencies map[string][]string

	// startOrder holds the services that started, in start order
	startOrder []string

	mutex   sync.Mutex
	started bool

	logger    *slog.Logger
	listeners []func(LifecycleEvent)

	// timeout bounds each Start and Stop call
	timeout time.Duration
}

// NewLifecycleManager creates a new lifecycle manager. A nil logger discards output.
func NewLifecycleManager(logger *slog.Logger) *DefaultLifecycleManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		logger:       logger.With("component", "lifecycle"),
		timeout:      30 * time.Second,
	}
}

// Register registers a service with the lifecycle manager
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" || service == nil {
		return fmt.Errorf("%w: name %q", ErrInvalidRegistration, name)
	}

	lm.mutex.Lock()
	if lm.started {
		lm.mutex.Unlock()
		return fmt.Errorf("cannot register service %s: %w", name, ErrAlreadyStarted)
	}
	if _, exists := lm.services[name]; exists {
		lm.mutex.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateService, name)
	}
	lm.services[name] = service
	lm.dependencies[name] = slices.Clone(deps)
	lm.mutex.Unlock()

	lm.dispatch([]LifecycleEvent{lm.event(EventServiceRegistered, name, nil)})
	return nil
}

// Start starts all services in dependency order. If a service fails to
// start, the services already started are stopped again.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mutex.Lock()
	var events []LifecycleEvent
	defer func() {
		lm.mutex.Unlock()
		lm.dispatch(events)
	}()

	if lm.started {
		return ErrAlreadyStarted
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return fmt.Errorf("failed to calculate start order: %w", err)
	}
	lm.logger.Debug("starting services", "order", order)

	for _, name := range order {
		events = append(events, lm.event(EventServiceStarting, name, nil))

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()

		if err != nil {
			events = append(events, lm.event(EventServiceStartFailed, name, err))
			lm.logger.Error("service start failed", "service", name, "error", err)
			events = append(events, lm.stopStarted(ctx)...)
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		events = append(events, lm.event(EventServiceStarted, name, nil))
		lm.logger.Info("service started", "service", name)
	}

	lm.started = true
	events = append(events, lm.event(EventLifecycleStarted, "", nil))
	return nil
}

// Stop stops all started services in reverse start order. Every service
// is asked to stop even if an earlier one fails; the errors are joined.
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mutex.Lock()
	var events []LifecycleEvent
	defer func() {
		lm.mutex.Unlock()
		lm.dispatch(events)
	}()

	if !lm.started {
		return nil
	}

	var errs []error
	for _, ev := range lm.stopStarted(ctx) {
		events = append(events, ev)
		if ev.Error != nil {
			errs = append(errs, &ApplicationError{Operation: "stop", Service: ev.Service, Err: ev.Error})
		}
	}
	lm.started = false
	events = append(events, lm.event(EventLifecycleStopped, "", nil))
	return errors.Join(errs...)
}

// stopStarted stops the started services in reverse order. The caller holds the mutex.
func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) []LifecycleEvent {
	var events []LifecycleEvent
	for i := len(lm.startOrder) - 1; i >= 0; i-- {
		name := lm.startOrder[i]
		events = append(events, lm.event(EventServiceStopping, name, nil))

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			lm.logger.Error("service stop failed", "service", name, "error", err)
			events = append(events, lm.event(EventServiceStopFailed, name, err))
			continue
		}
		lm.logger.Info("service stopped", "service", name)
		events = append(events, lm.event(EventServiceStopped, name, nil))
	}
	lm.startOrder = nil
	return events
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mutex.Lock()
	services := make(map[string]Service, len(lm.services))
	for name, service := range lm.services {
		services[name] = service
	}
	lm.mutex.Unlock()

	health := make(map[string]HealthStatus, len(services))
	for name, service := range services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}

	return health, nil
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddListener adds a lifecycle event listener. Listeners run synchronously,
// in registration order, without the manager's lock held.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// SetTimeout sets the timeout for service operations
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	return lm.started
}

// GetService returns a registered service by name
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	service, exists := lm.services[name]
	return service, exists
}

// calculateStartOrder orders services so every dependency starts before its
// dependents. Ties are broken by name so the order is stable.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))
	for name := range lm.services {
		inDegree[name] = 0
	}

	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, exists := lm.services[dep]; !exists {
				return nil, fmt.Errorf("%w: %s (needed by %s)", ErrUnknownDependency, dep, name)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(lm.services))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		var next []string
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}

	if len(order) != len(lm.services) {
		return nil, ErrCircularDependency
	}
	return order, nil
}

func (lm *DefaultLifecycleManager) event(typ EventType, service string, err error) LifecycleEvent {
	return LifecycleEvent{Type: typ, Service: service, Timestamp: time.Now(), Error: err}
}

// dispatch delivers events to the listeners. A panicking listener is logged
// and does not stop delivery.
func (lm *DefaultLifecycleManager) dispatch(events []LifecycleEvent) {
	if len(events) == 0 {
		return
	}
	lm.mutex.Lock()
	listeners := slices.Clone(lm.listeners)
	lm.mutex.Unlock()

	for _, event := range events {
		for _, listener := range listeners {
			func() {
				defer func() {
					if r := recover(); r != nil {
						lm.logger.Error("lifecycle listener panicked", "event", event.Type, "panic", r)
					}
				}()
				listener(event)
			}()
		}
	}
}
