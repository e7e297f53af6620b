// Package bootstrap provides service lifecycle management for the raft runtime
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service represents a service that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service. It must not block past ctx.
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	State     HealthState    `json:"state"`
	Message   string         `json:"message,omitempty"`
	LastCheck time.Time      `json:"last_check,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"

	// HealthCritical means the service failed and will not recover by itself
	HealthCritical HealthState = "critical"

	HealthStopped HealthState = "stopped"
)

// LifecycleManager manages the lifecycle of services
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all services in reverse start order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// EventType names a lifecycle transition
type EventType string

const (
	EventServiceRegistered  EventType = "service.registered"
	EventServiceStarting    EventType = "service.starting"
	EventServiceStarted     EventType = "service.started"
	EventServiceStartFailed EventType = "service.start_failed"
	EventServiceStopping    EventType = "service.stopping"
	EventServiceStopped     EventType = "service.stopped"
	EventServiceStopFailed  EventType = "service.stop_failed"
	EventLifecycleStarted   EventType = "lifecycle.started"
	EventLifecycleStopped   EventType = "lifecycle.stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Service   string    `json:"service,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Error     error     `json:"error,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
