package pool

import (
	"context"
	"time"
)

// Factory is the capability a backend provides to the pool.
// Implementations must be safe for concurrent use.
type Factory interface {
	// Create opens a new backend connection.
	Create(ctx context.Context) (any, error)

	// Validate reports whether the connection is still usable.
	Validate(ctx context.Context, conn any) bool

	// Close releases the backend connection.
	Close(conn any) error
}

// FactoryFuncs adapts three plain functions to the Factory interface.
// A nil ValidateFunc treats every connection as valid; a nil CloseFunc is a no-op.
type FactoryFuncs struct {
	CreateFunc   func(ctx context.Context) (any, error)
	ValidateFunc func(ctx context.Context, conn any) bool
	CloseFunc    func(conn any) error
}

// Create implements Factory.
func (f FactoryFuncs) Create(ctx context.Context) (any, error) {
	return f.CreateFunc(ctx)
}

// Validate implements Factory.
func (f FactoryFuncs) Validate(ctx context.Context, conn any) bool {
	if f.ValidateFunc == nil {
		return true
	}
	return f.ValidateFunc(ctx, conn)
}

// Close implements Factory.
func (f FactoryFuncs) Close(conn any) error {
	if f.CloseFunc == nil {
		return nil
	}
	return f.CloseFunc(conn)
}

// Stats represents pool statistics.
type Stats struct {
	// PoolSize is the number of resources owned by the pool (available + in use)
	PoolSize int

	// Available is the number of resources waiting in the available queue
	Available int

	// InUse is the number of resources currently checked out
	InUse int

	// Waiters is the number of callers blocked waiting for a resource
	Waiters int

	// Created is the total number of resources created
	Created uint64

	// Destroyed is the total number of resources destroyed
	Destroyed uint64

	// Acquired is the total number of successful acquisitions
	Acquired uint64

	// Released is the total number of resources returned to the available queue
	Released uint64

	// Failed is the total number of acquisitions that returned an error
	Failed uint64

	// Timeouts is the number of acquisitions that gave up waiting
	Timeouts uint64

	// ValidationFailures is the number of resources destroyed because Validate returned false
	ValidationFailures uint64

	// CreateErrors is the number of failed Factory.Create calls, retries included
	CreateErrors uint64

	// AcquireTimeP95 is the 95th percentile of recent acquisition latencies.
	// Only populated when EnableMetrics is set.
	AcquireTimeP95 time.Duration

	// AcquireTimeAvg is the mean of recent acquisition latencies.
	AcquireTimeAvg time.Duration

	// Started reports whether Start completed
	Started bool

	// Closed reports whether Stop was called
	Closed bool

	// Config is the active pool configuration
	Config Config
}

// HealthReport is the result of a one-off pool health check.
type HealthReport struct {
	Healthy   bool
	Closed    bool
	Validated bool
	Duration  time.Duration
	CheckedAt time.Time
	Err       error
	Stats     Stats
}

// State represents the resource state.
type State int

const (
	// StateAvailable indicates the resource is in the available queue.
	StateAvailable State = iota

	// StateInUse indicates the resource is checked out by a caller.
	StateInUse

	// StateValidating indicates the pool is validating the resource.
	StateValidating

	// StateClosing indicates the resource is being closed.
	StateClosing

	// StateClosed indicates the resource has been closed.
	StateClosed

	// StateError indicates the resource failed and will not be reused.
	StateError
)

func (s State) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInUse:
		return "in_use"
	case StateValidating:
		return "validating"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event represents a resource lifecycle event.
type Event int

const (
	// EventCreate is triggered when a new resource is created.
	EventCreate Event = iota

	// EventAcquire is triggered when a resource is handed to a caller.
	EventAcquire

	// EventRelease is triggered when a resource is returned to the available queue.
	EventRelease

	// EventDestroy is triggered when a resource is closed and dropped.
	EventDestroy

	// EventValidationFailed is triggered when a resource fails validation.
	EventValidationFailed
)

func (e Event) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventAcquire:
		return "acquire"
	case EventRelease:
		return "release"
	case EventDestroy:
		return "destroy"
	case EventValidationFailed:
		return "validation_failed"
	default:
		return "unknown"
	}
}

// EventListener is notified about resource lifecycle events.
// Listeners are called synchronously and must not call back into the pool.
type EventListener interface {
	// OnEvent is called when a resource event occurs.
	OnEvent(event Event, res *Resource)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(event Event, res *Resource)

// OnEvent implements EventListener.
func (f EventListenerFunc) OnEvent(event Event, res *Resource) {
	f(event, res)
}
