package statuscheck

import (
	"context"
	"time"

	"github.com/nimburion/batchsync/pkg/resilience"
)

// Remote task states reported by the export API.
const (
	StatePending   = "pending"
	StateExecuting = "executing"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Failure is one rejected item of a remote export task.
type Failure struct {
	MessageID      string
	GTIN           string
	Name           string
	ReferencePrice *float64
	MinPrice       *float64
	MaxPrice       *float64
}

// TaskStatus is the remote view of an export task.
type TaskStatus struct {
	State    string
	Failures []Failure
}

// Running reports whether the remote task has not reached a final state.
func (s TaskStatus) Running() bool {
	return s.State == StatePending || s.State == StateExecuting
}

// StatusClient reads the status of a remote export task.
type StatusClient interface {
	ExportStatus(ctx context.Context, contractID, taskID string) (TaskStatus, error)
}

// StatusClientFunc adapts a function to StatusClient.
type StatusClientFunc func(ctx context.Context, contractID, taskID string) (TaskStatus, error)

// ExportStatus implements StatusClient.
func (f StatusClientFunc) ExportStatus(ctx context.Context, contractID, taskID string) (TaskStatus, error) {
	return f(ctx, contractID, taskID)
}

// GuardedClient bounds every call with a timeout and stops calling a remote
// that keeps failing until the breaker lets a probe through.
type GuardedClient struct {
	next    StatusClient
	breaker *resilience.CircuitBreaker
	timeout time.Duration
}

// NewGuardedClient wraps next. A non-positive timeout leaves calls unbounded.
func NewGuardedClient(next StatusClient, breaker *resilience.CircuitBreaker, timeout time.Duration) (*GuardedClient, error) {
	if next == nil {
		return nil, statusError(ErrInvalidArgument, "status client is required")
	}
	if breaker == nil {
		return nil, statusError(ErrInvalidArgument, "circuit breaker is required")
	}
	return &GuardedClient{next: next, breaker: breaker, timeout: timeout}, nil
}

// ExportStatus implements StatusClient.
func (c *GuardedClient) ExportStatus(ctx context.Context, contractID, taskID string) (TaskStatus, error) {
	var status TaskStatus
	err := c.breaker.Execute(func() error {
		var err error
		status, err = resilience.CallWithTimeout(ctx, c.timeout, func(ctx context.Context) (TaskStatus, error) {
			return c.next.ExportStatus(ctx, contractID, taskID)
		})
		return err
	})
	if err != nil {
		return TaskStatus{}, err
	}
	return status, nil
}
