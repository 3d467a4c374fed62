package health

import (
	"context"
	"fmt"
	"time"
)

// DefaultCheckTimeout bounds a single adapter check.
const DefaultCheckTimeout = 5 * time.Second

// Checkable is implemented by storage adapters and lock providers.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker reports a Checkable as healthy when its HealthCheck
// returns nil within the timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for adapter. A zero timeout means
// DefaultCheckTimeout.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &AdapterChecker{
		name:    name,
		adapter: adapter,
		timeout: timeout,
	}
}

// NewDatabaseChecker creates a checker for the queue and ledger database.
func NewDatabaseChecker(name string, db Checkable) *AdapterChecker {
	return NewAdapterChecker(name, db, DefaultCheckTimeout)
}

// Check runs the adapter health check.
func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: StatusHealthy, Message: "OK"}
	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

// Name returns the name of the health check
func (c *AdapterChecker) Name() string {
	return c.name
}

// PingChecker is always healthy. It backs the liveness endpoint.
type PingChecker struct {
	name string
}

// NewPingChecker creates a new ping checker
func NewPingChecker(name string) *PingChecker {
	return &PingChecker{name: name}
}

// Check always returns healthy status
func (c *PingChecker) Check(context.Context) CheckResult {
	return CheckResult{
		Name:      c.name,
		Status:    StatusHealthy,
		Message:   "alive",
		Timestamp: time.Now(),
	}
}

// Name returns the name of the health check
func (c *PingChecker) Name() string {
	return c.name
}

// BacklogChecker reports a queue as degraded when its depth exceeds a
// threshold, and unhealthy when the depth cannot be read.
type BacklogChecker struct {
	name      string
	depth     func(ctx context.Context) (int, error)
	threshold int
}

// NewBacklogChecker creates a backlog checker. A threshold <= 0 never
// degrades.
func NewBacklogChecker(name string, depth func(ctx context.Context) (int, error), threshold int) *BacklogChecker {
	return &BacklogChecker{name: name, depth: depth, threshold: threshold}
}

// Check reads the queue depth.
func (c *BacklogChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.name, Status: StatusHealthy}

	depth, err := c.depth(ctx)
	switch {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Error = err.Error()
	case c.threshold > 0 && depth > c.threshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("backlog %d exceeds %d", depth, c.threshold)
	default:
		result.Message = fmt.Sprintf("backlog %d", depth)
	}
	if err == nil {
		result.Metadata = map[string]interface{}{"depth": depth}
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

// Name returns the name of the health check
func (c *BacklogChecker) Name() string {
	return c.name
}
