// Package scheduler triggers runner passes and ledger cleanup on cron or
// interval schedules. Each dispatch holds a distributed lock so a queue is
// worked by one process at a time.
package scheduler

import (
	"context"
	"time"
)

// LockLease identifies a distributed lock instance.
type LockLease struct {
	Key      string
	Token    string
	ExpireAt time.Time
}

// LockProvider coordinates singleton execution across scheduler instances.
type LockProvider interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error)
	Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error
	Release(ctx context.Context, lease *LockLease) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// LockInspector is implemented by providers that can tell who holds a key.
type LockInspector interface {
	Holder(ctx context.Context, key string) (owner string, held bool, err error)
}

// Dispatcher performs the actions a task can trigger.
type Dispatcher interface {
	// RunQueue executes one runner pass over queue.
	RunQueue(ctx context.Context, queue string) error
	// Cleanup applies the ledger retention windows.
	Cleanup(ctx context.Context) error
}
