package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/nimburion/batchsync/pkg/health"
)

// LockHealthCheckName is the check registered for the lock backend.
const LockHealthCheckName = "scheduler_lock"

type lockChecker struct {
	inner    *health.AdapterChecker
	provider LockProvider
}

// NewLockProviderHealthChecker reports the lock backend as unhealthy when it
// cannot be reached. Without a backend no queue can be dispatched.
func NewLockProviderHealthChecker(name string, provider LockProvider, timeout time.Duration) health.Checker {
	name = strings.TrimSpace(name)
	if name == "" {
		name = LockHealthCheckName
	}
	return &lockChecker{inner: health.NewAdapterChecker(name, provider, timeout), provider: provider}
}

func (c *lockChecker) Check(ctx context.Context) health.CheckResult {
	result := c.inner.Check(ctx)
	result.Metadata = map[string]interface{}{"provider": lockProviderKind(c.provider)}
	return result
}

func (c *lockChecker) Name() string {
	return c.inner.Name()
}

func lockProviderKind(provider LockProvider) string {
	switch provider.(type) {
	case *RedisLockProvider:
		return "redis"
	case *PostgresLockProvider:
		return "postgres"
	default:
		return "custom"
	}
}
