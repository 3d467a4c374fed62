package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

const (
	defaultRedisPrefix           = "batchsync:scheduler:lock"
	defaultRedisOperationTimeout = 3 * time.Second
	redisTokenSeparator          = "|"
)

// Both scripts act only while the stored value is still the caller's token,
// so an instance whose lease expired cannot touch its successor's lock.
var (
	redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("DEL", KEYS[1])
`)

	redisRenewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
  return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)
)

// RedisLockProviderConfig configures queue ownership locks backed by Redis.
type RedisLockProviderConfig struct {
	URL              string
	Prefix           string
	OperationTimeout time.Duration
	// Owner is recorded in every token so operators can see which instance
	// works a queue. Defaults to hostname:pid.
	Owner string
}

func (c *RedisLockProviderConfig) normalize() {
	c.Prefix = strings.TrimRight(strings.TrimSpace(c.Prefix), ":")
	if c.Prefix == "" {
		c.Prefix = defaultRedisPrefix
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = defaultRedisOperationTimeout
	}
	c.Owner = strings.TrimSpace(c.Owner)
	if c.Owner == "" {
		c.Owner = defaultLockOwner()
	}
}

// RedisLockProvider grants queue ownership with SET NX PX. The value is an
// owner-tagged token, checked by Lua before renewing or releasing.
type RedisLockProvider struct {
	client *redis.Client
	log    logger.Logger
	config RedisLockProviderConfig
}

// NewRedisLockProvider connects to Redis and verifies the connection.
func NewRedisLockProvider(cfg RedisLockProviderConfig, log logger.Logger) (*RedisLockProvider, error) {
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, schedulerError(ErrInvalidArgument, "redis url is required")
	}
	cfg.normalize()

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(schedulerError(ErrValidation, "parse redis url failed"), err)
	}
	p := &RedisLockProvider{
		client: redis.NewClient(opts),
		log:    log.With("lock_provider", "redis", "owner", cfg.Owner),
		config: cfg,
	}
	if err := p.HealthCheck(context.Background()); err != nil {
		_ = p.client.Close()
		return nil, err
	}
	return p, nil
}

// Acquire claims key for ttl. It reports false without error when another
// instance holds the key.
func (p *RedisLockProvider) Acquire(ctx context.Context, key string, ttl time.Duration) (*LockLease, bool, error) {
	if err := p.ready(); err != nil {
		return nil, false, err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, schedulerError(ErrInvalidArgument, "lock key is required")
	}
	if ttl <= 0 {
		return nil, false, schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}

	token := p.config.Owner + redisTokenSeparator + uuid.NewString()
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	acquired, err := p.client.SetNX(opCtx, p.redisKey(key), token, ttl).Result()
	if err != nil {
		return nil, false, errors.Join(schedulerError(ErrRetryable, "acquire lock failed"), err)
	}
	if !acquired {
		return nil, false, nil
	}
	p.log.Debug("queue lock acquired", "key", key, "ttl", ttl)
	return &LockLease{Key: key, Token: token, ExpireAt: time.Now().UTC().Add(ttl)}, true, nil
}

// Renew extends the lease while the token still owns the key.
func (p *RedisLockProvider) Renew(ctx context.Context, lease *LockLease, ttl time.Duration) error {
	if ttl <= 0 {
		return schedulerError(ErrInvalidArgument, "ttl must be > 0")
	}
	if err := p.runOwned(ctx, redisRenewScript, "renew", lease, ttl.Milliseconds()); err != nil {
		return err
	}
	lease.ExpireAt = time.Now().UTC().Add(ttl)
	return nil
}

// Release deletes the key while the token still owns it.
func (p *RedisLockProvider) Release(ctx context.Context, lease *LockLease) error {
	return p.runOwned(ctx, redisReleaseScript, "release", lease)
}

// Holder returns the owner currently holding key.
func (p *RedisLockProvider) Holder(ctx context.Context, key string) (string, bool, error) {
	if err := p.ready(); err != nil {
		return "", false, err
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	value, err := p.client.Get(opCtx, p.redisKey(strings.TrimSpace(key))).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Join(schedulerError(ErrRetryable, "read lock holder failed"), err)
	}
	owner, _, _ := strings.Cut(value, redisTokenSeparator)
	return owner, true, nil
}

// HealthCheck pings Redis.
func (p *RedisLockProvider) HealthCheck(ctx context.Context) error {
	if err := p.ready(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.client.Ping(opCtx).Err(); err != nil {
		return errors.Join(schedulerError(ErrRetryable, "ping redis failed"), err)
	}
	return nil
}

// Close closes the Redis client.
func (p *RedisLockProvider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

func (p *RedisLockProvider) runOwned(ctx context.Context, script *redis.Script, op string, lease *LockLease, args ...any) error {
	if err := p.ready(); err != nil {
		return err
	}
	if lease == nil || strings.TrimSpace(lease.Key) == "" || lease.Token == "" {
		return schedulerError(ErrInvalidArgument, "lease key and token are required")
	}
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	result, err := script.Run(opCtx, p.client, []string{p.redisKey(lease.Key)}, append([]any{lease.Token}, args...)...).Int64()
	if err != nil {
		return errors.Join(schedulerError(ErrRetryable, op+" lock failed"), err)
	}
	if result == 0 {
		return schedulerError(ErrConflict, fmt.Sprintf("lock %s rejected for %s", op, lease.Key))
	}
	return nil
}

func (p *RedisLockProvider) ready() error {
	if p == nil || p.client == nil {
		return schedulerError(ErrNotInitialized, "redis lock provider is not initialized")
	}
	return nil
}

func (p *RedisLockProvider) redisKey(key string) string {
	return p.config.Prefix + ":" + strings.TrimSpace(key)
}

func defaultLockOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "batchsync"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
