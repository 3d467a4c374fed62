package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

const (
	DefaultDispatchTimeout = 10 * time.Minute
	DefaultLockTTL         = 30 * time.Second
)

// Config controls scheduler runtime behavior.
type Config struct {
	// DispatchTimeout bounds one runner pass or cleanup.
	DispatchTimeout time.Duration
	DefaultLockTTL  time.Duration
}

func (c *Config) normalize() {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = DefaultDispatchTimeout
	}
	if c.DefaultLockTTL <= 0 {
		c.DefaultLockTTL = DefaultLockTTL
	}
}

// Runtime fires registered tasks on their schedules. A dispatch runs only
// while its action lock is held and renews the lock until it returns.
type Runtime struct {
	dispatcher Dispatcher
	lock       LockProvider
	log        logger.Logger

	config Config

	mu      sync.Mutex
	tasks   map[string]Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRuntime creates a distributed scheduler runtime.
func NewRuntime(dispatcher Dispatcher, lockProvider LockProvider, log logger.Logger, cfg Config) (*Runtime, error) {
	if dispatcher == nil {
		return nil, schedulerError(ErrInvalidArgument, "dispatcher is required")
	}
	if lockProvider == nil {
		return nil, schedulerError(ErrInvalidArgument, "lock provider is required")
	}
	if log == nil {
		return nil, schedulerError(ErrInvalidArgument, "logger is required")
	}

	cfg.normalize()
	return &Runtime{
		dispatcher: dispatcher,
		lock:       lockProvider,
		log:        log,
		config:     cfg,
		tasks:      map[string]Task{},
	}, nil
}

// Register adds a new scheduled task.
func (r *Runtime) Register(task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	task.Name = strings.TrimSpace(task.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.Name]; exists {
		return schedulerError(ErrConflict, fmt.Sprintf("task %q is already registered", task.Name))
	}
	r.tasks[task.Name] = task
	return nil
}

// Tasks returns the registered task names in order.
func (r *Runtime) Tasks() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start runs all registered tasks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil {
		return schedulerError(ErrNotInitialized, "scheduler runtime is not initialized")
	}
	if ctx == nil {
		return schedulerError(ErrInvalidArgument, "context is required")
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return schedulerError(ErrConflict, "scheduler already running")
	}
	if len(r.tasks) == 0 {
		r.mu.Unlock()
		return schedulerError(ErrValidation, "no scheduler tasks registered")
	}
	runningCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	tasks := make([]Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, task)
	}
	r.mu.Unlock()

	r.log.Info("scheduler started", "tasks", len(tasks))
	for _, task := range tasks {
		r.wg.Add(1)
		go r.runTaskLoop(runningCtx, task)
	}

	<-runningCtx.Done()
	return r.Stop(context.Background())
}

// Stop requests scheduler shutdown and waits for active loops.
func (r *Runtime) Stop(ctx context.Context) error {
	if r == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	waitCh := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-waitCh:
		r.log.Info("scheduler stopped")
		return nil
	}
}

// Trigger dispatches one registered task immediately.
func (r *Runtime) Trigger(ctx context.Context, name string) error {
	r.mu.Lock()
	task, ok := r.tasks[strings.TrimSpace(name)]
	r.mu.Unlock()
	if !ok {
		return schedulerError(ErrNotFound, fmt.Sprintf("task %q is not registered", name))
	}
	return r.dispatchTask(ctx, task)
}

func (r *Runtime) runTaskLoop(ctx context.Context, task Task) {
	defer r.wg.Done()

	now := time.Now().UTC()
	for {
		next, err := task.nextRun(now)
		if err != nil {
			r.log.Error("scheduler task has invalid schedule", "task", task.Name, "error", err)
			return
		}

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := r.dispatchTask(ctx, task); err != nil && ctx.Err() == nil {
			r.log.Error("scheduler dispatch failed", "task", task.Name, "action", task.Action, "error", err)
		}

		// Ticks missed while the dispatch ran are skipped.
		now = time.Now().UTC()
		if now.Before(next) {
			now = next
		}
	}
}

func (r *Runtime) dispatchTask(ctx context.Context, task Task) error {
	action, err := ParseAction(task.Action)
	if err != nil {
		return err
	}
	lockTTL := task.LockTTL
	if lockTTL <= 0 {
		lockTTL = r.config.DefaultLockTTL
	}

	lease, acquired, err := r.lock.Acquire(ctx, action.lockKey(), lockTTL)
	if err != nil {
		recordDispatch(task.Name, action, "lock_error")
		return fmt.Errorf("acquire lock failed: %w", err)
	}
	if !acquired {
		recordDispatch(task.Name, action, "skipped")
		fields := []any{"task", task.Name, "action", action.String()}
		if inspector, ok := r.lock.(LockInspector); ok {
			if owner, held, err := inspector.Holder(ctx, action.lockKey()); err == nil && held {
				fields = append(fields, "holder", owner)
			}
		}
		r.log.Debug("scheduler lock held elsewhere", fields...)
		return nil
	}

	done := trackDispatch(task.Name, action)
	defer done()

	dispatchCtx, cancel := context.WithTimeout(ctx, r.config.DispatchTimeout)
	defer cancel()

	renewDone := make(chan struct{})
	go r.renewLease(dispatchCtx, cancel, task.Name, lease, lockTTL, renewDone)

	started := time.Now()
	dispatchErr := r.dispatch(dispatchCtx, action)
	cancel()
	<-renewDone

	var releaseErr error
	if lease != nil {
		releaseCtx, releaseCancel := context.WithTimeout(context.Background(), lockTTL)
		releaseErr = r.lock.Release(releaseCtx, lease)
		releaseCancel()
	}

	if dispatchErr != nil {
		recordDispatch(task.Name, action, "error")
	} else {
		recordDispatch(task.Name, action, "success")
		r.log.Info("scheduler task dispatched", "task", task.Name, "action", action.String(), "duration", time.Since(started))
	}
	return errors.Join(dispatchErr, releaseErr)
}

func (r *Runtime) dispatch(ctx context.Context, action Action) error {
	switch action.Kind {
	case ActionRun:
		return r.dispatcher.RunQueue(ctx, action.Queue)
	case ActionCleanup:
		return r.dispatcher.Cleanup(ctx)
	default:
		return schedulerError(ErrValidation, fmt.Sprintf("unknown action kind %q", action.Kind))
	}
}

// renewLease extends the lease every half TTL. A lost lease cancels the
// dispatch, since another instance may take the lock over.
func (r *Runtime) renewLease(ctx context.Context, cancel context.CancelFunc, taskName string, lease *LockLease, ttl time.Duration, done chan<- struct{}) {
	defer close(done)
	if lease == nil {
		return
	}
	interval := ttl / 2
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.lock.Renew(ctx, lease, ttl); err != nil {
				if ctx.Err() != nil {
					return
				}
				recordLockRenewFailure(taskName)
				r.log.Warn("scheduler lock renew failed, cancelling dispatch", "task", taskName, "error", err)
				cancel()
				return
			}
		}
	}
}
