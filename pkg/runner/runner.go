// Package runner drains a queue within a wall-clock budget, retrying failed
// jobs and dead-lettering those that exhaust their attempts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/observability/tracing"
	"github.com/nimburion/batchsync/pkg/queue"
)

const (
	// DefaultMaxAttempts is how many reservations a job gets before it is dead-lettered.
	DefaultMaxAttempts = 4
	// DefaultMaxExecutionTime is the wall-clock budget of one Run.
	DefaultMaxExecutionTime = 30 * time.Second

	exhaustedMessage = "Execution time exceeded."
)

// Queue is the part of queue.Queue the runner drives.
type Queue interface {
	Name() string
	Reserve(ctx context.Context) (*queue.Entry, bool)
	Release(ctx context.Context, entry *queue.Entry) bool
	Dequeue(ctx context.Context, entry *queue.Entry) bool
}

// Config bounds one Run.
type Config struct {
	MaxAttempts      int
	MaxExecutionTime time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

func (c *Config) normalize() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxExecutionTime <= 0 {
		c.MaxExecutionTime = DefaultMaxExecutionTime
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Stats summarizes one Run.
type Stats struct {
	RunID        string
	Executed     int
	Retried      int
	DeadLettered int
}

// Runner executes the jobs of one queue.
type Runner struct {
	queue  Queue
	log    logger.Logger
	config Config
}

// New creates a runner for q.
func New(q Queue, log logger.Logger, cfg Config) (*Runner, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Runner{queue: q, log: log.With("queue", q.Name()), config: cfg}, nil
}

// Run reserves and executes jobs until the queue has nothing available, the
// budget is spent or ctx is done. The budget is checked between jobs only.
// Job failures never escape: they are retried or dead-lettered.
func (r *Runner) Run(ctx context.Context) Stats {
	stats := Stats{RunID: uuid.NewString()}
	ctx = logger.ContextWithRunID(ctx, stats.RunID)
	log := r.log.WithContext(ctx)
	start := r.config.Now()

	for r.ExecutionTimeNotExceeded(start) && ctx.Err() == nil {
		entry, ok := r.queue.Reserve(ctx)
		if !ok {
			break
		}
		r.handle(ctx, log, entry, &stats)
	}

	log.Debug("Queue runner pass finished",
		"executed", stats.Executed,
		"retried", stats.Retried,
		"dead_lettered", stats.DeadLettered,
	)
	return stats
}

// ExecutionTimeNotExceeded reports whether a pass started at start still has budget.
func (r *Runner) ExecutionTimeNotExceeded(start time.Time) bool {
	return r.config.Now().Before(start.Add(r.config.MaxExecutionTime))
}

func (r *Runner) handle(ctx context.Context, log logger.Logger, entry *queue.Entry, stats *Stats) {
	attempts := entry.Item.Attempts
	jobLog := log.With("job", entry.Job.Name(), "job_id", entry.Item.ID)
	system := queue.IsSystem(entry.Job)
	if !system {
		jobLog.Info("Queue job reserved", "attempts", attempts)
	}

	if attempts > r.config.MaxAttempts {
		r.deadLetter(ctx, jobLog, entry, exhaustedMessage)
		stats.DeadLettered++
		return
	}

	if err := r.execute(ctx, entry); err != nil {
		if attempts >= r.config.MaxAttempts {
			r.deadLetter(ctx, jobLog, entry, err.Error())
			stats.DeadLettered++
			return
		}
		r.queue.Release(ctx, entry)
		stats.Retried++
		recordJobOutcome(r.queue.Name(), entry.Job.Name(), outcomeRetried)
		jobLog.Error("Queue job execution failed. Releasing job to queue for execution retry",
			"attempts", attempts,
			"error", err,
		)
		return
	}

	r.queue.Dequeue(ctx, entry)
	stats.Executed++
	recordJobOutcome(r.queue.Name(), entry.Job.Name(), outcomeExecuted)
	if !system {
		jobLog.Info("Queue job successfully executed")
	}
}

func (r *Runner) execute(ctx context.Context, entry *queue.Entry) (err error) {
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobExecute, r.queue.Name(), entry.Job.Name(),
		tracing.WithJobItemID(entry.Item.ID),
		tracing.WithJobAttempts(entry.Item.Attempts),
		tracing.WithJobRunID(logger.RunIDFromContext(ctx)),
	)
	started := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
		observeJobDuration(r.queue.Name(), entry.Job.Name(), time.Since(started))
		tracing.End(span, err)
	}()
	return entry.Job.Execute(ctx)
}

// deadLetter runs the job's compensation and removes it from the queue.
func (r *Runner) deadLetter(ctx context.Context, log logger.Logger, entry *queue.Entry, message string) {
	ctx, span := tracing.StartJobSpan(ctx, tracing.SpanOperationJobDeadLetter, r.queue.Name(), entry.Job.Name(),
		tracing.WithJobItemID(entry.Item.ID),
		tracing.WithJobAttempts(entry.Item.Attempts),
	)
	err := forceFail(ctx, entry.Job)
	if err != nil {
		log.Error("Queue job compensation failed", "error", err)
	}
	tracing.End(span, err)

	r.queue.Dequeue(ctx, entry)
	recordJobOutcome(r.queue.Name(), entry.Job.Name(), outcomeDeadLettered)
	log.Error(fmt.Sprintf("Queue job execution failed %d times. Removing job from queue as failed job", entry.Item.Attempts),
		"attempts", entry.Item.Attempts,
		"error", message,
	)
}

func forceFail(ctx context.Context, job queue.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("force fail panicked: %v", p)
		}
	}()
	return job.ForceFail(ctx)
}
