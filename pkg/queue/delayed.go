package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DelayedJobName is the registry name of DelayedJob.
const DelayedJobName = "delayed"

// DelayedJob holds Inner back until Delay has passed since CreatedAt.
//
// Each execution either hands Inner to TargetQueue or enqueues the next tick,
// a fresh DelayedJob carrying the remaining delay. The executed item is then
// dequeued by the runner, so no worker ever sleeps.
type DelayedJob struct {
	Inner       Job
	TargetQueue string
	CreatedAt   time.Time
	Delay       time.Duration

	set *Set
}

// Delay wraps inner so it reaches targetQueue after delay.
func (s *Set) Delay(inner Job, targetQueue string, delay time.Duration) (*DelayedJob, error) {
	if inner == nil {
		return nil, queueError(ErrInvalidArgument, "inner job is required")
	}
	if delay < 0 {
		return nil, queueError(ErrValidation, "delay must be >= 0")
	}
	if targetQueue == "" {
		targetQueue = DefaultQueueName
	}
	return &DelayedJob{
		Inner:       inner,
		TargetQueue: targetQueue,
		CreatedAt:   s.config.Now(),
		Delay:       delay,
		set:         s,
	}, nil
}

func (s *Set) newDelayedJob() Job {
	return &DelayedJob{set: s}
}

// Advance is the pure timer step. When the delay has elapsed at now it
// returns the job unchanged and due=true; otherwise it returns the next tick
// stamped at now with the remaining delay.
func (d DelayedJob) Advance(now time.Time) (DelayedJob, bool) {
	elapsed := now.Sub(d.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed >= d.Delay {
		return d, true
	}
	next := d
	next.CreatedAt = now
	next.Delay = d.Delay - elapsed
	return next, false
}

// Name implements Job.
func (d *DelayedJob) Name() string {
	return DelayedJobName
}

// System implements SystemJob: timer ticks are not logged.
func (d *DelayedJob) System() bool {
	return true
}

// Execute enqueues either the inner job or the next tick on TargetQueue.
func (d *DelayedJob) Execute(ctx context.Context) error {
	if d.set == nil {
		return queueError(ErrInvalidArgument, "delayed job is not bound to a queue set")
	}
	if d.Inner == nil {
		return queueError(ErrPayload, "delayed job has no inner job")
	}
	target := d.set.Queue(d.TargetQueue)

	next, due := d.Advance(d.set.config.Now())
	if due {
		if !target.Enqueue(ctx, d.Inner) {
			return fmt.Errorf("enqueue delayed job %q on %q failed", d.Inner.Name(), target.Name())
		}
		return nil
	}
	if !target.Enqueue(ctx, &next) {
		return fmt.Errorf("reschedule delayed job %q on %q failed", d.Inner.Name(), target.Name())
	}
	return nil
}

// ForceFail is a no-op: nothing visible has happened yet.
func (d *DelayedJob) ForceFail(context.Context) error {
	return nil
}

type delayedPayload struct {
	Inner       json.RawMessage `json:"inner"`
	TargetQueue string          `json:"target_queue"`
	CreatedAt   time.Time       `json:"created_at"`
	DelayMillis int64           `json:"delay_ms"`
}

// MarshalJSON encodes the inner job through the bound registry.
func (d DelayedJob) MarshalJSON() ([]byte, error) {
	if d.set == nil {
		return nil, queueError(ErrPayload, "delayed job is not bound to a queue set")
	}
	inner, err := d.set.registry.Encode(d.Inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(delayedPayload{
		Inner:       inner,
		TargetQueue: d.TargetQueue,
		CreatedAt:   d.CreatedAt.UTC(),
		DelayMillis: d.Delay.Milliseconds(),
	})
}

// UnmarshalJSON decodes the inner job through the bound registry.
func (d *DelayedJob) UnmarshalJSON(data []byte) error {
	if d.set == nil {
		return queueError(ErrPayload, "delayed job is not bound to a queue set")
	}
	var payload delayedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	inner, err := d.set.registry.Decode(payload.Inner)
	if err != nil {
		return errors.Join(queueError(ErrPayload, "decode delayed inner job"), err)
	}
	d.Inner = inner
	d.TargetQueue = payload.TargetQueue
	d.CreatedAt = payload.CreatedAt
	d.Delay = time.Duration(payload.DelayMillis) * time.Millisecond
	return nil
}
