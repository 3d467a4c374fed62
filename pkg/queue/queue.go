package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

// Config tunes the queues handed out by a Set.
type Config struct {
	// LeaseExpiry defaults to LeaseExpiry.
	LeaseExpiry time.Duration
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func (c *Config) normalize() {
	if c.LeaseExpiry <= 0 {
		c.LeaseExpiry = LeaseExpiry
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Set hands out named queues sharing one storage and registry.
type Set struct {
	storage  Storage
	registry *Registry
	log      logger.Logger
	config   Config

	mu    sync.Mutex
	lanes map[string]*Queue
}

// NewSet creates a queue set and registers the delayed job kind on registry.
func NewSet(storage Storage, registry *Registry, log logger.Logger, cfg Config) (*Set, error) {
	if storage == nil {
		return nil, queueError(ErrInvalidArgument, "storage is required")
	}
	if registry == nil {
		return nil, queueError(ErrInvalidArgument, "registry is required")
	}
	if log == nil {
		return nil, queueError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()

	set := &Set{
		storage:  storage,
		registry: registry,
		log:      log,
		config:   cfg,
		lanes:    map[string]*Queue{},
	}
	if _, ok := registry.factory(DelayedJobName); !ok {
		if err := registry.Register(DelayedJobName, set.newDelayedJob); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Queue returns the lane called name, DefaultQueueName when name is blank.
func (s *Set) Queue(name string) *Queue {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultQueueName
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.lanes[name]; ok {
		return q
	}
	q := &Queue{
		name:     name,
		storage:  s.storage,
		registry: s.registry,
		log:      s.log.With("queue", name),
		config:   s.config,
	}
	s.lanes[name] = q
	return q
}

// Registry returns the registry jobs are encoded with.
func (s *Set) Registry() *Registry {
	return s.registry
}

// Queue is one named FIFO lane.
//
// Storage failures never escape: every operation rolls back, logs and
// reports false so a worker loop survives transient store errors.
type Queue struct {
	name     string
	storage  Storage
	registry *Registry
	log      logger.Logger
	config   Config
}

// Name returns the lane name.
func (q *Queue) Name() string {
	return q.name
}

// Enqueue appends job to the lane.
func (q *Queue) Enqueue(ctx context.Context, job Job) bool {
	log := q.log.WithContext(ctx)
	payload, err := q.registry.Encode(job)
	if err != nil {
		log.Error("Queue job encoding failed", "error", err)
		recordQueueOperation(q.name, "enqueue", "error")
		return false
	}

	item := &Item{QueueName: q.name, Payload: payload}
	err = q.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		return q.storage.Save(txCtx, q.name, item)
	})
	if err != nil {
		log.Error("Queue enqueue failed", "job", job.Name(), "error", err)
		recordQueueOperation(q.name, "enqueue", "error")
		return false
	}
	recordQueueOperation(q.name, "enqueue", "success")
	return true
}

// Reserve leases the head item. It returns false when the lane is empty, the
// head is under an unexpired lease, or storage fails.
func (q *Queue) Reserve(ctx context.Context) (*Entry, bool) {
	log := q.log.WithContext(ctx)
	now := q.config.Now()

	head, err := q.storage.Peek(ctx, q.name)
	if err != nil {
		log.Error("Queue peek failed", "error", err)
		recordQueueOperation(q.name, "reserve", "error")
		return nil, false
	}
	if head == nil || head.IsReserved(now, q.config.LeaseExpiry) {
		recordReserveEmpty(q.name)
		return nil, false
	}

	var reserved *Item
	err = q.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		item, err := q.storage.Lock(txCtx, q.name)
		if err != nil {
			return err
		}
		if item == nil || item.IsReserved(now, q.config.LeaseExpiry) {
			return nil
		}
		item.Attempts++
		stamp := now
		item.ReservationTime = &stamp
		if err := q.storage.Save(txCtx, q.name, item); err != nil {
			return err
		}
		reserved = item
		return nil
	})
	if err != nil {
		log.Error("Queue reserve failed", "error", err)
		recordQueueOperation(q.name, "reserve", "error")
		return nil, false
	}
	if reserved == nil {
		recordReserveEmpty(q.name)
		return nil, false
	}

	job, err := q.registry.Decode(reserved.Payload)
	if err != nil {
		log.Error("Queue job decoding failed", "item_id", reserved.ID, "error", err)
		job = &undecodableJob{err: err}
	}
	recordQueueOperation(q.name, "reserve", "success")
	return &Entry{Item: reserved, Job: job}, true
}

// Release clears the lease on the entry's item so it can be reserved again.
func (q *Queue) Release(ctx context.Context, entry *Entry) bool {
	if entry == nil || entry.Item == nil {
		return false
	}
	item := entry.Item.Clone()
	item.ReservationTime = nil
	err := q.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		return q.storage.Save(txCtx, q.name, item)
	})
	if err != nil {
		q.log.WithContext(ctx).Error("Queue release failed", "item_id", item.ID, "error", err)
		recordQueueOperation(q.name, "release", "error")
		return false
	}
	entry.Item = item
	recordQueueOperation(q.name, "release", "success")
	return true
}

// Dequeue deletes the item backing entry.
func (q *Queue) Dequeue(ctx context.Context, entry *Entry) bool {
	if entry == nil || entry.Item == nil {
		return false
	}
	err := q.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		return q.storage.Delete(txCtx, q.name, entry.Item)
	})
	if err != nil {
		q.log.WithContext(ctx).Error("Queue dequeue failed", "item_id", entry.Item.ID, "error", err)
		recordQueueOperation(q.name, "dequeue", "error")
		return false
	}
	recordQueueOperation(q.name, "dequeue", "success")
	return true
}

// Depth counts the items waiting or leased in the lane.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	reporter, ok := q.storage.(DepthReporter)
	if !ok {
		return 0, queueError(ErrValidation, "storage does not report depth")
	}
	return reporter.Depth(ctx, q.name)
}
