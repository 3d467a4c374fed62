package queue_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nimburion/batchsync/pkg/queue"
	"github.com/nimburion/batchsync/pkg/queue/memstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// noteJob records its Note into sink when executed.
type noteJob struct {
	Note string `json:"note"`
	Fail bool   `json:"fail"`

	sink *[]string
}

func (j *noteJob) Name() string { return "note" }

func (j *noteJob) Execute(context.Context) error {
	if j.Fail {
		return errors.New("note job failed")
	}
	if j.sink != nil {
		*j.sink = append(*j.sink, j.Note)
	}
	return nil
}

func (j *noteJob) ForceFail(context.Context) error { return nil }

func registryWithNotes(sink *[]string) *queue.Registry {
	registry := queue.NewRegistry()
	registry.MustRegister("note", func() queue.Job { return &noteJob{sink: sink} })
	return registry
}

var errStorageDown = errors.New("storage down")

// flakyStorage fails the named operations on demand. With writeFirst set, a
// failing Save or Delete applies the write before returning the error, so
// only the transaction rollback can undo it.
type flakyStorage struct {
	*memstore.Store

	mu         sync.Mutex
	failing    map[string]bool
	writeFirst bool
}

func newFlakyStorage() *flakyStorage {
	return &flakyStorage{Store: memstore.New(), failing: map[string]bool{}}
}

func (s *flakyStorage) failOn(writeFirst bool, ops ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeFirst = writeFirst
	for _, op := range ops {
		s.failing[op] = true
	}
}

func (s *flakyStorage) fails(op string) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failing[op], s.writeFirst
}

func (s *flakyStorage) Lock(ctx context.Context, queueName string) (*queue.Item, error) {
	if fail, _ := s.fails("lock"); fail {
		return nil, errStorageDown
	}
	return s.Store.Lock(ctx, queueName)
}

func (s *flakyStorage) Save(ctx context.Context, queueName string, item *queue.Item) error {
	fail, writeFirst := s.fails("save")
	if !fail {
		return s.Store.Save(ctx, queueName, item)
	}
	if writeFirst {
		if err := s.Store.Save(ctx, queueName, item); err != nil {
			return err
		}
	}
	return errStorageDown
}

func (s *flakyStorage) Delete(ctx context.Context, queueName string, item *queue.Item) error {
	fail, writeFirst := s.fails("delete")
	if !fail {
		return s.Store.Delete(ctx, queueName, item)
	}
	if writeFirst {
		if err := s.Store.Delete(ctx, queueName, item); err != nil {
			return err
		}
	}
	return errStorageDown
}
