// Package memstore is an in-process queue.Storage for tests and single-binary setups.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/nimburion/batchsync/pkg/queue"
)

type txKey struct{}

// Store keeps queue lanes in memory. Transactions are serialized and roll
// back by restoring a snapshot taken when they begin.
type Store struct {
	txMu   sync.Mutex
	mu     sync.Mutex
	lanes  map[string][]*queue.Item
	nextID int64
}

// New creates an empty store.
func New() *Store {
	return &Store{lanes: map[string][]*queue.Item{}}
}

// Peek returns a copy of the head of the lane.
func (s *Store) Peek(_ context.Context, queueName string) (*queue.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lane := s.lanes[queueName]
	if len(lane) == 0 {
		return nil, nil
	}
	return lane[0].Clone(), nil
}

// Lock returns the head of the lane. Exclusivity comes from WithTransaction.
func (s *Store) Lock(ctx context.Context, queueName string) (*queue.Item, error) {
	if ctx.Value(txKey{}) == nil {
		return nil, fmt.Errorf("memstore: lock outside transaction")
	}
	return s.Peek(ctx, queueName)
}

// Save inserts the item when it has no ID and replaces it otherwise.
func (s *Store) Save(_ context.Context, queueName string, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("memstore: item is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == 0 {
		s.nextID++
		item.ID = s.nextID
		item.QueueName = queueName
		s.lanes[queueName] = append(s.lanes[queueName], item.Clone())
		return nil
	}
	lane := s.lanes[queueName]
	for i := range lane {
		if lane[i].ID == item.ID {
			lane[i] = item.Clone()
			return nil
		}
	}
	return fmt.Errorf("memstore: item %d not found in %q", item.ID, queueName)
}

// Delete removes the item; deleting a missing item is not an error.
func (s *Store) Delete(_ context.Context, queueName string, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("memstore: item is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lane := s.lanes[queueName]
	for i := range lane {
		if lane[i].ID == item.ID {
			s.lanes[queueName] = append(lane[:i:i], lane[i+1:]...)
			return nil
		}
	}
	return nil
}

// WithTransaction runs fn exclusively and restores the previous state when fn fails.
// Nested calls join the outer transaction.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot, nextID := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot, nextID)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot, nextID)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// Len returns the number of items in a lane.
func (s *Store) Len(queueName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes[queueName])
}

// Depth implements queue.DepthReporter.
func (s *Store) Depth(_ context.Context, queueName string) (int64, error) {
	return int64(s.Len(queueName)), nil
}

// Items returns copies of the items in a lane in FIFO order.
func (s *Store) Items(queueName string) []*queue.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*queue.Item, 0, len(s.lanes[queueName]))
	for _, item := range s.lanes[queueName] {
		out = append(out, item.Clone())
	}
	return out
}

func (s *Store) snapshot() (map[string][]*queue.Item, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string][]*queue.Item, len(s.lanes))
	for name, lane := range s.lanes {
		items := make([]*queue.Item, 0, len(lane))
		for _, item := range lane {
			items = append(items, item.Clone())
		}
		copied[name] = items
	}
	return copied, s.nextID
}

func (s *Store) restore(lanes map[string][]*queue.Item, nextID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lanes = lanes
	s.nextID = nextID
}
