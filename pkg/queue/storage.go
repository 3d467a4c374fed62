package queue

import "context"

// Storage is the persistence port behind a Queue.
//
// Peek returns the head of a lane without locking it. Lock returns the head
// with exclusive intent and is only meaningful inside WithTransaction. Both
// return nil, nil when the lane is empty. Save assigns an ID to new items.
// WithTransaction commits when fn returns nil and rolls back otherwise.
type Storage interface {
	Peek(ctx context.Context, queueName string) (*Item, error)
	Lock(ctx context.Context, queueName string) (*Item, error)
	Save(ctx context.Context, queueName string, item *Item) error
	Delete(ctx context.Context, queueName string, item *Item) error
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DepthReporter is implemented by storages that can count the items of a lane.
type DepthReporter interface {
	Depth(ctx context.Context, queueName string) (int64, error)
}
