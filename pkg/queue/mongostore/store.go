// Package mongostore implements the queue storage port on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nimburion/batchsync/pkg/queue"
)

// DefaultCollection holds queue items of every lane.
const DefaultCollection = "queue_items"

// Database is the part of the MongoDB adapter the store uses.
type Database interface {
	Collection(name string) *mongo.Collection
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	NextSequence(ctx context.Context, name string) (int64, error)
	EnsureIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error
	OperationContext(ctx context.Context) (context.Context, context.CancelFunc)
}

// Config names the collection.
type Config struct {
	Collection string
}

// Store implements queue.Storage on MongoDB. Lock bumps a version field on
// the lane head, so a concurrent transaction locking the same head fails
// with a write conflict and is retried by the driver. This relies on
// session transactions, so the deployment must be a replica set.
type Store struct {
	db         Database
	collection string
}

type itemDoc struct {
	ID              int64      `bson:"_id"`
	QueueName       string     `bson:"queue_name"`
	Payload         []byte     `bson:"payload"`
	Attempts        int        `bson:"attempts"`
	ReservationTime *time.Time `bson:"reservation_time"`
	CreatedAt       time.Time  `bson:"created_at"`
	LockVersion     int64      `bson:"lock_version"`
}

func (d itemDoc) item() *queue.Item {
	item := &queue.Item{
		ID:        d.ID,
		QueueName: d.QueueName,
		Payload:   d.Payload,
		Attempts:  d.Attempts,
	}
	if d.ReservationTime != nil {
		t := d.ReservationTime.UTC()
		item.ReservationTime = &t
	}
	return item
}

// New creates a MongoDB queue store.
func New(db Database, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{db: db, collection: collection}, nil
}

// EnsureIndexes creates the lane index Peek and Lock rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	return s.db.EnsureIndexes(ctx, s.collection, []mongo.IndexModel{
		{Keys: bson.D{{Key: "queue_name", Value: 1}, {Key: "_id", Value: 1}}},
	})
}

// Peek returns the oldest item of the lane.
func (s *Store) Peek(ctx context.Context, queueName string) (*queue.Item, error) {
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	var doc itemDoc
	err := s.db.Collection(s.collection).FindOne(opCtx, laneFilter(queueName), options.FindOne().SetSort(headSort())).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", queueName, err)
	}
	return doc.item(), nil
}

// Lock returns the oldest item of the lane and write-locks it for the
// surrounding transaction.
func (s *Store) Lock(ctx context.Context, queueName string) (*queue.Item, error) {
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	var doc itemDoc
	err := s.db.Collection(s.collection).FindOneAndUpdate(
		opCtx,
		laneFilter(queueName),
		bson.D{{Key: "$inc", Value: bson.D{{Key: "lock_version", Value: int64(1)}}}},
		options.FindOneAndUpdate().SetSort(headSort()).SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lock head of %s: %w", queueName, err)
	}
	return doc.item(), nil
}

// Save inserts items without an ID and updates the rest.
func (s *Store) Save(ctx context.Context, queueName string, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	if item.ID == 0 {
		return s.insert(ctx, queueName, item)
	}

	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()
	res, err := s.db.Collection(s.collection).UpdateOne(opCtx, itemFilter(queueName, item.ID), bson.D{{Key: "$set", Value: bson.D{
		{Key: "payload", Value: item.Payload},
		{Key: "attempts", Value: item.Attempts},
		{Key: "reservation_time", Value: utc(item.ReservationTime)},
	}}})
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: item %d in %s", queue.ErrNotFound, item.ID, queueName)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, queueName string, item *queue.Item) error {
	id, err := s.db.NextSequence(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("insert item into %s: %w", queueName, err)
	}
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	doc := itemDoc{
		ID:              id,
		QueueName:       queueName,
		Payload:         item.Payload,
		Attempts:        item.Attempts,
		ReservationTime: utc(item.ReservationTime),
		CreatedAt:       time.Now().UTC(),
	}
	if _, err := s.db.Collection(s.collection).InsertOne(opCtx, doc); err != nil {
		return fmt.Errorf("insert item into %s: %w", queueName, err)
	}
	item.ID = id
	item.QueueName = queueName
	return nil
}

// Delete removes the item. Deleting a missing item is not an error.
func (s *Store) Delete(ctx context.Context, queueName string, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()
	if _, err := s.db.Collection(s.collection).DeleteOne(opCtx, itemFilter(queueName, item.ID)); err != nil {
		return fmt.Errorf("delete item %d: %w", item.ID, err)
	}
	return nil
}

// Depth counts the items of a lane, reserved or not.
func (s *Store) Depth(ctx context.Context, queueName string) (int64, error) {
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()
	n, err := s.db.Collection(s.collection).CountDocuments(opCtx, laneFilter(queueName))
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", queueName, err)
	}
	return n, nil
}

// WithTransaction delegates to the adapter.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTransaction(ctx, fn)
}

func laneFilter(queueName string) bson.D {
	return bson.D{{Key: "queue_name", Value: queueName}}
}

func itemFilter(queueName string, id int64) bson.D {
	return bson.D{{Key: "_id", Value: id}, {Key: "queue_name", Value: queueName}}
}

func headSort() bson.D {
	return bson.D{{Key: "_id", Value: 1}}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
