// Package mongostore persists the transaction ledger in MongoDB collections.
//
// Ids are int64 sequences drawn from the adapter's counters collection so
// masters and details are addressed the same way as in the SQL store.
// MongoDB has no row locks: MasterFilter.ForUpdate is ignored and concurrent
// writers of one master inside WithTransaction fail with a write conflict.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/observability/tracing"
)

const (
	// DefaultMasterCollection holds masters.
	DefaultMasterCollection = "transaction_master"
	// DefaultDetailCollection holds details.
	DefaultDetailCollection = "transaction_detail"
)

// Database is the part of the MongoDB adapter the store uses.
type Database interface {
	Collection(name string) *mongo.Collection
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	NextSequence(ctx context.Context, name string) (int64, error)
	EnsureIndexes(ctx context.Context, collection string, models []mongo.IndexModel) error
	OperationContext(ctx context.Context) (context.Context, context.CancelFunc)
}

// Config names the collections.
type Config struct {
	MasterCollection string
	DetailCollection string
}

func (c *Config) normalize() {
	if c.MasterCollection == "" {
		c.MasterCollection = DefaultMasterCollection
	}
	if c.DetailCollection == "" {
		c.DetailCollection = DefaultDetailCollection
	}
}

// Store implements ledger.Storage on MongoDB.
type Store struct {
	db     Database
	config Config
}

// New creates a MongoDB ledger store.
func New(db Database, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	cfg.normalize()
	return &Store{db: db, config: cfg}, nil
}

// EnsureIndexes creates the indexes the ledger queries rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if err := s.db.EnsureIndexes(ctx, s.config.MasterCollection, masterIndexes()); err != nil {
		return err
	}
	return s.db.EnsureIndexes(ctx, s.config.DetailCollection, detailIndexes())
}

func masterIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "contract_id", Value: 1}, {Key: "type", Value: 1}, {Key: "start_time", Value: -1}}},
		{
			Keys:    bson.D{{Key: "unique_identifier", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
}

func detailIndexes() []mongo.IndexModel {
	return []mongo.IndexModel{
		{Keys: bson.D{{Key: "master_id", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "master_unique_identifier", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "time", Value: 1}}},
	}
}

// Masters finds masters matching filter.
func (s *Store) Masters(ctx context.Context, filter ledger.MasterFilter) (masters []ledger.Master, err error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery, tracing.WithDBTable(s.config.MasterCollection), tracing.WithDBSystem("mongodb"))
	defer func() { tracing.End(span, err) }()
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	cur, err := s.db.Collection(s.config.MasterCollection).Find(opCtx, masterQuery(filter), findOptions("start_time", filter.Order, filter.Page))
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}
	var docs []masterDoc
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("decode transactions: %w", err)
	}
	masters = make([]ledger.Master, 0, len(docs))
	for _, doc := range docs {
		masters = append(masters, doc.master())
	}
	return masters, nil
}

// MasterCount counts the masters of a contract and type.
func (s *Store) MasterCount(ctx context.Context, contractID string, t ledger.Type) (int64, error) {
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()
	n, err := s.db.Collection(s.config.MasterCollection).CountDocuments(opCtx, bson.D{
		{Key: "contract_id", Value: contractID},
		{Key: "type", Value: string(t)},
	})
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Details finds details matching filter.
func (s *Store) Details(ctx context.Context, filter ledger.DetailFilter) (details []ledger.Detail, err error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBQuery, tracing.WithDBTable(s.config.DetailCollection), tracing.WithDBSystem("mongodb"))
	defer func() { tracing.End(span, err) }()
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	cur, err := s.db.Collection(s.config.DetailCollection).Find(opCtx, detailQuery(filter), findOptions("time", filter.Order, filter.Page))
	if err != nil {
		return nil, fmt.Errorf("find transaction details: %w", err)
	}
	var docs []detailDoc
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("decode transaction details: %w", err)
	}
	details = make([]ledger.Detail, 0, len(docs))
	for _, doc := range docs {
		details = append(details, doc.detail())
	}
	return details, nil
}

// DetailCount counts the details of a master.
func (s *Store) DetailCount(ctx context.Context, masterID int64) (int64, error) {
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()
	n, err := s.db.Collection(s.config.DetailCollection).CountDocuments(opCtx, bson.D{{Key: "master_id", Value: masterID}})
	if err != nil {
		return 0, fmt.Errorf("count transaction details: %w", err)
	}
	return n, nil
}

// Save replaces the master and details by id inside one transaction. New
// documents get the next sequence value and are upserted.
func (s *Store) Save(ctx context.Context, master *ledger.Master, details []ledger.Detail) (history ledger.History, err error) {
	if master == nil {
		return ledger.History{}, fmt.Errorf("master is required")
	}
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBUpsert, tracing.WithDBTable(s.config.MasterCollection), tracing.WithDBSystem("mongodb"))
	defer func() { tracing.End(span, err) }()

	var saved ledger.History
	err = s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		m := master.Clone()
		if err := s.replace(txCtx, s.config.MasterCollection, &m.ID, func() any { return newMasterDoc(m) }); err != nil {
			return err
		}
		out := make([]ledger.Detail, 0, len(details))
		for _, d := range details {
			d = d.Clone()
			d.MasterID = m.ID
			if err := s.replace(txCtx, s.config.DetailCollection, &d.ID, func() any { return newDetailDoc(d) }); err != nil {
				return err
			}
			out = append(out, d)
		}
		saved = ledger.History{Master: m, Details: out}
		return nil
	})
	if err != nil {
		return ledger.History{}, err
	}
	return saved, nil
}

// replace assigns *id from the collection's sequence when it is zero and
// upserts the document, or replaces the existing document otherwise.
func (s *Store) replace(ctx context.Context, collection string, id *int64, doc func() any) error {
	upsert := false
	if *id == 0 {
		next, err := s.db.NextSequence(ctx, collection)
		if err != nil {
			return err
		}
		*id = next
		upsert = true
	}
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	res, err := s.db.Collection(collection).ReplaceOne(opCtx, bson.D{{Key: "_id", Value: *id}}, doc(), options.Replace().SetUpsert(upsert))
	if err != nil {
		return fmt.Errorf("save %s %d: %w", collection, *id, err)
	}
	if !upsert && res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s %d", ledger.ErrNotFound, collection, *id)
	}
	return nil
}

// CleanupMasters deletes masters started before the cutoff.
func (s *Store) CleanupMasters(ctx context.Context, before time.Time) (int64, error) {
	return s.cleanup(ctx, s.config.MasterCollection, "start_time", before)
}

// CleanupDetails deletes details created before the cutoff.
func (s *Store) CleanupDetails(ctx context.Context, before time.Time) (int64, error) {
	return s.cleanup(ctx, s.config.DetailCollection, "time", before)
}

func (s *Store) cleanup(ctx context.Context, collection, field string, before time.Time) (n int64, err error) {
	ctx, span := tracing.StartDatabaseSpan(ctx, tracing.SpanOperationDBDelete, tracing.WithDBTable(collection), tracing.WithDBSystem("mongodb"))
	defer func() { tracing.End(span, err) }()
	opCtx, cancel := s.db.OperationContext(ctx)
	defer cancel()

	res, err := s.db.Collection(collection).DeleteMany(opCtx, bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: before.UTC()}}}})
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// WithTransaction delegates to the adapter.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTransaction(ctx, fn)
}

func masterQuery(filter ledger.MasterFilter) bson.D {
	q := bson.D{
		{Key: "contract_id", Value: filter.ContractID},
		{Key: "type", Value: string(filter.Type)},
	}
	if id, ok := filter.Ref.ID(); ok {
		q = append(q, bson.E{Key: "_id", Value: id})
	} else if uid, ok := filter.Ref.UniqueIdentifier(); ok {
		q = append(q, bson.E{Key: "unique_identifier", Value: uid})
	}
	return q
}

func detailQuery(filter ledger.DetailFilter) bson.D {
	if filter.ID != 0 {
		return bson.D{{Key: "_id", Value: filter.ID}}
	}
	var q bson.D
	if id, ok := filter.Master.ID(); ok {
		q = append(q, bson.E{Key: "master_id", Value: id})
	} else {
		uid, _ := filter.Master.UniqueIdentifier()
		q = append(q, bson.E{Key: "master_unique_identifier", Value: uid})
	}
	if filter.Status != "" {
		q = append(q, bson.E{Key: "status", Value: string(filter.Status)})
	}
	return q
}

func findOptions(timeField string, order ledger.Order, page *ledger.Page) *options.FindOptions {
	direction := 1
	if order == ledger.OrderDescending {
		direction = -1
	}
	opts := options.Find().SetSort(bson.D{{Key: timeField, Value: direction}, {Key: "_id", Value: direction}})
	if page != nil {
		if page.Limit > 0 {
			opts.SetLimit(int64(page.Limit))
		}
		if page.Offset > 0 {
			opts.SetSkip(int64(page.Offset))
		}
	}
	return opts
}
