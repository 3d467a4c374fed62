// Package sqlstore persists queue lanes in a relational table.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nimburion/batchsync/pkg/queue"
	"github.com/nimburion/batchsync/pkg/store"
)

// DefaultTable is the table created by the queue migration.
const DefaultTable = "queue_items"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config configures the SQL queue store.
type Config struct {
	Table   string
	Dialect store.Dialect
}

// Store implements queue.Storage on top of a store.SQL adapter. Lock uses
// SELECT ... FOR UPDATE so concurrent reservers serialize on the lane head.
type Store struct {
	db      store.SQL
	table   string
	dialect store.Dialect
}

// New creates a SQL queue store.
func New(db store.SQL, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sql adapter is required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid queue table name %q", table)
	}
	switch cfg.Dialect {
	case store.DialectPostgres, store.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	return &Store{db: db, table: table, dialect: cfg.Dialect}, nil
}

// Peek returns the oldest item of the lane.
func (s *Store) Peek(ctx context.Context, queueName string) (*queue.Item, error) {
	return s.head(ctx, queueName, "")
}

// Lock returns the oldest item of the lane with a row lock held until the
// surrounding transaction ends.
func (s *Store) Lock(ctx context.Context, queueName string) (*queue.Item, error) {
	return s.head(ctx, queueName, " FOR UPDATE")
}

func (s *Store) head(ctx context.Context, queueName, suffix string) (*queue.Item, error) {
	query := s.dialect.Rebind(fmt.Sprintf(
		`SELECT id, queue_name, payload, attempts, reservation_time FROM %s WHERE queue_name = ? ORDER BY id LIMIT 1%s`,
		s.table, suffix,
	))
	var (
		item     queue.Item
		reserved sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, queueName).Scan(&item.ID, &item.QueueName, &item.Payload, &item.Attempts, &reserved)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read head of %s: %w", queueName, err)
	}
	if reserved.Valid {
		t := reserved.Time.UTC()
		item.ReservationTime = &t
	}
	return &item, nil
}

// Save inserts items without an ID and updates the rest.
func (s *Store) Save(ctx context.Context, queueName string, item *queue.Item) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	if item.ID == 0 {
		return s.insert(ctx, queueName, item)
	}

	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET payload = ?, attempts = ?, reservation_time = ? WHERE id = ? AND queue_name = ?`,
		s.table,
	))
	res, err := s.db.ExecContext(ctx, query, item.Payload, item.Attempts, nullTime(item.ReservationTime), item.ID, queueName)
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update item %d: %w", item.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: item %d in %s", queue.ErrNotFound, item.ID, queueName)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, queueName string, item *queue.Item) error {
	now := time.Now().UTC()
	if s.dialect == store.DialectPostgres {
		query := fmt.Sprintf(
			`INSERT INTO %s (queue_name, payload, attempts, reservation_time, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			s.table,
		)
		if err := s.db.QueryRowContext(ctx, query, queueName, item.Payload, item.Attempts, nullTime(item.ReservationTime), now).Scan(&item.ID); err != nil {
			return fmt.Errorf("insert item into %s: %w", queueName, err)
		}
		item.QueueName = queueName
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (queue_name, payload, attempts, reservation_time, created_at) VALUES (?, ?, ?, ?, ?)`,
		s.table,
	)
	res, err := s.db.ExecContext(ctx, query, queueName, item.Payload, item.Attempts, nullTime(item.ReservationTime), now)
	if err != nil {
		return fmt.Errorf("insert item into %s: %w", queueName, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
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
	query := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND queue_name = ?`, s.table))
	if _, err := s.db.ExecContext(ctx, query, item.ID, queueName); err != nil {
		return fmt.Errorf("delete item %d: %w", item.ID, err)
	}
	return nil
}

// Depth counts the items of a lane, reserved or not.
func (s *Store) Depth(ctx context.Context, queueName string) (int64, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE queue_name = ?`, s.table))
	var n int64
	if err := s.db.QueryRowContext(ctx, query, queueName).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", queueName, err)
	}
	return n, nil
}

// WithTransaction delegates to the adapter.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTransaction(ctx, fn)
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
