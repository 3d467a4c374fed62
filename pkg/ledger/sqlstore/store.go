// Package sqlstore persists the transaction ledger in two relational tables.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/observability/tracing"
	"github.com/nimburion/batchsync/pkg/store"
)

const (
	// DefaultMasterTable is the master table created by the ledger migration.
	DefaultMasterTable = "transaction_master"
	// DefaultDetailTable is the detail table created by the ledger migration.
	DefaultDetailTable = "transaction_detail"

	masterColumns = "id, unique_identifier, contract_id, start_time, type, status, note, total_count, success_count, failed_count"
	detailColumns = "id, master_id, master_unique_identifier, status, time, product_id, gtin, product_name, " +
		"reference_price, min_price, max_price, note, updated_in_shop, counted_at"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config configures the SQL ledger store.
type Config struct {
	MasterTable string
	DetailTable string
	Dialect     store.Dialect
}

// Store implements ledger.Storage on top of a store.SQL adapter.
type Store struct {
	db          store.SQL
	masterTable string
	detailTable string
	dialect     store.Dialect
}

// New creates a SQL ledger store.
func New(db store.SQL, cfg Config) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sql adapter is required")
	}
	masterTable := strings.TrimSpace(cfg.MasterTable)
	if masterTable == "" {
		masterTable = DefaultMasterTable
	}
	detailTable := strings.TrimSpace(cfg.DetailTable)
	if detailTable == "" {
		detailTable = DefaultDetailTable
	}
	for _, table := range []string{masterTable, detailTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid ledger table name %q", table)
		}
	}
	switch cfg.Dialect {
	case store.DialectPostgres, store.DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	return &Store{db: db, masterTable: masterTable, detailTable: detailTable, dialect: cfg.Dialect}, nil
}

// Masters selects masters matching filter. ForUpdate appends FOR UPDATE.
func (s *Store) Masters(ctx context.Context, filter ledger.MasterFilter) (masters []ledger.Master, err error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, s.masterTable)
	defer func() { tracing.End(span, err) }()

	var b strings.Builder
	args := []any{filter.ContractID, string(filter.Type)}
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE contract_id = ? AND type = ?", masterColumns, s.masterTable)
	if id, ok := filter.Ref.ID(); ok {
		b.WriteString(" AND id = ?")
		args = append(args, id)
	} else if uid, ok := filter.Ref.UniqueIdentifier(); ok {
		b.WriteString(" AND unique_identifier = ?")
		args = append(args, uid)
	}
	direction := orderDirection(filter.Order)
	fmt.Fprintf(&b, " ORDER BY start_time %s, id %s", direction, direction)
	args = appendPage(&b, args, filter.Page)
	if filter.ForUpdate {
		b.WriteString(" FOR UPDATE")
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	masters = make([]ledger.Master, 0)
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, err
		}
		masters = append(masters, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	return masters, nil
}

// MasterCount counts the masters of a contract and type.
func (s *Store) MasterCount(ctx context.Context, contractID string, t ledger.Type) (n int64, err error) {
	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, s.masterTable)
	defer func() { tracing.End(span, err) }()

	query := s.dialect.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE contract_id = ? AND type = ?`, s.masterTable))
	if err := s.db.QueryRowContext(ctx, query, contractID, string(t)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Details selects details matching filter.
func (s *Store) Details(ctx context.Context, filter ledger.DetailFilter) (details []ledger.Detail, err error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, s.detailTable)
	defer func() { tracing.End(span, err) }()

	var b strings.Builder
	var args []any
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE ", detailColumns, s.detailTable)
	if filter.ID != 0 {
		b.WriteString("id = ?")
		args = append(args, filter.ID)
	} else {
		if id, ok := filter.Master.ID(); ok {
			b.WriteString("master_id = ?")
			args = append(args, id)
		} else {
			uid, _ := filter.Master.UniqueIdentifier()
			b.WriteString("master_unique_identifier = ?")
			args = append(args, uid)
		}
		if filter.Status != "" {
			b.WriteString(" AND status = ?")
			args = append(args, string(filter.Status))
		}
		direction := orderDirection(filter.Order)
		fmt.Fprintf(&b, " ORDER BY time %s, id %s", direction, direction)
		args = appendPage(&b, args, filter.Page)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("select transaction details: %w", err)
	}
	defer rows.Close()

	details = make([]ledger.Detail, 0)
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select transaction details: %w", err)
	}
	return details, nil
}

// DetailCount counts the details of a master.
func (s *Store) DetailCount(ctx context.Context, masterID int64) (n int64, err error) {
	ctx, span := s.span(ctx, tracing.SpanOperationDBQuery, s.detailTable)
	defer func() { tracing.End(span, err) }()

	query := s.dialect.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE master_id = ?`, s.detailTable))
	if err := s.db.QueryRowContext(ctx, query, masterID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transaction details: %w", err)
	}
	return n, nil
}

// Save upserts the master and its details in one transaction.
func (s *Store) Save(ctx context.Context, master *ledger.Master, details []ledger.Detail) (history ledger.History, err error) {
	if master == nil {
		return ledger.History{}, fmt.Errorf("master is required")
	}
	ctx, span := s.span(ctx, tracing.SpanOperationDBUpsert, s.masterTable)
	defer func() { tracing.End(span, err) }()

	savedMaster := master.Clone()
	saved := make([]ledger.Detail, 0, len(details))
	err = s.db.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.saveMaster(txCtx, savedMaster); err != nil {
			return err
		}
		for _, d := range details {
			d = d.Clone()
			d.MasterID = savedMaster.ID
			if err := s.saveDetail(txCtx, &d); err != nil {
				return err
			}
			saved = append(saved, d)
		}
		return nil
	})
	if err != nil {
		return ledger.History{}, err
	}
	return ledger.History{Master: savedMaster, Details: saved}, nil
}

func (s *Store) saveMaster(ctx context.Context, m *ledger.Master) error {
	args := []any{
		nullString(m.UniqueIdentifier), m.ContractID, m.StartTime.UTC(), string(m.Type), string(m.Status),
		m.Note, m.TotalCount, m.SuccessCount, m.FailedCount,
	}
	if m.ID == 0 {
		query := fmt.Sprintf(
			`INSERT INTO %s (unique_identifier, contract_id, start_time, type, status, note, total_count, success_count, failed_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.masterTable,
		)
		id, err := s.insert(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		m.ID = id
		return nil
	}

	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET unique_identifier = ?, contract_id = ?, start_time = ?, type = ?, status = ?, note = ?, total_count = ?, success_count = ?, failed_count = ? WHERE id = ?`,
		s.masterTable,
	))
	return s.update(ctx, query, fmt.Sprintf("transaction %d", m.ID), append(args, m.ID)...)
}

func (s *Store) saveDetail(ctx context.Context, d *ledger.Detail) error {
	args := []any{
		d.MasterID, nullString(d.MasterUniqueIdentifier), string(d.Status), d.Time.UTC(), d.ProductID, d.GTIN, d.ProductName,
		nullFloat(d.ReferencePrice), nullFloat(d.MinPrice), nullFloat(d.MaxPrice), d.Note, nullBool(d.UpdatedInShop), nullTime(d.CountedAt),
	}
	if d.ID == 0 {
		query := fmt.Sprintf(
			`INSERT INTO %s (master_id, master_unique_identifier, status, time, product_id, gtin, product_name, reference_price, min_price, max_price, note, updated_in_shop, counted_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.detailTable,
		)
		id, err := s.insert(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("insert transaction detail: %w", err)
		}
		d.ID = id
		return nil
	}

	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE %s SET master_id = ?, master_unique_identifier = ?, status = ?, time = ?, product_id = ?, gtin = ?, product_name = ?, reference_price = ?, min_price = ?, max_price = ?, note = ?, updated_in_shop = ?, counted_at = ? WHERE id = ?`,
		s.detailTable,
	))
	return s.update(ctx, query, fmt.Sprintf("transaction detail %d", d.ID), append(args, d.ID)...)
}

// insert runs an INSERT written with ? placeholders and returns the new id.
func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s.dialect == store.DialectPostgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query)+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) update(ctx context.Context, query, what string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrNotFound, what)
	}
	return nil
}

// CleanupMasters deletes masters started before the cutoff.
func (s *Store) CleanupMasters(ctx context.Context, before time.Time) (int64, error) {
	return s.cleanup(ctx, s.masterTable, "start_time", before)
}

// CleanupDetails deletes details created before the cutoff.
func (s *Store) CleanupDetails(ctx context.Context, before time.Time) (int64, error) {
	return s.cleanup(ctx, s.detailTable, "time", before)
}

func (s *Store) cleanup(ctx context.Context, table, column string, before time.Time) (n int64, err error) {
	ctx, span := s.span(ctx, tracing.SpanOperationDBDelete, table)
	defer func() { tracing.End(span, err) }()

	query := s.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, column))
	res, err := s.db.ExecContext(ctx, query, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", table, err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup %s: %w", table, err)
	}
	return n, nil
}

// WithTransaction delegates to the adapter.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.WithTransaction(ctx, fn)
}

func (s *Store) span(ctx context.Context, op tracing.SpanOperation, table string) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op, tracing.WithDBTable(table), tracing.WithDBSystem(string(s.dialect)))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMaster(row scanner) (ledger.Master, error) {
	var (
		m      ledger.Master
		uid    sql.NullString
		typ    string
		status string
	)
	err := row.Scan(&m.ID, &uid, &m.ContractID, &m.StartTime, &typ, &status, &m.Note, &m.TotalCount, &m.SuccessCount, &m.FailedCount)
	if err != nil {
		return ledger.Master{}, fmt.Errorf("scan transaction: %w", err)
	}
	m.UniqueIdentifier = uid.String
	m.StartTime = m.StartTime.UTC()
	m.Type = ledger.Type(typ)
	m.Status = ledger.Status(status)
	return m, nil
}

func scanDetail(row scanner) (ledger.Detail, error) {
	var (
		d                            ledger.Detail
		uid                          sql.NullString
		status                       string
		refPrice, minPrice, maxPrice sql.NullFloat64
		updatedInShop                sql.NullBool
		countedAt                    sql.NullTime
	)
	err := row.Scan(
		&d.ID, &d.MasterID, &uid, &status, &d.Time, &d.ProductID, &d.GTIN, &d.ProductName,
		&refPrice, &minPrice, &maxPrice, &d.Note, &updatedInShop, &countedAt,
	)
	if err != nil {
		return ledger.Detail{}, fmt.Errorf("scan transaction detail: %w", err)
	}
	d.MasterUniqueIdentifier = uid.String
	d.Status = ledger.Status(status)
	d.Time = d.Time.UTC()
	d.ReferencePrice = floatPtr(refPrice)
	d.MinPrice = floatPtr(minPrice)
	d.MaxPrice = floatPtr(maxPrice)
	if updatedInShop.Valid {
		v := updatedInShop.Bool
		d.UpdatedInShop = &v
	}
	if countedAt.Valid {
		t := countedAt.Time.UTC()
		d.CountedAt = &t
	}
	return d, nil
}

func orderDirection(order ledger.Order) string {
	if order == ledger.OrderDescending {
		return "DESC"
	}
	return "ASC"
}

func appendPage(b *strings.Builder, args []any, page *ledger.Page) []any {
	if page == nil || (page.Limit == 0 && page.Offset == 0) {
		return args
	}
	limit := page.Limit
	if limit == 0 {
		limit = math.MaxInt32
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	return append(args, limit, page.Offset)
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullBool {
	if v == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *v, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
