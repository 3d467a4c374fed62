// Package store holds the database adapters shared by the queue and ledger stores.
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Adapter is the minimal lifecycle and health contract for storage adapters.
type Adapter interface {
	HealthCheck(ctx context.Context) error
	Close() error
}

// SQL is the relational adapter contract. Statements issued with a context
// produced by WithTransaction run inside that transaction.
type SQL interface {
	Adapter
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Dialect selects placeholder and id-returning syntax.
type Dialect string

const (
	// DialectPostgres uses $n placeholders and RETURNING.
	DialectPostgres Dialect = "postgres"
	// DialectMySQL uses ? placeholders and LastInsertId.
	DialectMySQL Dialect = "mysql"
)

// ParseDialect maps a database type name to a dialect.
func ParseDialect(value string) (Dialect, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "postgres", "postgresql":
		return DialectPostgres, true
	case "mysql":
		return DialectMySQL, true
	default:
		return "", false
	}
}

// Rebind rewrites ? placeholders for the dialect. Queries are written with ?
// and never contain literal question marks.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
