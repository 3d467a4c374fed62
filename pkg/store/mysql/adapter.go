// Package mysql provides the MySQL adapter used by the SQL queue and ledger stores.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver

	"github.com/nimburion/batchsync/pkg/observability/logger"
)

// MySQLAdapter provides MySQL connectivity with connection pooling.
type MySQLAdapter struct {
	db     *sql.DB
	logger logger.Logger
	config Config
}

// Config holds MySQL connection configuration.
type Config struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// QueryTimeout bounds ExecContext calls issued without a caller deadline.
	QueryTimeout time.Duration
}

// NewMySQLAdapter opens a pool and verifies it with a ping.
func NewMySQLAdapter(cfg Config, log logger.Logger) (*MySQLAdapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := sql.Open("mysql", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("MySQL connection established",
		"max_open_conns", cfg.MaxOpenConns,
		"max_idle_conns", cfg.MaxIdleConns,
		"conn_max_lifetime", cfg.ConnMaxLifetime,
	)

	return &MySQLAdapter{db: db, logger: log, config: cfg}, nil
}

// NewFromDB wraps an already opened pool.
func NewFromDB(db *sql.DB, cfg Config, log logger.Logger) *MySQLAdapter {
	return &MySQLAdapter{db: db, logger: log, config: cfg}
}

// DB returns the underlying pool.
func (a *MySQLAdapter) DB() *sql.DB {
	return a.db
}

// Ping verifies the connection is alive.
func (a *MySQLAdapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// HealthCheck pings the database with a short timeout.
func (a *MySQLAdapter) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		a.logger.Error("MySQL health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// Close closes the pool.
func (a *MySQLAdapter) Close() error {
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close MySQL connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	a.logger.Info("MySQL connection closed")
	return nil
}

type contextKey string

const txContextKey contextKey = "mysql_tx"

// GetTx extracts the transaction opened by WithTransaction, if any.
func GetTx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txContextKey).(*sql.Tx)
	return tx, ok
}

// WithTransaction runs fn in a transaction carried by the context. It commits
// when fn returns nil and rolls back on error or panic. A context that already
// carries a transaction joins it.
func (a *MySQLAdapter) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := GetTx(ctx); ok {
		return fn(ctx)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				a.logger.Error("failed to rollback transaction after panic", "panic", p, "rollback_error", rbErr)
			}
			panic(p)
		}
	}()

	if err := fn(context.WithValue(ctx, txContextKey, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			a.logger.Error("failed to rollback transaction", "original_error", err, "rollback_error", rbErr)
			return fmt.Errorf("failed to rollback transaction: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecContext executes a statement on the context transaction or the pool.
func (a *MySQLAdapter) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	queryCtx, cancel := a.withQueryTimeout(ctx)
	defer cancel()
	if tx, ok := GetTx(ctx); ok {
		return tx.ExecContext(queryCtx, query, args...)
	}
	return a.db.ExecContext(queryCtx, query, args...)
}

// QueryContext runs a query on the context transaction or the pool. The
// returned rows live as long as ctx, so no query timeout is applied here.
func (a *MySQLAdapter) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryContext(ctx, query, args...)
	}
	return a.db.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row query on the context transaction or the pool.
func (a *MySQLAdapter) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	if tx, ok := GetTx(ctx); ok {
		return tx.QueryRowContext(ctx, query, args...)
	}
	return a.db.QueryRowContext(ctx, query, args...)
}

func (a *MySQLAdapter) withQueryTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.QueryTimeout <= 0 {
		return ctx, func() {}
	}
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.config.QueryTimeout)
}
