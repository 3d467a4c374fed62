package mysql

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nimburion/batchsync/pkg/observability/logger"
)

func TestNewMySQLAdapter_Validation(t *testing.T) {
	if _, err := NewMySQLAdapter(Config{}, logger.Nop()); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestGetTx(t *testing.T) {
	ctx := context.Background()
	if tx, ok := GetTx(ctx); ok || tx != nil {
		t.Fatal("expected no tx in plain context")
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()
	mock.ExpectBegin()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin tx error: %v", err)
	}
	ctx = context.WithValue(ctx, txContextKey, tx)
	if got, ok := GetTx(ctx); !ok || got == nil {
		t.Fatal("expected tx from context")
	}
	_ = tx.Rollback()
}

func TestClosePreventsSubsequentOperations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	mock.ExpectClose()

	a := NewFromDB(db, Config{}, logger.Nop())
	if err := a.Close(); err != nil {
		t.Fatalf("close error: %v", err)
	}
	if _, err := a.ExecContext(context.Background(), "SELECT 1"); err == nil {
		t.Fatal("expected error after close")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	a := NewFromDB(db, Config{}, logger.Nop())
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM queue_items").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	txErr := errors.New("tx failed")
	err = a.WithTransaction(context.Background(), func(ctx context.Context) error {
		if _, err := a.ExecContext(ctx, "DELETE FROM queue_items WHERE id = ?", 1); err != nil {
			return err
		}
		return txErr
	})
	if !errors.Is(err, txErr) {
		t.Fatalf("expected tx error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestWithTransaction_CommitOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	a := NewFromDB(db, Config{}, logger.Nop())
	mock.ExpectBegin()
	mock.ExpectCommit()

	if err := a.WithTransaction(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock expectations: %v", err)
	}
}

func TestWithTransaction_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	a := NewFromDB(db, Config{}, logger.Nop())
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("deadlock"))

	if err := a.WithTransaction(context.Background(), func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected commit error")
	}
}

func TestWithQueryTimeout_UsesConfigWhenNoDeadline(t *testing.T) {
	a := &MySQLAdapter{config: Config{QueryTimeout: 2 * time.Second}}
	ctx, cancel := a.withQueryTimeout(context.Background())
	defer cancel()

	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("expected deadline from query timeout")
	}
}
