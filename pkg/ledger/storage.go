package ledger

import (
	"context"
	"time"
)

// Storage is the persistence port behind a Ledger.
//
// Save upserts the master and the details by id, assigns ids to new rows
// and returns what was stored. Masters honours MasterFilter.ForUpdate only
// inside WithTransaction. WithTransaction commits when fn returns nil and
// rolls back otherwise; nested calls join the outer transaction.
type Storage interface {
	Masters(ctx context.Context, filter MasterFilter) ([]Master, error)
	MasterCount(ctx context.Context, contractID string, t Type) (int64, error)
	Details(ctx context.Context, filter DetailFilter) ([]Detail, error)
	DetailCount(ctx context.Context, masterID int64) (int64, error)
	Save(ctx context.Context, master *Master, details []Detail) (History, error)
	CleanupMasters(ctx context.Context, before time.Time) (int64, error)
	CleanupDetails(ctx context.Context, before time.Time) (int64, error)
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
