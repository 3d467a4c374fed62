package migrate

import (
	"context"
	"fmt"
)

// IndexMigrator is the schema backend of document stores, which only need
// their indexes. Up is idempotent and Down is not supported.
type IndexMigrator struct {
	ensure  func(ctx context.Context) error
	applied bool
}

// NewIndexMigrator wraps the index creation of a document store.
func NewIndexMigrator(ensure func(ctx context.Context) error) (*IndexMigrator, error) {
	if ensure == nil {
		return nil, fmt.Errorf("index creation function is required")
	}
	return &IndexMigrator{ensure: ensure}, nil
}

// Up creates the indexes.
func (m *IndexMigrator) Up(ctx context.Context) (int, error) {
	if err := m.ensure(ctx); err != nil {
		return 0, fmt.Errorf("ensure indexes: %w", err)
	}
	m.applied = true
	return 1, nil
}

// Down is rejected; indexes are dropped with their collections.
func (m *IndexMigrator) Down(context.Context, int) (int, error) {
	return 0, fmt.Errorf("down migrations are not supported for document stores")
}

// Status reports the indexes as pending until Up ran in this process.
func (m *IndexMigrator) Status(context.Context) (*Status, error) {
	if m.applied {
		return &Status{AppliedVersions: []int64{1}, Pending: []PendingMigration{}}, nil
	}
	return &Status{AppliedVersions: []int64{}, Pending: []PendingMigration{{Version: 1, Name: "document_indexes"}}}, nil
}
