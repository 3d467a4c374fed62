package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/ledger/memstore"
	"github.com/nimburion/batchsync/pkg/observability/logger"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newLedger(t *testing.T, storage ledger.Storage, clk *clock) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(storage, logger.Nop(), ledger.Config{Now: clk.Now})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	return l
}

func newDetail(t *testing.T, ref ledger.Ref, at time.Time, productID, gtin string) ledger.Detail {
	t.Helper()
	d, err := ledger.NewDetail(ref, at)
	if err != nil {
		t.Fatalf("new detail: %v", err)
	}
	d.ProductID = productID
	d.GTIN = gtin
	return d
}

func mustMaster(t *testing.T, l *ledger.Ledger, contractID string, typ ledger.Type) *ledger.Master {
	t.Helper()
	m, err := l.LatestMaster(context.Background(), contractID, typ)
	if err != nil {
		t.Fatalf("latest master: %v", err)
	}
	if m == nil {
		t.Fatalf("expected a master for %s/%s", contractID, typ)
	}
	return m
}

func inProgressCount(t *testing.T, store ledger.Storage, masterID int64) int {
	t.Helper()
	details, err := store.Details(context.Background(), ledger.DetailFilter{Master: ledger.ByID(masterID), Status: ledger.StatusInProgress})
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	return len(details)
}

// failingSaveStore fails every Save with err.
type failingSaveStore struct {
	*memstore.Store
	err error
}

func (s failingSaveStore) Save(context.Context, *ledger.Master, []ledger.Detail) (ledger.History, error) {
	return ledger.History{}, s.err
}

// lossyStore drops the ids of saved details.
type lossyStore struct {
	*memstore.Store
}

func (s lossyStore) Save(ctx context.Context, master *ledger.Master, details []ledger.Detail) (ledger.History, error) {
	saved, err := s.Store.Save(ctx, master, details)
	if err != nil {
		return saved, err
	}
	for i := range saved.Details {
		saved.Details[i].ID = 0
	}
	return saved, nil
}

var errStoreDown = errors.New("store down")
