// Package memstore is an in-process ledger.Storage for tests and single-binary setups.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nimburion/batchsync/pkg/ledger"
)

type txKey struct{}

// Store keeps masters and details in memory. Ids start at 1. Transactions
// are serialized and roll back by restoring a snapshot.
type Store struct {
	txMu sync.Mutex

	mu           sync.Mutex
	masters      map[int64]ledger.Master
	details      map[int64]ledger.Detail
	nextMasterID int64
	nextDetailID int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		masters: map[int64]ledger.Master{},
		details: map[int64]ledger.Detail{},
	}
}

// Masters returns the masters matching filter ordered by start time.
func (s *Store) Masters(_ context.Context, filter ledger.MasterFilter) ([]ledger.Master, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ledger.Master, 0)
	for _, m := range s.masters {
		if m.ContractID != filter.ContractID || m.Type != filter.Type {
			continue
		}
		if !filter.Ref.IsZero() && !filter.Ref.Matches(&m) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return before(out[i].StartTime, out[i].ID, out[j].StartTime, out[j].ID, filter.Order)
	})
	return paginate(out, filter.Page), nil
}

// MasterCount counts the masters of a contract and type.
func (s *Store) MasterCount(_ context.Context, contractID string, t ledger.Type) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.masters {
		if m.ContractID == contractID && m.Type == t {
			n++
		}
	}
	return n, nil
}

// Details returns the details matching filter ordered by creation time.
func (s *Store) Details(_ context.Context, filter ledger.DetailFilter) ([]ledger.Detail, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if filter.ID != 0 {
		d, ok := s.details[filter.ID]
		if !ok {
			return []ledger.Detail{}, nil
		}
		return []ledger.Detail{d.Clone()}, nil
	}

	out := make([]ledger.Detail, 0)
	for _, d := range s.details {
		if !filter.Master.MatchesDetail(&d) {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return before(out[i].Time, out[i].ID, out[j].Time, out[j].ID, filter.Order)
	})
	return paginate(out, filter.Page), nil
}

// DetailCount counts the details of a master.
func (s *Store) DetailCount(_ context.Context, masterID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, d := range s.details {
		if d.MasterID == masterID {
			n++
		}
	}
	return n, nil
}

// Save upserts the master and details.
func (s *Store) Save(_ context.Context, master *ledger.Master, details []ledger.Detail) (ledger.History, error) {
	if master == nil {
		return ledger.History{}, fmt.Errorf("memstore: master is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := master.Clone()
	if saved.ID == 0 {
		s.nextMasterID++
		saved.ID = s.nextMasterID
	} else if _, ok := s.masters[saved.ID]; !ok {
		return ledger.History{}, fmt.Errorf("memstore: master %d not found", saved.ID)
	}
	s.masters[saved.ID] = *saved

	out := make([]ledger.Detail, 0, len(details))
	for _, d := range details {
		d = d.Clone()
		d.MasterID = saved.ID
		if d.ID == 0 {
			s.nextDetailID++
			d.ID = s.nextDetailID
		} else if _, ok := s.details[d.ID]; !ok {
			return ledger.History{}, fmt.Errorf("memstore: detail %d not found", d.ID)
		}
		s.details[d.ID] = d
		out = append(out, d.Clone())
	}
	return ledger.History{Master: saved.Clone(), Details: out}, nil
}

// CleanupMasters deletes masters started before the cutoff.
func (s *Store) CleanupMasters(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, m := range s.masters {
		if m.StartTime.Before(cutoff) {
			delete(s.masters, id)
			n++
		}
	}
	return n, nil
}

// CleanupDetails deletes details created before the cutoff.
func (s *Store) CleanupDetails(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.details {
		if d.Time.Before(cutoff) {
			delete(s.details, id)
			n++
		}
	}
	return n, nil
}

// WithTransaction serializes fn against other transactions and restores the
// previous state when fn fails or panics. Nested calls join.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

type snapshot struct {
	masters      map[int64]ledger.Master
	details      map[int64]ledger.Detail
	nextMasterID int64
	nextDetailID int64
}

func (s *Store) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		masters:      make(map[int64]ledger.Master, len(s.masters)),
		details:      make(map[int64]ledger.Detail, len(s.details)),
		nextMasterID: s.nextMasterID,
		nextDetailID: s.nextDetailID,
	}
	for id, m := range s.masters {
		snap.masters[id] = m
	}
	for id, d := range s.details {
		snap.details[id] = d.Clone()
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.masters = snap.masters
	s.details = snap.details
	s.nextMasterID = snap.nextMasterID
	s.nextDetailID = snap.nextDetailID
}

func before(ti time.Time, idi int64, tj time.Time, idj int64, order ledger.Order) bool {
	less := ti.Before(tj) || (ti.Equal(tj) && idi < idj)
	if order == ledger.OrderDescending {
		return !less && !(ti.Equal(tj) && idi == idj)
	}
	return less
}

func paginate[T any](items []T, page *ledger.Page) []T {
	if page == nil {
		return items
	}
	if page.Offset >= len(items) {
		return items[:0]
	}
	items = items[page.Offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
