package ledger

import (
	"fmt"
	"time"
)

// workingSet returns the details an update reconciles: the incoming batch
// for a master addressed by id, and every stored detail plus the incoming
// batch for a master addressed by unique identifier.
func workingSet(req UpdateRequest, master *Master, stored []Detail) ([]Detail, error) {
	uid := req.adoptedIdentifier()
	storedIDs := make(map[int64]int, len(stored))
	for i := range stored {
		storedIDs[stored[i].ID] = i
	}

	seen := make(map[int64]struct{}, len(req.Details))
	var working []Detail
	if _, byUID := req.Ref.UniqueIdentifier(); byUID {
		working = make([]Detail, 0, len(stored)+len(req.Details))
		for i := range stored {
			working = append(working, stored[i].Clone())
		}
	} else {
		working = make([]Detail, 0, len(req.Details))
	}

	for i := range req.Details {
		d := req.Details[i].Clone()
		if d.MasterID != 0 && d.MasterID != master.ID {
			return nil, ledgerError(ErrValidation, fmt.Sprintf("detail belongs to transaction %d, not %d", d.MasterID, master.ID))
		}
		if d.MasterUniqueIdentifier != "" && d.MasterUniqueIdentifier != master.UniqueIdentifier && d.MasterUniqueIdentifier != uid {
			return nil, ledgerError(ErrValidation, "detail belongs to transaction "+quote(d.MasterUniqueIdentifier))
		}
		if d.ID == 0 {
			working = append(working, d)
			continue
		}
		if _, dup := seen[d.ID]; dup {
			return nil, ledgerError(ErrValidation, fmt.Sprintf("detail %d appears twice in one update", d.ID))
		}
		seen[d.ID] = struct{}{}
		pos, ok := storedIDs[d.ID]
		if !ok {
			return nil, ledgerError(ErrValidation, fmt.Sprintf("detail %d is not part of transaction %d", d.ID, master.ID))
		}
		if _, byUID := req.Ref.UniqueIdentifier(); byUID {
			working[pos] = d
		} else {
			working = append(working, d)
		}
	}
	return working, nil
}

func indexDetails(details []Detail) map[int64]Detail {
	index := make(map[int64]Detail, len(details))
	for _, d := range details {
		index[d.ID] = d
	}
	return index
}

type reconciler struct {
	master *Master
	t      Type
	uid    string
	now    time.Time
	stored map[int64]Detail
	failed []FailedItem
}

// apply updates the details in place and accumulates their counts on the master.
func (r reconciler) apply(details []Detail) error {
	failedByKey := make(map[string]FailedItem, len(r.failed))
	for _, f := range r.failed {
		if f.ID == "" {
			continue
		}
		if _, seen := failedByKey[f.ID]; !seen {
			failedByKey[f.ID] = f
		}
	}

	failedBefore := r.master.FailedCount
	filteredOut := 0
	for i := range details {
		d := &details[i]

		prev, stored := r.stored[d.ID]
		counted := d.ID != 0 && stored && alreadyCounted(prev)
		if counted && d.CountedAt == nil {
			d.CountedAt = prev.Clone().CountedAt
		}

		r.stampUniqueIdentifier(d)
		d.MasterID = r.master.ID
		key := d.Key(r.t)
		if key == "" {
			d.GTIN = "0"
		}

		if f, ok := failedByKey[key]; ok && key != "" {
			d.Status = f.Status
			d.Note = f.ErrorMessage
			d.setUpdatedInShop(false)
			fillFromFailure(d, f)
		} else if d.ID != 0 {
			d.Status = StatusFinished
			d.setUpdatedInShop(true)
		}

		if d.ID == 0 {
			r.master.TotalCount++
		}
		// A detail contributes to the master counters once.
		if counted || !d.Status.Counted() {
			continue
		}
		switch d.Status {
		case StatusFinished:
			r.master.SuccessCount++
		case StatusFailed:
			r.master.FailedCount++
		case StatusFilteredOut:
			filteredOut++
		}
		countedAt := r.now
		d.CountedAt = &countedAt
		recordCounted(r.t, d.Status)
	}

	if r.master.FailedCount > failedBefore {
		r.master.Note = fmt.Sprintf("%d of %d %s failed.", r.master.FailedCount, r.master.TotalCount, r.t.EntityName())
	}
	if filteredOut > 0 {
		r.master.Note = fmt.Sprintf("%d of %d %s filtered out.", filteredOut, r.master.TotalCount, r.t.EntityName())
	}
	if r.uid != "" {
		return r.master.SetUniqueIdentifier(r.uid)
	}
	return nil
}

func (r reconciler) stampUniqueIdentifier(d *Detail) {
	if r.uid != "" && d.MasterUniqueIdentifier == "" {
		d.MasterUniqueIdentifier = r.uid
	}
}

// alreadyCounted reports whether a stored detail has left the in-progress set
// or carries a counted marker.
func alreadyCounted(stored Detail) bool {
	return stored.Status != StatusInProgress || stored.CountedAt != nil
}

// fillFromFailure copies the item attributes a failure reports onto a detail
// that lacks them.
func fillFromFailure(d *Detail, f FailedItem) {
	if d.ProductName == "" {
		d.ProductName = f.Name
	}
	if d.ReferencePrice == nil {
		d.ReferencePrice = cloneFloat(f.ReferencePrice)
	}
	if d.MinPrice == nil {
		d.MinPrice = cloneFloat(f.MinPrice)
	}
	if d.MaxPrice == nil {
		d.MaxPrice = cloneFloat(f.MaxPrice)
	}
}
