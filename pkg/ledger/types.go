// Package ledger records synchronization runs (masters) and the items each
// run touched (details), reconciling success, failure and filtered-out counts
// across repeated partial updates.
package ledger

import (
	"strings"
	"time"
)

// Type is the kind of synchronization a master tracks.
type Type string

const (
	// TypeImport tracks price imports.
	TypeImport Type = "IMPORT"
	// TypeExport tracks product exports.
	TypeExport Type = "EXPORT"
)

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	return t == TypeImport || t == TypeExport
}

// EntityName is the plural noun used in notes.
func (t Type) EntityName() string {
	if t == TypeImport {
		return "prices"
	}
	return "products"
}

// ParseType accepts a type name in any case.
func ParseType(value string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", ledgerError(ErrValidation, "unknown transaction type "+quote(value))
	}
	return t, nil
}

// Status is the state of a master or a detail.
type Status string

const (
	StatusInProgress  Status = "in_progress"
	StatusFinished    Status = "finished"
	StatusFailed      Status = "failed"
	StatusFilteredOut Status = "filtered_out"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInProgress, StatusFinished, StatusFailed, StatusFilteredOut:
		return true
	}
	return false
}

// Terminal reports whether a master in status s can no longer change.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Counted reports whether a detail in status s counts toward its master.
func (s Status) Counted() bool {
	return s == StatusFinished || s == StatusFailed || s == StatusFilteredOut
}

// ParseStatus accepts a status name in any case.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", ledgerError(ErrValidation, "unknown transaction status "+quote(value))
	}
	return s, nil
}

// Master is one synchronization run.
type Master struct {
	ID               int64
	UniqueIdentifier string
	ContractID       string
	StartTime        time.Time
	Type             Type
	Status           Status
	Note             string
	TotalCount       int
	SuccessCount     int
	FailedCount      int
}

// SetUniqueIdentifier sets the external correlation key once. Setting the
// same key again is a no-op; replacing a key or setting an empty one fails.
func (m *Master) SetUniqueIdentifier(uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return ledgerError(ErrValidation, "unique identifier can not be empty")
	}
	if m.UniqueIdentifier != "" && m.UniqueIdentifier != uid {
		return ledgerError(ErrValidation, "transaction already has unique identifier "+quote(m.UniqueIdentifier))
	}
	m.UniqueIdentifier = uid
	return nil
}

// Clone returns a copy of m.
func (m *Master) Clone() *Master {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

func (m *Master) validate() error {
	if strings.TrimSpace(m.ContractID) == "" {
		return ledgerError(ErrValidation, "contract id is required")
	}
	if !m.Type.Valid() {
		return ledgerError(ErrValidation, "unknown transaction type "+quote(string(m.Type)))
	}
	if !m.Status.Valid() || m.Status == StatusFilteredOut {
		return ledgerError(ErrValidation, "invalid transaction status "+quote(string(m.Status)))
	}
	if m.TotalCount < 0 || m.SuccessCount < 0 || m.FailedCount < 0 {
		return ledgerError(ErrValidation, "transaction counts must not be negative")
	}
	return nil
}

// Detail is one item processed by a run.
type Detail struct {
	ID                     int64
	Status                 Status
	Time                   time.Time
	MasterID               int64
	MasterUniqueIdentifier string
	ProductID              string
	GTIN                   string
	ProductName            string
	ReferencePrice         *float64
	MinPrice               *float64
	MaxPrice               *float64
	Note                   string
	// UpdatedInShop stays nil until the item reaches a terminal disposition.
	UpdatedInShop *bool
	// CountedAt is set once the detail has been counted toward its master.
	CountedAt *time.Time
}

// NewDetail creates an in-progress detail that belongs to the master ref
// points at.
func NewDetail(master Ref, at time.Time) (Detail, error) {
	if !master.Valid() {
		return Detail{}, ledgerError(ErrValidation, "detail needs exactly one master id or master unique identifier")
	}
	d := Detail{Status: StatusInProgress, Time: at}
	if id, ok := master.ID(); ok {
		d.MasterID = id
	} else {
		d.MasterUniqueIdentifier, _ = master.UniqueIdentifier()
	}
	return d, nil
}

// Key is the business identifier failures are matched by: the product id for
// imports and the gtin for exports.
func (d *Detail) Key(t Type) string {
	if t == TypeExport {
		return d.GTIN
	}
	return d.ProductID
}

// Clone returns a deep copy of d.
func (d Detail) Clone() Detail {
	c := d
	c.ReferencePrice = cloneFloat(d.ReferencePrice)
	c.MinPrice = cloneFloat(d.MinPrice)
	c.MaxPrice = cloneFloat(d.MaxPrice)
	if d.UpdatedInShop != nil {
		v := *d.UpdatedInShop
		c.UpdatedInShop = &v
	}
	if d.CountedAt != nil {
		v := *d.CountedAt
		c.CountedAt = &v
	}
	return c
}

func (d *Detail) setUpdatedInShop(v bool) {
	d.UpdatedInShop = &v
}

// FailedItem carries the failure of one item from a batch call into
// UpdateTransaction. It is never persisted.
type FailedItem struct {
	// ID is matched against Detail.Key.
	ID             string
	ErrorMessage   string
	Status         Status
	Name           string
	ReferencePrice *float64
	MinPrice       *float64
	MaxPrice       *float64
}

// History is a master with the details saved alongside it.
type History struct {
	Master  *Master
	Details []Detail
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func quote(value string) string {
	return "\"" + value + "\""
}
