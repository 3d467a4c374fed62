package ledger

import "strings"

// Order sorts results by creation time.
type Order string

const (
	// OrderAscending is the storage default.
	OrderAscending  Order = "ASC"
	OrderDescending Order = "DESC"
)

// Valid reports whether o is empty or a known direction.
func (o Order) Valid() bool {
	return o == "" || o == OrderAscending || o == OrderDescending
}

// Page limits a listing. A zero Limit means no limit.
type Page struct {
	Limit  int
	Offset int
}

func (p *Page) validate() error {
	if p == nil {
		return nil
	}
	if p.Limit < 0 {
		return ledgerError(ErrValidation, "limit must not be negative")
	}
	if p.Offset < 0 {
		return ledgerError(ErrValidation, "offset must not be negative")
	}
	return nil
}

// MasterFilter selects masters of one contract and type.
type MasterFilter struct {
	ContractID string
	Type       Type
	// Ref narrows the result to one master. It can not be combined with Page.
	Ref   Ref
	Page  *Page
	Order Order
	// ForUpdate locks the selected rows until the surrounding transaction ends.
	ForUpdate bool
}

// Validate checks the filter before it reaches storage.
func (f MasterFilter) Validate() error {
	if strings.TrimSpace(f.ContractID) == "" {
		return ledgerError(ErrValidation, "contract id is required")
	}
	if !f.Type.Valid() {
		return ledgerError(ErrValidation, "unknown transaction type "+quote(string(f.Type)))
	}
	if !f.Ref.IsZero() {
		if !f.Ref.Valid() {
			return ledgerError(ErrValidation, "invalid transaction reference "+f.Ref.String())
		}
		if f.Page != nil {
			return ledgerError(ErrValidation, "transaction reference can not be combined with limit or offset")
		}
	}
	if !f.Order.Valid() {
		return ledgerError(ErrValidation, "order must be ASC or DESC")
	}
	return f.Page.validate()
}

// DetailFilter selects details either by their own id or by master.
type DetailFilter struct {
	// ID selects a single detail and excludes every other field.
	ID     int64
	Master Ref
	Status Status
	Page   *Page
	Order  Order
}

// Validate checks the filter before it reaches storage.
func (f DetailFilter) Validate() error {
	if f.ID != 0 {
		if f.ID < 0 {
			return ledgerError(ErrValidation, "detail id must be positive")
		}
		if !f.Master.IsZero() || f.Status != "" || f.Page != nil {
			return ledgerError(ErrValidation, "detail id and master transaction identifiers can not be set at the same time")
		}
		return nil
	}
	if !f.Master.Valid() {
		return ledgerError(ErrValidation, "detail filter needs a detail id or exactly one master identifier")
	}
	if f.Status != "" && !f.Status.Valid() {
		return ledgerError(ErrValidation, "unknown detail status "+quote(string(f.Status)))
	}
	if !f.Order.Valid() {
		return ledgerError(ErrValidation, "order must be ASC or DESC")
	}
	return f.Page.validate()
}
