package ledger

import (
	"strconv"
	"strings"
)

type refKind uint8

const (
	refNone refKind = iota
	refByID
	refByUniqueIdentifier
)

// Ref addresses a master either by its ledger id or by the unique identifier
// assigned by the remote side. The zero Ref addresses nothing.
type Ref struct {
	kind refKind
	id   int64
	uid  string
}

// ByID addresses a master by id.
func ByID(id int64) Ref {
	return Ref{kind: refByID, id: id}
}

// ByUniqueIdentifier addresses a master by its unique identifier.
func ByUniqueIdentifier(uid string) Ref {
	return Ref{kind: refByUniqueIdentifier, uid: strings.TrimSpace(uid)}
}

// RefFrom builds a Ref from a pair of optional identifiers, of which exactly
// one must be set.
func RefFrom(id int64, uid string) (Ref, error) {
	uid = strings.TrimSpace(uid)
	switch {
	case id != 0 && uid != "":
		return Ref{}, ledgerError(ErrValidation, "transaction id and unique identifier can not be set at the same time")
	case id != 0:
		ref := ByID(id)
		if !ref.Valid() {
			return Ref{}, ledgerError(ErrValidation, "transaction id must be positive")
		}
		return ref, nil
	case uid != "":
		return ByUniqueIdentifier(uid), nil
	default:
		return Ref{}, ledgerError(ErrValidation, "transaction id and unique identifier can not both be empty")
	}
}

// ID returns the id when r addresses by id.
func (r Ref) ID() (int64, bool) {
	return r.id, r.kind == refByID
}

// UniqueIdentifier returns the key when r addresses by unique identifier.
func (r Ref) UniqueIdentifier() (string, bool) {
	return r.uid, r.kind == refByUniqueIdentifier
}

// IsZero reports whether r addresses nothing.
func (r Ref) IsZero() bool {
	return r.kind == refNone
}

// Valid reports whether r addresses exactly one master.
func (r Ref) Valid() bool {
	switch r.kind {
	case refByID:
		return r.id > 0
	case refByUniqueIdentifier:
		return r.uid != ""
	}
	return false
}

// Matches reports whether m is the master r addresses.
func (r Ref) Matches(m *Master) bool {
	if m == nil {
		return false
	}
	switch r.kind {
	case refByID:
		return m.ID == r.id
	case refByUniqueIdentifier:
		return m.UniqueIdentifier != "" && m.UniqueIdentifier == r.uid
	}
	return false
}

// MatchesDetail reports whether d belongs to the master r addresses.
func (r Ref) MatchesDetail(d *Detail) bool {
	switch r.kind {
	case refByID:
		return d.MasterID == r.id
	case refByUniqueIdentifier:
		return d.MasterUniqueIdentifier != "" && d.MasterUniqueIdentifier == r.uid
	}
	return false
}

func (r Ref) String() string {
	switch r.kind {
	case refByID:
		return "id=" + strconv.FormatInt(r.id, 10)
	case refByUniqueIdentifier:
		return "uid=" + r.uid
	}
	return "none"
}
