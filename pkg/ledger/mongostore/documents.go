package mongostore

import (
	"time"

	"github.com/nimburion/batchsync/pkg/ledger"
)

type masterDoc struct {
	ID               int64     `bson:"_id"`
	UniqueIdentifier string    `bson:"unique_identifier,omitempty"`
	ContractID       string    `bson:"contract_id"`
	StartTime        time.Time `bson:"start_time"`
	Type             string    `bson:"type"`
	Status           string    `bson:"status"`
	Note             string    `bson:"note"`
	TotalCount       int       `bson:"total_count"`
	SuccessCount     int       `bson:"success_count"`
	FailedCount      int       `bson:"failed_count"`
}

func newMasterDoc(m *ledger.Master) masterDoc {
	return masterDoc{
		ID:               m.ID,
		UniqueIdentifier: m.UniqueIdentifier,
		ContractID:       m.ContractID,
		StartTime:        m.StartTime.UTC(),
		Type:             string(m.Type),
		Status:           string(m.Status),
		Note:             m.Note,
		TotalCount:       m.TotalCount,
		SuccessCount:     m.SuccessCount,
		FailedCount:      m.FailedCount,
	}
}

func (d masterDoc) master() ledger.Master {
	return ledger.Master{
		ID:               d.ID,
		UniqueIdentifier: d.UniqueIdentifier,
		ContractID:       d.ContractID,
		StartTime:        d.StartTime.UTC(),
		Type:             ledger.Type(d.Type),
		Status:           ledger.Status(d.Status),
		Note:             d.Note,
		TotalCount:       d.TotalCount,
		SuccessCount:     d.SuccessCount,
		FailedCount:      d.FailedCount,
	}
}

type detailDoc struct {
	ID                     int64      `bson:"_id"`
	MasterID               int64      `bson:"master_id"`
	MasterUniqueIdentifier string     `bson:"master_unique_identifier,omitempty"`
	Status                 string     `bson:"status"`
	Time                   time.Time  `bson:"time"`
	ProductID              string     `bson:"product_id"`
	GTIN                   string     `bson:"gtin"`
	ProductName            string     `bson:"product_name"`
	ReferencePrice         *float64   `bson:"reference_price,omitempty"`
	MinPrice               *float64   `bson:"min_price,omitempty"`
	MaxPrice               *float64   `bson:"max_price,omitempty"`
	Note                   string     `bson:"note"`
	UpdatedInShop          *bool      `bson:"updated_in_shop,omitempty"`
	CountedAt              *time.Time `bson:"counted_at,omitempty"`
}

func newDetailDoc(d ledger.Detail) detailDoc {
	doc := detailDoc{
		ID:                     d.ID,
		MasterID:               d.MasterID,
		MasterUniqueIdentifier: d.MasterUniqueIdentifier,
		Status:                 string(d.Status),
		Time:                   d.Time.UTC(),
		ProductID:              d.ProductID,
		GTIN:                   d.GTIN,
		ProductName:            d.ProductName,
		ReferencePrice:         d.ReferencePrice,
		MinPrice:               d.MinPrice,
		MaxPrice:               d.MaxPrice,
		Note:                   d.Note,
		UpdatedInShop:          d.UpdatedInShop,
	}
	if d.CountedAt != nil {
		t := d.CountedAt.UTC()
		doc.CountedAt = &t
	}
	return doc
}

func (d detailDoc) detail() ledger.Detail {
	out := ledger.Detail{
		ID:                     d.ID,
		Status:                 ledger.Status(d.Status),
		Time:                   d.Time.UTC(),
		MasterID:               d.MasterID,
		MasterUniqueIdentifier: d.MasterUniqueIdentifier,
		ProductID:              d.ProductID,
		GTIN:                   d.GTIN,
		ProductName:            d.ProductName,
		ReferencePrice:         d.ReferencePrice,
		MinPrice:               d.MinPrice,
		MaxPrice:               d.MaxPrice,
		Note:                   d.Note,
		UpdatedInShop:          d.UpdatedInShop,
	}
	if d.CountedAt != nil {
		t := d.CountedAt.UTC()
		out.CountedAt = &t
	}
	return out.Clone()
}
