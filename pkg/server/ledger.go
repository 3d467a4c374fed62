package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nimburion/batchsync/pkg/ledger"
)

const maxPageLimit = 500

var errInvalidQuery = errors.New("invalid query")

// LedgerReader is the read side of the ledger used by the dashboard routes.
type LedgerReader interface {
	Masters(ctx context.Context, contractID string, t ledger.Type, page *ledger.Page) ([]ledger.Master, error)
	LatestMaster(ctx context.Context, contractID string, t ledger.Type) (*ledger.Master, error)
	MasterCount(ctx context.Context, contractID string, t ledger.Type) (int64, error)
	Details(ctx context.Context, contractID string, masterID int64, page *ledger.Page) ([]ledger.Detail, error)
	DetailCount(ctx context.Context, contractID string, masterID int64) (int64, error)
}

type masterView struct {
	ID               int64     `json:"id"`
	UniqueIdentifier string    `json:"unique_identifier,omitempty"`
	ContractID       string    `json:"contract_id"`
	StartTime        time.Time `json:"start_time"`
	Type             string    `json:"type"`
	Status           string    `json:"status"`
	Note             string    `json:"note,omitempty"`
	TotalCount       int       `json:"total_count"`
	SuccessCount     int       `json:"success_count"`
	FailedCount      int       `json:"failed_count"`
}

type detailView struct {
	ID                     int64     `json:"id"`
	MasterID               int64     `json:"master_id"`
	MasterUniqueIdentifier string    `json:"master_unique_identifier,omitempty"`
	Status                 string    `json:"status"`
	Time                   time.Time `json:"time"`
	ProductID              string    `json:"product_id,omitempty"`
	GTIN                   string    `json:"gtin,omitempty"`
	ProductName            string    `json:"product_name,omitempty"`
	ReferencePrice         *float64  `json:"reference_price,omitempty"`
	MinPrice               *float64  `json:"min_price,omitempty"`
	MaxPrice               *float64  `json:"max_price,omitempty"`
	Note                   string    `json:"note,omitempty"`
	UpdatedInShop          *bool     `json:"updated_in_shop,omitempty"`
}

type countView struct {
	Count int64 `json:"count"`
}

func newMasterView(m ledger.Master) masterView {
	return masterView{
		ID:               m.ID,
		UniqueIdentifier: m.UniqueIdentifier,
		ContractID:       m.ContractID,
		StartTime:        m.StartTime,
		Type:             string(m.Type),
		Status:           string(m.Status),
		Note:             m.Note,
		TotalCount:       m.TotalCount,
		SuccessCount:     m.SuccessCount,
		FailedCount:      m.FailedCount,
	}
}

func newDetailView(d ledger.Detail) detailView {
	return detailView{
		ID:                     d.ID,
		MasterID:               d.MasterID,
		MasterUniqueIdentifier: d.MasterUniqueIdentifier,
		Status:                 string(d.Status),
		Time:                   d.Time,
		ProductID:              d.ProductID,
		GTIN:                   d.GTIN,
		ProductName:            d.ProductName,
		ReferencePrice:         d.ReferencePrice,
		MinPrice:               d.MinPrice,
		MaxPrice:               d.MaxPrice,
		Note:                   d.Note,
		UpdatedInShop:          d.UpdatedInShop,
	}
}

type ledgerHandlers struct {
	ledger LedgerReader
}

func registerLedgerRoutes(group *gin.RouterGroup, h *ledgerHandlers) {
	group.GET("/transactions", h.listMasters)
	group.GET("/transactions/latest", h.latestMaster)
	group.GET("/transactions/count", h.countMasters)
	group.GET("/transactions/:id/details", h.listDetails)
	group.GET("/transactions/:id/details/count", h.countDetails)
}

func (h *ledgerHandlers) listMasters(c *gin.Context) {
	t, err := ledger.ParseType(c.Query("type"))
	if err != nil {
		writeError(c, err)
		return
	}
	page, err := pageFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	masters, err := h.ledger.Masters(c.Request.Context(), c.Param("contract"), t, page)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]masterView, 0, len(masters))
	for _, m := range masters {
		views = append(views, newMasterView(m))
	}
	c.JSON(http.StatusOK, views)
}

func (h *ledgerHandlers) latestMaster(c *gin.Context) {
	t, err := ledger.ParseType(c.Query("type"))
	if err != nil {
		writeError(c, err)
		return
	}
	master, err := h.ledger.LatestMaster(c.Request.Context(), c.Param("contract"), t)
	if err != nil {
		writeError(c, err)
		return
	}
	if master == nil {
		writeError(c, fmt.Errorf("%w: no %s transaction yet", ledger.ErrNotFound, t))
		return
	}
	c.JSON(http.StatusOK, newMasterView(*master))
}

func (h *ledgerHandlers) countMasters(c *gin.Context) {
	t, err := ledger.ParseType(c.Query("type"))
	if err != nil {
		writeError(c, err)
		return
	}
	count, err := h.ledger.MasterCount(c.Request.Context(), c.Param("contract"), t)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, countView{Count: count})
}

func (h *ledgerHandlers) listDetails(c *gin.Context) {
	masterID, err := masterIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	page, err := pageFromQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	details, err := h.ledger.Details(c.Request.Context(), c.Param("contract"), masterID, page)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]detailView, 0, len(details))
	for _, d := range details {
		views = append(views, newDetailView(d))
	}
	c.JSON(http.StatusOK, views)
}

func (h *ledgerHandlers) countDetails(c *gin.Context) {
	masterID, err := masterIDParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	count, err := h.ledger.DetailCount(c.Request.Context(), c.Param("contract"), masterID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, countView{Count: count})
}

func masterIDParam(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: transaction id must be a positive integer", errInvalidQuery)
	}
	return id, nil
}

// pageFromQuery reads limit and offset. Listings are capped at maxPageLimit
// rows, also when no limit is given.
func pageFromQuery(c *gin.Context) (*ledger.Page, error) {
	page := &ledger.Page{Limit: maxPageLimit}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxPageLimit {
			return nil, fmt.Errorf("%w: limit must be between 1 and %d", errInvalidQuery, maxPageLimit)
		}
		page.Limit = limit
	}
	if raw := c.Query("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return nil, fmt.Errorf("%w: offset must not be negative", errInvalidQuery)
		}
		page.Offset = offset
	}
	return page, nil
}
