package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/observability/tracing"
)

const emptyGTINPrefix = "emptyGtin"

// Config tunes a Ledger.
type Config struct {
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

func (c *Config) normalize() {
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Ledger drives masters through start, update and finish.
//
// Validation errors are returned before storage is touched. Storage errors
// are logged with the contract id and returned wrapped in ErrStorage.
type Ledger struct {
	storage Storage
	log     logger.Logger
	config  Config
}

// New creates a ledger over storage.
func New(storage Storage, log logger.Logger, cfg Config) (*Ledger, error) {
	if storage == nil {
		return nil, ledgerError(ErrValidation, "storage is required")
	}
	if log == nil {
		return nil, ledgerError(ErrValidation, "logger is required")
	}
	cfg.normalize()
	return &Ledger{storage: storage, log: log, config: cfg}, nil
}

// UpdateRequest addresses a master and carries the batch to reconcile.
type UpdateRequest struct {
	ContractID string
	Type       Type
	// Ref selects the master. Addressed by id, Details are reconciled.
	// Addressed by unique identifier, every stored detail of the master is
	// reconciled together with the new ones in Details.
	Ref Ref
	// UniqueIdentifier is adopted by a master addressed by id, and by its
	// details. A master addressed by unique identifier adopts that one.
	UniqueIdentifier string
	Details          []Detail
	FailedItems      []FailedItem
}

func (r UpdateRequest) validate() error {
	if err := validateContract(r.ContractID, r.Type); err != nil {
		return err
	}
	if !r.Ref.Valid() {
		return ledgerError(ErrValidation, "transaction id and unique identifier can not both be empty")
	}
	if uid, ok := r.Ref.UniqueIdentifier(); ok && r.UniqueIdentifier != "" && strings.TrimSpace(r.UniqueIdentifier) != uid {
		return ledgerError(ErrValidation, "transaction addressed by unique identifier can not adopt another one")
	}
	for i := range r.Details {
		d := &r.Details[i]
		if d.MasterID == 0 && d.MasterUniqueIdentifier == "" {
			return ledgerError(ErrValidation, fmt.Sprintf("detail %d has neither a master id nor a master unique identifier", i))
		}
		if !d.Status.Valid() {
			return ledgerError(ErrValidation, fmt.Sprintf("detail %d has unknown status %q", i, d.Status))
		}
	}
	for i := range r.FailedItems {
		if !r.FailedItems[i].Status.Valid() {
			return ledgerError(ErrValidation, fmt.Sprintf("failed item %q has unknown status %q", r.FailedItems[i].ID, r.FailedItems[i].Status))
		}
	}
	return nil
}

func (r UpdateRequest) adoptedIdentifier() string {
	if uid, ok := r.Ref.UniqueIdentifier(); ok {
		return uid
	}
	return strings.TrimSpace(r.UniqueIdentifier)
}

// FinishRequest closes a master.
type FinishRequest struct {
	ContractID string
	Type       Type
	Ref        Ref
	// Status is StatusFinished or StatusFailed.
	Status Status
	// Note is appended to the master and to every swept detail.
	Note string
}

func (r FinishRequest) validate() error {
	if err := validateContract(r.ContractID, r.Type); err != nil {
		return err
	}
	if !r.Ref.Valid() {
		return ledgerError(ErrValidation, "transaction id and unique identifier can not both be empty")
	}
	if !r.Status.Terminal() {
		return ledgerError(ErrValidation, fmt.Sprintf("transaction %s can not be finished with status %q", r.Ref, r.Status))
	}
	return nil
}

// StartTransaction creates an in-progress master and returns its id.
func (l *Ledger) StartTransaction(ctx context.Context, contractID string, t Type) (id int64, err error) {
	started := time.Now()
	defer func() { recordOperation("start", t, started, err) }()
	if err := validateContract(contractID, t); err != nil {
		return 0, err
	}

	ctx = logger.ContextWithContractID(ctx, contractID)
	ctx, span := tracing.StartLedgerSpan(ctx, tracing.SpanOperationLedgerStart, contractID, string(t))
	defer func() { tracing.End(span, err) }()

	master := &Master{
		ContractID: contractID,
		StartTime:  l.config.Now(),
		Type:       t,
		Status:     StatusInProgress,
	}
	saved, err := l.storage.Save(ctx, master, nil)
	if err != nil {
		return 0, l.storageFailure(ctx, "start transaction", err)
	}
	if saved.Master == nil || saved.Master.ID <= 0 {
		return 0, ledgerError(ErrValidation, "storage returned a transaction without id")
	}
	if len(saved.Details) != 0 {
		return 0, ledgerError(ErrValidation, "storage returned details for a new transaction")
	}
	l.log.WithContext(ctx).Debug("Transaction started", "transaction_id", saved.Master.ID, "type", string(t))
	return saved.Master.ID, nil
}

// UpdateTransaction reconciles a batch of details with their master and
// returns the details as saved.
//
// A detail matching a failed item by Key takes the failed item's status and
// message. Any other detail that is already stored is finished. New details
// raise the total count. A detail reaching a counted status raises the
// matching counter once. Details counted by an earlier call still take the
// new status and note, but the master counters and CountedAt stay as they were.
func (l *Ledger) UpdateTransaction(ctx context.Context, req UpdateRequest) (details []Detail, err error) {
	started := time.Now()
	defer func() { recordOperation("update", req.Type, started, err) }()
	if err := req.validate(); err != nil {
		return nil, err
	}

	ctx = logger.ContextWithContractID(ctx, req.ContractID)
	ctx, span := tracing.StartLedgerSpan(ctx, tracing.SpanOperationLedgerUpdate, req.ContractID, string(req.Type))
	defer func() { tracing.End(span, err) }()

	err = l.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		master, err := l.lockMaster(txCtx, req.ContractID, req.Type, req.Ref)
		if err != nil {
			return err
		}
		if master.Status.Terminal() {
			return ledgerError(ErrValidation, fmt.Sprintf("transaction %s is already %s", req.Ref, master.Status))
		}

		stored, err := l.storage.Details(txCtx, DetailFilter{Master: ByID(master.ID)})
		if err != nil {
			return l.storageFailure(txCtx, "load transaction details", err)
		}

		working, err := workingSet(req, master, stored)
		if err != nil {
			return err
		}
		rec := reconciler{
			master: master,
			t:      req.Type,
			uid:    req.adoptedIdentifier(),
			now:    l.config.Now(),
			stored: indexDetails(stored),
			failed: req.FailedItems,
		}
		if err := rec.apply(working); err != nil {
			return err
		}

		details, err = l.save(txCtx, master, working)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.log.WithContext(ctx).Debug("Transaction updated", "transaction", req.Ref.String(), "details", len(details))
	return details, nil
}

// FinishTransaction moves the master to a terminal status and sweeps every
// detail still in progress to the same status.
func (l *Ledger) FinishTransaction(ctx context.Context, req FinishRequest) (err error) {
	started := time.Now()
	defer func() { recordOperation("finish", req.Type, started, err) }()
	if err := req.validate(); err != nil {
		return err
	}

	ctx = logger.ContextWithContractID(ctx, req.ContractID)
	ctx, span := tracing.StartLedgerSpan(ctx, tracing.SpanOperationLedgerFinish, req.ContractID, string(req.Type))
	defer func() { tracing.End(span, err) }()

	return l.storage.WithTransaction(ctx, func(txCtx context.Context) error {
		master, err := l.lockMaster(txCtx, req.ContractID, req.Type, req.Ref)
		if err != nil {
			return err
		}
		if master.Status.Terminal() {
			return ledgerError(ErrValidation, fmt.Sprintf("transaction %s is already %s", req.Ref, master.Status))
		}

		master.Status = req.Status
		if note := strings.TrimSpace(req.Note); note != "" {
			master.Note = master.Note + " " + note + "\n"
		}

		pending, err := l.storage.Details(txCtx, DetailFilter{Master: ByID(master.ID), Status: StatusInProgress})
		if err != nil {
			return l.storageFailure(txCtx, "load transaction details", err)
		}
		now := l.config.Now()
		masterNote := strings.TrimSpace(master.Note)
		for i := range pending {
			d := &pending[i]
			d.Status = req.Status
			d.Note = strings.TrimSpace(d.Note + " " + masterNote)
			d.setUpdatedInShop(req.Status == StatusFinished)
			counted := now
			d.CountedAt = &counted
			recordCounted(req.Type, req.Status)
		}
		if req.Status == StatusFailed {
			master.FailedCount += len(pending)
		} else {
			master.SuccessCount += len(pending)
		}

		if _, err := l.save(txCtx, master, pending); err != nil {
			return err
		}
		l.log.WithContext(txCtx).Info("Transaction finished",
			"transaction_id", master.ID,
			"status", string(req.Status),
			"swept", len(pending),
		)
		return nil
	})
}

// CleanupMaster deletes masters started more than days ago.
func (l *Ledger) CleanupMaster(ctx context.Context, days int) (int64, error) {
	return l.cleanup(ctx, "cleanup_master", days, l.storage.CleanupMasters)
}

// CleanupDetails deletes details created more than days ago.
func (l *Ledger) CleanupDetails(ctx context.Context, days int) (int64, error) {
	return l.cleanup(ctx, "cleanup_details", days, l.storage.CleanupDetails)
}

func (l *Ledger) cleanup(ctx context.Context, operation string, days int, fn func(context.Context, time.Time) (int64, error)) (removed int64, err error) {
	started := time.Now()
	defer func() { recordOperation(operation, "", started, err) }()
	if days < 0 {
		return 0, ledgerError(ErrValidation, "number of days must not be negative")
	}

	ctx, span := tracing.StartLedgerSpan(ctx, tracing.SpanOperationLedgerCleanup, "", "")
	defer func() { tracing.End(span, err) }()

	before := l.config.Now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err = fn(ctx, before)
	if err != nil {
		return 0, l.storageFailure(ctx, operation, err)
	}
	l.log.WithContext(ctx).Info("Transaction history cleaned up", "operation", operation, "days", days, "removed", removed)
	return removed, nil
}

// Masters lists masters newest first. A nil page lists all of them.
func (l *Ledger) Masters(ctx context.Context, contractID string, t Type, page *Page) ([]Master, error) {
	filter := MasterFilter{ContractID: contractID, Type: t, Page: page, Order: OrderDescending}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx = logger.ContextWithContractID(ctx, contractID)
	masters, err := l.storage.Masters(ctx, filter)
	if err != nil {
		return nil, l.storageFailure(ctx, "list transactions", err)
	}
	return masters, nil
}

// LatestMaster returns the newest master, or nil when there is none.
func (l *Ledger) LatestMaster(ctx context.Context, contractID string, t Type) (*Master, error) {
	masters, err := l.Masters(ctx, contractID, t, &Page{Limit: 1})
	if err != nil || len(masters) == 0 {
		return nil, err
	}
	return &masters[0], nil
}

// MasterCount counts the masters of a contract and type.
func (l *Ledger) MasterCount(ctx context.Context, contractID string, t Type) (int64, error) {
	if err := validateContract(contractID, t); err != nil {
		return 0, err
	}
	ctx = logger.ContextWithContractID(ctx, contractID)
	count, err := l.storage.MasterCount(ctx, contractID, t)
	if err != nil {
		return 0, l.storageFailure(ctx, "count transactions", err)
	}
	if count < 0 {
		return 0, ledgerError(ErrValidation, "storage returned a negative transaction count")
	}
	return count, nil
}

// Details lists the details of a master newest first. Placeholder gtins of
// items exported without one are reported as "0".
func (l *Ledger) Details(ctx context.Context, contractID string, masterID int64, page *Page) ([]Detail, error) {
	if strings.TrimSpace(contractID) == "" {
		return nil, ledgerError(ErrValidation, "contract id is required")
	}
	filter := DetailFilter{Master: ByID(masterID), Page: page, Order: OrderDescending}
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	ctx = logger.ContextWithContractID(ctx, contractID)
	details, err := l.storage.Details(ctx, filter)
	if err != nil {
		return nil, l.storageFailure(ctx, "list transaction details", err)
	}
	for i := range details {
		if strings.HasPrefix(details[i].GTIN, emptyGTINPrefix) {
			details[i].GTIN = "0"
		}
	}
	return details, nil
}

// DetailCount counts the details of a master.
func (l *Ledger) DetailCount(ctx context.Context, contractID string, masterID int64) (int64, error) {
	if strings.TrimSpace(contractID) == "" {
		return 0, ledgerError(ErrValidation, "contract id is required")
	}
	if masterID <= 0 {
		return 0, ledgerError(ErrValidation, "transaction id must be positive")
	}
	ctx = logger.ContextWithContractID(ctx, contractID)
	count, err := l.storage.DetailCount(ctx, masterID)
	if err != nil {
		return 0, l.storageFailure(ctx, "count transaction details", err)
	}
	if count < 0 {
		return 0, ledgerError(ErrValidation, "storage returned a negative detail count")
	}
	return count, nil
}

func (l *Ledger) lockMaster(ctx context.Context, contractID string, t Type, ref Ref) (*Master, error) {
	masters, err := l.storage.Masters(ctx, MasterFilter{ContractID: contractID, Type: t, Ref: ref, ForUpdate: true})
	if err != nil {
		return nil, l.storageFailure(ctx, "load transaction", err)
	}
	if len(masters) == 0 {
		err := notFoundError(ref)
		l.log.WithContext(ctx).Error("Transaction can not be found", "transaction", ref.String(), "error", err)
		return nil, err
	}
	return masters[0].Clone(), nil
}

func (l *Ledger) save(ctx context.Context, master *Master, details []Detail) ([]Detail, error) {
	if err := master.validate(); err != nil {
		return nil, err
	}
	saved, err := l.storage.Save(ctx, master, details)
	if err != nil {
		return nil, l.storageFailure(ctx, "save transaction", err)
	}
	if saved.Master == nil || saved.Master.ID <= 0 {
		return nil, ledgerError(ErrValidation, "storage returned a transaction without id")
	}
	if len(saved.Details) != len(details) {
		return nil, ledgerError(ErrValidation, fmt.Sprintf("storage saved %d of %d transaction details", len(saved.Details), len(details)))
	}
	for i := range saved.Details {
		if saved.Details[i].ID <= 0 {
			return nil, ledgerError(ErrValidation, fmt.Sprintf("storage returned detail %d of transaction %d without id", i, saved.Master.ID))
		}
	}
	return saved.Details, nil
}

func (l *Ledger) storageFailure(ctx context.Context, operation string, err error) error {
	wrapped := storageError(operation, err)
	if wrapped == err {
		return err
	}
	l.log.WithContext(ctx).Error("Transaction history storage failed", "operation", operation, "error", err)
	return wrapped
}

func validateContract(contractID string, t Type) error {
	if strings.TrimSpace(contractID) == "" {
		return ledgerError(ErrValidation, "contract id is required")
	}
	if !t.Valid() {
		return ledgerError(ErrValidation, "unknown transaction type "+quote(string(t)))
	}
	return nil
}
