// Package statuscheck follows remote export tasks until they finish and
// records their outcome in the transaction ledger.
//
// A check reads the task status, records per-item failures on the EXPORT
// transaction whose unique identifier is the task id, and then either
// schedules the next check through a DelayedJob or finishes the transaction.
package statuscheck

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/observability/logger"
	"github.com/nimburion/batchsync/pkg/queue"
)

const (
	// DefaultQueue is the lane status checks run on.
	DefaultQueue = "StatusChecking"
	// DefaultRecheckDelay separates two checks of a running task.
	DefaultRecheckDelay = 120 * time.Second
)

// Ledger is the part of the transaction ledger a check writes to.
type Ledger interface {
	UpdateTransaction(ctx context.Context, req ledger.UpdateRequest) ([]ledger.Detail, error)
	FinishTransaction(ctx context.Context, req ledger.FinishRequest) error
}

// Config tunes the checker.
type Config struct {
	Queue        string
	RecheckDelay time.Duration
}

func (c *Config) normalize() {
	c.Queue = strings.TrimSpace(c.Queue)
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.RecheckDelay <= 0 {
		c.RecheckDelay = DefaultRecheckDelay
	}
}

// Checker runs status checks and builds the jobs that carry them.
type Checker struct {
	ledger Ledger
	queues *queue.Set
	client StatusClient
	log    logger.Logger
	config Config
}

// New creates a checker.
func New(l Ledger, queues *queue.Set, client StatusClient, log logger.Logger, cfg Config) (*Checker, error) {
	if l == nil {
		return nil, statusError(ErrInvalidArgument, "ledger is required")
	}
	if queues == nil {
		return nil, statusError(ErrInvalidArgument, "queue set is required")
	}
	if client == nil {
		return nil, statusError(ErrInvalidArgument, "status client is required")
	}
	if log == nil {
		return nil, statusError(ErrInvalidArgument, "logger is required")
	}
	cfg.normalize()
	return &Checker{ledger: l, queues: queues, client: client, log: log, config: cfg}, nil
}

// Register makes status-check payloads decodable by registry.
func (c *Checker) Register(registry *queue.Registry) error {
	if registry == nil {
		return statusError(ErrInvalidArgument, "registry is required")
	}
	return registry.Register(JobName, func() queue.Job { return &Job{checker: c} })
}

// QueueName is the lane the checker schedules on.
func (c *Checker) QueueName() string {
	return c.config.Queue
}

// NewJob builds the check of taskID for contractID.
func (c *Checker) NewJob(contractID, taskID string) (*Job, error) {
	contractID = strings.TrimSpace(contractID)
	taskID = strings.TrimSpace(taskID)
	if contractID == "" {
		return nil, statusError(ErrInvalidArgument, "contract id is required")
	}
	if taskID == "" {
		return nil, statusError(ErrInvalidArgument, "task id is required")
	}
	return &Job{ContractID: contractID, TaskID: taskID, checker: c}, nil
}

// Enqueue puts an immediate check of taskID on the status-check lane.
func (c *Checker) Enqueue(ctx context.Context, contractID, taskID string) error {
	job, err := c.NewJob(contractID, taskID)
	if err != nil {
		return err
	}
	if !c.queues.Queue(c.config.Queue).Enqueue(ctx, job) {
		return fmt.Errorf("enqueue status check of task %s failed", taskID)
	}
	return nil
}

// Check reads the remote status once and records it.
func (c *Checker) Check(ctx context.Context, contractID, taskID string) error {
	log := c.log.WithContext(ctx).With("task_id", taskID)

	status, err := c.client.ExportStatus(ctx, contractID, taskID)
	if err != nil {
		return fmt.Errorf("get export status of task %s: %w", taskID, err)
	}
	failed, messages, err := failedItems(status.Failures)
	if err != nil {
		return err
	}
	for _, message := range messages {
		log.Error(message)
	}

	if _, err := c.ledger.UpdateTransaction(ctx, ledger.UpdateRequest{
		ContractID:  contractID,
		Type:        ledger.TypeExport,
		Ref:         ledger.ByUniqueIdentifier(taskID),
		FailedItems: failed,
	}); err != nil {
		return err
	}

	if status.Running() {
		if err := c.reschedule(ctx, contractID, taskID); err != nil {
			return err
		}
		recordCheck(outcomeRescheduled)
		log.Debug("export task still running", "state", status.State, "recheck_in", c.config.RecheckDelay.String())
		return nil
	}

	final := ledger.StatusFailed
	if status.State == StateSucceeded {
		final = ledger.StatusFinished
	}
	if err := c.finish(ctx, contractID, taskID, final, ""); err != nil {
		return err
	}
	recordCheck(string(final))
	log.Info("export task completed", "state", status.State, "failures", len(failed))
	return nil
}

func (c *Checker) reschedule(ctx context.Context, contractID, taskID string) error {
	next, err := c.NewJob(contractID, taskID)
	if err != nil {
		return err
	}
	delayed, err := c.queues.Delay(next, c.config.Queue, c.config.RecheckDelay)
	if err != nil {
		return err
	}
	if !c.queues.Queue(c.config.Queue).Enqueue(ctx, delayed) {
		return fmt.Errorf("reschedule status check of task %s failed", taskID)
	}
	return nil
}

func (c *Checker) finish(ctx context.Context, contractID, taskID string, status ledger.Status, note string) error {
	return c.ledger.FinishTransaction(ctx, ledger.FinishRequest{
		ContractID: contractID,
		Type:       ledger.TypeExport,
		Ref:        ledger.ByUniqueIdentifier(taskID),
		Status:     status,
		Note:       note,
	})
}

// failedItems groups failures by gtin. Every distinct message id of a gtin
// becomes one line; a gtin with several lines gets them starred.
func failedItems(failures []Failure) ([]ledger.FailedItem, []string, error) {
	var (
		order    []string
		first    = map[string]Failure{}
		seen     = map[string]map[string]bool{}
		lines    = map[string][]string{}
		messages []string
	)
	for i, f := range failures {
		gtin := strings.TrimSpace(f.GTIN)
		if gtin == "" {
			return nil, nil, statusError(ErrResponse, fmt.Sprintf("failure %d has no gtin", i))
		}
		if _, ok := lines[gtin]; ok {
			if f.MessageID == "" || seen[gtin][f.MessageID] {
				continue
			}
		} else {
			order = append(order, gtin)
			first[gtin] = f
			seen[gtin] = map[string]bool{}
		}
		seen[gtin][f.MessageID] = true
		line := fmt.Sprintf("Export failed for product with GTIN: %s. Failure message: %s", gtin, f.MessageID)
		lines[gtin] = append(lines[gtin], line)
		messages = append(messages, line)
	}

	items := make([]ledger.FailedItem, 0, len(order))
	for _, gtin := range order {
		text := lines[gtin]
		message := text[0]
		if len(text) > 1 {
			message = "*" + strings.Join(text, " *")
		}
		f := first[gtin]
		items = append(items, ledger.FailedItem{
			ID:             gtin,
			ErrorMessage:   message,
			Status:         ledger.StatusFailed,
			Name:           f.Name,
			ReferencePrice: f.ReferencePrice,
			MinPrice:       f.MinPrice,
			MaxPrice:       f.MaxPrice,
		})
	}
	return items, messages, nil
}
