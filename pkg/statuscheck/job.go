package statuscheck

import (
	"context"
	"errors"

	"github.com/nimburion/batchsync/pkg/ledger"
	"github.com/nimburion/batchsync/pkg/observability/logger"
)

// JobName is the registry name of Job.
const JobName = "status_check"

// Job checks one remote export task. Its payload is the contract and the
// task id; the checker is bound when the job is built or decoded.
type Job struct {
	ContractID string `json:"contract_id"`
	TaskID     string `json:"task_id"`

	checker *Checker
}

// Name implements queue.Job.
func (j *Job) Name() string {
	return JobName
}

// Execute runs one check. A failed check finishes the transaction as failed
// with the error as note, so only a failing finish is reported back.
func (j *Job) Execute(ctx context.Context) error {
	if j.checker == nil {
		return statusError(ErrInvalidArgument, "status check job is not bound to a checker")
	}
	ctx = logger.ContextWithContractID(ctx, j.ContractID)

	err := j.checker.Check(ctx, j.ContractID, j.TaskID)
	if err == nil {
		return nil
	}
	recordCheck(outcomeError)
	j.checker.log.WithContext(ctx).Warn("status check failed", "task_id", j.TaskID, "error", err)
	if finishErr := j.checker.finish(ctx, j.ContractID, j.TaskID, ledger.StatusFailed, err.Error()); finishErr != nil {
		return errors.Join(err, finishErr)
	}
	return nil
}

// ForceFail finishes the transaction as failed.
func (j *Job) ForceFail(ctx context.Context) error {
	if j.checker == nil {
		return statusError(ErrInvalidArgument, "status check job is not bound to a checker")
	}
	ctx = logger.ContextWithContractID(ctx, j.ContractID)
	return j.checker.finish(ctx, j.ContractID, j.TaskID, ledger.StatusFailed, "")
}
