package executor

import (
	"context"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/production"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/syncer"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// SyncRunner is the part of the data-sync executor the DAG executor drives
type SyncRunner interface {
	ExecuteByID(ctx context.Context, taskID, targetDate, endDate string) (*syncer.Result, error)
}

// FactorRunner is the part of the factor-production executor the DAG executor drives
type FactorRunner interface {
	RunTask(ctx context.Context, factorID string, opts production.RunOptions) (*production.RunResult, error)
}

// SyncTaskExecutor dispatches task_type=sync to the data-sync executor
type SyncTaskExecutor struct {
	runner SyncRunner
}

// NewSyncTaskExecutor creates a new sync task executor
func NewSyncTaskExecutor(runner SyncRunner) *SyncTaskExecutor {
	return &SyncTaskExecutor{runner: runner}
}

// Type returns the task type this executor handles
func (e *SyncTaskExecutor) Type() models.TaskType {
	return models.TaskTypeSync
}

// Execute syncs the task's config for the request's target date
func (e *SyncTaskExecutor) Execute(ctx context.Context, req TaskRequest) (*TaskOutcome, error) {
	res, err := e.runner.ExecuteByID(ctx, req.TaskID, req.TargetDate, "")
	if err != nil {
		return nil, err
	}

	outcome := &TaskOutcome{RowsAffected: res.RowsSynced}
	switch {
	case res.Disabled:
		outcome.Message = "disabled"
	case res.UpToDate:
		outcome.Message = "up to date"
	}
	return outcome, nil
}

// ProductionTaskExecutor dispatches task_type=production to the factor-production executor
type ProductionTaskExecutor struct {
	runner FactorRunner
}

// NewProductionTaskExecutor creates a new factor task executor
func NewProductionTaskExecutor(runner FactorRunner) *ProductionTaskExecutor {
	return &ProductionTaskExecutor{runner: runner}
}

// Type returns the task type this executor handles
func (e *ProductionTaskExecutor) Type() models.TaskType {
	return models.TaskTypeProduction
}

// Execute computes the factor named by the task id for the request's target date
func (e *ProductionTaskExecutor) Execute(ctx context.Context, req TaskRequest) (*TaskOutcome, error) {
	res, err := e.runner.RunTask(ctx, req.TaskID, production.RunOptions{TargetDate: req.TargetDate})
	if err != nil {
		return nil, err
	}
	return &TaskOutcome{RowsAffected: res.RowsAffected, Message: res.Message}, nil
}
