package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// ErrUnknownTaskType is returned for a task whose type has no registered executor
var ErrUnknownTaskType = errors.New("no executor registered for task type")

// SkipReason is recorded on tasks skipped because an upstream task did not succeed
const SkipReason = "Dependency failed"

// TaskRequest carries everything a task executor needs to run one task of a DAG run
type TaskRequest struct {
	DAGID      string
	RunID      string
	TaskID     string
	TaskType   models.TaskType
	TargetDate string
	RunType    models.RunType
}

// TaskOutcome is what a successful task reports back
type TaskOutcome struct {
	RowsAffected int64
	Message      string
}

// TaskExecutor executes individual tasks
type TaskExecutor interface {
	// Execute runs a single task; a nil error means the task succeeded
	Execute(ctx context.Context, req TaskRequest) (*TaskOutcome, error)

	// Type returns the task type this executor handles
	Type() models.TaskType
}

// TaskExecutionError wraps the failure of one task
type TaskExecutionError struct {
	TaskID string
	Err    error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// Config holds configuration for the DAG executor
type Config struct {
	// Workers bounds how many tasks of one layer run at the same time
	Workers int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{Workers: 3}
}
