package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDAG is matched by every error that rejects a DAG definition
var ErrInvalidDAG = errors.New("invalid DAG")

// ConfigError reports a missing or malformed DAG or task definition
type ConfigError struct {
	DAGID  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.DAGID == "" {
		return fmt.Sprintf("invalid DAG config: %s", e.Reason)
	}
	return fmt.Sprintf("invalid DAG config %s: %s", e.DAGID, e.Reason)
}

func (e *ConfigError) Is(target error) bool { return target == ErrInvalidDAG }

// CycleError reports that the dependency graph of a DAG is not acyclic.
// Tasks holds the task IDs that could not be ordered.
type CycleError struct {
	DAGID string
	Tasks []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected in DAG %s involving tasks: %s", e.DAGID, strings.Join(e.Tasks, ", "))
}

func (e *CycleError) Is(target error) bool { return target == ErrInvalidDAG }

// UnknownDependencyError reports a depends_on entry with no matching task
type UnknownDependencyError struct {
	DAGID      string
	TaskID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %s in DAG %s depends on non-existent task: %s", e.TaskID, e.DAGID, e.Dependency)
}

func (e *UnknownDependencyError) Is(target error) bool { return target == ErrInvalidDAG }
