package models

import "time"

// DAGDefinition is a pipeline definition: an ordered set of tasks and their dependencies
type DAGDefinition struct {
	DAGID       string     `json:"dag_id" yaml:"dag_id"`
	Description string     `json:"description" yaml:"description"`
	Schedule    string     `json:"schedule" yaml:"schedule"` // Advisory tag or cron expression
	Tasks       []TaskSpec `json:"tasks" yaml:"tasks"`
}

// TaskSpec declares a single task within a DAG
type TaskSpec struct {
	TaskID    string   `json:"task_id" yaml:"task_id"`
	TaskType  TaskType `json:"task_type" yaml:"task_type"`
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// TaskType selects which executor runs a task
type TaskType string

const (
	TaskTypeSync       TaskType = "sync"
	TaskTypeProduction TaskType = "production"
)

// Valid reports whether the task type is one the DAG executor can dispatch
func (t TaskType) Valid() bool {
	return t == TaskTypeSync || t == TaskTypeProduction
}

// State represents the execution state of a DAG run or a task node
type State string

const (
	StatePending State = "pending"
	StateWaiting State = "waiting"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFailed  State = "failed"
	StateSkipped State = "skipped"
)

// IsTerminal returns true if the state is a terminal state (no further transitions)
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed || s == StateSkipped
}

// RunType distinguishes a regular run from one issued by a backfill
type RunType string

const (
	RunTypeToday    RunType = "today"
	RunTypeBackfill RunType = "backfill"
)

// TriggerType records what started a DAG run
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerSchedule TriggerType = "schedule"
	TriggerBackfill TriggerType = "backfill"
	TriggerAPI      TriggerType = "api"
)

// DAGRun is a single execution attempt of a DAG for one target date
type DAGRun struct {
	RunID       string               `json:"run_id"`
	DAGID       string               `json:"dag_id"`
	Description string               `json:"description"`
	TargetDate  string               `json:"target_date,omitempty"`
	Status      State                `json:"status"`
	TriggerType TriggerType          `json:"trigger_type"`
	RunType     RunType              `json:"run_type"`
	BackfillID  string               `json:"backfill_id,omitempty"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
	Tasks       map[string]*TaskNode `json:"tasks"`
	TaskOrder   []string             `json:"-"` // Declaration order of Tasks
}

// TaskNode is the runtime state of one task inside a DAG run
type TaskNode struct {
	TaskID       string     `json:"task_id"`
	TaskType     TaskType   `json:"task_type"`
	DependsOn    []string   `json:"depends_on"`
	Status       State      `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	RowsAffected int64      `json:"rows_affected"`
}

// Counts tallies task nodes by state
func (r *DAGRun) Counts() map[State]int {
	counts := make(map[State]int)
	for _, node := range r.Tasks {
		counts[node.Status]++
	}
	return counts
}

// TaskRunRecord is a persisted task row as returned by the query surface
type TaskRunRecord struct {
	TaskID       string     `json:"task_id"`
	TaskType     TaskType   `json:"task_type"`
	Status       State      `json:"status"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	RowsAffected int64      `json:"rows_affected"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// RunRecord is a persisted DAG run row with its latest task states
type RunRecord struct {
	RunID       string          `json:"run_id"`
	DAGID       string          `json:"dag_id"`
	Status      State           `json:"status"`
	TargetDate  string          `json:"target_date,omitempty"`
	TriggerType TriggerType     `json:"trigger_type"`
	RunType     RunType         `json:"run_type"`
	BackfillID  string          `json:"backfill_id,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	Tasks       []TaskRunRecord `json:"tasks"`
}

// BackfillSummary aggregates every DAG run issued by one backfill request
type BackfillSummary struct {
	BackfillID  string       `json:"backfill_id"`
	DAGID       string       `json:"dag_id"`
	TotalDays   int          `json:"total_days"`
	SuccessDays int          `json:"success_days"`
	FailedDays  int          `json:"failed_days"`
	DateRange   [2]string    `json:"date_range"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	FinishedAt  *time.Time   `json:"finished_at,omitempty"`
	Runs        []*RunRecord `json:"runs"`
}
