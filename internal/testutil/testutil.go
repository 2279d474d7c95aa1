package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// CreateDailyDAG creates a two-layer pipeline: two syncs feeding two factors
func CreateDailyDAG(dagID string) *models.DAGDefinition {
	return dag.NewBuilder(dagID).
		Description("Test DAG: "+dagID).
		Schedule("daily").
		Sync("sync_daily").
		Sync("sync_adj_factor").
		Production("factor_ma_20", "sync_daily", "sync_adj_factor").
		Production("factor_momentum_20", "sync_daily").
		MustBuild()
}

// CreateSyncConfig creates an incremental sync config writing to table
func CreateSyncConfig(taskID, table string) *models.SyncTaskConfig {
	return &models.SyncTaskConfig{
		TaskID:      taskID,
		APIName:     "daily",
		Description: "Test sync: " + taskID,
		SyncType:    models.SyncTypeIncremental,
		Params:      map[string]any{"trade_date": "{date}"},
		DateField:   "trade_date",
		PrimaryKeys: []string{"ts_code", "trade_date"},
		TableName:   table,
		Schema: map[string]models.ColumnDef{
			"ts_code":    {Type: "VARCHAR(20)"},
			"trade_date": {Type: "DATE"},
			"close":      {Type: "DOUBLE"},
		},
		Enabled: true,
	}
}

// StubTask is a task executor that succeeds unless its task id is listed in Fail
type StubTask struct {
	TaskType models.TaskType
	Rows     int64
	Fail     map[string]bool

	mu    sync.Mutex
	calls []executor.TaskRequest
}

// NewStubTask creates a stub executor for taskType failing the given ids
func NewStubTask(taskType models.TaskType, fail ...string) *StubTask {
	s := &StubTask{TaskType: taskType, Rows: 10, Fail: make(map[string]bool)}
	for _, id := range fail {
		s.Fail[id] = true
	}
	return s
}

func (s *StubTask) Type() models.TaskType { return s.TaskType }

func (s *StubTask) Execute(_ context.Context, req executor.TaskRequest) (*executor.TaskOutcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()

	if s.Fail[req.TaskID] {
		return nil, fmt.Errorf("stub failure for %s on %s", req.TaskID, req.TargetDate)
	}
	return &executor.TaskOutcome{RowsAffected: s.Rows}, nil
}

// Calls returns a copy of the requests seen so far
func (s *StubTask) Calls() []executor.TaskRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]executor.TaskRequest(nil), s.calls...)
}
