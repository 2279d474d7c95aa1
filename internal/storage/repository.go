package storage

import (
	"context"
	"time"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// DAGConfigRepository defines the interface for DAG definition persistence
type DAGConfigRepository interface {
	Create(ctx context.Context, def *models.DAGDefinition) error
	Get(ctx context.Context, dagID string) (*models.DAGDefinition, error)
	List(ctx context.Context) ([]*models.DAGDefinition, error)
	ListBySchedule(ctx context.Context, schedule string) ([]*models.DAGDefinition, error)
	Update(ctx context.Context, dagID string, def *models.DAGDefinition) error
	Delete(ctx context.Context, dagID string) error
}

// SyncConfigRepository defines the interface for sync task config persistence
type SyncConfigRepository interface {
	Create(ctx context.Context, cfg *models.SyncTaskConfig) error
	Get(ctx context.Context, taskID string) (*models.SyncTaskConfig, error)
	List(ctx context.Context) ([]*models.SyncTaskConfig, error)
	ListEnabled(ctx context.Context) ([]*models.SyncTaskConfig, error)
	Update(ctx context.Context, taskID string, cfg *models.SyncTaskConfig) error
	Delete(ctx context.Context, taskID string) error
}

// RunLogRepository persists the append-only DAG run and task audit logs
type RunLogRepository interface {
	AppendRun(ctx context.Context, run *models.DAGRun) error
	AppendTask(ctx context.Context, runID string, node *models.TaskNode) error
	GetRun(ctx context.Context, runID string) (*models.RunRecord, error)
	ListRuns(ctx context.Context, filters RunFilters) ([]*models.RunRecord, error)
	ListBackfillRuns(ctx context.Context, backfillID string) ([]*models.RunRecord, error)
}

// RunFilters defines filters for listing DAG runs
type RunFilters struct {
	DAGID   string
	RunType models.RunType
	Limit   int
}

// WatermarkRepository tracks sync progress per task
type WatermarkRepository interface {
	GetLastDate(ctx context.Context, source, taskID string) (string, *time.Time, error)
	Advance(ctx context.Context, source, taskID, date string) error
	AppendHistory(ctx context.Context, entry *SyncLogHistoryModel) error
	History(ctx context.Context, source, taskID string, limit int) ([]SyncLogHistoryModel, error)
}

// FactorRepository persists factor bookkeeping and values
type FactorRepository interface {
	GetMetadata(ctx context.Context, factorID string) (*FactorMetadataModel, error)
	ListMetadata(ctx context.Context) ([]FactorMetadataModel, error)
	SaveMetadata(ctx context.Context, meta *FactorMetadataModel) error
	AppendRun(ctx context.Context, run *FactorTaskRunModel) error
	ListRuns(ctx context.Context, factorID string, limit int) ([]*models.FactorRun, error)
	UpsertValues(ctx context.Context, values []FactorValueModel) (int64, error)
	LoadValues(ctx context.Context, factorID, start, end string) ([]FactorValueModel, error)
}
