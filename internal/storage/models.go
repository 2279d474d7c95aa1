package storage

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// JSONB is a custom type for JSON object columns
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	return jsonValue(j, j == nil)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	return scanJSON(value, j)
}

// StringArray is a custom type for string array columns
type StringArray []string

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	return jsonValue(s, s == nil)
}

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	return scanJSON(value, s)
}

// TaskSpecs stores the task list of a DAG definition
type TaskSpecs []models.TaskSpec

// Value implements the driver.Valuer interface
func (t TaskSpecs) Value() (driver.Value, error) {
	return jsonValue(t, t == nil)
}

// Scan implements the sql.Scanner interface
func (t *TaskSpecs) Scan(value interface{}) error {
	return scanJSON(value, t)
}

// ColumnSchema stores a column-name to definition map
type ColumnSchema map[string]models.ColumnDef

// Value implements the driver.Valuer interface
func (c ColumnSchema) Value() (driver.Value, error) {
	return jsonValue(c, c == nil)
}

// Scan implements the sql.Scanner interface
func (c *ColumnSchema) Scan(value interface{}) error {
	return scanJSON(value, c)
}

// jsonValue renders as text so the same column works for jsonb and SQLite TEXT
func jsonValue(v any, isNil bool) (driver.Value, error) {
	if isNil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(value interface{}, dest any) error {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// DAGConfigModel is one stored DAG definition
type DAGConfigModel struct {
	DAGID       string    `gorm:"column:dag_id;type:varchar(255);primaryKey"`
	Description string    `gorm:"type:text"`
	Schedule    string    `gorm:"type:varchar(100);index:idx_dag_config_schedule"`
	Tasks       TaskSpecs `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

// TableName specifies the table name for DAGConfigModel
func (DAGConfigModel) TableName() string {
	return "dag_config"
}

// SyncTaskConfigModel is one stored sync task configuration
type SyncTaskConfigModel struct {
	TaskID      string       `gorm:"column:task_id;type:varchar(255);primaryKey"`
	APIName     string       `gorm:"column:api_name;type:varchar(255);not null"`
	Description string       `gorm:"type:text"`
	SyncType    string       `gorm:"type:varchar(20);not null"`
	Params      JSONB        `gorm:"type:jsonb"`
	DateField   string       `gorm:"type:varchar(100)"`
	PrimaryKeys StringArray  `gorm:"type:jsonb;not null"`
	Target      string       `gorm:"column:table_name;type:varchar(255);not null"`
	Schema      ColumnSchema `gorm:"column:schema_def;type:jsonb"`
	Enabled     bool         `gorm:"not null;index:idx_sync_task_config_enabled"`
	Schedule    string       `gorm:"type:varchar(100)"`
	CreatedAt   time.Time    `gorm:"not null"`
	UpdatedAt   time.Time    `gorm:"not null"`
}

// TableName specifies the table name for SyncTaskConfigModel
func (SyncTaskConfigModel) TableName() string {
	return "sync_task_config"
}

// DAGRunLogModel is an append-only audit row of a DAG run state
type DAGRunLogModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	DAGID       string `gorm:"column:dag_id;type:varchar(255);not null;index:idx_dag_run_log_dag_id"`
	RunID       string `gorm:"column:run_id;type:varchar(255);not null;index:idx_dag_run_log_run_id"`
	Status      string `gorm:"type:varchar(20);not null"`
	TargetDate  string `gorm:"type:varchar(8)"`
	StartedAt   *time.Time
	FinishedAt  *time.Time
	TriggerType string    `gorm:"type:varchar(20)"`
	RunType     string    `gorm:"type:varchar(20);index:idx_dag_run_log_run_type"`
	BackfillID  string    `gorm:"column:backfill_id;type:varchar(255);index:idx_dag_run_log_backfill_id"`
	CreatedAt   time.Time `gorm:"not null"`
}

// TableName specifies the table name for DAGRunLogModel
func (DAGRunLogModel) TableName() string {
	return "dag_run_log"
}

// DAGTaskLogModel is an append-only audit row of a task node state
type DAGTaskLogModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	RunID        string `gorm:"column:run_id;type:varchar(255);not null;index:idx_dag_task_log_run_id"`
	TaskID       string `gorm:"column:task_id;type:varchar(255);not null"`
	TaskType     string `gorm:"type:varchar(20)"`
	Status       string `gorm:"type:varchar(20);not null"`
	StartedAt    *time.Time
	FinishedAt   *time.Time
	RowsAffected int64     `gorm:"not null;default:0"`
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for DAGTaskLogModel
func (DAGTaskLogModel) TableName() string {
	return "dag_task_log"
}

// SyncLogModel holds the watermark of one sync task
type SyncLogModel struct {
	Source    string    `gorm:"type:varchar(100);primaryKey"`
	TaskID    string    `gorm:"column:task_id;type:varchar(255);primaryKey"`
	LastDate  string    `gorm:"type:varchar(8);not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name for SyncLogModel
func (SyncLogModel) TableName() string {
	return "sync_log"
}

// SyncLogHistoryModel is one executed unit of sync work
type SyncLogHistoryModel struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Source     string    `gorm:"type:varchar(100);not null"`
	TaskID     string    `gorm:"column:task_id;type:varchar(255);not null;index:idx_sync_log_history_task_id"`
	SyncDate   string    `gorm:"type:varchar(8);not null"`
	RowsSynced int64     `gorm:"not null;default:0"`
	Status     string    `gorm:"type:varchar(20);not null"`
	CreatedAt  time.Time `gorm:"not null"`
}

// TableName specifies the table name for SyncLogHistoryModel
func (SyncLogHistoryModel) TableName() string {
	return "sync_log_history"
}

// FactorMetadataModel is the bookkeeping row of one factor
type FactorMetadataModel struct {
	FactorID         string `gorm:"column:factor_id;type:varchar(255);primaryKey"`
	Description      string `gorm:"type:text"`
	Category         string `gorm:"type:varchar(100)"`
	ComputeMode      string `gorm:"type:varchar(20)"`
	StorageTarget    string `gorm:"type:varchar(255)"`
	Params           JSONB  `gorm:"type:jsonb"`
	Preprocess       JSONB  `gorm:"type:jsonb"`
	LastComputedDate string `gorm:"type:varchar(8)"`
	LastComputedAt   *time.Time
	UpdatedAt        time.Time `gorm:"not null"`
}

// TableName specifies the table name for FactorMetadataModel
func (FactorMetadataModel) TableName() string {
	return "factor_metadata"
}

// FactorTaskRunModel is one factor run-audit record
type FactorTaskRunModel struct {
	ID              uint    `gorm:"primaryKey;autoIncrement"`
	FactorID        string  `gorm:"column:factor_id;type:varchar(255);not null;index:idx_factor_task_run_factor_id"`
	Mode            string  `gorm:"type:varchar(20)"`
	Status          string  `gorm:"type:varchar(20);not null"`
	StartDate       string  `gorm:"type:varchar(8)"`
	EndDate         string  `gorm:"type:varchar(8)"`
	RowsAffected    int64   `gorm:"not null;default:0"`
	DurationSeconds float64 `gorm:"not null;default:0"`
	ErrorMessage    string  `gorm:"type:text"`
	StartedAt       time.Time
	FinishedAt      *time.Time
	CreatedAt       time.Time `gorm:"not null"`
}

// TableName specifies the table name for FactorTaskRunModel
func (FactorTaskRunModel) TableName() string {
	return "factor_task_run"
}

// FactorValueModel is one computed factor value
type FactorValueModel struct {
	TsCode      string   `gorm:"column:ts_code;type:varchar(20);primaryKey"`
	TradeDate   string   `gorm:"column:trade_date;type:varchar(8);primaryKey;index:idx_factor_values_trade_date"`
	FactorID    string   `gorm:"column:factor_id;type:varchar(255);primaryKey"`
	FactorValue *float64 `gorm:"column:factor_value"`
	QualityFlag int32    `gorm:"column:quality_flag;not null"`
}

// TableName specifies the table name for FactorValueModel
func (FactorValueModel) TableName() string {
	return FactorValuesTable
}

// FactorValuesTable is the shared factor value store
const FactorValuesTable = "factor_values"

// AllModels lists every fixed-schema model for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&DAGConfigModel{},
		&SyncTaskConfigModel{},
		&DAGRunLogModel{},
		&DAGTaskLogModel{},
		&SyncLogModel{},
		&SyncLogHistoryModel{},
		&FactorMetadataModel{},
		&FactorTaskRunModel{},
		&FactorValueModel{},
	}
}

// ToDefinition converts a DAGConfigModel to a models.DAGDefinition
func (m *DAGConfigModel) ToDefinition() *models.DAGDefinition {
	return &models.DAGDefinition{
		DAGID:       m.DAGID,
		Description: m.Description,
		Schedule:    m.Schedule,
		Tasks:       []models.TaskSpec(m.Tasks),
	}
}

// FromDefinition converts a models.DAGDefinition to a DAGConfigModel
func FromDefinition(def *models.DAGDefinition) *DAGConfigModel {
	return &DAGConfigModel{
		DAGID:       def.DAGID,
		Description: def.Description,
		Schedule:    def.Schedule,
		Tasks:       TaskSpecs(def.Tasks),
	}
}

// ToConfig converts a SyncTaskConfigModel to a models.SyncTaskConfig
func (m *SyncTaskConfigModel) ToConfig() *models.SyncTaskConfig {
	return &models.SyncTaskConfig{
		TaskID:      m.TaskID,
		APIName:     m.APIName,
		Description: m.Description,
		SyncType:    models.SyncType(m.SyncType),
		Params:      map[string]any(m.Params),
		DateField:   m.DateField,
		PrimaryKeys: []string(m.PrimaryKeys),
		TableName:   m.Target,
		Schema:      map[string]models.ColumnDef(m.Schema),
		Enabled:     m.Enabled,
		Schedule:    m.Schedule,
	}
}

// FromSyncConfig converts a models.SyncTaskConfig to a SyncTaskConfigModel
func FromSyncConfig(cfg *models.SyncTaskConfig) *SyncTaskConfigModel {
	return &SyncTaskConfigModel{
		TaskID:      cfg.TaskID,
		APIName:     cfg.APIName,
		Description: cfg.Description,
		SyncType:    string(cfg.SyncType),
		Params:      JSONB(cfg.Params),
		DateField:   cfg.DateField,
		PrimaryKeys: StringArray(cfg.PrimaryKeys),
		Target:      cfg.TableName,
		Schema:      ColumnSchema(cfg.Schema),
		Enabled:     cfg.Enabled,
		Schedule:    cfg.Schedule,
	}
}

// ToRunRecord converts a DAGRunLogModel to a models.RunRecord without tasks
func (m *DAGRunLogModel) ToRunRecord() *models.RunRecord {
	return &models.RunRecord{
		RunID:       m.RunID,
		DAGID:       m.DAGID,
		Status:      models.State(m.Status),
		TargetDate:  m.TargetDate,
		TriggerType: models.TriggerType(m.TriggerType),
		RunType:     models.RunType(m.RunType),
		BackfillID:  m.BackfillID,
		StartedAt:   m.StartedAt,
		FinishedAt:  m.FinishedAt,
		Tasks:       []models.TaskRunRecord{},
	}
}

// ToTaskRecord converts a DAGTaskLogModel to a models.TaskRunRecord
func (m *DAGTaskLogModel) ToTaskRecord() models.TaskRunRecord {
	return models.TaskRunRecord{
		TaskID:       m.TaskID,
		TaskType:     models.TaskType(m.TaskType),
		Status:       models.State(m.Status),
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		RowsAffected: m.RowsAffected,
		ErrorMessage: m.ErrorMessage,
	}
}

// ToFactorRun converts a FactorTaskRunModel to a models.FactorRun
func (m *FactorTaskRunModel) ToFactorRun() *models.FactorRun {
	return &models.FactorRun{
		ID:              m.ID,
		FactorID:        m.FactorID,
		Mode:            models.ComputeMode(m.Mode),
		Status:          models.State(m.Status),
		StartDate:       m.StartDate,
		EndDate:         m.EndDate,
		RowsAffected:    m.RowsAffected,
		DurationSeconds: m.DurationSeconds,
		ErrorMessage:    m.ErrorMessage,
		CreatedAt:       m.CreatedAt,
	}
}
