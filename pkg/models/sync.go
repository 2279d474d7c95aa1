package models

import "time"

// SyncType selects between one-shot and day-by-day synchronization
type SyncType string

const (
	SyncTypeFull        SyncType = "full"
	SyncTypeIncremental SyncType = "incremental"
)

// ColumnDef describes one column of a synced table
type ColumnDef struct {
	Type     string `json:"type" yaml:"type"`
	Nullable *bool  `json:"nullable,omitempty" yaml:"nullable,omitempty"`
}

// SyncTaskConfig describes how one upstream API is mirrored into a table
type SyncTaskConfig struct {
	TaskID      string               `json:"task_id" yaml:"task_id"`
	APIName     string               `json:"api_name" yaml:"api_name"`
	Description string               `json:"description" yaml:"description"`
	SyncType    SyncType             `json:"sync_type" yaml:"sync_type"`
	Params      map[string]any       `json:"params" yaml:"params"` // Values may contain a {date} placeholder
	DateField   string               `json:"date_field" yaml:"date_field"`
	PrimaryKeys []string             `json:"primary_keys" yaml:"primary_keys"`
	TableName   string               `json:"table_name" yaml:"table_name"`
	Schema      map[string]ColumnDef `json:"schema" yaml:"schema"`
	Enabled     bool                 `json:"enabled" yaml:"enabled"`
	Schedule    string               `json:"schedule" yaml:"schedule"`
}

// SyncTaskStatus is the watermark view of one sync task
type SyncTaskStatus struct {
	TaskID       string     `json:"task_id"`
	Description  string     `json:"description"`
	Enabled      bool       `json:"enabled"`
	SyncType     SyncType   `json:"sync_type"`
	Schedule     string     `json:"schedule"`
	TableName    string     `json:"table_name"`
	DateField    string     `json:"date_field"`
	LastSyncDate string     `json:"last_sync_date,omitempty"`
	UpdatedAt    *time.Time `json:"updated_at,omitempty"`
}
