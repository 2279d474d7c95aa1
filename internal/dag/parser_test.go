package dag

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

func TestParseYAML_Bundle(t *testing.T) {
	yamlData := []byte(`
dags:
  - dag_id: daily_pipeline
    description: Daily sync and factors
    schedule: daily
    tasks:
      - task_id: sync_daily_data
        task_type: sync
      - task_id: factor_momentum_20
        task_type: factor
        depends_on:
          - sync_daily_data
sync_tasks:
  - task_id: sync_daily_data
    api_name: daily
    sync_type: incremental
    date_field: trade_date
    table_name: sync_daily_data
    primary_keys: [ts_code, trade_date]
    params:
      trade_date: "{date}"
    schema:
      ts_code: {type: VARCHAR(20)}
      trade_date: {type: VARCHAR(8)}
      close: {type: DOUBLE}
    enabled: true
`)

	parser := NewParser()
	bundle, err := parser.ParseYAML(yamlData)
	if err != nil {
		t.Fatalf("Failed to parse YAML: %v", err)
	}

	if len(bundle.DAGs) != 1 {
		t.Fatalf("Expected 1 DAG, got %d", len(bundle.DAGs))
	}
	def := bundle.DAGs[0]
	if def.DAGID != "daily_pipeline" {
		t.Errorf("Expected dag_id 'daily_pipeline', got '%s'", def.DAGID)
	}
	if def.Tasks[1].TaskType != models.TaskTypeProduction {
		t.Errorf("Expected alias 'factor' to normalize to production, got %s", def.Tasks[1].TaskType)
	}

	if len(bundle.SyncTasks) != 1 {
		t.Fatalf("Expected 1 sync task, got %d", len(bundle.SyncTasks))
	}
	cfg := bundle.SyncTasks[0]
	if cfg.Params["trade_date"] != "{date}" {
		t.Errorf("Expected {date} placeholder param, got %v", cfg.Params["trade_date"])
	}
	if len(cfg.PrimaryKeys) != 2 {
		t.Errorf("Expected 2 primary keys, got %v", cfg.PrimaryKeys)
	}
	if cfg.Schema["close"].Type != "DOUBLE" {
		t.Errorf("Expected close DOUBLE, got %q", cfg.Schema["close"].Type)
	}
}

func TestParseYAML_SingleDAG(t *testing.T) {
	yamlData := []byte(`
dag_id: weekly
tasks:
  - task_id: sync_index_daily
    task_type: sync
`)

	bundle, err := NewParser().ParseYAML(yamlData)
	if err != nil {
		t.Fatalf("Failed to parse YAML: %v", err)
	}
	if len(bundle.DAGs) != 1 || bundle.DAGs[0].DAGID != "weekly" {
		t.Errorf("Unexpected DAGs: %+v", bundle.DAGs)
	}
}

func TestParseJSON_List(t *testing.T) {
	jsonData := []byte(`[
  {"dag_id": "a", "tasks": [{"task_id": "t1", "task_type": "sync"}]},
  {"dag_id": "b", "tasks": [{"task_id": "t2", "task_type": "production"}]}
]`)

	bundle, err := NewParser().ParseJSON(jsonData)
	if err != nil {
		t.Fatalf("Failed to parse JSON: %v", err)
	}
	if len(bundle.DAGs) != 2 {
		t.Errorf("Expected 2 DAGs, got %d", len(bundle.DAGs))
	}
}

func TestParseYAML_ReportsAllErrors(t *testing.T) {
	yamlData := []byte(`
dags:
  - dag_id: cyclic
    tasks:
      - task_id: a
        task_type: sync
        depends_on: [b]
      - task_id: b
        task_type: sync
        depends_on: [a]
  - dag_id: dangling
    tasks:
      - task_id: a
        task_type: sync
        depends_on: [missing]
`)

	_, err := NewParser().ParseYAML(yamlData)
	if err == nil {
		t.Fatal("Expected validation error, got nil")
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected multierror, got %T", err)
	}
	if len(merr.Errors) != 2 {
		t.Errorf("Expected 2 errors, got %d: %v", len(merr.Errors), merr.Errors)
	}

	var cycleErr *CycleError
	if !errors.As(merr.Errors[0], &cycleErr) {
		t.Errorf("Expected first error to be CycleError, got %v", merr.Errors[0])
	}
	var depErr *UnknownDependencyError
	if !errors.As(merr.Errors[1], &depErr) {
		t.Errorf("Expected second error to be UnknownDependencyError, got %v", merr.Errors[1])
	}
}

func TestParseYAML_Empty(t *testing.T) {
	if _, err := NewParser().ParseYAML([]byte("  \n")); err == nil {
		t.Error("Expected error for empty input")
	}
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dags.json")
	content := `{"dags": [{"dag_id": "file_dag", "tasks": [{"task_id": "t1", "task_type": "sync"}]}]}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	bundle, err := NewParser().ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile failed: %v", err)
	}
	if bundle.DAGs[0].DAGID != "file_dag" {
		t.Errorf("Expected dag_id 'file_dag', got '%s'", bundle.DAGs[0].DAGID)
	}

	if _, err := NewParser().ParseFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestValidateSyncTask(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *models.SyncTaskConfig
		wantErr bool
	}{
		{
			name: "valid",
			cfg: &models.SyncTaskConfig{
				TaskID: "sync_daily_data", APIName: "daily", TableName: "sync_daily_data",
				PrimaryKeys: []string{"ts_code", "trade_date"}, SyncType: models.SyncTypeIncremental,
			},
		},
		{
			name:    "missing keys",
			cfg:     &models.SyncTaskConfig{TaskID: "x", APIName: "daily", TableName: "t", SyncType: models.SyncTypeFull},
			wantErr: true,
		},
		{
			name:    "bad sync type",
			cfg:     &models.SyncTaskConfig{TaskID: "x", APIName: "daily", TableName: "t", PrimaryKeys: []string{"k"}, SyncType: "hourly"},
			wantErr: true,
		},
		{name: "nil", cfg: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSyncTask(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSyncTask() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
