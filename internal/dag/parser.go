package dag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Bundle is the content of a pipeline definition file
type Bundle struct {
	DAGs      []*models.DAGDefinition  `json:"dags" yaml:"dags"`
	SyncTasks []*models.SyncTaskConfig `json:"sync_tasks" yaml:"sync_tasks"`
}

// Parser handles parsing DAG definitions from YAML and JSON
type Parser struct {
	validator *Validator
}

// NewParser creates a new DAG parser
func NewParser() *Parser {
	return &Parser{
		validator: NewValidator(),
	}
}

// ParseFile parses a definition file, choosing the format by extension
func (p *Parser) ParseFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return p.ParseJSON(data)
	default:
		return p.ParseYAML(data)
	}
}

// ParseYAML parses a bundle, a bare list of DAGs or a single DAG from YAML bytes
func (p *Parser) ParseYAML(data []byte) (*Bundle, error) {
	return p.parse(data, yaml.Unmarshal, "YAML")
}

// ParseJSON parses a bundle, a bare list of DAGs or a single DAG from JSON bytes
func (p *Parser) ParseJSON(data []byte) (*Bundle, error) {
	return p.parse(data, json.Unmarshal, "JSON")
}

func (p *Parser) parse(data []byte, unmarshal func([]byte, any) error, format string) (*Bundle, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ConfigError{Reason: "empty definition file"}
	}

	bundle := &Bundle{}
	if err := unmarshal(data, bundle); err != nil {
		// A top-level sequence does not decode into the bundle object
		var list []*models.DAGDefinition
		if listErr := unmarshal(data, &list); listErr != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", format, err)
		}
		bundle.DAGs = list
	} else if len(bundle.DAGs) == 0 && len(bundle.SyncTasks) == 0 {
		var single models.DAGDefinition
		if err := unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", format, err)
		}
		if single.DAGID == "" {
			return nil, &ConfigError{Reason: "no DAG definitions found"}
		}
		bundle.DAGs = append(bundle.DAGs, &single)
	}

	for _, def := range bundle.DAGs {
		normalizeTaskTypes(def)
	}

	if err := p.validate(bundle); err != nil {
		return nil, err
	}
	return bundle, nil
}

// validate reports every invalid DAG and sync task in the bundle at once
func (p *Parser) validate(bundle *Bundle) error {
	var result *multierror.Error
	seen := make(map[string]bool)

	for _, def := range bundle.DAGs {
		if def == nil {
			continue
		}
		if seen[def.DAGID] {
			result = multierror.Append(result, &ConfigError{DAGID: def.DAGID, Reason: "duplicate dag_id in file"})
			continue
		}
		seen[def.DAGID] = true
		if err := p.validator.Validate(def); err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, cfg := range bundle.SyncTasks {
		if err := ValidateSyncTask(cfg); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// ValidateSyncTask checks the fields a sync task cannot run without
func ValidateSyncTask(cfg *models.SyncTaskConfig) error {
	if cfg == nil {
		return &ConfigError{Reason: "sync task is nil"}
	}
	if cfg.TaskID == "" {
		return &ConfigError{Reason: "sync task_id cannot be empty"}
	}

	var reasons []string
	if cfg.APIName == "" {
		reasons = append(reasons, "api_name is required")
	}
	if cfg.TableName == "" {
		reasons = append(reasons, "table_name is required")
	}
	if len(cfg.PrimaryKeys) == 0 {
		reasons = append(reasons, "primary_keys cannot be empty")
	}
	switch cfg.SyncType {
	case models.SyncTypeFull, models.SyncTypeIncremental:
	default:
		reasons = append(reasons, fmt.Sprintf("invalid sync_type: %q", cfg.SyncType))
	}

	if len(reasons) > 0 {
		return &ConfigError{DAGID: cfg.TaskID, Reason: strings.Join(reasons, "; ")}
	}
	return nil
}

// normalizeTaskTypes maps accepted aliases onto the canonical task types
func normalizeTaskTypes(def *models.DAGDefinition) {
	if def == nil {
		return
	}
	for i := range def.Tasks {
		switch strings.ToLower(string(def.Tasks[i].TaskType)) {
		case "sync", "data_sync":
			def.Tasks[i].TaskType = models.TaskTypeSync
		case "production", "factor":
			def.Tasks[i].TaskType = models.TaskTypeProduction
		}
	}
}
