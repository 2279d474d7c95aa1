package dto

import "github.com/therealutkarshpriyadarshi/factorflow/pkg/models"

// TaskSpecRequest declares one task of a DAG
type TaskSpecRequest struct {
	TaskID    string   `json:"task_id" validate:"required,ident"`
	TaskType  string   `json:"task_type" validate:"required,oneof=sync production"`
	DependsOn []string `json:"depends_on"`
}

// CreateDAGRequest represents the request to create or replace a DAG definition
type CreateDAGRequest struct {
	DAGID       string            `json:"dag_id" validate:"required,ident"`
	Description string            `json:"description" validate:"max=500"`
	Schedule    string            `json:"schedule" validate:"cron"`
	Tasks       []TaskSpecRequest `json:"tasks" validate:"required,min=1,dive"`
}

// ToDefinition converts the request to a DAG definition
func (r *CreateDAGRequest) ToDefinition() *models.DAGDefinition {
	def := &models.DAGDefinition{
		DAGID:       r.DAGID,
		Description: r.Description,
		Schedule:    r.Schedule,
		Tasks:       make([]models.TaskSpec, len(r.Tasks)),
	}
	for i, t := range r.Tasks {
		def.Tasks[i] = models.TaskSpec{
			TaskID:    t.TaskID,
			TaskType:  models.TaskType(t.TaskType),
			DependsOn: t.DependsOn,
		}
	}
	return def
}

// DAGResponse is a stored DAG definition with its layering
type DAGResponse struct {
	*models.DAGDefinition
	Layers [][]string `json:"layers,omitempty"`
	Roots  []string   `json:"roots,omitempty"`
	Leaves []string   `json:"leaves,omitempty"`
}

// DAGListResponse represents the list of DAG definitions
type DAGListResponse struct {
	DAGs  []*models.DAGDefinition `json:"dags"`
	Total int                     `json:"total"`
}
