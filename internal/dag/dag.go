package dag

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Validator provides DAG validation functionality
type Validator struct{}

// NewValidator creates a new DAG validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks that a DAG definition is well formed and acyclic
func (v *Validator) Validate(def *models.DAGDefinition) error {
	if def == nil {
		return &ConfigError{Reason: "definition is nil"}
	}
	if def.DAGID == "" {
		return &ConfigError{Reason: "dag_id cannot be empty"}
	}
	if len(def.Tasks) == 0 {
		return &ConfigError{DAGID: def.DAGID, Reason: "DAG must have at least one task"}
	}

	// Check for empty and duplicate task IDs
	taskIDs := make(map[string]bool, len(def.Tasks))
	for _, task := range def.Tasks {
		if task.TaskID == "" {
			return &ConfigError{DAGID: def.DAGID, Reason: "task_id cannot be empty"}
		}
		if taskIDs[task.TaskID] {
			return &ConfigError{DAGID: def.DAGID, Reason: fmt.Sprintf("duplicate task ID: %s", task.TaskID)}
		}
		taskIDs[task.TaskID] = true

		// Unknown types fail the task at run time, not the build
		if !task.TaskType.Valid() {
			log.WithFields(log.Fields{
				"dag_id":    def.DAGID,
				"task_id":   task.TaskID,
				"task_type": task.TaskType,
			}).Warn("Task has no known executor type")
		}
	}

	// Validate task dependencies exist
	for _, task := range def.Tasks {
		for _, depID := range task.DependsOn {
			if !taskIDs[depID] {
				return &UnknownDependencyError{DAGID: def.DAGID, TaskID: task.TaskID, Dependency: depID}
			}
		}
	}

	_, err := v.GetTopologicalOrder(def)
	return err
}

// GetTopologicalOrder returns task IDs in a valid execution order using Kahn's algorithm.
// Ties are broken by declaration order so the result is deterministic.
func (v *Validator) GetTopologicalOrder(def *models.DAGDefinition) ([]string, error) {
	layers, err := kahnLayers(def.DAGID, declaredOrder(def), dependencyMap(def))
	if err != nil {
		return nil, err
	}

	var result []string
	for _, layer := range layers {
		result = append(result, layer...)
	}
	return result, nil
}

// BuildDag validates a definition and constructs the runtime node map of a new run
func BuildDag(def *models.DAGDefinition) (*models.DAGRun, error) {
	if err := NewValidator().Validate(def); err != nil {
		return nil, err
	}

	run := &models.DAGRun{
		RunID:       NewRunID(def.DAGID, time.Now()),
		DAGID:       def.DAGID,
		Description: def.Description,
		Status:      models.StatePending,
		RunType:     models.RunTypeToday,
		TriggerType: models.TriggerManual,
		Tasks:       make(map[string]*models.TaskNode, len(def.Tasks)),
		TaskOrder:   make([]string, 0, len(def.Tasks)),
	}

	for _, spec := range def.Tasks {
		run.Tasks[spec.TaskID] = &models.TaskNode{
			TaskID:    spec.TaskID,
			TaskType:  spec.TaskType,
			DependsOn: dedupe(spec.DependsOn),
			Status:    models.StatePending,
		}
		run.TaskOrder = append(run.TaskOrder, spec.TaskID)
	}

	return run, nil
}

// TopologicalSort groups the tasks of a run into execution layers.
// Every task in a layer depends only on tasks of earlier layers.
func TopologicalSort(run *models.DAGRun) ([][]string, error) {
	return NewGraph(run).Layers(run.DAGID)
}

// NewRunID generates the identifier of one execution attempt
func NewRunID(dagID string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s", dagID, at.Format("20060102_150405"), uuid.NewString()[:8])
}

// kahnLayers peels zero in-degree tasks off the graph one layer at a time.
// If fewer tasks are visited than exist, the remainder forms a cycle.
func kahnLayers(dagID string, order []string, deps map[string][]string) ([][]string, error) {
	inDegree := make(map[string]int, len(order))
	dependents := make(map[string][]string, len(order))
	for _, id := range order {
		unique := dedupe(deps[id])
		inDegree[id] = len(unique)
		for _, depID := range unique {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	resolved := make(map[string]bool, len(order))
	var layers [][]string
	visited := 0

	for visited < len(order) {
		var layer []string
		for _, id := range order {
			if !resolved[id] && inDegree[id] == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			break
		}

		for _, id := range layer {
			resolved[id] = true
			visited++
			for _, next := range dependents[id] {
				inDegree[next]--
			}
		}
		layers = append(layers, layer)
	}

	if visited != len(order) {
		var cyclic []string
		for _, id := range order {
			if !resolved[id] {
				cyclic = append(cyclic, id)
			}
		}
		return nil, &CycleError{DAGID: dagID, Tasks: cyclic}
	}

	return layers, nil
}

func declaredOrder(def *models.DAGDefinition) []string {
	order := make([]string, 0, len(def.Tasks))
	for _, task := range def.Tasks {
		order = append(order, task.TaskID)
	}
	return order
}

func dependencyMap(def *models.DAGDefinition) map[string][]string {
	deps := make(map[string][]string, len(def.Tasks))
	for _, task := range def.Tasks {
		deps[task.TaskID] = task.DependsOn
	}
	return deps
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return []string{}
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
