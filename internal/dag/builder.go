package dag

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// Builder provides a fluent API for building DAG definitions
type Builder struct {
	def *models.DAGDefinition
}

// NewBuilder creates a new DAG builder
func NewBuilder(dagID string) *Builder {
	return &Builder{
		def: &models.DAGDefinition{
			DAGID: dagID,
			Tasks: []models.TaskSpec{},
		},
	}
}

// Description sets the DAG description
func (b *Builder) Description(desc string) *Builder {
	b.def.Description = desc
	return b
}

// Schedule sets the schedule tag or cron expression of the DAG
func (b *Builder) Schedule(schedule string) *Builder {
	b.def.Schedule = schedule
	return b
}

// Sync adds a data-sync task
func (b *Builder) Sync(taskID string, dependsOn ...string) *Builder {
	return b.Task(taskID, models.TaskTypeSync, dependsOn...)
}

// Production adds a factor-production task
func (b *Builder) Production(factorID string, dependsOn ...string) *Builder {
	return b.Task(factorID, models.TaskTypeProduction, dependsOn...)
}

// Task adds a task of any type, keeping declaration order
func (b *Builder) Task(taskID string, taskType models.TaskType, dependsOn ...string) *Builder {
	b.def.Tasks = append(b.def.Tasks, models.TaskSpec{
		TaskID:    taskID,
		TaskType:  taskType,
		DependsOn: append([]string{}, dependsOn...),
	})
	return b
}

// Build validates and returns the definition
func (b *Builder) Build() (*models.DAGDefinition, error) {
	if err := NewValidator().Validate(b.def); err != nil {
		return nil, fmt.Errorf("DAG validation failed: %w", err)
	}
	return b.def, nil
}

// MustBuild builds the DAG and panics if there's an error (useful for testing)
func (b *Builder) MustBuild() *models.DAGDefinition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
