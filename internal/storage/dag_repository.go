package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
	"gorm.io/gorm"
)

type dagConfigRepository struct {
	db        *gorm.DB
	validator *dag.Validator
}

// NewDAGConfigRepository creates a new DAG config repository
func NewDAGConfigRepository(db *gorm.DB) DAGConfigRepository {
	return &dagConfigRepository{db: db, validator: dag.NewValidator()}
}

func (r *dagConfigRepository) Create(ctx context.Context, def *models.DAGDefinition) error {
	if err := r.validator.Validate(def); err != nil {
		return err
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&DAGConfigModel{}).Where("dag_id = ?", def.DAGID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check DAG: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: dag %s", ErrAlreadyExists, def.DAGID)
	}

	if err := r.db.WithContext(ctx).Create(FromDefinition(def)).Error; err != nil {
		return fmt.Errorf("failed to create DAG: %w", err)
	}

	return nil
}

func (r *dagConfigRepository) Get(ctx context.Context, dagID string) (*models.DAGDefinition, error) {
	var model DAGConfigModel
	if err := r.db.WithContext(ctx).Where("dag_id = ?", dagID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: dag %s", ErrNotFound, dagID)
		}
		return nil, fmt.Errorf("failed to get DAG: %w", err)
	}

	return model.ToDefinition(), nil
}

func (r *dagConfigRepository) List(ctx context.Context) ([]*models.DAGDefinition, error) {
	return r.find(r.db.WithContext(ctx))
}

func (r *dagConfigRepository) ListBySchedule(ctx context.Context, schedule string) ([]*models.DAGDefinition, error) {
	return r.find(r.db.WithContext(ctx).Where("schedule = ?", schedule))
}

func (r *dagConfigRepository) find(query *gorm.DB) ([]*models.DAGDefinition, error) {
	var dagModels []DAGConfigModel
	if err := query.Order("dag_id").Find(&dagModels).Error; err != nil {
		return nil, fmt.Errorf("failed to list DAGs: %w", err)
	}

	defs := make([]*models.DAGDefinition, len(dagModels))
	for i := range dagModels {
		defs[i] = dagModels[i].ToDefinition()
	}

	return defs, nil
}

func (r *dagConfigRepository) Update(ctx context.Context, dagID string, def *models.DAGDefinition) error {
	updated := *def
	updated.DAGID = dagID
	if err := r.validator.Validate(&updated); err != nil {
		return err
	}

	model := FromDefinition(&updated)
	result := r.db.WithContext(ctx).Model(&DAGConfigModel{}).Where("dag_id = ?", dagID).
		Select("description", "schedule", "tasks", "updated_at").
		Updates(model)
	if result.Error != nil {
		return fmt.Errorf("failed to update DAG: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: dag %s", ErrNotFound, dagID)
	}

	return nil
}

func (r *dagConfigRepository) Delete(ctx context.Context, dagID string) error {
	result := r.db.WithContext(ctx).Delete(&DAGConfigModel{}, "dag_id = ?", dagID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete DAG: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: dag %s", ErrNotFound, dagID)
	}

	return nil
}
