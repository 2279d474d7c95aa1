package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
	"gorm.io/gorm"
)

type syncConfigRepository struct {
	db *gorm.DB
}

// NewSyncConfigRepository creates a new sync task config repository
func NewSyncConfigRepository(db *gorm.DB) SyncConfigRepository {
	return &syncConfigRepository{db: db}
}

func (r *syncConfigRepository) Create(ctx context.Context, cfg *models.SyncTaskConfig) error {
	if err := dag.ValidateSyncTask(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&SyncTaskConfigModel{}).Where("task_id = ?", cfg.TaskID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check sync task: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: sync task %s", ErrAlreadyExists, cfg.TaskID)
	}

	if err := r.db.WithContext(ctx).Create(FromSyncConfig(cfg)).Error; err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}

	return nil
}

func (r *syncConfigRepository) Get(ctx context.Context, taskID string) (*models.SyncTaskConfig, error) {
	var model SyncTaskConfigModel
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: sync task %s", ErrNotFound, taskID)
		}
		return nil, fmt.Errorf("failed to get sync task: %w", err)
	}

	return model.ToConfig(), nil
}

func (r *syncConfigRepository) List(ctx context.Context) ([]*models.SyncTaskConfig, error) {
	return r.find(r.db.WithContext(ctx))
}

func (r *syncConfigRepository) ListEnabled(ctx context.Context) ([]*models.SyncTaskConfig, error) {
	return r.find(r.db.WithContext(ctx).Where("enabled = ?", true))
}

func (r *syncConfigRepository) find(query *gorm.DB) ([]*models.SyncTaskConfig, error) {
	var rows []SyncTaskConfigModel
	if err := query.Order("task_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync tasks: %w", err)
	}

	cfgs := make([]*models.SyncTaskConfig, len(rows))
	for i := range rows {
		cfgs[i] = rows[i].ToConfig()
	}

	return cfgs, nil
}

func (r *syncConfigRepository) Update(ctx context.Context, taskID string, cfg *models.SyncTaskConfig) error {
	updated := *cfg
	updated.TaskID = taskID
	if err := dag.ValidateSyncTask(&updated); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	result := r.db.WithContext(ctx).Model(&SyncTaskConfigModel{}).Where("task_id = ?", taskID).
		Select("api_name", "description", "sync_type", "params", "date_field", "primary_keys",
			"table_name", "schema_def", "enabled", "schedule", "updated_at").
		Updates(FromSyncConfig(&updated))
	if result.Error != nil {
		return fmt.Errorf("failed to update sync task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: sync task %s", ErrNotFound, taskID)
	}

	return nil
}

func (r *syncConfigRepository) Delete(ctx context.Context, taskID string) error {
	result := r.db.WithContext(ctx).Delete(&SyncTaskConfigModel{}, "task_id = ?", taskID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete sync task: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: sync task %s", ErrNotFound, taskID)
	}

	return nil
}
