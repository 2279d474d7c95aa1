package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type watermarkRepository struct {
	db *gorm.DB
}

// NewWatermarkRepository creates a new sync watermark repository
func NewWatermarkRepository(db *gorm.DB) WatermarkRepository {
	return &watermarkRepository{db: db}
}

// GetLastDate returns the watermark of a task, or "" when it never synced
func (r *watermarkRepository) GetLastDate(ctx context.Context, source, taskID string) (string, *time.Time, error) {
	var model SyncLogModel
	err := r.db.WithContext(ctx).
		Where("source = ? AND task_id = ?", source, taskID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to get watermark: %w", err)
	}

	updated := model.UpdatedAt
	return model.LastDate, &updated, nil
}

// Advance moves the watermark to date. It never moves backwards.
func (r *watermarkRepository) Advance(ctx context.Context, source, taskID, date string) error {
	model := &SyncLogModel{
		Source:    source,
		TaskID:    taskID,
		LastDate:  date,
		UpdatedAt: time.Now().UTC(),
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source"}, {Name: "task_id"}},
		DoUpdates: clause.Set{
			{
				Column: clause.Column{Name: "last_date"},
				Value: gorm.Expr("CASE WHEN excluded.last_date > sync_log.last_date " +
					"THEN excluded.last_date ELSE sync_log.last_date END"),
			},
			{Column: clause.Column{Name: "updated_at"}, Value: gorm.Expr("excluded.updated_at")},
		},
	}).Create(model).Error

	return persistErr("advance watermark", err)
}

// AppendHistory records one executed unit of sync work
func (r *watermarkRepository) AppendHistory(ctx context.Context, entry *SyncLogHistoryModel) error {
	return persistErr("append sync history", r.db.WithContext(ctx).Create(entry).Error)
}

// History returns the most recent history rows of a task, newest first
func (r *watermarkRepository) History(ctx context.Context, source, taskID string, limit int) ([]SyncLogHistoryModel, error) {
	query := r.db.WithContext(ctx).
		Where("source = ? AND task_id = ?", source, taskID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []SyncLogHistoryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	return rows, nil
}
