package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
	"gorm.io/gorm"
)

type runLogRepository struct {
	db *gorm.DB
}

// NewRunLogRepository creates a new DAG run log repository
func NewRunLogRepository(db *gorm.DB) RunLogRepository {
	return &runLogRepository{db: db}
}

// AppendRun writes the current state of run as a new audit row
func (r *runLogRepository) AppendRun(ctx context.Context, run *models.DAGRun) error {
	model := &DAGRunLogModel{
		DAGID:       run.DAGID,
		RunID:       run.RunID,
		Status:      string(run.Status),
		TargetDate:  run.TargetDate,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		TriggerType: string(run.TriggerType),
		RunType:     string(run.RunType),
		BackfillID:  run.BackfillID,
	}
	return persistErr("append dag run log", r.db.WithContext(ctx).Create(model).Error)
}

// AppendTask writes the current state of node as a new audit row
func (r *runLogRepository) AppendTask(ctx context.Context, runID string, node *models.TaskNode) error {
	model := &DAGTaskLogModel{
		RunID:        runID,
		TaskID:       node.TaskID,
		TaskType:     string(node.TaskType),
		Status:       string(node.Status),
		StartedAt:    node.StartedAt,
		FinishedAt:   node.FinishedAt,
		RowsAffected: node.RowsAffected,
		ErrorMessage: node.ErrorMessage,
	}
	return persistErr("append dag task log", r.db.WithContext(ctx).Create(model).Error)
}

// GetRun returns the latest state of a run and of each of its tasks
func (r *runLogRepository) GetRun(ctx context.Context, runID string) (*models.RunRecord, error) {
	var model DAGRunLogModel
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
		}
		return nil, fmt.Errorf("failed to get DAG run: %w", err)
	}

	records, err := r.withTasks(ctx, []DAGRunLogModel{model})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// ListRuns returns the latest state of the most recent runs, newest first
func (r *runLogRepository) ListRuns(ctx context.Context, filters RunFilters) ([]*models.RunRecord, error) {
	latest := r.db.Model(&DAGRunLogModel{}).Select("MAX(id)").Group("run_id")
	if filters.DAGID != "" {
		latest = latest.Where("dag_id = ?", filters.DAGID)
	}

	query := r.db.WithContext(ctx).Where("id IN (?)", latest)
	if filters.RunType != "" {
		query = query.Where("run_type = ?", string(filters.RunType))
	}
	query = query.Order("id DESC")
	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	}

	var rows []DAGRunLogModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list DAG runs: %w", err)
	}

	return r.withTasks(ctx, rows)
}

// ListBackfillRuns returns every run issued by one backfill, oldest first
func (r *runLogRepository) ListBackfillRuns(ctx context.Context, backfillID string) ([]*models.RunRecord, error) {
	latest := r.db.Model(&DAGRunLogModel{}).Select("MAX(id)").
		Where("backfill_id = ?", backfillID).
		Group("run_id")

	var rows []DAGRunLogModel
	err := r.db.WithContext(ctx).
		Where("id IN (?)", latest).
		Order("target_date ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill runs: %w", err)
	}

	return r.withTasks(ctx, rows)
}

func (r *runLogRepository) withTasks(ctx context.Context, rows []DAGRunLogModel) ([]*models.RunRecord, error) {
	records := make([]*models.RunRecord, len(rows))
	if len(rows) == 0 {
		return records, nil
	}

	byRun := make(map[string]*models.RunRecord, len(rows))
	runIDs := make([]string, len(rows))
	for i := range rows {
		records[i] = rows[i].ToRunRecord()
		byRun[rows[i].RunID] = records[i]
		runIDs[i] = rows[i].RunID
	}

	latest := r.db.Model(&DAGTaskLogModel{}).Select("MAX(id)").
		Where("run_id IN ?", runIDs).
		Group("run_id, task_id")

	var tasks []DAGTaskLogModel
	if err := r.db.WithContext(ctx).Where("id IN (?)", latest).Order("id ASC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to load task logs: %w", err)
	}

	for i := range tasks {
		if rec, ok := byRun[tasks[i].RunID]; ok {
			rec.Tasks = append(rec.Tasks, tasks[i].ToTaskRecord())
		}
	}

	return records, nil
}
