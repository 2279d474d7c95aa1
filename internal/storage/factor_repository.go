package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// upsertBatchSize bounds the rows written per statement
const upsertBatchSize = 500

type factorRepository struct {
	db *gorm.DB
}

// NewFactorRepository creates a new factor repository
func NewFactorRepository(db *gorm.DB) FactorRepository {
	return &factorRepository{db: db}
}

func (r *factorRepository) GetMetadata(ctx context.Context, factorID string) (*FactorMetadataModel, error) {
	var model FactorMetadataModel
	if err := r.db.WithContext(ctx).Where("factor_id = ?", factorID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: factor %s", ErrNotFound, factorID)
		}
		return nil, fmt.Errorf("failed to get factor metadata: %w", err)
	}
	return &model, nil
}

func (r *factorRepository) ListMetadata(ctx context.Context) ([]FactorMetadataModel, error) {
	var rows []FactorMetadataModel
	if err := r.db.WithContext(ctx).Order("factor_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list factor metadata: %w", err)
	}
	return rows, nil
}

// SaveMetadata inserts or fully replaces the metadata row of a factor
func (r *factorRepository) SaveMetadata(ctx context.Context, meta *FactorMetadataModel) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "factor_id"}},
		UpdateAll: true,
	}).Create(meta).Error
	return persistErr("save factor metadata", err)
}

func (r *factorRepository) AppendRun(ctx context.Context, run *FactorTaskRunModel) error {
	return persistErr("append factor run", r.db.WithContext(ctx).Create(run).Error)
}

func (r *factorRepository) ListRuns(ctx context.Context, factorID string, limit int) ([]*models.FactorRun, error) {
	query := r.db.WithContext(ctx).Where("factor_id = ?", factorID).Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []FactorTaskRunModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list factor runs: %w", err)
	}

	runs := make([]*models.FactorRun, len(rows))
	for i := range rows {
		runs[i] = rows[i].ToFactorRun()
	}
	return runs, nil
}

// UpsertValues writes values keyed by (ts_code, trade_date, factor_id)
func (r *factorRepository) UpsertValues(ctx context.Context, values []FactorValueModel) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ts_code"}, {Name: "trade_date"}, {Name: "factor_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"factor_value", "quality_flag"}),
	}).CreateInBatches(values, upsertBatchSize).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert factor values: %w", err)
	}
	return int64(len(values)), nil
}

// LoadValues returns stored values of a factor in [start, end]
func (r *factorRepository) LoadValues(ctx context.Context, factorID, start, end string) ([]FactorValueModel, error) {
	var rows []FactorValueModel
	err := r.db.WithContext(ctx).
		Where("factor_id = ? AND trade_date >= ? AND trade_date <= ?", factorID, start, end).
		Order("ts_code, trade_date").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load factor values: %w", err)
	}
	return rows, nil
}
