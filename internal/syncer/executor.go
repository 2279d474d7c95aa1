package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/metrics"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// WatermarkSource is the sync_log source every configured task records under
const WatermarkSource = "tushare_config"

const datePlaceholder = "{date}"

// History statuses
const (
	HistorySuccess = "success"
	HistoryFailed  = "failed"
)

var (
	// ErrEmptyFullSync is returned when a full sync receives no rows
	ErrEmptyFullSync = errors.New("full sync returned no data")

	// ErrUnknownSyncType is returned for a sync_type the executor cannot run
	ErrUnknownSyncType = errors.New("unknown sync type")
)

// Result summarizes one ExecuteTask call
type Result struct {
	TaskID     string   `json:"task_id"`
	Success    bool     `json:"success"`
	RowsSynced int64    `json:"rows_synced"`
	Dates      []string `json:"dates,omitempty"`
	FailedDate string   `json:"failed_date,omitempty"`
	UpToDate   bool     `json:"up_to_date,omitempty"`
	Disabled   bool     `json:"disabled,omitempty"`
}

// Executor runs sync tasks against the upstream client and the table store
type Executor struct {
	client     *Client
	tables     *storage.TableStore
	watermarks storage.WatermarkRepository
	configs    storage.SyncConfigRepository
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewExecutor creates a new sync executor
func NewExecutor(
	client *Client,
	tables *storage.TableStore,
	watermarks storage.WatermarkRepository,
	configs storage.SyncConfigRepository,
	recorder *metrics.Recorder,
) *Executor {
	return &Executor{
		client:     client,
		tables:     tables,
		watermarks: watermarks,
		configs:    configs,
		metrics:    recorder,
		now:        time.Now,
	}
}

// SetClock overrides the time source used to resolve "today"
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Executor) today() string {
	return tradedate.Today(e.now())
}

// ExecuteByID loads a sync config by task_id and executes it
func (e *Executor) ExecuteByID(ctx context.Context, taskID, targetDate, endDate string) (*Result, error) {
	cfg, err := e.configs.Get(ctx, taskID)
	if err != nil {
		return &Result{TaskID: taskID}, err
	}
	return e.ExecuteTask(ctx, cfg, targetDate, endDate)
}

// ExecuteTask runs one sync task. The returned error is nil exactly when
// Result.Success is true.
func (e *Executor) ExecuteTask(ctx context.Context, cfg *models.SyncTaskConfig, targetDate, endDate string) (*Result, error) {
	result := &Result{TaskID: cfg.TaskID}
	logger := log.WithFields(log.Fields{"task_id": cfg.TaskID, "api_name": cfg.APIName})

	var err error
	if targetDate, err = tradedate.Normalize(targetDate); err != nil {
		return result, err
	}
	if endDate, err = tradedate.Normalize(endDate); err != nil {
		return result, err
	}

	if !cfg.Enabled {
		logger.Info("Sync task is disabled")
		result.Success = true
		result.Disabled = true
		return result, nil
	}

	logger.Info("Starting sync task")

	if err := e.tables.EnsureTable(ctx, cfg.TableName, cfg.Schema, cfg.PrimaryKeys); err != nil {
		logger.WithError(err).Error("Failed to prepare target table")
		return result, err
	}

	switch cfg.SyncType {
	case models.SyncTypeFull:
		err = e.fullSync(ctx, cfg, result)
	case models.SyncTypeIncremental:
		err = e.incrementalSync(ctx, cfg, targetDate, endDate, result)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownSyncType, cfg.SyncType)
	}

	if err != nil {
		logger.WithError(err).Error("Sync task failed")
		return result, err
	}

	result.Success = true
	return result, nil
}

func (e *Executor) fullSync(ctx context.Context, cfg *models.SyncTaskConfig, result *Result) error {
	today := e.today()
	result.Dates = []string{today}

	rows, err := e.client.Fetch(ctx, cfg.APIName, FormatParams(cfg.Params, "", today))
	if err != nil {
		e.recordHistory(ctx, cfg.TaskID, today, 0, HistoryFailed)
		result.FailedDate = today
		return fmt.Errorf("full sync call failed: %w", err)
	}

	if len(rows) == 0 {
		e.recordDay(ctx, cfg.TaskID, today, 0)
		return ErrEmptyFullSync
	}

	n, err := e.store(ctx, cfg, rows)
	if err != nil {
		result.FailedDate = today
		return err
	}
	result.RowsSynced = n
	e.recordDay(ctx, cfg.TaskID, today, n)

	log.WithFields(log.Fields{"task_id": cfg.TaskID, "rows": n}).Info("Full sync completed")
	return nil
}

func (e *Executor) incrementalSync(ctx context.Context, cfg *models.SyncTaskConfig, targetDate, endDate string, result *Result) error {
	last := ""
	if targetDate == "" {
		var err error
		last, _, err = e.watermarks.GetLastDate(ctx, WatermarkSource, cfg.TaskID)
		if err != nil {
			return err
		}
	}

	start, end, err := ResolveRange(last, targetDate, endDate, e.today())
	if err != nil {
		return err
	}
	if start > end {
		log.WithField("task_id", cfg.TaskID).Info("Sync task already up to date")
		result.UpToDate = true
		return nil
	}

	dates, err := tradedate.Range(start, end)
	if err != nil {
		return err
	}

	for _, date := range dates {
		rows, err := e.client.Fetch(ctx, cfg.APIName, FormatParams(cfg.Params, date, date))
		if err != nil {
			// Prior days stay committed; the watermark stops before this day
			e.recordHistory(ctx, cfg.TaskID, date, 0, HistoryFailed)
			result.FailedDate = date
			return fmt.Errorf("sync of %s failed: %w", date, err)
		}

		var n int64
		if len(rows) > 0 {
			if n, err = e.store(ctx, cfg, rows); err != nil {
				result.FailedDate = date
				return err
			}
		}

		result.RowsSynced += n
		result.Dates = append(result.Dates, date)
		e.recordDay(ctx, cfg.TaskID, date, n)

		log.WithFields(log.Fields{"task_id": cfg.TaskID, "date": date, "rows": n}).Info("Synced day")
	}

	log.WithFields(log.Fields{"task_id": cfg.TaskID, "rows": result.RowsSynced, "days": len(dates)}).Info("Incremental sync completed")
	return nil
}

func (e *Executor) store(ctx context.Context, cfg *models.SyncTaskConfig, rows []Row) (int64, error) {
	for _, row := range rows {
		storage.CoerceRow(cfg.Schema, row)
	}
	n, err := e.tables.Upsert(ctx, cfg.TableName, rows, cfg.PrimaryKeys)
	if err != nil {
		return 0, err
	}
	e.metrics.RowsSynced(cfg.TaskID, n)
	return n, nil
}

// recordDay advances the watermark and appends a success history row
func (e *Executor) recordDay(ctx context.Context, taskID, date string, rows int64) {
	if err := e.watermarks.Advance(ctx, WatermarkSource, taskID, date); err != nil {
		log.WithFields(log.Fields{"task_id": taskID, "date": date}).WithError(err).Warn("Failed to advance watermark")
	}
	e.recordHistory(ctx, taskID, date, rows, HistorySuccess)
}

func (e *Executor) recordHistory(ctx context.Context, taskID, date string, rows int64, status string) {
	err := e.watermarks.AppendHistory(ctx, &storage.SyncLogHistoryModel{
		Source:     WatermarkSource,
		TaskID:     taskID,
		SyncDate:   date,
		RowsSynced: rows,
		Status:     status,
	})
	if err != nil {
		log.WithFields(log.Fields{"task_id": taskID, "date": date}).WithError(err).Warn("Failed to append sync history")
	}
}

// ResolveRange computes the incremental [start, end] window. With no
// targetDate it continues from the day after last, or starts today when the
// task never synced. start > end means there is nothing to do.
func ResolveRange(last, targetDate, endDate, today string) (string, string, error) {
	if targetDate != "" {
		end := targetDate
		if endDate != "" {
			end = endDate
		}
		return targetDate, end, nil
	}

	start := today
	if last != "" {
		next, err := tradedate.AddDays(last, 1)
		if err != nil {
			return "", "", err
		}
		start = next
	}

	end := today
	if endDate != "" {
		end = endDate
	}
	return start, end, nil
}

// FormatParams substitutes date into every string param holding the {date}
// placeholder, falling back to today when date is empty
func FormatParams(params map[string]interface{}, date, today string) map[string]interface{} {
	if date == "" {
		date = today
	}
	formatted := make(map[string]interface{}, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok && strings.Contains(s, datePlaceholder) {
			formatted[k] = date
			continue
		}
		formatted[k] = v
	}
	return formatted
}

// GetTaskStatus returns the config summary and watermark of a task
func (e *Executor) GetTaskStatus(ctx context.Context, taskID string) (*models.SyncTaskStatus, error) {
	cfg, err := e.configs.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	last, updated, err := e.watermarks.GetLastDate(ctx, WatermarkSource, taskID)
	if err != nil {
		return nil, err
	}

	return &models.SyncTaskStatus{
		TaskID:       cfg.TaskID,
		Description:  cfg.Description,
		Enabled:      cfg.Enabled,
		SyncType:     cfg.SyncType,
		Schedule:     cfg.Schedule,
		TableName:    cfg.TableName,
		DateField:    cfg.DateField,
		LastSyncDate: last,
		UpdatedAt:    updated,
	}, nil
}

// SyncAllEnabled runs every enabled task sequentially
func (e *Executor) SyncAllEnabled(ctx context.Context, targetDate string) (map[string]bool, error) {
	cfgs, err := e.configs.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(cfgs))
	for _, cfg := range cfgs {
		res, err := e.ExecuteTask(ctx, cfg, targetDate, "")
		results[cfg.TaskID] = err == nil && res.Success
	}
	return results, nil
}
