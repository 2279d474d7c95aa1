package executor

import (
	"context"
	"fmt"
	"sort"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

const defaultRunsLimit = 20

// GetRunStatus returns the persisted state of one run and its tasks
func (e *DAGExecutor) GetRunStatus(ctx context.Context, runID string) (*models.RunRecord, error) {
	return e.logs.GetRun(ctx, runID)
}

// GetDagRuns returns the most recent runs of a DAG, newest first.
// An empty runType matches every run type.
func (e *DAGExecutor) GetDagRuns(ctx context.Context, dagID string, limit int, runType models.RunType) ([]*models.RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunsLimit
	}
	return e.logs.ListRuns(ctx, storage.RunFilters{DAGID: dagID, RunType: runType, Limit: limit})
}

// GetBackfillSummary recomputes a backfill summary from the persisted run logs
func (e *DAGExecutor) GetBackfillSummary(ctx context.Context, backfillID string) (*models.BackfillSummary, error) {
	runs, err := e.logs.ListBackfillRuns(ctx, backfillID)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: backfill %s", storage.ErrNotFound, backfillID)
	}
	return SummarizeBackfill(backfillID, runs), nil
}

// SummarizeBackfill tallies runs ordered by target date into a backfill summary.
// A run counts as a success day only when its status is success.
func SummarizeBackfill(backfillID string, runs []*models.RunRecord) *models.BackfillSummary {
	summary := &models.BackfillSummary{
		BackfillID: backfillID,
		TotalDays:  len(runs),
		Runs:       runs,
	}
	if len(runs) == 0 {
		return summary
	}

	summary.DAGID = runs[0].DAGID
	summary.DateRange = [2]string{runs[0].TargetDate, runs[len(runs)-1].TargetDate}

	for _, run := range runs {
		if run.Status == models.StateSuccess {
			summary.SuccessDays++
		} else {
			summary.FailedDays++
		}

		if run.StartedAt != nil && (summary.StartedAt == nil || run.StartedAt.Before(*summary.StartedAt)) {
			summary.StartedAt = run.StartedAt
		}
		if run.FinishedAt != nil && (summary.FinishedAt == nil || run.FinishedAt.After(*summary.FinishedAt)) {
			summary.FinishedAt = run.FinishedAt
		}
	}

	return summary
}

// RecordOf converts an in-memory run into the shape returned by the query surface
func RecordOf(run *models.DAGRun) *models.RunRecord {
	rec := &models.RunRecord{
		RunID:       run.RunID,
		DAGID:       run.DAGID,
		Status:      run.Status,
		TargetDate:  run.TargetDate,
		TriggerType: run.TriggerType,
		RunType:     run.RunType,
		BackfillID:  run.BackfillID,
		StartedAt:   run.StartedAt,
		FinishedAt:  run.FinishedAt,
		Tasks:       make([]models.TaskRunRecord, 0, len(run.Tasks)),
	}

	order := run.TaskOrder
	if len(order) != len(run.Tasks) {
		order = make([]string, 0, len(run.Tasks))
		for id := range run.Tasks {
			order = append(order, id)
		}
		sort.Strings(order)
	}

	for _, id := range order {
		node := run.Tasks[id]
		rec.Tasks = append(rec.Tasks, models.TaskRunRecord{
			TaskID:       node.TaskID,
			TaskType:     node.TaskType,
			Status:       node.Status,
			StartedAt:    node.StartedAt,
			FinishedAt:   node.FinishedAt,
			RowsAffected: node.RowsAffected,
			ErrorMessage: node.ErrorMessage,
		})
	}
	return rec
}
