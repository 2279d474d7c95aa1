package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/factorflow/internal/dag"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/executor"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/storage"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/tradedate"
	"github.com/therealutkarshpriyadarshi/factorflow/pkg/models"
)

// ErrInvalidBackfill is returned for a malformed backfill request
var ErrInvalidBackfill = errors.New("invalid backfill request")

// DAGRunner executes one DAG run
type DAGRunner interface {
	ExecuteDag(ctx context.Context, dagID string, opts executor.ExecuteOptions) (*models.DAGRun, error)
}

// BackfillConfig holds configuration for backfill operations
type BackfillConfig struct {
	// DryRun lists the dates a backfill would cover without running anything
	DryRun bool
}

// BackfillEngine re-runs a DAG once per weekday across a date range
type BackfillEngine struct {
	runner DAGRunner
	config BackfillConfig
	now    func() time.Time
}

// NewBackfillEngine creates a new backfill engine
func NewBackfillEngine(runner DAGRunner, config BackfillConfig) *BackfillEngine {
	return &BackfillEngine{runner: runner, config: config, now: time.Now}
}

// BackfillRequest represents a request to backfill DAG runs
type BackfillRequest struct {
	DAGID     string
	StartDate string
	EndDate   string
}

// ValidateBackfillRequest validates a backfill request and returns the
// candidate dates it covers
func ValidateBackfillRequest(req BackfillRequest) ([]string, error) {
	if req.DAGID == "" {
		return nil, fmt.Errorf("%w: DAG ID is required", ErrInvalidBackfill)
	}
	if req.StartDate == "" || req.EndDate == "" {
		return nil, fmt.Errorf("%w: start and end date are required", ErrInvalidBackfill)
	}

	start, err := tradedate.Normalize(req.StartDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackfill, err)
	}
	end, err := tradedate.Normalize(req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackfill, err)
	}
	if start > end {
		return nil, fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidBackfill, start, end)
	}

	return tradedate.Weekdays(start, end)
}

// Backfill runs the DAG for every weekday in the range under one shared
// backfill_id. A failed day is counted and the backfill moves on; only a DAG
// that cannot run at all aborts it.
func (be *BackfillEngine) Backfill(ctx context.Context, req BackfillRequest) (*models.BackfillSummary, error) {
	dates, err := ValidateBackfillRequest(req)
	if err != nil {
		return nil, err
	}

	backfillID := uuid.New().String()
	logger := log.WithFields(log.Fields{
		"dag_id":      req.DAGID,
		"backfill_id": backfillID,
		"days":        len(dates),
	})

	if be.config.DryRun {
		logger.Info("[DRY RUN] Backfill dates resolved")
		summary := &models.BackfillSummary{BackfillID: backfillID, DAGID: req.DAGID, TotalDays: len(dates)}
		if len(dates) > 0 {
			summary.DateRange = [2]string{dates[0], dates[len(dates)-1]}
		}
		return summary, nil
	}

	logger.Info("Starting backfill")
	started := be.now()

	records := make([]*models.RunRecord, 0, len(dates))
	for _, date := range dates {
		run, err := be.runner.ExecuteDag(ctx, req.DAGID, executor.ExecuteOptions{
			TargetDate:  date,
			RunType:     models.RunTypeBackfill,
			TriggerType: models.TriggerBackfill,
			BackfillID:  backfillID,
		})
		if err != nil {
			if errors.Is(err, dag.ErrInvalidDAG) || errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
			logger.WithField("date", date).WithError(err).Error("Backfill day failed")
			records = append(records, &models.RunRecord{
				DAGID:      req.DAGID,
				TargetDate: date,
				Status:     models.StateFailed,
				RunType:    models.RunTypeBackfill,
				BackfillID: backfillID,
			})
			continue
		}

		records = append(records, executor.RecordOf(run))
		logger.WithFields(log.Fields{"date": date, "status": run.Status}).Info("Backfill day finished")
	}

	summary := executor.SummarizeBackfill(backfillID, records)
	summary.DAGID = req.DAGID
	finished := be.now()
	summary.StartedAt = &started
	summary.FinishedAt = &finished

	logger.WithFields(log.Fields{
		"success_days": summary.SuccessDays,
		"failed_days":  summary.FailedDays,
		"duration":     finished.Sub(started).String(),
	}).Info("Backfill completed")

	return summary, nil
}
